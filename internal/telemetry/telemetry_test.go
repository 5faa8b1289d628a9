package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDisabledProviderFallsBackToGlobalMeter(t *testing.T) {
	p, err := NewProvider(context.Background(), Config{Enabled: false, Environment: "Staging"})
	require.NoError(t, err)
	require.NotNil(t, p.Meter("quanta.test"))
	require.NoError(t, p.Shutdown(context.Background()))
	require.Equal(t, "staging", Environment())

	SetEnvironment("")
	require.Equal(t, "development", Environment())
}

func TestStripScheme(t *testing.T) {
	require.Equal(t, "localhost:4318", stripScheme("http://localhost:4318"))
	require.Equal(t, "collector:4318", stripScheme("https://collector:4318"))
	require.Equal(t, "collector:4318", stripScheme("collector:4318"))
}

func TestBusAttributesOmitEmptyValues(t *testing.T) {
	attrs := BusAttributes("data.quotes.XCME.ESZ24", "")
	require.Len(t, attrs, 2)
	require.Equal(t, AttrTopic, attrs[1].Key)

	attrs = OrderAttributes("SIM", "", "BUY", "")
	require.Len(t, attrs, 3)
}
