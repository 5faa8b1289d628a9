package observability

import (
	"bytes"
	"errors"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/require"

	"github.com/coachpo/quanta/errs"
)

func TestNewLoggerWritesJSONWithFields(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(&buf, "debug", "json")
	require.NoError(t, err)

	logger.With(F("component", "bus")).Info("published", F("topic", "data.quotes.SIM.BTCUSDT"), F("", "dropped"))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	require.Equal(t, "published", entry["msg"])
	require.Equal(t, "bus", entry["component"])
	require.Equal(t, "data.quotes.SIM.BTCUSDT", entry["topic"])
	require.NotContains(t, entry, "")
}

func TestNewLoggerRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(&buf, "warn", "text")
	require.NoError(t, err)
	logger.Info("hidden")
	require.Zero(t, buf.Len())
	logger.Warn("shown")
	require.Contains(t, buf.String(), "shown")

	_, err = NewLogger(&buf, "loud", "text")
	require.Error(t, err)
}

func TestJoinFailuresSkipsNilAndLogsOnce(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(&buf, "info", "json")
	require.NoError(t, err)
	log := logger.With(F("component", "DataEngine"))

	require.NoError(t, JoinFailures(log, "data engine stop", []error{nil, nil}))
	require.Zero(t, buf.Len())

	first, second := errors.New("a"), errors.New("b")
	err = JoinFailures(log, "data engine stop", []error{first, nil, second}, F("trader_id", "TRADER-001"))
	require.ErrorIs(t, err, first)
	require.ErrorIs(t, err, second)
	require.True(t, errs.Is(err, errs.CodeUnavailable))
	var e *errs.E
	require.ErrorAs(t, err, &e)
	require.Equal(t, "data engine stop", e.Scope)
	require.Equal(t, "data engine stop failed", e.Message)
	require.Equal(t, "2", e.Fields["failures"])

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	require.Equal(t, "data engine stop failed", entry["msg"])
	require.Equal(t, "DataEngine", entry["component"])
	require.Equal(t, "TRADER-001", entry["trader_id"])
	require.EqualValues(t, 2, entry["failures"])
	require.Equal(t, []any{"a", "b"}, entry["errors"])
}

func TestJoinFailuresKeepsFirstStructuredCode(t *testing.T) {
	denied := errs.New("risk", errs.CodeDenied, errs.WithMessage("notional limit"))
	err := JoinFailures(nil, "close all positions", []error{errors.New("plain"), denied})
	require.True(t, errs.Is(err, errs.CodeDenied))
	require.ErrorIs(t, err, denied)
}

func TestSetLoggerNilRestoresNoop(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(&buf, "info", "text")
	require.NoError(t, err)
	SetLogger(logger)
	Component("runner").Info("hello")
	require.Contains(t, buf.String(), "component=runner")

	SetLogger(nil)
	buf.Reset()
	Log().Error("ignored")
	require.Zero(t, buf.Len())
}
