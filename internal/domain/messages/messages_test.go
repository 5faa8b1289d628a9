package messages

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/coachpo/quanta/errs"
	"github.com/coachpo/quanta/internal/domain/model"
)

var esz = model.MustParseInstrumentID("ESZ24.XCME")

func TestSubscribeRequiresClientOrVenue(t *testing.T) {
	kinds := []DataKind{KindBookDeltas, KindQuotes, KindTrades, KindBars, KindMarkPrices, KindInstrumentClose}
	for _, kind := range kinds {
		_, err := NewSubscribe(kind, Target{InstrumentID: esz}, "", "", 1, nil)
		require.Error(t, err, kind)
		require.True(t, errs.Is(err, errs.CodeInvalid))

		_, err = NewUnsubscribe(kind, Target{InstrumentID: esz}, "", "", 1, nil)
		require.Error(t, err, kind)
	}

	cmd, err := NewSubscribe(KindQuotes, Target{InstrumentID: esz}, "", esz.Venue, 1, map[string]string{"a": "b"})
	require.NoError(t, err)
	require.Equal(t, model.Venue("XCME"), cmd.Header().Venue)
	require.Equal(t, "b", cmd.Params["a"])

	other, err := NewSubscribe(KindQuotes, Target{InstrumentID: esz}, "DATABENTO", "", 1, nil)
	require.NoError(t, err)
	require.NotEqual(t, cmd.CommandID(), other.CommandID())
}

func TestRequestDerivesVenueAndCorrelates(t *testing.T) {
	id := model.NewUUID4()
	start := time.Unix(0, 0)
	req, err := NewRequest(KindQuotes, Target{InstrumentID: esz}, &start, nil, 100, "", "", id, 5, nil)
	require.NoError(t, err)
	require.Equal(t, id, req.RequestID())
	require.Equal(t, model.Venue("XCME"), req.Venue)

	_, err = NewRequest(KindData, Target{DataType: model.NewDataType("News", nil)}, nil, nil, 0, "", "", id, 5, nil)
	require.Error(t, err)

	resp := NewResponse(req, []model.QuoteTick{}, 9)
	require.Equal(t, id, resp.CorrelationID)
	require.Equal(t, KindQuotes, resp.Kind)
	require.Equal(t, model.UnixNanos(9), resp.TsInit)
}
