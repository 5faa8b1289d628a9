package actor

import (
	"time"

	"github.com/coachpo/quanta/errs"
	"github.com/coachpo/quanta/internal/domain/messages"
	"github.com/coachpo/quanta/internal/domain/model"
	"github.com/coachpo/quanta/internal/infra/bus/msgbus"
	"github.com/coachpo/quanta/internal/observability"
)

// RequestOptions narrow a historical data request.
type RequestOptions struct {
	ClientID model.ClientID
	Venue    model.Venue
	Start    *time.Time
	End      *time.Time
	Limit    int
	Params   map[string]string
	// Callback receives the response instead of the actor's default dispatch.
	Callback func(messages.DataResponse)
}

func timeRangeError(msg string) error {
	return errs.New("actor/request", errs.CodeInvalidTimeRange, errs.WithMessage(msg))
}

// checkTimeRange requires start and end to be in the past and start < end.
func checkTimeRange(now time.Time, start, end *time.Time) error {
	if start != nil && start.After(now) {
		return timeRangeError("start was > now")
	}
	if end != nil && end.After(now) {
		return timeRangeError("end was > now")
	}
	if start != nil && end != nil && !start.Before(*end) {
		return timeRangeError("start was >= end")
	}
	return nil
}

// RequestWith registers a one-shot response handler and sends the request to
// the data engine. It returns the request id used as correlation id.
func (a *DataActorCore) RequestWith(kind messages.DataKind, target messages.Target, opts RequestOptions) (model.UUID4, error) {
	a.mustBeRegistered()
	if err := checkTimeRange(a.Clock().UtcNow(), opts.Start, opts.End); err != nil {
		return model.UUID4{}, err
	}

	requestID := model.NewUUID4()
	dispatch := a.handleResponse
	if opts.Callback != nil {
		cb := opts.Callback
		dispatch = func(resp messages.DataResponse) {
			a.mu.Lock()
			delete(a.pending, resp.CorrelationID)
			a.mu.Unlock()
			cb(resp)
		}
	}
	handlerID := string(a.cfg.ActorID) + "-response-" + requestID.String()
	h := msgbus.NewTypedHandler[messages.DataResponse](handlerID, dispatch, func(msg any) {
		a.log.Warn("unexpected response type", observability.F("request_id", requestID.String()))
	})

	cmd, err := messages.NewRequest(kind, target, opts.Start, opts.End, opts.Limit, opts.ClientID, opts.Venue, requestID, a.now(), opts.Params)
	if err != nil {
		return model.UUID4{}, err
	}
	if err := a.bus.RegisterResponseHandler(requestID, h); err != nil {
		return model.UUID4{}, err
	}
	a.mu.Lock()
	a.pending[requestID] = kind
	a.mu.Unlock()

	a.logCommand(cmd)
	a.bus.Send(msgbus.DataEngineQueueExecute, cmd)
	return requestID, nil
}

// RequestData requests historical custom data. A client id is required.
func (a *DataActorCore) RequestData(dt model.DataType, opts RequestOptions) (model.UUID4, error) {
	return a.RequestWith(messages.KindData, messages.Target{DataType: dt}, opts)
}

// RequestInstrument requests one instrument definition.
func (a *DataActorCore) RequestInstrument(id model.InstrumentID, opts RequestOptions) (model.UUID4, error) {
	return a.RequestWith(messages.KindInstrument, messages.Target{InstrumentID: id}, opts)
}

// RequestInstruments requests every instrument of venue.
func (a *DataActorCore) RequestInstruments(venue model.Venue, opts RequestOptions) (model.UUID4, error) {
	if opts.Venue == "" {
		opts.Venue = venue
	}
	return a.RequestWith(messages.KindInstruments, messages.Target{Key: string(venue)}, opts)
}

// RequestBookSnapshot requests the current book of id.
func (a *DataActorCore) RequestBookSnapshot(id model.InstrumentID, depth int, opts RequestOptions) (model.UUID4, error) {
	opts.Start, opts.End = nil, nil
	return a.RequestWith(messages.KindBookSnapshots, messages.Target{InstrumentID: id, Depth: depth}, opts)
}

// RequestQuotes requests historical quotes.
func (a *DataActorCore) RequestQuotes(id model.InstrumentID, opts RequestOptions) (model.UUID4, error) {
	return a.RequestWith(messages.KindQuotes, messages.Target{InstrumentID: id}, opts)
}

// RequestTrades requests historical trades.
func (a *DataActorCore) RequestTrades(id model.InstrumentID, opts RequestOptions) (model.UUID4, error) {
	return a.RequestWith(messages.KindTrades, messages.Target{InstrumentID: id}, opts)
}

// RequestBars requests historical bars.
func (a *DataActorCore) RequestBars(bt model.BarType, opts RequestOptions) (model.UUID4, error) {
	return a.RequestWith(messages.KindBars, messages.Target{BarType: bt, InstrumentID: bt.InstrumentID}, opts)
}
