package data

import (
	"context"
	"sync"
	"time"

	"github.com/coachpo/quanta/errs"
	"github.com/coachpo/quanta/internal/domain/messages"
	"github.com/coachpo/quanta/internal/domain/model"
	"github.com/coachpo/quanta/internal/infra/clock"
	"github.com/coachpo/quanta/internal/observability"
)

// BacktestClient serves requests from history loaded up front. Streaming
// happens through the backtest engine, so subscriptions are only recorded.
type BacktestClient struct {
	id    model.ClientID
	venue model.Venue
	sink  Sink
	clock clock.Clock
	log   observability.Logger

	mu          sync.Mutex
	connected   bool
	instruments map[model.InstrumentID]model.Instrument
	quotes      map[model.InstrumentID][]model.QuoteTick
	trades      map[model.InstrumentID][]model.TradeTick
	bars        map[string][]model.Bar
	subscribed  map[messages.DataKind]map[string]struct{}
}

// NewBacktestClient builds a client delivering responses to sink.
func NewBacktestClient(id model.ClientID, venue model.Venue, sink Sink, clk clock.Clock, logger observability.Logger) *BacktestClient {
	if logger == nil {
		logger = observability.Log()
	}
	return &BacktestClient{
		id:          id,
		venue:       venue,
		sink:        sink,
		clock:       clk,
		log:         logger.With(observability.F("client_id", id.String())),
		instruments: make(map[model.InstrumentID]model.Instrument),
		quotes:      make(map[model.InstrumentID][]model.QuoteTick),
		trades:      make(map[model.InstrumentID][]model.TradeTick),
		bars:        make(map[string][]model.Bar),
		subscribed:  make(map[messages.DataKind]map[string]struct{}),
	}
}

func (c *BacktestClient) ClientID() model.ClientID { return c.id }
func (c *BacktestClient) Venue() model.Venue       { return c.venue }

func (c *BacktestClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *BacktestClient) Start(context.Context) error {
	c.mu.Lock()
	c.connected = true
	c.mu.Unlock()
	c.log.Info("connected")
	return nil
}

func (c *BacktestClient) Stop(context.Context) error {
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()
	c.log.Info("disconnected")
	return nil
}

// AddInstrument makes inst available to instrument requests.
func (c *BacktestClient) AddInstrument(inst model.Instrument) {
	c.mu.Lock()
	c.instruments[inst.ID] = inst
	c.mu.Unlock()
}

// AddHistory loads quotes, trades and bars for requests. Values must be in
// time order per instrument.
func (c *BacktestClient) AddHistory(data ...model.Data) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, d := range data {
		switch v := d.(type) {
		case model.QuoteTick:
			c.quotes[v.InstrumentID] = append(c.quotes[v.InstrumentID], v)
		case model.TradeTick:
			c.trades[v.InstrumentID] = append(c.trades[v.InstrumentID], v)
		case model.Bar:
			key := v.BarType.String()
			c.bars[key] = append(c.bars[key], v)
		}
	}
}

func (c *BacktestClient) Subscribe(cmd messages.SubscribeCommand) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	set, ok := c.subscribed[cmd.Kind]
	if !ok {
		set = make(map[string]struct{})
		c.subscribed[cmd.Kind] = set
	}
	set[subscriptionKey(cmd.Target)] = struct{}{}
	return nil
}

func (c *BacktestClient) Unsubscribe(cmd messages.UnsubscribeCommand) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.subscribed[cmd.Kind], subscriptionKey(cmd.Target))
	return nil
}

// IsSubscribed reports whether kind is subscribed for key.
func (c *BacktestClient) IsSubscribed(kind messages.DataKind, key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.subscribed[kind][key]
	return ok
}

// Request answers from the loaded history, filtered by the request's window
// and limit.
func (c *BacktestClient) Request(cmd messages.RequestCommand) error {
	var payload any
	c.mu.Lock()
	switch cmd.Kind {
	case messages.KindInstrument:
		inst, ok := c.instruments[cmd.Target.InstrumentID]
		if !ok {
			c.mu.Unlock()
			return errs.New("data/backtest", errs.CodeNotFound,
				errs.WithMessage("instrument not loaded"),
				errs.WithField("instrument_id", cmd.Target.InstrumentID.String()))
		}
		payload = inst
	case messages.KindInstruments:
		var out []model.Instrument
		for _, inst := range c.instruments {
			if cmd.Venue == "" || inst.ID.Venue == cmd.Venue {
				out = append(out, inst)
			}
		}
		payload = out
	case messages.KindQuotes:
		payload = window(c.quotes[cmd.Target.InstrumentID], cmd)
	case messages.KindTrades:
		payload = window(c.trades[cmd.Target.InstrumentID], cmd)
	case messages.KindBars:
		payload = window(c.bars[cmd.Target.BarType.String()], cmd)
	default:
		c.mu.Unlock()
		return errs.New("data/backtest", errs.CodeInvalid,
			errs.WithMessage("unsupported request kind"),
			errs.WithField("kind", string(cmd.Kind)))
	}
	c.mu.Unlock()

	c.sink.OnResponse(messages.NewResponse(cmd, payload, c.clock.TimestampNs()))
	return nil
}

// window keeps values inside [start, end] and then the last limit of them.
func window[T model.Data](values []T, cmd messages.RequestCommand) []T {
	out := make([]T, 0, len(values))
	for _, v := range values {
		ts := v.Timestamp()
		if cmd.Start != nil && ts < nanos(*cmd.Start) {
			continue
		}
		if cmd.End != nil && ts > nanos(*cmd.End) {
			continue
		}
		out = append(out, v)
	}
	if cmd.Limit > 0 && len(out) > cmd.Limit {
		out = out[len(out)-cmd.Limit:]
	}
	return out
}

func nanos(t time.Time) model.UnixNanos { return model.NanosFromTime(t) }

var _ Client = (*BacktestClient)(nil)
