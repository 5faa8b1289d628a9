// Package messages defines the command and response values routed through the message bus.
package messages

import (
	"time"

	"github.com/coachpo/quanta/errs"
	"github.com/coachpo/quanta/internal/domain/model"
)

// DataKind names the stream a data command targets.
type DataKind string

const (
	KindData             DataKind = "data"
	KindInstrument       DataKind = "instrument"
	KindInstruments      DataKind = "instruments"
	KindBookDeltas       DataKind = "book_deltas"
	KindBookDepth10      DataKind = "book_depth10"
	KindBookSnapshots    DataKind = "book_snapshots"
	KindQuotes           DataKind = "quotes"
	KindTrades           DataKind = "trades"
	KindBars             DataKind = "bars"
	KindMarkPrices       DataKind = "mark_prices"
	KindIndexPrices      DataKind = "index_prices"
	KindInstrumentStatus DataKind = "instrument_status"
	KindInstrumentClose  DataKind = "instrument_close"
)

// Target identifies what a command is about. Only the fields relevant to the
// command kind are set; extension kinds use Key.
type Target struct {
	DataType     model.DataType     `json:"data_type"`
	InstrumentID model.InstrumentID `json:"instrument_id"`
	BarType      model.BarType      `json:"bar_type"`
	BookType     model.BookType     `json:"book_type,omitempty"`
	Depth        int                `json:"depth,omitempty"`
	IntervalMs   int                `json:"interval_ms,omitempty"`
	Managed      bool               `json:"managed,omitempty"`
	Key          string             `json:"key,omitempty"`
}

// CommandHeader is shared by subscribe, unsubscribe and request commands.
type CommandHeader struct {
	Kind     DataKind          `json:"kind"`
	Target   Target            `json:"target"`
	ClientID model.ClientID    `json:"client_id,omitempty"`
	Venue    model.Venue       `json:"venue,omitempty"`
	ID       model.UUID4       `json:"id"`
	TsInit   model.UnixNanos   `json:"ts_init"`
	Params   map[string]string `json:"params,omitempty"`
}

// DataCommand is implemented by SubscribeCommand, UnsubscribeCommand and RequestCommand.
type DataCommand interface {
	Header() CommandHeader
}

// SubscribeCommand asks a data client to start streaming.
type SubscribeCommand struct {
	CommandHeader
}

// UnsubscribeCommand asks a data client to stop streaming.
type UnsubscribeCommand struct {
	CommandHeader
}

// RequestCommand asks a data client for historical data. The response is
// published to DataEngine.response carrying the request id as correlation id.
type RequestCommand struct {
	CommandHeader
	Start *time.Time `json:"start,omitempty"`
	End   *time.Time `json:"end,omitempty"`
	Limit int        `json:"limit,omitempty"`
}

func (c SubscribeCommand) Header() CommandHeader   { return c.CommandHeader }
func (c UnsubscribeCommand) Header() CommandHeader { return c.CommandHeader }
func (c RequestCommand) Header() CommandHeader     { return c.CommandHeader }

// CommandID returns the command id.
func (h CommandHeader) CommandID() model.UUID4 { return h.ID }

// checkClientIDOrVenue enforces that a command can be routed.
func checkClientIDOrVenue(kind DataKind, clientID model.ClientID, venue model.Venue) error {
	if clientID == "" && venue == "" {
		return errs.New("messages", errs.CodeInvalid,
			errs.WithMessage("both `client_id` and `venue` were empty"),
			errs.WithField("kind", string(kind)))
	}
	return nil
}

func header(kind DataKind, target Target, clientID model.ClientID, venue model.Venue, ts model.UnixNanos, params map[string]string) CommandHeader {
	return CommandHeader{
		Kind:     kind,
		Target:   target,
		ClientID: clientID,
		Venue:    venue,
		ID:       model.NewUUID4(),
		TsInit:   ts,
		Params:   copyParams(params),
	}
}

// NewSubscribe builds a subscribe command. At least one of clientID and venue is required.
func NewSubscribe(kind DataKind, target Target, clientID model.ClientID, venue model.Venue, ts model.UnixNanos, params map[string]string) (SubscribeCommand, error) {
	if err := checkClientIDOrVenue(kind, clientID, venue); err != nil {
		return SubscribeCommand{}, err
	}
	return SubscribeCommand{CommandHeader: header(kind, target, clientID, venue, ts, params)}, nil
}

// NewUnsubscribe builds an unsubscribe command. At least one of clientID and venue is required.
func NewUnsubscribe(kind DataKind, target Target, clientID model.ClientID, venue model.Venue, ts model.UnixNanos, params map[string]string) (UnsubscribeCommand, error) {
	if err := checkClientIDOrVenue(kind, clientID, venue); err != nil {
		return UnsubscribeCommand{}, err
	}
	return UnsubscribeCommand{CommandHeader: header(kind, target, clientID, venue, ts, params)}, nil
}

// NewRequest builds a request command with requestID as correlation id. When
// venue is empty it is derived from the target instrument or bar type.
func NewRequest(kind DataKind, target Target, start, end *time.Time, limit int, clientID model.ClientID, venue model.Venue, requestID model.UUID4, ts model.UnixNanos, params map[string]string) (RequestCommand, error) {
	if venue == "" {
		switch {
		case !target.InstrumentID.IsZero():
			venue = target.InstrumentID.Venue
		case !target.BarType.InstrumentID.IsZero():
			venue = target.BarType.InstrumentID.Venue
		}
	}
	if err := checkClientIDOrVenue(kind, clientID, venue); err != nil {
		return RequestCommand{}, err
	}
	h := header(kind, target, clientID, venue, ts, params)
	h.ID = requestID
	return RequestCommand{CommandHeader: h, Start: start, End: end, Limit: limit}, nil
}

// RequestID returns the correlation id of the request.
func (c RequestCommand) RequestID() model.UUID4 { return c.ID }

// DataResponse carries the result of a RequestCommand.
type DataResponse struct {
	Kind          DataKind          `json:"kind"`
	CorrelationID model.UUID4       `json:"correlation_id"`
	ClientID      model.ClientID    `json:"client_id,omitempty"`
	Venue         model.Venue       `json:"venue,omitempty"`
	Target        Target            `json:"target"`
	Data          any               `json:"data"`
	ResponseID    model.UUID4       `json:"response_id"`
	TsInit        model.UnixNanos   `json:"ts_init"`
	Params        map[string]string `json:"params,omitempty"`
}

// NewResponse builds the response to req.
func NewResponse(req RequestCommand, data any, ts model.UnixNanos) DataResponse {
	return DataResponse{
		Kind:          req.Kind,
		CorrelationID: req.ID,
		ClientID:      req.ClientID,
		Venue:         req.Venue,
		Target:        req.Target,
		Data:          data,
		ResponseID:    model.NewUUID4(),
		TsInit:        ts,
		Params:        copyParams(req.Params),
	}
}

// ShutdownSystem asks the runner to stop the trading node.
type ShutdownSystem struct {
	TraderID    model.TraderID    `json:"trader_id"`
	ComponentID model.ComponentID `json:"component_id"`
	Reason      string            `json:"reason,omitempty"`
	CommandID   model.UUID4       `json:"command_id"`
	TsInit      model.UnixNanos   `json:"ts_init"`
}

func copyParams(params map[string]string) map[string]string {
	if len(params) == 0 {
		return nil
	}
	out := make(map[string]string, len(params))
	for k, v := range params {
		out[k] = v
	}
	return out
}
