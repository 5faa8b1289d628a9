// Package httpserver exposes a read-only HTTP view of a running trader: its
// health and the orders rebuilt from the order event journal.
package httpserver

import (
	"net/http"
	"sort"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"github.com/coachpo/quanta/errs"
	"github.com/coachpo/quanta/internal/domain/model"
	"github.com/coachpo/quanta/internal/domain/orders"
	"github.com/coachpo/quanta/internal/infra/persistence"
	"github.com/coachpo/quanta/internal/observability"
)

const (
	healthPath        = "/healthz"
	ordersPath        = "/orders"
	orderDetailPrefix = ordersPath + "/"
)

// Journal is the event log the server reads. Implementations must be safe
// for concurrent use.
type Journal interface {
	persistence.EventLog
	ClientOrderIDs() []model.ClientOrderID
	Len() int
	Fills() int
}

// Info identifies the process in health responses.
type Info struct {
	TraderID    model.TraderID
	Environment string
	StartedAt   time.Time
}

type handlerFunc func(http.ResponseWriter, *http.Request)

type httpServer struct {
	info    Info
	journal Journal
	log     observability.Logger
}

// NewHandler builds the status routes over journal.
func NewHandler(info Info, journal Journal, logger observability.Logger) http.Handler {
	if logger == nil {
		logger = observability.Log()
	}
	if info.StartedAt.IsZero() {
		info.StartedAt = time.Now()
	}
	server := &httpServer{info: info, journal: journal, log: logger.With(observability.F("component", "status-api"))}

	mux := http.NewServeMux()
	mux.Handle(healthPath, methodHandlers(map[string]handlerFunc{
		http.MethodGet: server.getHealth,
	}))
	mux.Handle(ordersPath, methodHandlers(map[string]handlerFunc{
		http.MethodGet: server.listOrders,
	}))
	mux.Handle(orderDetailPrefix, methodHandlers(map[string]handlerFunc{
		http.MethodGet: server.getOrder,
	}))
	return mux
}

func methodHandlers(handlers map[string]handlerFunc) http.Handler {
	allowed := make([]string, 0, len(handlers))
	for method := range handlers {
		allowed = append(allowed, method)
	}
	sort.Strings(allowed)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if handler, ok := handlers[r.Method]; ok {
			handler(w, r)
			return
		}
		w.Header().Set("Allow", strings.Join(allowed, ", "))
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
}

type healthPayload struct {
	Status      string `json:"status"`
	TraderID    string `json:"trader_id"`
	Environment string `json:"environment"`
	Uptime      string `json:"uptime"`
	Events      int    `json:"events"`
	Fills       int    `json:"fills"`
}

func (s *httpServer) getHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthPayload{
		Status:      "ok",
		TraderID:    string(s.info.TraderID),
		Environment: s.info.Environment,
		Uptime:      time.Since(s.info.StartedAt).Truncate(time.Second).String(),
		Events:      s.journal.Len(),
		Fills:       s.journal.Fills(),
	})
}

type orderView struct {
	ClientOrderID string   `json:"client_order_id"`
	VenueOrderID  string   `json:"venue_order_id,omitempty"`
	StrategyID    string   `json:"strategy_id"`
	InstrumentID  string   `json:"instrument_id"`
	Side          string   `json:"side"`
	Type          string   `json:"type"`
	Status        string   `json:"status"`
	Quantity      string   `json:"quantity"`
	FilledQty     string   `json:"filled_qty"`
	Price         string   `json:"price,omitempty"`
	AvgPx         string   `json:"avg_px,omitempty"`
	TsLast        uint64   `json:"ts_last"`
	Events        []string `json:"events,omitempty"`
}

func newOrderView(o orders.Order, withEvents bool) orderView {
	view := orderView{
		ClientOrderID: string(o.ClientOrderID()),
		VenueOrderID:  string(o.VenueOrderID()),
		StrategyID:    string(o.StrategyID()),
		InstrumentID:  o.InstrumentID().String(),
		Side:          string(o.Side()),
		Type:          string(o.OrderType()),
		Status:        string(o.Status()),
		Quantity:      o.Quantity().String(),
		FilledQty:     o.FilledQty().String(),
		TsLast:        uint64(o.TsLast()),
	}
	if px := o.Price(); px != nil {
		view.Price = px.String()
	}
	if px := o.AvgPx(); px != nil {
		view.AvgPx = px.String()
	}
	if withEvents {
		for _, ev := range o.Events() {
			view.Events = append(view.Events, string(ev.Kind()))
		}
	}
	return view
}

// listOrders accepts strategy and state (open|closed) filters.
func (s *httpServer) listOrders(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	strategy := strings.TrimSpace(query.Get("strategy"))
	state := strings.ToLower(strings.TrimSpace(query.Get("state")))
	switch state {
	case "", "open", "closed":
	default:
		writeError(w, http.StatusBadRequest, "state must be open or closed")
		return
	}

	views := make([]orderView, 0)
	for _, id := range s.journal.ClientOrderIDs() {
		o, err := persistence.Rebuild(r.Context(), s.journal, id)
		if err != nil {
			s.log.Warn("rebuild order failed", observability.F("client_order_id", string(id)), observability.F("error", err.Error()))
			continue
		}
		if strategy != "" && string(o.StrategyID()) != strategy {
			continue
		}
		if (state == "open" && !o.IsOpen()) || (state == "closed" && !o.IsClosed()) {
			continue
		}
		views = append(views, newOrderView(o, false))
	}
	writeJSON(w, http.StatusOK, map[string]any{"orders": views})
}

func (s *httpServer) getOrder(w http.ResponseWriter, r *http.Request) {
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, orderDetailPrefix), "/")
	if id == "" {
		writeError(w, http.StatusNotFound, "client order id required")
		return
	}
	o, err := persistence.Rebuild(r.Context(), s.journal, model.ClientOrderID(id))
	if errs.Is(err, errs.CodeNotFound) {
		writeError(w, http.StatusNotFound, "order not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, newOrderView(o, true))
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"status": "error", "error": message})
}
