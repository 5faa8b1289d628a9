package stream

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/coder/websocket"
	"github.com/goccy/go-json"
	"github.com/sourcegraph/conc"

	"github.com/coachpo/quanta/internal/app/data"
	"github.com/coachpo/quanta/internal/domain/messages"
	"github.com/coachpo/quanta/internal/domain/model"
	"github.com/coachpo/quanta/internal/infra/clock"
	"github.com/coachpo/quanta/internal/observability"
)

const (
	defaultDialTimeout  = 10 * time.Second
	defaultMinBackoff   = 500 * time.Millisecond
	defaultMaxBackoff   = 30 * time.Second
	defaultPingInterval = 30 * time.Second
	pingTimeout         = 5 * time.Second
	writeTimeout        = 5 * time.Second
	readLimit           = 2 * 1024 * 1024
)

var errNotConnected = errors.New("stream: not connected")

// Config configures a stream Client.
type Config struct {
	ClientID     model.ClientID
	Venue        model.Venue
	URL          string
	DialTimeout  time.Duration
	MinBackoff   time.Duration
	MaxBackoff   time.Duration
	PingInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.ClientID == "" {
		c.ClientID = model.ClientID(c.Venue)
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = defaultDialTimeout
	}
	if c.MinBackoff <= 0 {
		c.MinBackoff = defaultMinBackoff
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = defaultMaxBackoff
	}
	if c.PingInterval <= 0 {
		c.PingInterval = defaultPingInterval
	}
	return c
}

// Client is a data.Client that keeps one websocket session alive, replays
// its subscriptions after every reconnect and hands decoded data to a sink.
type Client struct {
	cfg     Config
	sink    data.Sink
	clock   clock.Clock
	log     observability.Logger
	metrics *streamMetrics

	lifeMu sync.Mutex
	cancel context.CancelFunc
	wg     *conc.WaitGroup

	connMu    sync.RWMutex
	conn      *websocket.Conn
	connected atomic.Bool
	msgID     atomic.Uint64

	subsMu  sync.Mutex
	subs    map[string]controlFrame
	pending map[string]messages.RequestCommand
}

// NewClient builds a disconnected client.
func NewClient(cfg Config, sink data.Sink, clk clock.Clock, logger observability.Logger) (*Client, error) {
	cfg = cfg.withDefaults()
	if !strings.HasPrefix(cfg.URL, "ws://") && !strings.HasPrefix(cfg.URL, "wss://") {
		return nil, fmt.Errorf("stream: url %q must use ws:// or wss://", cfg.URL)
	}
	if cfg.ClientID == "" {
		return nil, errors.New("stream: client id or venue required")
	}
	if sink == nil {
		return nil, errors.New("stream: sink required")
	}
	if logger == nil {
		logger = observability.Log()
	}
	return &Client{
		cfg:     cfg,
		sink:    sink,
		clock:   clk,
		log:     logger.With(observability.F("client_id", cfg.ClientID.String()), observability.F("url", cfg.URL)),
		metrics: newStreamMetrics(string(cfg.Venue)),
		subs:    make(map[string]controlFrame),
		pending: make(map[string]messages.RequestCommand),
	}, nil
}

func (c *Client) ClientID() model.ClientID { return c.cfg.ClientID }
func (c *Client) Venue() model.Venue       { return c.cfg.Venue }
func (c *Client) IsConnected() bool        { return c.connected.Load() }

// Start dials the stream and waits for the first session. The session
// outlives ctx; Stop ends it.
func (c *Client) Start(ctx context.Context) error {
	c.lifeMu.Lock()
	defer c.lifeMu.Unlock()
	if c.cancel != nil {
		return nil
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	ready := make(chan struct{})
	wg := &conc.WaitGroup{}
	wg.Go(func() { c.connect(runCtx, ready) })

	timer := time.NewTimer(c.cfg.DialTimeout)
	defer timer.Stop()
	select {
	case <-ready:
		c.cancel, c.wg = cancel, wg
		c.log.Info("connected")
		return nil
	case <-timer.C:
		cancel()
		wg.Wait()
		return fmt.Errorf("stream: timeout waiting for %s", c.cfg.URL)
	case <-ctx.Done():
		cancel()
		wg.Wait()
		return fmt.Errorf("stream: start: %w", ctx.Err())
	}
}

// Stop closes the session and waits for the connection loop to exit.
func (c *Client) Stop(ctx context.Context) error {
	c.lifeMu.Lock()
	cancel, wg := c.cancel, c.wg
	c.cancel, c.wg = nil, nil
	c.lifeMu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	c.connMu.Lock()
	if c.conn != nil {
		_ = c.conn.Close(websocket.StatusNormalClosure, "shutdown")
		c.conn = nil
	}
	c.connMu.Unlock()
	c.connected.Store(false)

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		c.log.Info("disconnected")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("stream: stop: %w", ctx.Err())
	}
}

// Subscribe records the subscription and sends it when connected. Stored
// subscriptions are replayed on every reconnect.
func (c *Client) Subscribe(cmd messages.SubscribeCommand) error {
	f, err := frameFor(opSubscribe, cmd.CommandHeader)
	if err != nil {
		return err
	}
	c.subsMu.Lock()
	if _, ok := c.subs[f.key()]; ok {
		c.subsMu.Unlock()
		return nil
	}
	c.subs[f.key()] = f
	c.subsMu.Unlock()
	c.metrics.adjustSubscriptions(context.Background(), 1)

	if err := c.send(context.Background(), f); err != nil && !errors.Is(err, errNotConnected) {
		return err
	}
	return nil
}

// Unsubscribe forgets the subscription and tells the server when connected.
func (c *Client) Unsubscribe(cmd messages.UnsubscribeCommand) error {
	f, err := frameFor(opUnsubscribe, cmd.CommandHeader)
	if err != nil {
		return err
	}
	c.subsMu.Lock()
	if _, ok := c.subs[f.key()]; !ok {
		c.subsMu.Unlock()
		return nil
	}
	delete(c.subs, f.key())
	c.subsMu.Unlock()
	c.metrics.adjustSubscriptions(context.Background(), -1)

	if err := c.send(context.Background(), f); err != nil && !errors.Is(err, errNotConnected) {
		return err
	}
	return nil
}

// Request asks the server for history. The answer reaches the sink as a
// DataResponse correlated by the request id.
func (c *Client) Request(cmd messages.RequestCommand) error {
	f, err := requestFrame(cmd)
	if err != nil {
		return err
	}
	c.subsMu.Lock()
	c.pending[f.RequestID] = cmd
	c.subsMu.Unlock()
	if err := c.send(context.Background(), f); err != nil {
		c.subsMu.Lock()
		delete(c.pending, f.RequestID)
		c.subsMu.Unlock()
		return err
	}
	return nil
}

// Pending returns the number of requests still awaiting a response.
func (c *Client) Pending() int {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	return len(c.pending)
}

func (c *Client) send(ctx context.Context, f controlFrame) error {
	f.ID = c.msgID.Add(1)
	payload, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("stream: marshal %s: %w", f.Op, err)
	}
	c.connMu.RLock()
	conn := c.conn
	c.connMu.RUnlock()
	if conn == nil {
		return errNotConnected
	}
	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := conn.Write(writeCtx, websocket.MessageText, payload); err != nil {
		return fmt.Errorf("stream: write %s: %w", f.Op, err)
	}
	c.metrics.recordControl(ctx, f.Op)
	c.log.Debug("control frame sent",
		observability.F("op", f.Op),
		observability.F("id", f.ID),
		observability.F("channel", f.Channel))
	return nil
}

// connect keeps a session alive until ctx is done, backing off between dials.
func (c *Client) connect(ctx context.Context, ready chan struct{}) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.cfg.MinBackoff
	policy.MaxInterval = c.cfg.MaxBackoff
	var readyOnce sync.Once

	for {
		if ctx.Err() != nil {
			return
		}
		conn, _, err := websocket.Dial(ctx, c.cfg.URL, nil)
		if err != nil {
			c.metrics.recordReconnect(ctx, "error")
			if ctx.Err() == nil {
				c.log.Warn("dial failed", observability.F("error", err.Error()))
			}
		} else {
			c.metrics.recordReconnect(ctx, "success")
			conn.SetReadLimit(readLimit)
			c.connMu.Lock()
			c.conn = conn
			c.connMu.Unlock()
			c.connected.Store(true)
			policy.Reset()

			if err := c.resubscribe(ctx); err != nil {
				c.log.Warn("resubscribe failed", observability.F("error", err.Error()))
			}
			readyOnce.Do(func() { close(ready) })

			if err := c.session(ctx, conn); err != nil {
				c.log.Warn("session ended", observability.F("error", err.Error()))
			}
			c.connMu.Lock()
			if c.conn == conn {
				c.conn = nil
			}
			c.connMu.Unlock()
			c.connected.Store(false)
			_ = conn.Close(websocket.StatusNormalClosure, "")
		}

		sleep := policy.NextBackOff()
		if sleep == backoff.Stop {
			sleep = c.cfg.MaxBackoff
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(sleep):
		}
	}
}

func (c *Client) resubscribe(ctx context.Context) error {
	c.subsMu.Lock()
	frames := make([]controlFrame, 0, len(c.subs))
	for _, f := range c.subs {
		frames = append(frames, f)
	}
	c.subsMu.Unlock()
	var errList []error
	for _, f := range frames {
		if err := c.send(ctx, f); err != nil {
			errList = append(errList, err)
		}
	}
	return errors.Join(errList...)
}

// session runs the read and ping loops of one connection until either fails.
func (c *Client) session(ctx context.Context, conn *websocket.Conn) error {
	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	errCh := make(chan error, 2)
	var wg conc.WaitGroup
	wg.Go(func() { errCh <- c.readLoop(connCtx, conn) })
	wg.Go(func() { errCh <- c.pingLoop(connCtx, conn) })

	first := <-errCh
	cancel()
	_ = conn.Close(websocket.StatusNormalClosure, "")
	wg.Wait()
	if first == nil || errors.Is(first, context.Canceled) {
		return nil
	}
	return first
}

func (c *Client) pingLoop(ctx context.Context, conn *websocket.Conn) error {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return context.Canceled
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				return closeError("ping", err)
			}
		}
	}
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		typ, payload, err := conn.Read(ctx)
		if err != nil {
			return closeError("read", err)
		}
		if typ != websocket.MessageText {
			continue
		}
		c.metrics.recordMessage(ctx, len(payload))
		c.handle(ctx, payload)
	}
}

func closeError(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, net.ErrClosed) {
		return context.Canceled
	}
	if status := websocket.CloseStatus(err); status != -1 {
		if status == websocket.StatusNormalClosure {
			return context.Canceled
		}
		return fmt.Errorf("%s: remote closed with status %d", op, status)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func (c *Client) handle(ctx context.Context, payload []byte) {
	var f inbound
	if err := json.Unmarshal(payload, &f); err != nil {
		c.metrics.recordDecodeError(ctx)
		c.log.Warn("undecodable frame", observability.F("error", err.Error()))
		return
	}
	if f.isAck() {
		if f.Error != "" {
			c.log.Warn("control frame rejected",
				observability.F("id", f.ID),
				observability.F("error", f.Error))
		}
		return
	}
	now := c.clock.TimestampNs()
	if f.Type == frameResponse {
		c.respond(ctx, f, now)
		return
	}
	d, err := decode(f, now)
	if err != nil {
		c.metrics.recordDecodeError(ctx)
		c.log.Warn("invalid data frame",
			observability.F("type", f.Type),
			observability.F("error", err.Error()))
		return
	}
	c.sink.OnData(d)
}

func (c *Client) respond(ctx context.Context, f inbound, now model.UnixNanos) {
	c.subsMu.Lock()
	req, ok := c.pending[f.RequestID]
	delete(c.pending, f.RequestID)
	c.subsMu.Unlock()
	if !ok {
		c.log.Warn("response for unknown request", observability.F("request_id", f.RequestID))
		return
	}
	values, err := collect(req.Kind, f.Items, now)
	if err != nil {
		c.metrics.recordDecodeError(ctx)
		c.log.Warn("invalid response", observability.F("request_id", f.RequestID), observability.F("error", err.Error()))
		return
	}
	c.sink.OnResponse(messages.NewResponse(req, values, now))
}

var _ data.Client = (*Client)(nil)
