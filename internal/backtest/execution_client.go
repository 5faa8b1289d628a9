package backtest

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/coachpo/quanta/internal/app/execution"
	"github.com/coachpo/quanta/internal/domain/accounts"
	"github.com/coachpo/quanta/internal/domain/events"
	"github.com/coachpo/quanta/internal/domain/messages"
	"github.com/coachpo/quanta/internal/domain/model"
	"github.com/coachpo/quanta/internal/infra/bus/msgbus"
	"github.com/coachpo/quanta/internal/infra/cache"
	"github.com/coachpo/quanta/internal/infra/clock"
	"github.com/coachpo/quanta/internal/observability"
)

// ClientConfig configures a backtest execution client.
type ClientConfig struct {
	TraderID  model.TraderID
	AccountID model.AccountID
	// Routing marks the client as the default route for unroutable commands.
	Routing bool
	// FrozenAccount keeps balances at their starting values; fills never move them.
	FrozenAccount bool
}

// ExecutionClient routes trading commands into a SimulatedExchange.
type ExecutionClient struct {
	execution.Base
	exchange *SimulatedExchange
	account  *accounts.Account
	log      observability.Logger
	routing  bool
	frozen   bool

	mu        sync.Mutex
	connected bool
}

// NewExecutionClient builds the client for exchange and registers its account
// in c from the exchange's starting balances.
func NewExecutionClient(cfg ClientConfig, exchange *SimulatedExchange, bus *msgbus.MessageBus, c *cache.Cache, clk clock.Clock, logger observability.Logger) (*ExecutionClient, error) {
	if logger == nil {
		logger = observability.Log()
	}
	venue := exchange.Venue()
	if cfg.AccountID == "" {
		cfg.AccountID = model.AccountID(fmt.Sprintf("%s-001", venue))
	}
	if cfg.TraderID == "" {
		cfg.TraderID = bus.TraderID()
	}
	ec := &ExecutionClient{
		Base: execution.NewBase(execution.BaseConfig{
			TraderID:     cfg.TraderID,
			ClientID:     model.ClientID(venue),
			Venue:        venue,
			OmsType:      exchange.OmsType(),
			AccountID:    cfg.AccountID,
			AccountType:  exchange.AccountType(),
			BaseCurrency: exchange.BaseCurrency(),
		}, bus, clk),
		exchange: exchange,
		log:      logger.With(observability.F("component", "BacktestExecClient"), observability.F("venue", string(venue))),
		routing:  cfg.Routing,
		frozen:   cfg.FrozenAccount,
	}

	if err := ec.openAccount(c, clk.TimestampNs()); err != nil {
		return nil, err
	}
	exchange.RegisterClient(ec)
	return ec, nil
}

// openAccount registers a fresh account holding the exchange's starting
// balances in c, replacing the client's previous one.
func (c *ExecutionClient) openAccount(cc *cache.Cache, ts model.UnixNanos) error {
	starting := c.exchange.StartingBalances()
	balances := make([]events.AccountBalance, 0, len(starting))
	for _, m := range starting {
		balances = append(balances, events.NewAccountBalance(m.Amount, decimal.Zero, m.Currency))
	}
	account, err := accounts.New(events.AccountState{
		AccountID:    c.AccountID(),
		AccountType:  c.AccountType(),
		BaseCurrency: c.BaseCurrency(),
		Balances:     balances,
		EventID:      model.NewUUID4(),
		TsEvent:      ts,
		TsInit:       ts,
	}, c.frozen)
	if err != nil {
		return fmt.Errorf("backtest client account: %w", err)
	}
	if err := cc.AddAccount(account); err != nil {
		return fmt.Errorf("backtest client account: %w", err)
	}
	c.account = account
	return nil
}

// Account returns the client's registered account.
func (c *ExecutionClient) Account() *accounts.Account { return c.account }

// IsRouting reports whether the client should be the default route.
func (c *ExecutionClient) IsRouting() bool { return c.routing }

// IsConnected reports the connection flag. Commands are forwarded either way.
func (c *ExecutionClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *ExecutionClient) Start(context.Context) error {
	c.mu.Lock()
	c.connected = true
	c.mu.Unlock()
	c.log.Info("backtest execution client started")
	return nil
}

func (c *ExecutionClient) Stop(context.Context) error {
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()
	c.log.Info("backtest execution client stopped")
	return nil
}

// SubmitOrder acknowledges the order locally, then hands it to the exchange.
func (c *ExecutionClient) SubmitOrder(cmd messages.SubmitOrder) error {
	c.GenerateOrderSubmitted(cmd.StrategyID, cmd.InstrumentID, cmd.Order.ClientOrderID(), c.Clock().TimestampNs())
	c.exchange.Send(cmd)
	return nil
}

// SubmitOrderList acknowledges each child in list order, then hands the list to the exchange.
func (c *ExecutionClient) SubmitOrderList(cmd messages.SubmitOrderList) error {
	for _, o := range cmd.Orders {
		c.GenerateOrderSubmitted(cmd.StrategyID, o.InstrumentID(), o.ClientOrderID(), c.Clock().TimestampNs())
	}
	c.exchange.Send(cmd)
	return nil
}

func (c *ExecutionClient) ModifyOrder(cmd messages.ModifyOrder) error {
	c.exchange.Send(cmd)
	return nil
}

func (c *ExecutionClient) CancelOrder(cmd messages.CancelOrder) error {
	c.exchange.Send(cmd)
	return nil
}

func (c *ExecutionClient) CancelAllOrders(cmd messages.CancelAllOrders) error {
	c.exchange.Send(cmd)
	return nil
}

func (c *ExecutionClient) BatchCancelOrders(cmd messages.BatchCancelOrders) error {
	c.exchange.Send(cmd)
	return nil
}

func (c *ExecutionClient) QueryOrder(cmd messages.QueryOrder) error {
	c.exchange.Send(cmd)
	return nil
}

var _ execution.Client = (*ExecutionClient)(nil)
