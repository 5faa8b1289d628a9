// Package data owns the DataEngine.* endpoints. It routes data commands to
// data clients, caches what the clients deliver and publishes it on the
// switchboard topics.
package data

import (
	"context"

	"github.com/coachpo/quanta/internal/domain/messages"
	"github.com/coachpo/quanta/internal/domain/model"
	"github.com/coachpo/quanta/internal/infra/bus/msgbus"
)

// Client is a source of market data for one venue, or several when Venue is empty.
type Client interface {
	ClientID() model.ClientID
	Venue() model.Venue
	IsConnected() bool
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Subscribe(cmd messages.SubscribeCommand) error
	Unsubscribe(cmd messages.UnsubscribeCommand) error
	Request(cmd messages.RequestCommand) error
}

// Sink receives what clients produce. The engine is a Sink; live clients are
// handed a sink that queues onto the runner instead.
type Sink interface {
	OnData(data any)
	OnResponse(resp messages.DataResponse)
}

// Routed is implemented by extension data that knows its own topic. The
// engine publishes such values without caching them.
type Routed interface {
	BusTopic(sb *msgbus.Switchboard) msgbus.Topic
}
