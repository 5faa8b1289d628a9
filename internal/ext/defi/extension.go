package defi

import (
	"github.com/coachpo/quanta/internal/app/actor"
	"github.com/coachpo/quanta/internal/domain/messages"
	"github.com/coachpo/quanta/internal/domain/model"
	"github.com/coachpo/quanta/internal/infra/bus/msgbus"
	"github.com/coachpo/quanta/internal/observability"
)

const (
	kindBlocks    = "defi_blocks"
	kindPool      = "defi_pool"
	kindSwaps     = "defi_pool_swaps"
	kindLiquidity = "defi_liquidity"
)

// BlocksTopic returns data.defi.blocks.{chain}.
func BlocksTopic(sb *msgbus.Switchboard, chain Blockchain) msgbus.Topic {
	return sb.Memo(kindBlocks, string(chain), func() string { return "data.defi.blocks." + string(chain) })
}

// PoolTopic returns data.defi.pool.{instrument_id}.
func PoolTopic(sb *msgbus.Switchboard, id model.InstrumentID) msgbus.Topic {
	return sb.Memo(kindPool, id.String(), func() string { return "data.defi.pool." + id.String() })
}

// PoolSwapsTopic returns data.defi.pool_swaps.{instrument_id}.
func PoolSwapsTopic(sb *msgbus.Switchboard, id model.InstrumentID) msgbus.Topic {
	return sb.Memo(kindSwaps, id.String(), func() string { return "data.defi.pool_swaps." + id.String() })
}

// LiquidityTopic returns data.defi.liquidity.{instrument_id}.
func LiquidityTopic(sb *msgbus.Switchboard, id model.InstrumentID) msgbus.Topic {
	return sb.Memo(kindLiquidity, id.String(), func() string { return "data.defi.liquidity." + id.String() })
}

// BusTopic methods let the data engine publish DeFi values without knowing them.

func (b Block) BusTopic(sb *msgbus.Switchboard) msgbus.Topic { return BlocksTopic(sb, b.Chain) }
func (p Pool) BusTopic(sb *msgbus.Switchboard) msgbus.Topic  { return PoolTopic(sb, p.InstrumentID) }
func (s PoolSwap) BusTopic(sb *msgbus.Switchboard) msgbus.Topic {
	return PoolSwapsTopic(sb, s.InstrumentID)
}
func (u PoolLiquidityUpdate) BusTopic(sb *msgbus.Switchboard) msgbus.Topic {
	return LiquidityTopic(sb, u.InstrumentID)
}

// Callbacks receive DeFi data once the actor is running.
type Callbacks interface {
	OnBlock(Block)
	OnPool(Pool)
	OnPoolSwap(PoolSwap)
	OnPoolLiquidityUpdate(PoolLiquidityUpdate)
}

// Extension composes DeFi subscriptions onto a DataActorCore.
type Extension struct {
	core *actor.DataActorCore
	cb   Callbacks
}

// Attach binds cb to core. Subscriptions made through the extension share the
// core's handler registry, so unsubscribe and dispose behave as for core data.
func Attach(core *actor.DataActorCore, cb Callbacks) *Extension {
	return &Extension{core: core, cb: cb}
}

func (e *Extension) sb() *msgbus.Switchboard { return e.core.Bus().Switchboard() }

func typed[T any](e *Extension, kind string, fn func(T)) func(id string) msgbus.MessageHandler {
	return func(id string) msgbus.MessageHandler {
		return msgbus.NewTypedHandler[T](id, func(v T) {
			if e.core.Running(kind) {
				fn(v)
			}
		}, func(msg any) {
			e.core.Log().Warn("unexpected message type", observability.F("handler", id))
		})
	}
}

func (e *Extension) blocksSub(chain Blockchain, clientID model.ClientID, params map[string]string) actor.Subscription {
	return actor.Subscription{
		Kind:     KindBlocks,
		Topic:    BlocksTopic(e.sb(), chain),
		Target:   messages.Target{Key: string(chain)},
		ClientID: clientID,
		Params:   params,
		Handler:  typed(e, "block", e.cb.OnBlock),
	}
}

func (e *Extension) instrumentSub(kind messages.DataKind, topic msgbus.Topic, id model.InstrumentID, clientID model.ClientID, params map[string]string, h func(string) msgbus.MessageHandler) actor.Subscription {
	return actor.Subscription{
		Kind:     kind,
		Topic:    topic,
		Target:   messages.Target{InstrumentID: id},
		ClientID: clientID,
		Venue:    id.Venue,
		Params:   params,
		Handler:  h,
	}
}

// SubscribeBlocks subscribes to new blocks of chain.
func (e *Extension) SubscribeBlocks(chain Blockchain, clientID model.ClientID, params map[string]string) {
	e.core.SubscribeWith(e.blocksSub(chain, clientID, params))
}

// UnsubscribeBlocks unsubscribes from the blocks of chain.
func (e *Extension) UnsubscribeBlocks(chain Blockchain, clientID model.ClientID, params map[string]string) {
	e.core.UnsubscribeWith(e.blocksSub(chain, clientID, params))
}

// SubscribePool subscribes to definition updates of a pool.
func (e *Extension) SubscribePool(id model.InstrumentID, clientID model.ClientID, params map[string]string) {
	e.core.SubscribeWith(e.instrumentSub(KindPool, PoolTopic(e.sb(), id), id, clientID, params, typed(e, "pool", e.cb.OnPool)))
}

// UnsubscribePool unsubscribes from a pool.
func (e *Extension) UnsubscribePool(id model.InstrumentID, clientID model.ClientID, params map[string]string) {
	e.core.UnsubscribeWith(e.instrumentSub(KindPool, PoolTopic(e.sb(), id), id, clientID, params, nil))
}

// SubscribePoolSwaps subscribes to the swaps of a pool.
func (e *Extension) SubscribePoolSwaps(id model.InstrumentID, clientID model.ClientID, params map[string]string) {
	e.core.SubscribeWith(e.instrumentSub(KindPoolSwaps, PoolSwapsTopic(e.sb(), id), id, clientID, params, typed(e, "pool_swap", e.cb.OnPoolSwap)))
}

// UnsubscribePoolSwaps unsubscribes from the swaps of a pool.
func (e *Extension) UnsubscribePoolSwaps(id model.InstrumentID, clientID model.ClientID, params map[string]string) {
	e.core.UnsubscribeWith(e.instrumentSub(KindPoolSwaps, PoolSwapsTopic(e.sb(), id), id, clientID, params, nil))
}

// SubscribePoolLiquidityUpdates subscribes to mints and burns of a pool.
func (e *Extension) SubscribePoolLiquidityUpdates(id model.InstrumentID, clientID model.ClientID, params map[string]string) {
	e.core.SubscribeWith(e.instrumentSub(KindPoolLiquidity, LiquidityTopic(e.sb(), id), id, clientID, params,
		typed(e, "pool_liquidity", e.cb.OnPoolLiquidityUpdate)))
}

// UnsubscribePoolLiquidityUpdates unsubscribes from the liquidity updates of a pool.
func (e *Extension) UnsubscribePoolLiquidityUpdates(id model.InstrumentID, clientID model.ClientID, params map[string]string) {
	e.core.UnsubscribeWith(e.instrumentSub(KindPoolLiquidity, LiquidityTopic(e.sb(), id), id, clientID, params, nil))
}
