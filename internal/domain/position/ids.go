package position

import (
	"fmt"
	"sync"

	"github.com/coachpo/quanta/internal/domain/model"
)

// NettingID is the single position id used per instrument and strategy under NETTING.
func NettingID(instrumentID model.InstrumentID, strategyID model.StrategyID) model.PositionID {
	return model.PositionID(instrumentID.String() + "-" + strategyID.String())
}

// IDGenerator issues HEDGING position ids, one counter per strategy.
type IDGenerator struct {
	traderID model.TraderID
	now      func() model.UnixNanos

	mu     sync.Mutex
	counts map[model.StrategyID]int
}

// NewIDGenerator constructs a generator stamping ids with now.
func NewIDGenerator(traderID model.TraderID, now func() model.UnixNanos) *IDGenerator {
	return &IDGenerator{traderID: traderID, now: now, counts: make(map[model.StrategyID]int)}
}

// Next returns P-{ts}-{trader}-{strategy}-{n}.
func (g *IDGenerator) Next(strategyID model.StrategyID, flipped bool) model.PositionID {
	g.mu.Lock()
	g.counts[strategyID]++
	n := g.counts[strategyID]
	g.mu.Unlock()
	id := fmt.Sprintf("P-%d-%s-%s-%d", uint64(g.now()), g.traderID, strategyID, n)
	if flipped {
		id += "F"
	}
	return model.PositionID(id)
}

// Count returns the ids issued for strategyID.
func (g *IDGenerator) Count(strategyID model.StrategyID) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.counts[strategyID]
}
