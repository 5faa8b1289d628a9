// Package defi adds on-chain market data (blocks, AMM pools, swaps and
// liquidity changes) to any actor. It is an optional extension: nothing in the
// core imports it.
package defi

import (
	"github.com/shopspring/decimal"

	"github.com/coachpo/quanta/internal/domain/messages"
	"github.com/coachpo/quanta/internal/domain/model"
)

// Data kinds understood by DeFi data clients.
const (
	KindBlocks        messages.DataKind = "defi_blocks"
	KindPool          messages.DataKind = "defi_pool"
	KindPoolSwaps     messages.DataKind = "defi_pool_swaps"
	KindPoolLiquidity messages.DataKind = "defi_pool_liquidity"
)

// Blockchain names an EVM-compatible network.
type Blockchain string

const (
	Ethereum Blockchain = "Ethereum"
	Arbitrum Blockchain = "Arbitrum"
	Base     Blockchain = "Base"
	Optimism Blockchain = "Optimism"
	Polygon  Blockchain = "Polygon"
	Bsc      Blockchain = "Bsc"
)

// Chain pairs a network with its numeric chain id.
type Chain struct {
	Name    Blockchain `json:"name"`
	ChainID uint32     `json:"chain_id"`
}

// Block is a mined block header.
type Block struct {
	Chain         Blockchain      `json:"chain"`
	Number        uint64          `json:"number"`
	Hash          string          `json:"hash"`
	ParentHash    string          `json:"parent_hash"`
	Miner         string          `json:"miner,omitempty"`
	GasLimit      uint64          `json:"gas_limit"`
	GasUsed       uint64          `json:"gas_used"`
	BaseFeePerGas decimal.Decimal `json:"base_fee_per_gas"`
	TsEvent       model.UnixNanos `json:"ts_event"`
}

// Pool describes an AMM liquidity pool, addressed as an instrument.
type Pool struct {
	InstrumentID model.InstrumentID `json:"instrument_id"`
	Chain        Blockchain         `json:"chain"`
	Dex          string             `json:"dex"`
	Address      string             `json:"address"`
	Token0       string             `json:"token0"`
	Token1       string             `json:"token1"`
	FeeBps       uint32             `json:"fee_bps"`
	TickSpacing  uint32             `json:"tick_spacing,omitempty"`
	CreatedBlock uint64             `json:"created_block"`
	TsInit       model.UnixNanos    `json:"ts_init"`
}

// PoolSwap is one swap executed against a pool.
type PoolSwap struct {
	InstrumentID model.InstrumentID `json:"instrument_id"`
	Chain        Blockchain         `json:"chain"`
	Block        uint64             `json:"block"`
	TxHash       string             `json:"tx_hash"`
	LogIndex     uint32             `json:"log_index"`
	Sender       string             `json:"sender,omitempty"`
	Side         model.OrderSide    `json:"side"`
	Size         decimal.Decimal    `json:"size"`
	Price        decimal.Decimal    `json:"price"`
	TsEvent      model.UnixNanos    `json:"ts_event"`
	TsInit       model.UnixNanos    `json:"ts_init"`
}

// LiquidityAction tells whether liquidity was added or removed.
type LiquidityAction string

const (
	LiquidityMint LiquidityAction = "MINT"
	LiquidityBurn LiquidityAction = "BURN"
)

// PoolLiquidityUpdate is a mint or burn of pool liquidity.
type PoolLiquidityUpdate struct {
	InstrumentID model.InstrumentID `json:"instrument_id"`
	Chain        Blockchain         `json:"chain"`
	Action       LiquidityAction    `json:"action"`
	Block        uint64             `json:"block"`
	TxHash       string             `json:"tx_hash"`
	Owner        string             `json:"owner,omitempty"`
	Liquidity    decimal.Decimal    `json:"liquidity"`
	Amount0      decimal.Decimal    `json:"amount0"`
	Amount1      decimal.Decimal    `json:"amount1"`
	TickLower    int32              `json:"tick_lower"`
	TickUpper    int32              `json:"tick_upper"`
	TsEvent      model.UnixNanos    `json:"ts_event"`
	TsInit       model.UnixNanos    `json:"ts_init"`
}

func (b Block) Timestamp() model.UnixNanos                   { return b.TsEvent }
func (p Pool) Instrument() model.InstrumentID                { return p.InstrumentID }
func (s PoolSwap) Instrument() model.InstrumentID            { return s.InstrumentID }
func (u PoolLiquidityUpdate) Instrument() model.InstrumentID { return u.InstrumentID }
