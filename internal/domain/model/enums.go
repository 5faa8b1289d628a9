package model

// OrderSide is the side of an order.
type OrderSide string

const (
	// OrderSideNoSide is the unset side.
	OrderSideNoSide OrderSide = "NO_ORDER_SIDE"
	// OrderSideBuy buys the instrument.
	OrderSideBuy OrderSide = "BUY"
	// OrderSideSell sells the instrument.
	OrderSideSell OrderSide = "SELL"
)

// Opposite returns the other side of the book.
func (s OrderSide) Opposite() OrderSide {
	switch s {
	case OrderSideBuy:
		return OrderSideSell
	case OrderSideSell:
		return OrderSideBuy
	default:
		return OrderSideNoSide
	}
}

// OrderType enumerates the supported order types.
type OrderType string

const (
	OrderTypeMarket             OrderType = "MARKET"
	OrderTypeLimit              OrderType = "LIMIT"
	OrderTypeStopMarket         OrderType = "STOP_MARKET"
	OrderTypeStopLimit          OrderType = "STOP_LIMIT"
	OrderTypeMarketIfTouched    OrderType = "MARKET_IF_TOUCHED"
	OrderTypeLimitIfTouched     OrderType = "LIMIT_IF_TOUCHED"
	OrderTypeTrailingStopMarket OrderType = "TRAILING_STOP_MARKET"
	OrderTypeTrailingStopLimit  OrderType = "TRAILING_STOP_LIMIT"
)

// OrderStatus enumerates the order lifecycle states.
type OrderStatus string

const (
	OrderStatusInitialized     OrderStatus = "INITIALIZED"
	OrderStatusDenied          OrderStatus = "DENIED"
	OrderStatusEmulated        OrderStatus = "EMULATED"
	OrderStatusReleased        OrderStatus = "RELEASED"
	OrderStatusSubmitted       OrderStatus = "SUBMITTED"
	OrderStatusAccepted        OrderStatus = "ACCEPTED"
	OrderStatusRejected        OrderStatus = "REJECTED"
	OrderStatusCanceled        OrderStatus = "CANCELED"
	OrderStatusExpired         OrderStatus = "EXPIRED"
	OrderStatusTriggered       OrderStatus = "TRIGGERED"
	OrderStatusPendingUpdate   OrderStatus = "PENDING_UPDATE"
	OrderStatusPendingCancel   OrderStatus = "PENDING_CANCEL"
	OrderStatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderStatusFilled          OrderStatus = "FILLED"
)

// TimeInForce controls how long an order stays working.
type TimeInForce string

const (
	TimeInForceGTC TimeInForce = "GTC"
	TimeInForceIOC TimeInForce = "IOC"
	TimeInForceFOK TimeInForce = "FOK"
	TimeInForceGTD TimeInForce = "GTD"
	TimeInForceDay TimeInForce = "DAY"
)

// TriggerType selects the price that fires a conditional order.
type TriggerType string

const (
	TriggerTypeNone      TriggerType = "NO_TRIGGER"
	TriggerTypeDefault   TriggerType = "DEFAULT"
	TriggerTypeBidAsk    TriggerType = "BID_ASK"
	TriggerTypeLastPrice TriggerType = "LAST_PRICE"
	TriggerTypeMidPoint  TriggerType = "MID_POINT"
	TriggerTypeMarkPrice TriggerType = "MARK_PRICE"
	TriggerTypeIndex     TriggerType = "INDEX_PRICE"
)

// TrailingOffsetType selects the unit of a trailing offset.
type TrailingOffsetType string

const (
	TrailingOffsetNone        TrailingOffsetType = "NO_TRAILING_OFFSET"
	TrailingOffsetPrice       TrailingOffsetType = "PRICE"
	TrailingOffsetBasisPoints TrailingOffsetType = "BASIS_POINTS"
	TrailingOffsetTicks       TrailingOffsetType = "TICKS"
)

// LiquiditySide records whether a fill added or removed liquidity.
type LiquiditySide string

const (
	LiquiditySideNone  LiquiditySide = "NO_LIQUIDITY_SIDE"
	LiquiditySideMaker LiquiditySide = "MAKER"
	LiquiditySideTaker LiquiditySide = "TAKER"
)

// OmsType selects how fills aggregate into positions.
type OmsType string

const (
	OmsTypeUnspecified OmsType = "UNSPECIFIED"
	OmsTypeNetting     OmsType = "NETTING"
	OmsTypeHedging     OmsType = "HEDGING"
)

// AccountType distinguishes cash and margin accounts.
type AccountType string

const (
	AccountTypeCash   AccountType = "CASH"
	AccountTypeMargin AccountType = "MARGIN"
)

// PositionSide is the direction of a position.
type PositionSide string

const (
	PositionSideFlat  PositionSide = "FLAT"
	PositionSideLong  PositionSide = "LONG"
	PositionSideShort PositionSide = "SHORT"
)

// AggressorSide is the side that crossed the spread on a trade.
type AggressorSide string

const (
	AggressorSideNone   AggressorSide = "NO_AGGRESSOR"
	AggressorSideBuyer  AggressorSide = "BUYER"
	AggressorSideSeller AggressorSide = "SELLER"
)

// BookType is the granularity of an order book.
type BookType string

const (
	BookTypeL1MBP BookType = "L1_MBP"
	BookTypeL2MBP BookType = "L2_MBP"
	BookTypeL3MBO BookType = "L3_MBO"
)

// BookAction is the mutation carried by an order book delta.
type BookAction string

const (
	BookActionAdd    BookAction = "ADD"
	BookActionUpdate BookAction = "UPDATE"
	BookActionDelete BookAction = "DELETE"
	BookActionClear  BookAction = "CLEAR"
)

// PriceType selects which price a bar is aggregated from.
type PriceType string

const (
	PriceTypeBid  PriceType = "BID"
	PriceTypeAsk  PriceType = "ASK"
	PriceTypeMid  PriceType = "MID"
	PriceTypeLast PriceType = "LAST"
)

// BarAggregation is the unit of a bar step.
type BarAggregation string

const (
	BarAggregationTick   BarAggregation = "TICK"
	BarAggregationSecond BarAggregation = "SECOND"
	BarAggregationMinute BarAggregation = "MINUTE"
	BarAggregationHour   BarAggregation = "HOUR"
	BarAggregationDay    BarAggregation = "DAY"
)

// AggregationSource says whether bars are built locally or by the venue.
type AggregationSource string

const (
	AggregationSourceExternal AggregationSource = "EXTERNAL"
	AggregationSourceInternal AggregationSource = "INTERNAL"
)

// MarketStatusAction is the trading status reported for an instrument.
type MarketStatusAction string

const (
	MarketStatusPreOpen MarketStatusAction = "PRE_OPEN"
	MarketStatusTrading MarketStatusAction = "TRADING"
	MarketStatusHalt    MarketStatusAction = "HALT"
	MarketStatusClose   MarketStatusAction = "CLOSE"
)

// InstrumentCloseType distinguishes end-of-session and contract-expiry closes.
type InstrumentCloseType string

const (
	InstrumentCloseEndOfSession   InstrumentCloseType = "END_OF_SESSION"
	InstrumentCloseContractExpiry InstrumentCloseType = "CONTRACT_EXPIRED"
)

// ContingencyType links orders within an order list.
type ContingencyType string

const (
	ContingencyNone ContingencyType = "NO_CONTINGENCY"
	ContingencyOCO  ContingencyType = "OCO"
	ContingencyOTO  ContingencyType = "OTO"
	ContingencyOUO  ContingencyType = "OUO"
)
