// Package domain defines the core data types shared across the bus, the
// scanner, strategies, the risk gate, the executor and the allocator.
//
// Every monetary, price, or size field is a shopspring/decimal.Decimal.
// Binary floats are never used for money: a repeating decimal like 0.1 is
// not exactly representable in IEEE-754, and the risk gate's exact position
// and drawdown comparisons would drift under repeated addition.
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side is the direction of a trade.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Outcome is the binary leg a trade targets.
type Outcome string

const (
	OutcomeYes Outcome = "YES"
	OutcomeNo  Outcome = "NO"
)

// OpportunityType classifies how a dislocation was detected.
type OpportunityType string

const (
	OpportunityCrossPlatform OpportunityType = "CROSS_PLATFORM"
	OpportunityOracleLag     OpportunityType = "ORACLE_LAG"
	OpportunityTemporal      OpportunityType = "TEMPORAL"
	OpportunityMispricing    OpportunityType = "MISPRICING"
)

// TradeStatus is the canonical lifecycle status of a Trade.
type TradeStatus string

const (
	TradeStatusPending   TradeStatus = "PENDING"
	TradeStatusApproved  TradeStatus = "APPROVED"
	TradeStatusRejected  TradeStatus = "REJECTED"
	TradeStatusSubmitted TradeStatus = "SUBMITTED"
	TradeStatusFilled    TradeStatus = "FILLED"
	TradeStatusPartial   TradeStatus = "PARTIAL"
	TradeStatusCancelled TradeStatus = "CANCELLED"
	TradeStatusFailed    TradeStatus = "FAILED"
)

// OrderType distinguishes market vs. limit live orders.
type OrderType string

const (
	OrderTypeMarket OrderType = "MARKET"
	OrderTypeLimit  OrderType = "LIMIT"
)

// OrderStatus is the canonical status of a live Order.
type OrderStatus string

const (
	OrderStatusPending         OrderStatus = "PENDING"
	OrderStatusOpen            OrderStatus = "OPEN"
	OrderStatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderStatusFilled          OrderStatus = "FILLED"
	OrderStatusCancelled       OrderStatus = "CANCELLED"
	OrderStatusRejected        OrderStatus = "REJECTED"
	OrderStatusExpired         OrderStatus = "EXPIRED"
)

// PaperTradeStatus is the lifecycle status of a persisted paper trade.
type PaperTradeStatus string

const (
	PaperTradeOpen     PaperTradeStatus = "open"
	PaperTradeClosed   PaperTradeStatus = "closed"
	PaperTradeResolved PaperTradeStatus = "resolved"
)

// Market is a binary yes/no market snapshot, identified "venue:external_id".
//
// Invariant: 0 <= YesPrice <= 1 and 0 <= NoPrice <= 1. The sum need not
// equal 1 — that deviation is the arbitrage signal.
type Market struct {
	ID         string
	Venue      string
	ExternalID string
	Title      string
	YesPrice   decimal.Decimal
	NoPrice    decimal.Decimal
	Volume24h  decimal.Decimal
	Liquidity  decimal.Decimal
	UpdatedAt  time.Time
}

// MarketOutcome is one named leg of a MultiOutcomeMarket.
type MarketOutcome struct {
	Name  string
	Price decimal.Decimal
}

// MultiOutcomeMarket holds an ordered sequence of mutually exclusive
// outcomes. Invariant: each outcome price in [0,1]; the price sum may
// deviate from 1 (that deviation is the signal).
type MultiOutcomeMarket struct {
	ID         string
	Venue      string
	ExternalID string
	Title      string
	Outcomes   []MarketOutcome
	UpdatedAt  time.Time
}

// PriceSum returns the sum of all outcome prices.
func (m MultiOutcomeMarket) PriceSum() decimal.Decimal {
	sum := decimal.Zero
	for _, o := range m.Outcomes {
		sum = sum.Add(o.Price)
	}
	return sum
}

// ArbitrageEdge returns max(0, 1 - price_sum).
func (m MultiOutcomeMarket) ArbitrageEdge() decimal.Decimal {
	edge := decimal.NewFromInt(1).Sub(m.PriceSum())
	if edge.IsNegative() {
		return decimal.Zero
	}
	return edge
}

// OracleData is a single reference-price reading from an external oracle.
// Latest-received wins per symbol; monotone timestamps are not required.
type OracleData struct {
	Source    string
	Symbol    string
	Value     decimal.Decimal
	Timestamp time.Time
	Metadata  map[string]string
}

// OrderBookLevel is one price/size rung of an order book.
type OrderBookLevel struct {
	Price decimal.Decimal
	Size  decimal.Decimal
}

// OrderBook holds descending bids and ascending asks for one market side.
//
// Invariants: bid prices strictly descending, ask prices strictly
// ascending, best_bid <= best_ask when both exist.
type OrderBook struct {
	MarketID string
	Bids     []OrderBookLevel
	Asks     []OrderBookLevel
}

// BestBid returns the highest bid price, or the zero value and false if
// there are no bids.
func (ob OrderBook) BestBid() (decimal.Decimal, bool) {
	if len(ob.Bids) == 0 {
		return decimal.Zero, false
	}
	return ob.Bids[0].Price, true
}

// BestAsk returns the lowest ask price, or the zero value and false if
// there are no asks.
func (ob OrderBook) BestAsk() (decimal.Decimal, bool) {
	if len(ob.Asks) == 0 {
		return decimal.Zero, false
	}
	return ob.Asks[0].Price, true
}

// Opportunity is a detected pricing dislocation emitted by the scanner.
type Opportunity struct {
	ID              string
	Type            OpportunityType
	MarketIDs       []string
	OracleSource    string
	OracleValue     decimal.Decimal
	HasOracleValue  bool
	ExpectedEdge    decimal.Decimal
	SignalStrength  decimal.Decimal
	DetectedAt      time.Time
	ExpiresAt       *time.Time
	Metadata        map[string]string
}

// TradeRequest is a sized trade proposal produced by a strategy agent.
type TradeRequest struct {
	ID              string
	OpportunityID   string
	OpportunityType OpportunityType
	Strategy        string
	MarketID        string
	Side            Side
	Outcome         Outcome
	Amount          decimal.Decimal
	MaxPrice        decimal.Decimal
	ExpectedEdge    decimal.Decimal
	CreatedAt       time.Time
}

// RiskDecision is the risk gate's verdict on a TradeRequest.
type RiskDecision struct {
	RequestID     string
	Approved      bool
	Reason        string
	RuleTriggered string
	DecidedAt     time.Time
}

// Trade is the immutable record of a request's execution outcome.
type Trade struct {
	ID         string
	RequestID  string
	MarketID   string
	Venue      string
	Side       Side
	Outcome    Outcome
	Amount     decimal.Decimal
	Price      decimal.Decimal
	Fees       decimal.Decimal
	Status     TradeStatus
	ExternalID string
	ExecutedAt time.Time
	FilledAt   *time.Time
}

// Order is a live-only venue order record.
type Order struct {
	ID            string
	ExternalID    string
	Venue         string
	TokenID       string
	Side          Side
	OrderType     OrderType
	Amount        decimal.Decimal
	Price         decimal.Decimal
	HasPrice      bool
	FilledAmount  decimal.Decimal
	AveragePrice  decimal.Decimal
	HasAvgPrice   bool
	Status        OrderStatus
	ErrorMessage  string
}

// PaperTrade is the persisted union of request + decision + fill.
//
// The (OpportunityID, MarketID, Side) triple is unique: duplicate inserts
// are a race-protection no-op, not an error.
type PaperTrade struct {
	ID                   string
	CreatedAt            time.Time
	OpportunityID        string
	OpportunityType      OpportunityType
	MarketID             string
	Venue                string
	Side                 Side
	Outcome              Outcome
	Quantity             decimal.Decimal
	Price                decimal.Decimal
	Fees                 decimal.Decimal
	ExpectedEdge         decimal.Decimal
	StrategyID           string
	RiskApproved         bool
	RiskRejectionReason  string
	Status               PaperTradeStatus
	ExitPrice            decimal.Decimal
	HasExitPrice         bool
	RealizedPnL          decimal.Decimal
	HasRealizedPnL       bool
	ResolvedAt           *time.Time
}

// DailySummary aggregates trade activity over a trailing window, per
// get_daily_summary.
type DailySummary struct {
	Total           int
	Open            int
	Closed          int
	RealizedPnL     decimal.Decimal
	Wins            int
	Losses          int
	WinRate         decimal.Decimal
	Rejections      int
	ByType          map[OpportunityType]int
	RiskRejections  map[string]int
}
