// Package risk implements the risk gate: an ordered rule evaluator that
// turns each incoming TradeRequest into an approve/reject RiskDecision,
// tracking position and platform exposure, a high-water-mark drawdown
// ratchet, and a daily P&L window.
package risk

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/aristath/oracle-arb/internal/bus"
	"github.com/aristath/oracle-arb/internal/domain"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Rule names published as RiskDecision.RuleTriggered.
const (
	RuleSystemHalt      = "system_halt"
	RuleDrawdownHalt     = "drawdown_halt"
	RuleDailyLossLimit   = "daily_loss_limit"
	RulePositionLimit    = "position_limit"
	RulePlatformLimit    = "platform_limit"
	RuleMinimumProfit    = "minimum_profit"
	RuleSlippageGuard    = "slippage_guard"
)

// OrderBookProvider resolves a live order book for a market/outcome. The
// slippage guard is skipped for venues with no registered provider — it
// only applies "when an order book is available".
type OrderBookProvider interface {
	GetOrderBook(ctx context.Context, marketID string, outcome domain.Outcome) (*domain.OrderBook, error)
}

// Config holds the fixed thresholds the gate is constructed with. These
// mirror the bankroll and limit knobs in the top-level configuration.
type Config struct {
	InitialBankroll    decimal.Decimal
	PositionLimitPct   decimal.Decimal
	PlatformLimitPct   decimal.Decimal
	DailyLossLimitPct  decimal.Decimal
	DrawdownLimitPct   decimal.Decimal
	MinProfitThreshold decimal.Decimal
}

// Gate is the risk agent. It owns the only copies of position and
// platform exposure, and the high-water-mark / daily P&L state.
type Gate struct {
	bus *bus.Bus
	log zerolog.Logger
	cfg Config
	now func() time.Time

	books map[string]OrderBookProvider // keyed by venue prefix

	mu               sync.Mutex
	halted           bool
	highWaterMark    decimal.Decimal
	currentValue     decimal.Decimal
	dailyPnL         decimal.Decimal
	lastResetDate    string
	positions        map[string]decimal.Decimal
	platformExposure map[string]decimal.Decimal
}

// New builds a Gate starting at the configured initial bankroll, with an
// untouched high-water-mark and no open positions.
func New(b *bus.Bus, cfg Config, log zerolog.Logger) *Gate {
	return &Gate{
		bus:              b,
		log:              log.With().Str("component", "risk").Logger(),
		cfg:              cfg,
		now:              func() time.Time { return time.Now().UTC() },
		books:            make(map[string]OrderBookProvider),
		highWaterMark:    cfg.InitialBankroll,
		currentValue:     cfg.InitialBankroll,
		lastResetDate:    time.Now().UTC().Format("2006-01-02"),
		positions:        make(map[string]decimal.Decimal),
		platformExposure: make(map[string]decimal.Decimal),
	}
}

// RegisterOrderBookProvider wires a venue's adapter in for the slippage
// guard. Venues left unregistered simply skip rule 8.
func (g *Gate) RegisterOrderBookProvider(venue string, p OrderBookProvider) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.books[venue] = p
}

func (g *Gate) Name() string { return "risk-gate" }

func (g *Gate) Subscriptions() []string {
	return []string{"trade.requests", "trade.results"}
}

func (g *Gate) Handle(ctx context.Context, channel string, record bus.Record) error {
	switch channel {
	case "trade.requests":
		return g.handleRequest(ctx, record)
	case "trade.results":
		return g.handleResult(record)
	default:
		return nil
	}
}

func (g *Gate) handleRequest(ctx context.Context, record bus.Record) error {
	req := decodeTradeRequest(record)
	decision := g.Evaluate(ctx, req)

	out := bus.Record{
		"request_id":     decision.RequestID,
		"approved":       fmt.Sprint(decision.Approved),
		"reason":         decision.Reason,
		"rule_triggered": decision.RuleTriggered,
		"decided_at":     decision.DecidedAt.Format(time.RFC3339),
	}
	if _, err := g.bus.Publish("trade.decisions", out); err != nil {
		return fmt.Errorf("publish risk decision: %w", err)
	}
	if decision.Approved {
		if _, err := g.bus.Publish("trade.approved", record); err != nil {
			return fmt.Errorf("publish trade.approved: %w", err)
		}
	}
	return nil
}

// handleResult feeds realized pnl from filled trades back into the
// high-water-mark ratchet. Rejections and non-fills carry no pnl.
func (g *Gate) handleResult(record bus.Record) error {
	if record["status"] != string(domain.TradeStatusFilled) {
		return nil
	}
	pnl, ok := record["pnl"]
	if !ok || pnl == "" {
		return nil
	}
	g.RecordPnL(safeDecimal(pnl))
	return nil
}

// Evaluate runs the eight ordered rules against req and returns the
// resulting decision. Approval updates position and platform exposure;
// rejection leaves all state except the daily-reset side effect and the
// drawdown halt latch untouched.
func (g *Gate) Evaluate(ctx context.Context, req domain.TradeRequest) domain.RiskDecision {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	reject := func(rule, reason string) domain.RiskDecision {
		return domain.RiskDecision{RequestID: req.ID, Approved: false, Reason: reason, RuleTriggered: rule, DecidedAt: now}
	}

	// Rule 1: system halt.
	if g.halted {
		return reject(RuleSystemHalt, "risk gate is halted")
	}

	// Rule 2: daily reset (side effect only, never rejects).
	today := now.Format("2006-01-02")
	if g.lastResetDate != today {
		g.dailyPnL = decimal.Zero
		g.lastResetDate = today
	}

	// Rule 3: drawdown halt.
	floor := g.highWaterMark.Mul(decimal.NewFromInt(1).Sub(g.cfg.DrawdownLimitPct))
	if g.currentValue.LessThan(floor) {
		g.halted = true
		return reject(RuleDrawdownHalt, fmt.Sprintf("current value %s below floor %s", g.currentValue, floor))
	}

	// Rule 4: daily loss limit.
	dailyFloor := g.cfg.InitialBankroll.Mul(g.cfg.DailyLossLimitPct).Neg()
	if g.dailyPnL.LessThan(dailyFloor) {
		return reject(RuleDailyLossLimit, fmt.Sprintf("daily pnl %s below limit %s", g.dailyPnL, dailyFloor))
	}

	// Rule 5: position limit.
	newPosition := g.positions[req.MarketID].Add(req.Amount)
	positionCeiling := g.cfg.InitialBankroll.Mul(g.cfg.PositionLimitPct)
	if newPosition.GreaterThan(positionCeiling) {
		return reject(RulePositionLimit, fmt.Sprintf("position %s would exceed %s", newPosition, positionCeiling))
	}

	// Rule 6: platform limit.
	venue := extractVenue(req.MarketID)
	newExposure := g.platformExposure[venue].Add(req.Amount)
	platformCeiling := g.cfg.InitialBankroll.Mul(g.cfg.PlatformLimitPct)
	if newExposure.GreaterThan(platformCeiling) {
		return reject(RulePlatformLimit, fmt.Sprintf("platform exposure %s would exceed %s", newExposure, platformCeiling))
	}

	// Rule 7: minimum profit threshold.
	expectedProfit := req.Amount.Mul(req.ExpectedEdge.Abs())
	if expectedProfit.LessThan(g.cfg.MinProfitThreshold) {
		return reject(RuleMinimumProfit, fmt.Sprintf("expected profit %s below threshold %s", expectedProfit, g.cfg.MinProfitThreshold))
	}

	// Rule 8: slippage guard, only when a book is available for the venue.
	if provider, ok := g.books[venue]; ok {
		book, err := provider.GetOrderBook(ctx, req.MarketID, req.Outcome)
		if err != nil {
			g.log.Warn().Err(err).Str("market_id", req.MarketID).Msg("order book lookup failed, skipping slippage guard")
		} else if book != nil {
			levels := book.Asks
			if req.Side == domain.SideSell {
				levels = book.Bids
			}
			vw, filled := vwap(levels, req.Amount)
			if !filled {
				return reject(RuleSlippageGuard, "insufficient liquidity")
			}
			slippage := vw.Sub(req.MaxPrice)
			if slippage.IsPositive() {
				tolerance := req.ExpectedEdge.Abs().Mul(decimal.NewFromFloat(0.5))
				if slippage.GreaterThan(tolerance) {
					return reject(RuleSlippageGuard, fmt.Sprintf("vwap slippage %s exceeds tolerance %s", slippage, tolerance))
				}
			}
		}
	}

	g.positions[req.MarketID] = newPosition
	g.platformExposure[venue] = newExposure

	return domain.RiskDecision{RequestID: req.ID, Approved: true, Reason: "", RuleTriggered: "", DecidedAt: now}
}

// RecordPnL folds a realized delta into current value and the daily
// window, ratcheting the high-water-mark upward. HWM never decreases.
func (g *Gate) RecordPnL(delta decimal.Decimal) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.currentValue = g.currentValue.Add(delta)
	g.dailyPnL = g.dailyPnL.Add(delta)
	if g.currentValue.GreaterThan(g.highWaterMark) {
		g.highWaterMark = g.currentValue
	}
}

// Snapshot returns the dashboard-facing risk state.
type Snapshot struct {
	CurrentValue     decimal.Decimal
	HighWaterMark    decimal.Decimal
	DailyPnL         decimal.Decimal
	InitialBankroll  decimal.Decimal
	Positions        map[string]decimal.Decimal
	PlatformExposure map[string]decimal.Decimal
	Halted           bool
}

func (g *Gate) GetStateSnapshot() Snapshot {
	g.mu.Lock()
	defer g.mu.Unlock()
	positions := make(map[string]decimal.Decimal, len(g.positions))
	for k, v := range g.positions {
		positions[k] = v
	}
	exposure := make(map[string]decimal.Decimal, len(g.platformExposure))
	for k, v := range g.platformExposure {
		exposure[k] = v
	}
	return Snapshot{
		CurrentValue:     g.currentValue,
		HighWaterMark:    g.highWaterMark,
		DailyPnL:         g.dailyPnL,
		InitialBankroll:  g.cfg.InitialBankroll,
		Positions:        positions,
		PlatformExposure: exposure,
		Halted:           g.halted,
	}
}

// vwap walks levels in order, consuming size, and returns the volume
// weighted average price. ok is false if the book does not hold enough
// liquidity to fill size in full.
func vwap(levels []domain.OrderBookLevel, size decimal.Decimal) (decimal.Decimal, bool) {
	remaining := size
	notional := decimal.Zero
	for _, lvl := range levels {
		if !remaining.IsPositive() {
			break
		}
		take := lvl.Size
		if take.GreaterThan(remaining) {
			take = remaining
		}
		notional = notional.Add(take.Mul(lvl.Price))
		remaining = remaining.Sub(take)
	}
	if remaining.IsPositive() {
		return decimal.Zero, false
	}
	return notional.Div(size), true
}

func extractVenue(marketID string) string {
	if i := strings.Index(marketID, ":"); i >= 0 {
		return marketID[:i]
	}
	return marketID
}

func decodeTradeRequest(r bus.Record) domain.TradeRequest {
	return domain.TradeRequest{
		ID:              r["id"],
		OpportunityID:   r["opportunity_id"],
		OpportunityType: domain.OpportunityType(r["opportunity_type"]),
		Strategy:        r["strategy"],
		MarketID:        r["market_id"],
		Side:            domain.Side(r["side"]),
		Outcome:         domain.Outcome(r["outcome"]),
		Amount:          safeDecimal(r["amount"]),
		MaxPrice:        safeDecimal(r["max_price"]),
		ExpectedEdge:    safeDecimal(r["expected_edge"]),
	}
}

func safeDecimal(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
