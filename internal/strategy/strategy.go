// Package strategy implements strategy agents: components that convert
// scanner opportunities into sized trade requests, each owning its own
// allocation_pct and total_capital as pushed by the capital allocator.
package strategy

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/aristath/oracle-arb/internal/bus"
	"github.com/aristath/oracle-arb/internal/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// TradeParams is what a Strategy decides to do about a qualifying
// opportunity: everything the agent needs to size and emit a TradeRequest.
type TradeParams struct {
	Side     domain.Side
	Outcome  domain.Outcome
	MaxPrice decimal.Decimal
	Amount   decimal.Decimal
}

// Strategy is the pluggable decision contract. Evaluate returns (nil,
// false) to silently drop an opportunity — that is not an error.
// availableCapital is total_capital * allocation_pct, supplied by Agent so
// strategies that scale position by their own confidence measure (e.g. the
// Oracle Sniper's signal strength) can size directly against it.
type Strategy interface {
	Name() string
	Evaluate(opp domain.Opportunity, availableCapital decimal.Decimal) (*TradeParams, bool)
}

// Agent wraps a Strategy with the shared subscription, allocation-tracking,
// and sizing logic common to every strategy.
type Agent struct {
	strategy Strategy
	bus      *bus.Bus
	log      zerolog.Logger

	minEdgePct        decimal.Decimal
	minSignalStrength decimal.Decimal
	maxPositionPct    decimal.Decimal

	mu             sync.Mutex
	allocationPct  decimal.Decimal
	totalCapital   decimal.Decimal
}

// Config controls auto-filtering thresholds and position sizing shared by
// every strategy agent.
type Config struct {
	MinEdgePct        decimal.Decimal
	MinSignalStrength decimal.Decimal
	MaxPositionPct    decimal.Decimal
}

// NewAgent builds a strategy agent around strategy, starting with zero
// allocation until the allocator publishes its first allocations.update.
func NewAgent(strategy Strategy, b *bus.Bus, cfg Config, log zerolog.Logger) *Agent {
	return &Agent{
		strategy:          strategy,
		bus:               b,
		log:               log.With().Str("component", "strategy").Str("strategy", strategy.Name()).Logger(),
		minEdgePct:        cfg.MinEdgePct,
		minSignalStrength: cfg.MinSignalStrength,
		maxPositionPct:    cfg.MaxPositionPct,
		allocationPct:     decimal.Zero,
		totalCapital:      decimal.Zero,
	}
}

func (a *Agent) Name() string { return "strategy-" + a.strategy.Name() }

func (a *Agent) Subscriptions() []string {
	return []string{"opportunities.detected", "allocations.update"}
}

// Handle routes opportunities through the auto-filter and Evaluate, and
// applies allocation updates scoped to this strategy's name.
func (a *Agent) Handle(ctx context.Context, channel string, record bus.Record) error {
	switch channel {
	case "allocations.update":
		return a.handleAllocationUpdate(record)
	case "opportunities.detected":
		return a.handleOpportunity(record)
	default:
		return nil
	}
}

func (a *Agent) handleAllocationUpdate(record bus.Record) error {
	if record["strategy"] != a.strategy.Name() {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.allocationPct = safeDecimal(record["allocation_pct"])
	a.totalCapital = safeDecimal(record["total_capital"])
	return nil
}

func (a *Agent) handleOpportunity(record bus.Record) error {
	opp := decodeOpportunity(record)

	if opp.ExpectedEdge.Abs().LessThan(a.minEdgePct) {
		return nil
	}
	if opp.SignalStrength.LessThan(a.minSignalStrength) {
		return nil
	}

	a.mu.Lock()
	available := a.totalCapital.Mul(a.allocationPct)
	a.mu.Unlock()

	params, ok := a.strategy.Evaluate(opp, available)
	if !ok || params == nil {
		return nil
	}

	positionSize := params.Amount
	sizeCap := available.Mul(a.maxPositionPct)
	if positionSize.GreaterThan(sizeCap) {
		positionSize = sizeCap
	}
	if !positionSize.IsPositive() {
		return nil
	}

	marketID := ""
	if len(opp.MarketIDs) > 0 {
		marketID = opp.MarketIDs[0]
	}

	req := domain.TradeRequest{
		ID:              uuid.NewString(),
		OpportunityID:   opp.ID,
		OpportunityType: opp.Type,
		Strategy:        a.strategy.Name(),
		MarketID:        marketID,
		Side:            params.Side,
		Outcome:         params.Outcome,
		Amount:          positionSize,
		MaxPrice:        params.MaxPrice,
		ExpectedEdge:    opp.ExpectedEdge,
		CreatedAt:       time.Now().UTC(),
	}

	record2 := bus.Record{
		"id":               req.ID,
		"opportunity_id":   req.OpportunityID,
		"opportunity_type": string(req.OpportunityType),
		"strategy":         req.Strategy,
		"market_id":        req.MarketID,
		"side":             string(req.Side),
		"outcome":          string(req.Outcome),
		"amount":           req.Amount.String(),
		"max_price":        req.MaxPrice.String(),
		"expected_edge":    req.ExpectedEdge.String(),
		"created_at":       req.CreatedAt.Format(time.RFC3339),
	}
	if _, err := a.bus.Publish("trade.requests", record2); err != nil {
		return fmt.Errorf("publish trade request: %w", err)
	}
	return nil
}

func decodeOpportunity(r bus.Record) domain.Opportunity {
	opp := domain.Opportunity{
		ID:             r["id"],
		Type:           domain.OpportunityType(r["type"]),
		ExpectedEdge:   safeDecimal(r["expected_edge"]),
		SignalStrength: safeDecimal(r["signal_strength"]),
		Metadata:       make(map[string]string),
	}
	if ids := r["market_ids"]; ids != "" {
		opp.MarketIDs = strings.Split(ids, ",")
	}
	if v, ok := r["oracle_value"]; ok {
		opp.OracleValue = safeDecimal(v)
		opp.HasOracleValue = true
		opp.OracleSource = r["oracle_source"]
	}
	for k, v := range r {
		if strings.HasPrefix(k, "meta_") {
			opp.Metadata[strings.TrimPrefix(k, "meta_")] = v
		}
	}
	return opp
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
