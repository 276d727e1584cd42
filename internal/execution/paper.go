// Package execution implements the paper and live trade executors: the
// terminal stage of the pipeline that turns a risk-approved TradeRequest
// into a simulated or real fill and publishes the result.
package execution

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/aristath/oracle-arb/internal/bus"
	"github.com/aristath/oracle-arb/internal/domain"
	"github.com/aristath/oracle-arb/internal/persistence"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// paperFeeRate and paperPnLRate are the documented simplification from the
// spec: paper fills don't resolve a real position, so fees and P&L are
// estimated as flat fractions of trade notional rather than derived from an
// actual settlement.
var (
	paperFeeRate = decimal.NewFromFloat(0.001)
	paperPnLRate = decimal.NewFromFloat(0.05)
)

// PaperExecutor simulates fills for every risk-approved trade request and
// persists the outcome, filled or rejected, to the paper_trades table.
type PaperExecutor struct {
	bus     *bus.Bus
	repo    *persistence.Repository
	breaker *CircuitBreaker
	log     zerolog.Logger

	mu      sync.Mutex
	pending map[string]domain.TradeRequest

	// recovered is the in-memory list of still-open, risk-approved trades
	// loaded from paper_trades when the executor was built.
	recovered []domain.PaperTrade
}

// New builds a PaperExecutor and reconstructs its recovery state: every
// still-open, risk-approved trade from a prior run. The unique
// (opportunity_id, market_id, side) constraint on paper_trades means a
// restart never produces a duplicate row for the same decision.
func New(b *bus.Bus, repo *persistence.Repository, breaker *CircuitBreaker, log zerolog.Logger) (*PaperExecutor, error) {
	e := &PaperExecutor{
		bus:     b,
		repo:    repo,
		breaker: breaker,
		log:     log.With().Str("component", "paper_executor").Logger(),
		pending: make(map[string]domain.TradeRequest),
	}
	open, err := repo.GetOpenTrades()
	if err != nil {
		return nil, fmt.Errorf("load open trades for recovery: %w", err)
	}
	e.recovered = open
	e.log.Info().Int("open_trades", len(open)).Msg("recovered open trades")
	return e, nil
}

func (e *PaperExecutor) Name() string { return "paper-executor" }

func (e *PaperExecutor) Subscriptions() []string {
	return []string{"trade.requests", "trade.decisions"}
}

func (e *PaperExecutor) Handle(ctx context.Context, channel string, record bus.Record) error {
	switch channel {
	case "trade.requests":
		return e.cacheRequest(record)
	case "trade.decisions":
		return e.handleDecision(record)
	default:
		return nil
	}
}

func (e *PaperExecutor) cacheRequest(record bus.Record) error {
	req := decodeTradeRequest(record)
	e.mu.Lock()
	e.pending[req.ID] = req
	e.mu.Unlock()
	return nil
}

func (e *PaperExecutor) handleDecision(record bus.Record) error {
	requestID := record["request_id"]

	e.mu.Lock()
	req, found := e.pending[requestID]
	delete(e.pending, requestID)
	e.mu.Unlock()
	if !found {
		e.log.Warn().Str("request_id", requestID).Msg("decision for unknown or already-drained request")
		return nil
	}

	approved := record["approved"] == "true"
	if !approved {
		return e.reject(req, record["reason"])
	}
	if e.breaker.Tripped() {
		return e.reject(req, "circuit breaker open")
	}
	return e.fill(req)
}

func (e *PaperExecutor) fill(req domain.TradeRequest) error {
	fees := req.Amount.Mul(paperFeeRate)
	pnl := req.Amount.Mul(paperPnLRate)

	trade := domain.PaperTrade{
		ID:              req.ID,
		CreatedAt:       time.Now().UTC(),
		OpportunityID:   req.OpportunityID,
		OpportunityType: req.OpportunityType,
		MarketID:        req.MarketID,
		Venue:           extractVenue(req.MarketID),
		Side:            req.Side,
		Outcome:         req.Outcome,
		Quantity:        req.Amount,
		Price:           req.MaxPrice,
		Fees:            fees,
		ExpectedEdge:    req.ExpectedEdge,
		StrategyID:      req.Strategy,
		RiskApproved:    true,
		Status:          domain.PaperTradeOpen,
		HasRealizedPnL:  true,
		RealizedPnL:     pnl,
	}
	if err := e.repo.InsertTrade(trade); err != nil {
		if err == persistence.ErrDuplicateTrade {
			e.log.Info().Str("opportunity_id", req.OpportunityID).Str("market_id", req.MarketID).Msg("duplicate paper trade skipped")
			return nil
		}
		return fmt.Errorf("persist filled trade: %w", err)
	}

	_, err := e.bus.Publish("trade.results", bus.Record{
		"request_id":     req.ID,
		"opportunity_id": req.OpportunityID,
		"market_id":      req.MarketID,
		"strategy":       req.Strategy,
		"status":         string(domain.TradeStatusFilled),
		"pnl":            pnl.String(),
		"fees":           fees.String(),
		"paper_trade":    "true",
	})
	if err != nil {
		return fmt.Errorf("publish fill result: %w", err)
	}
	return nil
}

func (e *PaperExecutor) reject(req domain.TradeRequest, reason string) error {
	trade := domain.PaperTrade{
		ID:                  req.ID,
		CreatedAt:           time.Now().UTC(),
		OpportunityID:       req.OpportunityID,
		OpportunityType:     req.OpportunityType,
		MarketID:            req.MarketID,
		Venue:               extractVenue(req.MarketID),
		Side:                req.Side,
		Outcome:             req.Outcome,
		Quantity:            req.Amount,
		Price:               req.MaxPrice,
		ExpectedEdge:        req.ExpectedEdge,
		StrategyID:          req.Strategy,
		RiskApproved:        false,
		RiskRejectionReason: reason,
		Status:              domain.PaperTradeClosed,
	}
	if err := e.repo.InsertTrade(trade); err != nil {
		if err == persistence.ErrDuplicateTrade {
			return nil
		}
		return fmt.Errorf("persist rejected trade: %w", err)
	}

	_, err := e.bus.Publish("trade.results", bus.Record{
		"request_id":     req.ID,
		"opportunity_id": req.OpportunityID,
		"market_id":      req.MarketID,
		"strategy":       req.Strategy,
		"status":         string(domain.TradeStatusRejected),
		"reason":         reason,
		"paper_trade":    "true",
	})
	if err != nil {
		return fmt.Errorf("publish rejection result: %w", err)
	}
	return nil
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
