package execution

import (
	"context"
	"fmt"

	"github.com/aristath/oracle-arb/internal/bus"
	"github.com/aristath/oracle-arb/internal/domain"
	"github.com/aristath/oracle-arb/internal/ingest"
	"github.com/rs/zerolog"
)

// LiveExecutor subscribes to the post-risk trade.approved channel, resolves
// the venue adapter from the market_id prefix, places the order, and
// publishes the translated result. It never touches trade.decisions or
// trade.requests directly — those feed the paper path only.
type LiveExecutor struct {
	bus     *bus.Bus
	venues  map[string]ingest.VenueAdapter
	breaker *CircuitBreaker
	log     zerolog.Logger
}

// NewLiveExecutor builds a LiveExecutor over a fixed set of venue adapters,
// keyed by the prefix preceding ":" in a market id.
func NewLiveExecutor(b *bus.Bus, venues map[string]ingest.VenueAdapter, breaker *CircuitBreaker, log zerolog.Logger) *LiveExecutor {
	return &LiveExecutor{
		bus:     b,
		venues:  venues,
		breaker: breaker,
		log:     log.With().Str("component", "live_executor").Logger(),
	}
}

func (e *LiveExecutor) Name() string { return "live-executor" }

func (e *LiveExecutor) Subscriptions() []string { return []string{"trade.approved"} }

func (e *LiveExecutor) Handle(ctx context.Context, channel string, record bus.Record) error {
	if channel != "trade.approved" {
		return nil
	}
	req := decodeTradeRequest(record)

	if e.breaker.Tripped() {
		return e.publishFailure(req, "circuit breaker open")
	}

	venue := extractVenue(req.MarketID)
	adapter, ok := e.venues[venue]
	if !ok {
		return e.publishFailure(req, fmt.Sprintf("no venue adapter registered for %q", venue))
	}

	if !adapter.IsConnected() {
		if err := adapter.Connect(ctx); err != nil {
			return e.publishFailure(req, fmt.Sprintf("connect failed: %v", err))
		}
	}

	trade, err := adapter.PlaceOrder(ctx, req)
	if err != nil {
		return e.publishFailure(req, fmt.Sprintf("place_order failed: %v", err))
	}

	out := bus.Record{
		"request_id":     req.ID,
		"opportunity_id": req.OpportunityID,
		"market_id":      req.MarketID,
		"strategy":       req.Strategy,
		"status":         string(trade.Status),
		"order_id":       trade.ExternalID,
		"filled_amount":  trade.Amount.String(),
		"average_price":  trade.Price.String(),
		"paper_trade":    "false",
	}
	if _, err := e.bus.Publish("trade.results", out); err != nil {
		return fmt.Errorf("publish trade result: %w", err)
	}
	return nil
}

func (e *LiveExecutor) publishFailure(req domain.TradeRequest, reason string) error {
	e.log.Warn().Str("request_id", req.ID).Str("market_id", req.MarketID).Str("reason", reason).Msg("live execution failed")
	_, err := e.bus.Publish("trade.results", bus.Record{
		"request_id":     req.ID,
		"opportunity_id": req.OpportunityID,
		"market_id":      req.MarketID,
		"strategy":       req.Strategy,
		"status":         string(domain.TradeStatusFailed),
		"error":          reason,
		"paper_trade":    "false",
	})
	if err != nil {
		return fmt.Errorf("publish failure result: %w", err)
	}
	return nil
}
