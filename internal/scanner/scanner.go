// Package scanner implements the opportunity detection engine: a
// price/oracle correlation state machine that maintains per-market caches,
// computes fair values from threshold-indexed oracles, and emits classified
// opportunities with edge and signal-strength metrics.
package scanner

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aristath/oracle-arb/internal/bus"
	"github.com/aristath/oracle-arb/internal/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// defaultFees is the per-venue flat taker-fee rate used by the net-edge
// filter. Extensible per venue; unrecognized venues pay zero (conservative
// for detection, real fills would reject earlier at the risk gate anyway).
var defaultFees = map[string]decimal.Decimal{
	"polymarket": decimal.NewFromFloat(0.02),
	"kalshi":     decimal.NewFromFloat(0.01),
}

// threshold is the oracle-lag mapping registered by the market matcher.
type threshold struct {
	oracleSymbol string
	value        decimal.Decimal
	direction    string // "above" or "below"
}

// Scanner maintains the indices described by §4.5 and emits Opportunity
// records onto opportunities.detected.
type Scanner struct {
	mu sync.Mutex

	markets      map[string]domain.Market
	multi        map[string]domain.MultiOutcomeMarket
	oracleValues map[string]domain.OracleData // symbol -> latest reading
	marketOracle map[string]string             // market_id -> symbol
	thresholds   map[string]threshold           // market_id -> threshold
	eventMarkets map[string][]string            // event_id -> market_ids
	marketEvent  map[string]string               // market_id -> event_id

	minEdgePct        decimal.Decimal
	minSignalStrength decimal.Decimal
	fees              map[string]decimal.Decimal

	bus           *bus.Bus
	subscriptions []string
	log           zerolog.Logger
}

// Config controls scanner thresholds and wiring.
type Config struct {
	MinEdgePct        decimal.Decimal
	MinSignalStrength decimal.Decimal
	Subscriptions     []string
	Fees              map[string]decimal.Decimal
}

// New builds a Scanner.
func New(b *bus.Bus, cfg Config, log zerolog.Logger) *Scanner {
	fees := cfg.Fees
	if fees == nil {
		fees = defaultFees
	}
	return &Scanner{
		markets:           make(map[string]domain.Market),
		multi:             make(map[string]domain.MultiOutcomeMarket),
		oracleValues:      make(map[string]domain.OracleData),
		marketOracle:      make(map[string]string),
		thresholds:        make(map[string]threshold),
		eventMarkets:      make(map[string][]string),
		marketEvent:       make(map[string]string),
		minEdgePct:        cfg.MinEdgePct,
		minSignalStrength: cfg.MinSignalStrength,
		fees:              fees,
		bus:               b,
		subscriptions:     cfg.Subscriptions,
		log:               log.With().Str("component", "scanner").Logger(),
	}
}

func (s *Scanner) Name() string            { return "scanner" }
func (s *Scanner) Subscriptions() []string { return s.subscriptions }

// RegisterMarketOracleMapping implements matcher.ScannerRegistrar.
func (s *Scanner) RegisterMarketOracleMapping(marketID, oracleSymbol string, value decimal.Decimal, direction string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.marketOracle[marketID] = oracleSymbol
	s.thresholds[marketID] = threshold{oracleSymbol: oracleSymbol, value: value, direction: direction}
}

// RegisterMatchedEvent declares that marketIDs all quote the same
// underlying event across venues, enabling the cross-platform check.
func (s *Scanner) RegisterMatchedEvent(eventID string, marketIDs []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.eventMarkets[eventID] = marketIDs
	for _, id := range marketIDs {
		s.marketEvent[id] = eventID
	}
}

// Handle dispatches a bus record to the right update path based on channel
// name: venue.*.prices, venue.*.multi, or oracle.*.*.
func (s *Scanner) Handle(ctx context.Context, channel string, record bus.Record) error {
	switch {
	case strings.HasPrefix(channel, "venue.") && strings.HasSuffix(channel, ".prices"):
		market, ok := decodeMarket(record)
		if !ok {
			return nil
		}
		return s.OnVenuePriceUpdate(market)
	case strings.HasPrefix(channel, "venue.") && strings.HasSuffix(channel, ".multi"):
		m, ok := decodeMultiOutcome(record)
		if !ok {
			return nil
		}
		return s.OnMultiOutcomeUpdate(m)
	case strings.HasPrefix(channel, "oracle."):
		o, ok := decodeOracle(record)
		if !ok {
			return nil
		}
		return s.OnOracleUpdate(o)
	default:
		return nil
	}
}

// OnVenuePriceUpdate runs the single-condition mispricing, oracle-lag, and
// cross-platform checks for one binary market.
func (s *Scanner) OnVenuePriceUpdate(m domain.Market) error {
	s.mu.Lock()
	s.markets[m.ID] = m
	s.mu.Unlock()

	if err := s.checkSingleConditionMispricing(m); err != nil {
		return err
	}
	if err := s.checkOracleLag(m.ID); err != nil {
		return err
	}
	if err := s.checkCrossPlatform(m.ID); err != nil {
		return err
	}
	return nil
}

// OnMultiOutcomeUpdate emits a multi_outcome MISPRICING when the outcome
// prices sum below 1.
func (s *Scanner) OnMultiOutcomeUpdate(m domain.MultiOutcomeMarket) error {
	s.mu.Lock()
	s.multi[m.ID] = m
	s.mu.Unlock()

	edge := m.ArbitrageEdge()
	if edge.IsZero() {
		return nil
	}
	if edge.LessThan(s.minEdgePct) {
		return nil
	}
	signal := signalFromEdge(edge)
	if signal.LessThan(s.minSignalStrength) {
		return nil
	}

	names := make([]string, len(m.Outcomes))
	prices := make([]string, len(m.Outcomes))
	for i, o := range m.Outcomes {
		names[i] = o.Name
		prices[i] = o.Price.String()
	}

	return s.publish(domain.Opportunity{
		Type:           domain.OpportunityMispricing,
		MarketIDs:      []string{m.ID},
		ExpectedEdge:   edge,
		SignalStrength: signal,
		Metadata: map[string]string{
			"arb_type":      "multi_outcome",
			"outcome_count": strconv.Itoa(len(m.Outcomes)),
			"outcomes":      strings.Join(names, ","),
			"prices":        strings.Join(prices, ","),
		},
	}, extractVenue(m.ID))
}

// OnOracleUpdate refreshes the cached reading and re-runs the oracle-lag
// check for every market mapped to symbol.
func (s *Scanner) OnOracleUpdate(o domain.OracleData) error {
	s.mu.Lock()
	s.oracleValues[o.Symbol] = o
	var affected []string
	for marketID, th := range s.thresholds {
		if th.oracleSymbol == o.Symbol {
			if _, cached := s.markets[marketID]; cached {
				affected = append(affected, marketID)
			}
		}
	}
	s.mu.Unlock()

	for _, marketID := range affected {
		if err := s.checkOracleLag(marketID); err != nil {
			return err
		}
	}
	return nil
}

func (s *Scanner) checkSingleConditionMispricing(m domain.Market) error {
	edge := decimal.NewFromInt(1).Sub(m.YesPrice.Add(m.NoPrice))
	if !edge.IsPositive() {
		return nil
	}
	if edge.LessThan(s.minEdgePct) {
		return nil
	}
	signal := signalFromEdge(edge)
	if signal.LessThan(s.minSignalStrength) {
		return nil
	}

	return s.publish(domain.Opportunity{
		Type:           domain.OpportunityMispricing,
		MarketIDs:      []string{m.ID},
		ExpectedEdge:   edge,
		SignalStrength: signal,
		Metadata: map[string]string{
			"arb_type": "single_condition",
			"yes":      m.YesPrice.String(),
			"no":       m.NoPrice.String(),
			"sum":      m.YesPrice.Add(m.NoPrice).String(),
		},
	}, m.Venue)
}

func (s *Scanner) checkOracleLag(marketID string) error {
	s.mu.Lock()
	th, hasThreshold := s.thresholds[marketID]
	market, hasMarket := s.markets[marketID]
	var oracle domain.OracleData
	var hasOracle bool
	if hasThreshold {
		oracle, hasOracle = s.oracleValues[th.oracleSymbol]
	}
	s.mu.Unlock()

	if !hasThreshold || !hasMarket || !hasOracle {
		return nil
	}

	fairYes, signal := FairValue(oracle.Value, th.value, th.direction)
	edge := fairYes.Sub(market.YesPrice)
	absEdge := edge.Abs()
	if absEdge.LessThan(s.minEdgePct) {
		return nil
	}
	if signal.LessThan(s.minSignalStrength) {
		return nil
	}

	return s.publish(domain.Opportunity{
		Type:           domain.OpportunityOracleLag,
		MarketIDs:      []string{marketID},
		OracleSource:   oracle.Source,
		OracleValue:    oracle.Value,
		HasOracleValue: true,
		ExpectedEdge:   edge,
		SignalStrength: signal,
		Metadata: map[string]string{
			"oracle_symbol": th.oracleSymbol,
			"threshold":     th.value.String(),
			"direction":     th.direction,
			"fair_yes":      fairYes.String(),
			"current_yes":   market.YesPrice.String(),
		},
	}, market.Venue)
}

func (s *Scanner) checkCrossPlatform(marketID string) error {
	s.mu.Lock()
	eventID, hasEvent := s.marketEvent[marketID]
	var eventMarketIDs []string
	if hasEvent {
		eventMarketIDs = s.eventMarkets[eventID]
	}
	var cached []domain.Market
	for _, id := range eventMarketIDs {
		if m, ok := s.markets[id]; ok {
			cached = append(cached, m)
		}
	}
	s.mu.Unlock()

	if !hasEvent || len(cached) < 2 {
		return nil
	}

	minMkt, maxMkt := cached[0], cached[0]
	for _, m := range cached[1:] {
		if m.YesPrice.LessThan(minMkt.YesPrice) {
			minMkt = m
		}
		if m.YesPrice.GreaterThan(maxMkt.YesPrice) {
			maxMkt = m
		}
	}

	edge := maxMkt.YesPrice.Sub(minMkt.YesPrice)
	if edge.LessThan(s.minEdgePct) {
		return nil
	}
	signal := signalFromEdge(edge)
	if signal.LessThan(s.minSignalStrength) {
		return nil
	}

	ids := make([]string, len(cached))
	for i, m := range cached {
		ids[i] = m.ID
	}

	return s.publish(domain.Opportunity{
		Type:           domain.OpportunityCrossPlatform,
		MarketIDs:      ids,
		ExpectedEdge:   edge,
		SignalStrength: signal,
		Metadata: map[string]string{
			"event_id":        eventID,
			"buy_yes_venue":   minMkt.Venue,
			"buy_no_venue":    maxMkt.Venue,
			"min_yes_price":   minMkt.YesPrice.String(),
			"max_yes_price":   maxMkt.YesPrice.String(),
		},
	}, minMkt.Venue)
}

// FairValue implements the oracle-lag fair-value formula: close to
// threshold is treated as uncertain, far from threshold as near-certain.
func FairValue(oracleValue, thresholdValue decimal.Decimal, direction string) (fairYes, signal decimal.Decimal) {
	if thresholdValue.IsZero() {
		return decimal.NewFromFloat(0.5), decimal.Zero
	}

	d := oracleValue.Sub(thresholdValue).Div(thresholdValue).Abs()
	conditionMet := (direction == "above" && oracleValue.GreaterThan(thresholdValue)) ||
		(direction == "below" && oracleValue.LessThan(thresholdValue))

	farThreshold := decimal.NewFromFloat(0.05)
	ten := decimal.NewFromInt(10)
	half := decimal.NewFromFloat(0.5)

	switch {
	case conditionMet && d.GreaterThan(farThreshold):
		fairYes = decimal.NewFromFloat(0.95)
	case conditionMet && d.LessThanOrEqual(farThreshold):
		fairYes = half.Add(d.Mul(ten))
	case !conditionMet && d.GreaterThan(farThreshold):
		fairYes = decimal.NewFromFloat(0.05)
	default:
		fairYes = half.Sub(d.Mul(ten))
	}

	signal = signalFromDistance(d)
	return fairYes, signal
}

func signalFromDistance(d decimal.Decimal) decimal.Decimal {
	signal := d.Mul(decimal.NewFromInt(10))
	if signal.GreaterThan(decimal.NewFromInt(1)) {
		return decimal.NewFromInt(1)
	}
	return signal
}

func signalFromEdge(edge decimal.Decimal) decimal.Decimal {
	signal := edge.Abs().Mul(decimal.NewFromInt(5))
	if signal.GreaterThan(decimal.NewFromInt(1)) {
		return decimal.NewFromInt(1)
	}
	return signal
}

// publish applies the net-edge fee filter and emits the opportunity.
func (s *Scanner) publish(opp domain.Opportunity, venue string) error {
	fee := s.fees[venue]
	netEdge := opp.ExpectedEdge.Sub(fee)
	if netEdge.Abs().LessThan(s.minEdgePct) {
		return nil
	}
	opp.ExpectedEdge = netEdge

	opp.ID = uuid.NewString()
	opp.DetectedAt = time.Now().UTC()
	if opp.Metadata == nil {
		opp.Metadata = map[string]string{}
	}

	record := bus.Record{
		"id":              opp.ID,
		"type":            string(opp.Type),
		"market_ids":      strings.Join(opp.MarketIDs, ","),
		"expected_edge":   opp.ExpectedEdge.String(),
		"signal_strength": opp.SignalStrength.String(),
		"detected_at":     opp.DetectedAt.Format(time.RFC3339),
	}
	if opp.HasOracleValue {
		record["oracle_source"] = opp.OracleSource
		record["oracle_value"] = opp.OracleValue.String()
	}
	for k, v := range opp.Metadata {
		record["meta_"+k] = v
	}

	if _, err := s.bus.Publish("opportunities.detected", record); err != nil {
		return fmt.Errorf("publish opportunity: %w", err)
	}
	return nil
}

func extractVenue(marketID string) string {
	if idx := strings.Index(marketID, ":"); idx > 0 {
		return marketID[:idx]
	}
	return marketID
}

func decodeMarket(r bus.Record) (domain.Market, bool) {
	id := r["market_id"]
	if id == "" {
		return domain.Market{}, false
	}
	updatedAt, _ := time.Parse(time.RFC3339, r["updated_at"])
	return domain.Market{
		ID:        id,
		Venue:     extractVenue(id),
		Title:     r["title"],
		YesPrice:  safeDecimal(r["yes_price"]),
		NoPrice:   safeDecimal(r["no_price"]),
		Volume24h: safeDecimal(r["volume_24h"]),
		Liquidity: safeDecimal(r["liquidity"]),
		UpdatedAt: updatedAt,
	}, true
}

func decodeMultiOutcome(r bus.Record) (domain.MultiOutcomeMarket, bool) {
	id := r["market_id"]
	if id == "" {
		return domain.MultiOutcomeMarket{}, false
	}
	names := strings.Split(r["outcomes"], ",")
	prices := strings.Split(r["prices"], ",")
	outcomes := make([]domain.MarketOutcome, 0, len(names))
	for i, name := range names {
		if name == "" {
			continue
		}
		var price decimal.Decimal
		if i < len(prices) {
			price = safeDecimal(prices[i])
		}
		outcomes = append(outcomes, domain.MarketOutcome{Name: name, Price: price})
	}
	return domain.MultiOutcomeMarket{
		ID:       id,
		Venue:    extractVenue(id),
		Title:    r["title"],
		Outcomes: outcomes,
	}, true
}

func decodeOracle(r bus.Record) (domain.OracleData, bool) {
	symbol := r["symbol"]
	if symbol == "" {
		return domain.OracleData{}, false
	}
	ts, _ := time.Parse(time.RFC3339, r["timestamp"])
	return domain.OracleData{
		Source:    r["source"],
		Symbol:    symbol,
		Value:     safeDecimal(r["value"]),
		Timestamp: ts,
	}, true
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
