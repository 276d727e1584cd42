// Package matcher converts free-text prediction-market titles into oracle
// mappings the scanner can reason about: an asset symbol, a numeric
// threshold, and a direction. It is regex-first; an LLM fallback for
// crypto-market titles the regex cannot parse is a pluggable interface,
// never implemented here.
package matcher

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/aristath/oracle-arb/internal/domain"
	"github.com/shopspring/decimal"
)

// defaultAliases maps case-insensitive substrings to a canonical asset
// symbol. Extend by constructing a Matcher with WithAliases.
var defaultAliases = map[string]string{
	"btc":     "BTC",
	"bitcoin": "BTC",
	"eth":     "ETH",
	"ethereum": "ETH",
	"sol":     "SOL",
	"solana":  "SOL",
}

var directionAbove = map[string]bool{"above": true, "over": true, "reach": true}
var directionBelow = map[string]bool{"below": true, "under": true}

var thresholdRe = regexp.MustCompile(`(?i)(above|over|reach|below|under)[^$]{0,40}\$([0-9,]+)`)

// ParsedMarket is one successfully mapped market.
type ParsedMarket struct {
	MarketID     string
	OracleSymbol string
	Threshold    decimal.Decimal
	Direction    string
	ParseMethod  string // "regex" or "llm"
}

// MatchResult aggregates one Match() call's outcome.
type MatchResult struct {
	Total   int
	Matched int
	Skipped int
	Failed  int
	Parsed  []ParsedMarket
}

// ScannerRegistrar receives the side-effects of a successful parse: the
// oracle mapping for a single market, and the grouping of markets across
// venues that quote the same event.
type ScannerRegistrar interface {
	RegisterMarketOracleMapping(marketID, oracleSymbol string, threshold decimal.Decimal, direction string)
	RegisterMatchedEvent(eventID string, marketIDs []string)
}

// EventKey returns the normalized key markets quoting the same event share:
// same asset, same direction, same threshold. Two parses across different
// venues with an equal key are the cross-platform arbitrage's two legs.
func (p ParsedMarket) EventKey() string {
	return p.OracleSymbol + ":" + p.Direction + ":" + p.Threshold.String()
}

// LLMMatcher is the pluggable fallback for crypto-market titles the regex
// pass could not parse. Implementations are out of scope here; Matcher only
// depends on this interface.
type LLMMatcher interface {
	// MatchBatch returns one *ParsedMarket per input title, in order; nil
	// entries mean no mapping was found for that title.
	MatchBatch(ctx context.Context, titles []string) ([]*ParsedMarket, error)
}

// Matcher runs the regex-first, LLM-fallback market-title parsing pass.
type Matcher struct {
	aliases map[string]string
	llm     LLMMatcher
}

// Option configures a Matcher.
type Option func(*Matcher)

// WithAliases overrides the default asset alias table.
func WithAliases(aliases map[string]string) Option {
	return func(m *Matcher) { m.aliases = aliases }
}

// WithLLMFallback installs an LLM fallback for regex-failed crypto markets.
func WithLLMFallback(llm LLMMatcher) Option {
	return func(m *Matcher) { m.llm = llm }
}

// New builds a Matcher with the default asset alias table.
func New(opts ...Option) *Matcher {
	m := &Matcher{aliases: defaultAliases}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Match runs the full algorithm over markets, registering each successful
// parse on registrar and returning the aggregate counts.
func (m *Matcher) Match(ctx context.Context, markets []domain.Market, registrar ScannerRegistrar) (MatchResult, error) {
	result := MatchResult{Total: len(markets)}

	var llmCandidates []domain.Market
	for _, mkt := range markets {
		symbol, ok := m.detectAsset(mkt.Title)
		if !ok {
			result.Skipped++
			continue
		}

		if parsed, ok := m.parseRegex(mkt.ID, symbol, mkt.Title); ok {
			result.Matched++
			result.Parsed = append(result.Parsed, parsed)
			registrar.RegisterMarketOracleMapping(parsed.MarketID, parsed.OracleSymbol, parsed.Threshold, parsed.Direction)
			continue
		}
		llmCandidates = append(llmCandidates, mkt)
	}

	if len(llmCandidates) == 0 || m.llm == nil {
		result.Failed += len(llmCandidates)
		return result, nil
	}

	titles := make([]string, len(llmCandidates))
	for i, mkt := range llmCandidates {
		titles[i] = mkt.Title
	}

	parsedBatch, err := m.llm.MatchBatch(ctx, titles)
	if err != nil {
		// LLM failure never crashes the pass: every candidate is just failed.
		result.Failed += len(llmCandidates)
		return result, fmt.Errorf("llm fallback failed: %w", err)
	}

	for i, mkt := range llmCandidates {
		if i >= len(parsedBatch) || parsedBatch[i] == nil {
			result.Failed++
			continue
		}
		parsed := *parsedBatch[i]
		parsed.MarketID = mkt.ID
		parsed.ParseMethod = "llm"
		result.Matched++
		result.Parsed = append(result.Parsed, parsed)
		registrar.RegisterMarketOracleMapping(parsed.MarketID, parsed.OracleSymbol, parsed.Threshold, parsed.Direction)
	}

	return result, nil
}

func (m *Matcher) detectAsset(title string) (string, bool) {
	lower := strings.ToLower(title)
	for alias, symbol := range m.aliases {
		if strings.Contains(lower, alias) {
			return symbol, true
		}
	}
	return "", false
}

func (m *Matcher) parseRegex(marketID, symbol, title string) (ParsedMarket, bool) {
	match := thresholdRe.FindStringSubmatch(title)
	if match == nil {
		return ParsedMarket{}, false
	}

	directionWord := strings.ToLower(match[1])
	var direction string
	switch {
	case directionAbove[directionWord]:
		direction = "above"
	case directionBelow[directionWord]:
		direction = "below"
	default:
		return ParsedMarket{}, false
	}

	cleaned := strings.ReplaceAll(match[2], ",", "")
	threshold, err := decimal.NewFromString(cleaned)
	if err != nil {
		return ParsedMarket{}, false
	}

	return ParsedMarket{
		MarketID:     marketID,
		OracleSymbol: symbol,
		Threshold:    threshold,
		Direction:    direction,
		ParseMethod:  "regex",
	}, true
}
