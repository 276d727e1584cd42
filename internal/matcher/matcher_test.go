package matcher

import (
	"context"
	"testing"

	"github.com/aristath/oracle-arb/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type fakeRegistrar struct {
	registered map[string]ParsedMarket
	events     map[string][]string
}

func newFakeRegistrar() *fakeRegistrar {
	return &fakeRegistrar{registered: make(map[string]ParsedMarket), events: make(map[string][]string)}
}

func (f *fakeRegistrar) RegisterMarketOracleMapping(marketID, symbol string, threshold decimal.Decimal, direction string) {
	f.registered[marketID] = ParsedMarket{MarketID: marketID, OracleSymbol: symbol, Threshold: threshold, Direction: direction}
}

func (f *fakeRegistrar) RegisterMatchedEvent(eventID string, marketIDs []string) {
	f.events[eventID] = marketIDs
}

func TestMatchRegexSuccess(t *testing.T) {
	m := New()
	reg := newFakeRegistrar()

	markets := []domain.Market{
		{ID: "polymarket:m1", Title: "Will BTC reach above $100,000 by year end?"},
	}

	result, err := m.Match(context.Background(), markets, reg)
	require.NoError(t, err)
	require.Equal(t, 1, result.Matched)
	require.Equal(t, 0, result.Skipped)
	require.Equal(t, 0, result.Failed)

	mapped := reg.registered["polymarket:m1"]
	require.Equal(t, "BTC", mapped.OracleSymbol)
	require.Equal(t, "above", mapped.Direction)
	require.True(t, mapped.Threshold.Equal(decimal.NewFromInt(100000)))
}

func TestMatchSkipsNonCrypto(t *testing.T) {
	m := New()
	reg := newFakeRegistrar()

	markets := []domain.Market{{ID: "polymarket:m2", Title: "Will it rain in Tokyo tomorrow?"}}
	result, err := m.Match(context.Background(), markets, reg)
	require.NoError(t, err)
	require.Equal(t, 1, result.Skipped)
	require.Empty(t, reg.registered)
}

type fakeLLM struct {
	responses []*ParsedMarket
}

func (f *fakeLLM) MatchBatch(ctx context.Context, titles []string) ([]*ParsedMarket, error) {
	return f.responses, nil
}

func TestMatchFallsBackToLLMForUnparsedCrypto(t *testing.T) {
	llm := &fakeLLM{responses: []*ParsedMarket{
		{OracleSymbol: "ETH", Threshold: decimal.NewFromInt(5000), Direction: "above"},
	}}
	m := New(WithLLMFallback(llm))
	reg := newFakeRegistrar()

	markets := []domain.Market{{ID: "kalshi:e1", Title: "ETH moonshot scenario (no explicit number)"}}
	result, err := m.Match(context.Background(), markets, reg)
	require.NoError(t, err)
	require.Equal(t, 1, result.Matched)
	require.Equal(t, "llm", result.Parsed[0].ParseMethod)
	require.Equal(t, "ETH", reg.registered["kalshi:e1"].OracleSymbol)
}

func TestMatchFailsWhenNoLLMConfigured(t *testing.T) {
	m := New()
	reg := newFakeRegistrar()

	markets := []domain.Market{{ID: "kalshi:e2", Title: "BTC vibes only, no threshold mentioned"}}
	result, err := m.Match(context.Background(), markets, reg)
	require.NoError(t, err)
	require.Equal(t, 1, result.Failed)
	require.Empty(t, reg.registered)
}
