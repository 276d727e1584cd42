package strategy

import (
	"context"
	"testing"
	"time"

	"github.com/aristath/oracle-arb/internal/bus"
	"github.com/aristath/oracle-arb/internal/database"
	"github.com/aristath/oracle-arb/internal/domain"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func newTestAgent(t *testing.T) (*Agent, *bus.Bus) {
	t.Helper()
	db, err := database.New(database.Config{
		Path:    "file:" + t.Name() + "?mode=memory&cache=shared",
		Profile: database.ProfileLedger,
		Name:    "test",
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	b, err := bus.New(db, zerolog.Nop())
	require.NoError(t, err)

	agent := NewAgent(NewOracleSniper(decimal.NewFromFloat(0.5)), b, Config{
		MinEdgePct:        decimal.NewFromFloat(0.01),
		MinSignalStrength: decimal.NewFromFloat(0.01),
		MaxPositionPct:    decimal.NewFromFloat(0.5),
	}, zerolog.Nop())
	return agent, b
}

func oracleLagRecord(signalStrength, expectedEdge, currentYes string) bus.Record {
	return bus.Record{
		"id":                 "opp-1",
		"type":               string(domain.OpportunityOracleLag),
		"market_ids":         "polymarket:btc-100k",
		"expected_edge":      expectedEdge,
		"signal_strength":    signalStrength,
		"meta_current_yes":   currentYes,
		"detected_at":        time.Now().UTC().Format(time.RFC3339),
	}
}

func TestOracleSniperEmitsSizedTradeRequest(t *testing.T) {
	agent, b := newTestAgent(t)

	_, err := b.Publish("allocations.update", bus.Record{
		"strategy": "oracle-sniper", "allocation_pct": "0.5", "total_capital": "1000",
	})
	require.NoError(t, err)
	msgs, err := b.Consume("allocations.update", 0, 1, 0)
	require.NoError(t, err)
	require.NoError(t, agent.Handle(context.Background(), "allocations.update", msgs[0].Record))

	record := oracleLagRecord("0.8", "0.45", "0.50")
	require.NoError(t, agent.Handle(context.Background(), "opportunities.detected", record))

	reqs, err := b.Consume("trade.requests", 0, 10, 0)
	require.NoError(t, err)
	require.Len(t, reqs, 1)
	require.Equal(t, "oracle-sniper", reqs[0].Record["strategy"])
	require.Equal(t, string(domain.SideBuy), reqs[0].Record["side"])
	require.Equal(t, string(domain.OutcomeYes), reqs[0].Record["outcome"])

	amount := safeDecimal(reqs[0].Record["amount"])
	// available = 1000*0.5 = 500; size = 500*0.5*0.8 = 200
	require.True(t, amount.Equal(decimal.NewFromFloat(200)), "got %s", amount)
}

func TestOpportunityBelowThresholdIsDropped(t *testing.T) {
	agent, b := newTestAgent(t)

	record := oracleLagRecord("0.001", "0.001", "0.50")
	require.NoError(t, agent.Handle(context.Background(), "opportunities.detected", record))

	reqs, err := b.Consume("trade.requests", 0, 10, 0)
	require.NoError(t, err)
	require.Empty(t, reqs)
}

func TestOracleSniperRejectsNonOracleLagOpportunities(t *testing.T) {
	agent, b := newTestAgent(t)

	record := bus.Record{
		"id": "opp-2", "type": string(domain.OpportunityMispricing),
		"expected_edge": "0.5", "signal_strength": "0.9", "market_ids": "polymarket:x",
	}
	require.NoError(t, agent.Handle(context.Background(), "opportunities.detected", record))

	reqs, err := b.Consume("trade.requests", 0, 10, 0)
	require.NoError(t, err)
	require.Empty(t, reqs)
}
