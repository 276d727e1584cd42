package execution

import (
	"context"
	"testing"

	"github.com/aristath/oracle-arb/internal/bus"
	"github.com/aristath/oracle-arb/internal/database"
	"github.com/aristath/oracle-arb/internal/domain"
	"github.com/aristath/oracle-arb/internal/persistence"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func newTestExecutor(t *testing.T) (*PaperExecutor, *bus.Bus, *persistence.Repository) {
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

	repo, err := persistence.New(db)
	require.NoError(t, err)

	exec, err := New(b, repo, nil, zerolog.Nop())
	require.NoError(t, err)
	return exec, b, repo
}

func tradeRequestRecord(id, marketID, amount string) bus.Record {
	return bus.Record{
		"id": id, "opportunity_id": "opp-1", "opportunity_type": string(domain.OpportunityOracleLag),
		"strategy": "oracle-sniper", "market_id": marketID, "side": "BUY", "outcome": "YES",
		"amount": amount, "max_price": "0.5", "expected_edge": "0.1",
	}
}

func TestFilledRequestPersistsAndPublishesResult(t *testing.T) {
	exec, b, repo := newTestExecutor(t)
	ctx := context.Background()

	require.NoError(t, exec.Handle(ctx, "trade.requests", tradeRequestRecord("r1", "polymarket:m1", "100")))
	require.NoError(t, exec.Handle(ctx, "trade.decisions", bus.Record{"request_id": "r1", "approved": "true"}))

	trade, err := repo.GetTrade("r1")
	require.NoError(t, err)
	require.NotNil(t, trade)
	require.Equal(t, domain.PaperTradeOpen, trade.Status)
	require.True(t, trade.RealizedPnL.Equal(decimal.NewFromInt(5))) // 100*0.05
	require.True(t, trade.Fees.Equal(decimal.NewFromFloat(0.1)))    // 100*0.001

	results, err := b.Consume("trade.results", 0, 10, 0)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, string(domain.TradeStatusFilled), results[0].Record["status"])
	require.Equal(t, "true", results[0].Record["paper_trade"])
}

func TestRejectedRequestPersistsRejectionRow(t *testing.T) {
	exec, b, repo := newTestExecutor(t)
	ctx := context.Background()

	require.NoError(t, exec.Handle(ctx, "trade.requests", tradeRequestRecord("r1", "polymarket:m1", "100")))
	require.NoError(t, exec.Handle(ctx, "trade.decisions", bus.Record{"request_id": "r1", "approved": "false", "reason": "position_limit"}))

	trade, err := repo.GetTrade("r1")
	require.NoError(t, err)
	require.NotNil(t, trade)
	require.False(t, trade.RiskApproved)
	require.Equal(t, "position_limit", trade.RiskRejectionReason)

	results, err := b.Consume("trade.results", 0, 10, 0)
	require.NoError(t, err)
	require.Equal(t, string(domain.TradeStatusRejected), results[0].Record["status"])
}

func TestDuplicateDecisionWithoutCachedRequestIsIgnored(t *testing.T) {
	exec, b, _ := newTestExecutor(t)
	ctx := context.Background()

	require.NoError(t, exec.Handle(ctx, "trade.decisions", bus.Record{"request_id": "ghost", "approved": "true"}))

	results, err := b.Consume("trade.results", 0, 10, 0)
	require.NoError(t, err)
	require.Empty(t, results)
}
