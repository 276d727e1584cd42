package persistence

import (
	"testing"
	"time"

	"github.com/aristath/oracle-arb/internal/database"
	"github.com/aristath/oracle-arb/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func newTestRepo(t *testing.T) *Repository {
	t.Helper()
	db, err := database.New(database.Config{
		Path:    "file:" + t.Name() + "?mode=memory&cache=shared",
		Profile: database.ProfileLedger,
		Name:    "test",
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	repo, err := New(db)
	require.NoError(t, err)
	return repo
}

func sampleTrade(id string) domain.PaperTrade {
	return domain.PaperTrade{
		ID:              id,
		CreatedAt:       time.Now().UTC(),
		OpportunityID:   "opp-1",
		OpportunityType: domain.OpportunityOracleLag,
		MarketID:        "polymarket:m1",
		Venue:           "polymarket",
		Side:            domain.SideBuy,
		Outcome:         domain.OutcomeYes,
		Quantity:        decimal.NewFromInt(100),
		Price:           decimal.NewFromFloat(0.5),
		Fees:            decimal.NewFromFloat(0.1),
		ExpectedEdge:    decimal.NewFromFloat(0.1),
		StrategyID:      "oracle-sniper",
		RiskApproved:    true,
		Status:          domain.PaperTradeOpen,
	}
}

func TestInsertAndGetTrade(t *testing.T) {
	repo := newTestRepo(t)
	trade := sampleTrade("t1")
	require.NoError(t, repo.InsertTrade(trade))

	got, err := repo.GetTrade("t1")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, "polymarket:m1", got.MarketID)
	require.True(t, got.Quantity.Equal(decimal.NewFromInt(100)))
}

func TestInsertTradeDuplicateIsSilentlySkippable(t *testing.T) {
	repo := newTestRepo(t)
	trade := sampleTrade("t1")
	require.NoError(t, repo.InsertTrade(trade))

	dup := sampleTrade("t2") // different id, same (opportunity_id, market_id, side)
	err := repo.InsertTrade(dup)
	require.ErrorIs(t, err, ErrDuplicateTrade)
}

func TestGetOpenTradesOnlyReturnsApprovedOpen(t *testing.T) {
	repo := newTestRepo(t)
	open := sampleTrade("t1")
	require.NoError(t, repo.InsertTrade(open))

	rejected := sampleTrade("t2")
	rejected.MarketID = "polymarket:m2"
	rejected.RiskApproved = false
	rejected.RiskRejectionReason = "position_limit"
	rejected.Status = domain.PaperTradeClosed
	require.NoError(t, repo.InsertTrade(rejected))

	trades, err := repo.GetOpenTrades()
	require.NoError(t, err)
	require.Len(t, trades, 1)
	require.Equal(t, "t1", trades[0].ID)
}

func TestUpdateTradeResultStampsResolvedAt(t *testing.T) {
	repo := newTestRepo(t)
	trade := sampleTrade("t1")
	require.NoError(t, repo.InsertTrade(trade))

	require.NoError(t, repo.UpdateTradeResult("t1", domain.PaperTradeClosed, decimal.NewFromFloat(0.55), true, decimal.NewFromFloat(5), true))

	got, err := repo.GetTrade("t1")
	require.NoError(t, err)
	require.Equal(t, domain.PaperTradeClosed, got.Status)
	require.True(t, got.HasRealizedPnL)
	require.True(t, got.RealizedPnL.Equal(decimal.NewFromInt(5)))
	require.NotNil(t, got.ResolvedAt)
}

func TestGetDailySummaryAggregates(t *testing.T) {
	repo := newTestRepo(t)

	win := sampleTrade("t1")
	win.RiskApproved = true
	win.Status = domain.PaperTradeClosed
	win.HasRealizedPnL = true
	win.RealizedPnL = decimal.NewFromInt(10)
	require.NoError(t, repo.InsertTrade(win))

	loss := sampleTrade("t2")
	loss.MarketID = "polymarket:m2"
	loss.HasRealizedPnL = true
	loss.RealizedPnL = decimal.NewFromInt(-5)
	loss.Status = domain.PaperTradeClosed
	require.NoError(t, repo.InsertTrade(loss))

	rejected := sampleTrade("t3")
	rejected.MarketID = "polymarket:m3"
	rejected.RiskApproved = false
	rejected.RiskRejectionReason = "minimum_profit"
	require.NoError(t, repo.InsertTrade(rejected))

	summary, err := repo.GetDailySummary(7)
	require.NoError(t, err)
	require.Equal(t, 3, summary.Total)
	require.Equal(t, 1, summary.Wins)
	require.Equal(t, 1, summary.Losses)
	require.Equal(t, 1, summary.Rejections)
	require.True(t, summary.RealizedPnL.Equal(decimal.NewFromInt(5)))
	require.Equal(t, 1, summary.RiskRejections["minimum_profit"])
}
