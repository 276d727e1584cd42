package risk

import (
	"context"
	"testing"

	"github.com/aristath/oracle-arb/internal/bus"
	"github.com/aristath/oracle-arb/internal/database"
	"github.com/aristath/oracle-arb/internal/domain"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func newTestGate(t *testing.T) (*Gate, *bus.Bus) {
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

	g := New(b, Config{
		InitialBankroll:    decimal.NewFromInt(1000),
		PositionLimitPct:   decimal.NewFromFloat(0.10),
		PlatformLimitPct:   decimal.NewFromFloat(0.50),
		DailyLossLimitPct:  decimal.NewFromFloat(0.10),
		DrawdownLimitPct:   decimal.NewFromFloat(0.20),
		MinProfitThreshold: decimal.NewFromFloat(0.05),
	}, zerolog.Nop())
	return g, b
}

func req(id, marketID string, amount, edge string) domain.TradeRequest {
	return domain.TradeRequest{
		ID:           id,
		MarketID:     marketID,
		Side:         domain.SideBuy,
		Outcome:      domain.OutcomeYes,
		Amount:       decimal.RequireFromString(amount),
		MaxPrice:     decimal.NewFromFloat(0.5),
		ExpectedEdge: decimal.RequireFromString(edge),
	}
}

func TestApprovalUpdatesExposureAndPublishesDecision(t *testing.T) {
	g, b := newTestGate(t)
	ctx := context.Background()

	d := g.Evaluate(ctx, req("r1", "polymarket:m1", "50", "0.10"))
	require.True(t, d.Approved)

	snap := g.GetStateSnapshot()
	require.True(t, snap.Positions["polymarket:m1"].Equal(decimal.NewFromInt(50)))
	require.True(t, snap.PlatformExposure["polymarket"].Equal(decimal.NewFromInt(50)))

	require.NoError(t, g.handleRequest(ctx, bus.Record{
		"id": "r2", "market_id": "polymarket:m2", "side": "BUY", "outcome": "YES",
		"amount": "10", "max_price": "0.5", "expected_edge": "0.10",
	}))
	msgs, err := b.Consume("trade.decisions", 0, 10, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Equal(t, "true", msgs[0].Record["approved"])

	approved, err := b.Consume("trade.approved", 0, 10, 0)
	require.NoError(t, err)
	require.Len(t, approved, 1)
}

func TestPositionLimitRejects(t *testing.T) {
	g, _ := newTestGate(t)
	ctx := context.Background()

	// position_limit_pct=0.10 of 1000 = 100 ceiling.
	d1 := g.Evaluate(ctx, req("r1", "polymarket:m1", "90", "0.10"))
	require.True(t, d1.Approved)

	d2 := g.Evaluate(ctx, req("r2", "polymarket:m1", "20", "0.10"))
	require.False(t, d2.Approved)
	require.Equal(t, RulePositionLimit, d2.RuleTriggered)
}

func TestPlatformLimitRejects(t *testing.T) {
	g, _ := newTestGate(t)
	ctx := context.Background()

	// platform_limit_pct=0.50 of 1000 = 500 ceiling, spread across markets
	// so the position limit (100) does not trip first.
	for i := 0; i < 5; i++ {
		marketID := "polymarket:m" + string(rune('0'+i))
		d := g.Evaluate(ctx, req("r"+string(rune('0'+i)), marketID, "95", "0.10"))
		require.True(t, d.Approved, "request %d", i)
	}

	d := g.Evaluate(ctx, req("r-last", "polymarket:m9", "50", "0.10"))
	require.False(t, d.Approved)
	require.Equal(t, RulePlatformLimit, d.RuleTriggered)
}

func TestMinimumProfitThresholdRejects(t *testing.T) {
	g, _ := newTestGate(t)
	ctx := context.Background()

	// amount(1) * edge(0.01) = 0.01 < min_profit_threshold(0.05).
	d := g.Evaluate(ctx, req("r1", "polymarket:m1", "1", "0.01"))
	require.False(t, d.Approved)
	require.Equal(t, RuleMinimumProfit, d.RuleTriggered)
}

func TestDailyLossLimitRejects(t *testing.T) {
	g, _ := newTestGate(t)
	ctx := context.Background()

	g.RecordPnL(decimal.NewFromInt(-101)) // daily_loss_limit_pct=0.10 of 1000 = 100 floor
	d := g.Evaluate(ctx, req("r1", "polymarket:m1", "50", "0.10"))
	require.False(t, d.Approved)
	require.Equal(t, RuleDailyLossLimit, d.RuleTriggered)
}

func TestDrawdownHaltLatchesAndRejectsSubsequentRequests(t *testing.T) {
	g, _ := newTestGate(t)
	ctx := context.Background()

	g.RecordPnL(decimal.NewFromInt(100)) // hwm -> 1100
	g.RecordPnL(decimal.NewFromInt(-250)) // current_value 850 < 1100*0.8=880

	d := g.Evaluate(ctx, req("r1", "polymarket:m1", "1", "0.10"))
	require.False(t, d.Approved)
	require.Equal(t, RuleDrawdownHalt, d.RuleTriggered)
	require.True(t, g.GetStateSnapshot().Halted)

	// Halt latches: even a trivially compliant request is rejected on rule 1.
	d2 := g.Evaluate(ctx, req("r2", "polymarket:m2", "1", "0.10"))
	require.False(t, d2.Approved)
	require.Equal(t, RuleSystemHalt, d2.RuleTriggered)
}

func TestHighWaterMarkNeverDecreases(t *testing.T) {
	g, _ := newTestGate(t)
	g.RecordPnL(decimal.NewFromInt(50))
	hwm1 := g.GetStateSnapshot().HighWaterMark
	require.True(t, hwm1.Equal(decimal.NewFromInt(1050)))

	g.RecordPnL(decimal.NewFromInt(-200))
	hwm2 := g.GetStateSnapshot().HighWaterMark
	require.True(t, hwm2.Equal(hwm1), "hwm must not decrease on a loss")
}

type fakeBookProvider struct {
	book *domain.OrderBook
}

func (f fakeBookProvider) GetOrderBook(ctx context.Context, marketID string, outcome domain.Outcome) (*domain.OrderBook, error) {
	return f.book, nil
}

func TestSlippageGuardRejectsInsufficientLiquidity(t *testing.T) {
	g, _ := newTestGate(t)
	ctx := context.Background()
	g.RegisterOrderBookProvider("polymarket", fakeBookProvider{book: &domain.OrderBook{
		Asks: []domain.OrderBookLevel{{Price: decimal.NewFromFloat(0.5), Size: decimal.NewFromInt(5)}},
	}})

	d := g.Evaluate(ctx, req("r1", "polymarket:m1", "50", "0.10"))
	require.False(t, d.Approved)
	require.Equal(t, RuleSlippageGuard, d.RuleTriggered)
}

func TestSlippageGuardApprovesWithinTolerance(t *testing.T) {
	g, _ := newTestGate(t)
	ctx := context.Background()
	g.RegisterOrderBookProvider("polymarket", fakeBookProvider{book: &domain.OrderBook{
		Asks: []domain.OrderBookLevel{{Price: decimal.NewFromFloat(0.52), Size: decimal.NewFromInt(100)}},
	}})

	// max_price=0.5, vwap=0.52, slippage=0.02, tolerance=edge(0.10)*0.5=0.05.
	d := g.Evaluate(ctx, req("r1", "polymarket:m1", "50", "0.10"))
	require.True(t, d.Approved)
}

func TestSlippageGuardRejectsExcessiveSlippage(t *testing.T) {
	g, _ := newTestGate(t)
	ctx := context.Background()
	g.RegisterOrderBookProvider("polymarket", fakeBookProvider{book: &domain.OrderBook{
		Asks: []domain.OrderBookLevel{{Price: decimal.NewFromFloat(0.60), Size: decimal.NewFromInt(100)}},
	}})

	// max_price=0.5, vwap=0.60, slippage=0.10, tolerance=edge(0.10)*0.5=0.05.
	d := g.Evaluate(ctx, req("r1", "polymarket:m1", "50", "0.10"))
	require.False(t, d.Approved)
	require.Equal(t, RuleSlippageGuard, d.RuleTriggered)
}
