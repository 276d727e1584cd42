package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/aristath/oracle-arb/internal/allocator"
	"github.com/aristath/oracle-arb/internal/bus"
	"github.com/aristath/oracle-arb/internal/database"
	"github.com/aristath/oracle-arb/internal/domain"
	"github.com/aristath/oracle-arb/internal/persistence"
	"github.com/aristath/oracle-arb/internal/risk"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) *Server {
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

	gate := risk.New(b, risk.Config{
		InitialBankroll:    decimal.NewFromInt(1000),
		PositionLimitPct:   decimal.NewFromFloat(0.1),
		PlatformLimitPct:   decimal.NewFromFloat(0.3),
		DailyLossLimitPct:  decimal.NewFromFloat(0.05),
		DrawdownLimitPct:   decimal.NewFromFloat(0.2),
		MinProfitThreshold: decimal.NewFromFloat(0.01),
	}, zerolog.Nop())

	alloc, err := allocator.New(b, allocator.Config{
		Strategies:              []string{"sniper"},
		TotalCapital:            decimal.NewFromInt(1000),
		MinAllocation:           decimal.NewFromFloat(0.1),
		MaxAllocation:           decimal.NewFromFloat(0.9),
		RebalanceIntervalTrades: 10,
	}, zerolog.Nop())
	require.NoError(t, err)

	require.NoError(t, repo.InsertTrade(domain.PaperTrade{
		ID: "t1", OpportunityID: "o1", OpportunityType: domain.OpportunityOracleLag,
		MarketID: "polymarket:m1", Venue: "polymarket", Side: domain.SideBuy, Outcome: domain.OutcomeYes,
		Quantity: decimal.NewFromInt(10), Price: decimal.NewFromFloat(0.5), Fees: decimal.Zero,
		ExpectedEdge: decimal.NewFromFloat(0.1), RiskApproved: true, Status: domain.PaperTradeOpen,
	}))

	return New(Config{Port: 0, DevMode: true, Log: zerolog.Nop(), Allocator: alloc, Risk: gate, Repo: repo})
}

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestRiskSnapshotEndpoint(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/snapshot/risk", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	require.Equal(t, "1000", payload["current_value"])
	require.Equal(t, false, payload["halted"])
}

func TestAllocatorSnapshotEndpoint(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/snapshot/allocator", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	strategies, ok := payload["strategies"].(map[string]interface{})
	require.True(t, ok)
	require.Contains(t, strategies, "sniper")
}

func TestExecutorSnapshotEndpoint(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/snapshot/executor", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	require.Equal(t, float64(1), payload["trade_count"])
}

func TestReportEndpointDefaultsToOneDay(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/report", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestShutdownWithoutStart(t *testing.T) {
	s := newTestServer(t)
	require.NoError(t, s.Shutdown(context.Background()))
}
