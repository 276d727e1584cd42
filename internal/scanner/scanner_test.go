package scanner

import (
	"testing"

	"github.com/aristath/oracle-arb/internal/bus"
	"github.com/aristath/oracle-arb/internal/database"
	"github.com/aristath/oracle-arb/internal/domain"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func newTestScanner(t *testing.T, minEdge, minSignal float64) (*Scanner, *bus.Bus) {
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

	s := New(b, Config{
		MinEdgePct:        decimal.NewFromFloat(minEdge),
		MinSignalStrength: decimal.NewFromFloat(minSignal),
		Fees:              map[string]decimal.Decimal{}, // no fee drag, for literal-value scenarios
	}, zerolog.Nop())
	return s, b
}

func drainOpportunities(t *testing.T, b *bus.Bus) []bus.Record {
	t.Helper()
	msgs, err := b.Consume("opportunities.detected", 0, 100, 0)
	require.NoError(t, err)
	records := make([]bus.Record, len(msgs))
	for i, m := range msgs {
		records[i] = m.Record
	}
	return records
}

// S1 — Single-condition mispricing detection.
func TestS1SingleConditionMispricing(t *testing.T) {
	s, b := newTestScanner(t, 0.01, 0.01)

	err := s.OnVenuePriceUpdate(domain.Market{
		ID: "polymarket:m1", Venue: "polymarket",
		YesPrice: decimal.NewFromFloat(0.40), NoPrice: decimal.NewFromFloat(0.50),
	})
	require.NoError(t, err)

	opps := drainOpportunities(t, b)
	require.Len(t, opps, 1)
	require.Equal(t, string(domain.OpportunityMispricing), opps[0]["type"])
	require.Equal(t, "single_condition", opps[0]["meta_arb_type"])
	require.True(t, safeDecimal(opps[0]["expected_edge"]).Equal(decimal.NewFromFloat(0.10)))
}

// S2 — Multi-outcome mispricing.
func TestS2MultiOutcomeMispricing(t *testing.T) {
	s, b := newTestScanner(t, 0.01, 0.01)

	err := s.OnMultiOutcomeUpdate(domain.MultiOutcomeMarket{
		ID: "polymarket:e1", Venue: "polymarket",
		Outcomes: []domain.MarketOutcome{
			{Name: "A", Price: decimal.NewFromFloat(0.30)},
			{Name: "B", Price: decimal.NewFromFloat(0.28)},
			{Name: "C", Price: decimal.NewFromFloat(0.30)},
		},
	})
	require.NoError(t, err)

	opps := drainOpportunities(t, b)
	require.Len(t, opps, 1)
	require.Equal(t, "multi_outcome", opps[0]["meta_arb_type"])
	require.Equal(t, "3", opps[0]["meta_outcome_count"])
	require.True(t, safeDecimal(opps[0]["expected_edge"]).Equal(decimal.NewFromFloat(0.12)))
}

// S3 — Oracle-lag detection.
func TestS3OracleLag(t *testing.T) {
	s, b := newTestScanner(t, 0.01, 0.01)

	s.RegisterMarketOracleMapping("polymarket:btc-above-100k", "BTC", decimal.NewFromInt(100000), "above")

	require.NoError(t, s.OnOracleUpdate(domain.OracleData{Source: "binance", Symbol: "BTC", Value: decimal.NewFromInt(105000)}))
	require.NoError(t, s.OnVenuePriceUpdate(domain.Market{
		ID: "polymarket:btc-above-100k", Venue: "polymarket",
		YesPrice: decimal.NewFromFloat(0.50), NoPrice: decimal.NewFromFloat(0.50),
	}))

	opps := drainOpportunities(t, b)
	var oracleLag *bus.Record
	for i := range opps {
		if opps[i]["type"] == string(domain.OpportunityOracleLag) {
			oracleLag = &opps[i]
		}
	}
	require.NotNil(t, oracleLag)
	edge := safeDecimal((*oracleLag)["expected_edge"])
	require.True(t, edge.GreaterThan(decimal.NewFromFloat(0.40)), "expected_edge %s should exceed 0.40", edge)
}

// S4 — Cross-platform opportunity.
func TestS4CrossPlatform(t *testing.T) {
	s, b := newTestScanner(t, 0.01, 0.01)
	s.RegisterMatchedEvent("E", []string{"polymarket:x", "kalshi:x"})

	require.NoError(t, s.OnVenuePriceUpdate(domain.Market{ID: "polymarket:x", Venue: "polymarket", YesPrice: decimal.NewFromFloat(0.60), NoPrice: decimal.NewFromFloat(0.40)}))
	require.NoError(t, s.OnVenuePriceUpdate(domain.Market{ID: "kalshi:x", Venue: "kalshi", YesPrice: decimal.NewFromFloat(0.52), NoPrice: decimal.NewFromFloat(0.48)}))

	opps := drainOpportunities(t, b)
	var crossPlatform *bus.Record
	for i := range opps {
		if opps[i]["type"] == string(domain.OpportunityCrossPlatform) {
			crossPlatform = &opps[i]
		}
	}
	require.NotNil(t, crossPlatform)
	require.True(t, safeDecimal((*crossPlatform)["expected_edge"]).Equal(decimal.NewFromFloat(0.08)))
	require.Equal(t, "kalshi", (*crossPlatform)["meta_buy_yes_venue"])
	require.Equal(t, "polymarket", (*crossPlatform)["meta_buy_no_venue"])
}

func TestFairValueAtThresholdBoundary(t *testing.T) {
	fairYes, signal := FairValue(decimal.NewFromInt(100000), decimal.NewFromInt(100000), "above")
	require.True(t, fairYes.Equal(decimal.NewFromFloat(0.5)))
	require.True(t, signal.IsZero())
}

func TestFairValueFarAboveThreshold(t *testing.T) {
	fairYes, _ := FairValue(decimal.NewFromInt(110000), decimal.NewFromInt(100000), "above")
	require.True(t, fairYes.Equal(decimal.NewFromFloat(0.95)))
}
