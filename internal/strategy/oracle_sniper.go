package strategy

import (
	"github.com/aristath/oracle-arb/internal/domain"
	"github.com/shopspring/decimal"
)

// OracleSniper is the reference strategy: it trades only ORACLE_LAG
// opportunities, buying whichever side the oracle favors, sized by signal
// strength.
type OracleSniper struct {
	maxPositionPct decimal.Decimal
}

// NewOracleSniper builds the reference Oracle Sniper strategy.
func NewOracleSniper(maxPositionPct decimal.Decimal) *OracleSniper {
	return &OracleSniper{maxPositionPct: maxPositionPct}
}

func (s *OracleSniper) Name() string { return "oracle-sniper" }

// Evaluate accepts only ORACLE_LAG opportunities. A positive edge means the
// market is underpricing YES relative to the oracle-implied fair value, so
// it buys YES; a negative edge means it buys NO at 1 - current_yes. Size is
// available * max_position_pct * signal_strength.
func (s *OracleSniper) Evaluate(opp domain.Opportunity, availableCapital decimal.Decimal) (*TradeParams, bool) {
	if opp.Type != domain.OpportunityOracleLag {
		return nil, false
	}

	currentYes := safeDecimal(opp.Metadata["current_yes"])
	amount := availableCapital.Mul(s.maxPositionPct).Mul(opp.SignalStrength)

	if opp.ExpectedEdge.IsPositive() {
		return &TradeParams{
			Side:     domain.SideBuy,
			Outcome:  domain.OutcomeYes,
			MaxPrice: currentYes,
			Amount:   amount,
		}, true
	}

	return &TradeParams{
		Side:     domain.SideBuy,
		Outcome:  domain.OutcomeNo,
		MaxPrice: decimal.NewFromInt(1).Sub(currentYes),
		Amount:   amount,
	}, true
}
