package execution

import (
	"github.com/aristath/oracle-arb/internal/risk"
	"github.com/shopspring/decimal"
)

// CircuitBreaker is additive safety beyond the risk gate's own drawdown
// halt: it disables execution outright once current_value falls under a
// configurable fraction of the initial bankroll, independent of whatever
// rule the risk gate itself is evaluating.
type CircuitBreaker struct {
	gate            *risk.Gate
	initialBankroll decimal.Decimal
	floorPct        decimal.Decimal
}

// NewCircuitBreaker builds a breaker watching gate's current value. A nil
// gate disables the breaker (Tripped always false) — used in tests that
// exercise the executor without a wired risk gate.
func NewCircuitBreaker(gate *risk.Gate, initialBankroll, floorPct decimal.Decimal) *CircuitBreaker {
	return &CircuitBreaker{gate: gate, initialBankroll: initialBankroll, floorPct: floorPct}
}

// Tripped reports whether execution should be withheld.
func (c *CircuitBreaker) Tripped() bool {
	if c == nil || c.gate == nil {
		return false
	}
	floor := c.initialBankroll.Mul(c.floorPct)
	return c.gate.GetStateSnapshot().CurrentValue.LessThan(floor)
}
