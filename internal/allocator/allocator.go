// Package allocator implements the tournament-style capital allocator: it
// tracks per-strategy realized performance and periodically redistributes
// total_capital across strategies by a score blending P&L and win rate.
package allocator

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/aristath/oracle-arb/internal/bus"
	"github.com/aristath/oracle-arb/internal/domain"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"gonum.org/v1/gonum/stat"
)

const scoreFloor = 0.1

// Performance is the per-strategy counter set the rebalance algorithm
// scores against.
type Performance struct {
	TotalPnL    decimal.Decimal
	Trades      int
	Wins        int
	Losses      int
	LargestWin  decimal.Decimal
	LargestLoss decimal.Decimal
}

// Config seeds the allocator's fixed bounds and the known strategy roster.
type Config struct {
	Strategies              []string
	TotalCapital            decimal.Decimal
	MinAllocation           decimal.Decimal
	MaxAllocation           decimal.Decimal
	RebalanceIntervalTrades int
}

// Allocator is the capital-allocation agent.
type Allocator struct {
	bus  *bus.Bus
	log  zerolog.Logger
	cfg  Config

	mu                   sync.Mutex
	performance          map[string]*Performance
	allocations          map[string]decimal.Decimal
	tradesSinceRebalance int
}

// New builds an Allocator and publishes an initial equal-weight allocation
// across every known strategy so agents don't start at zero capital while
// waiting for the first rebalance_interval_trades fills.
func New(b *bus.Bus, cfg Config, log zerolog.Logger) (*Allocator, error) {
	a := &Allocator{
		bus:         b,
		log:         log.With().Str("component", "allocator").Logger(),
		cfg:         cfg,
		performance: make(map[string]*Performance, len(cfg.Strategies)),
		allocations: make(map[string]decimal.Decimal, len(cfg.Strategies)),
	}
	for _, name := range cfg.Strategies {
		a.performance[name] = &Performance{}
	}
	if err := a.publishEqualAllocation(); err != nil {
		return nil, fmt.Errorf("publish initial allocation: %w", err)
	}
	return a, nil
}

func (a *Allocator) Name() string { return "allocator" }

func (a *Allocator) Subscriptions() []string { return []string{"trade.results"} }

func (a *Allocator) Handle(ctx context.Context, channel string, record bus.Record) error {
	if channel != "trade.results" || record["status"] != string(domain.TradeStatusFilled) {
		return nil
	}
	strategy := record["strategy"]
	if strategy == "" {
		return nil
	}
	pnl := safeDecimal(record["pnl"])

	a.mu.Lock()
	perf, ok := a.performance[strategy]
	if !ok {
		perf = &Performance{}
		a.performance[strategy] = perf
	}
	perf.TotalPnL = perf.TotalPnL.Add(pnl)
	perf.Trades++
	switch {
	case pnl.IsPositive():
		perf.Wins++
		if pnl.GreaterThan(perf.LargestWin) {
			perf.LargestWin = pnl
		}
	case pnl.IsNegative():
		perf.Losses++
		if pnl.LessThan(perf.LargestLoss) {
			perf.LargestLoss = pnl
		}
	}
	a.tradesSinceRebalance++
	due := a.cfg.RebalanceIntervalTrades > 0 && a.tradesSinceRebalance >= a.cfg.RebalanceIntervalTrades
	if due {
		a.tradesSinceRebalance = 0
	}
	a.mu.Unlock()

	if due {
		return a.rebalance()
	}
	return nil
}

// rebalance implements the scoring, clipping, and normalization algorithm:
// score = max(0.1, pnl_score + win_rate_bonus), raw_i = score_i / sum,
// clipped to [min_allocation, max_allocation], then renormalized to sum 1.
func (a *Allocator) rebalance() error {
	a.mu.Lock()
	names := make([]string, 0, len(a.performance))
	scores := make(map[string]float64, len(a.performance))
	sum := 0.0
	for name, perf := range a.performance {
		names = append(names, name)
		s := score(perf)
		scores[name] = s
		sum += s
	}
	sort.Strings(names)

	var allocations map[string]decimal.Decimal
	if sum <= 0 {
		allocations = equalAllocations(names)
	} else {
		allocations = clipAndNormalize(names, scores, sum, a.cfg.MinAllocation, a.cfg.MaxAllocation)
	}
	a.allocations = allocations
	totalCapital := a.cfg.TotalCapital
	a.mu.Unlock()

	now := time.Now().UTC().Format(time.RFC3339)
	for _, name := range names {
		pct := allocations[name]
		_, err := a.bus.Publish("allocations.update", bus.Record{
			"strategy":       name,
			"allocation_pct": pct.String(),
			"total_capital":  totalCapital.String(),
			"updated_at":     now,
		})
		if err != nil {
			return fmt.Errorf("publish allocation for %s: %w", name, err)
		}
	}
	return nil
}

func (a *Allocator) publishEqualAllocation() error {
	a.mu.Lock()
	names := make([]string, 0, len(a.cfg.Strategies))
	names = append(names, a.cfg.Strategies...)
	sort.Strings(names)
	allocations := equalAllocations(names)
	a.allocations = allocations
	totalCapital := a.cfg.TotalCapital
	a.mu.Unlock()

	now := time.Now().UTC().Format(time.RFC3339)
	for _, name := range names {
		_, err := a.bus.Publish("allocations.update", bus.Record{
			"strategy":       name,
			"allocation_pct": allocations[name].String(),
			"total_capital":  totalCapital.String(),
			"updated_at":     now,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// score computes max(0.1, pnl_score + win_rate_bonus) for one strategy.
// A strategy with zero trades scores exactly the floor: it gets
// exploratory capital without outscoring a proven performer.
func score(perf *Performance) float64 {
	if perf.Trades == 0 {
		return scoreFloor
	}
	pnlFloat, _ := perf.TotalPnL.Float64()
	pnlScore := pnlFloat/100 + 1
	if pnlScore < 0 {
		pnlScore = 0
	}
	winRateBonus := (float64(perf.Wins) / float64(perf.Trades)) * 0.5
	s := pnlScore + winRateBonus
	if s < scoreFloor {
		return scoreFloor
	}
	return s
}

func equalAllocations(names []string) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(names))
	if len(names) == 0 {
		return out
	}
	share := decimal.NewFromInt(1).Div(decimal.NewFromInt(int64(len(names))))
	for _, name := range names {
		out[name] = share
	}
	return out
}

func clipAndNormalize(names []string, scores map[string]float64, sum float64, min, max decimal.Decimal) map[string]decimal.Decimal {
	minF, _ := min.Float64()
	maxF, _ := max.Float64()

	raw := make(map[string]float64, len(names))
	clippedSum := 0.0
	for _, name := range names {
		v := scores[name] / sum
		if v < minF {
			v = minF
		}
		if v > maxF {
			v = maxF
		}
		raw[name] = v
		clippedSum += v
	}

	out := make(map[string]decimal.Decimal, len(names))
	for _, name := range names {
		var normalized float64
		if clippedSum > 0 {
			normalized = raw[name] / clippedSum
		}
		out[name] = decimal.NewFromFloat(normalized)
	}
	return out
}

// Snapshot is the dashboard-facing allocator state.
type Snapshot struct {
	TotalCapital         decimal.Decimal
	Strategies           map[string]StrategySnapshot
	TradesSinceRebalance int
	ScoreMean            float64
	ScoreVariance        float64
}

// StrategySnapshot blends a strategy's performance counters with its
// current allocation share.
type StrategySnapshot struct {
	Performance   Performance
	AllocationPct decimal.Decimal
}

// GetStateSnapshot reports performance, current allocations, and the
// mean/variance of the underlying scores across strategies — a cheap
// reporting diagnostic for how concentrated the tournament currently is.
func (a *Allocator) GetStateSnapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	strategies := make(map[string]StrategySnapshot, len(a.performance))
	scores := make([]float64, 0, len(a.performance))
	for name, perf := range a.performance {
		strategies[name] = StrategySnapshot{
			Performance:   *perf,
			AllocationPct: a.allocations[name],
		}
		scores = append(scores, score(perf))
	}

	var mean, variance float64
	if len(scores) > 0 {
		mean = stat.Mean(scores, nil)
		variance = stat.Variance(scores, nil)
	}

	return Snapshot{
		TotalCapital:         a.cfg.TotalCapital,
		Strategies:           strategies,
		TradesSinceRebalance: a.tradesSinceRebalance,
		ScoreMean:            mean,
		ScoreVariance:        variance,
	}
}

func safeDecimal(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
