// Package persistence implements the paper_trades repository: the single
// durable record of every trade request the risk gate has decided on,
// queried by the executors for recovery and by the CLI for reporting.
package persistence

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aristath/oracle-arb/internal/database"
	"github.com/aristath/oracle-arb/internal/domain"
	"github.com/shopspring/decimal"
)

// ErrDuplicateTrade is returned by InsertTrade when the
// (opportunity_id, market_id, side) unique constraint already holds a row.
// Callers treat this as a race-protection no-op, not a failure.
var ErrDuplicateTrade = errors.New("persistence: duplicate trade")

// Repository is the paper_trades data access layer.
type Repository struct {
	db *database.DB
}

// New builds a Repository and applies the paper_trades schema.
func New(db *database.DB) (*Repository, error) {
	if err := db.Migrate(schema); err != nil {
		return nil, fmt.Errorf("migrate persistence schema: %w", err)
	}
	return &Repository{db: db}, nil
}

// InsertTrade persists a new paper trade. A duplicate (opportunity_id,
// market_id, side) triple returns ErrDuplicateTrade rather than an error
// wrapping a driver-specific constraint violation, so callers can log and
// skip uniformly regardless of the underlying SQL driver.
func (r *Repository) InsertTrade(t domain.PaperTrade) error {
	_, err := r.db.Conn().Exec(`
		INSERT INTO paper_trades (
			id, created_at, opportunity_id, opportunity_type, market_id, venue,
			side, outcome, quantity, price, fees, expected_edge, strategy_id,
			risk_approved, risk_rejection_reason, status, exit_price,
			realized_pnl, resolved_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.CreatedAt.UTC(), t.OpportunityID, string(t.OpportunityType), t.MarketID, t.Venue,
		string(t.Side), string(t.Outcome), t.Quantity.String(), t.Price.String(), t.Fees.String(), t.ExpectedEdge.String(), nullableString(t.StrategyID),
		boolToInt(t.RiskApproved), nullableString(t.RiskRejectionReason), string(t.Status), nullableDecimal(t.HasExitPrice, t.ExitPrice),
		nullableDecimal(t.HasRealizedPnL, t.RealizedPnL), nullableTime(t.ResolvedAt),
	)
	if err != nil {
		if isUniqueConstraintErr(err) {
			return ErrDuplicateTrade
		}
		return fmt.Errorf("insert trade: %w", err)
	}
	return nil
}

// GetTrade fetches a single trade by id, or (nil, nil) if it does not exist.
func (r *Repository) GetTrade(id string) (*domain.PaperTrade, error) {
	row := r.db.Conn().QueryRow(`SELECT `+selectColumns+` FROM paper_trades WHERE id = ?`, id)
	t, err := scanTrade(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get trade: %w", err)
	}
	return t, nil
}

// GetOpenTrades loads every approved, still-open trade — the recovery set
// an executor reconstructs its in-memory trade list from on restart.
func (r *Repository) GetOpenTrades() ([]domain.PaperTrade, error) {
	rows, err := r.db.Conn().Query(`SELECT `+selectColumns+` FROM paper_trades WHERE status = ? AND risk_approved = 1`, string(domain.PaperTradeOpen))
	if err != nil {
		return nil, fmt.Errorf("get open trades: %w", err)
	}
	defer rows.Close()
	return scanTrades(rows)
}

// GetTradesSinceDays loads every trade created within the trailing window.
func (r *Repository) GetTradesSinceDays(n int) ([]domain.PaperTrade, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -n)
	rows, err := r.db.Conn().Query(`SELECT `+selectColumns+` FROM paper_trades WHERE created_at >= ? ORDER BY created_at`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("get trades since days: %w", err)
	}
	defer rows.Close()
	return scanTrades(rows)
}

// GetRecentTrades loads the most recent trades, newest first, for the
// executor's dashboard snapshot.
func (r *Repository) GetRecentTrades(limit int) ([]domain.PaperTrade, error) {
	rows, err := r.db.Conn().Query(`SELECT `+selectColumns+` FROM paper_trades ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("get recent trades: %w", err)
	}
	defer rows.Close()
	return scanTrades(rows)
}

// CountTrades returns the total number of persisted trades.
func (r *Repository) CountTrades() (int, error) {
	var count int
	if err := r.db.Conn().QueryRow(`SELECT COUNT(*) FROM paper_trades`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count trades: %w", err)
	}
	return count, nil
}

// UpdateTradeResult transitions a trade's status and, for terminal
// statuses, stamps resolved_at.
func (r *Repository) UpdateTradeResult(id string, status domain.PaperTradeStatus, exitPrice decimal.Decimal, hasExitPrice bool, realizedPnL decimal.Decimal, hasRealizedPnL bool) error {
	var resolvedAt interface{}
	if status == domain.PaperTradeClosed || status == domain.PaperTradeResolved {
		resolvedAt = time.Now().UTC()
	}
	_, err := r.db.Conn().Exec(`
		UPDATE paper_trades SET status = ?, exit_price = ?, realized_pnl = ?, resolved_at = COALESCE(?, resolved_at)
		WHERE id = ?`,
		string(status), nullableDecimal(hasExitPrice, exitPrice), nullableDecimal(hasRealizedPnL, realizedPnL), resolvedAt, id,
	)
	if err != nil {
		return fmt.Errorf("update trade result: %w", err)
	}
	return nil
}

// GetDailySummary aggregates trade activity over the trailing window for
// the dashboard snapshot and the CLI `report` command.
func (r *Repository) GetDailySummary(days int) (domain.DailySummary, error) {
	trades, err := r.GetTradesSinceDays(days)
	if err != nil {
		return domain.DailySummary{}, err
	}

	summary := domain.DailySummary{
		ByType:         make(map[domain.OpportunityType]int),
		RiskRejections: make(map[string]int),
	}
	for _, t := range trades {
		summary.Total++
		summary.ByType[t.OpportunityType]++
		if !t.RiskApproved {
			summary.Rejections++
			if t.RiskRejectionReason != "" {
				summary.RiskRejections[t.RiskRejectionReason]++
			}
			continue
		}
		switch t.Status {
		case domain.PaperTradeOpen:
			summary.Open++
		case domain.PaperTradeClosed, domain.PaperTradeResolved:
			summary.Closed++
		}
		if t.HasRealizedPnL {
			summary.RealizedPnL = summary.RealizedPnL.Add(t.RealizedPnL)
			if t.RealizedPnL.IsPositive() {
				summary.Wins++
			} else if t.RealizedPnL.IsNegative() {
				summary.Losses++
			}
		}
	}
	if closed := summary.Wins + summary.Losses; closed > 0 {
		summary.WinRate = decimal.NewFromInt(int64(summary.Wins)).Div(decimal.NewFromInt(int64(closed)))
	}
	return summary, nil
}

const selectColumns = `id, created_at, opportunity_id, opportunity_type, market_id, venue,
	side, outcome, quantity, price, fees, expected_edge, strategy_id,
	risk_approved, risk_rejection_reason, status, exit_price, realized_pnl, resolved_at`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanTrade(row scanner) (*domain.PaperTrade, error) {
	var t domain.PaperTrade
	var strategyID, rejectionReason, exitPrice, realizedPnL sql.NullString
	var resolvedAt sql.NullTime
	var riskApproved int
	var quantity, price, fees, expectedEdge string
	var oppType, side, outcome, status string

	if err := row.Scan(
		&t.ID, &t.CreatedAt, &t.OpportunityID, &oppType, &t.MarketID, &t.Venue,
		&side, &outcome, &quantity, &price, &fees, &expectedEdge, &strategyID,
		&riskApproved, &rejectionReason, &status, &exitPrice, &realizedPnL, &resolvedAt,
	); err != nil {
		return nil, err
	}

	t.OpportunityType = domain.OpportunityType(oppType)
	t.Side = domain.Side(side)
	t.Outcome = domain.Outcome(outcome)
	t.Status = domain.PaperTradeStatus(status)
	t.Quantity = mustDecimal(quantity)
	t.Price = mustDecimal(price)
	t.Fees = mustDecimal(fees)
	t.ExpectedEdge = mustDecimal(expectedEdge)
	t.StrategyID = strategyID.String
	t.RiskApproved = riskApproved != 0
	t.RiskRejectionReason = rejectionReason.String
	if exitPrice.Valid {
		t.ExitPrice = mustDecimal(exitPrice.String)
		t.HasExitPrice = true
	}
	if realizedPnL.Valid {
		t.RealizedPnL = mustDecimal(realizedPnL.String)
		t.HasRealizedPnL = true
	}
	if resolvedAt.Valid {
		rt := resolvedAt.Time
		t.ResolvedAt = &rt
	}
	return &t, nil
}

func scanTrades(rows *sql.Rows) ([]domain.PaperTrade, error) {
	var trades []domain.PaperTrade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("scan trade: %w", err)
		}
		trades = append(trades, *t)
	}
	return trades, rows.Err()
}

func mustDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullableDecimal(has bool, d decimal.Decimal) interface{} {
	if !has {
		return nil
	}
	return d.String()
}

func nullableTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// isUniqueConstraintErr recognizes modernc.org/sqlite's unique constraint
// error text. modernc surfaces SQLite errors as a plain formatted string
// rather than a typed error, so string matching is the only reliable signal
// (the same tolerance db.Migrate already applies to DDL re-runs).
func isUniqueConstraintErr(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "constraint failed: UNIQUE")
}
