package persistence

// schema is the paper_trades table DDL, applied once via db.Migrate.
// Additive only: new columns are appended in later revisions, never dropped.
const schema = `
CREATE TABLE IF NOT EXISTS paper_trades (
	id TEXT PRIMARY KEY,
	created_at TIMESTAMP NOT NULL,
	opportunity_id TEXT NOT NULL,
	opportunity_type TEXT NOT NULL,
	market_id TEXT NOT NULL,
	venue TEXT NOT NULL,
	side TEXT NOT NULL,
	outcome TEXT NOT NULL,
	quantity TEXT NOT NULL,
	price TEXT NOT NULL,
	fees TEXT NOT NULL,
	expected_edge TEXT NOT NULL,
	strategy_id TEXT,
	risk_approved INTEGER NOT NULL,
	risk_rejection_reason TEXT,
	status TEXT NOT NULL,
	exit_price TEXT,
	realized_pnl TEXT,
	resolved_at TIMESTAMP,
	UNIQUE (opportunity_id, market_id, side)
);

CREATE INDEX IF NOT EXISTS idx_paper_trades_created_at ON paper_trades(created_at);
CREATE INDEX IF NOT EXISTS idx_paper_trades_market_id ON paper_trades(market_id);
CREATE INDEX IF NOT EXISTS idx_paper_trades_status ON paper_trades(status);
CREATE INDEX IF NOT EXISTS idx_paper_trades_opportunity_type ON paper_trades(opportunity_type);
`
