package bus

// schema is the durable log's DDL, applied once at startup via db.Migrate.
// Additive only: new columns/tables are added in later revisions, never
// dropped, per the persisted-state-layout contract.
const schema = `
CREATE TABLE IF NOT EXISTS bus_messages (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	channel TEXT NOT NULL,
	payload TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_bus_messages_channel_id ON bus_messages(channel, id);

CREATE TABLE IF NOT EXISTS bus_groups (
	channel TEXT NOT NULL,
	group_name TEXT NOT NULL,
	cursor INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (channel, group_name)
);
`
