// journal/schema.go
package journal

const Schema = `
CREATE TABLE IF NOT EXISTS cycles (
	cycle_id TEXT PRIMARY KEY,
	symbol TEXT NOT NULL,
	direction TEXT NOT NULL,
	open_time DATETIME NOT NULL,
	close_time DATETIME,
	entry_price REAL NOT NULL,
	initial_size REAL NOT NULL,
	flips INTEGER NOT NULL,
	realized_pnl REAL NOT NULL,
	fees REAL NOT NULL,
	close_reason TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_cycles_close_time ON cycles(close_time);

CREATE TABLE IF NOT EXISTS events (
	event_id TEXT PRIMARY KEY,
	cycle_id TEXT NOT NULL,
	symbol TEXT NOT NULL,
	time DATETIME NOT NULL,
	kind TEXT NOT NULL,
	side TEXT NOT NULL,
	price REAL NOT NULL,
	size_usd REAL NOT NULL,
	flip_count INTEGER NOT NULL,
	detail TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_events_cycle ON events(cycle_id, time);

CREATE TABLE IF NOT EXISTS balances (
	time DATETIME NOT NULL,
	available REAL NOT NULL,
	cycle_id TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_balances_time ON balances(time);
`

// PostgresSchema is Schema with Postgres column types.
const PostgresSchema = `
CREATE TABLE IF NOT EXISTS cycles (
	cycle_id TEXT PRIMARY KEY,
	symbol TEXT NOT NULL,
	direction TEXT NOT NULL,
	open_time TIMESTAMPTZ NOT NULL,
	close_time TIMESTAMPTZ,
	entry_price DOUBLE PRECISION NOT NULL,
	initial_size DOUBLE PRECISION NOT NULL,
	flips INTEGER NOT NULL,
	realized_pnl DOUBLE PRECISION NOT NULL,
	fees DOUBLE PRECISION NOT NULL,
	close_reason TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_cycles_close_time ON cycles(close_time);

CREATE TABLE IF NOT EXISTS events (
	event_id TEXT PRIMARY KEY,
	cycle_id TEXT NOT NULL,
	symbol TEXT NOT NULL,
	time TIMESTAMPTZ NOT NULL,
	kind TEXT NOT NULL,
	side TEXT NOT NULL,
	price DOUBLE PRECISION NOT NULL,
	size_usd DOUBLE PRECISION NOT NULL,
	flip_count INTEGER NOT NULL,
	detail TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_events_cycle ON events(cycle_id, time);

CREATE TABLE IF NOT EXISTS balances (
	time TIMESTAMPTZ NOT NULL,
	available DOUBLE PRECISION NOT NULL,
	cycle_id TEXT NOT NULL
);
`
