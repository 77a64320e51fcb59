package journal

// Schema is the DDL applied on every SQLiteJournal startup. Statements are
// idempotent so reopening an existing database is safe.
const Schema = `
CREATE TABLE IF NOT EXISTS trades (
	id                INTEGER PRIMARY KEY AUTOINCREMENT,
	trader_id         TEXT NOT NULL,
	symbol            TEXT NOT NULL,
	side              TEXT NOT NULL,
	quantity          REAL NOT NULL,
	entry_price       REAL NOT NULL,
	leverage          REAL NOT NULL DEFAULT 1,
	stop_loss_price   REAL NOT NULL DEFAULT 0,
	take_profit_price REAL NOT NULL DEFAULT 0,
	entry_order_id    TEXT NOT NULL DEFAULT '',
	exit_order_id     TEXT NOT NULL DEFAULT '',
	exit_price        REAL NOT NULL DEFAULT 0,
	exit_quantity     REAL NOT NULL DEFAULT 0,
	fees              REAL NOT NULL DEFAULT 0,
	realized_pnl      REAL NOT NULL DEFAULT 0,
	reason            TEXT NOT NULL DEFAULT '',
	status            TEXT NOT NULL DEFAULT 'OPEN',
	opened_at         TIMESTAMP NOT NULL,
	closed_at         TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_trades_status ON trades(status);
CREATE INDEX IF NOT EXISTS idx_trades_trader ON trades(trader_id);
`
