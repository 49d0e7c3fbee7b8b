package history

const schema = `
CREATE TABLE IF NOT EXISTS quotes (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	quote_id TEXT NOT NULL UNIQUE,
	session TEXT NOT NULL,
	side TEXT NOT NULL,
	base_asset TEXT NOT NULL,
	quote_asset TEXT NOT NULL,
	target_asset TEXT NOT NULL,
	amount TEXT NOT NULL,
	client_price TEXT NOT NULL,
	provider_price TEXT NOT NULL,
	provider TEXT NOT NULL,
	markup_bps TEXT NOT NULL,
	client_gives_amount TEXT NOT NULL,
	client_gives_asset TEXT NOT NULL,
	client_receives_amount TEXT NOT NULL,
	client_receives_asset TEXT NOT NULL,
	validity_ms INTEGER NOT NULL,
	is_improvement INTEGER NOT NULL,
	locked_provider TEXT NOT NULL,
	poll_number INTEGER NOT NULL,
	epoch INTEGER NOT NULL,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_quotes_created ON quotes(created_at);
CREATE INDEX IF NOT EXISTS idx_quotes_provider ON quotes(provider);

CREATE TABLE IF NOT EXISTS provider_quotes (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	quote_id TEXT NOT NULL,
	provider TEXT NOT NULL,
	price TEXT NOT NULL,
	quantity TEXT NOT NULL,
	validity_ms INTEGER NOT NULL,
	response_time_ms REAL,
	side TEXT NOT NULL,
	diagnostics TEXT,
	timestamp TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_provider_quotes_quote ON provider_quotes(quote_id);

CREATE TABLE IF NOT EXISTS provider_performance (
	provider TEXT PRIMARY KEY,
	total_quotes INTEGER NOT NULL,
	total_wins INTEGER NOT NULL,
	win_rate REAL NOT NULL,
	avg_response_time_ms REAL,
	best_price TEXT NOT NULL,
	worst_price TEXT NOT NULL,
	last_updated TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS executions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	execution_id TEXT NOT NULL UNIQUE,
	quote_id TEXT NOT NULL,
	status TEXT NOT NULL,
	provider TEXT NOT NULL,
	exchange_side TEXT,
	quantity TEXT,
	quote_qty TEXT,
	executed_qty TEXT,
	executed_quote_qty TEXT,
	avg_price TEXT,
	commission TEXT,
	commission_asset TEXT,
	pnl_amount TEXT,
	pnl_asset TEXT,
	pnl_after_fees TEXT,
	pnl_bps TEXT,
	error_message TEXT,
	executed_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_executions_quote ON executions(quote_id);
`
