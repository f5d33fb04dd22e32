// journal/schema.go
package journal

const schema = `
CREATE TABLE IF NOT EXISTS entries (
	entry_id TEXT PRIMARY KEY,
	ticker TEXT NOT NULL,
	exchange TEXT NOT NULL,
	quantity INTEGER NOT NULL,
	limit_price REAL NOT NULL,
	order_no TEXT NOT NULL,
	placed_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS exits (
	exit_id TEXT PRIMARY KEY,
	ticker TEXT NOT NULL,
	quantity INTEGER NOT NULL,
	limit_price REAL NOT NULL,
	reason TEXT NOT NULL,
	stage_from INTEGER NOT NULL,
	stage_to INTEGER NOT NULL,
	profit_pct REAL NOT NULL,
	peak_pct REAL NOT NULL,
	placed_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_entries_ticker ON entries(ticker);
CREATE INDEX IF NOT EXISTS idx_exits_ticker ON exits(ticker);
`
