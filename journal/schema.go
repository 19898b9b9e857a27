package journal

const Schema = `
CREATE TABLE IF NOT EXISTS samples (
	id TEXT PRIMARY KEY,
	time DATETIME NOT NULL,
	cycle INTEGER NOT NULL,
	pnl TEXT NOT NULL,
	balance TEXT NOT NULL,
	balance_source TEXT NOT NULL,
	ratio TEXT NOT NULL,
	breached INTEGER NOT NULL,
	approaching INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS kills (
	id TEXT PRIMARY KEY,
	time DATETIME NOT NULL,
	pnl TEXT NOT NULL,
	balance TEXT NOT NULL,
	outcome TEXT NOT NULL,
	detail TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_samples_time ON samples(time);
CREATE INDEX IF NOT EXISTS idx_kills_time ON kills(time);
`
