package journal

import (
	"database/sql"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

type SQLite struct {
	db *sql.DB
}

func NewSQLite(path string) (*SQLite, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	if _, err := db.Exec(Schema); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &SQLite{db: db}, nil
}

func (j *SQLite) RecordSample(s Sample) error {
	s.fill()
	_, err := j.db.Exec(`
		INSERT INTO samples
		(id, time, cycle, pnl, balance, balance_source, ratio, breached, approaching)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.Time.UTC(), s.Cycle, s.PnL.String(), s.Balance.String(),
		s.BalanceSource, s.Ratio.String(), s.Breached, s.Approaching,
	)
	return err
}

func (j *SQLite) RecordKill(k KillEvent) error {
	k.fill()
	_, err := j.db.Exec(`
		INSERT INTO kills
		(id, time, pnl, balance, outcome, detail)
		VALUES (?, ?, ?, ?, ?, ?)`,
		k.ID, k.Time.UTC(), k.PnL.String(), k.Balance.String(), k.Outcome, k.Detail,
	)
	return err
}

func (j *SQLite) Close() error {
	return j.db.Close()
}
