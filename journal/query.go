package journal

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// RecentKills returns the newest kill events first.
func (j *SQLite) RecentKills(limit int) ([]KillEvent, error) {
	rows, err := j.db.Query(`
		SELECT id, time, pnl, balance, outcome, detail
		FROM kills
		ORDER BY time DESC, id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []KillEvent
	for rows.Next() {
		var rec KillEvent
		if err := rows.Scan(
			&rec.ID,
			&rec.Time,
			&rec.PnL,
			&rec.Balance,
			&rec.Outcome,
			&rec.Detail,
		); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// GetKill returns a single kill event by ID.
func (j *SQLite) GetKill(killID string) (KillEvent, error) {
	var rec KillEvent
	err := j.db.QueryRow(`
		SELECT id, time, pnl, balance, outcome, detail
		FROM kills
		WHERE id = ?`, killID).Scan(
		&rec.ID,
		&rec.Time,
		&rec.PnL,
		&rec.Balance,
		&rec.Outcome,
		&rec.Detail,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return KillEvent{}, fmt.Errorf("kill %q not found", killID)
		}
		return KillEvent{}, err
	}
	return rec, nil
}

// ListSamplesBetween returns samples whose time is within [start, end).
func (j *SQLite) ListSamplesBetween(start, end time.Time) ([]Sample, error) {
	rows, err := j.db.Query(`
		SELECT id, time, cycle, pnl, balance, balance_source, ratio, breached, approaching
		FROM samples
		WHERE time >= ? AND time < ?
		ORDER BY time ASC, id ASC`, start.UTC(), end.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Sample
	for rows.Next() {
		var rec Sample
		if err := rows.Scan(
			&rec.ID,
			&rec.Time,
			&rec.Cycle,
			&rec.PnL,
			&rec.Balance,
			&rec.BalanceSource,
			&rec.Ratio,
			&rec.Breached,
			&rec.Approaching,
		); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// WorstPnLBetween is the lowest sampled P/L in [start, end); ok is false
// when there were no samples.
func (j *SQLite) WorstPnLBetween(start, end time.Time) (worst decimal.Decimal, ok bool, err error) {
	samples, err := j.ListSamplesBetween(start, end)
	if err != nil || len(samples) == 0 {
		return decimal.Zero, false, err
	}
	worst = samples[0].PnL
	for _, s := range samples[1:] {
		if s.PnL.LessThan(worst) {
			worst = s.PnL
		}
	}
	return worst, true, nil
}
