package journal

import (
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSQLite(t *testing.T) (*SQLite, string) {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "journal", "test.db")

	j, err := NewSQLite(path)
	require.NoError(t, err)

	return j, path
}

func TestSQLiteSchemaCreated(t *testing.T) {
	t.Parallel()

	j, path := newTestSQLite(t)
	assert.NoError(t, j.Close())

	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	rows, err := db.Query(`SELECT name FROM sqlite_master WHERE type='table' AND name IN ('samples','kills')`)
	require.NoError(t, err)
	defer rows.Close()

	found := map[string]bool{}
	for rows.Next() {
		var name string
		assert.NoError(t, rows.Scan(&name))
		found[name] = true
	}
	assert.NoError(t, rows.Err())

	assert.True(t, found["samples"])
	assert.True(t, found["kills"])
}

func TestSQLiteRecordSample(t *testing.T) {
	t.Parallel()

	j, _ := newTestSQLite(t)
	t.Cleanup(func() { _ = j.Close() })

	at := time.Date(2026, 10, 19, 17, 0, 0, 0, time.UTC)
	require.NoError(t, j.RecordSample(Sample{
		Time:          at,
		Cycle:         4,
		PnL:           decimal.RequireFromString("-550.25"),
		Balance:       decimal.NewFromInt(10000),
		BalanceSource: "totalCashValue",
		Ratio:         decimal.RequireFromString("-0.055025"),
		Breached:      true,
	}))

	got, err := j.ListSamplesBetween(at.Add(-time.Minute), at.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, got, 1)
	s := got[0]
	assert.NotEmpty(t, s.ID)
	parsed, err := ulid.ParseStrict(s.ID)
	require.NoError(t, err)
	assert.True(t, ulid.Time(parsed.Time()).Equal(at))
	assert.True(t, s.Time.Equal(at))
	assert.Equal(t, 4, s.Cycle)
	assert.Equal(t, "-550.25", s.PnL.String())
	assert.Equal(t, "totalCashValue", s.BalanceSource)
	assert.True(t, s.Breached)
	assert.False(t, s.Approaching)
}

func TestSQLiteWorstPnL(t *testing.T) {
	t.Parallel()

	j, _ := newTestSQLite(t)
	t.Cleanup(func() { _ = j.Close() })

	start := time.Date(2026, 10, 19, 14, 0, 0, 0, time.UTC)
	for i, v := range []int64{-100, -300, -400, -250} {
		require.NoError(t, j.RecordSample(Sample{
			Time:  start.Add(time.Duration(i) * time.Minute),
			Cycle: i + 1,
			PnL:   decimal.NewFromInt(v),
		}))
	}

	worst, ok, err := j.WorstPnLBetween(start, start.Add(time.Hour))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "-400", worst.String())

	_, ok, err = j.WorstPnLBetween(start.Add(-2*time.Hour), start.Add(-time.Hour))
	require.NoError(t, err)
	assert.False(t, ok)
}
