package journal

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestFormatKillOrg(t *testing.T) {
	t.Parallel()

	k := KillEvent{
		ID:      "01JAXYZ1234567890ABCDEFGHJ",
		Time:    time.Date(2026, 10, 19, 17, 4, 0, 0, time.UTC),
		PnL:     decimal.NewFromInt(-550),
		Balance: decimal.NewFromInt(10000),
		Outcome: "closed",
		Detail:  "",
	}
	result := FormatKillOrg(k)

	assert.Contains(t, result, "** Kill: closed (01JAXYZ1)")
	assert.Contains(t, result, ":ID: 01JAXYZ1234567890ABCDEFGHJ")
	assert.Contains(t, result, ":TIME: 2026-10-19T17:04:00Z")
	assert.Contains(t, result, ":PNL: -550.00")
	assert.Contains(t, result, ":BALANCE: 10000.00")
	assert.Contains(t, result, ":END:")
}

func TestFormatKillOrgShortIDAndDetail(t *testing.T) {
	t.Parallel()

	result := FormatKillOrg(KillEvent{ID: "k1", Outcome: "failed", Detail: "exit status 1: boom"})
	assert.Contains(t, result, "** Kill: failed (k1)")
	assert.Contains(t, result, "exit status 1: boom")
}

func TestFormatKillsOrgEmpty(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "* Kill events (0)\n", FormatKillsOrg(nil))
}

func TestFormatSamplesOrg(t *testing.T) {
	t.Parallel()

	result := FormatSamplesOrg([]Sample{
		{Cycle: 1, PnL: decimal.NewFromInt(-100), Balance: decimal.NewFromInt(10000), Ratio: decimal.RequireFromString("0.2")},
		{Cycle: 2, PnL: decimal.NewFromInt(-400), Balance: decimal.NewFromInt(10000), Ratio: decimal.RequireFromString("0.8"), Approaching: true},
		{Cycle: 3, PnL: decimal.NewFromInt(-550), Balance: decimal.NewFromInt(10000), Ratio: decimal.RequireFromString("1.1"), Breached: true},
	})
	assert.Contains(t, result, "| 1 | -100.00 | 10000.00 | 0.2000 | normal |")
	assert.Contains(t, result, "| 2 | -400.00 | 10000.00 | 0.8000 | approaching |")
	assert.Contains(t, result, "| 3 | -550.00 | 10000.00 | 1.1000 | breached |")
}
