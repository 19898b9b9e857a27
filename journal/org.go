package journal

import (
	"fmt"
	"strings"
	"time"
)

// FormatKillOrg renders a kill event as an org-mode entry.
func FormatKillOrg(k KillEvent) string {
	var b strings.Builder
	fmt.Fprintf(&b, "** Kill: %s (%s)\n", k.Outcome, shortID(k.ID))
	b.WriteString(":PROPERTIES:\n")
	fmt.Fprintf(&b, ":ID: %s\n", k.ID)
	fmt.Fprintf(&b, ":TIME: %s\n", k.Time.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, ":OUTCOME: %s\n", k.Outcome)
	fmt.Fprintf(&b, ":PNL: %s\n", k.PnL.StringFixed(2))
	fmt.Fprintf(&b, ":BALANCE: %s\n", k.Balance.StringFixed(2))
	b.WriteString(":END:\n")
	if k.Detail != "" {
		fmt.Fprintf(&b, "%s\n", k.Detail)
	}
	return b.String()
}

// FormatKillsOrg renders kill events under one heading.
func FormatKillsOrg(kills []KillEvent) string {
	var b strings.Builder
	fmt.Fprintf(&b, "* Kill events (%d)\n", len(kills))
	for _, k := range kills {
		b.WriteString(FormatKillOrg(k))
	}
	return b.String()
}

// FormatSamplesOrg renders samples as an org table.
func FormatSamplesOrg(samples []Sample) string {
	var b strings.Builder
	b.WriteString("| time | cycle | pnl | balance | ratio | state |\n")
	b.WriteString("|------+-------+-----+---------+-------+-------|\n")
	for _, s := range samples {
		state := "normal"
		switch {
		case s.Breached:
			state = "breached"
		case s.Approaching:
			state = "approaching"
		}
		fmt.Fprintf(&b, "| %s | %d | %s | %s | %s | %s |\n",
			s.Time.Local().Format(time.DateTime), s.Cycle,
			s.PnL.StringFixed(2), s.Balance.StringFixed(2), s.Ratio.StringFixed(4), state)
	}
	return b.String()
}

func shortID(full string) string {
	if len(full) <= 8 {
		return full
	}
	return full[:8]
}
