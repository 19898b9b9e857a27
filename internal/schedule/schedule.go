// Package schedule decides when the risk monitor should be polling.
//
// Every duration it returns is non-negative; any inconsistency collapses to
// Floor rather than an error.
package schedule

import (
	"fmt"
	"strings"
	"time"
	_ "time/tzdata"
)

// Floor is substituted whenever a computed wait would be negative or no
// trading day can be found.
const Floor = time.Minute

// searchDays bounds the roll-forward; two weeks covers any weekend plus a
// run of holidays.
const searchDays = 14

type Window struct {
	openMin  int
	closeMin int
	loc      *time.Location
	holidays map[string]bool
}

type Options struct {
	Open     string // "06:30"
	Close    string // "13:15"
	Location string // IANA name, "" means local time
	Holidays []string
}

func New(o Options) (*Window, error) {
	openMin, err := parseClock(o.Open)
	if err != nil {
		return nil, fmt.Errorf("schedule open: %w", err)
	}
	closeMin, err := parseClock(o.Close)
	if err != nil {
		return nil, fmt.Errorf("schedule close: %w", err)
	}
	if closeMin <= openMin {
		return nil, fmt.Errorf("schedule close %s must be after open %s", o.Close, o.Open)
	}

	loc := time.Local
	if o.Location != "" {
		loc, err = time.LoadLocation(o.Location)
		if err != nil {
			return nil, fmt.Errorf("schedule location: %w", err)
		}
	}

	holidays := make(map[string]bool, len(o.Holidays))
	for _, h := range o.Holidays {
		d, err := time.Parse(time.DateOnly, strings.TrimSpace(h))
		if err != nil {
			return nil, fmt.Errorf("schedule holiday %q: %w", h, err)
		}
		holidays[d.Format(time.DateOnly)] = true
	}

	return &Window{openMin: openMin, closeMin: closeMin, loc: loc, holidays: holidays}, nil
}

func parseClock(s string) (int, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("want HH:MM, got %q", s)
	}
	return t.Hour()*60 + t.Minute(), nil
}

func (w *Window) Location() *time.Location { return w.loc }

// String describes the window for logs and notifications.
func (w *Window) String() string {
	return fmt.Sprintf("%02d:%02d-%02d:%02d %s weekdays",
		w.openMin/60, w.openMin%60, w.closeMin/60, w.closeMin%60, w.loc)
}

func (w *Window) tradingDay(t time.Time) bool {
	switch t.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	return !w.holidays[t.Format(time.DateOnly)]
}

func (w *Window) at(day time.Time, minutes int) time.Time {
	y, m, d := day.Date()
	return time.Date(y, m, d, minutes/60, minutes%60, 0, 0, w.loc)
}

// IsOperatingWindow reports whether now falls on a trading day between open
// and close, both inclusive.
func (w *Window) IsOperatingWindow(now time.Time) bool {
	n := now.In(w.loc)
	if !w.tradingDay(n) {
		return false
	}
	return !n.Before(w.at(n, w.openMin)) && !n.After(w.at(n, w.closeMin))
}

// TimeUntilOpen is zero inside the window and otherwise the wait until the
// next open, rolling over weekends and holidays.
func (w *Window) TimeUntilOpen(now time.Time) time.Duration {
	if w.IsOperatingWindow(now) {
		return 0
	}
	next, ok := w.nextDay(now, w.openMin)
	if !ok {
		return Floor
	}
	return nonNegative(next.Sub(now))
}

// TimeUntilClose is the wait until today's close inside the window, and
// until the close of the next trading day outside it.
func (w *Window) TimeUntilClose(now time.Time) time.Duration {
	n := now.In(w.loc)
	if w.IsOperatingWindow(now) {
		return nonNegative(w.at(n, w.closeMin).Sub(n))
	}
	next, ok := w.nextDay(now, w.closeMin)
	if !ok {
		return Floor
	}
	return nonNegative(next.Sub(now))
}

// NextOpen returns the instant monitoring will next resume.
func (w *Window) NextOpen(now time.Time) time.Time {
	return now.Add(w.TimeUntilOpen(now))
}

// nextDay finds the first trading day whose minutes-of-day instant lies
// strictly after now.
func (w *Window) nextDay(now time.Time, minutes int) (time.Time, bool) {
	n := now.In(w.loc)
	for i := 0; i <= searchDays; i++ {
		y, m, d := n.Date()
		day := time.Date(y, m, d+i, 12, 0, 0, 0, w.loc)
		if !w.tradingDay(day) {
			continue
		}
		candidate := w.at(day, minutes)
		if candidate.After(n) {
			return candidate, true
		}
	}
	return time.Time{}, false
}

func nonNegative(d time.Duration) time.Duration {
	if d < 0 {
		return Floor
	}
	return d
}
