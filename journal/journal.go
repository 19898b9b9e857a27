// Package journal is the audit trail of account samples and kill events.
package journal

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rustyeddy/killswitch/pkg/id"
)

// Sample is one successful account poll.
type Sample struct {
	ID            string
	Time          time.Time
	Cycle         int
	PnL           decimal.Decimal
	Balance       decimal.Decimal
	BalanceSource string
	Ratio         decimal.Decimal
	Breached      bool
	Approaching   bool
}

// KillEvent is one kill command invocation.
type KillEvent struct {
	ID      string
	Time    time.Time
	PnL     decimal.Decimal
	Balance decimal.Decimal
	Outcome string
	Detail  string
}

type Journal interface {
	RecordSample(Sample) error
	RecordKill(KillEvent) error
	Close() error
}

// Reader is implemented by journals that can be queried back.
type Reader interface {
	RecentKills(limit int) ([]KillEvent, error)
}

// Nop drops everything.
type Nop struct{}

func (Nop) RecordSample(Sample) error  { return nil }
func (Nop) RecordKill(KillEvent) error { return nil }
func (Nop) Close() error               { return nil }

// Open returns the journal for kind: "sqlite" (path is the database file),
// "csv" (path is a directory) or "none".
func Open(kind, path string) (Journal, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "", "none":
		return Nop{}, nil
	case "sqlite":
		return NewSQLite(path)
	case "csv":
		return NewCSV(filepath.Join(path, "samples.csv"), filepath.Join(path, "kills.csv"))
	}
	return nil, fmt.Errorf("unknown journal kind %q (want sqlite|csv|none)", kind)
}

func (s *Sample) fill() {
	if s.Time.IsZero() {
		s.Time = time.Now()
	}
	if s.ID == "" {
		s.ID = id.At(s.Time)
	}
}

func (k *KillEvent) fill() {
	if k.Time.IsZero() {
		k.Time = time.Now()
	}
	if k.ID == "" {
		k.ID = id.At(k.Time)
	}
}
