// Package status is the structured status file the monitor rewrites after
// every cycle and the supervisor reads instead of scraping the log.
package status

import (
	"errors"
	"fmt"
	"os"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/rustyeddy/killswitch/internal/token"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type Auth string

const (
	Valid   Auth = "valid"
	Expired Auth = "expired"
	Unknown Auth = "unknown"
)

type Status struct {
	Auth      Auth      `json:"status"`
	At        time.Time `json:"at"`
	PID       int       `json:"pid"`
	Cycle     int       `json:"cycle"`
	Phase     string    `json:"phase"`
	PnL       string    `json:"pnl,omitempty"`
	Balance   string    `json:"balance,omitempty"`
	Threshold string    `json:"threshold,omitempty"`
	Message   string    `json:"message,omitempty"`
}

var ErrNotFound = errors.New("status: no status file")

func Write(path string, s Status) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	return token.WriteFileAtomic(path, append(data, '\n'), 0o644)
}

func Read(path string) (Status, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Status{}, ErrNotFound
		}
		return Status{}, err
	}
	var s Status
	if err := json.Unmarshal(data, &s); err != nil {
		return Status{}, fmt.Errorf("status %s: %w", path, err)
	}
	switch s.Auth {
	case Valid, Expired:
	default:
		s.Auth = Unknown
	}
	return s, nil
}

// Fresh reports whether the status was written within maxAge of now.
func (s Status) Fresh(now time.Time, maxAge time.Duration) bool {
	if s.At.IsZero() {
		return false
	}
	age := now.Sub(s.At)
	return age >= -time.Minute && age <= maxAge
}
