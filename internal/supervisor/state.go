package supervisor

import (
	"errors"
	"fmt"
	"os"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/rustyeddy/killswitch/internal/token"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Record is the supervision state persisted next to the PID file.
type Record struct {
	PID           int       `json:"pid"`
	StartedAt     time.Time `json:"startedAt"`
	RestartCount  int       `json:"restartCount"`
	LastRestartAt time.Time `json:"lastRestartAt"`
	MonitorPID    int       `json:"monitorPid"`
}

func LoadRecord(path string) (Record, error) {
	var r Record
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return r, ErrNoRecord
		}
		return r, err
	}
	if err := json.Unmarshal(data, &r); err != nil {
		return r, fmt.Errorf("supervisor state %s: %w", path, err)
	}
	return r, nil
}

func SaveRecord(path string, r Record) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return err
	}
	return token.WriteFileAtomic(path, append(data, '\n'), 0o644)
}
