package journal

import (
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

var (
	sampleHeader = []string{"id", "time", "cycle", "pnl", "balance", "balance_source", "ratio", "breached", "approaching"}
	killHeader   = []string{"id", "time", "pnl", "balance", "outcome", "detail"}
)

// CSVJournal appends to two files; existing rows survive a restart.
type CSVJournal struct {
	samples *csv.Writer
	kills   *csv.Writer
	sf, kf  *os.File
}

func NewCSV(samplesPath, killsPath string) (*CSVJournal, error) {
	sf, sw, err := openAppend(samplesPath, sampleHeader)
	if err != nil {
		return nil, err
	}
	kf, kw, err := openAppend(killsPath, killHeader)
	if err != nil {
		_ = sf.Close()
		return nil, err
	}
	return &CSVJournal{samples: sw, kills: kw, sf: sf, kf: kf}, nil
}

func openAppend(path string, header []string) (*os.File, *csv.Writer, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, err
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, nil, err
	}
	w := csv.NewWriter(f)
	if info.Size() == 0 {
		if err := w.Write(header); err != nil {
			_ = f.Close()
			return nil, nil, err
		}
		w.Flush()
		if err := w.Error(); err != nil {
			_ = f.Close()
			return nil, nil, err
		}
	}
	return f, w, nil
}

func (j *CSVJournal) RecordSample(s Sample) error {
	s.fill()
	err := j.samples.Write([]string{
		s.ID,
		s.Time.UTC().Format(time.RFC3339Nano),
		strconv.Itoa(s.Cycle),
		s.PnL.String(),
		s.Balance.String(),
		s.BalanceSource,
		s.Ratio.String(),
		strconv.FormatBool(s.Breached),
		strconv.FormatBool(s.Approaching),
	})
	if err != nil {
		return err
	}
	j.samples.Flush()
	return j.samples.Error()
}

func (j *CSVJournal) RecordKill(k KillEvent) error {
	k.fill()
	err := j.kills.Write([]string{
		k.ID,
		k.Time.UTC().Format(time.RFC3339Nano),
		k.PnL.String(),
		k.Balance.String(),
		k.Outcome,
		k.Detail,
	})
	if err != nil {
		return err
	}
	j.kills.Flush()
	return j.kills.Error()
}

// RecentKills reads the kills file back, newest first.
func (j *CSVJournal) RecentKills(limit int) ([]KillEvent, error) {
	j.kills.Flush()
	f, err := os.Open(j.kf.Name())
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return readKills(f, limit)
}

func readKills(r io.Reader, limit int) ([]KillEvent, error) {
	rows, err := csv.NewReader(r).ReadAll()
	if err != nil {
		return nil, err
	}
	var out []KillEvent
	for i := len(rows) - 1; i >= 1 && (limit <= 0 || len(out) < limit); i-- {
		row := rows[i]
		if len(row) != len(killHeader) {
			continue
		}
		at, err := time.Parse(time.RFC3339Nano, row[1])
		if err != nil {
			return nil, err
		}
		pnl, err := decimal.NewFromString(row[2])
		if err != nil {
			return nil, err
		}
		bal, err := decimal.NewFromString(row[3])
		if err != nil {
			return nil, err
		}
		out = append(out, KillEvent{ID: row[0], Time: at, PnL: pnl, Balance: bal, Outcome: row[4], Detail: row[5]})
	}
	return out, nil
}

func (j *CSVJournal) Close() error {
	j.samples.Flush()
	if err := j.samples.Error(); err != nil {
		return err
	}
	j.kills.Flush()
	if err := j.kills.Error(); err != nil {
		return err
	}

	if err := j.sf.Close(); err != nil {
		return err
	}
	return j.kf.Close()
}
