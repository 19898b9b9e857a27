package supervisor

import (
	"bufio"
	"errors"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rustyeddy/killswitch/internal/auth"
	"github.com/rustyeddy/killswitch/internal/notify"
	"github.com/rustyeddy/killswitch/internal/status"
)

// AuthScanner works out the monitor's authentication status from what the
// monitor leaves on disk.
type AuthScanner struct {
	StatusFile string
	LogFile    string
	// MaxAge is how old the status file may be before the log is used.
	MaxAge    time.Duration
	TailLines int
}

// Scan prefers a fresh status file and otherwise reads the tail of the log.
// The second value names the source used.
func (a AuthScanner) Scan(now time.Time) (status.Auth, string) {
	if a.StatusFile != "" {
		st, err := status.Read(a.StatusFile)
		if err == nil && st.Fresh(now, a.MaxAge) && st.Auth != status.Unknown {
			return st.Auth, "status"
		}
	}
	if a.LogFile == "" {
		return status.Unknown, "none"
	}
	lines, err := TailLines(a.LogFile, a.TailLines)
	if err != nil {
		return status.Unknown, "none"
	}
	return MarkerStatus(lines), "log"
}

var markers = map[string]status.Auth{
	auth.MarkerExpired:  status.Expired,
	auth.MarkerManual:   status.Expired,
	auth.MarkerRestored: status.Valid,
}

// MarkerStatus returns the status implied by the latest marker in lines.
func MarkerStatus(lines []string) status.Auth {
	for i := len(lines) - 1; i >= 0; i-- {
		best, at := status.Unknown, -1
		for m, st := range markers {
			if j := strings.LastIndex(lines[i], m); j > at {
				best, at = st, j
			}
		}
		if at >= 0 {
			return best
		}
	}
	return status.Unknown
}

// maxLineBytes bounds a single log line. Longer lines are skipped so the
// lines after them are still seen.
const maxLineBytes = 1024 * 1024

// TailLines returns up to the last n lines of path.
func TailLines(path string, n int) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if n <= 0 {
		n = 1000
	}
	ring := make([]string, 0, n)
	start := 0
	push := func(line string) {
		if len(ring) < n {
			ring = append(ring, line)
			return
		}
		ring[start] = line
		start = (start + 1) % n
	}

	r := bufio.NewReaderSize(f, 64*1024)
	var (
		buf     []byte
		tooLong bool
	)
	for {
		chunk, err := r.ReadSlice('\n')
		if !tooLong && len(buf)+len(chunk) <= maxLineBytes {
			buf = append(buf, chunk...)
		} else {
			tooLong = true
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		if !tooLong && (err == nil || len(buf) > 0) {
			push(strings.TrimRight(string(buf), "\r\n"))
		}
		buf, tooLong = buf[:0], false
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
	}
	return append(ring[start:], ring[:start]...), nil
}

// authAlerter turns scan results into edge-triggered notifications.
type authAlerter struct {
	confirmations int
	streak        int
	expiredSent   bool
}

func (a *authAlerter) observe(st status.Auth) (notify.Message, bool) {
	switch st {
	case status.Expired:
		a.streak++
		if a.streak >= a.confirmations && !a.expiredSent {
			a.expiredSent = true
			return notify.Message{
				Title: "Webull Authentication Expired",
				Body:  "Your Webull token has expired. Run `killswitch token import` to update it.",
				Sound: true,
			}, true
		}
	case status.Valid:
		a.streak = 0
		if a.expiredSent {
			a.expiredSent = false
			return notify.Message{
				Title: "Webull Authentication Restored",
				Body:  "Your Webull token has been refreshed successfully.",
				Sound: true,
			}, true
		}
	}
	return notify.Message{}, false
}
