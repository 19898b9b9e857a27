package supervisor

import "time"

// RestartLimiter allows at most Max restarts within Window. Once the budget
// is spent it refuses everything for Cooldown and then starts afresh.
type RestartLimiter struct {
	Max      int
	Window   time.Duration
	Cooldown time.Duration

	history []time.Time
	until   time.Time
}

func NewRestartLimiter(max int, window, cooldown time.Duration) *RestartLimiter {
	return &RestartLimiter{Max: max, Window: window, Cooldown: cooldown}
}

// Allow reports whether a restart may happen at now. When it may not, the
// second value is the end of the current cooldown.
func (l *RestartLimiter) Allow(now time.Time) (bool, time.Time) {
	if !l.until.IsZero() {
		if now.Before(l.until) {
			return false, l.until
		}
		l.until = time.Time{}
		l.history = nil
	}
	l.prune(now)
	if len(l.history) >= l.Max {
		l.until = now.Add(l.Cooldown)
		return false, l.until
	}
	return true, time.Time{}
}

func (l *RestartLimiter) Record(now time.Time) {
	l.history = append(l.history, now)
}

// Recent is the number of restarts inside the window ending at now.
func (l *RestartLimiter) Recent(now time.Time) int {
	l.prune(now)
	return len(l.history)
}

func (l *RestartLimiter) prune(now time.Time) {
	cutoff := now.Add(-l.Window)
	keep := l.history[:0]
	for _, t := range l.history {
		if t.After(cutoff) {
			keep = append(keep, t)
		}
	}
	l.history = keep
}
