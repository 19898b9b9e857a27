// Package monitor is the polling loop: fetch the account P/L inside the
// operating window, compare it with the loss threshold and fire the kill
// action on a breach.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rustyeddy/killswitch/broker"
	"github.com/rustyeddy/killswitch/internal/auth"
	"github.com/rustyeddy/killswitch/internal/clock"
	"github.com/rustyeddy/killswitch/internal/killswitch"
	"github.com/rustyeddy/killswitch/internal/metrics"
	"github.com/rustyeddy/killswitch/internal/notify"
	"github.com/rustyeddy/killswitch/internal/status"
	"github.com/rustyeddy/killswitch/internal/token"
	"github.com/rustyeddy/killswitch/journal"
	"github.com/rustyeddy/killswitch/risk"
)

// MarkerFatal prefixes the last log line of a monitor that gives up.
const MarkerFatal = "MONITOR_FATAL"

// ErrFatal means re-authentication failed at the error cap.
var ErrFatal = errors.New("monitor: re-authentication failed")

type Phase string

const (
	PhaseIdle          Phase = "idle"
	PhasePolling       Phase = "polling"
	PhaseEvaluating    Phase = "evaluating"
	PhaseTriggering    Phase = "triggering"
	PhaseCoolingDown   Phase = "cooling-down"
	PhaseSleeping      Phase = "sleeping"
	PhaseReconnecting  Phase = "reconnecting"
	PhaseOutsideWindow Phase = "outside-window"
	PhaseStopped       Phase = "stopped"
)

type State struct {
	Cycle             int
	ConsecutiveErrors int
	LastPnL           decimal.Decimal
	LastBalance       decimal.Decimal
	Threshold         risk.Threshold
	Phase             Phase
	LastBreachAt      time.Time
	LastPollAt        time.Time
}

type Authenticator interface {
	AccountAuth(ctx context.Context) (broker.Auth, error)
	Reauthenticate(ctx context.Context) (token.Credential, error)
}

type Killer interface {
	Execute(ctx context.Context, pnl, balance decimal.Decimal) (killswitch.Outcome, error)
}

type Window interface {
	IsOperatingWindow(now time.Time) bool
	TimeUntilOpen(now time.Time) time.Duration
	TimeUntilClose(now time.Time) time.Duration
}

type Config struct {
	Interval             time.Duration
	ErrorRetry           time.Duration
	MaxConsecutiveErrors int
	Cooldown             time.Duration
	IdleChunk            time.Duration
	OpeningSoon          time.Duration
	CloseBuffer          time.Duration
	// TestMode polls around the clock with a short interval.
	TestMode   bool
	StatusFile string
	Console    io.Writer
}

func (c *Config) defaults() {
	if c.Interval <= 0 {
		c.Interval = time.Minute
	}
	if c.ErrorRetry <= 0 {
		c.ErrorRetry = 15 * time.Second
	}
	if c.MaxConsecutiveErrors <= 0 {
		c.MaxConsecutiveErrors = 5
	}
	if c.Cooldown <= 0 {
		c.Cooldown = 5 * time.Minute
	}
	if c.IdleChunk <= 0 {
		c.IdleChunk = 30 * time.Minute
	}
	if c.OpeningSoon <= 0 {
		c.OpeningSoon = 15 * time.Minute
	}
	if c.CloseBuffer <= 0 {
		c.CloseBuffer = 10 * time.Second
	}
	if c.Console == nil {
		c.Console = io.Discard
	}
}

type Deps struct {
	Auth     Authenticator
	Source   broker.AccountSource
	Killer   Killer
	Window   Window
	Clock    clock.Clock
	Notifier notify.Notifier
	Journal  journal.Journal
	Metrics  *metrics.Metrics
	Log      *zap.Logger
}

type Monitor struct {
	cfg       Config
	threshold risk.Threshold

	auth     Authenticator
	source   broker.AccountSource
	killer   Killer
	window   Window
	clock    clock.Clock
	notifier notify.Notifier
	journal  journal.Journal
	metrics  *metrics.Metrics
	log      *zap.Logger

	mu    sync.Mutex
	state State

	authStatus  status.Auth
	authAlerted bool
	idle        bool
	openingSoon bool
}

func New(cfg Config, threshold risk.Threshold, d Deps) *Monitor {
	cfg.defaults()
	if d.Clock == nil {
		d.Clock = clock.Real{}
	}
	if d.Notifier == nil {
		d.Notifier = notify.Nop{}
	}
	if d.Journal == nil {
		d.Journal = journal.Nop{}
	}
	if d.Metrics == nil {
		d.Metrics = metrics.New("")
	}
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	metrics.SetDecimal(d.Metrics.Threshold, threshold.Value)
	return &Monitor{
		cfg:        cfg,
		threshold:  threshold,
		auth:       d.Auth,
		source:     d.Source,
		killer:     d.Killer,
		window:     d.Window,
		clock:      d.Clock,
		notifier:   d.Notifier,
		journal:    d.Journal,
		metrics:    d.Metrics,
		log:        d.Log.Named("monitor"),
		state:      State{Threshold: threshold, Phase: PhaseIdle},
		authStatus: status.Unknown,
	}
}

// State returns a copy of the loop state.
func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Monitor) update(fn func(s *State)) {
	m.mu.Lock()
	fn(&m.state)
	m.mu.Unlock()
}

func (m *Monitor) setPhase(p Phase) {
	m.update(func(s *State) { s.Phase = p })
}

// Run loops until ctx is cancelled (returns nil) or re-authentication fails
// at the error cap (returns ErrFatal).
func (m *Monitor) Run(ctx context.Context) error {
	m.log.Info("monitor starting",
		zap.Stringer("threshold", m.threshold),
		zap.Duration("interval", m.cfg.Interval),
		zap.Bool("test_mode", m.cfg.TestMode))
	m.notifier.Notify(ctx, notify.Message{
		Title: "Webull Monitor Started",
		Body:  fmt.Sprintf("Threshold %s, checking every %s", m.threshold, m.cfg.Interval),
	})

	for {
		wait, err := m.Step(ctx)
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			break
		}
		if err := m.clock.Sleep(ctx, wait); err != nil {
			break
		}
	}

	m.setPhase(PhaseStopped)
	m.log.Info("monitor stopped")
	m.publish("monitor stopped")
	m.notifier.Notify(ctx, notify.Message{Title: "Webull Monitor Stopped", Body: "Monitoring has ended"})
	return nil
}

// Step performs one cycle and returns how long to wait before the next.
func (m *Monitor) Step(ctx context.Context) (time.Duration, error) {
	now := m.clock.Now()
	if !m.cfg.TestMode && !m.window.IsOperatingWindow(now) {
		m.metrics.InWindow.Set(0)
		return m.outsideWindow(ctx, now), nil
	}
	m.metrics.InWindow.Set(1)
	if m.idle {
		m.idle, m.openingSoon = false, false
		m.log.Info("operating window open, monitoring resumed")
		m.notifier.Notify(ctx, notify.Message{Title: "Webull Monitor Active", Body: "Market is open, monitoring resumed"})
	}

	m.setPhase(PhasePolling)
	m.update(func(s *State) { s.Cycle++ })

	a, err := m.auth.AccountAuth(ctx)
	if err != nil {
		return m.fetchFailed(ctx, err)
	}
	sum, err := m.source.AccountSummary(ctx, a)
	if err != nil {
		return m.fetchFailed(ctx, err)
	}

	m.setPhase(PhaseEvaluating)
	d, err := m.threshold.Evaluate(sum.PnL, sum.Balance)
	if err != nil {
		return m.fetchFailed(ctx, err)
	}
	m.polled(now, sum, d)

	if !d.Breached {
		m.setPhase(PhaseSleeping)
		return m.pollInterval(now), nil
	}
	m.trigger(ctx, now, d)
	m.setPhase(PhaseCoolingDown)
	m.log.Info("cooling down after kill action", zap.Duration("cooldown", m.cfg.Cooldown))
	return m.cfg.Cooldown, nil
}

func (m *Monitor) polled(now time.Time, sum broker.Summary, d risk.Decision) {
	var cycle int
	m.update(func(s *State) {
		s.ConsecutiveErrors = 0
		s.LastPnL, s.LastBalance = sum.PnL, sum.Balance
		s.LastPollAt = now
		cycle = s.Cycle
	})
	if m.authAlerted {
		m.authAlerted = false
		m.log.Info(auth.MarkerRestored + " account API accepting credential again")
	}
	m.authStatus = status.Valid

	m.log.Info("account polled",
		zap.Int("cycle", cycle),
		zap.String("pnl", sum.PnL.StringFixed(2)),
		zap.String("balance", sum.Balance.StringFixed(2)),
		zap.String("balance_source", sum.BalanceSource),
		zap.String("pnl_pct", d.PercentOfBalance().StringFixed(2)),
		zap.String("risk_status", sum.RiskStatus),
		zap.String("state", d.Label()))
	fmt.Fprintf(m.cfg.Console, "[%s] Kill Switch Monitor Active - Cycle: %d | Threshold: %s | P/L: $%s | Balance: $%s | %s\n",
		now.Format(time.DateTime), cycle, m.threshold, sum.PnL.StringFixed(2), sum.Balance.StringFixed(2), d.Label())

	if err := m.journal.RecordSample(journal.Sample{
		Time:          now,
		Cycle:         cycle,
		PnL:           sum.PnL,
		Balance:       sum.Balance,
		BalanceSource: sum.BalanceSource,
		Ratio:         d.Ratio,
		Breached:      d.Breached,
		Approaching:   d.Approaching,
	}); err != nil {
		m.log.Warn("journal sample failed", zap.Error(err))
	}

	m.metrics.Polls.WithLabelValues("ok").Inc()
	metrics.SetDecimal(m.metrics.PnL, sum.PnL)
	metrics.SetDecimal(m.metrics.Balance, sum.Balance)
	m.metrics.Cycle.Set(float64(cycle))
	m.metrics.ConsecutiveErrors.Set(0)
	m.metrics.LastPoll.Set(float64(now.Unix()))
	m.publish(d.Label())
}

func (m *Monitor) trigger(ctx context.Context, now time.Time, d risk.Decision) {
	m.setPhase(PhaseTriggering)
	m.update(func(s *State) { s.LastBreachAt = now })
	m.log.Warn("THRESHOLD REACHED, triggering kill action",
		zap.String("pnl", d.PnL.StringFixed(2)),
		zap.Stringer("threshold", m.threshold))

	outcome, err := m.killer.Execute(ctx, d.PnL, d.Balance)
	ev := journal.KillEvent{Time: now, PnL: d.PnL, Balance: d.Balance, Outcome: string(outcome)}
	if err != nil {
		ev.Detail = err.Error()
		m.log.Error("kill action failed, will retry on next breach", zap.Error(err))
	}
	if jerr := m.journal.RecordKill(ev); jerr != nil {
		m.log.Warn("journal kill failed", zap.Error(jerr))
	}
	m.metrics.Kills.WithLabelValues(string(outcome)).Inc()
}

func (m *Monitor) fetchFailed(ctx context.Context, err error) (time.Duration, error) {
	if ctx.Err() != nil {
		return 0, nil
	}

	var count int
	m.update(func(s *State) {
		s.ConsecutiveErrors++
		count = s.ConsecutiveErrors
	})
	m.metrics.Polls.WithLabelValues("error").Inc()
	m.metrics.ConsecutiveErrors.Set(float64(count))

	if isAuthFailure(err) {
		m.authStatus = status.Expired
		if !m.authAlerted {
			m.authAlerted = true
			m.log.Warn(auth.MarkerExpired+" account API rejected the credential", zap.Error(err))
			m.notifier.Notify(ctx, notify.Message{
				Title: "Webull Authentication Expired",
				Body:  "The account API rejected the token; attempting to re-authenticate",
				Sound: true,
			})
		} else {
			m.log.Warn("account API still rejecting the credential", zap.Error(err), zap.Int("consecutive_errors", count))
		}
	} else {
		m.log.Warn("account poll failed", zap.Error(err), zap.Int("consecutive_errors", count))
	}

	if count < m.cfg.MaxConsecutiveErrors {
		m.setPhase(PhaseSleeping)
		m.publish(err.Error())
		return minDuration(m.cfg.Interval, m.cfg.ErrorRetry), nil
	}
	return m.reconnect(ctx, count)
}

func (m *Monitor) reconnect(ctx context.Context, count int) (time.Duration, error) {
	m.setPhase(PhaseReconnecting)
	m.log.Warn("too many consecutive errors, re-authenticating", zap.Int("consecutive_errors", count))

	if _, err := m.auth.Reauthenticate(ctx); err != nil {
		m.metrics.Reauths.WithLabelValues("failed").Inc()
		m.authStatus = status.Expired
		m.setPhase(PhaseStopped)
		m.log.Error(MarkerFatal+" "+auth.MarkerManual+" re-authentication failed, monitor exiting", zap.Error(err))
		m.publish("re-authentication failed: " + err.Error())
		m.notifier.Notify(ctx, notify.Message{
			Title: "Webull Monitor Stopped",
			Body:  "Re-authentication failed. Capture a new token and restart.",
			Sound: true,
		})
		return 0, fmt.Errorf("%w: %v", ErrFatal, err)
	}

	m.metrics.Reauths.WithLabelValues("ok").Inc()
	m.update(func(s *State) { s.ConsecutiveErrors = 0 })
	m.metrics.ConsecutiveErrors.Set(0)
	m.authAlerted = false
	m.authStatus = status.Valid
	m.setPhase(PhasePolling)
	m.publish("re-authenticated")
	return 0, nil
}

func (m *Monitor) outsideWindow(ctx context.Context, now time.Time) time.Duration {
	m.setPhase(PhaseOutsideWindow)
	untilOpen := m.window.TimeUntilOpen(now)
	opensAt := now.Add(untilOpen)

	if !m.idle {
		m.idle = true
		m.log.Info("outside operating window, idling", zap.Time("opens_at", opensAt))
		m.notifier.Notify(ctx, notify.Message{
			Title: "Webull Monitor Idle",
			Body:  "Market closed. Monitoring resumes at " + opensAt.Format("Mon 15:04 MST"),
		})
	} else {
		m.log.Info("monitor alive, waiting for operating window", zap.Duration("until_open", untilOpen))
	}

	if untilOpen <= m.cfg.OpeningSoon {
		if !m.openingSoon {
			m.openingSoon = true
			m.notifier.Notify(ctx, notify.Message{
				Title: "Webull Market Opening Soon",
				Body:  fmt.Sprintf("Monitoring resumes in %s", untilOpen.Round(time.Minute)),
			})
		}
		m.publish("opening soon")
		return untilOpen
	}
	m.publish("outside operating window")
	return minDuration(untilOpen, m.cfg.IdleChunk)
}

func (m *Monitor) pollInterval(now time.Time) time.Duration {
	if m.cfg.TestMode {
		return minDuration(m.cfg.Interval, 5*time.Second)
	}
	if untilClose := m.window.TimeUntilClose(now); untilClose < m.cfg.Interval {
		return untilClose + m.cfg.CloseBuffer
	}
	return m.cfg.Interval
}

// publish writes the status file and flushes metrics. Failures are logged
// only.
func (m *Monitor) publish(message string) {
	s := m.State()
	if m.cfg.StatusFile != "" {
		st := status.Status{
			Auth:      m.authStatus,
			At:        m.clock.Now(),
			PID:       os.Getpid(),
			Cycle:     s.Cycle,
			Phase:     string(s.Phase),
			Threshold: m.threshold.String(),
			Message:   message,
		}
		if !s.LastPollAt.IsZero() {
			st.PnL = s.LastPnL.StringFixed(2)
			st.Balance = s.LastBalance.StringFixed(2)
		}
		if err := status.Write(m.cfg.StatusFile, st); err != nil {
			m.log.Warn("status file write failed", zap.String("path", m.cfg.StatusFile), zap.Error(err))
		}
	}
	if err := m.metrics.Flush(); err != nil {
		m.log.Warn("metrics flush failed", zap.Error(err))
	}
}

func isAuthFailure(err error) bool {
	if errors.Is(err, broker.ErrAuthRejected) || errors.Is(err, token.ErrNotFound) {
		return true
	}
	_, ok := auth.KindOf(err)
	return ok
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
