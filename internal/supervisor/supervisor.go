// Package supervisor keeps exactly one monitor process alive. It owns the
// supervisor PID file, restarts the monitor within a rate limit and turns
// the monitor's authentication markers into desktop notifications.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/rustyeddy/killswitch/internal/clock"
	"github.com/rustyeddy/killswitch/internal/metrics"
	"github.com/rustyeddy/killswitch/internal/notify"
	"github.com/rustyeddy/killswitch/internal/pidfile"
	"github.com/rustyeddy/killswitch/internal/status"
)

var (
	ErrAlreadyRunning = errors.New("supervisor already running")
	ErrStalePID       = errors.New("stale supervisor PID file")
	ErrNotRunning     = errors.New("supervisor not running")
	ErrNoRecord       = errors.New("no supervisor state")
)

var (
	SupervisorIdentity = []string{"killswitch", "supervise"}
	MonitorIdentity    = []string{"killswitch", "monitor"}
)

type Config struct {
	PIDFile        string
	StateFile      string
	MonitorPIDFile string
	StatusFile     string
	LogFile        string

	CheckInterval            time.Duration
	AuthScanInterval         time.Duration
	MaxRestarts              int
	RestartWindow            time.Duration
	RestartCooldown          time.Duration
	LogTailLines             int
	AuthExpiredConfirmations int
	StopMonitorOnExit        bool
}

func (c *Config) defaults() {
	if c.CheckInterval <= 0 {
		c.CheckInterval = 10 * time.Second
	}
	if c.AuthScanInterval <= 0 {
		c.AuthScanInterval = 5 * time.Minute
	}
	if c.MaxRestarts <= 0 {
		c.MaxRestarts = 5
	}
	if c.RestartWindow <= 0 {
		c.RestartWindow = 10 * time.Minute
	}
	if c.RestartCooldown <= 0 {
		c.RestartCooldown = 5 * time.Minute
	}
	if c.LogTailLines <= 0 {
		c.LogTailLines = 1000
	}
	if c.AuthExpiredConfirmations <= 0 {
		c.AuthExpiredConfirmations = 1
	}
}

type Deps struct {
	Launcher  Launcher
	Inspector pidfile.Inspector
	Clock     clock.Clock
	Notifier  notify.Notifier
	Metrics   *metrics.Metrics
	Log       *zap.Logger
	// PID is our own pid; defaults to os.Getpid().
	PID int
}

type Supervisor struct {
	cfg      Config
	launcher Launcher
	in       pidfile.Inspector
	clock    clock.Clock
	notifier notify.Notifier
	metrics  *metrics.Metrics
	log      *zap.Logger
	pid      int

	scanner  AuthScanner
	alerter  authAlerter
	limiter  *RestartLimiter
	record   Record
	child    Process
	lastScan time.Time
	cooling  time.Time

	claimed  bool
	shutdown sync.Once
}

func New(cfg Config, d Deps) *Supervisor {
	cfg.defaults()
	if d.Inspector == nil {
		d.Inspector = pidfile.OS{}
	}
	if d.Clock == nil {
		d.Clock = clock.Real{}
	}
	if d.Notifier == nil {
		d.Notifier = notify.Nop{}
	}
	if d.Metrics == nil {
		d.Metrics = metrics.New("")
	}
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	if d.PID == 0 {
		d.PID = os.Getpid()
	}
	return &Supervisor{
		cfg:      cfg,
		launcher: d.Launcher,
		in:       d.Inspector,
		clock:    d.Clock,
		notifier: d.Notifier,
		metrics:  d.Metrics,
		log:      d.Log.Named("supervisor"),
		pid:      d.PID,
		scanner: AuthScanner{
			StatusFile: cfg.StatusFile,
			LogFile:    cfg.LogFile,
			MaxAge:     2 * cfg.AuthScanInterval,
			TailLines:  cfg.LogTailLines,
		},
		alerter: authAlerter{confirmations: cfg.AuthExpiredConfirmations},
		limiter: NewRestartLimiter(cfg.MaxRestarts, cfg.RestartWindow, cfg.RestartCooldown),
	}
}

// Record returns the current supervision record.
func (s *Supervisor) Record() Record { return s.record }

// Claim takes ownership of the PID file. It returns ErrAlreadyRunning when
// a live supervisor already holds it.
func (s *Supervisor) Claim() error {
	old, err := pidfile.Read(s.cfg.PIDFile)
	switch {
	case err == nil && old != s.pid && pidfile.Matches(s.in, old, SupervisorIdentity...):
		s.log.Info("supervisor already running", zap.Int("pid", old))
		return ErrAlreadyRunning
	case err == nil && old != s.pid:
		s.log.Warn("stale PID file, taking over", zap.Int("pid", old), zap.Error(ErrStalePID))
	case err != nil && !errors.Is(err, pidfile.ErrNotFound):
		s.log.Warn("unreadable PID file, taking over", zap.Error(err))
	}

	if err := pidfile.Write(s.cfg.PIDFile, s.pid); err != nil {
		return fmt.Errorf("write PID file: %w", err)
	}
	s.claimed = true
	s.record = Record{PID: s.pid, StartedAt: s.clock.Now()}
	s.saveRecord()
	s.log.Info("supervisor started", zap.Int("pid", s.pid), zap.String("pid_file", s.cfg.PIDFile))
	return nil
}

// Run claims the PID file, starts or adopts the monitor and supervises it
// until ctx is cancelled. A second supervisor returns ErrAlreadyRunning
// without side effects.
func (s *Supervisor) Run(ctx context.Context) error {
	if err := s.Claim(); err != nil {
		return err
	}
	defer s.Shutdown(context.WithoutCancel(ctx))

	s.notifier.Notify(ctx, notify.Message{Title: "Webull Monitor Starting", Body: "Kill switch monitor is starting up", Sound: true})
	if err := s.startMonitor(ctx); err != nil {
		s.launchFailed(ctx, err)
	}
	for {
		s.Step(ctx)
		if err := s.clock.Sleep(ctx, s.cfg.CheckInterval); err != nil {
			return nil
		}
	}
}

// Step checks the monitor once and, when due, scans its auth status.
func (s *Supervisor) Step(ctx context.Context) {
	now := s.clock.Now()
	if s.child == nil || !s.child.Alive() {
		s.monitorDown(ctx, now)
	}
	if s.lastScan.IsZero() || now.Sub(s.lastScan) >= s.cfg.AuthScanInterval {
		s.lastScan = now
		s.scanAuth(ctx, now)
	}
	if err := s.metrics.Flush(); err != nil {
		s.log.Warn("metrics flush failed", zap.Error(err))
	}
}

func (s *Supervisor) monitorDown(ctx context.Context, now time.Time) {
	if s.child != nil {
		s.log.Warn("monitor exited", zap.Int("pid", s.child.PID()), zap.Int("exit_code", s.child.ExitCode()))
		s.notifier.Notify(ctx, notify.Message{
			Title: "Webull Monitor Stopped",
			Body:  "Monitor process has stopped and is restarting",
			Sound: true,
		})
		s.child = nil
		s.metrics.MonitorUp.Set(0)
	}

	ok, until := s.limiter.Allow(now)
	if !ok {
		if !until.Equal(s.cooling) {
			s.cooling = until
			s.log.Warn("restart limit reached, cooling down",
				zap.Int("max_restarts", s.cfg.MaxRestarts),
				zap.Duration("window", s.cfg.RestartWindow),
				zap.Time("until", until))
			s.notifier.Notify(ctx, notify.Message{
				Title: "Webull Monitor Error",
				Body:  fmt.Sprintf("Monitor restarted %d times in %s; pausing until %s", s.cfg.MaxRestarts, s.cfg.RestartWindow, until.Format("15:04")),
				Sound: true,
			})
		}
		return
	}

	s.limiter.Record(now)
	s.record.RestartCount++
	s.record.LastRestartAt = now
	s.metrics.MonitorRestarts.Inc()
	if err := s.startMonitor(ctx); err != nil {
		s.launchFailed(ctx, err)
		return
	}
	s.log.Info("monitor restarted", zap.Int("pid", s.child.PID()), zap.Int("restart_count", s.record.RestartCount))
}

// startMonitor adopts a live monitor recorded in the monitor PID file or
// launches a new one.
func (s *Supervisor) startMonitor(ctx context.Context) error {
	if pid, err := pidfile.Read(s.cfg.MonitorPIDFile); err == nil && pidfile.Matches(s.in, pid, MonitorIdentity...) {
		s.child = &adopted{pid: pid, in: s.in, words: MonitorIdentity}
		s.log.Info("adopted running monitor", zap.Int("pid", pid))
	} else {
		p, err := s.launcher.Launch(ctx)
		if err != nil {
			return err
		}
		s.child = p
	}
	s.record.MonitorPID = s.child.PID()
	s.metrics.MonitorUp.Set(1)
	s.saveRecord()
	return nil
}

func (s *Supervisor) launchFailed(ctx context.Context, err error) {
	s.log.Error("monitor launch failed", zap.Error(err))
	s.notifier.Notify(ctx, notify.Message{Title: "Webull Monitor Error", Body: "Error starting monitor: " + err.Error(), Sound: true})
	s.saveRecord()
}

func (s *Supervisor) scanAuth(ctx context.Context, now time.Time) {
	st, source := s.scanner.Scan(now)
	s.metrics.SetAuthStatus(string(st))
	s.log.Debug("auth status scanned", zap.String("status", string(st)), zap.String("source", source))
	if msg, ok := s.alerter.observe(st); ok {
		s.log.Info("auth status changed", zap.String("status", string(st)))
		s.notifier.Notify(ctx, msg)
	}
}

// Shutdown stops the monitor when configured to, releases the PID file and
// persists the record. It is safe to call more than once.
func (s *Supervisor) Shutdown(ctx context.Context) {
	s.shutdown.Do(func() {
		if !s.claimed {
			return
		}
		if s.child != nil && s.cfg.StopMonitorOnExit {
			s.log.Info("stopping monitor", zap.Int("pid", s.child.PID()))
			if err := s.child.Kill(); err != nil {
				s.log.Warn("monitor kill failed", zap.Error(err))
			}
			s.metrics.MonitorUp.Set(0)
		}
		if err := pidfile.Remove(s.cfg.PIDFile, s.pid); err != nil {
			s.log.Warn("PID file removal failed", zap.Error(err))
		}
		s.saveRecord()
		if err := s.metrics.Flush(); err != nil {
			s.log.Warn("metrics flush failed", zap.Error(err))
		}
		s.log.Info("supervisor stopped")
		s.notifier.Notify(ctx, notify.Message{Title: "Webull Watchdog Stopped", Body: "Watchdog process has been terminated", Sound: true})
	})
}

func (s *Supervisor) saveRecord() {
	if s.cfg.StateFile == "" {
		return
	}
	if err := SaveRecord(s.cfg.StateFile, s.record); err != nil {
		s.log.Warn("state file write failed", zap.String("path", s.cfg.StateFile), zap.Error(err))
	}
}

// Stop sends SIGTERM to the supervisor recorded in pidFile.
func Stop(pidFile string, in pidfile.Inspector) (int, error) {
	pid, err := pidfile.Read(pidFile)
	if err != nil {
		if errors.Is(err, pidfile.ErrNotFound) {
			return 0, ErrNotRunning
		}
		return 0, err
	}
	if !pidfile.Matches(in, pid, SupervisorIdentity...) {
		return pid, ErrNotRunning
	}
	if err := in.Signal(pid, syscall.SIGTERM); err != nil {
		return pid, fmt.Errorf("signal supervisor %d: %w", pid, err)
	}
	return pid, nil
}

// Report describes the supervisor and monitor for the status command.
type Report struct {
	SupervisorPID     int
	SupervisorRunning bool
	MonitorPID        int
	MonitorRunning    bool
	Record            *Record
	Status            *status.Status
}

func Inspect(cfg Config, in pidfile.Inspector) Report {
	var r Report
	if pid, err := pidfile.Read(cfg.PIDFile); err == nil {
		r.SupervisorPID = pid
		r.SupervisorRunning = pidfile.Matches(in, pid, SupervisorIdentity...)
	}
	if pid, err := pidfile.Read(cfg.MonitorPIDFile); err == nil {
		r.MonitorPID = pid
		r.MonitorRunning = pidfile.Matches(in, pid, MonitorIdentity...)
	}
	if rec, err := LoadRecord(cfg.StateFile); err == nil {
		r.Record = &rec
	}
	if st, err := status.Read(cfg.StatusFile); err == nil {
		r.Status = &st
	}
	return r
}
