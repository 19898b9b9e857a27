package supervisor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/rustyeddy/killswitch/internal/clock"
	"github.com/rustyeddy/killswitch/internal/notify"
	"github.com/rustyeddy/killswitch/internal/pidfile"
	"github.com/rustyeddy/killswitch/internal/status"
)

var t0 = time.Date(2026, 10, 19, 16, 0, 0, 0, time.UTC)

const selfPID = 600

type fakeProc struct {
	pid    int
	alive  bool
	killed bool
}

func (p *fakeProc) PID() int      { return p.pid }
func (p *fakeProc) Alive() bool   { return p.alive }
func (p *fakeProc) ExitCode() int { return -1 }
func (p *fakeProc) Kill() error {
	p.killed, p.alive = true, false
	return nil
}

type fakeLauncher struct {
	procs []*fakeProc
	err   error
}

func (l *fakeLauncher) Launch(context.Context) (Process, error) {
	if l.err != nil {
		return nil, l.err
	}
	p := &fakeProc{pid: 1000 + len(l.procs), alive: true}
	l.procs = append(l.procs, p)
	return p, nil
}

func (l *fakeLauncher) last() *fakeProc { return l.procs[len(l.procs)-1] }

type harness struct {
	sup      *Supervisor
	cfg      Config
	clk      *clock.Fake
	launcher *fakeLauncher
	in       *pidfile.Fake
	notes    *notify.Recorder
	logs     *observer.ObservedLogs
}

func newHarness(t *testing.T, mutate func(*Config)) *harness {
	t.Helper()
	dir := t.TempDir()
	cfg := Config{
		PIDFile:           filepath.Join(dir, "supervisor.pid"),
		StateFile:         filepath.Join(dir, "supervisor.state.json"),
		MonitorPIDFile:    filepath.Join(dir, "monitor.pid"),
		LogFile:           filepath.Join(dir, "killswitch.log"),
		StopMonitorOnExit: true,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	core, logs := observer.New(zapcore.DebugLevel)
	h := &harness{
		cfg:      cfg,
		clk:      clock.NewFake(t0),
		launcher: &fakeLauncher{},
		in:       &pidfile.Fake{Procs: map[int]string{}},
		notes:    &notify.Recorder{},
		logs:     logs,
	}
	h.sup = New(cfg, Deps{
		Launcher:  h.launcher,
		Inspector: h.in,
		Clock:     h.clk,
		Notifier:  h.notes,
		Log:       zap.New(core),
		PID:       selfPID,
	})
	return h
}

func (h *harness) countNotes(title string) int {
	n := 0
	for _, got := range h.notes.Titles() {
		if got == title {
			n++
		}
	}
	return n
}

func (h *harness) appendLog(t *testing.T, line string) {
	t.Helper()
	f, err := os.OpenFile(h.cfg.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = fmt.Fprintln(f, line)
	require.NoError(t, err)
	require.NoError(t, f.Close())
}

func TestSecondStartIsNoop(t *testing.T) {
	h := newHarness(t, nil)
	h.in.Procs[500] = "/usr/local/bin/killswitch supervise"
	require.NoError(t, pidfile.Write(h.cfg.PIDFile, 500))

	err := h.sup.Run(context.Background())
	assert.ErrorIs(t, err, ErrAlreadyRunning)

	assert.Empty(t, h.launcher.procs)
	assert.Empty(t, h.notes.Titles())
	pid, err := pidfile.Read(h.cfg.PIDFile)
	require.NoError(t, err)
	assert.Equal(t, 500, pid)
	assert.Equal(t, 1, h.logs.FilterMessage("supervisor already running").Len())
}

func TestStalePIDIsTakenOver(t *testing.T) {
	h := newHarness(t, nil)
	h.in.Procs[500] = "/usr/bin/vim notes.txt"
	require.NoError(t, pidfile.Write(h.cfg.PIDFile, 500))

	require.NoError(t, h.sup.Claim())
	pid, err := pidfile.Read(h.cfg.PIDFile)
	require.NoError(t, err)
	assert.Equal(t, selfPID, pid)
	assert.Equal(t, 1, h.logs.FilterMessage("stale PID file, taking over").Len())

	rec, err := LoadRecord(h.cfg.StateFile)
	require.NoError(t, err)
	assert.Equal(t, selfPID, rec.PID)
	assert.True(t, rec.StartedAt.Equal(t0))
}

func TestRestartsDeadMonitor(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.sup.Claim())
	require.NoError(t, h.sup.startMonitor(context.Background()))
	require.Len(t, h.launcher.procs, 1)

	h.launcher.last().alive = false
	h.clk.Advance(10 * time.Second)
	h.sup.Step(context.Background())

	require.Len(t, h.launcher.procs, 2)
	rec := h.sup.Record()
	assert.Equal(t, 1, rec.RestartCount)
	assert.Equal(t, 1001, rec.MonitorPID)
	assert.True(t, rec.LastRestartAt.Equal(t0.Add(10*time.Second)))
	assert.Equal(t, 1, h.countNotes("Webull Monitor Stopped"))
}

func TestRestartLimitCoolsDown(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.sup.Claim())
	require.NoError(t, h.sup.startMonitor(context.Background()))

	for i := 0; i < 8; i++ {
		h.launcher.last().alive = false
		h.clk.Advance(10 * time.Second)
		h.sup.Step(context.Background())
	}
	assert.Len(t, h.launcher.procs, 6, "initial launch plus five restarts")
	assert.Equal(t, 5, h.sup.Record().RestartCount)
	assert.Equal(t, 1, h.countNotes("Webull Monitor Error"))

	h.clk.Advance(5 * time.Minute)
	h.sup.Step(context.Background())
	assert.Len(t, h.launcher.procs, 7, "restarts resume after the cooldown")
}

func TestRestartLimiter(t *testing.T) {
	l := NewRestartLimiter(5, 10*time.Minute, 5*time.Minute)
	now := t0
	for i := 0; i < 5; i++ {
		ok, _ := l.Allow(now)
		require.True(t, ok, "restart %d", i)
		l.Record(now)
		now = now.Add(time.Minute)
	}

	ok, until := l.Allow(now)
	assert.False(t, ok)
	assert.True(t, until.Equal(now.Add(5*time.Minute)))

	ok, _ = l.Allow(until.Add(-time.Second))
	assert.False(t, ok)

	ok, _ = l.Allow(until)
	assert.True(t, ok)
	assert.Zero(t, l.Recent(until))
}

func TestRestartLimiterWindowSlides(t *testing.T) {
	l := NewRestartLimiter(2, 10*time.Minute, 5*time.Minute)
	l.Record(t0)
	l.Record(t0.Add(time.Minute))

	ok, _ := l.Allow(t0.Add(10*time.Minute + time.Second))
	assert.True(t, ok, "the first restart has left the window")
	assert.Equal(t, 1, l.Recent(t0.Add(10*time.Minute+time.Second)))
}

func TestLaunchFailureIsRetried(t *testing.T) {
	h := newHarness(t, nil)
	h.launcher.err = errors.New("exec: no such file")
	require.NoError(t, h.sup.Claim())

	h.sup.Step(context.Background())
	assert.Equal(t, 1, h.countNotes("Webull Monitor Error"))

	h.launcher.err = nil
	h.sup.Step(context.Background())
	assert.Len(t, h.launcher.procs, 1)
}

func TestAuthNotificationsAreEdgeTriggered(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.sup.Claim())
	require.NoError(t, h.sup.startMonitor(context.Background()))
	ctx := context.Background()

	h.appendLog(t, "2026-10-19T09:00:00 WARN monitor AUTH_EXPIRED account API rejected the credential")
	h.sup.Step(ctx)

	h.clk.Advance(5 * time.Minute)
	h.sup.Step(ctx)

	h.appendLog(t, "2026-10-19T09:09:00 INFO auth AUTH_RESTORED credential refreshed")
	h.clk.Advance(5 * time.Minute)
	h.sup.Step(ctx)

	h.clk.Advance(5 * time.Minute)
	h.sup.Step(ctx)

	assert.Equal(t, []string{"Webull Authentication Expired", "Webull Authentication Restored"}, h.notes.Titles())
}

func TestAuthScanOnlyWhenDue(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.sup.Claim())
	require.NoError(t, h.sup.startMonitor(context.Background()))

	h.sup.Step(context.Background())
	h.appendLog(t, "AUTH_EXPIRED")
	h.clk.Advance(10 * time.Second)
	h.sup.Step(context.Background())
	assert.Empty(t, h.notes.Titles(), "next scan is five minutes after the first")

	h.clk.Advance(5 * time.Minute)
	h.sup.Step(context.Background())
	assert.Equal(t, 1, h.countNotes("Webull Authentication Expired"))
}

func TestExpiredConfirmations(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.AuthExpiredConfirmations = 2 })
	require.NoError(t, h.sup.Claim())
	require.NoError(t, h.sup.startMonitor(context.Background()))
	h.appendLog(t, "NEEDS_MANUAL_INTERVENTION refresh failed")

	h.sup.Step(context.Background())
	assert.Empty(t, h.notes.Titles())

	h.clk.Advance(5 * time.Minute)
	h.sup.Step(context.Background())
	assert.Equal(t, 1, h.countNotes("Webull Authentication Expired"))
}

func TestFreshStatusFileWinsOverLog(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.StatusFile = filepath.Join(filepath.Dir(c.LogFile), "monitor.status.json") })
	require.NoError(t, h.sup.Claim())
	require.NoError(t, h.sup.startMonitor(context.Background()))

	h.appendLog(t, "AUTH_EXPIRED old episode")
	require.NoError(t, status.Write(h.cfg.StatusFile, status.Status{Auth: status.Valid, At: t0.Add(-time.Minute)}))
	h.sup.Step(context.Background())
	assert.Empty(t, h.notes.Titles())

	// a stale status file falls back to the log
	h.clk.Advance(20 * time.Minute)
	h.sup.Step(context.Background())
	assert.Equal(t, 1, h.countNotes("Webull Authentication Expired"))
}

func TestShutdownKillsMonitorAndReleasesPIDFile(t *testing.T) {
	h := newHarness(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	h.clk.OnSleep = func(time.Time, time.Duration) {
		if len(h.clk.Sleeps()) == 3 {
			cancel()
		}
	}

	require.NoError(t, h.sup.Run(ctx))
	require.Len(t, h.launcher.procs, 1)
	assert.True(t, h.launcher.last().killed)

	_, err := pidfile.Read(h.cfg.PIDFile)
	assert.ErrorIs(t, err, pidfile.ErrNotFound)
	rec, err := LoadRecord(h.cfg.StateFile)
	require.NoError(t, err)
	assert.Equal(t, 1000, rec.MonitorPID)
	assert.Equal(t, []string{"Webull Monitor Starting", "Webull Watchdog Stopped"}, h.notes.Titles())
}

func TestShutdownCanLeaveMonitorRunning(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.StopMonitorOnExit = false })
	require.NoError(t, h.sup.Claim())
	require.NoError(t, h.sup.startMonitor(context.Background()))

	h.sup.Shutdown(context.Background())
	h.sup.Shutdown(context.Background())
	assert.False(t, h.launcher.last().killed)
	assert.Equal(t, 1, h.countNotes("Webull Watchdog Stopped"))
}

func TestAdoptsRunningMonitor(t *testing.T) {
	h := newHarness(t, nil)
	h.in.Procs[700] = "/usr/local/bin/killswitch monitor --config ks.yaml"
	require.NoError(t, pidfile.Write(h.cfg.MonitorPIDFile, 700))
	require.NoError(t, h.sup.Claim())

	require.NoError(t, h.sup.startMonitor(context.Background()))
	assert.Empty(t, h.launcher.procs)
	assert.Equal(t, 700, h.sup.Record().MonitorPID)

	h.sup.Shutdown(context.Background())
	assert.Equal(t, []os.Signal{syscall.SIGKILL}, h.in.Signals[700])
}

func TestAdoptIgnoresReusedPID(t *testing.T) {
	h := newHarness(t, nil)
	h.in.Procs[700] = "/usr/sbin/sshd"
	require.NoError(t, pidfile.Write(h.cfg.MonitorPIDFile, 700))

	require.NoError(t, h.sup.startMonitor(context.Background()))
	assert.Len(t, h.launcher.procs, 1)
}

func TestStop(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "supervisor.pid")
	in := &pidfile.Fake{Procs: map[int]string{500: "killswitch supervise"}}

	_, err := Stop(path, in)
	assert.ErrorIs(t, err, ErrNotRunning)

	require.NoError(t, pidfile.Write(path, 500))
	pid, err := Stop(path, in)
	require.NoError(t, err)
	assert.Equal(t, 500, pid)
	assert.Equal(t, []os.Signal{syscall.SIGTERM}, in.Signals[500])

	_, err = Stop(path, in)
	assert.ErrorIs(t, err, ErrNotRunning)
}

func TestInspect(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.StatusFile = filepath.Join(filepath.Dir(c.LogFile), "monitor.status.json") })
	h.in.Procs[selfPID] = "killswitch supervise"
	require.NoError(t, h.sup.Claim())
	require.NoError(t, status.Write(h.cfg.StatusFile, status.Status{Auth: status.Valid, At: t0, Cycle: 3}))

	r := Inspect(h.cfg, h.in)
	assert.True(t, r.SupervisorRunning)
	assert.Equal(t, selfPID, r.SupervisorPID)
	assert.False(t, r.MonitorRunning)
	require.NotNil(t, r.Record)
	require.NotNil(t, r.Status)
	assert.Equal(t, 3, r.Status.Cycle)
}

func TestMarkerStatus(t *testing.T) {
	tests := []struct {
		name  string
		lines []string
		want  status.Auth
	}{
		{"empty", nil, status.Unknown},
		{"no markers", []string{"polled", "polled"}, status.Unknown},
		{"expired", []string{"AUTH_EXPIRED", "polled"}, status.Expired},
		{"restored after expired", []string{"AUTH_EXPIRED", "AUTH_RESTORED"}, status.Valid},
		{"expired after restored", []string{"AUTH_RESTORED", "x", "AUTH_EXPIRED"}, status.Expired},
		{"manual", []string{"AUTH_RESTORED", "MONITOR_FATAL NEEDS_MANUAL_INTERVENTION"}, status.Expired},
		{"later marker on one line", []string{"AUTH_EXPIRED then AUTH_RESTORED"}, status.Valid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MarkerStatus(tt.lines))
		})
	}
}

func TestTailLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log")
	var b strings.Builder
	for i := 1; i <= 10; i++ {
		fmt.Fprintf(&b, "line %d\n", i)
	}
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0o644))

	got, err := TailLines(path, 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"line 8", "line 9", "line 10"}, got)

	got, err = TailLines(path, 50)
	require.NoError(t, err)
	assert.Len(t, got, 10)

	_, err = TailLines(filepath.Join(t.TempDir(), "missing"), 3)
	assert.Error(t, err)
}

func TestTailLinesSkipsOversizedLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log")
	var b strings.Builder
	b.WriteString("09:00 INFO auth AUTH_RESTORED\n")
	b.WriteString(strings.Repeat("x", 2*maxLineBytes))
	b.WriteString("\n09:05 WARN auth AUTH_EXPIRED\n")
	b.WriteString("09:05 INFO monitor waiting")
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0o644))

	got, err := TailLines(path, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"09:00 INFO auth AUTH_RESTORED",
		"09:05 WARN auth AUTH_EXPIRED",
		"09:05 INFO monitor waiting",
	}, got)
	assert.Equal(t, status.Expired, MarkerStatus(got))
}
