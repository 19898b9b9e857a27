// Package config holds the root command's flags and builds the components
// every sub-command shares.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/rustyeddy/killswitch/broker"
	"github.com/rustyeddy/killswitch/broker/sim"
	"github.com/rustyeddy/killswitch/broker/webull"
	"github.com/rustyeddy/killswitch/config"
	"github.com/rustyeddy/killswitch/internal/auth"
	"github.com/rustyeddy/killswitch/internal/clock"
	"github.com/rustyeddy/killswitch/internal/killswitch"
	"github.com/rustyeddy/killswitch/internal/logging"
	"github.com/rustyeddy/killswitch/internal/metrics"
	"github.com/rustyeddy/killswitch/internal/monitor"
	"github.com/rustyeddy/killswitch/internal/notify"
	"github.com/rustyeddy/killswitch/internal/supervisor"
	"github.com/rustyeddy/killswitch/internal/token"
	"github.com/rustyeddy/killswitch/journal"
	"github.com/rustyeddy/killswitch/risk"
)

// RootConfig carries the persistent flags and, after Setup, the loaded
// configuration and logger.
type RootConfig struct {
	ConfigPath string
	EnvFile    string
	LogLevel   string
	Verbose    bool
	Test       bool

	Cfg *config.Config
	Log *zap.Logger

	closeLog func()
}

// Setup loads the file, overlays .env and the environment, applies the
// flags, validates, and opens the log.
func (rc *RootConfig) Setup() error {
	cfg := config.Default()
	if rc.ConfigPath != "" {
		loaded, err := config.LoadFromFile(rc.ConfigPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if err := cfg.ApplyEnv(rc.EnvFile); err != nil {
		return err
	}
	if rc.LogLevel != "" {
		cfg.Logging.Level = rc.LogLevel
	}
	if rc.Verbose {
		cfg.Logging.Level = "debug"
	}
	if rc.Test {
		cfg.Test.Enabled = true
	}
	rc.Test = cfg.Test.Enabled
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	rc.Cfg = cfg

	log, closeFn, err := logging.New(logging.Options{
		File:    cfg.Path(cfg.Logging.File),
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
	})
	if err != nil {
		return err
	}
	rc.Log, rc.closeLog = log, closeFn
	return nil
}

// Close flushes the log.
func (rc *RootConfig) Close() {
	if rc.closeLog != nil {
		rc.closeLog()
		rc.closeLog = nil
	}
}

func (rc *RootConfig) Threshold() risk.Threshold {
	t, _ := rc.Cfg.RiskThreshold() // validated in Setup
	return t
}

func (rc *RootConfig) Store() *token.Store {
	return token.NewStore(rc.Cfg.Path(rc.Cfg.Auth.TokenFile))
}

func (rc *RootConfig) Auth() *auth.Manager {
	c := rc.Cfg
	paths := c.Auth.StoragePaths
	if len(paths) == 0 {
		paths = auth.DefaultStoragePaths()
	}
	return auth.New(rc.Store(), clock.Real{}, rc.Log, auth.Options{
		AccountID:    c.Account.ID,
		RefreshURL:   c.Auth.RefreshURL,
		StoragePaths: paths,
		Timeout:      c.Auth.Timeout.D(),
		TestMode:     rc.Test,
	})
}

// Source is the account API, wrapped by the simulated account in test mode.
func (rc *RootConfig) Source() (broker.AccountSource, error) {
	client := webull.NewClient(rc.Cfg.Account.BaseURL, rc.Cfg.Account.Timeout.D())
	if !rc.Test {
		return client, nil
	}
	fixed, script, balance, err := rc.Cfg.TestScript()
	if err != nil {
		return nil, err
	}
	acct := sim.NewAccount(rc.Log).WithPrimary(client)
	if fixed != nil {
		acct.WithFixed(*fixed)
	}
	if len(script) > 0 {
		acct.WithScript(script...)
	}
	if balance != nil {
		acct.Balance = *balance
	}
	return acct, nil
}

func (rc *RootConfig) Notifier() notify.Notifier {
	if !rc.Cfg.Notify.Enabled {
		return notify.Nop{}
	}
	return notify.NewDesktop(rc.Log, rc.Cfg.Notify.Subtitle)
}

func (rc *RootConfig) Killer(n notify.Notifier) *killswitch.Executor {
	k := rc.Cfg.Kill
	args := make([]string, len(k.Args))
	for i, a := range k.Args {
		args[i] = config.ExpandHome(a)
	}
	return killswitch.New(killswitch.Config{
		Command:        config.ExpandHome(k.Command),
		Args:           args,
		Timeout:        k.Timeout.D(),
		SuccessMarkers: k.SuccessMarkers,
		PartialMarkers: k.PartialMarkers,
	}, rc.Threshold(), killswitch.ExecRunner{}, n, rc.Log)
}

func (rc *RootConfig) Journal() (journal.Journal, error) {
	return journal.Open(rc.Cfg.Journal.Type, rc.Cfg.Path(rc.Cfg.Journal.Path))
}

// Metrics returns the monitor's metrics, or the supervisor's when
// forSupervisor is set. The two processes write separate textfiles.
func (rc *RootConfig) Metrics(forSupervisor bool) *metrics.Metrics {
	path := rc.Cfg.Path(rc.Cfg.Metrics.Textfile)
	if path != "" && forSupervisor {
		path = strings.TrimSuffix(path, ".prom") + "_supervisor.prom"
	}
	return metrics.New(path)
}

func (rc *RootConfig) MonitorConfig(console io.Writer) monitor.Config {
	m := rc.Cfg.Monitor
	return monitor.Config{
		Interval:             m.Interval.D(),
		ErrorRetry:           m.ErrorRetry.D(),
		MaxConsecutiveErrors: m.MaxConsecutiveErrors,
		Cooldown:             m.Cooldown.D(),
		IdleChunk:            m.IdleChunk.D(),
		OpeningSoon:          m.OpeningSoon.D(),
		CloseBuffer:          m.CloseBuffer.D(),
		TestMode:             rc.Test,
		StatusFile:           rc.Cfg.Path(m.StatusFile),
		Console:              console,
	}
}

func (rc *RootConfig) SupervisorConfig() supervisor.Config {
	c := rc.Cfg
	s := c.Supervisor
	return supervisor.Config{
		PIDFile:                  c.Path(s.PIDFile),
		StateFile:                c.Path(s.StateFile),
		MonitorPIDFile:           c.Path(c.Monitor.PIDFile),
		StatusFile:               c.Path(c.Monitor.StatusFile),
		LogFile:                  c.Path(c.Logging.File),
		CheckInterval:            s.CheckInterval.D(),
		AuthScanInterval:         s.AuthScanInterval.D(),
		MaxRestarts:              s.MaxRestarts,
		RestartWindow:            s.RestartWindow.D(),
		RestartCooldown:          s.RestartCooldown.D(),
		LogTailLines:             s.LogTailLines,
		AuthExpiredConfirmations: s.AuthExpiredConfirmations,
		StopMonitorOnExit:        s.StopMonitorOnExit,
	}
}

// MonitorArgs is the command line the supervisor uses to start a monitor.
func (rc *RootConfig) MonitorArgs() []string {
	args := []string{"monitor"}
	if rc.ConfigPath != "" {
		args = append(args, "--config", rc.ConfigPath)
	}
	if rc.EnvFile != "" {
		args = append(args, "--env-file", rc.EnvFile)
	}
	if rc.LogLevel != "" {
		args = append(args, "--log-level", rc.LogLevel)
	}
	if rc.Verbose {
		args = append(args, "--verbose")
	}
	if rc.Test {
		args = append(args, "--test")
	}
	return args
}

// RecentKills reads the journal back when it supports it.
func (rc *RootConfig) RecentKills(limit int) ([]journal.KillEvent, error) {
	j, err := rc.Journal()
	if err != nil {
		return nil, err
	}
	defer j.Close()
	r, ok := j.(journal.Reader)
	if !ok {
		return nil, errors.New("journal type " + rc.Cfg.Journal.Type + " cannot be queried")
	}
	return r.RecentKills(limit)
}

// Executable is the path used to relaunch ourselves.
func Executable() string {
	exe, err := os.Executable()
	if err != nil {
		return os.Args[0]
	}
	return exe
}
