package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	jsoniter "github.com/json-iterator/go"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/rustyeddy/killswitch/internal/logging"
	"github.com/rustyeddy/killswitch/internal/schedule"
	"github.com/rustyeddy/killswitch/risk"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Config is the complete killswitch configuration. It is built once at
// start-up and passed by pointer; nothing else reads the environment.
type Config struct {
	// Dir anchors every relative file path below.
	Dir        string           `json:"dir" yaml:"dir"`
	Account    AccountConfig    `json:"account" yaml:"account"`
	Threshold  ThresholdConfig  `json:"threshold" yaml:"threshold"`
	Monitor    MonitorConfig    `json:"monitor" yaml:"monitor"`
	Schedule   ScheduleConfig   `json:"schedule" yaml:"schedule"`
	Auth       AuthConfig       `json:"auth" yaml:"auth"`
	Kill       KillConfig       `json:"kill" yaml:"kill"`
	Supervisor SupervisorConfig `json:"supervisor" yaml:"supervisor"`
	Journal    JournalConfig    `json:"journal" yaml:"journal"`
	Logging    LoggingConfig    `json:"logging" yaml:"logging"`
	Notify     NotifyConfig     `json:"notify" yaml:"notify"`
	Metrics    MetricsConfig    `json:"metrics" yaml:"metrics"`
	Test       TestConfig       `json:"test" yaml:"test"`
}

// AccountConfig locates the account API.
type AccountConfig struct {
	// ID is the secAccountId; empty uses the token's user id.
	ID      string   `json:"id,omitempty" yaml:"id,omitempty"`
	BaseURL string   `json:"base_url" yaml:"base_url"`
	Timeout Duration `json:"timeout" yaml:"timeout"`
}

type ThresholdConfig struct {
	Kind  string `json:"kind" yaml:"kind"`   // DOLLAR or PERCENT
	Value string `json:"value" yaml:"value"` // -500, or -0.05 for PERCENT
}

type MonitorConfig struct {
	Interval             Duration `json:"interval" yaml:"interval"`
	ErrorRetry           Duration `json:"error_retry" yaml:"error_retry"`
	MaxConsecutiveErrors int      `json:"max_consecutive_errors" yaml:"max_consecutive_errors"`
	Cooldown             Duration `json:"cooldown" yaml:"cooldown"`
	IdleChunk            Duration `json:"idle_chunk" yaml:"idle_chunk"`
	OpeningSoon          Duration `json:"opening_soon" yaml:"opening_soon"`
	CloseBuffer          Duration `json:"close_buffer" yaml:"close_buffer"`
	StatusFile           string   `json:"status_file" yaml:"status_file"`
	PIDFile              string   `json:"pid_file" yaml:"pid_file"`
}

type ScheduleConfig struct {
	Open     string   `json:"open" yaml:"open"`
	Close    string   `json:"close" yaml:"close"`
	Location string   `json:"location" yaml:"location"`
	Holidays []string `json:"holidays,omitempty" yaml:"holidays,omitempty"`
}

type AuthConfig struct {
	TokenFile    string   `json:"token_file" yaml:"token_file"`
	RefreshURL   string   `json:"refresh_url" yaml:"refresh_url"`
	Timeout      Duration `json:"timeout" yaml:"timeout"`
	StoragePaths []string `json:"storage_paths,omitempty" yaml:"storage_paths,omitempty"`
}

type KillConfig struct {
	Command        string   `json:"command" yaml:"command"`
	Args           []string `json:"args,omitempty" yaml:"args,omitempty"`
	Timeout        Duration `json:"timeout" yaml:"timeout"`
	SuccessMarkers []string `json:"success_markers,omitempty" yaml:"success_markers,omitempty"`
	PartialMarkers []string `json:"partial_markers,omitempty" yaml:"partial_markers,omitempty"`
}

type SupervisorConfig struct {
	PIDFile                  string   `json:"pid_file" yaml:"pid_file"`
	StateFile                string   `json:"state_file" yaml:"state_file"`
	CheckInterval            Duration `json:"check_interval" yaml:"check_interval"`
	AuthScanInterval         Duration `json:"auth_scan_interval" yaml:"auth_scan_interval"`
	MaxRestarts              int      `json:"max_restarts" yaml:"max_restarts"`
	RestartWindow            Duration `json:"restart_window" yaml:"restart_window"`
	RestartCooldown          Duration `json:"restart_cooldown" yaml:"restart_cooldown"`
	LogTailLines             int      `json:"log_tail_lines" yaml:"log_tail_lines"`
	AuthExpiredConfirmations int      `json:"auth_expired_confirmations" yaml:"auth_expired_confirmations"`
	StopMonitorOnExit        bool     `json:"stop_monitor_on_exit" yaml:"stop_monitor_on_exit"`
}

type JournalConfig struct {
	Type string `json:"type" yaml:"type"` // "sqlite", "csv" or "none"
	// Path is the database file for sqlite and a directory for csv.
	Path string `json:"path" yaml:"path"`
}

type LoggingConfig struct {
	File    string `json:"file" yaml:"file"`
	Level   string `json:"level" yaml:"level"`
	Console bool   `json:"console" yaml:"console"`
}

type NotifyConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	Subtitle string `json:"subtitle" yaml:"subtitle"`
}

type MetricsConfig struct {
	// Textfile is written in Prometheus exposition format; empty disables.
	Textfile string `json:"textfile,omitempty" yaml:"textfile,omitempty"`
}

// TestConfig drives the simulated account used by --test.
type TestConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
	// PnL fixes the simulated P/L; empty plays the built-in wave.
	PnL     string   `json:"pnl,omitempty" yaml:"pnl,omitempty"`
	Script  []string `json:"script,omitempty" yaml:"script,omitempty"`
	Balance string   `json:"balance,omitempty" yaml:"balance,omitempty"`
}

// Duration reads "90s" style strings from YAML and JSON.
type Duration time.Duration

func (d Duration) D() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

func (d Duration) MarshalYAML() (interface{}, error) { return d.String(), nil }

func (d *Duration) UnmarshalYAML(n *yaml.Node) error {
	v, err := parseDuration(n.Value)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) { return json.Marshal(d.String()) }

func (d *Duration) UnmarshalJSON(b []byte) error {
	v, err := parseDuration(strings.Trim(string(b), `"`))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// parseDuration accepts Go durations and bare integers meaning seconds.
func parseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.Atoi(s); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("duration %q: %w", s, err)
	}
	return d, nil
}

// LoadFromFile loads configuration from a file (JSON or YAML) on top of
// Default. Validation is left to the caller so the environment overlay can
// run first.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := Default()

	// Try YAML first, fall back to JSON
	if err := yaml.Unmarshal(data, cfg); err != nil {
		cfg = Default()
		if jerr := json.Unmarshal(data, cfg); jerr != nil {
			return nil, fmt.Errorf("parse config (tried YAML and JSON): %w", errors.Join(err, jerr))
		}
	}
	return cfg, nil
}

// SaveToFile saves configuration to a file (JSON or YAML based on extension)
func (c *Config) SaveToFile(path string) error {
	var data []byte
	var err error

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(c)
	default:
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

// Environment keys read by ApplyEnv.
const (
	EnvThreshold = "DEFAULT_THRESHOLD"
	EnvInterval  = "CHECK_INTERVAL"
	EnvTestPnL   = "TEST_PNL"
	EnvTokenFile = "KILLSWITCH_TOKEN_FILE"
	EnvLogFile   = "KILLSWITCH_LOG_FILE"
	EnvAccountID = "FUTURES_ACCOUNT_ID"
)

// ApplyEnv overlays values from envFile (a .env file, optional) and the
// process environment. The environment wins over the file.
func (c *Config) ApplyEnv(envFile string) error {
	fromFile := map[string]string{}
	if envFile != "" {
		m, err := godotenv.Read(envFile)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("read %s: %w", envFile, err)
		}
		if m != nil {
			fromFile = m
		}
	}
	lookup := func(key string) (string, bool) {
		if v, ok := os.LookupEnv(key); ok {
			return v, true
		}
		v, ok := fromFile[key]
		return v, ok
	}

	if v, ok := lookup(EnvThreshold); ok {
		c.Threshold.Value = v
	}
	if v, ok := lookup(EnvInterval); ok {
		if err := c.SetInterval(v); err != nil {
			return fmt.Errorf("%s: %w", EnvInterval, err)
		}
	}
	if v, ok := lookup(EnvTestPnL); ok {
		c.Test.PnL = v
	}
	if v, ok := lookup(EnvTokenFile); ok {
		c.Auth.TokenFile = v
	}
	if v, ok := lookup(EnvLogFile); ok {
		c.Logging.File = v
	}
	if v, ok := lookup(EnvAccountID); ok {
		c.Account.ID = v
	}
	return nil
}

// SetInterval sets the poll interval from "90s" or a bare number of seconds.
func (c *Config) SetInterval(s string) error {
	d, err := parseDuration(s)
	if err != nil {
		return err
	}
	c.Monitor.Interval = Duration(d)
	return nil
}

// Path resolves p against Dir. "~/" is expanded.
func (c *Config) Path(p string) string {
	if p == "" {
		return ""
	}
	p = ExpandHome(p)
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(ExpandHome(c.Dir), p)
}

func ExpandHome(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return p
}

// RiskThreshold parses the threshold section.
func (c *Config) RiskThreshold() (risk.Threshold, error) {
	kind, err := risk.ParseKind(c.Threshold.Kind)
	if err != nil {
		return risk.Threshold{}, err
	}
	v, err := decimal.NewFromString(strings.TrimSpace(c.Threshold.Value))
	if err != nil {
		return risk.Threshold{}, fmt.Errorf("threshold.value %q: %w", c.Threshold.Value, err)
	}
	t := risk.Threshold{Kind: kind, Value: v}
	return t, t.Validate()
}

// Window builds the operating window.
func (c *Config) Window() (*schedule.Window, error) {
	return schedule.New(schedule.Options{
		Open:     c.Schedule.Open,
		Close:    c.Schedule.Close,
		Location: c.Schedule.Location,
		Holidays: c.Schedule.Holidays,
	})
}

// TestScript returns the fixed P/L, the scripted sequence and the balance
// for the simulated account. Zero values mean "use the built-in default".
func (c *Config) TestScript() (fixed *decimal.Decimal, script []decimal.Decimal, balance *decimal.Decimal, err error) {
	if c.Test.PnL != "" {
		v, err := decimal.NewFromString(strings.TrimSpace(c.Test.PnL))
		if err != nil {
			return nil, nil, nil, fmt.Errorf("test.pnl %q: %w", c.Test.PnL, err)
		}
		fixed = &v
	}
	for _, s := range c.Test.Script {
		v, err := decimal.NewFromString(strings.TrimSpace(s))
		if err != nil {
			return nil, nil, nil, fmt.Errorf("test.script %q: %w", s, err)
		}
		script = append(script, v)
	}
	if c.Test.Balance != "" {
		v, err := decimal.NewFromString(strings.TrimSpace(c.Test.Balance))
		if err != nil {
			return nil, nil, nil, fmt.Errorf("test.balance %q: %w", c.Test.Balance, err)
		}
		balance = &v
	}
	return fixed, script, balance, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if _, err := c.RiskThreshold(); err != nil {
		return fmt.Errorf("threshold: %w", err)
	}
	if _, err := c.Window(); err != nil {
		return err
	}
	if _, _, _, err := c.TestScript(); err != nil {
		return err
	}
	if c.Monitor.Interval.D() <= 0 {
		return fmt.Errorf("monitor.interval must be positive")
	}
	if c.Monitor.MaxConsecutiveErrors <= 0 {
		return fmt.Errorf("monitor.max_consecutive_errors must be positive")
	}
	if c.Auth.TokenFile == "" {
		return fmt.Errorf("auth.token_file is required")
	}
	if c.Kill.Command == "" {
		return fmt.Errorf("kill.command is required")
	}
	if c.Supervisor.MaxRestarts <= 0 {
		return fmt.Errorf("supervisor.max_restarts must be positive")
	}
	if c.Supervisor.AuthExpiredConfirmations <= 0 {
		return fmt.Errorf("supervisor.auth_expired_confirmations must be positive")
	}
	switch c.Journal.Type {
	case "sqlite", "csv":
		if c.Journal.Path == "" {
			return fmt.Errorf("journal.path required for %s journal", c.Journal.Type)
		}
	case "none", "":
	default:
		return fmt.Errorf("journal.type must be 'sqlite', 'csv' or 'none'")
	}
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	return nil
}

// Default returns a configuration with sensible defaults
func Default() *Config {
	return &Config{
		Dir: "~/.killswitch",
		Account: AccountConfig{
			BaseURL: "https://ustrade.webullfinance.com",
			Timeout: Duration(10 * time.Second),
		},
		Threshold: ThresholdConfig{Kind: "DOLLAR", Value: "-650"},
		Monitor: MonitorConfig{
			Interval:             Duration(time.Minute),
			ErrorRetry:           Duration(15 * time.Second),
			MaxConsecutiveErrors: 5,
			Cooldown:             Duration(5 * time.Minute),
			IdleChunk:            Duration(30 * time.Minute),
			OpeningSoon:          Duration(15 * time.Minute),
			CloseBuffer:          Duration(10 * time.Second),
			StatusFile:           "monitor.status.json",
			PIDFile:              "monitor.pid",
		},
		Schedule: ScheduleConfig{
			Open:     "06:30",
			Close:    "13:15",
			Location: "America/Los_Angeles",
		},
		Auth: AuthConfig{
			TokenFile:  "webull_token.json",
			RefreshURL: "https://userapi.webull.com/api/passport/refreshToken",
			Timeout:    Duration(30 * time.Second),
		},
		Kill: KillConfig{
			Command: "osascript",
			Args:    []string{"~/.killswitch/applescripts/killTradingApp.scpt"},
			Timeout: Duration(time.Minute),
		},
		Supervisor: SupervisorConfig{
			PIDFile:                  "supervisor.pid",
			StateFile:                "supervisor.state.json",
			CheckInterval:            Duration(10 * time.Second),
			AuthScanInterval:         Duration(5 * time.Minute),
			MaxRestarts:              5,
			RestartWindow:            Duration(10 * time.Minute),
			RestartCooldown:          Duration(5 * time.Minute),
			LogTailLines:             1000,
			AuthExpiredConfirmations: 1,
			StopMonitorOnExit:        true,
		},
		Journal: JournalConfig{Type: "sqlite", Path: "journal.sqlite"},
		Logging: LoggingConfig{File: "killswitch.log", Level: "info", Console: true},
		Notify:  NotifyConfig{Enabled: true, Subtitle: "Kill Switch"},
	}
}
