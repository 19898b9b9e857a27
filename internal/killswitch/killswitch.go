// Package killswitch runs the external command that closes the trading
// application and classifies what happened.
package killswitch

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rustyeddy/killswitch/internal/notify"
	"github.com/rustyeddy/killswitch/risk"
)

type Outcome string

const (
	OutcomeClosed         Outcome = "closed"
	OutcomeNothingToClose Outcome = "nothing-to-close"
	OutcomePartial        Outcome = "partial"
	OutcomeFailed         Outcome = "failed"
)

var (
	DefaultSuccessMarkers = []string{"Successfully", "closed"}
	DefaultPartialMarkers = []string{"Failed to close", "partially"}
)

const DefaultTimeout = 60 * time.Second

// KillError is an external action failure. Partial means the command ran
// but reported that some targets survived.
type KillError struct {
	Reason   string
	Partial  bool
	ExitCode int
	Output   string
	Err      error
}

func (e *KillError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("kill action: %s: %v", e.Reason, e.Err)
	}
	return "kill action: " + e.Reason
}

func (e *KillError) Unwrap() error { return e.Err }

// Result is what a Runner observed. Err is set only when the command could
// not be started or did not finish.
type Result struct {
	Output   string
	ExitCode int
	Err      error
}

type Runner interface {
	Run(ctx context.Context, name string, args ...string) Result
}

type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, name string, args ...string) Result {
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	r := Result{Output: string(out)}
	var exitErr *exec.ExitError
	switch {
	case err == nil:
	case ctx.Err() != nil:
		r.ExitCode, r.Err = -1, ctx.Err()
	case errors.As(err, &exitErr):
		r.ExitCode = exitErr.ExitCode()
	default:
		r.ExitCode, r.Err = -1, err
	}
	return r
}

type Config struct {
	Command        string
	Args           []string
	Timeout        time.Duration
	SuccessMarkers []string
	PartialMarkers []string
}

type Executor struct {
	cfg       Config
	threshold risk.Threshold
	runner    Runner
	notifier  notify.Notifier
	log       *zap.Logger
}

func New(cfg Config, threshold risk.Threshold, runner Runner, n notify.Notifier, log *zap.Logger) *Executor {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.SuccessMarkers == nil {
		cfg.SuccessMarkers = DefaultSuccessMarkers
	}
	if cfg.PartialMarkers == nil {
		cfg.PartialMarkers = DefaultPartialMarkers
	}
	if runner == nil {
		runner = ExecRunner{}
	}
	if n == nil {
		n = notify.Nop{}
	}
	return &Executor{cfg: cfg, threshold: threshold, runner: runner, notifier: n, log: log.Named("kill")}
}

// Execute runs the kill command once. Running it against an application
// that is already closed is a success. Notifications are sent only after
// the command has finished.
func (e *Executor) Execute(ctx context.Context, pnl, balance decimal.Decimal) (Outcome, error) {
	e.log.Warn("EXECUTING KILL SWITCH - P/L threshold reached",
		zap.String("pnl", pnl.StringFixed(2)),
		zap.String("balance", balance.StringFixed(2)),
		zap.Stringer("threshold", e.threshold))

	outcome, err := e.run(ctx)
	e.notifier.Notify(ctx, notify.Message{
		Title: "KILL SWITCH ACTIVATED",
		Body:  e.activationBody(pnl, balance),
		Sound: true,
	})
	if err != nil {
		e.log.Error("kill switch failed", zap.String("outcome", string(outcome)), zap.Error(err))
		e.notifier.Notify(ctx, notify.Message{Title: "Kill Switch Error", Body: err.Error(), Sound: true})
		return outcome, err
	}

	e.log.Info("kill switch executed", zap.String("outcome", string(outcome)))
	body := "Webull applications have been terminated"
	if outcome == OutcomeNothingToClose {
		body = "Webull was not running; nothing to close"
	}
	e.notifier.Notify(ctx, notify.Message{Title: "Kill Switch Success", Body: body})
	return outcome, nil
}

func (e *Executor) run(ctx context.Context) (Outcome, error) {
	if strings.TrimSpace(e.cfg.Command) == "" {
		return OutcomeFailed, &KillError{Reason: "no kill command configured"}
	}
	ctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	r := e.runner.Run(ctx, e.cfg.Command, e.cfg.Args...)
	e.log.Debug("kill command finished",
		zap.String("command", e.cfg.Command),
		zap.Int("exit", r.ExitCode),
		zap.String("output", strings.TrimSpace(r.Output)))
	return Classify(r, e.cfg.SuccessMarkers, e.cfg.PartialMarkers)
}

// Classify maps a command result onto an Outcome.
func Classify(r Result, success, partial []string) (Outcome, error) {
	switch {
	case errors.Is(r.Err, context.DeadlineExceeded):
		return OutcomeFailed, &KillError{Reason: "timed out", ExitCode: r.ExitCode, Output: r.Output, Err: r.Err}
	case r.Err != nil:
		return OutcomeFailed, &KillError{Reason: "could not run command", ExitCode: r.ExitCode, Output: r.Output, Err: r.Err}
	case r.ExitCode != 0:
		return OutcomeFailed, &KillError{
			Reason:   fmt.Sprintf("exit status %d: %s", r.ExitCode, lastLine(r.Output)),
			ExitCode: r.ExitCode,
			Output:   r.Output,
		}
	case containsAny(r.Output, partial):
		return OutcomePartial, &KillError{
			Reason:  "some applications could not be closed: " + lastLine(r.Output),
			Partial: true,
			Output:  r.Output,
		}
	case containsAny(r.Output, success):
		return OutcomeClosed, nil
	}
	return OutcomeNothingToClose, nil
}

func (e *Executor) activationBody(pnl, balance decimal.Decimal) string {
	var b strings.Builder
	fmt.Fprintf(&b, "P/L threshold reached: $%s <= %s", pnl.StringFixed(2), e.threshold)
	if !balance.IsZero() {
		fmt.Fprintf(&b, "\nAccount Balance: $%s", balance.StringFixed(2))
		fmt.Fprintf(&b, "\nP/L%%: %s%%", pnl.Div(balance).Mul(decimal.NewFromInt(100)).StringFixed(2))
	}
	return b.String()
}

func containsAny(s string, markers []string) bool {
	for _, m := range markers {
		if m != "" && strings.Contains(s, m) {
			return true
		}
	}
	return false
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
