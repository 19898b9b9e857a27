// Package notify sends fire-and-forget desktop notifications. Delivery
// failures are logged and swallowed; a notification must never be the
// reason a monitoring loop stops.
package notify

import (
	"context"
	"os/exec"
	"runtime"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

type Message struct {
	Title string
	Body  string
	Sound bool
}

type Notifier interface {
	Notify(ctx context.Context, m Message)
}

// Nop discards every message.
type Nop struct{}

func (Nop) Notify(context.Context, Message) {}

// CommandFunc runs a notification helper program.
type CommandFunc func(ctx context.Context, name string, args ...string) error

func execCommand(ctx context.Context, name string, args ...string) error {
	return exec.CommandContext(ctx, name, args...).Run()
}

// Desktop shells out to the platform notification tool:
// terminal-notifier then osascript on macOS, notify-send on Linux.
type Desktop struct {
	Subtitle string
	Timeout  time.Duration
	GOOS     string

	run CommandFunc
	log *zap.Logger
}

func NewDesktop(log *zap.Logger, subtitle string) *Desktop {
	return &Desktop{
		Subtitle: subtitle,
		Timeout:  10 * time.Second,
		GOOS:     runtime.GOOS,
		run:      execCommand,
		log:      log.Named("notify"),
	}
}

// WithCommand replaces the process runner, for tests.
func (d *Desktop) WithCommand(fn CommandFunc) *Desktop {
	d.run = fn
	return d
}

func (d *Desktop) Notify(ctx context.Context, m Message) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.Timeout)
	defer cancel()

	var err error
	for _, cmd := range d.commands(m) {
		if err = d.run(ctx, cmd[0], cmd[1:]...); err == nil {
			d.log.Info("notification sent", zap.String("title", m.Title), zap.String("via", cmd[0]))
			return
		}
	}
	if err != nil {
		d.log.Warn("notification failed", zap.String("title", m.Title), zap.Error(err))
		return
	}
	d.log.Info("notification (no desktop tool on "+d.GOOS+")",
		zap.String("title", m.Title), zap.String("body", m.Body))
}

func (d *Desktop) commands(m Message) [][]string {
	switch d.GOOS {
	case "darwin":
		tn := []string{"terminal-notifier", "-title", m.Title, "-message", m.Body}
		if d.Subtitle != "" {
			tn = append(tn, "-subtitle", d.Subtitle)
		}
		soundClause := "without sound"
		if m.Sound {
			tn = append(tn, "-sound", "Glass")
			soundClause = `sound name "Glass"`
		}
		script := `display notification "` + escapeAppleScript(m.Body) + `" with title "` +
			escapeAppleScript(m.Title) + `" ` + soundClause
		return [][]string{tn, {"osascript", "-e", script}}
	case "linux":
		urgency := "normal"
		if m.Sound {
			urgency = "critical"
		}
		return [][]string{{"notify-send", "-u", urgency, m.Title, m.Body}}
	}
	return nil
}

func escapeAppleScript(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `"`, `\"`)
}

// Recorder keeps every message; used by tests and the dry-run paths.
type Recorder struct {
	mu       sync.Mutex
	messages []Message
}

func (r *Recorder) Notify(_ context.Context, m Message) {
	r.mu.Lock()
	r.messages = append(r.messages, m)
	r.mu.Unlock()
}

func (r *Recorder) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Message, len(r.messages))
	copy(out, r.messages)
	return out
}

// Titles is a convenience for assertions.
func (r *Recorder) Titles() []string {
	var out []string
	for _, m := range r.Messages() {
		out = append(out, m.Title)
	}
	return out
}
