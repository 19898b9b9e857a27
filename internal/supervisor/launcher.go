package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"syscall"

	"go.uber.org/zap"

	"github.com/rustyeddy/killswitch/internal/pidfile"
)

// Process is a monitor the supervisor is responsible for.
type Process interface {
	PID() int
	Alive() bool
	// Kill ends the process with SIGKILL.
	Kill() error
	// ExitCode is -1 while running or when unknown.
	ExitCode() int
}

type Launcher interface {
	Launch(ctx context.Context) (Process, error)
}

// ExecLauncher starts the monitor as a child process in its own process
// group, so a terminal interrupt aimed at the supervisor does not reach it.
type ExecLauncher struct {
	Path   string
	Args   []string
	Stdout io.Writer
	Stderr io.Writer
	Log    *zap.Logger
}

func (l *ExecLauncher) Launch(context.Context) (Process, error) {
	// exec.Command rather than CommandContext: the child must survive the
	// supervisor when stop_monitor_on_exit is off.
	cmd := exec.Command(l.Path, l.Args...)
	cmd.Stdout = l.Stdout
	cmd.Stderr = l.Stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start monitor: %w", err)
	}
	c := &child{cmd: cmd, done: make(chan struct{})}
	go func() {
		_ = cmd.Wait()
		close(c.done)
	}()
	if l.Log != nil {
		l.Log.Info("monitor launched", zap.Int("pid", cmd.Process.Pid), zap.Strings("args", l.Args))
	}
	return c, nil
}

type child struct {
	cmd  *exec.Cmd
	done chan struct{}
}

func (c *child) PID() int { return c.cmd.Process.Pid }

func (c *child) Alive() bool {
	select {
	case <-c.done:
		return false
	default:
		return true
	}
}

func (c *child) Kill() error {
	if !c.Alive() {
		return nil
	}
	if err := c.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	<-c.done
	return nil
}

func (c *child) ExitCode() int {
	if c.Alive() {
		return -1
	}
	return c.cmd.ProcessState.ExitCode()
}

// adopted is a monitor started by an earlier supervisor.
type adopted struct {
	pid   int
	in    pidfile.Inspector
	words []string
}

func (a *adopted) PID() int      { return a.pid }
func (a *adopted) Alive() bool   { return pidfile.Matches(a.in, a.pid, a.words...) }
func (a *adopted) ExitCode() int { return -1 }

func (a *adopted) Kill() error {
	if !a.Alive() {
		return nil
	}
	return a.in.Signal(a.pid, syscall.SIGKILL)
}
