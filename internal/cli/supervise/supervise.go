package supervise

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/killswitch/internal/cli/config"
	"github.com/rustyeddy/killswitch/internal/clock"
	"github.com/rustyeddy/killswitch/internal/monitor"
	"github.com/rustyeddy/killswitch/internal/pidfile"
	"github.com/rustyeddy/killswitch/internal/supervisor"
)

// New returns "supervise" with start (the default), stop and status.
func New(rc *config.RootConfig) *cobra.Command {
	start := newStartCmd(rc)
	cmd := &cobra.Command{
		Use:   "supervise",
		Short: "Keep the monitor running and watch its authentication",
		Args:  cobra.NoArgs,
		RunE:  start.RunE,
	}
	cmd.AddCommand(start, newStopCmd(rc), NewStatus(rc))
	return cmd
}

func newStartCmd(rc *config.RootConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Run the supervisor in the foreground",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			log := rc.Log
			s := supervisor.New(rc.SupervisorConfig(), supervisor.Deps{
				Launcher: &supervisor.ExecLauncher{
					Path:   config.Executable(),
					Args:   rc.MonitorArgs(),
					Stdout: os.Stdout,
					Stderr: os.Stderr,
					Log:    log,
				},
				Inspector: pidfile.OS{},
				Clock:     clock.Real{},
				Notifier:  rc.Notifier(),
				Metrics:   rc.Metrics(true),
				Log:       log,
			})

			ctx, stop := monitor.SignalContext(cmd.Context(), false, log)
			defer stop()
			err := s.Run(ctx)
			if errors.Is(err, supervisor.ErrAlreadyRunning) {
				fmt.Fprintln(cmd.OutOrStdout(), "Supervisor already running; nothing to do.")
				return nil
			}
			return err
		},
	}
}

func newStopCmd(rc *config.RootConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the running supervisor",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			pid, err := supervisor.Stop(rc.SupervisorConfig().PIDFile, pidfile.OS{})
			if errors.Is(err, supervisor.ErrNotRunning) {
				fmt.Fprintln(cmd.OutOrStdout(), "Supervisor is not running.")
				return nil
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Sent SIGTERM to supervisor %d.\n", pid)
			return nil
		},
	}
}

// NewStatus returns the status command.
func NewStatus(rc *config.RootConfig) *cobra.Command {
	var (
		lines int
		kills int
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show supervisor, monitor and authentication status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			cfg := rc.SupervisorConfig()
			r := supervisor.Inspect(cfg, pidfile.OS{})

			fmt.Fprintf(out, "Supervisor: %s\n", running(r.SupervisorRunning, r.SupervisorPID))
			fmt.Fprintf(out, "Monitor:    %s\n", running(r.MonitorRunning, r.MonitorPID))
			if r.Record != nil {
				fmt.Fprintf(out, "Started:    %s (restarts: %d)\n", r.Record.StartedAt.Format(time.DateTime), r.Record.RestartCount)
			}
			if st := r.Status; st != nil {
				fresh := "stale"
				if st.Fresh(time.Now(), 2*cfg.AuthScanInterval) {
					fresh = "fresh"
				}
				fmt.Fprintf(out, "Auth:       %s (%s, %s)\n", st.Auth, st.At.Format(time.DateTime), fresh)
				fmt.Fprintf(out, "Cycle:      %d  phase: %s\n", st.Cycle, st.Phase)
				if st.PnL != "" {
					fmt.Fprintf(out, "P/L:        $%s  balance: $%s  threshold: %s\n", st.PnL, st.Balance, st.Threshold)
				}
				if st.Message != "" {
					fmt.Fprintf(out, "Message:    %s\n", st.Message)
				}
			} else {
				auth, source := supervisor.AuthScanner{LogFile: cfg.LogFile, TailLines: cfg.LogTailLines}.Scan(time.Now())
				fmt.Fprintf(out, "Auth:       %s (from %s)\n", auth, source)
			}

			if tail, err := supervisor.TailLines(cfg.LogFile, lines); err == nil && len(tail) > 0 {
				fmt.Fprintf(out, "\nLast %d log lines:\n  %s\n", len(tail), strings.Join(tail, "\n  "))
			}

			if kills > 0 {
				evs, err := rc.RecentKills(kills)
				if err != nil {
					fmt.Fprintf(out, "\nKill history unavailable: %v\n", err)
					return nil
				}
				fmt.Fprintln(out, "\nRecent kill events:")
				if len(evs) == 0 {
					fmt.Fprintln(out, "  none")
				}
				for _, k := range evs {
					fmt.Fprintf(out, "  %s  %-16s P/L $%s  %s\n", k.Time.Local().Format(time.DateTime), k.Outcome, k.PnL.StringFixed(2), k.Detail)
				}
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&lines, "lines", 10, "Log lines to show")
	cmd.Flags().IntVar(&kills, "kills", 5, "Recent kill events to show (0 disables)")

	return cmd
}

func running(ok bool, pid int) string {
	switch {
	case ok:
		return fmt.Sprintf("running (PID %d)", pid)
	case pid != 0:
		return fmt.Sprintf("not running (stale PID %d)", pid)
	}
	return "not running"
}
