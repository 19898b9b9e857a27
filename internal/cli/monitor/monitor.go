package monitor

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rustyeddy/killswitch/internal/cli/config"
	"github.com/rustyeddy/killswitch/internal/clock"
	"github.com/rustyeddy/killswitch/internal/monitor"
	"github.com/rustyeddy/killswitch/internal/pidfile"
)

// New returns the monitor command, the long-running P/L watch.
func New(rc *config.RootConfig) *cobra.Command {
	var (
		threshold string
		kind      string
		interval  string
		testPnL   string
	)

	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Watch account P/L and run the kill action on a breach",
		Long: `Poll the account P/L during the operating window and run the kill
command when the loss threshold is reached.

Outside test mode SIGINT, SIGTERM, SIGHUP and SIGQUIT are ignored; use
"killswitch supervise stop" or SIGKILL to end it.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := rc.Cfg
			if cmd.Flags().Changed("threshold") {
				cfg.Threshold.Value = threshold
			}
			if cmd.Flags().Changed("kind") {
				cfg.Threshold.Kind = kind
			}
			if cmd.Flags().Changed("interval") {
				if err := cfg.SetInterval(interval); err != nil {
					return err
				}
			}
			if cmd.Flags().Changed("test-pnl") {
				cfg.Test.PnL = testPnL
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid flags: %w", err)
			}

			log := rc.Log
			pidPath := cfg.Path(cfg.Monitor.PIDFile)
			pid := os.Getpid()
			if err := pidfile.Write(pidPath, pid); err != nil {
				log.Warn("monitor PID file not written", zap.String("path", pidPath), zap.Error(err))
			}
			defer func() { _ = pidfile.Remove(pidPath, pid) }()

			source, err := rc.Source()
			if err != nil {
				return err
			}
			window, err := cfg.Window()
			if err != nil {
				return err
			}
			j, err := rc.Journal()
			if err != nil {
				return fmt.Errorf("open journal: %w", err)
			}
			defer j.Close()

			notifier := rc.Notifier()
			m := monitor.New(rc.MonitorConfig(cmd.OutOrStdout()), rc.Threshold(), monitor.Deps{
				Auth:     rc.Auth(),
				Source:   source,
				Killer:   rc.Killer(notifier),
				Window:   window,
				Clock:    clock.Real{},
				Notifier: notifier,
				Journal:  j,
				Metrics:  rc.Metrics(false),
				Log:      log,
			})

			ctx, stop := monitor.SignalContext(cmd.Context(), !rc.Test, log)
			defer stop()
			return m.Run(ctx)
		},
	}

	cmd.Flags().StringVar(&threshold, "threshold", "", "Loss threshold (e.g. -500, or -0.05 with --kind PERCENT)")
	cmd.Flags().StringVar(&kind, "kind", "", "Threshold kind: DOLLAR|PERCENT")
	cmd.Flags().StringVar(&interval, "interval", "", "Poll interval (e.g. 60s or 60)")
	cmd.Flags().StringVar(&testPnL, "test-pnl", "", "Fixed simulated P/L in test mode")

	return cmd
}
