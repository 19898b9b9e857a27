// Package cli wires the killswitch commands together.
package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/killswitch/internal/cli/config"
	"github.com/rustyeddy/killswitch/internal/cli/journal"
	"github.com/rustyeddy/killswitch/internal/cli/monitor"
	"github.com/rustyeddy/killswitch/internal/cli/supervise"
	"github.com/rustyeddy/killswitch/internal/cli/token"
	imonitor "github.com/rustyeddy/killswitch/internal/monitor"
)

func NewRootCmd() *cobra.Command {
	rc := &config.RootConfig{}

	cmd := &cobra.Command{
		Use:           "killswitch",
		Short:         "Killswitch - close the trading app when the daily loss limit is hit",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Global / persistent flags
	cmd.PersistentFlags().StringVar(&rc.ConfigPath, "config", "", "Path to config file (optional)")
	cmd.PersistentFlags().StringVar(&rc.EnvFile, "env-file", ".env", "Dotenv file overlaid on the config")
	cmd.PersistentFlags().StringVar(&rc.LogLevel, "log-level", "", "Log level: debug|info|warn|error")
	cmd.PersistentFlags().BoolVarP(&rc.Verbose, "verbose", "v", false, "Debug logging")
	cmd.PersistentFlags().BoolVar(&rc.Test, "test", false, "Test mode: simulated P/L, no signal shielding")

	cmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		return rc.Setup()
	}
	cmd.PersistentPostRun = func(cmd *cobra.Command, args []string) {
		rc.Close()
	}

	cmd.AddCommand(
		monitor.New(rc),
		monitor.NewBalance(rc),
		monitor.NewKill(rc),
		supervise.New(rc),
		supervise.NewStatus(rc),
		token.New(rc),
		journal.New(rc),
		newConfigCmd(rc),
		newVersionCmd(),
	)

	return cmd
}

// ExitCode maps a command error to the process exit status.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, imonitor.ErrFatal):
		return 2
	}
	return 1
}

func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(ExitCode(err))
	}
}
