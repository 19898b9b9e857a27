package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	cfgpkg "github.com/rustyeddy/killswitch/config"
	"github.com/rustyeddy/killswitch/internal/cli/config"
)

func newConfigCmd(rc *config.RootConfig) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Generate or validate configuration files",
		Long: `Manage killswitch configuration files.

Subcommands:
  init     - Generate a default configuration file
  validate - Validate an existing configuration file

Examples:
  killswitch config init -o killswitch.yaml
  killswitch config validate -f killswitch.yaml`,
		// The file being written or checked may not load yet.
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return nil
		},
	}

	cmd.AddCommand(newConfigInitCmd(), newConfigValidateCmd(rc))
	return cmd
}

func newConfigInitCmd() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Generate a default configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := cfgpkg.Default()
			if err := cfg.SaveToFile(output); err != nil {
				return fmt.Errorf("save config: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "✓ Created default configuration: %s\n", output)
			fmt.Fprintln(out, "\nEdit the file and run with:")
			fmt.Fprintf(out, "  killswitch --config %s supervise\n", output)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "killswitch.yaml", "output config file path")
	return cmd
}

func newConfigValidateCmd(rc *config.RootConfig) *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if path == "" {
				path = rc.ConfigPath
			}
			if path == "" {
				return fmt.Errorf("no config file given; use -f or --config")
			}
			cfg, err := cfgpkg.LoadFromFile(path)
			if err != nil {
				return fmt.Errorf("validation failed: %w", err)
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("validation failed: %w", err)
			}
			th, _ := cfg.RiskThreshold()

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "✓ Configuration valid: %s\n", path)
			fmt.Fprintf(out, "  Threshold: %s\n", th)
			fmt.Fprintf(out, "  Window:    %s-%s %s\n", cfg.Schedule.Open, cfg.Schedule.Close, cfg.Schedule.Location)
			fmt.Fprintf(out, "  Interval:  %s\n", cfg.Monitor.Interval)
			fmt.Fprintf(out, "  Journal:   %s (%s)\n", cfg.Journal.Type, cfg.Path(cfg.Journal.Path))
			return nil
		},
	}
	cmd.Flags().StringVarP(&path, "file", "f", "", "path to config file (defaults to --config)")
	return cmd
}
