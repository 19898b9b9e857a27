package monitor

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/rustyeddy/killswitch/internal/cli/config"
)

// NewBalance returns the one-shot balance command.
func NewBalance(rc *config.RootConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "balance",
		Short: "Fetch the account P/L and balance once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			source, err := rc.Source()
			if err != nil {
				return err
			}
			a, err := rc.Auth().AccountAuth(ctx)
			if err != nil {
				return fmt.Errorf("authenticate: %w", err)
			}
			sum, err := source.AccountSummary(ctx, a)
			if err != nil {
				return fmt.Errorf("account summary: %w", err)
			}
			th := rc.Threshold()
			d, err := th.Evaluate(sum.PnL, sum.Balance)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Time:      %s\n", time.Now().Format(time.DateTime))
			fmt.Fprintf(out, "P/L:       $%s\n", sum.PnL.StringFixed(2))
			fmt.Fprintf(out, "Balance:   $%s (%s)\n", sum.Balance.StringFixed(2), sum.BalanceSource)
			fmt.Fprintf(out, "P/L %%:     %s%%\n", d.PercentOfBalance().StringFixed(2))
			fmt.Fprintf(out, "Threshold: %s\n", th)
			if sum.RiskStatus != "" {
				fmt.Fprintf(out, "Risk:      %s\n", sum.RiskStatus)
			}
			fmt.Fprintf(out, "Status:    %s\n", d.Label())
			return nil
		},
	}
}

// NewKill returns the command that runs the kill action by hand.
func NewKill(rc *config.RootConfig) *cobra.Command {
	var (
		yes bool
		pnl string
	)

	cmd := &cobra.Command{
		Use:   "kill",
		Short: "Run the kill action now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			k := rc.Cfg.Kill
			if !yes {
				fmt.Fprintf(cmd.OutOrStdout(), "Would run: %s %v\nRe-run with --yes to execute.\n", k.Command, k.Args)
				return nil
			}
			v, err := decimal.NewFromString(pnl)
			if err != nil {
				return fmt.Errorf("bad --pnl: %w", err)
			}

			outcome, err := rc.Killer(rc.Notifier()).Execute(cmd.Context(), v, decimal.Zero)
			fmt.Fprintf(cmd.OutOrStdout(), "Outcome: %s\n", outcome)
			return err
		},
	}

	cmd.Flags().BoolVar(&yes, "yes", false, "Actually run the kill command")
	cmd.Flags().StringVar(&pnl, "pnl", "0", "P/L to report in the notifications")

	return cmd
}
