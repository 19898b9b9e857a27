package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Version is set with -ldflags "-X github.com/rustyeddy/killswitch/internal/cli.Version=...".
var Version = "dev"

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Args:  cobra.NoArgs,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return nil
		},
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "killswitch version %s\n", Version)
			fmt.Fprintln(cmd.OutOrStdout(), "Daily loss kill switch for Webull futures accounts")
		},
	}
}
