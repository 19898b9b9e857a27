package token

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/killswitch/internal/auth"
	"github.com/rustyeddy/killswitch/internal/cli/config"
	"github.com/rustyeddy/killswitch/internal/token"
)

// New returns the token command group.
func New(rc *config.RootConfig) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Inspect, refresh or capture the Webull credential",
	}

	cmd.AddCommand(
		newShowCmd(rc),
		newRefreshCmd(rc),
		newImportCmd(rc),
		newExtractCmd(rc),
	)

	return cmd
}

func newShowCmd(rc *config.RootConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the stored credential with secrets masked",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store := rc.Store()
			c, err := store.Load()
			if err != nil {
				return fmt.Errorf("%s: %w", store.Path(), err)
			}
			printCredential(cmd.OutOrStdout(), store.Path(), c, rc.Auth().IsValid(c))
			return nil
		},
	}
}

func newRefreshCmd(rc *config.RootConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Exchange the refresh token for a new access token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m := rc.Auth()
			c, err := m.Load()
			if err != nil {
				return err
			}
			fresh, err := m.Refresh(cmd.Context(), c)
			if err != nil {
				return fmt.Errorf("refresh: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Token refreshed, valid until %s\n", fresh.Expiry.Local().Format(time.DateTime))
			return nil
		},
	}
}

func newImportCmd(rc *config.RootConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "import [file|-]",
		Short: "Store a credential from captured request headers",
		Long: `Read a JSON object, a browser "Copy as cURL" command, or "name: value"
header lines and save the credential they contain. Reads stdin when no
file is given or the file is "-".`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var r io.Reader = cmd.InOrStdin()
			if len(args) == 1 && args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				r = f
			}
			data, err := io.ReadAll(r)
			if err != nil {
				return err
			}

			c, err := token.ParseCapture(string(data), time.Now())
			if err != nil {
				return err
			}
			store := rc.Store()
			if old, err := store.Load(); err == nil {
				if c.RefreshToken == "" {
					c.RefreshToken = old.RefreshToken
				}
				if c.DeviceID == "" {
					c.DeviceID = old.DeviceID
				}
				if c.UserID == "" {
					c.UserID = old.UserID
				}
			}
			if err := store.Save(c); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Credential saved to %s\n", store.Path())
			printCredential(cmd.OutOrStdout(), store.Path(), c, true)
			return nil
		},
	}
}

func newExtractCmd(rc *config.RootConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "extract",
		Short: "Look for a session token in the desktop app's local storage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m := rc.Auth()
			_, _ = m.Load()
			c, err := m.ExtractFromLocalStorage()
			if err != nil {
				if errors.Is(err, auth.ErrNotFound) {
					return fmt.Errorf("no token found in local storage; capture one with `killswitch token import`")
				}
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Token extracted, valid until %s\n", c.Expiry.Local().Format(time.DateTime))
			return nil
		},
	}
}

func printCredential(w io.Writer, path string, c token.Credential, valid bool) {
	fmt.Fprintf(w, "File:          %s\n", path)
	fmt.Fprintf(w, "Access token:  %s\n", mask(c.AccessToken))
	fmt.Fprintf(w, "Refresh token: %s\n", mask(c.RefreshToken))
	fmt.Fprintf(w, "User ID:       %s\n", c.UserID)
	fmt.Fprintf(w, "Device ID:     %s\n", c.DeviceID)
	if !c.Expiry.IsZero() {
		left := time.Until(c.Expiry.Time).Round(time.Minute)
		fmt.Fprintf(w, "Expires:       %s (%s)\n", c.Expiry.Local().Format(time.DateTime), left)
	}
	if !c.LastUpdated.IsZero() {
		fmt.Fprintf(w, "Updated:       %s\n", c.LastUpdated.Local().Format(time.DateTime))
	}
	fmt.Fprintf(w, "Headers:       %d captured\n", len(c.ExtraHeaders))
	state := "✅ valid"
	if !valid {
		state = "⚠️ expired or within 5 minutes of expiry"
	}
	fmt.Fprintf(w, "Status:        %s\n", state)
}

func mask(s string) string {
	s = strings.TrimSpace(s)
	switch {
	case s == "":
		return "(none)"
	case len(s) <= 8:
		return strings.Repeat("*", len(s))
	}
	return s[:4] + strings.Repeat("*", 8) + s[len(s)-4:]
}
