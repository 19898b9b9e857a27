package journal

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/killswitch/internal/cli/config"
	"github.com/rustyeddy/killswitch/journal"
)

// New returns the journal query commands. Day queries need the sqlite
// journal; "kills" also reads the csv journal.
func New(rc *config.RootConfig) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Query the sample and kill journal",
		Long: `Query and display journal records.

Subcommands:
  kills  - Recent kill events
  kill   - Details of one kill event by ID
  today  - Samples recorded today
  day    - Samples recorded on a specific day

Examples:
  killswitch journal kills -n 5
  killswitch journal day 2026-10-19`,
	}

	cmd.AddCommand(
		newKillsCmd(rc),
		newKillCmd(rc),
		newDayCmd(rc, "today", cobra.NoArgs),
		newDayCmd(rc, "day <YYYY-MM-DD>", cobra.ExactArgs(1)),
	)

	return cmd
}

func newKillsCmd(rc *config.RootConfig) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "kills",
		Short: "List recent kill events",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			recs, err := rc.RecentKills(limit)
			if err != nil {
				return fmt.Errorf("query kills: %w", err)
			}
			fmt.Fprint(cmd.OutOrStdout(), journal.FormatKillsOrg(recs))
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "Number of events")
	return cmd
}

func newKillCmd(rc *config.RootConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "kill <id>",
		Short: "Get details of one kill event",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			j, err := openSQLite(rc)
			if err != nil {
				return err
			}
			defer j.Close()

			rec, err := j.GetKill(args[0])
			if err != nil {
				return fmt.Errorf("get kill: %w", err)
			}
			fmt.Fprint(cmd.OutOrStdout(), journal.FormatKillOrg(rec))
			return nil
		},
	}
}

func newDayCmd(rc *config.RootConfig, use string, args cobra.PositionalArgs) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: "List samples recorded on a day, with the worst P/L",
		Args:  args,
		RunE: func(cmd *cobra.Command, args []string) error {
			j, err := openSQLite(rc)
			if err != nil {
				return err
			}
			defer j.Close()

			loc := time.Local
			day := time.Now().In(loc).Format(time.DateOnly)
			if len(args) == 1 {
				day = args[0]
			}
			start, end, err := dayBounds(loc, day)
			if err != nil {
				return fmt.Errorf("date: %w", err)
			}

			recs, err := j.ListSamplesBetween(start, end)
			if err != nil {
				return fmt.Errorf("query samples: %w", err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "* Samples %s (%d)\n", day, len(recs))
			fmt.Fprint(out, journal.FormatSamplesOrg(recs))

			worst, ok, err := j.WorstPnLBetween(start, end)
			if err != nil {
				return fmt.Errorf("worst P/L: %w", err)
			}
			if ok {
				fmt.Fprintf(out, "Worst P/L: $%s\n", worst.StringFixed(2))
			}
			return nil
		},
	}
}

func openSQLite(rc *config.RootConfig) (*journal.SQLite, error) {
	if rc.Cfg.Journal.Type != "sqlite" {
		return nil, fmt.Errorf("journal type %q cannot be queried by day; use sqlite", rc.Cfg.Journal.Type)
	}
	j, err := journal.NewSQLite(rc.Cfg.Path(rc.Cfg.Journal.Path))
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	return j, nil
}

func dayBounds(loc *time.Location, day string) (time.Time, time.Time, error) {
	t, err := time.ParseInLocation(time.DateOnly, day, loc)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	start := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
	end := start.AddDate(0, 0, 1)
	return start, end, nil
}
