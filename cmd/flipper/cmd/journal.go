package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rustyeddy/flipper/journal"
	"github.com/spf13/cobra"
)

var journalCmd = &cobra.Command{
	Use:   "journal",
	Short: "Query the cycle journal",
	Long: `Query and display cycle records from the SQLite or Postgres journal
as Org-mode entries.

Subcommands:
  cycle  - Show one cycle and its events by ID
  today  - List cycles closed today
  day    - List cycles closed on a specific day

Examples:
  flipper journal cycle 01HV6Y2M3K9Q8W7E6R5T4Y3U2I
  flipper journal today
  flipper journal day 2024-01-15 --db ./flipper.db`,
}

var journalCycleCmd = &cobra.Command{
	Use:   "cycle <cycle-id>",
	Short: "Show one cycle and its events",
	Args:  cobra.ExactArgs(1),
	RunE:  runJournalCycle,
}

var journalTodayCmd = &cobra.Command{
	Use:   "today",
	Short: "List cycles closed today",
	Args:  cobra.NoArgs,
	RunE:  runJournalToday,
}

var journalDayCmd = &cobra.Command{
	Use:   "day <YYYY-MM-DD>",
	Short: "List cycles closed on a specific day",
	Args:  cobra.ExactArgs(1),
	RunE:  runJournalDay,
}

var journalDBPath string

func init() {
	rootCmd.AddCommand(journalCmd)
	journalCmd.AddCommand(journalCycleCmd)
	journalCmd.AddCommand(journalTodayCmd)
	journalCmd.AddCommand(journalDayCmd)

	journalCmd.PersistentFlags().StringVarP(&journalDBPath, "db", "d", "", "path to SQLite journal DB (overrides the config)")
}

type journalReader interface {
	journal.Reader
	Close() error
}

// openReader opens the queryable journal named by --db or the config.
func openReader(ctx context.Context) (journalReader, error) {
	if journalDBPath != "" {
		return journal.NewSQLite(journalDBPath)
	}
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	switch jc := cfg.Journal; jc.Type {
	case "sqlite":
		return journal.NewSQLite(jc.DBPath)
	case "postgres":
		dsn := os.Getenv(jc.DSNEnv)
		if dsn == "" {
			return nil, fmt.Errorf("journal: %s is not set", jc.DSNEnv)
		}
		return journal.NewPostgres(ctx, dsn)
	default:
		return nil, fmt.Errorf("journal type %q cannot be queried", jc.Type)
	}
}

func runJournalCycle(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	j, err := openReader(ctx)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer j.Close()

	c, err := j.GetCycle(ctx, args[0])
	if err != nil {
		return fmt.Errorf("get cycle: %w", err)
	}
	events, err := j.ListEvents(ctx, c.CycleID)
	if err != nil {
		return fmt.Errorf("list events: %w", err)
	}

	fmt.Fprintln(cmd.OutOrStdout(), journal.FormatCycleOrg(c, events))
	return nil
}

func runJournalToday(cmd *cobra.Command, args []string) error {
	return printCyclesOn(cmd, time.Now().In(time.Local).Format("2006-01-02"))
}

func runJournalDay(cmd *cobra.Command, args []string) error {
	return printCyclesOn(cmd, args[0])
}

func printCyclesOn(cmd *cobra.Command, day string) error {
	start, end, err := dayBounds(time.Local, day)
	if err != nil {
		return fmt.Errorf("date: %w", err)
	}

	ctx := context.Background()
	j, err := openReader(ctx)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer j.Close()

	cycles, err := j.ListCyclesClosedBetween(ctx, start, end)
	if err != nil {
		return fmt.Errorf("query cycles: %w", err)
	}

	fmt.Fprintln(cmd.OutOrStdout(), journal.FormatCyclesOrg(cycles))
	return nil
}

func dayBounds(loc *time.Location, day string) (time.Time, time.Time, error) {
	t, err := time.ParseInLocation("2006-01-02", day, loc)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	start := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
	end := start.AddDate(0, 0, 1)
	return start, end, nil
}
