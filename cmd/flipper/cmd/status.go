package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rustyeddy/flipper/market"
	"github.com/rustyeddy/flipper/tracker"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status <symbol>",
	Short: "Show the fill-derived cycle state of a symbol",
	Long: `Rebuild the cycle state of a symbol from exchange fills over
monitor.fill_lookback and print it next to the open legs.

Example:
  flipper status BTCUSDT -c flipper.yaml`,
	Args: cobra.ExactArgs(1),
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	v, err := openVenue(cfg)
	if err != nil {
		return fmt.Errorf("exchange: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	symbol := strings.ToUpper(args[0])
	st, err := tracker.New(v.ex).Analyze(ctx, symbol, cfg.Monitor.FillLookback.Duration)
	if err != nil {
		return err
	}
	ps, err := v.ex.FetchOpenPositions(ctx)
	if err != nil {
		return fmt.Errorf("positions: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprint(out, tracker.Summary(symbol, st, time.Now()))
	long, short := market.Legs(ps, symbol)
	for _, leg := range []*market.Position{long, short} {
		if leg == nil {
			continue
		}
		fmt.Fprintf(out, "  open %-5s      %.6f @ %.6f (upnl %.4f)\n",
			leg.Side, leg.Contracts, leg.EntryPrice, leg.UnrealizedPnL)
	}
	return nil
}
