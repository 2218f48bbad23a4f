package cmd

import (
	"fmt"
	"io"

	"github.com/rustyeddy/flipper/risk"
	"github.com/spf13/cobra"
)

var maxLossCmd = &cobra.Command{
	Use:   "maxloss",
	Short: "Print the worst-case loss of one cycle",
	Long: `Walk the flip ladder of the configured strategy and print the size,
range and loss of every leg when each flip trigger is hit and the last leg is
stopped out.

Examples:
  flipper maxloss --initial 100
  flipper maxloss -c flipper.yaml --balance 5000`,
	Args: cobra.NoArgs,
	RunE: runMaxLoss,
}

var (
	maxLossInitial float64
	maxLossBalance float64
)

func init() {
	rootCmd.AddCommand(maxLossCmd)

	maxLossCmd.Flags().Float64Var(&maxLossInitial, "initial", 0, "initial entry size in USD (default from strategy)")
	maxLossCmd.Flags().Float64Var(&maxLossBalance, "balance", 0, "account balance used with initial_entry_pct")
}

func runMaxLoss(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	eng, err := risk.New(cfg.Strategy)
	if err != nil {
		return err
	}

	initial := maxLossInitial
	if initial <= 0 {
		initial = eng.InitialSize(maxLossBalance)
	}
	if initial <= 0 {
		return fmt.Errorf("no initial size: set --initial, strategy.initial_size_usd or --balance")
	}

	printCycleLoss(cmd.OutOrStdout(), eng.MaxCycleLoss(initial), cfg.Strategy.Leverage)
	return nil
}

func printCycleLoss(w io.Writer, cl risk.CycleLoss, leverage int) {
	fmt.Fprintf(w, "%-6s %12s %8s %12s\n", "leg", "size", "range", "loss")
	for i, size := range cl.Positions {
		loss := cl.FinalPositionLoss
		if i < len(cl.FlipLosses) {
			loss = cl.FlipLosses[i]
		}
		rng := 0.0
		if i < len(cl.RangePcts) {
			rng = cl.RangePcts[i]
		}
		fmt.Fprintf(w, "%-6d %12.2f %7.2f%% %12.2f\n", i, size, rng, loss)
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Total capital:   $%.2f\n", cl.TotalCapital)
	fmt.Fprintf(w, "Margin (x%d):    $%.2f\n", leverage, cl.MarginUsed)
	fmt.Fprintf(w, "Flip losses:     $%.2f\n", cl.TotalFlipLosses)
	fmt.Fprintf(w, "Final stop loss: $%.2f\n", cl.FinalPositionLoss)
	fmt.Fprintf(w, "Fees:            $%.2f\n", cl.FeesUSD)
	fmt.Fprintf(w, "Max cycle loss:  $%.2f (%.1f%% of initial, %.1f%% of capital)\n",
		cl.MaxLoss, cl.LossPctInitial, cl.LossPctTotal)
}
