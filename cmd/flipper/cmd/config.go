package cmd

import (
	"fmt"

	"github.com/rustyeddy/flipper/config"
	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Generate or validate configuration files",
	Long: `Manage bot configuration files.

Subcommands:
  init     - Generate a default configuration file
  validate - Validate an existing configuration file

Examples:
  flipper config init -o flipper.yaml
  flipper config validate -f flipper.yaml`,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Generate a default configuration file",
	Long: `Create a new configuration file with default settings. The default
exchange is the paper simulator; API secrets are never written to the file.

Example:
  flipper config init -o flipper.yaml`,
	RunE: runConfigInit,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a configuration file",
	Long: `Check if a configuration file is valid and can be loaded.

Example:
  flipper config validate -f flipper.yaml`,
	RunE: runConfigValidate,
}

var (
	configInitOutput   string
	configValidatePath string
)

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configValidateCmd)

	configInitCmd.Flags().StringVarP(&configInitOutput, "output", "o", "flipper.yaml", "output config file path")
	configValidateCmd.Flags().StringVarP(&configValidatePath, "file", "f", "", "path to config file (required)")
	configValidateCmd.MarkFlagRequired("file")
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	cfg := config.Default()
	if err := cfg.SaveToFile(configInitOutput); err != nil {
		return fmt.Errorf("save config: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "✓ Created default configuration: %s\n", configInitOutput)
	fmt.Fprintln(out, "\nEdit the file and run with:")
	fmt.Fprintf(out, "  flipper run -c %s\n", configInitOutput)
	return nil
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadFromFile(configValidatePath)
	if err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	s := cfg.Strategy
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "✓ Configuration valid: %s\n", configValidatePath)
	fmt.Fprintf(out, "  Exchange: %s (testnet: %v)\n", cfg.Exchange.Name, cfg.Exchange.Testnet)
	fmt.Fprintf(out, "  Strategy: x%.2f, %d flips, range %.2f%% (growth %.2f), leverage %d\n",
		s.Multiplier, s.MaxFlips, s.BaseRangePct, s.RangeGrowth, s.Leverage)
	if s.TrailingExit {
		fmt.Fprintf(out, "  Exit: trailing, %.0f%% retracement\n", s.TrailingRetracementPct)
	} else {
		fmt.Fprintln(out, "  Exit: take-profit")
	}
	fmt.Fprintf(out, "  Journal: %s\n", cfg.Journal.Type)
	return nil
}
