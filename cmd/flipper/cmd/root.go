package cmd

import (
	"fmt"

	"github.com/rustyeddy/flipper/config"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var log = logrus.WithField("component", "cli")

var rootCmd = &cobra.Command{
	Use:   "flipper",
	Short: "Martingale flip bot for hedge-mode perpetual futures",
	Long: `Flipper trades one symbol at a time on a hedge-mode futures account.

Each cycle enters in the direction of a strong 24h mover and protects the leg
with a take-profit and a conditional flip into a larger opposite leg. The cycle
ends on a take-profit, a stop-loss once flips run out, or a trailing exit. Cycle
state is rebuilt from exchange fills, so the bot can be restarted at any time.

Commands:
  run      - Trade on the configured exchange (sim or binance)
  status   - Show the fill-derived state of a symbol
  maxloss  - Print the worst-case loss of one cycle
  journal  - Query the cycle journal
  config   - Generate or validate configuration files`,
	SilenceUsage: true,
}

var (
	cfgFile   string
	logLevel  string
	logFormat string
)

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "path to config file (YAML or JSON), defaults when empty")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override log.level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "override log.format (text or json)")
}

// loadConfig reads --config, or the defaults, and applies the log
// settings and flag overrides.
func loadConfig() (*config.Config, error) {
	cfg := config.Default()
	if cfgFile != "" {
		var err error
		cfg, err = config.LoadFromFile(cfgFile)
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if logFormat != "" {
		cfg.Log.Format = logFormat
	}
	if err := setupLogging(cfg.Log); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setupLogging(lc config.LogConfig) error {
	lvl := logrus.InfoLevel
	if lc.Level != "" {
		var err error
		lvl, err = logrus.ParseLevel(lc.Level)
		if err != nil {
			return fmt.Errorf("log level: %w", err)
		}
	}
	logrus.SetLevel(lvl)

	switch lc.Format {
	case "json":
		logrus.SetFormatter(&logrus.JSONFormatter{})
	case "", "text":
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		return fmt.Errorf("log format %q: want text or json", lc.Format)
	}
	return nil
}
