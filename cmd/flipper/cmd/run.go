package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rustyeddy/flipper/cycle"
	"github.com/rustyeddy/flipper/metrics"
	"github.com/rustyeddy/flipper/risk"
	"github.com/rustyeddy/flipper/scanner"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Trade cycles until interrupted",
	Long: `Run the cycle orchestrator against the configured exchange.

With exchange.name "sim" the bot trades a paper exchange seeded from the sim
section; price_steps, if any, are replayed in the background. With "binance"
the API key pair is read from the environment variables named in the config.

Open positions found at startup are adopted and protected before any new
entry. SIGINT or SIGTERM stops the loop after in-flight order cleanup.

Example:
  flipper run -c flipper.yaml`,
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	v, err := openVenue(cfg)
	if err != nil {
		return fmt.Errorf("exchange: %w", err)
	}

	j, err := openJournal(ctx, cfg.Journal)
	if err != nil {
		return fmt.Errorf("create journal: %w", err)
	}
	defer j.Close()

	eng, err := risk.New(cfg.Strategy)
	if err != nil {
		return err
	}

	m := metrics.New(prometheus.NewRegistry())
	srv := serveMetrics(cfg.Metrics.Addr, m)

	orc, err := cycle.New(cycle.Options{
		Exchange: v.ex,
		Stream:   v.stream,
		Scanner:  scanner.New(v.md, cfg.Scanner),
		Engine:   eng,
		Monitor:  cfg.Monitor,
		Journal:  j,
		Metrics:  m,
	})
	if err != nil {
		return err
	}

	if v.sim != nil && len(cfg.Sim.PriceSteps) > 0 {
		go replayPrices(ctx, v.sim, cfg.Sim)
	}

	log.WithFields(logrus.Fields{
		"exchange":   cfg.Exchange.Name,
		"journal":    cfg.Journal.Type,
		"multiplier": cfg.Strategy.Multiplier,
		"max_flips":  cfg.Strategy.MaxFlips,
		"stream":     cfg.Monitor.UseStream,
	}).Info("flipper starting")

	err = orc.Run(ctx)

	if srv != nil {
		sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(sctx)
	}
	if v.sim != nil {
		fmt.Fprintf(cmd.OutOrStdout(), "\nFinal sim balance: $%.2f\n", v.sim.Balance())
	}
	return err
}

// serveMetrics exposes /metrics and /healthz on addr. An empty addr
// disables the endpoint.
func serveMetrics(addr string, m *metrics.Metrics) *http.Server {
	if addr == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok\n"))
	})
	mux.Handle("/metrics", m.Handler())

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		log.WithField("addr", addr).Info("serving metrics")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("metrics server failed")
		}
	}()
	return srv
}
