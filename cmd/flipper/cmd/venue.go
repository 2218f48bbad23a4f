package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rustyeddy/flipper/broker"
	"github.com/rustyeddy/flipper/broker/binance"
	"github.com/rustyeddy/flipper/broker/sim"
	"github.com/rustyeddy/flipper/config"
	"github.com/rustyeddy/flipper/journal"
	"github.com/rustyeddy/flipper/market"
	"github.com/sirupsen/logrus"
)

// venue is the exchange the bot trades on. sim is set for paper trading.
type venue struct {
	ex     broker.Exchange
	stream broker.PositionStream
	md     broker.MarketData
	sim    *sim.Engine
}

func openVenue(cfg *config.Config) (venue, error) {
	switch cfg.Exchange.Name {
	case "binance":
		key, secret, err := cfg.Exchange.Credentials()
		if err != nil {
			return venue{}, err
		}
		c := binance.New(binance.Config{
			APIKey:     key,
			APISecret:  secret,
			Testnet:    cfg.Exchange.Testnet,
			QuoteAsset: cfg.Scanner.QuoteSuffix,
		})
		return venue{ex: c, stream: c, md: c}, nil
	case "sim":
		e, err := newSim(cfg)
		if err != nil {
			return venue{}, err
		}
		return venue{ex: e, stream: e, md: e, sim: e}, nil
	}
	return venue{}, fmt.Errorf("unknown exchange %q", cfg.Exchange.Name)
}

// newSim seeds a paper exchange with the configured symbol as the only
// 24h mover.
func newSim(cfg *config.Config) (*sim.Engine, error) {
	sc := cfg.Sim
	e := sim.NewEngine(sim.Options{
		Balance:  sc.Balance,
		FeeRate:  cfg.Strategy.FeeRate,
		Leverage: cfg.Strategy.Leverage,
	})
	if err := e.UpdatePrice(simTick(sc.Symbol, sc.Bid, sc.Ask)); err != nil {
		return nil, fmt.Errorf("seed sim price: %w", err)
	}
	e.SetTicker24h(market.Ticker24h{
		Symbol:      sc.Symbol,
		ChangePct:   sc.ChangePct,
		QuoteVolume: sc.Balance * 1000,
	})
	return e, nil
}

func simTick(symbol string, bid, ask float64) market.Tick {
	return market.Tick{Symbol: symbol, Bid: bid, Ask: ask, Last: (bid + ask) / 2, Time: time.Now()}
}

// replayPrices walks the configured price steps on the paper exchange.
func replayPrices(ctx context.Context, e *sim.Engine, sc config.SimConfig) {
	for i, step := range sc.PriceSteps {
		t := time.NewTimer(step.Delay.Duration)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
		if err := e.UpdatePrice(simTick(sc.Symbol, step.Bid, step.Ask)); err != nil {
			log.WithError(err).WithField("step", i).Warn("price step failed")
			continue
		}
		log.WithFields(logrus.Fields{
			"step": i,
			"bid":  step.Bid,
			"ask":  step.Ask,
		}).Info("sim price updated")
	}
	log.Info("sim price steps done")
}

func openJournal(ctx context.Context, jc config.JournalConfig) (journal.Journal, error) {
	switch jc.Type {
	case "", "none":
		return journal.Nop{}, nil
	case "sqlite":
		j, err := journal.NewSQLite(jc.DBPath)
		if err != nil {
			return nil, err
		}
		return j, nil
	case "csv":
		j, err := journal.NewCSV(jc.CyclesFile, jc.EventsFile)
		if err != nil {
			return nil, err
		}
		return j, nil
	case "postgres":
		dsn := os.Getenv(jc.DSNEnv)
		if dsn == "" {
			return nil, fmt.Errorf("journal: %s is not set", jc.DSNEnv)
		}
		j, err := journal.NewPostgres(ctx, dsn)
		if err != nil {
			return nil, err
		}
		return j, nil
	}
	return nil, fmt.Errorf("unknown journal type %q", jc.Type)
}
