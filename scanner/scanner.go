// Package scanner picks the next symbol to trade from 24 hour movers.
package scanner

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/rustyeddy/flipper/broker"
	"github.com/rustyeddy/flipper/config"
	"github.com/rustyeddy/flipper/market"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("component", "scanner")

type Scanner struct {
	md      broker.MarketData
	cfg     config.ScannerConfig
	exclude map[string]bool
}

var _ broker.Scanner = (*Scanner)(nil)

func New(md broker.MarketData, cfg config.ScannerConfig) *Scanner {
	ex := make(map[string]bool, len(cfg.Exclude))
	for _, s := range cfg.Exclude {
		ex[strings.ToUpper(s)] = true
	}
	return &Scanner{md: md, cfg: cfg, exclude: ex}
}

// Movers returns the symbols that pass the 24h filters, largest absolute
// change first, capped at TopK.
func (s *Scanner) Movers(ctx context.Context) ([]market.Ticker24h, error) {
	ts, err := s.md.Tickers24h(ctx)
	if err != nil {
		return nil, fmt.Errorf("scan tickers: %w", err)
	}

	var out []market.Ticker24h
	for _, t := range ts {
		if s.cfg.QuoteSuffix != "" && !strings.HasSuffix(t.Symbol, s.cfg.QuoteSuffix) {
			continue
		}
		if s.exclude[t.Symbol] {
			continue
		}
		if math.Abs(t.ChangePct) < s.cfg.MinChangePct {
			continue
		}
		if s.cfg.MinVolumeUSD > 0 && t.QuoteVolume < s.cfg.MinVolumeUSD {
			continue
		}
		out = append(out, t)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return math.Abs(out[i].ChangePct) > math.Abs(out[j].ChangePct)
	})
	if s.cfg.TopK > 0 && len(out) > s.cfg.TopK {
		out = out[:s.cfg.TopK]
	}
	return out, nil
}

// Rank scores each mover by its average recent candle range. Symbols
// whose candles cannot be read are skipped.
func (s *Scanner) Rank(ctx context.Context) ([]broker.Candidate, error) {
	movers, err := s.Movers(ctx)
	if err != nil {
		return nil, err
	}

	var out []broker.Candidate
	for _, t := range movers {
		cs, err := s.md.Candles(ctx, t.Symbol, s.cfg.CandleInterval, s.cfg.LookbackCandles)
		if err != nil {
			log.WithError(err).WithField("symbol", t.Symbol).Warn("skipping symbol without candles")
			continue
		}
		dir := market.Long
		if t.ChangePct < 0 {
			dir = market.Short
		}
		out = append(out, broker.Candidate{
			Symbol:    t.Symbol,
			Direction: dir,
			ChangePct: t.ChangePct,
			RangePct:  market.AvgRangePct(cs),
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].RangePct > out[j].RangePct })
	return out, nil
}

func (s *Scanner) BestVolatileCoin(ctx context.Context) (broker.Candidate, bool, error) {
	ranked, err := s.Rank(ctx)
	if err != nil {
		return broker.Candidate{}, false, err
	}
	if len(ranked) == 0 {
		return broker.Candidate{}, false, nil
	}
	best := ranked[0]
	log.WithFields(logrus.Fields{
		"symbol":    best.Symbol,
		"direction": best.Direction,
		"change":    best.ChangePct,
		"range":     best.RangePct,
	}).Info("candidate selected")
	return best, true, nil
}
