package sim

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rustyeddy/flipper/broker"
	"github.com/rustyeddy/flipper/market"
)

// SetTicker24h sets the rolling statistics reported for a symbol.
func (e *Engine) SetTicker24h(t market.Ticker24h) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.tickers[t.Symbol] = t
}

func (e *Engine) Tickers24h(ctx context.Context) ([]market.Ticker24h, error) {
	if err := e.fault(OpTickers); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]market.Ticker24h, 0, len(e.tickers))
	for sym, t := range e.tickers {
		if tk, err := e.ticks.Get(sym); err == nil {
			t.LastPrice = tk.Price()
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

// Candles buckets the recorded ticks of symbol into OHLC candles. The
// interval is a Go duration such as "1m" or "5m".
func (e *Engine) Candles(ctx context.Context, symbol, interval string, limit int) ([]market.Candle, error) {
	if err := e.fault(OpCandles); err != nil {
		return nil, err
	}
	d, err := time.ParseDuration(interval)
	if err != nil || d <= 0 {
		return nil, fmt.Errorf("%w: interval %q", broker.ErrInvalidRequest, interval)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	var out []market.Candle
	for _, t := range e.history[symbol] {
		px := t.Price()
		start := t.Time.Truncate(d)
		if n := len(out); n > 0 && out[n-1].Time.Equal(start) {
			c := &out[n-1]
			c.High = max(c.High, px)
			c.Low = min(c.Low, px)
			c.Close = px
			continue
		}
		out = append(out, market.Candle{Open: px, High: px, Low: px, Close: px, Time: start})
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}
