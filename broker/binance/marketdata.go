package binance

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/rustyeddy/flipper/broker"
	"github.com/rustyeddy/flipper/market"
)

func (c *Client) Tickers24h(ctx context.Context) ([]market.Ticker24h, error) {
	res, err := c.api.NewListPriceChangeStatsService().Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("24h tickers: %w", translate(err, broker.ErrTransient))
	}
	return toTickers(res), nil
}

func (c *Client) Candles(ctx context.Context, symbol, interval string, limit int) ([]market.Candle, error) {
	res, err := c.api.NewKlinesService().Symbol(symbol).Interval(interval).Limit(limit).Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("klines %s: %w", symbol, translate(err, broker.ErrTransient))
	}
	return toCandles(res), nil
}

// toTickers skips rows that do not parse; the scanner only ranks.
func toTickers(res []*futures.PriceChangeStats) []market.Ticker24h {
	out := make([]market.Ticker24h, 0, len(res))
	for _, s := range res {
		chg, err := strconv.ParseFloat(s.PriceChangePercent, 64)
		if err != nil {
			continue
		}
		last, _ := strconv.ParseFloat(s.LastPrice, 64)
		vol, _ := strconv.ParseFloat(s.QuoteVolume, 64)
		out = append(out, market.Ticker24h{
			Symbol:      s.Symbol,
			ChangePct:   chg,
			LastPrice:   last,
			QuoteVolume: vol,
		})
	}
	return out
}

func toCandles(res []*futures.Kline) []market.Candle {
	out := make([]market.Candle, 0, len(res))
	for _, k := range res {
		o, err1 := strconv.ParseFloat(k.Open, 64)
		h, err2 := strconv.ParseFloat(k.High, 64)
		l, err3 := strconv.ParseFloat(k.Low, 64)
		cl, err4 := strconv.ParseFloat(k.Close, 64)
		if err1 != nil || err2 != nil || err3 != nil || err4 != nil {
			continue
		}
		v, _ := strconv.ParseFloat(k.Volume, 64)
		out = append(out, market.Candle{
			Open:   o,
			High:   h,
			Low:    l,
			Close:  cl,
			Time:   time.UnixMilli(k.OpenTime),
			Volume: v,
		})
	}
	return out
}
