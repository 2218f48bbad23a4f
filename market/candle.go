package market

import "time"

// Candle represents OHLC (Open, High, Low, Close) candlestick data
type Candle struct {
	Open   float64
	High   float64
	Low    float64
	Close  float64
	time.Time
	Volume float64
}

// RangePct is (high - low) / open as a percentage.
func (c Candle) RangePct() float64 {
	if c.Open <= 0 {
		return 0
	}
	return (c.High - c.Low) / c.Open * 100
}

// AvgRangePct averages RangePct over the candles, skipping ones with no
// open price.
func AvgRangePct(candles []Candle) float64 {
	var sum float64
	var n int
	for _, c := range candles {
		if c.Open <= 0 {
			continue
		}
		sum += c.RangePct()
		n++
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// Ticker24h is a rolling 24 hour summary of one symbol.
type Ticker24h struct {
	Symbol      string
	ChangePct   float64
	LastPrice   float64
	QuoteVolume float64
}
