package risk

import (
	"fmt"
	"math"

	"github.com/rustyeddy/flipper/config"
)

// Engine sizes positions and places trigger levels for one strategy.
// It holds no mutable state and is safe for concurrent use.
type Engine struct {
	cfg    config.StrategyConfig
	growth float64
}

func New(cfg config.StrategyConfig) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("risk: %w", err)
	}
	growth := cfg.RangeGrowth
	if growth == 0 {
		growth = 1
	}
	return &Engine{cfg: cfg, growth: growth}, nil
}

func (e *Engine) Config() config.StrategyConfig {
	return e.cfg
}

func (e *Engine) Trailing() bool {
	return e.cfg.TrailingExit
}

// NextPositionSize returns the size of the next flip leg, or 0 when the
// flip budget is spent and the leg must be stopped out instead.
func (e *Engine) NextPositionSize(flipCount int, previousSizeUSD float64) float64 {
	if flipCount < 0 || previousSizeUSD < 0 {
		return 0
	}
	if flipCount >= e.cfg.MaxFlips {
		return 0
	}
	return previousSizeUSD * e.cfg.Multiplier
}

// SizeLadder lists the entry size followed by every flip size up to
// MaxFlips.
func (e *Engine) SizeLadder(initialUSD float64) []float64 {
	out := []float64{initialUSD}
	size := initialUSD
	for i := 0; ; i++ {
		size = e.NextPositionSize(i, size)
		if size == 0 {
			return out
		}
		out = append(out, size)
	}
}

// InitialSize picks the entry notional. A fixed size wins over the
// balance percentage.
func (e *Engine) InitialSize(balance float64) float64 {
	if e.cfg.InitialSizeUSD > 0 {
		return e.cfg.InitialSizeUSD
	}
	if balance <= 0 {
		return 0
	}
	return balance * e.cfg.InitialEntryPct / 100
}

// Margin is the collateral needed to open sizeUSD at the configured
// leverage.
func (e *Engine) Margin(sizeUSD float64) float64 {
	return sizeUSD / float64(e.cfg.Leverage)
}

// DynamicRange is the percent distance from entry to the trigger levels
// at the given flip depth.
func (e *Engine) DynamicRange(flipCount int, liveSpreadPct float64) float64 {
	if flipCount < 0 {
		flipCount = 0
	}
	if liveSpreadPct < 0 {
		liveSpreadPct = 0
	}
	return e.cfg.BaseRangePct*math.Pow(e.growth, float64(flipCount)) + liveSpreadPct
}
