package risk

import (
	"fmt"

	"github.com/rustyeddy/flipper/market"
)

func offset(entry, pct float64, up bool) float64 {
	if up {
		return entry * (1 + pct/100)
	}
	return entry * (1 - pct/100)
}

// TakeProfitPrice returns the static take-profit level. In trailing mode
// there is no fixed level and ok is false.
func (e *Engine) TakeProfitPrice(entry float64, side market.PositionSide, rangePct float64) (float64, bool) {
	if e.cfg.TrailingExit {
		return 0, false
	}
	return offset(entry, rangePct, side == market.Long), true
}

// FlipTriggerPrice is the adverse level where the leg flips or stops out.
func (e *Engine) FlipTriggerPrice(entry float64, side market.PositionSide, rangePct float64) float64 {
	return offset(entry, rangePct, side == market.Short)
}

// TrailingExitCheck activates once the peak reached rangePct of profit and
// exits when the profit gives back TrailingRetracementPct percent of the
// peak profit.
func (e *Engine) TrailingExitCheck(entry, current, peak float64, side market.PositionSide, rangePct float64) (bool, string) {
	if entry <= 0 {
		return false, ""
	}
	sign := side.Sign()
	peakPct := sign * (peak - entry) / entry * 100
	if peakPct < rangePct {
		return false, ""
	}
	nowPct := sign * (current - entry) / entry * 100
	given := (peakPct - nowPct) / peakPct * 100
	if given >= e.cfg.TrailingRetracementPct {
		return true, fmt.Sprintf("trailing exit: peak %.2f%% retraced to %.2f%%", peakPct, nowPct)
	}
	return false, ""
}

// BreakEvenPrice is where the current leg recovers cumulativeLossUSD plus
// its own round trip fees. Diagnostic only.
func (e *Engine) BreakEvenPrice(entry float64, side market.PositionSide, cumulativeLossUSD, sizeUSD float64) float64 {
	if sizeUSD <= 0 {
		return entry
	}
	required := cumulativeLossUSD + sizeUSD*e.cfg.FeeRate*2
	move := required / sizeUSD * 100
	return offset(entry, move, side != market.Short)
}
