package cycle

import (
	"github.com/rustyeddy/flipper/market"
	"github.com/rustyeddy/flipper/risk"
)

// Targets are the orders that should protect one open leg: a reduce-only
// take-profit (absent in trailing mode) and exactly one of a conditional
// flip or a reduce-only stop-loss at the same trigger.
type Targets struct {
	Symbol     string
	Side       market.PositionSide
	Entry      float64
	Contracts  float64
	RangePct   float64
	TakeProfit float64
	Trigger    float64
	Decision   risk.Decision
}

// ComputeTargets prices the trigger levels for leg at flipCount and
// attaches the flip-or-stop decision.
func ComputeTargets(eng *risk.Engine, leg market.Position, flipCount int, spreadPct float64, dec risk.Decision) Targets {
	rangePct := eng.DynamicRange(flipCount, spreadPct)
	tp, _ := eng.TakeProfitPrice(leg.EntryPrice, leg.Side, rangePct)
	return Targets{
		Symbol:     leg.Symbol,
		Side:       leg.Side,
		Entry:      leg.EntryPrice,
		Contracts:  leg.Contracts,
		RangePct:   rangePct,
		TakeProfit: tp,
		Trigger:    eng.FlipTriggerPrice(leg.EntryPrice, leg.Side, rangePct),
		Decision:   dec,
	}
}

// Adverse is the direction the price moves to hit the trigger.
func (t Targets) Adverse() market.TriggerDirection {
	if t.Side == market.Short {
		return market.TriggerRising
	}
	return market.TriggerFalling
}

// Crossed reports whether last is at or beyond the trigger.
func (t Targets) Crossed(last float64) bool {
	if t.Trigger <= 0 || last <= 0 {
		return false
	}
	return t.Adverse().Crossed(last, t.Trigger)
}

// FlipAmount is the contract size of the flip leg at the trigger price.
func (t Targets) FlipAmount() float64 {
	if t.Trigger <= 0 {
		return 0
	}
	return t.Decision.SizeUSD / t.Trigger
}

func (t Targets) TakeProfitOrder() (market.OrderRequest, bool) {
	if t.TakeProfit <= 0 {
		return market.OrderRequest{}, false
	}
	return market.OrderRequest{
		Symbol:       t.Symbol,
		Type:         market.OrderLimit,
		Side:         t.Side.CloseSide(),
		PositionSide: t.Side,
		Amount:       t.Contracts,
		Price:        t.TakeProfit,
		ReduceOnly:   true,
		Purpose:      market.PurposeTakeProfit,
	}, true
}

func (t Targets) FlipOrder() market.OrderRequest {
	next := t.Side.Opposite()
	return market.OrderRequest{
		Symbol:       t.Symbol,
		Type:         market.OrderConditional,
		Side:         next.OpenSide(),
		PositionSide: next,
		Amount:       t.FlipAmount(),
		TriggerPrice: t.Trigger,
		Direction:    t.Adverse(),
		Purpose:      market.PurposeFlip,
	}
}

func (t Targets) StopOrder() market.OrderRequest {
	return market.OrderRequest{
		Symbol:       t.Symbol,
		Type:         market.OrderConditional,
		Side:         t.Side.CloseSide(),
		PositionSide: t.Side,
		Amount:       t.Contracts,
		TriggerPrice: t.Trigger,
		Direction:    t.Adverse(),
		ReduceOnly:   true,
		Purpose:      market.PurposeStopLoss,
	}
}

// ProtectiveOrder is the flip order when the decision allows one and the
// stop-loss otherwise. The two are never placed together.
func (t Targets) ProtectiveOrder() market.OrderRequest {
	if t.Decision.Flip() {
		return t.FlipOrder()
	}
	return t.StopOrder()
}
