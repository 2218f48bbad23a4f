package cycle

import (
	"context"
	"errors"
	"fmt"

	"github.com/rustyeddy/flipper/broker"
	"github.com/rustyeddy/flipper/journal"
	"github.com/rustyeddy/flipper/market"
	"github.com/rustyeddy/flipper/risk"
	"github.com/sirupsen/logrus"
)

// Reconcile cancels every open order on the symbol and places exactly the
// take-profit and flip or stop-loss orders that leg needs at st.FlipCount.
// Running it twice leaves the same order book.
func (o *Orchestrator) Reconcile(ctx context.Context, st State, leg market.Position) (State, error) {
	ctx, cancel := o.detached(ctx)
	defer cancel()

	st.Side = leg.Side
	st.Entry = leg.EntryPrice
	st.Contracts = leg.Contracts
	if st.SizeUSD <= 0 {
		st.SizeUSD = leg.Notional()
	}
	l := log.WithFields(st.fields())

	if err := o.cancelAll(ctx, st.Symbol); err != nil {
		st.Unprotected = true
		return st, err
	}

	spread := 0.0
	if tick, err := o.ex.GetTick(ctx, st.Symbol); err != nil {
		l.WithError(err).Warn("no tick for spread, using base range")
	} else {
		spread = tick.SpreadPct()
	}

	var dec risk.Decision
	if st.CountUnknown {
		l.Warn("flip count not confirmed by fills, protecting with stop-loss")
		dec = risk.Stop("FILLS_UNKNOWN", "flip count not confirmed by fills")
	} else {
		var err error
		dec, err = o.eng.Decide(st.FlipCount, st.SizeUSD, func(margin float64) (bool, error) {
			return o.ex.CheckSufficientBalance(ctx, margin)
		})
		if err != nil {
			l.WithError(err).Warn("balance check failed, protecting with stop-loss")
			dec = risk.Stop("BALANCE_UNKNOWN", err.Error())
		}
	}

	t := ComputeTargets(o.eng, leg, st.FlipCount, spread, dec)

	var errs []error
	if req, ok := t.TakeProfitOrder(); ok {
		if _, err := o.place(ctx, req); err != nil {
			errs = append(errs, err)
		}
	}

	_, err := o.place(ctx, t.ProtectiveOrder())
	if err != nil && t.Decision.Flip() && broker.Classify(err) == broker.KindRejected {
		l.WithError(err).Warn("flip order rejected, placing stop-loss instead")
		t.Decision = risk.Stop("FLIP_REJECTED", err.Error())
		_, err = o.place(ctx, t.StopOrder())
	}
	if err != nil {
		errs = append(errs, err)
	}

	st.Targets = t
	st.Unprotected = len(errs) > 0
	if st.Peak == 0 {
		st.Peak = leg.EntryPrice
	}
	st.Phase = PhaseMonitoring
	o.metrics.SetFlipCount(st.Symbol, st.FlipCount)

	l.WithFields(logrus.Fields{
		"range_pct": t.RangePct,
		"tp":        t.TakeProfit,
		"trigger":   t.Trigger,
		"action":    t.Decision.Action,
		"reason":    t.Decision.Reason(),
	}).Info("orders reconciled")
	return st, errors.Join(errs...)
}

// Cleanup finishes a flip: with both legs open it closes the smaller one,
// re-derives the flip count from fills and protects the remaining leg.
func (o *Orchestrator) Cleanup(ctx context.Context, st State, long, short market.Position) (State, error) {
	ctx, cancel := o.detached(ctx)
	defer cancel()

	st.Phase = PhaseFlipping
	l := log.WithFields(st.fields())

	if err := o.cancelAll(ctx, st.Symbol); err != nil {
		l.WithError(err).Warn("cancel before cleanup failed")
	}

	old, cur := long, short
	if long.Notional() > short.Notional() {
		old, cur = short, long
	}
	if !o.flipShaped(old, cur) {
		return o.violate(ctx, st, long, short)
	}

	var errs []error
	if _, err := o.place(ctx, closeRequest(old, market.PurposeClose)); err != nil {
		errs = append(errs, fmt.Errorf("close old leg: %w", err))
	}
	if err := sleep(ctx, o.mon.FillWait.Duration); err != nil {
		errs = append(errs, err)
	}

	size := cur.Notional()
	if st.Targets.Side == old.Side && st.Targets.Decision.SizeUSD > 0 {
		size = st.Targets.Decision.SizeUSD
	}
	flips := st.FlipCount + 1
	ts, err := o.Status(ctx, st.Symbol)
	switch {
	case err != nil:
		l.WithError(err).Warn("fills unavailable, counting flip locally")
	case ts.InPosition && ts.Side == cur.Side && ts.FlipDepth > 0:
		flips = ts.FlipDepth
		st.RealizedPnL = ts.CycleRealizedPnL
		st.Fees = ts.CycleFees
		st.CountUnknown = false
	}

	st.FlipCount = flips
	st.SizeUSD = size
	st.Side = cur.Side
	st.Peak = cur.EntryPrice
	st.ExitReason = ""
	st.BreakEven = o.eng.BreakEvenPrice(cur.EntryPrice, cur.Side, -st.RealizedPnL, size)

	o.recordEvent(ctx, st, journal.EventFlip, cur.EntryPrice, size, fmt.Sprintf("closed %s %.6f", old.Side, old.Contracts))
	o.metrics.Flipped(st.Symbol, st.FlipCount)
	l.WithFields(logrus.Fields{
		"new_side":   cur.Side,
		"flip_count": st.FlipCount,
		"size_usd":   size,
		"entry":      cur.EntryPrice,
		"break_even": st.BreakEven,
	}).Info("flip cleaned up")

	st, err = o.Reconcile(ctx, st, cur)
	if err != nil {
		errs = append(errs, err)
	}
	return st, errors.Join(errs...)
}

// flipShaped reports whether cur is large enough to be the martingale leg
// that followed old: at least halfway to the multiplier.
func (o *Orchestrator) flipShaped(old, cur market.Position) bool {
	if old.Notional() <= 0 {
		return true
	}
	floor := 1 + (o.eng.Config().Multiplier-1)/2
	return cur.Notional()/old.Notional() >= floor
}

// violate flattens both legs and closes the cycle. The legs cannot be told
// apart, so no protective orders are kept.
func (o *Orchestrator) violate(ctx context.Context, st State, long, short market.Position) (State, error) {
	detail := fmt.Sprintf("long %.2f vs short %.2f notional", long.Notional(), short.Notional())
	log.WithFields(st.fields()).WithField("detail", detail).Error("leg sizes do not match a flip")
	o.recordEvent(ctx, st, journal.EventInvariant, 0, 0, detail)

	var errs []error
	for _, leg := range []market.Position{long, short} {
		if _, err := o.place(ctx, closeRequest(leg, market.PurposeClose)); err != nil {
			errs = append(errs, err)
		}
	}
	if err := sleep(ctx, o.mon.FillWait.Duration); err != nil {
		errs = append(errs, err)
	}

	st = o.closeCycle(ctx, st, ReasonInvariant)
	errs = append([]error{fmt.Errorf("%s: %w: %s", st.Symbol, ErrInvariantViolation, detail)}, errs...)
	return st, errors.Join(errs...)
}

// closeCycle cancels what is left, totals the cycle from fills and
// returns a closed state.
func (o *Orchestrator) closeCycle(ctx context.Context, st State, reason string) State {
	ctx, cancel := o.detached(ctx)
	defer cancel()

	l := log.WithFields(st.fields())
	if err := o.cancelAll(ctx, st.Symbol); err != nil {
		l.WithError(err).Warn("cancel on close failed")
	}

	if ts, err := o.Status(ctx, st.Symbol); err != nil {
		l.WithError(err).Warn("fills unavailable, closing with last known pnl")
	} else {
		st.RealizedPnL = ts.CycleRealizedPnL
		st.Fees = ts.CycleFees
		if ts.InPosition {
			l.Warn("fills still show a position, exchange index may lag")
		}
	}

	if reason == "" {
		reason = st.ExitReason
	}
	if reason == "" {
		reason = ReasonTakeProfit
		if st.RealizedPnL < 0 {
			reason = ReasonStopLoss
		}
	}

	st.Phase = PhaseClosed
	st.CloseReason = reason
	st.Closed = o.now()

	o.recordCycle(ctx, st)
	o.recordEvent(ctx, st, journal.EventClose, 0, 0, reason)
	o.recordBalance(ctx, st)
	o.metrics.CycleClosed(st.Symbol, reason, st.RealizedPnL)

	l.WithFields(logrus.Fields{
		"reason": reason,
		"pnl":    st.RealizedPnL,
		"fees":   st.Fees,
	}).Info("cycle closed")
	return st
}
