package cycle

import (
	"context"
	"errors"
	"fmt"

	"github.com/rustyeddy/flipper/broker"
	"github.com/rustyeddy/flipper/journal"
	"github.com/rustyeddy/flipper/market"
	"github.com/sirupsen/logrus"
)

// Monitor watches the active symbol through the position feed until the
// cycle closes. Transient failures inside a snapshot are logged and the
// next snapshot retries.
func (o *Orchestrator) Monitor(ctx context.Context, st State) (State, error) {
	l := log.WithFields(st.fields())
	l.Debug("monitoring")

	err := o.feed.Run(ctx, st.Symbol, func(ctx context.Context, ps []market.Position) (bool, error) {
		next, err := o.HandleSnapshot(ctx, st, ps)
		st = next
		if err != nil {
			if errors.Is(err, ErrInvariantViolation) || broker.Classify(err) == broker.KindFatal {
				return true, err
			}
			o.metrics.ExchangeError(broker.Classify(err).String())
			l.WithError(err).Warn("snapshot not handled, retrying on the next one")
		}
		return st.Phase == PhaseClosed, nil
	})
	return st, err
}

// HandleSnapshot applies one position snapshot of the active symbol:
// two legs mean a flip fired, no legs mean the cycle is over, and one leg
// is checked against the trigger and the trailing exit.
func (o *Orchestrator) HandleSnapshot(ctx context.Context, st State, positions []market.Position) (State, error) {
	long, short := market.Legs(positions, st.Symbol)
	switch {
	case long != nil && short != nil:
		return o.Cleanup(ctx, st, *long, *short)
	case long == nil && short == nil:
		return o.closeCycle(ctx, st, ""), nil
	}

	leg := long
	if leg == nil {
		leg = short
	}
	if leg.Side != st.Side {
		return o.adopt(ctx, st, *leg)
	}
	if st.Unprotected || st.Targets.Side != leg.Side || st.Targets.Trigger <= 0 {
		return o.Reconcile(ctx, st, *leg)
	}

	tick, err := o.ex.GetTick(ctx, st.Symbol)
	if err != nil {
		return st, fmt.Errorf("price %s: %w", st.Symbol, err)
	}
	px := tick.Price()

	if st.Targets.Crossed(px) {
		return o.safetyNet(ctx, st, *leg, px)
	}

	if o.eng.Trailing() {
		st.updatePeak(px)
		if exit, why := o.eng.TrailingExitCheck(st.Entry, px, st.Peak, st.Side, st.Targets.RangePct); exit {
			return o.exitNow(ctx, st, *leg, px, ReasonTrailingExit, why)
		}
	}

	log.WithFields(st.fields()).WithFields(logrus.Fields{
		"price":   px,
		"trigger": st.Targets.Trigger,
		"peak":    st.Peak,
	}).Debug("leg checked")
	return st, nil
}

// safetyNet handles a price already through the trigger while the
// conditional order has not fired: it flips or stops out at market.
func (o *Orchestrator) safetyNet(ctx context.Context, st State, leg market.Position, px float64) (State, error) {
	l := log.WithFields(st.fields()).WithFields(logrus.Fields{
		"price":   px,
		"trigger": st.Targets.Trigger,
	})

	if !st.Targets.Decision.Flip() {
		l.Warn("trigger crossed without stop fill, closing at market")
		return o.exitNow(ctx, st, leg, px, ReasonStopLoss, "trigger crossed")
	}

	l.Warn("trigger crossed without flip fill, flipping at market")
	ctx, cancel := o.detached(ctx)
	defer cancel()

	if err := o.cancelAll(ctx, st.Symbol); err != nil {
		return st, err
	}

	next := leg.Side.Opposite()
	_, err := o.place(ctx, market.OrderRequest{
		Symbol:       st.Symbol,
		Type:         market.OrderMarket,
		Side:         next.OpenSide(),
		PositionSide: next,
		Amount:       st.Targets.Decision.SizeUSD / px,
		Purpose:      market.PurposeFlip,
	})
	if err != nil {
		if broker.Classify(err) == broker.KindRejected {
			l.WithError(err).Warn("market flip rejected, stopping out")
			return o.exitNow(ctx, st, leg, px, ReasonStopLoss, "flip rejected")
		}
		// put the protective orders back before giving up on this tick
		restored, rerr := o.Reconcile(ctx, st, leg)
		return restored, errors.Join(err, rerr)
	}

	if err := sleep(ctx, o.mon.FillWait.Duration); err != nil {
		return st, err
	}
	ps, err := o.ex.FetchOpenPositions(ctx)
	if err != nil {
		return st, fmt.Errorf("positions after market flip: %w", err)
	}
	long, short := market.Legs(ps, st.Symbol)
	if long == nil || short == nil {
		// the new leg is not visible yet; the next snapshot cleans up
		return st, nil
	}
	return o.Cleanup(ctx, st, *long, *short)
}

// exitNow closes leg at market and ends the cycle with reason. If the
// close fails the protective orders are restored.
func (o *Orchestrator) exitNow(ctx context.Context, st State, leg market.Position, px float64, reason, detail string) (State, error) {
	ctx, cancel := o.detached(ctx)
	defer cancel()

	if err := o.cancelAll(ctx, st.Symbol); err != nil {
		return st, err
	}

	purpose := market.PurposeClose
	kind := journal.EventTrailingExit
	if reason == ReasonStopLoss {
		purpose = market.PurposeStopLoss
		kind = journal.EventStopLoss
	}

	if _, err := o.place(ctx, closeRequest(leg, purpose)); err != nil {
		restored, rerr := o.Reconcile(ctx, st, leg)
		return restored, errors.Join(err, rerr)
	}
	st.ExitReason = reason
	o.recordEvent(ctx, st, kind, px, leg.Notional(), detail)

	if err := sleep(ctx, o.mon.FillWait.Duration); err != nil {
		return st, err
	}
	ps, err := o.ex.FetchOpenPositions(ctx)
	if err != nil {
		return st, fmt.Errorf("positions after exit: %w", err)
	}
	if long, short := market.Legs(ps, st.Symbol); long != nil || short != nil {
		return st, nil
	}
	return o.closeCycle(ctx, st, reason), nil
}
