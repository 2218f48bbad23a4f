package cycle

import (
	"context"
	"fmt"

	"github.com/rustyeddy/flipper/broker"
	"github.com/rustyeddy/flipper/internal/id"
	"github.com/rustyeddy/flipper/journal"
	"github.com/rustyeddy/flipper/market"
	"github.com/sirupsen/logrus"
)

// Enter opens a new cycle on cand and places its protective orders. Any
// failure returns an idle state; a leg left open by a failure after the
// entry fill is picked up by Resume on the next idle step.
func (o *Orchestrator) Enter(ctx context.Context, cand broker.Candidate) (State, error) {
	idle := State{Phase: PhaseIdle}
	if !cand.Direction.Valid() {
		return idle, fmt.Errorf("enter %s: invalid direction %q", cand.Symbol, cand.Direction)
	}

	st := State{
		Phase:     PhaseEntering,
		CycleID:   id.New(),
		Symbol:    cand.Symbol,
		Direction: cand.Direction,
		Side:      cand.Direction,
	}
	l := log.WithFields(st.fields())

	lev := o.eng.Config().Leverage
	if err := o.ex.SetLeverage(ctx, st.Symbol, lev); err != nil {
		l.WithError(err).Debug("set leverage failed, continuing")
	}

	balance, err := o.ex.GetAvailableBalance(ctx)
	if err != nil {
		return idle, fmt.Errorf("enter %s: balance: %w", st.Symbol, err)
	}
	o.metrics.SetBalance(balance)

	size := o.eng.InitialSize(balance)
	if size <= 0 {
		return idle, fmt.Errorf("enter %s: no size available from balance %.2f", st.Symbol, balance)
	}
	if ok, err := o.ex.CheckSufficientBalance(ctx, o.eng.Margin(size)); err != nil {
		return idle, fmt.Errorf("enter %s: balance check: %w", st.Symbol, err)
	} else if !ok {
		return idle, fmt.Errorf("enter %s: %w", st.Symbol, broker.ErrInsufficientFunds)
	}

	tick, err := o.ex.GetTick(ctx, st.Symbol)
	if err != nil {
		return idle, fmt.Errorf("enter %s: price: %w", st.Symbol, err)
	}
	px := tick.Ask
	if st.Side == market.Short {
		px = tick.Bid
	}
	if px <= 0 {
		px = tick.Price()
	}
	if px <= 0 {
		return idle, fmt.Errorf("enter %s: %w: no price", st.Symbol, broker.ErrTransient)
	}
	amount := size / px

	req := market.OrderRequest{
		Symbol:       st.Symbol,
		Type:         market.OrderMarket,
		Side:         st.Side.OpenSide(),
		PositionSide: st.Side,
		Amount:       amount,
		Purpose:      market.PurposeEntry,
	}
	if !o.eng.Config().MarketEntry {
		req.Type = market.OrderLimit
		req.Price = px
	}
	order, err := o.ex.CreateOrder(ctx, req)
	if err != nil {
		err = refused(err)
		o.metrics.OrderRejected(string(market.PurposeEntry))
		return idle, fmt.Errorf("enter %s: %w", st.Symbol, err)
	}
	o.metrics.OrderPlaced(string(market.PurposeEntry))
	l.WithFields(logrus.Fields{
		"order_id": order.ID,
		"size_usd": size,
		"amount":   amount,
		"price":    px,
	}).Info("entry order placed")

	if err := sleep(ctx, o.mon.FillWait.Duration); err != nil {
		return idle, err
	}

	leg := market.Position{Symbol: st.Symbol, Side: st.Side, Contracts: amount, EntryPrice: px}
	ps, err := o.ex.FetchOpenPositions(ctx)
	switch {
	case err != nil:
		l.WithError(err).Warn("entry position read failed, using estimate")
	default:
		long, short := market.Legs(ps, st.Symbol)
		got := long
		if st.Side == market.Short {
			got = short
		}
		if got != nil {
			leg = *got
		} else if req.Type == market.OrderLimit {
			cctx, cancel := o.detached(ctx)
			defer cancel()
			_ = o.cancelAll(cctx, st.Symbol)
			return idle, fmt.Errorf("enter %s: limit entry not filled", st.Symbol)
		}
	}

	st.Entry = leg.EntryPrice
	st.Contracts = leg.Contracts
	st.SizeUSD = size
	st.InitialSize = size
	st.EntryPrice = leg.EntryPrice
	st.Opened = o.now()
	st.Peak = leg.EntryPrice
	st.Phase = PhaseMonitoring

	o.recordCycle(ctx, st)
	o.recordEvent(ctx, st, journal.EventEntry, leg.EntryPrice, size, "")
	o.metrics.CycleStarted(string(st.Direction))
	o.metrics.SetFlipCount(st.Symbol, 0)

	st, err = o.Reconcile(ctx, st, leg)
	if err != nil {
		return idle, fmt.Errorf("enter %s: protect: %w", st.Symbol, err)
	}

	l.WithFields(logrus.Fields{
		"entry":   st.Entry,
		"tp":      st.Targets.TakeProfit,
		"trigger": st.Targets.Trigger,
	}).Info("cycle opened")
	return st, nil
}
