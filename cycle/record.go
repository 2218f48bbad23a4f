package cycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rustyeddy/flipper/broker"
	"github.com/rustyeddy/flipper/journal"
	"github.com/rustyeddy/flipper/market"
	"github.com/sirupsen/logrus"
)

// place submits req and counts it. Rejections are counted separately so
// degraded flips show up in metrics.
func (o *Orchestrator) place(ctx context.Context, req market.OrderRequest) (market.Order, error) {
	order, err := o.ex.CreateOrder(ctx, req)
	if err != nil {
		err = refused(err)
		if broker.Classify(err) == broker.KindRejected {
			o.metrics.OrderRejected(string(req.Purpose))
		}
		return market.Order{}, fmt.Errorf("%s order on %s %s: %w", req.Purpose, req.Symbol, req.PositionSide, err)
	}
	o.metrics.OrderPlaced(string(req.Purpose))
	log.WithFields(logrus.Fields{
		"symbol":   req.Symbol,
		"order_id": order.ID,
		"purpose":  req.Purpose,
		"type":     req.Type,
		"side":     req.Side,
		"leg":      req.PositionSide,
		"amount":   req.Amount,
		"price":    req.Price,
		"trigger":  req.TriggerPrice,
	}).Info("order placed")
	return order, nil
}

// refused turns an order the exchange calls malformed, e.g. a precision
// error, into a rejection of that order. Invalid requests stay fatal only
// for account-level calls.
func refused(err error) error {
	if errors.Is(err, broker.ErrInvalidRequest) {
		return fmt.Errorf("%w: %v", broker.ErrRejected, err)
	}
	return err
}

// cancelAll cancels every open order on the symbol.
func (o *Orchestrator) cancelAll(ctx context.Context, symbol string) error {
	n, err := broker.CancelAll(ctx, o.ex, symbol)
	o.metrics.OrdersCancelled(n)
	if err != nil {
		return fmt.Errorf("cancel orders %s: %w", symbol, err)
	}
	return nil
}

// closeRequest flattens leg at market.
func closeRequest(leg market.Position, purpose market.Purpose) market.OrderRequest {
	return market.OrderRequest{
		Symbol:       leg.Symbol,
		Type:         market.OrderMarket,
		Side:         leg.Side.CloseSide(),
		PositionSide: leg.Side,
		Amount:       leg.Contracts,
		ReduceOnly:   true,
		Purpose:      purpose,
	}
}

func (o *Orchestrator) recordCycle(ctx context.Context, st State) {
	err := o.journal.RecordCycle(context.WithoutCancel(ctx), journal.CycleRecord{
		CycleID:     st.CycleID,
		Symbol:      st.Symbol,
		Direction:   st.Direction,
		OpenTime:    st.Opened,
		CloseTime:   closeTime(st),
		EntryPrice:  st.EntryPrice,
		InitialSize: st.InitialSize,
		Flips:       st.FlipCount,
		RealizedPnL: st.RealizedPnL,
		Fees:        st.Fees,
		CloseReason: st.CloseReason,
	})
	if err != nil {
		log.WithError(err).WithFields(st.fields()).Warn("journal cycle failed")
	}
}

func (o *Orchestrator) recordEvent(ctx context.Context, st State, kind journal.EventKind, price, sizeUSD float64, detail string) {
	err := o.journal.RecordEvent(context.WithoutCancel(ctx), journal.EventRecord{
		CycleID:   st.CycleID,
		Symbol:    st.Symbol,
		Time:      o.now(),
		Kind:      kind,
		Side:      st.Side,
		Price:     price,
		SizeUSD:   sizeUSD,
		FlipCount: st.FlipCount,
		Detail:    detail,
	})
	if err != nil {
		log.WithError(err).WithFields(st.fields()).Warn("journal event failed")
	}
}

func (o *Orchestrator) recordBalance(ctx context.Context, st State) {
	avail, err := o.ex.GetAvailableBalance(ctx)
	if err != nil {
		log.WithError(err).Debug("balance snapshot skipped")
		return
	}
	o.metrics.SetBalance(avail)
	err = o.journal.RecordBalance(context.WithoutCancel(ctx), journal.BalanceSnapshot{
		Time:      o.now(),
		Available: avail,
		CycleID:   st.CycleID,
	})
	if err != nil {
		log.WithError(err).Warn("journal balance failed")
	}
}

func closeTime(st State) (t time.Time) {
	if st.Phase == PhaseClosed {
		return st.Closed
	}
	return t
}
