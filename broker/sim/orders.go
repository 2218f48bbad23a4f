package sim

import (
	"context"
	"fmt"

	"github.com/rustyeddy/flipper/broker"
	"github.com/rustyeddy/flipper/market"
	"github.com/sirupsen/logrus"
)

func (e *Engine) FetchOpenOrders(ctx context.Context, symbol string) ([]market.Order, error) {
	if err := e.fault(OpOrders); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	var out []market.Order
	for _, o := range e.orders {
		if o.Symbol == symbol {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (e *Engine) CancelOrder(ctx context.Context, id, symbol string) error {
	if err := e.fault(OpCancel); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	for i, o := range e.orders {
		if o.ID == id && o.Symbol == symbol {
			e.orders = append(e.orders[:i], e.orders[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("cancel %s: %w", id, broker.ErrOrderNotFound)
}

// CreateOrder validates and submits an order. Market orders and marketable
// limits execute immediately; the rest rest until UpdatePrice reaches
// them.
func (e *Engine) CreateOrder(ctx context.Context, req market.OrderRequest) (market.Order, error) {
	if err := e.fault(OpCreate + ":" + string(req.Purpose)); err != nil {
		return market.Order{}, err
	}
	if err := e.fault(OpCreate); err != nil {
		return market.Order{}, err
	}
	if err := req.Validate(); err != nil {
		return market.Order{}, fmt.Errorf("%w: %v", broker.ErrInvalidRequest, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	t, err := e.ticks.Get(req.Symbol)
	if err != nil {
		return market.Order{}, fmt.Errorf("%w: no price for %s", broker.ErrTransient, req.Symbol)
	}

	l := e.legs[legKey{req.Symbol, req.PositionSide}]
	if req.Opens() {
		if req.ReduceOnly {
			return market.Order{}, fmt.Errorf("%w: reduce-only order would open %s", broker.ErrRejected, req.PositionSide)
		}
		if err := e.checkMarginLocked(req, t); err != nil {
			return market.Order{}, err
		}
	} else if !l.open() {
		return market.Order{}, fmt.Errorf("%w: no %s position to reduce on %s", broker.ErrRejected, req.PositionSide, req.Symbol)
	}

	o := &market.Order{
		ID:           newID(),
		Symbol:       req.Symbol,
		Type:         req.Type,
		Side:         req.Side,
		PositionSide: req.PositionSide,
		Amount:       req.Amount,
		Price:        req.Price,
		TriggerPrice: req.TriggerPrice,
		Direction:    req.Direction,
		ReduceOnly:   req.ReduceOnly,
		Purpose:      req.Purpose,
		Created:      e.clockLocked(),
	}

	switch {
	case req.Type == market.OrderMarket:
		if err := e.executeLocked(o, fillPrice(o.Side, t)); err != nil {
			return market.Order{}, err
		}
		e.publishLocked(o.Symbol)
	case req.Type == market.OrderLimit && marketable(o, t):
		if err := e.executeLocked(o, fillPrice(o.Side, t)); err != nil {
			return market.Order{}, err
		}
		e.publishLocked(o.Symbol)
	default:
		e.orders = append(e.orders, o)
	}

	log.WithFields(logrus.Fields{
		"symbol":  o.Symbol,
		"type":    o.Type,
		"side":    o.Side,
		"leg":     o.PositionSide,
		"amount":  o.Amount,
		"purpose": o.Purpose,
	}).Debug("order accepted")
	return *o, nil
}

func (e *Engine) checkMarginLocked(req market.OrderRequest, t market.Tick) error {
	px := req.Price
	if px == 0 {
		px = req.TriggerPrice
	}
	if px == 0 {
		px = fillPrice(req.Side, t)
	}
	need := req.Amount * px / float64(e.leverageLocked(req.Symbol))
	if need > e.availableLocked() {
		return fmt.Errorf("%w: need %.2f margin, %.2f available", broker.ErrInsufficientFunds, need, e.availableLocked())
	}
	return nil
}

func marketable(o *market.Order, t market.Tick) bool {
	if o.Side == market.Buy {
		return t.Ask > 0 && o.Price >= t.Ask
	}
	return t.Bid > 0 && o.Price <= t.Bid
}

// executeLocked fills o at price against its leg.
func (e *Engine) executeLocked(o *market.Order, price float64) error {
	key := legKey{o.Symbol, o.PositionSide}
	l := e.legs[key]

	qty := o.Amount
	if o.Side == o.PositionSide.OpenSide() {
		if l == nil {
			l = &leg{symbol: o.Symbol, side: o.PositionSide}
			e.legs[key] = l
		}
		l.add(qty, price)
	} else {
		if !l.open() {
			return fmt.Errorf("%w: no %s position to reduce on %s", broker.ErrRejected, o.PositionSide, o.Symbol)
		}
		var pl float64
		qty, pl = l.reduce(qty, price)
		e.balance += pl
	}

	fee := qty * price * e.feeRate
	e.balance -= fee
	e.fills = append(e.fills, market.Fill{
		ID:      newID(),
		OrderID: o.ID,
		Symbol:  o.Symbol,
		Time:    e.clockLocked(),
		Side:    o.Side,
		Amount:  qty,
		Price:   price,
		Fee:     fee,
	})
	return nil
}

// SetTick stores a price without matching resting orders, the way a
// venue looks between a gap and the matching engine catching up.
func (e *Engine) SetTick(t market.Tick) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.storeTickLocked(t)
}

func (e *Engine) storeTickLocked(t market.Tick) {
	if t.Time.IsZero() {
		t.Time = e.now()
	}
	e.ticks.Set(t)
	e.history[t.Symbol] = append(e.history[t.Symbol], t)
}

// UpdatePrice stores a tick and matches resting orders against it in
// submission order. Conditional orders execute at the touch once
// triggered; reduce-only orders whose leg is gone are dropped.
func (e *Engine) UpdatePrice(t market.Tick) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.storeTickLocked(t)

	changed := false
	var keep []*market.Order
	for _, o := range e.orders {
		if o.Symbol != t.Symbol {
			keep = append(keep, o)
			continue
		}

		px, hit := trigger(o, t)
		if !hit {
			keep = append(keep, o)
			continue
		}

		opens := o.Side == o.PositionSide.OpenSide()
		if opens {
			if err := e.checkMarginLocked(market.OrderRequest{
				Symbol: o.Symbol, Side: o.Side, Amount: o.Amount, Price: px,
			}, t); err != nil {
				log.WithError(err).WithField("order_id", o.ID).Warn("triggered order expired")
				changed = true
				continue
			}
		}
		if err := e.executeLocked(o, px); err != nil {
			log.WithError(err).WithField("order_id", o.ID).Debug("dropping order with no position")
			continue
		}
		changed = true
	}
	e.orders = keep

	if changed {
		e.publishLocked(t.Symbol)
	}
	return nil
}

// trigger reports whether o executes on t and at what price.
func trigger(o *market.Order, t market.Tick) (float64, bool) {
	switch o.Type {
	case market.OrderLimit:
		if o.Side == market.Buy && t.Ask > 0 && t.Ask <= o.Price {
			return o.Price, true
		}
		if o.Side == market.Sell && t.Bid >= o.Price {
			return o.Price, true
		}
	case market.OrderConditional:
		if o.Direction.Crossed(t.Price(), o.TriggerPrice) {
			if o.Price > 0 {
				return o.Price, true
			}
			return fillPrice(o.Side, t), true
		}
	}
	return 0, false
}
