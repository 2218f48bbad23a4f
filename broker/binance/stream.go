package binance

import (
	"context"
	"fmt"
	"time"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/rustyeddy/flipper/broker"
	"github.com/rustyeddy/flipper/market"
)

// WatchPositions subscribes to the user data stream. Every account update
// triggers a REST position read so snapshots always carry both legs.
func (c *Client) WatchPositions(ctx context.Context, symbol string) (<-chan broker.PositionUpdate, error) {
	listenKey, err := c.api.NewStartUserStreamService().Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("start user stream: %w", translate(err, broker.ErrTransient))
	}

	events := make(chan struct{}, 1)
	errs := make(chan error, 1)
	handler := func(ev *futures.WsUserDataEvent) {
		if ev.Event != futures.UserDataEventTypeAccountUpdate {
			return
		}
		select {
		case events <- struct{}{}:
		default:
		}
	}
	errHandler := func(err error) {
		select {
		case errs <- err:
		default:
		}
	}

	doneC, stopC, err := futures.WsUserDataServe(listenKey, handler, errHandler)
	if err != nil {
		return nil, fmt.Errorf("user stream: %w: %v", broker.ErrStreamClosed, err)
	}

	out := make(chan broker.PositionUpdate, 4)
	go c.pump(ctx, symbol, listenKey, out, events, errs, doneC, stopC)
	return out, nil
}

func (c *Client) pump(ctx context.Context, symbol, listenKey string, out chan<- broker.PositionUpdate,
	events <-chan struct{}, errs <-chan error, doneC, stopC chan struct{}) {

	defer close(out)
	defer func() {
		close(stopC)
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := c.api.NewCloseUserStreamService().ListenKey(listenKey).Do(closeCtx); err != nil {
			log.WithError(err).Debug("close user stream")
		}
	}()

	keepalive := time.NewTicker(c.keepalive)
	defer keepalive.Stop()

	send := func(u broker.PositionUpdate) bool {
		select {
		case out <- u:
			return u.Err == nil
		case <-ctx.Done():
			return false
		}
	}
	emit := func() bool {
		ps, err := c.FetchOpenPositions(ctx)
		if err != nil {
			return send(broker.PositionUpdate{Err: err})
		}
		return send(broker.PositionUpdate{Positions: filterSymbol(ps, symbol)})
	}

	if !emit() {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-events:
			if !emit() {
				return
			}
		case err := <-errs:
			send(broker.PositionUpdate{Err: fmt.Errorf("%w: %v", broker.ErrStreamClosed, err)})
			return
		case <-doneC:
			send(broker.PositionUpdate{Err: broker.ErrStreamClosed})
			return
		case <-keepalive.C:
			if err := c.api.NewKeepaliveUserStreamService().ListenKey(listenKey).Do(ctx); err != nil {
				send(broker.PositionUpdate{Err: fmt.Errorf("%w: keepalive: %v", broker.ErrStreamClosed, err)})
				return
			}
		}
	}
}

func filterSymbol(ps []market.Position, symbol string) []market.Position {
	var out []market.Position
	for _, p := range ps {
		if p.Symbol == symbol {
			out = append(out, p)
		}
	}
	return out
}
