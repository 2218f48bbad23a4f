package sim

import (
	"context"

	"github.com/rustyeddy/flipper/broker"
	"github.com/rustyeddy/flipper/market"
)

type subscriber struct {
	symbol string
	ch     chan broker.PositionUpdate
	closed bool
}

// send delivers u without blocking. A full buffer drops its oldest
// snapshot since every snapshot carries the full state.
func (s *subscriber) send(u broker.PositionUpdate) {
	if s.closed {
		return
	}
	for {
		select {
		case s.ch <- u:
			return
		default:
		}
		select {
		case <-s.ch:
		default:
		}
	}
}

// WatchPositions streams position snapshots for symbol, starting with the
// current one.
func (e *Engine) WatchPositions(ctx context.Context, symbol string) (<-chan broker.PositionUpdate, error) {
	if err := e.fault(OpWatch); err != nil {
		return nil, err
	}

	e.mu.Lock()
	id := e.nextSub
	e.nextSub++
	s := &subscriber{symbol: symbol, ch: make(chan broker.PositionUpdate, 8)}
	e.subs[id] = s
	s.send(broker.PositionUpdate{Positions: e.positionsLocked(symbol)})
	e.mu.Unlock()

	go func() {
		<-ctx.Done()
		e.mu.Lock()
		defer e.mu.Unlock()
		e.closeSubLocked(id)
	}()
	return s.ch, nil
}

func (e *Engine) closeSubLocked(id int) {
	s, ok := e.subs[id]
	if !ok {
		return
	}
	delete(e.subs, id)
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

func (e *Engine) publishLocked(symbol string) {
	var snap []market.Position
	for _, s := range e.subs {
		if s.symbol != symbol {
			continue
		}
		if snap == nil {
			snap = e.positionsLocked(symbol)
		}
		s.send(broker.PositionUpdate{Positions: snap})
	}
}

// BreakStreams ends every open position stream with err.
func (e *Engine) BreakStreams(err error) {
	if err == nil {
		err = broker.ErrStreamClosed
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for id, s := range e.subs {
		s.send(broker.PositionUpdate{Err: err})
		e.closeSubLocked(id)
	}
}

// Subscribers reports how many position streams are open.
func (e *Engine) Subscribers() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.subs)
}
