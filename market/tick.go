package market

import (
	"context"
	"errors"
	"sync"
	"time"
)

type TickSource interface {
	GetTick(ctx context.Context, symbol string) (Tick, error)
}

// Tick is a top-of-book snapshot with the last traded price.
type Tick struct {
	Symbol string
	Time   time.Time
	Bid    float64
	Ask    float64
	Last   float64
}

func (t Tick) Mid() float64 {
	return (t.Bid + t.Ask) / 2
}

func (t Tick) Spread() float64 {
	return t.Ask - t.Bid
}

// SpreadPct is the spread as a percentage of mid. A crossed or empty
// book yields 0.
func (t Tick) SpreadPct() float64 {
	mid := t.Mid()
	if mid <= 0 || t.Ask < t.Bid {
		return 0
	}
	return t.Spread() / mid * 100
}

// Price is the last price, falling back to mid when no trade was seen.
func (t Tick) Price() float64 {
	if t.Last > 0 {
		return t.Last
	}
	return t.Mid()
}

type TickStore struct {
	mu    sync.RWMutex
	ticks map[string]Tick
}

func NewTickStore() *TickStore {
	return &TickStore{ticks: make(map[string]Tick)}
}

func (ts *TickStore) Set(t Tick) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.ticks[t.Symbol] = t
}

func (ts *TickStore) Get(symbol string) (Tick, error) {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	t, ok := ts.ticks[symbol]
	if !ok {
		return Tick{}, errors.New("price not found")
	}
	return t, nil
}

func (ts *TickStore) GetTick(_ context.Context, symbol string) (Tick, error) {
	return ts.Get(symbol)
}
