package sim

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rustyeddy/flipper/broker"
	"github.com/rustyeddy/flipper/market"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("component", "sim")

// Options seed a new Engine.
type Options struct {
	Balance  float64
	FeeRate  float64
	Leverage int
	Now      func() time.Time
}

// Engine is an in-memory hedge-mode futures exchange. It backs paper
// trading and stands in for a real venue in tests.
type Engine struct {
	mu sync.Mutex

	balance     float64
	feeRate     float64
	defLeverage int
	leverage    map[string]int

	ticks   *market.TickStore
	history map[string][]market.Tick
	tickers map[string]market.Ticker24h

	legs   map[legKey]*leg
	orders []*market.Order
	fills  []market.Fill

	subs    map[int]*subscriber
	nextSub int
	faults  map[string][]error

	now  func() time.Time
	last time.Time
}

var _ broker.Exchange = (*Engine)(nil)
var _ broker.PositionStream = (*Engine)(nil)
var _ broker.MarketData = (*Engine)(nil)

func NewEngine(opts Options) *Engine {
	if opts.Leverage < 1 {
		opts.Leverage = 1
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Engine{
		balance:     opts.Balance,
		feeRate:     opts.FeeRate,
		defLeverage: opts.Leverage,
		leverage:    make(map[string]int),
		ticks:       market.NewTickStore(),
		history:     make(map[string][]market.Tick),
		tickers:     make(map[string]market.Ticker24h),
		legs:        make(map[legKey]*leg),
		subs:        make(map[int]*subscriber),
		faults:      make(map[string][]error),
		now:         opts.Now,
	}
}

// clockLocked returns a strictly increasing timestamp so fills keep
// their execution order when sorted.
func (e *Engine) clockLocked() time.Time {
	t := e.now()
	if !t.After(e.last) {
		t = e.last.Add(time.Millisecond)
	}
	e.last = t
	return t
}

func (e *Engine) Prices() *market.TickStore {
	return e.ticks
}

func (e *Engine) GetTick(ctx context.Context, symbol string) (market.Tick, error) {
	if err := e.fault(OpTick); err != nil {
		return market.Tick{}, err
	}
	t, err := e.ticks.Get(symbol)
	if err != nil {
		return market.Tick{}, fmt.Errorf("%w: no price for %s", broker.ErrTransient, symbol)
	}
	return t, nil
}

func (e *Engine) FetchOpenPositions(ctx context.Context) ([]market.Position, error) {
	if err := e.fault(OpPositions); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.positionsLocked(""), nil
}

// positionsLocked lists open legs, optionally for one symbol, in a stable
// order.
func (e *Engine) positionsLocked(symbol string) []market.Position {
	var out []market.Position
	for k, l := range e.legs {
		if !l.open() || (symbol != "" && k.symbol != symbol) {
			continue
		}
		t, _ := e.ticks.Get(k.symbol)
		out = append(out, l.position(markFor(l.side, t)))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Symbol != out[j].Symbol {
			return out[i].Symbol < out[j].Symbol
		}
		return out[i].Side < out[j].Side
	})
	return out
}

func (e *Engine) usedMarginLocked() float64 {
	var used float64
	for k, l := range e.legs {
		if !l.open() {
			continue
		}
		used += l.contracts * l.entry / float64(e.leverageLocked(k.symbol))
	}
	return used
}

func (e *Engine) leverageLocked(symbol string) int {
	if lev, ok := e.leverage[symbol]; ok {
		return lev
	}
	return e.defLeverage
}

func (e *Engine) availableLocked() float64 {
	return e.balance - e.usedMarginLocked()
}

func (e *Engine) GetAvailableBalance(ctx context.Context) (float64, error) {
	if err := e.fault(OpBalance); err != nil {
		return 0, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.availableLocked(), nil
}

func (e *Engine) CheckSufficientBalance(ctx context.Context, amountUSD float64) (bool, error) {
	avail, err := e.GetAvailableBalance(ctx)
	if err != nil {
		return false, err
	}
	return avail >= amountUSD, nil
}

// Balance is the wallet balance including realized P&L and fees.
func (e *Engine) Balance() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.balance
}

func (e *Engine) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	if err := e.fault(OpLeverage); err != nil {
		return err
	}
	if leverage < 1 {
		return fmt.Errorf("%w: leverage %d", broker.ErrInvalidRequest, leverage)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.leverage[symbol] = leverage
	return nil
}

func (e *Engine) FetchAllFills(ctx context.Context, symbol string, since time.Time) ([]market.Fill, error) {
	if err := e.fault(OpFills); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	var out []market.Fill
	for _, f := range e.fills {
		if f.Symbol == symbol && !f.Time.Before(since) {
			out = append(out, f)
		}
	}
	return market.DedupFills(market.SortFills(out)), nil
}

// Fills returns every fill the engine produced.
func (e *Engine) Fills() []market.Fill {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]market.Fill, len(e.fills))
	copy(out, e.fills)
	return out
}

func newID() string {
	return uuid.NewString()
}
