package sim

import (
	"math"

	"github.com/rustyeddy/flipper/market"
)

// residue is float noise left after closing a leg in pieces; anything
// larger is a real position, however small.
const residue = 1e-9

type legKey struct {
	symbol string
	side   market.PositionSide
}

// leg is one side of a hedge-mode position.
type leg struct {
	symbol    string
	side      market.PositionSide
	contracts float64
	entry     float64
}

func (l *leg) open() bool {
	return l != nil && l.contracts > residue
}

// add grows the leg and re-averages the entry.
func (l *leg) add(qty, price float64) {
	cost := l.contracts*l.entry + qty*price
	l.contracts += qty
	l.entry = cost / l.contracts
}

// reduce shrinks the leg by up to qty and returns the closed quantity and
// the P&L it realized, before fees.
func (l *leg) reduce(qty, price float64) (float64, float64) {
	closed := math.Min(qty, l.contracts)
	pl := closed * (price - l.entry) * l.side.Sign()
	l.contracts -= closed
	if l.contracts <= residue {
		l.contracts = 0
		l.entry = 0
	}
	return closed, pl
}

func (l *leg) unrealizedPL(mark float64) float64 {
	return l.contracts * (mark - l.entry) * l.side.Sign()
}

func (l *leg) position(mark float64) market.Position {
	return market.Position{
		Symbol:        l.symbol,
		Side:          l.side,
		Contracts:     l.contracts,
		EntryPrice:    l.entry,
		UnrealizedPnL: l.unrealizedPL(mark),
	}
}

// markFor picks the side of the book a leg would close into.
func markFor(side market.PositionSide, t market.Tick) float64 {
	if side == market.Short {
		return t.Ask
	}
	return t.Bid
}

// fillPrice is the touch an order side executes against.
func fillPrice(side market.Side, t market.Tick) float64 {
	if side == market.Buy {
		return t.Ask
	}
	return t.Bid
}
