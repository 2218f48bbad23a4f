package market

import (
	"errors"
	"fmt"
	"math"
)

// Position mirrors one broker-reported leg.
type Position struct {
	Symbol        string
	Side          PositionSide
	Contracts     float64
	EntryPrice    float64
	UnrealizedPnL float64
}

// Notional is contracts valued at the entry price.
func (p Position) Notional() float64 {
	return math.Abs(p.Contracts) * p.EntryPrice
}

// Open reports whether the leg carries any size. Exchanges report closed
// legs as exactly zero, and the smallest lot of a coin can sit at or below
// QtyEpsilon, so no tolerance applies here.
func (p Position) Open() bool {
	return p.Contracts != 0
}

func (p Position) Validate() error {
	if p.Symbol == "" {
		return errors.New("position: missing symbol")
	}
	if !p.Side.Valid() {
		return fmt.Errorf("position %s: invalid side %q", p.Symbol, p.Side)
	}
	if p.Contracts < 0 {
		return fmt.Errorf("position %s: negative contracts", p.Symbol)
	}
	if p.Contracts > 0 && p.EntryPrice <= 0 {
		return fmt.Errorf("position %s: entry price must be positive", p.Symbol)
	}
	return nil
}

// Legs picks the long and short legs of symbol out of a position list.
// Zero-size legs are ignored; a minimum-lot leg is not.
func Legs(positions []Position, symbol string) (long, short *Position) {
	for i := range positions {
		p := positions[i]
		if p.Symbol != symbol || !p.Open() {
			continue
		}
		switch p.Side {
		case Long:
			long = &p
		case Short:
			short = &p
		}
	}
	return long, short
}

// Symbols returns the distinct symbols with an open leg, in input order.
func Symbols(positions []Position) []string {
	var out []string
	seen := map[string]bool{}
	for _, p := range positions {
		if !p.Open() || seen[p.Symbol] {
			continue
		}
		seen[p.Symbol] = true
		out = append(out, p.Symbol)
	}
	return out
}
