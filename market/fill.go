package market

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

// QtyEpsilon is the contract quantity below which a net quantity or FIFO
// queue entry replayed from fills is treated as zero.
const QtyEpsilon = 1e-3

// Fill is an immutable execution record reported by the exchange.
type Fill struct {
	ID      string
	OrderID string
	Symbol  string
	Time    time.Time
	Side    Side
	Amount  float64
	Price   float64
	Fee     float64
}

// Notional is amount * price.
func (f Fill) Notional() float64 {
	return f.Amount * f.Price
}

// Signed returns the amount with the sign of the side.
func (f Fill) Signed() float64 {
	return f.Side.Sign() * f.Amount
}

func (f Fill) Validate() error {
	if f.ID == "" {
		return errors.New("fill: missing id")
	}
	if f.Time.IsZero() {
		return fmt.Errorf("fill %s: missing timestamp", f.ID)
	}
	if !f.Side.Valid() {
		return fmt.Errorf("fill %s: invalid side %q", f.ID, f.Side)
	}
	if f.Amount <= 0 {
		return fmt.Errorf("fill %s: amount must be positive", f.ID)
	}
	if f.Price <= 0 {
		return fmt.Errorf("fill %s: price must be positive", f.ID)
	}
	return nil
}

// SortFills returns a copy ordered by timestamp. Fills sharing a timestamp
// keep their input order.
func SortFills(fills []Fill) []Fill {
	out := make([]Fill, len(fills))
	copy(out, fills)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Time.Before(out[j].Time)
	})
	return out
}

// DedupFills drops fills whose id was already seen, keeping the first.
func DedupFills(fills []Fill) []Fill {
	seen := make(map[string]struct{}, len(fills))
	out := make([]Fill, 0, len(fills))
	for _, f := range fills {
		if _, ok := seen[f.ID]; ok {
			continue
		}
		seen[f.ID] = struct{}{}
		out = append(out, f)
	}
	return out
}
