package tracker

import (
	"math"

	"github.com/rustyeddy/flipper/market"
)

// BoundaryKind says how a cycle boundary was produced.
type BoundaryKind string

const (
	// BoundaryFlat follows a fill that left the running quantity at zero.
	BoundaryFlat BoundaryKind = "flat"
	// BoundaryCross sits on a fill that carried the running quantity
	// through zero. The fill belongs to the cycle it opens.
	BoundaryCross BoundaryKind = "cross"
)

type Boundary struct {
	Index int
	Kind  BoundaryKind
	// Residual is the quantity a crossing fill carries into the new cycle.
	Residual float64
}

func sign(q float64) float64 {
	switch {
	case q > market.QtyEpsilon:
		return 1
	case q < -market.QtyEpsilon:
		return -1
	}
	return 0
}

// Boundaries replays time-ordered fills and returns every cycle boundary.
// The input is sorted first when needed.
func Boundaries(fills []market.Fill) []Boundary {
	fills = market.SortFills(fills)

	var out []Boundary
	var running float64
	for i, f := range fills {
		prev := running
		running += f.Signed()

		switch {
		case sign(running) == 0:
			running = 0
			out = append(out, Boundary{Index: i + 1, Kind: BoundaryFlat})
		case sign(prev) != 0 && sign(prev) != sign(running):
			out = append(out, Boundary{Index: i, Kind: BoundaryCross, Residual: math.Abs(running)})
		}
	}
	return out
}

// startOf returns the boundary that opens the current cycle: the last one
// that still has fills after it. ok is false when no boundary applies and
// the cycle starts at the first fill.
func startOf(bs []Boundary, n int) (Boundary, bool) {
	for i := len(bs) - 1; i >= 0; i-- {
		if bs[i].Index < n {
			return bs[i], true
		}
	}
	return Boundary{}, false
}

// lastFlat returns the index after the most recent flat point that still
// has fills after it.
func lastFlat(bs []Boundary, n int) int {
	for i := len(bs) - 1; i >= 0; i-- {
		if bs[i].Kind == BoundaryFlat && bs[i].Index < n {
			return bs[i].Index
		}
	}
	return 0
}

// CurrentCycle returns the start index of the current cycle and its fills.
// A crossing fill that opens the cycle is trimmed to the residual
// quantity it carried past zero, with its fee pro-rated.
func CurrentCycle(fills []market.Fill) (int, []market.Fill) {
	fills = market.SortFills(fills)
	if len(fills) == 0 {
		return 0, nil
	}

	b, ok := startOf(Boundaries(fills), len(fills))
	if !ok {
		return 0, fills
	}

	slice := make([]market.Fill, len(fills)-b.Index)
	copy(slice, fills[b.Index:])
	if b.Kind == BoundaryCross {
		slice[0] = trim(slice[0], b.Residual)
	}
	return b.Index, slice
}

func trim(f market.Fill, qty float64) market.Fill {
	if f.Amount > 0 {
		f.Fee = f.Fee * qty / f.Amount
	}
	f.Amount = qty
	return f
}

// CountFlips counts long/short reversals across the fills. Passing
// through flat does not count.
func CountFlips(fills []market.Fill) int {
	fills = market.SortFills(fills)

	flips := 0
	var running, last float64
	for _, f := range fills {
		running += f.Signed()
		s := sign(running)
		if s == 0 {
			running, last = 0, 0
			continue
		}
		if last != 0 && s != last {
			flips++
		}
		last = s
	}
	return flips
}
