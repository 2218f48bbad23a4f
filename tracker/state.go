package tracker

import (
	"math"
	"time"

	"github.com/rustyeddy/flipper/market"
)

// State is the cycle state derived from a fill history. It is recomputed
// on demand and never stored.
type State struct {
	InPosition      bool
	Side            market.PositionSide
	NetQuantity     float64
	AverageEntry    float64
	FlipCount       int
	RealizedPnL     float64
	TotalFills      int
	CycleStartIndex int
	CycleComplete   bool

	// FlipDepth counts zero crossings since the position was last flat,
	// which is how many flips the running martingale has taken.
	FlipDepth int
	// CycleRealizedPnL is FIFO P&L since the position was last flat and
	// includes the losses of closed flip legs.
	CycleRealizedPnL float64
	CycleFees        float64
	LastFill         time.Time
}

// Notional values the open quantity at the average entry.
func (s State) Notional() float64 {
	return s.NetQuantity * s.AverageEntry
}

// Analyze derives the current cycle state from fills for one symbol.
func Analyze(fills []market.Fill) State {
	fills = market.SortFills(fills)
	st := State{Side: market.None, TotalFills: len(fills)}
	if len(fills) == 0 {
		return st
	}
	st.LastFill = fills[len(fills)-1].Time

	bs := Boundaries(fills)
	if n := len(bs); n > 0 && bs[n-1].Index == len(fills) {
		st.CycleComplete = true
	}

	start, cur := CurrentCycle(fills)
	st.CycleStartIndex = start

	var buyQty, buyCost, sellQty, sellCost float64
	for _, f := range cur {
		if f.Side == market.Buy {
			buyQty += f.Amount
			buyCost += f.Notional()
		} else {
			sellQty += f.Amount
			sellCost += f.Notional()
		}
	}
	net := buyQty - sellQty
	switch sign(net) {
	case 1:
		st.Side = market.Long
		st.AverageEntry = buyCost / buyQty
	case -1:
		st.Side = market.Short
		st.AverageEntry = sellCost / sellQty
	}
	st.InPosition = st.Side != market.None
	if st.InPosition {
		st.NetQuantity = math.Abs(net)
	}

	st.FlipCount = CountFlips(cur)
	st.RealizedPnL = RealizedPnL(cur)

	flat := fills[lastFlat(bs, len(fills)):]
	st.FlipDepth = CountFlips(flat)
	st.CycleRealizedPnL = RealizedPnL(flat)
	st.CycleFees = Fees(flat)
	return st
}
