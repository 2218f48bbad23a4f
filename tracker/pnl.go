package tracker

import (
	"math"

	"github.com/rustyeddy/flipper/market"
)

type lot struct {
	qty    float64
	price  float64
	feePer float64
}

// RealizedPnL matches buys against sells oldest first and returns the
// realized profit net of the matched share of both fees.
func RealizedPnL(fills []market.Fill) float64 {
	fills = market.SortFills(fills)

	var buys, sells []lot
	var pnl float64
	for _, f := range fills {
		l := lot{qty: f.Amount, price: f.Price}
		if f.Amount > 0 {
			l.feePer = f.Fee / f.Amount
		}
		if f.Side == market.Buy {
			buys = append(buys, l)
		} else {
			sells = append(sells, l)
		}

		for len(buys) > 0 && len(sells) > 0 {
			b, s := &buys[0], &sells[0]
			matched := math.Min(b.qty, s.qty)
			pnl += matched*(s.price-b.price) - matched*(b.feePer+s.feePer)
			b.qty -= matched
			s.qty -= matched
			if b.qty < market.QtyEpsilon {
				buys = buys[1:]
			}
			if s.qty < market.QtyEpsilon {
				sells = sells[1:]
			}
		}
	}
	return pnl
}

// Fees sums the fees paid on the fills.
func Fees(fills []market.Fill) float64 {
	var total float64
	for _, f := range fills {
		total += f.Fee
	}
	return total
}
