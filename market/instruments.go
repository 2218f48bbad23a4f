// market/instruments.go
package market

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// InstrumentMeta carries the exchange's precision rules for a symbol.
type InstrumentMeta struct {
	Symbol      string
	BaseAsset   string
	QuoteAsset  string
	StepSize    decimal.Decimal
	TickSize    decimal.Decimal
	MinQty      decimal.Decimal
	MinNotional decimal.Decimal
}

// RoundQty truncates qty down to the step size.
func (m InstrumentMeta) RoundQty(qty float64) float64 {
	return floorTo(qty, m.StepSize)
}

// RoundPrice rounds px to the nearest tick.
func (m InstrumentMeta) RoundPrice(px float64) float64 {
	if m.TickSize.IsZero() {
		return px
	}
	d := decimal.NewFromFloat(px).Div(m.TickSize).Round(0).Mul(m.TickSize)
	f, _ := d.Float64()
	return f
}

// CheckQty rejects quantities below the exchange minimums once rounded.
func (m InstrumentMeta) CheckQty(qty, price float64) error {
	q := decimal.NewFromFloat(m.RoundQty(qty))
	if q.IsZero() || (!m.MinQty.IsZero() && q.LessThan(m.MinQty)) {
		return fmt.Errorf("%s: quantity %s below minimum %s", m.Symbol, q, m.MinQty)
	}
	if !m.MinNotional.IsZero() && q.Mul(decimal.NewFromFloat(price)).LessThan(m.MinNotional) {
		return fmt.Errorf("%s: notional below minimum %s", m.Symbol, m.MinNotional)
	}
	return nil
}

func floorTo(v float64, step decimal.Decimal) float64 {
	if step.IsZero() {
		return v
	}
	d := decimal.NewFromFloat(v).Div(step).Floor().Mul(step)
	f, _ := d.Float64()
	return f
}
