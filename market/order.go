package market

import (
	"errors"
	"fmt"
	"time"
)

type OrderType string

const (
	OrderMarket      OrderType = "market"
	OrderLimit       OrderType = "limit"
	OrderConditional OrderType = "conditional"
)

// TriggerDirection tells a conditional order which way the last price
// must cross the trigger before it activates.
type TriggerDirection string

const (
	TriggerRising  TriggerDirection = "rising"
	TriggerFalling TriggerDirection = "falling"
)

// Crossed reports whether last has reached trigger in direction d.
func (d TriggerDirection) Crossed(last, trigger float64) bool {
	switch d {
	case TriggerRising:
		return last >= trigger
	case TriggerFalling:
		return last <= trigger
	}
	return false
}

// Purpose tags an order with the role it plays in a cycle.
type Purpose string

const (
	PurposeEntry      Purpose = "entry"
	PurposeTakeProfit Purpose = "take_profit"
	PurposeFlip       Purpose = "flip"
	PurposeStopLoss   Purpose = "stop_loss"
	PurposeClose      Purpose = "close"
)

// OrderRequest describes an order to submit. A conditional order with a
// zero Price executes at market once triggered.
type OrderRequest struct {
	Symbol       string
	Type         OrderType
	Side         Side
	PositionSide PositionSide
	Amount       float64
	Price        float64
	TriggerPrice float64
	Direction    TriggerDirection
	ReduceOnly   bool
	Purpose      Purpose
}

func (r OrderRequest) Validate() error {
	if r.Symbol == "" {
		return errors.New("order: missing symbol")
	}
	if !r.Side.Valid() {
		return fmt.Errorf("order %s: invalid side %q", r.Symbol, r.Side)
	}
	if !r.PositionSide.Valid() {
		return fmt.Errorf("order %s: position side required", r.Symbol)
	}
	if r.Amount <= 0 {
		return fmt.Errorf("order %s: amount must be positive", r.Symbol)
	}
	switch r.Type {
	case OrderMarket:
	case OrderLimit:
		if r.Price <= 0 {
			return fmt.Errorf("order %s: limit price must be positive", r.Symbol)
		}
	case OrderConditional:
		if r.TriggerPrice <= 0 {
			return fmt.Errorf("order %s: trigger price must be positive", r.Symbol)
		}
		if r.Direction != TriggerRising && r.Direction != TriggerFalling {
			return fmt.Errorf("order %s: trigger direction required", r.Symbol)
		}
		if r.Price < 0 {
			return fmt.Errorf("order %s: negative limit price", r.Symbol)
		}
	default:
		return fmt.Errorf("order %s: unknown type %q", r.Symbol, r.Type)
	}
	return nil
}

// Opens reports whether the request adds to the PositionSide leg.
func (r OrderRequest) Opens() bool {
	return r.Side == r.PositionSide.OpenSide()
}

// Order is a resting order as reported by the broker.
type Order struct {
	ID           string
	Symbol       string
	Type         OrderType
	Side         Side
	PositionSide PositionSide
	Amount       float64
	Price        float64
	TriggerPrice float64
	Direction    TriggerDirection
	ReduceOnly   bool
	Purpose      Purpose
	Created      time.Time
}
