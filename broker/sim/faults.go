package sim

// Operation names accepted by InjectError. Order creation also checks
// OpCreate+":"+purpose, e.g. "create:flip".
const (
	OpPositions = "positions"
	OpOrders    = "orders"
	OpCancel    = "cancel"
	OpCreate    = "create"
	OpFills     = "fills"
	OpTick      = "tick"
	OpBalance   = "balance"
	OpLeverage  = "leverage"
	OpWatch     = "watch"
	OpTickers   = "tickers"
	OpCandles   = "candles"
)

// InjectError makes the next call of op fail with err. Calls queue up.
func (e *Engine) InjectError(op string, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.faults[op] = append(e.faults[op], err)
}

func (e *Engine) fault(op string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	q := e.faults[op]
	if len(q) == 0 {
		return nil
	}
	e.faults[op] = q[1:]
	return q[0]
}
