package broker

import (
	"context"
	"time"

	"github.com/rustyeddy/flipper/market"
)

// Exchange is the account and order boundary for a hedge-mode futures
// venue. Implementations handle authentication, rate limits and wire
// retries; the errors they return are classified with Classify.
type Exchange interface {
	// FetchOpenPositions returns every non-zero leg on the account.
	FetchOpenPositions(ctx context.Context) ([]market.Position, error)
	FetchOpenOrders(ctx context.Context, symbol string) ([]market.Order, error)
	CancelOrder(ctx context.Context, id, symbol string) error
	CreateOrder(ctx context.Context, req market.OrderRequest) (market.Order, error)
	// FetchAllFills pages through fills since the given time and returns
	// them ascending and deduplicated by id.
	FetchAllFills(ctx context.Context, symbol string, since time.Time) ([]market.Fill, error)
	GetTick(ctx context.Context, symbol string) (market.Tick, error)
	GetAvailableBalance(ctx context.Context) (float64, error)
	CheckSufficientBalance(ctx context.Context, amountUSD float64) (bool, error)
	SetLeverage(ctx context.Context, symbol string, leverage int) error
}

// PositionUpdate is one message of a position stream. A non-nil Err ends
// the stream.
type PositionUpdate struct {
	Positions []market.Position
	Err       error
}

// PositionStream pushes position snapshots for a symbol. The channel is
// closed when ctx is done or the stream fails.
type PositionStream interface {
	WatchPositions(ctx context.Context, symbol string) (<-chan PositionUpdate, error)
}

// MarketData is the public market surface the scanner ranks symbols with.
type MarketData interface {
	Tickers24h(ctx context.Context) ([]market.Ticker24h, error)
	Candles(ctx context.Context, symbol, interval string, limit int) ([]market.Candle, error)
}

// Candidate is a symbol picked for the next cycle and the leg to open.
type Candidate struct {
	Symbol    string
	Direction market.PositionSide
	ChangePct float64
	RangePct  float64
}

// Scanner picks the next symbol to trade. ok is false when nothing
// qualifies.
type Scanner interface {
	BestVolatileCoin(ctx context.Context) (c Candidate, ok bool, err error)
}

// CreateMarketOrder places a market order on the given leg.
func CreateMarketOrder(ctx context.Context, ex Exchange, symbol string, side market.Side, leg market.PositionSide, amount float64, reduceOnly bool, purpose market.Purpose) (market.Order, error) {
	return ex.CreateOrder(ctx, market.OrderRequest{
		Symbol:       symbol,
		Type:         market.OrderMarket,
		Side:         side,
		PositionSide: leg,
		Amount:       amount,
		ReduceOnly:   reduceOnly,
		Purpose:      purpose,
	})
}

// CreateLimitOrder places a resting limit order on the given leg.
func CreateLimitOrder(ctx context.Context, ex Exchange, symbol string, side market.Side, leg market.PositionSide, amount, price float64, reduceOnly bool, purpose market.Purpose) (market.Order, error) {
	return ex.CreateOrder(ctx, market.OrderRequest{
		Symbol:       symbol,
		Type:         market.OrderLimit,
		Side:         side,
		PositionSide: leg,
		Amount:       amount,
		Price:        price,
		ReduceOnly:   reduceOnly,
		Purpose:      purpose,
	})
}

// CreateConditionalOrder places an order that activates when the last
// price crosses trigger in dir. A zero price executes at market.
func CreateConditionalOrder(ctx context.Context, ex Exchange, symbol string, side market.Side, leg market.PositionSide, amount, trigger, price float64, dir market.TriggerDirection, reduceOnly bool, purpose market.Purpose) (market.Order, error) {
	return ex.CreateOrder(ctx, market.OrderRequest{
		Symbol:       symbol,
		Type:         market.OrderConditional,
		Side:         side,
		PositionSide: leg,
		Amount:       amount,
		Price:        price,
		TriggerPrice: trigger,
		Direction:    dir,
		ReduceOnly:   reduceOnly,
		Purpose:      purpose,
	})
}

// CancelAll cancels every open order on symbol. It returns how many
// were cancelled and the first error; orders already gone are ignored.
func CancelAll(ctx context.Context, ex Exchange, symbol string) (int, error) {
	orders, err := ex.FetchOpenOrders(ctx, symbol)
	if err != nil {
		return 0, err
	}
	n := 0
	var first error
	for _, o := range orders {
		err := ex.CancelOrder(ctx, o.ID, symbol)
		switch {
		case err == nil:
			n++
		case IsNotFound(err):
		case first == nil:
			first = err
		}
	}
	return n, first
}
