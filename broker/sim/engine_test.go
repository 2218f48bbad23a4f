package sim

import (
	"context"
	"testing"
	"time"

	"github.com/rustyeddy/flipper/broker"
	"github.com/rustyeddy/flipper/market"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sym = "BTCUSDT"

func newTestEngine(t *testing.T, balance float64) *Engine {
	t.Helper()
	clock := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	e := NewEngine(Options{
		Balance:  balance,
		FeeRate:  0.001,
		Leverage: 10,
		Now:      func() time.Time { return clock },
	})
	require.NoError(t, e.UpdatePrice(market.Tick{Symbol: sym, Bid: 100, Ask: 100, Last: 100}))
	return e
}

func price(t *testing.T, e *Engine, px float64) {
	t.Helper()
	require.NoError(t, e.UpdatePrice(market.Tick{Symbol: sym, Bid: px, Ask: px, Last: px}))
}

func TestMarketOrderOpensAndCloses(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t, 1000)
	ctx := context.Background()

	_, err := broker.CreateMarketOrder(ctx, e, sym, market.Buy, market.Long, 2, false, market.PurposeEntry)
	require.NoError(t, err)

	ps, err := e.FetchOpenPositions(ctx)
	require.NoError(t, err)
	require.Len(t, ps, 1)
	assert.Equal(t, market.Long, ps[0].Side)
	assert.Equal(t, 2.0, ps[0].Contracts)
	assert.Equal(t, 100.0, ps[0].EntryPrice)

	avail, err := e.GetAvailableBalance(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 1000-0.2-20, avail, 1e-9)

	price(t, e, 110)
	_, err = broker.CreateMarketOrder(ctx, e, sym, market.Sell, market.Long, 5, true, market.PurposeClose)
	require.NoError(t, err)

	ps, err = e.FetchOpenPositions(ctx)
	require.NoError(t, err)
	assert.Empty(t, ps)

	fills, err := e.FetchAllFills(ctx, sym, time.Time{})
	require.NoError(t, err)
	require.Len(t, fills, 2)
	assert.Equal(t, 2.0, fills[1].Amount, "close clamps to the leg size")
	assert.True(t, fills[1].Time.After(fills[0].Time))
	assert.InDelta(t, 1000-0.2+20-0.22, e.Balance(), 1e-9)
}

func TestMinimumLotStaysOpen(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t, 1000)
	ctx := context.Background()

	_, err := broker.CreateMarketOrder(ctx, e, sym, market.Buy, market.Long, 0.001, false, market.PurposeEntry)
	require.NoError(t, err)

	ps, err := e.FetchOpenPositions(ctx)
	require.NoError(t, err)
	require.Len(t, ps, 1)
	assert.Equal(t, 0.001, ps[0].Contracts)

	_, err = broker.CreateMarketOrder(ctx, e, sym, market.Sell, market.Long, 0.001, true, market.PurposeClose)
	require.NoError(t, err)
	ps, err = e.FetchOpenPositions(ctx)
	require.NoError(t, err)
	assert.Empty(t, ps)
}

func TestReduceOnlyCannotOpen(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t, 1000)

	_, err := broker.CreateMarketOrder(context.Background(), e, sym, market.Buy, market.Long, 1, true, market.PurposeClose)
	assert.ErrorIs(t, err, broker.ErrRejected)

	_, err = broker.CreateLimitOrder(context.Background(), e, sym, market.Sell, market.Long, 1, 110, true, market.PurposeTakeProfit)
	assert.ErrorIs(t, err, broker.ErrRejected, "nothing to reduce")
}

func TestInsufficientFunds(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t, 10)

	_, err := broker.CreateMarketOrder(context.Background(), e, sym, market.Buy, market.Long, 2, false, market.PurposeEntry)
	require.Error(t, err)
	assert.True(t, broker.IsInsufficientFunds(err))
	assert.Equal(t, broker.KindRejected, broker.Classify(err))

	ok, err := e.CheckSufficientBalance(context.Background(), 10)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = e.CheckSufficientBalance(context.Background(), 10.01)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestInvalidRequest(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t, 1000)

	_, err := e.CreateOrder(context.Background(), market.OrderRequest{Symbol: sym, Type: market.OrderMarket, Side: market.Buy})
	assert.ErrorIs(t, err, broker.ErrInvalidRequest)
	assert.ErrorIs(t, e.SetLeverage(context.Background(), sym, 0), broker.ErrInvalidRequest)
}

func TestRestingOrdersMatch(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t, 1000)
	ctx := context.Background()

	_, err := broker.CreateMarketOrder(ctx, e, sym, market.Buy, market.Long, 1, false, market.PurposeEntry)
	require.NoError(t, err)
	_, err = broker.CreateLimitOrder(ctx, e, sym, market.Sell, market.Long, 1, 102, true, market.PurposeTakeProfit)
	require.NoError(t, err)
	_, err = broker.CreateConditionalOrder(ctx, e, sym, market.Sell, market.Short, 2, 98, 98, market.TriggerFalling, false, market.PurposeFlip)
	require.NoError(t, err)

	orders, err := e.FetchOpenOrders(ctx, sym)
	require.NoError(t, err)
	assert.Len(t, orders, 2)

	price(t, e, 99)
	orders, _ = e.FetchOpenOrders(ctx, sym)
	assert.Len(t, orders, 2)

	price(t, e, 97.9)
	ps, err := e.FetchOpenPositions(ctx)
	require.NoError(t, err)
	require.Len(t, ps, 2, "flip leaves both legs open")
	long, short := market.Legs(ps, sym)
	require.NotNil(t, long)
	require.NotNil(t, short)
	assert.Equal(t, 98.0, short.EntryPrice)
	assert.Equal(t, 2.0, short.Contracts)

	orders, _ = e.FetchOpenOrders(ctx, sym)
	require.Len(t, orders, 1)
	assert.Equal(t, market.PurposeTakeProfit, orders[0].Purpose)
}

func TestReduceOnlyDroppedWhenLegGone(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t, 1000)
	ctx := context.Background()

	_, err := broker.CreateMarketOrder(ctx, e, sym, market.Buy, market.Long, 1, false, market.PurposeEntry)
	require.NoError(t, err)
	_, err = broker.CreateLimitOrder(ctx, e, sym, market.Sell, market.Long, 1, 105, true, market.PurposeTakeProfit)
	require.NoError(t, err)
	_, err = broker.CreateMarketOrder(ctx, e, sym, market.Sell, market.Long, 1, true, market.PurposeClose)
	require.NoError(t, err)

	price(t, e, 106)
	assert.Len(t, e.Fills(), 2)
	orders, _ := e.FetchOpenOrders(ctx, sym)
	assert.Empty(t, orders)
}

func TestCancelOrder(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t, 1000)
	ctx := context.Background()

	_, err := broker.CreateMarketOrder(ctx, e, sym, market.Buy, market.Long, 1, false, market.PurposeEntry)
	require.NoError(t, err)
	o, err := broker.CreateLimitOrder(ctx, e, sym, market.Sell, market.Long, 1, 105, true, market.PurposeTakeProfit)
	require.NoError(t, err)

	require.NoError(t, e.CancelOrder(ctx, o.ID, sym))
	assert.ErrorIs(t, e.CancelOrder(ctx, o.ID, sym), broker.ErrOrderNotFound)
}

func TestSetTickDoesNotMatch(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t, 1000)
	ctx := context.Background()

	_, err := broker.CreateMarketOrder(ctx, e, sym, market.Buy, market.Long, 1, false, market.PurposeEntry)
	require.NoError(t, err)
	_, err = broker.CreateConditionalOrder(ctx, e, sym, market.Sell, market.Long, 1, 95, 0, market.TriggerFalling, true, market.PurposeStopLoss)
	require.NoError(t, err)

	e.SetTick(market.Tick{Symbol: sym, Bid: 90, Ask: 90, Last: 90})
	tk, err := e.GetTick(ctx, sym)
	require.NoError(t, err)
	assert.Equal(t, 90.0, tk.Last)
	ps, _ := e.FetchOpenPositions(ctx)
	assert.Len(t, ps, 1)
}

func TestInjectError(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t, 1000)
	ctx := context.Background()

	e.InjectError(OpPositions, broker.ErrAmbiguousState)
	_, err := e.FetchOpenPositions(ctx)
	assert.ErrorIs(t, err, broker.ErrAmbiguousState)
	_, err = e.FetchOpenPositions(ctx)
	assert.NoError(t, err)

	e.InjectError(OpCreate+":"+string(market.PurposeFlip), broker.ErrInsufficientFunds)
	_, err = broker.CreateMarketOrder(ctx, e, sym, market.Buy, market.Long, 1, false, market.PurposeEntry)
	require.NoError(t, err)
	_, err = broker.CreateMarketOrder(ctx, e, sym, market.Sell, market.Short, 1, false, market.PurposeFlip)
	assert.ErrorIs(t, err, broker.ErrInsufficientFunds)
}

func TestWatchPositions(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t, 1000)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := e.WatchPositions(ctx, sym)
	require.NoError(t, err)

	first := <-ch
	require.NoError(t, first.Err)
	assert.Empty(t, first.Positions)

	_, err = broker.CreateMarketOrder(context.Background(), e, sym, market.Buy, market.Long, 1, false, market.PurposeEntry)
	require.NoError(t, err)

	next := <-ch
	require.Len(t, next.Positions, 1)
	assert.Equal(t, market.Long, next.Positions[0].Side)

	e.BreakStreams(nil)
	broken := <-ch
	assert.ErrorIs(t, broken.Err, broker.ErrStreamClosed)
	_, open := <-ch
	assert.False(t, open)
	assert.Zero(t, e.Subscribers())
}

func TestWatchPositionsClosesOnCancel(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t, 1000)
	ctx, cancel := context.WithCancel(context.Background())

	ch, err := e.WatchPositions(ctx, sym)
	require.NoError(t, err)
	<-ch
	cancel()

	assert.Eventually(t, func() bool {
		select {
		case _, ok := <-ch:
			return !ok
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)
}

func TestMarketData(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t, 1000)
	ctx := context.Background()

	e.SetTicker24h(market.Ticker24h{Symbol: sym, ChangePct: 7})
	ts, err := e.Tickers24h(ctx)
	require.NoError(t, err)
	require.Len(t, ts, 1)
	assert.Equal(t, 100.0, ts[0].LastPrice)

	base := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	for i, px := range []float64{100, 104, 99} {
		require.NoError(t, e.UpdatePrice(market.Tick{Symbol: sym, Time: base.Add(time.Duration(i+1) * 10 * time.Second), Last: px, Bid: px, Ask: px}))
	}
	cs, err := e.Candles(ctx, sym, "1m", 10)
	require.NoError(t, err)
	require.NotEmpty(t, cs)
	last := cs[len(cs)-1]
	assert.Equal(t, 104.0, last.High)
	assert.Equal(t, 99.0, last.Low)

	_, err = e.Candles(ctx, sym, "1d", 10)
	assert.ErrorIs(t, err, broker.ErrInvalidRequest)
}
