package cycle

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/flipper/broker"
	"github.com/rustyeddy/flipper/broker/sim"
	"github.com/rustyeddy/flipper/config"
	"github.com/rustyeddy/flipper/journal"
	"github.com/rustyeddy/flipper/market"
	"github.com/rustyeddy/flipper/risk"
	"github.com/rustyeddy/flipper/tracker"
)

func TestNewRequiresCollaborators(t *testing.T) {
	t.Parallel()

	eng, err := risk.New(testStrategy())
	require.NoError(t, err)

	_, err = New(Options{Engine: eng})
	assert.Error(t, err)
	_, err = New(Options{Exchange: sim.NewEngine(sim.Options{})})
	assert.Error(t, err)
}

func TestEnterPlacesTakeProfitAndFlip(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	st := f.enter(t, market.Long)

	assert.NotEmpty(t, st.CycleID)
	assert.Equal(t, market.Long, st.Side)
	assert.Equal(t, market.Long, st.Direction)
	assert.InDelta(t, 100, st.Entry, 1e-9)
	assert.InDelta(t, 1, st.Contracts, 1e-9)
	assert.InDelta(t, 100, st.SizeUSD, 1e-9)
	assert.Equal(t, 0, st.FlipCount)

	orders := f.orders(t)
	require.Len(t, orders, 2)

	tp := orders[market.PurposeTakeProfit]
	assert.Equal(t, market.OrderLimit, tp.Type)
	assert.Equal(t, market.Sell, tp.Side)
	assert.Equal(t, market.Long, tp.PositionSide)
	assert.True(t, tp.ReduceOnly)
	assert.InDelta(t, 102, tp.Price, 1e-9)

	flip := orders[market.PurposeFlip]
	assert.Equal(t, market.OrderConditional, flip.Type)
	assert.Equal(t, market.Sell, flip.Side)
	assert.Equal(t, market.Short, flip.PositionSide)
	assert.False(t, flip.ReduceOnly)
	assert.InDelta(t, 98, flip.TriggerPrice, 1e-9)
	assert.InDelta(t, 200.0/98, flip.Amount, 1e-9)

	assert.Equal(t, []journal.EventKind{journal.EventEntry}, f.journal.kinds())
	assert.False(t, f.journal.lastCycle().Closed())
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.CyclesStarted.WithLabelValues("long")))
}

func TestEnterFailureReturnsIdle(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.ex.InjectError(sim.OpCreate+":entry", broker.ErrInsufficientFunds)

	st, err := f.orc.Enter(context.Background(), broker.Candidate{Symbol: sym, Direction: market.Short})
	require.Error(t, err)
	assert.ErrorIs(t, err, broker.ErrRejected)
	assert.Equal(t, PhaseIdle, st.Phase)
	assert.False(t, st.Active())
	assert.Empty(t, f.positions(t))

	_, err = f.orc.Enter(context.Background(), broker.Candidate{Symbol: sym})
	assert.Error(t, err)

	// a malformed entry order is refused, it does not stop the bot
	f.ex.InjectError(sim.OpCreate+":entry", broker.ErrInvalidRequest)
	st, err = f.orc.Enter(context.Background(), broker.Candidate{Symbol: sym, Direction: market.Long})
	require.Error(t, err)
	assert.Equal(t, broker.KindRejected, broker.Classify(err))
	assert.Equal(t, PhaseIdle, st.Phase)
}

// Insufficient balance for the next flip protects the leg with a
// reduce-only stop-loss at the flip trigger instead of a flip order.
func TestInsufficientBalancePlacesStopLoss(t *testing.T) {
	t.Parallel()

	f := newFixture(t, withBalance(60), withStrategy(func(s *config.StrategyConfig) {
		s.InitialSizeUSD = 500
	}))
	st := f.enter(t, market.Long)

	assert.Equal(t, risk.ActionStop, st.Targets.Decision.Action)
	assert.Equal(t, "INSUFFICIENT_BALANCE", st.Targets.Decision.Reason())

	orders := f.orders(t)
	require.Len(t, orders, 2)
	_, hasFlip := orders[market.PurposeFlip]
	assert.False(t, hasFlip)

	stop := orders[market.PurposeStopLoss]
	assert.Equal(t, market.OrderConditional, stop.Type)
	assert.True(t, stop.ReduceOnly)
	assert.Equal(t, market.Sell, stop.Side)
	assert.Equal(t, market.Long, stop.PositionSide)
	assert.InDelta(t, 5, stop.Amount, 1e-9)
	assert.InDelta(t, st.Targets.Trigger, stop.TriggerPrice, 1e-9)
	assert.InDelta(t, 98, stop.TriggerPrice, 1e-9)
}

func TestRejectedFlipDegradesToStopLoss(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.ex.InjectError(sim.OpCreate+":flip", broker.ErrInsufficientFunds)

	st := f.enter(t, market.Long)
	assert.Equal(t, "FLIP_REJECTED", st.Targets.Decision.Reason())

	orders := f.orders(t)
	require.Len(t, orders, 2)
	assert.Contains(t, orders, market.PurposeStopLoss)
	assert.Contains(t, orders, market.PurposeTakeProfit)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Rejections.WithLabelValues("flip")))
}

func TestInvalidFlipOrderDegradesToStopLoss(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.ex.InjectError(sim.OpCreate+":flip", broker.ErrInvalidRequest)

	st := f.enter(t, market.Long)
	assert.Equal(t, "FLIP_REJECTED", st.Targets.Decision.Reason())
	assert.False(t, st.Unprotected)

	orders := f.orders(t)
	require.Len(t, orders, 2)
	assert.Contains(t, orders, market.PurposeStopLoss)
	assert.Contains(t, orders, market.PurposeTakeProfit)
	assert.InDelta(t, 98, orders[market.PurposeStopLoss].TriggerPrice, 1e-9)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Rejections.WithLabelValues("flip")))
}

func TestBalanceErrorProtectsWithStopLoss(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	st := f.enter(t, market.Long)

	f.ex.InjectError(sim.OpBalance, broker.ErrTransient)
	st, err := f.orc.Reconcile(ctx, st, f.positions(t)[0])
	require.NoError(t, err)
	assert.Equal(t, "BALANCE_UNKNOWN", st.Targets.Decision.Reason())

	orders := f.orders(t)
	require.Len(t, orders, 2)
	assert.Contains(t, orders, market.PurposeStopLoss)
	assert.NotContains(t, orders, market.PurposeFlip)

	// the next reconcile with a working balance puts the flip back
	st, err = f.orc.Reconcile(ctx, st, f.positions(t)[0])
	require.NoError(t, err)
	assert.True(t, st.Targets.Decision.Flip())
	assert.Contains(t, f.orders(t), market.PurposeFlip)
}

func TestFailedProtectionIsRetried(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	st := f.enter(t, market.Long)

	f.ex.InjectError(sim.OpCreate+":flip", broker.ErrTransient)
	st, err := f.orc.Reconcile(ctx, st, f.positions(t)[0])
	require.Error(t, err)
	assert.True(t, st.Unprotected)
	assert.NotContains(t, f.orders(t), market.PurposeFlip)

	st, err = f.orc.HandleSnapshot(ctx, st, f.positions(t))
	require.NoError(t, err)
	assert.False(t, st.Unprotected)
	orders := f.orders(t)
	require.Len(t, orders, 2)
	assert.Contains(t, orders, market.PurposeFlip)
}

func TestFlipCycleToTakeProfit(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	st := f.enter(t, market.Long)

	// the conditional flip fires and both legs are open
	f.price(t, 97.9)
	ps := f.positions(t)
	require.Len(t, ps, 2)

	st, err := f.orc.HandleSnapshot(ctx, st, ps)
	require.NoError(t, err)
	assert.Equal(t, PhaseMonitoring, st.Phase)
	assert.Equal(t, market.Short, st.Side)
	assert.Equal(t, 1, st.FlipCount)
	assert.InDelta(t, 200, st.SizeUSD, 1e-9)

	ps = f.positions(t)
	require.Len(t, ps, 1)
	assert.Equal(t, market.Short, ps[0].Side)
	assert.InDelta(t, 200.0/98, ps[0].Contracts, 1e-9)
	assert.Less(t, st.RealizedPnL, 0.0)
	assert.Less(t, st.BreakEven, ps[0].EntryPrice)
	assert.InDelta(t, f.orc.eng.BreakEvenPrice(ps[0].EntryPrice, market.Short, -st.RealizedPnL, 200), st.BreakEven, 1e-9)

	orders := f.orders(t)
	require.Len(t, orders, 2)
	assert.InDelta(t, 97.9*0.98, orders[market.PurposeTakeProfit].Price, 1e-9)
	flip := orders[market.PurposeFlip]
	assert.Equal(t, market.Long, flip.PositionSide)
	assert.InDelta(t, 97.9*1.02, flip.TriggerPrice, 1e-9)
	assert.InDelta(t, 400/(97.9*1.02), flip.Amount, 1e-9)

	// take profit on the short leg ends the cycle
	f.price(t, 95.9)
	st, err = f.orc.HandleSnapshot(ctx, st, f.positions(t))
	require.NoError(t, err)
	assert.Equal(t, PhaseClosed, st.Phase)
	assert.Equal(t, ReasonTakeProfit, st.CloseReason)
	assert.Empty(t, f.orders(t))

	short := 200.0 / 98
	tpPx := 97.9 * 0.98
	gross := (97.9 - 100) + short*(97.9-tpPx)
	fees := (100 + short*97.9 + 97.9 + short*tpPx) * 0.0005
	assert.InDelta(t, gross-fees, st.RealizedPnL, 1e-6)
	assert.InDelta(t, fees, st.Fees, 1e-6)

	c := f.journal.lastCycle()
	assert.True(t, c.Closed())
	assert.Equal(t, 1, c.Flips)
	assert.Equal(t, ReasonTakeProfit, c.CloseReason)
	assert.Equal(t, []journal.EventKind{journal.EventEntry, journal.EventFlip, journal.EventClose}, f.journal.kinds())
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Flips.WithLabelValues(sym)))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.CyclesClosed.WithLabelValues(ReasonTakeProfit)))

	next, err := f.orc.Step(ctx, st)
	require.NoError(t, err)
	assert.Equal(t, PhaseIdle, next.Phase)
}

func TestFlipCountedLocallyWithoutFills(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	st := f.enter(t, market.Long)

	f.price(t, 97.9)
	f.ex.InjectError(sim.OpFills, broker.ErrTransient)
	st, err := f.orc.HandleSnapshot(ctx, st, f.positions(t))
	require.NoError(t, err)
	assert.Equal(t, market.Short, st.Side)
	assert.Equal(t, 1, st.FlipCount)
	assert.InDelta(t, 200, st.SizeUSD, 1e-9)
	assert.Zero(t, st.RealizedPnL)

	flip := f.orders(t)[market.PurposeFlip]
	assert.InDelta(t, 400/(97.9*1.02), flip.Amount, 1e-9)
}

func TestCloseKeepsLastPnLWithoutFills(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	st := f.enter(t, market.Long)
	st.RealizedPnL = 1.25

	f.price(t, 102.5)
	require.Empty(t, f.positions(t))

	f.ex.InjectError(sim.OpFills, broker.ErrTransient)
	st, err := f.orc.HandleSnapshot(ctx, st, nil)
	require.NoError(t, err)
	assert.Equal(t, PhaseClosed, st.Phase)
	assert.Equal(t, ReasonTakeProfit, st.CloseReason)
	assert.InDelta(t, 1.25, st.RealizedPnL, 1e-9)

	c := f.journal.lastCycle()
	assert.True(t, c.Closed())
	assert.InDelta(t, 1.25, c.RealizedPnL, 1e-9)
}

func TestMaxFlipsSwitchesToStopLoss(t *testing.T) {
	t.Parallel()

	f := newFixture(t, withStrategy(func(s *config.StrategyConfig) { s.MaxFlips = 1 }))
	ctx := context.Background()
	st := f.enter(t, market.Long)

	f.price(t, 97.9)
	st, err := f.orc.HandleSnapshot(ctx, st, f.positions(t))
	require.NoError(t, err)
	require.Equal(t, 1, st.FlipCount)
	assert.Equal(t, "MAX_FLIPS", st.Targets.Decision.Reason())

	orders := f.orders(t)
	assert.Contains(t, orders, market.PurposeStopLoss)
	assert.NotContains(t, orders, market.PurposeFlip)

	// stop fires, the cycle closes at a loss
	f.price(t, 100)
	st, err = f.orc.HandleSnapshot(ctx, st, f.positions(t))
	require.NoError(t, err)
	assert.Equal(t, PhaseClosed, st.Phase)
	assert.Equal(t, ReasonStopLoss, st.CloseReason)
	assert.Less(t, st.RealizedPnL, 0.0)
}

func TestSafetyNetFlipsAtMarket(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	st := f.enter(t, market.Long)

	// a gap past the trigger that the matching engine has not seen
	f.ex.SetTick(market.Tick{Symbol: sym, Bid: 97.5, Ask: 97.5, Last: 97.5})

	st, err := f.orc.HandleSnapshot(context.Background(), st, f.positions(t))
	require.NoError(t, err)
	assert.Equal(t, market.Short, st.Side)
	assert.Equal(t, 1, st.FlipCount)

	ps := f.positions(t)
	require.Len(t, ps, 1)
	assert.Equal(t, market.Short, ps[0].Side)
	assert.InDelta(t, 200/97.5, ps[0].Contracts, 1e-9)

	orders := f.orders(t)
	require.Len(t, orders, 2)
	assert.Contains(t, orders, market.PurposeFlip)
}

func TestSafetyNetStopsOut(t *testing.T) {
	t.Parallel()

	f := newFixture(t, withBalance(60), withStrategy(func(s *config.StrategyConfig) {
		s.InitialSizeUSD = 500
	}))
	st := f.enter(t, market.Long)
	require.False(t, st.Targets.Decision.Flip())

	f.ex.SetTick(market.Tick{Symbol: sym, Bid: 97.5, Ask: 97.5, Last: 97.5})
	st, err := f.orc.HandleSnapshot(context.Background(), st, f.positions(t))
	require.NoError(t, err)

	assert.Equal(t, PhaseClosed, st.Phase)
	assert.Equal(t, ReasonStopLoss, st.CloseReason)
	assert.Empty(t, f.positions(t))
	assert.Empty(t, f.orders(t))
	assert.Contains(t, f.journal.kinds(), journal.EventStopLoss)
}

func TestTrailingExit(t *testing.T) {
	t.Parallel()

	f := newFixture(t, withStrategy(func(s *config.StrategyConfig) { s.TrailingExit = true }))
	ctx := context.Background()
	st := f.enter(t, market.Long)

	orders := f.orders(t)
	require.Len(t, orders, 1)
	assert.Contains(t, orders, market.PurposeFlip)

	f.price(t, 103)
	st, err := f.orc.HandleSnapshot(ctx, st, f.positions(t))
	require.NoError(t, err)
	assert.Equal(t, PhaseMonitoring, st.Phase)
	assert.InDelta(t, 103, st.Peak, 1e-9)

	f.price(t, 102)
	st, err = f.orc.HandleSnapshot(ctx, st, f.positions(t))
	require.NoError(t, err)
	assert.Equal(t, PhaseClosed, st.Phase)
	assert.Equal(t, ReasonTrailingExit, st.CloseReason)
	assert.Greater(t, st.RealizedPnL, 0.0)
	assert.Empty(t, f.positions(t))
}

func TestInvariantViolationFlattens(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	st := f.enter(t, market.Long)

	// a manual short of the same size is not a martingale flip
	f.open(t, market.Short, 1)

	st, err := f.orc.HandleSnapshot(context.Background(), st, f.positions(t))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvariantViolation)
	assert.Equal(t, PhaseClosed, st.Phase)
	assert.Equal(t, ReasonInvariant, st.CloseReason)
	assert.Empty(t, f.positions(t))
	assert.Empty(t, f.orders(t))
	assert.Contains(t, f.journal.kinds(), journal.EventInvariant)
}

func TestResumeSingleLegIsIdempotent(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	f.open(t, market.Long, 1)
	// stale orders from a previous run
	_, err := broker.CreateLimitOrder(ctx, f.ex, sym, market.Sell, market.Long, 1, 150, true, market.PurposeTakeProfit)
	require.NoError(t, err)
	_, err = broker.CreateLimitOrder(ctx, f.ex, sym, market.Sell, market.Long, 1, 160, true, market.PurposeClose)
	require.NoError(t, err)

	st, err := f.orc.Resume(ctx, sym)
	require.NoError(t, err)
	assert.Equal(t, PhaseMonitoring, st.Phase)
	assert.Equal(t, market.Long, st.Side)
	assert.Equal(t, 0, st.FlipCount)
	assert.InDelta(t, 100, st.SizeUSD, 1e-9)

	first := f.orders(t)
	require.Len(t, first, 2)
	assert.InDelta(t, 102, first[market.PurposeTakeProfit].Price, 1e-9)

	leg := f.positions(t)[0]
	st, err = f.orc.Reconcile(ctx, st, leg)
	require.NoError(t, err)

	second := f.orders(t)
	require.Len(t, second, 2)
	for purpose, o := range first {
		assert.InDelta(t, o.TriggerPrice, second[purpose].TriggerPrice, 1e-9)
		assert.InDelta(t, o.Price, second[purpose].Price, 1e-9)
		assert.InDelta(t, o.Amount, second[purpose].Amount, 1e-9)
	}
	assert.Contains(t, f.journal.kinds(), journal.EventReconcile)
}

func TestResumeAfterFlipKeepsFlipCount(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	// long, flipped to short, old leg closed: one flip in the fills
	f.open(t, market.Long, 1)
	f.price(t, 98)
	f.open(t, market.Short, 2)
	_, err := broker.CreateMarketOrder(ctx, f.ex, sym, market.Sell, market.Long, 1, true, market.PurposeClose)
	require.NoError(t, err)

	st, err := f.orc.Resume(ctx, sym)
	require.NoError(t, err)
	assert.Equal(t, market.Short, st.Side)
	assert.Equal(t, 1, st.FlipCount)
	assert.Equal(t, market.Long, st.Direction)
	assert.InDelta(t, 98, st.InitialSize, 1e-9)
	assert.InDelta(t, 196, st.SizeUSD, 1e-9)
}

func TestResumeWaitsForFills(t *testing.T) {
	t.Parallel()

	f := newFixture(t, withStrategy(func(s *config.StrategyConfig) { s.MaxFlips = 1 }))
	ctx := context.Background()

	// one flip already taken: the short leg must not flip again
	f.open(t, market.Long, 1)
	f.price(t, 98)
	f.open(t, market.Short, 2)
	_, err := broker.CreateMarketOrder(ctx, f.ex, sym, market.Sell, market.Long, 1, true, market.PurposeClose)
	require.NoError(t, err)
	_, err = broker.CreateLimitOrder(ctx, f.ex, sym, market.Buy, market.Short, 2, 90, true, market.PurposeTakeProfit)
	require.NoError(t, err)

	f.ex.InjectError(sim.OpFills, broker.ErrTransient)
	st, err := f.orc.Resume(ctx, sym)
	require.Error(t, err)
	assert.Equal(t, broker.KindTransient, broker.Classify(err))
	assert.Equal(t, PhaseIdle, st.Phase)

	// nothing was cancelled or placed
	orders := f.orders(t)
	require.Len(t, orders, 1)
	assert.InDelta(t, 90, orders[market.PurposeTakeProfit].Price, 1e-9)

	st, err = f.orc.Resume(ctx, sym)
	require.NoError(t, err)
	assert.Equal(t, 1, st.FlipCount)
	assert.Equal(t, "MAX_FLIPS", st.Targets.Decision.Reason())
	orders = f.orders(t)
	assert.Contains(t, orders, market.PurposeStopLoss)
	assert.NotContains(t, orders, market.PurposeFlip)
}

func TestResumeUnconfirmedLegStopsOut(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	f.open(t, market.Short, 2)

	// the opening fills are older than the lookback
	f.orc.tracker = tracker.New(f.ex).WithClock(func() time.Time { return clock.Add(48 * time.Hour) })

	st, err := f.orc.Resume(ctx, sym)
	require.NoError(t, err)
	assert.Equal(t, PhaseMonitoring, st.Phase)
	assert.True(t, st.CountUnknown)
	assert.Equal(t, "FILLS_UNKNOWN", st.Targets.Decision.Reason())

	orders := f.orders(t)
	require.Len(t, orders, 2)
	stop := orders[market.PurposeStopLoss]
	assert.Equal(t, market.Short, stop.PositionSide)
	assert.InDelta(t, 2, stop.Amount, 1e-9)
	assert.NotContains(t, orders, market.PurposeFlip)

	// later reconciles keep the stop
	st, err = f.orc.Reconcile(ctx, st, f.positions(t)[0])
	require.NoError(t, err)
	assert.NotContains(t, f.orders(t), market.PurposeFlip)
}

func TestResumeReusesJournaledCycle(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	// the entry fills but its flip order fails, leaving a journaled cycle
	f.ex.InjectError(sim.OpCreate+":flip", broker.ErrTransient)
	_, err := f.orc.Enter(ctx, broker.Candidate{Symbol: sym, Direction: market.Long})
	require.Error(t, err)
	require.Len(t, f.journal.cycleIDs(), 1)
	first := f.journal.cycleIDs()[0]

	st, err := f.orc.Step(ctx, State{Phase: PhaseIdle})
	require.NoError(t, err)
	assert.Equal(t, first, st.CycleID)
	assert.Equal(t, market.Long, st.Direction)
	assert.InDelta(t, 100, st.InitialSize, 1e-9)
	assert.Contains(t, f.orders(t), market.PurposeFlip)

	f.price(t, 102.5)
	st, err = f.orc.HandleSnapshot(ctx, st, f.positions(t))
	require.NoError(t, err)
	assert.Equal(t, PhaseClosed, st.Phase)
	assert.Equal(t, []string{first}, f.journal.cycleIDs())
	assert.True(t, f.journal.lastCycle().Closed())
}

func TestResumeBothLegsCleansUp(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	f.open(t, market.Long, 1)
	f.price(t, 98)
	f.open(t, market.Short, 2.05)

	st, err := f.orc.Resume(ctx, sym)
	require.NoError(t, err)
	assert.Equal(t, PhaseMonitoring, st.Phase)
	assert.Equal(t, market.Short, st.Side)
	assert.Equal(t, 1, st.FlipCount)

	ps := f.positions(t)
	require.Len(t, ps, 1)
	assert.Equal(t, market.Short, ps[0].Side)
	assert.Len(t, f.orders(t), 2)
}

func TestResumeWithNothingOpen(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	st, err := f.orc.Resume(context.Background(), sym)
	require.NoError(t, err)
	assert.Equal(t, PhaseIdle, st.Phase)
}

func TestIdleStep(t *testing.T) {
	t.Parallel()

	t.Run("positions error is not an empty account", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		sc := &stubScanner{cand: broker.Candidate{Symbol: sym, Direction: market.Long}, ok: true}
		f.orc.scanner = sc
		f.ex.InjectError(sim.OpPositions, broker.ErrAmbiguousState)

		st, err := f.orc.Step(context.Background(), State{Phase: PhaseIdle})
		require.Error(t, err)
		assert.Equal(t, broker.KindAmbiguous, broker.Classify(err))
		assert.Equal(t, PhaseIdle, st.Phase)
		assert.Zero(t, sc.Calls())
		assert.Empty(t, f.positions(t))
	})

	t.Run("open position resumes", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		sc := &stubScanner{}
		f.orc.scanner = sc
		f.open(t, market.Short, 1)

		st, err := f.orc.Step(context.Background(), State{Phase: PhaseIdle})
		require.NoError(t, err)
		assert.Equal(t, PhaseMonitoring, st.Phase)
		assert.Equal(t, market.Short, st.Side)
		assert.Zero(t, sc.Calls())
	})

	t.Run("candidate enters", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		f.orc.scanner = &stubScanner{cand: broker.Candidate{Symbol: sym, Direction: market.Short}, ok: true}

		st, err := f.orc.Step(context.Background(), State{Phase: PhaseIdle})
		require.NoError(t, err)
		assert.Equal(t, PhaseMonitoring, st.Phase)
		assert.Equal(t, market.Short, st.Side)
	})

	t.Run("no candidate stays idle", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		f.orc.scanner = &stubScanner{}

		st, err := f.orc.Step(context.Background(), State{Phase: PhaseIdle})
		require.NoError(t, err)
		assert.Equal(t, PhaseIdle, st.Phase)
	})
}

func TestMonitorWithStream(t *testing.T) {
	t.Parallel()

	f := newFixture(t, withStream())
	st := f.enter(t, market.Long)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	type result struct {
		st  State
		err error
	}
	done := make(chan result, 1)
	go func() {
		st, err := f.orc.Monitor(ctx, st)
		done <- result{st, err}
	}()

	f.price(t, 97.9)
	require.Eventually(t, func() bool {
		ps := f.positions(t)
		orders, err := f.ex.FetchOpenOrders(context.Background(), sym)
		return err == nil && len(ps) == 1 && ps[0].Side == market.Short && len(orders) == 2
	}, 5*time.Second, 5*time.Millisecond)

	f.price(t, 95.9)

	select {
	case r := <-done:
		require.NoError(t, r.err)
		assert.Equal(t, PhaseClosed, r.st.Phase)
		assert.Equal(t, 1, r.st.FlipCount)
		assert.Equal(t, ReasonTakeProfit, r.st.CloseReason)
	case <-ctx.Done():
		t.Fatal("monitor did not finish")
	}
	require.Eventually(t, func() bool { return f.ex.Subscribers() == 0 }, time.Second, time.Millisecond)
}

func TestRunStopsOnCancel(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.orc.scanner = &stubScanner{cand: broker.Candidate{Symbol: sym, Direction: market.Long}, ok: true}

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- f.orc.Run(ctx) }()

	require.Eventually(t, func() bool {
		orders, err := f.ex.FetchOpenOrders(context.Background(), sym)
		return err == nil && len(orders) == 2
	}, 5*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not stop")
	}

	// the open leg keeps its protection
	ps := f.positions(t)
	require.Len(t, ps, 1)
	assert.Len(t, f.orders(t), 2)
}

func TestRunStopsOnFatal(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.orc.scanner = &stubScanner{cand: broker.Candidate{Symbol: sym, Direction: market.Long}, ok: true}
	f.ex.InjectError(sim.OpPositions, errors.Join(broker.ErrInvalidRequest, errors.New("bad key")))

	err := f.orc.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, broker.ErrInvalidRequest)
}
