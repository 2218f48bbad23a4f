package cycle

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/flipper/broker"
	"github.com/rustyeddy/flipper/broker/sim"
	"github.com/rustyeddy/flipper/config"
	"github.com/rustyeddy/flipper/journal"
	"github.com/rustyeddy/flipper/market"
	"github.com/rustyeddy/flipper/metrics"
	"github.com/rustyeddy/flipper/risk"
)

const sym = "BTCUSDT"

var clock = time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

func testStrategy() config.StrategyConfig {
	return config.StrategyConfig{
		InitialSizeUSD:         100,
		Multiplier:             2,
		MaxFlips:               3,
		BaseRangePct:           2,
		RangeGrowth:            1,
		Leverage:               10,
		TrailingRetracementPct: 30,
		FeeRate:                0.0005,
		MarketEntry:            true,
	}
}

func testMonitor() config.MonitorConfig {
	return config.MonitorConfig{
		PollInterval:    config.D(time.Millisecond),
		StreamRetry:     config.D(time.Millisecond),
		FillLookback:    config.D(24 * time.Hour),
		ShutdownTimeout: config.D(5 * time.Second),
	}
}

// memJournal keeps records in memory.
type memJournal struct {
	mu       sync.Mutex
	cycles   []journal.CycleRecord
	events   []journal.EventRecord
	balances []journal.BalanceSnapshot
}

func (m *memJournal) RecordCycle(_ context.Context, c journal.CycleRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cycles = append(m.cycles, c)
	return nil
}

func (m *memJournal) RecordEvent(_ context.Context, e journal.EventRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
	return nil
}

func (m *memJournal) RecordBalance(_ context.Context, b journal.BalanceSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances = append(m.balances, b)
	return nil
}

func (m *memJournal) Close() error { return nil }

func (m *memJournal) OpenCycle(_ context.Context, symbol string) (journal.CycleRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	closed := map[string]bool{}
	for i := len(m.cycles) - 1; i >= 0; i-- {
		c := m.cycles[i]
		switch {
		case c.Symbol != symbol:
		case c.Closed():
			closed[c.CycleID] = true
		case !closed[c.CycleID]:
			return c, nil
		}
	}
	return journal.CycleRecord{}, journal.ErrNotFound
}

func (m *memJournal) cycleIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	seen := map[string]bool{}
	for _, c := range m.cycles {
		if !seen[c.CycleID] {
			seen[c.CycleID] = true
			out = append(out, c.CycleID)
		}
	}
	return out
}

func (m *memJournal) kinds() []journal.EventKind {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []journal.EventKind
	for _, e := range m.events {
		out = append(out, e.Kind)
	}
	return out
}

func (m *memJournal) lastCycle() journal.CycleRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cycles[len(m.cycles)-1]
}

type fixture struct {
	ex      *sim.Engine
	orc     *Orchestrator
	journal *memJournal
	metrics *metrics.Metrics
}

type option func(*config.StrategyConfig, *config.MonitorConfig, *sim.Options)

func withBalance(b float64) option {
	return func(_ *config.StrategyConfig, _ *config.MonitorConfig, o *sim.Options) { o.Balance = b }
}

func withStrategy(f func(*config.StrategyConfig)) option {
	return func(s *config.StrategyConfig, _ *config.MonitorConfig, _ *sim.Options) { f(s) }
}

func withStream() option {
	return func(_ *config.StrategyConfig, m *config.MonitorConfig, _ *sim.Options) { m.UseStream = true }
}

func newFixture(t *testing.T, opts ...option) *fixture {
	t.Helper()

	strat := testStrategy()
	mon := testMonitor()
	so := sim.Options{
		Balance:  1000,
		FeeRate:  0.0005,
		Leverage: 10,
		Now:      func() time.Time { return clock },
	}
	for _, o := range opts {
		o(&strat, &mon, &so)
	}

	ex := sim.NewEngine(so)
	require.NoError(t, ex.UpdatePrice(market.Tick{Symbol: sym, Bid: 100, Ask: 100, Last: 100}))

	eng, err := risk.New(strat)
	require.NoError(t, err)

	j := &memJournal{}
	m := metrics.New(prometheus.NewRegistry())
	orc, err := New(Options{
		Exchange: ex,
		Stream:   ex,
		Engine:   eng,
		Monitor:  mon,
		Journal:  j,
		Metrics:  m,
		Now:      func() time.Time { return clock },
	})
	require.NoError(t, err)

	return &fixture{ex: ex, orc: orc, journal: j, metrics: m}
}

func (f *fixture) price(t *testing.T, px float64) {
	t.Helper()
	require.NoError(t, f.ex.UpdatePrice(market.Tick{Symbol: sym, Bid: px, Ask: px, Last: px}))
}

func (f *fixture) positions(t *testing.T) []market.Position {
	t.Helper()
	ps, err := f.ex.FetchOpenPositions(context.Background())
	require.NoError(t, err)
	return ps
}

// orders indexes the open orders by purpose.
func (f *fixture) orders(t *testing.T) map[market.Purpose]market.Order {
	t.Helper()
	list, err := f.ex.FetchOpenOrders(context.Background(), sym)
	require.NoError(t, err)
	out := make(map[market.Purpose]market.Order, len(list))
	for _, o := range list {
		_, dup := out[o.Purpose]
		require.False(t, dup, "two %s orders open", o.Purpose)
		out[o.Purpose] = o
	}
	return out
}

func (f *fixture) enter(t *testing.T, side market.PositionSide) State {
	t.Helper()
	st, err := f.orc.Enter(context.Background(), broker.Candidate{Symbol: sym, Direction: side})
	require.NoError(t, err)
	require.Equal(t, PhaseMonitoring, st.Phase)
	return st
}

func (f *fixture) open(t *testing.T, side market.PositionSide, amount float64) {
	t.Helper()
	_, err := broker.CreateMarketOrder(context.Background(), f.ex, sym, side.OpenSide(), side, amount, false, market.PurposeEntry)
	require.NoError(t, err)
}

type stubScanner struct {
	mu    sync.Mutex
	cand  broker.Candidate
	ok    bool
	calls int
}

func (s *stubScanner) BestVolatileCoin(context.Context) (broker.Candidate, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.cand, s.ok, nil
}

func (s *stubScanner) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}
