// journal/journal.go
package journal

import (
	"context"
	"errors"
	"time"

	"github.com/rustyeddy/flipper/market"
)

// ErrNotFound is returned by readers when a cycle id is unknown.
var ErrNotFound = errors.New("not found")

// EventKind names what happened inside a cycle.
type EventKind string

const (
	EventEntry        EventKind = "entry"
	EventFlip         EventKind = "flip"
	EventStopLoss     EventKind = "stop_loss"
	EventTakeProfit   EventKind = "take_profit"
	EventTrailingExit EventKind = "trailing_exit"
	EventReconcile    EventKind = "reconcile"
	EventInvariant    EventKind = "invariant"
	EventClose        EventKind = "close"
)

// CycleRecord is one trading cycle from first entry to flat. CloseTime is
// zero while the cycle is still open.
type CycleRecord struct {
	CycleID     string
	Symbol      string
	Direction   market.PositionSide
	OpenTime    time.Time
	CloseTime   time.Time
	EntryPrice  float64
	InitialSize float64
	Flips       int
	RealizedPnL float64
	Fees        float64
	CloseReason string
}

// Closed reports whether the cycle has a close time.
func (c CycleRecord) Closed() bool {
	return !c.CloseTime.IsZero()
}

type EventRecord struct {
	EventID   string
	CycleID   string
	Symbol    string
	Time      time.Time
	Kind      EventKind
	Side      market.PositionSide
	Price     float64
	SizeUSD   float64
	FlipCount int
	Detail    string
}

type BalanceSnapshot struct {
	Time      time.Time
	Available float64
	CycleID   string
}

// Journal receives cycle lifecycle records. RecordCycle is called once when
// a cycle opens and again when it closes; backends upsert on CycleID.
type Journal interface {
	RecordCycle(ctx context.Context, c CycleRecord) error
	RecordEvent(ctx context.Context, e EventRecord) error
	RecordBalance(ctx context.Context, b BalanceSnapshot) error
	Close() error
}

// Reader is implemented by the queryable backends.
type Reader interface {
	GetCycle(ctx context.Context, cycleID string) (CycleRecord, error)
	ListEvents(ctx context.Context, cycleID string) ([]EventRecord, error)
	ListCyclesClosedBetween(ctx context.Context, start, end time.Time) ([]CycleRecord, error)
	// OpenCycle returns the most recently opened cycle on symbol that has
	// no close time, or ErrNotFound.
	OpenCycle(ctx context.Context, symbol string) (CycleRecord, error)
}

// Nop discards everything.
type Nop struct{}

func (Nop) RecordCycle(context.Context, CycleRecord) error { return nil }
func (Nop) RecordEvent(context.Context, EventRecord) error { return nil }
func (Nop) RecordBalance(context.Context, BalanceSnapshot) error { return nil }
func (Nop) Close() error { return nil }
