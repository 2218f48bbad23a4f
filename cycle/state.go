package cycle

import (
	"time"

	"github.com/rustyeddy/flipper/market"
	"github.com/sirupsen/logrus"
)

// Phase is where a cycle sits in its state machine.
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseEntering   Phase = "entering"
	PhaseMonitoring Phase = "monitoring"
	PhaseFlipping   Phase = "flipping"
	PhaseClosed     Phase = "closed"
)

// Close reasons recorded in the journal and metrics.
const (
	ReasonTakeProfit   = "take_profit"
	ReasonStopLoss     = "stop_loss"
	ReasonTrailingExit = "trailing_exit"
	ReasonInvariant    = "invariant_violation"
)

// State is the orchestrator's view of the active cycle. It is passed into
// and returned from every step; nothing else holds it.
type State struct {
	Phase     Phase
	CycleID   string
	Symbol    string
	Direction market.PositionSide

	// Side is the leg currently open. Entry, Contracts and SizeUSD
	// describe that leg.
	Side      market.PositionSide
	FlipCount int
	SizeUSD   float64
	Entry     float64
	Contracts float64
	Targets   Targets

	// Peak is the best price seen on the current leg, for trailing exits.
	Peak      float64
	// BreakEven is where the current leg wins back the cycle's realized
	// loss and its own fees. Logged after each flip.
	BreakEven float64

	// CountUnknown means fills could not confirm FlipCount; the leg is
	// then protected by a stop-loss only.
	CountUnknown bool
	// Unprotected means the last Reconcile failed to place an order and
	// must run again on the next snapshot.
	Unprotected  bool

	Opened      time.Time
	Closed      time.Time
	EntryPrice  float64
	InitialSize float64

	// ExitReason is set when the orchestrator itself closed the last leg.
	ExitReason  string
	CloseReason string
	RealizedPnL float64
	Fees        float64
}

// Active reports whether a symbol is being traded.
func (s State) Active() bool {
	return s.Symbol != "" && s.Phase != PhaseIdle && s.Phase != PhaseClosed
}

func (s State) fields() logrus.Fields {
	return logrus.Fields{
		"symbol":     s.Symbol,
		"cycle_id":   s.CycleID,
		"phase":      s.Phase,
		"side":       s.Side,
		"flip_count": s.FlipCount,
	}
}

// updatePeak moves Peak in the leg's favour.
func (s *State) updatePeak(px float64) {
	if px <= 0 {
		return
	}
	switch {
	case s.Peak == 0:
		s.Peak = px
	case s.Side == market.Long && px > s.Peak:
		s.Peak = px
	case s.Side == market.Short && px < s.Peak:
		s.Peak = px
	}
}
