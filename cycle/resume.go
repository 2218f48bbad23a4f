package cycle

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/rustyeddy/flipper/internal/id"
	"github.com/rustyeddy/flipper/journal"
	"github.com/rustyeddy/flipper/market"
	"github.com/sirupsen/logrus"
)

// Resume adopts a position found open on the exchange, typically after a
// restart. Two open legs are a flip that finished while nobody watched and
// go straight to Cleanup; a single leg is reconciled. A cycle the journal
// still holds open on the symbol keeps its id.
func (o *Orchestrator) Resume(ctx context.Context, symbol string) (State, error) {
	idle := State{Phase: PhaseIdle}

	ps, err := o.ex.FetchOpenPositions(ctx)
	if err != nil {
		return idle, fmt.Errorf("resume %s: positions: %w", symbol, err)
	}
	long, short := market.Legs(ps, symbol)
	if long == nil && short == nil {
		return idle, nil
	}

	// The flip count decides between flipping and stopping out. Without
	// fills nothing is touched and the next tick tries again.
	ts, err := o.Status(ctx, symbol)
	if err != nil {
		return idle, fmt.Errorf("resume %s: fills: %w", symbol, err)
	}

	st := State{
		Phase:   PhaseMonitoring,
		CycleID: id.New(),
		Symbol:  symbol,
		Opened:  o.now(),
	}

	if long != nil && short != nil {
		old, cur := *long, *short
		if short.Notional() < long.Notional() {
			old, cur = *short, *long
		}
		st.Side = old.Side
		st.Entry = old.EntryPrice
		st.Contracts = old.Contracts
		st.SizeUSD = old.Notional()
		// fills already include the flip that opened the newer leg
		st.FlipCount = max(ts.FlipDepth-1, 0)
		st.CountUnknown = !ts.InPosition || ts.Side != cur.Side
		st = o.reopen(ctx, o.withHistory(st))
		o.begin(ctx, st, "both legs open on resume")
		return o.Cleanup(ctx, st, *long, *short)
	}

	leg := long
	if leg == nil {
		leg = short
	}
	st.Side = leg.Side
	st.Entry = leg.EntryPrice
	st.Contracts = leg.Contracts
	st.SizeUSD = leg.Notional()
	if ts.InPosition && ts.Side == leg.Side {
		st.FlipCount = ts.FlipDepth
	} else {
		log.WithField("symbol", symbol).Warn("fills do not show the open leg")
		st.CountUnknown = true
	}
	st = o.reopen(ctx, o.withHistory(st))
	st.Peak = leg.EntryPrice
	o.begin(ctx, st, "single leg open on resume")

	return o.Reconcile(ctx, st, *leg)
}

// openCycles is implemented by journals that can find a cycle an earlier
// run left open.
type openCycles interface {
	OpenCycle(ctx context.Context, symbol string) (journal.CycleRecord, error)
}

// reopen takes the id and opening facts of the cycle the journal still
// holds open on st.Symbol, so that row is closed when this cycle ends.
func (o *Orchestrator) reopen(ctx context.Context, st State) State {
	r, ok := o.journal.(openCycles)
	if !ok {
		return st
	}
	rec, err := r.OpenCycle(ctx, st.Symbol)
	if err != nil {
		if !errors.Is(err, journal.ErrNotFound) {
			log.WithError(err).WithField("symbol", st.Symbol).Warn("journal lookup failed, starting a new cycle row")
		}
		return st
	}

	st.CycleID = rec.CycleID
	st.Opened = rec.OpenTime
	if rec.Direction.Valid() {
		st.Direction = rec.Direction
	}
	if rec.EntryPrice > 0 {
		st.EntryPrice = rec.EntryPrice
	}
	if rec.InitialSize > 0 {
		st.InitialSize = rec.InitialSize
	}
	return st
}

// withHistory fills the cycle's opening facts, estimating the first
// entry size from the current leg and the flip count.
func (o *Orchestrator) withHistory(st State) State {
	st.Direction = st.Side
	if st.FlipCount%2 == 1 {
		st.Direction = st.Side.Opposite()
	}
	st.InitialSize = st.SizeUSD / math.Pow(o.eng.Config().Multiplier, float64(st.FlipCount))
	st.EntryPrice = st.Entry
	return st
}

func (o *Orchestrator) begin(ctx context.Context, st State, detail string) {
	log.WithFields(st.fields()).WithFields(logrus.Fields{
		"size_usd": st.SizeUSD,
		"detail":   detail,
	}).Info("resuming cycle")
	o.recordCycle(ctx, st)
	o.recordEvent(ctx, st, journal.EventReconcile, st.Entry, st.SizeUSD, detail)
	o.metrics.CycleStarted(string(st.Direction))
}

// adopt handles a single leg on the other side from st, e.g. a flip whose
// old leg was closed outside the orchestrator.
func (o *Orchestrator) adopt(ctx context.Context, st State, leg market.Position) (State, error) {
	log.WithFields(st.fields()).WithField("leg", leg.Side).Warn("leg changed side outside a flip")

	flips := st.FlipCount + 1
	if ts, err := o.Status(ctx, st.Symbol); err == nil && ts.InPosition && ts.Side == leg.Side {
		flips = ts.FlipDepth
		st.CountUnknown = false
	}
	st.FlipCount = flips
	st.Side = leg.Side
	st.SizeUSD = leg.Notional()
	st.Peak = leg.EntryPrice
	st.ExitReason = ""
	o.recordEvent(ctx, st, journal.EventReconcile, leg.EntryPrice, st.SizeUSD, "adopted leg after side change")
	return o.Reconcile(ctx, st, leg)
}
