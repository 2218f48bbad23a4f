// Package cycle drives one martingale-flip cycle at a time: entry,
// monitoring, flip cleanup, reconciliation and close.
package cycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rustyeddy/flipper/broker"
	"github.com/rustyeddy/flipper/config"
	"github.com/rustyeddy/flipper/journal"
	"github.com/rustyeddy/flipper/market"
	"github.com/rustyeddy/flipper/metrics"
	"github.com/rustyeddy/flipper/risk"
	"github.com/rustyeddy/flipper/tracker"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("component", "cycle")

// ErrInvariantViolation is returned when both legs are open but their
// sizes do not look like a martingale flip, e.g. after manual trading.
var ErrInvariantViolation = errors.New("cycle invariant violation")

// Options wire the orchestrator to its collaborators. Stream, Scanner,
// Journal and Metrics are optional.
type Options struct {
	Exchange broker.Exchange
	Stream   broker.PositionStream
	Scanner  broker.Scanner
	Engine   *risk.Engine
	Monitor  config.MonitorConfig
	Journal  journal.Journal
	Metrics  *metrics.Metrics
	Now      func() time.Time
}

// Orchestrator runs the cycle state machine. It keeps no cycle state of
// its own; every step takes and returns a State.
type Orchestrator struct {
	ex      broker.Exchange
	eng     *risk.Engine
	scanner broker.Scanner
	tracker *tracker.Tracker
	feed    PositionFeed
	mon     config.MonitorConfig
	journal journal.Journal
	metrics *metrics.Metrics
	now     func() time.Time
}

func New(opts Options) (*Orchestrator, error) {
	if opts.Exchange == nil {
		return nil, errors.New("cycle: exchange is required")
	}
	if opts.Engine == nil {
		return nil, errors.New("cycle: risk engine is required")
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Journal == nil {
		opts.Journal = journal.Nop{}
	}

	o := &Orchestrator{
		ex:      opts.Exchange,
		eng:     opts.Engine,
		scanner: opts.Scanner,
		tracker: tracker.New(opts.Exchange).WithClock(opts.Now),
		mon:     opts.Monitor,
		journal: opts.Journal,
		metrics: opts.Metrics,
		now:     opts.Now,
	}

	poll := NewPollFeed(opts.Exchange, opts.Monitor.PollInterval.Duration, opts.Metrics)
	o.feed = poll
	if opts.Monitor.UseStream && opts.Stream != nil {
		stream := NewStreamFeed(opts.Stream, opts.Monitor.PollInterval.Duration, opts.Metrics)
		o.feed = NewSupervisor(stream, poll, opts.Monitor.StreamRetry.Duration, opts.Metrics)
	}
	return o, nil
}

// Run drives cycles until ctx is cancelled. Only fatal errors stop it; an
// invariant violation ends the cycle and everything else pauses and
// retries.
func (o *Orchestrator) Run(ctx context.Context) error {
	st := State{Phase: PhaseIdle}
	log.Info("orchestrator started")
	for {
		if ctx.Err() != nil {
			log.Info("orchestrator stopped")
			return nil
		}

		next, err := o.Step(ctx, st)
		pause := o.pauseAfter(st, next)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			switch {
			case errors.Is(err, ErrInvariantViolation):
				log.WithError(err).WithFields(next.fields()).Error("cycle abandoned")
			case broker.Classify(err) == broker.KindFatal:
				log.WithError(err).WithFields(st.fields()).Error("stopping orchestrator")
				return err
			default:
				log.WithError(err).WithFields(st.fields()).Warn("step failed")
				pause = o.mon.ErrorPause.Duration
			}
		}
		st = next
		_ = sleep(ctx, pause)
	}
}

func (o *Orchestrator) pauseAfter(prev, next State) time.Duration {
	switch {
	case next.Phase == PhaseClosed:
		return o.mon.ClosePause.Duration
	case prev.Phase == PhaseIdle && next.Phase == PhaseIdle:
		return o.mon.ScanInterval.Duration
	}
	return 0
}

// Step advances the state machine by one transition.
func (o *Orchestrator) Step(ctx context.Context, st State) (State, error) {
	switch st.Phase {
	case PhaseIdle, "":
		return o.idle(ctx)
	case PhaseMonitoring, PhaseFlipping:
		return o.Monitor(ctx, st)
	case PhaseClosed:
		return State{Phase: PhaseIdle}, nil
	}
	// an interrupted entry is repaired from the exchange on the next idle
	// tick
	return State{Phase: PhaseIdle}, nil
}

// idle resumes an open position if the exchange reports one, otherwise
// asks the scanner for a candidate and enters it.
func (o *Orchestrator) idle(ctx context.Context) (State, error) {
	idle := State{Phase: PhaseIdle}

	ps, err := o.ex.FetchOpenPositions(ctx)
	if err != nil {
		o.metrics.ExchangeError(broker.Classify(err).String())
		return idle, fmt.Errorf("fetch positions: %w", err)
	}

	if symbols := market.Symbols(ps); len(symbols) > 0 {
		if len(symbols) > 1 {
			log.WithField("symbols", symbols).Warn("several symbols open, resuming the first")
		}
		return o.Resume(ctx, symbols[0])
	}

	if o.scanner == nil {
		return idle, nil
	}
	cand, ok, err := o.scanner.BestVolatileCoin(ctx)
	if err != nil {
		return idle, fmt.Errorf("scan: %w", err)
	}
	if !ok {
		log.Debug("no candidate")
		return idle, nil
	}
	return o.Enter(ctx, cand)
}

// Status derives the fill-based state of symbol over the configured
// lookback.
func (o *Orchestrator) Status(ctx context.Context, symbol string) (tracker.State, error) {
	return o.tracker.Analyze(ctx, symbol, o.mon.FillLookback.Duration)
}

// detached returns a context that survives cancellation of ctx for up to
// the shutdown timeout, so order cleanup can finish.
func (o *Orchestrator) detached(ctx context.Context) (context.Context, context.CancelFunc) {
	d := o.mon.ShutdownTimeout.Duration
	if d <= 0 {
		d = 30 * time.Second
	}
	return context.WithTimeout(context.WithoutCancel(ctx), d)
}
