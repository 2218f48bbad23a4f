package cycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rustyeddy/flipper/broker"
	"github.com/rustyeddy/flipper/market"
	"github.com/rustyeddy/flipper/metrics"
	"github.com/sirupsen/logrus"
)

// Handler consumes one position snapshot for the monitored symbol. It
// returns done once the cycle no longer needs watching.
type Handler func(ctx context.Context, positions []market.Position) (done bool, err error)

// PositionFeed delivers position snapshots to a handler until the handler
// is done, the handler fails, ctx ends or the feed itself breaks.
type PositionFeed interface {
	Run(ctx context.Context, symbol string, h Handler) error
}

// PollFeed fetches positions on a fixed interval.
type PollFeed struct {
	ex       broker.Exchange
	interval time.Duration
	metrics  *metrics.Metrics
}

func NewPollFeed(ex broker.Exchange, interval time.Duration, m *metrics.Metrics) *PollFeed {
	return &PollFeed{ex: ex, interval: interval, metrics: m}
}

// Once runs a single poll pass. A failed fetch skips the pass; it is never
// handed to h as an empty account.
func (p *PollFeed) Once(ctx context.Context, symbol string, h Handler) (bool, error) {
	ps, err := p.ex.FetchOpenPositions(ctx)
	if err != nil {
		kind := broker.Classify(err)
		p.metrics.ExchangeError(kind.String())
		if kind == broker.KindFatal {
			return false, err
		}
		log.WithError(err).WithFields(logrus.Fields{
			"symbol": symbol,
			"kind":   kind,
		}).Warn("position poll failed, skipping tick")
		return false, nil
	}
	p.metrics.Snapshot("poll")
	return h(ctx, filter(ps, symbol))
}

func (p *PollFeed) Run(ctx context.Context, symbol string, h Handler) error {
	for {
		done, err := p.Once(ctx, symbol, h)
		if err != nil || done {
			return err
		}
		if err := sleep(ctx, p.interval); err != nil {
			return err
		}
	}
}

// StreamFeed reads snapshots from a PositionStream. The last snapshot is
// handed to the handler again every heartbeat so price-driven checks keep
// running while positions are quiet.
type StreamFeed struct {
	stream    broker.PositionStream
	heartbeat time.Duration
	metrics   *metrics.Metrics
}

func NewStreamFeed(s broker.PositionStream, heartbeat time.Duration, m *metrics.Metrics) *StreamFeed {
	return &StreamFeed{stream: s, heartbeat: heartbeat, metrics: m}
}

// Run returns an error wrapping broker.ErrStreamClosed when the stream
// fails; handler errors are returned unchanged.
func (s *StreamFeed) Run(ctx context.Context, symbol string, h Handler) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	ch, err := s.stream.WatchPositions(ctx, symbol)
	if err != nil {
		return fmt.Errorf("%w: watch %s: %v", broker.ErrStreamClosed, symbol, err)
	}

	var beat <-chan time.Time
	if s.heartbeat > 0 {
		t := time.NewTicker(s.heartbeat)
		defer t.Stop()
		beat = t.C
	}

	var last []market.Position
	seen := false
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case u, ok := <-ch:
			if !ok {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return fmt.Errorf("%w: %s stream ended", broker.ErrStreamClosed, symbol)
			}
			if u.Err != nil {
				if errors.Is(u.Err, broker.ErrStreamClosed) {
					return u.Err
				}
				return fmt.Errorf("%w: %v", broker.ErrStreamClosed, u.Err)
			}
			last, seen = filter(u.Positions, symbol), true
			s.metrics.Snapshot("stream")
			done, err := h(ctx, last)
			if err != nil || done {
				return err
			}
		case <-beat:
			if !seen {
				continue
			}
			done, err := h(ctx, last)
			if err != nil || done {
				return err
			}
		}
	}
}

// Supervisor prefers the stream and falls back to one poll pass each time
// it breaks before trying the stream again. The two never run at once.
type Supervisor struct {
	stream  *StreamFeed
	poll    *PollFeed
	retry   time.Duration
	metrics *metrics.Metrics
}

func NewSupervisor(stream *StreamFeed, poll *PollFeed, retry time.Duration, m *metrics.Metrics) *Supervisor {
	return &Supervisor{stream: stream, poll: poll, retry: retry, metrics: m}
}

func (s *Supervisor) Run(ctx context.Context, symbol string, h Handler) error {
	for {
		err := s.stream.Run(ctx, symbol, h)
		if err == nil || ctx.Err() != nil || !errors.Is(err, broker.ErrStreamClosed) {
			return err
		}

		log.WithError(err).WithField("symbol", symbol).Warn("position stream failed, falling back to polling")
		s.metrics.FeedFallback()

		done, err := s.poll.Once(ctx, symbol, h)
		if err != nil || done {
			return err
		}
		if err := sleep(ctx, s.retry); err != nil {
			return err
		}
	}
}

func filter(ps []market.Position, symbol string) []market.Position {
	var out []market.Position
	for _, p := range ps {
		if p.Symbol == symbol && p.Open() {
			out = append(out, p)
		}
	}
	return out
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
