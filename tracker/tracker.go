package tracker

import (
	"context"
	"fmt"
	"time"

	"github.com/rustyeddy/flipper/market"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("component", "tracker")

// FillSource returns fills for a symbol since a point in time, ascending
// and deduplicated.
type FillSource interface {
	FetchAllFills(ctx context.Context, symbol string, since time.Time) ([]market.Fill, error)
}

// Tracker fetches fills from the exchange and derives cycle state.
type Tracker struct {
	src FillSource
	now func() time.Time
}

func New(src FillSource) *Tracker {
	return &Tracker{src: src, now: time.Now}
}

// WithClock overrides the clock used to compute the lookback window.
func (t *Tracker) WithClock(now func() time.Time) *Tracker {
	t.now = now
	return t
}

func (t *Tracker) Fills(ctx context.Context, symbol string, lookback time.Duration) ([]market.Fill, error) {
	since := t.now().Add(-lookback)
	fills, err := t.src.FetchAllFills(ctx, symbol, since)
	if err != nil {
		return nil, fmt.Errorf("fetch fills %s: %w", symbol, err)
	}
	valid := make([]market.Fill, 0, len(fills))
	for _, f := range fills {
		if err := f.Validate(); err != nil {
			log.WithError(err).WithField("symbol", symbol).Warn("dropping malformed fill")
			continue
		}
		valid = append(valid, f)
	}
	return market.DedupFills(market.SortFills(valid)), nil
}

// Analyze fetches fills over the lookback window and derives state.
func (t *Tracker) Analyze(ctx context.Context, symbol string, lookback time.Duration) (State, error) {
	fills, err := t.Fills(ctx, symbol, lookback)
	if err != nil {
		return State{}, err
	}
	st := Analyze(fills)
	log.WithFields(logrus.Fields{
		"symbol":     symbol,
		"fills":      st.TotalFills,
		"side":       st.Side,
		"net":        st.NetQuantity,
		"flip_depth": st.FlipDepth,
	}).Debug("analyzed fills")
	return st, nil
}
