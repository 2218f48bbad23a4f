package journal

import (
	"context"
	"encoding/csv"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/rustyeddy/flipper/internal/id"
)

var (
	cycleHeader = []string{"cycle_id", "symbol", "direction", "open_time", "close_time", "entry_price", "initial_size", "flips", "realized_pnl", "fees", "close_reason"}
	eventHeader = []string{"event_id", "cycle_id", "symbol", "time", "kind", "side", "price", "size_usd", "flip_count", "detail"}
)

// CSVJournal appends one row per record. A cycle appears twice, once when it
// opens and once when it closes. Balance snapshots are not kept.
type CSVJournal struct {
	mu     sync.Mutex
	cycles *csv.Writer
	events *csv.Writer
	cf, ef *os.File
}

var _ Journal = (*CSVJournal)(nil)

func NewCSV(cyclesPath, eventsPath string) (*CSVJournal, error) {
	cf, err := os.Create(cyclesPath)
	if err != nil {
		return nil, err
	}
	ef, err := os.Create(eventsPath)
	if err != nil {
		cf.Close()
		return nil, err
	}

	cw := csv.NewWriter(cf)
	ew := csv.NewWriter(ef)

	if err := cw.Write(cycleHeader); err != nil {
		return nil, err
	}
	if err := ew.Write(eventHeader); err != nil {
		return nil, err
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return nil, err
	}
	ew.Flush()
	if err := ew.Error(); err != nil {
		return nil, err
	}

	return &CSVJournal{cycles: cw, events: ew, cf: cf, ef: ef}, nil
}

func (j *CSVJournal) RecordCycle(_ context.Context, c CycleRecord) error {
	closeTime := ""
	if c.Closed() {
		closeTime = c.CloseTime.UTC().Format(time.RFC3339)
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	err := j.cycles.Write([]string{
		c.CycleID,
		c.Symbol,
		string(c.Direction),
		c.OpenTime.UTC().Format(time.RFC3339),
		closeTime,
		f(c.EntryPrice),
		f(c.InitialSize),
		strconv.Itoa(c.Flips),
		f(c.RealizedPnL),
		f(c.Fees),
		c.CloseReason,
	})
	if err != nil {
		return err
	}
	j.cycles.Flush()
	return j.cycles.Error()
}

func (j *CSVJournal) RecordEvent(_ context.Context, e EventRecord) error {
	if e.EventID == "" {
		e.EventID = id.At(e.Time)
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	err := j.events.Write([]string{
		e.EventID,
		e.CycleID,
		e.Symbol,
		e.Time.UTC().Format(time.RFC3339),
		string(e.Kind),
		string(e.Side),
		f(e.Price),
		f(e.SizeUSD),
		strconv.Itoa(e.FlipCount),
		e.Detail,
	})
	if err != nil {
		return err
	}
	j.events.Flush()
	return j.events.Error()
}

func (j *CSVJournal) RecordBalance(context.Context, BalanceSnapshot) error {
	return nil
}

func (j *CSVJournal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.cycles.Flush()
	if err := j.cycles.Error(); err != nil {
		return err
	}
	j.events.Flush()
	if err := j.events.Error(); err != nil {
		return err
	}

	if err := j.cf.Close(); err != nil {
		return err
	}
	if err := j.ef.Close(); err != nil {
		return err
	}
	return nil
}

func f(x float64) string {
	return strconv.FormatFloat(x, 'f', 6, 64)
}
