package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/rustyeddy/flipper/internal/id"
	"github.com/rustyeddy/flipper/market"
)

type SQLite struct {
	db *sql.DB
}

var (
	_ Journal = (*SQLite)(nil)
	_ Reader  = (*SQLite)(nil)
)

func NewSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &SQLite{db: db}, nil
}

// RecordCycle inserts the cycle or, when it already exists, updates the
// fields that change over its life.
func (j *SQLite) RecordCycle(ctx context.Context, c CycleRecord) error {
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO cycles
		(cycle_id, symbol, direction, open_time, close_time, entry_price, initial_size, flips, realized_pnl, fees, close_reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(cycle_id) DO UPDATE SET
			close_time = excluded.close_time,
			flips = excluded.flips,
			realized_pnl = excluded.realized_pnl,
			fees = excluded.fees,
			close_reason = excluded.close_reason`,
		c.CycleID, c.Symbol, string(c.Direction), c.OpenTime.UTC(), nullTime(c.CloseTime),
		c.EntryPrice, c.InitialSize, c.Flips, c.RealizedPnL, c.Fees, c.CloseReason,
	)
	if err != nil {
		return fmt.Errorf("record cycle %s: %w", c.CycleID, err)
	}
	return nil
}

func (j *SQLite) RecordEvent(ctx context.Context, e EventRecord) error {
	if e.EventID == "" {
		e.EventID = id.At(e.Time)
	}
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO events
		(event_id, cycle_id, symbol, time, kind, side, price, size_usd, flip_count, detail)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.EventID, e.CycleID, e.Symbol, e.Time.UTC(), string(e.Kind), string(e.Side),
		e.Price, e.SizeUSD, e.FlipCount, e.Detail,
	)
	if err != nil {
		return fmt.Errorf("record event %s: %w", e.Kind, err)
	}
	return nil
}

func (j *SQLite) RecordBalance(ctx context.Context, b BalanceSnapshot) error {
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO balances (time, available, cycle_id) VALUES (?, ?, ?)`,
		b.Time.UTC(), b.Available, b.CycleID,
	)
	return err
}

// GetCycle returns a single cycle by id.
func (j *SQLite) GetCycle(ctx context.Context, cycleID string) (CycleRecord, error) {
	row := j.db.QueryRowContext(ctx, `
		SELECT cycle_id, symbol, direction, open_time, close_time, entry_price, initial_size, flips, realized_pnl, fees, close_reason
		FROM cycles
		WHERE cycle_id = ?`, cycleID)

	rec, err := scanCycle(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return CycleRecord{}, fmt.Errorf("cycle %q %w", cycleID, ErrNotFound)
		}
		return CycleRecord{}, err
	}
	return rec, nil
}

func (j *SQLite) OpenCycle(ctx context.Context, symbol string) (CycleRecord, error) {
	row := j.db.QueryRowContext(ctx, `
		SELECT cycle_id, symbol, direction, open_time, close_time, entry_price, initial_size, flips, realized_pnl, fees, close_reason
		FROM cycles
		WHERE symbol = ? AND close_time IS NULL
		ORDER BY open_time DESC, cycle_id DESC
		LIMIT 1`, symbol)

	rec, err := scanCycle(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return CycleRecord{}, fmt.Errorf("open cycle on %s %w", symbol, ErrNotFound)
		}
		return CycleRecord{}, err
	}
	return rec, nil
}

// ListCyclesClosedBetween returns cycles whose close_time is within [start, end).
func (j *SQLite) ListCyclesClosedBetween(ctx context.Context, start, end time.Time) ([]CycleRecord, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT cycle_id, symbol, direction, open_time, close_time, entry_price, initial_size, flips, realized_pnl, fees, close_reason
		FROM cycles
		WHERE close_time IS NOT NULL AND close_time >= ? AND close_time < ?
		ORDER BY close_time ASC`, start.UTC(), end.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CycleRecord
	for rows.Next() {
		rec, err := scanCycle(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// ListEvents returns a cycle's events in time order.
func (j *SQLite) ListEvents(ctx context.Context, cycleID string) ([]EventRecord, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT event_id, cycle_id, symbol, time, kind, side, price, size_usd, flip_count, detail
		FROM events
		WHERE cycle_id = ?
		ORDER BY time ASC, event_id ASC`, cycleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []EventRecord
	for rows.Next() {
		var (
			e          EventRecord
			kind, side string
		)
		if err := rows.Scan(
			&e.EventID,
			&e.CycleID,
			&e.Symbol,
			&e.Time,
			&kind,
			&side,
			&e.Price,
			&e.SizeUSD,
			&e.FlipCount,
			&e.Detail,
		); err != nil {
			return nil, err
		}
		e.Kind = EventKind(kind)
		e.Side = market.PositionSide(side)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (j *SQLite) Close() error {
	return j.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCycle(s scanner) (CycleRecord, error) {
	var (
		rec       CycleRecord
		direction string
		closed    sql.NullTime
	)
	err := s.Scan(
		&rec.CycleID,
		&rec.Symbol,
		&direction,
		&rec.OpenTime,
		&closed,
		&rec.EntryPrice,
		&rec.InitialSize,
		&rec.Flips,
		&rec.RealizedPnL,
		&rec.Fees,
		&rec.CloseReason,
	)
	if err != nil {
		return CycleRecord{}, err
	}
	rec.Direction = market.PositionSide(direction)
	if closed.Valid {
		rec.CloseTime = closed.Time
	}
	return rec, nil
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
