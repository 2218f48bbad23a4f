package journal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rustyeddy/flipper/internal/id"
	"github.com/rustyeddy/flipper/market"
)

const pgErrUniqueViolation = "23505"

// ErrDuplicateKey is returned when an event id is recorded twice.
var ErrDuplicateKey = errors.New("duplicate key")

// Postgres stores the journal in a Postgres database through a pgx pool.
type Postgres struct {
	pool *pgxpool.Pool
}

var (
	_ Journal = (*Postgres)(nil)
	_ Reader  = (*Postgres)(nil)
)

// NewPostgres connects, pings and applies PostgresSchema.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	if _, err := pool.Exec(ctx, PostgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Postgres{pool: pool}, nil
}

func (p *Postgres) RecordCycle(ctx context.Context, c CycleRecord) error {
	var closeTime *time.Time
	if c.Closed() {
		t := c.CloseTime.UTC()
		closeTime = &t
	}

	_, err := p.pool.Exec(ctx, `
		INSERT INTO cycles (
			cycle_id, symbol, direction, open_time, close_time,
			entry_price, initial_size, flips, realized_pnl, fees, close_reason
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (cycle_id) DO UPDATE SET
			close_time = EXCLUDED.close_time,
			flips = EXCLUDED.flips,
			realized_pnl = EXCLUDED.realized_pnl,
			fees = EXCLUDED.fees,
			close_reason = EXCLUDED.close_reason`,
		c.CycleID, c.Symbol, string(c.Direction), c.OpenTime.UTC(), closeTime,
		c.EntryPrice, c.InitialSize, c.Flips, c.RealizedPnL, c.Fees, c.CloseReason,
	)
	if err != nil {
		return fmt.Errorf("record cycle %s: %w", c.CycleID, err)
	}
	return nil
}

func (p *Postgres) RecordEvent(ctx context.Context, e EventRecord) error {
	if e.EventID == "" {
		e.EventID = id.At(e.Time)
	}

	_, err := p.pool.Exec(ctx, `
		INSERT INTO events (
			event_id, cycle_id, symbol, time, kind, side,
			price, size_usd, flip_count, detail
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		e.EventID, e.CycleID, e.Symbol, e.Time.UTC(), string(e.Kind), string(e.Side),
		e.Price, e.SizeUSD, e.FlipCount, e.Detail,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return fmt.Errorf("event %s: %w", e.EventID, ErrDuplicateKey)
		}
		return fmt.Errorf("record event %s: %w", e.Kind, err)
	}
	return nil
}

func (p *Postgres) RecordBalance(ctx context.Context, b BalanceSnapshot) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO balances (time, available, cycle_id) VALUES ($1, $2, $3)`,
		b.Time.UTC(), b.Available, b.CycleID,
	)
	return err
}

func (p *Postgres) GetCycle(ctx context.Context, cycleID string) (CycleRecord, error) {
	row := p.pool.QueryRow(ctx, `
		SELECT cycle_id, symbol, direction, open_time, close_time,
			entry_price, initial_size, flips, realized_pnl, fees, close_reason
		FROM cycles
		WHERE cycle_id = $1`, cycleID)

	rec, err := scanPgCycle(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return CycleRecord{}, fmt.Errorf("cycle %q %w", cycleID, ErrNotFound)
		}
		return CycleRecord{}, err
	}
	return rec, nil
}

func (p *Postgres) OpenCycle(ctx context.Context, symbol string) (CycleRecord, error) {
	row := p.pool.QueryRow(ctx, `
		SELECT cycle_id, symbol, direction, open_time, close_time,
			entry_price, initial_size, flips, realized_pnl, fees, close_reason
		FROM cycles
		WHERE symbol = $1 AND close_time IS NULL
		ORDER BY open_time DESC, cycle_id DESC
		LIMIT 1`, symbol)

	rec, err := scanPgCycle(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return CycleRecord{}, fmt.Errorf("open cycle on %s %w", symbol, ErrNotFound)
		}
		return CycleRecord{}, err
	}
	return rec, nil
}

func (p *Postgres) ListCyclesClosedBetween(ctx context.Context, start, end time.Time) ([]CycleRecord, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT cycle_id, symbol, direction, open_time, close_time,
			entry_price, initial_size, flips, realized_pnl, fees, close_reason
		FROM cycles
		WHERE close_time >= $1 AND close_time < $2
		ORDER BY close_time ASC`, start.UTC(), end.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CycleRecord
	for rows.Next() {
		rec, err := scanPgCycle(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (p *Postgres) ListEvents(ctx context.Context, cycleID string) ([]EventRecord, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT event_id, cycle_id, symbol, time, kind, side,
			price, size_usd, flip_count, detail
		FROM events
		WHERE cycle_id = $1
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
			&e.EventID, &e.CycleID, &e.Symbol, &e.Time, &kind, &side,
			&e.Price, &e.SizeUSD, &e.FlipCount, &e.Detail,
		); err != nil {
			return nil, err
		}
		e.Kind = EventKind(kind)
		e.Side = market.PositionSide(side)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

func scanPgCycle(row pgx.Row) (CycleRecord, error) {
	var (
		rec       CycleRecord
		direction string
		closed    *time.Time
	)
	err := row.Scan(
		&rec.CycleID, &rec.Symbol, &direction, &rec.OpenTime, &closed,
		&rec.EntryPrice, &rec.InitialSize, &rec.Flips, &rec.RealizedPnL, &rec.Fees, &rec.CloseReason,
	)
	if err != nil {
		return CycleRecord{}, err
	}
	rec.Direction = market.PositionSide(direction)
	if closed != nil {
		rec.CloseTime = *closed
	}
	return rec, nil
}

// isDuplicateKeyError checks if err is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgErrUniqueViolation
	}
	return false
}
