package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	domain "quantstream/internal/domain/entity/marketdata"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository persists ticks and bars in Postgres. Ticks form an append-only
// log; bars are keyed by (symbol, timeframe, bucket_start) and replaced
// wholesale on upsert.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(ctx context.Context, dsn string) (*Repository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pgx config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}
	return &Repository{pool: pool}, nil
}

func (r *Repository) Close() {
	if r == nil || r.pool == nil {
		return
	}
	r.pool.Close()
}

// Init creates the schema when it does not exist yet.
func (r *Repository) Init(ctx context.Context) error {
	const schema = `
		CREATE TABLE IF NOT EXISTS ticks (
			id BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
			ts TIMESTAMPTZ NOT NULL,
			symbol TEXT NOT NULL,
			price DOUBLE PRECISION NOT NULL,
			quantity DOUBLE PRECISION NOT NULL,
			trade_id BIGINT
		);
		CREATE INDEX IF NOT EXISTS idx_ticks_symbol_ts ON ticks (symbol, ts DESC);

		CREATE TABLE IF NOT EXISTS bars (
			symbol TEXT NOT NULL,
			timeframe TEXT NOT NULL,
			bucket_start TIMESTAMPTZ NOT NULL,
			open DOUBLE PRECISION NOT NULL,
			high DOUBLE PRECISION NOT NULL,
			low DOUBLE PRECISION NOT NULL,
			close DOUBLE PRECISION NOT NULL,
			volume DOUBLE PRECISION NOT NULL,
			PRIMARY KEY (symbol, timeframe, bucket_start)
		);`
	_, err := r.pool.Exec(ctx, schema)
	if err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	return nil
}

// Ticks

const insertTickQuery = `
	INSERT INTO ticks (ts, symbol, price, quantity, trade_id)
	VALUES ($1,$2,$3,$4,$5)`

func (r *Repository) AppendTick(ctx context.Context, tick *domain.Tick) error {
	if tick == nil {
		return errors.New("nil tick")
	}
	_, err := r.pool.Exec(ctx, insertTickQuery,
		tick.Time,
		tick.Symbol,
		tick.Price,
		tick.Quantity,
		nullableInt64(tick.TradeID),
	)
	return err
}

func (r *Repository) TicksBetween(ctx context.Context, symbol string, from, to time.Time) ([]domain.Tick, error) {
	const query = `
		SELECT ts, symbol, price, quantity, COALESCE(trade_id, 0)
		FROM ticks
		WHERE symbol=$1 AND ts >= $2 AND ts < $3
		ORDER BY ts ASC`
	rows, err := r.pool.Query(ctx, query, symbol, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTicks(rows)
}

func (r *Repository) LastTicks(ctx context.Context, symbol string, limit int) ([]domain.Tick, error) {
	if limit <= 0 {
		return nil, errors.New("limit must be positive")
	}
	const query = `
		SELECT ts, symbol, price, quantity, COALESCE(trade_id, 0)
		FROM ticks
		WHERE symbol=$1
		ORDER BY ts DESC
		LIMIT $2`
	rows, err := r.pool.Query(ctx, query, symbol, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTicks(rows)
}

func (r *Repository) TickCount(ctx context.Context) (int64, error) {
	var count int64
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM ticks`).Scan(&count)
	return count, err
}

func collectTicks(rows pgx.Rows) ([]domain.Tick, error) {
	var ticks []domain.Tick
	for rows.Next() {
		var tick domain.Tick
		err := rows.Scan(&tick.Time, &tick.Symbol, &tick.Price, &tick.Quantity, &tick.TradeID)
		if err != nil {
			return nil, err
		}
		ticks = append(ticks, tick)
	}
	return ticks, rows.Err()
}

// Bars

const upsertBarQuery = `
	INSERT INTO bars (symbol, timeframe, bucket_start, open, high, low, close, volume)
	VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	ON CONFLICT (symbol, timeframe, bucket_start) DO UPDATE SET
		open = EXCLUDED.open,
		high = EXCLUDED.high,
		low = EXCLUDED.low,
		close = EXCLUDED.close,
		volume = EXCLUDED.volume`

func (r *Repository) UpsertBar(ctx context.Context, bar *domain.Bar) error {
	if bar == nil {
		return errors.New("nil bar")
	}
	_, err := r.pool.Exec(ctx, upsertBarQuery,
		bar.Symbol,
		bar.Timeframe.String(),
		bar.BucketStart,
		bar.Open,
		bar.High,
		bar.Low,
		bar.Close,
		bar.Volume,
	)
	return err
}

// UpsertBars writes a batch of bars in one round trip. Used by the CSV
// importer; the hot path upserts one bar at a time.
func (r *Repository) UpsertBars(ctx context.Context, bars []domain.Bar) error {
	if len(bars) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for i := range bars {
		batch.Queue(upsertBarQuery,
			bars[i].Symbol,
			bars[i].Timeframe.String(),
			bars[i].BucketStart,
			bars[i].Open,
			bars[i].High,
			bars[i].Low,
			bars[i].Close,
			bars[i].Volume,
		)
	}
	results := r.pool.SendBatch(ctx, batch)
	defer results.Close()
	for range bars {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("upsert bar batch: %w", err)
		}
	}
	return nil
}

func (r *Repository) LastBars(ctx context.Context, symbol string, timeframe domain.Timeframe, limit int) ([]domain.Bar, error) {
	if limit <= 0 {
		return nil, errors.New("limit must be positive")
	}
	const query = `
		SELECT bucket_start, symbol, timeframe, open, high, low, close, volume
		FROM bars
		WHERE symbol=$1 AND timeframe=$2
		ORDER BY bucket_start DESC
		LIMIT $3`
	rows, err := r.pool.Query(ctx, query, symbol, timeframe.String(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bars []domain.Bar
	for rows.Next() {
		var bar domain.Bar
		var tf string
		err := rows.Scan(&bar.BucketStart, &bar.Symbol, &tf, &bar.Open, &bar.High, &bar.Low, &bar.Close, &bar.Volume)
		if err != nil {
			return nil, err
		}
		bar.Timeframe = domain.Timeframe(tf)
		bars = append(bars, bar)
	}
	return bars, rows.Err()
}

func nullableInt64(v int64) *int64 {
	if v == 0 {
		return nil
	}
	return &v
}
