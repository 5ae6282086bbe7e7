package interfaces

import (
	"context"
	"time"

	marketdata "quantstream/internal/domain/entity/marketdata"
)

// MarketDataStore is the persistence boundary for ticks and bars. The
// ingestion pipeline is the sole tick writer and the aggregator the sole
// bar writer; everything else reads.
type MarketDataStore interface {
	AppendTick(ctx context.Context, tick *marketdata.Tick) error
	UpsertBar(ctx context.Context, bar *marketdata.Bar) error
	UpsertBars(ctx context.Context, bars []marketdata.Bar) error

	// TicksBetween returns ticks for symbol in [from, to) ascending by time.
	TicksBetween(ctx context.Context, symbol string, from, to time.Time) ([]marketdata.Tick, error)
	// LastTicks returns up to limit most recent ticks, newest first.
	LastTicks(ctx context.Context, symbol string, limit int) ([]marketdata.Tick, error)
	// LastBars returns up to limit most recent bars, newest first. Callers
	// that need chronological order re-sort ascending.
	LastBars(ctx context.Context, symbol string, timeframe marketdata.Timeframe, limit int) ([]marketdata.Bar, error)
	TickCount(ctx context.Context) (int64, error)

	Close()
}
