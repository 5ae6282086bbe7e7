package marketdata

import (
	"context"
	"errors"
	"time"

	marketdata "quantstream/internal/domain/entity/marketdata"
	interfaces "quantstream/internal/domain/interfaces"
)

var (
	ErrNilTick      = errors.New("tick is nil")
	ErrNilBar       = errors.New("bar is nil")
	ErrInvalidLimit = errors.New("limit must be positive")
)

// Service is the application facade over the market data store. It owns
// argument validation so the HTTP and ingestion layers stay thin.
type Service struct {
	store interfaces.MarketDataStore
}

func NewService(store interfaces.MarketDataStore) *Service {
	return &Service{store: store}
}

// Ticks

func (s *Service) AppendTick(ctx context.Context, tick *marketdata.Tick) error {
	if tick == nil {
		return ErrNilTick
	}
	return s.store.AppendTick(ctx, tick)
}

func (s *Service) TicksBetween(ctx context.Context, symbol string, from, to time.Time) ([]marketdata.Tick, error) {
	if from.After(to) {
		from, to = to, from
	}
	return s.store.TicksBetween(ctx, symbol, from, to)
}

func (s *Service) LastTicks(ctx context.Context, symbol string, limit int) ([]marketdata.Tick, error) {
	if limit <= 0 {
		return nil, ErrInvalidLimit
	}
	return s.store.LastTicks(ctx, symbol, limit)
}

func (s *Service) TickCount(ctx context.Context) (int64, error) {
	return s.store.TickCount(ctx)
}

// Bars

func (s *Service) UpsertBar(ctx context.Context, bar *marketdata.Bar) error {
	if bar == nil {
		return ErrNilBar
	}
	return s.store.UpsertBar(ctx, bar)
}

func (s *Service) UpsertBars(ctx context.Context, bars []marketdata.Bar) error {
	if len(bars) == 0 {
		return nil
	}
	return s.store.UpsertBars(ctx, bars)
}

func (s *Service) LastBars(ctx context.Context, symbol string, timeframe marketdata.Timeframe, limit int) ([]marketdata.Bar, error) {
	if limit <= 0 {
		return nil, ErrInvalidLimit
	}
	return s.store.LastBars(ctx, symbol, timeframe, limit)
}

func (s *Service) Close() {
	s.store.Close()
}
