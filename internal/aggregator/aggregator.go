package aggregator

import (
	"context"
	"fmt"

	marketdata "quantstream/internal/domain/entity/marketdata"
	interfaces "quantstream/internal/domain/interfaces"

	"github.com/sirupsen/logrus"
)

// Aggregator folds the tick stream into per-timeframe OHLC bars. It is the
// sole writer of bars in the system.
//
// Every incoming tick triggers a full recompute of the bar it falls into:
// all ticks currently inside the bucket are re-read and the bar replaced
// wholesale. That makes the upsert idempotent and tolerant of late or
// out-of-order ticks landing in an open bucket, at O(ticks-in-bucket) cost
// per tick. Buckets are short so the window stays small.
type Aggregator struct {
	store      interfaces.MarketDataStore
	timeframes []marketdata.Timeframe
	logger     *logrus.Entry
}

func New(store interfaces.MarketDataStore, timeframes []marketdata.Timeframe, logger *logrus.Logger) *Aggregator {
	if len(timeframes) == 0 {
		timeframes = marketdata.Timeframes
	}
	return &Aggregator{
		store:      store,
		timeframes: timeframes,
		logger:     logger.WithField("component", "aggregator"),
	}
}

// OnTick upserts one bar per configured timeframe. A failure on one
// timeframe is logged and does not stop the others; the stream must keep
// moving.
func (a *Aggregator) OnTick(ctx context.Context, tick *marketdata.Tick) {
	for _, tf := range a.timeframes {
		if err := a.rebuildBucket(ctx, tick.Symbol, tf, tick); err != nil {
			a.logger.WithError(err).WithFields(logrus.Fields{
				"symbol":    tick.Symbol,
				"timeframe": tf.String(),
			}).Warn("bar update failed")
		}
	}
}

func (a *Aggregator) rebuildBucket(ctx context.Context, symbol string, tf marketdata.Timeframe, tick *marketdata.Tick) error {
	bucketStart := tf.Bucket(tick.Time)
	bucketEnd := bucketStart.Add(tf.Duration())

	ticks, err := a.store.TicksBetween(ctx, symbol, bucketStart, bucketEnd)
	if err != nil {
		return fmt.Errorf("query bucket ticks: %w", err)
	}
	if len(ticks) == 0 {
		// The triggering tick is not stored yet (or was filtered); empty
		// buckets are never materialized.
		return nil
	}

	bar := marketdata.Bar{
		BucketStart: bucketStart,
		Symbol:      symbol,
		Timeframe:   tf,
		Open:        ticks[0].Price,
		High:        ticks[0].Price,
		Low:         ticks[0].Price,
		Close:       ticks[len(ticks)-1].Price,
	}
	for _, t := range ticks {
		if t.Price > bar.High {
			bar.High = t.Price
		}
		if t.Price < bar.Low {
			bar.Low = t.Price
		}
		bar.Volume += t.Quantity
	}

	if err := a.store.UpsertBar(ctx, &bar); err != nil {
		return fmt.Errorf("upsert bar: %w", err)
	}
	return nil
}
