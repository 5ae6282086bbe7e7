package marketdata

import (
	"fmt"
	"time"
)

// Timeframe is the closed set of supported bar intervals.
type Timeframe string

const (
	Timeframe1s Timeframe = "1s"
	Timeframe1m Timeframe = "1m"
	Timeframe5m Timeframe = "5m"

	// TimeframeTick selects raw ticks instead of bars in analytics queries.
	// It is not a valid aggregation interval.
	TimeframeTick Timeframe = "tick"
)

// Timeframes lists the intervals the aggregator maintains, shortest first.
var Timeframes = []Timeframe{Timeframe1s, Timeframe1m, Timeframe5m}

// ParseTimeframe validates a timeframe string coming from the API boundary.
func ParseTimeframe(s string) (Timeframe, error) {
	switch Timeframe(s) {
	case Timeframe1s, Timeframe1m, Timeframe5m, TimeframeTick:
		return Timeframe(s), nil
	}
	return "", fmt.Errorf("unknown timeframe %q", s)
}

// Duration returns the bucket length of the timeframe.
func (tf Timeframe) Duration() time.Duration {
	switch tf {
	case Timeframe1s:
		return time.Second
	case Timeframe1m:
		return time.Minute
	case Timeframe5m:
		return 5 * time.Minute
	}
	return 0
}

func (tf Timeframe) String() string {
	return string(tf)
}

// Bucket floors t to the start of the bucket containing it. For 5m the
// minute component is floored to the lower multiple of 5.
func (tf Timeframe) Bucket(t time.Time) time.Time {
	return t.Truncate(tf.Duration())
}

// Bar is the OHLCV summary of all ticks within one (symbol, timeframe,
// bucket) cell. Exactly one bar exists per cell; it is replaced wholesale
// whenever a tick lands in its bucket, never partially updated.
type Bar struct {
	BucketStart time.Time `json:"timestamp"`
	Symbol      string    `json:"symbol"`
	Timeframe   Timeframe `json:"timeframe"`
	Open        float64   `json:"open"`
	High        float64   `json:"high"`
	Low         float64   `json:"low"`
	Close       float64   `json:"close"`
	Volume      float64   `json:"volume"`
}
