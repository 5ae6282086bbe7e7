package marketdata

import (
	"time"
)

// Tick models a single executed trade from the exchange stream.
// Ticks are append-only: once stored they are never mutated or deleted.
type Tick struct {
	Time     time.Time `json:"timestamp"`
	Symbol   string    `json:"symbol"`
	Price    float64   `json:"price"`
	Quantity float64   `json:"quantity"`
	TradeID  int64     `json:"trade_id,omitempty"`
}
