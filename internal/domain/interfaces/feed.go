package interfaces

import (
	"context"

	marketdata "quantstream/internal/domain/entity/marketdata"
)

// Emitter pushes an event to external consumers. Delivery is at-most-once
// and must never block the caller; a slow sink drops rather than stalls.
type Emitter interface {
	Emit(event string, payload any)
}

// TickFeed is the upstream exchange stream. Run blocks until ctx is
// cancelled, invoking handle for every trade message strictly in arrival
// order and reconnecting on its own after transient failures.
type TickFeed interface {
	Run(ctx context.Context, symbols []string, handle func(context.Context, *marketdata.Tick)) error
	Connected() bool
}
