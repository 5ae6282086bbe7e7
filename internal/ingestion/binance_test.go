package ingestion

import (
	"context"
	"errors"
	"io"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	marketdata "quantstream/internal/domain/entity/marketdata"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

// scriptConn replays canned messages then fails the read.
type scriptConn struct {
	messages [][]byte
	index    int
}

func (c *scriptConn) ReadMessage() ([]byte, error) {
	if c.index >= len(c.messages) {
		return nil, io.EOF
	}
	msg := c.messages[c.index]
	c.index++
	return msg, nil
}

func (c *scriptConn) Close() error { return nil }

func tradeMessage(symbol, price, quantity string, tradeTime int64) []byte {
	return []byte(`{"stream":"` + symbol + `@trade","data":{"e":"trade","s":"` + symbol +
		`","p":"` + price + `","q":"` + quantity + `","t":42,"T":` + strconv.FormatInt(tradeTime, 10) + `}}`)
}

func TestStreamURL(t *testing.T) {
	feed := NewBinanceFeed("wss://example/stream", time.Second, quietLogger())
	url := feed.streamURL([]string{"BTCUSDT", "ETHUSDT"})
	assert.Equal(t, "wss://example/stream?streams=btcusdt@trade/ethusdt@trade", url)
}

func TestParse(t *testing.T) {
	feed := NewBinanceFeed("wss://example", time.Second, quietLogger())

	tests := []struct {
		name    string
		payload []byte
		ok      bool
	}{
		{name: "valid trade", payload: tradeMessage("BTCUSDT", "50000.5", "0.25", 1700000000000), ok: true},
		{name: "not json", payload: []byte("ping"), ok: false},
		{name: "no data field", payload: []byte(`{"result":null,"id":1}`), ok: false},
		{name: "bad price", payload: tradeMessage("BTCUSDT", "oops", "1", 1700000000000), ok: false},
		{name: "zero price", payload: tradeMessage("BTCUSDT", "0", "1", 1700000000000), ok: false},
		{name: "negative quantity", payload: tradeMessage("BTCUSDT", "100", "-1", 1700000000000), ok: false},
		{name: "zero quantity allowed", payload: tradeMessage("BTCUSDT", "100", "0", 1700000000000), ok: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tick, ok := feed.parse(tc.payload)
			assert.Equal(t, tc.ok, ok)
			if tc.ok {
				require.NotNil(t, tick)
				assert.Equal(t, "BTCUSDT", tick.Symbol)
				assert.Equal(t, int64(42), tick.TradeID)
			}
		})
	}
}

func TestParseNormalizes(t *testing.T) {
	feed := NewBinanceFeed("wss://example", time.Second, quietLogger())

	tick, ok := feed.parse(tradeMessage("btcusdt", "50000.5", "0.25", 1700000000000))
	require.True(t, ok)
	assert.Equal(t, "BTCUSDT", tick.Symbol)
	assert.Equal(t, 50000.5, tick.Price)
	assert.Equal(t, 0.25, tick.Quantity)
	assert.Equal(t, time.UnixMilli(1700000000000).UTC(), tick.Time)
}

func TestRunReconnectsAfterFailures(t *testing.T) {
	var dials atomic.Int32
	received := make(chan *marketdata.Tick, 1)

	feed := NewBinanceFeed("wss://example", time.Millisecond, quietLogger()).
		WithDialer(func(ctx context.Context, url string) (Conn, error) {
			if dials.Add(1) <= 3 {
				return nil, errors.New("connection refused")
			}
			return &scriptConn{messages: [][]byte{
				tradeMessage("BTCUSDT", "100", "1", 1700000000000),
			}}, nil
		})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- feed.Run(ctx, []string{"BTCUSDT"}, func(_ context.Context, tick *marketdata.Tick) {
			select {
			case received <- tick:
			default:
			}
			cancel()
		})
	}()

	select {
	case tick := <-received:
		assert.Equal(t, "BTCUSDT", tick.Symbol)
	case <-ctx.Done():
		t.Fatal("no tick received before timeout")
	}

	require.ErrorIs(t, <-done, context.Canceled)
	// Three failed dials, then the successful one.
	assert.GreaterOrEqual(t, dials.Load(), int32(4))
	assert.False(t, feed.Connected())
}

func TestRunStopsOnCancel(t *testing.T) {
	feed := NewBinanceFeed("wss://example", time.Millisecond, quietLogger()).
		WithDialer(func(ctx context.Context, url string) (Conn, error) {
			return nil, errors.New("connection refused")
		})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- feed.Run(ctx, []string{"BTCUSDT"}, func(context.Context, *marketdata.Tick) {})
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
