package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	marketdata "quantstream/internal/domain/entity/marketdata"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// Conn is the read side of one stream connection.
type Conn interface {
	ReadMessage() ([]byte, error)
	Close() error
}

// Dialer opens a stream connection. Injected so reconnect behavior is
// testable without a live exchange.
type Dialer func(ctx context.Context, url string) (Conn, error)

// WebsocketDialer dials the exchange over gorilla/websocket.
func WebsocketDialer(ctx context.Context, url string) (Conn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return &wsConn{conn: conn}, nil
}

type wsConn struct {
	conn *websocket.Conn
}

func (c *wsConn) ReadMessage() ([]byte, error) {
	_, payload, err := c.conn.ReadMessage()
	return payload, err
}

func (c *wsConn) Close() error {
	return c.conn.Close()
}

// BinanceFeed consumes the Binance combined trade stream and normalizes
// envelopes into ticks. It owns the reconnect loop: any read or dial
// failure is retried after a fixed backoff until the context is cancelled.
type BinanceFeed struct {
	baseURL   string
	backoff   time.Duration
	dial      Dialer
	logger    *logrus.Entry
	connected atomic.Bool
}

func NewBinanceFeed(baseURL string, backoff time.Duration, logger *logrus.Logger) *BinanceFeed {
	return &BinanceFeed{
		baseURL: baseURL,
		backoff: backoff,
		dial:    WebsocketDialer,
		logger:  logger.WithField("component", "feed"),
	}
}

// WithDialer overrides the connection factory. Used by tests.
func (f *BinanceFeed) WithDialer(dial Dialer) *BinanceFeed {
	f.dial = dial
	return f
}

// Connected reports whether a stream connection is currently open.
func (f *BinanceFeed) Connected() bool {
	return f.connected.Load()
}

// streamEnvelope is the combined-stream wrapper. Envelopes without a
// recognized trade payload are ignored.
type streamEnvelope struct {
	Stream string      `json:"stream"`
	Data   *tradeEvent `json:"data"`
}

type tradeEvent struct {
	EventType string `json:"e"`
	Symbol    string `json:"s"`
	Price     string `json:"p"`
	Quantity  string `json:"q"`
	TradeID   int64  `json:"t"`
	TradeTime int64  `json:"T"` // trade time, milliseconds since epoch
}

// Run streams trades for the given symbols, invoking handle for each tick
// strictly in arrival order, until ctx is cancelled. The handler runs on
// the stream goroutine: the next message is not read until it returns,
// which is the pipeline's per-connection ordering guarantee.
func (f *BinanceFeed) Run(ctx context.Context, symbols []string, handle func(context.Context, *marketdata.Tick)) error {
	url := f.streamURL(symbols)
	log := f.logger.WithField("url", url)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		conn, err := f.dial(ctx, url)
		if err != nil {
			log.WithError(err).Warn("stream connect failed")
			if !f.sleep(ctx) {
				return ctx.Err()
			}
			continue
		}

		log.Info("stream connected")
		f.connected.Store(true)
		err = f.readLoop(ctx, conn, handle)
		f.connected.Store(false)
		_ = conn.Close()

		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.WithError(err).Warn("stream closed, reconnecting")
		if !f.sleep(ctx) {
			return ctx.Err()
		}
	}
}

func (f *BinanceFeed) readLoop(ctx context.Context, conn Conn, handle func(context.Context, *marketdata.Tick)) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		payload, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		tick, ok := f.parse(payload)
		if !ok {
			continue
		}
		handle(ctx, tick)
	}
}

func (f *BinanceFeed) parse(payload []byte) (*marketdata.Tick, bool) {
	var envelope streamEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		f.logger.WithError(err).Debug("undecodable stream message")
		return nil, false
	}
	if envelope.Data == nil {
		return nil, false
	}

	event := envelope.Data
	price, err := strconv.ParseFloat(event.Price, 64)
	if err != nil || price <= 0 {
		f.logger.WithField("price", event.Price).Debug("dropping trade with bad price")
		return nil, false
	}
	quantity, err := strconv.ParseFloat(event.Quantity, 64)
	if err != nil || quantity < 0 {
		f.logger.WithField("quantity", event.Quantity).Debug("dropping trade with bad quantity")
		return nil, false
	}

	return &marketdata.Tick{
		Time:     time.UnixMilli(event.TradeTime).UTC(),
		Symbol:   strings.ToUpper(event.Symbol),
		Price:    price,
		Quantity: quantity,
		TradeID:  event.TradeID,
	}, true
}

func (f *BinanceFeed) streamURL(symbols []string) string {
	streams := make([]string, len(symbols))
	for i, symbol := range symbols {
		streams[i] = strings.ToLower(symbol) + "@trade"
	}
	return fmt.Sprintf("%s?streams=%s", f.baseURL, strings.Join(streams, "/"))
}

// sleep waits out the reconnect backoff; false means the context ended.
func (f *BinanceFeed) sleep(ctx context.Context) bool {
	timer := time.NewTimer(f.backoff)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
