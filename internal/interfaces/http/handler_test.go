package http

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"testing"
	"time"

	"quantstream/internal/aggregator"
	"quantstream/internal/alerts"
	"quantstream/internal/analytics"
	appmarketdata "quantstream/internal/application/service/marketdata"
	"quantstream/internal/backtest"
	marketdata "quantstream/internal/domain/entity/marketdata"
	"quantstream/internal/infrastructure/push"
	"quantstream/internal/ingestion"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memStore is a minimal in-memory MarketDataStore for handler tests.
type memStore struct {
	ticks []marketdata.Tick
	bars  []marketdata.Bar
}

func (s *memStore) AppendTick(_ context.Context, tick *marketdata.Tick) error {
	s.ticks = append(s.ticks, *tick)
	return nil
}

func (s *memStore) UpsertBar(_ context.Context, bar *marketdata.Bar) error {
	s.bars = append(s.bars, *bar)
	return nil
}

func (s *memStore) UpsertBars(_ context.Context, bars []marketdata.Bar) error {
	s.bars = append(s.bars, bars...)
	return nil
}

func (s *memStore) TicksBetween(_ context.Context, symbol string, from, to time.Time) ([]marketdata.Tick, error) {
	var out []marketdata.Tick
	for _, t := range s.ticks {
		if t.Symbol == symbol && !t.Time.Before(from) && t.Time.Before(to) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *memStore) LastTicks(_ context.Context, symbol string, limit int) ([]marketdata.Tick, error) {
	var out []marketdata.Tick
	for _, t := range s.ticks {
		if t.Symbol == symbol {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Time.After(out[j].Time) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memStore) LastBars(_ context.Context, symbol string, timeframe marketdata.Timeframe, limit int) ([]marketdata.Bar, error) {
	var out []marketdata.Bar
	for _, b := range s.bars {
		if b.Symbol == symbol && b.Timeframe == timeframe {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BucketStart.After(out[j].BucketStart) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memStore) TickCount(context.Context) (int64, error) {
	return int64(len(s.ticks)), nil
}

func (s *memStore) Close() {}

// idleFeed blocks until cancelled.
type idleFeed struct{}

func (idleFeed) Run(ctx context.Context, _ []string, _ func(context.Context, *marketdata.Tick)) error {
	<-ctx.Done()
	return ctx.Err()
}

func (idleFeed) Connected() bool { return false }

type fixture struct {
	handler *Handler
	store   *memStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	store := &memStore{}
	service := appmarketdata.NewService(store)
	agg := aggregator.New(service, []marketdata.Timeframe{marketdata.Timeframe1m}, logger)
	engine := analytics.NewEngine(service, logger)
	alertEngine := alerts.NewEngine(logger)
	simulator := backtest.NewSimulator(engine, logger)
	hub := push.NewHub(logger)

	pipeline := ingestion.NewPipeline(service, agg, alertEngine, hub, logger)
	supervisor := ingestion.NewSupervisor(idleFeed{}, pipeline, logger)
	require.NoError(t, supervisor.Start(context.Background(), []string{"BTCUSDT"}))
	t.Cleanup(supervisor.Stop)

	handler := NewHandler(Deps{
		MarketData: service,
		Analytics:  engine,
		Alerts:     alertEngine,
		Backtest:   simulator,
		Supervisor: supervisor,
		Hub:        hub,
		Emitter:    hub,
		CacheTTL:   time.Second,
		Logger:     logger,
	})
	return &fixture{handler: handler, store: store}
}

func (f *fixture) do(method, path string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestGetSymbols(t *testing.T) {
	f := newFixture(t)
	rec := f.do(http.MethodGet, "/api/v1/symbols", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []any{"BTCUSDT"}, decode(t, rec)["symbols"])
}

func TestUpdateSymbols(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodPost, "/api/v1/symbols", []byte(`{"symbols":["ETHUSDT","SOLUSDT"]}`))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(http.MethodGet, "/api/v1/symbols", nil)
	assert.Equal(t, []any{"ETHUSDT", "SOLUSDT"}, decode(t, rec)["symbols"])

	rec = f.do(http.MethodPost, "/api/v1/symbols", []byte(`{"symbols":[]}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(http.MethodPost, "/api/v1/symbols", []byte(`not json`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAlertsCRUD(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodPost, "/api/v1/alerts",
		[]byte(`{"symbol":"BTCUSDT","metric":"price","condition":">","threshold":50000}`))
	require.Equal(t, http.StatusCreated, rec.Code)
	id, ok := decode(t, rec)["alert_id"].(string)
	require.True(t, ok)

	rec = f.do(http.MethodGet, "/api/v1/alerts", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode(t, rec)["alerts"], 1)

	rec = f.do(http.MethodDelete, "/api/v1/alerts/"+id, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(http.MethodDelete, "/api/v1/alerts/"+id, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateAlertValidation(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name string
		body string
	}{
		{name: "unknown metric", body: `{"symbol":"BTCUSDT","metric":"sma","condition":">","threshold":1}`},
		{name: "unknown condition", body: `{"symbol":"BTCUSDT","metric":"price","condition":"!=","threshold":1}`},
		{name: "missing symbol", body: `{"metric":"price","condition":">","threshold":1}`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := f.do(http.MethodPost, "/api/v1/alerts", []byte(tc.body))
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestAlertHistoryEndpoints(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodGet, "/api/v1/alerts/history", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode(t, rec)["history"])

	rec = f.do(http.MethodDelete, "/api/v1/alerts/history", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestGetAnalyticsInsufficientData(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodGet, "/api/v1/analytics/BTCUSDT?timeframe=1m&window=20", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.NotNil(t, body["insufficient_data"])
}

func TestGetAnalyticsBadParams(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodGet, "/api/v1/analytics/BTCUSDT?timeframe=1h", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(http.MethodGet, "/api/v1/analytics/BTCUSDT?window=abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(http.MethodGet, "/api/v1/analytics/pair?symbol1=BTCUSDT", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetBarsAndTicks(t *testing.T) {
	f := newFixture(t)
	base := time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)
	f.store.bars = append(f.store.bars, marketdata.Bar{
		BucketStart: base, Symbol: "BTCUSDT", Timeframe: marketdata.Timeframe1m,
		Open: 1, High: 2, Low: 1, Close: 2, Volume: 3,
	})
	f.store.ticks = append(f.store.ticks, marketdata.Tick{
		Time: base, Symbol: "BTCUSDT", Price: 2, Quantity: 1,
	})

	rec := f.do(http.MethodGet, "/api/v1/marketdata/ohlc/BTCUSDT?timeframe=1m", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode(t, rec)["bars"], 1)

	rec = f.do(http.MethodGet, "/api/v1/marketdata/ticks/BTCUSDT?limit=10", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode(t, rec)["ticks"], 1)

	rec = f.do(http.MethodGet, "/api/v1/marketdata/ticks/BTCUSDT?limit=oops", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStats(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodGet, "/api/v1/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, float64(0), body["total_ticks"])
	assert.NotNil(t, body["ingestion"])
}

func TestBacktestEndpoint(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodGet, "/api/v1/backtest?symbol1=AAA&symbol2=BBB&timeframe=1m", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotNil(t, decode(t, rec)["insufficient_data"])

	rec = f.do(http.MethodGet, "/api/v1/backtest?symbol1=AAA", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestImportAndExportCSV(t *testing.T) {
	f := newFixture(t)

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", "bars.csv")
	require.NoError(t, err)
	_, err = part.Write([]byte("timestamp,symbol,open,high,low,close,volume\n2024-03-15T10:00:00Z,BTCUSDT,100,105,95,102,6.5\n"))
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/import/ohlc", &buf)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), decode(t, rec)["imported"])

	export := f.do(http.MethodGet, "/api/v1/export/BTCUSDT?timeframe=1m", nil)
	require.Equal(t, http.StatusOK, export.Code)
	assert.Contains(t, export.Header().Get("Content-Disposition"), "attachment")
	lines := strings.Split(strings.TrimSpace(export.Body.String()), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "timestamp,symbol,open"))
	assert.Contains(t, lines[1], "BTCUSDT")
}

func TestImportCSVRejectsBadFiles(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodPost, "/api/v1/import/ohlc", []byte("no multipart"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", "bars.csv")
	require.NoError(t, err)
	_, err = part.Write([]byte("bogus,header\n"))
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/import/ohlc", &buf)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	rec = httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
