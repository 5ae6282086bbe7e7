package ingestion

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"quantstream/internal/aggregator"
	"quantstream/internal/alerts"
	entityalerts "quantstream/internal/domain/entity/alerts"
	marketdata "quantstream/internal/domain/entity/marketdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordStore captures writes and serves bucket queries from them.
type recordStore struct {
	mu        sync.Mutex
	ticks     []marketdata.Tick
	bars      []marketdata.Bar
	appendErr error
}

func (s *recordStore) AppendTick(_ context.Context, tick *marketdata.Tick) error {
	if s.appendErr != nil {
		return s.appendErr
	}
	s.mu.Lock()
	s.ticks = append(s.ticks, *tick)
	s.mu.Unlock()
	return nil
}

func (s *recordStore) UpsertBar(_ context.Context, bar *marketdata.Bar) error {
	s.mu.Lock()
	s.bars = append(s.bars, *bar)
	s.mu.Unlock()
	return nil
}

func (s *recordStore) UpsertBars(_ context.Context, bars []marketdata.Bar) error {
	s.mu.Lock()
	s.bars = append(s.bars, bars...)
	s.mu.Unlock()
	return nil
}

func (s *recordStore) TicksBetween(_ context.Context, symbol string, from, to time.Time) ([]marketdata.Tick, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []marketdata.Tick
	for _, t := range s.ticks {
		if t.Symbol == symbol && !t.Time.Before(from) && t.Time.Before(to) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *recordStore) LastTicks(context.Context, string, int) ([]marketdata.Tick, error) {
	return nil, nil
}

func (s *recordStore) LastBars(context.Context, string, marketdata.Timeframe, int) ([]marketdata.Bar, error) {
	return nil, nil
}

func (s *recordStore) TickCount(context.Context) (int64, error) { return 0, nil }

func (s *recordStore) Close() {}

// recordEmitter captures emitted events in order.
type recordEmitter struct {
	mu     sync.Mutex
	events []string
}

func (e *recordEmitter) Emit(event string, _ any) {
	e.mu.Lock()
	e.events = append(e.events, event)
	e.mu.Unlock()
}

func (e *recordEmitter) snapshot() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.events...)
}

func newPipelineFixture(store *recordStore) (*Pipeline, *alerts.Engine, *recordEmitter) {
	logger := quietLogger()
	agg := aggregator.New(store, []marketdata.Timeframe{marketdata.Timeframe1m}, logger)
	alertEngine := alerts.NewEngine(logger)
	emitter := &recordEmitter{}
	return NewPipeline(store, agg, alertEngine, emitter, logger), alertEngine, emitter
}

func TestPipelineHandleTick(t *testing.T) {
	store := &recordStore{}
	pipeline, alertEngine, emitter := newPipelineFixture(store)

	_, err := alertEngine.Create("BTCUSDT", entityalerts.MetricPrice, entityalerts.ConditionGT, 100, "")
	require.NoError(t, err)

	pipeline.HandleTick(context.Background(), &marketdata.Tick{
		Time: time.Date(2024, 3, 15, 10, 0, 1, 0, time.UTC), Symbol: "BTCUSDT", Price: 101, Quantity: 1,
	})

	assert.Len(t, store.ticks, 1)
	require.Len(t, store.bars, 1)
	assert.Equal(t, 101.0, store.bars[0].Close)
	assert.Equal(t, []string{EventTickUpdate, EventAlertTriggered}, emitter.snapshot())
}

func TestPipelineStopsOnPersistFailure(t *testing.T) {
	store := &recordStore{appendErr: errors.New("db down")}
	pipeline, _, emitter := newPipelineFixture(store)

	pipeline.HandleTick(context.Background(), &marketdata.Tick{
		Time: time.Now().UTC(), Symbol: "BTCUSDT", Price: 101, Quantity: 1,
	})

	// A tick that never persisted must not aggregate or broadcast.
	assert.Empty(t, store.bars)
	assert.Empty(t, emitter.snapshot())
}

// blockFeed is a controllable TickFeed that reports its run count.
type blockFeed struct {
	mu      sync.Mutex
	running int
	started int
}

func (f *blockFeed) Run(ctx context.Context, _ []string, _ func(context.Context, *marketdata.Tick)) error {
	f.mu.Lock()
	f.running++
	f.started++
	f.mu.Unlock()

	<-ctx.Done()

	f.mu.Lock()
	f.running--
	f.mu.Unlock()
	return ctx.Err()
}

func (f *blockFeed) Connected() bool { return false }

func (f *blockFeed) counts() (running, started int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running, f.started
}

func newSupervisorFixture(feed *blockFeed) *Supervisor {
	logger := quietLogger()
	store := &recordStore{}
	agg := aggregator.New(store, []marketdata.Timeframe{marketdata.Timeframe1m}, logger)
	pipeline := NewPipeline(store, agg, alerts.NewEngine(logger), &recordEmitter{}, logger)
	return NewSupervisor(feed, pipeline, logger)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestSupervisorSingleTask(t *testing.T) {
	feed := &blockFeed{}
	supervisor := newSupervisorFixture(feed)
	ctx := context.Background()

	require.NoError(t, supervisor.Start(ctx, []string{"BTCUSDT"}))
	defer supervisor.Stop()
	waitFor(t, func() bool { running, _ := feed.counts(); return running == 1 })

	// Each restart replaces the task; the old one is gone before the new
	// one starts, so at most one runs at any time.
	require.NoError(t, supervisor.SetSymbols([]string{"ETHUSDT"}))
	require.NoError(t, supervisor.SetSymbols([]string{"BTCUSDT", "ETHUSDT"}))

	waitFor(t, func() bool { _, started := feed.counts(); return started == 3 })
	running, _ := feed.counts()
	assert.Equal(t, 1, running)
	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT"}, supervisor.Symbols())
}

func TestSupervisorStop(t *testing.T) {
	feed := &blockFeed{}
	supervisor := newSupervisorFixture(feed)

	require.NoError(t, supervisor.Start(context.Background(), []string{"BTCUSDT"}))
	waitFor(t, func() bool { running, _ := feed.counts(); return running == 1 })

	supervisor.Stop()
	running, _ := feed.counts()
	assert.Equal(t, 0, running)
	assert.False(t, supervisor.Status().Active)
}

func TestSupervisorRequiresSymbols(t *testing.T) {
	supervisor := newSupervisorFixture(&blockFeed{})
	assert.Error(t, supervisor.Start(context.Background(), nil))
}

func TestSupervisorSetSymbolsBeforeStart(t *testing.T) {
	supervisor := newSupervisorFixture(&blockFeed{})
	assert.Error(t, supervisor.SetSymbols([]string{"BTCUSDT"}))
}

func TestSupervisorStatus(t *testing.T) {
	feed := &blockFeed{}
	supervisor := newSupervisorFixture(feed)

	require.NoError(t, supervisor.Start(context.Background(), []string{"BTCUSDT"}))
	defer supervisor.Stop()

	status := supervisor.Status()
	assert.True(t, status.Active)
	assert.Equal(t, []string{"BTCUSDT"}, status.Symbols)
	assert.False(t, status.Connected)
}
