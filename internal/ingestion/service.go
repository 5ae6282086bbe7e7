package ingestion

import (
	"context"
	"errors"
	"sync"

	"quantstream/internal/aggregator"
	"quantstream/internal/alerts"
	marketdata "quantstream/internal/domain/entity/marketdata"
	interfaces "quantstream/internal/domain/interfaces"

	"github.com/sirupsen/logrus"
)

// Event names pushed to external consumers.
const (
	EventTickUpdate     = "tick_update"
	EventAlertTriggered = "alert_triggered"
)

// Pipeline is the per-message work of the stream task, executed strictly
// sequentially: persist the tick, rebuild its bars, evaluate tick alerts,
// emit events. A failing step is logged and the remaining steps still run;
// one bad message never stops the stream.
type Pipeline struct {
	store      interfaces.MarketDataStore
	aggregator *aggregator.Aggregator
	alerts     *alerts.Engine
	emitter    interfaces.Emitter
	logger     *logrus.Entry
}

func NewPipeline(store interfaces.MarketDataStore, agg *aggregator.Aggregator, alertEngine *alerts.Engine, emitter interfaces.Emitter, logger *logrus.Logger) *Pipeline {
	return &Pipeline{
		store:      store,
		aggregator: agg,
		alerts:     alertEngine,
		emitter:    emitter,
		logger:     logger.WithField("component", "pipeline"),
	}
}

// HandleTick processes one normalized tick.
func (p *Pipeline) HandleTick(ctx context.Context, tick *marketdata.Tick) {
	if err := p.store.AppendTick(ctx, tick); err != nil {
		p.logger.WithError(err).WithField("symbol", tick.Symbol).Error("persist tick failed")
		return
	}

	p.aggregator.OnTick(ctx, tick)

	triggered := p.alerts.EvaluateTick(tick)

	p.emitter.Emit(EventTickUpdate, tick)
	for _, trigger := range triggered {
		p.logger.WithFields(logrus.Fields{
			"rule":   trigger.RuleID,
			"symbol": trigger.Symbol,
		}).Info("alert triggered")
		p.emitter.Emit(EventAlertTriggered, trigger)
	}
}

// Status reports the supervisor's current streaming state.
type Status struct {
	Active    bool     `json:"active"`
	Symbols   []string `json:"symbols"`
	Connected bool     `json:"connected"`
}

// Supervisor owns the active symbol set and enforces the single-task
// invariant: at most one stream task exists per instance. Symbol changes
// cancel the running task, wait for it to exit, and only then start the
// replacement, so two tasks never race on store writes.
type Supervisor struct {
	feed     interfaces.TickFeed
	pipeline *Pipeline
	logger   *logrus.Entry

	mu      sync.Mutex
	baseCtx context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	symbols []string
	active  bool
}

func NewSupervisor(feed interfaces.TickFeed, pipeline *Pipeline, logger *logrus.Logger) *Supervisor {
	return &Supervisor{
		feed:     feed,
		pipeline: pipeline,
		logger:   logger.WithField("component", "ingestion"),
	}
}

// Start launches the stream task for the given symbols. Starting while a
// task runs restarts it with the new set.
func (s *Supervisor) Start(ctx context.Context, symbols []string) error {
	if len(symbols) == 0 {
		return errors.New("at least one symbol is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
	s.baseCtx = ctx

	taskCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done
	s.symbols = append([]string(nil), symbols...)
	s.active = true

	go func() {
		defer close(done)
		err := s.feed.Run(taskCtx, symbols, s.pipeline.HandleTick)
		if err != nil && !errors.Is(err, context.Canceled) {
			s.logger.WithError(err).Error("stream task exited")
		}
	}()

	s.logger.WithField("symbols", symbols).Info("stream task started")
	return nil
}

// SetSymbols atomically replaces the tracked symbol set, restarting the
// stream task on the context the supervisor was first started with.
func (s *Supervisor) SetSymbols(symbols []string) error {
	s.mu.Lock()
	ctx := s.baseCtx
	s.mu.Unlock()
	if ctx == nil {
		return errors.New("supervisor has not been started")
	}
	return s.Start(ctx, symbols)
}

// Stop cancels the stream task and waits for it to exit.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
	s.active = false
	s.logger.Info("ingestion stopped")
}

func (s *Supervisor) stopLocked() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.cancel = nil
	s.done = nil
}

// Status reports whether a task is running and for which symbols.
func (s *Supervisor) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		Active:    s.active,
		Symbols:   append([]string(nil), s.symbols...),
		Connected: s.feed.Connected(),
	}
}

// Symbols returns the currently tracked symbol set.
func (s *Supervisor) Symbols() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.symbols...)
}
