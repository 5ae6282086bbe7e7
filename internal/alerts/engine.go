package alerts

import (
	"errors"
	"sync"
	"time"

	"quantstream/internal/analytics"
	entity "quantstream/internal/domain/entity/alerts"
	marketdata "quantstream/internal/domain/entity/marketdata"

	"github.com/sirupsen/logrus"
)

// historyCap bounds the trigger ring; the oldest entry is evicted first.
const historyCap = 100

var ErrRuleNotFound = errors.New("alert rule not found")

// Engine owns the rule registry and the bounded trigger history. It is the
// only writer of rule trigger counters. Evaluation is synchronous and safe
// for concurrent use.
type Engine struct {
	mu      sync.RWMutex
	rules   map[string]*entity.Rule
	history []entity.Trigger
	logger  *logrus.Entry
}

func NewEngine(logger *logrus.Logger) *Engine {
	return &Engine{
		rules:  make(map[string]*entity.Rule),
		logger: logger.WithField("component", "alerts"),
	}
}

// Create validates and registers a rule, returning its generated ID.
func (e *Engine) Create(symbol string, metric entity.Metric, condition entity.Condition, threshold float64, message string) (*entity.Rule, error) {
	if symbol == "" {
		return nil, errors.New("symbol is required")
	}
	if _, err := entity.ParseMetric(string(metric)); err != nil {
		return nil, err
	}
	if _, err := entity.ParseCondition(string(condition)); err != nil {
		return nil, err
	}

	rule := entity.NewRule(symbol, metric, condition, threshold, message)
	e.mu.Lock()
	e.rules[rule.ID] = rule
	e.mu.Unlock()

	e.logger.WithFields(logrus.Fields{"id": rule.ID, "message": rule.Message}).Info("alert created")
	return rule, nil
}

// Delete removes a rule by ID.
func (e *Engine) Delete(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.rules[id]; !ok {
		return ErrRuleNotFound
	}
	delete(e.rules, id)
	return nil
}

// List returns a copy of all registered rules.
func (e *Engine) List() []entity.Rule {
	e.mu.RLock()
	defer e.mu.RUnlock()
	rules := make([]entity.Rule, 0, len(e.rules))
	for _, rule := range e.rules {
		rules = append(rules, *rule)
	}
	return rules
}

// EvaluateTick fires every active matching rule whose metric is observable
// on a raw tick. Metrics that need analytics are skipped, not errors.
func (e *Engine) EvaluateTick(tick *marketdata.Tick) []entity.Trigger {
	return e.evaluate(tick.Symbol, tick.Time, func(metric entity.Metric) (float64, bool) {
		return metricFromTick(metric, tick)
	})
}

// EvaluateSnapshot fires rules against a computed analytics snapshot.
// Snapshots that carry an error or insufficient data trigger nothing.
func (e *Engine) EvaluateSnapshot(snapshot *analytics.Snapshot) []entity.Trigger {
	if snapshot == nil || snapshot.Err != "" || snapshot.Insufficient != nil {
		return nil
	}
	return e.evaluate(snapshot.Symbol, time.Now(), func(metric entity.Metric) (float64, bool) {
		return metricFromSnapshot(metric, snapshot)
	})
}

func (e *Engine) evaluate(symbol string, at time.Time, resolve func(entity.Metric) (float64, bool)) []entity.Trigger {
	e.mu.Lock()
	defer e.mu.Unlock()

	var triggered []entity.Trigger
	for _, rule := range e.rules {
		if !rule.Active || rule.Symbol != symbol {
			continue
		}
		value, ok := resolve(rule.Metric)
		if !ok {
			continue
		}
		if !rule.Condition.Holds(value, rule.Threshold) {
			continue
		}

		now := time.Now()
		rule.TriggerCount++
		rule.LastTriggered = &now

		trigger := entity.Trigger{
			RuleID:    rule.ID,
			Message:   rule.Message,
			Symbol:    rule.Symbol,
			Metric:    rule.Metric,
			Value:     value,
			Threshold: rule.Threshold,
			Time:      at,
		}
		triggered = append(triggered, trigger)
		e.pushHistoryLocked(trigger)
	}
	return triggered
}

func (e *Engine) pushHistoryLocked(trigger entity.Trigger) {
	e.history = append(e.history, trigger)
	if len(e.history) > historyCap {
		e.history = e.history[len(e.history)-historyCap:]
	}
}

// History returns up to limit most recent triggers, oldest first.
func (e *Engine) History(limit int) []entity.Trigger {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if limit <= 0 || limit > len(e.history) {
		limit = len(e.history)
	}
	out := make([]entity.Trigger, limit)
	copy(out, e.history[len(e.history)-limit:])
	return out
}

// ClearHistory drops all recorded triggers.
func (e *Engine) ClearHistory() {
	e.mu.Lock()
	e.history = nil
	e.mu.Unlock()
	e.logger.Info("alert history cleared")
}

// metricFromTick resolves the metrics observable on a raw trade. The
// closed switch makes unsupported combinations an explicit miss.
func metricFromTick(metric entity.Metric, tick *marketdata.Tick) (float64, bool) {
	switch metric {
	case entity.MetricPrice:
		return tick.Price, true
	case entity.MetricVolume, entity.MetricQuantity:
		return tick.Quantity, true
	case entity.MetricZScore, entity.MetricRSI, entity.MetricVolatility:
		return 0, false
	}
	return 0, false
}

// metricFromSnapshot resolves the metrics a computed snapshot carries.
func metricFromSnapshot(metric entity.Metric, snapshot *analytics.Snapshot) (float64, bool) {
	switch metric {
	case entity.MetricZScore:
		return snapshot.Statistics.ZScore, true
	case entity.MetricRSI:
		return snapshot.Statistics.RSI, true
	case entity.MetricVolatility:
		return snapshot.Statistics.Volatility, true
	case entity.MetricPrice:
		return snapshot.Price.Current, true
	case entity.MetricVolume, entity.MetricQuantity:
		return 0, false
	}
	return 0, false
}
