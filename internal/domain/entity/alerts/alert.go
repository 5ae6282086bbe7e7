package alerts

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Metric is the closed set of observable quantities a rule can watch.
// Resolution against a data source is per-variant, so an unsupported
// metric/source combination is an explicit miss rather than a runtime
// string fallthrough.
type Metric string

const (
	MetricPrice      Metric = "price"
	MetricVolume     Metric = "volume"
	MetricQuantity   Metric = "quantity"
	MetricZScore     Metric = "zscore"
	MetricRSI        Metric = "rsi"
	MetricVolatility Metric = "volatility"
)

// ParseMetric validates a metric string at the API boundary.
func ParseMetric(s string) (Metric, error) {
	switch Metric(s) {
	case MetricPrice, MetricVolume, MetricQuantity, MetricZScore, MetricRSI, MetricVolatility:
		return Metric(s), nil
	}
	return "", fmt.Errorf("unknown metric %q", s)
}

// Condition is the closed set of comparison operators.
type Condition string

const (
	ConditionGT  Condition = ">"
	ConditionLT  Condition = "<"
	ConditionGTE Condition = ">="
	ConditionLTE Condition = "<="
	ConditionEQ  Condition = "=="
)

// ParseCondition validates a condition string at the API boundary.
func ParseCondition(s string) (Condition, error) {
	switch Condition(s) {
	case ConditionGT, ConditionLT, ConditionGTE, ConditionLTE, ConditionEQ:
		return Condition(s), nil
	}
	return "", fmt.Errorf("unknown condition %q", s)
}

// equalityTolerance absorbs floating-point noise in == comparisons.
const equalityTolerance = 1e-4

// Holds reports whether value satisfies the condition against threshold.
func (c Condition) Holds(value, threshold float64) bool {
	switch c {
	case ConditionGT:
		return value > threshold
	case ConditionLT:
		return value < threshold
	case ConditionGTE:
		return value >= threshold
	case ConditionLTE:
		return value <= threshold
	case ConditionEQ:
		diff := value - threshold
		if diff < 0 {
			diff = -diff
		}
		return diff < equalityTolerance
	}
	return false
}

// Rule is a user-defined threshold alert. TriggerCount and LastTriggered
// are mutated only by the alert engine on trigger.
type Rule struct {
	ID            string     `json:"id"`
	Symbol        string     `json:"symbol"`
	Metric        Metric     `json:"metric"`
	Condition     Condition  `json:"condition"`
	Threshold     float64    `json:"threshold"`
	Message       string     `json:"message"`
	Active        bool       `json:"active"`
	TriggerCount  int        `json:"trigger_count"`
	CreatedAt     time.Time  `json:"created_at"`
	LastTriggered *time.Time `json:"last_triggered,omitempty"`
}

// NewRule builds an active rule with a generated ID. An empty message
// defaults to a "SYMBOL metric condition threshold" summary.
func NewRule(symbol string, metric Metric, condition Condition, threshold float64, message string) *Rule {
	if message == "" {
		message = fmt.Sprintf("%s %s %s %g", symbol, metric, condition, threshold)
	}
	return &Rule{
		ID:        uuid.New().String(),
		Symbol:    symbol,
		Metric:    metric,
		Condition: condition,
		Threshold: threshold,
		Message:   message,
		Active:    true,
		CreatedAt: time.Now(),
	}
}

// Trigger records one firing of a rule. Triggers are events, kept only in
// the engine's bounded history ring.
type Trigger struct {
	RuleID    string    `json:"alert_id"`
	Message   string    `json:"message"`
	Symbol    string    `json:"symbol"`
	Metric    Metric    `json:"metric"`
	Value     float64   `json:"value"`
	Threshold float64   `json:"threshold"`
	Time      time.Time `json:"timestamp"`
}
