package alerts

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConditionHolds(t *testing.T) {
	tests := []struct {
		name      string
		condition Condition
		value     float64
		threshold float64
		expected  bool
	}{
		{name: "gt above", condition: ConditionGT, value: 101, threshold: 100, expected: true},
		{name: "gt equal", condition: ConditionGT, value: 100, threshold: 100, expected: false},
		{name: "lt below", condition: ConditionLT, value: 99, threshold: 100, expected: true},
		{name: "gte equal", condition: ConditionGTE, value: 100, threshold: 100, expected: true},
		{name: "lte above", condition: ConditionLTE, value: 100.01, threshold: 100, expected: false},
		{name: "eq exact", condition: ConditionEQ, value: 100, threshold: 100, expected: true},
		{name: "eq within tolerance", condition: ConditionEQ, value: 100.00005, threshold: 100, expected: true},
		{name: "eq outside tolerance", condition: ConditionEQ, value: 100.001, threshold: 100, expected: false},
		{name: "eq negative diff within tolerance", condition: ConditionEQ, value: 99.99995, threshold: 100, expected: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, tc.condition.Holds(tc.value, tc.threshold))
		})
	}
}

func TestParseMetric(t *testing.T) {
	for _, valid := range []string{"price", "volume", "quantity", "zscore", "rsi", "volatility"} {
		metric, err := ParseMetric(valid)
		require.NoError(t, err)
		assert.Equal(t, Metric(valid), metric)
	}

	_, err := ParseMetric("sma")
	assert.Error(t, err)
}

func TestParseCondition(t *testing.T) {
	for _, valid := range []string{">", "<", ">=", "<=", "=="} {
		condition, err := ParseCondition(valid)
		require.NoError(t, err)
		assert.Equal(t, Condition(valid), condition)
	}

	_, err := ParseCondition("!=")
	assert.Error(t, err)
}

func TestNewRuleDefaults(t *testing.T) {
	rule := NewRule("BTCUSDT", MetricPrice, ConditionGT, 50000, "")

	assert.NotEmpty(t, rule.ID)
	assert.True(t, rule.Active)
	assert.Equal(t, "BTCUSDT price > 50000", rule.Message)
	assert.Zero(t, rule.TriggerCount)
	assert.Nil(t, rule.LastTriggered)

	custom := NewRule("BTCUSDT", MetricPrice, ConditionGT, 50000, "moon")
	assert.Equal(t, "moon", custom.Message)
	assert.NotEqual(t, rule.ID, custom.ID)
}
