package analytics

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// simpleReturns is the period-over-period percentage change of the series.
// One element shorter than the input; zero previous values yield NaN and
// are skipped by the moment helpers below.
func simpleReturns(values []float64) []float64 {
	if len(values) < 2 {
		return nil
	}
	returns := make([]float64, 0, len(values)-1)
	for i := 1; i < len(values); i++ {
		prev := values[i-1]
		if prev == 0 {
			returns = append(returns, math.NaN())
			continue
		}
		returns = append(returns, (values[i]-prev)/prev)
	}
	return returns
}

func dropNaN(values []float64) []float64 {
	clean := make([]float64, 0, len(values))
	for _, v := range values {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			clean = append(clean, v)
		}
	}
	return clean
}

func mean(values []float64) float64 {
	values = dropNaN(values)
	if len(values) == 0 {
		return 0
	}
	return stat.Mean(values, nil)
}

// stdDev is the sample standard deviation; 0 for fewer than two points.
func stdDev(values []float64) float64 {
	values = dropNaN(values)
	if len(values) < 2 {
		return 0
	}
	return stat.StdDev(values, nil)
}

// zScore measures how far the last value sits from the trailing-window
// mean, in standard deviations. 0 when the deviation is zero or undefined.
func zScore(values []float64, window int) float64 {
	if len(values) < window || window < 2 {
		return 0
	}
	tail := values[len(values)-window:]
	sd := stdDev(tail)
	if sd == 0 || math.IsNaN(sd) {
		return 0
	}
	return (values[len(values)-1] - mean(tail)) / sd
}

// rsi computes the Wilder relative strength index over the trailing
// `period` deltas using simple averages of gains and losses, matching a
// rolling-mean formulation. Returns the neutral 50 when fewer than
// period+1 values exist or when both averages are zero; a loss-free window
// saturates at 100 and a gain-free one at 0.
func rsi(values []float64, period int) float64 {
	if len(values) < period+1 {
		return 50
	}
	tail := values[len(values)-period-1:]
	var gains, losses float64
	for i := 1; i < len(tail); i++ {
		delta := tail[i] - tail[i-1]
		if delta > 0 {
			gains += delta
		} else {
			losses -= delta
		}
	}
	avgGain := gains / float64(period)
	avgLoss := losses / float64(period)
	if avgLoss == 0 {
		if avgGain == 0 {
			return 50
		}
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}

// rollingMeanStd fills per-index trailing-window mean and standard
// deviation; indices with fewer than `window` points are NaN.
func rollingMeanStd(values []float64, window int) (means, stds []float64) {
	means = make([]float64, len(values))
	stds = make([]float64, len(values))
	for i := range values {
		if i+1 < window {
			means[i] = math.NaN()
			stds[i] = math.NaN()
			continue
		}
		win := values[i+1-window : i+1]
		means[i] = stat.Mean(win, nil)
		stds[i] = stat.StdDev(win, nil)
	}
	return means, stds
}

// rollingZScores derives a z-score series from rollingMeanStd output,
// mapping undefined entries to 0 for chart payloads.
func rollingZScores(values []float64, window int) []float64 {
	means, stds := rollingMeanStd(values, window)
	scores := make([]float64, len(values))
	for i := range values {
		if math.IsNaN(means[i]) || stds[i] == 0 || math.IsNaN(stds[i]) {
			scores[i] = 0
			continue
		}
		scores[i] = (values[i] - means[i]) / stds[i]
	}
	return scores
}

func correlation(x, y []float64) float64 {
	return stat.Correlation(x, y, nil)
}

func lastValid(values []float64) float64 {
	for i := len(values) - 1; i >= 0; i-- {
		if !math.IsNaN(values[i]) {
			return values[i]
		}
	}
	return 0
}
