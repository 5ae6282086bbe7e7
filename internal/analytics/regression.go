package analytics

import (
	"errors"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

var errDegenerateRegression = errors.New("degenerate regression input")

// olsFit fits y = intercept + slope*x by ordinary least squares.
func olsFit(x, y []float64) (intercept, slope float64, err error) {
	if len(x) != len(y) || len(x) < 2 {
		return 0, 0, errDegenerateRegression
	}
	intercept, slope = stat.LinearRegression(x, y, nil, false)
	if math.IsNaN(intercept) || math.IsNaN(slope) || math.IsInf(slope, 0) {
		return 0, 0, errDegenerateRegression
	}
	return intercept, slope, nil
}

const (
	huberEpsilon  = 1.345
	huberMaxIter  = 50
	huberTol      = 1e-8
	madToStdScale = 1.4826
)

// huberFit fits the same line with a Huber loss via iteratively reweighted
// least squares, giving a slope that large outliers cannot drag. The scale
// is re-estimated each pass from the median absolute residual.
func huberFit(x, y []float64) (intercept, slope float64, err error) {
	intercept, slope, err = olsFit(x, y)
	if err != nil {
		return 0, 0, err
	}

	weights := make([]float64, len(x))
	resid := make([]float64, len(x))
	for iter := 0; iter < huberMaxIter; iter++ {
		for i := range x {
			resid[i] = y[i] - intercept - slope*x[i]
		}
		scale := medianAbs(resid) * madToStdScale
		if scale == 0 {
			// Residuals collapsed; the OLS line already fits exactly.
			return intercept, slope, nil
		}

		bound := huberEpsilon * scale
		for i, r := range resid {
			if r < 0 {
				r = -r
			}
			if r <= bound {
				weights[i] = 1
			} else {
				weights[i] = bound / r
			}
		}

		nextIntercept, nextSlope := stat.LinearRegression(x, y, weights, false)
		if math.IsNaN(nextIntercept) || math.IsNaN(nextSlope) {
			return 0, 0, errDegenerateRegression
		}
		done := math.Abs(nextIntercept-intercept)+math.Abs(nextSlope-slope) < huberTol
		intercept, slope = nextIntercept, nextSlope
		if done {
			break
		}
	}
	return intercept, slope, nil
}

func medianAbs(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	abs := make([]float64, len(values))
	for i, v := range values {
		abs[i] = math.Abs(v)
	}
	sort.Float64s(abs)
	mid := len(abs) / 2
	if len(abs)%2 == 1 {
		return abs[mid]
	}
	return (abs[mid-1] + abs[mid]) / 2
}
