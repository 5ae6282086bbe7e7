package analytics

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/mat"
)

// ADFResult is the outcome of an augmented Dickey-Fuller stationarity
// test. A numerically degenerate input produces the terminal
// non-stationary result {0, 1, false} with Err set instead of a fault.
type ADFResult struct {
	Statistic      float64            `json:"statistic"`
	PValue         float64            `json:"pvalue"`
	IsStationary   bool               `json:"is_stationary"`
	UsedLag        int                `json:"used_lag,omitempty"`
	CriticalValues map[string]float64 `json:"critical_values,omitempty"`
	Err            string             `json:"error,omitempty"`
}

var (
	errSeriesTooShort = errors.New("series too short for adf regression")
	errSeriesConstant = errors.New("series is constant")
)

// adfTest regresses Δy on a constant, the lagged level, and AIC-selected
// lagged differences, and scores the level coefficient's t-statistic
// against the MacKinnon response surfaces. Stationarity is declared below
// the 5% p-value.
func adfTest(series []float64) ADFResult {
	result, err := adfuller(dropNaN(series))
	if err != nil {
		return ADFResult{Statistic: 0, PValue: 1, IsStationary: false, Err: err.Error()}
	}
	return result
}

func adfuller(y []float64) (ADFResult, error) {
	n := len(y)
	if n < 8 {
		return ADFResult{}, errSeriesTooShort
	}
	if isConstant(y) {
		return ADFResult{}, errSeriesConstant
	}

	dy := make([]float64, n-1)
	for i := 1; i < n; i++ {
		dy[i-1] = y[i] - y[i-1]
	}

	// Schwert's rule bounds the candidate lag order.
	maxlag := int(math.Ceil(12 * math.Pow(float64(n)/100, 0.25)))
	if bound := len(dy)/2 - 3; maxlag > bound {
		maxlag = bound
	}
	if maxlag < 0 {
		maxlag = 0
	}

	usedLag, err := selectLagAIC(y, dy, maxlag)
	if err != nil {
		return ADFResult{}, err
	}

	fit, err := dickeyFullerOLS(y, dy, usedLag, usedLag)
	if err != nil {
		return ADFResult{}, err
	}
	tStat := fit.coeffs[1] / fit.stderr[1]
	if math.IsNaN(tStat) || math.IsInf(tStat, 0) {
		return ADFResult{}, errDegenerateRegression
	}

	pValue := mackinnonP(tStat)
	return ADFResult{
		Statistic:    tStat,
		PValue:       pValue,
		IsStationary: pValue < 0.05,
		UsedLag:      usedLag,
		CriticalValues: map[string]float64{
			"1%":  mackinnonCrit(crit1pc, fit.nobs),
			"5%":  mackinnonCrit(crit5pc, fit.nobs),
			"10%": mackinnonCrit(crit10pc, fit.nobs),
		},
	}, nil
}

// selectLagAIC compares lag orders 0..maxlag over a common sample
// (anchored at maxlag) and keeps the AIC minimizer.
func selectLagAIC(y, dy []float64, maxlag int) (int, error) {
	bestLag := 0
	bestAIC := math.Inf(1)
	for lag := 0; lag <= maxlag; lag++ {
		fit, err := dickeyFullerOLS(y, dy, lag, maxlag)
		if err != nil {
			continue
		}
		m := float64(fit.nobs)
		aic := m*math.Log(fit.ssr/m) + 2*float64(fit.nparams)
		if aic < bestAIC {
			bestAIC = aic
			bestLag = lag
		}
	}
	if math.IsInf(bestAIC, 1) {
		return 0, errDegenerateRegression
	}
	return bestLag, nil
}

type olsMultiFit struct {
	coeffs  []float64
	stderr  []float64
	ssr     float64
	nobs    int
	nparams int
}

// dickeyFullerOLS fits Δy_t = c + ρ·y_{t-1} + Σ γ_i·Δy_{t-i} starting the
// sample at startLag so candidate models stay comparable during lag
// selection. Column order: constant, level, lagged differences.
func dickeyFullerOLS(y, dy []float64, lag, startLag int) (*olsMultiFit, error) {
	if startLag < lag {
		startLag = lag
	}
	rows := len(dy) - startLag
	cols := 2 + lag
	if rows <= cols {
		return nil, errSeriesTooShort
	}

	x := mat.NewDense(rows, cols, nil)
	resp := mat.NewVecDense(rows, nil)
	for j := 0; j < rows; j++ {
		t := startLag + j
		resp.SetVec(j, dy[t])
		x.Set(j, 0, 1)
		x.Set(j, 1, y[t]) // level lagged one period behind dy[t]
		for i := 1; i <= lag; i++ {
			x.Set(j, 2+i-1, dy[t-i])
		}
	}
	return solveOLS(x, resp)
}

func solveOLS(x *mat.Dense, y *mat.VecDense) (*olsMultiFit, error) {
	rows, cols := x.Dims()

	var xtx mat.Dense
	xtx.Mul(x.T(), x)
	var xtxInv mat.Dense
	if err := xtxInv.Inverse(&xtx); err != nil {
		return nil, errDegenerateRegression
	}
	var xty mat.VecDense
	xty.MulVec(x.T(), y)
	var beta mat.VecDense
	beta.MulVec(&xtxInv, &xty)

	var fitted mat.VecDense
	fitted.MulVec(x, &beta)
	ssr := 0.0
	for i := 0; i < rows; i++ {
		r := y.AtVec(i) - fitted.AtVec(i)
		ssr += r * r
	}

	sigma2 := ssr / float64(rows-cols)
	coeffs := make([]float64, cols)
	stderr := make([]float64, cols)
	for i := 0; i < cols; i++ {
		coeffs[i] = beta.AtVec(i)
		se := math.Sqrt(sigma2 * xtxInv.At(i, i))
		if se == 0 || math.IsNaN(se) {
			return nil, errDegenerateRegression
		}
		stderr[i] = se
	}
	return &olsMultiFit{coeffs: coeffs, stderr: stderr, ssr: ssr, nobs: rows, nparams: cols}, nil
}

func isConstant(values []float64) bool {
	for _, v := range values[1:] {
		if v != values[0] {
			return false
		}
	}
	return true
}

// MacKinnon (1994) approximation for the constant-only test's asymptotic
// p-value, and MacKinnon (2010) response-surface critical values.

var (
	tauSmallP = []float64{2.1659, 1.4412, 3.8269 * 1e-2}
	tauLargeP = []float64{1.7339, 9.3202 * 1e-1, -1.2745 * 1e-1, -1.0368 * 1e-2}

	crit1pc  = []float64{-3.43035, -6.5393, -16.786, -79.433}
	crit5pc  = []float64{-2.86154, -2.8903, -4.234, -40.040}
	crit10pc = []float64{-2.56677, -1.5384, -2.809, 0}
)

const (
	tauMax  = 2.74
	tauMin  = -18.83
	tauStar = -1.61
)

func mackinnonP(stat float64) float64 {
	if stat > tauMax {
		return 1
	}
	if stat < tauMin {
		return 0
	}
	coeffs := tauLargeP
	if stat <= tauStar {
		coeffs = tauSmallP
	}
	return normCDF(polyval(coeffs, stat))
}

func mackinnonCrit(coeffs []float64, nobs int) float64 {
	inv := 1 / float64(nobs)
	return polyval(coeffs, inv)
}

// polyval evaluates c0 + c1*x + c2*x^2 + ... (low order first).
func polyval(coeffs []float64, x float64) float64 {
	sum := 0.0
	for i := len(coeffs) - 1; i >= 0; i-- {
		sum = sum*x + coeffs[i]
	}
	return sum
}

func normCDF(x float64) float64 {
	return 0.5 * math.Erfc(-x/math.Sqrt2)
}
