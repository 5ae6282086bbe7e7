package analytics

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	marketdata "quantstream/internal/domain/entity/marketdata"
	interfaces "quantstream/internal/domain/interfaces"

	"github.com/sirupsen/logrus"
)

const (
	// historyLimit caps how much history a single computation loads.
	historyLimit = 1000
	// seriesTail is how many trailing pair points are returned for charts.
	seriesTail = 100
	// annualization keeps the original √252 trading-days constant for every
	// timeframe. A timeframe-derived periods-per-year factor would be more
	// consistent; preserved as-is for output compatibility.
	annualization = 252
	rsiPeriod     = 14
)

// InsufficientData reports a window requirement that the available history
// does not meet. It is a structured result, not an error.
type InsufficientData struct {
	Required  int `json:"required"`
	Available int `json:"available"`
}

// PriceStats summarizes the close series.
type PriceStats struct {
	Current       float64 `json:"current"`
	ChangePercent float64 `json:"change_percent"`
	High          float64 `json:"high"`
	Low           float64 `json:"low"`
	Avg           float64 `json:"avg"`
}

// Statistics carries the rolling estimators of a single-symbol snapshot.
type Statistics struct {
	Volatility   float64 `json:"volatility"`
	ZScore       float64 `json:"zscore"`
	RSI          float64 `json:"rsi"`
	SharpeApprox float64 `json:"sharpe_approx"`
}

// VolumeStats relates the latest volume to the window average.
type VolumeStats struct {
	Current float64 `json:"current"`
	Average float64 `json:"average"`
	Ratio   float64 `json:"ratio"`
}

// Snapshot is a point-in-time single-symbol computation. It is derived on
// demand and never cached. Callers must check Insufficient and Err before
// reading numeric fields.
type Snapshot struct {
	Symbol       string            `json:"symbol"`
	Timestamp    time.Time         `json:"timestamp"`
	Price        PriceStats        `json:"price"`
	Statistics   Statistics        `json:"statistics"`
	Volume       VolumeStats       `json:"volume"`
	Stationarity ADFResult         `json:"stationarity"`
	DataPoints   int               `json:"data_points"`
	Insufficient *InsufficientData `json:"insufficient_data,omitempty"`
	Err          string            `json:"error,omitempty"`
}

// HedgeRatio carries both regression estimates for a pair.
type HedgeRatio struct {
	OLS       float64 `json:"ols"`
	Robust    float64 `json:"robust"`
	Intercept float64 `json:"intercept"`
}

// SpreadStats summarizes spread = price1 − hedge·price2.
type SpreadStats struct {
	Current float64 `json:"current"`
	Mean    float64 `json:"mean"`
	Std     float64 `json:"std"`
	ZScore  float64 `json:"zscore"`
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
}

// Correlation carries full-sample and rolling-window Pearson coefficients.
type Correlation struct {
	Pearson float64 `json:"pearson"`
	Rolling float64 `json:"rolling"`
}

// PairPoint is one charting sample of the spread series.
type PairPoint struct {
	Time   time.Time `json:"timestamp"`
	Spread float64   `json:"spread"`
	ZScore float64   `json:"zscore"`
}

// PairSnapshot is the derived pair computation joining two symbols on
// exact timestamps.
type PairSnapshot struct {
	Symbols      [2]string         `json:"symbols"`
	HedgeRatio   HedgeRatio        `json:"hedge_ratio"`
	Spread       SpreadStats       `json:"spread"`
	Correlation  Correlation       `json:"correlation"`
	Stationarity ADFResult         `json:"stationarity"`
	DataPoints   int               `json:"data_points"`
	Series       []PairPoint       `json:"series"`
	Insufficient *InsufficientData `json:"insufficient_data,omitempty"`
	Err          string            `json:"error,omitempty"`
}

// Engine computes analytics over store windows. It holds no mutable state
// beyond the store handle, so calls are re-entrant and safe to run
// concurrently with ingestion.
type Engine struct {
	store  interfaces.MarketDataStore
	logger *logrus.Entry
}

func NewEngine(store interfaces.MarketDataStore, logger *logrus.Logger) *Engine {
	return &Engine{
		store:  store,
		logger: logger.WithField("component", "analytics"),
	}
}

// ComputeSingle derives the single-symbol snapshot over the trailing
// window. Fewer than `window` data points yield an insufficient-data
// snapshot; internal numeric failures surface through the Err field.
func (e *Engine) ComputeSingle(ctx context.Context, symbol string, timeframe marketdata.Timeframe, window int) *Snapshot {
	snapshot := &Snapshot{Symbol: symbol}
	if window < 2 {
		snapshot.Err = fmt.Sprintf("window must be at least 2, got %d", window)
		return snapshot
	}

	series, err := e.loadSeries(ctx, symbol, timeframe)
	if err != nil {
		e.logger.WithError(err).WithField("symbol", symbol).Error("load series")
		snapshot.Err = err.Error()
		return snapshot
	}
	if len(series.closes) < window {
		snapshot.Insufficient = &InsufficientData{Required: window, Available: len(series.closes)}
		return snapshot
	}

	closes := series.closes
	current := closes[len(closes)-1]
	first := closes[0]
	changePercent := 0.0
	if first != 0 {
		changePercent = (current - first) / first * 100
	}

	returns := simpleReturns(closes)
	returnStd := stdDev(returns)
	sharpe := 0.0
	if returnStd > 0 {
		sharpe = mean(returns) / returnStd
	}

	avgVolume := mean(series.volumes)
	currentVolume := series.volumes[len(series.volumes)-1]
	volumeRatio := 1.0
	if avgVolume > 0 {
		volumeRatio = currentVolume / avgVolume
	}

	snapshot.Timestamp = series.times[len(series.times)-1]
	snapshot.Price = PriceStats{
		Current:       current,
		ChangePercent: changePercent,
		High:          maxOf(closes),
		Low:           minOf(closes),
		Avg:           mean(closes),
	}
	snapshot.Statistics = Statistics{
		Volatility:   returnStd * math.Sqrt(annualization),
		ZScore:       zScore(closes, window),
		RSI:          rsi(closes, rsiPeriod),
		SharpeApprox: sharpe,
	}
	snapshot.Volume = VolumeStats{
		Current: currentVolume,
		Average: avgVolume,
		Ratio:   volumeRatio,
	}
	snapshot.Stationarity = adfTest(closes)
	snapshot.DataPoints = len(closes)
	return snapshot
}

// ComputePair joins two close series on exact timestamps and derives the
// hedge ratio, spread statistics, correlations, and spread stationarity
// (the cointegration proxy). Rows missing from either side are dropped.
func (e *Engine) ComputePair(ctx context.Context, symbol1, symbol2 string, timeframe marketdata.Timeframe, window int) *PairSnapshot {
	snapshot := &PairSnapshot{Symbols: [2]string{symbol1, symbol2}}
	if window < 2 {
		snapshot.Err = fmt.Sprintf("window must be at least 2, got %d", window)
		return snapshot
	}

	series1, err := e.loadSeries(ctx, symbol1, timeframe)
	if err != nil {
		snapshot.Err = err.Error()
		return snapshot
	}
	series2, err := e.loadSeries(ctx, symbol2, timeframe)
	if err != nil {
		snapshot.Err = err.Error()
		return snapshot
	}

	times, price1, price2 := innerJoin(series1, series2)
	if len(times) < window {
		snapshot.Insufficient = &InsufficientData{Required: window, Available: len(times)}
		return snapshot
	}

	intercept, hedge, err := olsFit(price2, price1)
	if err != nil {
		snapshot.Err = err.Error()
		return snapshot
	}
	_, robust, err := huberFit(price2, price1)
	if err != nil {
		// Robust fit failing on data OLS handled is rare; fall back rather
		// than discarding the whole snapshot.
		robust = hedge
	}

	spread := make([]float64, len(times))
	for i := range times {
		spread[i] = price1[i] - hedge*price2[i]
	}
	spreadMeans, spreadStds := rollingMeanStd(spread, window)
	spreadZ := rollingZScores(spread, window)

	lastStd := lastValid(spreadStds)
	if math.IsNaN(lastStd) {
		lastStd = 0
	}

	snapshot.HedgeRatio = HedgeRatio{OLS: hedge, Robust: robust, Intercept: intercept}
	snapshot.Spread = SpreadStats{
		Current: spread[len(spread)-1],
		Mean:    lastValid(spreadMeans),
		Std:     lastStd,
		ZScore:  spreadZ[len(spreadZ)-1],
		Min:     minOf(spread),
		Max:     maxOf(spread),
	}
	snapshot.Correlation = Correlation{
		Pearson: pearson(price1, price2),
		Rolling: pearson(price1[len(price1)-window:], price2[len(price2)-window:]),
	}
	snapshot.Stationarity = adfTest(spread)
	snapshot.DataPoints = len(times)

	tail := len(times) - seriesTail
	if tail < 0 {
		tail = 0
	}
	for i := tail; i < len(times); i++ {
		snapshot.Series = append(snapshot.Series, PairPoint{Time: times[i], Spread: spread[i], ZScore: spreadZ[i]})
	}
	return snapshot
}

// SpreadSeries returns the full joined spread/z-score history for a pair,
// fitted with the OLS hedge ratio. The backtest replays this series;
// ComputePair returns only the chart tail.
func (e *Engine) SpreadSeries(ctx context.Context, symbol1, symbol2 string, timeframe marketdata.Timeframe, window int) ([]PairPoint, *InsufficientData, error) {
	series1, err := e.loadSeries(ctx, symbol1, timeframe)
	if err != nil {
		return nil, nil, err
	}
	series2, err := e.loadSeries(ctx, symbol2, timeframe)
	if err != nil {
		return nil, nil, err
	}

	times, price1, price2 := innerJoin(series1, series2)
	if len(times) < window {
		return nil, &InsufficientData{Required: window, Available: len(times)}, nil
	}

	_, hedge, err := olsFit(price2, price1)
	if err != nil {
		return nil, nil, err
	}

	spread := make([]float64, len(times))
	for i := range times {
		spread[i] = price1[i] - hedge*price2[i]
	}
	z := rollingZScores(spread, window)

	points := make([]PairPoint, len(times))
	for i := range times {
		points[i] = PairPoint{Time: times[i], Spread: spread[i], ZScore: z[i]}
	}
	return points, nil, nil
}

// series is one symbol's chronological close/volume history.
type series struct {
	times   []time.Time
	closes  []float64
	volumes []float64
}

// loadSeries reads up to historyLimit bars for the timeframe, or raw ticks
// when timeframe is "tick" (price as close, quantity as volume). The store
// returns newest first; analytics work in chronological order.
func (e *Engine) loadSeries(ctx context.Context, symbol string, timeframe marketdata.Timeframe) (*series, error) {
	if timeframe == marketdata.TimeframeTick {
		ticks, err := e.store.LastTicks(ctx, symbol, historyLimit)
		if err != nil {
			return nil, fmt.Errorf("load ticks for %s: %w", symbol, err)
		}
		s := &series{}
		for i := len(ticks) - 1; i >= 0; i-- {
			s.times = append(s.times, ticks[i].Time)
			s.closes = append(s.closes, ticks[i].Price)
			s.volumes = append(s.volumes, ticks[i].Quantity)
		}
		return s, nil
	}

	bars, err := e.store.LastBars(ctx, symbol, timeframe, historyLimit)
	if err != nil {
		return nil, fmt.Errorf("load bars for %s: %w", symbol, err)
	}
	sort.Slice(bars, func(i, j int) bool { return bars[i].BucketStart.Before(bars[j].BucketStart) })
	s := &series{}
	for i := range bars {
		s.times = append(s.times, bars[i].BucketStart)
		s.closes = append(s.closes, bars[i].Close)
		s.volumes = append(s.volumes, bars[i].Volume)
	}
	return s, nil
}

// innerJoin aligns two series on exact timestamps, preserving the first
// series' chronological order. The joined length never exceeds the shorter
// input.
func innerJoin(a, b *series) (times []time.Time, closesA, closesB []float64) {
	byTime := make(map[int64]int, len(b.times))
	for i, t := range b.times {
		byTime[t.UnixNano()] = i
	}
	for i, t := range a.times {
		j, ok := byTime[t.UnixNano()]
		if !ok {
			continue
		}
		times = append(times, t)
		closesA = append(closesA, a.closes[i])
		closesB = append(closesB, b.closes[j])
	}
	return times, closesA, closesB
}

func pearson(x, y []float64) float64 {
	if len(x) != len(y) || len(x) < 2 {
		return 0
	}
	r := correlation(x, y)
	if math.IsNaN(r) {
		return 0
	}
	return r
}

func maxOf(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	max := values[0]
	for _, v := range values[1:] {
		if v > max {
			max = v
		}
	}
	return max
}

func minOf(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	min := values[0]
	for _, v := range values[1:] {
		if v < min {
			min = v
		}
	}
	return min
}
