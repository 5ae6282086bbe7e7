package analytics

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"time"

	marketdata "quantstream/internal/domain/entity/marketdata"
)

const exportWindow = 20

var exportHeader = []string{
	"timestamp", "symbol", "open", "high", "low", "close", "volume",
	"returns", "sma_20", "std_20", "zscore",
}

// ExportRows renders a symbol's bar history as CSV records with derived
// columns appended: simple returns plus rolling mean, deviation and z-score
// over a 20 bar window. Rows come out in chronological order, header first.
func (e *Engine) ExportRows(ctx context.Context, symbol string, timeframe marketdata.Timeframe, limit int) ([][]string, error) {
	bars, err := e.store.LastBars(ctx, symbol, timeframe, limit)
	if err != nil {
		return nil, fmt.Errorf("export bars for %s: %w", symbol, err)
	}
	sort.Slice(bars, func(i, j int) bool { return bars[i].BucketStart.Before(bars[j].BucketStart) })

	closes := make([]float64, len(bars))
	for i := range bars {
		closes[i] = bars[i].Close
	}
	returns := simpleReturns(closes)
	means, stds := rollingMeanStd(closes, exportWindow)
	z := rollingZScores(closes, exportWindow)

	rows := make([][]string, 0, len(bars)+1)
	rows = append(rows, exportHeader)
	for i, bar := range bars {
		ret := math.NaN()
		if i > 0 {
			ret = returns[i-1]
		}
		rows = append(rows, []string{
			bar.BucketStart.UTC().Format(time.RFC3339),
			bar.Symbol,
			formatFloat(bar.Open),
			formatFloat(bar.High),
			formatFloat(bar.Low),
			formatFloat(bar.Close),
			formatFloat(bar.Volume),
			formatFloat(ret),
			formatFloat(means[i]),
			formatFloat(stds[i]),
			formatFloat(z[i]),
		})
	}
	return rows, nil
}

// formatFloat keeps NaN cells empty so spreadsheets parse the file cleanly.
func formatFloat(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return ""
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}
