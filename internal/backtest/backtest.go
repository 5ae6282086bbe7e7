package backtest

import (
	"context"
	"time"

	"quantstream/internal/analytics"
	marketdata "quantstream/internal/domain/entity/marketdata"

	"github.com/sirupsen/logrus"
)

const (
	entryZScore = 2.0
	exitZScore  = 0.0
	// window matches the spread statistics window of the pair analytics.
	window = 20
	// tradesSample caps how many completed trades the report carries.
	tradesSample = 10
)

// Trade is one completed round trip of the spread strategy.
type Trade struct {
	EntrySpread float64    `json:"entry"`
	EntryTime   time.Time  `json:"entry_time"`
	ExitSpread  float64    `json:"exit,omitempty"`
	ExitTime    *time.Time `json:"exit_time,omitempty"`
	PnL         float64    `json:"pnl"`
	Closed      bool       `json:"closed"`
}

// Report aggregates a backtest run. Trades still open when the series ends
// are excluded from the aggregate statistics.
type Report struct {
	TotalTrades  int                         `json:"total_trades"`
	TotalPnL     float64                     `json:"total_pnl"`
	WinRate      float64                     `json:"win_rate"`
	AvgPnL       float64                     `json:"avg_pnl_per_trade"`
	Trades       []Trade                     `json:"trades"`
	Err          string                      `json:"error,omitempty"`
	Insufficient *analytics.InsufficientData `json:"insufficient_data,omitempty"`
}

// Point is one step of the replayed spread series.
type Point struct {
	Time   time.Time
	Spread float64
	ZScore float64
}

// Simulator replays historical pair spreads through the mean-reversion
// rule. It runs off the hot path against the same analytics primitives the
// pair endpoint uses.
type Simulator struct {
	engine *analytics.Engine
	logger *logrus.Entry
}

func NewSimulator(engine *analytics.Engine, logger *logrus.Logger) *Simulator {
	return &Simulator{
		engine: engine,
		logger: logger.WithField("component", "backtest"),
	}
}

// RunMeanReversion builds the pair's spread/z-score history and replays
// it. Pair computation failures come back in the report, never as faults.
func (s *Simulator) RunMeanReversion(ctx context.Context, symbol1, symbol2 string, timeframe marketdata.Timeframe) *Report {
	history, insufficient, err := s.engine.SpreadSeries(ctx, symbol1, symbol2, timeframe, window)
	if err != nil {
		return &Report{Err: err.Error()}
	}
	if insufficient != nil {
		return &Report{Insufficient: insufficient}
	}

	points := make([]Point, len(history))
	for i, p := range history {
		points[i] = Point{Time: p.Time, Spread: p.Spread, ZScore: p.ZScore}
	}
	report := Replay(points)
	s.logger.WithFields(logrus.Fields{
		"pair":   symbol1 + "/" + symbol2,
		"trades": report.TotalTrades,
	}).Debug("backtest finished")
	return report
}

// Replay walks the series in order through a two-state machine: flat until
// z-score exceeds the entry threshold, then in-position until z-score
// drops below the exit threshold.
//
// PnL is entry − exit: the position is economically short the spread, so
// profit accrues as the spread falls back toward its mean.
func Replay(points []Point) *Report {
	var (
		trades     []Trade
		inPosition bool
	)
	for _, point := range points {
		if !inPosition && point.ZScore > entryZScore {
			inPosition = true
			trades = append(trades, Trade{EntrySpread: point.Spread, EntryTime: point.Time})
			continue
		}
		if inPosition && point.ZScore < exitZScore {
			inPosition = false
			open := &trades[len(trades)-1]
			exitTime := point.Time
			open.ExitSpread = point.Spread
			open.ExitTime = &exitTime
			open.PnL = open.EntrySpread - point.Spread
			open.Closed = true
		}
	}

	report := &Report{}
	var wins int
	for _, trade := range trades {
		if !trade.Closed {
			continue
		}
		report.TotalTrades++
		report.TotalPnL += trade.PnL
		if trade.PnL > 0 {
			wins++
		}
		if len(report.Trades) < tradesSample {
			report.Trades = append(report.Trades, trade)
		}
	}
	if report.TotalTrades > 0 {
		report.WinRate = float64(wins) / float64(report.TotalTrades)
		report.AvgPnL = report.TotalPnL / float64(report.TotalTrades)
	}
	return report
}
