package storage

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	domain "quantstream/internal/domain/entity/marketdata"
)

// ErrBadCSVHeader rejects files before any row is written.
var ErrBadCSVHeader = fmt.Errorf("csv header must be exactly: %s", strings.Join(csvColumns, ","))

var csvColumns = []string{"timestamp", "symbol", "open", "high", "low", "close", "volume"}

// ParseBarCSV reads an OHLC CSV export into bars tagged with the default
// 1m timeframe. The header is validated up front so a malformed file never
// results in a partial import. Timestamps are RFC3339 or unix milliseconds.
func ParseBarCSV(r io.Reader) ([]domain.Bar, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	if len(header) != len(csvColumns) {
		return nil, ErrBadCSVHeader
	}
	for i, col := range csvColumns {
		if strings.ToLower(strings.TrimSpace(header[i])) != col {
			return nil, ErrBadCSVHeader
		}
	}

	var bars []domain.Bar
	line := 1
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv line %d: %w", line+1, err)
		}
		line++

		ts, err := parseCSVTime(record[0])
		if err != nil {
			return nil, fmt.Errorf("csv line %d: %w", line, err)
		}
		values := make([]float64, 5)
		for i := 0; i < 5; i++ {
			values[i], err = strconv.ParseFloat(strings.TrimSpace(record[2+i]), 64)
			if err != nil {
				return nil, fmt.Errorf("csv line %d column %s: %w", line, csvColumns[2+i], err)
			}
		}
		bars = append(bars, domain.Bar{
			BucketStart: ts,
			Symbol:      strings.ToUpper(strings.TrimSpace(record[1])),
			Timeframe:   domain.Timeframe1m,
			Open:        values[0],
			High:        values[1],
			Low:         values[2],
			Close:       values[3],
			Volume:      values[4],
		})
	}
	return bars, nil
}

func parseCSVTime(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC(), nil
	}
	ts, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", raw, err)
	}
	return ts.UTC(), nil
}
