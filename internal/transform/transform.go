// Package transform maps raw CSV records of the daily BTC/USD files onto canonical candles.
package transform

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"BTCIngest/internal/domain"
)

// Record is one CSV row keyed by header name.
type Record map[string]string

// TimeField is the only required column.
const TimeField = "Time"

// TimestampColumn is the storage column holding the merged file date and time of day.
const TimestampColumn = "date_time"

// Column binds a CSV header to its storage column.
type Column struct {
	Source string
	Target string
}

// Columns is the fixed source-to-storage mapping of the value fields, in storage order.
var Columns = []Column{
	{Source: "Open", Target: "open_price"},
	{Source: "High", Target: "high_price"},
	{Source: "Low", Target: "low_price"},
	{Source: "Close", Target: "close_price"},
	{Source: "Volume_(BTC)", Target: "volume_btc"},
	{Source: "Volume_(Currency)", Target: "volume_currency"},
	{Source: "Weighted_Price", Target: "weighted_price"},
}

var clockExpr = regexp.MustCompile(`^\d{2}:\d{2}:\d{2}$`)

// CheckHeader fails when the file cannot provide a time of day for its rows.
func CheckHeader(header []string) error {
	for _, h := range header {
		if strings.TrimSpace(h) == TimeField {
			return nil
		}
	}
	return &domain.SchemaError{Reason: "missing time field"}
}

// Transform converts rec into a Candle stamped on fileDate.
// The boolean is false when every value field is empty and the row should be dropped.
func Transform(fileDate time.Time, rec Record) (domain.Candle, bool, error) {
	clock, ok := rec[TimeField]
	clock = strings.TrimSpace(clock)
	if !ok || clock == "" {
		return domain.Candle{}, false, &domain.SchemaError{Reason: "missing time field"}
	}

	values := make([]*float64, len(Columns))
	populated := false
	for i, col := range Columns {
		v, err := parseValue(rec[col.Source])
		if err != nil {
			return domain.Candle{}, false, &domain.SchemaError{Reason: fmt.Sprintf("column %s: %v", col.Source, err)}
		}
		if v != nil {
			populated = true
		}
		values[i] = v
	}

	if !populated {
		return domain.Candle{}, false, nil
	}

	ts, err := merge(fileDate, clock)
	if err != nil {
		return domain.Candle{}, false, err
	}

	return domain.Candle{
		Timestamp:     ts,
		Open:          values[0],
		High:          values[1],
		Low:           values[2],
		Close:         values[3],
		VolumeBase:    values[4],
		VolumeQuote:   values[5],
		WeightedPrice: values[6],
	}, true, nil
}

// Values returns the candle's value fields in Columns order.
func Values(c domain.Candle) []*float64 {
	return []*float64{c.Open, c.High, c.Low, c.Close, c.VolumeBase, c.VolumeQuote, c.WeightedPrice}
}

func merge(fileDate time.Time, clock string) (time.Time, error) {
	if !clockExpr.MatchString(clock) {
		return time.Time{}, &domain.SchemaError{Reason: fmt.Sprintf("time %q is not HH:MM:SS", clock)}
	}

	tod, err := time.Parse("15:04:05", clock)
	if err != nil {
		return time.Time{}, &domain.SchemaError{Reason: fmt.Sprintf("time %q: %v", clock, err)}
	}

	y, m, d := fileDate.Date()
	return time.Date(y, m, d, tod.Hour(), tod.Minute(), tod.Second(), 0, time.UTC), nil
}

// parseValue treats blanks and NaN markers as missing.
func parseValue(raw string) (*float64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.EqualFold(raw, "nan") {
		return nil, nil
	}

	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, fmt.Errorf("not a number: %q", raw)
	}
	return &v, nil
}
