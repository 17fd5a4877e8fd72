package transform

import (
	"errors"
	"testing"
	"time"

	"BTCIngest/internal/domain"
)

var fileDate = time.Date(2023, time.October, 1, 0, 0, 0, 0, time.UTC)

func fullRecord() Record {
	return Record{
		"Time":              "12:00:00",
		"Open":              "50000",
		"High":              "51000",
		"Low":               "49000",
		"Close":             "50500",
		"Volume_(BTC)":      "100",
		"Volume_(Currency)": "5000000",
		"Weighted_Price":    "50250",
	}
}

func TestTransformFullRecord(t *testing.T) {
	t.Parallel()

	candle, ok, err := Transform(fileDate, fullRecord())
	if err != nil {
		t.Fatalf("Transform returned error: %v", err)
	}
	if !ok {
		t.Fatalf("expected row to be kept")
	}

	want := time.Date(2023, time.October, 1, 12, 0, 0, 0, time.UTC)
	if !candle.Timestamp.Equal(want) {
		t.Fatalf("unexpected timestamp: %v", candle.Timestamp)
	}
	if *candle.Open != 50000 || *candle.Close != 50500 || *candle.WeightedPrice != 50250 {
		t.Fatalf("unexpected prices: %v %v %v", *candle.Open, *candle.Close, *candle.WeightedPrice)
	}
	if *candle.VolumeBase != 100 || *candle.VolumeQuote != 5000000 {
		t.Fatalf("unexpected volumes: %v %v", *candle.VolumeBase, *candle.VolumeQuote)
	}
}

func TestTransformDropsEmptyRow(t *testing.T) {
	t.Parallel()

	rec := Record{"Time": "00:01:00", "Open": "", "High": "NaN", "Weighted_Price": " "}
	_, ok, err := Transform(fileDate, rec)
	if err != nil {
		t.Fatalf("Transform returned error: %v", err)
	}
	if ok {
		t.Fatalf("expected empty row to be dropped")
	}
}

func TestTransformPartialRow(t *testing.T) {
	t.Parallel()

	rec := Record{"Time": "23:59:59", "Close": "42.5"}
	candle, ok, err := Transform(fileDate, rec)
	if err != nil || !ok {
		t.Fatalf("expected kept row, got ok=%v err=%v", ok, err)
	}
	if candle.Open != nil || candle.VolumeBase != nil {
		t.Fatalf("missing fields must be nil")
	}
	if *candle.Close != 42.5 {
		t.Fatalf("unexpected close: %v", *candle.Close)
	}
	if candle.Timestamp.Hour() != 23 || candle.Timestamp.Second() != 59 {
		t.Fatalf("unexpected timestamp: %v", candle.Timestamp)
	}
}

func TestTransformMissingTime(t *testing.T) {
	t.Parallel()

	records := []Record{
		{"Open": "1"},
		{},
		{"Time": "", "Close": "2"},
	}
	for _, rec := range records {
		_, _, err := Transform(fileDate, rec)
		var schemaErr *domain.SchemaError
		if !errors.As(err, &schemaErr) {
			t.Fatalf("expected SchemaError for %v, got %v", rec, err)
		}
		if schemaErr.Reason != "missing time field" {
			t.Fatalf("unexpected reason: %s", schemaErr.Reason)
		}
	}
}

func TestTransformBadTime(t *testing.T) {
	t.Parallel()

	for _, clock := range []string{"12:00", "1:00:00", "25:00:00", "12:60:00", "noon"} {
		rec := fullRecord()
		rec["Time"] = clock
		_, _, err := Transform(fileDate, rec)
		var schemaErr *domain.SchemaError
		if !errors.As(err, &schemaErr) {
			t.Fatalf("expected SchemaError for %q, got %v", clock, err)
		}
	}
}

func TestTransformBadNumber(t *testing.T) {
	t.Parallel()

	rec := fullRecord()
	rec["High"] = "abc"
	_, _, err := Transform(fileDate, rec)
	var schemaErr *domain.SchemaError
	if !errors.As(err, &schemaErr) {
		t.Fatalf("expected SchemaError, got %v", err)
	}
}

func TestCheckHeader(t *testing.T) {
	t.Parallel()

	if err := CheckHeader([]string{"Time", "Open"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var schemaErr *domain.SchemaError
	if err := CheckHeader([]string{"Open", "Close"}); !errors.As(err, &schemaErr) {
		t.Fatalf("expected SchemaError, got %v", err)
	}
}
