// Package domain holds the candle, source file and unit-state types shared by the
// ingestion pipeline, plus its typed errors.
package domain

import "time"

// SourceFile is a discovered input file together with the date embedded in its name.
// Live marks files reported by the directory watcher, which may still be growing.
type SourceFile struct {
	Path string
	Date time.Time
	Live bool
}

// Candle is one canonical OHLCV row keyed by Timestamp.
// Nil values are stored as NULL.
type Candle struct {
	Timestamp     time.Time
	Open          *float64
	High          *float64
	Low           *float64
	Close         *float64
	VolumeBase    *float64
	VolumeQuote   *float64
	WeightedPrice *float64
}

// UnitState enumerates coordinator milestones of a single file.
type UnitState string

const (
	StateQueued    UnitState = "queued"
	StateRunning   UnitState = "running"
	StateSucceeded UnitState = "succeeded"
	StateFailed    UnitState = "failed"
)

// Terminal reports whether no further transition is possible.
func (s UnitState) Terminal() bool {
	return s == StateSucceeded || s == StateFailed
}

// Outcome is the terminal report of one processed file.
type Outcome struct {
	File     SourceFile
	State    UnitState
	Err      error
	Duration time.Duration
}
