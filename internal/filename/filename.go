// Package filename encodes the btcusd-YYYY-MM-DD.csv naming convention of daily source files.
package filename

import (
	"errors"
	"strings"
	"time"

	"BTCIngest/internal/domain"
)

const (
	prefix     = "btcusd-"
	suffix     = ".csv"
	dateLayout = "2006-01-02"
	nameLength = len(prefix) + len(dateLayout) + len(suffix)
)

var errShape = errors.New("expected btcusd-YYYY-MM-DD.csv")

// Validate reports whether name is exactly btcusd-YYYY-MM-DD.csv with a real calendar date.
func Validate(name string) bool {
	_, err := ExtractDate(name)
	return err == nil
}

// ExtractDate returns the file date at UTC midnight.
func ExtractDate(name string) (time.Time, error) {
	if len(name) != nameLength || !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, suffix) {
		return time.Time{}, &domain.MalformedNameError{Name: name, Err: errShape}
	}

	raw := name[len(prefix) : len(prefix)+len(dateLayout)]
	date, err := time.Parse(dateLayout, raw)
	if err != nil {
		return time.Time{}, &domain.MalformedNameError{Name: name, Err: err}
	}

	return date, nil
}

// Format builds the canonical file name for date.
func Format(date time.Time) string {
	return prefix + date.Format(dateLayout) + suffix
}
