package domain

import (
	"errors"
	"fmt"
)

// ErrIncompleteFile is returned for a watched file that has no data rows yet.
// It is left out of the ledger so the next catch-up scan retries it.
var ErrIncompleteFile = errors.New("file has no data rows yet")

// MalformedNameError reports a file name that does not follow btcusd-YYYY-MM-DD.csv.
type MalformedNameError struct {
	Name string
	Err  error
}

func (e *MalformedNameError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed file name %q: %v", e.Name, e.Err)
	}
	return fmt.Sprintf("malformed file name %q", e.Name)
}

func (e *MalformedNameError) Unwrap() error { return e.Err }

// SchemaError reports CSV content that cannot be mapped onto a Candle.
// Line is 1-based and zero when the problem is not tied to a data row.
type SchemaError struct {
	Reason string
	Line   int
}

func (e *SchemaError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("schema error at line %d: %s", e.Line, e.Reason)
	}
	return "schema error: " + e.Reason
}

// ConnectivityError reports an unreachable ledger.
type ConnectivityError struct {
	Op  string
	Err error
}

func (e *ConnectivityError) Error() string {
	return fmt.Sprintf("ledger %s: %v", e.Op, e.Err)
}

func (e *ConnectivityError) Unwrap() error { return e.Err }

// StorageError reports a failed schema or bulk write operation.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// IngestError is the per-file failure raised at the file processor boundary.
type IngestError struct {
	Path string
	Err  error
}

func (e *IngestError) Error() string {
	return fmt.Sprintf("ingest %s: %v", e.Path, e.Err)
}

func (e *IngestError) Unwrap() error { return e.Err }
