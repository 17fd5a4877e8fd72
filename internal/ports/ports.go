package ports

import (
	"context"

	"BTCIngest/internal/domain"
)

// CandleRepository persists canonical rows into the time-series store.
type CandleRepository interface {
	EnsureSchema(ctx context.Context) error
	InsertCandles(ctx context.Context, candles []domain.Candle) (int64, error)
}

// LedgerSession is one execution context's view of the processed-files set.
// IsProcessed fails open and MarkProcessed swallows connectivity errors.
type LedgerSession interface {
	IsProcessed(ctx context.Context, path string) bool
	MarkProcessed(ctx context.Context, path string)
	Close() error
}

// LedgerFactory hands out per-context ledger sessions.
type LedgerFactory interface {
	Session() LedgerSession
}

// CandidateSource lists files awaiting catch-up processing in chronological order.
type CandidateSource interface {
	ListCandidates(ctx context.Context) ([]domain.SourceFile, error)
}

// FileWatcher delivers newly created file paths until stopped.
type FileWatcher interface {
	Start(ctx context.Context, onCreate func(path string)) error
	Stop(ctx context.Context) error
}
