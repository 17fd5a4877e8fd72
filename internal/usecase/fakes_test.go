package usecase

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"BTCIngest/internal/domain"
	"BTCIngest/internal/ports"
)

var quietLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// memLedger is an in-process processed-files set.
type memLedger struct {
	mu       sync.Mutex
	set      map[string]bool
	down     bool
	sessions atomic.Int64
	open     atomic.Int64
	marks    atomic.Int64
}

func newMemLedger() *memLedger {
	return &memLedger{set: map[string]bool{}}
}

func (l *memLedger) Session() ports.LedgerSession {
	l.sessions.Add(1)
	l.open.Add(1)
	return &memSession{ledger: l}
}

func (l *memLedger) has(path string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.set[path]
}

func (l *memLedger) setDown(down bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.down = down
}

type memSession struct {
	ledger *memLedger
	closed bool
}

func (s *memSession) IsProcessed(_ context.Context, path string) bool {
	s.ledger.mu.Lock()
	defer s.ledger.mu.Unlock()
	if s.ledger.down {
		return false
	}
	return s.ledger.set[path]
}

func (s *memSession) MarkProcessed(_ context.Context, path string) {
	s.ledger.mu.Lock()
	defer s.ledger.mu.Unlock()
	if s.ledger.down {
		return
	}
	s.ledger.marks.Add(1)
	s.ledger.set[path] = true
}

func (s *memSession) Close() error {
	if !s.closed {
		s.closed = true
		s.ledger.open.Add(-1)
	}
	return nil
}

// memRepo stores candles keyed by timestamp and ignores conflicts.
type memRepo struct {
	mu     sync.Mutex
	rows   map[int64]domain.Candle
	writes int
	failOn map[int64]bool
}

func newMemRepo() *memRepo {
	return &memRepo{rows: map[int64]domain.Candle{}, failOn: map[int64]bool{}}
}

func (r *memRepo) EnsureSchema(context.Context) error { return nil }

func (r *memRepo) InsertCandles(_ context.Context, candles []domain.Candle) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, c := range candles {
		if r.failOn[c.Timestamp.Unix()] {
			return 0, &domain.StorageError{Op: "insert", Err: errors.New("disk full")}
		}
	}

	r.writes++
	var n int64
	for _, c := range candles {
		if _, ok := r.rows[c.Timestamp.Unix()]; ok {
			continue
		}
		r.rows[c.Timestamp.Unix()] = c
		n++
	}
	return n, nil
}

func (r *memRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rows)
}

func (r *memRepo) writeCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.writes
}

func (r *memRepo) get(ts time.Time) (domain.Candle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.rows[ts.Unix()]
	return c, ok
}

// staticSource serves a fixed candidate list.
type staticSource []domain.SourceFile

func (s staticSource) ListCandidates(context.Context) ([]domain.SourceFile, error) {
	return s, nil
}

const csvHeader = "Time,Open,High,Low,Close,Volume_(BTC),Volume_(Currency),Weighted_Price"

func writeCSV(t *testing.T, dir, name string, rows ...string) domain.SourceFile {
	t.Helper()

	path := filepath.Join(dir, name)
	content := csvHeader + "\n" + strings.Join(rows, "\n") + "\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}

	date, err := time.Parse("2006-01-02", name[7:17])
	if err != nil {
		t.Fatalf("bad test file name %s: %v", name, err)
	}
	return domain.SourceFile{Path: path, Date: date}
}
