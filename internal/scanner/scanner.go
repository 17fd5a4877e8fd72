package scanner

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"BTCIngest/internal/domain"
	"BTCIngest/internal/filename"
	"BTCIngest/internal/ports"
)

// Scanner lists the daily files already present in a data directory.
type Scanner struct {
	dir    string
	logger *slog.Logger
}

var _ ports.CandidateSource = (*Scanner)(nil)

// New builds a scanner rooted at dir.
func New(dir string, log *slog.Logger) *Scanner {
	return &Scanner{dir: filepath.Clean(dir), logger: log}
}

// Dir returns the cleaned directory path that prefixes every candidate.
func (s *Scanner) Dir() string {
	return s.dir
}

// ListCandidates returns valid source files ordered by file date, ties broken by name.
// Entries that do not follow the naming convention are skipped silently.
func (s *Scanner) ListCandidates(ctx context.Context) ([]domain.SourceFile, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read directory %s: %w", s.dir, err)
	}

	files := make([]domain.SourceFile, 0, len(entries))
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if entry.IsDir() {
			continue
		}

		date, err := filename.ExtractDate(entry.Name())
		if err != nil {
			continue
		}
		files = append(files, domain.SourceFile{
			Path: filepath.Join(s.dir, entry.Name()),
			Date: date,
		})
	}

	sort.SliceStable(files, func(i, j int) bool {
		if !files[i].Date.Equal(files[j].Date) {
			return files[i].Date.Before(files[j].Date)
		}
		return files[i].Path < files[j].Path
	})

	s.debug("directory scanned", "dir", s.dir, "entries", len(entries), "candidates", len(files))
	return files, nil
}

func (s *Scanner) debug(msg string, args ...interface{}) {
	if s.logger != nil {
		s.logger.Debug(msg, args...)
	}
}
