package usecase

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"BTCIngest/internal/domain"
	"BTCIngest/internal/filename"
	"BTCIngest/internal/metrics"
	"BTCIngest/internal/ports"
	"BTCIngest/internal/transform"
)

// Processor ingests one source file: read, transform, bulk-load, then mark in the ledger.
type Processor struct {
	repository ports.CandleRepository
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// NewProcessor wires the storage port used for bulk writes.
func NewProcessor(repo ports.CandleRepository, log *slog.Logger, m *metrics.Metrics) *Processor {
	if log == nil {
		log = slog.Default()
	}
	return &Processor{repository: repo, logger: log, metrics: m}
}

// Process loads file and marks it processed on success. Every failure is logged and
// returned as *domain.IngestError; in that case the ledger is left untouched.
func (p *Processor) Process(ctx context.Context, ledger ports.LedgerSession, file domain.SourceFile) error {
	started := time.Now()
	p.logger.Info("processing file", "path", file.Path)

	loaded, dropped, err := p.load(ctx, file)
	elapsed := time.Since(started)
	if err != nil {
		ingestErr := &domain.IngestError{Path: file.Path, Err: err}
		p.metrics.FileDone(metrics.OutcomeFailed, elapsed.Seconds())
		p.logger.Error("file processing failed", "path", file.Path, "error", err, "duration", elapsed)
		return ingestErr
	}

	ledger.MarkProcessed(ctx, file.Path)

	p.metrics.Rows(loaded, dropped)
	p.metrics.FileDone(metrics.OutcomeSucceeded, elapsed.Seconds())
	p.logger.Info("file processed", "path", file.Path, "rows", loaded, "dropped", dropped, "duration", elapsed)
	return nil
}

func (p *Processor) load(ctx context.Context, file domain.SourceFile) (int, int, error) {
	path := file.Path
	fileDate, err := filename.ExtractDate(filepath.Base(path))
	if err != nil {
		return 0, 0, err
	}

	candles, dropped, err := readCandles(path, fileDate)
	if err != nil {
		return 0, 0, err
	}
	if len(candles) == 0 {
		if file.Live {
			return 0, 0, domain.ErrIncompleteFile
		}
		return 0, dropped, nil
	}

	if p.repository == nil {
		return 0, 0, &domain.StorageError{Op: "insert", Err: errors.New("repository is not configured")}
	}

	affected, err := p.repository.InsertCandles(ctx, candles)
	if err != nil {
		return 0, 0, err
	}
	p.logger.Debug("batch written", "path", path, "candles", len(candles), "affected", affected)

	return len(candles), dropped, nil
}

// readCandles parses the whole file; the first bad row fails the file.
// Rows repeating a timestamp collapse onto the last occurrence.
func readCandles(path string, fileDate time.Time) ([]domain.Candle, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("open file: %w", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, 0, &domain.SchemaError{Reason: "missing time field"}
	}
	if err != nil {
		return nil, 0, fmt.Errorf("read header: %w", err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(strings.TrimPrefix(header[i], "\ufeff"))
	}
	if err := transform.CheckHeader(header); err != nil {
		return nil, 0, err
	}

	var (
		candles []domain.Candle
		index   = map[int64]int{}
		dropped int
		line    = 1
	)
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, 0, fmt.Errorf("read line %d: %w", line, err)
		}

		rec := make(transform.Record, len(header))
		for i, name := range header {
			if i < len(row) {
				rec[name] = row[i]
			}
		}

		candle, keep, err := transform.Transform(fileDate, rec)
		if err != nil {
			var schemaErr *domain.SchemaError
			if errors.As(err, &schemaErr) {
				schemaErr.Line = line
			}
			return nil, 0, err
		}
		if !keep {
			dropped++
			continue
		}

		if at, ok := index[candle.Timestamp.Unix()]; ok {
			candles[at] = candle
			continue
		}
		index[candle.Timestamp.Unix()] = len(candles)
		candles = append(candles, candle)
	}

	return candles, dropped, nil
}
