package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"BTCIngest/internal/domain"
	"BTCIngest/internal/filename"
	"BTCIngest/internal/metrics"
	"BTCIngest/internal/ports"
)

// Submitter accepts units for asynchronous processing.
type Submitter interface {
	Submit(file domain.SourceFile) bool
	Drain()
}

// PipelineDeps wires all driven adapters into the ingestion pipeline.
type PipelineDeps struct {
	Source      ports.CandidateSource
	Ledger      ports.LedgerFactory
	Coordinator Submitter
	Logger      *slog.Logger
	Metrics     *metrics.Metrics
}

// Pipeline routes discovered files through the ledger check into the coordinator.
type Pipeline struct {
	source      ports.CandidateSource
	ledger      ports.LedgerFactory
	coordinator Submitter
	logger      *slog.Logger
	metrics     *metrics.Metrics
}

// NewPipeline constructs the orchestration component.
func NewPipeline(deps PipelineDeps) *Pipeline {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		source:      deps.Source,
		ledger:      deps.Ledger,
		coordinator: deps.Coordinator,
		logger:      logger,
		metrics:     deps.Metrics,
	}
}

// CatchUpSummary reports what one catch-up pass did.
type CatchUpSummary struct {
	Candidates int
	Skipped    int
	Submitted  int
}

// CatchUp submits every unprocessed candidate in chronological order and waits until all
// of them reach a terminal state. Cancellation stops further submissions only.
func (p *Pipeline) CatchUp(ctx context.Context) (CatchUpSummary, error) {
	var summary CatchUpSummary
	if p.source == nil || p.ledger == nil || p.coordinator == nil {
		return summary, fmt.Errorf("pipeline is not fully configured")
	}

	files, err := p.source.ListCandidates(ctx)
	if err != nil {
		return summary, fmt.Errorf("list candidates: %w", err)
	}
	summary.Candidates = len(files)

	session := p.ledger.Session()
	defer session.Close()

	for _, file := range files {
		if ctx.Err() != nil {
			p.logger.Info("catch-up interrupted", "remaining", len(files)-summary.Skipped-summary.Submitted)
			break
		}

		switch p.offer(ctx, session, file) {
		case offerSubmitted:
			summary.Submitted++
		default:
			summary.Skipped++
		}
	}

	p.coordinator.Drain()
	p.logger.Debug("all files have been processed",
		"candidates", summary.Candidates, "submitted", summary.Submitted, "skipped", summary.Skipped)
	return summary, nil
}

// HandleCreated applies the catch-up admission rules to a path reported by the watcher.
// It never blocks on file processing.
func (p *Pipeline) HandleCreated(ctx context.Context, session ports.LedgerSession, path string) bool {
	date, err := filename.ExtractDate(filepath.Base(path))
	if err != nil {
		p.logger.Debug("ignoring non-matching file", "path", path)
		return false
	}
	return p.offer(ctx, session, domain.SourceFile{Path: path, Date: date, Live: true}) == offerSubmitted
}

type offerResult int

const (
	offerSubmitted offerResult = iota
	offerProcessed
	offerBusy
)

func (p *Pipeline) offer(ctx context.Context, session ports.LedgerSession, file domain.SourceFile) offerResult {
	if session.IsProcessed(ctx, file.Path) {
		p.metrics.FileDone(metrics.OutcomeSkipped, 0)
		p.logger.Debug("file has already been processed", "path", file.Path)
		return offerProcessed
	}
	if !p.coordinator.Submit(file) {
		return offerBusy
	}
	return offerSubmitted
}
