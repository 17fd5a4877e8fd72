package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"BTCIngest/internal/ports"
)

const stopTimeout = 10 * time.Second

// Watch wires the file-system driver with the pipeline until cancellation.
type Watch struct {
	driver   ports.FileWatcher
	pipeline *Pipeline
	ledger   ports.LedgerFactory
	drain    func()
	logger   *slog.Logger
}

// NewWatch returns the live-ingestion use case. drain is invoked after the driver stops.
func NewWatch(driver ports.FileWatcher, pipeline *Pipeline, ledger ports.LedgerFactory, drain func(), log *slog.Logger) *Watch {
	if log == nil {
		log = slog.Default()
	}
	return &Watch{driver: driver, pipeline: pipeline, ledger: ledger, drain: drain, logger: log}
}

// Run blocks until ctx is cancelled, then stops the subscription and drains in-flight work.
// Failing to subscribe is returned; a clean shutdown returns nil.
func (w *Watch) Run(ctx context.Context) error {
	if w.driver == nil || w.pipeline == nil || w.ledger == nil {
		return errors.New("watch is not fully configured")
	}

	// The driver calls back from a single goroutine, which owns this session.
	session := w.ledger.Session()
	defer session.Close()

	unitCtx := context.WithoutCancel(ctx)
	onCreate := func(path string) {
		if w.pipeline.HandleCreated(unitCtx, session, path) {
			w.logger.Debug("queued new file", "path", path)
		}
	}

	if err := w.driver.Start(ctx, onCreate); err != nil {
		return fmt.Errorf("start watcher: %w", err)
	}

	<-ctx.Done()

	stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	if err := w.driver.Stop(stopCtx); err != nil {
		w.logger.Warn("stop watcher", "error", err)
	}

	if w.drain != nil {
		w.drain()
	}
	w.logger.Info("live ingestion stopped")
	return nil
}
