package usecase

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"BTCIngest/internal/domain"
	"BTCIngest/internal/metrics"
	"BTCIngest/internal/ports"
)

// UnitHandler executes one queued file using the calling worker's ledger session.
type UnitHandler func(ctx context.Context, ledger ports.LedgerSession, file domain.SourceFile) error

// CoordinatorDeps wires a Coordinator.
type CoordinatorDeps struct {
	Pooled    bool
	Workers   int
	Ledger    ports.LedgerFactory
	Handler   UnitHandler
	OnOutcome func(domain.Outcome)
	Logger    *slog.Logger
	Metrics   *metrics.Metrics
}

// Coordinator runs submitted files on a fixed set of workers. Sequential mode is a single
// worker draining a FIFO queue, so units run in submission order.
type Coordinator struct {
	workers   int
	ledger    ports.LedgerFactory
	handler   UnitHandler
	onOutcome func(domain.Outcome)
	logger    *slog.Logger
	metrics   *metrics.Metrics

	mu       sync.Mutex
	ready    *sync.Cond // queue gained work or coordinator closed
	idle     *sync.Cond // pending dropped to zero
	queue    []domain.SourceFile
	inFlight map[string]domain.UnitState
	pending  int
	started  bool
	closed   bool
	group    errgroup.Group

	stats CoordinatorStats
}

// NewCoordinator builds an idle coordinator; call Start before submitting work.
func NewCoordinator(deps CoordinatorDeps) *Coordinator {
	workers := deps.Workers
	if !deps.Pooled || workers < 1 {
		workers = 1
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	c := &Coordinator{
		workers:   workers,
		ledger:    deps.Ledger,
		handler:   deps.Handler,
		onOutcome: deps.OnOutcome,
		logger:    logger,
		metrics:   deps.Metrics,
		inFlight:  map[string]domain.UnitState{},
	}
	c.ready = sync.NewCond(&c.mu)
	c.idle = sync.NewCond(&c.mu)
	return c
}

// Workers returns the effective concurrency ceiling.
func (c *Coordinator) Workers() int {
	return c.workers
}

// Start launches the workers. Units run detached from ctx cancellation so that
// in-flight files always finish; ctx only carries values.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return errors.New("coordinator is closed")
	}
	if c.started {
		return nil
	}
	if c.handler == nil || c.ledger == nil {
		return errors.New("coordinator requires a handler and a ledger")
	}
	c.started = true

	unitCtx := context.WithoutCancel(ctx)
	for i := 0; i < c.workers; i++ {
		id := i
		c.group.Go(func() error {
			c.work(unitCtx, id)
			return nil
		})
	}

	c.logger.Debug("coordinator started", "workers", c.workers)
	return nil
}

// Submit enqueues file without blocking. It returns false when the same path is already
// queued or running, or when the coordinator no longer accepts work.
func (c *Coordinator) Submit(file domain.SourceFile) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}
	if _, busy := c.inFlight[file.Path]; busy {
		c.logger.Debug("file already in flight", "path", file.Path)
		return false
	}

	c.inFlight[file.Path] = domain.StateQueued
	c.queue = append(c.queue, file)
	c.pending++
	c.stats.submitted.Add(1)
	c.metrics.SetQueueDepth(c.pending)
	c.ready.Signal()
	return true
}

// State reports the current state of path and whether it is queued or running.
func (c *Coordinator) State(path string) (domain.UnitState, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.inFlight[path]
	return s, ok
}

// Drain blocks until every unit submitted so far has reached a terminal state.
func (c *Coordinator) Drain() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for c.pending > 0 {
		c.idle.Wait()
	}
}

// Close stops accepting work, lets queued units finish and waits for the workers to exit.
func (c *Coordinator) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	started := c.started
	c.ready.Broadcast()
	c.mu.Unlock()

	if !started {
		return nil
	}
	return c.group.Wait()
}

// Stats returns live counters.
func (c *Coordinator) Stats() *CoordinatorStats {
	return &c.stats
}

func (c *Coordinator) next() (domain.SourceFile, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for len(c.queue) == 0 {
		if c.closed {
			return domain.SourceFile{}, false
		}
		c.ready.Wait()
	}

	file := c.queue[0]
	c.queue[0] = domain.SourceFile{}
	c.queue = c.queue[1:]
	c.inFlight[file.Path] = domain.StateRunning
	return file, true
}

func (c *Coordinator) finish(outcome domain.Outcome) {
	if outcome.State == domain.StateSucceeded {
		c.stats.succeeded.Add(1)
	} else {
		c.stats.failed.Add(1)
	}
	if c.onOutcome != nil {
		c.onOutcome(outcome)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.inFlight, outcome.File.Path)
	c.pending--
	c.metrics.SetQueueDepth(c.pending)
	if c.pending == 0 {
		c.idle.Broadcast()
	}
}

// work owns one ledger session for the worker's whole lifetime.
func (c *Coordinator) work(ctx context.Context, id int) {
	session := c.ledger.Session()
	defer func() {
		if err := session.Close(); err != nil {
			c.logger.Debug("release ledger session", "worker", id, "error", err)
		}
	}()

	for {
		file, ok := c.next()
		if !ok {
			return
		}
		c.finish(c.run(ctx, session, file))
	}
}

func (c *Coordinator) run(ctx context.Context, session ports.LedgerSession, file domain.SourceFile) (outcome domain.Outcome) {
	started := time.Now()
	outcome = domain.Outcome{File: file, State: domain.StateSucceeded}

	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("unit panicked", "path", file.Path, "panic", r)
			outcome.State = domain.StateFailed
			outcome.Err = &domain.IngestError{Path: file.Path, Err: errors.New("panic during processing")}
		}
		outcome.Duration = time.Since(started)
	}()

	if err := c.handler(ctx, session, file); err != nil {
		outcome.State = domain.StateFailed
		outcome.Err = err
	}
	return outcome
}

// CoordinatorStats counts unit outcomes; safe for concurrent use.
type CoordinatorStats struct {
	submitted atomic.Int64
	succeeded atomic.Int64
	failed    atomic.Int64
}

// Submitted returns the number of accepted submissions.
func (s *CoordinatorStats) Submitted() int64 { return s.submitted.Load() }

// Succeeded returns the number of units that finished without error.
func (s *CoordinatorStats) Succeeded() int64 { return s.succeeded.Load() }

// Failed returns the number of units that finished with an error.
func (s *CoordinatorStats) Failed() int64 { return s.failed.Load() }

// LogValue implements slog.LogValuer.
func (s *CoordinatorStats) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int64("submitted", s.Submitted()),
		slog.Int64("succeeded", s.Succeeded()),
		slog.Int64("failed", s.Failed()),
	)
}
