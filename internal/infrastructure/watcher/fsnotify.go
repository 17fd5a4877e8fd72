package watcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"BTCIngest/internal/ports"
)

// FSNotify watches a single directory, non-recursively, for newly created files.
type FSNotify struct {
	dir         string
	settleDelay time.Duration
	logger      *slog.Logger

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	stop    chan struct{}
	done    chan struct{}
}

var _ ports.FileWatcher = (*FSNotify)(nil)

// NewFSNotify builds a watcher for dir. With a positive settleDelay a created file is
// reported only once it has seen no write for that long.
func NewFSNotify(dir string, settleDelay time.Duration, log *slog.Logger) *FSNotify {
	if log == nil {
		log = slog.Default()
	}
	return &FSNotify{dir: dir, settleDelay: settleDelay, logger: log}
}

// Start subscribes to the directory. onCreate is always invoked from one goroutine.
func (w *FSNotify) Start(ctx context.Context, onCreate func(path string)) error {
	if onCreate == nil {
		return errors.New("watcher: nil callback")
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.watcher != nil {
		return nil
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := fsw.Add(w.dir); err != nil {
		_ = fsw.Close()
		return fmt.Errorf("watch %s: %w", w.dir, err)
	}

	w.watcher = fsw
	w.stop = make(chan struct{})
	w.done = make(chan struct{})
	go w.loop(ctx, fsw, w.stop, w.done, onCreate)

	w.logger.Info("watching directory for new files", "dir", w.dir)
	return nil
}

// Stop closes the subscription and waits for the event goroutine to exit.
// Files still settling are dropped; the next catch-up scan picks them up.
func (w *FSNotify) Stop(ctx context.Context) error {
	w.mu.Lock()
	fsw, stop, done := w.watcher, w.stop, w.done
	w.watcher = nil
	w.mu.Unlock()

	if fsw == nil {
		return nil
	}

	close(stop)
	err := fsw.Close()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	w.logger.Info("stopped watching directory", "dir", w.dir)
	return err
}

func (w *FSNotify) loop(ctx context.Context, fsw *fsnotify.Watcher, stop, done chan struct{}, onCreate func(string)) {
	defer close(done)

	pending := map[string]*settling{}
	settled := make(chan settleSignal)
	defer func() {
		for _, p := range pending {
			p.timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return

		case ev, ok := <-fsw.Events:
			if !ok {
				return
			}
			w.logger.Debug("file event", "event", ev.String())

			switch {
			case ev.Has(fsnotify.Create):
				info, err := os.Stat(ev.Name)
				if err != nil {
					w.logger.Debug("created entry vanished", "path", ev.Name, "error", err)
					continue
				}
				if info.IsDir() {
					continue
				}
				if w.settleDelay <= 0 {
					onCreate(ev.Name)
					continue
				}
				w.arm(pending, settled, stop, ev.Name)

			case ev.Has(fsnotify.Write):
				if _, ok := pending[ev.Name]; ok {
					w.arm(pending, settled, stop, ev.Name)
				}

			case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
				if p, ok := pending[ev.Name]; ok {
					p.timer.Stop()
					delete(pending, ev.Name)
				}
			}

		case sig := <-settled:
			if p, ok := pending[sig.path]; !ok || p.gen != sig.gen {
				continue
			}
			delete(pending, sig.path)
			onCreate(sig.path)

		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			w.logger.Error("watcher error", "dir", w.dir, "error", err)
		}
	}
}

type settling struct {
	timer *time.Timer
	gen   uint64
}

type settleSignal struct {
	path string
	gen  uint64
}

// arm (re)starts the settle timer of path. A timer that already fired carries a stale
// generation and is ignored by the loop.
func (w *FSNotify) arm(pending map[string]*settling, settled chan<- settleSignal, stop <-chan struct{}, path string) {
	var gen uint64
	if p, ok := pending[path]; ok {
		p.timer.Stop()
		gen = p.gen + 1
	}
	sig := settleSignal{path: path, gen: gen}
	pending[path] = &settling{
		gen: gen,
		timer: time.AfterFunc(w.settleDelay, func() {
			select {
			case settled <- sig:
			case <-stop:
			}
		}),
	}
}
