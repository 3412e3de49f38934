package engine

import (
	"context"
	"sync"
	"time"

	"github.com/ihaveasegway/cpdr/internal/event"
	"github.com/ihaveasegway/cpdr/internal/stats"
)

// WorkerConfig controls worker behavior.
type WorkerConfig struct {
	Sink       Sink
	Stats      stats.Writer
	Events     chan<- event.Event
	Fail       func(op, path string, err error)
	NumWorkers int
	DryRun     bool
}

// WorkerPool manages a pool of copy workers that hand entries to a Sink.
type WorkerPool struct {
	cfg WorkerConfig
}

// NewWorkerPool creates a new worker pool.
func NewWorkerPool(cfg WorkerConfig) *WorkerPool {
	if cfg.NumWorkers <= 0 {
		cfg.NumWorkers = 1
	}
	if cfg.Fail == nil {
		cfg.Fail = func(string, string, error) {}
	}
	return &WorkerPool{cfg: cfg}
}

// Run starts workers that consume entries. It blocks until entries is
// closed and drained or the context is cancelled.
func (wp *WorkerPool) Run(ctx context.Context, entries <-chan TreeEntry) {
	var wg sync.WaitGroup
	for id := range wp.cfg.NumWorkers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for e := range entries {
				select {
				case <-ctx.Done():
					return
				default:
				}
				wp.process(ctx, id, e)
			}
		}()
	}
	wg.Wait()
}

func (wp *WorkerPool) process(ctx context.Context, workerID int, e TreeEntry) {
	if wp.cfg.DryRun {
		wp.done(workerID, e, e.Size)
		return
	}

	var (
		n   int64
		err error
		op  string
	)
	switch e.Type {
	case DirEntry:
		op = "mkdir"
		err = wp.cfg.Sink.Dir(ctx, e)
	case SymlinkEntry:
		op = "symlink"
		err = wp.cfg.Sink.Symlink(ctx, e)
	default:
		op = "copy"
		n, err = wp.cfg.Sink.File(ctx, e)
	}

	if err != nil {
		wp.cfg.Fail(op, e.AbsPath(), err)
		return
	}
	wp.done(workerID, e, n)
}

func (wp *WorkerPool) done(workerID int, e TreeEntry, n int64) {
	ev := event.Event{Path: e.RelPath, Size: n, WorkerID: workerID}
	switch e.Type {
	case DirEntry:
		ev.Type = event.DirCreated
		if wp.cfg.Stats != nil {
			wp.cfg.Stats.AddDirsCreated(1)
		}
	case SymlinkEntry:
		ev.Type = event.SymlinkCreated
		if wp.cfg.Stats != nil {
			wp.cfg.Stats.AddSymlinksCreated(1)
		}
	default:
		ev.Type = event.FileCompleted
		if wp.cfg.Stats != nil {
			wp.cfg.Stats.AddFilesCopied(1)
			wp.cfg.Stats.AddBytesCopied(n)
		}
	}
	emitEvent(wp.cfg.Events, ev)
}

func emitEvent(ch chan<- event.Event, e event.Event) {
	if ch == nil {
		return
	}
	e.Timestamp = time.Now()
	select {
	case ch <- e:
	default:
	}
}
