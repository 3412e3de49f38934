package engine

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ihaveasegway/cpdr/internal/event"
	"github.com/ihaveasegway/cpdr/internal/stats"
)

// recordingSink counts calls and fails entries named in fail.
type recordingSink struct {
	fail  map[string]error
	calls map[EntryType]int
	mu    sync.Mutex
}

func newRecordingSink() *recordingSink {
	return &recordingSink{fail: map[string]error{}, calls: map[EntryType]int{}}
}

func (r *recordingSink) record(e TreeEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls[e.Type]++
	return r.fail[e.RelPath]
}

func (r *recordingSink) Prepare(context.Context) error              { return nil }
func (r *recordingSink) Dir(_ context.Context, e TreeEntry) error     { return r.record(e) }
func (r *recordingSink) Symlink(_ context.Context, e TreeEntry) error { return r.record(e) }
func (r *recordingSink) Commit(context.Context, int) error            { return nil }

func (r *recordingSink) File(_ context.Context, e TreeEntry) (int64, error) {
	if err := r.record(e); err != nil {
		return 0, err
	}
	return e.Size, nil
}

func feed(entries ...TreeEntry) <-chan TreeEntry {
	ch := make(chan TreeEntry, len(entries))
	for _, e := range entries {
		ch <- e
	}
	close(ch)
	return ch
}

func testEntries(t *testing.T) []TreeEntry {
	t.Helper()
	src := localEndpoint(t.TempDir())
	return []TreeEntry{
		{Src: src, RelPath: ".", Type: DirEntry},
		{Src: src, RelPath: "a.txt", Type: FileEntry, Size: 5},
		{Src: src, RelPath: "b.txt", Type: FileEntry, Size: 7},
		{Src: src, RelPath: "ln", Type: SymlinkEntry, LinkTarget: "a.txt"},
	}
}

func TestWorkerPool_DispatchesByType(t *testing.T) {
	t.Parallel()
	sink := newRecordingSink()
	collector := stats.NewCollector()
	events := make(chan event.Event, 16)

	NewWorkerPool(WorkerConfig{
		Sink:       sink,
		Stats:      collector,
		Events:     events,
		NumWorkers: 3,
	}).Run(context.Background(), feed(testEntries(t)...))
	close(events)

	assert.Equal(t, 1, sink.calls[DirEntry])
	assert.Equal(t, 2, sink.calls[FileEntry])
	assert.Equal(t, 1, sink.calls[SymlinkEntry])

	snap := collector.Snapshot()
	assert.Equal(t, int64(2), snap.FilesCopied)
	assert.Equal(t, int64(12), snap.BytesCopied)
	assert.Equal(t, int64(1), snap.DirsCreated)
	assert.Equal(t, int64(1), snap.SymlinksCreated)

	counts := map[event.Type]int{}
	for ev := range events {
		counts[ev.Type]++
	}
	assert.Equal(t, 2, counts[event.FileCompleted])
	assert.Equal(t, 1, counts[event.DirCreated])
	assert.Equal(t, 1, counts[event.SymlinkCreated])
}

func TestWorkerPool_ReportsFailures(t *testing.T) {
	t.Parallel()
	sink := newRecordingSink()
	boom := errors.New("boom")
	sink.fail["b.txt"] = boom

	var (
		mu     sync.Mutex
		failed []string
	)
	collector := stats.NewCollector()
	NewWorkerPool(WorkerConfig{
		Sink:       sink,
		Stats:      collector,
		NumWorkers: 2,
		Fail: func(op, path string, err error) {
			mu.Lock()
			defer mu.Unlock()
			assert.Equal(t, "copy", op)
			assert.ErrorIs(t, err, boom)
			failed = append(failed, path)
		},
	}).Run(context.Background(), feed(testEntries(t)...))

	require.Len(t, failed, 1)
	assert.Equal(t, "b.txt", filepath.Base(failed[0]))
	assert.Equal(t, int64(1), collector.Snapshot().FilesCopied)
}

func TestWorkerPool_DryRunSkipsSink(t *testing.T) {
	t.Parallel()
	sink := newRecordingSink()
	collector := stats.NewCollector()

	NewWorkerPool(WorkerConfig{
		Sink:       sink,
		Stats:      collector,
		NumWorkers: 2,
		DryRun:     true,
	}).Run(context.Background(), feed(testEntries(t)...))

	assert.Empty(t, sink.calls)
	assert.Equal(t, int64(2), collector.Snapshot().FilesCopied)
}

func TestWorkerPool_StopsOnCancel(t *testing.T) {
	t.Parallel()
	sink := newRecordingSink()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	NewWorkerPool(WorkerConfig{Sink: sink, NumWorkers: 1}).Run(ctx, feed(testEntries(t)...))
	assert.Empty(t, sink.calls)
}
