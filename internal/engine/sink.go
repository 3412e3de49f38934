package engine

import "context"

// Sink is a copy destination. The scanner feeds entries to a worker pool
// which calls Dir, Symlink and File concurrently; Prepare runs before
// traversal and Commit exactly once after the pool drains.
type Sink interface {
	// Prepare validates the destination. An error is fatal and aborts the
	// run before anything is read or written.
	Prepare(ctx context.Context) error

	Dir(ctx context.Context, e TreeEntry) error
	Symlink(ctx context.Context, e TreeEntry) error

	// File copies one regular file and returns the number of bytes written.
	File(ctx context.Context, e TreeEntry) (int64, error)

	// Commit finalizes the destination. failed is the number of entry
	// failures recorded during the run.
	Commit(ctx context.Context, failed int) error
}

var (
	_ Sink = (*FSSink)(nil)
	_ Sink = (*ClipboardSink)(nil)
)
