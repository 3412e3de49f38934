package stats

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

const ringSize = 60

// Reader is the read side of a Collector, used by presenters.
type Reader interface {
	Snapshot() Snapshot
	RollingSpeed(seconds int) float64
}

// ReadTicker is a Reader that presenters also advance once per second.
type ReadTicker interface {
	Reader
	Tick()
}

// Writer is the write side of a Collector, used by the engine.
type Writer interface {
	AddEntriesTotal(n int64)
	AddBytesTotal(n int64)
	AddFilesCopied(n int64)
	AddFilesFailed(n int64)
	AddFilesSkipped(n int64)
	AddBytesCopied(n int64)
	AddDirsCreated(n int64)
	AddSymlinksCreated(n int64)
	AddFilesVerified(n int64)
	AddFilesVerifyFailed(n int64)
}

var (
	_ ReadTicker = (*Collector)(nil)
	_ Writer     = (*Collector)(nil)
)

// Collector tracks copy statistics using lock-free atomic counters.
type Collector struct {
	startTime         time.Time
	entriesTotal      atomic.Int64
	bytesTotal        atomic.Int64
	filesCopied       atomic.Int64
	filesFailed       atomic.Int64
	filesSkipped      atomic.Int64
	bytesCopied       atomic.Int64
	dirsCreated       atomic.Int64
	symlinksCreated   atomic.Int64
	filesVerified     atomic.Int64
	filesVerifyFailed atomic.Int64

	// Ring buffer, written only by Tick.
	mu         sync.Mutex
	throughput [ringSize]int64 // bytes delta per second
	ringIdx    int
	ringCount  int
	lastBytes  int64
}

// NewCollector creates a Collector with startTime set to now.
func NewCollector() *Collector {
	return &Collector{startTime: time.Now()}
}

// Snapshot is a point-in-time read of all counters.
type Snapshot struct {
	EntriesTotal      int64
	BytesTotal        int64
	FilesCopied       int64
	FilesFailed       int64
	FilesSkipped      int64
	BytesCopied       int64
	DirsCreated       int64
	SymlinksCreated   int64
	FilesVerified     int64
	FilesVerifyFailed int64
	Elapsed           time.Duration
}

func (c *Collector) AddEntriesTotal(n int64)      { c.entriesTotal.Add(n) }
func (c *Collector) AddBytesTotal(n int64)        { c.bytesTotal.Add(n) }
func (c *Collector) AddFilesCopied(n int64)       { c.filesCopied.Add(n) }
func (c *Collector) AddFilesFailed(n int64)       { c.filesFailed.Add(n) }
func (c *Collector) AddFilesSkipped(n int64)      { c.filesSkipped.Add(n) }
func (c *Collector) AddBytesCopied(n int64)       { c.bytesCopied.Add(n) }
func (c *Collector) AddDirsCreated(n int64)       { c.dirsCreated.Add(n) }
func (c *Collector) AddSymlinksCreated(n int64)   { c.symlinksCreated.Add(n) }
func (c *Collector) AddFilesVerified(n int64)     { c.filesVerified.Add(n) }
func (c *Collector) AddFilesVerifyFailed(n int64) { c.filesVerifyFailed.Add(n) }

// Snapshot returns a point-in-time read of all counters.
func (c *Collector) Snapshot() Snapshot {
	return Snapshot{
		EntriesTotal:      c.entriesTotal.Load(),
		BytesTotal:        c.bytesTotal.Load(),
		FilesCopied:       c.filesCopied.Load(),
		FilesFailed:       c.filesFailed.Load(),
		FilesSkipped:      c.filesSkipped.Load(),
		BytesCopied:       c.bytesCopied.Load(),
		DirsCreated:       c.dirsCreated.Load(),
		SymlinksCreated:   c.symlinksCreated.Load(),
		FilesVerified:     c.filesVerified.Load(),
		FilesVerifyFailed: c.filesVerifyFailed.Load(),
		Elapsed:           c.Elapsed(),
	}
}

// Tick records the bytes copied since the previous Tick. Called 1/sec by the presenter.
func (c *Collector) Tick() {
	current := c.bytesCopied.Load()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.throughput[c.ringIdx] = current - c.lastBytes
	c.lastBytes = current
	c.ringIdx = (c.ringIdx + 1) % ringSize
	if c.ringCount < ringSize {
		c.ringCount++
	}
}

// RollingSpeed returns average bytes/sec over the last n seconds of samples.
func (c *Collector) RollingSpeed(seconds int) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	count := min(seconds, c.ringCount)
	if count <= 0 {
		return 0
	}
	var sum int64
	for i := range count {
		idx := (c.ringIdx - 1 - i + ringSize) % ringSize
		sum += c.throughput[idx]
	}
	return float64(sum) / float64(count)
}

// Elapsed returns time since collector creation.
func (c *Collector) Elapsed() time.Duration {
	return time.Since(c.startTime)
}

func (s Snapshot) String() string {
	return fmt.Sprintf(
		"entries=%d copied=%d failed=%d skipped=%d bytes=%d dirs=%d symlinks=%d",
		s.EntriesTotal, s.FilesCopied, s.FilesFailed, s.FilesSkipped,
		s.BytesCopied, s.DirsCreated, s.SymlinksCreated,
	)
}

// FormatBytes returns a human-readable byte count.
func FormatBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(b)/float64(div), "KMGTPE"[exp])
}
