package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"runtime"
	"time"

	"github.com/spf13/afero"

	"github.com/ihaveasegway/cpdr/internal/platform"
	"github.com/ihaveasegway/cpdr/internal/transport"
)

// DefaultBenchSample is how many bytes RunBenchmark reads and writes.
const DefaultBenchSample = 64 * 1024 * 1024

// BenchmarkResult holds throughput measurements.
type BenchmarkResult struct {
	ReadBytesPerSec  float64
	WriteBytesPerSec float64
	SuggestedWorkers int
}

// RunBenchmark measures read throughput of the largest-enough file under
// src and write throughput of a scratch file next to dst, then suggests a
// worker count. dst itself is not created; the scratch file goes into dst
// when it is an existing directory, otherwise into its parent.
func RunBenchmark(ctx context.Context, fs afero.Fs, src, dst string, sample int64) (BenchmarkResult, error) {
	var result BenchmarkResult
	if fs == nil {
		fs = afero.NewOsFs()
	}
	if sample <= 0 {
		sample = DefaultBenchSample
	}

	srcAbs, err := filepath.Abs(src)
	if err != nil {
		return result, err
	}
	dstAbs, err := filepath.Abs(dst)
	if err != nil {
		return result, err
	}

	readSpeed, err := benchRead(ctx, transport.NewFS(fs, srcAbs), sample)
	if err != nil {
		return result, fmt.Errorf("read benchmark: %w", err)
	}
	result.ReadBytesPerSec = readSpeed

	scratch := dstAbs
	if info, err := statPath(fs, dstAbs); err != nil || !info.IsDir {
		scratch = filepath.Dir(dstAbs)
	}
	writeSpeed, err := benchWrite(ctx, transport.NewFS(fs, scratch), sample)
	if err != nil {
		return result, fmt.Errorf("write benchmark: %w", err)
	}
	result.WriteBytesPerSec = writeSpeed

	result.SuggestedWorkers = suggestWorkers(readSpeed, writeSpeed)
	return result, nil
}

var errBenchFound = errors.New("found")

// findBenchFile walks the endpoint in scan order for a file of at least
// sample bytes, falling back to the first non-empty file.
func findBenchFile(ctx context.Context, ep transport.ReadEndpoint, sample int64) (string, error) {
	var target string
	var walk func(rel string) error
	walk = func(rel string) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		children, err := ep.ListDir(rel)
		if err != nil {
			return nil //nolint:nilerr // skip directories we can't list
		}
		for _, c := range children {
			childRel := c.RelPath
			switch {
			case c.IsDir && !c.IsSymlink:
				if err := walk(childRel); err != nil {
					return err
				}
			case c.IsRegular() && c.Size >= sample:
				target = childRel
				return errBenchFound
			case c.IsRegular() && c.Size > 0 && target == "":
				target = childRel
			}
		}
		return nil
	}

	if info, err := ep.Stat("."); err == nil && !info.IsDir {
		return "", fmt.Errorf("%s is not a directory", ep.AbsPath("."))
	}
	if err := walk("."); err != nil && !errors.Is(err, errBenchFound) {
		return "", err
	}
	if target == "" {
		return "", fmt.Errorf("no readable files in %s", ep.AbsPath("."))
	}
	return target, nil
}

// benchRead reads up to sample bytes of one source file, measuring throughput.
func benchRead(ctx context.Context, ep *transport.FSEndpoint, sample int64) (float64, error) {
	target, err := findBenchFile(ctx, ep, sample)
	if err != nil {
		return 0, err
	}

	r, err := ep.OpenRead(target)
	if err != nil {
		return 0, err
	}
	defer r.Close()

	bufp := platform.GetBuffer()
	defer platform.PutBuffer(bufp)

	start := time.Now()
	total, err := io.CopyBuffer(writerOnly{io.Discard}, ctxReader{ctx: ctx, r: io.LimitReader(r, sample)}, *bufp)
	if err != nil {
		return 0, err
	}
	return throughput(total, time.Since(start)), nil
}

// benchWrite writes sample zero bytes to a scratch temp file, syncs it on
// the OS filesystem, and removes it.
func benchWrite(ctx context.Context, ep *transport.FSEndpoint, sample int64) (float64, error) {
	wf, err := ep.CreateTemp("bench", 0o600)
	if err != nil {
		return 0, err
	}
	defer ep.Remove(wf.Name()) //nolint:errcheck // best-effort scratch cleanup

	buf := make([]byte, 1<<20)
	var total int64
	start := time.Now()
	for total < sample {
		if err := ctx.Err(); err != nil {
			wf.Close()
			return 0, err
		}
		n, err := wf.Write(buf[:min(int64(len(buf)), sample-total)])
		total += int64(n)
		if err != nil {
			wf.Close()
			return 0, err
		}
	}
	if f := transport.OSFile(wf); f != nil {
		if err := f.Sync(); err != nil {
			wf.Close()
			return 0, err
		}
	}
	if err := wf.Close(); err != nil {
		return 0, err
	}
	return throughput(total, time.Since(start)), nil
}

func throughput(n int64, elapsed time.Duration) float64 {
	if elapsed <= 0 {
		elapsed = time.Microsecond
	}
	return float64(n) / elapsed.Seconds()
}

// suggestWorkers returns a worker count based on measured throughput.
func suggestWorkers(readBPS, writeBPS float64) int {
	// The slower side is the bottleneck.
	bottleneck := min(readBPS, writeBPS)
	cpus := runtime.NumCPU()

	switch {
	case bottleneck >= 2e9: // NVMe
		return DefaultWorkers()
	case bottleneck >= 200e6: // SSD
		return min(cpus, 16)
	default: // HDD
		return min(4, cpus)
	}
}

// FormatBenchmark formats a BenchmarkResult for display.
func FormatBenchmark(r BenchmarkResult) string {
	return fmt.Sprintf("benchmark: read %s/s  write %s/s  suggested workers %d",
		formatDecimalBytes(r.ReadBytesPerSec), formatDecimalBytes(r.WriteBytesPerSec), r.SuggestedWorkers)
}

func formatDecimalBytes(b float64) string {
	switch {
	case b >= 1e9:
		return fmt.Sprintf("%.1f GB", b/1e9)
	case b >= 1e6:
		return fmt.Sprintf("%.0f MB", b/1e6)
	case b >= 1e3:
		return fmt.Sprintf("%.0f KB", b/1e3)
	default:
		return fmt.Sprintf("%.0f B", b)
	}
}
