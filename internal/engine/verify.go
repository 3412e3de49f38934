package engine

import (
	"context"
	"sync"

	"github.com/ihaveasegway/cpdr/internal/event"
	"github.com/ihaveasegway/cpdr/internal/stats"
	"github.com/ihaveasegway/cpdr/internal/transport"
)

// VerifyPair names one copied file on both sides.
type VerifyPair struct {
	SrcRel string
	DstRel string
}

// VerifyConfig controls the post-copy verification pass.
type VerifyConfig struct {
	Src     transport.ReadEndpoint
	Dst     transport.WriteEndpoint
	Stats   stats.Writer
	Events  chan<- event.Event
	Files   []VerifyPair
	Workers int
}

// VerifyResult holds the outcome of a verification pass.
type VerifyResult struct {
	Errors   []VerifyError
	Verified int64
	Failed   int64
}

// VerifyError records a single checksum mismatch or hashing failure.
type VerifyError struct {
	Err     error // set when either side could not be hashed
	Path    string
	SrcHash string
	DstHash string
}

// Verify compares BLAKE3 checksums of every copied file against its
// source. It fans out to cfg.Workers goroutines.
func Verify(ctx context.Context, cfg VerifyConfig) VerifyResult {
	emitEvent(cfg.Events, event.Event{Type: event.VerifyStarted, Total: int64(len(cfg.Files))})

	workers := cfg.Workers
	if workers <= 0 {
		workers = 4
	}

	taskCh := make(chan VerifyPair, workers*2)
	var mu sync.Mutex
	var result VerifyResult
	var wg sync.WaitGroup

	fail := func(ve VerifyError) {
		mu.Lock()
		result.Failed++
		result.Errors = append(result.Errors, ve)
		mu.Unlock()
		if cfg.Stats != nil {
			cfg.Stats.AddFilesVerifyFailed(1)
		}
		emitEvent(cfg.Events, event.Event{
			Type:  event.VerifyFailed,
			Path:  ve.Path,
			Error: ve.Err,
		})
	}

	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for p := range taskCh {
				select {
				case <-ctx.Done():
					continue
				default:
				}

				srcHash, err := cfg.Src.Hash(p.SrcRel)
				if err != nil {
					fail(VerifyError{Path: p.SrcRel, SrcHash: "error", DstHash: "n/a", Err: err})
					continue
				}

				dstHash, err := cfg.Dst.Hash(p.DstRel)
				if err != nil {
					fail(VerifyError{Path: p.SrcRel, SrcHash: srcHash, DstHash: "error", Err: err})
					continue
				}

				if srcHash != dstHash {
					fail(VerifyError{Path: p.SrcRel, SrcHash: srcHash, DstHash: dstHash})
					continue
				}

				mu.Lock()
				result.Verified++
				mu.Unlock()
				if cfg.Stats != nil {
					cfg.Stats.AddFilesVerified(1)
				}
				emitEvent(cfg.Events, event.Event{Type: event.VerifyOK, Path: p.SrcRel})
			}
		}()
	}

send:
	for _, f := range cfg.Files {
		select {
		case <-ctx.Done():
			break send
		case taskCh <- f:
		}
	}
	close(taskCh)
	wg.Wait()

	return result
}
