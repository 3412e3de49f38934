package engine

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"sync"

	"github.com/hashicorp/go-multierror"

	"github.com/ihaveasegway/cpdr/internal/clipboard"
)

// Error kinds. Every *EntryError matches exactly one of them with errors.Is
// when the cause could be classified.
var (
	ErrPathNotFound         = errors.New("path not found")
	ErrPermissionDenied     = errors.New("permission denied")
	ErrCyclicSymlink        = errors.New("cyclic symlink")
	ErrDestinationConflict  = errors.New("destination conflict")
	ErrClipboardUnavailable = clipboard.ErrUnavailable
	ErrVerifyMismatch       = errors.New("checksum mismatch")
)

var kinds = []error{
	ErrPathNotFound,
	ErrPermissionDenied,
	ErrCyclicSymlink,
	ErrDestinationConflict,
	ErrClipboardUnavailable,
	ErrVerifyMismatch,
}

// EntryError records the failure of one operation on one tree entry.
type EntryError struct {
	Kind error // one of the Err* kinds, nil if unclassified
	Err  error
	Op   string
	Path string
}

func newEntryError(op, path string, err error) *EntryError {
	var ee *EntryError
	if errors.As(err, &ee) {
		return ee
	}
	return &EntryError{Op: op, Path: path, Kind: classify(err), Err: err}
}

func (e *EntryError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Kind)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *EntryError) Unwrap() []error {
	var errs []error
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

func classify(err error) error {
	for _, k := range kinds {
		if errors.Is(err, k) {
			return k
		}
	}
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return ErrPathNotFound
	case errors.Is(err, fs.ErrPermission):
		return ErrPermissionDenied
	case errors.Is(err, fs.ErrExist):
		return ErrDestinationConflict
	}
	return nil
}

// errList collects entry failures from the scanner and all workers.
// With FailFast the first failure cancels the run.
type errList struct {
	cancel context.CancelFunc
	errs   []*EntryError
	mu     sync.Mutex
}

func (l *errList) add(e *EntryError) {
	l.mu.Lock()
	l.errs = append(l.errs, e)
	cancel := l.cancel
	l.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

func (l *errList) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.errs)
}

// list returns the failures ordered by path.
func (l *errList) list() []*EntryError {
	l.mu.Lock()
	out := make([]*EntryError, len(l.errs))
	copy(out, l.errs)
	l.mu.Unlock()

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Path != out[j].Path {
			return out[i].Path < out[j].Path
		}
		return out[i].Op < out[j].Op
	})
	return out
}

// err aggregates the failures, or returns nil if there were none.
func (l *errList) err() error {
	merr := &multierror.Error{ErrorFormat: formatFailures}
	for _, e := range l.list() {
		merr = multierror.Append(merr, e)
	}
	return merr.ErrorOrNil()
}

func formatFailures(errs []error) string {
	if len(errs) == 1 {
		return errs[0].Error()
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d entries failed:", len(errs))
	for _, err := range errs {
		b.WriteString("\n  * ")
		b.WriteString(err.Error())
	}
	return b.String()
}
