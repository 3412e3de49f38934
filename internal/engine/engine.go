// Package engine copies a directory tree into a filesystem location or,
// serialized as one text payload, into the clipboard.
package engine

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/afero"

	"github.com/ihaveasegway/cpdr/internal/clipboard"
	"github.com/ihaveasegway/cpdr/internal/event"
	"github.com/ihaveasegway/cpdr/internal/filter"
	"github.com/ihaveasegway/cpdr/internal/payload"
	"github.com/ihaveasegway/cpdr/internal/stats"
	"github.com/ihaveasegway/cpdr/internal/transport"
)

// FailurePolicy decides what happens after an entry fails.
type FailurePolicy int

const (
	// BestEffort continues past failures and reports them all at the end.
	BestEffort FailurePolicy = iota
	// FailFast cancels the traversal on the first failure.
	FailFast
)

func (p FailurePolicy) String() string {
	if p == FailFast {
		return "fail-fast"
	}
	return "best-effort"
}

// Options configures a run.
type Options struct {
	// FS is the filesystem both sides live on. Nil means the OS filesystem.
	FS     afero.Fs
	Filter *filter.Chain
	Stats  *stats.Collector
	Events chan<- event.Event

	Workers  int   // copy workers; 0 means min(NumCPU*2, 32)
	MaxDepth int   // deepest entry level below a root; 0 means unlimited
	BWLimit  int64 // bytes per second; 0 means unlimited
	Policy   FailurePolicy

	FollowSymlinks bool
	Overwrite      bool
	Preserve       bool
	Verify         bool
	DryRun         bool
}

// ClipboardOptions configures CopyToClipboard.
type ClipboardOptions struct {
	Options
	Format    payload.Format
	Structure bool
}

// DefaultWorkers is the worker count used when Options.Workers is zero.
func DefaultWorkers() int {
	return min(runtime.NumCPU()*2, 32)
}

func (o Options) withDefaults() Options {
	if o.FS == nil {
		o.FS = afero.NewOsFs()
	}
	if o.Workers <= 0 {
		o.Workers = DefaultWorkers()
	}
	if o.Stats == nil {
		o.Stats = stats.NewCollector()
	}
	return o
}

// Result is the outcome of a run.
type Result struct {
	Err      error         // aggregate of Failures plus any fatal error
	Failures []*EntryError // entry failures ordered by path
	Stats    stats.Snapshot
	Payload  int // bytes published to the clipboard
	Fatal    bool
}

// Task is one invocation: its sink, its roots, and all per-run state.
type Task struct {
	sink  Sink
	errs  *errList
	roots []scanRoot
	opts  Options
}

func newTask(opts Options, sink Sink, roots []scanRoot) *Task {
	return &Task{opts: opts, sink: sink, roots: roots, errs: &errList{}}
}

func (t *Task) fail(op, path string, err error) {
	ee := newEntryError(op, path, err)
	t.opts.Stats.AddFilesFailed(1)
	emitEvent(t.opts.Events, event.Event{Type: event.FileFailed, Path: path, Error: ee})
	t.errs.add(ee)
}

// run drives the scanner and worker pool, then commits the sink.
func (t *Task) run(parent context.Context) Result {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	if t.opts.Policy == FailFast {
		t.errs.cancel = cancel
	}

	if err := t.sink.Prepare(ctx); err != nil {
		return fatal("prepare", t.destination(), err, t.opts.Stats)
	}

	entries := make(chan TreeEntry, t.opts.Workers*4)
	scanner := newScanner(ScannerConfig{
		Filter:         t.opts.Filter,
		Stats:          t.opts.Stats,
		Events:         t.opts.Events,
		Fail:           t.fail,
		MaxDepth:       t.opts.MaxDepth,
		FollowSymlinks: t.opts.FollowSymlinks,
	}, t.roots)

	scanDone := make(chan struct{})
	go func() {
		defer close(scanDone)
		defer close(entries)
		scanner.Scan(ctx, entries)
	}()

	NewWorkerPool(WorkerConfig{
		Sink:       t.sink,
		Stats:      t.opts.Stats,
		Events:     t.opts.Events,
		Fail:       t.fail,
		NumWorkers: t.opts.Workers,
		DryRun:     t.opts.DryRun,
	}).Run(ctx, entries)
	<-scanDone

	if fs, ok := t.sink.(*FSSink); ok && t.opts.Verify && !t.opts.DryRun && ctx.Err() == nil {
		t.verify(ctx, fs)
	}

	commitErr := t.sink.Commit(parent, t.errs.count())

	res := Result{
		Failures: t.errs.list(),
		Err:      t.errs.err(),
	}
	if commitErr != nil {
		res.Fatal = true
		res.Err = multierror.Append(res.Err, commitErr).ErrorOrNil()
	}
	if err := parent.Err(); err != nil {
		res.Err = multierror.Append(res.Err, err).ErrorOrNil()
	}
	res.Stats = t.opts.Stats.Snapshot()
	return res
}

func (t *Task) verify(ctx context.Context, s *FSSink) {
	vr := Verify(ctx, VerifyConfig{
		Src:     s.src,
		Dst:     s.dst,
		Files:   s.Copied(),
		Workers: t.opts.Workers,
		Stats:   t.opts.Stats,
		Events:  t.opts.Events,
	})
	for _, ve := range vr.Errors {
		err := ve.Err
		if err == nil {
			err = fmt.Errorf("%w: src %s, dst %s", ErrVerifyMismatch, ve.SrcHash, ve.DstHash)
		}
		t.errs.add(newEntryError("verify", s.src.AbsPath(ve.Path), err))
	}
}

func (t *Task) destination() string {
	if s, ok := t.sink.(*FSSink); ok {
		return s.dst.Root()
	}
	return "clipboard"
}

func fatal(op, path string, err error, c *stats.Collector) Result {
	ee := newEntryError(op, path, err)
	res := Result{Err: ee, Failures: []*EntryError{ee}, Fatal: true}
	if c != nil {
		res.Stats = c.Snapshot()
	}
	return res
}

// Copy replicates src into dst. A directory source is copied into dst
// itself; a file source is copied to dst, or into dst when dst is an
// existing directory.
func Copy(ctx context.Context, src, dst string, opts Options) Result {
	opts = opts.withDefaults()

	srcAbs, err := filepath.Abs(src)
	if err != nil {
		return fatal("source", src, err, opts.Stats)
	}
	dstAbs, err := filepath.Abs(dst)
	if err != nil {
		return fatal("destination", dst, err, opts.Stats)
	}

	info, err := statPath(opts.FS, srcAbs)
	if err != nil {
		return fatal("source", srcAbs, err, opts.Stats)
	}

	sinkOpts := FSSinkOptions{
		BWLimit:   opts.BWLimit,
		Overwrite: opts.Overwrite,
		Preserve:  opts.Preserve,
		DryRun:    opts.DryRun,
	}

	var (
		srcEP, dstEP *transport.FSEndpoint
		root         scanRoot
	)
	if info.IsDir {
		if within(dstAbs, srcAbs) {
			return fatal("destination", dstAbs,
				fmt.Errorf("%w: destination is inside the source tree", ErrDestinationConflict), opts.Stats)
		}
		srcEP = transport.NewFS(opts.FS, srcAbs)
		if _, err := srcEP.ListDir("."); err != nil {
			return fatal("source", srcAbs, err, opts.Stats)
		}
		dstEP = transport.NewFS(opts.FS, dstAbs)
		root = scanRoot{src: srcEP, rel: "."}
	} else {
		if d, err := statPath(opts.FS, dstAbs); err == nil && d.IsDir {
			dstAbs = filepath.Join(dstAbs, filepath.Base(srcAbs))
		}
		if dstAbs == srcAbs {
			return fatal("destination", dstAbs,
				fmt.Errorf("%w: source and destination are the same file", ErrDestinationConflict), opts.Stats)
		}
		srcEP = transport.NewFS(opts.FS, filepath.Dir(srcAbs))
		dstEP = transport.NewFS(opts.FS, filepath.Dir(dstAbs))
		sinkOpts.FileName = filepath.Base(dstAbs)
		root = scanRoot{src: srcEP, rel: filepath.Base(srcAbs)}
	}

	sink := NewFSSink(srcEP, dstEP, sinkOpts)
	return newTask(opts, sink, []scanRoot{root}).run(ctx)
}

// CopyToClipboard serializes the trees containing paths into one payload
// and publishes it to cb once every entry has been processed. Directory
// paths contribute their whole contents; file paths contribute themselves
// and their parent directory's tree.
func CopyToClipboard(ctx context.Context, paths []string, cb clipboard.Writer, opts ClipboardOptions) Result {
	opts.Options = opts.withDefaults()

	sources, err := ResolveSources(opts.FS, paths)
	if err != nil {
		var ee *EntryError
		if errors.As(err, &ee) {
			return fatal(ee.Op, ee.Path, ee, opts.Stats)
		}
		return fatal("source", strings.Join(paths, ","), err, opts.Stats)
	}

	roots := make([]scanRoot, len(sources.Roots))
	for i, dir := range sources.Roots {
		roots[i] = scanRoot{src: transport.NewFS(opts.FS, dir), rel: ".", index: i}
	}

	sink := NewClipboardSink(cb, sources, ClipboardSinkOptions{
		Format:    opts.Format,
		Structure: opts.Structure,
		FailFast:  opts.Policy == FailFast,
		DryRun:    opts.DryRun,
	})
	res := newTask(opts.Options, sink, roots).run(ctx)

	if text := sink.Payload(); text != "" {
		res.Payload = len(text)
		emitEvent(opts.Events, event.Event{Type: event.ClipboardPublished, Size: int64(len(text))})
	}
	return res
}

// ResolveSources turns command-line paths into tree roots. Each file
// stands for its parent directory, and directories nested inside another
// root are folded into it. Every path must exist.
func ResolveSources(fs afero.Fs, paths []string) (Sources, error) {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	if len(paths) == 0 {
		return Sources{}, &EntryError{Op: "source", Kind: ErrPathNotFound, Err: errors.New("no paths given")}
	}

	src := Sources{Files: make(map[string]bool)}
	unique := make(map[string]struct{})
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return Sources{}, newEntryError("source", p, err)
		}
		info, err := statPath(fs, abs)
		if err != nil {
			return Sources{}, newEntryError("source", abs, err)
		}
		if info.IsDir {
			unique[abs] = struct{}{}
			src.Dirs = append(src.Dirs, abs)
		} else {
			unique[filepath.Dir(abs)] = struct{}{}
			src.Files[abs] = true
		}
	}

	dirs := make([]string, 0, len(unique))
	for d := range unique {
		dirs = append(dirs, d)
	}
	sort.Strings(dirs)

	for _, d := range dirs {
		nested := false
		for _, r := range src.Roots {
			if within(d, r) {
				nested = true
				break
			}
		}
		if !nested {
			src.Roots = append(src.Roots, d)
		}
	}
	sort.Strings(src.Dirs)
	return src, nil
}

// statPath stats an absolute path, following symlinks.
func statPath(fs afero.Fs, abs string) (transport.FileEntry, error) {
	return transport.NewFS(fs, filepath.Dir(abs)).Stat(filepath.Base(abs))
}

// within reports whether path is root or lies below it.
func within(path, root string) bool {
	if path == root {
		return true
	}
	if !strings.HasSuffix(root, string(filepath.Separator)) {
		root += string(filepath.Separator)
	}
	return strings.HasPrefix(path, root)
}
