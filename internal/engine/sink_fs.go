package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/time/rate"

	"github.com/ihaveasegway/cpdr/internal/platform"
	"github.com/ihaveasegway/cpdr/internal/transport"
)

// smallFileThreshold is the size at or below which files are copied with a
// single ReadBytes/WriteBytes round trip.
const smallFileThreshold = 64 * 1024

// parentDirPerm is used for directories created ahead of their own entry.
const parentDirPerm os.FileMode = 0o755

// FSSinkOptions controls how an FSSink writes.
type FSSinkOptions struct {
	// FileName replaces the relative path of every file entry. It is set
	// when the source is a single file.
	FileName  string
	BWLimit   int64
	Overwrite bool
	Preserve  bool
	DryRun    bool
}

// FSSink replicates the tree into a destination endpoint. Regular files
// and symlinks are written under a temporary name and renamed into place.
type FSSink struct {
	src     transport.ReadEndpoint
	dst     transport.WriteEndpoint
	limiter  *rate.Limiter
	made     map[string]bool
	implicit map[string]bool
	opts     FSSinkOptions
	copied   []VerifyPair
	locks    dirLocks
	tmps     tmpRegistry
	mu       sync.Mutex
}

// NewFSSink creates a sink copying from src into dst.
func NewFSSink(src transport.ReadEndpoint, dst transport.WriteEndpoint, opts FSSinkOptions) *FSSink {
	s := &FSSink{
		src:      src,
		dst:      dst,
		opts:     opts,
		made:     map[string]bool{".": true},
		implicit: make(map[string]bool),
	}
	if opts.BWLimit > 0 {
		s.limiter = NewBWLimiter(opts.BWLimit)
	}
	return s
}

func (s *FSSink) Prepare(_ context.Context) error {
	root, err := s.dst.Lstat(".")
	switch {
	case err == nil && !root.IsDir && !root.IsSymlink:
		return fmt.Errorf("%w: %s is not a directory", ErrDestinationConflict, s.dst.Root())
	case err == nil:
		if s.opts.DryRun {
			return nil
		}
		return s.checkWritable()
	case !errors.Is(err, fs.ErrNotExist):
		return err
	}

	if s.opts.DryRun {
		return nil
	}
	if err := s.dst.MkdirAll(".", 0o755); err != nil {
		return fmt.Errorf("create destination: %w", err)
	}
	return nil
}

// checkWritable creates and removes a scratch file in an existing
// destination root.
func (s *FSSink) checkWritable() error {
	wf, err := s.dst.CreateTemp("write-check", 0o600)
	if err != nil {
		return fmt.Errorf("destination not writable: %w", err)
	}
	closeErr := wf.Close()
	if err := s.dst.Remove(wf.Name()); err != nil {
		return fmt.Errorf("destination not writable: %w", err)
	}
	return closeErr
}

// Dir creates the directory for e. A directory this sink already created
// as the parent of another entry gets its mode set here.
func (s *FSSink) Dir(_ context.Context, e TreeEntry) error {
	rel := s.dstRel(e)
	perm := e.Mode.Perm() | 0o700
	if err := s.makeDir(rel, perm); err != nil {
		return err
	}
	if rel == "." || (!s.opts.Preserve && !s.isImplicit(rel)) {
		return nil
	}
	md := e.metadata()
	md.Mode = perm
	return s.dst.SetMetadata(rel, md, transport.MetadataOpts{Mode: true})
}

func (s *FSSink) Symlink(_ context.Context, e TreeEntry) error {
	rel := s.dstRel(e)
	if !s.dst.Caps().Symlinks {
		return fmt.Errorf("symlink %s: destination does not support symlinks: %w", rel, errors.ErrUnsupported)
	}
	if err := s.prepareTarget(rel); err != nil {
		return err
	}

	tmp := transport.TempName(rel)
	if err := s.dst.Symlink(e.LinkTarget, tmp); err != nil {
		return err
	}
	if err := s.dst.Rename(tmp, rel); err != nil {
		_ = s.dst.Remove(tmp)
		return err
	}
	return nil
}

func (s *FSSink) File(ctx context.Context, e TreeEntry) (int64, error) {
	rel := s.dstRel(e)
	if err := s.prepareTarget(rel); err != nil {
		return 0, err
	}

	var (
		n   int64
		err error
	)
	if e.Size <= smallFileThreshold && !s.opts.Preserve && s.limiter == nil {
		n, err = s.copySmall(e, rel)
	} else {
		n, err = s.copyStream(ctx, e, rel)
	}
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	s.copied = append(s.copied, VerifyPair{SrcRel: e.RelPath, DstRel: rel})
	s.mu.Unlock()
	return n, nil
}

// Commit removes temp files left behind by cancelled copies.
func (s *FSSink) Commit(_ context.Context, _ int) error {
	s.tmps.cleanup(s.dst.Remove)
	return nil
}

// Copied returns the source/destination pairs of every regular file written.
func (s *FSSink) Copied() []VerifyPair {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]VerifyPair, len(s.copied))
	copy(out, s.copied)
	return out
}

func (s *FSSink) dstRel(e TreeEntry) string {
	if s.opts.FileName != "" && e.Type != DirEntry {
		return s.opts.FileName
	}
	return e.RelPath
}

func (s *FSSink) copySmall(e TreeEntry, rel string) (int64, error) {
	data, err := e.Src.ReadBytes(e.RelPath)
	if err != nil {
		return 0, fmt.Errorf("read: %w", err)
	}
	if err := s.dst.WriteBytes(rel, data, e.Mode.Perm()); err != nil {
		return 0, fmt.Errorf("write: %w", err)
	}
	return int64(len(data)), nil
}

func (s *FSSink) copyStream(ctx context.Context, e TreeEntry, rel string) (int64, error) {
	wf, err := s.dst.CreateTemp(rel, e.Mode.Perm())
	if err != nil {
		return 0, fmt.Errorf("create tmp: %w", err)
	}
	tmp := wf.Name()

	s.tmps.register(tmp)
	defer func() {
		s.tmps.deregister(tmp)
		_ = s.dst.Remove(tmp) // no-op if rename succeeded
	}()

	n, err := s.copyData(ctx, e, wf)
	if err != nil {
		wf.Close()
		return 0, fmt.Errorf("copy data: %w", err)
	}
	if err := wf.Close(); err != nil {
		return 0, fmt.Errorf("close tmp: %w", err)
	}

	if s.opts.Preserve {
		if err := s.dst.SetMetadata(tmp, e.metadata(), transport.MetadataOpts{Mode: true, Times: true}); err != nil {
			return 0, err
		}
	}

	if err := s.dst.Rename(tmp, rel); err != nil {
		return 0, fmt.Errorf("rename: %w", err)
	}
	return n, nil
}

func (s *FSSink) copyData(ctx context.Context, e TreeEntry, wf transport.WriteFile) (int64, error) {
	if fd := transport.OSFile(wf); fd != nil && s.limiter == nil && e.Src.Caps().FastCopy {
		result, err := platform.CopyFile(platform.CopyFileParams{
			DstFd:   fd,
			SrcPath: e.Src.AbsPath(e.RelPath),
			SrcSize: e.Size,
		})
		return result.BytesWritten, err
	}

	rc, err := e.Src.OpenRead(e.RelPath)
	if err != nil {
		return 0, err
	}
	defer rc.Close()

	var r io.Reader = ctxReader{ctx: ctx, r: rc}
	if s.limiter != nil {
		r = newRateLimitedReader(ctx, r, s.limiter)
	}

	bufp := platform.GetBuffer()
	defer platform.PutBuffer(bufp)
	return io.CopyBuffer(writerOnly{wf}, r, *bufp)
}

// prepareTarget makes sure the parent of rel exists and that nothing at
// rel blocks a file or symlink from being renamed into place.
func (s *FSSink) prepareTarget(rel string) error {
	if err := s.makeParent(filepath.Dir(rel)); err != nil {
		return err
	}

	existing, err := s.dst.Lstat(rel)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return nil
	case err != nil:
		return err
	case existing.IsDir:
		return fmt.Errorf("%w: %s is a directory", ErrDestinationConflict, s.dst.AbsPath(rel))
	case !s.opts.Overwrite:
		return fmt.Errorf("%w: %s already exists", ErrDestinationConflict, s.dst.AbsPath(rel))
	}
	return nil
}

// makeDir creates rel and any missing parents. An existing directory is
// reused; anything else in the way is replaced only with Overwrite.
func (s *FSSink) makeDir(rel string, perm os.FileMode) error {
	return s.mkdir(rel, perm, false)
}

// makeParent creates rel ahead of its own directory entry.
func (s *FSSink) makeParent(rel string) error {
	return s.mkdir(rel, parentDirPerm, true)
}

func (s *FSSink) mkdir(rel string, perm os.FileMode, implicit bool) error {
	if s.isMade(rel) {
		return nil
	}

	parent := filepath.Dir(rel)
	if err := s.makeParent(parent); err != nil {
		return err
	}

	unlock := s.locks.lock(parent)
	defer unlock()

	if s.isMade(rel) {
		return nil
	}

	existing, err := s.dst.Lstat(rel)
	switch {
	case err == nil && existing.IsDir:
		s.markMade(rel)
		return nil
	case err == nil:
		if !s.opts.Overwrite {
			return fmt.Errorf("%w: %s exists and is not a directory", ErrDestinationConflict, s.dst.AbsPath(rel))
		}
		if err := s.dst.Remove(rel); err != nil {
			return fmt.Errorf("replace %s: %w", rel, err)
		}
	case !errors.Is(err, fs.ErrNotExist):
		return err
	}

	if err := s.dst.MkdirAll(rel, perm); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}
	s.mu.Lock()
	s.made[rel] = true
	if implicit {
		s.implicit[rel] = true
	}
	s.mu.Unlock()
	return nil
}

func (s *FSSink) isImplicit(rel string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.implicit[rel]
}

func (s *FSSink) isMade(rel string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.made[rel]
}

func (s *FSSink) markMade(rel string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.made[rel] = true
}

// writerOnly hides ReaderFrom so io.CopyBuffer uses the pooled buffer.
type writerOnly struct {
	io.Writer
}
