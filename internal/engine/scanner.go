package engine

import (
	"context"
	"fmt"

	"github.com/ihaveasegway/cpdr/internal/event"
	"github.com/ihaveasegway/cpdr/internal/filter"
	"github.com/ihaveasegway/cpdr/internal/stats"
	"github.com/ihaveasegway/cpdr/internal/transport"
)

// maxFollowDepth bounds symlink-followed nesting on filesystems that do
// not report inode numbers.
const maxFollowDepth = 255

// ancestors is the chain of directories from a scan root down to the
// directory being listed. Each child extends its parent's chain, so a
// directory reached twice through sibling links is not a cycle.
type ancestors struct {
	parent *ancestors
	id     devIno
	depth  int
	known  bool
}

func (a *ancestors) push(fe transport.FileEntry) *ancestors {
	n := &ancestors{parent: a, id: devIno{Dev: fe.Dev, Ino: fe.Ino}, known: fe.HasInode()}
	if a != nil {
		n.depth = a.depth + 1
	}
	return n
}

func (a *ancestors) contains(fe transport.FileEntry) bool {
	if !fe.HasInode() {
		return false
	}
	id := devIno{Dev: fe.Dev, Ino: fe.Ino}
	for n := a; n != nil; n = n.parent {
		if n.known && n.id == id {
			return true
		}
	}
	return false
}

// loops reports whether following a link to fe must stop. Without inode
// numbers cycles cannot be seen, so only the nesting bound applies.
func (a *ancestors) loops(fe transport.FileEntry) bool {
	if fe.HasInode() {
		return a.contains(fe)
	}
	return a != nil && a.depth >= maxFollowDepth
}

// ScannerConfig controls scanner behavior.
type ScannerConfig struct {
	Filter         *filter.Chain
	Stats          stats.Writer
	Events         chan<- event.Event
	Fail           func(op, path string, err error)
	MaxDepth       int
	FollowSymlinks bool
}

// Scanner walks its roots depth-first in lexicographic order and emits one
// TreeEntry per node. Directories are emitted before their children.
type Scanner struct {
	cfg        ScannerConfig
	roots      []scanRoot
	totalCount int64
	totalSize  int64
}

func newScanner(cfg ScannerConfig, roots []scanRoot) *Scanner {
	if cfg.Fail == nil {
		cfg.Fail = func(string, string, error) {}
	}
	return &Scanner{cfg: cfg, roots: roots}
}

// Scan sends every entry to out. It returns when the walk finishes or ctx
// is cancelled; it does not close out.
func (s *Scanner) Scan(ctx context.Context, out chan<- TreeEntry) {
	emitEvent(s.cfg.Events, event.Event{Type: event.ScanStarted})

	for _, root := range s.roots {
		if ctx.Err() != nil {
			break
		}
		s.scanRoot(ctx, root, out)
	}

	emitEvent(s.cfg.Events, event.Event{
		Type:      event.ScanComplete,
		Total:     s.totalCount,
		TotalSize: s.totalSize,
	})
}

func (s *Scanner) scanRoot(ctx context.Context, root scanRoot, out chan<- TreeEntry) {
	fe, err := root.src.Stat(root.rel)
	if err != nil {
		s.cfg.Fail("stat", root.src.AbsPath(root.rel), err)
		return
	}

	e := entryFrom(root.src, fe, root.index, 0)
	if !s.send(ctx, out, e) || e.Type != DirEntry {
		return
	}
	s.walk(ctx, root, root.rel, 0, (*ancestors)(nil).push(fe), out)
}

func (s *Scanner) walk(
	ctx context.Context,
	root scanRoot,
	dirRel string,
	depth int,
	chain *ancestors,
	out chan<- TreeEntry,
) {
	children, err := root.src.ListDir(dirRel)
	if err != nil {
		s.cfg.Fail("readdir", root.src.AbsPath(dirRel), err)
		return
	}

	for _, child := range children {
		if ctx.Err() != nil {
			return
		}

		d := depth + 1
		if s.cfg.MaxDepth > 0 && d > s.cfg.MaxDepth {
			continue
		}

		e := entryFrom(root.src, child, root.index, d)
		dirInfo := child

		// Leftovers of an interrupted copy.
		if e.Type == FileEntry && transport.IsTemp(child.RelPath) {
			s.skip(e)
			continue
		}

		if child.IsSymlink && s.cfg.FollowSymlinks {
			target, err := root.src.Stat(child.RelPath)
			if err != nil {
				s.cfg.Fail("follow", e.AbsPath(), err)
				continue
			}
			if target.IsDir && chain.loops(target) {
				s.cfg.Fail("follow", e.AbsPath(),
					fmt.Errorf("%w: %s -> %s re-enters an ancestor", ErrCyclicSymlink, child.RelPath, child.LinkTarget))
				continue
			}
			e = entryFrom(root.src, target, root.index, d)
			dirInfo = target
		}

		if e.Type == FileEntry && !e.Mode.IsRegular() {
			s.skip(e)
			continue
		}
		if !s.cfg.Filter.Match(e.RelPath, e.Type == DirEntry, e.Size) {
			s.skip(e)
			continue
		}

		if !s.send(ctx, out, e) {
			return
		}
		if e.Type == DirEntry {
			s.walk(ctx, root, e.RelPath, d, chain.push(dirInfo), out)
		}
	}
}

func (s *Scanner) send(ctx context.Context, out chan<- TreeEntry, e TreeEntry) bool {
	s.totalCount++
	s.totalSize += e.Size
	if s.cfg.Stats != nil {
		s.cfg.Stats.AddEntriesTotal(1)
		s.cfg.Stats.AddBytesTotal(e.Size)
	}

	select {
	case out <- e:
		return true
	case <-ctx.Done():
		return false
	}
}

func (s *Scanner) skip(e TreeEntry) {
	if s.cfg.Stats != nil {
		s.cfg.Stats.AddFilesSkipped(1)
	}
	emitEvent(s.cfg.Events, event.Event{Type: event.FileSkipped, Path: e.RelPath, Size: e.Size})
}
