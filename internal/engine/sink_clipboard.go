package engine

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/ihaveasegway/cpdr/internal/clipboard"
	"github.com/ihaveasegway/cpdr/internal/payload"
)

// ClipboardSinkOptions controls payload assembly and publication.
type ClipboardSinkOptions struct {
	Format    payload.Format
	Structure bool // tree only, no file contents
	FailFast  bool // publish nothing if any entry failed
	DryRun    bool
}

// ClipboardSink accumulates tree fragments and file contents and publishes
// the rendered payload in a single WriteAll.
type ClipboardSink struct {
	cb      clipboard.Writer
	sources Sources
	files   map[string]payload.File
	trees   [][]payload.Entry
	seen    []bool
	payload string
	opts    ClipboardSinkOptions
	mu      sync.Mutex
}

// NewClipboardSink creates a sink publishing to cb. The sources decide the
// tree roots and which file contents are included.
func NewClipboardSink(cb clipboard.Writer, sources Sources, opts ClipboardSinkOptions) *ClipboardSink {
	return &ClipboardSink{
		cb:      cb,
		sources: sources,
		files:   make(map[string]payload.File),
		trees:   make([][]payload.Entry, len(sources.Roots)),
		seen:    make([]bool, len(sources.Roots)),
		opts:    opts,
	}
}

func (s *ClipboardSink) Prepare(_ context.Context) error {
	if s.cb == nil {
		return fmt.Errorf("%w: no clipboard configured", ErrClipboardUnavailable)
	}
	if s.opts.DryRun {
		return nil
	}
	if c, ok := s.cb.(clipboard.Checker); ok {
		if err := c.Available(); err != nil {
			return fmt.Errorf("%w: %w", ErrClipboardUnavailable, err)
		}
	}
	return nil
}

func (s *ClipboardSink) Dir(_ context.Context, e TreeEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.RelPath == "." {
		s.seen[e.Root] = true
		return nil
	}
	s.trees[e.Root] = append(s.trees[e.Root], payload.Entry{RelPath: e.RelPath, Type: payload.DirNode})
	return nil
}

func (s *ClipboardSink) Symlink(_ context.Context, e TreeEntry) error {
	s.addNode(e.Root, payload.Entry{RelPath: e.RelPath, Type: payload.SymlinkNode, Target: e.LinkTarget})
	return nil
}

func (s *ClipboardSink) File(_ context.Context, e TreeEntry) (int64, error) {
	s.addNode(e.Root, payload.Entry{RelPath: e.RelPath, Type: payload.FileNode})

	abs := e.AbsPath()
	if s.opts.Structure || !s.sources.includes(abs) {
		return 0, nil
	}

	data, err := e.Src.ReadBytes(e.RelPath)
	if err != nil {
		s.addFile(payload.File{Path: abs, Error: err.Error()})
		return 0, fmt.Errorf("read: %w", err)
	}
	s.addFile(payload.File{Path: abs, Content: string(data)})
	return int64(len(data)), nil
}

// Commit renders the payload and publishes it. Nothing is published on a
// dry run, after cancellation, or with FailFast when an entry failed.
func (s *ClipboardSink) Commit(ctx context.Context, failed int) error {
	if s.opts.DryRun || ctx.Err() != nil || (s.opts.FailFast && failed > 0) {
		return nil
	}

	text, err := payload.Render(s.document(), s.opts.Format)
	if err != nil {
		return err
	}
	if err := s.cb.WriteAll(text); err != nil {
		return fmt.Errorf("%w: %w", ErrClipboardUnavailable, err)
	}

	s.mu.Lock()
	s.payload = text
	s.mu.Unlock()
	return nil
}

// Payload returns the text published by Commit.
func (s *ClipboardSink) Payload() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.payload
}

func (s *ClipboardSink) document() payload.Document {
	s.mu.Lock()
	defer s.mu.Unlock()

	var doc payload.Document
	for i, root := range s.sources.Roots {
		t := payload.Tree{Root: filepath.ToSlash(root)}
		if s.seen[i] {
			t.Node = payload.BuildTree(filepath.Base(root), s.trees[i])
		}
		doc.Trees = append(doc.Trees, t)
	}

	if s.opts.Structure {
		return doc
	}
	for _, f := range s.files {
		doc.Files = append(doc.Files, f)
	}
	sort.Slice(doc.Files, func(i, j int) bool {
		return doc.Files[i].Path < doc.Files[j].Path
	})
	return doc
}

func (s *ClipboardSink) addNode(root int, e payload.Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trees[root] = append(s.trees[root], e)
}

func (s *ClipboardSink) addFile(f payload.File) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[f.Path] = f
}

// Sources is the resolved form of the paths given to CopyToClipboard.
type Sources struct {
	Files map[string]bool // file arguments, by absolute path
	Roots []string        // top-level directories, one tree each
	Dirs  []string        // directory arguments
}

// includes reports whether the contents of abs belong in the payload: it
// lies under a directory argument or is itself a file argument.
func (s Sources) includes(abs string) bool {
	if s.Files[abs] {
		return true
	}
	for _, d := range s.Dirs {
		if abs == d || strings.HasPrefix(abs, d+string(filepath.Separator)) {
			return true
		}
	}
	return false
}
