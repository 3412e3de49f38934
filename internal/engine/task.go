package engine

import (
	"os"
	"time"

	"github.com/ihaveasegway/cpdr/internal/transport"
)

// EntryType identifies the kind of a tree entry.
type EntryType int

const (
	FileEntry EntryType = iota
	DirEntry
	SymlinkEntry
)

func (t EntryType) String() string {
	switch t {
	case FileEntry:
		return "file"
	case DirEntry:
		return "dir"
	case SymlinkEntry:
		return "symlink"
	default:
		return "unknown"
	}
}

// devIno identifies a directory for cycle detection.
type devIno struct {
	Dev uint64
	Ino uint64
}

// TreeEntry is one node visited during traversal. A followed symlink is
// reported with the type and metadata of its target.
type TreeEntry struct {
	Src        transport.ReadEndpoint // endpoint the entry was read from
	ModTime    time.Time
	AccTime    time.Time
	RelPath    string // relative to Src's root; "." for a directory root
	LinkTarget string
	Size       int64
	Dev        uint64
	Ino        uint64
	Root       int // index of the scan root, for multi-root clipboard runs
	Depth      int // number of path components below the root
	Mode       os.FileMode
	Type       EntryType
}

// AbsPath returns the entry's path on the source filesystem.
func (e TreeEntry) AbsPath() string {
	return e.Src.AbsPath(e.RelPath)
}

func (e TreeEntry) metadata() transport.FileEntry {
	return transport.FileEntry{
		RelPath: e.RelPath,
		Mode:    e.Mode,
		ModTime: e.ModTime,
		AccTime: e.AccTime,
		Size:    e.Size,
	}
}

func entryFrom(src transport.ReadEndpoint, fe transport.FileEntry, root, depth int) TreeEntry {
	e := TreeEntry{
		Src:        src,
		RelPath:    fe.RelPath,
		LinkTarget: fe.LinkTarget,
		Size:       fe.Size,
		Mode:       fe.Mode,
		ModTime:    fe.ModTime,
		AccTime:    fe.AccTime,
		Dev:        fe.Dev,
		Ino:        fe.Ino,
		Root:       root,
		Depth:      depth,
	}
	switch {
	case fe.IsSymlink:
		e.Type = SymlinkEntry
		e.Size = 0
	case fe.IsDir:
		e.Type = DirEntry
		e.Size = 0
	default:
		e.Type = FileEntry
	}
	return e
}

// scanRoot is one tree the scanner walks.
type scanRoot struct {
	src   transport.ReadEndpoint
	rel   string // "." for a directory, the base name for a single file
	index int
}
