// Package transport is the narrow filesystem collaborator the copy engine
// reads from and writes to. Endpoints address entries by paths relative to
// their root.
package transport

import (
	"io"
	"os"
	"time"
)

// TempSuffix marks in-progress files written by CreateTemp.
const TempSuffix = ".cpdr-tmp"

// FileEntry describes a single filesystem entry.
type FileEntry struct {
	ModTime    time.Time
	AccTime    time.Time
	LinkTarget string
	RelPath    string
	Size       int64
	Ino        uint64
	Dev        uint64
	Mode       os.FileMode
	IsSymlink  bool
	IsDir      bool
}

// IsRegular reports whether the entry is a regular file.
func (e FileEntry) IsRegular() bool {
	return e.Mode.IsRegular()
}

// HasInode reports whether Dev/Ino were filled in by the platform.
func (e FileEntry) HasInode() bool {
	return e.Ino != 0
}

// Capabilities describes what an endpoint supports.
type Capabilities struct {
	FastCopy bool // backed by the OS filesystem; AbsPath is usable with raw fds
	Symlinks bool
}

// MetadataOpts controls which metadata SetMetadata applies.
type MetadataOpts struct {
	Mode  bool
	Times bool
}

// WriteFile is a writable temp file on the endpoint.
type WriteFile interface {
	io.WriteCloser
	// Name returns the path of the temp file relative to the endpoint root.
	Name() string
}

// ReadEndpoint is the source side of a copy.
type ReadEndpoint interface {
	// Lstat returns metadata for relPath without following a final symlink.
	Lstat(relPath string) (FileEntry, error)

	// Stat returns metadata for relPath, following symlinks.
	Stat(relPath string) (FileEntry, error)

	// ListDir lists the immediate children of relPath, sorted by name.
	ListDir(relPath string) ([]FileEntry, error)

	// OpenRead opens a file for streaming reads.
	OpenRead(relPath string) (io.ReadCloser, error)

	// ReadBytes reads a whole file.
	ReadBytes(relPath string) ([]byte, error)

	// Hash computes the BLAKE3 hash of a file, hex encoded.
	Hash(relPath string) (string, error)

	// AbsPath maps relPath onto the endpoint's backing filesystem.
	AbsPath(relPath string) string

	Root() string
	Caps() Capabilities
}

// WriteEndpoint is the destination side of a copy.
type WriteEndpoint interface {
	// Lstat returns metadata for relPath without following a final symlink.
	Lstat(relPath string) (FileEntry, error)

	// MkdirAll creates a directory and all parents.
	MkdirAll(relPath string, perm os.FileMode) error

	// CreateTemp creates a temporary file in the same directory as relPath.
	// The caller must close the returned WriteFile.
	CreateTemp(relPath string, perm os.FileMode) (WriteFile, error)

	// WriteBytes atomically replaces relPath with data.
	WriteBytes(relPath string, data []byte, perm os.FileMode) error

	// Rename atomically moves oldRel to newRel.
	Rename(oldRel, newRel string) error

	// Remove deletes a single file, symlink, or empty directory.
	Remove(relPath string) error

	// Symlink creates a symbolic link at newRel pointing to target.
	Symlink(target, newRel string) error

	// SetMetadata applies the entry's metadata to relPath according to opts.
	SetMetadata(relPath string, entry FileEntry, opts MetadataOpts) error

	// Hash computes the BLAKE3 hash of a file, hex encoded.
	Hash(relPath string) (string, error)

	// AbsPath maps relPath onto the endpoint's backing filesystem.
	AbsPath(relPath string) string

	Root() string
	Caps() Capabilities
}
