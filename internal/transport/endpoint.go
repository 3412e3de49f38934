package transport

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/afero"
	"github.com/zeebo/blake3"
)

// Compile-time interface checks.
var (
	_ ReadEndpoint  = (*FSEndpoint)(nil)
	_ WriteEndpoint = (*FSEndpoint)(nil)
)

// FSEndpoint reads and writes through an afero.Fs rooted at a directory.
// With an OS-backed Fs it is the local filesystem; tests swap in memory or
// read-only filesystems.
type FSEndpoint struct {
	fs    afero.Fs
	root  string
	local bool
}

// NewFS creates an endpoint on fs rooted at root.
func NewFS(fs afero.Fs, root string) *FSEndpoint {
	_, local := fs.(*afero.OsFs)
	return &FSEndpoint{fs: fs, root: filepath.Clean(root), local: local}
}

func (e *FSEndpoint) Root() string { return e.root }

// Fs returns the backing filesystem.
func (e *FSEndpoint) Fs() afero.Fs { return e.fs }

func (e *FSEndpoint) Caps() Capabilities {
	_, symlinks := e.fs.(afero.Linker)
	return Capabilities{
		FastCopy: e.local,
		Symlinks: symlinks,
	}
}

func (e *FSEndpoint) AbsPath(relPath string) string {
	return filepath.Join(e.root, relPath)
}

func (e *FSEndpoint) Lstat(relPath string) (FileEntry, error) {
	absPath := e.AbsPath(relPath)
	info, err := e.lstat(absPath)
	if err != nil {
		return FileEntry{}, err
	}
	return e.toEntry(info, relPath, absPath), nil
}

func (e *FSEndpoint) Stat(relPath string) (FileEntry, error) {
	absPath := e.AbsPath(relPath)
	info, err := e.fs.Stat(absPath)
	if err != nil {
		return FileEntry{}, err
	}
	return e.toEntry(info, relPath, absPath), nil
}

func (e *FSEndpoint) ListDir(relPath string) ([]FileEntry, error) {
	absPath := e.AbsPath(relPath)
	infos, err := afero.ReadDir(e.fs, absPath)
	if err != nil {
		return nil, err
	}

	entries := make([]FileEntry, 0, len(infos))
	for _, info := range infos {
		childRel := filepath.Join(relPath, info.Name())
		entries = append(entries, e.toEntry(info, childRel, filepath.Join(absPath, info.Name())))
	}
	return entries, nil
}

func (e *FSEndpoint) OpenRead(relPath string) (io.ReadCloser, error) {
	return e.fs.Open(e.AbsPath(relPath))
}

func (e *FSEndpoint) ReadBytes(relPath string) ([]byte, error) {
	return afero.ReadFile(e.fs, e.AbsPath(relPath))
}

func (e *FSEndpoint) Hash(relPath string) (string, error) {
	f, err := e.fs.Open(e.AbsPath(relPath))
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := blake3.New()
	buf := make([]byte, 32*1024)
	if _, err := io.CopyBuffer(h, f, buf); err != nil {
		return "", fmt.Errorf("hash %s: %w", relPath, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func (e *FSEndpoint) MkdirAll(relPath string, perm os.FileMode) error {
	return e.fs.MkdirAll(e.AbsPath(relPath), perm)
}

//nolint:ireturn // implements WriteEndpoint interface
func (e *FSEndpoint) CreateTemp(relPath string, perm os.FileMode) (WriteFile, error) {
	tmpRel := TempName(relPath)
	f, err := e.fs.OpenFile(e.AbsPath(tmpRel), os.O_WRONLY|os.O_CREATE|os.O_EXCL, perm)
	if err != nil {
		return nil, err
	}
	return &writeFile{File: f, relPath: tmpRel}, nil
}

func (e *FSEndpoint) WriteBytes(relPath string, data []byte, perm os.FileMode) (err error) {
	wf, err := e.CreateTemp(relPath, perm)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = e.Remove(wf.Name())
		}
	}()

	if _, err = wf.Write(data); err != nil {
		wf.Close()
		return err
	}
	if err = wf.Close(); err != nil {
		return err
	}
	return e.Rename(wf.Name(), relPath)
}

func (e *FSEndpoint) Rename(oldRel, newRel string) error {
	return e.fs.Rename(e.AbsPath(oldRel), e.AbsPath(newRel))
}

func (e *FSEndpoint) Remove(relPath string) error {
	return e.fs.Remove(e.AbsPath(relPath))
}

func (e *FSEndpoint) Symlink(target, newRel string) error {
	linker, ok := e.fs.(afero.Linker)
	if !ok {
		return &os.LinkError{Op: "symlink", Old: target, New: e.AbsPath(newRel), Err: afero.ErrNoSymlink}
	}
	return linker.SymlinkIfPossible(target, e.AbsPath(newRel))
}

func (e *FSEndpoint) SetMetadata(relPath string, entry FileEntry, opts MetadataOpts) error {
	absPath := e.AbsPath(relPath)

	if opts.Mode {
		if err := e.fs.Chmod(absPath, entry.Mode.Perm()); err != nil {
			return fmt.Errorf("chmod %s: %w", relPath, err)
		}
	}
	if opts.Times {
		atime := entry.AccTime
		if atime.IsZero() {
			atime = entry.ModTime
		}
		if err := e.fs.Chtimes(absPath, atime, entry.ModTime); err != nil {
			return fmt.Errorf("chtimes %s: %w", relPath, err)
		}
	}
	return nil
}

func (e *FSEndpoint) lstat(absPath string) (os.FileInfo, error) {
	if l, ok := e.fs.(afero.Lstater); ok {
		info, _, err := l.LstatIfPossible(absPath)
		return info, err
	}
	return e.fs.Stat(absPath)
}

func (e *FSEndpoint) toEntry(info os.FileInfo, relPath, absPath string) FileEntry {
	entry := FileEntry{
		RelPath: relPath,
		Size:    info.Size(),
		Mode:    info.Mode(),
		ModTime: info.ModTime(),
		IsDir:   info.IsDir(),
	}

	if info.Mode()&os.ModeSymlink != 0 {
		entry.IsSymlink = true
		if r, ok := e.fs.(afero.LinkReader); ok {
			if target, err := r.ReadlinkIfPossible(absPath); err == nil {
				entry.LinkTarget = target
			}
		}
	}

	fillStatFields(info, &entry)
	return entry
}

// writeFile wraps afero.File to implement WriteFile.
type writeFile struct {
	afero.File
	relPath string
}

// Name returns the relative path of the temp file within the endpoint root,
// so callers can hand it back to Rename and Remove.
func (f *writeFile) Name() string {
	return f.relPath
}

// OSFile extracts the underlying *os.File from a WriteFile created on the
// OS filesystem. Returns nil otherwise.
func OSFile(wf WriteFile) *os.File {
	if f, ok := wf.(*writeFile); ok {
		if of, ok := f.File.(*os.File); ok {
			return of
		}
	}
	return nil
}

// TempName returns a unique sibling name for relPath that IsTemp recognizes.
func TempName(relPath string) string {
	base := fmt.Sprintf(".%s.%s%s", filepath.Base(relPath), uuid.New().String()[:8], TempSuffix)
	return filepath.Join(filepath.Dir(relPath), base)
}

// IsTemp reports whether name looks like a CreateTemp file.
func IsTemp(name string) bool {
	base := filepath.Base(name)
	return strings.HasPrefix(base, ".") && strings.HasSuffix(base, TempSuffix)
}
