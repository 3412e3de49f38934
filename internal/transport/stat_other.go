//go:build !linux && !darwin

package transport

import "os"

// fillStatFields is a no-op where inode numbers are not exposed; symlink
// cycle detection then falls back to a depth bound.
func fillStatFields(_ os.FileInfo, _ *FileEntry) {}
