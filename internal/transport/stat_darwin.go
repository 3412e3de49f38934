//go:build darwin

package transport

import (
	"os"
	"syscall"
	"time"
)

// fillStatFields extracts platform-specific fields from syscall.Stat_t into a FileEntry.
func fillStatFields(info os.FileInfo, entry *FileEntry) {
	stat, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return
	}
	entry.Dev = uint64(stat.Dev) //nolint:gosec // G115: dev_t is int32 on darwin, always non-negative
	entry.Ino = stat.Ino
	entry.AccTime = time.Unix(stat.Atimespec.Sec, stat.Atimespec.Nsec)
}
