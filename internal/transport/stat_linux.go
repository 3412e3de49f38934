//go:build linux

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
	entry.Dev = stat.Dev
	entry.Ino = stat.Ino
	entry.AccTime = time.Unix(stat.Atim.Sec, stat.Atim.Nsec)
}
