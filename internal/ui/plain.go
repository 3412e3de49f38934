package ui

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/ihaveasegway/cpdr/internal/event"
	"github.com/ihaveasegway/cpdr/internal/stats"
)

const progressInterval = 5 * time.Second

// plainPresenter writes one line per notable event to w and periodic
// progress to errW.
type plainPresenter struct {
	lastTick time.Time
	w        io.Writer
	errW     io.Writer
	stats    stats.ReadTicker
	theme    Theme
	root     string
	width    int
	verbose  bool
	tty      bool
}

func (p *plainPresenter) Run(events <-chan event.Event) error {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			p.handleEvent(ev)
		case now := <-ticker.C:
			if p.stats == nil {
				continue
			}
			p.stats.Tick()
			if p.lastTick.IsZero() {
				p.lastTick = now
			}
			if now.Sub(p.lastTick) >= progressInterval {
				p.lastTick = now
				p.printProgress()
			}
		}
	}
}

func (p *plainPresenter) handleEvent(ev event.Event) {
	path := StripRoot(p.root, ev.Path)
	switch ev.Type {
	case event.FileCompleted:
		if p.verbose {
			fmt.Fprintf(p.w, "%s  %s\n", path, FormatBytes(ev.Size))
		}
	case event.DirCreated, event.SymlinkCreated:
		if p.verbose {
			fmt.Fprintf(p.w, "%s\n", path)
		}
	case event.FileFailed:
		errMsg := "error"
		if ev.Error != nil {
			errMsg = ev.Error.Error()
		}
		fmt.Fprintf(p.errW, "%s  %s\n", p.theme.Failure.Render("failed:"), errMsg)
	case event.FileSkipped:
		if p.verbose {
			fmt.Fprintf(p.w, "%s  skipped\n", path)
		}
	case event.VerifyStarted:
		fmt.Fprintln(p.errW, "verifying...")
	case event.VerifyFailed:
		fmt.Fprintf(p.errW, "MISMATCH: %s\n", path)
	case event.ClipboardPublished:
		fmt.Fprintf(p.errW, "copied %s to clipboard\n", FormatBytes(ev.Size))
	case event.ScanStarted, event.ScanComplete, event.VerifyOK:
		// totals and verify progress are read from the collector
	}
}

func (p *plainPresenter) printProgress() {
	snap := p.stats.Snapshot()
	done := snap.FilesCopied + snap.DirsCreated + snap.SymlinksCreated + snap.FilesFailed
	speed := p.stats.RollingSpeed(10)
	if snap.BytesTotal > 0 {
		pct := float64(snap.BytesCopied) / float64(snap.BytesTotal)
		bar := ""
		if p.tty {
			bar = ProgressBar(pct, barWidth(p.width)) + " "
		}
		fmt.Fprintf(p.errW, "progress: %s%.0f%% %s/%s %s/%s entries %s\n",
			bar,
			pct*100,
			FormatBytes(snap.BytesCopied), FormatBytes(snap.BytesTotal),
			FormatCount(done), FormatCount(snap.EntriesTotal),
			FormatRate(speed),
		)
		return
	}
	fmt.Fprintf(p.errW, "progress: %s copied %s entries\n",
		FormatBytes(snap.BytesCopied),
		FormatCount(done),
	)
}

func (p *plainPresenter) Summary() string {
	if p.stats == nil {
		return ""
	}
	return p.theme.Render(p.stats.Snapshot())
}

// StripRoot returns path relative to root when path lies beneath it.
func StripRoot(root, path string) string {
	if root == "" {
		return path
	}
	if !strings.HasSuffix(root, string(filepath.Separator)) {
		root += string(filepath.Separator)
	}
	if strings.HasPrefix(path, root) {
		return path[len(root):]
	}
	return path
}

// barWidth gives the progress bar a quarter of the terminal, within limits.
func barWidth(cols int) int {
	return min(max(cols/4, 10), 40)
}
