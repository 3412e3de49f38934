package ui

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"

	"github.com/ihaveasegway/cpdr/internal/config"
	"github.com/ihaveasegway/cpdr/internal/stats"
)

// Default summary colors (Catppuccin Mocha).
const (
	defaultSuccess = "#a6e3a1"
	defaultFailure = "#f38ba8"
	defaultMuted   = "#5a6278"
)

// Theme styles the completion summary.
type Theme struct {
	Success lipgloss.Style
	Failure lipgloss.Style
	Muted   lipgloss.Style
}

// NewTheme builds a Theme, applying any overrides from tc.
func NewTheme(tc config.ThemeConfig) Theme {
	color := func(override *string, def string) lipgloss.Color {
		if override != nil && *override != "" {
			return lipgloss.Color(*override)
		}
		return lipgloss.Color(def)
	}
	return Theme{
		Success: lipgloss.NewStyle().Foreground(color(tc.Success, defaultSuccess)),
		Failure: lipgloss.NewStyle().Foreground(color(tc.Failure, defaultFailure)).Bold(true),
		Muted:   lipgloss.NewStyle().Foreground(color(tc.Muted, defaultMuted)),
	}
}

// Render styles the summary line for snap.
func (t Theme) Render(snap stats.Snapshot) string {
	line := CompletionSummary(snap)
	if snap.FilesFailed > 0 || snap.FilesVerifyFailed > 0 {
		return t.Failure.Render(line)
	}
	return t.Success.Render(line)
}

// CompletionSummary builds a final summary line from a snapshot.
// Format: done ✓  files 48,917  dirs 1,204  size 2.1 GB  avg 641 MB/s  time 3m 17s  errors 0
func CompletionSummary(snap stats.Snapshot) string {
	avgSpeed := 0.0
	if snap.Elapsed.Seconds() > 0 {
		avgSpeed = float64(snap.BytesCopied) / snap.Elapsed.Seconds()
	}

	icon := "✓"
	if snap.FilesFailed > 0 || snap.FilesVerifyFailed > 0 {
		icon = "✗"
	}

	base := fmt.Sprintf("done %s  files %s  dirs %s",
		icon,
		FormatCount(snap.FilesCopied),
		FormatCount(snap.DirsCreated),
	)
	if snap.SymlinksCreated > 0 {
		base += fmt.Sprintf("  symlinks %s", FormatCount(snap.SymlinksCreated))
	}
	base += fmt.Sprintf("  size %s  avg %s  time %s",
		FormatBytes(snap.BytesCopied),
		FormatRate(avgSpeed),
		FormatDuration(snap.Elapsed),
	)

	if snap.FilesSkipped > 0 {
		base += fmt.Sprintf("  skipped %s", FormatCount(snap.FilesSkipped))
	}
	if snap.FilesVerified > 0 || snap.FilesVerifyFailed > 0 {
		base += fmt.Sprintf("  verified %s", FormatCount(snap.FilesVerified))
	}

	base += fmt.Sprintf("  errors %d", snap.FilesFailed+snap.FilesVerifyFailed)

	return base
}
