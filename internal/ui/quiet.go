package ui

import (
	"github.com/ihaveasegway/cpdr/internal/event"
	"github.com/ihaveasegway/cpdr/internal/stats"
)

// quietPresenter consumes events but produces no output.
type quietPresenter struct {
	stats stats.Reader
	theme Theme
}

func (p *quietPresenter) Run(events <-chan event.Event) error {
	for range events {
	}
	return nil
}

// Summary is still reported when something failed, so a quiet run that
// exits non-zero is not silent.
func (p *quietPresenter) Summary() string {
	if p.stats == nil {
		return ""
	}
	snap := p.stats.Snapshot()
	if snap.FilesFailed == 0 && snap.FilesVerifyFailed == 0 {
		return ""
	}
	return p.theme.Render(snap)
}
