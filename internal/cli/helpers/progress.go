package helpers

import (
	"os"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"
	"golang.org/x/term"

	"github.com/coral-mesh/ptrscan/internal/ptrmap"
)

// Interactive reports whether stderr is a terminal.
func Interactive() bool {
	return term.IsTerminal(int(os.Stderr.Fd()))
}

// Progress renders pointer map build progress as a byte counter on stderr.
type Progress struct {
	mu  sync.Mutex
	bar *progressbar.ProgressBar
}

// NewProgress returns a progress renderer labeled description.
func NewProgress(description string) *Progress {
	return &Progress{bar: progressbar.NewOptions64(-1,
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWriter(color.Error),
		progressbar.OptionShowBytes(true),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionClearOnFinish(),
	)}
}

// Func returns the callback handed to the map builder. Workers report from
// several goroutines.
func (p *Progress) Func() ptrmap.ProgressFunc {
	return func(done, total uint64) {
		p.mu.Lock()
		defer p.mu.Unlock()
		if p.bar.GetMax64() != int64(total) {
			p.bar.ChangeMax64(int64(total))
		}
		_ = p.bar.Set64(int64(done))
	}
}

// Finish clears the bar.
func (p *Progress) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	_ = p.bar.Finish()
}
