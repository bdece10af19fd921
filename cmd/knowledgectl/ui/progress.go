// Package ui holds terminal output helpers for knowledgectl.
package ui

import (
	"fmt"
	"io"
	"sync"

	"github.com/schollz/progressbar/v3"
)

// PageProgress is a progress bar over the pages of one ingestion. It
// satisfies pipeline.ProgressSink.
type PageProgress struct {
	mu  sync.Mutex
	bar *progressbar.ProgressBar
	out io.Writer
}

// NewPageProgress creates a bar writing to out. The page total is set by the
// first report.
func NewPageProgress(out io.Writer, description string) *PageProgress {
	bar := progressbar.NewOptions64(
		-1,
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "█",
			SaucerHead:    "█",
			SaucerPadding: "░",
			BarStart:      "│",
			BarEnd:        "│",
		}),
		progressbar.OptionSetWriter(out),
		progressbar.OptionShowCount(),
		progressbar.OptionSetItsString("pages"),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprint(out, "\n")
		}),
		progressbar.OptionSetRenderBlankState(true),
	)
	return &PageProgress{bar: bar, out: out}
}

// Report moves the bar to completed of total pages.
func (p *PageProgress) Report(completed, total int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if int64(total) != p.bar.GetMax64() {
		p.bar.ChangeMax64(int64(total))
	}
	_ = p.bar.Set64(int64(completed))
}

// Max is the page total the bar is counting towards, -1 before the first report.
func (p *PageProgress) Max() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.bar.GetMax64()
}

// Finish completes the bar.
func (p *PageProgress) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	_ = p.bar.Finish()
}

// Stop leaves the bar where it is and ends the line, for runs that did not
// reach the last page.
func (p *PageProgress) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprint(p.out, "\n")
}
