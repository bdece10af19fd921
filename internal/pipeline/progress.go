package pipeline

import "sync"

// ProgressFunc receives the number of settled pages after every page.
type ProgressFunc func(completed, total int)

// ProgressSink is the consumer of progress updates for one run, typically a
// status record or a progress bar.
type ProgressSink interface {
	Report(completed, total int)
}

// ProgressSinkFunc adapts a plain function to ProgressSink.
type ProgressSinkFunc func(completed, total int)

func (f ProgressSinkFunc) Report(completed, total int) { f(completed, total) }

// MultiSink fans one update out to several sinks in order.
type MultiSink []ProgressSink

func (m MultiSink) Report(completed, total int) {
	for _, s := range m {
		if s != nil {
			s.Report(completed, total)
		}
	}
}

// progressTracker owns the completed counter of a run. The increment and the
// callback happen under one lock, so observers never see the count go down.
type progressTracker struct {
	mu         sync.Mutex
	completed  int
	total      int
	onProgress ProgressFunc
}

func newProgressTracker(total int, onProgress ProgressFunc) *progressTracker {
	return &progressTracker{total: total, onProgress: onProgress}
}

// settle records one page as attempted, whether it succeeded or not.
func (p *progressTracker) settle() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.completed < p.total {
		p.completed++
	}
	if p.onProgress != nil {
		p.onProgress(p.completed, p.total)
	}
}

func (p *progressTracker) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.completed
}
