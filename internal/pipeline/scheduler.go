package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"
)

// DefaultConcurrency is the number of pages processed at once.
const DefaultConcurrency = 15

// PageFunc does all the work for one page. A returned error or a panic marks
// only that page as failed.
type PageFunc func(ctx context.Context, page int) error

// PageResult is the outcome of one page.
type PageResult struct {
	PageNumber int
	Err        error
}

// OK reports whether the page succeeded.
func (r PageResult) OK() bool { return r.Err == nil }

// Summary describes a finished scheduler run.
type Summary struct {
	Total     int
	Completed int
	Batches   int
	Cancelled bool
	// Results holds one entry per attempted page, ordered by page number.
	Results []PageResult
}

// FailedPages lists the page numbers that did not succeed.
func (s Summary) FailedPages() []int {
	var failed []int
	for _, r := range s.Results {
		if !r.OK() {
			failed = append(failed, r.PageNumber)
		}
	}
	return failed
}

// Succeeded counts the pages that succeeded.
func (s Summary) Succeeded() int {
	return len(s.Results) - len(s.FailedPages())
}

// Scheduler drives the pages of one document through fixed-width batches.
// Batches run strictly one after another; pages inside a batch run in
// parallel, so at most width pages are ever in flight.
type Scheduler struct {
	width  int
	logger *slog.Logger
}

// NewScheduler returns a scheduler with the given batch width. A width below
// one falls back to DefaultConcurrency.
func NewScheduler(width int, logger *slog.Logger) *Scheduler {
	if width < 1 {
		width = DefaultConcurrency
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{width: width, logger: logger}
}

// Width is the batch width.
func (s *Scheduler) Width() int { return s.width }

// Partition splits pages 1..n into consecutive batches of at most width pages.
func Partition(n, width int) [][]int {
	if n <= 0 {
		return nil
	}
	if width < 1 {
		width = DefaultConcurrency
	}
	batches := make([][]int, 0, (n+width-1)/width)
	for start := 1; start <= n; start += width {
		end := min(start+width-1, n)
		batch := make([]int, 0, end-start+1)
		for p := start; p <= end; p++ {
			batch = append(batch, p)
		}
		batches = append(batches, batch)
	}
	return batches
}

// Run processes pages 1..total. Before each batch it checks flag and ctx; once
// either says stop, no further batch is launched, but a batch that already
// started always settles completely. onProgress is called after every page.
func (s *Scheduler) Run(ctx context.Context, total int, process PageFunc, flag *CancellationFlag, onProgress ProgressFunc) Summary {
	batches := Partition(total, s.width)
	tracker := newProgressTracker(total, onProgress)
	summary := Summary{Total: total}

	var (
		mu      sync.Mutex
		results = make([]PageResult, 0, total)
	)

	for i, batch := range batches {
		if flag.Cancelled() || ctx.Err() != nil {
			s.logger.Info("Stopping before batch; run was cancelled.",
				"batch", i+1, "batches", len(batches), "completed", tracker.count(), "total", total)
			summary.Cancelled = true
			break
		}

		s.logger.Debug("Starting batch.", "batch", i+1, "firstPage", batch[0], "size", len(batch))

		// A plain Group: one failed page must not cancel its siblings.
		var eg errgroup.Group
		for _, page := range batch {
			eg.Go(func() error {
				res := s.runPage(ctx, page, process)
				mu.Lock()
				results = append(results, res)
				mu.Unlock()
				tracker.settle()
				return nil
			})
		}
		_ = eg.Wait()
		summary.Batches++
	}

	sort.Slice(results, func(a, b int) bool { return results[a].PageNumber < results[b].PageNumber })
	summary.Results = results
	summary.Completed = tracker.count()
	return summary
}

func (s *Scheduler) runPage(ctx context.Context, page int, process PageFunc) (res PageResult) {
	res.PageNumber = page
	defer func() {
		if r := recover(); r != nil {
			res.Err = fmt.Errorf("page %d panicked: %v", page, r)
		}
		if res.Err != nil {
			s.logger.Warn("Page failed; continuing with the rest of the document.", "page", page, "error", res.Err)
		}
	}()
	res.Err = process(ctx, page)
	return res
}
