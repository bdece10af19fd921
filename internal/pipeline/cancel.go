package pipeline

import "sync/atomic"

// CancellationFlag is the cooperative abort signal of one ingestion run. It
// starts unset, can only ever be set, and is polled by the scheduler between
// batches. Setting it never interrupts pages that are already running.
//
// A nil *CancellationFlag is valid and never reports cancellation.
type CancellationFlag struct {
	set atomic.Bool
}

// NewCancellationFlag returns an unset flag.
func NewCancellationFlag() *CancellationFlag {
	return &CancellationFlag{}
}

// Cancel sets the flag. Calling it more than once is harmless.
func (f *CancellationFlag) Cancel() {
	if f != nil {
		f.set.Store(true)
	}
}

// Cancelled reports whether Cancel has been called.
func (f *CancellationFlag) Cancelled() bool {
	return f != nil && f.set.Load()
}
