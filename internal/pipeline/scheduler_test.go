package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func batchSizes(batches [][]int) []int {
	sizes := make([]int, len(batches))
	for i, b := range batches {
		sizes[i] = len(b)
	}
	return sizes
}

func TestPartition(t *testing.T) {
	tests := []struct {
		name  string
		n     int
		width int
		want  []int
	}{
		{"empty document", 0, 15, nil},
		{"single page", 1, 15, []int{1}},
		{"exactly one batch", 15, 15, []int{15}},
		{"two full batches", 30, 15, []int{15, 15}},
		{"short last batch", 32, 15, []int{15, 15, 2}},
		{"width one", 3, 1, []int{1, 1, 1}},
		{"invalid width uses default", 20, 0, []int{15, 5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Partition(tt.n, tt.width)
			if tt.want == nil {
				assert.Empty(t, got)
				return
			}
			assert.Equal(t, tt.want, batchSizes(got))
		})
	}
}

func TestPartition_CoversEveryPageOnceInOrder(t *testing.T) {
	for n := 1; n <= 60; n++ {
		for w := 1; w <= 20; w++ {
			batches := Partition(n, w)
			require.Len(t, batches, (n+w-1)/w, "n=%d w=%d", n, w)

			next := 1
			for _, b := range batches {
				assert.LessOrEqual(t, len(b), w)
				for _, p := range b {
					require.Equal(t, next, p, "n=%d w=%d", n, w)
					next++
				}
			}
			assert.Equal(t, n+1, next)
		}
	}
}

func TestScheduler_PageFailureDoesNotAbortRun(t *testing.T) {
	s := NewScheduler(15, nil)
	var calls sync.Map

	summary := s.Run(context.Background(), 32, func(_ context.Context, page int) error {
		calls.Store(page, true)
		if page == 20 {
			return errors.New("model unavailable")
		}
		return nil
	}, NewCancellationFlag(), nil)

	assert.Equal(t, 32, summary.Total)
	assert.Equal(t, 32, summary.Completed)
	assert.Equal(t, 3, summary.Batches)
	assert.False(t, summary.Cancelled)
	assert.Equal(t, []int{20}, summary.FailedPages())
	assert.Equal(t, 31, summary.Succeeded())
	require.Len(t, summary.Results, 32)
	for i, r := range summary.Results {
		assert.Equal(t, i+1, r.PageNumber)
	}
	for p := 1; p <= 32; p++ {
		_, ok := calls.Load(p)
		assert.True(t, ok, "page %d was not invoked", p)
	}
}

func TestScheduler_RecoversPanickingPage(t *testing.T) {
	s := NewScheduler(4, nil)

	summary := s.Run(context.Background(), 6, func(_ context.Context, page int) error {
		if page == 3 {
			panic("nil image")
		}
		return nil
	}, nil, nil)

	assert.Equal(t, 6, summary.Completed)
	assert.Equal(t, []int{3}, summary.FailedPages())
	assert.ErrorContains(t, summary.Results[2].Err, "panicked")
}

func TestScheduler_PagesInBatchRunConcurrently(t *testing.T) {
	const width = 15
	s := NewScheduler(width, nil)

	var started sync.WaitGroup
	started.Add(width)

	summary := s.Run(context.Background(), width, func(_ context.Context, _ int) error {
		started.Done()
		all := make(chan struct{})
		go func() {
			started.Wait()
			close(all)
		}()
		select {
		case <-all:
			return nil
		case <-time.After(5 * time.Second):
			return errors.New("siblings never started")
		}
	}, nil, nil)

	assert.Empty(t, summary.FailedPages())
}

func TestScheduler_BatchesAreSequentialAndBounded(t *testing.T) {
	const (
		width = 5
		total = 23
	)
	s := NewScheduler(width, nil)

	var (
		inFlight    atomic.Int32
		maxInFlight atomic.Int32
		finished    atomic.Int32
		violations  atomic.Int32
	)

	s.Run(context.Background(), total, func(_ context.Context, page int) error {
		batch := (page - 1) / width
		if int(finished.Load()) < batch*width {
			violations.Add(1)
		}
		n := inFlight.Add(1)
		for {
			cur := maxInFlight.Load()
			if n <= cur || maxInFlight.CompareAndSwap(cur, n) {
				break
			}
		}
		time.Sleep(2 * time.Millisecond)
		inFlight.Add(-1)
		finished.Add(1)
		return nil
	}, nil, nil)

	assert.Zero(t, violations.Load(), "a batch started before the previous one settled")
	assert.LessOrEqual(t, maxInFlight.Load(), int32(width))
	assert.Equal(t, int32(total), finished.Load())
}

func TestScheduler_CancelAfterFirstBatchDispatched(t *testing.T) {
	s := NewScheduler(15, nil)
	flag := NewCancellationFlag()

	var (
		mu      sync.Mutex
		invoked = map[int]int{}
	)
	summary := s.Run(context.Background(), 32, func(_ context.Context, page int) error {
		mu.Lock()
		invoked[page]++
		mu.Unlock()
		if page == 1 {
			flag.Cancel()
		}
		time.Sleep(time.Millisecond)
		return nil
	}, flag, nil)

	assert.True(t, summary.Cancelled)
	assert.Equal(t, 1, summary.Batches)
	assert.Equal(t, 15, summary.Completed)
	assert.Equal(t, 32, summary.Total)
	assert.Len(t, invoked, 15)
	for p := 1; p <= 15; p++ {
		assert.Equal(t, 1, invoked[p], "page %d", p)
	}
	for p := 16; p <= 32; p++ {
		assert.NotContains(t, invoked, p)
	}
}

func TestScheduler_CancelBeforeBatchK(t *testing.T) {
	const (
		width = 4
		total = 14
	)
	for k := 1; k <= 4; k++ {
		t.Run(fmt.Sprintf("before batch %d", k), func(t *testing.T) {
			s := NewScheduler(width, nil)
			flag := NewCancellationFlag()
			if k == 1 {
				flag.Cancel()
			}

			var (
				mu      sync.Mutex
				invoked = map[int]int{}
			)
			summary := s.Run(context.Background(), total, func(_ context.Context, page int) error {
				mu.Lock()
				invoked[page]++
				mu.Unlock()
				return nil
			}, flag, func(completed, _ int) {
				// the last page of batch k-1 settles
				if completed == (k-1)*width {
					flag.Cancel()
				}
			})

			ran := (k - 1) * width
			assert.True(t, summary.Cancelled)
			assert.Equal(t, k-1, summary.Batches)
			assert.Equal(t, ran, summary.Completed)
			assert.Len(t, invoked, ran)
			for p := 1; p <= ran; p++ {
				assert.Equal(t, 1, invoked[p], "page %d", p)
			}
		})
	}
}

func TestScheduler_StopsOnContextCancellation(t *testing.T) {
	s := NewScheduler(15, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var calls atomic.Int32
	summary := s.Run(ctx, 10, func(context.Context, int) error {
		calls.Add(1)
		return nil
	}, nil, nil)

	assert.True(t, summary.Cancelled)
	assert.Zero(t, calls.Load())
	assert.Zero(t, summary.Completed)
}

func TestScheduler_ProgressIsMonotonicAndCountsFailures(t *testing.T) {
	const total = 40
	s := NewScheduler(15, nil)

	var (
		mu   sync.Mutex
		seen []int
	)
	summary := s.Run(context.Background(), total, func(_ context.Context, page int) error {
		if page%7 == 0 {
			return errors.New("render failed")
		}
		return nil
	}, nil, func(completed, got int) {
		assert.Equal(t, total, got)
		mu.Lock()
		seen = append(seen, completed)
		mu.Unlock()
	})

	require.Len(t, seen, total)
	for i := 1; i < len(seen); i++ {
		assert.GreaterOrEqual(t, seen[i], seen[i-1])
	}
	assert.Equal(t, total, seen[len(seen)-1])
	assert.Equal(t, total, summary.Completed)
	assert.Len(t, summary.FailedPages(), 5)
}

func TestCancellationFlag(t *testing.T) {
	var nilFlag *CancellationFlag
	assert.False(t, nilFlag.Cancelled())
	nilFlag.Cancel()

	f := NewCancellationFlag()
	assert.False(t, f.Cancelled())
	f.Cancel()
	f.Cancel()
	assert.True(t, f.Cancelled())
}
