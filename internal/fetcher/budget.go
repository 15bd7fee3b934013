package fetcher

import (
	"fmt"
	"sync/atomic"
)

// ErrorBudget counts transient failures across every worker of a run.
//
// The counter only grows. Once it is strictly greater than the ceiling the
// budget is exceeded and the run must abort.
type ErrorBudget struct {
	ceiling int64
	count   atomic.Int64
}

func NewErrorBudget(ceiling int) (*ErrorBudget, error) {
	if ceiling < 0 {
		return nil, fmt.Errorf("error budget: ceiling must be >= 0 (got %d)", ceiling)
	}
	return &ErrorBudget{ceiling: int64(ceiling)}, nil
}

// Increment records one transient failure and returns the new total.
func (b *ErrorBudget) Increment() int64 {
	if b == nil {
		return 0
	}
	return b.count.Add(1)
}

func (b *ErrorBudget) Count() int64 {
	if b == nil {
		return 0
	}
	return b.count.Load()
}

func (b *ErrorBudget) Ceiling() int64 {
	if b == nil {
		return 0
	}
	return b.ceiling
}

// Exceeded reports whether the failure count is over the ceiling.
// A nil budget is never exceeded.
func (b *ErrorBudget) Exceeded() bool {
	if b == nil {
		return false
	}
	return b.count.Load() > b.ceiling
}
