package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// ItemObserver receives one outcome per work item. *metrics.Metrics
// implements it.
type ItemObserver interface {
	ObserveItem(stage, outcome string)
}

const (
	outcomeOK      = "ok"
	outcomeError   = "error"
	outcomePanic   = "panic"
	outcomeSkipped = "skipped"
)

// Scheduler runs fan-out stages on a fixed pool of workers.
type Scheduler struct {
	workers  int
	logger   *slog.Logger
	abort    func(reason string)
	observer ItemObserver
	reporter Reporter
}

type SchedulerOption func(*Scheduler)

// WithAbort sets the function called when a worker panics.
func WithAbort(fn func(reason string)) SchedulerOption {
	return func(s *Scheduler) { s.abort = fn }
}

func WithItemObserver(o ItemObserver) SchedulerOption {
	return func(s *Scheduler) { s.observer = o }
}

func WithProgress(r Reporter) SchedulerOption {
	return func(s *Scheduler) {
		if r != nil {
			s.reporter = r
		}
	}
}

func NewScheduler(workers int, logger *slog.Logger, opts ...SchedulerOption) (*Scheduler, error) {
	if workers <= 0 {
		return nil, fmt.Errorf("workers must be >= 1, got %d", workers)
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{workers: workers, logger: logger, reporter: nopReporter{}}
	for _, apply := range opts {
		if apply != nil {
			apply(s)
		}
	}
	return s, nil
}

// Run hands every item to exactly one worker and waits for all of them.
//
// A failing item is logged and skipped. A panicking item is logged with its
// stack and triggers the abort function. When ctx is cancelled no further
// items are dispatched, workers drain what they already hold without running
// it, and Run returns ctx.Err() after every worker has exited.
//
// The returned count is the number of items fn finished without error.
func Run[T any](ctx context.Context, s *Scheduler, stage string, items []T, fn func(ctx context.Context, item T) error) (int, error) {
	if ctx == nil {
		return 0, errors.New("context is nil")
	}
	if s == nil {
		return 0, errors.New("scheduler is nil")
	}
	if fn == nil {
		return 0, errors.New("work function is nil")
	}
	total := len(items)
	if total == 0 {
		return 0, ctx.Err()
	}

	step := max(1, total/20)
	var processed, completed atomic.Int64

	work := make(chan T)
	var g errgroup.Group
	for range min(s.workers, total) {
		g.Go(func() error {
			for item := range work {
				outcome := outcomeSkipped
				if ctx.Err() == nil {
					outcome = process(ctx, s, stage, item, fn)
				}
				if outcome == outcomeOK {
					completed.Add(1)
				}
				if s.observer != nil {
					s.observer.ObserveItem(stage, outcome)
				}
				if n := processed.Add(1); n%int64(step) == 0 || n == int64(total) {
					s.reporter.Progress(stage, int(n), total)
				}
			}
			return nil
		})
	}

dispatch:
	for _, item := range items {
		select {
		case work <- item:
		case <-ctx.Done():
			break dispatch
		}
	}
	close(work)
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		s.logger.Warn("Stage interrupted.", "stage", stage, "processed", processed.Load(), "total", total)
		return int(completed.Load()), err
	}
	return int(completed.Load()), nil
}

func process[T any](ctx context.Context, s *Scheduler, stage string, item T, fn func(context.Context, T) error) (outcome string) {
	defer func() {
		if r := recover(); r != nil {
			outcome = outcomePanic
			reason := fmt.Sprintf("worker panic in stage %s: %v", stage, r)
			s.logger.Error(reason, "stage", stage, "stack", string(debug.Stack()))
			if s.abort != nil {
				s.abort(reason)
			}
		}
	}()

	if err := fn(ctx, item); err != nil {
		if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
			return outcomeSkipped
		}
		s.logger.Error("Work item failed.", "stage", stage, "error", err)
		return outcomeError
	}
	return outcomeOK
}
