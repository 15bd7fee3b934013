package engine

import (
	"context"
	"log/slog"
	"os"
	"strconv"
	"sync"
	"time"
)

// Reporter receives operator-facing status. *output.Console implements it.
type Reporter interface {
	Stage(format string, args ...any)
	Printf(format string, args ...any)
	Progress(stage string, done, total int)
	Done(elapsed time.Duration)
	Incomplete(elapsed time.Duration)
}

type nopReporter struct{}

func (nopReporter) Stage(string, ...any)      {}
func (nopReporter) Printf(string, ...any)     {}
func (nopReporter) Progress(string, int, int) {}
func (nopReporter) Done(time.Duration)        {}
func (nopReporter) Incomplete(time.Duration)  {}

// Aborter owns the end of a run. Exactly one of Abort or Finish takes effect:
// the first caller writes the DONE or INCOMPLETE line, later calls do nothing.
//
// Abort terminates the process through the exit function without unwinding
// the caller. Deferred cleanup does not run; the log file is the only state
// that has to survive and slog writes it unbuffered.
type Aborter struct {
	mu       sync.Mutex
	finished bool
	aborted  bool

	start    time.Time
	logger   *slog.Logger
	reporter Reporter
	cancel   context.CancelFunc
	exit     func(code int)
	now      func() time.Time

	// onTerminal runs once, before the exit function, with the outcome.
	onTerminal func(success bool, elapsed time.Duration)
}

type AborterOption func(*Aborter)

// WithExit replaces os.Exit. Tests use it to observe the abort without
// terminating the test binary.
func WithExit(fn func(code int)) AborterOption {
	return func(a *Aborter) {
		if fn != nil {
			a.exit = fn
		}
	}
}

func WithReporter(r Reporter) AborterOption {
	return func(a *Aborter) {
		if r != nil {
			a.reporter = r
		}
	}
}

func WithClock(now func() time.Time) AborterOption {
	return func(a *Aborter) {
		if now != nil {
			a.now = now
		}
	}
}

func WithTerminalHook(fn func(success bool, elapsed time.Duration)) AborterOption {
	return func(a *Aborter) { a.onTerminal = fn }
}

// NewAborter starts the run clock. cancel is called on abort to stop the
// run context; it may be nil.
func NewAborter(logger *slog.Logger, cancel context.CancelFunc, opts ...AborterOption) *Aborter {
	if logger == nil {
		logger = slog.Default()
	}
	a := &Aborter{
		logger:   logger,
		reporter: nopReporter{},
		cancel:   cancel,
		exit:     os.Exit,
		now:      time.Now,
	}
	for _, apply := range opts {
		if apply != nil {
			apply(a)
		}
	}
	a.start = a.now()
	return a
}

// Abort logs reason and the INCOMPLETE line, cancels the run, and exits 1.
// It is safe to call from many goroutines.
func (a *Aborter) Abort(reason string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.finished {
		return
	}
	a.finished = true
	a.aborted = true

	elapsed := a.now().Sub(a.start)
	if reason != "" {
		a.logger.Error(reason)
	}
	a.logger.Error("INCOMPLETE. Total elapsed seconds: "+formatSeconds(elapsed), "elapsed_seconds", elapsed.Seconds())
	a.reporter.Incomplete(elapsed)
	if a.cancel != nil {
		a.cancel()
	}
	if a.onTerminal != nil {
		a.onTerminal(false, elapsed)
	}
	a.exit(1)
}

// Finish logs the DONE line. It reports false when the run had already
// been aborted.
func (a *Aborter) Finish() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.finished {
		return !a.aborted
	}
	a.finished = true

	elapsed := a.now().Sub(a.start)
	a.logger.Info("DONE. Total elapsed seconds: "+formatSeconds(elapsed), "elapsed_seconds", elapsed.Seconds())
	a.reporter.Done(elapsed)
	if a.onTerminal != nil {
		a.onTerminal(true, elapsed)
	}
	return true
}

func (a *Aborter) Aborted() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.aborted
}

func (a *Aborter) Elapsed() time.Duration {
	return a.now().Sub(a.start)
}

func formatSeconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', 3, 64)
}
