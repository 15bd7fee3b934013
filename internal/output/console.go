package output

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/fatih/color"
)

// Console prints operator-facing status lines: stage banners, per-stage
// progress and the final DONE/INCOMPLETE line. It never carries event data,
// so it stays on stderr while --dry-run events go to stdout.
type Console struct {
	writer io.Writer
	mu     sync.Mutex

	bold  *color.Color
	green *color.Color
	red   *color.Color
}

func NewConsole(w io.Writer) *Console {
	if w == nil {
		w = os.Stderr
	}
	return &Console{
		writer: w,
		bold:   color.New(color.Bold),
		green:  color.New(color.FgGreen, color.Bold),
		red:    color.New(color.FgRed, color.Bold),
	}
}

func (c *Console) Stage(format string, args ...any) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_, _ = c.bold.Fprintf(c.writer, format+"\n", args...)
	_ = flushIfPossible(c.writer)
}

func (c *Console) Printf(format string, args ...any) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_, _ = fmt.Fprintf(c.writer, format+"\n", args...)
	_ = flushIfPossible(c.writer)
}

// Progress reports processed/total for a fan-out stage.
func (c *Console) Progress(stage string, done, total int) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_, _ = fmt.Fprintf(c.writer, "  %s: %d/%d\n", stage, done, total)
	_ = flushIfPossible(c.writer)
}

func (c *Console) Done(elapsed time.Duration) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_, _ = c.green.Fprintf(c.writer, "DONE. Total elapsed seconds: %.3f\n", elapsed.Seconds())
	_ = flushIfPossible(c.writer)
}

func (c *Console) Incomplete(elapsed time.Duration) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_, _ = c.red.Fprintf(c.writer, "INCOMPLETE. Total elapsed seconds: %.3f\n", elapsed.Seconds())
	_ = flushIfPossible(c.writer)
}
