package output

import (
	"context"
	"fmt"
	"io"
	"sync"

	"merakihec/internal/event"
)

// EmitSink streams events as NDJSON, one envelope per line. Used for
// --dry-run, where events go to stdout instead of the collector.
type EmitSink struct {
	writer io.Writer
	mu     sync.Mutex
}

func NewEmitSink(w io.Writer) (*EmitSink, error) {
	if w == nil {
		return nil, fmt.Errorf("emit sink writer must not be nil")
	}
	return &EmitSink{writer: w}, nil
}

func (s *EmitSink) Send(_ context.Context, events []event.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := event.Encode(s.writer, events); err != nil {
		return err
	}
	return flushIfPossible(s.writer)
}

func (s *EmitSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return flushIfPossible(s.writer)
}
