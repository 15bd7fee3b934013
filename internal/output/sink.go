package output

import (
	"context"
	"errors"
	"fmt"

	"merakihec/internal/event"
)

// Sink defines a destination for shaped events.
type Sink interface {
	Send(ctx context.Context, events []event.Event) error
	Close() error
}

// Manager fans a batch out to multiple sinks.
type Manager struct {
	sinks []Sink
}

func NewManager() *Manager {
	return &Manager{}
}

func (m *Manager) AddSink(s Sink) error {
	if m == nil {
		return fmt.Errorf("output manager is nil")
	}
	if s == nil {
		return fmt.Errorf("sink must not be nil")
	}
	m.sinks = append(m.sinks, s)
	return nil
}

// ErrNoSinks is returned when a non-empty batch reaches a Manager with no
// sinks; events are never dropped silently.
var ErrNoSinks = errors.New("no sinks configured")

// Send delivers events to every sink. An empty batch is a no-op.
func (m *Manager) Send(ctx context.Context, events []event.Event) error {
	if m == nil {
		return fmt.Errorf("output manager is nil")
	}
	if len(events) == 0 {
		return nil
	}
	if len(m.sinks) == 0 {
		return ErrNoSinks
	}
	var errs []error
	for _, s := range m.sinks {
		if err := s.Send(ctx, events); err != nil {
			errs = append(errs, fmt.Errorf("send %T: %w", s, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("errors sending to sinks: %w", errors.Join(errs...))
	}
	return nil
}

func (m *Manager) Close() error {
	if m == nil {
		return fmt.Errorf("output manager is nil")
	}
	var errs []error
	for _, s := range m.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %T: %w", s, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("errors closing sinks: %w", errors.Join(errs...))
	}
	return nil
}
