package output

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"merakihec/internal/data"
	"merakihec/internal/event"
)

type recordingSink struct {
	batches  [][]event.Event
	sendErr  error
	closeErr error
}

func (s *recordingSink) Send(_ context.Context, events []event.Event) error {
	s.batches = append(s.batches, events)
	return s.sendErr
}

func (s *recordingSink) Close() error {
	return s.closeErr
}

func testEvents(t *testing.T, n int) []event.Event {
	t.Helper()
	out := make([]event.Event, 0, n)
	for i := 0; i < n; i++ {
		ev, err := event.New("meraki_api", event.KindDevice, "merakihec", data.Record{"serial": i}, time.Time{})
		if err != nil {
			t.Fatalf("event.New: %v", err)
		}
		out = append(out, ev)
	}
	return out
}

func TestManager(t *testing.T) {
	t.Run("sends to all sinks", func(t *testing.T) {
		a := &recordingSink{}
		b := &recordingSink{}

		mgr := NewManager()
		if err := mgr.AddSink(a); err != nil {
			t.Fatalf("AddSink(a) error: %v", err)
		}
		if err := mgr.AddSink(b); err != nil {
			t.Fatalf("AddSink(b) error: %v", err)
		}

		if err := mgr.Send(context.Background(), testEvents(t, 2)); err != nil {
			t.Fatalf("Send error: %v", err)
		}
		if err := mgr.Close(); err != nil {
			t.Fatalf("Close() error: %v", err)
		}
		if len(a.batches) != 1 || len(b.batches) != 1 || len(a.batches[0]) != 2 {
			t.Fatalf("expected one batch of two in each sink, got %d/%d", len(a.batches), len(b.batches))
		}
	})

	t.Run("empty batch is skipped", func(t *testing.T) {
		a := &recordingSink{}
		mgr := NewManager()
		_ = mgr.AddSink(a)
		if err := mgr.Send(context.Background(), nil); err != nil {
			t.Fatalf("Send error: %v", err)
		}
		if len(a.batches) != 0 {
			t.Fatalf("expected no sends, got %d", len(a.batches))
		}
	})

	t.Run("no sinks is an error", func(t *testing.T) {
		mgr := NewManager()
		if err := mgr.Send(context.Background(), testEvents(t, 1)); !errors.Is(err, ErrNoSinks) {
			t.Fatalf("expected ErrNoSinks, got %v", err)
		}
		if err := mgr.Send(context.Background(), nil); err != nil {
			t.Fatalf("empty batch with no sinks: %v", err)
		}
	})

	t.Run("aggregates send errors", func(t *testing.T) {
		a := &recordingSink{sendErr: errors.New("a failed")}
		b := &recordingSink{sendErr: errors.New("b failed")}

		mgr := NewManager()
		_ = mgr.AddSink(a)
		_ = mgr.AddSink(b)

		err := mgr.Send(context.Background(), testEvents(t, 1))
		if err == nil {
			t.Fatalf("expected error")
		}
		if !strings.Contains(err.Error(), "a failed") || !strings.Contains(err.Error(), "b failed") {
			t.Fatalf("expected both sink errors, got %v", err)
		}
		if len(b.batches) != 1 {
			t.Fatalf("expected second sink to still receive the batch")
		}
	})

	t.Run("aggregates close errors", func(t *testing.T) {
		mgr := NewManager()
		_ = mgr.AddSink(&recordingSink{closeErr: errors.New("close a")})
		_ = mgr.AddSink(&recordingSink{closeErr: errors.New("close b")})

		err := mgr.Close()
		if err == nil || !strings.Contains(err.Error(), "close a") || !strings.Contains(err.Error(), "close b") {
			t.Fatalf("expected aggregated close error, got %v", err)
		}
	})

	t.Run("nil sink rejected", func(t *testing.T) {
		if err := NewManager().AddSink(nil); err == nil {
			t.Fatalf("expected error for nil sink")
		}
	})

	t.Run("nil manager", func(t *testing.T) {
		var mgr *Manager
		if err := mgr.Send(context.Background(), testEvents(t, 1)); err == nil {
			t.Fatalf("expected error for nil manager")
		}
	})
}
