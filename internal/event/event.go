package event

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"merakihec/internal/data"
)

// Kind is the HEC sourcetype of an event.
type Kind string

const (
	KindNetwork     Kind = "meraki_api_network"
	KindDevice      Kind = "meraki_api_device"
	KindClient      Kind = "meraki_api_client"
	KindLossLatency Kind = "meraki_api_device_loss_and_latency"
)

var ErrEmptyBody = errors.New("event body is empty")

// Event is the envelope posted to the collector. Its JSON form is the HEC
// event format.
type Event struct {
	Index  string      `json:"index,omitempty"`
	Kind   Kind        `json:"sourcetype"`
	Source string      `json:"source"`
	Time   *float64    `json:"time,omitempty"`
	Body   data.Record `json:"event"`
}

// New builds an event. A zero ts leaves the time to the collector.
func New(index string, kind Kind, source string, body data.Record, ts time.Time) (Event, error) {
	if len(body) == 0 {
		return Event{}, fmt.Errorf("%s: %w", kind, ErrEmptyBody)
	}
	if kind == "" {
		return Event{}, fmt.Errorf("event kind is required")
	}
	e := Event{Index: index, Kind: kind, Source: source, Body: body}
	if !ts.IsZero() {
		sec := float64(ts.UnixNano()) / float64(time.Second)
		e.Time = &sec
	}
	return e, nil
}

// Encode writes events as concatenated newline-delimited JSON objects.
func Encode(w io.Writer, events []Event) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	for i := range events {
		if err := enc.Encode(events[i]); err != nil {
			return fmt.Errorf("encode %s event: %w", events[i].Kind, err)
		}
	}
	return nil
}

// Marshal returns the Encode output for events as one payload.
func Marshal(events []Event) ([]byte, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, events); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Builder creates events that share an index and source.
type Builder struct {
	Index  string
	Source string
}

func (b Builder) New(kind Kind, body data.Record, ts time.Time) (Event, error) {
	return New(b.Index, kind, b.Source, body, ts)
}
