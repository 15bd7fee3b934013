package data

import (
	"encoding/json"
	"fmt"
)

// Record is one JSON object returned by the Meraki API.
//
// Records are decoded with json.Decoder.UseNumber, so numeric fields hold
// json.Number values and re-encode exactly as the vendor sent them.
type Record map[string]any

// Clone returns a shallow copy of r. Nested maps and slices are shared, so
// callers that rewrite a nested value must replace it rather than mutate it.
// The clone of a nil record is an empty, writable record.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// String returns the value under key when it is a non-empty string.
func (r Record) String(key string) (string, bool) {
	v, ok := r[key]
	if !ok || v == nil {
		return "", false
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", false
	}
	return s, true
}

// Text returns the value under key rendered as a string. Strings are returned
// as-is, json.Number values as their literal, anything else via fmt.
// Missing or null values return "".
func (r Record) Text(key string) string {
	v, ok := r[key]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	default:
		return fmt.Sprint(t)
	}
}

// Records converts a decoded JSON array into records, skipping elements that
// are not JSON objects. The second return value counts skipped elements.
func Records(items []any) ([]Record, int) {
	out := make([]Record, 0, len(items))
	skipped := 0
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			skipped++
			continue
		}
		out = append(out, Record(m))
	}
	return out, skipped
}
