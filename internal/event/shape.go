package event

import (
	"fmt"
	"strings"
	"time"

	"merakihec/internal/data"
)

// TimestampLayout is the vendor's UTC timestamp format, e.g. 2019-12-05T07:38:40Z.
const TimestampLayout = "2006-01-02T15:04:05Z"

const (
	fieldTags         = "tags"
	fieldStatus       = "status"
	fieldUplinks      = "uplinks"
	fieldInterface    = "interface"
	fieldTimeSeries   = "timeSeries"
	fieldNetworkID    = "networkId"
	fieldDeviceSerial = "deviceSerial"
	fieldCollector    = "collector"
)

// SplitTags turns the vendor's space-delimited tag string into a list of
// distinct tags in first-seen order. Absent, null or blank tags give an empty
// list. A value that is already a list is normalised the same way.
func SplitTags(v any) []string {
	var fields []string
	switch t := v.(type) {
	case string:
		fields = strings.Fields(t)
	case []string:
		for _, s := range t {
			fields = append(fields, strings.Fields(s)...)
		}
	case []any:
		for _, s := range t {
			if str, ok := s.(string); ok {
				fields = append(fields, strings.Fields(str)...)
			}
		}
	}

	out := make([]string, 0, len(fields))
	seen := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		if _, dup := seen[f]; dup {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	return out
}

func Network(rec data.Record) data.Record {
	out := rec.Clone()
	out[fieldTags] = SplitTags(rec[fieldTags])
	return out
}

// StatusLookup maps device serials to their reported status.
type StatusLookup map[string]string

func NewStatusLookup(statuses []data.Record) StatusLookup {
	out := make(StatusLookup, len(statuses))
	for _, s := range statuses {
		serial, ok := s.String("serial")
		if !ok {
			continue
		}
		status, ok := s.String(fieldStatus)
		if !ok {
			continue
		}
		out[serial] = status
	}
	return out
}

// DeviceParts are the per-device lookups merged into a device record. A nil
// Uplinks leaves the field out; a nil Performance adds nothing.
type DeviceParts struct {
	Statuses    StatusLookup
	Uplinks     []data.Record
	Performance data.Record
}

// Device returns a shaped copy of rec with tags split, status merged by
// serial, uplink interfaces normalised and performance fields merged in.
func Device(rec data.Record, parts DeviceParts) data.Record {
	out := rec.Clone()
	out[fieldTags] = SplitTags(rec[fieldTags])

	if serial, ok := rec.String("serial"); ok {
		if status, ok := parts.Statuses[serial]; ok {
			out[fieldStatus] = status
		}
	}
	if parts.Uplinks != nil {
		out[fieldUplinks] = Uplinks(parts.Uplinks)
	}
	for k, v := range parts.Performance {
		out[k] = v
	}
	return out
}

// NormalizeInterface converts labels like "Wan 1" to "wan1".
func NormalizeInterface(label string) string {
	return strings.ToLower(strings.Join(strings.Fields(label), ""))
}

func Uplinks(recs []data.Record) []data.Record {
	out := make([]data.Record, 0, len(recs))
	for _, r := range recs {
		u := r.Clone()
		if label, ok := r.String(fieldInterface); ok {
			u[fieldInterface] = NormalizeInterface(label)
		}
		out = append(out, u)
	}
	return out
}

func Client(rec data.Record, networkID, serial string) data.Record {
	out := rec.Clone()
	if networkID != "" {
		out[fieldNetworkID] = networkID
	}
	out[fieldDeviceSerial] = serial
	return out
}

// Sample is one flattened loss/latency point with its own timestamp.
type Sample struct {
	Body data.Record
	Time time.Time
}

// FlattenLossLatency expands an org-wide uplink record into one sample per
// timeSeries entry, each carrying the parent's other fields.
func FlattenLossLatency(parent data.Record) ([]Sample, int) {
	raw, _ := parent[fieldTimeSeries].([]any)
	series, skipped := data.Records(raw)
	samples, bad := FlattenSeries(parent, series)
	return samples, skipped + bad
}

// FlattenSeries copies meta (minus any timeSeries field) into each entry.
// Meta fields win over entry fields of the same name. The sample time comes
// from the entry's "ts" or "startTs" field; entries without a parseable
// timestamp are skipped and counted.
func FlattenSeries(meta data.Record, series []data.Record) ([]Sample, int) {
	out := make([]Sample, 0, len(series))
	skipped := 0
	for _, entry := range series {
		ts, err := entryTime(entry)
		if err != nil {
			skipped++
			continue
		}
		body := entry.Clone()
		for k, v := range meta {
			if k == fieldTimeSeries {
				continue
			}
			body[k] = v
		}
		out = append(out, Sample{Body: body, Time: ts})
	}
	return out, skipped
}

func entryTime(entry data.Record) (time.Time, error) {
	for _, key := range []string{"ts", "startTs"} {
		if s, ok := entry.String(key); ok {
			return ParseTimestamp(s)
		}
	}
	return time.Time{}, fmt.Errorf("entry has no timestamp")
}

// ParseTimestamp parses a vendor "Z" timestamp. Fractional seconds are
// accepted.
func ParseTimestamp(s string) (time.Time, error) {
	if t, err := time.Parse(TimestampLayout, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t.UTC(), nil
}

// Stamp returns a copy of rec with the collector provenance object set.
func Stamp(rec data.Record, sessionID, requestID string) data.Record {
	out := rec.Clone()
	out[fieldCollector] = map[string]string{
		"session_id": sessionID,
		"request_id": requestID,
	}
	return out
}
