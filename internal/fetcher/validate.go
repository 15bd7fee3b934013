package fetcher

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"

	"merakihec/internal/data"
)

// Shape is the top-level JSON type a response must have.
type Shape string

const (
	ShapeList   Shape = "list"
	ShapeObject Shape = "object"
)

// Validator turns raw results into typed records at the boundary. Stages only
// ever see data.Record values that passed through it.
type Validator struct {
	logger *slog.Logger
}

func NewValidator(logger *slog.Logger) *Validator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Validator{logger: logger}
}

// Validate classifies res against shape.
//
// A top-level "errors" key makes the result a VendorError whatever the HTTP
// status was. A 2xx body that is not JSON, or is JSON of the wrong shape, is
// Malformed. Transport failures without a vendor error body pass through.
func (v *Validator) Validate(res Result, shape Shape) Result {
	_, out := v.decode(res, shape)
	return out
}

// List validates res as a JSON array of objects.
func (v *Validator) List(res Result) ([]data.Record, Result) {
	val, out := v.decode(res, ShapeList)
	if !out.OK() {
		return nil, out
	}
	recs, skipped := data.Records(val.([]any))
	if skipped > 0 {
		v.logger.Warn("Skipped non-object list elements.", "request_id", res.RequestID, "skipped", skipped)
	}
	return recs, out
}

// Object validates res as a single JSON object.
func (v *Validator) Object(res Result) (data.Record, Result) {
	val, out := v.decode(res, ShapeObject)
	if !out.OK() {
		return nil, out
	}
	return data.Record(val.(map[string]any)), out
}

func (v *Validator) decode(res Result, shape Shape) (any, Result) {
	log := v.logger.With("request_id", res.RequestID, "shape", string(shape))

	switch res.Kind {
	case KindVendorError, KindMalformed:
		return nil, res
	case KindTransportFailure:
		if len(bytes.TrimSpace(res.Body)) == 0 {
			return nil, res
		}
	}

	val, err := parseJSON(res.Body)
	if err != nil {
		if res.Kind == KindTransportFailure {
			return nil, res
		}
		log.Warn("Not a valid json response!", "text", truncate(res.Body))
		return nil, NewMalformed(string(res.Body)).withMeta(res)
	}

	if obj, ok := val.(map[string]any); ok {
		if raw, ok := obj["errors"]; ok {
			details := errorDetails(raw)
			log.Warn("Bad response!", "status", res.StatusCode, "errors", details)
			return nil, NewVendorError(details).withMeta(res)
		}
	}

	if res.Kind == KindTransportFailure {
		return nil, res
	}

	switch shape {
	case ShapeList:
		if _, ok := val.([]any); ok {
			return val, res
		}
	case ShapeObject:
		if _, ok := val.(map[string]any); ok {
			return val, res
		}
	default:
		return nil, NewMalformed(string(res.Body)).withMeta(res)
	}

	log.Warn("Bad response!", "json", truncate(res.Body))
	return nil, NewMalformed(string(res.Body)).withMeta(res)
}

func parseJSON(body []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var val any
	if err := dec.Decode(&val); err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, fmt.Errorf("trailing data after JSON value")
	}
	return val, nil
}

func errorDetails(raw any) []string {
	switch t := raw.(type) {
	case nil:
		return nil
	case []any:
		out := make([]string, 0, len(t))
		for _, e := range t {
			out = append(out, fmt.Sprint(e))
		}
		return out
	default:
		return []string{fmt.Sprint(t)}
	}
}
