package fetcher

import (
	"encoding/json"
	"errors"
	"net/http"
	"testing"
)

func TestValidator_Validate(t *testing.T) {
	v := NewValidator(discardLogger())

	clientFailure := func(status int, body string) Result {
		r := NewTransportFailure(ErrClientStatus)
		r.StatusCode = status
		r.Body = []byte(body)
		return r
	}

	tests := []struct {
		name  string
		in    Result
		shape Shape
		want  Kind
	}{
		{name: "list ok", in: NewSuccess([]byte(`[{"id":1}]`)), shape: ShapeList, want: KindSuccess},
		{name: "object ok", in: NewSuccess([]byte(`{"id":1}`)), shape: ShapeObject, want: KindSuccess},
		{name: "list expected object given", in: NewSuccess([]byte(`{"id":1}`)), shape: ShapeList, want: KindMalformed},
		{name: "object expected list given", in: NewSuccess([]byte(`[1]`)), shape: ShapeObject, want: KindMalformed},
		{name: "not json", in: NewSuccess([]byte(`<html>oops</html>`)), shape: ShapeList, want: KindMalformed},
		{name: "trailing garbage", in: NewSuccess([]byte(`[] []`)), shape: ShapeList, want: KindMalformed},
		{name: "errors key on 200", in: NewSuccess([]byte(`{"errors":["bad"]}`)), shape: ShapeObject, want: KindVendorError},
		{name: "errors key on 200 list shape", in: NewSuccess([]byte(`{"errors":["bad"]}`)), shape: ShapeList, want: KindVendorError},
		{name: "errors key on 400", in: clientFailure(http.StatusBadRequest, `{"errors":["Invalid serial"]}`), shape: ShapeList, want: KindVendorError},
		{name: "4xx without errors key passes through", in: clientFailure(http.StatusForbidden, `{"message":"nope"}`), shape: ShapeList, want: KindTransportFailure},
		{name: "4xx html passes through", in: clientFailure(http.StatusNotFound, `not found`), shape: ShapeList, want: KindTransportFailure},
		{name: "transport without body passes through", in: NewTransportFailure(errors.New("dial")), shape: ShapeList, want: KindTransportFailure},
		{name: "empty stays malformed", in: NewMalformed(""), shape: ShapeList, want: KindMalformed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := v.Validate(tt.in, tt.shape)
			if got.Kind != tt.want {
				t.Fatalf("expected %s, got %s (%v)", tt.want, got.Kind, got.Err)
			}
		})
	}
}

func TestValidator_VendorErrorKeepsDetailsAndStatus(t *testing.T) {
	v := NewValidator(discardLogger())
	in := NewTransportFailure(ErrClientStatus)
	in.StatusCode = http.StatusBadRequest
	in.RequestID = "req-1"
	in.Body = []byte(`{"errors":["Invalid device type", "Try again"]}`)

	got := v.Validate(in, ShapeObject)
	if got.Kind != KindVendorError {
		t.Fatalf("expected vendor error, got %s", got.Kind)
	}
	if len(got.Details) != 2 || got.Details[0] != "Invalid device type" {
		t.Fatalf("unexpected details %v", got.Details)
	}
	if got.StatusCode != http.StatusBadRequest || got.RequestID != "req-1" {
		t.Fatalf("metadata not preserved: %+v", got)
	}
	if !errors.Is(got.Err, ErrVendor) {
		t.Fatalf("expected ErrVendor, got %v", got.Err)
	}
}

func TestValidator_ListDecodesRecords(t *testing.T) {
	v := NewValidator(discardLogger())
	recs, res := v.List(NewSuccess([]byte(`[{"serial":"Q1","usage":12345678901234567890},"junk",{"serial":"Q2"}]`)))
	if !res.OK() {
		t.Fatalf("expected success, got %s", res.Kind)
	}
	if len(recs) != 2 {
		t.Fatalf("expected 2 records, got %d", len(recs))
	}
	n, ok := recs[0]["usage"].(json.Number)
	if !ok || n.String() != "12345678901234567890" {
		t.Fatalf("expected json.Number preserving precision, got %#v", recs[0]["usage"])
	}
}

func TestValidator_ObjectRejectsList(t *testing.T) {
	v := NewValidator(discardLogger())
	rec, res := v.Object(NewSuccess([]byte(`[]`)))
	if rec != nil || res.Kind != KindMalformed {
		t.Fatalf("expected malformed and nil record, got %v %s", rec, res.Kind)
	}
}
