package fetcher

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind tags a Result. Callers switch on it; a Result is never coerced from one
// kind to another except by Validate.
type Kind int

const (
	KindSuccess Kind = iota
	KindVendorError
	KindMalformed
	KindTransportFailure
)

func (k Kind) String() string {
	switch k {
	case KindSuccess:
		return "success"
	case KindVendorError:
		return "vendor_error"
	case KindMalformed:
		return "malformed"
	case KindTransportFailure:
		return "transport_failure"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Result is the outcome of one executed request.
//
//   - KindSuccess: Body holds the 2xx payload.
//   - KindVendorError: Details holds the vendor's "errors" entries.
//   - KindMalformed: Body holds the raw text that failed to parse or match
//     the expected shape. An empty 2xx body is Malformed with ErrEmptyBody.
//   - KindTransportFailure: Err holds the cause. StatusCode and Body are set
//     when the server answered (4xx, or 5xx after retries).
type Result struct {
	Kind       Kind
	StatusCode int
	Header     http.Header
	Body       []byte
	Details    []string
	RequestID  string
	Err        error
}

func NewSuccess(body []byte) Result {
	return Result{Kind: KindSuccess, StatusCode: http.StatusOK, Body: body}
}

func NewVendorError(details []string) Result {
	return Result{Kind: KindVendorError, Details: details, Err: fmt.Errorf("%w: %v", ErrVendor, details)}
}

func NewMalformed(raw string) Result {
	err := ErrMalformed
	if raw == "" {
		err = ErrEmptyBody
	}
	return Result{Kind: KindMalformed, Body: []byte(raw), Err: err}
}

func NewTransportFailure(err error) Result {
	if err == nil {
		err = errors.New("transport failure")
	}
	return Result{Kind: KindTransportFailure, Err: err}
}

func (r Result) OK() bool {
	return r.Kind == KindSuccess
}

// Empty reports whether the result is the "2xx with no body" case, which
// callers treat as nothing to do.
func (r Result) Empty() bool {
	return r.Kind == KindMalformed && errors.Is(r.Err, ErrEmptyBody)
}

// Delivered reports whether the server accepted the request, regardless of
// what it answered. Used for writes where the response body is irrelevant.
func (r Result) Delivered() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// withMeta copies transport metadata from src onto r.
func (r Result) withMeta(src Result) Result {
	r.StatusCode = src.StatusCode
	r.Header = src.Header
	r.RequestID = src.RequestID
	return r
}
