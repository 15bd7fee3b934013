package fetcher

import "errors"

var (
	// ErrClientStatus marks a 4xx answer. Never retried.
	ErrClientStatus = errors.New("client error status")

	// ErrServerStatus marks a 5xx (or otherwise unexpected) answer. Retried.
	ErrServerStatus = errors.New("server error status")

	// ErrGaveUp is returned once a give-up request has used the whole retry table.
	ErrGaveUp = errors.New("gave up after retries")

	// ErrBudgetExhausted is returned when the run-wide error budget is exceeded.
	ErrBudgetExhausted = errors.New("error budget exhausted")

	ErrEmptyBody = errors.New("empty response body")
	ErrMalformed = errors.New("malformed response")
	ErrVendor    = errors.New("vendor reported errors")
)
