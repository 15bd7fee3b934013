package fetcher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Request describes one logical call. Params are merged into the URL query.
type Request struct {
	Method string
	URL    string
	Header http.Header
	Params url.Values
	Body   []byte

	// GiveUp bounds retries to the RetryPolicy table. When false the request
	// is retried until it succeeds or the error budget is exhausted.
	GiveUp bool
}

// Doer executes a request. *Executor is the production implementation.
type Doer interface {
	Execute(ctx context.Context, req Request) Result
}

// Observer receives per-request outcomes. *metrics.Metrics implements it.
type Observer interface {
	ObserveRequest(method, outcome string)
	ObserveTransientError()
}

// Limiter gates attempts. *rate.Limiter implements it.
type Limiter interface {
	Wait(ctx context.Context) error
}

// Executor runs requests with jitter, retry/backoff and the shared error budget.
type Executor struct {
	client   *http.Client
	budget   *ErrorBudget
	policy   RetryPolicy
	jitter   Jitter
	logger   *slog.Logger
	observer Observer
	limiter  Limiter

	// onExhausted is invoked (possibly from many workers) once the budget is
	// exceeded. In production it never returns.
	onExhausted func(reason string)

	sleep func(ctx context.Context, d time.Duration) error
	newID func() string
}

type ExecutorOption func(*Executor)

func WithJitter(j Jitter) ExecutorOption {
	return func(e *Executor) { e.jitter = j }
}

func WithLogger(logger *slog.Logger) ExecutorOption {
	return func(e *Executor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

func WithObserver(o Observer) ExecutorOption {
	return func(e *Executor) { e.observer = o }
}

// WithRateLimiter makes every attempt wait on l with the caller's context
// before the HTTP client timeout starts. A wait that fails is treated like a
// cancellation and never charged to the budget.
func WithRateLimiter(l Limiter) ExecutorOption {
	return func(e *Executor) { e.limiter = l }
}

// WithBudgetExhausted sets the abort hook called when the budget is exceeded.
func WithBudgetExhausted(fn func(reason string)) ExecutorOption {
	return func(e *Executor) { e.onExhausted = fn }
}

// WithSleep replaces the backoff/jitter sleep. Tests use it to avoid real waits.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) ExecutorOption {
	return func(e *Executor) {
		if fn != nil {
			e.sleep = fn
		}
	}
}

func NewExecutor(client *http.Client, budget *ErrorBudget, policy RetryPolicy, opts ...ExecutorOption) (*Executor, error) {
	if client == nil {
		return nil, fmt.Errorf("executor: nil http client")
	}
	if budget == nil {
		return nil, fmt.Errorf("executor: nil error budget (use NewErrorBudget)")
	}
	if len(policy.Delays) == 0 {
		return nil, fmt.Errorf("executor: empty retry policy (use NewRetryPolicy)")
	}
	e := &Executor{
		client: client,
		budget: budget,
		policy: policy,
		jitter: Jitter{Min: time.Second, Max: 5 * time.Second},
		logger: slog.Default(),
		sleep:  sleepContext,
		newID:  uuid.NewString,
	}
	for _, apply := range opts {
		if apply != nil {
			apply(e)
		}
	}
	return e, nil
}

func (e *Executor) Budget() *ErrorBudget {
	return e.budget
}

func (e *Executor) Execute(ctx context.Context, req Request) Result {
	if ctx == nil {
		return NewTransportFailure(fmt.Errorf("Execute: nil context"))
	}
	if req.Method == "" {
		req.Method = http.MethodGet
	}

	requestID := e.newID()
	log := e.logger.With("request_id", requestID, "method", req.Method, "url", req.URL)

	wait := e.jitter.Next()
	log.Debug("Sleeping before first attempt.", "sleep_seconds", wait.Seconds())
	if err := e.sleep(ctx, wait); err != nil {
		return e.cancelled(requestID, err)
	}

	for attempt := 0; ; attempt++ {
		if e.budget.Exceeded() {
			return e.exhausted(log, requestID, attempt)
		}

		if e.limiter != nil {
			if err := e.limiter.Wait(ctx); err != nil {
				log.Warn("Rate limit wait failed.", "attempt", attempt+1, "error", err)
				return e.cancelled(requestID, err)
			}
		}

		res := e.attempt(ctx, req)
		res.RequestID = requestID
		attemptLog := log.With("attempt", attempt+1)

		if res.Kind != KindTransportFailure {
			if res.Empty() {
				attemptLog.Warn("Empty response body.", "status", res.StatusCode, "total_errors", e.budget.Count())
				e.observe(req.Method, "empty")
			} else {
				attemptLog.Info("Success.", "status", res.StatusCode, "total_errors", e.budget.Count())
				e.observe(req.Method, "success")
			}
			return res
		}

		if ctx.Err() != nil {
			return e.cancelled(requestID, ctx.Err())
		}

		if errors.Is(res.Err, ErrClientStatus) {
			attemptLog.Error("Client error. Skipping!", "status", res.StatusCode, "total_errors", e.budget.Count(), "error", res.Err, "body", truncate(res.Body))
			e.observe(req.Method, "client_error")
			return res
		}

		total := e.budget.Increment()
		if e.observer != nil {
			e.observer.ObserveTransientError()
		}
		attemptLog = attemptLog.With("total_errors", total)

		if e.budget.Exceeded() {
			attemptLog.Error("Transient error.", "status", res.StatusCode, "error", res.Err)
			return e.exhausted(log, requestID, attempt+1)
		}

		if req.GiveUp && e.policy.Exhausted(attempt) {
			attemptLog.Error("Giving up!", "status", res.StatusCode, "error", res.Err)
			e.observe(req.Method, "gave_up")
			res.Err = fmt.Errorf("%w (%d attempts): %w", ErrGaveUp, attempt+1, res.Err)
			return res
		}

		delay := e.policy.Delay(attempt)
		attemptLog.Error("Transient error. Retrying.", "status", res.StatusCode, "error", res.Err, "sleep_seconds", delay.Seconds())
		e.observe(req.Method, "retry")
		if err := e.sleep(ctx, delay); err != nil {
			return e.cancelled(requestID, err)
		}
	}
}

// attempt performs a single HTTP exchange and classifies the answer.
func (e *Executor) attempt(ctx context.Context, req Request) Result {
	target, err := withParams(req.URL, req.Params)
	if err != nil {
		// A bad URL will not get better by retrying.
		return Result{Kind: KindTransportFailure, Err: fmt.Errorf("%w: %w", ErrClientStatus, err)}
	}

	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target, body)
	if err != nil {
		return Result{Kind: KindTransportFailure, Err: fmt.Errorf("%w: %w", ErrClientStatus, err)}
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return NewTransportFailure(err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	meta := Result{StatusCode: resp.StatusCode, Header: resp.Header}
	if err != nil {
		return NewTransportFailure(fmt.Errorf("read body: %w", err)).withMeta(meta)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if len(bytes.TrimSpace(payload)) == 0 {
			return NewMalformed("").withMeta(meta)
		}
		res := NewSuccess(payload).withMeta(meta)
		return res
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		res := NewTransportFailure(fmt.Errorf("%w: %s", ErrClientStatus, resp.Status)).withMeta(meta)
		res.Body = payload
		return res
	default:
		res := NewTransportFailure(fmt.Errorf("%w: %s", ErrServerStatus, resp.Status)).withMeta(meta)
		res.Body = payload
		return res
	}
}

func (e *Executor) exhausted(log *slog.Logger, requestID string, attempts int) Result {
	reason := fmt.Sprintf("Over %d total errors. Script exiting!", e.budget.Ceiling())
	log.Error(reason, "attempts", attempts, "total_errors", e.budget.Count())
	e.observe("", "budget_exhausted")
	if e.onExhausted != nil {
		e.onExhausted(reason)
	}
	res := NewTransportFailure(fmt.Errorf("%w: %d errors over ceiling %d", ErrBudgetExhausted, e.budget.Count(), e.budget.Ceiling()))
	res.RequestID = requestID
	return res
}

func (e *Executor) cancelled(requestID string, err error) Result {
	res := NewTransportFailure(err)
	res.RequestID = requestID
	return res
}

func (e *Executor) observe(method, outcome string) {
	if e.observer != nil {
		e.observer.ObserveRequest(method, outcome)
	}
}

func withParams(raw string, params url.Values) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse url %q: %w", raw, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("url %q is not absolute", raw)
	}
	if len(params) == 0 {
		return u.String(), nil
	}
	q := u.Query()
	for k, vs := range params {
		q.Del(k)
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func truncate(b []byte) string {
	const limit = 2048
	s := strings.TrimSpace(string(b))
	if len(s) > limit {
		return s[:limit] + "..."
	}
	return s
}
