package fetcher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/time/rate"
)

type sleepRecorder struct {
	mu     sync.Mutex
	sleeps []time.Duration
}

func (r *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.sleeps = append(r.sleeps, d)
	r.mu.Unlock()
	return ctx.Err()
}

func (r *sleepRecorder) recorded() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.sleeps...)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestExecutor(t *testing.T, ceiling int, delays []float64, opts ...ExecutorOption) (*Executor, *sleepRecorder) {
	t.Helper()
	budget, err := NewErrorBudget(ceiling)
	if err != nil {
		t.Fatalf("NewErrorBudget: %v", err)
	}
	policy, err := NewRetryPolicy(delays)
	if err != nil {
		t.Fatalf("NewRetryPolicy: %v", err)
	}
	rec := &sleepRecorder{}
	base := []ExecutorOption{
		WithJitter(Jitter{}),
		WithSleep(rec.sleep),
		WithLogger(discardLogger()),
	}
	e, err := NewExecutor(http.DefaultClient, budget, policy, append(base, opts...)...)
	if err != nil {
		t.Fatalf("NewExecutor: %v", err)
	}
	return e, rec
}

func TestExecute_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("timespan"); got != "3600" {
			t.Errorf("expected timespan param, got %q", got)
		}
		if got := r.Header.Get("X-Test"); got != "yes" {
			t.Errorf("expected header, got %q", got)
		}
		fmt.Fprint(w, `[{"id":"N_1"}]`)
	}))
	t.Cleanup(server.Close)

	e, _ := newTestExecutor(t, 10, []float64{1})
	res := e.Execute(context.Background(), Request{
		URL:    server.URL + "/networks",
		Header: http.Header{"X-Test": []string{"yes"}},
		Params: url.Values{"timespan": []string{"3600"}},
	})
	if res.Kind != KindSuccess {
		t.Fatalf("expected success, got %s (%v)", res.Kind, res.Err)
	}
	if string(res.Body) != `[{"id":"N_1"}]` {
		t.Fatalf("unexpected body %q", res.Body)
	}
	if res.RequestID == "" {
		t.Fatalf("expected request id")
	}
}

func TestExecute_EmptyBodyIsDistinct(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(server.Close)

	e, _ := newTestExecutor(t, 10, []float64{1})
	res := e.Execute(context.Background(), Request{URL: server.URL})
	if res.Kind != KindMalformed {
		t.Fatalf("expected malformed for empty 200, got %s", res.Kind)
	}
	if !res.Empty() {
		t.Fatalf("expected Empty() for empty 200")
	}
	if res.OK() {
		t.Fatalf("empty 200 must not be success")
	}
	if !errors.Is(res.Err, ErrEmptyBody) {
		t.Fatalf("expected ErrEmptyBody, got %v", res.Err)
	}
	if e.Budget().Count() != 0 {
		t.Fatalf("empty body must not count against the budget")
	}
}

func TestExecute_ClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"errors":["Not found"]}`)
	}))
	t.Cleanup(server.Close)

	e, rec := newTestExecutor(t, 10, []float64{1, 2, 4})
	res := e.Execute(context.Background(), Request{URL: server.URL, GiveUp: false})
	if res.Kind != KindTransportFailure {
		t.Fatalf("expected transport failure, got %s", res.Kind)
	}
	if !errors.Is(res.Err, ErrClientStatus) {
		t.Fatalf("expected ErrClientStatus, got %v", res.Err)
	}
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", res.StatusCode)
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("expected exactly 1 call, got %d", got)
	}
	if e.Budget().Count() != 0 {
		t.Fatalf("client errors must not count against the budget")
	}
	// Only the jitter sleep.
	if got := len(rec.recorded()); got != 1 {
		t.Fatalf("expected 1 sleep, got %d", got)
	}
}

func TestExecute_GiveUpAfterRetryTable(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(server.Close)

	e, rec := newTestExecutor(t, 100, []float64{1, 2, 4})
	res := e.Execute(context.Background(), Request{URL: server.URL, GiveUp: true})

	if got := calls.Load(); got != 4 {
		t.Fatalf("expected 4 attempts (initial + 3 retries), got %d", got)
	}
	if res.Kind != KindTransportFailure {
		t.Fatalf("expected transport failure, got %s", res.Kind)
	}
	if !errors.Is(res.Err, ErrGaveUp) || !errors.Is(res.Err, ErrServerStatus) {
		t.Fatalf("expected ErrGaveUp wrapping ErrServerStatus, got %v", res.Err)
	}

	want := []time.Duration{0, time.Second, 2 * time.Second, 4 * time.Second}
	got := rec.recorded()
	if len(got) != len(want) {
		t.Fatalf("expected sleeps %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("sleep %d: expected %v, got %v", i, want[i], got[i])
		}
	}
}

func TestExecute_RetriesUntilSuccessWithoutGiveUp(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 5 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, `{"ok":true}`)
	}))
	t.Cleanup(server.Close)

	e, rec := newTestExecutor(t, 100, []float64{1, 2})
	res := e.Execute(context.Background(), Request{URL: server.URL, GiveUp: false})
	if res.Kind != KindSuccess {
		t.Fatalf("expected success, got %s (%v)", res.Kind, res.Err)
	}
	if got := calls.Load(); got != 6 {
		t.Fatalf("expected 6 calls, got %d", got)
	}
	if got := e.Budget().Count(); got != 5 {
		t.Fatalf("expected 5 budget errors, got %d", got)
	}
	// Delays clamp to the last entry once the table runs out.
	sleeps := rec.recorded()
	if sleeps[len(sleeps)-1] != 2*time.Second {
		t.Fatalf("expected clamped delay of 2s, got %v", sleeps)
	}
}

func TestExecute_BudgetExhaustionAborts(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(server.Close)

	var reasons []string
	e, _ := newTestExecutor(t, 3, []float64{1}, WithBudgetExhausted(func(reason string) {
		reasons = append(reasons, reason)
	}))

	res := e.Execute(context.Background(), Request{URL: server.URL, GiveUp: false})
	if !errors.Is(res.Err, ErrBudgetExhausted) {
		t.Fatalf("expected ErrBudgetExhausted, got %v", res.Err)
	}
	if got := calls.Load(); got != 4 {
		t.Fatalf("expected abort on the 4th failure, got %d calls", got)
	}
	if len(reasons) != 1 {
		t.Fatalf("expected one abort call, got %d", len(reasons))
	}

	// Once exceeded, further requests abort before any HTTP call.
	res = e.Execute(context.Background(), Request{URL: server.URL})
	if !errors.Is(res.Err, ErrBudgetExhausted) {
		t.Fatalf("expected ErrBudgetExhausted on later request, got %v", res.Err)
	}
	if got := calls.Load(); got != 4 {
		t.Fatalf("expected no further calls, got %d", got)
	}
}

func TestExecute_ConnectionFailureIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	addr := server.URL
	server.Close()

	e, _ := newTestExecutor(t, 100, []float64{1})
	res := e.Execute(context.Background(), Request{URL: addr, GiveUp: true})
	if res.Kind != KindTransportFailure {
		t.Fatalf("expected transport failure, got %s", res.Kind)
	}
	if !errors.Is(res.Err, ErrGaveUp) {
		t.Fatalf("expected ErrGaveUp, got %v", res.Err)
	}
	if got := e.Budget().Count(); got != 2 {
		t.Fatalf("expected 2 budget errors, got %d", got)
	}
}

func TestExecute_CancelledContextStopsRetrying(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(server.Close)

	ctx, cancel := context.WithCancel(context.Background())
	var attempts atomic.Int32
	e, _ := newTestExecutor(t, 100, []float64{1}, WithSleep(func(ctx context.Context, d time.Duration) error {
		if d > 0 && attempts.Add(1) == 2 {
			cancel()
		}
		return ctx.Err()
	}))

	res := e.Execute(ctx, Request{URL: server.URL, GiveUp: false})
	if !errors.Is(res.Err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", res.Err)
	}
}

func TestExecute_PostSendsBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		b, _ := io.ReadAll(r.Body)
		if string(b) != `{"event":1}` {
			t.Errorf("unexpected body %q", b)
		}
		fmt.Fprint(w, `{"text":"Success","code":0}`)
	}))
	t.Cleanup(server.Close)

	e, _ := newTestExecutor(t, 10, []float64{1})
	res := e.Execute(context.Background(), Request{Method: http.MethodPost, URL: server.URL, Body: []byte(`{"event":1}`)})
	if !res.Delivered() {
		t.Fatalf("expected delivered, got %s (%v)", res.Kind, res.Err)
	}
}

func TestExecute_RelativeURLIsClientError(t *testing.T) {
	e, _ := newTestExecutor(t, 10, []float64{1})
	res := e.Execute(context.Background(), Request{URL: "/relative"})
	if !errors.Is(res.Err, ErrClientStatus) {
		t.Fatalf("expected ErrClientStatus, got %v", res.Err)
	}
	if e.Budget().Count() != 0 {
		t.Fatalf("bad URLs must not count against the budget")
	}
}

func TestNewExecutor_Validates(t *testing.T) {
	budget, _ := NewErrorBudget(1)
	policy, _ := NewRetryPolicy([]float64{1})
	if _, err := NewExecutor(nil, budget, policy); err == nil {
		t.Fatalf("expected error for nil client")
	}
	if _, err := NewExecutor(http.DefaultClient, nil, policy); err == nil {
		t.Fatalf("expected error for nil budget")
	}
	if _, err := NewExecutor(http.DefaultClient, budget, RetryPolicy{}); err == nil {
		t.Fatalf("expected error for empty policy")
	}
}

func TestExecute_RateLimitQueueIsNotTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "[]")
	}))
	t.Cleanup(srv.Close)

	budget, err := NewErrorBudget(100)
	if err != nil {
		t.Fatalf("NewErrorBudget: %v", err)
	}
	policy, err := NewRetryPolicy([]float64{1})
	if err != nil {
		t.Fatalf("NewRetryPolicy: %v", err)
	}
	// 12 requests at 40/s queue for ~275ms, well past the client timeout.
	client := &http.Client{Timeout: 50 * time.Millisecond}
	e, err := NewExecutor(client, budget, policy,
		WithJitter(Jitter{}),
		WithSleep(func(ctx context.Context, d time.Duration) error { return ctx.Err() }),
		WithLogger(discardLogger()),
		WithRateLimiter(rate.NewLimiter(rate.Limit(40), 1)),
	)
	if err != nil {
		t.Fatalf("NewExecutor: %v", err)
	}

	const n = 12
	results := make([]Result, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = e.Execute(context.Background(), Request{URL: srv.URL, GiveUp: true})
		}()
	}
	wg.Wait()

	for i, res := range results {
		if res.Kind != KindSuccess {
			t.Fatalf("request %d: kind=%s err=%v", i, res.Kind, res.Err)
		}
	}
	if got := budget.Count(); got != 0 {
		t.Fatalf("budget count = %d, want 0", got)
	}
}

func TestExecute_RateLimitWaitHonoursCancel(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		fmt.Fprint(w, "[]")
	}))
	t.Cleanup(srv.Close)

	limiter := rate.NewLimiter(rate.Limit(0.01), 1)
	limiter.Allow()
	e, _ := newTestExecutor(t, 3, []float64{1}, WithRateLimiter(limiter))

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)
	res := e.Execute(ctx, Request{URL: srv.URL})

	if res.Kind != KindTransportFailure || !errors.Is(res.Err, context.Canceled) {
		t.Fatalf("kind=%s err=%v, want cancelled transport failure", res.Kind, res.Err)
	}
	if hits.Load() != 0 {
		t.Fatalf("server hit %d times, want 0", hits.Load())
	}
	if got := e.Budget().Count(); got != 0 {
		t.Fatalf("budget count = %d, want 0", got)
	}
}

func TestExecute_LogsTotalErrorsOnce(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, "[]")
	}))
	t.Cleanup(srv.Close)

	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	e, _ := newTestExecutor(t, 10, []float64{1}, WithLogger(logger))

	if res := e.Execute(context.Background(), Request{URL: srv.URL}); res.Kind != KindSuccess {
		t.Fatalf("kind=%s err=%v", res.Kind, res.Err)
	}

	var transient int
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		n := strings.Count(line, `"total_errors"`)
		if n > 1 {
			t.Fatalf("total_errors appears %d times in %s", n, line)
		}
		if strings.Contains(line, "Transient error. Retrying.") {
			transient++
			if n != 1 {
				t.Fatalf("transient line without total_errors: %s", line)
			}
		}
	}
	if transient != 2 {
		t.Fatalf("transient lines = %d, want 2\n%s", transient, buf.String())
	}
}
