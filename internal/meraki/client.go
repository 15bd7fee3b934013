package meraki

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
)

const (
	DefaultBaseURL = "https://api.meraki.com/api/v0"

	// APIKeyHeader carries the key when AuthScheme is AuthHeader.
	APIKeyHeader = "X-Cisco-Meraki-API-Key"
)

type AuthScheme string

const (
	AuthHeader AuthScheme = "header"
	AuthBearer AuthScheme = "bearer"
)

// Client holds the shared HTTP client for the Meraki API and knows how to
// build endpoint URLs. It is safe for concurrent use.
type Client struct {
	HTTP    *http.Client
	BaseURL *url.URL

	// Limiter is the shared request rate limit, nil when unlimited. Pass it
	// to fetcher.WithRateLimiter; the transport does not wait on it.
	Limiter *rate.Limiter
}

type options struct {
	baseURL  string
	scheme   AuthScheme
	timeout  time.Duration
	insecure bool
	limiter  *rate.Limiter
	verbose  bool
	// writer controls where verbose HTTP logs are written (typically stderr) so
	// emitted events on stdout stay clean and tests can capture logs.
	writer io.Writer
}

type Option func(*options)

func WithBaseURL(raw string) Option {
	return func(o *options) { o.baseURL = raw }
}

func WithAuthScheme(s AuthScheme) Option {
	return func(o *options) { o.scheme = s }
}

func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// WithInsecureSkipVerify disables TLS certificate verification.
func WithInsecureSkipVerify(skip bool) Option {
	return func(o *options) { o.insecure = skip }
}

// WithRateLimit caps outbound requests per second across all workers.
// A non-positive rate disables limiting.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(o *options) {
		if perSecond <= 0 {
			o.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		o.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

func WithVerbose(enabled bool, writer io.Writer) Option {
	return func(o *options) {
		o.verbose = enabled
		o.writer = writer
	}
}

// loggingRoundTripper wraps an underlying transport and emits one line per
// request and response (including latency) when verbose logging is enabled.
type loggingRoundTripper struct {
	base http.RoundTripper
	w    io.Writer
}

func (t *loggingRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()
	if t.w != nil {
		_, _ = fmt.Fprintf(t.w, "[verbose] meraki api: %s %s\n", req.Method, req.URL.String())
	}
	resp, err := t.base.RoundTrip(req)
	dur := time.Since(start)
	if t.w != nil {
		if err != nil {
			_, _ = fmt.Fprintf(t.w, "[verbose] meraki api: error after %s: %v\n", dur.Truncate(time.Millisecond), err)
		} else {
			_, _ = fmt.Fprintf(t.w, "[verbose] meraki api: %d %s (%s)\n", resp.StatusCode, http.StatusText(resp.StatusCode), dur.Truncate(time.Millisecond))
		}
	}
	return resp, err
}

// apiKeyRoundTripper sets the vendor API key header on every request.
type apiKeyRoundTripper struct {
	base http.RoundTripper
	key  string
}

func (t *apiKeyRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	r := req.Clone(req.Context())
	r.Header.Set(APIKeyHeader, t.key)
	if r.Header.Get("Content-Type") == "" {
		r.Header.Set("Content-Type", "application/json")
	}
	return t.base.RoundTrip(r)
}

func NewClient(ctx context.Context, apiKey string, opts ...Option) (*Client, error) {
	if ctx == nil {
		return nil, fmt.Errorf("meraki client: ctx is nil")
	}

	o := &options{
		baseURL: DefaultBaseURL,
		scheme:  AuthHeader,
		timeout: 5 * time.Second,
	}
	for _, apply := range opts {
		if apply != nil {
			apply(o)
		}
	}
	if o.verbose && o.writer == nil {
		o.writer = os.Stderr
	}

	base, err := url.Parse(strings.TrimRight(o.baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("meraki client: invalid base URL %q: %w", o.baseURL, err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("meraki client: base URL %q must be absolute", o.baseURL)
	}

	var transport http.RoundTripper = newTransport(o.insecure)
	if o.verbose {
		transport = &loggingRoundTripper{base: transport, w: o.writer}
	}
	if apiKey != "" {
		switch o.scheme {
		case AuthBearer:
			ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: apiKey})
			transport = &oauth2.Transport{Source: ts, Base: transport}
		case AuthHeader, "":
			transport = &apiKeyRoundTripper{base: transport, key: apiKey}
		default:
			return nil, fmt.Errorf("meraki client: unsupported auth scheme %q", o.scheme)
		}
	}

	return &Client{
		HTTP:    &http.Client{Transport: transport, Timeout: o.timeout},
		BaseURL: base,
		Limiter: o.limiter,
	}, nil
}

func newTransport(insecure bool) *http.Transport {
	t := http.DefaultTransport.(*http.Transport).Clone()
	if insecure {
		t.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec
	}
	return t
}
