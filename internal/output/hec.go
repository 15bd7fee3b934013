package output

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/klauspost/compress/gzip"
	"golang.org/x/oauth2"

	"merakihec/internal/event"
	"merakihec/internal/fetcher"
)

// ErrNotDelivered is returned when the collector did not accept a batch.
var ErrNotDelivered = errors.New("hec: batch not delivered")

// HECSink posts batches to an HTTP Event Collector endpoint through the
// shared executor, so collector failures are retried and counted against the
// same error budget as vendor calls.
type HECSink struct {
	doer   fetcher.Doer
	url    string
	gzip   bool
	logger *slog.Logger
}

type HECOption func(*HECSink)

func WithGzip(enabled bool) HECOption {
	return func(s *HECSink) { s.gzip = enabled }
}

func WithHECLogger(logger *slog.Logger) HECOption {
	return func(s *HECSink) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func NewHECSink(doer fetcher.Doer, endpoint string, opts ...HECOption) (*HECSink, error) {
	if doer == nil {
		return nil, fmt.Errorf("hec sink: nil executor")
	}
	if endpoint == "" {
		return nil, fmt.Errorf("hec sink: empty endpoint")
	}
	s := &HECSink{doer: doer, url: endpoint, logger: slog.Default()}
	for _, apply := range opts {
		if apply != nil {
			apply(s)
		}
	}
	return s, nil
}

func (s *HECSink) Send(ctx context.Context, events []event.Event) error {
	if len(events) == 0 {
		return nil
	}
	payload, err := event.Marshal(events)
	if err != nil {
		return err
	}

	header := http.Header{}
	header.Set("Content-Type", "application/json")
	if s.gzip {
		payload, err = compress(payload)
		if err != nil {
			return err
		}
		header.Set("Content-Encoding", "gzip")
	}

	res := s.doer.Execute(ctx, fetcher.Request{
		Method: http.MethodPost,
		URL:    s.url,
		Header: header,
		Body:   payload,
	})
	if !res.Delivered() {
		s.logger.Error("Collector did not accept batch.", "request_id", res.RequestID, "status", res.StatusCode, "events", len(events), "error", res.Err)
		return fmt.Errorf("%w (status %d): %w", ErrNotDelivered, res.StatusCode, res.Err)
	}
	s.logger.Debug("Sent batch to collector.", "request_id", res.RequestID, "events", len(events), "bytes", len(payload))
	return nil
}

func (s *HECSink) Close() error { return nil }

func compress(payload []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(payload); err != nil {
		return nil, fmt.Errorf("gzip payload: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("gzip payload: %w", err)
	}
	return buf.Bytes(), nil
}

// NewHECClient returns an HTTP client that authenticates every request with
// "Authorization: Splunk <token>".
func NewHECClient(token string, timeout time.Duration, insecure bool) *http.Client {
	base := http.DefaultTransport.(*http.Transport).Clone()
	if insecure {
		base.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec
	}
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Splunk"})
	return &http.Client{
		Transport: &oauth2.Transport{Source: ts, Base: base},
		Timeout:   timeout,
	}
}
