package meraki

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestNewClient_NilContext(t *testing.T) {
	//nolint:staticcheck // intentional nil context
	if _, err := NewClient(nil, "key"); err == nil {
		t.Fatalf("expected error for nil ctx")
	}
}

func TestNewClient_RejectsRelativeBaseURL(t *testing.T) {
	if _, err := NewClient(context.Background(), "key", WithBaseURL("/api/v0")); err == nil {
		t.Fatalf("expected error for relative base URL")
	}
}

func TestNewClient_RejectsUnknownAuthScheme(t *testing.T) {
	if _, err := NewClient(context.Background(), "key", WithAuthScheme("basic")); err == nil {
		t.Fatalf("expected error for unknown auth scheme")
	}
}

func TestNewClient_AuthSchemes(t *testing.T) {
	tests := []struct {
		name       string
		scheme     AuthScheme
		wantHeader string
		wantValue  string
	}{
		{name: "api key header", scheme: AuthHeader, wantHeader: APIKeyHeader, wantValue: "secret"},
		{name: "bearer", scheme: AuthBearer, wantHeader: "Authorization", wantValue: "Bearer secret"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got string
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				got = r.Header.Get(tt.wantHeader)
				_, _ = w.Write([]byte("[]"))
			}))
			t.Cleanup(server.Close)

			c, err := NewClient(context.Background(), "secret", WithBaseURL(server.URL), WithAuthScheme(tt.scheme))
			if err != nil {
				t.Fatalf("NewClient: %v", err)
			}
			resp, err := c.HTTP.Get(c.OrganizationsURL())
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			_ = resp.Body.Close()
			if got != tt.wantValue {
				t.Fatalf("expected %s=%q, got %q", tt.wantHeader, tt.wantValue, got)
			}
		})
	}
}

func TestNewClient_WithVerboseLogsRequests(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(APIKeyHeader) != "" {
			t.Errorf("expected no API key header for empty key")
		}
		_, _ = w.Write([]byte("[]"))
	}))
	t.Cleanup(server.Close)

	var buf bytes.Buffer
	c, err := NewClient(context.Background(), "", WithBaseURL(server.URL), WithVerbose(true, &buf), WithRateLimit(100, 1))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	resp, err := c.HTTP.Get(c.NetworksURL("123"))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	_ = resp.Body.Close()

	out := buf.String()
	if !strings.Contains(out, "[verbose] meraki api: GET") {
		t.Fatalf("expected request log, got %q", out)
	}
	if !strings.Contains(out, "200 OK") {
		t.Fatalf("expected response log, got %q", out)
	}
}

func TestNewClient_RateLimit(t *testing.T) {
	c, err := NewClient(context.Background(), "k", WithRateLimit(5, 0))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if c.Limiter == nil {
		t.Fatalf("expected a limiter")
	}
	if c.Limiter.Limit() != 5 || c.Limiter.Burst() != 1 {
		t.Fatalf("limit=%v burst=%d, want 5 and 1", c.Limiter.Limit(), c.Limiter.Burst())
	}
	if _, ok := c.HTTP.Transport.(*apiKeyRoundTripper); !ok {
		t.Fatalf("transport = %T, want the API key transport outermost", c.HTTP.Transport)
	}

	c, err = NewClient(context.Background(), "k", WithRateLimit(0, 5))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if c.Limiter != nil {
		t.Fatalf("expected no limiter for a zero rate")
	}
}

func TestEndpoints(t *testing.T) {
	c, err := NewClient(context.Background(), "k", WithBaseURL("https://api.example.com/api/v0/"))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	tests := []struct {
		got  string
		want string
	}{
		{c.OrganizationsURL(), "https://api.example.com/api/v0/organizations"},
		{c.NetworksURL("42"), "https://api.example.com/api/v0/organizations/42/networks"},
		{c.DeviceStatusesURL("42"), "https://api.example.com/api/v0/organizations/42/deviceStatuses"},
		{c.DevicesURL("42"), "https://api.example.com/api/v0/organizations/42/devices"},
		{c.UplinksLossAndLatencyURL("42"), "https://api.example.com/api/v0/organizations/42/uplinksLossAndLatency"},
		{c.DeviceUplinkURL("N_1", "Q2AB-1"), "https://api.example.com/api/v0/networks/N_1/devices/Q2AB-1/uplink"},
		{c.DevicePerformanceURL("N_1", "Q2AB-1"), "https://api.example.com/api/v0/networks/N_1/devices/Q2AB-1/performance"},
		{c.DeviceLossAndLatencyURL("N_1", "Q2AB-1"), "https://api.example.com/api/v0/networks/N_1/devices/Q2AB-1/lossAndLatencyHistory"},
		{c.DeviceClientsURL("Q2AB-1"), "https://api.example.com/api/v0/devices/Q2AB-1/clients"},
		{c.SyslogServersURL("N_1"), "https://api.example.com/api/v0/networks/N_1/syslogServers"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("got %q, want %q", tt.got, tt.want)
		}
	}
}

func TestResolveAPIKey(t *testing.T) {
	t.Run("explicit key wins", func(t *testing.T) {
		t.Setenv(EnvAPIKey, "env-key")

		key, src, err := ResolveAPIKey(" explicit ")
		if err != nil {
			t.Fatalf("ResolveAPIKey error: %v", err)
		}
		if key != "explicit" || src != KeySourceExplicit {
			t.Fatalf("want explicit/%q, got %q/%q", KeySourceExplicit, key, src)
		}
	})

	t.Run("env key used", func(t *testing.T) {
		t.Setenv(EnvAPIKey, "env-key")

		key, src, err := ResolveAPIKey("")
		if err != nil {
			t.Fatalf("ResolveAPIKey error: %v", err)
		}
		if key != "env-key" || src != KeySourceEnv {
			t.Fatalf("want env-key/%q, got %q/%q", KeySourceEnv, key, src)
		}
	})

	t.Run("none available", func(t *testing.T) {
		t.Setenv(EnvAPIKey, "")

		key, src, err := ResolveAPIKey("")
		if err != nil {
			t.Fatalf("ResolveAPIKey error: %v", err)
		}
		if key != "" || src != "" {
			t.Fatalf("expected empty result, got %q/%q", key, src)
		}
	})

	t.Run("whitespace rejected", func(t *testing.T) {
		if _, _, err := ResolveAPIKey("abc def"); err == nil {
			t.Fatalf("expected error for key with whitespace")
		}
	})
}
