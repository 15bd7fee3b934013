package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

type Config struct {
	// MAINTAINER NOTE: If you add/change/remove config fields, keep these in sync:
	// - flag names in internal/flags
	// - flag wiring in internal/cli/run.go
	Meraki  Meraki  `yaml:"meraki" json:"meraki"`
	HEC     HEC     `yaml:"hec" json:"hec"`
	Runtime Runtime `yaml:"runtime" json:"runtime"`
	Window  Window  `yaml:"window" json:"window"`
	Devices Devices `yaml:"devices" json:"devices"`
	Sample  Sample  `yaml:"sample" json:"sample"`
	Log     Log     `yaml:"log" json:"log"`
	Metrics Metrics `yaml:"metrics" json:"metrics"`
	Syslog  Syslog  `yaml:"syslog" json:"syslog"`
}

type Meraki struct {
	// APIKey is the dashboard API key. Prefer MERAKI_API_KEY over the file.
	APIKey string `yaml:"api_key" json:"api_key"`

	// OrgID is the organization to poll (see `merakihec orgs`).
	OrgID string `yaml:"org_id" json:"org_id"`

	BaseURL string `yaml:"base_url" json:"base_url"`

	// AuthScheme selects how the key is sent. Allowed values: header, bearer.
	AuthScheme string `yaml:"auth_scheme" json:"auth_scheme"`

	// RatePerSecond caps vendor requests across all workers. 0 disables it.
	RatePerSecond float64 `yaml:"rate_per_second" json:"rate_per_second"`
	RateBurst     int     `yaml:"rate_burst" json:"rate_burst"`

	// PerPage is the page size for paged collections.
	PerPage int `yaml:"per_page" json:"per_page"`
}

type HEC struct {
	// URL of the collector. A URL without a path gets /services/collector/event.
	URL    string `yaml:"url" json:"url"`
	Token  string `yaml:"token" json:"token"`
	Index  string `yaml:"index" json:"index"`
	Source string `yaml:"source" json:"source"`
	Gzip   bool   `yaml:"gzip" json:"gzip"`

	// DryRun writes events to stdout instead of posting them (see --dry-run).
	DryRun bool `yaml:"-" json:"-"`
}

type Runtime struct {
	// Threads is the fan-out worker pool size. Must be >= 1.
	Threads int `yaml:"threads" json:"threads"`

	// Timeout is the per-request timeout in seconds.
	Timeout float64 `yaml:"timeout" json:"timeout"`

	// ErrorLimit is the error budget ceiling for the whole run.
	ErrorLimit int `yaml:"error_limit" json:"error_limit"`

	// RetryBackoff is the backoff table in seconds, indexed by attempt.
	RetryBackoff []float64 `yaml:"retry_backoff" json:"retry_backoff"`

	JitterMin float64 `yaml:"jitter_min" json:"jitter_min"`
	JitterMax float64 `yaml:"jitter_max" json:"jitter_max"`

	// InsecureSkipVerify disables TLS verification for both the vendor API
	// and the collector.
	InsecureSkipVerify bool `yaml:"insecure_skip_verify" json:"insecure_skip_verify"`

	// Verbose tees debug logs and HTTP traces to stderr (see --verbose).
	Verbose bool `yaml:"-" json:"-"`
}

type Window struct {
	// Timespan in seconds for client queries. Match the cron interval.
	Timespan int `yaml:"timespan" json:"timespan"`

	// Policy for loss/latency windows. Allowed values: now, hour, lagged.
	Policy string `yaml:"policy" json:"policy"`

	// Span is t1-t0 in seconds.
	Span float64 `yaml:"span" json:"span"`

	// Lag is how far behind now t1 sits for the lagged policy, in seconds.
	Lag float64 `yaml:"lag" json:"lag"`
}

type Devices struct {
	// ModelPrefix selects devices that get performance and loss/latency fetches.
	ModelPrefix string   `yaml:"model_prefix" json:"model_prefix"`
	Uplinks     []string `yaml:"uplinks" json:"uplinks"`
	LossIP      string   `yaml:"loss_ip" json:"loss_ip"`
}

// Sample limits how many networks and devices a run processes. Used when
// trying the tool against a large organization.
type Sample struct {
	Enabled  bool `yaml:"enabled" json:"enabled"`
	Networks int  `yaml:"networks" json:"networks"`
	Devices  int  `yaml:"devices" json:"devices"`
}

type Log struct {
	Path       string `yaml:"path" json:"path"`
	MaxSizeMB  int    `yaml:"max_size_mb" json:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups" json:"max_backups"`
	Level      string `yaml:"level" json:"level"`
}

type Metrics struct {
	// Textfile is a node_exporter textfile path written at the end of a run.
	Textfile string `yaml:"textfile" json:"textfile"`
}

// Syslog configures the `syslog` command, which points every network at a
// syslog server.
type Syslog struct {
	Host string `yaml:"host" json:"host"`
	Port int    `yaml:"port" json:"port"`

	// Roles are the vendor log roles sent to Host.
	Roles []string `yaml:"roles" json:"roles"`

	// RemoveHost is an old server to drop from every network.
	RemoveHost string `yaml:"remove_host" json:"remove_host"`
}

const (
	DefaultBaseURL  = "https://api.meraki.com/api/v0"
	DefaultHECPath  = "/services/collector/event"
	DefaultIndex    = "meraki_api"
	DefaultSource   = "merakihec"
	DefaultPerPage  = 1000
	DefaultThreads  = 4
	DefaultTimeout  = 5
	DefaultErrLimit = 100
)

func New() *Config {
	return &Config{
		Meraki: Meraki{
			BaseURL:       DefaultBaseURL,
			AuthScheme:    "header",
			RatePerSecond: 5,
			RateBurst:     5,
			PerPage:       DefaultPerPage,
		},
		HEC: HEC{
			Index:  DefaultIndex,
			Source: DefaultSource,
		},
		Runtime: Runtime{
			Threads:      DefaultThreads,
			Timeout:      DefaultTimeout,
			ErrorLimit:   DefaultErrLimit,
			RetryBackoff: []float64{1, 2, 4, 8, 16},
			JitterMin:    1,
			JitterMax:    5,
		},
		Window: Window{
			Timespan: 3600,
			Policy:   "lagged",
			Span:     300,
			Lag:      120,
		},
		Devices: Devices{
			ModelPrefix: "MX",
			Uplinks:     []string{"wan1", "wan2"},
			LossIP:      "8.8.8.8",
		},
		Sample: Sample{
			Networks: 20,
			Devices:  40,
		},
		Log: Log{
			MaxSizeMB:  25,
			MaxBackups: 100,
			Level:      "info",
		},
		Syslog: Syslog{
			Port:  514,
			Roles: []string{"Flows", "URLs", "Security events", "Appliance event log"},
		},
	}
}

// Validate normalizes and checks the settings needed by a pipeline run.
func (c *Config) Validate() error {
	if err := c.ValidateAPI(); err != nil {
		return err
	}

	if strings.TrimSpace(c.Meraki.OrgID) == "" {
		return errors.New("meraki.org_id (--org-id) is required")
	}
	c.Meraki.OrgID = strings.TrimSpace(c.Meraki.OrgID)

	if !c.HEC.DryRun {
		if c.HEC.URL == "" {
			return errors.New("hec.url (--hec-url) is required unless --dry-run is set")
		}
		if c.HEC.Token == "" {
			return errors.New("hec.token (HEC_TOKEN) is required unless --dry-run is set")
		}
		if _, err := c.HEC.Endpoint(); err != nil {
			return err
		}
	}
	if c.Meraki.PerPage <= 0 || c.Meraki.PerPage > 1000 {
		return errors.New("meraki.per_page must be between 1 and 1000")
	}

	if c.Runtime.Threads <= 0 {
		return errors.New("--threads must be >= 1")
	}
	if c.Runtime.ErrorLimit < 0 {
		return errors.New("--error-limit must be >= 0")
	}
	if len(c.Runtime.RetryBackoff) == 0 {
		return errors.New("runtime.retry_backoff must have at least one entry")
	}
	for _, d := range c.Runtime.RetryBackoff {
		if d < 0 {
			return fmt.Errorf("runtime.retry_backoff entries must be >= 0, got %v", d)
		}
	}
	if c.Runtime.JitterMin < 0 || c.Runtime.JitterMax < c.Runtime.JitterMin {
		return fmt.Errorf("runtime jitter must satisfy 0 <= jitter_min <= jitter_max (got %v, %v)", c.Runtime.JitterMin, c.Runtime.JitterMax)
	}

	c.Window.Policy = normalizeEnumValue(c.Window.Policy)
	switch c.Window.Policy {
	case "now", "hour", "lagged":
	case "":
		c.Window.Policy = "lagged"
	default:
		return fmt.Errorf("unsupported --window-policy: %s (must be one of: now, hour, lagged)", c.Window.Policy)
	}
	if c.Window.Timespan <= 0 {
		return errors.New("--timespan must be > 0")
	}
	if c.Window.Span <= 0 {
		return errors.New("window.span must be > 0")
	}
	if c.Window.Lag < 0 {
		return errors.New("window.lag must be >= 0")
	}

	c.Devices.Uplinks = splitCommaList(c.Devices.Uplinks)
	if len(c.Devices.Uplinks) == 0 {
		return errors.New("devices.uplinks must name at least one uplink")
	}

	if c.Sample.Enabled && (c.Sample.Networks < 0 || c.Sample.Devices < 0) {
		return errors.New("sample limits must be >= 0")
	}
	return nil
}

// ValidateAPI checks only what a vendor API call needs. Commands that never
// post to the collector (orgs, syslog) validate with this.
func (c *Config) ValidateAPI() error {
	if strings.TrimSpace(c.Meraki.APIKey) == "" {
		return errors.New("meraki API key is required (set MERAKI_API_KEY or meraki.api_key)")
	}
	c.Meraki.AuthScheme = normalizeEnumValue(c.Meraki.AuthScheme)
	if c.Meraki.AuthScheme == "" {
		c.Meraki.AuthScheme = "header"
	}
	if c.Meraki.AuthScheme != "header" && c.Meraki.AuthScheme != "bearer" {
		return fmt.Errorf("unsupported meraki.auth_scheme: %s (must be one of: header, bearer)", c.Meraki.AuthScheme)
	}
	if c.Runtime.Timeout <= 0 {
		return errors.New("--timeout must be > 0")
	}
	if c.Meraki.RatePerSecond < 0 {
		return errors.New("meraki.rate_per_second must be >= 0")
	}
	return nil
}

// ValidateSyslog checks the settings of the `syslog` command.
func (c *Config) ValidateSyslog() error {
	if err := c.ValidateAPI(); err != nil {
		return err
	}
	c.Meraki.OrgID = strings.TrimSpace(c.Meraki.OrgID)
	if c.Meraki.OrgID == "" {
		return errors.New("meraki.org_id (--org-id) is required")
	}
	if c.Runtime.Threads <= 0 {
		return errors.New("--threads must be >= 1")
	}
	c.Syslog.Host = strings.TrimSpace(c.Syslog.Host)
	if c.Syslog.Host == "" {
		return errors.New("syslog.host (--host) is required")
	}
	if c.Syslog.Port <= 0 || c.Syslog.Port > 65535 {
		return fmt.Errorf("syslog.port must be between 1 and 65535, got %d", c.Syslog.Port)
	}
	if len(c.Syslog.Roles) == 0 {
		return errors.New("syslog.roles must name at least one role")
	}
	return nil
}

// Endpoint returns the collector URL, defaulting the path when none is given.
func (h HEC) Endpoint() (string, error) {
	u, err := url.Parse(strings.TrimSpace(h.URL))
	if err != nil {
		return "", fmt.Errorf("invalid hec.url %q: %w", h.URL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("invalid hec.url %q: scheme must be http or https", h.URL)
	}
	if u.Host == "" {
		return "", fmt.Errorf("invalid hec.url %q: missing host", h.URL)
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = DefaultHECPath
	}
	return u.String(), nil
}

func (r Runtime) TimeoutDuration() time.Duration {
	return seconds(r.Timeout)
}

func (r Runtime) Jitter() (lo, hi time.Duration) {
	return seconds(r.JitterMin), seconds(r.JitterMax)
}

func (w Window) SpanDuration() time.Duration {
	return seconds(w.Span)
}

func (w Window) LagDuration() time.Duration {
	return seconds(w.Lag)
}

func seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}

func normalizeEnumValue(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

func splitCommaList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			p := strings.TrimSpace(part)
			if p == "" {
				continue
			}
			out = append(out, p)
		}
	}
	return out
}
