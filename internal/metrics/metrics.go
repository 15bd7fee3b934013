// Package metrics records per-run counters in a private Prometheus registry.
//
// The poller is a short-lived cron job, so nothing is served over HTTP; the
// registry is written in the node_exporter textfile format at the end of a
// run when a path is configured.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "merakihec"

// Metrics is safe for concurrent use. A nil *Metrics discards everything.
type Metrics struct {
	registry *prometheus.Registry

	requests        *prometheus.CounterVec // Vendor/HEC request outcomes by method
	transientErrors prometheus.Counter     // Failures charged to the error budget
	events          *prometheus.CounterVec // Events forwarded by sourcetype
	items           *prometheus.CounterVec // Work items by stage and outcome
	stageDuration   *prometheus.GaugeVec   // Wall time per stage
	runDuration     prometheus.Gauge
	runSuccess      prometheus.Gauge
	lastRun         prometheus.Gauge
}

func New() (*Metrics, error) {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "HTTP requests by method and outcome",
		}, []string{"method", "outcome"}),

		transientErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transient_errors_total",
			Help:      "Transient failures counted against the error budget",
		}),

		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_forwarded_total",
			Help:      "Events accepted by the sink, by sourcetype",
		}, []string{"sourcetype"}),

		items: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "work_items_total",
			Help:      "Work items processed by stage and outcome",
		}, []string{"stage", "outcome"}),

		stageDuration: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Wall time of the last run of each stage",
		}, []string{"stage"}),

		runDuration: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of the last run",
		}),

		runSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "run_success",
			Help:      "1 if the last run finished DONE, 0 if INCOMPLETE",
		}),

		lastRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time the last run finished",
		}),
	}

	for _, c := range []prometheus.Collector{
		m.requests, m.transientErrors, m.events, m.items,
		m.stageDuration, m.runDuration, m.runSuccess, m.lastRun,
	} {
		if err := m.registry.Register(c); err != nil {
			return nil, fmt.Errorf("register metric: %w", err)
		}
	}
	return m, nil
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) ObserveRequest(method, outcome string) {
	if m == nil {
		return
	}
	if method == "" {
		method = "none"
	}
	m.requests.WithLabelValues(method, outcome).Inc()
}

func (m *Metrics) ObserveTransientError() {
	if m == nil {
		return
	}
	m.transientErrors.Inc()
}

func (m *Metrics) AddEvents(sourcetype string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.events.WithLabelValues(sourcetype).Add(float64(n))
}

func (m *Metrics) ObserveItem(stage, outcome string) {
	if m == nil {
		return
	}
	m.items.WithLabelValues(stage, outcome).Inc()
}

func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.stageDuration.WithLabelValues(stage).Set(d.Seconds())
}

func (m *Metrics) ObserveRun(success bool, elapsed time.Duration, finished time.Time) {
	if m == nil {
		return
	}
	m.runDuration.Set(elapsed.Seconds())
	if success {
		m.runSuccess.Set(1)
	} else {
		m.runSuccess.Set(0)
	}
	m.lastRun.Set(float64(finished.Unix()))
}

// WriteTextfile atomically writes the registry to path. An empty path is a
// no-op.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil || path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
