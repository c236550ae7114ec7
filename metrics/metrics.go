// Package metrics exports Prometheus counters for authentication events and
// raises alerts when login failures spike.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jmcleod/gatehouse/audit"
)

const namespace = "gatehouse"

// AlertType identifies the kind of anomaly detected.
type AlertType string

const AlertLoginFailureSpike AlertType = "login_failure_spike"

// AlertEvent describes an anomaly that triggered an alert.
type AlertEvent struct {
	Type      AlertType `json:"type"`
	Message   string    `json:"message"`
	Count     int       `json:"count"`
	Threshold int       `json:"threshold"`
	Timestamp time.Time `json:"timestamp"`
}

// AlertFunc is the callback invoked when an anomaly is detected.
type AlertFunc func(AlertEvent)

const (
	defaultLoginFailureWindow    = 1 * time.Minute
	defaultLoginFailureThreshold = 50
)

// Metrics owns a private registry so several instances can coexist in tests.
type Metrics struct {
	registry *prometheus.Registry
	events   *prometheus.CounterVec
	requests *prometheus.CounterVec

	mu             sync.Mutex
	loginFailures  []time.Time
	loginWindow    time.Duration
	loginThreshold int
	alertFn        AlertFunc
	now            func() time.Time
}

// Option configures a Metrics instance.
type Option func(*Metrics)

// WithAlertFunc sets the callback for login failure spikes.
func WithAlertFunc(fn AlertFunc) Option {
	return func(m *Metrics) { m.alertFn = fn }
}

// WithLoginFailureThreshold overrides the spike window and threshold.
func WithLoginFailureThreshold(window time.Duration, threshold int) Option {
	return func(m *Metrics) {
		m.loginWindow = window
		m.loginThreshold = threshold
	}
}

// New creates the collectors and registers them alongside the Go runtime and
// build info collectors.
func New(opts ...Option) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_events_total",
			Help:      "Authentication and admin audit events by type.",
		}, []string{"event"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by status code and method.",
		}, []string{"code", "method"}),
		loginWindow:    defaultLoginFailureWindow,
		loginThreshold: defaultLoginFailureThreshold,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.registry.MustRegister(
		m.events,
		m.requests,
		collectors.NewGoCollector(),
		collectors.NewBuildInfoCollector(),
	)
	return m
}

// RecordEvent counts an audit event and updates the spike detector.
func (m *Metrics) RecordEvent(event audit.Event) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(string(event)).Inc()
	if event == audit.LoginFailure || event == audit.LoginRateLimited {
		m.recordLoginFailure()
	}
}

func (m *Metrics) recordLoginFailure() {
	if m.alertFn == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	m.loginFailures = append(m.loginFailures, now)
	m.loginFailures = trimWindow(m.loginFailures, now, m.loginWindow)

	if len(m.loginFailures) >= m.loginThreshold {
		m.alertFn(AlertEvent{
			Type:      AlertLoginFailureSpike,
			Message:   "login failure rate exceeds threshold",
			Count:     len(m.loginFailures),
			Threshold: m.loginThreshold,
			Timestamp: now,
		})
		// Reset to avoid repeated alerts within the same spike.
		m.loginFailures = m.loginFailures[:0]
	}
}

// trimWindow removes entries older than (now - window) from the sorted slice.
func trimWindow(times []time.Time, now time.Time, window time.Duration) []time.Time {
	cutoff := now.Add(-window)
	start := 0
	for start < len(times) && times[start].Before(cutoff) {
		start++
	}
	return times[start:]
}

// Middleware counts every request passing through next.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return promhttp.InstrumentHandlerCounter(m.requests, next)
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
