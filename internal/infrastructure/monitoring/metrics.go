package monitoring

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics. Every method is safe on a nil
// receiver so components can run without instrumentation in tests.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Session metrics
	SessionsActive  prometheus.Gauge
	SessionsOpened  prometheus.Counter
	SessionsEvicted prometheus.Counter

	// Protocol metrics
	FramesTotal *prometheus.CounterVec
	FrameErrors *prometheus.CounterVec
	HooksTotal  *prometheus.CounterVec

	// Completion metrics
	CompletionOutcomes *prometheus.CounterVec
	CompletionLatency  prometheus.Histogram
	CacheEntries       prometheus.Gauge

	// Dispatch metrics
	Deliveries    *prometheus.CounterVec
	Drops         *prometheus.CounterVec
	WindowsActive prometheus.Gauge
	UsageWindows  prometheus.Counter

	// WebSocket metrics
	WSConnections prometheus.Gauge

	// System metrics
	Uptime    prometheus.GaugeFunc
	startTime time.Time

	snapshot MetricsSnapshot
	mu       sync.RWMutex
}

// MetricsSnapshot holds current values for the JSON status endpoint
type MetricsSnapshot struct {
	SessionsActive    int64   `json:"sessions_active"`
	HooksReceived     int64   `json:"hooks_received"`
	Suggestions       int64   `json:"suggestions"`
	CompletionErrors  int64   `json:"completion_errors"`
	DispatchDrops     int64   `json:"dispatch_drops"`
	ActiveConnections int64   `json:"active_connections"`
	UptimeSeconds     float64 `json:"uptime_seconds"`
}

// NewMetrics creates a metrics collector registered on reg, or on a fresh
// registry when reg is nil.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	m := &Metrics{
		registry:  reg,
		startTime: time.Now(),

		// HTTP metrics
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentterm_http_requests_total",
				Help: "Total number of status server HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agentterm_http_request_duration_seconds",
				Help:    "Status server HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"method", "path"},
		),

		// Session metrics
		SessionsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "agentterm_sessions_active",
				Help: "Number of sessions in the registry",
			},
		),
		SessionsOpened: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "agentterm_sessions_opened_total",
				Help: "Total number of sessions registered",
			},
		),
		SessionsEvicted: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "agentterm_sessions_evicted_total",
				Help: "Total number of sessions removed by the idle sweep",
			},
		),

		// Protocol metrics
		FramesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentterm_frames_total",
				Help: "Total number of protocol frames",
			},
			[]string{"direction", "category"},
		),
		FrameErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentterm_frame_errors_total",
				Help: "Total number of protocol transport errors",
			},
			[]string{"kind"},
		),
		HooksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentterm_hooks_total",
				Help: "Total number of hooks received from interceptors",
			},
			[]string{"kind"},
		),

		// Completion metrics
		CompletionOutcomes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentterm_completion_outcomes_total",
				Help: "Completion cycles by outcome",
			},
			[]string{"outcome"},
		),
		CompletionLatency: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "agentterm_completion_remote_seconds",
				Help:    "Remote completion call latency in seconds",
				Buckets: []float64{.05, .1, .25, .5, 1, 2, 5},
			},
		),
		CacheEntries: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "agentterm_completion_cache_entries",
				Help: "Number of entries in the completion prefix cache",
			},
		),

		// Dispatch metrics
		Deliveries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentterm_dispatch_deliveries_total",
				Help: "Notifications delivered to UI windows",
			},
			[]string{"kind"},
		),
		Drops: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentterm_dispatch_drops_total",
				Help: "Notifications or hooks dropped",
			},
			[]string{"reason"},
		),
		WindowsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "agentterm_windows_active",
				Help: "Number of UI windows with a delivery queue",
			},
		),
		UsageWindows: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "agentterm_usage_windows_total",
				Help: "Closed usage metric windows",
			},
		),

		// WebSocket metrics
		WSConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "agentterm_ws_connections",
				Help: "Number of active WebSocket window connections",
			},
		),
	}

	m.Uptime = factory.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "agentterm_uptime_seconds",
			Help: "Process uptime in seconds",
		},
		func() float64 { return time.Since(m.startTime).Seconds() },
	)

	return m
}

// Registry returns the registry the metrics are registered on
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordHTTPRequest records a status server HTTP request
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// SetSessionsActive sets the number of registered sessions
func (m *Metrics) SetSessionsActive(count int) {
	if m == nil {
		return
	}
	m.SessionsActive.Set(float64(count))
	m.mu.Lock()
	m.snapshot.SessionsActive = int64(count)
	m.mu.Unlock()
}

// IncSessionsOpened increments the sessions opened counter
func (m *Metrics) IncSessionsOpened() {
	if m == nil {
		return
	}
	m.SessionsOpened.Inc()
}

// AddSessionsEvicted adds n idle evictions
func (m *Metrics) AddSessionsEvicted(n int) {
	if m == nil {
		return
	}
	m.SessionsEvicted.Add(float64(n))
}

// RecordFrame records a frame sent ("out") or received ("in")
func (m *Metrics) RecordFrame(direction, category string) {
	if m == nil {
		return
	}
	m.FramesTotal.WithLabelValues(direction, category).Inc()
}

// RecordFrameError records a transport error by kind
func (m *Metrics) RecordFrameError(kind string) {
	if m == nil {
		return
	}
	m.FrameErrors.WithLabelValues(kind).Inc()
}

// RecordHook records a received hook
func (m *Metrics) RecordHook(kind string) {
	if m == nil {
		return
	}
	m.HooksTotal.WithLabelValues(kind).Inc()
	m.mu.Lock()
	m.snapshot.HooksReceived++
	m.mu.Unlock()
}

// RecordCompletion records the outcome of one completion cycle
func (m *Metrics) RecordCompletion(outcome string) {
	if m == nil {
		return
	}
	m.CompletionOutcomes.WithLabelValues(outcome).Inc()
	m.mu.Lock()
	switch outcome {
	case "cache_hit", "remote":
		m.snapshot.Suggestions++
	case "error", "throttled_out":
		m.snapshot.CompletionErrors++
	}
	m.mu.Unlock()
}

// ObserveCompletionLatency records a remote call duration
func (m *Metrics) ObserveCompletionLatency(d time.Duration) {
	if m == nil {
		return
	}
	m.CompletionLatency.Observe(d.Seconds())
}

// SetCacheEntries sets the completion cache size
func (m *Metrics) SetCacheEntries(n int) {
	if m == nil {
		return
	}
	m.CacheEntries.Set(float64(n))
}

// RecordDelivery records a notification delivered to a window
func (m *Metrics) RecordDelivery(kind string) {
	if m == nil {
		return
	}
	m.Deliveries.WithLabelValues(kind).Inc()
}

// RecordDrop records a dropped notification or hook
func (m *Metrics) RecordDrop(reason string) {
	if m == nil {
		return
	}
	m.Drops.WithLabelValues(reason).Inc()
	m.mu.Lock()
	m.snapshot.DispatchDrops++
	m.mu.Unlock()
}

// SetWindowsActive sets the number of windows with a delivery queue
func (m *Metrics) SetWindowsActive(n int) {
	if m == nil {
		return
	}
	m.WindowsActive.Set(float64(n))
}

// IncUsageWindows increments the closed usage window counter
func (m *Metrics) IncUsageWindows() {
	if m == nil {
		return
	}
	m.UsageWindows.Inc()
}

// IncWSConnections increments WebSocket connections
func (m *Metrics) IncWSConnections() {
	if m == nil {
		return
	}
	m.WSConnections.Inc()
	m.mu.Lock()
	m.snapshot.ActiveConnections++
	m.mu.Unlock()
}

// DecWSConnections decrements WebSocket connections
func (m *Metrics) DecWSConnections() {
	if m == nil {
		return
	}
	m.WSConnections.Dec()
	m.mu.Lock()
	m.snapshot.ActiveConnections--
	m.mu.Unlock()
}
