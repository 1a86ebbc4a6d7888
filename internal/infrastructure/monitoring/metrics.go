package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the resilience layer and the ops
// surface.
type Metrics struct {
	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Circuit breaker metrics
	BreakerState *prometheus.GaugeVec
	BreakerTrips *prometheus.CounterVec

	// Persistence metrics
	WritesTotal     *prometheus.CounterVec
	WriteBytes      prometheus.Counter
	LockWait        prometheus.Histogram
	RecoveriesTotal *prometheus.CounterVec
	SweepChecked    prometheus.Gauge
	SweepCorrupted  prometheus.Gauge

	// System metrics
	Uptime    prometheus.Gauge
	startTime time.Time
}

// NewMetrics creates and registers the metrics collectors.
func NewMetrics() *Metrics {
	return &Metrics{
		startTime: time.Now(),

		RequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketpipe_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "marketpipe_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),

		BreakerState: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "marketpipe_breaker_state",
				Help: "Circuit breaker state per resource (0=closed, 1=half_open, 2=open)",
			},
			[]string{"resource"},
		),
		BreakerTrips: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketpipe_breaker_trips_total",
				Help: "Total circuit breaker trips per resource",
			},
			[]string{"resource"},
		),
		WritesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketpipe_writes_total",
				Help: "Total atomic writes per outcome",
			},
			[]string{"outcome"},
		),
		WriteBytes: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "marketpipe_write_bytes_total",
				Help: "Total bytes landed by atomic writes",
			},
		),
		LockWait: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "marketpipe_lock_wait_seconds",
				Help:    "Time spent waiting for file locks",
				Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 5, 10},
			},
		),
		RecoveriesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketpipe_recoveries_total",
				Help: "Corruption recoveries per outcome (recovered, unrecoverable)",
			},
			[]string{"outcome"},
		),
		SweepChecked: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "marketpipe_sweep_files_checked",
				Help: "Files checked by the last integrity sweep",
			},
		),
		SweepCorrupted: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "marketpipe_sweep_files_corrupted",
				Help: "Unrecoverable files found by the last integrity sweep",
			},
		),

		Uptime: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "marketpipe_uptime_seconds",
				Help: "Process uptime in seconds",
			},
		),
	}
}

// RecordHTTPRequest records one handled request.
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// SetBreakerState records a breaker transition. States map to 0/1/2 so
// dashboards can alert on any resource sitting at 2.
func (m *Metrics) SetBreakerState(resource string, state float64) {
	m.BreakerState.WithLabelValues(resource).Set(state)
	if state == 2 {
		m.BreakerTrips.WithLabelValues(resource).Inc()
	}
}

// RecordLockWait records time spent waiting for one file lock.
func (m *Metrics) RecordLockWait(d time.Duration) {
	m.LockWait.Observe(d.Seconds())
}

// RecordWrite records one atomic write outcome.
func (m *Metrics) RecordWrite(success bool, bytes int) {
	if success {
		m.WritesTotal.WithLabelValues("success").Inc()
		m.WriteBytes.Add(float64(bytes))
	} else {
		m.WritesTotal.WithLabelValues("failure").Inc()
	}
}

// RecordRecovery records one corruption recovery attempt.
func (m *Metrics) RecordRecovery(recovered bool) {
	if recovered {
		m.RecoveriesTotal.WithLabelValues("recovered").Inc()
	} else {
		m.RecoveriesTotal.WithLabelValues("unrecoverable").Inc()
	}
}

// RecordSweep records the last sweep's findings.
func (m *Metrics) RecordSweep(checked, corrupted int) {
	m.SweepChecked.Set(float64(checked))
	m.SweepCorrupted.Set(float64(corrupted))
}

// UpdateUptime refreshes the uptime gauge.
func (m *Metrics) UpdateUptime() {
	m.Uptime.Set(time.Since(m.startTime).Seconds())
}
