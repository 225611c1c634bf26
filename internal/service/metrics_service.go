package service

import (
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsService owns the Prometheus registry. All methods are nil-safe so
// components can run without instrumentation in tests.
type MetricsService struct {
	registry *prometheus.Registry
	handler  http.Handler

	requestDuration   *prometheus.HistogramVec
	requestTotal      *prometheus.CounterVec
	decisions         *prometheus.CounterVec
	trustAdjustments  *prometheus.CounterVec
	threatEvents      *prometheus.CounterVec
	auditSuppressed   prometheus.Counter
	auditWrites       *prometheus.CounterVec
	refreshRotations  *prometheus.CounterVec
	threatScore       prometheus.Gauge
	loginAttempts     *prometheus.CounterVec
	exportJobsHandled *prometheus.CounterVec
	threatDropped     prometheus.Counter
}

// NewMetricsService registers the service collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	m := &MetricsService{
		registry: registry,
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"}),
		requestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "path", "status"}),
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gatekeeper_decisions_total",
			Help: "Gatekeeper decisions by deciding stage and outcome",
		}, []string{"stage", "outcome"}),
		trustAdjustments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trust_adjustments_total",
			Help: "Device trust adjustments by signal",
		}, []string{"signal"}),
		threatEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "threat_events_total",
			Help: "Recorded threat events by type and severity",
		}, []string{"type", "severity"}),
		auditSuppressed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "audit_suppressed_total",
			Help: "Audit entries collapsed by the throttle window",
		}),
		auditWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "audit_writes_total",
			Help: "Durable audit writes by result",
		}, []string{"result"}),
		refreshRotations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "refresh_rotations_total",
			Help: "Refresh token rotations by result",
		}, []string{"result"}),
		threatScore: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "threat_score",
			Help: "Current global threat score",
		}),
		loginAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "login_attempts_total",
			Help: "Login attempts by result",
		}, []string{"result"}),
		exportJobsHandled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "audit_export_jobs_total",
			Help: "Audit export jobs by final status",
		}, []string{"status"}),
		threatDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "threat_notifications_dropped_total",
			Help: "Threat score notifications dropped because the dispatch queue was full",
		}),
	}

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(m.requestDuration, m.requestTotal, m.decisions, m.trustAdjustments, m.threatEvents,
		m.auditSuppressed, m.auditWrites, m.refreshRotations, m.threatScore, m.loginAttempts, m.exportJobsHandled, m.threatDropped, goroutines)
	m.handler = promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
	return m
}

// Registry exposes the underlying registry, mainly for tests.
func (m *MetricsService) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// ObserveHTTPRequest records request metrics.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := strconv.Itoa(status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
}

// ObserveDecision counts a gatekeeper decision attributed to the stage that produced it.
func (m *MetricsService) ObserveDecision(stage, outcome string) {
	if m == nil {
		return
	}
	m.decisions.WithLabelValues(stage, outcome).Inc()
}

// ObserveTrustAdjustment counts a device trust signal.
func (m *MetricsService) ObserveTrustAdjustment(signal string) {
	if m == nil {
		return
	}
	m.trustAdjustments.WithLabelValues(signal).Inc()
}

// ObserveThreatEvent counts a recorded threat event.
func (m *MetricsService) ObserveThreatEvent(eventType, severity string) {
	if m == nil {
		return
	}
	m.threatEvents.WithLabelValues(eventType, severity).Inc()
}

// SetThreatScore publishes the latest global score.
func (m *MetricsService) SetThreatScore(score int) {
	if m == nil {
		return
	}
	m.threatScore.Set(float64(score))
}

// ObserveAuditSuppressed counts a collapsed audit entry.
func (m *MetricsService) ObserveAuditSuppressed() {
	if m == nil {
		return
	}
	m.auditSuppressed.Inc()
}

// ObserveAuditWrite counts a durable audit write attempt.
func (m *MetricsService) ObserveAuditWrite(result string) {
	if m == nil {
		return
	}
	m.auditWrites.WithLabelValues(result).Inc()
}

// ObserveRotation counts a refresh rotation outcome.
func (m *MetricsService) ObserveRotation(result string) {
	if m == nil {
		return
	}
	m.refreshRotations.WithLabelValues(result).Inc()
}

// ObserveLogin counts a login outcome.
func (m *MetricsService) ObserveLogin(result string) {
	if m == nil {
		return
	}
	m.loginAttempts.WithLabelValues(result).Inc()
}

// ObserveExportJob counts a finished audit export.
func (m *MetricsService) ObserveExportJob(status string) {
	if m == nil {
		return
	}
	m.exportJobsHandled.WithLabelValues(status).Inc()
}

// ObserveThreatNotificationDropped counts a notification lost to a full queue.
func (m *MetricsService) ObserveThreatNotificationDropped() {
	if m == nil {
		return
	}
	m.threatDropped.Inc()
}
