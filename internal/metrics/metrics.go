// Package metrics exposes Prometheus collectors for the permitbot
// service.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	jobsTotal           *prometheus.CounterVec
	activeWorkers       prometheus.Gauge
	smsOutboundTotal    *prometheus.CounterVec
	rateLimitRejections prometheus.Counter
	portalStepSeconds   *prometheus.HistogramVec
	screenshotsTotal    *prometheus.CounterVec
	loginAttemptsTotal  *prometheus.CounterVec
	httpRequestsTotal   *prometheus.CounterVec
	httpDurationSeconds *prometheus.HistogramVec
	commandsParsedTotal *prometheus.CounterVec

	once sync.Once
)

// Init initializes the Prometheus collectors. Safe to call more than
// once.
func Init() {
	once.Do(func() {
		jobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "permitbot_jobs_total",
				Help: "Total jobs processed, labeled by command and terminal status.",
			},
			[]string{"command", "status"},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "permitbot_active_workers",
				Help: "Workers currently executing a job.",
			},
		)

		smsOutboundTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "permitbot_sms_outbound_total",
				Help: "Outbound SMS attempts, labeled by result.",
			},
			[]string{"result"},
		)

		rateLimitRejections = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "permitbot_rate_limit_rejections_total",
				Help: "Inbound commands rejected by the per-sender quota.",
			},
		)

		portalStepSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "permitbot_portal_step_duration_seconds",
				Help:    "Duration of portal automation steps.",
				Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30},
			},
			[]string{"step"},
		)

		screenshotsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "permitbot_failure_screenshots_total",
				Help: "Failure screenshot attempts, labeled by result.",
			},
			[]string{"result"},
		)

		loginAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "permitbot_portal_login_attempts_total",
				Help: "Portal login attempts, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "permitbot_http_requests_total",
				Help: "Inbound HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "permitbot_http_request_duration_seconds",
				Help:    "Inbound HTTP request latencies.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2},
			},
			[]string{"method", "route"},
		)

		commandsParsedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "permitbot_commands_parsed_total",
				Help: "Parsed inbound commands, labeled by type.",
			},
			[]string{"type"},
		)
	})
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveJob counts a job reaching a terminal (or re-queued) status.
func ObserveJob(command, status string) {
	jobsTotal.WithLabelValues(command, status).Inc()
}

// IncActiveWorkers marks a worker busy.
func IncActiveWorkers() {
	activeWorkers.Inc()
}

// DecActiveWorkers marks a worker idle.
func DecActiveWorkers() {
	activeWorkers.Dec()
}

// ObserveSms counts one outbound SMS attempt.
func ObserveSms(result string) {
	smsOutboundTotal.WithLabelValues(result).Inc()
}

// ObserveRateLimitRejection counts a quota rejection.
func ObserveRateLimitRejection() {
	rateLimitRejections.Inc()
}

// ObservePortalStep records a portal automation step duration.
func ObservePortalStep(step string, duration time.Duration) {
	portalStepSeconds.WithLabelValues(step).Observe(duration.Seconds())
}

// ObserveScreenshot counts a failure screenshot attempt.
func ObserveScreenshot(result string) {
	screenshotsTotal.WithLabelValues(result).Inc()
}

// ObserveLoginAttempt counts a portal login attempt.
func ObserveLoginAttempt(outcome string) {
	loginAttemptsTotal.WithLabelValues(outcome).Inc()
}

// ObserveHTTPRequest records one inbound HTTP request.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveCommand counts one parsed command by type.
func ObserveCommand(commandType string) {
	commandsParsedTotal.WithLabelValues(commandType).Inc()
}
