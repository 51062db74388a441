package prometheus

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Counter metrics
var (
	// Login counters
	LoginCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cra_login_total",
			Help: "Total number of login attempts by outcome",
		},
		[]string{"outcome"}, // success, failure
	)

	// Registration counters
	RegisterCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cra_register_total",
			Help: "Total number of user registrations",
		},
	)

	// Approval decisions
	ApprovalDecisionCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cra_approval_decisions_total",
			Help: "Total number of registration approval decisions",
		},
		[]string{"action"}, // approve, reject
	)

	// Tenant resolution outcomes
	TenantResolutionCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cra_tenant_resolution_total",
			Help: "Tenant context resolution outcomes",
		},
		[]string{"outcome"}, // resolved, missing, invalid, not_member, privileged, anonymous
	)

	// HTTP request counter by endpoint and status
	HTTPRequestCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cra_http_requests_total",
			Help: "Total number of HTTP requests by endpoint and status",
		},
		[]string{"endpoint", "method", "status"},
	)

	// Error counters
	AuthErrorCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cra_auth_errors_total",
			Help: "Total number of authentication errors",
		},
		[]string{"type"}, // missing_token, invalid_token, bad_signature, ...
	)

	// Notification failures
	NotificationFailureCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cra_notification_failures_total",
			Help: "Total number of account emails that could not be delivered",
		},
		[]string{"kind"}, // registration, approved, rejected
	)

	// External mirror operations
	MirrorOperationCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cra_external_mirror_operations_total",
			Help: "Total number of external database operations by outcome",
		},
		[]string{"operation", "outcome"},
	)

	// Domain operations
	DomainOperationCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cra_operations_total",
			Help: "Total number of client and assessment operations",
		},
		[]string{"operation"}, // client_create, assessment_create, answers_replace, ...
	)
)

// Histogram metrics
var (
	// Request duration
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cra_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint", "method", "status"},
	)

	// Database operation duration
	DBOperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cra_db_operation_duration_seconds",
			Help:    "Duration of database operations in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)
)

// Gauge metrics
var (
	// System info
	InfoGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cra_info",
			Help: "Information about the service",
		},
		[]string{"version"},
	)

	// Pending approvals
	PendingApprovalsGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "cra_pending_approvals",
			Help: "Number of registrations waiting for a decision, as of the last approval listing",
		},
	)
)

func init() {
	prometheus.MustRegister(LoginCounter)
	prometheus.MustRegister(RegisterCounter)
	prometheus.MustRegister(ApprovalDecisionCounter)
	prometheus.MustRegister(TenantResolutionCounter)
	prometheus.MustRegister(HTTPRequestCounter)
	prometheus.MustRegister(AuthErrorCounter)
	prometheus.MustRegister(NotificationFailureCounter)
	prometheus.MustRegister(MirrorOperationCounter)
	prometheus.MustRegister(DomainOperationCounter)

	prometheus.MustRegister(RequestDuration)
	prometheus.MustRegister(DBOperationDuration)

	prometheus.MustRegister(InfoGauge)
	prometheus.MustRegister(PendingApprovalsGauge)

	InfoGauge.With(prometheus.Labels{"version": "1.0.0"}).Set(1)
}

// GetPrometheusHandler returns an HTTP handler for the Prometheus metrics
func GetPrometheusHandler() http.Handler {
	return promhttp.Handler()
}

// TrackDBOperation measures database operation durations
func TrackDBOperation(operation string) func(time.Time) {
	startTime := time.Now()
	return func(endTime time.Time) {
		DBOperationDuration.With(prometheus.Labels{
			"operation": operation,
		}).Observe(endTime.Sub(startTime).Seconds())
	}
}

// MetricsMiddleware creates a middleware function that captures metrics for each request
func MetricsMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			err := next(c)

			duration := time.Since(start).Seconds()
			status := strconv.Itoa(c.Response().Status)
			endpoint := c.Path()
			method := c.Request().Method

			RequestDuration.With(prometheus.Labels{
				"endpoint": endpoint,
				"method":   method,
				"status":   status,
			}).Observe(duration)

			HTTPRequestCounter.With(prometheus.Labels{
				"endpoint": endpoint,
				"method":   method,
				"status":   status,
			}).Inc()

			return err
		}
	}
}

// RecordLogin records a login attempt outcome
func RecordLogin(success bool) {
	outcome := "failure"
	if success {
		outcome = "success"
	}
	LoginCounter.With(prometheus.Labels{"outcome": outcome}).Inc()
}

// RecordAuthError records an authentication error by type
func RecordAuthError(errorType string) {
	AuthErrorCounter.With(prometheus.Labels{"type": errorType}).Inc()
}

// RecordApprovalDecision records an approve or reject decision
func RecordApprovalDecision(action string) {
	ApprovalDecisionCounter.With(prometheus.Labels{"action": action}).Inc()
}

// RecordTenantResolution records the outcome of tenant context resolution
func RecordTenantResolution(outcome string) {
	TenantResolutionCounter.With(prometheus.Labels{"outcome": outcome}).Inc()
}

// RecordNotificationFailure records an email that could not be sent
func RecordNotificationFailure(kind string) {
	NotificationFailureCounter.With(prometheus.Labels{"kind": kind}).Inc()
}

// RecordMirrorOperation records an external database call
func RecordMirrorOperation(operation string, err error) {
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	MirrorOperationCounter.With(prometheus.Labels{"operation": operation, "outcome": outcome}).Inc()
}

// RecordOperation records a domain operation
func RecordOperation(operation string) {
	DomainOperationCounter.With(prometheus.Labels{"operation": operation}).Inc()
}

// UpdatePendingApprovals sets the pending approvals gauge
func UpdatePendingApprovals(count int) {
	PendingApprovalsGauge.Set(float64(count))
}
