package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// OutcomeOK labels a successful operation; failures are labelled with their error code.
const OutcomeOK = "ok"

var (
	authOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_operations_total",
			Help: "Authentication operations by outcome",
		},
		[]string{"operation", "outcome"},
	)

	otpLockoutsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "auth_otp_lockouts_total",
			Help: "Number of OTP challenges that entered lockout",
		},
	)

	emailsDispatchedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_emails_dispatched_total",
			Help: "Outbound emails handed to the transport",
		},
		[]string{"transport", "outcome"},
	)

	cleanupDeletedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_token_cleanup_deleted_total",
			Help: "Ledger rows removed by the cleanup task",
		},
		[]string{"kind"},
	)

	cleanupLastRun = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "auth_token_cleanup_last_run_timestamp_seconds",
			Help: "Unix time of the last completed cleanup sweep",
		},
	)

	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

// RecordAuthOperation counts one call of operation with the given outcome.
func RecordAuthOperation(operation, outcome string) {
	authOperationsTotal.WithLabelValues(operation, outcome).Inc()
}

// RecordOTPLockout counts a challenge reaching the attempt limit.
func RecordOTPLockout() {
	otpLockoutsTotal.Inc()
}

// RecordEmailDispatched counts one hand-off to the mail transport.
func RecordEmailDispatched(transport string, err error) {
	outcome := OutcomeOK
	if err != nil {
		outcome = "error"
	}
	emailsDispatchedTotal.WithLabelValues(transport, outcome).Inc()
}

// RecordCleanup records the rows removed by one sweep.
func RecordCleanup(invalidated, expiredRefresh, revokedRefresh int64, at time.Time) {
	cleanupDeletedTotal.WithLabelValues("invalidated_access").Add(float64(invalidated))
	cleanupDeletedTotal.WithLabelValues("expired_refresh").Add(float64(expiredRefresh))
	cleanupDeletedTotal.WithLabelValues("revoked_refresh").Add(float64(revokedRefresh))
	cleanupLastRun.Set(float64(at.Unix()))
}

// Middleware records request count and latency per route template.
func Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			status := c.Response().Status
			if err != nil {
				if he, ok := err.(*echo.HTTPError); ok {
					status = he.Code
				}
			}
			path := c.Path()
			if path == "" {
				path = "unmatched"
			}
			labels := []string{c.Request().Method, path, strconv.Itoa(status)}

			httpRequestDuration.WithLabelValues(labels...).Observe(time.Since(start).Seconds())
			httpRequestsTotal.WithLabelValues(labels...).Inc()
			return err
		}
	}
}

// Handler returns the Prometheus metrics handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
