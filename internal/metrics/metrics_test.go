package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordAuthOperation(t *testing.T) {
	before := testutil.ToFloat64(authOperationsTotal.WithLabelValues("login", OutcomeOK))
	RecordAuthOperation("login", OutcomeOK)
	assert.Equal(t, before+1, testutil.ToFloat64(authOperationsTotal.WithLabelValues("login", OutcomeOK)))
}

func TestRecordOTPLockout(t *testing.T) {
	before := testutil.ToFloat64(otpLockoutsTotal)
	RecordOTPLockout()
	assert.Equal(t, before+1, testutil.ToFloat64(otpLockoutsTotal))
}

func TestRecordEmailDispatched(t *testing.T) {
	before := testutil.ToFloat64(emailsDispatchedTotal.WithLabelValues("log", "error"))
	RecordEmailDispatched("log", errors.New("boom"))
	assert.Equal(t, before+1, testutil.ToFloat64(emailsDispatchedTotal.WithLabelValues("log", "error")))
}

func TestRecordCleanup(t *testing.T) {
	before := testutil.ToFloat64(cleanupDeletedTotal.WithLabelValues("expired_refresh"))
	at := time.Unix(1700000000, 0)

	RecordCleanup(1, 2, 3, at)

	assert.Equal(t, before+2, testutil.ToFloat64(cleanupDeletedTotal.WithLabelValues("expired_refresh")))
	assert.Equal(t, float64(at.Unix()), testutil.ToFloat64(cleanupLastRun))
}

func TestMiddlewareAndHandler(t *testing.T) {
	e := echo.New()
	e.Use(Middleware())
	e.GET("/ping", func(c echo.Context) error { return c.String(http.StatusOK, "pong") })
	e.GET("/metrics", echo.WrapHandler(Handler()))

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ping", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `http_requests_total{method="GET",path="/ping",status="200"}`), body)
}
