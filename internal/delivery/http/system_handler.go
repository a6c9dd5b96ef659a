package http

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/FilipeAphrody/estate-auth/internal/metrics"
)

// HealthCheck pings one dependency.
type HealthCheck struct {
	Name string
	Ping func(ctx context.Context) error
}

type healthResponse struct {
	Status    string                 `json:"status"` // "healthy" or "unhealthy"
	Version   string                 `json:"version"`
	Timestamp string                 `json:"timestamp"`
	Uptime    string                 `json:"uptime"`
	Checks    map[string]checkResult `json:"checks"`
}

type checkResult struct {
	Status       string `json:"status"` // "up" or "down"
	ResponseTime string `json:"response_time"`
	Error        string `json:"error,omitempty"`
}

// SystemHandler serves liveness and metrics.
type SystemHandler struct {
	version string
	checks  []HealthCheck
	started time.Time
}

// NewSystemHandler registers /health and /metrics on e.
func NewSystemHandler(e *echo.Echo, version string, checks ...HealthCheck) {
	handler := &SystemHandler{version: version, checks: checks, started: time.Now()}

	e.GET("/health", handler.Health)
	e.GET("/metrics", echo.WrapHandler(metrics.Handler()))
}

// Health pings every dependency and answers 503 if any is down.
func (h *SystemHandler) Health(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	resp := healthResponse{
		Status:    "healthy",
		Version:   h.version,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Uptime:    time.Since(h.started).Round(time.Second).String(),
		Checks:    make(map[string]checkResult, len(h.checks)),
	}

	for _, check := range h.checks {
		start := time.Now()
		res := checkResult{Status: "up"}
		if err := check.Ping(ctx); err != nil {
			res.Status = "down"
			res.Error = err.Error()
			resp.Status = "unhealthy"
		}
		res.ResponseTime = time.Since(start).String()
		resp.Checks[check.Name] = res
	}

	status := http.StatusOK
	if resp.Status != "healthy" {
		status = http.StatusServiceUnavailable
	}
	return c.JSON(status, resp)
}
