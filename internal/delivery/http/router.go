package http

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/FilipeAphrody/estate-auth/internal/metrics"
)

// Service is everything the routes need from the auth usecase.
type Service interface {
	AuthService
	AccountService
}

// RouterConfig wires the HTTP surface.
type RouterConfig struct {
	Service Service
	Version string
	// AuthRateLimit is requests per second per client IP on /v1/auth; zero disables it.
	AuthRateLimit float64
	Checks        []HealthCheck
}

// NewRouter builds the echo instance with global middleware and every route.
func NewRouter(cfg RouterConfig) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = NewValidator()
	e.HTTPErrorHandler = ErrorHandler

	// Global Middlewares
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:    true,
		LogURI:       true,
		LogStatus:    true,
		LogLatency:   true,
		LogRemoteIP:  true,
		LogRequestID: true,
		HandleError:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			event := log.Info()
			if v.Status >= http.StatusInternalServerError {
				event = log.Error().Err(v.Error)
			}
			event.
				Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Str("remote_ip", v.RemoteIP).
				Str("request_id", v.RequestID).
				Msg("request")
			return nil
		},
	}))
	e.Use(middleware.CORS())
	e.Use(middleware.Secure())
	e.Use(metrics.Middleware())

	v1 := e.Group("/v1")

	auth := v1.Group("/auth")
	if cfg.AuthRateLimit > 0 {
		auth.Use(authRateLimiter(cfg.AuthRateLimit))
	}
	NewAuthHandler(auth, cfg.Service)
	NewOTPHandler(auth, cfg.Service)

	// Role-gated probe for operators.
	admin := v1.Group("/admin", JWTMiddleware(cfg.Service), RequireAuthority("ROLE_ADMIN"))
	admin.GET("/ping", func(c echo.Context) error {
		p, _ := PrincipalFrom(c)
		return success(c, "pong", echo.Map{"subject": p.Subject})
	})

	NewSystemHandler(e, cfg.Version, cfg.Checks...)
	return e
}

// authRateLimiter throttles each client IP with a token bucket.
func authRateLimiter(perSecond float64) echo.MiddlewareFunc {
	burst := int(perSecond)
	if burst < 1 {
		burst = 1
	}
	store := middleware.NewRateLimiterMemoryStoreWithConfig(middleware.RateLimiterMemoryStoreConfig{
		Rate:      rate.Limit(perSecond),
		Burst:     burst,
		ExpiresIn: 3 * time.Minute,
	})

	return middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		Store: store,
		IdentifierExtractor: func(c echo.Context) (string, error) {
			return c.RealIP(), nil
		},
		ErrorHandler: func(c echo.Context, err error) error {
			return echo.NewHTTPError(http.StatusForbidden, "unable to identify client")
		},
		DenyHandler: func(c echo.Context, identifier string, err error) error {
			return echo.NewHTTPError(http.StatusTooManyRequests, "too many requests")
		},
	})
}
