package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FilipeAphrody/estate-auth/internal/domain"
	"github.com/FilipeAphrody/estate-auth/internal/repository"
	"github.com/FilipeAphrody/estate-auth/internal/usecase"
	"github.com/FilipeAphrody/estate-auth/pkg/security"
)

type nopMailer struct {
	mu   sync.Mutex
	sent int
}

func (m *nopMailer) SendEmail(context.Context, string, string, string) {
	m.mu.Lock()
	m.sent++
	m.mu.Unlock()
}

type testServer struct {
	e     *echo.Echo
	users *repository.MemoryUserRepo
}

func newTestServer(t *testing.T, rateLimit float64, checks ...HealthCheck) *testServer {
	t.Helper()

	users := repository.NewMemoryUserRepo()
	hasher := security.NewPasswordHasher(security.HashParams{Memory: 1024, Iterations: 1, Parallelism: 1})
	require.NoError(t, repository.Seed(context.Background(), users, hasher, "admin-secret"))

	tokens := repository.NewMemoryTokenRepo()
	uc := usecase.NewAuthUsecase(users, tokens, tokens,
		security.NewTokenSigner([]byte(strings.Repeat("x", 64))), hasher, &nopMailer{}, usecase.DefaultConfig())

	e := NewRouter(RouterConfig{Service: uc, Version: "test", AuthRateLimit: rateLimit, Checks: checks})
	return &testServer{e: e, users: users}
}

func (s *testServer) do(t *testing.T, method, path string, body interface{}, token string) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if raw, ok := body.(string); ok {
			buf.WriteString(raw)
		} else {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if token != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)
	return rec
}

// otpFor reads the outstanding code straight from the store.
func (s *testServer) otpFor(t *testing.T, username string) string {
	t.Helper()
	u, err := s.users.FindByUsername(context.Background(), username)
	require.NoError(t, err)
	return u.OTP
}

type envelope struct {
	Status  int             `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return env
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorResponse {
	t.Helper()
	var er errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &er))
	return er
}

func (s *testServer) loginTokens(t *testing.T, identifier, password string) domain.AuthResponse {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/v1/auth/login", echo.Map{"usernameOrEmail": identifier, "password": password}, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp domain.AuthResponse
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, rec).Data, &resp))
	return resp
}

func TestAuthFlow_RegisterVerifyLoginLogout(t *testing.T) {
	s := newTestServer(t, 0)

	rec := s.do(t, http.MethodPost, "/v1/auth/register", echo.Map{
		"username": "frank", "email": "frank@example.com", "password": "secret1", "confirmPassword": "secret1",
	}, "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var reg registerResponse
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, rec).Data, &reg))
	assert.Equal(t, []string{domain.DefaultRole}, reg.Roles)
	assert.False(t, reg.IsVerified)

	rec = s.do(t, http.MethodPost, "/v1/auth/login", echo.Map{"usernameOrEmail": "frank", "password": "secret1"}, "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "NEED_TO_VERIFY", decodeError(t, rec).ErrorCode)

	code := s.otpFor(t, "frank")
	wrong := "000000"
	if code == wrong {
		wrong = "111111"
	}
	rec = s.do(t, http.MethodPost, "/v1/auth/verify-otp", echo.Map{"email": "frank@example.com", "otp": wrong}, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_OTP", decodeError(t, rec).ErrorCode)

	rec = s.do(t, http.MethodPost, "/v1/auth/verify-otp", echo.Map{"email": "frank@example.com", "otp": code}, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	tokens := s.loginTokens(t, "frank@example.com", "secret1")
	assert.EqualValues(t, 900, tokens.ExpiresIn)

	rec = s.do(t, http.MethodGet, "/v1/auth/me", nil, tokens.AccessToken)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var me meResponse
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, rec).Data, &me))
	assert.Equal(t, "frank", me.Username)
	assert.True(t, me.IsVerified)
	assert.Contains(t, me.Authorities, "ROLE_MANAGER")

	rec = s.do(t, http.MethodPost, "/v1/auth/logout", echo.Map{"token": tokens.AccessToken}, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "Logout successfully", decodeEnvelope(t, rec).Message)

	rec = s.do(t, http.MethodGet, "/v1/auth/me", nil, tokens.AccessToken)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "UNAUTHENTICATED", decodeError(t, rec).ErrorCode)

	rec = s.do(t, http.MethodPost, "/v1/auth/refresh", echo.Map{"refreshToken": tokens.RefreshToken}, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "INVALID_REFRESH_TOKEN", decodeError(t, rec).ErrorCode)
}

func TestRefreshEndpoint_Rotates(t *testing.T) {
	s := newTestServer(t, 0)
	tokens := s.loginTokens(t, "admin", "admin-secret")

	rec := s.do(t, http.MethodPost, "/v1/auth/refresh", echo.Map{"refreshToken": tokens.RefreshToken}, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var next domain.AuthResponse
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, rec).Data, &next))
	assert.NotEqual(t, tokens.RefreshToken, next.RefreshToken)

	rec = s.do(t, http.MethodPost, "/v1/auth/refresh", echo.Map{"refreshToken": tokens.RefreshToken}, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestPasswordResetEndpoints(t *testing.T) {
	s := newTestServer(t, 0)

	rec := s.do(t, http.MethodPost, "/v1/auth/forgot-password", echo.Map{"email": "admin@system.com"}, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(t, http.MethodPost, "/v1/auth/reset-password", echo.Map{
		"email": "admin@system.com", "otp": s.otpFor(t, "admin"), "newPassword": "brand-new", "confirmPassword": "brand-new",
	}, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	s.loginTokens(t, "admin", "brand-new")

	rec = s.do(t, http.MethodPost, "/v1/auth/forgot-password", echo.Map{"email": "ghost@example.com"}, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "EMAIL_OR_USERNAME_INCORRECT", decodeError(t, rec).ErrorCode)
}

func TestResendEndpoint(t *testing.T) {
	s := newTestServer(t, 0)

	rec := s.do(t, http.MethodPost, "/v1/auth/resend-otp", echo.Map{"email": "admin"}, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "USER_ALREADY_VERIFIED", decodeError(t, rec).ErrorCode)
}

func TestValidationErrors(t *testing.T) {
	s := newTestServer(t, 0)

	rec := s.do(t, http.MethodPost, "/v1/auth/login", echo.Map{"usernameOrEmail": "admin"}, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	er := decodeError(t, rec)
	assert.Equal(t, "VALIDATION_ERROR", er.ErrorCode)
	assert.Equal(t, "password is required", er.Message)

	rec = s.do(t, http.MethodPost, "/v1/auth/login", "{not json", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "VALIDATION_ERROR", decodeError(t, rec).ErrorCode)

	rec = s.do(t, http.MethodPost, "/v1/auth/verify-otp", echo.Map{"email": "admin", "otp": "12ab56"}, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "otp must contain digits only", decodeError(t, rec).Message)

	rec = s.do(t, http.MethodPost, "/v1/auth/register", echo.Map{
		"username": "gina", "email": "not-an-email", "password": "secret1", "confirmPassword": "secret1",
	}, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "email must be a valid email", decodeError(t, rec).Message)
}

func TestMiddleware_BearerAndAuthority(t *testing.T) {
	s := newTestServer(t, 0)

	rec := s.do(t, http.MethodGet, "/v1/auth/me", nil, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(t, http.MethodGet, "/v1/auth/me", nil, "garbage")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "INVALID_TOKEN", decodeError(t, rec).ErrorCode)

	admin := s.loginTokens(t, "admin", "admin-secret")
	rec = s.do(t, http.MethodGet, "/v1/admin/ping", nil, admin.AccessToken)
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(t, http.MethodPost, "/v1/auth/register", echo.Map{
		"username": "hank", "email": "hank@example.com", "password": "secret1", "confirmPassword": "secret1",
	}, "")
	require.Equal(t, http.StatusCreated, rec.Code)
	rec = s.do(t, http.MethodPost, "/v1/auth/verify-otp", echo.Map{"email": "hank", "otp": s.otpFor(t, "hank")}, "")
	require.Equal(t, http.StatusOK, rec.Code)

	manager := s.loginTokens(t, "hank", "secret1")
	rec = s.do(t, http.MethodGet, "/v1/admin/ping", nil, manager.AccessToken)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "FORBIDDEN", decodeError(t, rec).ErrorCode)
}

func TestRequireAuthority_AnyOf(t *testing.T) {
	e := echo.New()
	e.HTTPErrorHandler = ErrorHandler
	ok := func(c echo.Context) error { return c.NoContent(http.StatusNoContent) }

	run := func(p *usecase.Principal) int {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)
		if p != nil {
			c.Set(principalKey, p)
		}
		if err := RequireAuthority("ROLE_ADMIN", "READ_USER")(ok)(c); err != nil {
			e.HTTPErrorHandler(err, c)
		}
		return rec.Code
	}

	assert.Equal(t, http.StatusUnauthorized, run(nil))
	assert.Equal(t, http.StatusNoContent, run(&usecase.Principal{Authorities: []string{"READ_USER"}}))
	assert.Equal(t, http.StatusNoContent, run(&usecase.Principal{Authorities: []string{"ROLE_ADMIN"}}))
	// no re-prefixing: a bare role name is not a match
	assert.Equal(t, http.StatusForbidden, run(&usecase.Principal{Authorities: []string{"ADMIN"}}))
}

func TestHealthAndMetrics(t *testing.T) {
	up := HealthCheck{Name: "store", Ping: func(context.Context) error { return nil }}
	s := newTestServer(t, 0, up)

	rec := s.do(t, http.MethodGet, "/health", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var health healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, "up", health.Checks["store"].Status)

	down := HealthCheck{Name: "redis", Ping: func(context.Context) error { return errors.New("connection refused") }}
	s = newTestServer(t, 0, up, down)
	rec = s.do(t, http.MethodGet, "/health", nil, "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, "unhealthy", health.Status)
	assert.Equal(t, "connection refused", health.Checks["redis"].Error)

	s.loginTokens(t, "admin", "admin-secret")
	rec = s.do(t, http.MethodGet, "/metrics", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "auth_operations_total")
}

func TestAuthRateLimit(t *testing.T) {
	s := newTestServer(t, 1)
	body := echo.Map{"usernameOrEmail": "nobody", "password": "x"}

	first := s.do(t, http.MethodPost, "/v1/auth/login", body, "")
	assert.Equal(t, http.StatusUnauthorized, first.Code)

	second := s.do(t, http.MethodPost, "/v1/auth/login", body, "")
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.Equal(t, "TOO_MANY_REQUESTS", decodeError(t, second).ErrorCode)

	// other routes are not throttled
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/health", nil, "").Code)
}

func TestErrorHandler_UnknownErrorsAreInternal(t *testing.T) {
	resp := toErrorResponse(errors.New("pq: connection reset"))
	assert.Equal(t, errorResponse{ErrorCode: "INTERNAL_ERROR", Message: "Internal server error", Status: 500}, resp)

	resp = toErrorResponse(echo.ErrNotFound)
	assert.Equal(t, "NOT_FOUND", resp.ErrorCode)
	assert.Equal(t, http.StatusNotFound, resp.Status)
}
