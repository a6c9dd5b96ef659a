package http

import (
	"context"

	"github.com/labstack/echo/v4"

	"github.com/FilipeAphrody/estate-auth/internal/domain"
	"github.com/FilipeAphrody/estate-auth/internal/metrics"
	"github.com/FilipeAphrody/estate-auth/internal/usecase"
)

// AuthService is the session side of the auth usecase.
type AuthService interface {
	Authenticator
	Login(ctx context.Context, usernameOrEmail, password string) (*domain.AuthResponse, error)
	Logout(ctx context.Context, accessToken string) error
	Refresh(ctx context.Context, refreshToken string) (*domain.AuthResponse, error)
	CurrentUser(ctx context.Context, p *usecase.Principal) (*domain.User, error)
}

// AuthHandler represents the HTTP delivery layer for authentication.
type AuthHandler struct {
	usecase AuthService
}

// NewAuthHandler registers the session routes to the provided echo group.
func NewAuthHandler(g *echo.Group, u AuthService) {
	handler := &AuthHandler{usecase: u}

	g.POST("/login", handler.Login)
	g.POST("/logout", handler.Logout)
	g.POST("/refresh", handler.Refresh)
	g.GET("/me", handler.Me, JWTMiddleware(u))
}

// loginRequest defines the expected JSON payload for the login endpoint.
type loginRequest struct {
	UsernameOrEmail string `json:"usernameOrEmail" validate:"required"`
	Password        string `json:"password" validate:"required"`
}

type logoutRequest struct {
	Token string `json:"token" validate:"required"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken" validate:"required"`
}

// meResponse is the caller's profile.
type meResponse struct {
	ID          string   `json:"id"`
	Username    string   `json:"username"`
	Email       string   `json:"email"`
	IsActive    bool     `json:"is_active"`
	IsVerified  bool     `json:"is_verified"`
	Roles       []string `json:"roles"`
	Authorities []string `json:"authorities"`
}

// Login handles the credential check and returns a fresh session.
func (h *AuthHandler) Login(c echo.Context) error {
	var req loginRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	resp, err := h.usecase.Login(requestContext(c), req.UsernameOrEmail, req.Password)
	record("login", err)
	if err != nil {
		return err
	}
	return success(c, "Login successfully", resp)
}

// Logout invalidates the given access token and the owner's refresh tokens.
func (h *AuthHandler) Logout(c echo.Context) error {
	var req logoutRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	err := h.usecase.Logout(requestContext(c), req.Token)
	record("logout", err)
	if err != nil {
		return err
	}
	return success(c, "Logout successfully", nil)
}

// Refresh trades a refresh token for a new session.
func (h *AuthHandler) Refresh(c echo.Context) error {
	var req refreshRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	resp, err := h.usecase.Refresh(requestContext(c), req.RefreshToken)
	record("refresh", err)
	if err != nil {
		return err
	}
	return success(c, "Refresh token successfully", resp)
}

// Me returns the authenticated caller.
func (h *AuthHandler) Me(c echo.Context) error {
	principal, ok := PrincipalFrom(c)
	if !ok {
		return domain.ErrUnauthenticated
	}

	user, err := h.usecase.CurrentUser(requestContext(c), principal)
	if err != nil {
		return err
	}

	return success(c, "Current user", meResponse{
		ID:          user.ID,
		Username:    user.Username,
		Email:       user.Email,
		IsActive:    user.IsActive,
		IsVerified:  user.IsVerified,
		Roles:       user.RoleNames(),
		Authorities: principal.Authorities,
	})
}

// bindAndValidate decodes the JSON body into req and runs the validator.
func bindAndValidate(c echo.Context, req interface{}) error {
	if err := c.Bind(req); err != nil {
		return &domain.Error{
			Code:    domain.ErrValidation.Code,
			Message: "invalid request body",
			Status:  domain.ErrValidation.Status,
			Cause:   err,
		}
	}
	return c.Validate(req)
}

// requestContext carries the caller's address into the usecase for audit rows.
func requestContext(c echo.Context) context.Context {
	return usecase.WithClientIP(c.Request().Context(), c.RealIP())
}

// record counts an auth operation by outcome: "ok" or the error code.
func record(operation string, err error) {
	if err == nil {
		metrics.RecordAuthOperation(operation, metrics.OutcomeOK)
		return
	}
	metrics.RecordAuthOperation(operation, domain.AsError(err).Code)
}
