package http

import (
	"context"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/FilipeAphrody/estate-auth/internal/domain"
	"github.com/FilipeAphrody/estate-auth/internal/usecase"
)

const principalKey = "principal"

// Authenticator resolves a bearer token to its principal.
type Authenticator interface {
	Authenticate(ctx context.Context, accessToken string) (*usecase.Principal, error)
}

// JWTMiddleware intercepts the request to validate the JWT token in the Authorization header.
func JWTMiddleware(auth Authenticator) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			authHeader := c.Request().Header.Get(echo.HeaderAuthorization)
			if authHeader == "" {
				return domain.ErrUnauthenticated
			}

			// Expected format: "Bearer <token>"
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
				return domain.ErrUnauthenticated
			}

			principal, err := auth.Authenticate(c.Request().Context(), parts[1])
			if err != nil {
				return err
			}

			// Downstream handlers read the caller from the echo context.
			c.Set(principalKey, principal)
			return next(c)
		}
	}
}

// RequireAuthority lets the request through when the principal holds any of
// the given authorities. Role checks pass the full name, e.g. "ROLE_ADMIN".
func RequireAuthority(authorities ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			principal, ok := PrincipalFrom(c)
			if !ok {
				return domain.ErrUnauthenticated
			}
			for _, a := range authorities {
				if principal.HasAuthority(a) {
					return next(c)
				}
			}
			return domain.ErrForbidden
		}
	}
}

// PrincipalFrom returns the caller stored by JWTMiddleware.
func PrincipalFrom(c echo.Context) (*usecase.Principal, bool) {
	p, ok := c.Get(principalKey).(*usecase.Principal)
	return p, ok && p != nil
}
