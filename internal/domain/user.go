package domain

import (
	"context"
	"time"
)

// Default role assigned to self-registered accounts.
const DefaultRole = "MANAGER"

// User represents the central identity entity of the system.
type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"` // Never expose the password hash in JSON
	IsActive     bool      `json:"is_active"`
	IsVerified   bool      `json:"is_verified"`
	Roles        []Role    `json:"roles"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`

	// One-time code challenge. An empty OTP means no code is outstanding.
	OTP            string     `json:"-"`
	OTPExpiresAt   *time.Time `json:"-"`
	OTPUsed        bool       `json:"-"`
	OTPAttempts    int        `json:"-"`
	OTPLockedUntil *time.Time `json:"-"`
}

// Role is a named bundle of permissions.
type Role struct {
	Name        string       `json:"name"`
	Description string       `json:"description,omitempty"`
	Permissions []Permission `json:"permissions,omitempty"`
}

// Permission is a single grantable authority.
type Permission struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// RoleNames returns the names of the roles assigned to the user.
func (u *User) RoleNames() []string {
	names := make([]string, 0, len(u.Roles))
	for _, r := range u.Roles {
		names = append(names, r.Name)
	}
	return names
}

// ClearOTP drops any outstanding code and its counters.
func (u *User) ClearOTP() {
	u.OTP = ""
	u.OTPExpiresAt = nil
	u.OTPAttempts = 0
	u.OTPLockedUntil = nil
}

// RefreshToken is the server-side record of an opaque refresh credential.
type RefreshToken struct {
	ID        string
	UserID    string
	Token     string
	ExpiresAt time.Time
	CreatedAt time.Time
	IsRevoked bool
}

// Expired reports whether the token is past its expiry at now.
func (t *RefreshToken) Expired(now time.Time) bool {
	return t.ExpiresAt.Before(now)
}

// AuthResponse defines the payload returned after a successful login.
type AuthResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

// Security event types written to the audit log.
const (
	EventLoginSuccess  = "LOGIN_SUCCESS"
	EventLoginFailed   = "LOGIN_FAILED"
	EventLogout        = "LOGOUT"
	EventRegistered    = "REGISTERED"
	EventVerified      = "EMAIL_VERIFIED"
	EventOTPLocked     = "OTP_LOCKED"
	EventPasswordReset = "PASSWORD_RESET"
)

// UserRepository defines the contract for user data persistence.
// This interface is implemented in the 'internal/repository' package.
type UserRepository interface {
	FindByUsername(ctx context.Context, username string) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	GetByID(ctx context.Context, id string) (*User, error)
	ExistsByUsername(ctx context.Context, username string) (bool, error)
	ExistsByEmail(ctx context.Context, email string) (bool, error)
	Create(ctx context.Context, user *User) error
	Save(ctx context.Context, user *User) error

	// Mutate loads the user under a row lock, applies fn and persists the
	// result atomically. A non-nil error from fn aborts without writing.
	Mutate(ctx context.Context, id string, fn func(u *User) error) (*User, error)

	// LogSecurityEvent is used for the Audit Logs requirement
	LogSecurityEvent(ctx context.Context, userID, eventType, ip string, metadata map[string]interface{}) error
}

// RefreshTokenRepository persists refresh tokens and their revocation state.
type RefreshTokenRepository interface {
	CreateRefreshToken(ctx context.Context, token *RefreshToken) error
	// FindActiveRefreshToken returns a non-revoked token; callers check expiry.
	FindActiveRefreshToken(ctx context.Context, value string) (*RefreshToken, error)
	RevokeRefreshToken(ctx context.Context, id string) error
	// RotateRefreshToken revokes old (only if still active) and inserts next in one transaction.
	RotateRefreshToken(ctx context.Context, old *RefreshToken, next *RefreshToken) error
	RevokeAllRefreshTokens(ctx context.Context, userID string) error
	PurgeExpiredRefreshTokens(ctx context.Context, now time.Time) (int64, error)
	PurgeRevokedRefreshTokens(ctx context.Context) (int64, error)
}

// InvalidatedTokenRepository records access tokens rejected before natural expiry.
type InvalidatedTokenRepository interface {
	InvalidateAccessToken(ctx context.Context, jwtID string, expiresAt time.Time) error
	IsAccessTokenInvalidated(ctx context.Context, jwtID string) (bool, error)
	PurgeExpiredInvalidatedTokens(ctx context.Context, now time.Time) (int64, error)
}

// Mailer delivers email without blocking the caller. Failures are the
// implementation's to log.
type Mailer interface {
	SendEmail(ctx context.Context, to, subject, body string)
}
