package usecase

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/FilipeAphrody/estate-auth/internal/domain"
	"github.com/FilipeAphrody/estate-auth/pkg/security"
)

// TokenSigner issues and checks access tokens.
type TokenSigner interface {
	Sign(c security.AccessClaims) (string, error)
	Verify(token string) (*security.AccessClaims, error)
}

// PasswordHasher hashes and checks passwords.
type PasswordHasher interface {
	Hash(password string) (string, error)
	Compare(password, encodedHash string) (bool, error)
}

// Config holds the token and OTP lifetimes.
type Config struct {
	Issuer         string
	AccessTTL      time.Duration
	RefreshTTL     time.Duration
	OTPTTL         time.Duration
	OTPLockout     time.Duration
	OTPMaxAttempts int
}

// DefaultConfig returns the production lifetimes.
func DefaultConfig() Config {
	return Config{
		Issuer:         "stc.project.com",
		AccessTTL:      15 * time.Minute,
		RefreshTTL:     7 * 24 * time.Hour,
		OTPTTL:         5 * time.Minute,
		OTPLockout:     5 * time.Minute,
		OTPMaxAttempts: 3,
	}
}

type AuthUsecase struct {
	userRepo    domain.UserRepository
	refreshRepo domain.RefreshTokenRepository
	ledger      domain.InvalidatedTokenRepository
	signer      TokenSigner
	hasher      PasswordHasher
	otp         *OTPEngine
	cfg         Config
	now         func() time.Time
}

// Option customises an AuthUsecase.
type Option func(*AuthUsecase)

// WithClock replaces the wall clock. Every operation reads it exactly once.
func WithClock(now func() time.Time) Option {
	return func(u *AuthUsecase) { u.now = now }
}

// WithCodeGenerator replaces the OTP code source.
func WithCodeGenerator(gen func() (string, error)) Option {
	return func(u *AuthUsecase) { u.otp.generate = gen }
}

func NewAuthUsecase(
	users domain.UserRepository,
	refresh domain.RefreshTokenRepository,
	ledger domain.InvalidatedTokenRepository,
	signer TokenSigner,
	hasher PasswordHasher,
	mailer domain.Mailer,
	cfg Config,
	opts ...Option,
) *AuthUsecase {
	u := &AuthUsecase{
		userRepo:    users,
		refreshRepo: refresh,
		ledger:      ledger,
		signer:      signer,
		hasher:      hasher,
		otp:         NewOTPEngine(users, mailer, cfg.OTPTTL, cfg.OTPLockout, cfg.OTPMaxAttempts),
		cfg:         cfg,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// Login validates credentials and opens a session. An unverified account
// gets a fresh OTP when none is outstanding and is told to verify.
func (u *AuthUsecase) Login(ctx context.Context, usernameOrEmail, password string) (*domain.AuthResponse, error) {
	now := u.now()

	user, err := u.findUserByUsernameOrEmail(ctx, usernameOrEmail)
	if err != nil {
		if errors.Is(err, domain.ErrEmailOrUsernameIncorrect) {
			_ = u.userRepo.LogSecurityEvent(ctx, "", domain.EventLoginFailed, ClientIP(ctx),
				map[string]interface{}{"identifier": usernameOrEmail, "reason": "unknown_user"})
		}
		return nil, err
	}

	// 1. Verify Password using Argon2id
	match, err := u.hasher.Compare(password, user.PasswordHash)
	if err != nil {
		log.Error().Err(err).Str("user_id", user.ID).Msg("stored password hash is unreadable")
	}
	if err != nil || !match {
		_ = u.userRepo.LogSecurityEvent(ctx, user.ID, domain.EventLoginFailed, ClientIP(ctx),
			map[string]interface{}{"reason": "bad_password"})
		return nil, domain.ErrPasswordOrEmailUsernameIncorrect
	}

	// 2. Account state
	if !user.IsActive {
		return nil, domain.ErrAccountLocked
	}

	if !user.IsVerified {
		// Only when nothing is outstanding: a pending code stays valid and a
		// locked challenge must not be reset by logging in.
		if domain.OTPStateOf(user, now) == domain.OTPStateNone {
			_, err := u.otp.Issue(ctx, user.ID, PurposeVerification, now, func(cur *domain.User) error {
				if cur.IsVerified || domain.OTPStateOf(cur, now) != domain.OTPStateNone {
					return errSkipIssue
				}
				return nil
			})
			if err != nil {
				return nil, internal(err)
			}
		}
		return nil, domain.ErrNeedToVerify
	}

	// 3. Issue the session
	resp, err := u.issueSession(ctx, user, now, nil)
	if err != nil {
		return nil, err
	}

	_ = u.userRepo.LogSecurityEvent(ctx, user.ID, domain.EventLoginSuccess, ClientIP(ctx), nil)
	log.Info().Str("user_id", user.ID).Str("username", user.Username).Msg("login succeeded")
	return resp, nil
}

// Logout invalidates the presented access token and revokes every refresh
// token of its owner.
func (u *AuthUsecase) Logout(ctx context.Context, accessToken string) error {
	now := u.now()

	claims, err := u.verifyAccessToken(ctx, accessToken, now)
	if err != nil {
		return err
	}

	if err := u.ledger.InvalidateAccessToken(ctx, claims.JWTID, claims.ExpiresAt); err != nil {
		return internal(err)
	}

	user, err := u.userRepo.FindByUsername(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			// the access token is dead regardless; nothing else to revoke
			log.Warn().Str("subject", claims.Subject).Msg("logout for unknown subject")
			return nil
		}
		return internal(err)
	}

	if err := u.refreshRepo.RevokeAllRefreshTokens(ctx, user.ID); err != nil {
		return internal(err)
	}

	_ = u.userRepo.LogSecurityEvent(ctx, user.ID, domain.EventLogout, ClientIP(ctx),
		map[string]interface{}{"jti": claims.JWTID})
	return nil
}

// Refresh exchanges a refresh token for a new session, revoking the old one.
func (u *AuthUsecase) Refresh(ctx context.Context, refreshToken string) (*domain.AuthResponse, error) {
	now := u.now()

	current, err := u.refreshRepo.FindActiveRefreshToken(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrInvalidRefreshToken
		}
		return nil, internal(err)
	}

	if current.Expired(now) {
		return nil, domain.ErrInvalidRefreshToken
	}

	user, err := u.userRepo.GetByID(ctx, current.UserID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrInvalidRefreshToken
		}
		return nil, internal(err)
	}

	return u.issueSession(ctx, user, now, current)
}

// issueSession signs an access token and stores a new refresh token. With a
// non-nil previous token the store rotates it in the same transaction.
func (u *AuthUsecase) issueSession(ctx context.Context, user *domain.User, now time.Time, previous *domain.RefreshToken) (*domain.AuthResponse, error) {
	// Tokens carry whole seconds.
	iat := now.UTC().Truncate(time.Second)

	accessToken, err := u.signer.Sign(security.AccessClaims{
		Subject:   user.Username,
		Issuer:    u.cfg.Issuer,
		IssuedAt:  iat,
		ExpiresAt: iat.Add(u.cfg.AccessTTL),
		Scope:     buildScope(user),
		JWTID:     uuid.NewString(),
	})
	if err != nil {
		return nil, internal(err)
	}

	next := &domain.RefreshToken{
		ID:        uuid.NewString(),
		UserID:    user.ID,
		Token:     uuid.NewString() + "_" + strconv.FormatInt(now.UnixMilli(), 10),
		ExpiresAt: now.Add(u.cfg.RefreshTTL),
		CreatedAt: now,
	}

	if previous == nil {
		err = u.refreshRepo.CreateRefreshToken(ctx, next)
	} else {
		err = u.refreshRepo.RotateRefreshToken(ctx, previous, next)
	}
	if err != nil {
		if errors.Is(err, domain.ErrInvalidRefreshToken) {
			return nil, domain.ErrInvalidRefreshToken
		}
		return nil, internal(err)
	}

	return &domain.AuthResponse{
		AccessToken:  accessToken,
		RefreshToken: next.Token,
		ExpiresIn:    int64(u.cfg.AccessTTL / time.Second),
	}, nil
}

// buildScope joins ROLE_<name> for each role followed by that role's
// permission names.
func buildScope(user *domain.User) string {
	var parts []string
	for _, role := range user.Roles {
		parts = append(parts, "ROLE_"+role.Name)
		for _, p := range role.Permissions {
			parts = append(parts, p.Name)
		}
	}
	return strings.Join(parts, " ")
}

// findUserByUsernameOrEmail tries the username first, then the email.
func (u *AuthUsecase) findUserByUsernameOrEmail(ctx context.Context, identifier string) (*domain.User, error) {
	user, err := u.userRepo.FindByUsername(ctx, identifier)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, internal(err)
	}

	user, err = u.userRepo.FindByEmail(ctx, identifier)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, internal(err)
	}
	return nil, domain.ErrEmailOrUsernameIncorrect
}

// internal passes business errors through and wraps everything else.
func internal(err error) error {
	var de *domain.Error
	if errors.As(err, &de) {
		return err
	}
	return domain.ErrInternal(err)
}

type clientIPKey struct{}

// WithClientIP attaches the caller's address for audit records.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPKey{}, ip)
}

// ClientIP returns the address set by WithClientIP, or "".
func ClientIP(ctx context.Context) string {
	ip, _ := ctx.Value(clientIPKey{}).(string)
	return ip
}
