package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/FilipeAphrody/estate-auth/internal/domain"
	"github.com/FilipeAphrody/estate-auth/internal/metrics"
	"github.com/FilipeAphrody/estate-auth/pkg/security"
)

// OTPPurpose selects the email sent with a code.
type OTPPurpose string

const (
	PurposeVerification  OTPPurpose = "verification"
	PurposePasswordReset OTPPurpose = "password_reset"
)

// errSkipIssue lets an Issue guard decline without failing the caller.
var errSkipIssue = errors.New("otp issue skipped")

// OTPEngine owns the one-time code lifecycle stored on the user row.
// Every check-and-update goes through UserRepository.Mutate.
type OTPEngine struct {
	users       domain.UserRepository
	mailer      domain.Mailer
	ttl         time.Duration
	lockout     time.Duration
	maxAttempts int
	generate    func() (string, error)
}

func NewOTPEngine(users domain.UserRepository, mailer domain.Mailer, ttl, lockout time.Duration, maxAttempts int) *OTPEngine {
	return &OTPEngine{
		users:       users,
		mailer:      mailer,
		ttl:         ttl,
		lockout:     lockout,
		maxAttempts: maxAttempts,
		generate:    security.GenerateOTP,
	}
}

// prime writes a fresh challenge onto u. Attempts and any stale lock are reset.
func (e *OTPEngine) prime(u *domain.User, code string, now time.Time) {
	expires := now.Add(e.ttl)
	u.OTP = code
	u.OTPExpiresAt = &expires
	u.OTPUsed = false
	u.OTPAttempts = 0
	u.OTPLockedUntil = nil
}

// Issue stores a new code for the user and emails it. guard runs under the
// row lock before anything changes; errSkipIssue makes Issue return
// (false, nil) and any other error is returned as is.
func (e *OTPEngine) Issue(ctx context.Context, userID string, purpose OTPPurpose, now time.Time, guard func(u *domain.User) error) (bool, error) {
	code, err := e.generate()
	if err != nil {
		return false, domain.ErrInternal(err)
	}

	user, err := e.users.Mutate(ctx, userID, func(u *domain.User) error {
		if guard != nil {
			if err := guard(u); err != nil {
				return err
			}
		}
		e.prime(u, code, now)
		return nil
	})
	if err != nil {
		if errors.Is(err, errSkipIssue) {
			return false, nil
		}
		return false, err
	}

	e.send(ctx, user, code, purpose)
	return true, nil
}

// Verify checks candidate against the user's verification code. On success
// the account is marked verified and the code consumed. Any rejection counts
// as an attempt and the last allowed one starts the lockout. Nothing is
// counted while a lockout is running.
func (e *OTPEngine) Verify(ctx context.Context, userID, candidate string, now time.Time) (bool, error) {
	var accepted, lockedNow bool

	_, err := e.users.Mutate(ctx, userID, func(u *domain.User) error {
		if u.IsVerified {
			return domain.ErrUserAlreadyVerified
		}
		if domain.OTPLocked(u, now) {
			return domain.ErrOTPLocked
		}

		accepted = u.OTP != "" &&
			security.EqualCodes(u.OTP, candidate) &&
			u.OTPExpiresAt != nil && u.OTPExpiresAt.After(now) &&
			!u.OTPUsed &&
			u.OTPAttempts < e.maxAttempts

		if accepted {
			u.ClearOTP()
			u.OTPUsed = true
			u.IsVerified = true
			return nil
		}

		lockedNow = e.countFailure(u, now)
		return nil
	})
	if err != nil {
		return false, err
	}

	if lockedNow {
		e.recordLockout(ctx, userID)
	}
	return accepted, nil
}

// Redeem consumes the user's code for a sensitive change. guard runs first
// under the row lock, then the lockout check. A wrong code is counted and
// reported as ErrInvalidOTP, or ErrOTPLocked when it used the last attempt.
// An expired or used code changes nothing. On success apply runs and the
// code is consumed in the same write.
func (e *OTPEngine) Redeem(ctx context.Context, userID, candidate string, now time.Time, guard, apply func(u *domain.User) error) error {
	var outcome error
	var lockedNow bool

	_, err := e.users.Mutate(ctx, userID, func(u *domain.User) error {
		if guard != nil {
			if err := guard(u); err != nil {
				return err
			}
		}
		if domain.OTPLocked(u, now) {
			return domain.ErrOTPLocked
		}

		if u.OTP == "" || !security.EqualCodes(u.OTP, candidate) {
			lockedNow = e.countFailure(u, now)
			if lockedNow {
				outcome = domain.ErrOTPLocked
			} else {
				outcome = domain.ErrInvalidOTP
			}
			return nil
		}

		if u.OTPExpiresAt == nil || !u.OTPExpiresAt.After(now) {
			return domain.ErrOTPExpired
		}
		if u.OTPUsed {
			return domain.ErrOTPAlreadyUsed
		}
		if u.OTPAttempts >= e.maxAttempts {
			// out of attempts from an earlier window
			until := now.Add(e.lockout)
			u.OTPLockedUntil = &until
			lockedNow = true
			outcome = domain.ErrOTPLocked
			return nil
		}

		if apply != nil {
			if err := apply(u); err != nil {
				return err
			}
		}
		u.ClearOTP()
		u.OTPUsed = true
		return nil
	})
	if err != nil {
		return err
	}

	if lockedNow {
		e.recordLockout(ctx, userID)
	}
	return outcome
}

// countFailure bumps the attempt counter and starts the lockout once the
// limit is reached. It reports whether a lockout started.
func (e *OTPEngine) countFailure(u *domain.User, now time.Time) bool {
	u.OTPAttempts++
	if u.OTPAttempts >= e.maxAttempts {
		until := now.Add(e.lockout)
		u.OTPLockedUntil = &until
		return true
	}
	return false
}

func (e *OTPEngine) recordLockout(ctx context.Context, userID string) {
	metrics.RecordOTPLockout()
	log.Warn().Str("user_id", userID).Dur("lockout", e.lockout).Msg("otp locked after too many attempts")
	_ = e.users.LogSecurityEvent(ctx, userID, domain.EventOTPLocked, ClientIP(ctx), nil)
}

func (e *OTPEngine) send(ctx context.Context, u *domain.User, code string, purpose OTPPurpose) {
	subject, body := renderOTPEmail(purpose, u.Username, code, e.ttl)
	e.mailer.SendEmail(ctx, u.Email, subject, body)
}
