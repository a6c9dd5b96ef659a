package usecase

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/FilipeAphrody/estate-auth/internal/domain"
)

// ResetPasswordInput carries the reset form.
type ResetPasswordInput struct {
	Email           string
	OTP             string
	NewPassword     string
	ConfirmPassword string
}

// ForgotPassword emails a reset code to an active, unlocked account.
func (u *AuthUsecase) ForgotPassword(ctx context.Context, email string) error {
	now := u.now()

	user, err := u.userRepo.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.ErrEmailOrUsernameIncorrect
		}
		return internal(err)
	}

	_, err = u.otp.Issue(ctx, user.ID, PurposePasswordReset, now, func(cur *domain.User) error {
		if !cur.IsActive {
			return domain.ErrAccountLocked
		}
		if domain.OTPLocked(cur, now) {
			return domain.ErrOTPLocked
		}
		return nil
	})
	if err != nil {
		return u.otpFailure(err)
	}
	return nil
}

// ResetPassword sets a new password once the emailed code checks out and
// revokes every refresh token of the account.
func (u *AuthUsecase) ResetPassword(ctx context.Context, in ResetPasswordInput) error {
	now := u.now()

	if in.NewPassword != in.ConfirmPassword {
		return domain.ErrPasswordAndConfirmPasswordNotMatch
	}

	user, err := u.userRepo.FindByEmail(ctx, in.Email)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.ErrEmailOrUsernameIncorrect
		}
		return internal(err)
	}

	// Hash outside the row lock.
	hash, err := u.hasher.Hash(in.NewPassword)
	if err != nil {
		return internal(err)
	}

	err = u.otp.Redeem(ctx, user.ID, in.OTP, now,
		func(cur *domain.User) error {
			if !cur.IsActive {
				return domain.ErrAccountLocked
			}
			return nil
		},
		func(cur *domain.User) error {
			cur.PasswordHash = hash
			return nil
		},
	)
	if err != nil {
		return u.otpFailure(err)
	}

	if err := u.refreshRepo.RevokeAllRefreshTokens(ctx, user.ID); err != nil {
		return internal(err)
	}

	_ = u.userRepo.LogSecurityEvent(ctx, user.ID, domain.EventPasswordReset, ClientIP(ctx), nil)
	log.Info().Str("user_id", user.ID).Msg("password reset")
	return nil
}
