package usecase

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/FilipeAphrody/estate-auth/internal/domain"
)

// RegisterInput carries the sign-up form.
type RegisterInput struct {
	Username        string
	Email           string
	Password        string
	ConfirmPassword string
}

// Register creates an active but unverified MANAGER account and emails its
// first verification code.
func (u *AuthUsecase) Register(ctx context.Context, in RegisterInput) (*domain.User, error) {
	now := u.now()

	if in.Password != in.ConfirmPassword {
		return nil, domain.ErrPasswordAndConfirmPasswordNotMatch
	}

	exists, err := u.userRepo.ExistsByEmail(ctx, in.Email)
	if err != nil {
		return nil, internal(err)
	}
	if exists {
		return nil, domain.ErrEmailExisted
	}

	exists, err = u.userRepo.ExistsByUsername(ctx, in.Username)
	if err != nil {
		return nil, internal(err)
	}
	if exists {
		return nil, domain.ErrUserExisted
	}

	hash, err := u.hasher.Hash(in.Password)
	if err != nil {
		return nil, internal(err)
	}

	code, err := u.otp.generate()
	if err != nil {
		return nil, internal(err)
	}

	user := &domain.User{
		ID:           uuid.NewString(),
		Username:     in.Username,
		Email:        in.Email,
		PasswordHash: hash,
		IsActive:     true,
		IsVerified:   false,
		Roles:        []domain.Role{{Name: domain.DefaultRole}},
	}
	u.otp.prime(user, code, now)

	// the existence checks race with other sign-ups; the unique constraints decide
	if err := u.userRepo.Create(ctx, user); err != nil {
		return nil, internal(err)
	}

	u.otp.send(ctx, user, code, PurposeVerification)

	_ = u.userRepo.LogSecurityEvent(ctx, user.ID, domain.EventRegistered, ClientIP(ctx), nil)
	log.Info().Str("user_id", user.ID).Str("username", user.Username).Msg("user registered")
	return user, nil
}

// VerifyOTP checks a verification code. A false result with a nil error
// means the code was rejected and counted.
func (u *AuthUsecase) VerifyOTP(ctx context.Context, usernameOrEmail, code string) (bool, error) {
	now := u.now()

	user, err := u.findUserByUsernameOrEmail(ctx, usernameOrEmail)
	if err != nil {
		return false, err
	}

	ok, err := u.otp.Verify(ctx, user.ID, code, now)
	if err != nil {
		return false, u.otpFailure(err)
	}

	if ok {
		_ = u.userRepo.LogSecurityEvent(ctx, user.ID, domain.EventVerified, ClientIP(ctx), nil)
	}
	return ok, nil
}

// ResendOTP replaces the outstanding verification code with a new one.
func (u *AuthUsecase) ResendOTP(ctx context.Context, usernameOrEmail string) error {
	now := u.now()

	user, err := u.findUserByUsernameOrEmail(ctx, usernameOrEmail)
	if err != nil {
		return err
	}

	_, err = u.otp.Issue(ctx, user.ID, PurposeVerification, now, func(cur *domain.User) error {
		if domain.OTPLocked(cur, now) {
			return domain.ErrOTPLocked
		}
		if cur.IsVerified {
			return domain.ErrUserAlreadyVerified
		}
		return nil
	})
	if err != nil {
		return u.otpFailure(err)
	}
	return nil
}

// otpFailure maps a vanished row to the lookup error callers already expect.
func (u *AuthUsecase) otpFailure(err error) error {
	if errors.Is(err, domain.ErrNotFound) {
		return domain.ErrEmailOrUsernameIncorrect
	}
	return internal(err)
}
