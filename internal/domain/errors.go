package domain

import (
	"errors"
	"fmt"
	"net/http"
)

// Error is a caller-facing business failure.
//   - Code: stable machine code (do not change casually)
//   - Message: safe summary for clients
//   - Status: HTTP status equivalent
//   - Cause: wrapped internal error for logging
type Error struct {
	Code    string
	Message string
	Status  int
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is matches on Code so wrapped copies compare equal to the sentinels.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return t.Code == e.Code
	}
	return false
}

func newError(code, msg string, status int) *Error {
	return &Error{Code: code, Message: msg, Status: status}
}

var (
	// Token verification
	ErrInvalidToken        = newError("INVALID_TOKEN", "Invalid token", http.StatusUnauthorized)
	ErrUnauthenticated     = newError("UNAUTHENTICATED", "Unauthenticated", http.StatusUnauthorized)
	ErrTokenExpired        = newError("TOKEN_EXPIRED", "Token expired", http.StatusUnauthorized)
	ErrInvalidRefreshToken = newError("INVALID_REFRESH_TOKEN", "Invalid refresh token", http.StatusUnauthorized)

	// Credentials and account state
	ErrEmailOrUsernameIncorrect         = newError("EMAIL_OR_USERNAME_INCORRECT", "Email or username incorrect", http.StatusUnauthorized)
	ErrPasswordOrEmailUsernameIncorrect = newError("PASSWORD_OR_EMAIL_USERNAME_INCORRECT", "Password or email/username incorrect", http.StatusUnauthorized)
	ErrAccountLocked                    = newError("ACCOUNT_LOCKED", "Account locked", http.StatusUnauthorized)
	ErrNeedToVerify                     = newError("NEED_TO_VERIFY", "Account needs to be verified", http.StatusForbidden)
	ErrUserAlreadyVerified              = newError("USER_ALREADY_VERIFIED", "User already verified", http.StatusBadRequest)

	// OTP challenge
	ErrOTPLocked      = newError("OTP_LOCKED", "Too many OTP attempts, try again later", http.StatusTooManyRequests)
	ErrInvalidOTP     = newError("INVALID_OTP", "Invalid OTP", http.StatusBadRequest)
	ErrOTPExpired     = newError("OTP_EXPIRED", "OTP expired", http.StatusBadRequest)
	ErrOTPAlreadyUsed = newError("OTP_ALREADY_USED", "OTP already used", http.StatusBadRequest)

	// Registration
	ErrUserExisted                        = newError("USER_EXISTED", "User existed", http.StatusBadRequest)
	ErrEmailExisted                       = newError("EMAIL_EXISTED", "Email existed", http.StatusBadRequest)
	ErrPasswordAndConfirmPasswordNotMatch = newError("PASSWORD_AND_CONFIRM_PASSWORD_NOT_MATCH", "Password and confirm password do not match", http.StatusBadRequest)

	// Transport level
	ErrValidation = newError("VALIDATION_ERROR", "Invalid request", http.StatusBadRequest)
	ErrForbidden  = newError("FORBIDDEN", "Access denied", http.StatusForbidden)
)

// ErrNotFound is returned by repositories when a lookup has no match.
// It never reaches callers directly; usecases translate it.
var ErrNotFound = errors.New("not found")

// ErrInternal wraps an unexpected lower-level fault.
func ErrInternal(cause error) *Error {
	return &Error{Code: "INTERNAL_ERROR", Message: "Internal server error", Status: http.StatusInternalServerError, Cause: cause}
}

// AsError extracts the business error from err, mapping anything else to an internal error.
func AsError(err error) *Error {
	var de *Error
	if errors.As(err, &de) {
		return de
	}
	return ErrInternal(err)
}
