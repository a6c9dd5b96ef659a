package domain

import "time"

// OTPState is derived from the user's OTP fields and never stored.
type OTPState int

const (
	OTPStateNone OTPState = iota
	OTPStatePending
	OTPStateLocked
)

func (s OTPState) String() string {
	switch s {
	case OTPStatePending:
		return "pending"
	case OTPStateLocked:
		return "locked"
	default:
		return "none"
	}
}

// OTPStateOf computes the challenge state of u at now.
func OTPStateOf(u *User, now time.Time) OTPState {
	if u.OTPLockedUntil != nil && u.OTPLockedUntil.After(now) {
		return OTPStateLocked
	}
	if u.OTP != "" && !u.OTPUsed && u.OTPExpiresAt != nil && u.OTPExpiresAt.After(now) {
		return OTPStatePending
	}
	return OTPStateNone
}

// OTPLocked reports whether u is inside an OTP lockout window at now.
func OTPLocked(u *User, now time.Time) bool {
	return OTPStateOf(u, now) == OTPStateLocked
}
