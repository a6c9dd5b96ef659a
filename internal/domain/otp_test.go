package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func ptr(t time.Time) *time.Time { return &t }

func TestOTPStateOf(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	cases := []struct {
		name string
		user User
		want OTPState
	}{
		{"no code", User{}, OTPStateNone},
		{"pending", User{OTP: "123456", OTPExpiresAt: ptr(now.Add(time.Minute))}, OTPStatePending},
		{"expired", User{OTP: "123456", OTPExpiresAt: ptr(now.Add(-time.Second))}, OTPStateNone},
		{"used", User{OTPUsed: true, OTPExpiresAt: ptr(now.Add(time.Minute))}, OTPStateNone},
		{"locked", User{OTP: "123456", OTPAttempts: 3, OTPLockedUntil: ptr(now.Add(time.Minute))}, OTPStateLocked},
		{"lock elapsed", User{OTPAttempts: 3, OTPLockedUntil: ptr(now.Add(-time.Minute))}, OTPStateNone},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, OTPStateOf(&tc.user, now))
		})
	}
}

func TestOTPState_String(t *testing.T) {
	assert.Equal(t, "none", OTPStateNone.String())
	assert.Equal(t, "pending", OTPStatePending.String())
	assert.Equal(t, "locked", OTPStateLocked.String())
}

func TestUser_ClearOTP(t *testing.T) {
	now := time.Now()
	u := User{OTP: "000123", OTPExpiresAt: &now, OTPAttempts: 2, OTPLockedUntil: &now}
	u.ClearOTP()

	assert.Empty(t, u.OTP)
	assert.Nil(t, u.OTPExpiresAt)
	assert.Nil(t, u.OTPLockedUntil)
	assert.Zero(t, u.OTPAttempts)
}
