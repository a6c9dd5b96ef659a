package security

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base32"
	"encoding/binary"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/hotp"
)

// OTPDigits is the length of emailed one-time codes.
const OTPDigits = 6

var otpOpts = hotp.ValidateOpts{
	Digits:    otp.DigitsSix,
	Algorithm: otp.AlgorithmSHA1,
}

// GenerateOTP returns a zero-padded 6-digit numeric code.
// Each code is an HOTP value over a fresh random secret and counter, so
// successive codes are independent.
func GenerateOTP() (string, error) {
	secret, err := GenerateSecret()
	if err != nil {
		return "", err
	}

	var counter [8]byte
	if _, err := rand.Read(counter[:]); err != nil {
		return "", err
	}

	return hotp.GenerateCodeCustom(secret, binary.BigEndian.Uint64(counter[:]), otpOpts)
}

// GenerateSecret generates a random Base32 string (compatible with HOTP/TOTP secrets).
func GenerateSecret() (string, error) {
	secret := make([]byte, 20)
	if _, err := rand.Read(secret); err != nil {
		return "", err
	}
	return base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(secret), nil
}

// EqualCodes compares two codes in constant time.
func EqualCodes(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
