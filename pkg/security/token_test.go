package security

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte(strings.Repeat("k", 64))

func sampleClaims() AccessClaims {
	iat := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	return AccessClaims{
		Subject:   "alice",
		Issuer:    "stc.project.com",
		IssuedAt:  iat,
		ExpiresAt: iat.Add(15 * time.Minute),
		Scope:     "ROLE_MANAGER PROJECT_READ",
		JWTID:     "b1d9c6a2-8f4e-4c1e-9d0f-0a1b2c3d4e5f",
	}
}

func TestTokenSigner_RoundTrip(t *testing.T) {
	s := NewTokenSigner(testSecret)
	in := sampleClaims()

	tok, err := s.Sign(in)
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(tok, "."), "expected header.claims.signature")

	out, err := s.Verify(tok)
	require.NoError(t, err)
	assert.Equal(t, in, *out)
	assert.Equal(t, []string{"ROLE_MANAGER", "PROJECT_READ"}, out.Authorities())
}

func TestTokenSigner_UsesHS512(t *testing.T) {
	s := NewTokenSigner(testSecret)
	tok, err := s.Sign(sampleClaims())
	require.NoError(t, err)

	parsed, _, err := jwt.NewParser().ParseUnverified(tok, jwt.MapClaims{})
	require.NoError(t, err)
	assert.Equal(t, "HS512", parsed.Header["alg"])
}

func TestTokenSigner_Verify_DoesNotCheckExpiry(t *testing.T) {
	s := NewTokenSigner(testSecret)
	c := sampleClaims()
	c.IssuedAt = time.Now().Add(-time.Hour).Truncate(time.Second).UTC()
	c.ExpiresAt = c.IssuedAt.Add(time.Minute)

	tok, err := s.Sign(c)
	require.NoError(t, err)

	out, err := s.Verify(tok)
	require.NoError(t, err)
	assert.True(t, out.ExpiresAt.Before(time.Now()))
}

func TestTokenSigner_Verify_WrongSecret(t *testing.T) {
	tok, err := NewTokenSigner(testSecret).Sign(sampleClaims())
	require.NoError(t, err)

	_, err = NewTokenSigner([]byte(strings.Repeat("x", 64))).Verify(tok)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokenSigner_Verify_Tampered(t *testing.T) {
	s := NewTokenSigner(testSecret)
	tok, err := s.Sign(sampleClaims())
	require.NoError(t, err)

	parts := strings.Split(tok, ".")
	other, err := s.Sign(AccessClaims{
		Subject: "mallory", Issuer: "stc.project.com", JWTID: "x",
		IssuedAt: time.Now(), ExpiresAt: time.Now().Add(time.Hour), Scope: "ROLE_ADMIN",
	})
	require.NoError(t, err)
	forged := parts[0] + "." + strings.Split(other, ".")[1] + "." + parts[2]

	_, err = s.Verify(forged)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokenSigner_Verify_Malformed(t *testing.T) {
	s := NewTokenSigner(testSecret)
	for _, in := range []string{"", "not-a-jwt", "a.b.c", "a.b"} {
		_, err := s.Verify(in)
		assert.ErrorIs(t, err, ErrInvalidToken, "input %q", in)
	}
}

func TestTokenSigner_Verify_RejectsOtherAlgorithms(t *testing.T) {
	s := NewTokenSigner(testSecret)
	c := sampleClaims()
	claims := jwt.MapClaims{
		"sub": c.Subject, "iss": c.Issuer, "jti": c.JWTID, "scope": c.Scope,
		"iat": c.IssuedAt.Unix(), "exp": c.ExpiresAt.Unix(),
	}

	hs256, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(testSecret)
	require.NoError(t, err)
	_, err = s.Verify(hs256)
	assert.ErrorIs(t, err, ErrInvalidToken)

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = s.Verify(none)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokenSigner_Verify_MissingClaims(t *testing.T) {
	s := NewTokenSigner(testSecret)
	c := sampleClaims()
	c.JWTID = ""

	tok, err := s.Sign(c)
	require.NoError(t, err)

	_, err = s.Verify(tok)
	assert.ErrorIs(t, err, ErrInvalidToken)
}
