package security

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken covers malformed input, a foreign algorithm, a bad
// signature and missing required claims.
var ErrInvalidToken = errors.New("invalid token")

// AccessClaims is the claim set carried by an access token.
type AccessClaims struct {
	Subject   string
	Issuer    string
	IssuedAt  time.Time
	ExpiresAt time.Time
	Scope     string
	JWTID     string
}

// Authorities splits the scope into individual authority names.
func (c AccessClaims) Authorities() []string {
	return strings.Fields(c.Scope)
}

type wireClaims struct {
	Scope string `json:"scope"`
	jwt.RegisteredClaims
}

// TokenSigner signs and verifies HS512 access tokens with a single shared secret.
type TokenSigner struct {
	secret []byte
}

// NewTokenSigner creates a signer bound to secret.
func NewTokenSigner(secret []byte) *TokenSigner {
	key := make([]byte, len(secret))
	copy(key, secret)
	return &TokenSigner{secret: key}
}

// Sign serialises claims into a compact header.claims.signature string.
// Times are carried with second precision.
func (s *TokenSigner) Sign(c AccessClaims) (string, error) {
	claims := wireClaims{
		Scope: c.Scope,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   c.Subject,
			Issuer:    c.Issuer,
			IssuedAt:  jwt.NewNumericDate(c.IssuedAt),
			ExpiresAt: jwt.NewNumericDate(c.ExpiresAt),
			ID:        c.JWTID,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS512, claims)
	return token.SignedString(s.secret)
}

// Verify checks structure and signature only. Expiry and revocation are
// left to the caller so it can decide the order they are reported in.
func (s *TokenSigner) Verify(tokenString string) (*AccessClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &wireClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS512.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	if err != nil {
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*wireClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}

	if claims.Subject == "" || claims.Issuer == "" || claims.ID == "" || claims.IssuedAt == nil || claims.ExpiresAt == nil {
		return nil, ErrInvalidToken
	}

	return &AccessClaims{
		Subject:   claims.Subject,
		Issuer:    claims.Issuer,
		IssuedAt:  claims.IssuedAt.Time.UTC(),
		ExpiresAt: claims.ExpiresAt.Time.UTC(),
		Scope:     claims.Scope,
		JWTID:     claims.ID,
	}, nil
}
