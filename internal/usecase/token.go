package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/FilipeAphrody/estate-auth/internal/domain"
	"github.com/FilipeAphrody/estate-auth/pkg/security"
)

// Principal is the authenticated caller behind an access token.
type Principal struct {
	Subject     string
	JWTID       string
	ExpiresAt   time.Time
	Authorities []string
}

// HasAuthority reports whether the principal holds a, matched exactly
// (roles carry their ROLE_ prefix).
func (p *Principal) HasAuthority(a string) bool {
	for _, have := range p.Authorities {
		if have == a {
			return true
		}
	}
	return false
}

// Authenticate verifies an access token for a protected request.
func (u *AuthUsecase) Authenticate(ctx context.Context, accessToken string) (*Principal, error) {
	claims, err := u.verifyAccessToken(ctx, accessToken, u.now())
	if err != nil {
		return nil, err
	}
	return &Principal{
		Subject:     claims.Subject,
		JWTID:       claims.JWTID,
		ExpiresAt:   claims.ExpiresAt,
		Authorities: claims.Authorities(),
	}, nil
}

// CurrentUser loads the account behind p.
func (u *AuthUsecase) CurrentUser(ctx context.Context, p *Principal) (*domain.User, error) {
	user, err := u.userRepo.FindByUsername(ctx, p.Subject)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrUnauthenticated
		}
		return nil, internal(err)
	}
	return user, nil
}

// verifyAccessToken checks the signature, then the revocation ledger, then
// expiry, in that order.
func (u *AuthUsecase) verifyAccessToken(ctx context.Context, accessToken string, now time.Time) (*security.AccessClaims, error) {
	claims, err := u.signer.Verify(accessToken)
	if err != nil {
		return nil, domain.ErrInvalidToken
	}

	revoked, err := u.ledger.IsAccessTokenInvalidated(ctx, claims.JWTID)
	if err != nil {
		return nil, internal(err)
	}
	if revoked {
		return nil, domain.ErrUnauthenticated
	}

	if claims.ExpiresAt.Before(now) {
		return nil, domain.ErrTokenExpired
	}
	return claims, nil
}
