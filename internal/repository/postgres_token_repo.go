package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/FilipeAphrody/estate-auth/internal/domain"
)

// PostgresTokenRepo is the revocation ledger: refresh tokens plus the list
// of access-token IDs invalidated before expiry.
type PostgresTokenRepo struct {
	db *sql.DB
}

func NewPostgresTokenRepo(db *sql.DB) *PostgresTokenRepo {
	return &PostgresTokenRepo{db: db}
}

func (r *PostgresTokenRepo) CreateRefreshToken(ctx context.Context, t *domain.RefreshToken) error {
	return insertRefreshToken(ctx, r.db, t)
}

func (r *PostgresTokenRepo) FindActiveRefreshToken(ctx context.Context, value string) (*domain.RefreshToken, error) {
	query := `
		SELECT id, user_id, token, expires_at, created_at, is_revoked
		FROM refresh_tokens
		WHERE token = $1 AND is_revoked = FALSE
	`
	var t domain.RefreshToken
	err := r.db.QueryRowContext(ctx, query, value).Scan(
		&t.ID, &t.UserID, &t.Token, &t.ExpiresAt, &t.CreatedAt, &t.IsRevoked,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("database error: %w", err)
	}
	return &t, nil
}

func (r *PostgresTokenRepo) RevokeRefreshToken(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, "UPDATE refresh_tokens SET is_revoked = TRUE WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	return nil
}

// RotateRefreshToken revokes old and inserts next atomically. The revoke is a
// compare-and-set on is_revoked, so of two concurrent rotations of the same
// token exactly one succeeds; the other gets domain.ErrInvalidRefreshToken.
func (r *PostgresTokenRepo) RotateRefreshToken(ctx context.Context, old, next *domain.RefreshToken) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		"UPDATE refresh_tokens SET is_revoked = TRUE WHERE id = $1 AND is_revoked = FALSE", old.ID)
	if err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrInvalidRefreshToken
	}

	if err := insertRefreshToken(ctx, tx, next); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	old.IsRevoked = true
	return nil
}

func (r *PostgresTokenRepo) RevokeAllRefreshTokens(ctx context.Context, userID string) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE refresh_tokens SET is_revoked = TRUE WHERE user_id = $1 AND is_revoked = FALSE", userID)
	if err != nil {
		return fmt.Errorf("revoke user refresh tokens: %w", err)
	}
	return nil
}

func (r *PostgresTokenRepo) PurgeExpiredRefreshTokens(ctx context.Context, now time.Time) (int64, error) {
	return r.purge(ctx, "DELETE FROM refresh_tokens WHERE expires_at < $1", now)
}

func (r *PostgresTokenRepo) PurgeRevokedRefreshTokens(ctx context.Context) (int64, error) {
	return r.purge(ctx, "DELETE FROM refresh_tokens WHERE is_revoked = TRUE")
}

// InvalidateAccessToken records jti until expiresAt. Repeating the call for
// the same jti leaves a single row.
func (r *PostgresTokenRepo) InvalidateAccessToken(ctx context.Context, jwtID string, expiresAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO invalidated_tokens (jwt_id, expires_at) VALUES ($1, $2)
		ON CONFLICT (jwt_id) DO UPDATE SET expires_at = EXCLUDED.expires_at
	`, jwtID, expiresAt)
	if err != nil {
		return fmt.Errorf("invalidate access token: %w", err)
	}
	return nil
}

func (r *PostgresTokenRepo) IsAccessTokenInvalidated(ctx context.Context, jwtID string) (bool, error) {
	var ok bool
	err := r.db.QueryRowContext(ctx,
		"SELECT EXISTS (SELECT 1 FROM invalidated_tokens WHERE jwt_id = $1)", jwtID).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("database error: %w", err)
	}
	return ok, nil
}

func (r *PostgresTokenRepo) PurgeExpiredInvalidatedTokens(ctx context.Context, now time.Time) (int64, error) {
	return r.purge(ctx, "DELETE FROM invalidated_tokens WHERE expires_at < $1", now)
}

func (r *PostgresTokenRepo) purge(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("purge: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge: %w", err)
	}
	return n, nil
}

func insertRefreshToken(ctx context.Context, q queryer, t *domain.RefreshToken) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO refresh_tokens (id, user_id, token, expires_at, created_at, is_revoked)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, t.ID, t.UserID, t.Token, t.ExpiresAt, t.CreatedAt, t.IsRevoked)
	if err != nil {
		return fmt.Errorf("insert refresh token: %w", err)
	}
	return nil
}
