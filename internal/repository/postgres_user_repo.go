package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/FilipeAphrody/estate-auth/internal/domain"
)

const userColumns = "id, username, email, password_hash, is_active, is_verified, " +
	"otp, otp_expires_at, otp_used, otp_attempts, otp_locked_until, created_at, updated_at"

// PostgresUserRepo implements domain.UserRepository using PostgreSQL.
type PostgresUserRepo struct {
	db  *sql.DB
	now func() time.Time
}

// NewPostgresUserRepo creates a new repository instance.
func NewPostgresUserRepo(db *sql.DB) *PostgresUserRepo {
	return &PostgresUserRepo{db: db, now: time.Now}
}

func (r *PostgresUserRepo) FindByUsername(ctx context.Context, username string) (*domain.User, error) {
	return r.findOne(ctx, r.db, "SELECT "+userColumns+" FROM users WHERE username = $1", username)
}

func (r *PostgresUserRepo) FindByEmail(ctx context.Context, email string) (*domain.User, error) {
	return r.findOne(ctx, r.db, "SELECT "+userColumns+" FROM users WHERE email = $1", email)
}

// GetByID retrieves a user by their UUID.
func (r *PostgresUserRepo) GetByID(ctx context.Context, id string) (*domain.User, error) {
	return r.findOne(ctx, r.db, "SELECT "+userColumns+" FROM users WHERE id = $1", id)
}

func (r *PostgresUserRepo) ExistsByUsername(ctx context.Context, username string) (bool, error) {
	return r.exists(ctx, "SELECT EXISTS (SELECT 1 FROM users WHERE username = $1)", username)
}

func (r *PostgresUserRepo) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	return r.exists(ctx, "SELECT EXISTS (SELECT 1 FROM users WHERE email = $1)", email)
}

// Create inserts the user and its role assignments in one transaction.
// Roles are referenced by name; their permissions are loaded back onto user.
func (r *PostgresUserRepo) Create(ctx context.Context, user *domain.User) error {
	now := r.now().UTC()
	user.CreatedAt = now
	user.UpdatedAt = now

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	query := `
		INSERT INTO users (` + userColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	_, err = tx.ExecContext(ctx, query,
		user.ID,
		user.Username,
		user.Email,
		user.PasswordHash,
		user.IsActive,
		user.IsVerified,
		nullString(user.OTP),
		nullTime(user.OTPExpiresAt),
		user.OTPUsed,
		user.OTPAttempts,
		nullTime(user.OTPLockedUntil),
		user.CreatedAt,
		user.UpdatedAt,
	)
	if err != nil {
		if constraint, ok := uniqueViolation(err); ok {
			if constraint == "users_email_key" {
				return domain.ErrEmailExisted
			}
			return domain.ErrUserExisted
		}
		return fmt.Errorf("failed to create user: %w", err)
	}

	for _, role := range user.Roles {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO user_roles (user_id, role_name) VALUES ($1, $2)", user.ID, role.Name); err != nil {
			return fmt.Errorf("assign role %q: %w", role.Name, err)
		}
	}

	roles, err := loadRoles(ctx, tx, user.ID)
	if err != nil {
		return err
	}
	user.Roles = roles

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Save persists every mutable column. Role assignments are not touched.
func (r *PostgresUserRepo) Save(ctx context.Context, user *domain.User) error {
	return r.update(ctx, r.db, user)
}

// Mutate loads the row with SELECT ... FOR UPDATE, applies fn and writes the
// result back before committing. Concurrent callers for the same user queue
// on the row lock, so fn always sees the latest committed state.
func (r *PostgresUserRepo) Mutate(ctx context.Context, id string, fn func(u *domain.User) error) (*domain.User, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	user, err := r.findOne(ctx, tx, "SELECT "+userColumns+" FROM users WHERE id = $1 FOR UPDATE", id)
	if err != nil {
		return nil, err
	}

	if err := fn(user); err != nil {
		return nil, err
	}

	if err := r.update(ctx, tx, user); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return user, nil
}

// UpsertRole creates or refreshes a role and its permission set.
func (r *PostgresUserRepo) UpsertRole(ctx context.Context, role domain.Role) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO roles (name, description) VALUES ($1, $2)
		ON CONFLICT (name) DO UPDATE SET description = EXCLUDED.description
	`, role.Name, role.Description); err != nil {
		return fmt.Errorf("upsert role %q: %w", role.Name, err)
	}

	for _, p := range role.Permissions {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO permissions (name, description) VALUES ($1, $2)
			ON CONFLICT (name) DO UPDATE SET description = EXCLUDED.description
		`, p.Name, p.Description); err != nil {
			return fmt.Errorf("upsert permission %q: %w", p.Name, err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO role_permissions (role_name, permission_name) VALUES ($1, $2)
			ON CONFLICT DO NOTHING
		`, role.Name, p.Name); err != nil {
			return fmt.Errorf("grant %q to %q: %w", p.Name, role.Name, err)
		}
	}

	return tx.Commit()
}

// LogSecurityEvent inserts an immutable record into the audit_logs table.
func (r *PostgresUserRepo) LogSecurityEvent(ctx context.Context, userID, eventType, ip string, metadata map[string]interface{}) error {
	metaJSON, err := json.Marshal(metadata)
	if err != nil || metadata == nil {
		metaJSON = []byte("{}")
	}

	query := `
		INSERT INTO audit_logs (user_id, event_type, ip_address, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`

	// Anonymous events (e.g. a failed login for an unknown name) carry a NULL user.
	_, err = r.db.ExecContext(ctx, query, nullString(userID), eventType, ip, metaJSON, r.now().UTC())
	return err
}

func (r *PostgresUserRepo) findOne(ctx context.Context, q queryer, query string, arg any) (*domain.User, error) {
	var (
		user         domain.User
		otp          sql.NullString
		otpExpiresAt sql.NullTime
		lockedUntil  sql.NullTime
	)
	err := q.QueryRowContext(ctx, query, arg).Scan(
		&user.ID,
		&user.Username,
		&user.Email,
		&user.PasswordHash,
		&user.IsActive,
		&user.IsVerified,
		&otp,
		&otpExpiresAt,
		&user.OTPUsed,
		&user.OTPAttempts,
		&lockedUntil,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("database error: %w", err)
	}
	user.OTP = otp.String
	user.OTPExpiresAt = timePtr(otpExpiresAt)
	user.OTPLockedUntil = timePtr(lockedUntil)

	roles, err := loadRoles(ctx, q, user.ID)
	if err != nil {
		return nil, err
	}
	user.Roles = roles
	return &user, nil
}

func (r *PostgresUserRepo) update(ctx context.Context, q queryer, user *domain.User) error {
	user.UpdatedAt = r.now().UTC()

	query := `
		UPDATE users
		SET username = $1, email = $2, password_hash = $3, is_active = $4, is_verified = $5,
		    otp = $6, otp_expires_at = $7, otp_used = $8, otp_attempts = $9, otp_locked_until = $10,
		    updated_at = $11
		WHERE id = $12
	`
	result, err := q.ExecContext(ctx, query,
		user.Username,
		user.Email,
		user.PasswordHash,
		user.IsActive,
		user.IsVerified,
		nullString(user.OTP),
		nullTime(user.OTPExpiresAt),
		user.OTPUsed,
		user.OTPAttempts,
		nullTime(user.OTPLockedUntil),
		user.UpdatedAt,
		user.ID,
	)
	if err != nil {
		if constraint, ok := uniqueViolation(err); ok {
			if constraint == "users_email_key" {
				return domain.ErrEmailExisted
			}
			return domain.ErrUserExisted
		}
		return fmt.Errorf("update user: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *PostgresUserRepo) exists(ctx context.Context, query, arg string) (bool, error) {
	var ok bool
	if err := r.db.QueryRowContext(ctx, query, arg).Scan(&ok); err != nil {
		return false, fmt.Errorf("database error: %w", err)
	}
	return ok, nil
}

// loadRoles returns the user's roles ordered by name, each with its
// permissions ordered by name.
func loadRoles(ctx context.Context, q queryer, userID string) ([]domain.Role, error) {
	query := `
		SELECT r.name, r.description, COALESCE(p.name, ''), COALESCE(p.description, '')
		FROM user_roles ur
		JOIN roles r ON r.name = ur.role_name
		LEFT JOIN role_permissions rp ON rp.role_name = r.name
		LEFT JOIN permissions p ON p.name = rp.permission_name
		WHERE ur.user_id = $1
		ORDER BY r.name, p.name
	`
	rows, err := q.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("load roles: %w", err)
	}
	defer rows.Close()

	var roles []domain.Role
	for rows.Next() {
		var roleName, roleDesc, permName, permDesc string
		if err := rows.Scan(&roleName, &roleDesc, &permName, &permDesc); err != nil {
			return nil, fmt.Errorf("scan role: %w", err)
		}
		if len(roles) == 0 || roles[len(roles)-1].Name != roleName {
			roles = append(roles, domain.Role{Name: roleName, Description: roleDesc})
		}
		if permName != "" {
			last := &roles[len(roles)-1]
			last.Permissions = append(last.Permissions, domain.Permission{Name: permName, Description: permDesc})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load roles: %w", err)
	}
	return roles, nil
}
