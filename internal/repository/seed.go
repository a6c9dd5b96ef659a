package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/FilipeAphrody/estate-auth/internal/domain"
)

// AdminRole holds every permission in the catalog.
const AdminRole = "ADMIN"

var userPermissions = []domain.Permission{
	{Name: "CREATE_USER", Description: "Create users"},
	{Name: "READ_USER", Description: "View users"},
	{Name: "UPDATE_USER", Description: "Update users"},
	{Name: "DELETE_USER", Description: "Delete users"},
	{Name: "SEARCH_USER", Description: "Search users"},
}

var estatePermissions = []domain.Permission{
	{Name: "READ_PROJECT", Description: "View projects"},
	{Name: "WRITE_PROJECT", Description: "Create and edit projects"},
	{Name: "READ_BUILDING", Description: "View buildings"},
	{Name: "WRITE_BUILDING", Description: "Create and edit buildings"},
	{Name: "READ_APARTMENT", Description: "View apartments"},
	{Name: "WRITE_APARTMENT", Description: "Create and edit apartments"},
}

// DefaultRoles is the built-in role catalog.
func DefaultRoles() []domain.Role {
	all := append(append([]domain.Permission(nil), userPermissions...), estatePermissions...)
	return []domain.Role{
		{Name: AdminRole, Description: "ADMIN SYSTEM", Permissions: all},
		{Name: domain.DefaultRole, Description: "MANAGER SYSTEM", Permissions: append([]domain.Permission(nil), estatePermissions...)},
	}
}

// Hasher is the minimal surface we need for seeding.
type Hasher interface {
	Hash(password string) (string, error)
}

// SeedRepo is implemented by both user repositories.
type SeedRepo interface {
	UpsertRole(ctx context.Context, role domain.Role) error
	ExistsByUsername(ctx context.Context, username string) (bool, error)
	Create(ctx context.Context, user *domain.User) error
}

// Seed installs the role catalog and, when adminPassword is non-empty, an
// active verified "admin" account. Safe to call on every start.
func Seed(ctx context.Context, repo SeedRepo, hasher Hasher, adminPassword string) error {
	for _, role := range DefaultRoles() {
		if err := repo.UpsertRole(ctx, role); err != nil {
			return fmt.Errorf("seed roles: %w", err)
		}
	}

	if adminPassword == "" {
		return nil
	}

	exists, err := repo.ExistsByUsername(ctx, "admin")
	if err != nil {
		return fmt.Errorf("seed admin: %w", err)
	}
	if exists {
		return nil
	}

	hash, err := hasher.Hash(adminPassword)
	if err != nil {
		return fmt.Errorf("seed admin: %w", err)
	}

	admin := &domain.User{
		ID:           uuid.NewString(),
		Username:     "admin",
		Email:        "admin@system.com",
		PasswordHash: hash,
		IsActive:     true,
		IsVerified:   true,
		Roles:        []domain.Role{{Name: AdminRole}},
	}
	if err := repo.Create(ctx, admin); err != nil {
		// lost a race with another instance
		if errors.Is(err, domain.ErrUserExisted) || errors.Is(err, domain.ErrEmailExisted) {
			return nil
		}
		return fmt.Errorf("seed admin: %w", err)
	}

	log.Info().Str("user_id", admin.ID).Msg("[seed] admin user created")
	return nil
}
