package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/FilipeAphrody/estate-auth/internal/domain"
)

// AuditEntry is one security event held by MemoryUserRepo.
type AuditEntry struct {
	UserID    string
	EventType string
	IP        string
	Metadata  map[string]interface{}
	At        time.Time
}

// MemoryUserRepo is an in-process domain.UserRepository for local runs and
// tests. A single mutex serialises every read-modify-write.
type MemoryUserRepo struct {
	mu    sync.Mutex
	users map[string]*domain.User // by ID
	roles map[string]domain.Role
	audit []AuditEntry
	now   func() time.Time
}

func NewMemoryUserRepo() *MemoryUserRepo {
	return &MemoryUserRepo{
		users: make(map[string]*domain.User),
		roles: make(map[string]domain.Role),
		now:   time.Now,
	}
}

func (r *MemoryUserRepo) FindByUsername(_ context.Context, username string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.Username == username {
			return cloneUser(u), nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *MemoryUserRepo) FindByEmail(_ context.Context, email string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.Email == email {
			return cloneUser(u), nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *MemoryUserRepo) GetByID(_ context.Context, id string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneUser(u), nil
}

func (r *MemoryUserRepo) ExistsByUsername(ctx context.Context, username string) (bool, error) {
	_, err := r.FindByUsername(ctx, username)
	return err == nil, nil
}

func (r *MemoryUserRepo) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	_, err := r.FindByEmail(ctx, email)
	return err == nil, nil
}

func (r *MemoryUserRepo) Create(_ context.Context, user *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, u := range r.users {
		if u.Email == user.Email {
			return domain.ErrEmailExisted
		}
		if u.Username == user.Username {
			return domain.ErrUserExisted
		}
	}
	if user.ID == "" {
		return fmt.Errorf("create user: missing id")
	}

	roles, err := r.resolveRoles(user.Roles)
	if err != nil {
		return err
	}
	user.Roles = roles

	now := r.now().UTC()
	user.CreatedAt = now
	user.UpdatedAt = now
	r.users[user.ID] = cloneUser(user)
	return nil
}

// Save replaces the stored user. Roles stay as assigned at creation.
func (r *MemoryUserRepo) Save(_ context.Context, user *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.saveLocked(user)
}

func (r *MemoryUserRepo) Mutate(_ context.Context, id string, fn func(u *domain.User) error) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.users[id]
	if !ok {
		return nil, domain.ErrNotFound
	}

	u := cloneUser(stored)
	if err := fn(u); err != nil {
		return nil, err
	}
	if err := r.saveLocked(u); err != nil {
		return nil, err
	}
	return cloneUser(u), nil
}

// UpsertRole creates or replaces a role in the catalog.
func (r *MemoryUserRepo) UpsertRole(_ context.Context, role domain.Role) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	perms := make([]domain.Permission, len(role.Permissions))
	copy(perms, role.Permissions)
	sort.Slice(perms, func(i, j int) bool { return perms[i].Name < perms[j].Name })
	role.Permissions = perms
	r.roles[role.Name] = role
	return nil
}

func (r *MemoryUserRepo) LogSecurityEvent(_ context.Context, userID, eventType, ip string, metadata map[string]interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.audit = append(r.audit, AuditEntry{
		UserID:    userID,
		EventType: eventType,
		IP:        ip,
		Metadata:  metadata,
		At:        r.now().UTC(),
	})
	return nil
}

// AuditLog returns a copy of the recorded security events.
func (r *MemoryUserRepo) AuditLog() []AuditEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]AuditEntry, len(r.audit))
	copy(out, r.audit)
	return out
}

func (r *MemoryUserRepo) saveLocked(user *domain.User) error {
	stored, ok := r.users[user.ID]
	if !ok {
		return domain.ErrNotFound
	}
	for id, u := range r.users {
		if id == user.ID {
			continue
		}
		if u.Email == user.Email {
			return domain.ErrEmailExisted
		}
		if u.Username == user.Username {
			return domain.ErrUserExisted
		}
	}

	next := cloneUser(user)
	next.Roles = cloneRoles(stored.Roles)
	next.CreatedAt = stored.CreatedAt
	next.UpdatedAt = r.now().UTC()
	user.UpdatedAt = next.UpdatedAt
	r.users[user.ID] = next
	return nil
}

// resolveRoles maps names to catalog roles, sorted by name as Postgres returns them.
func (r *MemoryUserRepo) resolveRoles(in []domain.Role) ([]domain.Role, error) {
	out := make([]domain.Role, 0, len(in))
	for _, ref := range in {
		role, ok := r.roles[ref.Name]
		if !ok {
			return nil, fmt.Errorf("assign role %q: role not found", ref.Name)
		}
		out = append(out, role)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return cloneRoles(out), nil
}

func cloneUser(u *domain.User) *domain.User {
	c := *u
	c.Roles = cloneRoles(u.Roles)
	if u.OTPExpiresAt != nil {
		t := *u.OTPExpiresAt
		c.OTPExpiresAt = &t
	}
	if u.OTPLockedUntil != nil {
		t := *u.OTPLockedUntil
		c.OTPLockedUntil = &t
	}
	return &c
}

func cloneRoles(in []domain.Role) []domain.Role {
	if in == nil {
		return nil
	}
	out := make([]domain.Role, len(in))
	for i, r := range in {
		out[i] = r
		out[i].Permissions = append([]domain.Permission(nil), r.Permissions...)
	}
	return out
}

// MemoryTokenRepo implements both ledger ports in process.
type MemoryTokenRepo struct {
	mu          sync.Mutex
	refresh     map[string]*domain.RefreshToken // by ID
	invalidated map[string]time.Time            // jti -> exp
}

func NewMemoryTokenRepo() *MemoryTokenRepo {
	return &MemoryTokenRepo{
		refresh:     make(map[string]*domain.RefreshToken),
		invalidated: make(map[string]time.Time),
	}
}

func (r *MemoryTokenRepo) CreateRefreshToken(_ context.Context, t *domain.RefreshToken) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.insertLocked(t)
}

func (r *MemoryTokenRepo) FindActiveRefreshToken(_ context.Context, value string) (*domain.RefreshToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.refresh {
		if t.Token == value && !t.IsRevoked {
			c := *t
			return &c, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *MemoryTokenRepo) RevokeRefreshToken(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.refresh[id]; ok {
		t.IsRevoked = true
	}
	return nil
}

func (r *MemoryTokenRepo) RotateRefreshToken(_ context.Context, old, next *domain.RefreshToken) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.refresh[old.ID]
	if !ok || stored.IsRevoked {
		return domain.ErrInvalidRefreshToken
	}
	if err := r.insertLocked(next); err != nil {
		return err
	}
	stored.IsRevoked = true
	old.IsRevoked = true
	return nil
}

func (r *MemoryTokenRepo) RevokeAllRefreshTokens(_ context.Context, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.refresh {
		if t.UserID == userID {
			t.IsRevoked = true
		}
	}
	return nil
}

func (r *MemoryTokenRepo) PurgeExpiredRefreshTokens(_ context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, t := range r.refresh {
		if t.Expired(now) {
			delete(r.refresh, id)
			n++
		}
	}
	return n, nil
}

func (r *MemoryTokenRepo) PurgeRevokedRefreshTokens(_ context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, t := range r.refresh {
		if t.IsRevoked {
			delete(r.refresh, id)
			n++
		}
	}
	return n, nil
}

func (r *MemoryTokenRepo) InvalidateAccessToken(_ context.Context, jwtID string, expiresAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.invalidated[jwtID] = expiresAt
	return nil
}

func (r *MemoryTokenRepo) IsAccessTokenInvalidated(_ context.Context, jwtID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.invalidated[jwtID]
	return ok, nil
}

func (r *MemoryTokenRepo) PurgeExpiredInvalidatedTokens(_ context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for jti, exp := range r.invalidated {
		if exp.Before(now) {
			delete(r.invalidated, jti)
			n++
		}
	}
	return n, nil
}

// RefreshTokensFor returns copies of every refresh token owned by userID.
func (r *MemoryTokenRepo) RefreshTokensFor(userID string) []domain.RefreshToken {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.RefreshToken
	for _, t := range r.refresh {
		if t.UserID == userID {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// InvalidatedCount is the number of ledger entries for access tokens.
func (r *MemoryTokenRepo) InvalidatedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.invalidated)
}

func (r *MemoryTokenRepo) insertLocked(t *domain.RefreshToken) error {
	for _, existing := range r.refresh {
		if existing.Token == t.Token {
			return fmt.Errorf("insert refresh token: duplicate token value")
		}
	}
	c := *t
	r.refresh[t.ID] = &c
	return nil
}
