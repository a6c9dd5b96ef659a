package usecase

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/FilipeAphrody/estate-auth/internal/domain"
	"github.com/FilipeAphrody/estate-auth/internal/repository"
	"github.com/FilipeAphrody/estate-auth/pkg/security"
)

var testSecret = []byte(strings.Repeat("s3cr3t-k", 8))

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type sentEmail struct {
	To, Subject, Body string
}

type recordingMailer struct {
	mu   sync.Mutex
	sent []sentEmail
}

func (m *recordingMailer) SendEmail(_ context.Context, to, subject, body string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, sentEmail{To: to, Subject: subject, Body: body})
}

func (m *recordingMailer) Sent() []sentEmail {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]sentEmail(nil), m.sent...)
}

type fixture struct {
	uc     *AuthUsecase
	users  *repository.MemoryUserRepo
	tokens *repository.MemoryTokenRepo
	signer *security.TokenSigner
	mail   *recordingMailer
	clock  *fakeClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	users := repository.NewMemoryUserRepo()
	for _, r := range repository.DefaultRoles() {
		require.NoError(t, users.UpsertRole(context.Background(), r))
	}

	f := &fixture{
		users:  users,
		tokens: repository.NewMemoryTokenRepo(),
		signer: security.NewTokenSigner(testSecret),
		mail:   &recordingMailer{},
		clock:  &fakeClock{now: time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)},
	}

	var mu sync.Mutex
	seq := 123456
	nextCode := func() (string, error) {
		mu.Lock()
		defer mu.Unlock()
		seq++
		return fmt.Sprintf("%06d", seq%1000000), nil
	}

	hasher := security.NewPasswordHasher(security.HashParams{Memory: 1024, Iterations: 1, Parallelism: 1})
	f.uc = NewAuthUsecase(users, f.tokens, f.tokens, f.signer, hasher, f.mail, DefaultConfig(),
		WithClock(f.clock.Now), WithCodeGenerator(nextCode))
	return f
}

// register creates an unverified account and returns it as stored.
func (f *fixture) register(t *testing.T, username, email, password string) *domain.User {
	t.Helper()
	u, err := f.uc.Register(context.Background(), RegisterInput{
		Username: username, Email: email, Password: password, ConfirmPassword: password,
	})
	require.NoError(t, err)
	return f.stored(t, u.ID)
}

// registerVerified creates an account and completes its verification.
func (f *fixture) registerVerified(t *testing.T, username, email, password string) *domain.User {
	t.Helper()
	u := f.register(t, username, email, password)
	ok, err := f.uc.VerifyOTP(context.Background(), username, u.OTP)
	require.NoError(t, err)
	require.True(t, ok)
	return f.stored(t, u.ID)
}

func (f *fixture) stored(t *testing.T, id string) *domain.User {
	t.Helper()
	u, err := f.users.GetByID(context.Background(), id)
	require.NoError(t, err)
	return u
}

func (f *fixture) mutate(t *testing.T, id string, fn func(u *domain.User)) {
	t.Helper()
	_, err := f.users.Mutate(context.Background(), id, func(u *domain.User) error {
		fn(u)
		return nil
	})
	require.NoError(t, err)
}

func (f *fixture) login(t *testing.T, identifier, password string) *domain.AuthResponse {
	t.Helper()
	resp, err := f.uc.Login(context.Background(), identifier, password)
	require.NoError(t, err)
	return resp
}

// wrongCode returns a six-digit code different from code.
func wrongCode(code string) string {
	if code == "000000" {
		return "111111"
	}
	return "000000"
}
