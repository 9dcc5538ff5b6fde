package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/spec-kit/auth-service/internal/auth"
	"github.com/spec-kit/auth-service/internal/domain"
	"github.com/spec-kit/auth-service/internal/events"
	"github.com/spec-kit/auth-service/internal/repository"
)

type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recorder) handle(_ context.Context, e events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recorder) last() events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events[len(r.events)-1]
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

type fixture struct {
	svc    *SessionService
	repo   *repository.MemoryUserRepository
	tokens *auth.TokenManager
	clock  *clock
	events *recorder
}

func newFixture(t *testing.T, rotate bool) *fixture {
	t.Helper()
	c := &clock{t: time.Now()}
	tokens, err := auth.NewTokenManager("service-secret", 15*time.Minute, 7*24*time.Hour, auth.WithClock(c.now))
	require.NoError(t, err)

	rec := &recorder{}
	dispatcher := events.NewInMemoryDispatcher()
	for _, et := range events.AllTypes {
		dispatcher.Subscribe(et, rec.handle)
	}

	repo := repository.NewMemoryUserRepository()
	svc := NewSessionService(SessionDependencies{
		Users:              repo,
		Hasher:             auth.NewHasher(bcrypt.MinCost, 2),
		Tokens:             tokens,
		Events:             dispatcher,
		RotateRefreshToken: rotate,
	})
	return &fixture{svc: svc, repo: repo, tokens: tokens, clock: c, events: rec}
}

func (f *fixture) register(t *testing.T, email string, role domain.Role) *domain.User {
	t.Helper()
	u, err := f.svc.Register(context.Background(), RegisterInput{
		Name:     "Ann",
		Email:    email,
		Password: "secret1",
		Role:     role,
	})
	require.NoError(t, err)
	return u
}

func TestRegisterStoresHashAndDefaults(t *testing.T) {
	f := newFixture(t, false)
	u := f.register(t, "  Ann@X.com ", "")

	require.Equal(t, "ann@x.com", u.Email)
	require.Equal(t, domain.RoleStaff, u.Role)
	require.True(t, u.IsActive)
	require.NotEmpty(t, u.ID)
	require.NotEqual(t, "secret1", u.PasswordHash)
	require.NoError(t, bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte("secret1")))
	require.Equal(t, events.EventUserRegistered, f.events.last().Type)
}

func TestRegisterDuplicateEmail(t *testing.T) {
	f := newFixture(t, false)
	f.register(t, "ann@x.com", domain.RoleStaff)

	_, err := f.svc.Register(context.Background(), RegisterInput{Name: "B", Email: "ANN@x.com", Password: "secret2"})
	require.ErrorIs(t, err, ErrUserAlreadyExists)
}

func TestRegisterConcurrentSameEmail(t *testing.T) {
	f := newFixture(t, false)

	var wg sync.WaitGroup
	results := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Register(context.Background(), RegisterInput{Name: "Ann", Email: "race@x.com", Password: "secret1"})
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	created := 0
	for err := range results {
		if err == nil {
			created++
			continue
		}
		require.ErrorIs(t, err, ErrUserAlreadyExists)
	}
	require.Equal(t, 1, created)
}

func TestLoginSuccess(t *testing.T) {
	f := newFixture(t, false)
	u := f.register(t, "ann@x.com", domain.RoleManager)

	res, err := f.svc.Login(context.Background(), "ANN@x.com", "secret1")
	require.NoError(t, err)
	require.Equal(t, u.ID, res.User.ID)
	require.WithinDuration(t, f.clock.t.Add(15*time.Minute), res.AccessExpiresAt, time.Second)
	require.WithinDuration(t, f.clock.t.Add(7*24*time.Hour), res.RefreshExpiresAt, time.Second)

	access, err := f.tokens.VerifyKind(res.AccessToken, domain.TokenKindAccess)
	require.NoError(t, err)
	require.Equal(t, u.ID, access.UserID())
	require.Equal(t, domain.RoleManager, access.Role)
	require.Equal(t, "ann@x.com", access.Email)

	refresh, err := f.tokens.VerifyKind(res.RefreshToken, domain.TokenKindRefresh)
	require.NoError(t, err)
	require.Equal(t, u.ID, refresh.UserID())
	require.Equal(t, events.EventLoginSucceeded, f.events.last().Type)
}

func TestLoginFailures(t *testing.T) {
	f := newFixture(t, false)
	u := f.register(t, "ann@x.com", domain.RoleStaff)
	ctx := context.Background()

	_, err := f.svc.Login(ctx, "nobody@x.com", "secret1")
	require.ErrorIs(t, err, ErrUserNotFound)
	require.Equal(t, "user_not_found", f.events.last().Reason)

	_, err = f.svc.Login(ctx, "ann@x.com", "wrong-pass")
	require.ErrorIs(t, err, ErrInvalidPassword)
	require.Equal(t, "invalid_password", f.events.last().Reason)

	u.IsActive = false
	require.NoError(t, f.repo.Update(ctx, u))
	_, err = f.svc.Login(ctx, "ann@x.com", "secret1")
	require.ErrorIs(t, err, ErrAccountInactive)
	require.Equal(t, events.EventLoginFailed, f.events.last().Type)
}

func TestLoginCorruptHashIsInvalidPassword(t *testing.T) {
	f := newFixture(t, false)
	u := f.register(t, "ann@x.com", domain.RoleStaff)
	u.PasswordHash = "not-a-bcrypt-hash"
	require.NoError(t, f.repo.Update(context.Background(), u))

	_, err := f.svc.Login(context.Background(), "ann@x.com", "secret1")
	require.ErrorIs(t, err, ErrInvalidPassword)
}

func TestRefreshReflectsCurrentRecord(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	u := f.register(t, "ann@x.com", domain.RoleStaff)

	login, err := f.svc.Login(ctx, "ann@x.com", "secret1")
	require.NoError(t, err)

	u.Role = domain.RoleAdmin
	require.NoError(t, f.repo.Update(ctx, u))

	f.clock.t = f.clock.t.Add(time.Hour)
	res, err := f.svc.Refresh(ctx, login.RefreshToken)
	require.NoError(t, err)
	require.Empty(t, res.RefreshToken)

	claims, err := f.tokens.VerifyKind(res.AccessToken, domain.TokenKindAccess)
	require.NoError(t, err)
	require.Equal(t, domain.RoleAdmin, claims.Role)
	require.Equal(t, events.EventTokenRefreshed, f.events.last().Type)
}

func TestRefreshRotatesWhenEnabled(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	f.register(t, "ann@x.com", domain.RoleStaff)

	login, err := f.svc.Login(ctx, "ann@x.com", "secret1")
	require.NoError(t, err)

	res, err := f.svc.Refresh(ctx, login.RefreshToken)
	require.NoError(t, err)
	require.NotEmpty(t, res.RefreshToken)
	require.NotEqual(t, login.RefreshToken, res.RefreshToken)
	_, err = f.tokens.VerifyKind(res.RefreshToken, domain.TokenKindRefresh)
	require.NoError(t, err)
}

func TestRefreshFailures(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	u := f.register(t, "ann@x.com", domain.RoleStaff)

	_, err := f.svc.Refresh(ctx, "")
	require.ErrorIs(t, err, ErrRefreshTokenMissing)

	_, err = f.svc.Refresh(ctx, "garbage")
	require.ErrorIs(t, err, ErrRefreshTokenInvalid)

	login, err := f.svc.Login(ctx, "ann@x.com", "secret1")
	require.NoError(t, err)

	_, err = f.svc.Refresh(ctx, login.AccessToken)
	require.ErrorIs(t, err, ErrRefreshTokenInvalid, "access token must not refresh")

	ghost, _, err := f.tokens.IssueRefresh(&domain.User{ID: "missing"})
	require.NoError(t, err)
	_, err = f.svc.Refresh(ctx, ghost)
	require.ErrorIs(t, err, ErrUserNotFound)

	u.IsActive = false
	require.NoError(t, f.repo.Update(ctx, u))
	_, err = f.svc.Refresh(ctx, login.RefreshToken)
	require.ErrorIs(t, err, ErrAccountInactive)

	f.clock.t = f.clock.t.Add(8 * 24 * time.Hour)
	_, err = f.svc.Refresh(ctx, login.RefreshToken)
	require.ErrorIs(t, err, ErrRefreshTokenInvalid)
	require.Equal(t, events.EventRefreshFailed, f.events.last().Type)
}

func TestLogoutAlwaysSucceeds(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	u := f.register(t, "ann@x.com", domain.RoleStaff)

	require.NoError(t, f.svc.Logout(ctx, ""))
	require.Empty(t, f.events.last().UserID)
	require.NoError(t, f.svc.Logout(ctx, "junk"))

	login, err := f.svc.Login(ctx, "ann@x.com", "secret1")
	require.NoError(t, err)
	require.NoError(t, f.svc.Logout(ctx, login.RefreshToken))
	require.Equal(t, events.EventLoggedOut, f.events.last().Type)
	require.Equal(t, u.ID, f.events.last().UserID)
}

func TestProfile(t *testing.T) {
	f := newFixture(t, false)
	u := f.register(t, "ann@x.com", domain.RoleStaff)

	got, err := f.svc.Profile(context.Background(), u.ID)
	require.NoError(t, err)
	require.Equal(t, u.Email, got.Email)

	_, err = f.svc.Profile(context.Background(), "missing")
	require.ErrorIs(t, err, ErrUserNotFound)
}

type downRepo struct{ repository.UserRepository }

func (downRepo) GetByEmail(context.Context, string) (*domain.User, error) {
	return nil, repository.ErrUnavailable
}

func (downRepo) Create(context.Context, *domain.User) error {
	return repository.ErrUnavailable
}

func TestStoreUnavailablePropagates(t *testing.T) {
	tokens, err := auth.NewTokenManager("s", time.Minute, time.Hour)
	require.NoError(t, err)
	svc := NewSessionService(SessionDependencies{
		Users:  downRepo{},
		Hasher: auth.NewHasher(bcrypt.MinCost, 1),
		Tokens: tokens,
	})

	_, err = svc.Login(context.Background(), "ann@x.com", "secret1")
	require.True(t, errors.Is(err, ErrStoreUnavailable))

	_, err = svc.Register(context.Background(), RegisterInput{Name: "A", Email: "a@x.com", Password: "secret1"})
	require.ErrorIs(t, err, ErrStoreUnavailable)
}
