package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/auth-service/internal/auth"
	"github.com/spec-kit/auth-service/internal/domain"
	"github.com/spec-kit/auth-service/internal/events"
	"github.com/spec-kit/auth-service/internal/repository"
)

var (
	ErrUserNotFound        = errors.New("user not found")
	ErrAccountInactive     = errors.New("account is inactive")
	ErrInvalidPassword     = errors.New("incorrect password")
	ErrUserAlreadyExists   = errors.New("user already exists")
	ErrRefreshTokenMissing = errors.New("refresh token missing")
	ErrRefreshTokenInvalid = errors.New("invalid or expired refresh token")
	// ErrStoreUnavailable is matched with errors.Is on any store failure caused by connectivity or timeouts.
	ErrStoreUnavailable = repository.ErrUnavailable
)

// SessionService orchestrates credential checks and token issuance.
type SessionService struct {
	users         repository.UserRepository
	hasher        *auth.Hasher
	tokens        *auth.TokenManager
	events        events.Dispatcher
	logger        *zap.Logger
	rotateRefresh bool
}

// SessionDependencies encapsulates collaborators for the session service.
type SessionDependencies struct {
	Users  repository.UserRepository
	Hasher *auth.Hasher
	Tokens *auth.TokenManager
	Events events.Dispatcher
	Logger *zap.Logger
	// RotateRefreshToken issues a new refresh token on every refresh.
	RotateRefreshToken bool
}

// NewSessionService builds the service.
func NewSessionService(deps SessionDependencies) *SessionService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	dispatcher := deps.Events
	if dispatcher == nil {
		dispatcher = events.NewInMemoryDispatcher()
	}
	return &SessionService{
		users:         deps.Users,
		hasher:        deps.Hasher,
		tokens:        deps.Tokens,
		events:        dispatcher,
		logger:        logger,
		rotateRefresh: deps.RotateRefreshToken,
	}
}

// RegisterInput carries validated registration fields.
type RegisterInput struct {
	Name       string
	Email      string
	Password   string
	Phone      *string
	Department *string
	Role       domain.Role
}

// LoginResult is returned by a successful login.
type LoginResult struct {
	User             *domain.User
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
}

// RefreshResult is returned by a successful refresh. RefreshToken is empty
// unless rotation is enabled.
type RefreshResult struct {
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
}

// Register creates an active credential record. Uniqueness is enforced by the store.
func (s *SessionService) Register(ctx context.Context, in RegisterInput) (*domain.User, error) {
	role := in.Role
	if role == "" {
		role = domain.DefaultRole
	}
	if !role.Valid() {
		return nil, fmt.Errorf("unknown role %q", role)
	}

	hash, err := s.hasher.Hash(ctx, in.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user := &domain.User{
		Name:         in.Name,
		Email:        domain.NormalizeEmail(in.Email),
		PasswordHash: hash,
		Phone:        in.Phone,
		Department:   in.Department,
		Role:         role,
		IsActive:     true,
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicateEmail) {
			return nil, ErrUserAlreadyExists
		}
		return nil, fmt.Errorf("create user: %w", err)
	}

	s.publish(ctx, events.Event{Type: events.EventUserRegistered, UserID: user.ID, Email: user.Email})
	return user, nil
}

// Login verifies credentials and issues an access/refresh token pair.
func (s *SessionService) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	email = domain.NormalizeEmail(email)

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.publish(ctx, events.Event{Type: events.EventLoginFailed, Email: email, Reason: "user_not_found"})
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("lookup user: %w", err)
	}

	if !user.IsActive {
		s.publish(ctx, events.Event{Type: events.EventLoginFailed, UserID: user.ID, Email: email, Reason: "inactive"})
		return nil, ErrAccountInactive
	}

	ok, err := s.hasher.Compare(ctx, password, user.PasswordHash)
	if err != nil {
		return nil, fmt.Errorf("compare password: %w", err)
	}
	if !ok {
		s.publish(ctx, events.Event{Type: events.EventLoginFailed, UserID: user.ID, Email: email, Reason: "invalid_password"})
		return nil, ErrInvalidPassword
	}

	access, accessExp, err := s.tokens.IssueAccess(user)
	if err != nil {
		return nil, fmt.Errorf("issue access token: %w", err)
	}
	refresh, refreshExp, err := s.tokens.IssueRefresh(user)
	if err != nil {
		return nil, fmt.Errorf("issue refresh token: %w", err)
	}

	s.publish(ctx, events.Event{Type: events.EventLoginSucceeded, UserID: user.ID, Email: email})
	return &LoginResult{
		User:             user,
		AccessToken:      access,
		AccessExpiresAt:  accessExp,
		RefreshToken:     refresh,
		RefreshExpiresAt: refreshExp,
	}, nil
}

// Refresh exchanges a valid refresh token for a new access token. The user is
// re-read so role, email and activation reflect the store, not the old token.
func (s *SessionService) Refresh(ctx context.Context, refreshToken string) (*RefreshResult, error) {
	if refreshToken == "" {
		return nil, ErrRefreshTokenMissing
	}

	claims, err := s.tokens.VerifyKind(refreshToken, domain.TokenKindRefresh)
	if err != nil {
		s.publish(ctx, events.Event{Type: events.EventRefreshFailed, Reason: "invalid_token"})
		return nil, ErrRefreshTokenInvalid
	}

	user, err := s.users.GetByID(ctx, claims.UserID())
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.publish(ctx, events.Event{Type: events.EventRefreshFailed, UserID: claims.UserID(), Reason: "user_not_found"})
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("lookup user: %w", err)
	}
	if !user.IsActive {
		s.publish(ctx, events.Event{Type: events.EventRefreshFailed, UserID: user.ID, Reason: "inactive"})
		return nil, ErrAccountInactive
	}

	access, accessExp, err := s.tokens.IssueAccess(user)
	if err != nil {
		return nil, fmt.Errorf("issue access token: %w", err)
	}
	result := &RefreshResult{AccessToken: access, AccessExpiresAt: accessExp}

	if s.rotateRefresh {
		result.RefreshToken, result.RefreshExpiresAt, err = s.tokens.IssueRefresh(user)
		if err != nil {
			return nil, fmt.Errorf("issue refresh token: %w", err)
		}
	}

	s.publish(ctx, events.Event{Type: events.EventTokenRefreshed, UserID: user.ID})
	return result, nil
}

// Logout always succeeds; the caller clears the cookie. A verifiable token
// only serves to attribute the audit event.
func (s *SessionService) Logout(ctx context.Context, refreshToken string) error {
	event := events.Event{Type: events.EventLoggedOut}
	if refreshToken != "" {
		if claims, err := s.tokens.VerifyKind(refreshToken, domain.TokenKindRefresh); err == nil {
			event.UserID = claims.UserID()
		}
	}
	s.publish(ctx, event)
	return nil
}

// Profile loads a credential record by id.
func (s *SessionService) Profile(ctx context.Context, id string) (*domain.User, error) {
	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("lookup user: %w", err)
	}
	return user, nil
}

// Ping reports credential store reachability.
func (s *SessionService) Ping(ctx context.Context) error {
	return s.users.Ping(ctx)
}

// RefreshTTL exposes the refresh token lifetime for cookie max-age.
func (s *SessionService) RefreshTTL() time.Duration {
	return s.tokens.RefreshTTL()
}

func (s *SessionService) publish(ctx context.Context, event events.Event) {
	if err := s.events.Publish(ctx, event); err != nil {
		s.logger.Warn("publish auth event", zap.String("type", string(event.Type)), zap.Error(err))
	}
}
