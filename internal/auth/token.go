package auth

import (
	"errors"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/spec-kit/auth-service/internal/domain"
)

var (
	// ErrSecretMissing is returned when the manager is built without a signing secret.
	ErrSecretMissing = errors.New("token signing secret is not configured")
	// ErrTokenInvalid covers every verification failure: malformed, bad signature, expired, wrong kind.
	ErrTokenInvalid = errors.New("invalid or expired token")
)

// TokenManager handles issuing and validating HS256 JWT tokens.
type TokenManager struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// TokenOption customizes a TokenManager.
type TokenOption func(*TokenManager)

// WithClock overrides the time source used for issuing and validating tokens.
func WithClock(now func() time.Time) TokenOption {
	return func(tm *TokenManager) { tm.now = now }
}

// NewTokenManager builds a new manager.
func NewTokenManager(secret string, accessTTL, refreshTTL time.Duration, opts ...TokenOption) (*TokenManager, error) {
	if secret == "" {
		return nil, ErrSecretMissing
	}
	if accessTTL <= 0 {
		accessTTL = 15 * time.Minute
	}
	if refreshTTL <= 0 {
		refreshTTL = 7 * 24 * time.Hour
	}
	tm := &TokenManager{secret: []byte(secret), accessTTL: accessTTL, refreshTTL: refreshTTL, now: time.Now}
	for _, opt := range opts {
		opt(tm)
	}
	return tm, nil
}

// Claims describes the JWT payload. Refresh tokens carry only the subject.
type Claims struct {
	Name  string           `json:"name,omitempty"`
	Email string           `json:"email,omitempty"`
	Role  domain.Role      `json:"role,omitempty"`
	Kind  domain.TokenKind `json:"typ"`
	jwt.RegisteredClaims
}

// UserID returns the subject of the token.
func (c *Claims) UserID() string {
	return c.Subject
}

// AccessTTL returns the access token lifetime.
func (tm *TokenManager) AccessTTL() time.Duration { return tm.accessTTL }

// RefreshTTL returns the refresh token lifetime.
func (tm *TokenManager) RefreshTTL() time.Duration { return tm.refreshTTL }

// IssueAccess signs a short-lived token carrying the user's current profile.
func (tm *TokenManager) IssueAccess(user *domain.User) (string, time.Time, error) {
	return tm.Issue(Claims{
		Name:             user.Name,
		Email:            user.Email,
		Role:             user.Role,
		Kind:             domain.TokenKindAccess,
		RegisteredClaims: jwt.RegisteredClaims{Subject: user.ID},
	}, tm.accessTTL)
}

// IssueRefresh signs a long-lived token carrying only the user id.
func (tm *TokenManager) IssueRefresh(user *domain.User) (string, time.Time, error) {
	return tm.Issue(Claims{
		Kind:             domain.TokenKindRefresh,
		RegisteredClaims: jwt.RegisteredClaims{Subject: user.ID},
	}, tm.refreshTTL)
}

// Issue stamps claims with iat, exp and a fresh jti, then signs them.
func (tm *TokenManager) Issue(claims Claims, ttl time.Duration) (string, time.Time, error) {
	now := tm.now()
	expiresAt := now.Add(ttl)
	claims.ID = uuid.NewString()
	claims.IssuedAt = jwt.NewNumericDate(now)
	claims.ExpiresAt = jwt.NewNumericDate(expiresAt)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, &claims)
	tokenString, err := token.SignedString(tm.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return tokenString, expiresAt, nil
}

// Verify validates signature and expiry. Every failure yields ErrTokenInvalid.
func (tm *TokenManager) Verify(tokenStr string) (*Claims, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(tm.now),
	)
	parsed, err := parser.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return tm.secret, nil
	})
	if err != nil {
		return nil, ErrTokenInvalid
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.Subject == "" {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}

// VerifyKind is Verify plus a check that the token was issued as kind.
func (tm *TokenManager) VerifyKind(tokenStr string, kind domain.TokenKind) (*Claims, error) {
	claims, err := tm.Verify(tokenStr)
	if err != nil {
		return nil, err
	}
	if claims.Kind != kind {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}
