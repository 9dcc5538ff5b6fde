package auth

import (
	"context"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/spec-kit/auth-service/internal/domain"
	apperrors "github.com/spec-kit/auth-service/pkg/util/errorutil"
)

const claimsKey = "auth_claims"

type claimsContextKey struct{}

// Gate messages are fixed so clients cannot tell why a token was refused.
const (
	MsgAuthRequired = "Authentication required"
	MsgInvalidToken = "Invalid or expired token"
	MsgAuthFailed   = "Authentication failed"
)

// TokenVerifier is the part of the token service the gate depends on.
type TokenVerifier interface {
	VerifyKind(token string, kind domain.TokenKind) (*Claims, error)
}

// AuthMiddleware validates bearer tokens on protected routes.
type AuthMiddleware struct {
	tokens TokenVerifier
	logger *zap.Logger
}

// NewAuthMiddleware constructs middleware.
func NewAuthMiddleware(tokens TokenVerifier, logger *zap.Logger) *AuthMiddleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthMiddleware{tokens: tokens, logger: logger}
}

// Handle enforces authentication for protected routes. It never answers with a 5xx:
// an internal fault while authenticating is reported as 401.
func (m *AuthMiddleware) Handle(c *fiber.Ctx) error {
	claims, err := m.authenticate(c)
	if err != nil {
		return err
	}

	c.Locals(claimsKey, claims)
	c.SetUserContext(context.WithValue(c.UserContext(), claimsContextKey{}, claims))
	return c.Next()
}

func (m *AuthMiddleware) authenticate(c *fiber.Ctx) (claims *Claims, err error) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("auth gate fault", zap.String("path", c.Path()), zap.Any("panic", r))
			claims, err = nil, apperrors.NewUnauthorized(MsgAuthFailed)
		}
	}()

	token, ok := bearerToken(c.Get(fiber.HeaderAuthorization))
	if !ok {
		return nil, apperrors.NewUnauthorized(MsgAuthRequired)
	}

	claims, err = m.tokens.VerifyKind(token, domain.TokenKindAccess)
	if err != nil {
		m.logger.Debug("bearer token rejected", zap.String("path", c.Path()), zap.Error(err))
		return nil, apperrors.NewTokenInvalid(MsgInvalidToken)
	}
	if claims == nil {
		return nil, apperrors.NewUnauthorized(MsgAuthFailed)
	}
	return claims, nil
}

func bearerToken(value string) (string, bool) {
	scheme, token, found := strings.Cut(value, " ")
	if !found || scheme != "Bearer" {
		return "", false
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", false
	}
	return token, true
}

// ClaimsFromContext retrieves the verified access token claims.
func ClaimsFromContext(c *fiber.Ctx) (*Claims, bool) {
	val := c.Locals(claimsKey)
	if val == nil {
		return nil, false
	}
	claims, ok := val.(*Claims)
	return claims, ok
}

// ClaimsFromUserContext retrieves the claims from a context derived from the request.
func ClaimsFromUserContext(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(claimsContextKey{}).(*Claims)
	return claims, ok
}
