package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/auth-service/internal/api/dto"
	"github.com/spec-kit/auth-service/internal/auth"
	"github.com/spec-kit/auth-service/internal/domain"
	"github.com/spec-kit/auth-service/internal/service"
	apperrors "github.com/spec-kit/auth-service/pkg/util/errorutil"
)

// RefreshCookieName carries the refresh token between login and refresh.
const RefreshCookieName = "refreshToken"

// AuthHandler exposes the session endpoints.
type AuthHandler struct {
	sessions     *service.SessionService
	cookieSecure bool
}

// NewAuthHandler constructs handler. cookieSecure marks the refresh cookie Secure.
func NewAuthHandler(sessions *service.SessionService, cookieSecure bool) *AuthHandler {
	return &AuthHandler{sessions: sessions, cookieSecure: cookieSecure}
}

// Register handles POST /api/v1/auth/register.
func (h *AuthHandler) Register(c *fiber.Ctx) error {
	var req dto.RegisterRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("Validation failed", []apperrors.FieldError{{Field: "body", Message: "invalid payload"}})
	}
	if errs := req.Validate(); len(errs) > 0 {
		return apperrors.NewValidationError("Validation failed", errs)
	}
	req.Normalize()

	user, err := h.sessions.Register(c.UserContext(), service.RegisterInput{
		Name:       req.Name,
		Email:      req.Email,
		Password:   req.Password,
		Phone:      req.Phone,
		Department: req.Department,
		Role:       domain.Role(req.Role),
	})
	if err != nil {
		switch {
		case errors.Is(err, service.ErrUserAlreadyExists):
			return apperrors.NewDuplicate("User already exists")
		case errors.Is(err, service.ErrStoreUnavailable):
			return apperrors.NewStoreUnavailable(err)
		default:
			return apperrors.NewInternalError("Registration failed", err)
		}
	}

	return c.Status(http.StatusCreated).JSON(fiber.Map{
		"success": true,
		"message": "User registered successfully",
		"data":    fiber.Map{"user": dto.NewUserResponse(user)},
	})
}

// Login handles POST /api/v1/auth/login.
func (h *AuthHandler) Login(c *fiber.Ctx) error {
	var req dto.LoginRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("Validation failed", []apperrors.FieldError{{Field: "body", Message: "invalid payload"}})
	}
	if errs := req.Validate(); len(errs) > 0 {
		return apperrors.NewValidationError("Validation failed", errs)
	}

	result, err := h.sessions.Login(c.UserContext(), req.Email, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrUserNotFound):
			return apperrors.NewNotFound("User not found", http.StatusBadRequest)
		case errors.Is(err, service.ErrAccountInactive):
			return apperrors.NewAccountInactive()
		case errors.Is(err, service.ErrInvalidPassword):
			return apperrors.NewInvalidCredentials("Incorrect password")
		case errors.Is(err, service.ErrStoreUnavailable):
			return apperrors.NewStoreUnavailable(err)
		default:
			return apperrors.NewInternalError("Login failed", err)
		}
	}

	h.setRefreshCookie(c, result.RefreshToken, result.RefreshExpiresAt)
	return c.JSON(fiber.Map{
		"success": true,
		"message": "Login successful",
		"data": dto.LoginData{
			User:        dto.NewUserResponse(result.User),
			AccessToken: result.AccessToken,
		},
	})
}

// Refresh handles POST /api/v1/auth/refresh-token.
func (h *AuthHandler) Refresh(c *fiber.Ctx) error {
	result, err := h.sessions.Refresh(c.UserContext(), c.Cookies(RefreshCookieName))
	if err != nil {
		switch {
		case errors.Is(err, service.ErrRefreshTokenMissing):
			return apperrors.NewUnauthorized("Refresh token missing")
		case errors.Is(err, service.ErrRefreshTokenInvalid):
			return apperrors.NewTokenInvalid("Invalid or expired refresh token")
		case errors.Is(err, service.ErrUserNotFound):
			return apperrors.NewNotFound("User not found", http.StatusNotFound)
		case errors.Is(err, service.ErrAccountInactive):
			return apperrors.NewAccountInactive()
		case errors.Is(err, service.ErrStoreUnavailable):
			return apperrors.NewStoreUnavailable(err)
		default:
			return apperrors.NewInternalError("Failed to refresh token", err)
		}
	}

	if result.RefreshToken != "" {
		h.setRefreshCookie(c, result.RefreshToken, result.RefreshExpiresAt)
	}
	return c.JSON(fiber.Map{
		"success": true,
		"message": "Access token refreshed",
		"data":    dto.RefreshData{AccessToken: result.AccessToken},
	})
}

// Logout handles POST /api/v1/auth/logout. It always succeeds.
func (h *AuthHandler) Logout(c *fiber.Ctx) error {
	_ = h.sessions.Logout(c.UserContext(), c.Cookies(RefreshCookieName))
	h.clearRefreshCookie(c)
	return c.JSON(fiber.Map{
		"success": true,
		"message": "Logged out successfully",
	})
}

// Me handles GET /api/v1/auth/me.
func (h *AuthHandler) Me(c *fiber.Ctx) error {
	claims, ok := auth.ClaimsFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized(auth.MsgAuthRequired)
	}
	return c.JSON(fiber.Map{
		"success": true,
		"data":    fiber.Map{"user": dto.NewClaimsResponse(claims)},
	})
}

// UserProfile handles GET /api/v1/auth/users/:id.
func (h *AuthHandler) UserProfile(c *fiber.Ctx) error {
	user, err := h.sessions.Profile(c.UserContext(), c.Params("id"))
	if err != nil {
		switch {
		case errors.Is(err, service.ErrUserNotFound):
			return apperrors.NewNotFound("User not found", http.StatusNotFound)
		case errors.Is(err, service.ErrStoreUnavailable):
			return apperrors.NewStoreUnavailable(err)
		default:
			return apperrors.NewInternalError("Failed to load user", err)
		}
	}
	return c.JSON(fiber.Map{
		"success": true,
		"data":    fiber.Map{"user": dto.NewUserResponse(user)},
	})
}

func (h *AuthHandler) setRefreshCookie(c *fiber.Ctx, token string, expiresAt time.Time) {
	c.Cookie(&fiber.Cookie{
		Name:     RefreshCookieName,
		Value:    token,
		Path:     "/",
		Expires:  expiresAt,
		MaxAge:   int(time.Until(expiresAt).Seconds()),
		Secure:   h.cookieSecure,
		HTTPOnly: true,
		SameSite: fiber.CookieSameSiteStrictMode,
	})
}

func (h *AuthHandler) clearRefreshCookie(c *fiber.Ctx) {
	c.Cookie(&fiber.Cookie{
		Name:     RefreshCookieName,
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0),
		Secure:   h.cookieSecure,
		HTTPOnly: true,
		SameSite: fiber.CookieSameSiteStrictMode,
	})
}
