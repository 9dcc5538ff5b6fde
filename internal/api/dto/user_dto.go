package dto

import (
	"net/mail"
	"regexp"
	"strings"
	"time"

	"github.com/spec-kit/auth-service/internal/auth"
	"github.com/spec-kit/auth-service/internal/domain"
	apperrors "github.com/spec-kit/auth-service/pkg/util/errorutil"
)

// MaxPasswordBytes is the bcrypt input limit; longer passwords would be silently truncated.
const MaxPasswordBytes = 72

var phonePattern = regexp.MustCompile(`^[0-9+\-\s()]{10,20}$`)

// RegisterRequest payload for new users.
type RegisterRequest struct {
	Name       string  `json:"name"`
	Email      string  `json:"email"`
	Password   string  `json:"password"`
	Phone      *string `json:"phone"`
	Department *string `json:"department"`
	Role       string  `json:"role"`
}

// Validate reports every field problem at once.
func (r *RegisterRequest) Validate() []apperrors.FieldError {
	var errs []apperrors.FieldError
	add := func(field, msg string) {
		errs = append(errs, apperrors.FieldError{Field: field, Message: msg})
	}

	switch n := len([]rune(r.Name)); {
	case n == 0:
		add("name", "Name is required.")
	case n < 3:
		add("name", "Name must be atleast 3 characters")
	case n > 100:
		add("name", "Name cannot exceed 100 characters")
	}

	if msg := checkEmail(r.Email, "Please provide a valid email"); msg != "" {
		add("email", msg)
	}

	switch {
	case r.Password == "":
		add("password", "Password is required")
	case len([]rune(r.Password)) < 6:
		add("password", "Password must be atleast 6 characters")
	case len(r.Password) > MaxPasswordBytes:
		add("password", "Password must not exceed 72 bytes")
	}

	if phone := deref(r.Phone); phone != "" && !phonePattern.MatchString(phone) {
		add("phone", "Please provide a valid phone number")
	}
	if len([]rune(deref(r.Department))) > 100 {
		add("department", "Department cannot exceed 100 characters")
	}
	if r.Role != "" && !domain.Role(r.Role).Valid() {
		add("role", "role must be one of [admin, staff, manager]")
	}
	return errs
}

// Normalize drops empty optional fields and applies the default role.
func (r *RegisterRequest) Normalize() {
	if deref(r.Phone) == "" {
		r.Phone = nil
	}
	if deref(r.Department) == "" {
		r.Department = nil
	}
	if r.Role == "" {
		r.Role = string(domain.DefaultRole)
	}
}

// LoginRequest payload for login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Validate checks presence and email format.
func (r *LoginRequest) Validate() []apperrors.FieldError {
	var errs []apperrors.FieldError
	if msg := checkEmail(r.Email, "Please provide a valid email address"); msg != "" {
		errs = append(errs, apperrors.FieldError{Field: "email", Message: msg})
	}
	if r.Password == "" {
		errs = append(errs, apperrors.FieldError{Field: "password", Message: "Password is required"})
	}
	return errs
}

// UserResponse is the public projection of a user. It never carries the hash.
type UserResponse struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Email      string    `json:"email"`
	Role       string    `json:"role"`
	Phone      *string   `json:"phone"`
	Department *string   `json:"department"`
	IsActive   bool      `json:"isActive"`
	CreatedAt  time.Time `json:"createdAt,omitempty"`
}

// NewUserResponse maps a domain user.
func NewUserResponse(u *domain.User) UserResponse {
	return UserResponse{
		ID:         u.ID,
		Name:       u.Name,
		Email:      u.Email,
		Role:       string(u.Role),
		Phone:      u.Phone,
		Department: u.Department,
		IsActive:   u.IsActive,
		CreatedAt:  u.CreatedAt,
	}
}

// ClaimsResponse is the identity attached by the auth gate.
type ClaimsResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// NewClaimsResponse maps decoded access claims.
func NewClaimsResponse(c *auth.Claims) ClaimsResponse {
	resp := ClaimsResponse{
		ID:    c.UserID(),
		Name:  c.Name,
		Email: c.Email,
		Role:  string(c.Role),
	}
	if c.ExpiresAt != nil {
		resp.ExpiresAt = c.ExpiresAt.Time
	}
	return resp
}

// LoginData is the data payload of a successful login.
type LoginData struct {
	User        UserResponse `json:"user"`
	AccessToken string       `json:"accessToken"`
}

// RefreshData is the data payload of a successful refresh.
type RefreshData struct {
	AccessToken string `json:"accessToken"`
}

func checkEmail(email, invalidMsg string) string {
	if strings.TrimSpace(email) == "" {
		return "Email is required"
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != strings.TrimSpace(email) || !strings.Contains(addr.Address[strings.LastIndex(addr.Address, "@")+1:], ".") {
		return invalidMsg
	}
	return ""
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
