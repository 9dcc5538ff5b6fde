package service

import (
	"context"
	"errors"
	"fmt"
	"os"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/spec-kit/auth-service/internal/domain"
)

type seedFile struct {
	Users []struct {
		Name       string      `yaml:"name"`
		Email      string      `yaml:"email"`
		Password   string      `yaml:"password"`
		Role       domain.Role `yaml:"role"`
		Phone      string      `yaml:"phone"`
		Department string      `yaml:"department"`
	} `yaml:"users"`
}

// SeedUsers registers the accounts listed in a YAML file. Existing emails are
// skipped, so the seed can run on every start.
func (s *SessionService) SeedUsers(ctx context.Context, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	var sf seedFile
	if err := yaml.Unmarshal(data, &sf); err != nil {
		return 0, fmt.Errorf("parse seed file: %w", err)
	}

	created := 0
	for i, u := range sf.Users {
		if u.Email == "" || u.Password == "" {
			s.logger.Warn("skipping incomplete seed user", zap.Int("index", i))
			continue
		}
		name := u.Name
		if name == "" {
			name = u.Email
		}
		_, err := s.Register(ctx, RegisterInput{
			Name:       name,
			Email:      u.Email,
			Password:   u.Password,
			Phone:      optional(u.Phone),
			Department: optional(u.Department),
			Role:       u.Role,
		})
		switch {
		case err == nil:
			created++
		case errors.Is(err, ErrUserAlreadyExists):
			continue
		default:
			return created, fmt.Errorf("seed %s: %w", u.Email, err)
		}
	}
	return created, nil
}

func optional(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
