package auth

import (
	"context"
	"errors"
	"runtime"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/semaphore"
)

// DefaultBcryptCost is the work factor used when none is configured.
const DefaultBcryptCost = 10

// Hasher hashes and compares passwords with bcrypt. At most `workers`
// hash operations run at once; further callers wait or give up with their context.
type Hasher struct {
	cost  int
	slots *semaphore.Weighted
}

// NewHasher builds a hasher. Non-positive values fall back to defaults.
func NewHasher(cost, workers int) *Hasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = DefaultBcryptCost
	}
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &Hasher{cost: cost, slots: semaphore.NewWeighted(int64(workers))}
}

// Hash returns a salted bcrypt hash of password.
func (h *Hasher) Hash(ctx context.Context, password string) (string, error) {
	if password == "" {
		return "", errors.New("password is empty")
	}
	if err := h.slots.Acquire(ctx, 1); err != nil {
		return "", err
	}
	defer h.slots.Release(1)

	hashed, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

// Compare reports whether password matches hashed. A malformed hash is a mismatch;
// an error is returned only when no worker slot could be acquired.
func (h *Hasher) Compare(ctx context.Context, password, hashed string) (bool, error) {
	if hashed == "" {
		return false, nil
	}
	if err := h.slots.Acquire(ctx, 1); err != nil {
		return false, err
	}
	defer h.slots.Release(1)

	return bcrypt.CompareHashAndPassword([]byte(hashed), []byte(password)) == nil, nil
}
