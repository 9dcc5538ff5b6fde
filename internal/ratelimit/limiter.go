package ratelimit

import (
	"context"
	"time"
)

// Defaults mirror the global admission policy.
const (
	DefaultMax    = 5
	DefaultWindow = time.Minute
)

// Config holds rate limiter tuning parameters.
type Config struct {
	Max    int
	Window time.Duration
}

// Result is the outcome of one admission decision.
type Result struct {
	Allowed   bool
	Limit     int
	Current   int64
	Remaining int
	ResetAt   time.Time
}

// Limiter applies a fixed-window budget per client key.
type Limiter struct {
	store  Store
	config Config
}

// New creates a Limiter over store.
func New(store Store, cfg Config) *Limiter {
	if cfg.Max <= 0 {
		cfg.Max = DefaultMax
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	return &Limiter{store: store, config: cfg}
}

// Config returns the effective configuration.
func (l *Limiter) Config() Config {
	return l.config
}

// Admit counts one request for key, denied requests included, and reports
// whether it fits the budget. If the store fails the request is admitted
// and the error returned for logging.
func (l *Limiter) Admit(ctx context.Context, key string) (Result, error) {
	count, resetAt, err := l.store.Increment(ctx, key, l.config.Window)
	if err != nil {
		return Result{Allowed: true, Limit: l.config.Max, Remaining: l.config.Max}, err
	}

	remaining := l.config.Max - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return Result{
		Allowed:   count <= int64(l.config.Max),
		Limit:     l.config.Max,
		Current:   count,
		Remaining: remaining,
		ResetAt:   resetAt,
	}, nil
}
