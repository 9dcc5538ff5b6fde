package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/spec-kit/auth-service/internal/ratelimit"
)

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler responds to liveness and readiness probes.
type HealthHandler struct {
	serviceName string
	version     string
	store       Pinger
	counters    Pinger
	timeout     time.Duration
	logger      *zap.Logger
}

// NewHealthHandler returns a new handler instance.
func NewHealthHandler(serviceName, version string, store Pinger, logger *zap.Logger) *HealthHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HealthHandler{serviceName: serviceName, version: version, store: store, timeout: 2 * time.Second, logger: logger}
}

// WithRateLimitStore adds the shared rate-limit counter backend to /health.
// Its outage is reported but keeps the status ok, since the limiter fails open.
func (h *HealthHandler) WithRateLimitStore(counters Pinger) *HealthHandler {
	h.counters = counters
	return h
}

// Live reports process liveness without touching dependencies.
func (h *HealthHandler) Live(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":  "alive",
		"service": h.serviceName,
		"version": h.version,
	})
}

// Health probes the credential store and echoes the caller's rate-limit budget.
func (h *HealthHandler) Health(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), h.timeout)
	defer cancel()

	now := time.Now().UTC().Format(time.RFC3339Nano)
	if err := h.store.Ping(ctx); err != nil {
		h.logger.Warn("health check failed", zap.Error(err))
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"status":    "error",
			"message":   "Database connection failed",
			"timestamp": now,
		})
	}

	rateLimit := fiber.Map{"limit": "unknown", "current": "unknown", "remaining": "unknown"}
	if res, ok := ratelimit.ResultFromContext(c); ok {
		rateLimit = fiber.Map{"limit": res.Limit, "current": res.Current, "remaining": res.Remaining}
	}

	body := fiber.Map{
		"status":    "ok",
		"message":   "Server is running",
		"timestamp": now,
		"rateLimit": rateLimit,
	}
	if h.counters != nil {
		body["rateLimitStore"] = "ok"
		if err := h.counters.Ping(ctx); err != nil {
			h.logger.Warn("rate limit store unreachable", zap.Error(err))
			body["rateLimitStore"] = "unavailable"
		}
	}
	return c.JSON(body)
}
