package ratelimit

import (
	"math"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const resultKey = "rate_limit"

// Rejection payload fields.
const (
	RejectError   = "rate_limit_exceeded"
	RejectMessage = "Too many requests. Try again in a minute."
	RejectCode    = "RATE_LIMIT"
)

// MiddlewareConfig configures the admission middleware.
type MiddlewareConfig struct {
	Limiter *Limiter
	// TrustProxy makes the first X-Forwarded-For entry the client key.
	TrustProxy bool
	Logger     *zap.Logger
	// OnDecision is called after every decision with a usable result.
	OnDecision func(c *fiber.Ctx, key string, res Result)
}

// NewMiddleware returns a fiber handler that admits or rejects requests.
func NewMiddleware(cfg MiddlewareConfig) fiber.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	policy := strconv.Itoa(cfg.Limiter.config.Max) + ";w=" +
		strconv.Itoa(int(cfg.Limiter.config.Window/time.Second))
	denyLog := &rate.Sometimes{First: 3, Interval: 10 * time.Second}
	faultLog := &rate.Sometimes{First: 1, Interval: 30 * time.Second}

	return func(c *fiber.Ctx) error {
		key := ClientKey(c, cfg.TrustProxy)

		res, err := cfg.Limiter.Admit(c.UserContext(), key)
		if err != nil {
			faultLog.Do(func() {
				logger.Warn("rate limit store failed; admitting request", zap.String("key", key), zap.Error(err))
			})
			return c.Next()
		}

		c.Locals(resultKey, res)
		setHeaders(c, policy, res)
		if cfg.OnDecision != nil {
			cfg.OnDecision(c, key, res)
		}

		if !res.Allowed {
			denyLog.Do(func() {
				logger.Warn("rate limit exceeded",
					zap.String("key", key),
					zap.Int64("current", res.Current),
					zap.Int("limit", res.Limit),
					zap.String("path", c.Path()))
			})
			c.Set(fiber.HeaderRetryAfter, strconv.Itoa(secondsUntil(res.ResetAt)))
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error":   RejectError,
				"message": RejectMessage,
				"code":    RejectCode,
			})
		}
		return c.Next()
	}
}

// ResultFromContext returns the decision recorded for the current request.
func ResultFromContext(c *fiber.Ctx) (Result, bool) {
	res, ok := c.Locals(resultKey).(Result)
	return res, ok
}

// ClientKey derives the limiter key: the transport peer unless proxies are trusted.
func ClientKey(c *fiber.Ctx, trustProxy bool) string {
	if trustProxy {
		// IPs aliases the request buffer, which fasthttp reuses.
		if ips := c.IPs(); len(ips) > 0 && ips[0] != "" {
			return utils.CopyString(ips[0])
		}
	}
	return c.Context().RemoteIP().String()
}

func setHeaders(c *fiber.Ctx, policy string, res Result) {
	c.Set("RateLimit-Policy", policy)
	c.Set("RateLimit-Limit", strconv.Itoa(res.Limit))
	c.Set("RateLimit-Remaining", strconv.Itoa(res.Remaining))
	c.Set("RateLimit-Reset", strconv.Itoa(secondsUntil(res.ResetAt)))
}

func secondsUntil(t time.Time) int {
	secs := int(math.Ceil(time.Until(t).Seconds()))
	if secs < 0 {
		return 0
	}
	return secs
}
