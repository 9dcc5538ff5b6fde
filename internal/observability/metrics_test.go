package observability

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestMetricsCounters(t *testing.T) {
	m := NewMetrics()

	m.RecordRateLimit(true)
	m.RecordRateLimit(false)
	m.RecordRateLimit(false)
	m.RecordAuthEvent("login_failed")
	m.RecordRequest("/health", "GET", 200, 10*time.Millisecond)

	require.Equal(t, 1.0, testutil.ToFloat64(m.rateLimit.WithLabelValues("allowed")))
	require.Equal(t, 2.0, testutil.ToFloat64(m.rateLimit.WithLabelValues("denied")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.authEvents.WithLabelValues("login_failed")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.requestCount.WithLabelValues("GET", "/health", "200")))
}

func TestNilMetricsAreNoops(t *testing.T) {
	var m *Metrics
	m.RecordRateLimit(true)
	m.RecordAuthEvent("x")
	m.RecordError("/", "GET", "X")
	m.RecordRequest("/", "GET", 200, time.Second)
}

func TestRequestLoggerAndMetricsEndpoint(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	m := NewMetrics()

	app := fiber.New()
	app.Use(RequestLogger(zap.New(core), m))
	app.Get("/metrics", m.Handler())
	app.Get("/ping", func(c *fiber.Ctx) error { return c.SendString("pong") })

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/ping", nil))
	require.NoError(t, err)
	resp.Body.Close()

	require.Equal(t, 1, logs.FilterMessage("request").Len())
	entry := logs.All()[0].ContextMap()
	require.Equal(t, "/ping", entry["path"])
	require.EqualValues(t, 200, entry["status"])

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Contains(t, string(body), `http_requests_total{method="GET",path="/ping",status="200"} 1`)
}
