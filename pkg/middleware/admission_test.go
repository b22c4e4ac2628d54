package middleware_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/passhub/gatekeeper/pkg/admission"
	"github.com/passhub/gatekeeper/pkg/cache"
	"github.com/passhub/gatekeeper/pkg/config"
	"github.com/passhub/gatekeeper/pkg/infra/audit"
	"github.com/passhub/gatekeeper/pkg/infra/breaker"
	"github.com/passhub/gatekeeper/pkg/middleware"
)

type admissionFixture struct {
	app       *fiber.App
	blacklist *admission.BlacklistManager
	mr        *miniredis.Miniredis
	loginFail bool
}

func newAdmissionFixture(t *testing.T) *admissionFixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	cacheInstance := cache.NewCacheFromClient(client)
	logger := testLogger()

	registry, err := admission.NewRegistry([]config.RuleConfig{
		{Name: "general", Points: 3, WindowSeconds: 60, BlockSeconds: 120},
		{Name: "auth_attempts", KeyScheme: "per_origin", Points: 2, WindowSeconds: 60, BlockSeconds: 120, SkipOnSuccess: true},
	})
	require.NoError(t, err)
	tiers, err := admission.NewTierResolver(config.DefaultTiers())
	require.NoError(t, err)
	classifier, err := admission.NewClassifier([]config.RouteConfig{
		{Method: "POST", Path: "/api/v1/auth/login", Rule: "auth_attempts", CostTier: "cheap"},
	}, config.DefaultCostTiers(), registry)
	require.NoError(t, err)

	storeBreaker := breaker.NewCircuitBreaker("test", time.Second, 1000)
	engine := admission.NewEngine(cacheInstance, storeBreaker, logger, nil)
	governor := admission.NewGovernor(func() (float64, error) { return 0.3, nil }, time.Hour, logger)
	penalty := admission.NewPenaltyTracker(cacheInstance, logger, time.Millisecond, 10*time.Millisecond, time.Hour)
	blacklist := admission.NewBlacklistManager(cacheInstance, logger)
	ledger := admission.NewCostLedger(cacheInstance, storeBreaker, logger, nil)

	service := admission.NewService(admission.ServiceDI{
		Registry:   registry,
		Tiers:      tiers,
		Classifier: classifier,
		Engine:     engine,
		Governor:   governor,
		Penalty:    penalty,
		Blacklist:  blacklist,
		Ledger:     ledger,
		AuditSink:  audit.NewLogSink(logger),
		Logger:     logger,
		Blacklists: config.BlacklistConfig{AutoThreshold: 100, AutoDuration: time.Hour},
	}, nil)

	f := &admissionFixture{blacklist: blacklist, mr: mr}
	app := fiber.New()
	mw := middleware.NewAdmissionMiddleware(logger, service)
	app.Post("/api/v1/auth/login", mw.Middleware(), func(ctx *fiber.Ctx) error {
		if f.loginFail {
			return ctx.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "bad credentials"})
		}
		return ctx.SendString("ok")
	})
	app.All("/*", mw.Middleware(), func(ctx *fiber.Ctx) error {
		return ctx.SendString("ok")
	})
	f.app = app
	return f
}

func doRequest(t *testing.T, app *fiber.App, method, path, ip string) (int, map[string]string, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	req.Header.Set("X-Real-IP", ip)
	resp, err := app.Test(req, 5000)
	require.NoError(t, err)
	defer resp.Body.Close()

	headers := map[string]string{
		"X-RateLimit-Limit":     resp.Header.Get("X-RateLimit-Limit"),
		"X-RateLimit-Remaining": resp.Header.Get("X-RateLimit-Remaining"),
		"X-RateLimit-Reset":     resp.Header.Get("X-RateLimit-Reset"),
		"Retry-After":           resp.Header.Get("Retry-After"),
	}
	var body map[string]interface{}
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	_ = json.Unmarshal(raw, &body)
	return resp.StatusCode, headers, body
}

func TestAdmissionMiddleware_AllowsAndSetsHeaders(t *testing.T) {
	f := newAdmissionFixture(t)

	status, headers, _ := doRequest(t, f.app, fiber.MethodGet, "/api/v1/students", "10.0.0.1")
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "3", headers["X-RateLimit-Limit"])
	assert.Equal(t, "2", headers["X-RateLimit-Remaining"])
	assert.NotEmpty(t, headers["X-RateLimit-Reset"])
	assert.Empty(t, headers["Retry-After"])

	_, err := time.Parse(time.RFC3339, headers["X-RateLimit-Reset"])
	assert.NoError(t, err)
}

func TestAdmissionMiddleware_ThrottlesWith429(t *testing.T) {
	f := newAdmissionFixture(t)

	for i := 0; i < 3; i++ {
		status, _, _ := doRequest(t, f.app, fiber.MethodGet, "/api/v1/students", "10.0.0.1")
		require.Equal(t, fiber.StatusOK, status)
	}

	status, headers, body := doRequest(t, f.app, fiber.MethodGet, "/api/v1/students", "10.0.0.1")
	assert.Equal(t, fiber.StatusTooManyRequests, status)
	assert.Equal(t, "rate_limit_exceeded", body["error"])
	assert.NotEmpty(t, headers["Retry-After"])
	assert.Equal(t, "0", headers["X-RateLimit-Remaining"])

	// A different origin still gets through.
	status, _, _ = doRequest(t, f.app, fiber.MethodGet, "/api/v1/students", "10.0.0.2")
	assert.Equal(t, fiber.StatusOK, status)
}

func TestAdmissionMiddleware_BlacklistedGets403(t *testing.T) {
	f := newAdmissionFixture(t)

	require.NoError(t, f.blacklist.Add(context.Background(), "ip:10.0.0.1", time.Hour))

	status, _, body := doRequest(t, f.app, fiber.MethodGet, "/api/v1/students", "10.0.0.1")
	assert.Equal(t, fiber.StatusForbidden, status)
	assert.Equal(t, "forbidden", body["error"])
	assert.NotZero(t, body["retryAfter"])
}

func TestAdmissionMiddleware_DeferredConsumption(t *testing.T) {
	f := newAdmissionFixture(t)

	// Successful logins never spend auth_attempts points.
	for i := 0; i < 5; i++ {
		status, _, _ := doRequest(t, f.app, fiber.MethodPost, "/api/v1/auth/login", "10.0.0.1")
		require.Equal(t, fiber.StatusOK, status)
	}

	// Failed logins do: the third failure exhausts the 2-point budget.
	f.loginFail = true
	for i := 0; i < 3; i++ {
		status, _, _ := doRequest(t, f.app, fiber.MethodPost, "/api/v1/auth/login", "10.0.0.1")
		require.Equal(t, fiber.StatusUnauthorized, status)
	}

	status, headers, _ := doRequest(t, f.app, fiber.MethodPost, "/api/v1/auth/login", "10.0.0.1")
	assert.Equal(t, fiber.StatusTooManyRequests, status)
	assert.NotEmpty(t, headers["Retry-After"])
}

func TestAdmissionMiddleware_ForwardedHeaderWins(t *testing.T) {
	f := newAdmissionFixture(t)

	// Exhaust the budget under one forwarded address.
	for i := 0; i < 4; i++ {
		doRequest(t, f.app, fiber.MethodGet, "/api/v1/students", "172.16.0.1")
	}
	status, _, _ := doRequest(t, f.app, fiber.MethodGet, "/api/v1/students", "172.16.0.1")
	assert.Equal(t, fiber.StatusTooManyRequests, status)

	status, _, _ = doRequest(t, f.app, fiber.MethodGet, "/api/v1/students", "172.16.0.2")
	assert.Equal(t, fiber.StatusOK, status)
}
