package middleware_test

import (
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/passhub/gatekeeper/pkg/config"
	"github.com/passhub/gatekeeper/pkg/middleware"
)

func adminApp(t *testing.T) *fiber.App {
	t.Helper()
	app := fiber.New()
	mw := middleware.NewAdminAuthMiddleware(testLogger(), &config.ServerConfig{SecretKey: testSecret})
	app.Get("/admin", mw.Middleware(), func(ctx *fiber.Ctx) error {
		return ctx.SendString("ok")
	})
	return app
}

func TestAdminAuthMiddleware(t *testing.T) {
	tests := []struct {
		name       string
		token      string
		wantStatus int
	}{
		{"missing token", "", fiber.StatusUnauthorized},
		{"wrong token", "nope", fiber.StatusUnauthorized},
		{"valid token", testSecret, fiber.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := adminApp(t)
			req := httptest.NewRequest(fiber.MethodGet, "/admin", nil)
			if tt.token != "" {
				req.Header.Set("X-Admin-Token", tt.token)
			}
			resp, err := app.Test(req)
			require.NoError(t, err)
			defer resp.Body.Close()
			assert.Equal(t, tt.wantStatus, resp.StatusCode)
		})
	}
}
