package middleware

import (
	"crypto/subtle"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"github.com/passhub/gatekeeper/pkg/config"
)

const adminTokenHeader = "X-Admin-Token"

// adminAuthMiddleware protects the operational surface (blacklist
// management, stats). It is a shared-secret check, not end-user auth.
type adminAuthMiddleware struct {
	logger *logrus.Logger
	cfg    *config.ServerConfig
}

func NewAdminAuthMiddleware(logger *logrus.Logger, cfg *config.ServerConfig) Middleware {
	return &adminAuthMiddleware{logger: logger, cfg: cfg}
}

func (m *adminAuthMiddleware) Middleware() fiber.Handler {
	return func(ctx *fiber.Ctx) error {
		token := ctx.Get(adminTokenHeader)
		if token == "" {
			m.logger.Debug("no admin token provided")
			return ctx.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "admin token required"})
		}
		if subtle.ConstantTimeCompare([]byte(token), []byte(m.cfg.SecretKey)) != 1 {
			m.logger.Debug("invalid admin token")
			return ctx.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid admin token"})
		}
		return ctx.Next()
	}
}
