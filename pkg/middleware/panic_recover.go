package middleware

import (
	"runtime/debug"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

// recoverMiddleware converts a handler panic into a 500 response. One
// misbehaving request must not take down the listener shared by every other
// caller and the admin surface.
type recoverMiddleware struct {
	logger *logrus.Logger
}

func NewRecoverMiddleware(logger *logrus.Logger) Middleware {
	return &recoverMiddleware{logger: logger}
}

func (m *recoverMiddleware) Middleware() fiber.Handler {
	return func(ctx *fiber.Ctx) error {
		defer func() {
			if r := recover(); r != nil {
				m.logger.WithFields(logrus.Fields{
					"panic":  r,
					"method": ctx.Method(),
					"path":   ctx.Path(),
					"stack":  string(debug.Stack()),
				}).Error("recovered from panic in request handler")

				_ = ctx.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
					"error": "internal server error",
				})
			}
		}()

		return ctx.Next()
	}
}
