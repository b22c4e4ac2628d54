package router

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	handlers "github.com/passhub/gatekeeper/pkg/handlers/http"
	"github.com/passhub/gatekeeper/pkg/middleware"
)

var (
	ErrInvalidHandlerTransport = errors.New("invalid handler transport")
)

type adminRouter struct {
	middlewareTransport *middleware.Transport
	handlerTransport    handlers.HandlerTransport
}

func NewAdminRouter(
	middlewareTransport *middleware.Transport,
	handlerTransport handlers.HandlerTransport,
) ServerRouter {
	return &adminRouter{
		middlewareTransport: middlewareTransport,
		handlerTransport:    handlerTransport,
	}
}

func (r *adminRouter) BuildRoutes(router *fiber.App) error {
	handlerTransport, ok := r.handlerTransport.GetTransport().(*handlers.HandlerTransportDTO)
	if !ok {
		return ErrInvalidHandlerTransport
	}

	router.Get("/version", handlerTransport.GetVersionHandler.Handle)

	// Admin auth attaches per route, not on the /api/v1 group: the same
	// prefix also carries protected backend traffic through the catch-all.
	adminAuth := r.middlewareTransport.AdminAuthMiddleware.Middleware()
	v1 := router.Group("/api/v1")
	{
		blacklist := v1.Group("/blacklist", adminAuth)
		{
			blacklist.Post("", handlerTransport.AddBlacklistHandler.Handle)
			blacklist.Delete("/:key", handlerTransport.RemoveBlacklistHandler.Handle)
		}
		v1.Get("/stats", adminAuth, handlerTransport.GetStatsHandler.Handle)
	}

	return nil
}
