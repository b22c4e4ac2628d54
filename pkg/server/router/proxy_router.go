package router

import (
	"github.com/gofiber/fiber/v2"

	handlers "github.com/passhub/gatekeeper/pkg/handlers/http"
	"github.com/passhub/gatekeeper/pkg/middleware"
)

// proxyRouter mounts the admission pipeline ahead of all protected
// traffic: identity resolution, then the admission decision, then the
// relay to the backend.
type proxyRouter struct {
	middlewareTransport *middleware.Transport
	handlerTransport    handlers.HandlerTransport
}

func NewProxyRouter(
	middlewareTransport *middleware.Transport,
	handlerTransport handlers.HandlerTransport,
) ServerRouter {
	return &proxyRouter{
		middlewareTransport: middlewareTransport,
		handlerTransport:    handlerTransport,
	}
}

func (r *proxyRouter) BuildRoutes(router *fiber.App) error {
	handlerTransport, ok := r.handlerTransport.GetTransport().(*handlers.HandlerTransportDTO)
	if !ok {
		return ErrInvalidHandlerTransport
	}

	router.All("/*",
		r.middlewareTransport.IdentityMiddleware.Middleware(),
		r.middlewareTransport.AdmissionMiddleware.Middleware(),
		handlerTransport.ForwardedHandler.Handle,
	)

	return nil
}
