package server

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/passhub/gatekeeper/pkg/config"
	handlers "github.com/passhub/gatekeeper/pkg/handlers/http"
	"github.com/passhub/gatekeeper/pkg/middleware"
	"github.com/passhub/gatekeeper/pkg/server/router"
)

type (
	GatekeeperServerDI struct {
		MiddlewareTransport *middleware.Transport
		HandlerTransport    handlers.HandlerTransport
		Config              *config.Config
		Logger              *logrus.Logger
	}
	// GatekeeperServer serves the admin surface and the protected
	// catch-all route behind the admission pipeline on one listener,
	// plus the metrics listener.
	GatekeeperServer struct {
		*BaseServer
		middlewareTransport *middleware.Transport
		handlerTransport    handlers.HandlerTransport
	}
)

func NewGatekeeperServer(di GatekeeperServerDI) *GatekeeperServer {
	return &GatekeeperServer{
		BaseServer:          NewBaseServer(di.Config, di.Logger),
		middlewareTransport: di.MiddlewareTransport,
		handlerTransport:    di.HandlerTransport,
	}
}

func (s *GatekeeperServer) Run() error {
	s.Router.Use(middleware.NewRecoverMiddleware(s.Logger).Middleware())
	s.setupHealthCheck()
	s.setupMetricsEndpoint()
	// Admin routes must register before the protected catch-all.
	s.WithRouters(
		router.NewAdminRouter(s.middlewareTransport, s.handlerTransport),
		router.NewProxyRouter(s.middlewareTransport, s.handlerTransport),
	)

	addr := fmt.Sprintf("%s:%d", s.Config.Server.Host, s.Config.Server.Port)
	s.Logger.WithField("addr", addr).Info("Starting gatekeeper server")
	return s.Router.Listen(addr)
}

func (s *GatekeeperServer) Shutdown() error {
	return s.Router.Shutdown()
}
