package http

import (
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
	"github.com/valyala/fasthttp"

	"github.com/passhub/gatekeeper/pkg/config"
)

// forwardedHandler relays admitted traffic to the protected backend. The
// limiter owns admission only; everything behind it is an external
// collaborator.
type forwardedHandler struct {
	logger *logrus.Logger
	cfg    *config.ServerConfig
	client *fasthttp.Client
}

func NewForwardedHandler(logger *logrus.Logger, cfg *config.ServerConfig) Handler {
	client := &fasthttp.Client{
		ReadTimeout:              60 * time.Second,
		WriteTimeout:             60 * time.Second,
		MaxConnsPerHost:          16384,
		MaxIdleConnDuration:      120 * time.Second,
		NoDefaultUserAgentHeader: true,
	}

	return &forwardedHandler{
		logger: logger,
		cfg:    cfg,
		client: client,
	}
}

func (h *forwardedHandler) Handle(c *fiber.Ctx) error {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	c.Request().CopyTo(req)
	req.SetRequestURI(fmt.Sprintf("%s%s", h.cfg.Upstream, c.OriginalURL()))

	if err := h.client.Do(req, resp); err != nil {
		h.logger.WithError(err).WithField("path", c.Path()).Error("upstream request failed")
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "upstream unavailable"})
	}

	resp.CopyTo(c.Response())
	return nil
}
