package http

import (
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"github.com/passhub/gatekeeper/pkg/admission"
)

type getStatsHandler struct {
	logger  *logrus.Logger
	service *admission.Service
}

func NewGetStatsHandler(
	logger *logrus.Logger,
	service *admission.Service,
) Handler {
	return &getStatsHandler{
		logger:  logger,
		service: service,
	}
}

func (h *getStatsHandler) Handle(c *fiber.Ctx) error {
	stats := h.service.Stats(c.Context())
	return c.Status(fiber.StatusOK).JSON(stats)
}
