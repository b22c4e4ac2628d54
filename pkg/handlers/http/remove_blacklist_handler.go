package http

import (
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"github.com/passhub/gatekeeper/pkg/admission"
)

type removeBlacklistHandler struct {
	logger    *logrus.Logger
	blacklist *admission.BlacklistManager
}

func NewRemoveBlacklistHandler(
	logger *logrus.Logger,
	blacklist *admission.BlacklistManager,
) Handler {
	return &removeBlacklistHandler{
		logger:    logger,
		blacklist: blacklist,
	}
}

func (h *removeBlacklistHandler) Handle(c *fiber.Ctx) error {
	key := c.Params("key")
	if key == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "key is required"})
	}

	if err := h.blacklist.Remove(c.Context(), key); err != nil {
		h.logger.WithError(err).Error("failed to remove blacklist entry")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to remove blacklist entry"})
	}

	h.logger.WithField("key", key).Info("key removed from blacklist by administrator")
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"key": key})
}
