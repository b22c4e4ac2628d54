package http

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"github.com/passhub/gatekeeper/pkg/admission"
)

type addBlacklistHandler struct {
	logger    *logrus.Logger
	blacklist *admission.BlacklistManager
}

func NewAddBlacklistHandler(
	logger *logrus.Logger,
	blacklist *admission.BlacklistManager,
) Handler {
	return &addBlacklistHandler{
		logger:    logger,
		blacklist: blacklist,
	}
}

type addBlacklistRequest struct {
	Key             string `json:"key"`
	DurationSeconds int64  `json:"duration_seconds"`
}

func (h *addBlacklistHandler) Handle(c *fiber.Ctx) error {
	var req addBlacklistRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	if req.Key == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "key is required"})
	}
	if req.DurationSeconds <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "duration_seconds must be positive"})
	}

	duration := time.Duration(req.DurationSeconds) * time.Second
	if err := h.blacklist.Add(c.Context(), req.Key, duration); err != nil {
		h.logger.WithError(err).Error("failed to add blacklist entry")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to add blacklist entry"})
	}

	h.logger.WithFields(logrus.Fields{
		"key":      req.Key,
		"duration": duration.String(),
	}).Info("key blacklisted by administrator")

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"key":        req.Key,
		"expires_at": time.Now().Add(duration).UTC().Format(time.RFC3339),
	})
}
