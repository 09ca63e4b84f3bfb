package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/postloom/postloom/internal/service"
)

type MetricsHandler struct {
	s service.MetricsService
}

func NewMetricsHandler(service service.MetricsService) *MetricsHandler {
	return &MetricsHandler{s: service}
}

// PostMetrics returns the latest snapshot per publication of a post.
func (h *MetricsHandler) PostMetrics(c *fiber.Ctx) error {
	postID, err := c.ParamsInt("id")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid post id",
		})
	}

	metrics, err := h.s.PostMetrics(c.Context(), GetUserID(c), int64(postID))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Unable to get metrics",
		})
	}
	return c.Status(fiber.StatusOK).JSON(metrics)
}

// PublicationHistory returns every snapshot for one publication, oldest
// first, so callers can chart growth over the decay schedule.
func (h *MetricsHandler) PublicationHistory(c *fiber.Ctx) error {
	publicationID, err := c.ParamsInt("id")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid publication id",
		})
	}

	history, err := h.s.History(c.Context(), GetUserID(c), int64(publicationID))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Unable to get metrics",
		})
	}
	return c.Status(fiber.StatusOK).JSON(history)
}

func (h *MetricsHandler) PublicationLatest(c *fiber.Ctx) error {
	publicationID, err := c.ParamsInt("id")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid publication id",
		})
	}

	latest, err := h.s.Latest(c.Context(), GetUserID(c), int64(publicationID))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Unable to get metrics",
		})
	}
	if latest == nil {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{
			"message": "No snapshots yet",
		})
	}
	return c.Status(fiber.StatusOK).JSON(latest)
}
