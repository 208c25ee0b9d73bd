package handlers

import (
	"github.com/gofiber/fiber/v2"
)

// SuggestCategories handles GET /api/v1/transactions/suggestions.
func (h *Handler) SuggestCategories(c *fiber.Ctx) error {
	userID := UserID(c)

	suggestions, err := h.categorizer.Suggest(c.UserContext(), userID)
	if err != nil {
		log := h.logFor(c)
		log.Error().Err(err).Str("user_id", userID).Msg("Category analysis failed")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to analyze transactions"})
	}

	return c.JSON(fiber.Map{
		"count":       len(suggestions),
		"suggestions": suggestions,
	})
}
