package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"finance-sync-be/categorize"
	"finance-sync-be/database"
)

// RemapTransaction handles POST /api/v1/transactions/:id/category.
func (h *Handler) RemapTransaction(c *fiber.Ctx) error {
	userID := UserID(c)

	var req categorize.RemapRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}
	req.TransactionID = c.Params("id")

	result, err := h.categorizer.Remap(c.UserContext(), userID, req)
	switch {
	case errors.Is(err, categorize.ErrInvalidRemap):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, database.ErrNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Transaction not found"})
	case err != nil:
		log := h.logFor(c)
		log.Error().Err(err).Str("transaction_id", req.TransactionID).Msg("Remap failed")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to update transaction"})
	}

	return c.JSON(fiber.Map{
		"message":       "Transaction updated successfully",
		"rule":          result.Rule,
		"recategorized": result.Recategorized,
	})
}
