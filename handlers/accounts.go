package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"finance-sync-be/database"
)

// ListAccounts handles GET /api/v1/accounts.
func (h *Handler) ListAccounts(c *fiber.Ctx) error {
	accounts, err := h.accounts.ListAccounts(c.UserContext(), UserID(c))
	if err != nil {
		log := h.logFor(c)
		log.Error().Err(err).Msg("Failed to list accounts")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to list accounts"})
	}
	return c.JSON(fiber.Map{
		"accounts": accounts,
		"count":    len(accounts),
	})
}

// GetAccount handles GET /api/v1/accounts/:id.
func (h *Handler) GetAccount(c *fiber.Ctx) error {
	account, err := h.accounts.GetAccount(c.UserContext(), UserID(c), c.Params("id"))
	if errors.Is(err, database.ErrNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Account not found"})
	}
	if err != nil {
		log := h.logFor(c)
		log.Error().Err(err).Msg("Failed to load account")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to load account"})
	}
	return c.JSON(account)
}
