package handlers

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"finance-sync-be/categorize"
	"finance-sync-be/logger"
	"finance-sync-be/models"
	"finance-sync-be/reconcile"
)

// Reconciler merges a batch for one user.
type Reconciler interface {
	Reconcile(ctx context.Context, userID string, items []reconcile.ProposedTransaction) (reconcile.BatchResult, error)
}

// AccountReader serves balance reads.
type AccountReader interface {
	ListAccounts(ctx context.Context, userID string) ([]models.Account, error)
	GetAccount(ctx context.Context, userID, accountID string) (*models.Account, error)
}

// Categorizer suggests and applies categories.
type Categorizer interface {
	Suggest(ctx context.Context, userID string) ([]categorize.Suggestion, error)
	Remap(ctx context.Context, userID string, req categorize.RemapRequest) (categorize.RemapResult, error)
}

// Handler serves the /api/v1 endpoints.
type Handler struct {
	reconciler  Reconciler
	accounts    AccountReader
	categorizer Categorizer
	log         zerolog.Logger
}

func NewHandler(reconciler Reconciler, accounts AccountReader, categorizer Categorizer, log zerolog.Logger) *Handler {
	return &Handler{
		reconciler:  reconciler,
		accounts:    accounts,
		categorizer: categorizer,
		log:         log,
	}
}

// logFor prefers the request-scoped logger installed by RequestLogger.
func (h *Handler) logFor(c *fiber.Ctx) zerolog.Logger {
	if log := logger.FromContext(c.UserContext()); log.GetLevel() != zerolog.Disabled {
		return log
	}
	return h.log
}

// BatchRequest is the payload of POST /transactions/batch.
type BatchRequest struct {
	Transactions []reconcile.ProposedTransaction `json:"transactions"`
}

// BatchResponse is returned whenever the batch committed, even with item errors.
type BatchResponse struct {
	Success bool                  `json:"success"`
	Results reconcile.BatchResult `json:"results"`
}

// BatchTransactions handles POST /api/v1/transactions/batch.
func (h *Handler) BatchTransactions(c *fiber.Ctx) error {
	userID := UserID(c)

	var req BatchRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}

	result, err := h.reconciler.Reconcile(c.UserContext(), userID, req.Transactions)
	switch {
	case errors.Is(err, reconcile.ErrInvalidRequest):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	case err != nil:
		log := h.logFor(c)
		log.Error().Err(err).Str("user_id", userID).Msg("Batch sync failed")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to process batch transactions"})
	}

	return c.JSON(BatchResponse{Success: true, Results: result})
}
