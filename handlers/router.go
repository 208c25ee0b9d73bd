package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/rs/zerolog"
)

const healthPath = "/api/v1/health"

// Options tunes the middleware stack.
type Options struct {
	CORSOrigins     string
	RateLimitMax    int
	RateLimitWindow time.Duration
}

// NewApp wires middleware and routes around h.
func NewApp(h *Handler, opts Options, log zerolog.Logger) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               "finance-sync-be",
		ErrorHandler:          ErrorHandler,
		DisableStartupMessage: true,
	})

	// Middleware
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(RequestLogger(log))
	app.Use(cors.New(cors.Config{
		AllowOrigins: opts.CORSOrigins,
		AllowHeaders: "Origin, Content-Type, Accept, X-User-ID, X-Request-ID",
	}))
	if opts.RateLimitMax > 0 {
		app.Use(limiter.New(limiter.Config{
			Next:         func(c *fiber.Ctx) bool { return c.Path() == healthPath },
			Max:          opts.RateLimitMax,
			Expiration:   opts.RateLimitWindow,
			KeyGenerator: rateLimitKey,
			LimitReached: func(c *fiber.Ctx) error {
				return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{"error": "Too many requests"})
			},
		}))
	}

	// Routes
	api := app.Group("/api/v1")

	// Health Check
	api.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	// Batch sync
	api.Post("/transactions/batch", RequireUser, h.BatchTransactions)

	// Categorisation
	api.Get("/transactions/suggestions", RequireUser, h.SuggestCategories)
	api.Post("/transactions/:id/category", RequireUser, h.RemapTransaction)

	// Balances
	api.Get("/accounts", RequireUser, h.ListAccounts)
	api.Get("/accounts/:id", RequireUser, h.GetAccount)

	return app
}
