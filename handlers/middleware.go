package handlers

import (
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"finance-sync-be/logger"
)

// UserIDHeader carries the id of the user authenticated upstream.
const UserIDHeader = "X-User-ID"

type localsKey string

const userIDLocal localsKey = "userID"

// RequireUser rejects requests without a user id and stores it for handlers.
func RequireUser(c *fiber.Ctx) error {
	userID := strings.TrimSpace(c.Get(UserIDHeader))
	if userID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "User ID required in X-User-ID header"})
	}
	c.Locals(userIDLocal, userID)
	return c.Next()
}

// UserID returns the id stored by RequireUser.
func UserID(c *fiber.Ctx) string {
	id, _ := c.Locals(userIDLocal).(string)
	return id
}

// RequestLogger logs one structured line per request and makes a logger
// tagged with the request id available through the user context.
func RequestLogger(log zerolog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		requestID, _ := c.Locals("requestid").(string)
		reqLog := log.With().Str("request_id", requestID).Logger()
		c.SetUserContext(logger.WithContext(c.UserContext(), reqLog))

		err := c.Next()

		status := c.Response().StatusCode()
		if err != nil {
			status = fiber.StatusInternalServerError
			var fe *fiber.Error
			if errors.As(err, &fe) {
				status = fe.Code
			}
		}

		event := log.Info()
		if status >= fiber.StatusInternalServerError {
			event = log.Error().Err(err)
		}
		event.
			Str("method", c.Method()).
			Str("path", c.Path()).
			Int("status", status).
			Dur("duration", time.Since(start)).
			Str("request_id", requestID).
			Str("user_id", UserID(c)).
			Msg("HTTP request")
		return err
	}
}

// ErrorHandler renders errors that escaped the handlers as {"error": message}.
func ErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal server error"
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
		message = fe.Message
	}
	return c.Status(code).JSON(fiber.Map{"error": message})
}

// rateLimitKey buckets requests per user when known, per client IP otherwise.
func rateLimitKey(c *fiber.Ctx) string {
	if id := strings.TrimSpace(c.Get(UserIDHeader)); id != "" {
		return "user:" + id
	}
	return "ip:" + c.IP()
}
