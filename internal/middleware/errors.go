package middleware

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/clawwork/livebench/internal/logger"
)

// ErrorResponse represents a structured error response
type ErrorResponse struct {
	Error     string    `json:"error"`
	Message   string    `json:"message,omitempty"`
	RequestID string    `json:"request_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Path      string    `json:"path,omitempty"`
}

// BadRequest returns a 400 Bad Request error response
func BadRequest(c *fiber.Ctx, message string) error {
	return errorResponse(c, fiber.StatusBadRequest, "Bad Request", message)
}

// Unauthorized returns a 401 Unauthorized error response
func Unauthorized(c *fiber.Ctx, message string) error {
	return errorResponse(c, fiber.StatusUnauthorized, "Unauthorized", message)
}

// Forbidden returns a 403 Forbidden error response
func Forbidden(c *fiber.Ctx, message string) error {
	return errorResponse(c, fiber.StatusForbidden, "Forbidden", message)
}

// NotFound returns a 404 Not Found error response
func NotFound(c *fiber.Ctx, message string) error {
	return errorResponse(c, fiber.StatusNotFound, "Not Found", message)
}

// TooManyRequests returns a 429 Too Many Requests error response
func TooManyRequests(c *fiber.Ctx, message string) error {
	return errorResponse(c, fiber.StatusTooManyRequests, "Too Many Requests", message)
}

// InternalError returns a 500 Internal Server Error response
func InternalError(c *fiber.Ctx, message string) error {
	return errorResponse(c, fiber.StatusInternalServerError, "Internal Server Error", message)
}

// errorResponse creates a structured error response. Internal details
// and paths never reach the caller; the message is the human-readable
// classification only.
func errorResponse(c *fiber.Ctx, status int, error string, message string) error {
	response := ErrorResponse{
		Error:     error,
		Message:   message,
		RequestID: GetRequestID(c),
		Timestamp: time.Now(),
		Path:      c.Path(),
	}

	log := GetLogger(c)
	log.Warn("HTTP error response",
		logger.String("error", error),
		logger.String("message", message),
		logger.String("method", c.Method()),
		logger.String("path", c.Path()),
		logger.Int("status", status),
	)

	return c.Status(status).JSON(response)
}
