package response

import "github.com/gofiber/fiber/v2"

// Error codes
const (
	CodeValidationError = "VALIDATION_ERROR"
	CodeInvalidFileType = "INVALID_FILE_TYPE"
	CodeFileTooLarge    = "FILE_TOO_LARGE"
	CodeNotFound        = "NOT_FOUND"
	CodeJobNotCompleted = "JOB_NOT_COMPLETED"
	CodeRateLimited     = "RATE_LIMITED"
	CodeServiceError    = "SERVICE_ERROR"
)

type ErrorResponse struct {
	Success bool        `json:"success"`
	Error   ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

func Error(c *fiber.Ctx, status int, code, message string, details interface{}) error {
	return c.Status(status).JSON(ErrorResponse{
		Success: false,
		Error: ErrorDetail{
			Code:    code,
			Message: message,
			Details: details,
		},
	})
}

func ValidationError(c *fiber.Ctx, message string, details interface{}) error {
	return Error(c, fiber.StatusBadRequest, CodeValidationError, message, details)
}

func InvalidFileType(c *fiber.Ctx, message string, details interface{}) error {
	return Error(c, fiber.StatusBadRequest, CodeInvalidFileType, message, details)
}

func FileTooLarge(c *fiber.Ctx, message string, details interface{}) error {
	return Error(c, fiber.StatusRequestEntityTooLarge, CodeFileTooLarge, message, details)
}

func NotFound(c *fiber.Ctx, message string) error {
	return Error(c, fiber.StatusNotFound, CodeNotFound, message, nil)
}

func JobNotCompleted(c *fiber.Ctx, message string) error {
	return Error(c, fiber.StatusBadRequest, CodeJobNotCompleted, message, nil)
}

func RateLimited(c *fiber.Ctx) error {
	return Error(c, fiber.StatusTooManyRequests, CodeRateLimited, "Rate limit exceeded", nil)
}

// ServiceError never carries internal detail; log the cause before calling it.
func ServiceError(c *fiber.Ctx) error {
	return Error(c, fiber.StatusInternalServerError, CodeServiceError, "Internal Server Error", nil)
}

func OK(c *fiber.Ctx, data interface{}) error {
	return c.JSON(data)
}
