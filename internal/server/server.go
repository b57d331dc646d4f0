package server

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"go.uber.org/zap"

	"github.com/stripaudio/api/internal/handler"
	"github.com/stripaudio/api/internal/middleware"
	"github.com/stripaudio/api/pkg/response"
)

// multipartOverhead is allowed on top of the file size limit for form
// boundaries and headers.
const multipartOverhead = 1 << 20

type Options struct {
	MaxUploadSize int64
	CORSOrigins   string
	UploadPerHour int
}

type Handlers struct {
	Upload    *handler.UploadHandler
	Job       *handler.JobHandler
	WebSocket *handler.WebSocketHandler
}

// New builds the fiber app with every route mounted.
func New(opts Options, h Handlers, limiter *middleware.RateLimiter, logger *zap.Logger) *fiber.App {
	app := fiber.New(fiber.Config{
		ErrorHandler:          errorHandler(logger),
		BodyLimit:             int(opts.MaxUploadSize + multipartOverhead),
		DisableStartupMessage: true,
	})

	// Global middleware
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(middleware.AccessLog(logger))
	app.Use(cors.New(cors.Config{
		AllowOrigins: opts.CORSOrigins,
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,X-Request-ID",
	}))

	app.Get("/", h.Job.Root)
	app.Get("/health", h.Job.Health)
	app.Get("/stats", h.Job.Stats)

	app.Post("/upload", limiter.UploadLimit(opts.UploadPerHour), h.Upload.Upload)
	app.Get("/progress/:id", h.Job.Progress)
	app.Get("/download/:id", h.Job.Download)

	// WebSocket routes
	app.Use("/ws", h.WebSocket.Upgrade)
	app.Get("/ws/jobs/:id", h.Job.RequireJob, h.WebSocket.Job())

	return app
}

// errorHandler maps errors that escape handlers to the response envelope.
// Unexpected errors never expose their message.
func errorHandler(logger *zap.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		var e *fiber.Error
		if errors.As(err, &e) {
			switch {
			case e.Code == fiber.StatusRequestEntityTooLarge:
				return response.FileTooLarge(c, "File exceeds the maximum upload size", nil)
			case e.Code == fiber.StatusNotFound:
				return response.NotFound(c, "Route not found")
			case e.Code < fiber.StatusInternalServerError:
				return response.Error(c, e.Code, response.CodeValidationError, e.Message, nil)
			}
		}

		logger.Error("unhandled error",
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Error(err),
		)
		return response.ServiceError(c)
	}
}
