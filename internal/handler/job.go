package handler

import (
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/stripaudio/api/internal/service"
	"github.com/stripaudio/api/pkg/response"
)

type JobHandler struct {
	service   *service.JobService
	validator *validator.Validate
	logger    *zap.Logger
}

func NewJobHandler(svc *service.JobService, v *validator.Validate, logger *zap.Logger) *JobHandler {
	return &JobHandler{
		service:   svc,
		validator: v,
		logger:    logger.Named("job_handler"),
	}
}

// Root handles GET /
func (h *JobHandler) Root(c *fiber.Ctx) error {
	return response.OK(c, fiber.Map{"timestamp": time.Now().UTC()})
}

// Health handles GET /health
func (h *JobHandler) Health(c *fiber.Ctx) error {
	return response.OK(c, h.service.Health())
}

// Stats handles GET /stats
func (h *JobHandler) Stats(c *fiber.Ctx) error {
	return response.OK(c, h.service.Stats())
}

// Progress handles GET /progress/:id
func (h *JobHandler) Progress(c *fiber.Ctx) error {
	id, err := h.jobID(c)
	if err != nil {
		return response.ValidationError(c, "Invalid job ID", formatValidationErrors(err))
	}

	result, err := h.service.Progress(id)
	if err != nil {
		return h.jobError(c, err)
	}
	return response.OK(c, result)
}

// Download handles GET /download/:id
func (h *JobHandler) Download(c *fiber.Ctx) error {
	id, err := h.jobID(c)
	if err != nil {
		return response.ValidationError(c, "Invalid job ID", formatValidationErrors(err))
	}

	path, filename, err := h.service.Download(id)
	if err != nil {
		return h.jobError(c, err)
	}
	return c.Download(path, filename)
}

// RequireJob rejects a request whose :id does not name a live job. Used in
// front of the websocket upgrade, which cannot answer with JSON afterwards.
func (h *JobHandler) RequireJob(c *fiber.Ctx) error {
	id, err := h.jobID(c)
	if err != nil {
		return response.ValidationError(c, "Invalid job ID", formatValidationErrors(err))
	}
	if _, err := h.service.Snapshot(id); err != nil {
		return h.jobError(c, err)
	}
	return c.Next()
}

func (h *JobHandler) jobID(c *fiber.Ctx) (string, error) {
	id := c.Params("id")
	if err := h.validator.Var(id, "required,jobid"); err != nil {
		return "", err
	}
	return id, nil
}

func (h *JobHandler) jobError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, service.ErrInvalidJobID):
		return response.ValidationError(c, "Invalid job ID", nil)
	case errors.Is(err, service.ErrJobNotFound):
		return response.NotFound(c, "Job not found")
	case errors.Is(err, service.ErrJobNotCompleted):
		return response.JobNotCompleted(c, "Job not completed yet")
	case errors.Is(err, service.ErrOutputMissing):
		return response.NotFound(c, "Output file not found")
	default:
		h.logger.Error("job query failed", zap.Error(err))
		return response.ServiceError(c)
	}
}
