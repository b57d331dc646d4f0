package handler

import (
	"errors"
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/stripaudio/api/internal/service"
	"github.com/stripaudio/api/pkg/response"
)

const uploadField = "video"

type UploadHandler struct {
	service *service.UploadService
	logger  *zap.Logger
}

func NewUploadHandler(svc *service.UploadService, logger *zap.Logger) *UploadHandler {
	return &UploadHandler{
		service: svc,
		logger:  logger.Named("upload_handler"),
	}
}

// Upload handles POST /upload
func (h *UploadHandler) Upload(c *fiber.Ctx) error {
	file, err := c.FormFile(uploadField)
	if err != nil {
		return response.ValidationError(c, "No video file provided", map[string]string{
			"field": uploadField,
		})
	}

	result, err := h.service.Upload(c.UserContext(), service.UploadFile{
		Filename:    file.Filename,
		ContentType: file.Header.Get("Content-Type"),
		Size:        file.Size,
		Open:        func() (io.ReadCloser, error) { return file.Open() },
	})
	if err != nil {
		return h.uploadError(c, err, file.Size)
	}

	return response.OK(c, result)
}

func (h *UploadHandler) uploadError(c *fiber.Ctx, err error, size int64) error {
	policy := h.service.Policy()

	switch {
	case errors.Is(err, service.ErrNoFile):
		return response.ValidationError(c, "No video file provided", nil)
	case errors.Is(err, service.ErrInvalidFileType):
		return response.InvalidFileType(c, "Invalid file type. Only video files are allowed.", map[string]interface{}{
			"allowedExtensions": policy.AllowedExtensions,
		})
	case errors.Is(err, service.ErrFileTooLarge):
		return response.FileTooLarge(c,
			fmt.Sprintf("File size %s exceeds the %s limit",
				humanize.IBytes(uint64(size)), humanize.IBytes(uint64(policy.MaxSize))),
			map[string]interface{}{
				"maxSize":  policy.MaxSize,
				"fileSize": size,
			})
	default:
		h.logger.Error("upload failed", zap.Error(err))
		return response.ServiceError(c)
	}
}
