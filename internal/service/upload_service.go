package service

import (
	"context"
	"fmt"
	"io"
	"mime"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/stripaudio/api/internal/filestore"
	"github.com/stripaudio/api/internal/model"
	"github.com/stripaudio/api/internal/registry"
)

// JobStarter schedules the background transcode for a stored upload.
type JobStarter interface {
	Start(jobID string) error
}

// UploadPolicy is the allow-list and size limit applied to every upload.
type UploadPolicy struct {
	MaxSize           int64
	AllowedExtensions []string
	AllowedMIMETypes  []string
}

// UploadFile describes one multipart file as received by the handler.
type UploadFile struct {
	Filename    string
	ContentType string
	Size        int64
	Open        func() (io.ReadCloser, error)
}

// UploadService stores incoming videos and hands them to the transcoder
type UploadService struct {
	registry *registry.Registry
	store    *filestore.Store
	starter  JobStarter
	policy   UploadPolicy
	logger   *zap.Logger
	newID    func() string
}

func NewUploadService(reg *registry.Registry, store *filestore.Store, starter JobStarter, policy UploadPolicy, logger *zap.Logger) *UploadService {
	return &UploadService{
		registry: reg,
		store:    store,
		starter:  starter,
		policy:   policy,
		logger:   logger.Named("upload"),
		newID:    func() string { return uuid.New().String() },
	}
}

// Policy returns the limits enforced by Upload.
func (s *UploadService) Policy() UploadPolicy {
	return s.policy
}

// CheckFile applies the extension, MIME and size rules without touching disk.
func (s *UploadService) CheckFile(file UploadFile) error {
	if file.Filename == "" {
		return ErrNoFile
	}
	if !s.extensionAllowed(filepath.Ext(file.Filename)) {
		return fmt.Errorf("%w: extension %q", ErrInvalidFileType, filepath.Ext(file.Filename))
	}
	if !s.mimeAllowed(file.ContentType) {
		return fmt.Errorf("%w: content type %q", ErrInvalidFileType, file.ContentType)
	}
	if file.Size > s.policy.MaxSize {
		return ErrFileTooLarge
	}
	return nil
}

// Upload validates and stores the file, registers an uploading job and
// schedules its transcode. It returns once the transcode is scheduled.
func (s *UploadService) Upload(ctx context.Context, file UploadFile) (*model.UploadResponse, error) {
	if err := s.CheckFile(file); err != nil {
		return nil, err
	}

	src, err := file.Open()
	if err != nil {
		return nil, fmt.Errorf("open upload: %w", err)
	}
	defer src.Close()

	jobID := s.newID()
	ext := strings.ToLower(filepath.Ext(file.Filename))
	inputPath, err := s.store.Put(jobID, ext, src)
	if err != nil {
		return nil, fmt.Errorf("store upload: %w", err)
	}

	job := model.Job{
		ID:           jobID,
		Status:       model.JobStatusUploading,
		OriginalName: filepath.Base(file.Filename),
		InputPath:    inputPath,
	}
	if err := s.registry.Create(job); err != nil {
		_ = s.store.Remove(inputPath)
		return nil, fmt.Errorf("register job: %w", err)
	}

	// A job that never started is rolled back as if the upload was refused.
	if err := s.starter.Start(jobID); err != nil {
		s.registry.Remove(jobID)
		_ = s.store.Remove(inputPath)
		return nil, fmt.Errorf("schedule transcode: %w", err)
	}
	s.registry.RecordUpload()

	s.logger.Info("Upload stored",
		zap.String("job_id", jobID),
		zap.String("original_name", job.OriginalName),
		zap.Int64("size", file.Size),
	)

	return &model.UploadResponse{
		Success: true,
		JobID:   jobID,
		Message: "File uploaded successfully. Processing started.",
	}, nil
}

func (s *UploadService) extensionAllowed(ext string) bool {
	ext = strings.ToLower(ext)
	if ext == "" {
		return false
	}
	for _, allowed := range s.policy.AllowedExtensions {
		if ext == allowed {
			return true
		}
	}
	return false
}

// mimeAllowed ignores an absent content type; the extension check still applies.
func (s *UploadService) mimeAllowed(contentType string) bool {
	if contentType == "" || len(s.policy.AllowedMIMETypes) == 0 {
		return true
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	for _, allowed := range s.policy.AllowedMIMETypes {
		if strings.EqualFold(mediaType, allowed) {
			return true
		}
	}
	return false
}
