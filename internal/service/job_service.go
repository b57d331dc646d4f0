package service

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path"
	"strings"
	"time"

	"github.com/stripaudio/api/internal/model"
	"github.com/stripaudio/api/internal/registry"
)

// JobService answers progress, download and statistics queries. It only
// reads the registry and never waits on a running transcode.
type JobService struct {
	registry *registry.Registry
	now      func() time.Time
}

func NewJobService(reg *registry.Registry) *JobService {
	return &JobService{
		registry: reg,
		now:      time.Now,
	}
}

// ValidateJobID rejects identifiers that could address anything outside the
// managed directories once unescaped and cleaned.
func ValidateJobID(id string) error {
	if id == "" {
		return ErrInvalidJobID
	}
	decoded, err := url.PathUnescape(id)
	if err != nil {
		return ErrInvalidJobID
	}
	if strings.ContainsAny(decoded, "/\\\x00") || strings.Contains(decoded, "..") {
		return ErrInvalidJobID
	}
	if cleaned := path.Clean(decoded); cleaned != decoded || cleaned == "." {
		return ErrInvalidJobID
	}
	return nil
}

// Progress returns the polled view of a job.
func (s *JobService) Progress(id string) (*model.ProgressResponse, error) {
	job, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	return &model.ProgressResponse{
		Success:      true,
		JobID:        job.ID,
		Status:       job.Status,
		Progress:     job.Progress,
		OriginalName: job.OriginalName,
		Error:        job.Error,
	}, nil
}

// Download resolves the output file of a completed job and the filename the
// client should save it under.
func (s *JobService) Download(id string) (string, string, error) {
	job, err := s.lookup(id)
	if err != nil {
		return "", "", err
	}
	if job.Status != model.JobStatusCompleted {
		return "", "", ErrJobNotCompleted
	}
	if job.OutputPath == "" {
		return "", "", ErrOutputMissing
	}
	info, err := os.Stat(job.OutputPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", "", ErrOutputMissing
		}
		return "", "", fmt.Errorf("stat output: %w", err)
	}
	if info.IsDir() {
		return "", "", ErrOutputMissing
	}
	return job.OutputPath, job.OutputFilename, nil
}

// Snapshot returns the current job view for subscribers that join mid-flight.
func (s *JobService) Snapshot(id string) (*model.Job, error) {
	return s.lookup(id)
}

// Stats reports process-wide counters and the number of unfinished jobs.
func (s *JobService) Stats() *model.StatsResponse {
	counters := s.registry.Counters()
	return &model.StatsResponse{
		Success:        true,
		Uptime:         s.registry.Uptime().Seconds(),
		TotalUploads:   counters.TotalUploads,
		TotalProcessed: counters.TotalProcessed,
		TotalFailed:    counters.TotalFailed,
		ActiveJobs:     s.registry.ActiveJobs(),
	}
}

// Health reports liveness.
func (s *JobService) Health() *model.HealthResponse {
	return &model.HealthResponse{
		Success:   true,
		Status:    "healthy",
		Timestamp: s.now().UTC(),
	}
}

func (s *JobService) lookup(id string) (*model.Job, error) {
	if err := ValidateJobID(id); err != nil {
		return nil, err
	}
	job, ok := s.registry.Get(id)
	if !ok {
		return nil, ErrJobNotFound
	}
	return &job, nil
}
