package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/stripaudio/api/internal/filestore"
	"github.com/stripaudio/api/internal/registry"
)

// Sweeper evicts job records and files older than the retention window on a
// fixed interval, regardless of job status.
type Sweeper struct {
	store     *filestore.Store
	registry  *registry.Registry
	retention time.Duration
	interval  time.Duration
	logger    *zap.Logger
}

// NewSweeper creates a new sweeper
func NewSweeper(store *filestore.Store, reg *registry.Registry, retention, interval time.Duration, logger *zap.Logger) *Sweeper {
	return &Sweeper{
		store:     store,
		registry:  reg,
		retention: retention,
		interval:  interval,
		logger:    logger,
	}
}

// SweepOnce runs a single eviction pass and returns the number of files and
// job records removed.
func (s *Sweeper) SweepOnce() (files, jobs int) {
	files, err := s.store.Sweep(s.retention)
	if err != nil {
		s.logger.Warn("file sweep incomplete", zap.Error(err))
	}
	jobs = s.registry.SweepExpired(s.retention)

	if files > 0 || jobs > 0 {
		s.logger.Info("Sweep finished",
			zap.Int("files_removed", files),
			zap.Int("jobs_removed", jobs),
			zap.Duration("retention", s.retention),
		)
	}
	return files, jobs
}

// Run sweeps immediately and then on every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	s.SweepOnce()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SweepOnce()
		}
	}
}
