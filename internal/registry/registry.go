// Package registry holds the in-memory job table. It is the single point
// through which job records are created, read, mutated and evicted.
package registry

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/stripaudio/api/internal/model"
)

var (
	// ErrJobNotFound is returned for identifiers never issued or already evicted.
	ErrJobNotFound = errors.New("job not found")
	// ErrJobExists is returned when creating a record under an identifier in use.
	ErrJobExists = errors.New("job already exists")
)

// Counters are process-wide totals, reset only on restart.
type Counters struct {
	TotalUploads   int64
	TotalProcessed int64
	TotalFailed    int64
}

// Registry maps job identifiers to job records behind a single lock.
// Expected concurrency is tens of jobs, so one coarse lock is enough.
type Registry struct {
	mu   sync.RWMutex
	jobs map[string]*model.Job

	uploads   atomic.Int64
	processed atomic.Int64
	failed    atomic.Int64

	startedAt time.Time
	now       func() time.Time
}

// New creates an empty registry and stamps its start time.
func New() *Registry {
	return newWithClock(time.Now)
}

func newWithClock(now func() time.Time) *Registry {
	return &Registry{
		jobs:      make(map[string]*model.Job),
		startedAt: now(),
		now:       now,
	}
}

// Create stores a new job record. CreatedAt is stamped when left zero.
func (r *Registry) Create(job model.Job) error {
	if job.ID == "" {
		return errors.New("job id is required")
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = r.now()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.jobs[job.ID]; exists {
		return ErrJobExists
	}
	stored := job.Clone()
	r.jobs[job.ID] = &stored
	return nil
}

// Get returns a copy of the job, or false when it is unknown or evicted.
func (r *Registry) Get(id string) (model.Job, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	job, ok := r.jobs[id]
	if !ok {
		return model.Job{}, false
	}
	return job.Clone(), true
}

// Mutate applies fn to the stored job under the registry lock. If fn returns
// an error the record is left untouched and the error is returned.
func (r *Registry) Mutate(id string, fn func(job *model.Job) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[id]
	if !ok {
		return ErrJobNotFound
	}

	draft := job.Clone()
	if err := fn(&draft); err != nil {
		return err
	}
	draft.ID = job.ID
	*job = draft
	return nil
}

// Remove drops a single record and reports whether it existed.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.jobs[id]; !ok {
		return false
	}
	delete(r.jobs, id)
	return true
}

// SweepExpired drops every record created more than maxAge ago, whatever
// its status, and returns how many were dropped.
func (r *Registry) SweepExpired(maxAge time.Duration) int {
	cutoff := r.now().Add(-maxAge)

	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for id, job := range r.jobs {
		if job.CreatedAt.Before(cutoff) {
			delete(r.jobs, id)
			removed++
		}
	}
	return removed
}

// Snapshot returns copies of all current records in no particular order.
func (r *Registry) Snapshot() []model.Job {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]model.Job, 0, len(r.jobs))
	for _, job := range r.jobs {
		out = append(out, job.Clone())
	}
	return out
}

// ActiveJobs counts records that have not reached a terminal state.
func (r *Registry) ActiveJobs() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	active := 0
	for _, job := range r.jobs {
		if !job.Status.IsTerminal() {
			active++
		}
	}
	return active
}

// RecordUpload increments the accepted-upload counter.
func (r *Registry) RecordUpload() { r.uploads.Add(1) }

// RecordSuccess increments the successful-transcode counter.
func (r *Registry) RecordSuccess() { r.processed.Add(1) }

// RecordFailure increments the failed-transcode counter.
func (r *Registry) RecordFailure() { r.failed.Add(1) }

// Counters returns the current aggregate counters.
func (r *Registry) Counters() Counters {
	return Counters{
		TotalUploads:   r.uploads.Load(),
		TotalProcessed: r.processed.Load(),
		TotalFailed:    r.failed.Load(),
	}
}

// Uptime reports how long this registry (and so the server) has been running.
func (r *Registry) Uptime() time.Duration {
	return r.now().Sub(r.startedAt)
}
