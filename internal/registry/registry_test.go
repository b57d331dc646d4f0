package registry

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stripaudio/api/internal/model"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestCreateAndGet(t *testing.T) {
	r := New()

	if err := r.Create(model.Job{ID: "job-1", Status: model.JobStatusUploading, OriginalName: "a.mp4"}); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	job, ok := r.Get("job-1")
	if !ok {
		t.Fatal("expected job to be found")
	}
	if job.OriginalName != "a.mp4" || job.Status != model.JobStatusUploading {
		t.Errorf("unexpected job: %+v", job)
	}
	if job.CreatedAt.IsZero() {
		t.Error("expected createdAt to be stamped")
	}

	if _, ok := r.Get("missing"); ok {
		t.Error("expected unknown id to be not found")
	}
}

func TestCreateRejectsDuplicateID(t *testing.T) {
	r := New()
	_ = r.Create(model.Job{ID: "dup"})

	if err := r.Create(model.Job{ID: "dup"}); !errors.Is(err, ErrJobExists) {
		t.Fatalf("expected ErrJobExists, got %v", err)
	}
}

func TestGetReturnsCopy(t *testing.T) {
	r := New()
	_ = r.Create(model.Job{ID: "job-1", Progress: 10})

	job, _ := r.Get("job-1")
	job.Progress = 90

	stored, _ := r.Get("job-1")
	if stored.Progress != 10 {
		t.Errorf("expected stored progress 10, got %d", stored.Progress)
	}
}

func TestMutate(t *testing.T) {
	r := New()
	_ = r.Create(model.Job{ID: "job-1", Status: model.JobStatusUploading})

	err := r.Mutate("job-1", func(job *model.Job) error {
		job.Status = model.JobStatusProcessing
		job.Progress = 5
		return nil
	})
	if err != nil {
		t.Fatalf("mutate failed: %v", err)
	}

	job, _ := r.Get("job-1")
	if job.Status != model.JobStatusProcessing || job.Progress != 5 {
		t.Errorf("unexpected job after mutate: %+v", job)
	}
}

func TestMutateErrorLeavesRecordUntouched(t *testing.T) {
	r := New()
	_ = r.Create(model.Job{ID: "job-1", Progress: 3})

	sentinel := errors.New("rejected")
	err := r.Mutate("job-1", func(job *model.Job) error {
		job.Progress = 50
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected sentinel error, got %v", err)
	}

	job, _ := r.Get("job-1")
	if job.Progress != 3 {
		t.Errorf("expected progress 3, got %d", job.Progress)
	}
}

func TestMutateMissingJob(t *testing.T) {
	r := New()
	err := r.Mutate("nope", func(job *model.Job) error { return nil })
	if !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
}

func TestRemove(t *testing.T) {
	r := New()
	if err := r.Create(model.Job{ID: "job-1", Status: model.JobStatusUploading}); err != nil {
		t.Fatal(err)
	}

	if !r.Remove("job-1") {
		t.Fatal("expected Remove to report an existing record")
	}
	if _, ok := r.Get("job-1"); ok {
		t.Error("expected job to be gone after Remove")
	}
	if r.Remove("job-1") {
		t.Error("expected second Remove to report nothing removed")
	}
}

func TestSweepExpiredIgnoresStatus(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
	r := newWithClock(clock.Now)

	_ = r.Create(model.Job{ID: "old-processing", Status: model.JobStatusProcessing})
	_ = r.Create(model.Job{ID: "old-completed", Status: model.JobStatusCompleted})
	clock.Advance(30 * time.Minute)
	_ = r.Create(model.Job{ID: "fresh", Status: model.JobStatusUploading})
	clock.Advance(31 * time.Minute)

	removed := r.SweepExpired(time.Hour)
	if removed != 2 {
		t.Fatalf("expected 2 removed, got %d", removed)
	}
	if _, ok := r.Get("old-processing"); ok {
		t.Error("expected processing job past retention to be evicted")
	}
	if _, ok := r.Get("fresh"); !ok {
		t.Error("expected job within retention to remain")
	}
}

func TestActiveJobsAndCounters(t *testing.T) {
	r := New()
	_ = r.Create(model.Job{ID: "a", Status: model.JobStatusUploading})
	_ = r.Create(model.Job{ID: "b", Status: model.JobStatusProcessing})
	_ = r.Create(model.Job{ID: "c", Status: model.JobStatusCompleted})
	_ = r.Create(model.Job{ID: "d", Status: model.JobStatusFailed})

	if got := r.ActiveJobs(); got != 2 {
		t.Errorf("expected 2 active jobs, got %d", got)
	}
	if got := len(r.Snapshot()); got != 4 {
		t.Errorf("expected snapshot of 4, got %d", got)
	}

	r.RecordUpload()
	r.RecordUpload()
	r.RecordSuccess()
	r.RecordFailure()

	c := r.Counters()
	if c.TotalUploads != 2 || c.TotalProcessed != 1 || c.TotalFailed != 1 {
		t.Errorf("unexpected counters: %+v", c)
	}
}

func TestConcurrentMutations(t *testing.T) {
	r := New()
	const jobs = 20

	var wg sync.WaitGroup
	for i := 0; i < jobs; i++ {
		id := fmt.Sprintf("job-%d", i)
		_ = r.Create(model.Job{ID: id, Status: model.JobStatusProcessing})

		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			for p := 1; p <= 99; p++ {
				_ = r.Mutate(id, func(job *model.Job) error {
					if p > job.Progress {
						job.Progress = p
					}
					return nil
				})
				_, _ = r.Get(id)
				_ = r.Snapshot()
			}
		}(id)
	}
	wg.Wait()

	for _, job := range r.Snapshot() {
		if job.Progress != 99 {
			t.Errorf("job %s: expected progress 99, got %d", job.ID, job.Progress)
		}
	}
}
