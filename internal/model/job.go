package model

import "time"

// Job represents one upload-to-output unit of work
type Job struct {
	ID             string     `json:"id"`
	Status         JobStatus  `json:"status"`
	Progress       int        `json:"progress"`
	OriginalName   string     `json:"originalName"`
	InputPath      string     `json:"-"`
	OutputPath     string     `json:"-"` // empty until the transcode has begun
	OutputFilename string     `json:"outputFilename,omitempty"`
	Error          *string    `json:"error"`
	CreatedAt      time.Time  `json:"createdAt"`
	CompletedAt    *time.Time `json:"completedAt,omitempty"`
}

// Clone returns a deep copy safe to hand out past the registry lock.
func (j Job) Clone() Job {
	out := j
	if j.Error != nil {
		msg := *j.Error
		out.Error = &msg
	}
	if j.CompletedAt != nil {
		at := *j.CompletedAt
		out.CompletedAt = &at
	}
	return out
}
