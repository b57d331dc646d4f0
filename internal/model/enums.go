package model

// Job status
type JobStatus string

const (
	JobStatusUploading  JobStatus = "uploading"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// IsTerminal reports whether no further transition is possible.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// CanTransitionTo enforces forward-only transitions:
// uploading -> processing -> {completed, failed}.
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	switch s {
	case JobStatusUploading:
		return next == JobStatusProcessing
	case JobStatusProcessing:
		return next == JobStatusCompleted || next == JobStatusFailed
	default:
		return false
	}
}
