package model

import "time"

// UploadResponse is returned once a file is stored and its transcode scheduled
type UploadResponse struct {
	Success bool   `json:"success"`
	JobID   string `json:"jobId"`
	Message string `json:"message"`
}

// ProgressResponse represents the polled state of a job
type ProgressResponse struct {
	Success      bool      `json:"success"`
	JobID        string    `json:"jobId"`
	Status       JobStatus `json:"status"`
	Progress     int       `json:"progress"`
	OriginalName string    `json:"originalName"`
	Error        *string   `json:"error"`
}

// StatsResponse represents process-wide counters
type StatsResponse struct {
	Success        bool    `json:"success"`
	Uptime         float64 `json:"uptime"` // seconds
	TotalUploads   int64   `json:"totalUploads"`
	TotalProcessed int64   `json:"totalProcessed"`
	TotalFailed    int64   `json:"totalFailed"`
	ActiveJobs     int     `json:"activeJobs"`
}

// HealthResponse represents the liveness probe payload
type HealthResponse struct {
	Success   bool      `json:"success"`
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// DownloadResult is the payload pushed to websocket subscribers on completion
type DownloadResult struct {
	DownloadURL    string `json:"downloadUrl"`
	OutputFilename string `json:"outputFilename"`
}

// DownloadResultFor builds the completion payload for a finished job.
func DownloadResultFor(jobID, outputFilename string) DownloadResult {
	return DownloadResult{
		DownloadURL:    "/download/" + jobID,
		OutputFilename: outputFilename,
	}
}
