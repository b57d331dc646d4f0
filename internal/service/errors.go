package service

import "errors"

var (
	ErrNoFile          = errors.New("no file provided")
	ErrInvalidFileType = errors.New("file type not allowed")
	ErrFileTooLarge    = errors.New("file exceeds maximum upload size")
	ErrInvalidJobID    = errors.New("invalid job id")
	ErrJobNotFound     = errors.New("job not found")
	ErrJobNotCompleted = errors.New("job not completed")
	ErrOutputMissing   = errors.New("output file missing")
)
