package worker

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/stripaudio/api/internal/filestore"
	"github.com/stripaudio/api/internal/model"
	"github.com/stripaudio/api/internal/registry"
)

const (
	// DefaultFFmpegBinary is resolved from PATH when no explicit path is configured.
	DefaultFFmpegBinary = "ffmpeg"
	// DefaultStderrLimit bounds the diagnostic kept from a failed process.
	DefaultStderrLimit = 500
)

// DurationProber reports media duration in seconds; 0 means unknown.
type DurationProber interface {
	Duration(ctx context.Context, path string) float64
}

// ProgressNotifier receives job updates as the worker observes them.
type ProgressNotifier interface {
	BroadcastProgress(jobID string, progress int, status model.JobStatus)
	BroadcastComplete(jobID string, result interface{})
	BroadcastError(jobID string, code, message string)
}

// TranscodeConfig configures the external strip-audio process.
type TranscodeConfig struct {
	FFmpegPath  string
	StderrLimit int
}

// TranscodeWorker drives one ffmpeg process per job and is the only writer
// of a job's progress and terminal fields.
type TranscodeWorker struct {
	registry    *registry.Registry
	store       *filestore.Store
	prober      DurationProber
	notifier    ProgressNotifier
	ffmpegPath  string
	stderrLimit int
	logger      *zap.Logger
	now         func() time.Time
	wg          sync.WaitGroup
}

// NewTranscodeWorker creates a new transcode worker. A nil notifier disables
// push updates.
func NewTranscodeWorker(
	reg *registry.Registry,
	store *filestore.Store,
	prober DurationProber,
	notifier ProgressNotifier,
	cfg TranscodeConfig,
	logger *zap.Logger,
) *TranscodeWorker {
	if notifier == nil {
		notifier = noopNotifier{}
	}
	ffmpegPath := strings.TrimSpace(cfg.FFmpegPath)
	if ffmpegPath == "" {
		ffmpegPath = DefaultFFmpegBinary
	}
	limit := cfg.StderrLimit
	if limit <= 0 {
		limit = DefaultStderrLimit
	}

	return &TranscodeWorker{
		registry:    reg,
		store:       store,
		prober:      prober,
		notifier:    notifier,
		ffmpegPath:  ffmpegPath,
		stderrLimit: limit,
		logger:      logger,
		now:         time.Now,
	}
}

// Start moves an uploading job to processing and launches its transcode in
// the background. The transition happens before Start returns, so a poller
// never sees a scheduled job as still uploading. Starting a job the
// registry no longer holds is a no-op.
func (w *TranscodeWorker) Start(jobID string) error {
	var inputPath, outputPath string

	err := w.registry.Mutate(jobID, func(job *model.Job) error {
		if !job.Status.CanTransitionTo(model.JobStatusProcessing) {
			return fmt.Errorf("cannot start job in status %s", job.Status)
		}
		ext := filepath.Ext(job.InputPath)
		out, err := w.store.OutputPathFor(job.ID, ext)
		if err != nil {
			return err
		}

		job.Status = model.JobStatusProcessing
		job.Progress = 0
		job.OutputPath = out
		job.OutputFilename = outputFilename(job.OriginalName, ext)

		inputPath = job.InputPath
		outputPath = out
		return nil
	})
	if errors.Is(err, registry.ErrJobNotFound) {
		w.logger.Warn("transcode requested for unknown job", zap.String("job_id", jobID))
		return nil
	}
	if err != nil {
		return err
	}

	w.notifier.BroadcastProgress(jobID, 0, model.JobStatusProcessing)

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.process(context.Background(), jobID, inputPath, outputPath)
	}()
	return nil
}

// Wait blocks until every launched transcode has reached a terminal state.
func (w *TranscodeWorker) Wait() {
	w.wg.Wait()
}

func (w *TranscodeWorker) process(ctx context.Context, jobID, inputPath, outputPath string) {
	started := w.now()
	log := w.logger.With(zap.String("job_id", jobID))
	log.Info("Starting transcode", zap.String("input", inputPath), zap.String("output", outputPath))

	duration := w.prober.Duration(ctx, inputPath)
	if duration <= 0 {
		log.Info("Duration unknown; progress will stay at 0 until completion")
	}

	tracker := newProgressTracker(duration)
	stderr := newPrefixBuffer(w.stderrLimit)

	exitErr := w.runFFmpeg(ctx, inputPath, outputPath, stderr, func(line string) {
		if pct, ok := tracker.Observe(line); ok {
			w.updateProgress(jobID, pct)
		}
	})

	if exitErr != nil {
		w.failJob(jobID, outputPath, failureMessage(exitErr, stderr.String()))
		log.Warn("Transcode failed",
			zap.Error(exitErr),
			zap.String("stderr", stderr.String()),
			zap.Duration("elapsed", w.now().Sub(started)),
		)
		return
	}

	if !tracker.ended {
		log.Warn("Transcoder exited cleanly without reporting progress=end")
	}
	w.completeJob(jobID)
	log.Info("Transcode completed", zap.Duration("elapsed", w.now().Sub(started)))
}

// runFFmpeg launches ffmpeg and blocks until it exits. stdout and stderr are
// drained concurrently before Wait so neither pipe can fill and stall the
// child.
func (w *TranscodeWorker) runFFmpeg(ctx context.Context, inputPath, outputPath string, stderr io.Writer, onLine func(string)) error {
	cmd := exec.CommandContext(ctx, w.ffmpegPath, ffmpegArgs(inputPath, outputPath)...)

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("open stdout: %w", err)
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("open stderr: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start transcoder: %w", err)
	}

	var drain sync.WaitGroup
	drain.Add(2)
	go func() {
		defer drain.Done()
		scanner := bufio.NewScanner(stdoutPipe)
		for scanner.Scan() {
			onLine(scanner.Text())
		}
		// keep reading past a too-long line so the child never blocks
		_, _ = io.Copy(io.Discard, stdoutPipe)
	}()
	go func() {
		defer drain.Done()
		_, _ = io.Copy(stderr, stderrPipe)
	}()
	drain.Wait()

	return cmd.Wait()
}

// ffmpegArgs drops every audio stream and remuxes video without re-encoding.
// Only errors reach stderr, so the bounded capture holds the failure reason.
func ffmpegArgs(inputPath, outputPath string) []string {
	return []string{
		"-hide_banner",
		"-nostats",
		"-loglevel", "error",
		"-i", inputPath,
		"-an",
		"-c:v", "copy",
		"-y",
		"-progress", "pipe:1",
		outputPath,
	}
}

func (w *TranscodeWorker) updateProgress(jobID string, pct int) {
	advanced := false
	err := w.registry.Mutate(jobID, func(job *model.Job) error {
		if job.Status != model.JobStatusProcessing || pct <= job.Progress {
			return nil
		}
		job.Progress = pct
		advanced = true
		return nil
	})
	if err != nil {
		w.logger.Debug("progress update skipped", zap.String("job_id", jobID), zap.Error(err))
		return
	}
	if advanced {
		w.notifier.BroadcastProgress(jobID, pct, model.JobStatusProcessing)
	}
}

func (w *TranscodeWorker) completeJob(jobID string) {
	var result model.DownloadResult
	err := w.registry.Mutate(jobID, func(job *model.Job) error {
		if !job.Status.CanTransitionTo(model.JobStatusCompleted) {
			return fmt.Errorf("cannot complete job in status %s", job.Status)
		}
		now := w.now()
		job.Status = model.JobStatusCompleted
		job.Progress = 100
		job.CompletedAt = &now
		job.Error = nil

		result = model.DownloadResultFor(job.ID, job.OutputFilename)
		return nil
	})
	if err != nil {
		w.logger.Warn("Failed to mark job as completed", zap.String("job_id", jobID), zap.Error(err))
		return
	}

	w.registry.RecordSuccess()
	w.notifier.BroadcastProgress(jobID, 100, model.JobStatusCompleted)
	w.notifier.BroadcastComplete(jobID, result)
}

// failJob records the terminal failure and drops any partial output; a
// failed job carries no output path.
func (w *TranscodeWorker) failJob(jobID, outputPath, errMsg string) {
	err := w.registry.Mutate(jobID, func(job *model.Job) error {
		if !job.Status.CanTransitionTo(model.JobStatusFailed) {
			return fmt.Errorf("cannot fail job in status %s", job.Status)
		}
		job.Status = model.JobStatusFailed
		job.Error = &errMsg
		job.OutputPath = ""
		job.OutputFilename = ""
		return nil
	})

	if rmErr := w.store.Remove(outputPath); rmErr != nil {
		w.logger.Warn("Failed to remove partial output", zap.String("path", outputPath), zap.Error(rmErr))
	}

	if err != nil {
		w.logger.Warn("Failed to mark job as failed", zap.String("job_id", jobID), zap.Error(err))
		return
	}

	w.registry.RecordFailure()
	w.notifier.BroadcastError(jobID, model.ErrorCodeTranscodeFailed, errMsg)
}

func failureMessage(err error, stderr string) string {
	var exitErr *exec.ExitError
	msg := err.Error()
	if errors.As(err, &exitErr) {
		msg = fmt.Sprintf("transcoder exited with code %d", exitErr.ExitCode())
	}
	if stderr != "" {
		msg += ": " + stderr
	}
	return msg
}

// outputFilename is the name offered to the client on download.
func outputFilename(originalName, ext string) string {
	base := filepath.Base(originalName)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	if base == "" || base == "." || base == string(filepath.Separator) {
		base = "video"
	}
	return base + filestore.OutputSuffix + ext
}

type noopNotifier struct{}

func (noopNotifier) BroadcastProgress(string, int, model.JobStatus) {}
func (noopNotifier) BroadcastComplete(string, interface{})          {}
func (noopNotifier) BroadcastError(string, string, string)          {}
