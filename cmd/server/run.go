package main

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/stripaudio/api/internal/config"
	"github.com/stripaudio/api/internal/filestore"
	"github.com/stripaudio/api/internal/handler"
	"github.com/stripaudio/api/internal/logging"
	"github.com/stripaudio/api/internal/middleware"
	"github.com/stripaudio/api/internal/probe"
	"github.com/stripaudio/api/internal/registry"
	"github.com/stripaudio/api/internal/server"
	"github.com/stripaudio/api/internal/service"
	"github.com/stripaudio/api/internal/websocket"
	"github.com/stripaudio/api/internal/worker"
)

const shutdownTimeout = 10 * time.Second

func run(parent context.Context, cfg *config.Config) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger, err := logging.New(cfg.Server.LogLevel, cfg.Server.LogFormat)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	checkBinaries(logger, cfg.Transcoder.FFmpegPath, cfg.Transcoder.FFprobePath)

	store, err := filestore.Open(cfg.Storage.DataDir, logger)
	if err != nil {
		return fmt.Errorf("open data dir: %w", err)
	}
	defer store.Close()

	redisClient := newRedisClient(ctx, cfg.Redis, logger)
	if redisClient != nil {
		defer redisClient.Close()
	}

	// Initialize WebSocket hub
	hub := websocket.NewHub(logger.Named("ws"))
	go hub.Run()
	defer hub.Stop()

	reg := registry.New()
	prober := probe.New(cfg.Transcoder.FFprobePath, logger.Named("probe"))
	transcoder := worker.NewTranscodeWorker(reg, store, prober, hub, worker.TranscodeConfig{
		FFmpegPath:  cfg.Transcoder.FFmpegPath,
		StderrLimit: cfg.Transcoder.StderrLimit,
	}, logger.Named("transcode"))

	sweeper := worker.NewSweeper(store, reg, cfg.Jobs.Retention, cfg.Jobs.SweepInterval, logger.Named("sweep"))
	sweepDone := make(chan struct{})
	go func() {
		defer close(sweepDone)
		sweeper.Run(ctx)
	}()

	// Initialize services and handlers
	validate := handler.NewValidator()
	uploadService := service.NewUploadService(reg, store, transcoder, service.UploadPolicy{
		MaxSize:           cfg.Upload.MaxSize,
		AllowedExtensions: cfg.Upload.AllowedExtensions,
		AllowedMIMETypes:  cfg.Upload.AllowedMIMETypes,
	}, logger)
	jobService := service.NewJobService(reg)

	app := server.New(server.Options{
		MaxUploadSize: cfg.Upload.MaxSize,
		CORSOrigins:   cfg.Server.CORSOrigins,
		UploadPerHour: cfg.RateLimit.UploadPerHour,
	}, server.Handlers{
		Upload:    handler.NewUploadHandler(uploadService, logger),
		Job:       handler.NewJobHandler(jobService, validate, logger),
		WebSocket: handler.NewWebSocketHandler(hub, jobService),
	}, middleware.NewRateLimiter(redisClient, logger), logger)

	listenErr := make(chan error, 1)
	go func() {
		addr := cfg.Server.Addr()
		logger.Info("Server starting",
			zap.String("addr", addr),
			zap.String("data_dir", cfg.Storage.DataDir),
			zap.Duration("retention", cfg.Jobs.Retention),
			zap.Duration("sweep_interval", cfg.Jobs.SweepInterval),
		)
		listenErr <- app.Listen(addr)
	}()

	select {
	case err := <-listenErr:
		stop()
		<-sweepDone
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("Shutting down server...", zap.Int("active_jobs", reg.ActiveJobs()))
	if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil {
		logger.Warn("Server shutdown error", zap.Error(err))
	}
	<-sweepDone

	if err := <-listenErr; err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// newRedisClient returns nil when no address is configured. An unreachable
// server only disables rate limiting.
func newRedisClient(ctx context.Context, cfg config.RedisConfig, logger *zap.Logger) *redis.Client {
	if cfg.Addr == "" {
		logger.Info("Redis not configured; upload rate limiting disabled")
		return nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Warn("Redis not available; requests will not be rate limited until it is",
			zap.String("addr", cfg.Addr), zap.Error(err))
	}
	return client
}

// checkBinaries warns about missing tools without aborting: uploads are
// still accepted and fail at transcode time.
func checkBinaries(logger *zap.Logger, binaries ...string) {
	for _, bin := range binaries {
		path, err := exec.LookPath(bin)
		if err != nil {
			if errors.Is(err, exec.ErrNotFound) {
				logger.Warn("Binary not found on PATH", zap.String("binary", bin))
			} else {
				logger.Warn("Binary not usable", zap.String("binary", bin), zap.Error(err))
			}
			continue
		}
		logger.Debug("Binary found", zap.String("binary", bin), zap.String("path", path))
	}
}
