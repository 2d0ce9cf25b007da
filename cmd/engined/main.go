package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"transcode-engine/internal/capability"
	"transcode-engine/internal/config"
	"transcode-engine/internal/notify"
	"transcode-engine/internal/params"
	"transcode-engine/internal/queue"
	"transcode-engine/internal/runner"
	"transcode-engine/internal/server"
	"transcode-engine/internal/telemetry"
	"transcode-engine/pkg/models"
)

func main() {
	cfg, err := config.Load("config.yml")
	if err != nil {
		l := baseLogger(zerolog.InfoLevel)
		l.Fatal().Err(err).Msg("failed to load config")
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := baseLogger(level)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Probe FFmpeg once at startup. Without a usable binary the engine
	// cannot do anything, so this is fatal.
	det := &capability.Detector{
		OverridePath: cfg.FFmpegPath,
		Log:          log.With().Str("component", "capability").Logger(),
	}
	caps, err := capability.Init(ctx, det)
	if err != nil {
		log.Fatal().Err(err).Msg("ffmpeg detection failed")
	}
	log.Info().
		Str("ffmpeg", caps.FFmpegPath).
		Str("version", caps.Version).
		Bool("hardware", caps.HasHardware()).
		Msg("capabilities detected")

	concurrency := cfg.MaxConcurrentJobs
	if concurrency < 1 {
		concurrency = queue.DefaultConcurrency(caps.HasHardware(), telemetry.CoreCount(ctx))
	}

	run := &runner.Runner{
		FFmpegPath:  caps.FFmpegPath,
		FFprobePath: caps.FFprobePath,
		Grace:       time.Duration(cfg.CancelGraceSeconds) * time.Second,
		Log:         log.With().Str("component", "runner").Logger(),
	}

	resolver := func(req models.TranscodeRequest) (*params.Resolved, error) {
		return params.Resolve(req, capability.Current())
	}

	q := queue.New(queue.Options{
		Concurrency:      concurrency,
		Runner:           run,
		Resolver:         resolver,
		Notifier:         notify.NewWebhook(log.With().Str("component", "notify").Logger()),
		DefaultOutputDir: cfg.DefaultOutputDir,
		Log:              log.With().Str("component", "queue").Logger(),
	})
	q.Start()
	log.Info().Int("concurrency", concurrency).Msg("job queue started")

	srv := server.New(cfg.ListenAddr, q, telemetry.NewMonitor(),
		log.With().Str("component", "server").Logger())

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case <-stop:
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("http server failed")
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("http shutdown incomplete")
	}
	if err := q.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("queue shutdown incomplete, subprocesses may linger")
	}
	log.Info().Msg("engine stopped")
}

func baseLogger(level zerolog.Level) zerolog.Logger {
	out := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	return zerolog.New(out).
		Level(level).
		With().
		Timestamp().
		Logger()
}
