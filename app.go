package main

import (
	"fmt"
	"log/slog"

	"github.com/gofrs/flock"

	"mediarender/config"
	"mediarender/fetch"
	"mediarender/ffmpeg"
	"mediarender/logging"
	"mediarender/notify"
	"mediarender/pipeline"
	"mediarender/task"
	"mediarender/upload"
)

// app owns the long-lived pieces shared by the serve and render commands.
type app struct {
	cfg     *config.Config
	log     *slog.Logger
	lock    *flock.Flock
	manager *task.Manager
}

func loadApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}
	log := logging.New(logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat})

	lock, err := pipeline.LockRoot(cfg.WorkRoot, log)
	if err != nil {
		return nil, err
	}

	manager, err := buildManager(cfg, log)
	if err != nil {
		_ = lock.Unlock()
		return nil, err
	}
	return &app{cfg: cfg, log: log, lock: lock, manager: manager}, nil
}

func buildManager(cfg *config.Config, log *slog.Logger) (*task.Manager, error) {
	runner, err := ffmpeg.NewRunner(cfg, log)
	if err != nil {
		return nil, fmt.Errorf("initialize ffmpeg runner: %w", err)
	}

	p, err := pipeline.New(cfg, pipeline.Stages{
		Fetcher:    fetch.NewFetcher(cfg, log),
		Transcoder: ffmpeg.NewTranscoder(runner, cfg, log),
		Renderer:   ffmpeg.NewRenderer(runner, cfg, log),
		Uploader:   upload.NewDrive(cfg, log),
		Notifier:   notify.NewCallback(cfg, log),
		Gate:       ffmpeg.NewThrottle(cfg, cfg.WorkRoot, log),
	}, log)
	if err != nil {
		return nil, fmt.Errorf("initialize pipeline: %w", err)
	}

	manager, err := task.NewManager(p, log)
	if err != nil {
		return nil, fmt.Errorf("initialize task manager: %w", err)
	}
	return manager, nil
}

func (a *app) close() {
	if err := a.lock.Unlock(); err != nil {
		a.log.Warn("release work root lock", "error", err)
	}
}
