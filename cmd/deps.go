package cmd

import (
	"fmt"

	"github.com/facegate/facegate/internal/capture"
	"github.com/facegate/facegate/internal/config"
	"github.com/facegate/facegate/internal/extractor"
	"github.com/facegate/facegate/internal/store"
	"github.com/facegate/facegate/internal/verify"
)

// pipeline bundles the components every command variant builds from the
// configuration loaded once at process start.
type pipeline struct {
	cfg       *config.Config
	templates *store.Store
	engine    *verify.Engine
	extract   *extractor.Client
	source    *capture.Grabber
	lock      *capture.Lock
}

func buildPipeline() (*pipeline, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}

	templates, err := store.New(cfg.Store.TemplateDir)
	if err != nil {
		return nil, err
	}

	return &pipeline{
		cfg:       cfg,
		templates: templates,
		engine:    verify.NewEngine(templates, cfg.Auth.Threshold),
		extract:   extractor.NewClient(cfg.Embedding.URL, cfg.Embedding.Model),
		source:    capture.NewGrabber(cfg.Camera.Device, cfg.Camera.CaptureCommand),
		lock:      capture.NewLock(cfg.Camera.LockDir, cfg.Camera.Device),
	}, nil
}
