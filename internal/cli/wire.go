// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/jeranaias/promptlab/internal/analytics"
	"github.com/jeranaias/promptlab/internal/config"
	"github.com/jeranaias/promptlab/internal/orchestrator"
	"github.com/jeranaias/promptlab/internal/provider"
	"github.com/jeranaias/promptlab/internal/reconcile"
	"github.com/jeranaias/promptlab/internal/sentiment"
	"github.com/jeranaias/promptlab/internal/storage"
	"github.com/jeranaias/promptlab/internal/telemetry"
)

// Reconciliation queue bounds.
const (
	queueHistory = 100
	queueBacklog = 1000
)

// =============================================================================
// APP
// =============================================================================

// App holds the components every command shares. Build it with OpenApp and
// release it with Close.
type App struct {
	Config       *config.Config
	ConfigPath   string
	StoragePath  string
	Convs        storage.ConversationStore
	Metrics      telemetry.MetricsStore
	Orchestrator *orchestrator.Orchestrator
	Aggregator   *analytics.Aggregator
	Queue        *reconcile.Queue
	Runner       *reconcile.Runner
	Sweeper      *telemetry.Sweeper

	// Skipped lists enabled providers that could not be built.
	Skipped []string

	orchErr error
	closer  io.Closer
}

// setupLogging sends the package log to stderr in verbose mode and
// discards it otherwise, so command output stays clean.
func setupLogging(args Args) {
	log.SetFlags(log.LstdFlags)
	if args.Verbose {
		log.SetOutput(os.Stderr)
		return
	}
	log.SetOutput(io.Discard)
}

// loadConfig loads the file named by --config, or the default location.
func loadConfig(args Args) (*config.Config, string, error) {
	path := args.ConfigPath
	if path == "" {
		p, err := config.ConfigPathTOML()
		if err != nil {
			return nil, "", err
		}
		path = p
		cfg, err := config.Load("")
		return cfg, path, err
	}
	cfg, err := config.Load(path)
	return cfg, path, err
}

// OpenApp loads configuration and builds the stores, providers,
// orchestrator, aggregator and background workers. Workers are not
// started; serve and chat start them.
func OpenApp(args Args) (*App, error) {
	cfg, path, err := loadConfig(args)
	if err != nil {
		return nil, err
	}
	app, err := NewApp(cfg)
	if err != nil {
		return nil, err
	}
	app.ConfigPath = path
	return app, nil
}

// NewApp builds an App from an already loaded configuration.
func NewApp(cfg *config.Config) (*App, error) {
	app := &App{Config: cfg}

	if err := app.openStores(); err != nil {
		return nil, err
	}

	clients, skipped := buildProviders(cfg)
	app.Skipped = skipped

	app.Queue = reconcile.NewQueue(queueHistory, queueBacklog)
	app.Runner = reconcile.NewRunner(app.Queue, app.Convs, app.Metrics, reconcile.Options{
		Interval:     time.Duration(cfg.Reconcile.IntervalSecs) * time.Second,
		MaxAttempts:  cfg.Reconcile.MaxAttempts,
		WriteTimeout: time.Duration(cfg.Orchestrator.PersistTimeoutSecs) * time.Second,
	})
	// Commands that only read analytics work without providers; the
	// error is kept for the ones that send messages.
	app.Orchestrator, app.orchErr = orchestrator.New(orchestratorOptions(cfg), clients,
		sentiment.NewLexiconAnalyzer(), app.Convs, app.Metrics, app.Runner)

	app.Aggregator = analytics.New(app.Metrics, app.Convs, analytics.Options{
		DefaultWindowDays:  cfg.Analytics.DefaultWindowDays,
		SentimentThreshold: cfg.Analytics.SentimentTrendThreshold,
		ActivityRatio:      cfg.Analytics.ActivityTrendRatio,
	})

	app.Sweeper = telemetry.NewSweeper(app.Metrics, cfg.Analytics.RetentionDays, time.Hour)
	return app, nil
}

func (a *App) openStores() error {
	switch a.Config.Storage.Driver {
	case "memory":
		a.Convs = storage.NewMemoryStore()
		a.Metrics = telemetry.NewMemoryStore()
		return nil
	default:
		path, err := resolveStoragePath(a.Config.Storage.Path)
		if err != nil {
			return err
		}
		store, err := storage.OpenSQLite(path)
		if err != nil {
			return fmt.Errorf("open storage: %w", err)
		}
		a.StoragePath = path
		a.Convs = store
		a.Metrics = store
		a.closer = store
		return nil
	}
}

// resolveStoragePath places a relative database path in the config
// directory so every invocation shares one database.
func resolveStoragePath(path string) (string, error) {
	if path == ":memory:" || filepath.IsAbs(path) {
		return path, nil
	}
	dir, err := config.ConfigDir()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", fmt.Errorf("create config dir: %w", err)
	}
	return filepath.Join(dir, path), nil
}

// buildProviders creates a client for each usable provider. Enabled
// providers without a key, or whose settings are rejected, are skipped.
func buildProviders(cfg *config.Config) ([]provider.Client, []string) {
	usable := make(map[string]bool)
	var clients []provider.Client
	var skipped []string
	for _, p := range cfg.UsableProviders() {
		c, err := provider.New(p.Settings())
		if err != nil {
			log.Printf("PROVIDER_SKIPPED | provider=%s reason=%v", p.Name, err)
			skipped = append(skipped, p.Name)
			continue
		}
		usable[p.Name] = true
		clients = append(clients, c)
	}
	for _, p := range cfg.Providers {
		if p.IsEnabled() && p.APIKey == "" && !usable[p.Name] {
			skipped = append(skipped, p.Name)
		}
	}
	return clients, skipped
}

func orchestratorOptions(cfg *config.Config) orchestrator.Options {
	oc := cfg.Orchestrator
	return orchestrator.Options{
		Priority:         oc.Priority,
		ProviderTimeout:  time.Duration(oc.ProviderTimeoutSecs) * time.Second,
		ProviderTimeouts: cfg.ProviderTimeouts(),
		PersistTimeout:   time.Duration(oc.PersistTimeoutSecs) * time.Second,
		HistoryMessages:  oc.HistoryMessages,
		MaxTokens:        oc.MaxTokens,
		Temperature:      oc.Temperature,
		SystemPrompt:     oc.SystemPrompt,
	}
}

// RequireOrchestrator returns the orchestrator, or the configuration error
// that prevented building it.
func (a *App) RequireOrchestrator() (*orchestrator.Orchestrator, error) {
	if a.Orchestrator == nil {
		return nil, a.orchErr
	}
	return a.Orchestrator, nil
}

// StartWorkers runs the reconciliation runner and the retention sweeper.
func (a *App) StartWorkers(ctx context.Context) {
	a.Runner.Start()
	a.Sweeper.Start(ctx)
}

// Close stops the workers, then drains once so queued writes get a last
// chance, then closes the stores.
func (a *App) Close() error {
	if a.Runner != nil {
		a.Runner.Stop()
		if a.Queue != nil && a.Queue.Backlog() > 0 {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			a.Runner.RunOnce(ctx)
			cancel()
		}
	}
	if a.Sweeper != nil {
		a.Sweeper.Stop()
	}
	if a.closer != nil {
		return a.closer.Close()
	}
	return nil
}
