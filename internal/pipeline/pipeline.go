// Package pipeline assembles the stage handlers named in the configuration
// and registers them with a workflow manager.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"stagehand/internal/config"
	"stagehand/internal/journal"
	"stagehand/internal/logging"
	"stagehand/internal/manifest"
	"stagehand/internal/metrics"
	"stagehand/internal/notifications"
	"stagehand/internal/registry"
	"stagehand/internal/remote"
	"stagehand/internal/retention"
	"stagehand/internal/router"
	"stagehand/internal/stability"
	"stagehand/internal/stage"
	"stagehand/internal/stageexec"
	"stagehand/internal/sweep"
	"stagehand/internal/unpack"
	"stagehand/internal/upload"
	"stagehand/internal/workflow"
)

// Deps are the shared collaborators handed to every stage. Nil Journal and
// Metrics disable those concerns; a nil Store is built from the config.
type Deps struct {
	Logger    *slog.Logger
	Journal   *journal.Journal
	Metrics   *metrics.Metrics
	Notifier  notifications.Service
	Store     remote.Store
	Announcer registry.Announcer
}

// Pipeline is the assembled set of stages.
type Pipeline struct {
	Manager   *workflow.Manager
	Handlers  []stage.Handler
	Store     remote.Store
	Announcer registry.Announcer
}

// Close releases the announcer.
func (p *Pipeline) Close() error {
	if p == nil || p.Announcer == nil {
		return nil
	}
	return p.Announcer.Close()
}

// Build creates the handlers for every enabled component and registers them
// with a new manager, in pipeline order.
func Build(ctx context.Context, cfg *config.Config, deps Deps) (*Pipeline, error) {
	if cfg == nil {
		return nil, errors.New("pipeline: config is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	notifier := deps.Notifier
	if notifier == nil {
		notifier = notifications.NewService(cfg)
	}

	store := deps.Store
	if store == nil && (cfg.ComponentEnabled(config.ComponentUpload) || cfg.ComponentEnabled(config.ComponentManifestUpload)) {
		s, err := remote.New(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("remote store: %w", err)
		}
		store = s
	}
	announcer := deps.Announcer
	if announcer == nil && cfg.ComponentEnabled(config.ComponentRegister) {
		announcer = registry.NewAnnouncer(cfg, logger)
	}

	b := &builder{
		cfg:      cfg,
		logger:   logger,
		journal:  deps.Journal,
		metrics:  deps.Metrics,
		notifier: notifier,
		store:    store,
	}
	handlers := make([]stage.Handler, 0, len(config.Components))
	for _, name := range config.Components {
		if !cfg.ComponentEnabled(name) {
			continue
		}
		handlers = append(handlers, b.handler(name, announcer))
	}

	manager := workflow.NewManager(logger,
		workflow.WithJournal(deps.Journal),
		workflow.WithMetrics(deps.Metrics),
		workflow.WithNotifier(notifier),
	)
	for _, h := range handlers {
		if err := manager.Register(h, cfg.PollInterval(h.Name())); err != nil {
			return nil, err
		}
	}
	return &Pipeline{Manager: manager, Handlers: handlers, Store: store, Announcer: announcer}, nil
}

type builder struct {
	cfg      *config.Config
	logger   *slog.Logger
	journal  *journal.Journal
	metrics  *metrics.Metrics
	notifier notifications.Service
	store    remote.Store
}

func (b *builder) handler(name string, announcer registry.Announcer) stage.Handler {
	cfg := b.cfg
	stageLogger := logging.NewComponentLogger(b.logger, name)
	switch name {
	case config.ComponentUnpack:
		return b.exec(name, cfg.Stages.Compressed, cfg.Stages.Failed, unpack.New(cfg, stageLogger), cfg.Stages.Incoming)
	case config.ComponentMonitor:
		return b.exec(name, cfg.Stages.Incoming, cfg.Stages.Failed, stability.New(cfg), cfg.Stages.Landed)
	case config.ComponentFilter:
		return b.exec(name, cfg.Stages.Landed, cfg.Stages.Failed, router.New(cfg), cfg.Stages.Accepted, cfg.Stages.Rejected)
	case config.ComponentUpload:
		u := b.uploader(name, cfg.Stages.Uploaded, cfg.Stages.Dropped, cfg.Upload.AbandonAfter, stageLogger)
		return b.exec(name, cfg.Stages.Accepted, cfg.Stages.Failed, u, cfg.Stages.Uploaded, cfg.Stages.Dropped)
	case config.ComponentManifest:
		return manifest.NewBatcher(cfg, stageLogger, b.metrics, b.notifier)
	case config.ComponentManifestUpload:
		u := b.uploader(name, cfg.Stages.ManifestsUploaded, cfg.Stages.ManifestsDropped, cfg.Upload.ManifestAbandonAfter, stageLogger)
		s := b.exec(name, cfg.Stages.ManifestsLanded, cfg.Stages.ManifestsFailed, u, cfg.Stages.ManifestsUploaded, cfg.Stages.ManifestsDropped)
		// Batch documents live in category subdirectories.
		s.Recursive = true
		return s
	case config.ComponentRegister:
		s := b.exec(name, cfg.Stages.ManifestsUploaded, "", registry.New(cfg, announcer, stageLogger), cfg.Stages.ManifestsRegistered)
		// Only aggregates are registered; their parts travel by reference.
		s.Recursive = false
		return s
	case config.ComponentSweep:
		return sweep.New(cfg, stageLogger, b.journal, b.metrics)
	case config.ComponentRetention:
		return retention.New(cfg, b.journal, stageLogger)
	default:
		panic("pipeline: unknown component " + name)
	}
}

func (b *builder) exec(name, source, failure string, classifier stage.Classifier, healthDirs ...string) *stageexec.Stage {
	return &stageexec.Stage{
		StageName:   name,
		Source:      source,
		Recursive:   b.cfg.Workflow.Recursive,
		FailureDir:  failure,
		Concurrency: b.cfg.Workflow.MaxConcurrency,
		Classifier:  classifier,
		HealthDirs:  healthDirs,
		Logger:      logging.NewComponentLogger(b.logger, name),
		Journal:     b.journal,
		Metrics:     b.metrics,
	}
}

func (b *builder) uploader(name, uploaded, dropped string, abandonSeconds int, logger *slog.Logger) *upload.Uploader {
	return &upload.Uploader{
		StageName: name,
		Uploaded:  uploaded,
		Dropped:   dropped,
		Store:     b.store,
		KeyPrefix: b.cfg.Remote.KeyPrefix,
		Policy:    upload.PolicyFromConfig(b.cfg.Upload, abandonSeconds),
		Logger:    logger,
		Metrics:   b.metrics,
		Notifier:  b.notifier,
	}
}
