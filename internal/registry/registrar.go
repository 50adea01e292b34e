package registry

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"stagehand/internal/config"
	"stagehand/internal/logging"
	"stagehand/internal/manifest"
	"stagehand/internal/services"
	"stagehand/internal/stage"
	"stagehand/internal/stagefs"
)

// OutcomeRegistered labels manifests moved to manifests/registered.
const OutcomeRegistered = "registered"

// Registrar announces each manifest and then routes it to Registered.
type Registrar struct {
	Registered string
	Announcer  Announcer
	Logger     *slog.Logger

	now func() time.Time
}

// New builds a registrar over the configured manifest roots.
func New(cfg *config.Config, announcer Announcer, logger *slog.Logger) *Registrar {
	return &Registrar{
		Registered: cfg.Stages.ManifestsRegistered,
		Announcer:  announcer,
		Logger:     logger,
	}
}

// Classify implements stage.Classifier. Unreadable documents stay where they
// are; an announce failure is returned so the tick reports it, and the
// document is retried next tick.
func (r *Registrar) Classify(ctx context.Context, entry stagefs.Entry) (stage.Decision, error) {
	logger := logging.WithContext(ctx, r.Logger)
	doc, err := manifest.Read(entry.Path)
	if err != nil {
		if manifest.IsMissing(err) {
			return stage.Stay(), nil
		}
		logging.WarnWithContext(logger, "manifest unreadable", "manifest_invalid",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "inspect the manifest JSON"),
			logging.String(logging.FieldImpact, "manifest left in place and retried next tick"),
		)
		return stage.Stay(), nil
	}

	reg := NewRegistration(doc, entry.Name, r.clock())
	if err := r.Announcer.Announce(ctx, reg); err != nil {
		if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
			return stage.Stay(), nil
		}
		return stage.Stay(), services.Wrap(services.ErrExternal, config.ComponentRegister, "announce", entry.Name, err)
	}
	return stage.MoveTo(OutcomeRegistered, r.Registered), nil
}

func (r *Registrar) clock() time.Time {
	if r.now != nil {
		return r.now()
	}
	return time.Now()
}
