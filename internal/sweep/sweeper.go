package sweep

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"stagehand/internal/config"
	"stagehand/internal/fanout"
	"stagehand/internal/journal"
	"stagehand/internal/logging"
	"stagehand/internal/manifest"
	"stagehand/internal/metrics"
	"stagehand/internal/services"
	"stagehand/internal/stage"
	"stagehand/internal/stagefs"
)

const (
	// OutcomeCompleted labels entries moved into a completed directory.
	OutcomeCompleted = "completed"
	// OutcomeRetired labels manifests moved into manifests/completed.
	OutcomeRetired = "retired"
)

// errDeferred marks an aggregate whose parts are still landing.
var errDeferred = errors.New("aggregate part still landing")

// Sweeper consumes manifests from Source.
type Sweeper struct {
	StageName string
	Source    string
	Dirs      manifest.Dirs
	// CompletedDir maps a manifest category to its terminal directory.
	CompletedDir func(category string) string
	Concurrency  int

	Logger  *slog.Logger
	Journal *journal.Journal
	Metrics *metrics.Metrics
}

// New builds a sweeper over manifests/registered.
func New(cfg *config.Config, logger *slog.Logger, j *journal.Journal, m *metrics.Metrics) *Sweeper {
	return &Sweeper{
		StageName:    config.ComponentSweep,
		Source:       cfg.Stages.ManifestsRegistered,
		Dirs:         manifest.DirsFromConfig(cfg),
		CompletedDir: cfg.CompletedDir,
		Concurrency:  cfg.Workflow.MaxConcurrency,
		Logger:       logger,
		Journal:      j,
		Metrics:      m,
	}
}

// Name returns the stage name.
func (s *Sweeper) Name() string { return s.StageName }

// HealthCheck verifies the manifest roots.
func (s *Sweeper) HealthCheck(context.Context) stage.Health {
	return stage.DirHealth(s.StageName, s.Source, s.Dirs.Completed)
}

// Tick sweeps every manifest at the top level of Source. Manifests are
// handled one at a time; the entry moves inside a manifest fan out.
func (s *Sweeper) Tick(ctx context.Context) (stage.Stats, error) {
	stats := stage.Stats{Stage: s.StageName, Started: time.Now()}
	ctx = services.WithStage(ctx, s.StageName)
	logger := logging.WithContext(ctx, s.Logger)
	defer func() { stats.Duration = time.Since(stats.Started) }()

	docs, err := stagefs.Scan(s.Source, false)
	if err != nil {
		return stats, services.Wrap(services.ErrTransient, s.StageName, "scan", "could not list manifests", err)
	}
	stats.Scanned = len(docs)

	acc := &accumulator{stats: &stats}
	var errs []error
	for _, entry := range docs {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		docCtx := services.WithEntry(ctx, entry.Name)
		docLogger := logging.WithContext(docCtx, logger)
		err := s.sweepDocument(docCtx, docLogger, acc, entry)
		switch {
		case err == nil:
		case errors.Is(err, errDeferred):
			acc.stay()
			docLogger.Debug("aggregate deferred", logging.String(logging.FieldEventType, "sweep_deferred"))
		case errors.Is(err, services.ErrValidation):
			acc.skip()
			logging.WarnWithContext(docLogger, "manifest unreadable", "manifest_invalid",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "inspect the manifest JSON"),
				logging.String(logging.FieldImpact, "manifest left in place and retried next sweep"),
			)
		case ctx.Err() != nil:
			return stats, ctx.Err()
		default:
			acc.fail()
			errs = append(errs, err)
		}
	}
	return stats, errors.Join(errs...)
}

func (s *Sweeper) sweepDocument(ctx context.Context, logger *slog.Logger, acc *accumulator, entry stagefs.Entry) error {
	doc, err := manifest.Read(entry.Path)
	if err != nil {
		if manifest.IsMissing(err) {
			return nil
		}
		return err
	}

	switch doc.Kind {
	case manifest.KindBatch:
		if err := s.sweepFiles(ctx, logger, acc, doc); err != nil {
			return err
		}
		return s.retire(ctx, logger, acc, entry.Path, filepath.Join(s.Dirs.Completed, doc.Category, entry.Name))
	case manifest.KindAggregate:
		return s.sweepAggregate(ctx, logger, acc, entry, doc)
	default:
		return services.Wrap(services.ErrValidation, s.StageName, "sweep", "unknown manifest kind", nil)
	}
}

func (s *Sweeper) sweepAggregate(ctx context.Context, logger *slog.Logger, acc *accumulator, entry stagefs.Entry, agg manifest.Document) error {
	for _, ref := range agg.Manifests {
		if _, done := s.Dirs.Locate(ref.Path, s.Dirs.Completed); done {
			continue
		}
		if _, landing := s.Dirs.Locate(ref.Path, s.Dirs.Landed); landing {
			return errDeferred
		}
	}

	for _, ref := range agg.Manifests {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, done := s.Dirs.Locate(ref.Path, s.Dirs.Completed); done {
			continue
		}
		root, ok := s.Dirs.Locate(ref.Path, s.Dirs.Uploaded, s.Dirs.Registered, s.Dirs.Dropped, s.Dirs.Failed)
		if !ok {
			logging.WarnWithContext(logger, "aggregate part missing", "manifest_part_missing",
				logging.String("part", ref.Path),
				logging.String(logging.FieldErrorHint, "the part was removed outside the pipeline"),
				logging.String(logging.FieldImpact, "part treated as retired"),
			)
			continue
		}
		partPath := filepath.Join(root, filepath.FromSlash(ref.Path))
		part, err := manifest.Read(partPath)
		if err != nil {
			if manifest.IsMissing(err) {
				continue
			}
			return fmt.Errorf("part %s: %w", ref.Path, err)
		}
		if err := s.sweepFiles(ctx, logger, acc, part); err != nil {
			return err
		}
		if err := s.retire(ctx, logger, acc, partPath, filepath.Join(s.Dirs.Completed, filepath.FromSlash(ref.Path))); err != nil {
			return err
		}
	}

	return s.retire(ctx, logger, acc, entry.Path, filepath.Join(s.Dirs.Completed, config.CompletedAggregate, entry.Name))
}

// sweepFiles moves every entry listed by a batch document into its
// category's completed directory. Entries already moved are skipped.
func (s *Sweeper) sweepFiles(ctx context.Context, logger *slog.Logger, acc *accumulator, doc manifest.Document) error {
	if len(doc.Files) == 0 {
		return nil
	}
	dest := s.CompletedDir(doc.Category)
	_, err := fanout.Run(ctx, doc.Files, s.Concurrency, func(ctx context.Context, f manifest.FileRecord) error {
		return s.completeFile(ctx, logger, acc, dest, f)
	})
	return err
}

func (s *Sweeper) completeFile(ctx context.Context, logger *slog.Logger, acc *accumulator, destDir string, f manifest.FileRecord) error {
	dst := filepath.Join(destDir, filepath.FromSlash(f.Name))
	err := stagefs.Move(f.Path, dst)
	if err == nil {
		s.stamp(logger, dst)
		acc.moved(OutcomeCompleted)
		s.record(ctx, f, dst)
		return nil
	}
	if !stagefs.IsVanished(err) {
		logging.WarnWithContext(logger, "completion move failed", "move_failed",
			logging.String("source", f.Path),
			logging.String("destination", dst),
			logging.Error(err),
			logging.String(logging.FieldImpact, "manifest retried next sweep"),
		)
		return services.Wrap(services.ErrTransient, s.StageName, "move", "could not complete "+f.Name, err)
	}
	acc.skip()
	if _, statErr := os.Stat(dst); statErr == nil {
		return nil
	}
	logging.WarnWithContext(logger, "manifested entry missing", "entry_missing",
		logging.String("source", f.Path),
		logging.String(logging.FieldErrorHint, "the entry was removed outside the pipeline"),
		logging.String(logging.FieldImpact, "entry skipped"),
	)
	return nil
}

func (s *Sweeper) retire(ctx context.Context, logger *slog.Logger, acc *accumulator, src, dst string) error {
	if err := stagefs.Move(src, dst); err != nil {
		if stagefs.IsVanished(err) {
			return nil
		}
		return services.Wrap(services.ErrTransient, s.StageName, "retire", filepath.Base(src), err)
	}
	s.stamp(logger, dst)
	acc.moved(OutcomeRetired)
	s.Metrics.ObserveTransition(s.StageName, OutcomeRetired)
	logger.Info("manifest retired",
		logging.String(logging.FieldEventType, "manifest_retired"),
		logging.String("destination", dst),
	)
	return nil
}

// stamp marks dst as arriving now, so completed retention ages it from
// completion rather than from when it was first written.
func (s *Sweeper) stamp(logger *slog.Logger, dst string) {
	if err := stagefs.MarkArrived(dst, time.Now()); err != nil {
		logger.Debug("arrival stamp failed", logging.String("path", dst), logging.Error(err))
	}
}

func (s *Sweeper) record(ctx context.Context, f manifest.FileRecord, dest string) {
	s.Metrics.ObserveTransition(s.StageName, OutcomeCompleted)
	if s.Journal == nil {
		return
	}
	rec := journal.Transition{
		Stage:   s.StageName,
		Entry:   f.Name,
		Outcome: OutcomeCompleted,
		Source:  f.Path,
		Dest:    dest,
		Size:    f.Size,
	}
	if rid, ok := services.RequestIDFromContext(ctx); ok {
		rec.CorrelationID = rid
	}
	if err := s.Journal.RecordTransition(context.WithoutCancel(ctx), rec); err != nil {
		logging.WithContext(ctx, s.Logger).Debug("journal write failed", logging.Error(err))
	}
}

type accumulator struct {
	mu    sync.Mutex
	stats *stage.Stats
}

func (a *accumulator) moved(outcome string) {
	a.mu.Lock()
	a.stats.Count(outcome)
	a.mu.Unlock()
}

func (a *accumulator) stay() {
	a.mu.Lock()
	a.stats.Stayed++
	a.mu.Unlock()
}

func (a *accumulator) skip() {
	a.mu.Lock()
	a.stats.Skipped++
	a.mu.Unlock()
}

func (a *accumulator) fail() {
	a.mu.Lock()
	a.stats.Failed++
	a.mu.Unlock()
}
