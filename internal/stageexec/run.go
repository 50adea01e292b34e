package stageexec

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"stagehand/internal/fanout"
	"stagehand/internal/journal"
	"stagehand/internal/logging"
	"stagehand/internal/metrics"
	"stagehand/internal/services"
	"stagehand/internal/stage"
	"stagehand/internal/stagefs"
)

// OutcomeFailed labels entries routed to the failure directory after their
// classifier returned an error.
const OutcomeFailed = "failed"

// Stage is the generic scan-fanout-transition driver. It owns one source
// directory and asks its Classifier where every entry goes.
type Stage struct {
	StageName  string
	Source     string
	Recursive  bool
	FailureDir string
	// Concurrency bounds in-flight Classify calls; <= 0 means unbounded.
	Concurrency int
	Classifier  stage.Classifier
	// HealthDirs are checked in addition to Source and FailureDir.
	HealthDirs []string

	Logger  *slog.Logger
	Journal *journal.Journal
	Metrics *metrics.Metrics
}

// Name returns the stage name.
func (s *Stage) Name() string { return s.StageName }

// HealthCheck verifies the directories the stage reads and writes.
func (s *Stage) HealthCheck(context.Context) stage.Health {
	if s.Classifier == nil {
		return stage.Unhealthy(s.StageName, "classifier unavailable")
	}
	dirs := append([]string{s.Source}, s.HealthDirs...)
	if s.FailureDir != "" {
		dirs = append(dirs, s.FailureDir)
	}
	return stage.DirHealth(s.StageName, dirs...)
}

// Tick runs one cycle: scan the source, classify every entry concurrently,
// and move each entry to the successor its classifier chose. It returns once
// every launched classification has finished.
func (s *Stage) Tick(ctx context.Context) (stage.Stats, error) {
	stats := stage.Stats{Stage: s.StageName, Started: time.Now()}
	if s.Classifier == nil {
		return stats, fmt.Errorf("stage classifier unavailable: %s", s.StageName)
	}

	ctx = services.WithStage(ctx, s.StageName)
	logger := logging.WithContext(ctx, s.Logger)

	entries, err := stagefs.Scan(s.Source, s.Recursive)
	if err != nil {
		return stats, services.Wrap(services.ErrTransient, s.StageName, "scan", "could not list stage directory", err)
	}
	stats.Scanned = len(entries)

	if preparer, ok := s.Classifier.(stage.Preparer); ok {
		if err := preparer.Prepare(ctx, entries); err != nil {
			stats.Duration = time.Since(stats.Started)
			return stats, fmt.Errorf("prepare %s: %w", s.StageName, err)
		}
	}
	if len(entries) == 0 {
		stats.Duration = time.Since(stats.Started)
		return stats, nil
	}

	acc := &accumulator{stats: &stats}
	res, runErr := fanout.Run(ctx, entries, s.Concurrency, func(ctx context.Context, entry stagefs.Entry) error {
		return s.handle(ctx, logger, acc, entry)
	})
	stats.Failed = res.Failed
	stats.Duration = time.Since(stats.Started)

	logger.Debug("tick finished",
		logging.String(logging.FieldEventType, "tick_complete"),
		logging.Int("scanned", stats.Scanned),
		logging.Int("moved", stats.Moved),
		logging.Int("stayed", stats.Stayed),
		logging.Int("skipped", stats.Skipped),
		logging.Int("failed", stats.Failed),
		logging.Duration("duration", stats.Duration),
	)
	return stats, runErr
}

func (s *Stage) handle(ctx context.Context, logger *slog.Logger, acc *accumulator, entry stagefs.Entry) error {
	entryCtx := services.WithEntry(ctx, entry.Name)
	entryLogger := logging.WithContext(entryCtx, logger)

	decision, classifyErr := s.Classifier.Classify(entryCtx, entry)
	if classifyErr != nil {
		if ctx.Err() != nil && errors.Is(classifyErr, ctx.Err()) {
			acc.stay()
			return nil
		}
		return s.routeFailure(entryCtx, entryLogger, acc, entry, classifyErr)
	}
	if decision.Stays() {
		acc.stay()
		return nil
	}

	dest, err := stagefs.MoveInto(entry, decision.Dir)
	if err != nil {
		if stagefs.IsVanished(err) {
			acc.skip()
			entryLogger.Debug("entry vanished before move", logging.String(logging.FieldEventType, "entry_vanished"))
			return nil
		}
		logging.WarnWithContext(entryLogger, "entry move failed", "move_failed",
			logging.String("outcome", decision.Outcome),
			logging.String("destination", decision.Dir),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check permissions and free space on the destination stage"),
		)
		return services.Wrap(services.ErrTransient, s.StageName, "move", "could not move "+entry.Name, err)
	}

	acc.moved(decision.Outcome)
	s.record(entryCtx, entry, decision.Outcome, dest, nil)
	entryLogger.Info("entry moved",
		logging.String(logging.FieldEventType, "entry_moved"),
		logging.String("outcome", decision.Outcome),
		logging.String("destination", dest),
		logging.Int64("size_bytes", entry.Size),
	)
	return nil
}

func (s *Stage) routeFailure(ctx context.Context, logger *slog.Logger, acc *accumulator, entry stagefs.Entry, classifyErr error) error {
	if strings.TrimSpace(s.FailureDir) == "" {
		logging.WarnWithContext(logger, "entry decision failed", "decision_failed", logging.Error(classifyErr))
		return classifyErr
	}
	dest, err := stagefs.MoveInto(entry, s.FailureDir)
	switch {
	case err == nil:
		acc.moved(OutcomeFailed)
		s.record(ctx, entry, OutcomeFailed, dest, classifyErr)
		logging.WarnWithContext(logger, "entry routed to failure stage", "entry_failed",
			logging.String("destination", dest),
			logging.Error(classifyErr),
			logging.String(logging.FieldImpact, "entry moved to the failed stage"),
		)
	case stagefs.IsVanished(err):
		acc.skip()
	default:
		logging.WarnWithContext(logger, "failure routing failed", "move_failed",
			logging.String("destination", s.FailureDir),
			logging.Error(err),
		)
		return errors.Join(classifyErr, err)
	}
	return classifyErr
}

func (s *Stage) record(ctx context.Context, entry stagefs.Entry, outcome, dest string, cause error) {
	s.Metrics.ObserveTransition(s.StageName, outcome)
	if s.Journal == nil {
		return
	}
	rec := journal.Transition{
		Stage:   s.StageName,
		Entry:   entry.Name,
		Outcome: outcome,
		Source:  entry.Path,
		Dest:    dest,
		Size:    entry.Size,
	}
	if cause != nil {
		rec.Error = cause.Error()
	}
	if rid, ok := services.RequestIDFromContext(ctx); ok {
		rec.CorrelationID = rid
	}
	// The journal is history only; a failed write never blocks the pipeline.
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
