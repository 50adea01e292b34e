// Package retention prunes terminal pipeline output.
//
// Files under files/completed and manifests/completed are never read again by
// the pipeline, so once they are older than retention.completed_days they are
// removed, along with journal rows of the same age. A zero age disables the
// stage.
//
// Age is measured from the modification time. The stages that move entries
// into a completed tree stamp it with the arrival time (stagefs.MarkArrived),
// so an entry that waited upstream is still kept for the full period.
package retention

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"stagehand/internal/config"
	"stagehand/internal/journal"
	"stagehand/internal/logging"
	"stagehand/internal/services"
	"stagehand/internal/stage"
	"stagehand/internal/stagefs"
)

// OutcomeRemoved labels pruned files.
const OutcomeRemoved = "removed"

// CleanResult contains the outcome of one prune pass.
type CleanResult struct {
	Removed []string
	Errors  []CleanupError
}

// CleanupError pairs a path with its removal error.
type CleanupError struct {
	Path  string
	Error error
}

// Purger is the retention stage.
type Purger struct {
	StageName string
	Roots     []string
	MaxAge    time.Duration
	Journal   *journal.Journal
	Logger    *slog.Logger

	now func() time.Time
}

// New builds a purger over the completed roots.
func New(cfg *config.Config, j *journal.Journal, logger *slog.Logger) *Purger {
	return &Purger{
		StageName: config.ComponentRetention,
		Roots:     []string{cfg.Stages.Completed, cfg.Stages.ManifestsCompleted},
		MaxAge:    time.Duration(cfg.Retention.CompletedDays) * 24 * time.Hour,
		Journal:   j,
		Logger:    logger,
	}
}

// Name returns the stage name.
func (p *Purger) Name() string { return p.StageName }

// HealthCheck verifies the completed roots.
func (p *Purger) HealthCheck(context.Context) stage.Health {
	return stage.DirHealth(p.StageName, p.Roots...)
}

// Tick removes expired files and journal rows.
func (p *Purger) Tick(ctx context.Context) (stage.Stats, error) {
	stats := stage.Stats{Stage: p.StageName, Started: time.Now()}
	defer func() { stats.Duration = time.Since(stats.Started) }()
	if p.MaxAge <= 0 {
		return stats, nil
	}
	ctx = services.WithStage(ctx, p.StageName)
	logger := logging.WithContext(ctx, p.Logger)
	cutoff := p.clock().Add(-p.MaxAge)

	var errs []error
	for _, root := range p.Roots {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		res, scanned, err := CleanExpired(root, cutoff, logger)
		stats.Scanned += scanned
		if err != nil {
			errs = append(errs, err)
			continue
		}
		for range res.Removed {
			stats.Count(OutcomeRemoved)
		}
		stats.Failed += len(res.Errors)
		for _, ce := range res.Errors {
			errs = append(errs, ce.Error)
		}
	}

	if rows, err := p.Journal.Prune(ctx, cutoff); err != nil {
		logger.Debug("journal prune failed", logging.Error(err))
	} else if rows > 0 {
		logger.Info("journal pruned",
			logging.String(logging.FieldEventType, "journal_pruned"),
			logging.Int64("rows", rows),
		)
	}
	return stats, errors.Join(errs...)
}

func (p *Purger) clock() time.Time {
	if p.now != nil {
		return p.now()
	}
	return time.Now()
}

// CleanExpired removes regular files under root last modified before cutoff,
// then removes directories the pass left empty. It returns the result and the
// number of files inspected.
func CleanExpired(root string, cutoff time.Time, logger *slog.Logger) (CleanResult, int, error) {
	result := CleanResult{}
	root = strings.TrimSpace(root)
	if root == "" {
		return result, 0, nil
	}
	entries, err := stagefs.Scan(root, true)
	if err != nil {
		return result, 0, services.Wrap(services.ErrTransient, config.ComponentRetention, "scan", root, err)
	}

	touched := make(map[string]struct{})
	for _, entry := range entries {
		if !entry.ModTime.Before(cutoff) {
			continue
		}
		if err := os.Remove(entry.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			result.Errors = append(result.Errors, CleanupError{Path: entry.Path, Error: err})
			logging.WarnWithContext(logger, "failed to remove expired file", "retention_failed",
				logging.String("path", entry.Path),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check completed directory permissions"),
				logging.String(logging.FieldImpact, "disk space not reclaimed"),
			)
			continue
		}
		result.Removed = append(result.Removed, entry.Path)
		touched[filepath.Dir(entry.Path)] = struct{}{}
		if logger != nil {
			logger.Info("removed expired file",
				logging.String("path", entry.Path),
				logging.Duration("age", time.Since(entry.ModTime).Round(time.Second)),
				logging.String(logging.FieldEventType, "retention_removed"),
			)
		}
	}
	removeEmptyParents(root, touched)
	return result, len(entries), nil
}

// removeEmptyParents deletes emptied directories below root, deepest first.
// Category directories directly under root are kept.
func removeEmptyParents(root string, dirs map[string]struct{}) {
	candidates := make(map[string]struct{})
	for dir := range dirs {
		for d := dir; ; d = filepath.Dir(d) {
			rel, err := filepath.Rel(root, d)
			if err != nil || rel == "." || strings.HasPrefix(rel, "..") || !strings.Contains(rel, string(filepath.Separator)) {
				break
			}
			candidates[d] = struct{}{}
		}
	}
	ordered := make([]string, 0, len(candidates))
	for d := range candidates {
		ordered = append(ordered, d)
	}
	sort.Slice(ordered, func(i, j int) bool { return len(ordered[i]) > len(ordered[j]) })
	for _, d := range ordered {
		// Remove fails on non-empty directories, which is what we want.
		_ = os.Remove(d)
	}
}
