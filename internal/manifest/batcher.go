package manifest

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"stagehand/internal/config"
	"stagehand/internal/logging"
	"stagehand/internal/metrics"
	"stagehand/internal/notifications"
	"stagehand/internal/services"
	"stagehand/internal/stage"
	"stagehand/internal/stagefs"
)

// Source is one category directory watched by the batcher.
type Source struct {
	Category string
	Dir      string
}

// Batcher writes a manifest round when either the count threshold or the
// time interval fires.
type Batcher struct {
	StageName      string
	Sources        []Source
	Dirs           Dirs
	CountThreshold int
	Interval       time.Duration
	Recursive      bool

	Logger   *slog.Logger
	Metrics  *metrics.Metrics
	Notifier notifications.Service

	now func() time.Time
	// scanned runs after adoptOrphans lists each pending root.
	scanned func(root string)

	mu   sync.Mutex
	last time.Time
}

// NewBatcher builds a batcher over the configured category directories. The
// interval clock starts now.
func NewBatcher(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics, notifier notifications.Service) *Batcher {
	sources := make([]Source, 0, len(config.ManifestCategories))
	for _, category := range config.ManifestCategories {
		sources = append(sources, Source{Category: category, Dir: cfg.CategoryDir(category)})
	}
	b := &Batcher{
		StageName:      config.ComponentManifest,
		Sources:        sources,
		Dirs:           DirsFromConfig(cfg),
		CountThreshold: cfg.Manifest.CountThreshold,
		Interval:       time.Duration(cfg.Manifest.Interval) * time.Second,
		Recursive:      cfg.Workflow.Recursive,
		Logger:         logger,
		Metrics:        m,
		Notifier:       notifier,
	}
	b.last = b.clock()
	return b
}

// Name returns the stage name.
func (b *Batcher) Name() string { return b.StageName }

// HealthCheck verifies the watched and output directories.
func (b *Batcher) HealthCheck(context.Context) stage.Health {
	dirs := []string{b.Dirs.Landed}
	for _, src := range b.Sources {
		dirs = append(dirs, src.Dir)
	}
	return stage.DirHealth(b.StageName, dirs...)
}

// LastBatch reports when the interval clock was last reset.
func (b *Batcher) LastBatch() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.last
}

// Tick scans the category directories and writes a manifest round when a
// threshold fires. Entries already listed by a pending batch document are
// left out.
func (b *Batcher) Tick(ctx context.Context) (stage.Stats, error) {
	stats := stage.Stats{Stage: b.StageName, Started: time.Now()}
	ctx = services.WithStage(ctx, b.StageName)
	logger := logging.WithContext(ctx, b.Logger)
	defer func() { stats.Duration = time.Since(stats.Started) }()

	if err := b.adoptOrphans(ctx, logger, &stats); err != nil {
		return stats, err
	}

	claimed, err := b.claimedPaths(logger)
	if err != nil {
		return stats, err
	}

	batches := make(map[string][]FileRecord, len(b.Sources))
	total := 0
	for _, src := range b.Sources {
		entries, err := stagefs.Scan(src.Dir, b.Recursive)
		if err != nil {
			return stats, services.Wrap(services.ErrTransient, b.StageName, "scan", src.Category, err)
		}
		for _, entry := range entries {
			if _, ok := claimed[entry.Path]; ok {
				continue
			}
			batches[src.Category] = append(batches[src.Category], FileRecord{
				Path: entry.Path,
				Name: entry.Name,
				Size: entry.Size,
			})
			total++
		}
	}
	stats.Scanned = total
	if total == 0 {
		return stats, nil
	}

	now := b.clock()
	b.mu.Lock()
	elapsed := now.Sub(b.last)
	b.mu.Unlock()
	countFired := b.CountThreshold > 0 && total >= b.CountThreshold
	timeFired := b.Interval > 0 && elapsed >= b.Interval
	if !countFired && !timeFired {
		logger.Debug("batch thresholds not reached",
			logging.Int("entries", total),
			logging.Duration("since_last_batch", elapsed.Round(time.Second)),
		)
		return stats, nil
	}

	if err := ctx.Err(); err != nil {
		return stats, err
	}
	aggregate, counts, err := b.writeRound(now, batches)
	if err != nil {
		return stats, err
	}
	b.mu.Lock()
	b.last = now
	b.mu.Unlock()

	for category, n := range counts {
		stats.Outcomes = mergeCount(stats.Outcomes, category, n)
	}
	trigger := "interval"
	if countFired {
		trigger = "count"
	}
	logger.Info("manifest batch written",
		logging.String(logging.FieldEventType, "batch_created"),
		logging.String("manifest", aggregate),
		logging.Int("files", total),
		logging.String("trigger", trigger),
	)
	if b.Notifier != nil {
		if err := b.Notifier.Publish(ctx, notifications.EventBatchCreated, notifications.Payload{
			"files":      total,
			"categories": counts,
			"manifest":   aggregate,
		}); err != nil {
			logger.Debug("batch notification failed", logging.Error(err))
		}
	}
	return stats, nil
}

// writeRound writes one batch document per non-empty category and then the
// aggregate. If any write fails the documents already written are removed so
// their entries are batched again on the next round.
func (b *Batcher) writeRound(created time.Time, batches map[string][]FileRecord) (string, map[string]int, error) {
	name := FileName(created)
	var (
		written []string
		refs    []Ref
	)
	counts := make(map[string]int, len(batches))
	rollback := func() {
		for _, p := range written {
			_ = os.Remove(p)
		}
	}

	for _, src := range b.Sources {
		files := batches[src.Category]
		if len(files) == 0 {
			continue
		}
		rel := path.Join(src.Category, name)
		target := filepath.Join(b.Dirs.Landed, filepath.FromSlash(rel))
		doc := Document{
			ID:        uuid.NewString(),
			Kind:      KindBatch,
			Category:  src.Category,
			CreatedAt: created,
			Files:     files,
		}
		if err := Write(target, doc); err != nil {
			rollback()
			return "", nil, fmt.Errorf("write %s manifest: %w", src.Category, err)
		}
		b.Metrics.ObserveManifest(string(KindBatch))
		written = append(written, target)
		refs = append(refs, Ref{Category: src.Category, Path: rel})
		counts[src.Category] = len(files)
	}

	aggregatePath := filepath.Join(b.Dirs.Landed, name)
	if err := b.writeAggregate(aggregatePath, created, refs); err != nil {
		rollback()
		return "", nil, err
	}
	return aggregatePath, counts, nil
}

// stillPending drops refs whose batch document has left every pending root
// since it was listed. The sweeper retires a round's batch documents before
// its aggregate, so a batch that vanished mid-scan had an aggregate that was
// retired after it, not an orphan.
func (b *Batcher) stillPending(refs []Ref) []Ref {
	kept := refs[:0]
	for _, ref := range refs {
		if _, ok := b.Dirs.Locate(ref.Path, b.Dirs.Pending()...); ok {
			kept = append(kept, ref)
		}
	}
	return kept
}

func (b *Batcher) writeAggregate(target string, created time.Time, refs []Ref) error {
	doc := Document{
		ID:        uuid.NewString(),
		Kind:      KindAggregate,
		Category:  config.CompletedAggregate,
		CreatedAt: created,
		Manifests: refs,
	}
	if err := Write(target, doc); err != nil {
		return fmt.Errorf("write aggregate manifest: %w", err)
	}
	b.Metrics.ObserveManifest(string(KindAggregate))
	return nil
}

// claimedPaths collects the entry paths listed by batch documents that have
// not been swept yet.
func (b *Batcher) claimedPaths(logger *slog.Logger) (map[string]struct{}, error) {
	claimed := make(map[string]struct{})
	for _, root := range b.Dirs.Pending() {
		docs, err := stagefs.Scan(root, true)
		if err != nil {
			return nil, services.Wrap(services.ErrTransient, b.StageName, "scan", "pending manifests", err)
		}
		for _, entry := range docs {
			doc, err := Read(entry.Path)
			if err != nil {
				if !IsMissing(err) {
					logger.Debug("skipping unreadable manifest", logging.String("manifest", entry.Path), logging.Error(err))
				}
				continue
			}
			for _, f := range doc.Files {
				claimed[f.Path] = struct{}{}
			}
		}
	}
	return claimed, nil
}

// adoptOrphans writes a recovery aggregate for pending batch documents that
// no pending aggregate references. That happens when the process died between
// writing a round's batch documents and its aggregate, or when the round's
// aggregate was dropped by the manifest uploader.
func (b *Batcher) adoptOrphans(ctx context.Context, logger *slog.Logger, stats *stage.Stats) error {
	referenced := make(map[string]struct{})
	var candidates []Ref
	for _, root := range b.Dirs.Pending() {
		docs, err := stagefs.Scan(root, true)
		if err != nil {
			return services.Wrap(services.ErrTransient, b.StageName, "scan", "manifest roots", err)
		}
		for _, entry := range docs {
			doc, err := Read(entry.Path)
			if err != nil {
				continue
			}
			switch doc.Kind {
			case KindAggregate:
				for _, ref := range doc.Manifests {
					referenced[ref.Path] = struct{}{}
				}
			case KindBatch:
				if strings.Contains(entry.Name, "/") {
					candidates = append(candidates, Ref{Category: doc.Category, Path: entry.Name})
				}
			}
		}
		if b.scanned != nil {
			b.scanned(root)
		}
	}

	var orphans []Ref
	seen := make(map[string]struct{})
	for _, ref := range candidates {
		if _, ok := referenced[ref.Path]; ok {
			continue
		}
		if _, dup := seen[ref.Path]; dup {
			continue
		}
		seen[ref.Path] = struct{}{}
		orphans = append(orphans, ref)
	}
	orphans = b.stillPending(orphans)
	if len(orphans) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	created := b.clock()
	target := filepath.Join(b.Dirs.Landed, strings.TrimSuffix(FileName(created), ".json")+"_recovered.json")
	if err := b.writeAggregate(target, created, orphans); err != nil {
		return err
	}
	stats.Outcomes = mergeCount(stats.Outcomes, "adopted", len(orphans))
	logging.WarnWithContext(logger, "adopted orphaned batch manifests", "manifest_adopted",
		logging.Int("count", len(orphans)),
		logging.String("manifest", target),
		logging.String(logging.FieldErrorHint, "a previous run stopped while writing a batch"),
		logging.String(logging.FieldImpact, "orphaned manifests now flow through upload and sweep"),
	)
	return nil
}

func (b *Batcher) clock() time.Time {
	if b.now != nil {
		return b.now()
	}
	return time.Now()
}

func mergeCount(m map[string]int, key string, n int) map[string]int {
	if m == nil {
		m = make(map[string]int)
	}
	m[key] += n
	return m
}
