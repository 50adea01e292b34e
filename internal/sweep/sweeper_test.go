package sweep_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"stagehand/internal/config"
	"stagehand/internal/logging"
	"stagehand/internal/manifest"
	"stagehand/internal/sweep"
	"stagehand/internal/testsupport"
)

type fixture struct {
	cfg     *config.Config
	dirs    manifest.Dirs
	sweeper *sweep.Sweeper
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	return fixture{
		cfg:     cfg,
		dirs:    manifest.DirsFromConfig(cfg),
		sweeper: sweep.New(cfg, logging.NewNop(), nil, nil),
	}
}

// writeRound stages entries in their category directories and writes a batch
// document per category into partRoot plus an aggregate into aggRoot.
func (f fixture) writeRound(t *testing.T, partRoot, aggRoot string, files map[string][]string) string {
	t.Helper()
	created := time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)
	name := manifest.FileName(created)
	var refs []manifest.Ref
	for category, names := range files {
		doc := manifest.Document{ID: category, Kind: manifest.KindBatch, Category: category, CreatedAt: created}
		for _, n := range names {
			p := filepath.Join(f.cfg.CategoryDir(category), n)
			testsupport.WriteFile(t, p, 8)
			doc.Files = append(doc.Files, manifest.FileRecord{Path: p, Name: n, Size: 8})
		}
		rel := category + "/" + name
		if err := manifest.Write(filepath.Join(partRoot, filepath.FromSlash(rel)), doc); err != nil {
			t.Fatalf("write batch: %v", err)
		}
		refs = append(refs, manifest.Ref{Category: category, Path: rel})
	}
	agg := manifest.Document{ID: "agg", Kind: manifest.KindAggregate, CreatedAt: created, Manifests: refs}
	aggPath := filepath.Join(aggRoot, name)
	if err := manifest.Write(aggPath, agg); err != nil {
		t.Fatalf("write aggregate: %v", err)
	}
	return name
}

func TestSweepCompletesAggregate(t *testing.T) {
	f := newFixture(t)
	name := f.writeRound(t, f.dirs.Registered, f.dirs.Registered, map[string][]string{
		config.CategoryUploaded: {"a.csv", "nested/b.csv"},
		config.CategoryRejected: {"c.bin"},
	})

	stats, err := f.sweeper.Tick(context.Background())
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if stats.Outcomes[sweep.OutcomeCompleted] != 3 {
		t.Fatalf("unexpected completed count %v", stats.Outcomes)
	}
	if stats.Outcomes[sweep.OutcomeRetired] != 3 {
		t.Fatalf("expected two parts and one aggregate retired, got %v", stats.Outcomes)
	}

	testsupport.AssertExists(t, filepath.Join(f.cfg.CompletedDir(config.CategoryUploaded), "a.csv"))
	testsupport.AssertExists(t, filepath.Join(f.cfg.CompletedDir(config.CategoryUploaded), "nested", "b.csv"))
	testsupport.AssertExists(t, filepath.Join(f.cfg.CompletedDir(config.CategoryRejected), "c.bin"))
	testsupport.AssertMissing(t, filepath.Join(f.cfg.Stages.Uploaded, "a.csv"))
	testsupport.AssertExists(t, filepath.Join(f.dirs.Completed, config.CompletedAggregate, name))
	testsupport.AssertExists(t, filepath.Join(f.dirs.Completed, config.CategoryUploaded, name))
	testsupport.AssertMissing(t, filepath.Join(f.dirs.Registered, name))
}

func TestSweepStampsArrivalInCompleted(t *testing.T) {
	f := newFixture(t)
	name := f.writeRound(t, f.dirs.Registered, f.dirs.Registered, map[string][]string{
		config.CategoryUploaded: {"old.csv"},
	})
	testsupport.Age(t, filepath.Join(f.cfg.CategoryDir(config.CategoryUploaded), "old.csv"), 90*24*time.Hour)
	testsupport.Age(t, filepath.Join(f.dirs.Registered, name), 90*24*time.Hour)

	before := time.Now().Add(-time.Minute)
	if _, err := f.sweeper.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	for _, p := range []string{
		filepath.Join(f.cfg.CompletedDir(config.CategoryUploaded), "old.csv"),
		filepath.Join(f.dirs.Completed, config.CompletedAggregate, name),
	} {
		info, err := os.Stat(p)
		if err != nil {
			t.Fatalf("stat %s: %v", p, err)
		}
		if info.ModTime().Before(before) {
			t.Fatalf("expected %s stamped on arrival, mtime %v", p, info.ModTime())
		}
	}
}

func TestSweepIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.writeRound(t, f.dirs.Registered, f.dirs.Registered, map[string][]string{
		config.CategoryFailed: {"x.dat"},
	})
	if _, err := f.sweeper.Tick(context.Background()); err != nil {
		t.Fatalf("first Tick: %v", err)
	}
	stats, err := f.sweeper.Tick(context.Background())
	if err != nil {
		t.Fatalf("second Tick: %v", err)
	}
	if stats.Scanned != 0 || stats.Moved != 0 {
		t.Fatalf("second sweep did work: %+v", stats)
	}
}

func TestSweepDefersWhilePartLanding(t *testing.T) {
	f := newFixture(t)
	name := f.writeRound(t, f.dirs.Landed, f.dirs.Registered, map[string][]string{
		config.CategoryUploaded: {"a.csv"},
	})

	stats, err := f.sweeper.Tick(context.Background())
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if stats.Stayed != 1 || stats.Moved != 0 {
		t.Fatalf("expected deferral, got %+v", stats)
	}
	testsupport.AssertExists(t, filepath.Join(f.cfg.Stages.Uploaded, "a.csv"))
	testsupport.AssertExists(t, filepath.Join(f.dirs.Registered, name))
}

func TestSweepResumesAfterPartialRun(t *testing.T) {
	f := newFixture(t)
	name := f.writeRound(t, f.dirs.Uploaded, f.dirs.Registered, map[string][]string{
		config.CategoryUploaded: {"a.csv", "b.csv"},
		config.CategoryDropped:  {"d.csv"},
	})

	// Simulate a crash after one entry and the dropped part were handled.
	if err := moveFile(filepath.Join(f.cfg.Stages.Uploaded, "a.csv"), filepath.Join(f.cfg.CompletedDir(config.CategoryUploaded), "a.csv")); err != nil {
		t.Fatal(err)
	}
	if err := moveFile(filepath.Join(f.cfg.Stages.Dropped, "d.csv"), filepath.Join(f.cfg.CompletedDir(config.CategoryDropped), "d.csv")); err != nil {
		t.Fatal(err)
	}
	rel := filepath.Join(config.CategoryDropped, name)
	if err := moveFile(filepath.Join(f.dirs.Uploaded, rel), filepath.Join(f.dirs.Completed, rel)); err != nil {
		t.Fatal(err)
	}

	stats, err := f.sweeper.Tick(context.Background())
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if stats.Outcomes[sweep.OutcomeCompleted] != 1 {
		t.Fatalf("expected only b.csv moved, got %v", stats.Outcomes)
	}
	testsupport.AssertExists(t, filepath.Join(f.cfg.CompletedDir(config.CategoryUploaded), "b.csv"))
	testsupport.AssertExists(t, filepath.Join(f.dirs.Completed, config.CompletedAggregate, name))
}

func TestSweepMissingPartTreatedAsRetired(t *testing.T) {
	f := newFixture(t)
	agg := manifest.Document{
		ID:        "agg",
		Kind:      manifest.KindAggregate,
		CreatedAt: time.Now().UTC(),
		Manifests: []manifest.Ref{{Category: config.CategoryFailed, Path: "failed/manifest_gone.json"}},
	}
	path := filepath.Join(f.dirs.Registered, "manifest_gone.json")
	if err := manifest.Write(path, agg); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := f.sweeper.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	testsupport.AssertMissing(t, path)
	testsupport.AssertExists(t, filepath.Join(f.dirs.Completed, config.CompletedAggregate, "manifest_gone.json"))
}

func TestSweepLeavesUnparsableManifest(t *testing.T) {
	f := newFixture(t)
	path := filepath.Join(f.dirs.Registered, "manifest_bad.json")
	testsupport.WriteContent(t, path, "{not json")

	stats, err := f.sweeper.Tick(context.Background())
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if stats.Skipped != 1 {
		t.Fatalf("expected skip, got %+v", stats)
	}
	testsupport.AssertExists(t, path)
}

func TestSweepTopLevelBatchDocument(t *testing.T) {
	f := newFixture(t)
	src := filepath.Join(f.cfg.Stages.Rejected, "r.txt")
	testsupport.WriteFile(t, src, 3)
	doc := manifest.Document{
		ID:        "batch",
		Kind:      manifest.KindBatch,
		Category:  config.CategoryRejected,
		CreatedAt: time.Now().UTC(),
		Files:     []manifest.FileRecord{{Path: src, Name: "r.txt", Size: 3}},
	}
	if err := manifest.Write(filepath.Join(f.dirs.Registered, "manifest_batch.json"), doc); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := f.sweeper.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	testsupport.AssertExists(t, filepath.Join(f.cfg.CompletedDir(config.CategoryRejected), "r.txt"))
	testsupport.AssertExists(t, filepath.Join(f.dirs.Completed, config.CategoryRejected, "manifest_batch.json"))
}

func moveFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	return os.Rename(src, dst)
}
