package pipeline_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"stagehand/internal/config"
	"stagehand/internal/logging"
	"stagehand/internal/pipeline"
	"stagehand/internal/stagefs"
	"stagehand/internal/testsupport"
)

func TestBuildRegistersEnabledComponentsInOrder(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithComponents(config.ComponentSweep, config.ComponentFilter))
	p, err := pipeline.Build(context.Background(), cfg, pipeline.Deps{Logger: logging.NewNop()})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer p.Close()

	got := p.Manager.Stages()
	if len(got) != 2 || got[0] != config.ComponentFilter || got[1] != config.ComponentSweep {
		t.Fatalf("unexpected stages %v", got)
	}
	if p.Store != nil {
		t.Fatal("expected no remote store without upload stages")
	}
}

func TestBuildRejectsUnknownRemote(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Remote.Kind = "ftp"
	if _, err := pipeline.Build(context.Background(), cfg, pipeline.Deps{}); err == nil {
		t.Fatal("expected error for unknown remote kind")
	}
}

func TestPipelineMovesFileEndToEnd(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithManifestThresholds(1, 3600))
	p, err := pipeline.Build(context.Background(), cfg, pipeline.Deps{Logger: logging.NewNop()})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer p.Close()

	testsupport.WriteFile(t, filepath.Join(cfg.Stages.Incoming, "batch", "data.csv"), 64)

	ctx := context.Background()
	for _, name := range config.Components {
		if err := p.Manager.RunOnce(ctx, name); err != nil {
			t.Fatalf("tick %s: %v", name, err)
		}
	}

	testsupport.AssertExists(t, filepath.Join(cfg.CompletedDir(config.CategoryUploaded), "batch", "data.csv"))
	testsupport.AssertExists(t, filepath.Join(cfg.Remote.LocalDir, cfg.Remote.KeyPrefix, config.ComponentUpload, "batch", "data.csv"))
	for _, dir := range []string{cfg.Stages.Incoming, cfg.Stages.Landed, cfg.Stages.Accepted, cfg.Stages.Uploaded} {
		n, _, err := stagefs.Count(dir, true)
		if err != nil {
			t.Fatalf("count %s: %v", dir, err)
		}
		if n != 0 {
			t.Fatalf("expected %s drained, found %d entries", dir, n)
		}
	}
	aggregates, err := os.ReadDir(filepath.Join(cfg.Stages.ManifestsCompleted, config.CompletedAggregate))
	if err != nil || len(aggregates) != 1 {
		t.Fatalf("expected one retired aggregate, got %v %v", aggregates, err)
	}
}
