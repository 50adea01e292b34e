package stability_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"stagehand/internal/config"
	"stagehand/internal/stability"
	"stagehand/internal/stagefs"
	"stagehand/internal/testsupport"
)

func scanOne(t *testing.T, dir string) stagefs.Entry {
	t.Helper()
	entries, err := stagefs.Scan(dir, true)
	if err != nil || len(entries) != 1 {
		t.Fatalf("expected one entry, got %v (%v)", entries, err)
	}
	return entries[0]
}

func TestSettleModeStableWhenSizeUnchanged(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	path := filepath.Join(cfg.Stages.Incoming, "a.csv")
	testsupport.WriteFile(t, path, 100)

	d := stability.New(cfg)
	decision, err := d.Classify(context.Background(), scanOne(t, cfg.Stages.Incoming))
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if decision.Stays() || decision.Dir != cfg.Stages.Landed || decision.Outcome != stability.OutcomeLanded {
		t.Fatalf("expected landed decision, got %+v", decision)
	}
}

func TestSettleModeUnstableWhenFileGrows(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	path := filepath.Join(cfg.Stages.Incoming, "a.csv")
	testsupport.WriteFile(t, path, 100)

	d := stability.New(cfg)
	d.SetWait(func(context.Context, time.Duration) error {
		testsupport.WriteFile(t, path, 150)
		return nil
	})
	decision, err := d.Classify(context.Background(), scanOne(t, cfg.Stages.Incoming))
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if !decision.Stays() {
		t.Fatalf("expected growing file to stay, got %+v", decision)
	}
}

func TestSettleModeZeroByteIsStable(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	testsupport.WriteFile(t, filepath.Join(cfg.Stages.Incoming, "empty"), 0)

	d := stability.New(cfg)
	decision, err := d.Classify(context.Background(), scanOne(t, cfg.Stages.Incoming))
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if decision.Stays() {
		t.Fatal("expected empty file to be stable")
	}
}

func TestSettleModeVanishedStays(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	path := filepath.Join(cfg.Stages.Incoming, "a.csv")
	testsupport.WriteFile(t, path, 10)
	entry := scanOne(t, cfg.Stages.Incoming)

	d := stability.New(cfg)
	d.SetWait(func(context.Context, time.Duration) error {
		return os.Remove(path)
	})
	decision, err := d.Classify(context.Background(), entry)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if !decision.Stays() {
		t.Fatalf("expected vanished file to stay, got %+v", decision)
	}
}

func TestSettleModeCancelledStays(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	testsupport.WriteFile(t, filepath.Join(cfg.Stages.Incoming, "a.csv"), 10)

	d := stability.New(cfg)
	d.Settle = time.Hour
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	decision, err := d.Classify(ctx, scanOne(t, cfg.Stages.Incoming))
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if !decision.Stays() {
		t.Fatalf("expected cancelled settle to stay, got %+v", decision)
	}
}

func TestTickModeComparesWithPreviousTick(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Stability.Mode = config.StabilityTick
	path := filepath.Join(cfg.Stages.Incoming, "a.csv")
	testsupport.WriteFile(t, path, 100)
	ctx := context.Background()

	d := stability.New(cfg)
	tick := func() bool {
		t.Helper()
		entries, err := stagefs.Scan(cfg.Stages.Incoming, true)
		if err != nil {
			t.Fatal(err)
		}
		if err := d.Prepare(ctx, entries); err != nil {
			t.Fatal(err)
		}
		decision, err := d.Classify(ctx, entries[0])
		if err != nil {
			t.Fatal(err)
		}
		return !decision.Stays()
	}

	if tick() {
		t.Fatal("first sighting must not be stable")
	}
	testsupport.WriteFile(t, path, 150)
	if tick() {
		t.Fatal("grown file must not be stable")
	}
	if !tick() {
		t.Fatal("unchanged size across ticks must be stable")
	}
}
