package stageexec_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"stagehand/internal/journal"
	"stagehand/internal/logging"
	"stagehand/internal/metrics"
	"stagehand/internal/stage"
	"stagehand/internal/stageexec"
	"stagehand/internal/stagefs"
	"stagehand/internal/testsupport"
)

type dirs struct {
	src, even, odd, failed string
}

func newDirs(t *testing.T) dirs {
	t.Helper()
	base := t.TempDir()
	return dirs{
		src:    filepath.Join(base, "src"),
		even:   filepath.Join(base, "even"),
		odd:    filepath.Join(base, "odd"),
		failed: filepath.Join(base, "failed"),
	}
}

func TestTickMovesEveryEntryExactlyOnce(t *testing.T) {
	d := newDirs(t)
	names := []string{"a", "bb", "ccc", "dddd", "sub/eeeee"}
	for _, name := range names {
		testsupport.WriteFile(t, filepath.Join(d.src, name), int64(len(name)))
	}

	s := &stageexec.Stage{
		StageName:   "parity",
		Source:      d.src,
		Recursive:   true,
		FailureDir:  d.failed,
		Concurrency: 2,
		Logger:      logging.NewNop(),
		Metrics:     metrics.New(),
		Classifier: stage.ClassifierFunc(func(_ context.Context, e stagefs.Entry) (stage.Decision, error) {
			if e.Size%2 == 0 {
				return stage.MoveTo("even", d.even), nil
			}
			return stage.MoveTo("odd", d.odd), nil
		}),
	}

	stats, err := s.Tick(context.Background())
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if stats.Scanned != 5 || stats.Moved != 5 || stats.Outcomes["even"] != 2 || stats.Outcomes["odd"] != 3 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	for _, name := range names {
		inSrc := exists(filepath.Join(d.src, name))
		inEven := exists(filepath.Join(d.even, name))
		inOdd := exists(filepath.Join(d.odd, name))
		count := 0
		for _, present := range []bool{inSrc, inEven, inOdd} {
			if present {
				count++
			}
		}
		if count != 1 || inSrc {
			t.Fatalf("%s must be in exactly one successor: src=%v even=%v odd=%v", name, inSrc, inEven, inOdd)
		}
	}
}

func TestTickRoutesClassifierErrorsToFailureDir(t *testing.T) {
	d := newDirs(t)
	testsupport.WriteFile(t, filepath.Join(d.src, "good"), 2)
	testsupport.WriteFile(t, filepath.Join(d.src, "bad"), 2)
	boom := errors.New("corrupt read")

	s := &stageexec.Stage{
		StageName:  "filter",
		Source:     d.src,
		FailureDir: d.failed,
		Logger:     logging.NewNop(),
		Classifier: stage.ClassifierFunc(func(_ context.Context, e stagefs.Entry) (stage.Decision, error) {
			if e.Name == "bad" {
				return stage.Decision{}, boom
			}
			return stage.MoveTo("even", d.even), nil
		}),
	}

	stats, err := s.Tick(context.Background())
	if !errors.Is(err, boom) {
		t.Fatalf("expected classifier error to surface, got %v", err)
	}
	testsupport.AssertExists(t, filepath.Join(d.failed, "bad"))
	testsupport.AssertExists(t, filepath.Join(d.even, "good"))
	testsupport.AssertMissing(t, filepath.Join(d.src, "bad"))
	if stats.Failed != 1 || stats.Outcomes[stageexec.OutcomeFailed] != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestTickLeavesStayingEntries(t *testing.T) {
	d := newDirs(t)
	testsupport.WriteFile(t, filepath.Join(d.src, "a"), 1)

	s := &stageexec.Stage{
		StageName: "monitor",
		Source:    d.src,
		Classifier: stage.ClassifierFunc(func(context.Context, stagefs.Entry) (stage.Decision, error) {
			return stage.Stay(), nil
		}),
	}
	stats, err := s.Tick(context.Background())
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if stats.Stayed != 1 || stats.Moved != 0 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	testsupport.AssertExists(t, filepath.Join(d.src, "a"))
}

func TestTickSkipsVanishedEntries(t *testing.T) {
	d := newDirs(t)
	testsupport.WriteFile(t, filepath.Join(d.src, "a"), 1)

	s := &stageexec.Stage{
		StageName: "upload",
		Source:    d.src,
		Classifier: stage.ClassifierFunc(func(_ context.Context, e stagefs.Entry) (stage.Decision, error) {
			// A concurrent duplicate tick already took the entry.
			if err := os.Remove(e.Path); err != nil {
				return stage.Decision{}, err
			}
			return stage.MoveTo("uploaded", d.even), nil
		}),
	}
	stats, err := s.Tick(context.Background())
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if stats.Skipped != 1 {
		t.Fatalf("expected a skipped entry, got %+v", stats)
	}
}

type preparingClassifier struct {
	prepared atomic.Int64
	seen     atomic.Int64
	dest     string
}

func (p *preparingClassifier) Prepare(_ context.Context, snapshot []stagefs.Entry) error {
	p.prepared.Add(1)
	p.seen.Store(int64(len(snapshot)))
	return nil
}

func (p *preparingClassifier) Classify(context.Context, stagefs.Entry) (stage.Decision, error) {
	return stage.MoveTo("landed", p.dest), nil
}

func TestTickCallsPrepareWithSnapshot(t *testing.T) {
	d := newDirs(t)
	testsupport.WriteFile(t, filepath.Join(d.src, "a"), 1)
	testsupport.WriteFile(t, filepath.Join(d.src, "b"), 1)

	c := &preparingClassifier{dest: d.even}
	s := &stageexec.Stage{StageName: "monitor", Source: d.src, Classifier: c}
	if _, err := s.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if c.prepared.Load() != 1 || c.seen.Load() != 2 {
		t.Fatalf("unexpected prepare calls=%d seen=%d", c.prepared.Load(), c.seen.Load())
	}
}

func TestTickJournalsTransitions(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	j, err := journal.Open(cfg)
	if err != nil {
		t.Fatalf("journal.Open: %v", err)
	}
	t.Cleanup(func() { _ = j.Close() })

	testsupport.WriteFile(t, filepath.Join(cfg.Stages.Landed, "x.csv"), 4)
	s := &stageexec.Stage{
		StageName: "filter",
		Source:    cfg.Stages.Landed,
		Journal:   j,
		Classifier: stage.ClassifierFunc(func(context.Context, stagefs.Entry) (stage.Decision, error) {
			return stage.MoveTo("accepted", cfg.Stages.Accepted), nil
		}),
	}
	if _, err := s.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	history, err := j.History(context.Background(), "x.csv")
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 1 || history[0].Outcome != "accepted" || !strings.HasPrefix(history[0].Dest, cfg.Stages.Accepted) {
		t.Fatalf("unexpected history: %+v", history)
	}
}

func TestHealthCheckReportsMissingDirs(t *testing.T) {
	d := newDirs(t)
	s := &stageexec.Stage{
		StageName: "filter",
		Source:    d.src,
		Classifier: stage.ClassifierFunc(func(context.Context, stagefs.Entry) (stage.Decision, error) {
			return stage.Stay(), nil
		}),
	}
	if h := s.HealthCheck(context.Background()); h.Ready {
		t.Fatalf("expected unhealthy for missing source, got %+v", h)
	}
	if err := os.MkdirAll(d.src, 0o755); err != nil {
		t.Fatal(err)
	}
	if h := s.HealthCheck(context.Background()); !h.Ready {
		t.Fatalf("expected healthy, got %+v", h)
	}
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
