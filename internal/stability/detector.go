// Package stability decides whether an incoming file has finished being
// written.
//
// A file is stable when two observations of its size agree. In settle mode
// both observations happen inside one tick, separated by a short delay. In
// tick mode the first observation is the size remembered from the previous
// tick. Zero-byte files that stay empty are stable; this keeps empty files
// from starving in the incoming stage.
package stability

import (
	"context"
	"os"
	"sync"
	"time"

	"stagehand/internal/config"
	"stagehand/internal/stage"
	"stagehand/internal/stagefs"
)

// OutcomeLanded labels stable entries moved to the landed stage.
const OutcomeLanded = "landed"

// Detector classifies incoming entries as stable (move to Landed) or still
// being written (stay).
type Detector struct {
	Landed string
	Mode   string
	Settle time.Duration

	// wait is replaced in tests to mutate files between observations.
	wait func(ctx context.Context, d time.Duration) error

	mu       sync.Mutex
	previous map[string]int64
	current  map[string]int64
}

// New builds a detector from configuration.
func New(cfg *config.Config) *Detector {
	return &Detector{
		Landed: cfg.Stages.Landed,
		Mode:   cfg.Stability.Mode,
		Settle: time.Duration(cfg.Stability.SettleDelayMillis) * time.Millisecond,
	}
}

// Prepare rotates the tick-mode memory: sizes seen in this snapshot become the
// baseline for the next tick. Entries that left the stage are forgotten.
func (d *Detector) Prepare(_ context.Context, snapshot []stagefs.Entry) error {
	if d.Mode != config.StabilityTick {
		return nil
	}
	next := make(map[string]int64, len(snapshot))
	for _, entry := range snapshot {
		next[entry.Name] = entry.Size
	}
	d.mu.Lock()
	d.previous = d.current
	d.current = next
	d.mu.Unlock()
	return nil
}

// Classify implements stage.Classifier.
func (d *Detector) Classify(ctx context.Context, entry stagefs.Entry) (stage.Decision, error) {
	if d.Mode == config.StabilityTick {
		return d.classifyAcrossTicks(entry), nil
	}
	return d.classifySettled(ctx, entry)
}

func (d *Detector) classifySettled(ctx context.Context, entry stagefs.Entry) (stage.Decision, error) {
	first, ok := statSize(entry.Path)
	if !ok {
		return stage.Stay(), nil
	}
	wait := d.wait
	if wait == nil {
		wait = sleep
	}
	if err := wait(ctx, d.Settle); err != nil {
		return stage.Stay(), nil
	}
	second, ok := statSize(entry.Path)
	if !ok || first != second {
		return stage.Stay(), nil
	}
	return stage.MoveTo(OutcomeLanded, d.Landed), nil
}

func (d *Detector) classifyAcrossTicks(entry stagefs.Entry) stage.Decision {
	d.mu.Lock()
	before, seen := d.previous[entry.Name]
	d.mu.Unlock()
	if !seen || before != entry.Size {
		return stage.Stay()
	}
	if size, ok := statSize(entry.Path); !ok || size != entry.Size {
		return stage.Stay()
	}
	return stage.MoveTo(OutcomeLanded, d.Landed)
}

func statSize(path string) (int64, bool) {
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return 0, false
	}
	return info.Size(), true
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
