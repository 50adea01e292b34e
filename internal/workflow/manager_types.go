package workflow

import (
	"log/slog"
	"time"

	"stagehand/internal/stage"
)

type laneState struct {
	name     string
	handler  stage.Handler
	interval time.Duration
	logger   *slog.Logger

	// Guarded by Manager.mu.
	ticks        int
	lastStats    stage.Stats
	lastTick     time.Time
	lastErr      error
	lastNotified string
}
