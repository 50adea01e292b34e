package workflow

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	"stagehand/internal/journal"
	"stagehand/internal/logging"
	"stagehand/internal/services"
	"stagehand/internal/stage"
)

// tick runs one cycle of lane's handler and does the bookkeeping around it.
func (m *Manager) tick(ctx context.Context, lane *laneState) (stats stage.Stats, err error) {
	requestID := uuid.NewString()
	tickCtx := services.WithRequestID(services.WithStage(ctx, lane.name), requestID)
	logger := logging.WithContext(tickCtx, m.logger)
	started := time.Now()

	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("stage %s panicked: %v", lane.name, r)
				logging.ErrorWithContext(logger, "stage tick panicked", "tick_panic",
					logging.Any("panic", r),
					logging.String("stack", string(debug.Stack())),
				)
			}
		}()
		stats, err = lane.handler.Tick(tickCtx)
	}()
	if stats.Stage == "" {
		stats.Stage = lane.name
	}
	if stats.Started.IsZero() {
		stats.Started = started
	}
	if stats.Duration == 0 {
		stats.Duration = time.Since(started)
	}

	cancelled := err != nil && ctx.Err() != nil && errors.Is(err, ctx.Err())
	if cancelled {
		logger.Debug("tick interrupted by shutdown")
		err = nil
	}

	m.recordTick(tickCtx, lane, stats, err)
	if err != nil {
		m.handleTickFailure(tickCtx, lane, err)
		return stats, err
	}
	m.clearTickFailure(lane)

	if stats.Moved > 0 || stats.Failed > 0 {
		logger.Info("tick complete",
			logging.String(logging.FieldEventType, "tick_complete"),
			logging.Int("scanned", stats.Scanned),
			logging.Int("moved", stats.Moved),
			logging.Int("failed", stats.Failed),
			logging.Duration("duration", stats.Duration),
		)
	}
	return stats, nil
}

func (m *Manager) recordTick(ctx context.Context, lane *laneState, stats stage.Stats, err error) {
	m.mu.Lock()
	lane.ticks++
	lane.lastStats = stats
	lane.lastTick = stats.Started
	lane.lastErr = err
	m.mu.Unlock()

	m.metrics.ObserveTick(lane.name, stats.Scanned, stats.Duration, err)
	if m.journal == nil {
		return
	}
	rec := journal.Tick{
		Stage:     lane.name,
		StartedAt: stats.Started,
		Duration:  stats.Duration,
		Scanned:   stats.Scanned,
		Moved:     stats.Moved,
		Failed:    stats.Failed,
	}
	if err != nil {
		rec.Error = err.Error()
	}
	if rid, ok := services.RequestIDFromContext(ctx); ok {
		rec.CorrelationID = rid
	}
	if jerr := m.journal.RecordTick(context.WithoutCancel(ctx), rec); jerr != nil {
		logging.WithContext(ctx, m.logger).Debug("journal write failed", logging.Error(jerr))
	}
}

func (m *Manager) handleTickFailure(ctx context.Context, lane *laneState, err error) {
	m.mu.Lock()
	m.lastErr = err
	m.mu.Unlock()

	attrs := []logging.Attr{
		logging.Error(err),
		logging.String(logging.FieldImpact, "stage retries on its next tick"),
	}
	switch {
	case errors.Is(err, services.ErrConfiguration):
		attrs = append(attrs, logging.String(logging.FieldErrorHint, "fix the configuration and restart"))
	case errors.Is(err, services.ErrExternal):
		attrs = append(attrs, logging.String(logging.FieldErrorHint, "check the remote service"))
	default:
		attrs = append(attrs, logging.String(logging.FieldErrorHint, "check stage directory permissions and free space"))
	}
	logging.WarnWithContext(logging.WithContext(ctx, m.logger), "stage tick failed", "tick_failed", attrs...)
	m.notifyTickError(ctx, lane, err)
}

func (m *Manager) clearTickFailure(lane *laneState) {
	m.mu.Lock()
	lane.lastNotified = ""
	m.mu.Unlock()
}
