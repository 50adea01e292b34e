package workflow

import (
	"context"
	"errors"

	"stagehand/internal/logging"
	"stagehand/internal/notifications"
)

// notifyTickError publishes err unless the lane already reported the same
// message since its last successful tick.
func (m *Manager) notifyTickError(ctx context.Context, lane *laneState, tickErr error) {
	if m.notifier == nil || tickErr == nil {
		return
	}
	message := tickErr.Error()
	m.mu.Lock()
	if lane.lastNotified == message {
		m.mu.Unlock()
		return
	}
	lane.lastNotified = message
	m.mu.Unlock()

	logger := logging.WithContext(ctx, m.logger)
	if err := m.notifier.Publish(ctx, notifications.EventError, notifications.Payload{
		"error":   tickErr,
		"context": lane.name,
	}); err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Debug("daemon shutting down, could not send error notification")
		} else {
			logger.Debug("stage error notification failed", logging.Error(err))
		}
	}
}
