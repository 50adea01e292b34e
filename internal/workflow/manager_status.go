package workflow

import (
	"context"
	"time"

	"stagehand/internal/stage"
)

// LaneStatus describes one stage lane.
type LaneStatus struct {
	Name      string
	Interval  time.Duration
	Ticks     int
	LastTick  time.Time
	LastStats stage.Stats
	LastError string
	Health    stage.Health
}

// StatusSummary represents lightweight workflow diagnostics.
type StatusSummary struct {
	Running   bool
	LastError string
	Lanes     []LaneStatus
}

// Status returns the latest workflow information. Health checks run on the
// caller's goroutine.
func (m *Manager) Status(ctx context.Context) StatusSummary {
	m.mu.RLock()
	summary := StatusSummary{Running: m.running}
	if m.lastErr != nil {
		summary.LastError = m.lastErr.Error()
	}
	handlers := make([]stage.Handler, 0, len(m.laneOrder))
	for _, name := range m.laneOrder {
		lane := m.lanes[name]
		ls := LaneStatus{
			Name:      lane.name,
			Interval:  lane.interval,
			Ticks:     lane.ticks,
			LastTick:  lane.lastTick,
			LastStats: lane.lastStats,
		}
		if lane.lastErr != nil {
			ls.LastError = lane.lastErr.Error()
		}
		summary.Lanes = append(summary.Lanes, ls)
		handlers = append(handlers, lane.handler)
	}
	m.mu.RUnlock()

	for i, handler := range handlers {
		summary.Lanes[i].Health = handler.HealthCheck(ctx)
	}
	return summary
}

// Healthy returns an error naming the first unready stage, or nil.
func (m *Manager) Healthy(ctx context.Context) error {
	for _, lane := range m.Status(ctx).Lanes {
		if !lane.Health.Ready {
			return &UnhealthyError{Stage: lane.Name, Detail: lane.Health.Detail}
		}
	}
	return nil
}

// UnhealthyError reports a stage whose health check failed.
type UnhealthyError struct {
	Stage  string
	Detail string
}

func (e *UnhealthyError) Error() string {
	if e.Detail == "" {
		return "stage " + e.Stage + " unhealthy"
	}
	return "stage " + e.Stage + " unhealthy: " + e.Detail
}
