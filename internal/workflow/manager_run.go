package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Start launches one goroutine per registered lane.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return errors.New("workflow already running")
	}
	if len(m.laneOrder) == 0 {
		m.mu.Unlock()
		return errors.New("workflow stages not configured")
	}
	lanes := make([]*laneState, 0, len(m.laneOrder))
	for _, name := range m.laneOrder {
		lanes = append(lanes, m.lanes[name])
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.running = true
	m.wg.Add(len(lanes))
	m.mu.Unlock()

	for _, lane := range lanes {
		go m.runLane(runCtx, lane)
	}
	return nil
}

// Stop cancels every lane and waits for in-flight ticks to return.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	cancel := m.cancel
	m.running = false
	m.cancel = nil
	m.mu.Unlock()

	cancel()
	m.wg.Wait()
}

// Wait blocks until every lane has exited.
func (m *Manager) Wait() {
	m.wg.Wait()
}

// RunOnce runs exactly one tick of the named stage on the caller's
// goroutine. It may be used without Start.
func (m *Manager) RunOnce(ctx context.Context, name string) error {
	m.mu.RLock()
	lane, ok := m.lanes[name]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("unknown stage %q", name)
	}
	_, err := m.tick(ctx, lane)
	return err
}

func (m *Manager) runLane(ctx context.Context, lane *laneState) {
	defer m.wg.Done()
	lane.logger.Debug("lane started", "interval", lane.interval)

	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			lane.logger.Debug("lane stopped")
			return
		case <-timer.C:
		}
		_, _ = m.tick(ctx, lane)
		if ctx.Err() != nil {
			lane.logger.Debug("lane stopped")
			return
		}
		timer.Reset(lane.interval)
	}
}
