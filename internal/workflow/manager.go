package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"stagehand/internal/journal"
	"stagehand/internal/logging"
	"stagehand/internal/metrics"
	"stagehand/internal/notifications"
	"stagehand/internal/stage"
)

// Manager coordinates independent tick loops, one per registered stage.
type Manager struct {
	logger   *slog.Logger
	journal  *journal.Journal
	metrics  *metrics.Metrics
	notifier notifications.Service

	lanes     map[string]*laneState
	laneOrder []string

	mu      sync.RWMutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	lastErr error
}

// ManagerOption configures optional Manager behavior.
type ManagerOption func(*Manager)

// WithJournal records every tick in j.
func WithJournal(j *journal.Journal) ManagerOption {
	return func(m *Manager) { m.journal = j }
}

// WithMetrics reports tick durations, backlog, and failures to mm.
func WithMetrics(mm *metrics.Metrics) ManagerOption {
	return func(m *Manager) { m.metrics = mm }
}

// WithNotifier sends tick failures through n.
func WithNotifier(n notifications.Service) ManagerOption {
	return func(m *Manager) { m.notifier = n }
}

// NewManager constructs a workflow manager with no lanes.
func NewManager(logger *slog.Logger, opts ...ManagerOption) *Manager {
	m := &Manager{
		logger: logging.NewComponentLogger(logger, "workflow"),
		lanes:  make(map[string]*laneState),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Register adds a lane for handler ticking every interval. Registration must
// happen before Start.
func (m *Manager) Register(handler stage.Handler, interval time.Duration) error {
	if handler == nil {
		return fmt.Errorf("register: nil stage handler")
	}
	name := strings.TrimSpace(handler.Name())
	if name == "" {
		return fmt.Errorf("register: stage handler has no name")
	}
	if interval <= 0 {
		return fmt.Errorf("register %s: poll interval must be positive", name)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return fmt.Errorf("register %s: workflow already running", name)
	}
	if _, exists := m.lanes[name]; exists {
		return fmt.Errorf("register %s: stage already registered", name)
	}
	m.lanes[name] = &laneState{
		name:     name,
		handler:  handler,
		interval: interval,
		logger:   m.logger.With(logging.String(logging.FieldStage, name)),
	}
	m.laneOrder = append(m.laneOrder, name)
	return nil
}

// Stages lists the registered stage names in registration order.
func (m *Manager) Stages() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.laneOrder...)
}
