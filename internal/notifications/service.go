package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"stagehand/internal/config"
)

const userAgent = "Stagehand-Go/0.1.0"

// Event names a notification-worthy pipeline moment.
type Event string

const (
	// EventEntryDropped fires when an upload stage gives up on an entry.
	EventEntryDropped Event = "entry_dropped"
	// EventBatchCreated fires when the batcher writes a manifest round.
	EventBatchCreated Event = "batch_created"
	// EventError fires when a stage tick fails.
	EventError Event = "error"
	// EventTestNotification is sent by `stagehand config test-notify`.
	EventTestNotification Event = "test"
)

// Payload carries event details. Keys are event specific.
type Payload map[string]any

// Service defines the notification surface exposed to pipeline components.
type Service interface {
	Publish(ctx context.Context, event Event, payload Payload) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &ntfyService{
		endpoint: topic,
		client:   &http.Client{Timeout: timeout},
		enabled: map[Event]bool{
			EventEntryDropped:     cfg.Notifications.Dropped,
			EventBatchCreated:     cfg.Notifications.Batches,
			EventError:            cfg.Notifications.Errors,
			EventTestNotification: true,
		},
	}
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint string
	client   *http.Client
	enabled  map[Event]bool
}

func (n *ntfyService) Publish(ctx context.Context, event Event, data Payload) error {
	if n == nil || !n.enabled[event] {
		return nil
	}
	msg, ok := n.format(event, data)
	if !ok {
		return nil
	}
	return n.send(ctx, msg)
}

func (n *ntfyService) format(event Event, data Payload) (payload, bool) {
	switch event {
	case EventEntryDropped:
		entry := stringValue(data, "entry")
		stage := stringValue(data, "stage")
		message := fmt.Sprintf("🗑️ Dropped: %s", entry)
		if stage != "" {
			message = fmt.Sprintf("🗑️ Dropped by %s: %s", stage, entry)
		}
		if reason := stringValue(data, "reason"); reason != "" {
			message = fmt.Sprintf("%s\nReason: %s", message, reason)
		}
		return payload{
			title:   "Stagehand - Entry Dropped",
			message: message,
			tags:    []string{"stagehand", "upload", "dropped"},
		}, true
	case EventBatchCreated:
		message := fmt.Sprintf("📦 Manifest batch written: %d files", intValue(data, "files"))
		if counts, ok := data["categories"].(map[string]int); ok && len(counts) > 0 {
			message = fmt.Sprintf("%s (%s)", message, formatCounts(counts))
		}
		return payload{
			title:   "Stagehand - Batch Created",
			message: message,
			tags:    []string{"stagehand", "manifest", "created"},
		}, true
	case EventError:
		var builder strings.Builder
		builder.WriteString("❌ Error")
		if label := stringValue(data, "context"); label != "" {
			builder.WriteString(" in ")
			builder.WriteString(label)
		}
		builder.WriteString(": ")
		if detail := stringValue(data, "error"); detail != "" {
			builder.WriteString(detail)
		} else {
			builder.WriteString("unknown")
		}
		return payload{
			title:    "Stagehand - Error",
			message:  builder.String(),
			tags:     []string{"stagehand", "error", "alert"},
			priority: "high",
		}, true
	case EventTestNotification:
		return payload{
			title:    "Stagehand - Test",
			message:  "🧪 Notification system test",
			tags:     []string{"stagehand", "test"},
			priority: "low",
		}, true
	default:
		return payload{}, false
	}
}

func (n *ntfyService) send(ctx context.Context, data payload) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func stringValue(data Payload, key string) string {
	switch v := data[key].(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	case error:
		return strings.TrimSpace(v.Error())
	case fmt.Stringer:
		return strings.TrimSpace(v.String())
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

func intValue(data Payload, key string) int {
	switch v := data[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	default:
		return 0
	}
}

func formatCounts(counts map[string]int) string {
	keys := make([]string, 0, len(counts))
	for key := range counts {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		parts = append(parts, fmt.Sprintf("%s %d", key, counts[key]))
	}
	return strings.Join(parts, ", ")
}

type noopService struct{}

func (noopService) Publish(context.Context, Event, Payload) error { return nil }
