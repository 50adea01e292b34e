package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"stagehand/internal/config"
	"stagehand/internal/logging"
	"stagehand/internal/services"
)

// Announcer publishes registrations.
type Announcer interface {
	Announce(ctx context.Context, reg Registration) error
	Close() error
}

// NewAnnouncer returns a KafkaAnnouncer when brokers are configured and a
// LogAnnouncer otherwise.
func NewAnnouncer(cfg *config.Config, logger *slog.Logger) Announcer {
	brokers := cfg.Registration.KafkaBrokers
	if len(brokers) == 0 {
		return &LogAnnouncer{Logger: logger}
	}
	timeout := time.Duration(cfg.Registration.WriteTimeout) * time.Second
	return NewKafkaAnnouncer(brokers, cfg.Registration.KafkaTopic, timeout, logger)
}

// LogAnnouncer records registrations in the log only.
type LogAnnouncer struct {
	Logger *slog.Logger
}

// Announce logs reg.
func (a *LogAnnouncer) Announce(ctx context.Context, reg Registration) error {
	logging.WithContext(ctx, a.Logger).Info("manifest registered",
		logging.String(logging.FieldEventType, "manifest_registered"),
		logging.String("manifest_id", reg.ManifestID),
		logging.String("kind", string(reg.Kind)),
		logging.Int("files", reg.Files),
		logging.Int64("bytes", reg.Bytes),
		logging.Int("parts", len(reg.Parts)),
	)
	return nil
}

// Close is a no-op.
func (a *LogAnnouncer) Close() error { return nil }

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaAnnouncer publishes registrations to a Kafka topic.
type KafkaAnnouncer struct {
	writer  messageWriter
	timeout time.Duration
	logger  *slog.Logger
}

// NewKafkaAnnouncer creates a synchronous writer for topic.
func NewKafkaAnnouncer(brokers []string, topic string, timeout time.Duration, logger *slog.Logger) *KafkaAnnouncer {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchSize:    1,
		BatchTimeout: 10 * time.Millisecond,
		MaxAttempts:  3,
		RequiredAcks: kafka.RequireAll,
		WriteTimeout: timeout,
	}
	return newKafkaAnnouncer(w, timeout, logging.NewComponentLogger(logger, "kafka").With(
		logging.String("topic", topic),
		logging.String("brokers", strings.Join(brokers, ",")),
	))
}

func newKafkaAnnouncer(w messageWriter, timeout time.Duration, logger *slog.Logger) *KafkaAnnouncer {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &KafkaAnnouncer{writer: w, timeout: timeout, logger: logger}
}

// Announce writes reg as one JSON message keyed by manifest ID.
func (a *KafkaAnnouncer) Announce(ctx context.Context, reg Registration) error {
	value, err := json.Marshal(reg)
	if err != nil {
		return fmt.Errorf("marshal registration: %w", err)
	}
	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}
	msg := kafka.Message{Key: []byte(reg.ManifestID), Value: value}
	if err := a.writer.WriteMessages(ctx, msg); err != nil {
		return services.Wrap(services.ErrExternal, "register", "kafka publish", reg.ManifestID, err)
	}
	a.logger.Debug("registration published",
		logging.String("manifest_id", reg.ManifestID),
		logging.Int("value_size", len(value)),
	)
	return nil
}

// Close flushes pending writes and closes the writer.
func (a *KafkaAnnouncer) Close() error {
	return a.writer.Close()
}
