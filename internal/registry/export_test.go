package registry

import (
	"log/slog"
	"time"
)

// NewKafkaAnnouncerWithWriter swaps the Kafka writer for tests.
func NewKafkaAnnouncerWithWriter(w messageWriter, timeout time.Duration, logger *slog.Logger) *KafkaAnnouncer {
	return newKafkaAnnouncer(w, timeout, logger)
}

// SetNow pins the registration clock.
func (r *Registrar) SetNow(fn func() time.Time) { r.now = fn }
