// Package upload implements the retrying uploader classifier. Each accepted
// entry is either abandoned for age, put to the remote store within a bounded
// number of attempts, or left in place when the daemon is shutting down.
//
// Attempt counters live only inside one Classify call. An entry that burns
// its whole budget goes to the dropped stage; nothing carries over between
// ticks, and the age rule bounds how long an entry can keep coming back.
package upload

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"stagehand/internal/config"
	"stagehand/internal/logging"
	"stagehand/internal/metrics"
	"stagehand/internal/notifications"
	"stagehand/internal/remote"
	"stagehand/internal/services"
	"stagehand/internal/stage"
	"stagehand/internal/stagefs"
)

// Outcome labels.
const (
	OutcomeUploaded = "uploaded"
	OutcomeDropped  = "dropped"
)

// Policy bounds the retry loop.
type Policy struct {
	// Attempts is the maximum number of Put calls per entry per tick.
	Attempts   int
	Base       time.Duration
	Multiplier float64
	Max        time.Duration
	// AbandonAfter drops entries whose modification time is older than this
	// without attempting an upload. Zero disables the rule.
	AbandonAfter time.Duration
}

// PolicyFromConfig reads the [upload] section. abandonSeconds selects between
// the file and manifest abandonment ages.
func PolicyFromConfig(u config.Upload, abandonSeconds int) Policy {
	return Policy{
		Attempts:     u.RetryLimit,
		Base:         time.Duration(u.BackoffBaseMillis) * time.Millisecond,
		Multiplier:   u.BackoffMultiplier,
		Max:          time.Duration(u.BackoffMaxMillis) * time.Millisecond,
		AbandonAfter: time.Duration(abandonSeconds) * time.Second,
	}
}

func (p Policy) backOff(ctx context.Context) backoff.BackOff {
	if p.Attempts <= 1 {
		// WithMaxRetries treats zero as unlimited.
		return backoff.WithContext(&backoff.StopBackOff{}, ctx)
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.Base
	b.RandomizationFactor = 0
	if p.Multiplier > 1 {
		b.Multiplier = p.Multiplier
	} else {
		b.Multiplier = 1
	}
	if p.Max > 0 {
		b.MaxInterval = p.Max
	}
	b.MaxElapsedTime = 0
	b.Reset()

	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(p.Attempts-1)), ctx)
}

// Uploader is a stage.Classifier that hands entries to a remote.Store.
type Uploader struct {
	// StageName labels metrics, notifications, and the remote key.
	StageName string
	Uploaded  string
	Dropped   string
	Store     remote.Store
	KeyPrefix string
	Policy    Policy

	Logger   *slog.Logger
	Metrics  *metrics.Metrics
	Notifier notifications.Service

	now func() time.Time
}

// Key returns the idempotent remote key of an entry.
func (u *Uploader) Key(entry stagefs.Entry) string {
	return remote.Key(u.KeyPrefix, u.StageName, entry.Name)
}

// Classify implements stage.Classifier.
func (u *Uploader) Classify(ctx context.Context, entry stagefs.Entry) (stage.Decision, error) {
	logger := logging.WithContext(ctx, u.Logger)
	now := time.Now
	if u.now != nil {
		now = u.now
	}

	if u.Policy.AbandonAfter > 0 {
		if age := entry.Age(now()); age > u.Policy.AbandonAfter {
			u.dropped(ctx, logger, entry, "older than abandonment age", logging.Duration("age", age.Round(time.Second)))
			return stage.MoveTo(OutcomeDropped, u.Dropped), nil
		}
	}

	key := u.Key(entry)
	attempts := 0
	operation := func() error {
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}
		attempts++
		err := u.Store.Put(ctx, key, entry.Path)
		u.Metrics.ObserveUpload(u.StageName, err)
		switch {
		case err == nil:
			return nil
		case stagefs.IsVanished(err), !services.Retryable(err):
			return backoff.Permanent(err)
		default:
			return err
		}
	}
	notify := func(err error, next time.Duration) {
		logger.Debug("upload attempt failed",
			logging.String(logging.FieldEventType, "upload_retry"),
			logging.Int("attempt", attempts),
			logging.Duration("next_delay", next),
			logging.Error(err),
		)
	}

	err := backoff.RetryNotify(operation, u.Policy.backOff(ctx), notify)
	switch {
	case err == nil:
		logger.Debug("upload succeeded",
			logging.String("key", key),
			logging.String("store", u.Store.Name()),
			logging.Int("attempts", attempts),
		)
		return stage.MoveTo(OutcomeUploaded, u.Uploaded), nil
	case ctx.Err() != nil:
		// Shutdown interrupted the attempt; the next run starts over.
		return stage.Stay(), nil
	case stagefs.IsVanished(err):
		return stage.Stay(), nil
	default:
		reason := "retry limit reached"
		if !services.Retryable(err) {
			reason = "permanent upload error"
		}
		u.dropped(ctx, logger, entry, reason,
			logging.Int("attempts", attempts),
			logging.String("key", key),
			logging.Error(err),
		)
		return stage.MoveTo(OutcomeDropped, u.Dropped), nil
	}
}

func (u *Uploader) dropped(ctx context.Context, logger *slog.Logger, entry stagefs.Entry, reason string, attrs ...logging.Attr) {
	attrs = append(attrs,
		logging.String("reason", reason),
		logging.String(logging.FieldErrorHint, "check remote store availability, then move the entry back to the accepted stage"),
		logging.String(logging.FieldImpact, "entry moved to the dropped stage"),
	)
	logging.WarnWithContext(logger, "upload abandoned", "upload_dropped", attrs...)
	if u.Notifier == nil {
		return
	}
	err := u.Notifier.Publish(ctx, notifications.EventEntryDropped, notifications.Payload{
		"stage":  u.StageName,
		"entry":  entry.Name,
		"reason": reason,
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Debug("drop notification failed", logging.Error(err))
	}
}
