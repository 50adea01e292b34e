package config

import (
	"errors"
	"fmt"
	"slices"
	"sort"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateWorkflow(); err != nil {
		return err
	}
	if err := c.validateStability(); err != nil {
		return err
	}
	if err := c.validateFilter(); err != nil {
		return err
	}
	if err := c.validateUpload(); err != nil {
		return err
	}
	if err := c.validateManifest(); err != nil {
		return err
	}
	if err := c.validateRemote(); err != nil {
		return err
	}
	if err := c.validateRegistration(); err != nil {
		return err
	}
	if err := c.validateMisc(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateWorkflow() error {
	if c.Workflow.PollInterval <= 0 {
		return errors.New("workflow.poll_interval must be positive")
	}
	for _, name := range c.Workflow.Components {
		if name == ComponentAll {
			continue
		}
		if !slices.Contains(Components, name) {
			return fmt.Errorf("workflow.components: unknown component %q", name)
		}
	}
	keys := make([]string, 0, len(c.Workflow.Intervals))
	for key := range c.Workflow.Intervals {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if !slices.Contains(Components, key) {
			return fmt.Errorf("workflow.intervals: unknown component %q", key)
		}
		if c.Workflow.Intervals[key] <= 0 {
			return fmt.Errorf("workflow.intervals.%s must be positive", key)
		}
	}
	return nil
}

func (c *Config) validateStability() error {
	switch c.Stability.Mode {
	case StabilitySettle, StabilityTick:
	default:
		return fmt.Errorf("stability.mode must be %q or %q", StabilitySettle, StabilityTick)
	}
	if c.Stability.SettleDelayMillis < 0 {
		return errors.New("stability.settle_delay_ms must be >= 0")
	}
	return nil
}

func (c *Config) validateFilter() error {
	if c.Filter.MaxSizeBytes < 0 {
		return errors.New("filter.max_size_bytes must be >= 0")
	}
	return nil
}

func (c *Config) validateUpload() error {
	if err := ensurePositiveMap(map[string]int{
		"upload.retry_limit":            c.Upload.RetryLimit,
		"upload.backoff_base_ms":        c.Upload.BackoffBaseMillis,
		"upload.backoff_max_ms":         c.Upload.BackoffMaxMillis,
		"upload.abandon_after":          c.Upload.AbandonAfter,
		"upload.manifest_abandon_after": c.Upload.ManifestAbandonAfter,
	}); err != nil {
		return err
	}
	if c.Upload.BackoffMultiplier < 1 {
		return errors.New("upload.backoff_multiplier must be >= 1")
	}
	if c.Upload.BackoffMaxMillis < c.Upload.BackoffBaseMillis {
		return errors.New("upload.backoff_max_ms must be >= upload.backoff_base_ms")
	}
	return nil
}

func (c *Config) validateManifest() error {
	if c.Manifest.CountThreshold <= 0 {
		return errors.New("manifest.count_threshold must be positive")
	}
	if c.Manifest.Interval <= 0 {
		return errors.New("manifest.interval must be positive")
	}
	return nil
}

func (c *Config) validateRemote() error {
	switch c.Remote.Kind {
	case RemoteLocal:
		if c.Remote.LocalDir == "" {
			return errors.New("remote.local_dir must be set when remote.kind is local")
		}
	case RemoteS3:
		if c.Remote.S3.Bucket == "" {
			return errors.New("remote.s3.bucket must be set when remote.kind is s3")
		}
		if c.Remote.S3.Region == "" {
			return errors.New("remote.s3.region must be set when remote.kind is s3")
		}
		if (c.Remote.S3.AccessKeyID == "") != (c.Remote.S3.SecretAccessKey == "") {
			return errors.New("remote.s3.access_key_id and remote.s3.secret_access_key must be set together")
		}
	default:
		return fmt.Errorf("remote.kind must be %q or %q", RemoteLocal, RemoteS3)
	}
	return nil
}

func (c *Config) validateRegistration() error {
	if len(c.Registration.KafkaBrokers) > 0 && c.Registration.WriteTimeout <= 0 {
		return errors.New("registration.write_timeout must be positive when kafka_brokers are set")
	}
	return nil
}

func (c *Config) validateMisc() error {
	if c.Retention.CompletedDays < 0 {
		return errors.New("retention.completed_days must be >= 0")
	}
	if c.Notifications.RequestTimeout <= 0 {
		return errors.New("notifications.request_timeout must be positive")
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if values[key] <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
