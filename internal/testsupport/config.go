package testsupport

import (
	"path/filepath"
	"testing"

	"stagehand/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config rooted in a unique temp directory per test.
// Stage directories are derived from the root and created on disk, and the
// timing knobs are shrunk so ticks complete quickly.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.RootDir = filepath.Join(base, "pipeline")
	cfgVal.Paths.StateDir = filepath.Join(base, "state")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Remote.LocalDir = filepath.Join(base, "remote")
	cfgVal.Stability.SettleDelayMillis = 10
	cfgVal.Upload.BackoffBaseMillis = 1
	cfgVal.Upload.BackoffMaxMillis = 5
	cfgVal.Notifications.NtfyTopic = ""

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	if err := builder.cfg.Normalize(); err != nil {
		t.Fatalf("normalize config: %v", err)
	}
	if err := builder.cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	return builder.cfg
}

// WithRetryLimit overrides the upload retry limit.
func WithRetryLimit(limit int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Upload.RetryLimit = limit
	}
}

// WithManifestThresholds overrides the batch count and interval (seconds).
func WithManifestThresholds(count, intervalSeconds int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Manifest.CountThreshold = count
		b.cfg.Manifest.Interval = intervalSeconds
	}
}

// WithComponents restricts the enabled pipeline components.
func WithComponents(names ...string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Workflow.Components = names
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.RootDir)
}
