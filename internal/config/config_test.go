package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"

	"stagehand/internal/config"
)

func TestLoadDefaultConfigExpandsPathsAndDerivesStages(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}

	wantRoot := filepath.Join(tempHome, ".local", "share", "stagehand", "pipeline")
	if cfg.Paths.RootDir != wantRoot {
		t.Fatalf("unexpected root dir: got %q want %q", cfg.Paths.RootDir, wantRoot)
	}
	if cfg.Stages.Incoming != filepath.Join(wantRoot, "files", "incoming") {
		t.Fatalf("unexpected incoming dir: %q", cfg.Stages.Incoming)
	}
	if cfg.Stages.ManifestsRegistered != filepath.Join(wantRoot, "manifests", "registered") {
		t.Fatalf("unexpected registered dir: %q", cfg.Stages.ManifestsRegistered)
	}
	if got := cfg.CompletedDir(config.CategoryDropped); got != filepath.Join(wantRoot, "files", "completed", "dropped") {
		t.Fatalf("unexpected completed dir: %q", got)
	}
	if cfg.Upload.RetryLimit != 3 {
		t.Fatalf("unexpected retry limit: %d", cfg.Upload.RetryLimit)
	}
	if cfg.Manifest.CountThreshold != 1000 {
		t.Fatalf("unexpected manifest threshold: %d", cfg.Manifest.CountThreshold)
	}
	if cfg.Remote.Kind != config.RemoteLocal {
		t.Fatalf("unexpected remote kind: %q", cfg.Remote.Kind)
	}
	if got := cfg.PollInterval(config.ComponentManifest); got != time.Minute {
		t.Fatalf("unexpected manifest poll interval: %s", got)
	}
	if got := cfg.PollInterval(config.ComponentFilter); got != 5*time.Second {
		t.Fatalf("unexpected filter poll interval: %s", got)
	}

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories failed: %v", err)
	}
	for _, dir := range cfg.StageDirs() {
		info, err := os.Stat(dir.Path)
		if err != nil {
			t.Fatalf("expected directory %q to exist: %v", dir.Path, err)
		}
		if !info.IsDir() {
			t.Fatalf("expected %q to be directory", dir.Path)
		}
	}
}

func TestLoadCustomPath(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "stagehand.toml")

	type payload struct {
		Paths struct {
			RootDir string `toml:"root_dir"`
		} `toml:"paths"`
		Stages struct {
			Incoming string `toml:"incoming"`
		} `toml:"stages"`
		Workflow struct {
			PollInterval int      `toml:"poll_interval"`
			Components   []string `toml:"components"`
		} `toml:"workflow"`
		Filter struct {
			Extensions []string `toml:"extensions"`
		} `toml:"filter"`
		Registration struct {
			KafkaBrokers []string `toml:"kafka_brokers"`
		} `toml:"registration"`
	}
	custom := payload{}
	custom.Paths.RootDir = filepath.Join(tempDir, "root")
	custom.Stages.Incoming = filepath.Join(tempDir, "drop")
	custom.Workflow.PollInterval = 2
	custom.Workflow.Components = []string{" Filter ", "upload"}
	custom.Filter.Extensions = []string{"CSV", ".json"}
	custom.Registration.KafkaBrokers = []string{" broker-1:9092 ", ""}

	data, err := toml.Marshal(custom)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists || resolved != configPath {
		t.Fatalf("expected config at %q, got %q (exists=%v)", configPath, resolved, exists)
	}
	if cfg.Stages.Incoming != filepath.Join(tempDir, "drop") {
		t.Fatalf("expected incoming override, got %q", cfg.Stages.Incoming)
	}
	if cfg.Stages.Landed != filepath.Join(tempDir, "root", "files", "landed") {
		t.Fatalf("expected landed derived from root, got %q", cfg.Stages.Landed)
	}
	if !cfg.ComponentEnabled(config.ComponentFilter) || !cfg.ComponentEnabled(config.ComponentUpload) {
		t.Fatalf("expected filter and upload enabled: %v", cfg.Workflow.Components)
	}
	if cfg.ComponentEnabled(config.ComponentSweep) {
		t.Fatal("expected sweep disabled")
	}
	if strings.Join(cfg.Filter.Extensions, ",") != ".csv,.json" {
		t.Fatalf("unexpected extensions: %v", cfg.Filter.Extensions)
	}
	if len(cfg.Registration.KafkaBrokers) != 1 || cfg.Registration.KafkaBrokers[0] != "broker-1:9092" {
		t.Fatalf("unexpected brokers: %v", cfg.Registration.KafkaBrokers)
	}
}

func TestLoadUsesEnvFallbacks(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("STAGEHAND_S3_ACCESS_KEY_ID", "AKIA")
	t.Setenv("STAGEHAND_S3_SECRET_ACCESS_KEY", "secret")
	t.Setenv("STAGEHAND_NTFY_TOPIC", "https://ntfy.example/topic")

	cfg, _, _, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Remote.S3.AccessKeyID != "AKIA" || cfg.Remote.S3.SecretAccessKey != "secret" {
		t.Fatalf("expected S3 credentials from env, got %+v", cfg.Remote.S3)
	}
	if cfg.Notifications.NtfyTopic != "https://ntfy.example/topic" {
		t.Fatalf("expected ntfy topic from env, got %q", cfg.Notifications.NtfyTopic)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*config.Config)
		wantErr string
	}{
		{
			name:    "poll interval",
			mutate:  func(c *config.Config) { c.Workflow.PollInterval = 0 },
			wantErr: "workflow.poll_interval must be positive",
		},
		{
			name:    "unknown component",
			mutate:  func(c *config.Config) { c.Workflow.Components = []string{"ingest"} },
			wantErr: `unknown component "ingest"`,
		},
		{
			name:    "retry limit",
			mutate:  func(c *config.Config) { c.Upload.RetryLimit = 0 },
			wantErr: "upload.retry_limit must be positive",
		},
		{
			name:    "multiplier",
			mutate:  func(c *config.Config) { c.Upload.BackoffMultiplier = 0.5 },
			wantErr: "upload.backoff_multiplier must be >= 1",
		},
		{
			name:    "manifest threshold",
			mutate:  func(c *config.Config) { c.Manifest.CountThreshold = -1 },
			wantErr: "manifest.count_threshold must be positive",
		},
		{
			name: "s3 bucket",
			mutate: func(c *config.Config) {
				c.Remote.Kind = config.RemoteS3
				c.Remote.S3.Region = "us-east-1"
			},
			wantErr: "remote.s3.bucket must be set",
		},
		{
			name:    "stability mode",
			mutate:  func(c *config.Config) { c.Stability.Mode = "forever" },
			wantErr: "stability.mode must be",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatalf("expected validation error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("unexpected error: got %q want substring %q", err.Error(), tt.wantErr)
			}
		})
	}
}

func TestDefaultValidates(t *testing.T) {
	cfg := config.Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

func TestCreateSampleProducesLoadableConfig(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample failed: %v", err)
	}
	cfg, _, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("sample config should load: %v", err)
	}
	if !exists {
		t.Fatal("expected sample config to exist")
	}
	if cfg.Stability.SettleDelayMillis != 1000 {
		t.Fatalf("unexpected settle delay: %d", cfg.Stability.SettleDelayMillis)
	}
}
