package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains the pipeline root and daemon bookkeeping directories.
type Paths struct {
	RootDir  string `toml:"root_dir"`
	StateDir string `toml:"state_dir"`
	LogDir   string `toml:"log_dir"`
}

// Stages holds the resolved stage directories. Empty values are derived
// from Paths.RootDir during normalization.
type Stages struct {
	Compressed          string `toml:"compressed"`
	Incoming            string `toml:"incoming"`
	Landed              string `toml:"landed"`
	Accepted            string `toml:"accepted"`
	Rejected            string `toml:"rejected"`
	Failed              string `toml:"failed"`
	Uploaded            string `toml:"uploaded"`
	Dropped             string `toml:"dropped"`
	Completed           string `toml:"completed"`
	ManifestsLanded     string `toml:"manifests_landed"`
	ManifestsUploaded   string `toml:"manifests_uploaded"`
	ManifestsRegistered string `toml:"manifests_registered"`
	ManifestsDropped    string `toml:"manifests_dropped"`
	ManifestsFailed     string `toml:"manifests_failed"`
	ManifestsCompleted  string `toml:"manifests_completed"`
}

// Workflow contains scheduler timing and fan-out settings.
type Workflow struct {
	PollInterval   int            `toml:"poll_interval"`
	MaxConcurrency int            `toml:"max_concurrency"`
	Recursive      bool           `toml:"recursive"`
	Components     []string       `toml:"components"`
	Intervals      map[string]int `toml:"intervals"`
}

// Stability configures how incoming files are judged complete.
type Stability struct {
	Mode              string `toml:"mode"`
	SettleDelayMillis int    `toml:"settle_delay_ms"`
}

// Filter configures the predicates that split landed files into accepted
// and rejected.
type Filter struct {
	Extensions   []string `toml:"extensions"`
	ContentTypes []string `toml:"content_types"`
	MaxSizeBytes int64    `toml:"max_size_bytes"`
	RejectEmpty  bool     `toml:"reject_empty"`
}

// Upload configures the retrying uploader used for files and manifests.
type Upload struct {
	RetryLimit           int     `toml:"retry_limit"`
	BackoffBaseMillis    int     `toml:"backoff_base_ms"`
	BackoffMultiplier    float64 `toml:"backoff_multiplier"`
	BackoffMaxMillis     int     `toml:"backoff_max_ms"`
	AbandonAfter         int     `toml:"abandon_after"`
	ManifestAbandonAfter int     `toml:"manifest_abandon_after"`
}

// Manifest configures batch thresholds.
type Manifest struct {
	CountThreshold int `toml:"count_threshold"`
	Interval       int `toml:"interval"`
}

// S3 contains connection settings for the S3 remote store.
type S3 struct {
	Bucket          string `toml:"bucket"`
	Region          string `toml:"region"`
	Endpoint        string `toml:"endpoint"`
	AccessKeyID     string `toml:"access_key_id"`
	SecretAccessKey string `toml:"secret_access_key"`
	ForcePathStyle  bool   `toml:"force_path_style"`
}

// Remote selects and configures the remote object store.
type Remote struct {
	Kind      string `toml:"kind"`
	LocalDir  string `toml:"local_dir"`
	KeyPrefix string `toml:"key_prefix"`
	S3        S3     `toml:"s3"`
}

// Registration configures how registered manifests are announced.
type Registration struct {
	KafkaBrokers []string `toml:"kafka_brokers"`
	KafkaTopic   string   `toml:"kafka_topic"`
	WriteTimeout int      `toml:"write_timeout"`
}

// Retention configures removal of terminal completed files.
type Retention struct {
	CompletedDays int `toml:"completed_days"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
	Dropped        bool   `toml:"dropped"`
	Batches        bool   `toml:"batches"`
	Errors         bool   `toml:"errors"`
}

// Metrics configures the Prometheus endpoint.
type Metrics struct {
	Bind string `toml:"bind"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
}

// Config encapsulates all configuration values for stagehand.
//
// Configuration sections by subsystem:
//   - Paths: pipeline root, state (journal, lock, pid) and log directories
//   - Stages: per-stage directory overrides
//   - Workflow: poll intervals, fan-out width, enabled components
//   - Stability: incoming settle detection
//   - Filter: accept/reject predicates
//   - Upload: retry, backoff, and abandonment policy
//   - Manifest: batch size and time thresholds
//   - Remote: local folder or S3 object store
//   - Registration: manifest announcements (log or Kafka)
//   - Retention: completed file pruning
//   - Notifications: ntfy push notification settings
//   - Metrics: Prometheus endpoint
//   - Logging: log format, level, and retention
type Config struct {
	Paths         Paths         `toml:"paths"`
	Stages        Stages        `toml:"stages"`
	Workflow      Workflow      `toml:"workflow"`
	Stability     Stability     `toml:"stability"`
	Filter        Filter        `toml:"filter"`
	Upload        Upload        `toml:"upload"`
	Manifest      Manifest      `toml:"manifest"`
	Remote        Remote        `toml:"remote"`
	Registration  Registration  `toml:"registration"`
	Retention     Retention     `toml:"retention"`
	Notifications Notifications `toml:"notifications"`
	Metrics       Metrics       `toml:"metrics"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and every stage directory resolved.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("stagehand.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// NamedDir pairs a stage label with its directory.
type NamedDir struct {
	Name string
	Path string
}

// StageDirs lists every stage directory in pipeline order.
func (c *Config) StageDirs() []NamedDir {
	dirs := []NamedDir{
		{Name: "compressed", Path: c.Stages.Compressed},
		{Name: "incoming", Path: c.Stages.Incoming},
		{Name: "landed", Path: c.Stages.Landed},
		{Name: "accepted", Path: c.Stages.Accepted},
		{Name: "rejected", Path: c.Stages.Rejected},
		{Name: "failed", Path: c.Stages.Failed},
		{Name: "uploaded", Path: c.Stages.Uploaded},
		{Name: "dropped", Path: c.Stages.Dropped},
	}
	for _, category := range ManifestCategories {
		dirs = append(dirs, NamedDir{Name: "completed/" + category, Path: c.CompletedDir(category)})
	}
	dirs = append(dirs,
		NamedDir{Name: "completed/" + CompletedCompressed, Path: c.CompletedDir(CompletedCompressed)},
		NamedDir{Name: "manifests/landed", Path: c.Stages.ManifestsLanded},
		NamedDir{Name: "manifests/uploaded", Path: c.Stages.ManifestsUploaded},
		NamedDir{Name: "manifests/registered", Path: c.Stages.ManifestsRegistered},
		NamedDir{Name: "manifests/dropped", Path: c.Stages.ManifestsDropped},
		NamedDir{Name: "manifests/failed", Path: c.Stages.ManifestsFailed},
		NamedDir{Name: "manifests/completed", Path: c.Stages.ManifestsCompleted},
	)
	return dirs
}

// CompletedDir returns the terminal directory for a manifest category.
func (c *Config) CompletedDir(category string) string {
	return filepath.Join(c.Stages.Completed, category)
}

// CategoryDir returns the source stage directory batched under category.
func (c *Config) CategoryDir(category string) string {
	switch category {
	case CategoryUploaded:
		return c.Stages.Uploaded
	case CategoryRejected:
		return c.Stages.Rejected
	case CategoryDropped:
		return c.Stages.Dropped
	case CategoryFailed:
		return c.Stages.Failed
	default:
		return ""
	}
}

// EnsureDirectories creates every stage directory plus the state and log
// directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.Paths.RootDir, c.Paths.StateDir, c.Paths.LogDir}
	for _, dir := range c.StageDirs() {
		dirs = append(dirs, dir.Path)
	}
	if c.Remote.Kind == RemoteLocal && strings.TrimSpace(c.Remote.LocalDir) != "" {
		dirs = append(dirs, c.Remote.LocalDir)
	}
	for _, dir := range dirs {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// PollInterval returns the tick interval for a component, honouring
// per-component overrides.
func (c *Config) PollInterval(component string) time.Duration {
	if seconds, ok := c.Workflow.Intervals[component]; ok && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	return time.Duration(c.Workflow.PollInterval) * time.Second
}

// ComponentEnabled reports whether the named component should run.
func (c *Config) ComponentEnabled(component string) bool {
	if len(c.Workflow.Components) == 0 {
		return true
	}
	for _, name := range c.Workflow.Components {
		if name == ComponentAll || name == component {
			return true
		}
	}
	return false
}

// JournalPath returns the SQLite journal location.
func (c *Config) JournalPath() string {
	return filepath.Join(c.Paths.StateDir, "journal.db")
}

// LockPath returns the daemon lock file location.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.StateDir, "stagehand.lock")
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// Sample returns the annotated sample configuration.
func Sample() string {
	return sampleConfig
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

// Normalize expands paths and derives unset stage directories from the root.
// Load calls it; configs assembled in code must call it before use.
func (c *Config) Normalize() error {
	return c.normalize()
}
