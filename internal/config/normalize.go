package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	if err := c.normalizeStages(); err != nil {
		return err
	}
	c.normalizeWorkflow()
	c.normalizeFilter()
	if err := c.normalizeRemote(); err != nil {
		return err
	}
	c.normalizeRegistration()
	c.normalizeNotifications()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.RootDir) == "" {
		c.Paths.RootDir = defaultRootDir
	}
	if c.Paths.RootDir, err = expandPath(c.Paths.RootDir); err != nil {
		return fmt.Errorf("paths.root_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.StateDir) == "" {
		c.Paths.StateDir = defaultStateDir
	}
	if c.Paths.StateDir, err = expandPath(c.Paths.StateDir); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeStages() error {
	root := c.Paths.RootDir
	fields := []struct {
		key   string
		value *string
		rel   string
	}{
		{"stages.compressed", &c.Stages.Compressed, "files/compressed"},
		{"stages.incoming", &c.Stages.Incoming, "files/incoming"},
		{"stages.landed", &c.Stages.Landed, "files/landed"},
		{"stages.accepted", &c.Stages.Accepted, "files/accepted"},
		{"stages.rejected", &c.Stages.Rejected, "files/rejected"},
		{"stages.failed", &c.Stages.Failed, "files/failed"},
		{"stages.uploaded", &c.Stages.Uploaded, "files/uploaded"},
		{"stages.dropped", &c.Stages.Dropped, "files/dropped"},
		{"stages.completed", &c.Stages.Completed, "files/completed"},
		{"stages.manifests_landed", &c.Stages.ManifestsLanded, "manifests/landed"},
		{"stages.manifests_uploaded", &c.Stages.ManifestsUploaded, "manifests/uploaded"},
		{"stages.manifests_registered", &c.Stages.ManifestsRegistered, "manifests/registered"},
		{"stages.manifests_dropped", &c.Stages.ManifestsDropped, "manifests/dropped"},
		{"stages.manifests_failed", &c.Stages.ManifestsFailed, "manifests/failed"},
		{"stages.manifests_completed", &c.Stages.ManifestsCompleted, "manifests/completed"},
	}
	for _, field := range fields {
		if strings.TrimSpace(*field.value) == "" {
			*field.value = filepath.Join(root, filepath.FromSlash(field.rel))
			continue
		}
		expanded, err := expandPath(*field.value)
		if err != nil {
			return fmt.Errorf("%s: %w", field.key, err)
		}
		*field.value = expanded
	}
	return nil
}

func (c *Config) normalizeWorkflow() {
	if c.Workflow.MaxConcurrency <= 0 {
		c.Workflow.MaxConcurrency = defaultMaxConcurrency
	}
	components := make([]string, 0, len(c.Workflow.Components))
	for _, name := range c.Workflow.Components {
		name = strings.ToLower(strings.TrimSpace(name))
		if name != "" {
			components = append(components, name)
		}
	}
	c.Workflow.Components = components
	c.Stability.Mode = strings.ToLower(strings.TrimSpace(c.Stability.Mode))
	if c.Stability.Mode == "" {
		c.Stability.Mode = defaultStabilityMode
	}
}

func (c *Config) normalizeFilter() {
	exts := make([]string, 0, len(c.Filter.Extensions))
	for _, ext := range c.Filter.Extensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		exts = append(exts, ext)
	}
	c.Filter.Extensions = exts
	types := make([]string, 0, len(c.Filter.ContentTypes))
	for _, value := range c.Filter.ContentTypes {
		if value = strings.ToLower(strings.TrimSpace(value)); value != "" {
			types = append(types, value)
		}
	}
	c.Filter.ContentTypes = types
}

func (c *Config) normalizeRemote() error {
	c.Remote.Kind = strings.ToLower(strings.TrimSpace(c.Remote.Kind))
	if c.Remote.Kind == "" {
		c.Remote.Kind = RemoteLocal
	}
	var err error
	if c.Remote.LocalDir, err = expandPath(c.Remote.LocalDir); err != nil {
		return fmt.Errorf("remote.local_dir: %w", err)
	}
	c.Remote.KeyPrefix = strings.Trim(strings.TrimSpace(c.Remote.KeyPrefix), "/")

	s3 := &c.Remote.S3
	s3.Bucket = strings.TrimSpace(s3.Bucket)
	s3.Region = strings.TrimSpace(s3.Region)
	s3.Endpoint = strings.TrimSpace(s3.Endpoint)
	if s3.AccessKeyID == "" {
		if value, ok := os.LookupEnv("STAGEHAND_S3_ACCESS_KEY_ID"); ok {
			s3.AccessKeyID = strings.TrimSpace(value)
		}
	}
	if s3.SecretAccessKey == "" {
		if value, ok := os.LookupEnv("STAGEHAND_S3_SECRET_ACCESS_KEY"); ok {
			s3.SecretAccessKey = strings.TrimSpace(value)
		}
	}
	return nil
}

func (c *Config) normalizeRegistration() {
	if len(c.Registration.KafkaBrokers) == 0 {
		if value, ok := os.LookupEnv("STAGEHAND_KAFKA_BROKERS"); ok {
			c.Registration.KafkaBrokers = strings.Split(value, ",")
		}
	}
	brokers := make([]string, 0, len(c.Registration.KafkaBrokers))
	for _, broker := range c.Registration.KafkaBrokers {
		if broker = strings.TrimSpace(broker); broker != "" {
			brokers = append(brokers, broker)
		}
	}
	c.Registration.KafkaBrokers = brokers
	c.Registration.KafkaTopic = strings.TrimSpace(c.Registration.KafkaTopic)
	if c.Registration.KafkaTopic == "" {
		c.Registration.KafkaTopic = defaultKafkaTopic
	}
}

func (c *Config) normalizeNotifications() {
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if c.Notifications.NtfyTopic == "" {
		if value, ok := os.LookupEnv("STAGEHAND_NTFY_TOPIC"); ok {
			c.Notifications.NtfyTopic = strings.TrimSpace(value)
		}
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Logging.RetentionDays < 0 {
		c.Logging.RetentionDays = 0
	}
}
