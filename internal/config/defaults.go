package config

const (
	defaultConfigPath            = "~/.config/stagehand/config.toml"
	defaultRootDir               = "~/.local/share/stagehand/pipeline"
	defaultStateDir              = "~/.local/share/stagehand/state"
	defaultLogDir                = "~/.local/share/stagehand/logs"
	defaultRemoteLocalDir        = "~/.local/share/stagehand/remote"
	defaultRemoteKeyPrefix       = "stagehand"
	defaultPollInterval          = 5
	defaultMaxConcurrency        = 16
	defaultManifestPollInterval  = 60
	defaultRetentionPollInterval = 3600
	defaultStabilityMode         = StabilitySettle
	defaultSettleDelayMillis     = 1000
	defaultRetryLimit            = 3
	defaultBackoffBaseMillis     = 2000
	defaultBackoffMultiplier     = 2.0
	defaultBackoffMaxMillis      = 60000
	defaultAbandonAfter          = 3600
	defaultManifestCount         = 1000
	defaultManifestInterval      = 3600
	defaultKafkaTopic            = "stagehand.manifests"
	defaultKafkaWriteTimeout     = 10
	defaultNtfyRequestTimeout    = 10
	defaultLogFormat             = "console"
	defaultLogLevel              = "info"
	defaultLogRetentionDays      = 30
)

// Component names accepted by workflow.components and `stagehand run`.
const (
	ComponentAll            = "all"
	ComponentUnpack         = "unpack"
	ComponentMonitor        = "monitor"
	ComponentFilter         = "filter"
	ComponentUpload         = "upload"
	ComponentManifest       = "manifest"
	ComponentManifestUpload = "manifest-upload"
	ComponentRegister       = "register"
	ComponentSweep          = "sweep"
	ComponentRetention      = "retention"
)

// Components lists every runnable component in pipeline order.
var Components = []string{
	ComponentUnpack,
	ComponentMonitor,
	ComponentFilter,
	ComponentUpload,
	ComponentManifest,
	ComponentManifestUpload,
	ComponentRegister,
	ComponentSweep,
	ComponentRetention,
}

// Manifest categories. Each one batches the stage directory of the same name.
const (
	CategoryUploaded = "uploaded"
	CategoryRejected = "rejected"
	CategoryDropped  = "dropped"
	CategoryFailed   = "failed"

	// CompletedCompressed receives archives after their members are unpacked.
	CompletedCompressed = "compressed"
	// CompletedAggregate receives retired aggregate manifests.
	CompletedAggregate = "aggregate"
)

// ManifestCategories lists the batched stage categories in manifest order.
var ManifestCategories = []string{CategoryUploaded, CategoryRejected, CategoryDropped, CategoryFailed}

const (
	StabilitySettle = "settle"
	StabilityTick   = "tick"

	RemoteLocal = "local"
	RemoteS3    = "s3"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			RootDir:  defaultRootDir,
			StateDir: defaultStateDir,
			LogDir:   defaultLogDir,
		},
		Workflow: Workflow{
			PollInterval:   defaultPollInterval,
			MaxConcurrency: defaultMaxConcurrency,
			Recursive:      true,
			Components:     []string{ComponentAll},
			Intervals: map[string]int{
				ComponentManifest:  defaultManifestPollInterval,
				ComponentRetention: defaultRetentionPollInterval,
			},
		},
		Stability: Stability{
			Mode:              defaultStabilityMode,
			SettleDelayMillis: defaultSettleDelayMillis,
		},
		Upload: Upload{
			RetryLimit:           defaultRetryLimit,
			BackoffBaseMillis:    defaultBackoffBaseMillis,
			BackoffMultiplier:    defaultBackoffMultiplier,
			BackoffMaxMillis:     defaultBackoffMaxMillis,
			AbandonAfter:         defaultAbandonAfter,
			ManifestAbandonAfter: defaultAbandonAfter,
		},
		Manifest: Manifest{
			CountThreshold: defaultManifestCount,
			Interval:       defaultManifestInterval,
		},
		Remote: Remote{
			Kind:      RemoteLocal,
			LocalDir:  defaultRemoteLocalDir,
			KeyPrefix: defaultRemoteKeyPrefix,
		},
		Registration: Registration{
			KafkaTopic:   defaultKafkaTopic,
			WriteTimeout: defaultKafkaWriteTimeout,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNtfyRequestTimeout,
			Dropped:        true,
			Errors:         true,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
	}
}
