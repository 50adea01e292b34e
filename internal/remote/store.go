// Package remote holds the object-store collaborators the upload stages hand
// entries to. A Store puts the bytes of one local file under a key; keys are
// derived from entry names so a retried put overwrites the same object.
package remote

import (
	"context"
	"fmt"
	"path"
	"strings"

	"stagehand/internal/config"
	"stagehand/internal/services"
)

// Store uploads local files to a remote location.
type Store interface {
	Put(ctx context.Context, key, localPath string) error
	Name() string
}

// Checker is implemented by stores that can verify connectivity up front.
type Checker interface {
	Check(ctx context.Context) error
}

// New builds the store selected by remote.kind.
func New(ctx context.Context, cfg *config.Config) (Store, error) {
	switch cfg.Remote.Kind {
	case config.RemoteLocal, "":
		return NewLocalStore(cfg.Remote.LocalDir)
	case config.RemoteS3:
		return NewS3Store(ctx, S3Config{
			Bucket:          cfg.Remote.S3.Bucket,
			Region:          cfg.Remote.S3.Region,
			Endpoint:        cfg.Remote.S3.Endpoint,
			AccessKeyID:     cfg.Remote.S3.AccessKeyID,
			SecretAccessKey: cfg.Remote.S3.SecretAccessKey,
			ForcePathStyle:  cfg.Remote.S3.ForcePathStyle,
		})
	default:
		return nil, services.Wrap(services.ErrConfiguration, "remote", "init",
			fmt.Sprintf("unsupported remote kind %q", cfg.Remote.Kind), nil)
	}
}

// Key joins non-empty parts with "/" and strips leading slashes so keys stay
// relative to the store root.
func Key(parts ...string) string {
	clean := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.Trim(strings.TrimSpace(part), "/")
		if part != "" {
			clean = append(clean, part)
		}
	}
	return path.Clean(strings.Join(clean, "/"))
}

func validKey(key string) error {
	if key == "" || key == "." || strings.HasPrefix(key, "/") || strings.HasPrefix(key, "../") || key == ".." || strings.Contains(key, "/../") {
		return services.Wrap(services.ErrValidation, "remote", "put", fmt.Sprintf("invalid object key %q", key), nil)
	}
	return nil
}
