package remote

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"stagehand/internal/fileutil"
	"stagehand/internal/services"
)

// LocalStore simulates a remote by copying files into a directory. Copies are
// verified by size and SHA-256 and land under their final name only after a
// rename, so a crash never leaves a truncated object behind.
type LocalStore struct {
	root string
}

// NewLocalStore returns a store rooted at dir.
func NewLocalStore(dir string) (*LocalStore, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, services.Wrap(services.ErrConfiguration, "remote", "init", "remote.local_dir is required", nil)
	}
	return &LocalStore{root: dir}, nil
}

// Name identifies the store in logs.
func (s *LocalStore) Name() string { return "local:" + s.root }

// Put copies localPath to <root>/<key>, replacing any previous object.
func (s *LocalStore) Put(ctx context.Context, key, localPath string) error {
	if err := validKey(key); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	dst := filepath.Join(s.root, filepath.FromSlash(key))
	dir := filepath.Dir(dst)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create remote directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, fileutil.TempPrefix+"*")
	if err != nil {
		return fmt.Errorf("create remote temp file: %w", err)
	}
	tmpPath := tmp.Name()
	_ = tmp.Close()

	if err := fileutil.CopyFileVerified(localPath, tmpPath); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, dst); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("commit remote object: %w", err)
	}
	return nil
}

// Check verifies the root can be created and written.
func (s *LocalStore) Check(context.Context) error {
	if err := os.MkdirAll(s.root, 0o755); err != nil {
		return fmt.Errorf("create remote root: %w", err)
	}
	probe, err := os.CreateTemp(s.root, fileutil.TempPrefix+"probe-*")
	if err != nil {
		return fmt.Errorf("remote root not writable: %w", err)
	}
	name := probe.Name()
	_ = probe.Close()
	return os.Remove(name)
}
