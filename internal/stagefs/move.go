package stagefs

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"stagehand/internal/fileutil"
)

// Move renames src to dst, creating dst's parent first and replacing any
// existing file at dst. The rename is the ownership transfer: afterwards the
// entry is gone from its previous stage. When src has already been moved the
// returned error satisfies IsVanished.
func Move(src, dst string) error {
	dstDir := filepath.Dir(dst)
	if err := os.MkdirAll(dstDir, 0o755); err != nil {
		return fmt.Errorf("create stage directory %s: %w", dstDir, err)
	}
	if err := os.Rename(src, dst); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			if _, statErr := os.Lstat(src); errors.Is(statErr, fs.ErrNotExist) {
				return fmt.Errorf("move %s: %w", src, fs.ErrNotExist)
			}
		}
		return fmt.Errorf("move %s -> %s: %w", src, dst, err)
	}
	fileutil.SyncDir(dstDir)
	return nil
}

// MoveInto moves entry into stageDir, keeping its relative name, and returns
// the destination path.
func MoveInto(entry Entry, stageDir string) (string, error) {
	dst := filepath.Join(stageDir, filepath.FromSlash(entry.Name))
	if err := Move(entry.Path, dst); err != nil {
		return "", err
	}
	return dst, nil
}

// IsVanished reports whether err means the source entry no longer exists,
// which callers treat as an idempotent skip.
func IsVanished(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}

// MarkArrived sets path's modification time to t. Renames keep the old mtime,
// so terminal stages stamp entries on arrival and age them from there.
func MarkArrived(path string, t time.Time) error {
	if err := os.Chtimes(path, t, t); err != nil {
		return fmt.Errorf("stamp arrival %s: %w", path, err)
	}
	return nil
}
