package stagefs

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Entry is one regular file observed in a stage directory.
type Entry struct {
	// Name is the slash-separated path relative to the stage directory.
	Name    string
	Path    string
	Size    int64
	ModTime time.Time
}

// Base returns the final element of the entry name.
func (e Entry) Base() string {
	return path.Base(e.Name)
}

// Age reports how long ago the entry was last modified.
func (e Entry) Age(now time.Time) time.Duration {
	return now.Sub(e.ModTime)
}

// Scan returns the regular files currently in dir, sorted by name. When
// recursive is set, nested directories are walked and their files are named
// by relative path. Hidden names are skipped since they mark in-flight
// writes. A missing directory scans as empty.
func Scan(dir string, recursive bool) ([]Entry, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("scan: stage directory not configured")
	}
	if _, err := os.Stat(dir); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan %s: %w", dir, err)
	}

	var entries []Entry
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if p != dir && errors.Is(walkErr, fs.ErrNotExist) {
				// Removed between readdir and lstat.
				return nil
			}
			return walkErr
		}
		if p == dir {
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if !recursive {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		entries = append(entries, Entry{
			Name:    filepath.ToSlash(rel),
			Path:    p,
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", dir, err)
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

// Count returns the number of entries and their combined size.
func Count(dir string, recursive bool) (int, int64, error) {
	entries, err := Scan(dir, recursive)
	if err != nil {
		return 0, 0, err
	}
	var total int64
	for _, entry := range entries {
		total += entry.Size
	}
	return len(entries), total, nil
}
