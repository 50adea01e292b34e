// Package unpack expands zip archives dropped into the compressed stage.
//
// Members are extracted into a hidden staging directory next to
// incoming/<archive stem>/ and published with a single rename once every
// member has been written, so the incoming stage sees all of an archive or
// none of it. The archive itself then moves to completed/compressed.
// Archives that cannot be read or that name members outside their extraction
// root go to the failed stage and release nothing.
package unpack

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/klauspost/compress/zip"

	"stagehand/internal/config"
	"stagehand/internal/fileutil"
	"stagehand/internal/logging"
	"stagehand/internal/services"
	"stagehand/internal/stage"
	"stagehand/internal/stagefs"
)

// OutcomeUnpacked labels archives moved to completed/compressed after
// extraction.
const OutcomeUnpacked = "unpacked"

// Unpacker is a stage.Classifier over the compressed stage.
type Unpacker struct {
	Incoming  string
	Completed string
	// Settle is the minimum archive age before extraction starts.
	Settle time.Duration
	Logger *slog.Logger

	now func() time.Time
}

// New builds an unpacker from cfg.
func New(cfg *config.Config, logger *slog.Logger) *Unpacker {
	return &Unpacker{
		Incoming:  cfg.Stages.Incoming,
		Completed: cfg.CompletedDir(config.CompletedCompressed),
		Settle:    time.Duration(cfg.Stability.SettleDelayMillis) * time.Millisecond,
		Logger:    logger,
	}
}

// Classify extracts entry and routes it to completed/compressed. Errors route
// the archive to the failure stage.
func (u *Unpacker) Classify(ctx context.Context, entry stagefs.Entry) (stage.Decision, error) {
	if !strings.EqualFold(path.Ext(entry.Name), ".zip") {
		return stage.Stay(), services.Wrap(services.ErrValidation, config.ComponentUnpack, "classify", "not a zip archive", nil)
	}
	if u.Settle > 0 && entry.Age(u.clock()) < u.Settle {
		return stage.Stay(), nil
	}

	root := filepath.Join(u.Incoming, filepath.FromSlash(strings.TrimSuffix(entry.Name, path.Ext(entry.Name))))
	dest, members, err := Extract(ctx, entry.Path, root)
	if err != nil {
		if ctx.Err() != nil {
			return stage.Stay(), ctx.Err()
		}
		if stagefs.IsVanished(err) {
			return stage.Stay(), nil
		}
		if errors.Is(err, services.ErrTransient) {
			logging.WarnWithContext(logging.WithContext(ctx, u.Logger), "archive extraction interrupted", "unpack_retry",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check free space and permissions on the incoming stage"),
				logging.String(logging.FieldImpact, "archive left in place and retried next tick"),
			)
			return stage.Stay(), nil
		}
		return stage.Stay(), err
	}
	logging.WithContext(ctx, u.Logger).Info("archive unpacked",
		logging.String(logging.FieldEventType, "archive_unpacked"),
		logging.Int("members", members),
		logging.String("destination", dest),
	)
	if err := stagefs.MarkArrived(entry.Path, u.clock()); err != nil {
		logging.WithContext(ctx, u.Logger).Debug("arrival stamp failed", logging.Error(err))
	}
	return stage.MoveTo(OutcomeUnpacked, u.Completed), nil
}

func (u *Unpacker) clock() time.Time {
	if u.now != nil {
		return u.now()
	}
	return time.Now()
}

// Extract writes every regular member of the archive at src into a new
// directory and returns where it landed and how many members it holds. The
// directory is root, or root with a numeric suffix when root already exists.
// Nothing becomes visible under root's parent until every member is written;
// on error the staging directory is removed.
func Extract(ctx context.Context, src, root string) (string, int, error) {
	zr, err := zip.OpenReader(src)
	if err != nil {
		if stagefs.IsVanished(err) {
			return "", 0, err
		}
		return "", 0, services.Wrap(services.ErrValidation, config.ComponentUnpack, "open", filepath.Base(src), err)
	}
	defer zr.Close()

	files := make([]*zip.File, 0, len(zr.File))
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		if !f.Mode().IsRegular() {
			return "", 0, services.Wrap(services.ErrValidation, config.ComponentUnpack, "inspect", "archive holds a non-regular member "+f.Name, nil)
		}
		if _, err := memberPath(root, f.Name); err != nil {
			return "", 0, err
		}
		files = append(files, f)
	}

	parent, stem := filepath.Dir(root), filepath.Base(root)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return "", 0, services.Wrap(services.ErrTransient, config.ComponentUnpack, "stage", parent, err)
	}
	removeStaging(parent, stem)
	staging, err := os.MkdirTemp(parent, stagingPattern(stem))
	if err != nil {
		return "", 0, services.Wrap(services.ErrTransient, config.ComponentUnpack, "stage", parent, err)
	}

	for _, f := range files {
		if err := ctx.Err(); err != nil {
			_ = os.RemoveAll(staging)
			return "", 0, err
		}
		dst, _ := memberPath(staging, f.Name)
		if err := extractMember(f, dst); err != nil {
			_ = os.RemoveAll(staging)
			return "", 0, err
		}
	}

	dest, err := publish(staging, root)
	if err != nil {
		_ = os.RemoveAll(staging)
		return "", 0, services.Wrap(services.ErrTransient, config.ComponentUnpack, "publish", stem, err)
	}
	return dest, len(files), nil
}

func stagingPattern(stem string) string {
	return fileutil.TempPrefix + "unpack-" + stem + "-*"
}

// removeStaging clears staging directories a crashed run left for stem.
func removeStaging(parent, stem string) {
	leftovers, err := filepath.Glob(filepath.Join(parent, stagingPattern(stem)))
	if err != nil {
		return
	}
	for _, dir := range leftovers {
		_ = os.RemoveAll(dir)
	}
}

// publish renames staging to root, or to root-1, root-2 and so on when an
// earlier archive with the same stem is still being drained.
func publish(staging, root string) (string, error) {
	const maxSuffix = 1000
	for n := 0; n < maxSuffix; n++ {
		dest := root
		if n > 0 {
			dest = fmt.Sprintf("%s-%d", root, n)
		}
		if _, err := os.Lstat(dest); err == nil {
			continue
		} else if !errors.Is(err, fs.ErrNotExist) {
			return "", err
		}
		if err := os.Rename(staging, dest); err != nil {
			if errors.Is(err, fs.ErrExist) || errors.Is(err, syscall.ENOTEMPTY) {
				continue
			}
			return "", err
		}
		fileutil.SyncDir(filepath.Dir(dest))
		return dest, nil
	}
	return "", fmt.Errorf("no free extraction directory for %s", root)
}

func extractMember(f *zip.File, dst string) error {
	rc, err := f.Open()
	if err != nil {
		return services.Wrap(services.ErrValidation, config.ComponentUnpack, "read", f.Name, err)
	}
	defer rc.Close()

	limit := int64(f.UncompressedSize64)
	err = fileutil.WriteAtomic(dst, 0o644, func(w io.Writer) error {
		n, err := io.Copy(w, io.LimitReader(rc, limit+1))
		if err != nil {
			return err
		}
		if n != limit {
			return fmt.Errorf("member size %d does not match header size %d", n, limit)
		}
		return nil
	})
	if err != nil {
		var pathErr *fs.PathError
		if errors.As(err, &pathErr) {
			return services.Wrap(services.ErrTransient, config.ComponentUnpack, "extract", f.Name, err)
		}
		return services.Wrap(services.ErrValidation, config.ComponentUnpack, "extract", f.Name, err)
	}
	return nil
}

// memberPath resolves name below root, rejecting absolute names, parent
// traversal, and hidden components.
func memberPath(root, name string) (string, error) {
	clean := path.Clean(strings.ReplaceAll(name, `\`, "/"))
	if clean == "." || path.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, "../") || filepath.VolumeName(clean) != "" {
		return "", services.Wrap(services.ErrValidation, config.ComponentUnpack, "inspect", "unsafe member name "+name, nil)
	}
	for _, part := range strings.Split(clean, "/") {
		if strings.HasPrefix(part, ".") {
			return "", services.Wrap(services.ErrValidation, config.ComponentUnpack, "inspect", "hidden member name "+name, nil)
		}
	}
	return filepath.Join(root, filepath.FromSlash(clean)), nil
}
