package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"stagehand/internal/config"
	"stagehand/internal/fileutil"
	"stagehand/internal/services"
)

// Kind distinguishes batch documents from aggregates.
type Kind string

const (
	KindBatch     Kind = "batch"
	KindAggregate Kind = "aggregate"
)

// FileRecord is one entry captured by a batch document.
type FileRecord struct {
	// Path is the absolute location of the entry when the batch was written.
	Path string `json:"path"`
	// Name is the entry name relative to its stage directory.
	Name string `json:"name"`
	Size int64  `json:"size"`
}

// Ref points an aggregate at one batch document.
type Ref struct {
	Category string `json:"category"`
	// Path is relative to any manifest stage root, e.g. "rejected/manifest_x.json".
	Path string `json:"path"`
}

// Document is the on-disk manifest format.
type Document struct {
	ID        string       `json:"id"`
	Kind      Kind         `json:"kind"`
	Category  string       `json:"category,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
	Files     []FileRecord `json:"files,omitempty"`
	Manifests []Ref        `json:"manifests,omitempty"`
}

// TotalBytes sums the recorded file sizes.
func (d Document) TotalBytes() int64 {
	var total int64
	for _, f := range d.Files {
		total += f.Size
	}
	return total
}

// Validate checks the structure of a parsed document.
func (d Document) Validate() error {
	switch d.Kind {
	case KindBatch:
		if strings.TrimSpace(d.Category) == "" {
			return errors.New("batch manifest missing category")
		}
		for i, f := range d.Files {
			if f.Path == "" || f.Name == "" {
				return fmt.Errorf("file record %d missing path or name", i)
			}
			if escapes(f.Name) {
				return fmt.Errorf("file record %d name escapes its stage", i)
			}
		}
	case KindAggregate:
		for i, ref := range d.Manifests {
			if ref.Path == "" || ref.Category == "" {
				return fmt.Errorf("manifest reference %d missing path or category", i)
			}
			if escapes(ref.Path) {
				return fmt.Errorf("manifest reference %d escapes the manifest root", i)
			}
		}
	default:
		return fmt.Errorf("unknown manifest kind %q", d.Kind)
	}
	return nil
}

func escapes(rel string) bool {
	clean := filepath.Clean(filepath.FromSlash(rel))
	return filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator))
}

// FileName returns the document name for a round created at t.
func FileName(t time.Time) string {
	return "manifest_" + t.UTC().Format("2006-01-02_150405_000000") + ".json"
}

// Read parses and validates the document at path. Structural problems are
// reported as services.ErrValidation; a missing file keeps fs.ErrNotExist.
func Read(path string) (Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Document{}, err
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return Document{}, services.Wrap(services.ErrValidation, "manifest", "parse", filepath.Base(path), err)
	}
	if err := doc.Validate(); err != nil {
		return Document{}, services.Wrap(services.ErrValidation, "manifest", "validate", filepath.Base(path), err)
	}
	return doc, nil
}

// Write stores doc at path through a hidden temp file and rename, so readers
// never observe a partial document.
func Write(path string, doc Document) error {
	if err := doc.Validate(); err != nil {
		return services.Wrap(services.ErrValidation, "manifest", "write", filepath.Base(path), err)
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	data = append(data, '\n')
	return fileutil.WriteFileAtomic(path, data, 0o644)
}

// IsMissing reports whether err means the document is gone.
func IsMissing(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}

// Dirs are the manifest stage roots.
type Dirs struct {
	Landed     string
	Uploaded   string
	Registered string
	Dropped    string
	Failed     string
	Completed  string
}

// DirsFromConfig resolves the manifest stage roots.
func DirsFromConfig(cfg *config.Config) Dirs {
	return Dirs{
		Landed:     cfg.Stages.ManifestsLanded,
		Uploaded:   cfg.Stages.ManifestsUploaded,
		Registered: cfg.Stages.ManifestsRegistered,
		Dropped:    cfg.Stages.ManifestsDropped,
		Failed:     cfg.Stages.ManifestsFailed,
		Completed:  cfg.Stages.ManifestsCompleted,
	}
}

// Pending lists the roots holding documents that have not been swept yet, in
// pipeline order.
func (d Dirs) Pending() []string {
	return []string{d.Landed, d.Uploaded, d.Registered}
}

// Locate finds the root currently holding the document at rel. It returns
// the root and true, or "" and false when no root has it.
func (d Dirs) Locate(rel string, roots ...string) (string, bool) {
	for _, root := range roots {
		if root == "" {
			continue
		}
		if info, err := os.Stat(filepath.Join(root, filepath.FromSlash(rel))); err == nil && info.Mode().IsRegular() {
			return root, true
		}
	}
	return "", false
}
