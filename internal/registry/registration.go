package registry

import (
	"time"

	"stagehand/internal/manifest"
)

// Registration is the announcement emitted for one manifest.
type Registration struct {
	ManifestID   string        `json:"manifest_id"`
	Kind         manifest.Kind `json:"kind"`
	Path         string        `json:"path"`
	Files        int           `json:"files"`
	Bytes        int64         `json:"bytes"`
	Parts        []string      `json:"parts,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
	RegisteredAt time.Time     `json:"registered_at"`
}

// NewRegistration summarizes doc found at path.
func NewRegistration(doc manifest.Document, path string, now time.Time) Registration {
	reg := Registration{
		ManifestID:   doc.ID,
		Kind:         doc.Kind,
		Path:         path,
		Files:        len(doc.Files),
		Bytes:        doc.TotalBytes(),
		CreatedAt:    doc.CreatedAt,
		RegisteredAt: now.UTC(),
	}
	for _, ref := range doc.Manifests {
		reg.Parts = append(reg.Parts, ref.Path)
	}
	return reg
}
