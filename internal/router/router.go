// Package router splits landed entries into accepted and rejected by
// evaluating a content predicate. A predicate that cannot reach a verdict
// (read failure, corrupt data) returns an error and the entry is routed to
// the failed stage by the stage driver.
package router

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path"
	"strings"

	"stagehand/internal/config"
	"stagehand/internal/services"
	"stagehand/internal/stage"
	"stagehand/internal/stagefs"
)

// Outcome labels.
const (
	OutcomeAccepted = "accepted"
	OutcomeRejected = "rejected"
)

// sniffLen matches what http.DetectContentType considers.
const sniffLen = 512

// Predicate returns true to accept an entry, false to reject it, and an error
// when no verdict is possible.
type Predicate func(ctx context.Context, entry stagefs.Entry) (bool, error)

// Router routes entries according to Predicate.
type Router struct {
	Accepted  string
	Rejected  string
	Predicate Predicate
}

// New builds a router whose predicate is assembled from the [filter] section.
func New(cfg *config.Config) *Router {
	return &Router{
		Accepted:  cfg.Stages.Accepted,
		Rejected:  cfg.Stages.Rejected,
		Predicate: FromConfig(cfg.Filter),
	}
}

// Classify implements stage.Classifier.
func (r *Router) Classify(ctx context.Context, entry stagefs.Entry) (stage.Decision, error) {
	predicate := r.Predicate
	if predicate == nil {
		predicate = AcceptAll
	}
	ok, err := predicate(ctx, entry)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// Someone else already moved it.
			return stage.Stay(), nil
		}
		return stage.Decision{}, services.Wrap(services.ErrValidation, "filter", "evaluate predicate", entry.Name, err)
	}
	if ok {
		return stage.MoveTo(OutcomeAccepted, r.Accepted), nil
	}
	return stage.MoveTo(OutcomeRejected, r.Rejected), nil
}

// FromConfig composes the predicates enabled in the filter section. An empty
// section accepts everything.
func FromConfig(f config.Filter) Predicate {
	var preds []Predicate
	if f.RejectEmpty {
		preds = append(preds, NonEmpty)
	}
	if f.MaxSizeBytes > 0 {
		preds = append(preds, MaxSize(f.MaxSizeBytes))
	}
	if len(f.Extensions) > 0 {
		preds = append(preds, Extensions(f.Extensions...))
	}
	if len(f.ContentTypes) > 0 {
		preds = append(preds, ContentTypes(f.ContentTypes...))
	}
	if len(preds) == 0 {
		return AcceptAll
	}
	return All(preds...)
}

// AcceptAll accepts every entry that can still be read.
func AcceptAll(_ context.Context, entry stagefs.Entry) (bool, error) {
	f, err := os.Open(entry.Path)
	if err != nil {
		return false, err
	}
	return true, f.Close()
}

// All accepts only when every predicate accepts. It stops at the first
// rejection or error.
func All(preds ...Predicate) Predicate {
	return func(ctx context.Context, entry stagefs.Entry) (bool, error) {
		for _, pred := range preds {
			ok, err := pred(ctx, entry)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil
	}
}

// NonEmpty rejects zero-byte entries.
func NonEmpty(_ context.Context, entry stagefs.Entry) (bool, error) {
	info, err := os.Stat(entry.Path)
	if err != nil {
		return false, err
	}
	return info.Size() > 0, nil
}

// MaxSize rejects entries larger than limit bytes.
func MaxSize(limit int64) Predicate {
	return func(_ context.Context, entry stagefs.Entry) (bool, error) {
		info, err := os.Stat(entry.Path)
		if err != nil {
			return false, err
		}
		return info.Size() <= limit, nil
	}
}

// Extensions accepts entries whose name ends in one of exts (case
// insensitive, leading dot optional).
func Extensions(exts ...string) Predicate {
	allowed := make(map[string]struct{}, len(exts))
	for _, ext := range exts {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		allowed[ext] = struct{}{}
	}
	return func(_ context.Context, entry stagefs.Entry) (bool, error) {
		_, ok := allowed[strings.ToLower(path.Ext(entry.Name))]
		return ok, nil
	}
}

// ContentTypes sniffs the first bytes of the entry and accepts it when the
// detected media type matches one of types. A type ending in "/*" matches
// the whole family.
func ContentTypes(types ...string) Predicate {
	return func(ctx context.Context, entry stagefs.Entry) (bool, error) {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		detected, err := sniff(entry.Path)
		if err != nil {
			return false, err
		}
		for _, want := range types {
			if matchType(detected, want) {
				return true, nil
			}
		}
		return false, nil
	}
}

func sniff(p string) (string, error) {
	f, err := os.Open(p)
	if err != nil {
		return "", err
	}
	defer f.Close()

	buf := make([]byte, sniffLen)
	n, err := io.ReadFull(f, buf)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return "", fmt.Errorf("read %s: %w", p, err)
	}
	mediaType := http.DetectContentType(buf[:n])
	if i := strings.IndexByte(mediaType, ';'); i >= 0 {
		mediaType = mediaType[:i]
	}
	return strings.TrimSpace(mediaType), nil
}

func matchType(detected, want string) bool {
	want = strings.ToLower(strings.TrimSpace(want))
	if family, ok := strings.CutSuffix(want, "/*"); ok {
		return strings.HasPrefix(detected, family+"/")
	}
	return detected == want
}
