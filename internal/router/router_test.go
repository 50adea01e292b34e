package router_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"stagehand/internal/config"
	"stagehand/internal/router"
	"stagehand/internal/services"
	"stagehand/internal/stagefs"
	"stagehand/internal/testsupport"
)

func entryFor(t *testing.T, path string) stagefs.Entry {
	t.Helper()
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	return stagefs.Entry{Name: filepath.Base(path), Path: path, Size: info.Size(), ModTime: info.ModTime()}
}

func TestRouterThreeOutcomes(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	path := filepath.Join(cfg.Stages.Landed, "a.csv")
	testsupport.WriteContent(t, path, "id,name\n1,x\n")
	entry := entryFor(t, path)

	tests := []struct {
		name      string
		predicate router.Predicate
		wantDir   string
		wantErr   bool
	}{
		{"accept", func(context.Context, stagefs.Entry) (bool, error) { return true, nil }, cfg.Stages.Accepted, false},
		{"reject", func(context.Context, stagefs.Entry) (bool, error) { return false, nil }, cfg.Stages.Rejected, false},
		{"error", func(context.Context, stagefs.Entry) (bool, error) { return false, errors.New("io") }, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := router.New(cfg)
			r.Predicate = tt.predicate
			decision, err := r.Classify(context.Background(), entry)
			if tt.wantErr {
				if err == nil || !errors.Is(err, services.ErrValidation) {
					t.Fatalf("expected validation error, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Classify: %v", err)
			}
			if decision.Dir != tt.wantDir {
				t.Fatalf("expected %s, got %+v", tt.wantDir, decision)
			}
		})
	}
}

func TestRouterVanishedEntryStays(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	r := router.New(cfg)
	decision, err := r.Classify(context.Background(), stagefs.Entry{Name: "gone", Path: filepath.Join(cfg.Stages.Landed, "gone")})
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if !decision.Stays() {
		t.Fatalf("expected stay, got %+v", decision)
	}
}

func TestFromConfigPredicates(t *testing.T) {
	dir := t.TempDir()
	csv := filepath.Join(dir, "data.CSV")
	testsupport.WriteContent(t, csv, "a,b\n1,2\n")
	empty := filepath.Join(dir, "empty.csv")
	testsupport.WriteFile(t, empty, 0)
	big := filepath.Join(dir, "big.csv")
	testsupport.WriteFile(t, big, 2048)
	png := filepath.Join(dir, "image.csv")
	testsupport.WriteContent(t, png, "\x89PNG\r\n\x1a\n0000")

	tests := []struct {
		name   string
		filter config.Filter
		path   string
		want   bool
	}{
		{"no filter accepts", config.Filter{}, empty, true},
		{"extension match ignores case", config.Filter{Extensions: []string{"csv"}}, csv, true},
		{"extension mismatch", config.Filter{Extensions: []string{".json"}}, csv, false},
		{"reject empty", config.Filter{RejectEmpty: true}, empty, false},
		{"max size", config.Filter{MaxSizeBytes: 1024}, big, false},
		{"text family", config.Filter{ContentTypes: []string{"text/*"}}, csv, true},
		{"png not text", config.Filter{ContentTypes: []string{"text/plain"}}, png, false},
		{"png exact", config.Filter{ContentTypes: []string{"image/png"}}, png, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := router.FromConfig(tt.filter)(context.Background(), entryFor(t, tt.path))
			if err != nil {
				t.Fatalf("predicate error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("expected %v, got %v", tt.want, got)
			}
		})
	}
}
