package preflight

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"testing"

	"stagehand/internal/config"
	"stagehand/internal/remote"
	"stagehand/internal/testsupport"
)

func TestCheckDirectoryAccess_OK(t *testing.T) {
	dir := t.TempDir()
	result := CheckDirectoryAccess("test", dir)
	if !result.Passed {
		t.Fatalf("expected pass for temp dir, got: %s", result.Detail)
	}
}

func TestCheckDirectoryAccess_NotExist(t *testing.T) {
	result := CheckDirectoryAccess("test", filepath.Join(t.TempDir(), "nope"))
	if result.Passed {
		t.Fatal("expected failure for missing dir")
	}
	if result.Detail == "" {
		t.Fatal("expected non-empty detail")
	}
}

func TestCheckDirectoryAccess_NotDir(t *testing.T) {
	f := filepath.Join(t.TempDir(), "file.txt")
	if err := os.WriteFile(f, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	result := CheckDirectoryAccess("test", f)
	if result.Passed {
		t.Fatal("expected failure for file path")
	}
}

func TestCheckSameFilesystem(t *testing.T) {
	base := t.TempDir()
	a := filepath.Join(base, "a")
	b := filepath.Join(base, "b")
	for _, d := range []string{a, b} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			t.Fatal(err)
		}
	}
	result := CheckSameFilesystem("renames", []config.NamedDir{{Name: "a", Path: a}, {Name: "b", Path: b}})
	if !result.Passed {
		t.Fatalf("expected sibling dirs to share a device: %s", result.Detail)
	}

	result = CheckSameFilesystem("renames", []config.NamedDir{{Name: "a", Path: a}, {Name: "gone", Path: filepath.Join(base, "gone")}})
	if result.Passed {
		t.Fatal("expected failure for missing dir")
	}
}

type checkingStore struct{ err error }

func (s checkingStore) Put(context.Context, string, string) error { return nil }
func (s checkingStore) Name() string                               { return "checking" }
func (s checkingStore) Check(context.Context) error                { return s.err }

func TestCheckRemote(t *testing.T) {
	if r := CheckRemote(context.Background(), checkingStore{}); !r.Passed {
		t.Fatalf("expected pass, got %s", r.Detail)
	}
	if r := CheckRemote(context.Background(), checkingStore{err: errors.New("403")}); r.Passed {
		t.Fatal("expected failing check")
	}
	if r := CheckRemote(context.Background(), nil); r.Passed {
		t.Fatal("expected failure without a store")
	}
}

func TestCheckKafkaUnreachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	if r := CheckKafka(context.Background(), []string{addr}); r.Passed {
		t.Fatalf("expected closed port to fail, got %s", r.Detail)
	}
}

func TestRunAllWithLocalRemote(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store, err := remote.New(context.Background(), cfg)
	if err != nil {
		t.Fatalf("remote.New: %v", err)
	}
	results := RunAll(context.Background(), cfg, store)
	if failed := Failed(results); len(failed) != 0 {
		t.Fatalf("expected all checks to pass, got %+v", failed)
	}
}

func TestRunAllNilConfig(t *testing.T) {
	if results := RunAll(context.Background(), nil, nil); results != nil {
		t.Fatalf("expected nil results, got %+v", results)
	}
}
