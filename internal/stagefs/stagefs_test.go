package stagefs_test

import (
	"os"
	"path/filepath"
	"testing"

	"stagehand/internal/stagefs"
	"stagehand/internal/testsupport"
)

func TestScanListsRegularFilesSorted(t *testing.T) {
	dir := t.TempDir()
	testsupport.WriteFile(t, filepath.Join(dir, "b.csv"), 10)
	testsupport.WriteFile(t, filepath.Join(dir, "a.csv"), 20)
	testsupport.WriteFile(t, filepath.Join(dir, "sub", "c.csv"), 30)
	testsupport.WriteFile(t, filepath.Join(dir, ".partial"), 5)
	if err := os.Symlink(filepath.Join(dir, "a.csv"), filepath.Join(dir, "link.csv")); err != nil {
		t.Fatalf("symlink: %v", err)
	}

	flat, err := stagefs.Scan(dir, false)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if got := names(flat); len(got) != 2 || got[0] != "a.csv" || got[1] != "b.csv" {
		t.Fatalf("unexpected flat scan: %v", got)
	}
	if flat[0].Size != 20 {
		t.Fatalf("expected size 20, got %d", flat[0].Size)
	}

	deep, err := stagefs.Scan(dir, true)
	if err != nil {
		t.Fatalf("Scan recursive: %v", err)
	}
	if got := names(deep); len(got) != 3 || got[2] != "sub/c.csv" {
		t.Fatalf("unexpected recursive scan: %v", got)
	}
	if deep[2].Base() != "c.csv" {
		t.Fatalf("unexpected base: %s", deep[2].Base())
	}
}

func TestScanMissingDirIsEmpty(t *testing.T) {
	entries, err := stagefs.Scan(filepath.Join(t.TempDir(), "absent"), true)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected no entries, got %d", len(entries))
	}
}

func TestCountSumsSizes(t *testing.T) {
	dir := t.TempDir()
	testsupport.WriteFile(t, filepath.Join(dir, "a"), 3)
	testsupport.WriteFile(t, filepath.Join(dir, "b"), 4)
	count, size, err := stagefs.Count(dir, false)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if count != 2 || size != 7 {
		t.Fatalf("unexpected count=%d size=%d", count, size)
	}
}

func TestMoveIntoPreservesRelativeName(t *testing.T) {
	src := t.TempDir()
	dst := t.TempDir()
	testsupport.WriteFile(t, filepath.Join(src, "batch", "a.csv"), 8)

	entries, err := stagefs.Scan(src, true)
	if err != nil || len(entries) != 1 {
		t.Fatalf("Scan: %v %v", entries, err)
	}
	moved, err := stagefs.MoveInto(entries[0], dst)
	if err != nil {
		t.Fatalf("MoveInto: %v", err)
	}
	if moved != filepath.Join(dst, "batch", "a.csv") {
		t.Fatalf("unexpected destination %s", moved)
	}
	if _, err := os.Stat(entries[0].Path); !os.IsNotExist(err) {
		t.Fatalf("expected source gone, stat err=%v", err)
	}
	if _, err := os.Stat(moved); err != nil {
		t.Fatalf("expected destination: %v", err)
	}
}

func TestMoveReplacesExistingDestination(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	dst := filepath.Join(dir, "out", "dst")
	testsupport.WriteFile(t, src, 10)
	testsupport.WriteFile(t, dst, 2)

	if err := stagefs.Move(src, dst); err != nil {
		t.Fatalf("Move: %v", err)
	}
	info, err := os.Stat(dst)
	if err != nil {
		t.Fatal(err)
	}
	if info.Size() != 10 {
		t.Fatalf("expected replaced file of 10 bytes, got %d", info.Size())
	}
}

func TestMoveVanishedSource(t *testing.T) {
	dir := t.TempDir()
	err := stagefs.Move(filepath.Join(dir, "gone"), filepath.Join(dir, "dst"))
	if err == nil {
		t.Fatal("expected error")
	}
	if !stagefs.IsVanished(err) {
		t.Fatalf("expected vanished error, got %v", err)
	}
}

func names(entries []stagefs.Entry) []string {
	out := make([]string, len(entries))
	for i, entry := range entries {
		out[i] = entry.Name
	}
	return out
}
