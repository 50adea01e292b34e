package logging_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"stagehand/internal/config"
	"stagehand/internal/logging"
	"stagehand/internal/services"
)

func newFileLogger(t *testing.T, format, level string) (func() string, *logging.Options) {
	t.Helper()
	logPath := filepath.Join(t.TempDir(), "stagehand.log")
	opts := &logging.Options{
		Format:           format,
		Level:            level,
		OutputPaths:      []string{logPath},
		ErrorOutputPaths: []string{logPath},
	}
	read := func() string {
		content, err := os.ReadFile(logPath)
		if err != nil {
			t.Fatalf("read log file: %v", err)
		}
		return string(content)
	}
	return read, opts
}

func TestNewFromConfigWritesLogFile(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.LogDir = t.TempDir()

	logger, err := logging.NewFromConfig(&cfg)
	if err != nil {
		t.Fatalf("NewFromConfig returned error: %v", err)
	}
	logger.Info("hello")

	if _, err := os.Stat(filepath.Join(cfg.Paths.LogDir, "stagehand.log")); err != nil {
		t.Fatalf("expected log file: %v", err)
	}
}

func TestConsoleLoggerLiftsComponentAndStage(t *testing.T) {
	read, opts := newFileLogger(t, "console", "info")
	logger, err := logging.New(*opts)
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	ctx := services.WithStage(context.Background(), "filter")
	ctx = services.WithEntry(ctx, "batch/a.csv")
	logging.WithContext(ctx, logging.NewComponentLogger(logger, "workflow")).Info("entry moved",
		logging.String("to", "/srv/accepted"),
	)

	out := read()
	if !strings.Contains(out, "[workflow] filter · batch/a.csv - entry moved") {
		t.Fatalf("unexpected header: %q", out)
	}
	if !strings.Contains(out, "    to: /srv/accepted") {
		t.Fatalf("expected field line, got %q", out)
	}
	if strings.Contains(out, ".go:") {
		t.Fatalf("expected no caller information in info logs, got %q", out)
	}
}

func TestConsoleLoggerIncludesCallerForDebug(t *testing.T) {
	read, opts := newFileLogger(t, "console", "debug")
	logger, err := logging.New(*opts)
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	logger.Debug("message with caller")
	if !strings.Contains(read(), ".go:") {
		t.Fatal("expected caller information in debug logs")
	}
}

func TestJSONLoggerUsesStableKeys(t *testing.T) {
	read, opts := newFileLogger(t, "json", "info")
	logger, err := logging.New(*opts)
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	logger.Warn("tick failed",
		logging.String(logging.FieldEventType, "tick_failed"),
		logging.Duration("elapsed", 1500*time.Millisecond),
	)

	var record map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(read())), &record); err != nil {
		t.Fatalf("decode json log: %v", err)
	}
	if record["level"] != "warn" {
		t.Fatalf("unexpected level: %v", record["level"])
	}
	if _, err := time.Parse(time.RFC3339Nano, record["ts"].(string)); err != nil {
		t.Fatalf("unexpected ts: %v", record["ts"])
	}
	if record[logging.FieldEventType] != "tick_failed" {
		t.Fatalf("unexpected event type: %v", record[logging.FieldEventType])
	}
	if record["elapsed"] != "1.5s" {
		t.Fatalf("expected duration rendered as string, got %v", record["elapsed"])
	}
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	if _, err := logging.New(logging.Options{Format: "xml"}); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

func TestWarnWithContextInjectsDefaults(t *testing.T) {
	read, opts := newFileLogger(t, "json", "info")
	logger, err := logging.New(*opts)
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	logging.WarnWithContext(logger, "move failed", "move_failed")

	out := read()
	for _, key := range []string{logging.FieldEventType, logging.FieldErrorHint, logging.FieldImpact} {
		if !strings.Contains(out, `"`+key+`"`) {
			t.Fatalf("expected %s in %q", key, out)
		}
	}
}

func TestCleanupOldLogsHonoursExclusions(t *testing.T) {
	dir := t.TempDir()
	old := filepath.Join(dir, "stagehand-old.log")
	current := filepath.Join(dir, "stagehand-current.log")
	for _, path := range []string{old, current} {
		if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
			t.Fatalf("write %s: %v", path, err)
		}
		past := time.Now().AddDate(0, 0, -10)
		if err := os.Chtimes(path, past, past); err != nil {
			t.Fatalf("chtimes: %v", err)
		}
	}

	logging.CleanupOldLogs(logging.NewNop(), 5, logging.RetentionTarget{
		Dir:     dir,
		Pattern: "stagehand-*.log",
		Exclude: []string{current},
	})

	if _, err := os.Stat(old); !os.IsNotExist(err) {
		t.Fatalf("expected old log removed, stat err=%v", err)
	}
	if _, err := os.Stat(current); err != nil {
		t.Fatalf("expected current log kept: %v", err)
	}
}

func TestErrorOutputsOnlyReceiveErrors(t *testing.T) {
	dir := t.TempDir()
	mainPath := filepath.Join(dir, "main.log")
	errPath := filepath.Join(dir, "errors.log")
	logger, err := logging.New(logging.Options{
		Format:           "json",
		Level:            "info",
		OutputPaths:      []string{mainPath},
		ErrorOutputPaths: []string{errPath, mainPath},
	})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	logger.With(logging.String("stage", "upload")).Info("tick finished")
	logger.With(logging.String("stage", "upload")).Error("remote unreachable")

	mainLog, err := os.ReadFile(mainPath)
	if err != nil {
		t.Fatalf("read main log: %v", err)
	}
	errLog, err := os.ReadFile(errPath)
	if err != nil {
		t.Fatalf("read error log: %v", err)
	}
	if got := strings.Count(string(mainLog), "\n"); got != 2 {
		t.Fatalf("expected both records in main log, got %d lines: %q", got, mainLog)
	}
	if strings.Contains(string(errLog), "tick finished") || !strings.Contains(string(errLog), "remote unreachable") {
		t.Fatalf("unexpected error log: %q", errLog)
	}
	if !strings.Contains(string(errLog), `"stage":"upload"`) {
		t.Fatalf("expected attrs carried to error log: %q", errLog)
	}
}
