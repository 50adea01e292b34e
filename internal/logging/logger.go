package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"stagehand/internal/config"
)

// Options describes logger construction parameters.
type Options struct {
	Level            string
	Format           string
	OutputPaths      []string
	ErrorOutputPaths []string
	Development      bool
}

// New constructs a slog logger using the provided options. Every record goes
// to OutputPaths; records at error level are also copied to the
// ErrorOutputPaths that are not already outputs.
func New(opts Options) (*slog.Logger, error) {
	level := parseLevel(opts.Level)
	levelVar := new(slog.LevelVar)
	levelVar.Set(level)

	outputs := defaultSlice(opts.OutputPaths, []string{"stdout"})
	errorsOnly := subtract(defaultSlice(opts.ErrorOutputPaths, []string{"stderr"}), outputs)

	format := strings.ToLower(strings.TrimSpace(opts.Format))
	if format == "" {
		format = "console"
	}
	var build func(io.Writer) slog.Handler
	addSource := opts.Development || level <= slog.LevelDebug
	switch format {
	case "json":
		build = func(w io.Writer) slog.Handler { return newJSONHandler(w, levelVar, addSource) }
	case "console":
		build = func(w io.Writer) slog.Handler { return newPrettyHandler(w, levelVar, addSource) }
	default:
		return nil, fmt.Errorf("log format: unsupported value %q", opts.Format)
	}

	outputWriter, err := openWriters(outputs)
	if err != nil {
		return nil, err
	}
	handler := build(outputWriter)
	if len(errorsOnly) > 0 {
		errorWriter, err := openWriters(errorsOnly)
		if err != nil {
			return nil, err
		}
		handler = &errorTee{main: handler, errs: build(errorWriter)}
	}
	return slog.New(handler), nil
}

// NewFromConfig creates a logger using application config defaults.
func NewFromConfig(cfg *config.Config) (*slog.Logger, error) {
	if cfg == nil {
		return New(Options{Level: "info", Format: "console"})
	}

	outputPaths := []string{"stdout"}
	errorOutputs := []string{"stderr"}
	if cfg.Paths.LogDir != "" {
		if err := os.MkdirAll(cfg.Paths.LogDir, 0o755); err != nil {
			return nil, fmt.Errorf("ensure log directory: %w", err)
		}
		logPath := filepath.Join(cfg.Paths.LogDir, "stagehand.log")
		outputPaths = append(outputPaths, logPath)
		errorOutputs = append(errorOutputs, logPath)
	}

	return New(Options{
		Level:            cfg.Logging.Level,
		Format:           cfg.Logging.Format,
		OutputPaths:      outputPaths,
		ErrorOutputPaths: errorOutputs,
	})
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func defaultSlice(value []string, fallback []string) []string {
	if len(value) == 0 {
		value = fallback
	}
	cp := make([]string, len(value))
	copy(cp, value)
	return cp
}

func subtract(paths, remove []string) []string {
	drop := make(map[string]struct{}, len(remove))
	for _, p := range remove {
		drop[strings.TrimSpace(p)] = struct{}{}
	}
	var out []string
	for _, p := range paths {
		if _, ok := drop[strings.TrimSpace(p)]; !ok {
			out = append(out, p)
		}
	}
	return out
}

func openWriters(paths []string) (io.Writer, error) {
	var writers []io.Writer
	opened := make(map[string]bool, len(paths))
	for _, raw := range paths {
		path := strings.TrimSpace(raw)
		if path == "" || opened[path] {
			continue
		}
		opened[path] = true
		w, err := writerFor(path)
		if err != nil {
			return nil, err
		}
		writers = append(writers, w)
	}
	if len(writers) == 0 {
		return os.Stdout, nil
	}
	if len(writers) == 1 {
		return writers[0], nil
	}
	return io.MultiWriter(writers...), nil
}

// writerFor maps "stdout" and "stderr" to the process streams and anything
// else to an append-only file, creating its directory.
func writerFor(path string) (io.Writer, error) {
	switch path {
	case "stdout":
		return os.Stdout, nil
	case "stderr":
		return os.Stderr, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create log directory for %s: %w", path, err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file %s: %w", path, err)
	}
	return f, nil
}

// errorTee copies error records to a second handler.
type errorTee struct {
	main slog.Handler
	errs slog.Handler
}

func (t *errorTee) Enabled(ctx context.Context, level slog.Level) bool {
	return t.main.Enabled(ctx, level)
}

func (t *errorTee) Handle(ctx context.Context, record slog.Record) error {
	err := t.main.Handle(ctx, record)
	if record.Level >= slog.LevelError {
		if errsErr := t.errs.Handle(ctx, record.Clone()); err == nil {
			err = errsErr
		}
	}
	return err
}

func (t *errorTee) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &errorTee{main: t.main.WithAttrs(attrs), errs: t.errs.WithAttrs(attrs)}
}

func (t *errorTee) WithGroup(name string) slog.Handler {
	return &errorTee{main: t.main.WithGroup(name), errs: t.errs.WithGroup(name)}
}
