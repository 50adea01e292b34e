// Package daemonctl starts, probes, and stops a background stagehand daemon
// from the CLI. The daemon's flock on the state directory lock file is the
// source of truth for whether it runs; the pid file names the process to
// signal.
package daemonctl

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gofrs/flock"

	"stagehand/internal/config"
)

// PIDFileName is written into the state directory by the running daemon.
const PIDFileName = "stagehand.pid"

// PIDPath returns the pid file location for cfg.
func PIDPath(cfg *config.Config) string {
	return filepath.Join(cfg.Paths.StateDir, PIDFileName)
}

// Running reports whether a daemon holds the lock, and its pid when the pid
// file names one.
func Running(cfg *config.Config) (bool, int, error) {
	lock := flock.New(cfg.LockPath())
	locked, err := lock.TryLock()
	if err != nil {
		return false, 0, fmt.Errorf("probe daemon lock: %w", err)
	}
	if locked {
		_ = lock.Unlock()
		return false, 0, nil
	}
	pid, _ := ReadPID(PIDPath(cfg))
	return true, pid, nil
}

// ReadPID parses a pid file. A missing file returns 0 and no error.
func ReadPID(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("read pid file %q: %w", path, err)
	}
	value := strings.TrimSpace(string(data))
	if value == "" {
		return 0, nil
	}
	pid, err := strconv.Atoi(value)
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("pid file %q holds %q", path, value)
	}
	return pid, nil
}

// LaunchOptions controls how the background daemon is started.
type LaunchOptions struct {
	ConfigPath string
	Components []string
}

// Launch starts `stagehand run` detached from the calling terminal. The
// daemon writes its own log files, so standard streams are discarded.
func Launch(executablePath string, opts LaunchOptions) error {
	if strings.TrimSpace(executablePath) == "" {
		return fmt.Errorf("resolve executable: executable path is empty")
	}
	args := []string{"run"}
	if cfgPath := strings.TrimSpace(opts.ConfigPath); cfgPath != "" {
		args = append(args, "--config", cfgPath)
	}
	args = append(args, opts.Components...)

	proc := exec.Command(executablePath, args...)
	proc.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := proc.Start(); err != nil {
		return fmt.Errorf("launch daemon: %w", err)
	}
	return proc.Process.Release()
}

type StartState string

const (
	StartStateStarted        StartState = "started"
	StartStateAlreadyRunning StartState = "already_running"
)

// StartResult captures daemon start orchestration state.
type StartResult struct {
	State StartState
	PID   int
}

// EnsureStarted launches the daemon unless one already holds the lock, then
// waits up to timeout for the new process to take it.
func EnsureStarted(cfg *config.Config, executablePath string, opts LaunchOptions, timeout time.Duration) (StartResult, error) {
	running, pid, err := Running(cfg)
	if err != nil {
		return StartResult{}, err
	}
	if running {
		return StartResult{State: StartStateAlreadyRunning, PID: pid}, nil
	}
	if err := Launch(executablePath, opts); err != nil {
		return StartResult{}, err
	}
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		running, pid, err = Running(cfg)
		if err != nil {
			return StartResult{}, err
		}
		if running {
			return StartResult{State: StartStateStarted, PID: pid}, nil
		}
		time.Sleep(200 * time.Millisecond)
	}
	return StartResult{}, fmt.Errorf("daemon did not start within %s; check %s", timeout, cfg.Paths.LogDir)
}

// StopResult reports how the daemon was stopped.
type StopResult struct {
	WasRunning bool
	PID        int
	ForcedKill bool
}

// Stop sends SIGTERM to the daemon and waits up to grace for it to release
// the lock. A daemon still running after grace is killed.
func Stop(cfg *config.Config, grace time.Duration) (StopResult, error) {
	running, pid, err := Running(cfg)
	if err != nil {
		return StopResult{}, err
	}
	if !running {
		return StopResult{}, nil
	}
	result := StopResult{WasRunning: true, PID: pid}
	if pid <= 0 {
		return result, fmt.Errorf("daemon holds %s but %s names no pid", cfg.LockPath(), PIDPath(cfg))
	}
	return stopProcess(cfg, pid, grace, result)
}

func stopProcess(cfg *config.Config, pid int, grace time.Duration, result StopResult) (StopResult, error) {
	if pid == os.Getpid() {
		return result, fmt.Errorf("refusing to signal current process (pid %d)", pid)
	}
	if err := syscall.Kill(pid, syscall.SIGTERM); err != nil {
		if errors.Is(err, syscall.ESRCH) {
			return result, nil
		}
		return result, fmt.Errorf("signal daemon process %d: %w", pid, err)
	}
	if waitForExit(cfg, pid, grace) {
		return result, nil
	}
	if err := syscall.Kill(pid, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
		return result, fmt.Errorf("kill daemon process %d: %w", pid, err)
	}
	result.ForcedKill = true
	if err := os.Remove(PIDPath(cfg)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return result, fmt.Errorf("remove pid file: %w", err)
	}
	return result, nil
}

// waitForExit polls until the process is gone or the lock is free.
func waitForExit(cfg *config.Config, pid int, grace time.Duration) bool {
	deadline := time.Now().Add(grace)
	for {
		if !processAlive(pid) {
			return true
		}
		if running, _, err := Running(cfg); err == nil && !running {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(100 * time.Millisecond)
	}
}

func processAlive(pid int) bool {
	err := syscall.Kill(pid, 0)
	return err == nil || errors.Is(err, syscall.EPERM)
}
