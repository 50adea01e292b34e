package preflight

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
	"golang.org/x/sys/unix"

	"stagehand/internal/config"
	"stagehand/internal/remote"
)

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckSameFilesystem verifies every directory lives on the same device as
// the first one. Stage transitions are renames, which only stay atomic
// within one filesystem.
func CheckSameFilesystem(name string, dirs []config.NamedDir) Result {
	if len(dirs) == 0 {
		return Result{Name: name, Passed: true, Detail: "no directories"}
	}
	var base unix.Stat_t
	if err := unix.Stat(dirs[0].Path, &base); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", dirs[0].Path, err)}
	}
	var split []string
	for _, dir := range dirs[1:] {
		var st unix.Stat_t
		if err := unix.Stat(dir.Path, &st); err != nil {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", dir.Path, err)}
		}
		if st.Dev != base.Dev {
			split = append(split, dir.Name)
		}
	}
	if len(split) > 0 {
		return Result{Name: name, Detail: fmt.Sprintf("on a different filesystem than %s: %s", dirs[0].Name, strings.Join(split, ", "))}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%d stage directories share one filesystem", len(dirs))}
}

// CheckRemote verifies the remote store when it supports a connectivity
// check.
func CheckRemote(ctx context.Context, store remote.Store) Result {
	const name = "Remote store"
	if store == nil {
		return Result{Name: name, Detail: "not configured"}
	}
	checker, ok := store.(remote.Checker)
	if !ok {
		return Result{Name: name, Passed: true, Detail: store.Name()}
	}
	checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := checker.Check(checkCtx); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: %s)", store.Name(), summarizeNetError(err))}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (reachable)", store.Name())}
}

// CheckKafka dials each broker once.
func CheckKafka(ctx context.Context, brokers []string) Result {
	const name = "Kafka"
	if len(brokers) == 0 {
		return Result{Name: name, Detail: "no brokers"}
	}
	dialer := &kafka.Dialer{Timeout: 5 * time.Second}
	var failed []string
	for _, broker := range brokers {
		conn, err := dialer.DialContext(ctx, "tcp", broker)
		if err != nil {
			failed = append(failed, fmt.Sprintf("%s: %s", broker, summarizeNetError(err)))
			continue
		}
		_ = conn.Close()
	}
	if len(failed) > 0 {
		return Result{Name: name, Detail: strings.Join(failed, "; ")}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%d broker(s) reachable", len(brokers))}
}

func summarizeNetError(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "timed out"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "timed out (unreachable)"
	}
	return err.Error()
}
