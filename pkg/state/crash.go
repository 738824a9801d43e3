package state

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"
)

// WriteCrashDump writes a crash dump with diagnostics (environment and
// goroutine stacks) into dir and returns its path. The dump is staged in
// a temp file and renamed into place so readers never see a partial one.
func WriteCrashDump(dir, reason string, cause error) (string, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("failed to create crash dir: %w", err)
	}

	ts := time.Now().UnixNano()
	dumpPath := filepath.Join(dir, fmt.Sprintf("crash-%d.log", ts))

	f, err := os.CreateTemp(dir, ".crash-*.tmp")
	if err != nil {
		return "", fmt.Errorf("failed to create temp crash file: %w", err)
	}
	tmpName := f.Name()
	defer func() { _ = os.Remove(tmpName) }()

	fmt.Fprintf(f, "time: %s\n", time.Now().UTC().Format(time.RFC3339))
	fmt.Fprintf(f, "reason: %s\n", reason)
	if cause != nil {
		fmt.Fprintf(f, "error: %v\n", cause)
	}
	fmt.Fprintf(f, "\n--- environ ---\n")
	for _, e := range os.Environ() {
		fmt.Fprintln(f, e)
	}
	fmt.Fprintf(f, "\n--- goroutine stacks ---\n")
	buf := make([]byte, 1<<20)
	n := runtime.Stack(buf, true)
	f.Write(buf[:n])
	f.Sync()
	f.Close()

	if err := os.Rename(tmpName, dumpPath); err != nil {
		return "", fmt.Errorf("failed to move crash dump into place: %w", err)
	}
	_ = os.Chmod(dumpPath, 0o600)
	return dumpPath, nil
}
