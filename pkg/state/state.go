// Package state owns the on-disk runtime layout: where the store, logs,
// audit trail and telemetry live under the configured DB path.
package state

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

var (
	PathsVar Paths
	initOnce sync.Once
	initErr  error
)

// Init resolves the runtime layout for dbPath and creates it. Safe to
// call more than once; only the first call does work.
func Init(dbPath string) error {
	initOnce.Do(func() {
		path := strings.TrimSpace(dbPath)
		if path == "" {
			path = "./.database"
		}
		path = filepath.Clean(path)
		PathsVar = PathsFor(path)
		initErr = EnsureStateDirs(path)
	})
	return initErr
}

// EnsureStateDirs ensures the canonical runtime folder layout exists under
// the provided DB path. It verifies paths are not symlinks and have
// restrictive permissions, and that they are writable by the process.
func EnsureStateDirs(dbPath string) error {
	p := PathsFor(dbPath)
	paths := []string{p.Store, p.Audit, p.Reconcile, p.Tmp, p.Tel, p.Logs, p.Crash}

	for _, dir := range paths {
		// ensure parent exists
		if err := os.MkdirAll(filepath.Dir(dir), 0o700); err != nil {
			return fmt.Errorf("cannot create parent for %s: %w", dir, err)
		}

		// if path exists, reject symlinks and non-directories
		if fi, err := os.Lstat(dir); err == nil {
			if fi.Mode()&os.ModeSymlink != 0 {
				return fmt.Errorf("path is a symlink: %s", dir)
			}
			if !fi.IsDir() {
				return fmt.Errorf("path exists and is not a directory: %s", dir)
			}
			if fi.Mode().Perm()&0o022 != 0 {
				return fmt.Errorf("path has permissive mode (group/other write): %s", dir)
			}
		}

		// create directory if missing
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("cannot create path %s: %w", dir, err)
		}

		// double-check no symlink after creation
		if fi2, err := os.Lstat(dir); err == nil {
			if fi2.Mode()&os.ModeSymlink != 0 {
				return fmt.Errorf("path is a symlink after creation: %s", dir)
			}
			if fi2.Mode().Perm()&0o022 != 0 {
				return fmt.Errorf("path has permissive mode after creation: %s", dir)
			}
		}

		// writability check: create and remove a temp file
		tmp, err := os.CreateTemp(dir, ".validate-*")
		if err != nil {
			return fmt.Errorf("path not writable: %s: %w", dir, err)
		}
		tmp.Close()
		_ = os.Remove(tmp.Name())
	}

	return nil
}
