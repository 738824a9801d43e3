package state

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPathsForLayout(t *testing.T) {
	p := PathsFor("/data/db")
	assert.Equal(t, "/data/db/store", p.Store)
	assert.Equal(t, "/data/db/state", p.State)
	assert.Equal(t, "/data/db/state/crash", p.Crash)
	assert.Equal(t, p.Audit, AuditPath("/data/db"))
	assert.Equal(t, p.Reconcile, ReconcilePath("/data/db"))
}

func TestEnsureStateDirsCreatesLayout(t *testing.T) {
	db := t.TempDir()
	require.NoError(t, EnsureStateDirs(db))

	p := PathsFor(db)
	for _, dir := range []string{p.Store, p.Audit, p.Reconcile, p.Tmp, p.Tel, p.Logs, p.Crash} {
		fi, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, fi.IsDir())
	}
}

func TestEnsureStateDirsRejectsSymlink(t *testing.T) {
	db := t.TempDir()
	target := t.TempDir()
	require.NoError(t, os.Symlink(target, filepath.Join(db, "store")))

	err := EnsureStateDirs(db)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "symlink")
}

func TestEnsureStateDirsRejectsPermissiveMode(t *testing.T) {
	db := t.TempDir()
	store := filepath.Join(db, "store")
	require.NoError(t, os.MkdirAll(store, 0o700))
	require.NoError(t, os.Chmod(store, 0o777))

	err := EnsureStateDirs(db)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "permissive")
}

func TestWriteCrashDump(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "crash")
	path, err := WriteCrashDump(dir, "store open failed", errors.New("disk gone"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(filepath.Base(path), "crash-"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	s := string(data)
	assert.Contains(t, s, "reason: store open failed")
	assert.Contains(t, s, "disk gone")
	assert.Contains(t, s, "goroutine stacks")

	// no temp staging file left behind
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
}
