package shutdown

import (
	"encoding/json"
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAbortWithDiagnostics(t *testing.T) {
	db := t.TempDir()

	dump, req, err := AbortWithDiagnostics(db, "listen failed", errors.New("port in use"))
	require.NoError(t, err)
	assert.FileExists(t, dump)
	assert.FileExists(t, req)

	data, err := os.ReadFile(dump)
	require.NoError(t, err)
	assert.Contains(t, string(data), "reason: listen failed")
	assert.Contains(t, string(data), "port in use")

	var r struct {
		Reason    string `json:"reason"`
		Cmd       string `json:"cmd"`
		CrashPath string `json:"crash_path"`
	}
	raw, err := os.ReadFile(req)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, &r))
	assert.Equal(t, "listen failed", r.Reason)
	assert.Equal(t, "crash", r.Cmd)
	assert.Equal(t, dump, r.CrashPath)
}
