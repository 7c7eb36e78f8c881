package log

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// The global logger initializes once per process, so one test owns the file
// and exercises every entry shape against it.
func TestLoggerWritesCategorizedEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "debug.log")
	cleanup, err := Init(path)
	require.NoError(t, err)
	defer cleanup()
	SetEnabled(true)

	Info(CatSync, "refresh tick", "interval", "30s")
	Warn(CatConfig, "missing value")
	ErrorErr(CatAPI, "Request failed after retries", errors.New("connection refused"), "path", "/v1/plans")
	ErrorErr(CatHistory, "Failed to journal invocation", nil)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	out := string(data)

	require.Contains(t, out, "[INFO] [sync] refresh tick interval=30s")
	require.Contains(t, out, "[WARN] [config] missing value")
	require.Contains(t, out, "[ERROR] [api] Request failed after retries path=/v1/plans error=connection refused")
	require.Contains(t, out, "[ERROR] [history] Failed to journal invocation error=<nil>")
}
