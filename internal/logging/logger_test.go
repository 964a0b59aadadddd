package logging

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func readEntries(t *testing.T, path string) []map[string]any {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &entry))
		out = append(out, entry)
	}
	return out
}

func TestNewWritesJSONWithSessionFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "emberd.log")
	logger, err := New(Options{Path: path, Session: "work", Quiet: true})
	require.NoError(t, err)

	logger.Info("connected")
	logger.Debug("dropped below info")
	_ = logger.Sync()

	entries := readEntries(t, path)
	require.Len(t, entries, 1)
	assert.Equal(t, "connected", entries[0]["msg"])
	assert.Equal(t, "work", entries[0]["session"])
	assert.Contains(t, entries[0], "ts")
	assert.Contains(t, entries[0], "caller")
	assert.EqualValues(t, os.Getpid(), entries[0]["pid"])
}

func TestDebugLevelAndStacktrace(t *testing.T) {
	path := filepath.Join(t.TempDir(), "emberd.log")
	logger, err := New(Options{Path: path, Session: "main", Level: zapcore.DebugLevel, Quiet: true})
	require.NoError(t, err)

	logger.Debug("heartbeat")
	logger.Error("sync failed", zap.Error(errors.New("boom")))
	_ = logger.Sync()

	entries := readEntries(t, path)
	require.Len(t, entries, 2)
	assert.Equal(t, "heartbeat", entries[0]["msg"])
	assert.NotContains(t, entries[0], "stacktrace")
	assert.Equal(t, "boom", entries[1]["error"])
	assert.Contains(t, entries[1], "stacktrace")
}
