package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveAndLoad(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")

	cfg := Default()
	cfg.DefaultSession = "work"
	cfg.Sync.ConflictPolicy = PolicyServer
	cfg.Typing.Inactivity = 3 * time.Second
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.DefaultSession != "work" {
		t.Errorf("DefaultSession = %q, want %q", loaded.DefaultSession, "work")
	}
	assert.Equal(t, PolicyServer, loaded.Sync.ConflictPolicy)
	assert.Equal(t, 3*time.Second, loaded.Typing.Inactivity)
	assert.Equal(t, cfg.Endpoints, loaded.Endpoints)
}

func TestLoadMissing(t *testing.T) {
	_, err := Load("/nonexistent/config.toml")
	if err == nil {
		t.Error("Load() expected error for missing file")
	}
}

func TestLoadOrDefaultMissing(t *testing.T) {
	t.Setenv("EMBER_TOKEN", "tok-from-env")
	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)
	assert.Equal(t, "main", cfg.DefaultSession)
	assert.Equal(t, "tok-from-env", cfg.Auth.Token)
	assert.NoError(t, cfg.Validate())
}

func TestLoadPartialKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	data := `
environment = "production"

[realtime]
heartbeat_interval = "5s"
max_reconnect_attempts = 3
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, Production, cfg.Environment)
	assert.Equal(t, 5*time.Second, cfg.Realtime.HeartbeatInterval)
	assert.Equal(t, 3, cfg.Realtime.MaxReconnectAttempts)
	assert.Equal(t, 10*time.Second, cfg.Realtime.HandshakeTimeout)
	assert.Equal(t, "wss://rt.ember.app/realtime", cfg.Endpoint().RealtimeURL)
}

func TestEnvOverridesEnvironment(t *testing.T) {
	t.Setenv("EMBER_ENV", "production")
	cfg := Default()
	cfg.ApplyEnv()
	assert.Equal(t, Production, cfg.Environment)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown environment", func(c *Config) { c.Environment = "staging" }},
		{"bad policy", func(c *Config) { c.Sync.ConflictPolicy = "coinflip" }},
		{"bad compare field", func(c *Config) { c.Sync.CompareFields = []string{"sender"} }},
		{"bad persist", func(c *Config) { c.Queue.Persist = "redis" }},
		{"zero heartbeat", func(c *Config) { c.Realtime.HeartbeatInterval = 0 }},
		{"zero attempts", func(c *Config) { c.Realtime.MaxReconnectAttempts = 0 }},
		{"max below base", func(c *Config) { c.Realtime.ReconnectMaxDelay = time.Millisecond }},
		{"expiry below debounce", func(c *Config) { c.Typing.RemoteExpiry = c.Typing.Debounce }},
		{"zero concurrency", func(c *Config) { c.Sync.Concurrency = 0 }},
	}
	require.NoError(t, Default().Validate())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestSavePermissions(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")

	if err := Save(path, Default()); err != nil {
		t.Fatal(err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	perm := info.Mode().Perm()
	if perm != 0600 {
		t.Errorf("file permission = %o, want 0600", perm)
	}
}
