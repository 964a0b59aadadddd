package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/BurntSushi/toml"
)

// Environment selects which endpoint set the session talks to.
type Environment string

const (
	Development Environment = "development"
	Production  Environment = "production"
)

// Conflict resolution policies.
const (
	PolicyClient = "client"
	PolicyServer = "server"
	PolicyManual = "manual"
)

// Queue persistence backends.
const (
	PersistMemory = "memory"
	PersistSQLite = "sqlite"
	PersistBolt   = "bolt"
)

// CompareFields lists the message fields a conflict comparator may inspect.
var CompareFields = []string{"content", "type", "status"}

// Config represents the global ~/.ember/config.toml.
type Config struct {
	DefaultSession string              `toml:"default_session"`
	Environment    Environment         `toml:"environment"`
	Endpoints      map[string]Endpoint `toml:"endpoints"`
	Auth           Auth                `toml:"auth"`
	Realtime       Realtime            `toml:"realtime"`
	Typing         Typing              `toml:"typing"`
	Receipts       Receipts            `toml:"receipts"`
	Sync           Sync                `toml:"sync"`
	Queue          Queue               `toml:"queue"`
	Metrics        Metrics             `toml:"metrics"`
}

// Endpoint holds the backend URLs for one environment.
type Endpoint struct {
	RealtimeURL string `toml:"realtime_url"`
	APIURL      string `toml:"api_url"`
}

// Auth is the identity handed over by the external auth provider.
type Auth struct {
	UserID string `toml:"user_id"`
	Token  string `toml:"token"`
}

type Realtime struct {
	HandshakeTimeout     time.Duration `toml:"handshake_timeout"`
	HeartbeatInterval    time.Duration `toml:"heartbeat_interval"`
	PongTimeout          time.Duration `toml:"pong_timeout"`
	MaxReconnectAttempts int           `toml:"max_reconnect_attempts"`
	ReconnectBaseDelay   time.Duration `toml:"reconnect_base_delay"`
	ReconnectMaxDelay    time.Duration `toml:"reconnect_max_delay"`
}

type Typing struct {
	Debounce     time.Duration `toml:"debounce"`
	Inactivity   time.Duration `toml:"inactivity"`
	RemoteExpiry time.Duration `toml:"remote_expiry"`
}

type Receipts struct {
	AutoDelivery bool `toml:"auto_delivery"`
}

type Sync struct {
	ConflictPolicy string        `toml:"conflict_policy"`
	CompareFields  []string      `toml:"compare_fields"`
	Concurrency    int           `toml:"concurrency"`
	RESTFallback   bool          `toml:"rest_fallback"`
	FetchTimeout   time.Duration `toml:"fetch_timeout"`
}

type Queue struct {
	MaxSize      int           `toml:"max_size"`
	Persist      string        `toml:"persist"`
	EphemeralTTL time.Duration `toml:"ephemeral_ttl"`
}

type Metrics struct {
	Addr string `toml:"addr"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		DefaultSession: "main",
		Environment:    defaultEnvironment,
		Endpoints: map[string]Endpoint{
			string(Development): {RealtimeURL: "ws://localhost:8080/realtime", APIURL: "http://localhost:8080"},
			string(Production):  {RealtimeURL: "wss://rt.ember.app/realtime", APIURL: "https://api.ember.app"},
		},
		Realtime: Realtime{
			HandshakeTimeout:     10 * time.Second,
			HeartbeatInterval:    25 * time.Second,
			PongTimeout:          10 * time.Second,
			MaxReconnectAttempts: 10,
			ReconnectBaseDelay:   time.Second,
			ReconnectMaxDelay:    30 * time.Second,
		},
		Typing: Typing{
			Debounce:     2 * time.Second,
			Inactivity:   5 * time.Second,
			RemoteExpiry: 8 * time.Second,
		},
		Receipts: Receipts{AutoDelivery: true},
		Sync: Sync{
			ConflictPolicy: PolicyManual,
			CompareFields:  []string{"content", "type"},
			Concurrency:    4,
			RESTFallback:   true,
			FetchTimeout:   15 * time.Second,
		},
		Queue: Queue{
			MaxSize:      500,
			Persist:      PersistSQLite,
			EphemeralTTL: 10 * time.Second,
		},
	}
}

// Load reads config from the given path on top of the defaults. Returns an
// error if the file is missing.
func Load(path string) (*Config, error) {
	cfg := Default()
	_, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault is Load, falling back to Default when the file does not exist.
// Environment overrides are applied in both cases.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		cfg, err = Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	cfg.ApplyEnv()
	return cfg, nil
}

// ApplyEnv applies EMBER_ENV and EMBER_TOKEN overrides.
func (c *Config) ApplyEnv() {
	if env := os.Getenv("EMBER_ENV"); env != "" {
		c.Environment = Environment(env)
	}
	if tok := os.Getenv("EMBER_TOKEN"); tok != "" {
		c.Auth.Token = tok
	}
}

// Endpoint returns the endpoint set for the active environment.
func (c *Config) Endpoint() Endpoint {
	return c.Endpoints[string(c.Environment)]
}

// Validate checks that policies and timings are usable.
func (c *Config) Validate() error {
	ep, ok := c.Endpoints[string(c.Environment)]
	if !ok {
		return fmt.Errorf("no endpoints configured for environment %q", c.Environment)
	}
	if ep.RealtimeURL == "" || ep.APIURL == "" {
		return fmt.Errorf("environment %q: realtime_url and api_url are required", c.Environment)
	}
	durations := map[string]time.Duration{
		"realtime.handshake_timeout":    c.Realtime.HandshakeTimeout,
		"realtime.heartbeat_interval":   c.Realtime.HeartbeatInterval,
		"realtime.pong_timeout":         c.Realtime.PongTimeout,
		"realtime.reconnect_base_delay": c.Realtime.ReconnectBaseDelay,
		"realtime.reconnect_max_delay":  c.Realtime.ReconnectMaxDelay,
		"typing.debounce":               c.Typing.Debounce,
		"typing.inactivity":             c.Typing.Inactivity,
		"typing.remote_expiry":          c.Typing.RemoteExpiry,
		"sync.fetch_timeout":            c.Sync.FetchTimeout,
	}
	for name, d := range durations {
		if d <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}
	if c.Realtime.MaxReconnectAttempts < 1 {
		return fmt.Errorf("realtime.max_reconnect_attempts must be at least 1")
	}
	if c.Realtime.ReconnectMaxDelay < c.Realtime.ReconnectBaseDelay {
		return fmt.Errorf("realtime.reconnect_max_delay must not be below reconnect_base_delay")
	}
	if c.Typing.RemoteExpiry <= c.Typing.Debounce {
		return fmt.Errorf("typing.remote_expiry must exceed typing.debounce")
	}
	switch c.Sync.ConflictPolicy {
	case PolicyClient, PolicyServer, PolicyManual:
	default:
		return fmt.Errorf("unknown sync.conflict_policy %q", c.Sync.ConflictPolicy)
	}
	for _, f := range c.Sync.CompareFields {
		if !slices.Contains(CompareFields, f) {
			return fmt.Errorf("unknown sync.compare_fields entry %q", f)
		}
	}
	if c.Sync.Concurrency < 1 {
		return fmt.Errorf("sync.concurrency must be at least 1")
	}
	switch c.Queue.Persist {
	case PersistMemory, PersistSQLite, PersistBolt:
	default:
		return fmt.Errorf("unknown queue.persist %q", c.Queue.Persist)
	}
	if c.Queue.MaxSize < 1 {
		return fmt.Errorf("queue.max_size must be at least 1")
	}
	return nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
