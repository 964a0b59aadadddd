package session

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
)

// BaseDir returns ~/.ember, or $EMBER_HOME when set.
func BaseDir() string {
	if dir := os.Getenv("EMBER_HOME"); dir != "" {
		return dir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".ember")
}

// ConfigPath returns the config file shared by all sessions.
func ConfigPath() string {
	return filepath.Join(BaseDir(), "config.toml")
}

// Layout is where one session keeps its files. Everything a daemon owns
// lives under Dir so sessions never share state.
type Layout struct {
	Name   string
	Dir    string
	Socket string // control API
	Lock   string // flock held by the owning emberd
	DB     string // SQLite store
	Queue  string // offline queue when persisted to bolt
	Logs   string
	Log    string
}

// For returns the layout of the named session.
func For(name string) Layout {
	dir := filepath.Join(BaseDir(), "sessions", name)
	logs := filepath.Join(dir, "logs")
	return Layout{
		Name:   name,
		Dir:    dir,
		Socket: filepath.Join(dir, "daemon.sock"),
		Lock:   filepath.Join(dir, "LOCK"),
		DB:     filepath.Join(dir, "ember.db"),
		Queue:  filepath.Join(dir, "queue.bolt"),
		Logs:   logs,
		Log:    filepath.Join(logs, "emberd.log"),
	}
}

// Ensure creates the session and log directories, owner-only.
func (l Layout) Ensure() error {
	for _, d := range []string{l.Dir, l.Logs} {
		if err := os.MkdirAll(d, 0700); err != nil {
			return err
		}
	}
	return nil
}

// SocketPath returns the control socket of the named session.
func SocketPath(name string) string {
	return For(name).Socket
}

// List returns the names of sessions that have a directory, sorted.
func List() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(BaseDir(), "sessions"))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() && ValidateName(e.Name()) == nil {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}
