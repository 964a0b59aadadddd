package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/emberapp/ember/internal/session"
	"github.com/emberapp/ember/internal/tui"
	"github.com/emberapp/ember/internal/tui/client"
)

const (
	startTimeout  = 10 * time.Second
	healthTimeout = 2 * time.Second
	pollInterval  = 300 * time.Millisecond
)

func main() {
	sessionFlag := flag.String("session", "", "session name (overrides config default)")
	noStart := flag.Bool("no-start", false, "fail instead of starting emberd when it is not running")
	flag.Parse()

	if err := run(*sessionFlag, !*noStart); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(sessionFlag string, autostart bool) error {
	name, err := session.Name(sessionFlag)
	if err != nil {
		return err
	}
	socketPath := session.SocketPath(name)

	if err := ensureDaemon(name, socketPath, autostart); err != nil {
		return err
	}

	c, err := client.New(socketPath)
	if err != nil {
		return fmt.Errorf("connect to daemon: %w", err)
	}
	defer func() { _ = c.Close() }()

	return tui.NewApp(c, name).Run()
}

// ensureDaemon makes sure emberd answers on socketPath, spawning it when
// autostart is set.
func ensureDaemon(name, socketPath string, autostart bool) error {
	if healthy(socketPath) {
		return nil
	}
	if !autostart {
		return fmt.Errorf("emberd is not running for session %q", name)
	}
	fmt.Fprintf(os.Stderr, "starting emberd for session %q...\n", name)
	if err := spawnDaemon(name); err != nil {
		return fmt.Errorf("start daemon: %w", err)
	}

	deadline := time.Now().Add(startTimeout)
	for time.Now().Before(deadline) {
		if healthy(socketPath) {
			return nil
		}
		time.Sleep(pollInterval)
	}
	return errors.New("daemon did not become ready")
}

// healthy reports whether the daemon answers a status call, not merely
// whether the socket accepts connections.
func healthy(socketPath string) bool {
	if _, err := os.Stat(socketPath); err != nil {
		return false
	}
	c, err := client.New(socketPath)
	if err != nil {
		return false
	}
	defer func() { _ = c.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), healthTimeout)
	defer cancel()
	_, err = c.Status(ctx)
	return err == nil
}

// spawnDaemon prefers an emberd next to this binary and falls back to $PATH.
func spawnDaemon(name string) error {
	bin := "emberd"
	if self, err := os.Executable(); err == nil {
		if sibling := filepath.Join(filepath.Dir(self), "emberd"); fileExists(sibling) {
			bin = sibling
		}
	}
	cmd := exec.Command(bin, "--session", name)
	cmd.Stderr = os.Stderr
	return cmd.Start()
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
