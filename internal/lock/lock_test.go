package lock

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestAcquireAndRelease(t *testing.T) {
	tmpDir := t.TempDir()

	l, err := Acquire(tmpDir, "u-1")
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	h, err := Inspect(tmpDir)
	if err != nil {
		t.Fatalf("Inspect() error = %v", err)
	}
	if h == nil || h.PID != os.Getpid() || h.UserID != "u-1" {
		t.Errorf("holder = %+v, want pid %d user u-1", h, os.Getpid())
	}
	if h.Since.IsZero() {
		t.Error("holder time not recorded")
	}

	if err := l.Release(); err != nil {
		t.Errorf("Release() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(tmpDir, FileName)); !os.IsNotExist(err) {
		t.Errorf("lock file should be removed on release, stat err = %v", err)
	}
}

func TestDoubleAcquireFails(t *testing.T) {
	tmpDir := t.TempDir()

	l1, err := Acquire(tmpDir, "u-1")
	if err != nil {
		t.Fatalf("first Acquire() error = %v", err)
	}
	defer func() { _ = l1.Release() }()

	_, err = Acquire(tmpDir, "u-2")
	if err == nil {
		t.Fatal("second Acquire() should fail")
	}

	var lockErr *LockHeldError
	if !errors.As(err, &lockErr) {
		t.Fatalf("expected LockHeldError, got %T: %v", err, err)
	}
	if lockErr.Holder.UserID != "u-1" {
		t.Errorf("holder user = %q, want u-1", lockErr.Holder.UserID)
	}
}

func TestInspectMissing(t *testing.T) {
	h, err := Inspect(t.TempDir())
	if err != nil || h != nil {
		t.Errorf("Inspect() = %v, %v; want nil, nil", h, err)
	}
}

func TestReleaseNil(t *testing.T) {
	var l *Lock
	if err := l.Release(); err != nil {
		t.Errorf("nil Release() error = %v", err)
	}
}

func TestReleaseIdempotent(t *testing.T) {
	tmpDir := t.TempDir()

	l, err := Acquire(tmpDir, "")
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	if err := l.Release(); err != nil {
		t.Errorf("first Release() error = %v", err)
	}
	if err := l.Release(); err != nil {
		t.Errorf("second Release() error = %v", err)
	}
}

func TestParseHolder(t *testing.T) {
	h := parseHolder("pid=4242\nuser=alice\ntime=2026-02-14T19:30:00Z\ngarbage\n")
	if h.PID != 4242 || h.UserID != "alice" {
		t.Errorf("parseHolder() = %+v", h)
	}
	if h.Since.IsZero() || h.Since.Month() != 2 {
		t.Errorf("Since = %v, want Feb 14", h.Since)
	}

	msg := (&LockHeldError{Holder: h, Path: "/x/LOCK"}).Error()
	if msg != "session lock held by PID 4242 for user alice (/x/LOCK)" {
		t.Errorf("Error() = %q", msg)
	}
}

func TestReacquireAfterRelease(t *testing.T) {
	dir := t.TempDir()
	l, err := Acquire(dir, "u-1")
	if err != nil {
		t.Fatal(err)
	}
	if err := l.Release(); err != nil {
		t.Fatal(err)
	}
	l2, err := Acquire(dir, "u-2")
	if err != nil {
		t.Fatalf("Acquire() after release error = %v", err)
	}
	defer func() { _ = l2.Release() }()
	h, _ := Inspect(dir)
	if h == nil || h.UserID != "u-2" {
		t.Errorf("holder = %+v, want u-2", h)
	}
}
