package model

import (
	"errors"
	"fmt"
)

var (
	// ErrConflictNotFound is returned when resolving a conflict that does not exist.
	ErrConflictNotFound = errors.New("conflict not found")
	// ErrMessageNotFound is returned when a message id is unknown locally.
	ErrMessageNotFound = errors.New("message not found")
	// ErrNotInitialized is returned by operations that need a bound session.
	ErrNotInitialized = errors.New("sync manager not initialized")
)

// ConnectionError reports a handshake or heartbeat failure. It is surfaced to
// subscribers only once reconnection gives up.
type ConnectionError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *ConnectionError) Error() string {
	if e.Attempts > 0 {
		return fmt.Sprintf("connection %s failed after %d attempts: %v", e.Op, e.Attempts, e.Err)
	}
	return fmt.Sprintf("connection %s failed: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// SyncError reports that a single conversation failed to fetch or merge.
type SyncError struct {
	ConversationID string
	Err            error
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("sync conversation %s: %v", e.ConversationID, e.Err)
}

func (e *SyncError) Unwrap() error { return e.Err }

// SendFailure reports a message that cannot be delivered by requeueing.
type SendFailure struct {
	ClientID string
	Reason   string
	Err      error
}

func (e *SendFailure) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("send %s failed: %s: %v", e.ClientID, e.Reason, e.Err)
	}
	return fmt.Sprintf("send %s failed: %s", e.ClientID, e.Reason)
}

func (e *SendFailure) Unwrap() error { return e.Err }
