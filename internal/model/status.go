package model

import "fmt"

// Status is the delivery state of a message.
type Status string

const (
	StatusPending   Status = "pending"
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
	StatusRead      Status = "read"
	StatusFailed    Status = "failed"
)

// Rank orders the non-terminal statuses. Failed ranks below pending so that
// max-rank merges never produce it; it is only reached explicitly.
func (s Status) Rank() int {
	switch s {
	case StatusPending:
		return 0
	case StatusSent:
		return 1
	case StatusDelivered:
		return 2
	case StatusRead:
		return 3
	case StatusFailed:
		return -1
	}
	return -2
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return s.Rank() > -2
}

// CanAdvance reports whether moving from s to next is allowed. Transitions
// are monotonic; failed is only reachable from pending.
func (s Status) CanAdvance(next Status) bool {
	if !next.Valid() || s == next {
		return false
	}
	if next == StatusFailed {
		return s == StatusPending
	}
	if s == StatusFailed {
		return false
	}
	return next.Rank() > s.Rank()
}

// Max returns the higher ranked of two statuses. Failed only wins over pending.
func Max(a, b Status) Status {
	if a.CanAdvance(b) {
		return b
	}
	return a
}

// ParseStatus converts a wire or storage value into a Status.
func ParseStatus(v string) (Status, error) {
	s := Status(v)
	if !s.Valid() {
		return "", fmt.Errorf("unknown message status %q", v)
	}
	return s, nil
}
