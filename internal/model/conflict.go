package model

import "time"

// Resolution is the decision that settles a Conflict.
type Resolution string

const (
	KeepLocal  Resolution = "keep_local"
	KeepServer Resolution = "keep_server"
)

// Valid reports whether r is a known resolution.
func (r Resolution) Valid() bool {
	return r == KeepLocal || r == KeepServer
}

// Conflict pairs the local and server versions of the same logical message
// when they diverge in a compared field.
type Conflict struct {
	MessageID      string
	ConversationID string
	Local          Message
	Server         Message
	Fields         []string
	DetectedAt     time.Time
}

// ConversationSyncState is the per-conversation synchronization bookkeeping.
type ConversationSyncState struct {
	ConversationID string
	LastSyncedAt   time.Time
	Conflicts      []Conflict
	InProgress     bool
	LastError      string
}

// Clone returns a copy safe to hand outside the owning component.
func (s ConversationSyncState) Clone() ConversationSyncState {
	out := s
	out.Conflicts = append([]Conflict(nil), s.Conflicts...)
	return out
}
