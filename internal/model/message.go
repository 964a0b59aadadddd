package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// TempIDPrefix marks identifiers generated locally before server confirmation.
const TempIDPrefix = "local-"

// MessageType tags the kind of content a message carries.
type MessageType string

const (
	TypeText  MessageType = "text"
	TypeVoice MessageType = "voice"
	TypeImage MessageType = "image"
)

// Valid reports whether t is a known message type.
func (t MessageType) Valid() bool {
	switch t {
	case TypeText, TypeVoice, TypeImage:
		return true
	}
	return false
}

// Message is a single chat message, either optimistic (temporary id) or
// confirmed by the server.
type Message struct {
	// ID is the server identifier once confirmed, otherwise the temporary id.
	ID string
	// ClientID is the idempotency token generated when the message was composed.
	// It never changes and correlates the optimistic entry with the server copy.
	ClientID        string
	ConversationID  string
	SenderID        string
	RecipientID     string
	Content         string
	Type            MessageType
	Status          Status
	CreatedAt       time.Time
	ServerTimestamp time.Time
}

// NewOutgoing builds an optimistic message authored by senderID.
func NewOutgoing(conversationID, senderID, recipientID, content string, typ MessageType) *Message {
	clientID := uuid.NewString()
	if typ == "" {
		typ = TypeText
	}
	return &Message{
		ID:             TempIDPrefix + clientID,
		ClientID:       clientID,
		ConversationID: conversationID,
		SenderID:       senderID,
		RecipientID:    recipientID,
		Content:        content,
		Type:           typ,
		Status:         StatusPending,
		CreatedAt:      time.Now().UTC(),
	}
}

// IsTemporary reports whether the message still carries a local identifier.
func (m *Message) IsTemporary() bool {
	return IsTempID(m.ID)
}

// IsTempID reports whether id was generated locally.
func IsTempID(id string) bool {
	return strings.HasPrefix(id, TempIDPrefix)
}

// SortTime returns the timestamp used for ordering: the server timestamp
// when known, the local creation time otherwise.
func (m *Message) SortTime() time.Time {
	if !m.ServerTimestamp.IsZero() {
		return m.ServerTimestamp
	}
	return m.CreatedAt
}

// Conversation is a one-to-one thread with a match.
type Conversation struct {
	ID             string
	PeerID         string
	PeerName       string
	LastActivityAt time.Time
	UnreadCount    int
	LastPreview    string
}
