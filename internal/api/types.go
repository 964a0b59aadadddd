package api

import (
	"time"

	"github.com/emberapp/ember/internal/model"
	"github.com/emberapp/ember/internal/store"
	intsync "github.com/emberapp/ember/internal/sync"
)

// Empty is the request or response of methods that carry nothing.
type Empty struct{}

// Ack is a generic success response.
type Ack struct {
	OK      bool   `json:"ok"`
	Message string `json:"message,omitempty"`
}

type SessionStatus struct {
	Session    string    `json:"session"`
	UserID     string    `json:"userId"`
	State      string    `json:"state"`
	Since      time.Time `json:"since"`
	UptimeMs   int64     `json:"uptimeMs"`
	QueueDepth int       `json:"queueDepth"`
}

type Conversation struct {
	ID             string    `json:"id"`
	PeerID         string    `json:"peerId"`
	PeerName       string    `json:"peerName"`
	LastActivityAt time.Time `json:"lastActivityAt"`
	UnreadCount    int       `json:"unreadCount"`
	LastPreview    string    `json:"lastPreview"`
}

type Message struct {
	ID              string    `json:"id"`
	ClientID        string    `json:"clientId,omitempty"`
	ConversationID  string    `json:"conversationId"`
	SenderID        string    `json:"senderId"`
	RecipientID     string    `json:"recipientId"`
	Content         string    `json:"content"`
	Type            string    `json:"type"`
	Status          string    `json:"status"`
	CreatedAt       time.Time `json:"createdAt"`
	ServerTimestamp time.Time `json:"serverTimestamp"`
	Temporary       bool      `json:"temporary,omitempty"`
}

type Conflict struct {
	MessageID      string    `json:"messageId"`
	ConversationID string    `json:"conversationId"`
	Fields         []string  `json:"fields"`
	Local          Message   `json:"local"`
	Server         Message   `json:"server"`
	DetectedAt     time.Time `json:"detectedAt"`
}

type Stats struct {
	Conversations int       `json:"conversations"`
	Synced        int       `json:"synced"`
	Pending       int       `json:"pending"`
	Conflicted    int       `json:"conflicted"`
	Errored       int       `json:"errored"`
	Unconfirmed   int       `json:"unconfirmed"`
	LastLatencyMs int64     `json:"lastLatencyMs"`
	LastSyncAt    time.Time `json:"lastSyncAt"`
}

type SearchResult struct {
	Message Message `json:"message"`
	Snippet string  `json:"snippet"`
}

// Event is one bus event relayed to a watcher.
type Event struct {
	ID      string    `json:"id"`
	Session string    `json:"session"`
	Kind    string    `json:"kind"`
	At      time.Time `json:"at"`
	Payload any       `json:"payload,omitempty"`
}

type SyncConversationRequest struct {
	ConversationID string `json:"conversationId"`
	Force          bool   `json:"force,omitempty"`
}

type ListConflictsRequest struct {
	ConversationID string `json:"conversationId,omitempty"`
}

type ConflictList struct {
	Conflicts []Conflict `json:"conflicts"`
}

type ResolveConflictRequest struct {
	MessageID  string `json:"messageId"`
	Resolution string `json:"resolution"`
}

type ListConversationsRequest struct {
	Limit  int `json:"limit,omitempty"`
	Offset int `json:"offset,omitempty"`
}

type ConversationList struct {
	Conversations []Conversation `json:"conversations"`
	HasMore       bool           `json:"hasMore"`
}

type ConversationRequest struct {
	ConversationID string `json:"conversationId"`
}

type ListMessagesRequest struct {
	ConversationID string    `json:"conversationId"`
	Before         time.Time `json:"before,omitzero"`
	Limit          int       `json:"limit,omitempty"`
}

type MessageList struct {
	Messages []Message `json:"messages"`
	HasMore  bool      `json:"hasMore"`
}

type SendMessageRequest struct {
	ConversationID string `json:"conversationId"`
	To             string `json:"to"`
	Content        string `json:"content"`
	Type           string `json:"type,omitempty"`
}

type MessageRequest struct {
	MessageID string `json:"messageId"`
}

type MarkReadRequest struct {
	ConversationID string   `json:"conversationId"`
	MessageIDs     []string `json:"messageIds,omitempty"`
}

type MarkReadResponse struct {
	Marked int `json:"marked"`
}

type NotifyTypingRequest struct {
	ConversationID string `json:"conversationId"`
	Stopped        bool   `json:"stopped,omitempty"`
}

type TypingUsers struct {
	ConversationID string   `json:"conversationId"`
	Users          []string `json:"users"`
}

type SearchRequest struct {
	Query          string `json:"query"`
	ConversationID string `json:"conversationId,omitempty"`
	Limit          int    `json:"limit,omitempty"`
}

type SearchResults struct {
	Results []SearchResult `json:"results"`
	HasMore bool           `json:"hasMore"`
}

type WatchRequest struct {
	Namespace string `json:"namespace,omitempty"`
}

func conversationFrom(c *model.Conversation) Conversation {
	return Conversation{
		ID:             c.ID,
		PeerID:         c.PeerID,
		PeerName:       c.PeerName,
		LastActivityAt: c.LastActivityAt,
		UnreadCount:    c.UnreadCount,
		LastPreview:    c.LastPreview,
	}
}

func messageFrom(m *model.Message) Message {
	return Message{
		ID:              m.ID,
		ClientID:        m.ClientID,
		ConversationID:  m.ConversationID,
		SenderID:        m.SenderID,
		RecipientID:     m.RecipientID,
		Content:         m.Content,
		Type:            string(m.Type),
		Status:          string(m.Status),
		CreatedAt:       m.CreatedAt,
		ServerTimestamp: m.ServerTimestamp,
		Temporary:       m.IsTemporary(),
	}
}

func conflictFrom(c *model.Conflict) Conflict {
	return Conflict{
		MessageID:      c.MessageID,
		ConversationID: c.ConversationID,
		Fields:         c.Fields,
		Local:          messageFrom(&c.Local),
		Server:         messageFrom(&c.Server),
		DetectedAt:     c.DetectedAt,
	}
}

func statsFrom(s intsync.Stats) Stats {
	return Stats{
		Conversations: s.Conversations,
		Synced:        s.Synced,
		Pending:       s.Pending,
		Conflicted:    s.Conflicted,
		Errored:       s.Errored,
		Unconfirmed:   s.Unconfirmed,
		LastLatencyMs: s.LastLatency.Milliseconds(),
		LastSyncAt:    s.LastSyncAt,
	}
}

func searchResultFrom(r *store.SearchResult) SearchResult {
	return SearchResult{Message: messageFrom(&r.Message), Snippet: r.Snippet}
}
