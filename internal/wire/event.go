package wire

import (
	"time"

	"github.com/emberapp/ember/internal/model"
)

// Kind discriminates wire events.
type Kind string

// Outbound kinds (client -> server).
const (
	KindJoinConversation Kind = "join_conversation"
	KindMessage          Kind = "message"
	KindTyping           Kind = "typing"
	KindDeliveryReceipt  Kind = "delivery_receipt"
	KindReadReceipt      Kind = "read_receipt"
	KindPing             Kind = "ping"
)

// Inbound kinds (server -> client).
const (
	KindMessageNew       Kind = "message:new"
	KindMessageAck       Kind = "message:ack"
	KindMessageRejected  Kind = "message:rejected"
	KindMessageDelivered Kind = "message:delivered"
	KindMessageRead      Kind = "message:read"
	KindTypingStart      Kind = "typing:start"
	KindTypingStop       Kind = "typing:stop"
	KindPong             Kind = "pong"
)

// JoinConversation subscribes the connection to a conversation's pushes.
type JoinConversation struct {
	ConversationID string `json:"conversationId"`
}

// MessagePayload is an outbound chat message.
type MessagePayload struct {
	ClientMessageID string            `json:"clientMessageId"`
	ConversationID  string            `json:"conversationId"`
	FromUserID      string            `json:"fromUserId"`
	ToUserID        string            `json:"toUserId"`
	Content         string            `json:"content"`
	Type            model.MessageType `json:"type"`
	CreatedAt       time.Time         `json:"createdAt"`
}

// Typing announces local typing activity.
type Typing struct {
	ConversationID string `json:"conversationId"`
	IsTyping       bool   `json:"isTyping"`
}

// DeliveryReceipt acknowledges that an inbound message reached this device.
type DeliveryReceipt struct {
	MessageID      string `json:"messageId"`
	ConversationID string `json:"conversationId"`
	Status         string `json:"status"`
}

// ReadReceipt acknowledges that an inbound message was displayed.
type ReadReceipt struct {
	MessageID      string `json:"messageId"`
	ConversationID string `json:"conversationId"`
}

// Ping is a heartbeat request.
type Ping struct{}

// InboundMessage is a message pushed by the server.
type InboundMessage struct {
	MessageID       string            `json:"messageId"`
	ClientMessageID string            `json:"clientMessageId,omitempty"`
	ConversationID  string            `json:"conversationId"`
	FromUserID      string            `json:"fromUserId"`
	ToUserID        string            `json:"toUserId"`
	Content         string            `json:"content"`
	Type            model.MessageType `json:"type"`
	Status          model.Status      `json:"status,omitempty"`
	CreatedAt       time.Time         `json:"createdAt"`
	ServerTimestamp time.Time         `json:"serverTimestamp"`
}

// ToModel converts the pushed message into the local representation.
func (m InboundMessage) ToModel() *model.Message {
	typ := m.Type
	if !typ.Valid() {
		typ = model.TypeText
	}
	st := m.Status
	if !st.Valid() || st == model.StatusFailed || st == model.StatusPending {
		st = model.StatusSent
	}
	return &model.Message{
		ID:              m.MessageID,
		ClientID:        m.ClientMessageID,
		ConversationID:  m.ConversationID,
		SenderID:        m.FromUserID,
		RecipientID:     m.ToUserID,
		Content:         m.Content,
		Type:            typ,
		Status:          st,
		CreatedAt:       m.CreatedAt,
		ServerTimestamp: m.ServerTimestamp,
	}
}

// MessageAck confirms an outbound message and assigns its server id.
type MessageAck struct {
	ClientMessageID string    `json:"clientMessageId"`
	MessageID       string    `json:"messageId"`
	ConversationID  string    `json:"conversationId"`
	ServerTimestamp time.Time `json:"serverTimestamp"`
}

// MessageRejected reports that the server refused an outbound message.
type MessageRejected struct {
	ClientMessageID string `json:"clientMessageId"`
	ConversationID  string `json:"conversationId"`
	Reason          string `json:"reason"`
}

// Receipt is a remote delivery or read acknowledgement for a local message.
type Receipt struct {
	MessageID      string `json:"messageId"`
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
}

// TypingEvent reports a remote user's typing activity.
type TypingEvent struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
}
