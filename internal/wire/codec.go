package wire

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/emberapp/ember/internal/model"
)

// ErrUnknownKind is returned when decoding an envelope with an unexpected type.
var ErrUnknownKind = errors.New("unknown event kind")

type envelope struct {
	Type      Kind            `json:"type"`
	RequestID string          `json:"requestId,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Outbound is a typed client -> server event.
type Outbound struct {
	Kind      Kind
	RequestID string
	Payload   any
}

// NewJoin builds a join_conversation event.
func NewJoin(conversationID string) Outbound {
	return Outbound{Kind: KindJoinConversation, Payload: JoinConversation{ConversationID: conversationID}}
}

// NewMessage builds a message event carrying the idempotency token of m.
func NewMessage(m *model.Message) Outbound {
	return Outbound{Kind: KindMessage, Payload: MessagePayload{
		ClientMessageID: m.ClientID,
		ConversationID:  m.ConversationID,
		FromUserID:      m.SenderID,
		ToUserID:        m.RecipientID,
		Content:         m.Content,
		Type:            m.Type,
		CreatedAt:       m.CreatedAt,
	}}
}

// NewTyping builds a typing start/stop event.
func NewTyping(conversationID string, isTyping bool) Outbound {
	return Outbound{Kind: KindTyping, Payload: Typing{ConversationID: conversationID, IsTyping: isTyping}}
}

// NewDeliveryReceipt builds a delivery_receipt event.
func NewDeliveryReceipt(messageID, conversationID string) Outbound {
	return Outbound{Kind: KindDeliveryReceipt, Payload: DeliveryReceipt{
		MessageID:      messageID,
		ConversationID: conversationID,
		Status:         string(model.StatusDelivered),
	}}
}

// NewReadReceipt builds a read_receipt event.
func NewReadReceipt(messageID, conversationID string) Outbound {
	return Outbound{Kind: KindReadReceipt, Payload: ReadReceipt{MessageID: messageID, ConversationID: conversationID}}
}

// NewPing builds a ping event with the given correlation id.
func NewPing(requestID string) Outbound {
	return Outbound{Kind: KindPing, RequestID: requestID, Payload: Ping{}}
}

// ConversationID returns the conversation the event refers to, if any.
func (o Outbound) ConversationID() string {
	switch p := o.Payload.(type) {
	case JoinConversation:
		return p.ConversationID
	case MessagePayload:
		return p.ConversationID
	case Typing:
		return p.ConversationID
	case DeliveryReceipt:
		return p.ConversationID
	case ReadReceipt:
		return p.ConversationID
	}
	return ""
}

// ClientMessageID returns the idempotency token of a message event.
func (o Outbound) ClientMessageID() string {
	if p, ok := o.Payload.(MessagePayload); ok {
		return p.ClientMessageID
	}
	return ""
}

// Encode serializes an outbound event into a JSON frame.
func Encode(o Outbound) ([]byte, error) {
	raw, err := json.Marshal(o.Payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", o.Kind, err)
	}
	return json.Marshal(envelope{Type: o.Kind, RequestID: o.RequestID, Payload: raw})
}

// DecodeOutbound parses a frame produced by Encode. Used to restore persisted
// queue entries.
func DecodeOutbound(data []byte) (Outbound, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Outbound{}, fmt.Errorf("decode envelope: %w", err)
	}
	out := Outbound{Kind: env.Type, RequestID: env.RequestID}
	var err error
	switch env.Type {
	case KindJoinConversation:
		out.Payload, err = decodeAs[JoinConversation](env.Payload)
	case KindMessage:
		out.Payload, err = decodeAs[MessagePayload](env.Payload)
	case KindTyping:
		out.Payload, err = decodeAs[Typing](env.Payload)
	case KindDeliveryReceipt:
		out.Payload, err = decodeAs[DeliveryReceipt](env.Payload)
	case KindReadReceipt:
		out.Payload, err = decodeAs[ReadReceipt](env.Payload)
	case KindPing:
		out.Payload = Ping{}
	default:
		return Outbound{}, fmt.Errorf("%w: %q", ErrUnknownKind, env.Type)
	}
	if err != nil {
		return Outbound{}, err
	}
	return out, nil
}

// Inbound is a server -> client frame whose payload is decoded lazily.
type Inbound struct {
	Kind      Kind
	RequestID string
	Raw       json.RawMessage
}

// DecodeInbound parses the envelope of an inbound frame.
func DecodeInbound(data []byte) (Inbound, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Inbound{}, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Type == "" {
		return Inbound{}, fmt.Errorf("%w: missing type", ErrUnknownKind)
	}
	return Inbound{Kind: env.Type, RequestID: env.RequestID, Raw: env.Payload}, nil
}

// Decode unmarshals the payload into v.
func (in Inbound) Decode(v any) error {
	if len(in.Raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(in.Raw, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", in.Kind, err)
	}
	return nil
}

// EncodeInbound serializes a server -> client frame. Used by test servers and
// tooling that replays captured traffic.
func EncodeInbound(kind Kind, requestID string, payload any) ([]byte, error) {
	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s payload: %w", kind, err)
		}
		raw = b
	}
	return json.Marshal(envelope{Type: kind, RequestID: requestID, Payload: raw})
}

func decodeAs[T any](raw json.RawMessage) (T, error) {
	var v T
	if len(raw) == 0 {
		return v, nil
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, fmt.Errorf("decode payload: %w", err)
	}
	return v, nil
}
