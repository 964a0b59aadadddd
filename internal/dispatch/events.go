// Package dispatch routes inbound realtime events to the components that own
// them.
package dispatch

import (
	"context"
	"time"

	"github.com/emberapp/ember/internal/model"
	"github.com/emberapp/ember/internal/wire"
	"go.uber.org/zap"
)

// Source is where inbound events come from, normally the realtime manager.
type Source interface {
	OnEvent(kind wire.Kind, fn func(wire.Inbound))
}

// Ingester stores pushed messages.
type Ingester interface {
	Ingest(ctx context.Context, msg model.Message) error
}

// Receipts applies acknowledgements for outbound messages.
type Receipts interface {
	Confirm(clientID, serverID string, serverTS time.Time) error
	Fail(clientID, reason string) error
	ApplyRemote(kind wire.Kind, r wire.Receipt) error
}

// Presence tracks remote typing activity.
type Presence interface {
	OnRemoteTypingEvent(conversationID, userID string, isTyping bool)
}

// EventHandler decodes inbound events and hands them to sync, receipts and
// typing. It never calls back into the connection.
type EventHandler struct {
	ingest   Ingester
	receipts Receipts
	presence Presence
	logger   *zap.Logger
	timeout  time.Duration
}

// NewEventHandler creates a new event handler.
func NewEventHandler(ingest Ingester, receipts Receipts, presence Presence, logger *zap.Logger) *EventHandler {
	return &EventHandler{
		ingest:   ingest,
		receipts: receipts,
		presence: presence,
		logger:   logger.Named("dispatch"),
		timeout:  10 * time.Second,
	}
}

// Register subscribes the handler to every inbound kind it understands.
func (h *EventHandler) Register(src Source) {
	for _, kind := range []wire.Kind{
		wire.KindMessageNew,
		wire.KindMessageAck,
		wire.KindMessageRejected,
		wire.KindMessageDelivered,
		wire.KindMessageRead,
		wire.KindTypingStart,
		wire.KindTypingStop,
	} {
		src.OnEvent(kind, h.Handle)
	}
}

// Handle processes one inbound event. Malformed payloads are logged and
// dropped.
func (h *EventHandler) Handle(in wire.Inbound) {
	var err error
	switch in.Kind {
	case wire.KindMessageNew:
		err = h.handleMessage(in)
	case wire.KindMessageAck:
		var ack wire.MessageAck
		if err = in.Decode(&ack); err == nil {
			err = h.receipts.Confirm(ack.ClientMessageID, ack.MessageID, ack.ServerTimestamp)
		}
	case wire.KindMessageRejected:
		var rej wire.MessageRejected
		if err = in.Decode(&rej); err == nil {
			err = h.receipts.Fail(rej.ClientMessageID, rej.Reason)
		}
	case wire.KindMessageDelivered, wire.KindMessageRead:
		var r wire.Receipt
		if err = in.Decode(&r); err == nil {
			err = h.receipts.ApplyRemote(in.Kind, r)
		}
	case wire.KindTypingStart, wire.KindTypingStop:
		var te wire.TypingEvent
		if err = in.Decode(&te); err == nil {
			h.presence.OnRemoteTypingEvent(te.ConversationID, te.UserID, in.Kind == wire.KindTypingStart)
		}
	default:
		h.logger.Debug("ignoring inbound event", zap.String("kind", string(in.Kind)))
		return
	}
	if err != nil {
		h.logger.Warn("inbound event not applied", zap.String("kind", string(in.Kind)), zap.Error(err))
	}
}

func (h *EventHandler) handleMessage(in wire.Inbound) error {
	var im wire.InboundMessage
	if err := in.Decode(&im); err != nil {
		return err
	}
	msg := im.ToModel()
	if msg.SenderID != "" {
		// A message from the peer ends their typing indicator.
		h.presence.OnRemoteTypingEvent(msg.ConversationID, msg.SenderID, false)
	}
	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()
	return h.ingest.Ingest(ctx, *msg)
}
