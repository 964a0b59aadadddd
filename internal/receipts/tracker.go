// Package receipts owns the local delivery status of every message: optimistic
// sends awaiting confirmation, inbound delivery and read acknowledgements,
// and the monotonic status ladder pending < sent < delivered < read.
package receipts

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/emberapp/ember/internal/bus"
	"github.com/emberapp/ember/internal/metrics"
	"github.com/emberapp/ember/internal/model"
	"github.com/emberapp/ember/internal/realtime"
	"github.com/emberapp/ember/internal/store"
	"github.com/emberapp/ember/internal/wire"
	"go.uber.org/zap"
)

// Event kinds published on the tracker's bus.
const (
	EventStatusChanged = "message.status_changed"
	EventConfirmed     = "message.confirmed"
	EventSendFailed    = "message.send_failed"
)

// StatusChange is the payload of EventStatusChanged.
type StatusChange struct {
	MessageID      string
	ConversationID string
	From           model.Status
	To             model.Status
}

// Confirmation is the payload of EventConfirmed.
type Confirmation struct {
	TempID         string
	ServerID       string
	ConversationID string
}

// Failure is the payload of EventSendFailed.
type Failure struct {
	MessageID      string
	ConversationID string
	Err            *model.SendFailure
}

// Sender transmits receipts.
type Sender interface {
	Send(ctx context.Context, evt wire.Outbound) (realtime.Delivery, error)
}

// Tracker serializes status changes so a reordered receipt can never move a
// message backwards.
type Tracker struct {
	db           *store.DB
	sender       Sender
	autoDelivery bool
	logger       *zap.Logger
	metrics      *metrics.Metrics
	bus          *bus.Bus

	mu     sync.Mutex
	userID string
	// temp maps temporary ids to optimistic messages until the server
	// confirms them; byClient indexes the same entries by idempotency token.
	temp     map[string]*model.Message
	byClient map[string]string
}

// New creates a tracker. autoDelivery controls whether inbound messages are
// acknowledged with a delivery receipt.
func New(db *store.DB, sender Sender, userID string, autoDelivery bool, logger *zap.Logger, m *metrics.Metrics) *Tracker {
	return &Tracker{
		db:           db,
		sender:       sender,
		autoDelivery: autoDelivery,
		logger:       logger.Named("receipts"),
		metrics:      m,
		bus:          bus.New(),
		userID:       userID,
		temp:         make(map[string]*model.Message),
		byClient:     make(map[string]string),
	}
}

// Subscribe returns message status events (message.*).
func (t *Tracker) Subscribe(namespace string, bufSize int) (<-chan bus.Event, func()) {
	return t.bus.Subscribe(namespace, bufSize)
}

// SetUser changes the local user.
func (t *Tracker) SetUser(userID string) {
	t.mu.Lock()
	t.userID = userID
	t.mu.Unlock()
}

// Track registers an optimistic outbound message under its temporary id.
func (t *Tracker) Track(m *model.Message) {
	cp := *m
	t.mu.Lock()
	t.temp[m.ID] = &cp
	if m.ClientID != "" {
		t.byClient[m.ClientID] = m.ID
	}
	t.mu.Unlock()
	t.metrics.IncStatus(string(model.StatusPending))
}

// Lookup returns the optimistic message held under a temporary id.
func (t *Tracker) Lookup(tempID string) (model.Message, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	m, ok := t.temp[tempID]
	if !ok {
		return model.Message{}, false
	}
	return *m, true
}

// Unconfirmed returns the number of tracked messages awaiting confirmation.
func (t *Tracker) Unconfirmed() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.temp)
}

// Confirm swaps the temporary id of the message carrying clientID for its
// server id and moves it to at least sent. Unknown tokens are resolved
// through the store so confirmations survive a restart.
func (t *Tracker) Confirm(clientID, serverID string, serverTS time.Time) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	before, err := t.db.GetMessageByClientID(clientID)
	if err != nil {
		return err
	}
	if before == nil {
		t.logger.Debug("confirmation for unknown message", zap.String("client_msg_id", clientID))
		return nil
	}
	if serverTS.IsZero() {
		serverTS = time.Now().UTC()
	}
	if err := t.db.ConfirmMessage(clientID, serverID, serverTS); err != nil {
		return err
	}
	after, err := t.db.GetMessage(serverID)
	if err != nil {
		return err
	}

	tempID := before.ID
	if id, ok := t.byClient[clientID]; ok {
		tempID = id
		delete(t.byClient, clientID)
		delete(t.temp, id)
	}
	if tempID != serverID {
		t.bus.Emit(EventConfirmed, Confirmation{TempID: tempID, ServerID: serverID, ConversationID: before.ConversationID})
	}
	if after != nil && after.Status != before.Status {
		t.statusChangedLocked(serverID, before.ConversationID, before.Status, after.Status)
	}
	return nil
}

// Fail marks the pending message carrying clientID as failed. Messages that
// already left pending are not affected.
func (t *Tracker) Fail(clientID, reason string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	m, err := t.db.GetMessageByClientID(clientID)
	if err != nil {
		return err
	}
	if m == nil {
		return nil
	}
	changed, err := t.db.UpdateMessageStatus(m.ID, model.StatusFailed)
	if err != nil || !changed {
		return err
	}
	if id, ok := t.byClient[clientID]; ok {
		if tm := t.temp[id]; tm != nil {
			tm.Status = model.StatusFailed
		}
	}

	failure := &model.SendFailure{ClientID: clientID, Reason: reason}
	t.logger.Warn("message send failed", zap.String("msg_id", m.ID), zap.String("reason", reason))
	t.statusChangedLocked(m.ID, m.ConversationID, m.Status, model.StatusFailed)
	t.bus.Emit(EventSendFailed, Failure{MessageID: m.ID, ConversationID: m.ConversationID, Err: failure})
	return nil
}

// Retry moves a failed message back to pending and returns it for resending
// with its original idempotency token.
func (t *Tracker) Retry(id string) (*model.Message, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	reset, err := t.db.ResetFailed(id)
	if err != nil {
		return nil, err
	}
	if !reset {
		return nil, fmt.Errorf("retry %s: %w", id, model.ErrMessageNotFound)
	}
	m, err := t.db.GetMessage(id)
	if err != nil || m == nil {
		return nil, fmt.Errorf("retry %s: %w", id, model.ErrMessageNotFound)
	}
	if m.ClientID != "" {
		cp := *m
		t.temp[m.ID] = &cp
		t.byClient[m.ClientID] = m.ID
	}
	t.statusChangedLocked(m.ID, m.ConversationID, model.StatusFailed, model.StatusPending)
	return m, nil
}

// Advance moves a message to st if that is forward on the status ladder.
// It reports whether anything changed.
func (t *Tracker) Advance(id string, st model.Status) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.advanceLocked(id, st)
}

func (t *Tracker) advanceLocked(id string, st model.Status) (bool, error) {
	m, err := t.db.GetMessage(id)
	if err != nil {
		return false, err
	}
	if m == nil || !m.Status.CanAdvance(st) {
		return false, nil
	}
	changed, err := t.db.UpdateMessageStatus(id, st)
	if err != nil || !changed {
		return false, err
	}
	t.statusChangedLocked(id, m.ConversationID, m.Status, st)
	return true, nil
}

// MarkReceived acknowledges an inbound message: it sends a delivery receipt
// when auto-delivery is on and moves the message to delivered. Messages
// authored locally are ignored.
func (t *Tracker) MarkReceived(ctx context.Context, m *model.Message) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if m.SenderID == t.userID {
		return nil
	}
	if t.autoDelivery {
		if _, err := t.sender.Send(ctx, wire.NewDeliveryReceipt(m.ID, m.ConversationID)); err != nil {
			t.logger.Warn("delivery receipt not sent", zap.String("msg_id", m.ID), zap.Error(err))
		}
	}
	_, err := t.advanceLocked(m.ID, model.StatusDelivered)
	return err
}

// MarkRead emits read receipts for inbound messages of a conversation and
// marks them read. With no ids every unread inbound message is used. Already
// read messages are skipped, so repeating a call is harmless. Returns the
// number of messages newly marked read.
func (t *Tracker) MarkRead(ctx context.Context, conversationID string, ids []string) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(ids) == 0 {
		var err error
		if ids, err = t.db.UnreadInbound(conversationID, t.userID); err != nil {
			return 0, err
		}
	}

	marked := 0
	for _, id := range ids {
		m, err := t.db.GetMessage(id)
		if err != nil {
			return marked, err
		}
		if m == nil || m.ConversationID != conversationID || m.SenderID == t.userID || m.Status == model.StatusRead {
			continue
		}
		if _, err := t.sender.Send(ctx, wire.NewReadReceipt(id, conversationID)); err != nil {
			t.logger.Warn("read receipt not sent", zap.String("msg_id", id), zap.Error(err))
		}
		changed, err := t.advanceLocked(id, model.StatusRead)
		if err != nil {
			return marked, err
		}
		if changed {
			marked++
		}
	}
	if err := t.db.ResetUnread(conversationID); err != nil {
		return marked, err
	}
	return marked, nil
}

// ApplyRemote applies a delivered or read receipt from the peer to one of
// our messages. Duplicates and late receipts are no-ops.
func (t *Tracker) ApplyRemote(kind wire.Kind, r wire.Receipt) error {
	var st model.Status
	switch kind {
	case wire.KindMessageDelivered:
		st = model.StatusDelivered
	case wire.KindMessageRead:
		st = model.StatusRead
	default:
		return fmt.Errorf("not a receipt: %s", kind)
	}
	_, err := t.Advance(r.MessageID, st)
	return err
}

// Status returns the stored status of a message.
func (t *Tracker) Status(id string) (model.Status, error) {
	m, err := t.db.GetMessage(id)
	if err != nil {
		return "", err
	}
	if m == nil {
		return "", model.ErrMessageNotFound
	}
	return m.Status, nil
}

func (t *Tracker) statusChangedLocked(id, conversationID string, from, to model.Status) {
	t.metrics.IncStatus(string(to))
	t.logger.Debug("message status", zap.String("msg_id", id), zap.String("from", string(from)), zap.String("to", string(to)))
	t.bus.Emit(EventStatusChanged, StatusChange{MessageID: id, ConversationID: conversationID, From: from, To: to})
}
