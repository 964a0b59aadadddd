package sync

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"slices"
	"time"

	"github.com/emberapp/ember/internal/config"
	"github.com/emberapp/ember/internal/model"
	"go.uber.org/zap"
)

// Ingest stores a message pushed over the realtime link. An echo of one of
// our optimistic messages confirms it; a foreign message is acknowledged
// with a delivery receipt.
func (m *Manager) Ingest(ctx context.Context, msg model.Message) error {
	if msg.ID == "" || msg.ConversationID == "" {
		return fmt.Errorf("ingest: message id and conversation are required")
	}
	conflict, err := m.mergeOne(ctx, msg.ConversationID, msg, true)
	if err != nil {
		return fmt.Errorf("ingest %s: %w", msg.ID, err)
	}
	if !conflict {
		m.bus.Emit(EventMessageReceived, map[string]string{
			"conversation_id": msg.ConversationID,
			"msg_id":          msg.ID,
		})
	}
	return nil
}

// merge folds a fetched batch into the store and returns the newest server
// timestamp seen and the number of conflicts raised.
func (m *Manager) merge(ctx context.Context, conversationID string, msgs []model.Message) (time.Time, int, error) {
	var (
		checkpoint time.Time
		conflicts  int
	)
	for _, remote := range msgs {
		if remote.ConversationID == "" {
			remote.ConversationID = conversationID
		}
		conflict, err := m.mergeOne(ctx, conversationID, remote, false)
		if err != nil {
			return time.Time{}, conflicts, fmt.Errorf("merge %s: %w", remote.ID, err)
		}
		if conflict {
			conflicts++
		}
		if remote.ServerTimestamp.After(checkpoint) {
			checkpoint = remote.ServerTimestamp
		}
	}
	return checkpoint, conflicts, nil
}

// mergeOne applies one server copy. Local and server copies are matched by
// server id, then by idempotency token. It reports whether a conflict was
// recorded.
func (m *Manager) mergeOne(ctx context.Context, conversationID string, remote model.Message, live bool) (bool, error) {
	local, err := m.db.GetMessage(remote.ID)
	if err != nil {
		return false, err
	}
	if local == nil && remote.ClientID != "" {
		if local, err = m.db.GetMessageByClientID(remote.ClientID); err != nil {
			return false, err
		}
	}

	if local == nil {
		return false, m.insert(ctx, conversationID, remote, live)
	}

	if local.IsTemporary() {
		if err := m.tracker.Confirm(remote.ClientID, remote.ID, remote.ServerTimestamp); err != nil {
			return false, err
		}
		if local, err = m.db.GetMessage(remote.ID); err != nil || local == nil {
			return false, err
		}
	}

	fields := m.diff(local, &remote)
	if len(fields) > 0 && m.cfg.Policy == config.PolicyManual {
		if fields, err = m.withoutKept(conversationID, &remote, fields); err != nil {
			return false, err
		}
	}
	if len(fields) == 0 {
		_, err := m.tracker.Advance(remote.ID, remote.Status)
		return false, err
	}

	switch m.cfg.Policy {
	case config.PolicyServer:
		if err := m.db.ReplaceContent(remote.ID, remote.Content, remote.Type); err != nil {
			return false, err
		}
		_, err := m.tracker.Advance(remote.ID, remote.Status)
		return false, err
	case config.PolicyClient:
		_, err := m.tracker.Advance(remote.ID, remote.Status)
		return false, err
	}

	c := model.Conflict{
		MessageID:      remote.ID,
		ConversationID: conversationID,
		Local:          *local,
		Server:         remote,
		Fields:         fields,
		DetectedAt:     time.Now().UTC(),
	}
	if err := m.db.SaveConflict(c); err != nil {
		return false, err
	}
	if !slices.Contains(fields, "status") {
		if _, err := m.tracker.Advance(remote.ID, remote.Status); err != nil {
			return false, err
		}
	}

	m.mu.Lock()
	st := m.stateLocked(conversationID)
	st.Conflicts = slices.DeleteFunc(st.Conflicts, func(x model.Conflict) bool { return x.MessageID == c.MessageID })
	st.Conflicts = append(st.Conflicts, c)
	m.updateCountsLocked()
	m.mu.Unlock()

	m.logger.Info("conflict detected", zap.String("conversation", conversationID),
		zap.String("msg_id", remote.ID), zap.Strings("fields", fields))
	m.bus.Emit(EventConflictDetected, c)
	return true, nil
}

func (m *Manager) insert(ctx context.Context, conversationID string, remote model.Message, live bool) error {
	if remote.Status == "" || remote.Status.Rank() < model.StatusSent.Rank() {
		remote.Status = model.StatusSent
	}
	if err := m.db.UpsertMessage(&remote); err != nil {
		return err
	}
	incoming := remote.SenderID != m.user()
	if err := m.db.RecordActivity(conversationID, preview(&remote), remote.SortTime(), live && incoming); err != nil {
		return err
	}
	if incoming && remote.Status.Rank() < model.StatusDelivered.Rank() {
		return m.tracker.MarkReceived(ctx, &remote)
	}
	return nil
}

// diff returns the configured fields in which the two copies disagree.
func (m *Manager) diff(local, remote *model.Message) []string {
	var fields []string
	for _, f := range m.cfg.CompareFields {
		switch f {
		case "content":
			if local.Content != remote.Content {
				fields = append(fields, f)
			}
		case "type":
			if local.Type != remote.Type {
				fields = append(fields, f)
			}
		case "status":
			if remote.Status.Valid() && local.Status != remote.Status {
				fields = append(fields, f)
			}
		}
	}
	return fields
}

// withoutKept drops content and type from fields when the user already kept
// the local copy against this exact server version.
func (m *Manager) withoutKept(conversationID string, remote *model.Message, fields []string) ([]string, error) {
	kept, err := m.recon.KeptLocal(conversationID, remote.ID)
	if err != nil || kept == "" || kept != serverVersion(remote) {
		return fields, err
	}
	return slices.DeleteFunc(fields, func(f string) bool { return f == "content" || f == "type" }), nil
}

// serverVersion identifies a server copy by its content and type.
func serverVersion(msg *model.Message) string {
	h := sha256.New()
	h.Write([]byte(msg.Type))
	h.Write([]byte{0})
	h.Write([]byte(msg.Content))
	return hex.EncodeToString(h.Sum(nil))
}

func preview(m *model.Message) string {
	if m.Type != model.TypeText {
		return "[" + string(m.Type) + "]"
	}
	const max = 100
	r := []rune(m.Content)
	if len(r) <= max {
		return m.Content
	}
	return string(r[:max])
}
