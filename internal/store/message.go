package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/emberapp/ember/internal/model"
)

const messageColumns = `msg_id, COALESCE(client_id, ''), conversation_id, sender_id, recipient_id,
	body, message_type, status, created_at, server_ts`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (*model.Message, error) {
	var (
		m                 model.Message
		typ, st           string
		createdAt, server int64
	)
	if err := row.Scan(&m.ID, &m.ClientID, &m.ConversationID, &m.SenderID, &m.RecipientID,
		&m.Content, &typ, &st, &createdAt, &server); err != nil {
		return nil, err
	}
	m.Type = model.MessageType(typ)
	m.Status = model.Status(st)
	m.CreatedAt = fromMillis(createdAt)
	m.ServerTimestamp = fromMillis(server)
	return &m, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// UpsertMessage inserts or updates a message (idempotent on msg_id). Content
// and type follow the incoming copy; status only ever moves forward.
func (db *DB) UpsertMessage(m *model.Message) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO messages (conversation_id, msg_id, client_id, sender_id, recipient_id, body,
			message_type, status, status_rank, created_at, server_ts, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(msg_id) DO UPDATE SET
			body = excluded.body,
			message_type = excluded.message_type,
			client_id = COALESCE(messages.client_id, excluded.client_id),
			server_ts = MAX(messages.server_ts, excluded.server_ts),
			status = CASE WHEN excluded.status_rank > messages.status_rank THEN excluded.status ELSE messages.status END,
			status_rank = MAX(messages.status_rank, excluded.status_rank),
			updated_at = excluded.updated_at`,
		m.ConversationID, m.ID, nullable(m.ClientID), m.SenderID, m.RecipientID, m.Content,
		string(m.Type), string(m.Status), m.Status.Rank(), toMillis(m.CreatedAt), toMillis(m.ServerTimestamp), now)
	if err != nil {
		return fmt.Errorf("upsert message %s: %w", m.ID, err)
	}
	return nil
}

// GetMessage returns a message by its server or temporary id, or nil if absent.
func (db *DB) GetMessage(id string) (*model.Message, error) {
	m, err := scanMessage(db.QueryRow(`SELECT `+messageColumns+` FROM messages WHERE msg_id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return m, err
}

// GetMessageByClientID returns a message by its idempotency token, or nil.
func (db *DB) GetMessageByClientID(clientID string) (*model.Message, error) {
	if clientID == "" {
		return nil, nil
	}
	m, err := scanMessage(db.QueryRow(`SELECT `+messageColumns+` FROM messages WHERE client_id = ?`, clientID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return m, err
}

// ListMessages returns messages for a conversation, newest first, using keyset
// pagination on the ordering timestamp.
func (db *DB) ListMessages(conversationID string, before time.Time, limit int) ([]model.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	beforeMs := toMillis(before)
	if beforeMs <= 0 {
		beforeMs = time.Now().UnixMilli() + 1
	}
	rows, err := db.Query(`
		SELECT `+messageColumns+`
		FROM messages
		WHERE conversation_id = ?
			AND (CASE WHEN server_ts > 0 THEN server_ts ELSE created_at END) < ?
		ORDER BY (CASE WHEN server_ts > 0 THEN server_ts ELSE created_at END) DESC, id DESC
		LIMIT ?`, conversationID, beforeMs, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []model.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, *m)
	}
	return msgs, rows.Err()
}

// UpdateMessageStatus advances a message's status. The rank guard in SQL
// keeps the stored status monotonic; failed is only accepted from pending.
// Reports whether a row changed.
func (db *DB) UpdateMessageStatus(id string, st model.Status) (bool, error) {
	var (
		res sql.Result
		err error
		now = time.Now().UnixMilli()
	)
	if st == model.StatusFailed {
		res, err = db.Exec(`UPDATE messages SET status = 'failed', status_rank = -1, updated_at = ?
			WHERE msg_id = ? AND status = 'pending'`, now, id)
	} else {
		res, err = db.Exec(`UPDATE messages SET status = ?, status_rank = ?, updated_at = ?
			WHERE msg_id = ? AND status_rank >= 0 AND status_rank < ?`,
			string(st), st.Rank(), now, id, st.Rank())
	}
	if err != nil {
		return false, fmt.Errorf("update status %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// ResetFailed moves a failed message back to pending for a manual retry.
func (db *DB) ResetFailed(id string) (bool, error) {
	res, err := db.Exec(`UPDATE messages SET status = 'pending', status_rank = 0, updated_at = ?
		WHERE msg_id = ? AND status = 'failed'`, time.Now().UnixMilli(), id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// ConfirmMessage replaces the temporary id of the message carrying clientID
// with its server id and moves it to at least sent. If the server copy was
// already stored under serverID, the optimistic row is dropped instead.
func (db *DB) ConfirmMessage(clientID, serverID string, serverTS time.Time) error {
	err := db.withTx(func(tx *sql.Tx) error {
		var existing int
		if err := tx.QueryRow(`SELECT COUNT(*) FROM messages WHERE msg_id = ?`, serverID).Scan(&existing); err != nil {
			return err
		}
		now := time.Now().UnixMilli()
		if existing > 0 {
			if _, err := tx.Exec(`DELETE FROM messages WHERE client_id = ? AND msg_id != ?`, clientID, serverID); err != nil {
				return err
			}
			if _, err := tx.Exec(`UPDATE messages SET client_id = ?, updated_at = ? WHERE msg_id = ? AND client_id IS NULL`,
				clientID, now, serverID); err != nil {
				return err
			}
		} else {
			if _, err := tx.Exec(`
				UPDATE messages SET
					msg_id = ?,
					server_ts = ?,
					status = CASE WHEN status_rank < 1 THEN 'sent' ELSE status END,
					status_rank = MAX(status_rank, 1),
					updated_at = ?
				WHERE client_id = ?`, serverID, toMillis(serverTS), now, clientID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("confirm message %s: %w", clientID, err)
	}
	return nil
}

// ReplaceContent overwrites the content fields of a message, used when a
// conflict is settled in favour of the server copy.
func (db *DB) ReplaceContent(id, content string, typ model.MessageType) error {
	_, err := db.Exec(`UPDATE messages SET body = ?, message_type = ?, updated_at = ? WHERE msg_id = ?`,
		content, string(typ), time.Now().UnixMilli(), id)
	return err
}

// UnreadInbound returns ids of messages in a conversation authored by someone
// other than userID that have not been read yet.
func (db *DB) UnreadInbound(conversationID, userID string) ([]string, error) {
	rows, err := db.Query(`
		SELECT msg_id FROM messages
		WHERE conversation_id = ? AND sender_id != ? AND status_rank < 3
		ORDER BY server_ts ASC, id ASC`, conversationID, userID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
