package store

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/emberapp/ember/internal/model"
)

// SaveConflict records or refreshes an unresolved conflict for a message.
func (db *DB) SaveConflict(c model.Conflict) error {
	local, err := json.Marshal(c.Local)
	if err != nil {
		return fmt.Errorf("encode local version: %w", err)
	}
	server, err := json.Marshal(c.Server)
	if err != nil {
		return fmt.Errorf("encode server version: %w", err)
	}
	_, err = db.Exec(`
		INSERT INTO conflicts (message_id, conversation_id, local_json, server_json, fields, detected_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(message_id) DO UPDATE SET
			local_json = excluded.local_json,
			server_json = excluded.server_json,
			fields = excluded.fields`,
		c.MessageID, c.ConversationID, string(local), string(server), strings.Join(c.Fields, ","), toMillis(c.DetectedAt))
	return err
}

// DeleteConflict removes the conflict recorded for messageID.
func (db *DB) DeleteConflict(messageID string) error {
	_, err := db.Exec(`DELETE FROM conflicts WHERE message_id = ?`, messageID)
	return err
}

// ListConflicts returns unresolved conflicts, optionally filtered by conversation.
func (db *DB) ListConflicts(conversationID string) ([]model.Conflict, error) {
	q := `SELECT message_id, conversation_id, local_json, server_json, fields, detected_at FROM conflicts`
	var args []any
	if conversationID != "" {
		q += ` WHERE conversation_id = ?`
		args = append(args, conversationID)
	}
	q += ` ORDER BY detected_at ASC`

	rows, err := db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []model.Conflict
	for rows.Next() {
		var (
			c                    model.Conflict
			local, server, field string
			detected             int64
		)
		if err := rows.Scan(&c.MessageID, &c.ConversationID, &local, &server, &field, &detected); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(local), &c.Local); err != nil {
			return nil, fmt.Errorf("decode local version of %s: %w", c.MessageID, err)
		}
		if err := json.Unmarshal([]byte(server), &c.Server); err != nil {
			return nil, fmt.Errorf("decode server version of %s: %w", c.MessageID, err)
		}
		if field != "" {
			c.Fields = strings.Split(field, ",")
		}
		c.DetectedAt = fromMillis(detected)
		out = append(out, c)
	}
	return out, rows.Err()
}
