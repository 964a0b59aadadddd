package store

import (
	"database/sql"
	"errors"
	"time"

	"github.com/emberapp/ember/internal/model"
)

// UpsertConversation inserts or updates a conversation record. Activity only
// moves forward so a stale list response cannot rewind the preview.
func (db *DB) UpsertConversation(c *model.Conversation) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO conversations (id, peer_id, peer_name, unread_count, last_activity_at, last_preview, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			peer_id = excluded.peer_id,
			peer_name = excluded.peer_name,
			unread_count = excluded.unread_count,
			last_preview = CASE WHEN excluded.last_activity_at >= conversations.last_activity_at
				THEN excluded.last_preview ELSE conversations.last_preview END,
			last_activity_at = MAX(conversations.last_activity_at, excluded.last_activity_at),
			updated_at = excluded.updated_at`,
		c.ID, c.PeerID, c.PeerName, c.UnreadCount, toMillis(c.LastActivityAt), c.LastPreview, now)
	return err
}

// RecordActivity bumps a conversation's preview and activity time, creating
// the row if needed. incoming increments the unread counter.
func (db *DB) RecordActivity(conversationID, preview string, at time.Time, incoming bool) error {
	unread := 0
	if incoming {
		unread = 1
	}
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO conversations (id, unread_count, last_activity_at, last_preview, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			unread_count = conversations.unread_count + excluded.unread_count,
			last_preview = CASE WHEN excluded.last_activity_at >= conversations.last_activity_at
				THEN excluded.last_preview ELSE conversations.last_preview END,
			last_activity_at = MAX(conversations.last_activity_at, excluded.last_activity_at),
			updated_at = excluded.updated_at`,
		conversationID, unread, toMillis(at), preview, now)
	return err
}

// ResetUnread clears a conversation's unread counter.
func (db *DB) ResetUnread(conversationID string) error {
	_, err := db.Exec(`UPDATE conversations SET unread_count = 0, updated_at = ? WHERE id = ?`,
		time.Now().UnixMilli(), conversationID)
	return err
}

// ListConversations returns conversations sorted by last activity descending.
// Names fall back to the peer id when the profile name is unknown.
func (db *DB) ListConversations(limit, offset int) ([]model.Conversation, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.Query(`
		SELECT id, peer_id, COALESCE(NULLIF(peer_name, ''), NULLIF(peer_id, ''), id),
			unread_count, last_activity_at, last_preview
		FROM conversations
		ORDER BY last_activity_at DESC
		LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var convs []model.Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		convs = append(convs, *c)
	}
	return convs, rows.Err()
}

// GetConversation returns a single conversation by id, or nil if absent.
func (db *DB) GetConversation(id string) (*model.Conversation, error) {
	c, err := scanConversation(db.QueryRow(`
		SELECT id, peer_id, COALESCE(NULLIF(peer_name, ''), NULLIF(peer_id, ''), id),
			unread_count, last_activity_at, last_preview
		FROM conversations WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return c, err
}

// ConversationIDs returns the ids of every known conversation.
func (db *DB) ConversationIDs() ([]string, error) {
	rows, err := db.Query(`SELECT id FROM conversations ORDER BY last_activity_at DESC`)
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

// DeleteConversation removes a conversation with its messages and conflicts.
func (db *DB) DeleteConversation(id string) error {
	return db.withTx(func(tx *sql.Tx) error {
		for _, q := range []string{
			`DELETE FROM conflicts WHERE conversation_id = ?`,
			`DELETE FROM messages WHERE conversation_id = ?`,
			`DELETE FROM conversations WHERE id = ?`,
		} {
			if _, err := tx.Exec(q, id); err != nil {
				return err
			}
		}
		return nil
	})
}

func scanConversation(row rowScanner) (*model.Conversation, error) {
	var (
		c        model.Conversation
		activity int64
	)
	if err := row.Scan(&c.ID, &c.PeerID, &c.PeerName, &c.UnreadCount, &activity, &c.LastPreview); err != nil {
		return nil, err
	}
	c.LastActivityAt = fromMillis(activity)
	return &c, nil
}
