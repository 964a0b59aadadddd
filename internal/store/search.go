package store

// SearchMessages performs a full-text search on message content.
func (db *DB) SearchMessages(query string, conversationID string, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 50
	}

	q := `
		SELECT m.msg_id, COALESCE(m.client_id, ''), m.conversation_id, m.sender_id, m.recipient_id,
		       m.body, m.message_type, m.status, m.created_at, m.server_ts,
		       snippet(messages_fts, 0, '<<', '>>', '...', 32)
		FROM messages_fts f
		JOIN messages m ON m.id = f.rowid
		WHERE messages_fts MATCH ?`

	args := []any{query}
	if conversationID != "" {
		q += " AND m.conversation_id = ?"
		args = append(args, conversationID)
	}
	q += " ORDER BY rank LIMIT ?"
	args = append(args, limit)

	rows, err := db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var results []SearchResult
	for rows.Next() {
		var (
			r       SearchResult
			snippet string
		)
		m, err := scanMessage(scanFunc(func(dest ...any) error {
			return rows.Scan(append(dest, &snippet)...)
		}))
		if err != nil {
			return nil, err
		}
		r.Message = *m
		r.Snippet = snippet
		results = append(results, r)
	}
	return results, rows.Err()
}

type scanFunc func(dest ...any) error

func (f scanFunc) Scan(dest ...any) error { return f(dest...) }
