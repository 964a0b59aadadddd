package store

// AppendOutbox persists a queued outbound frame.
func (db *DB) AppendOutbox(r OutboxRecord) error {
	_, err := db.Exec(`
		INSERT INTO outbox (seq, kind, frame, enqueued_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(seq) DO UPDATE SET kind = excluded.kind, frame = excluded.frame`,
		int64(r.Seq), r.Kind, r.Frame, toMillis(r.EnqueuedAt))
	return err
}

// RemoveOutbox deletes a persisted frame after it was sent or dropped.
func (db *DB) RemoveOutbox(seq uint64) error {
	_, err := db.Exec(`DELETE FROM outbox WHERE seq = ?`, int64(seq))
	return err
}

// LoadOutbox returns persisted frames in enqueue order.
func (db *DB) LoadOutbox() ([]OutboxRecord, error) {
	rows, err := db.Query(`SELECT seq, kind, frame, enqueued_at FROM outbox ORDER BY seq ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var records []OutboxRecord
	for rows.Next() {
		var (
			r       OutboxRecord
			seq, at int64
		)
		if err := rows.Scan(&seq, &r.Kind, &r.Frame, &at); err != nil {
			return nil, err
		}
		r.Seq = uint64(seq)
		r.EnqueuedAt = fromMillis(at)
		records = append(records, r)
	}
	return records, rows.Err()
}
