package sync

import (
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/emberapp/ember/internal/store"
	"go.uber.org/zap"
)

// Reconciler keeps per-conversation sync bookkeeping in the sync_state
// table: the last-synced checkpoint and the server versions a user chose to
// override with keep_local.
type Reconciler struct {
	db     *store.DB
	logger *zap.Logger
}

// NewReconciler creates a new reconciler.
func NewReconciler(db *store.DB, logger *zap.Logger) *Reconciler {
	return &Reconciler{db: db, logger: logger}
}

func conversationPrefix(conversationID string) string {
	return "conv:" + conversationID + ":"
}

func checkpointKey(conversationID string) string {
	return conversationPrefix(conversationID) + "last_synced_at"
}

func keptLocalKey(conversationID, messageID string) string {
	return conversationPrefix(conversationID) + "kept_local:" + messageID
}

func (r *Reconciler) put(key, value string) error {
	_, err := r.db.Exec(`
		INSERT INTO sync_state (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UnixMilli())
	return err
}

// get returns the value under key, or "" when none is stored.
func (r *Reconciler) get(key string) (string, error) {
	var value string
	err := r.db.QueryRow(`SELECT value FROM sync_state WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return value, err
}

// LastSynced returns the server timestamp up to which a conversation is
// known to be in sync, or the zero time if it never synced.
func (r *Reconciler) LastSynced(conversationID string) (time.Time, error) {
	v, err := r.get(checkpointKey(conversationID))
	if err != nil || v == "" {
		return time.Time{}, err
	}
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		r.logger.Warn("discarding unreadable checkpoint", zap.String("conversation", conversationID), zap.String("value", v))
		return time.Time{}, nil
	}
	return time.UnixMilli(ms).UTC(), nil
}

// AdvanceLastSynced moves a conversation's checkpoint forward to at. Older
// values are ignored.
func (r *Reconciler) AdvanceLastSynced(conversationID string, at time.Time) error {
	if at.IsZero() {
		return nil
	}
	_, err := r.db.Exec(`
		INSERT INTO sync_state (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = CASE WHEN CAST(excluded.value AS INTEGER) > CAST(sync_state.value AS INTEGER)
				THEN excluded.value ELSE sync_state.value END,
			updated_at = excluded.updated_at`,
		checkpointKey(conversationID), strconv.FormatInt(at.UnixMilli(), 10), time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("advance checkpoint %s: %w", conversationID, err)
	}
	return nil
}

// KeepLocal records that the local copy of a message was kept over the
// server version identified by version.
func (r *Reconciler) KeepLocal(conversationID, messageID, version string) error {
	if err := r.put(keptLocalKey(conversationID, messageID), version); err != nil {
		return fmt.Errorf("record kept version of %s: %w", messageID, err)
	}
	return nil
}

// KeptLocal returns the server version recorded by KeepLocal, or "".
func (r *Reconciler) KeptLocal(conversationID, messageID string) (string, error) {
	return r.get(keptLocalKey(conversationID, messageID))
}

// ClearKept drops a KeepLocal record.
func (r *Reconciler) ClearKept(conversationID, messageID string) error {
	_, err := r.db.Exec(`DELETE FROM sync_state WHERE key = ?`, keptLocalKey(conversationID, messageID))
	return err
}

// Forget drops all bookkeeping of a conversation.
func (r *Reconciler) Forget(conversationID string) error {
	prefix := conversationPrefix(conversationID)
	_, err := r.db.Exec(`DELETE FROM sync_state WHERE substr(key, 1, length(?)) = ?`, prefix, prefix)
	return err
}
