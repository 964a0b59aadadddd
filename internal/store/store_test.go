package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/emberapp/ember/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func serverMsg(id, conv, body string, st model.Status, ts int64) *model.Message {
	return &model.Message{
		ID:              id,
		ConversationID:  conv,
		SenderID:        "bob",
		RecipientID:     "alice",
		Content:         body,
		Type:            model.TypeText,
		Status:          st,
		CreatedAt:       time.UnixMilli(ts).UTC(),
		ServerTimestamp: time.UnixMilli(ts).UTC(),
	}
}

func TestMigrateAppliesOnFreshDB(t *testing.T) {
	db := testDB(t)

	// testDB already ran Migrate, so run it again to check idempotency.
	result, err := db.Migrate()
	if err != nil {
		t.Fatal(err)
	}
	if result.Changed {
		t.Error("second Migrate() should report Changed=false")
	}
	if result.Version != 2 {
		t.Errorf("version = %d, want 2 (init + fts)", result.Version)
	}
}

func TestMigrateReportsVersions(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "fresh.db"))
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	v, err := db.SchemaVersion()
	require.NoError(t, err)
	assert.Zero(t, v)

	result, err := db.Migrate()
	require.NoError(t, err)
	assert.Equal(t, uint(0), result.From)
	assert.Equal(t, uint(2), result.Version)
	assert.True(t, result.Changed)
	assert.False(t, result.Dirty)

	v, err = db.SchemaVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(2), v)
}

// TestMigrateSchemaHasRequiredColumns verifies the migration creates all
// columns the sync and queue layers depend on.
func TestMigrateSchemaHasRequiredColumns(t *testing.T) {
	db := testDB(t)

	requiredOps := []struct {
		desc  string
		query string
		args  []any
	}{
		{"insert conversation", "INSERT INTO conversations (id, peer_id, peer_name, unread_count, last_activity_at, last_preview) VALUES (?, ?, ?, ?, ?, ?)", []any{"c1", "bob", "Bob", 0, 1000, "hi"}},
		{"insert message", "INSERT INTO messages (conversation_id, msg_id, client_id, sender_id, recipient_id, body, message_type, status, status_rank, created_at, server_ts) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)", []any{"c1", "m1", "cid", "bob", "alice", "hello", "text", "sent", 1, 1000, 1000}},
		{"queue outbox", "INSERT INTO outbox (seq, kind, frame, enqueued_at) VALUES (?, ?, ?, ?)", []any{1, "message", []byte("{}"), 1000}},
		{"set sync state", "INSERT INTO sync_state (key, value) VALUES (?, ?)", []any{"k", "v"}},
		{"record conflict", "INSERT INTO conflicts (message_id, conversation_id, local_json, server_json, detected_at) VALUES (?, ?, ?, ?, ?)", []any{"m1", "c1", "{}", "{}", 1000}},
	}

	for _, op := range requiredOps {
		t.Run(op.desc, func(t *testing.T) {
			if _, err := db.Exec(op.query, op.args...); err != nil {
				t.Fatalf("%s failed: %v", op.desc, err)
			}
		})
	}

	var count int
	err := db.QueryRow("SELECT COUNT(*) FROM messages_fts WHERE messages_fts MATCH 'hello'").Scan(&count)
	if err != nil {
		t.Fatalf("FTS5 query failed: %v", err)
	}
	if count != 1 {
		t.Errorf("FTS5 count = %d, want 1", count)
	}
}

func TestConversationUpsertAndList(t *testing.T) {
	db := testDB(t)

	conv := &model.Conversation{ID: "c1", PeerID: "bob", PeerName: "Bob", LastActivityAt: time.UnixMilli(2000), LastPreview: "newer"}
	require.NoError(t, db.UpsertConversation(conv))

	// A stale listing must not rewind the preview.
	stale := *conv
	stale.PeerName = "Bobby"
	stale.LastActivityAt = time.UnixMilli(1000)
	stale.LastPreview = "older"
	require.NoError(t, db.UpsertConversation(&stale))

	require.NoError(t, db.UpsertConversation(&model.Conversation{ID: "c2", PeerID: "carol", LastActivityAt: time.UnixMilli(500)}))

	convs, err := db.ListConversations(10, 0)
	require.NoError(t, err)
	require.Len(t, convs, 2)
	assert.Equal(t, "c1", convs[0].ID)
	assert.Equal(t, "Bobby", convs[0].PeerName)
	assert.Equal(t, "newer", convs[0].LastPreview)
	assert.Equal(t, int64(2000), convs[0].LastActivityAt.UnixMilli())
	assert.Equal(t, "carol", convs[1].PeerName, "name falls back to peer id")

	ids, err := db.ConversationIDs()
	require.NoError(t, err)
	assert.Equal(t, []string{"c1", "c2"}, ids)
}

func TestGetConversation(t *testing.T) {
	db := testDB(t)

	require.NoError(t, db.UpsertConversation(&model.Conversation{ID: "c1", PeerName: "A"}))
	c, err := db.GetConversation("c1")
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, "A", c.PeerName)

	c, err = db.GetConversation("missing")
	require.NoError(t, err)
	assert.Nil(t, c)
}

func TestRecordActivityAndResetUnread(t *testing.T) {
	db := testDB(t)

	require.NoError(t, db.RecordActivity("c1", "hey", time.UnixMilli(1000), true))
	require.NoError(t, db.RecordActivity("c1", "again", time.UnixMilli(2000), true))
	require.NoError(t, db.RecordActivity("c1", "mine", time.UnixMilli(3000), false))

	c, err := db.GetConversation("c1")
	require.NoError(t, err)
	assert.Equal(t, 2, c.UnreadCount)
	assert.Equal(t, "mine", c.LastPreview)

	require.NoError(t, db.ResetUnread("c1"))
	c, err = db.GetConversation("c1")
	require.NoError(t, err)
	assert.Equal(t, 0, c.UnreadCount)
}

func TestMessageUpsertIdempotent(t *testing.T) {
	db := testDB(t)

	msg := serverMsg("m1", "c1", "hello", model.StatusSent, 1000)
	require.NoError(t, db.UpsertMessage(msg))

	msg.Content = "hello edited"
	require.NoError(t, db.UpsertMessage(msg))

	msgs, err := db.ListMessages("c1", time.Time{}, 100)
	require.NoError(t, err)
	require.Len(t, msgs, 1, "idempotent upsert failed")
	assert.Equal(t, "hello edited", msgs[0].Content)
}

func TestUpsertNeverRegressesStatus(t *testing.T) {
	db := testDB(t)

	require.NoError(t, db.UpsertMessage(serverMsg("m1", "c1", "x", model.StatusRead, 1000)))
	require.NoError(t, db.UpsertMessage(serverMsg("m1", "c1", "x", model.StatusDelivered, 1000)))

	m, err := db.GetMessage("m1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusRead, m.Status)
}

func TestUpdateMessageStatusMonotonic(t *testing.T) {
	db := testDB(t)
	require.NoError(t, db.UpsertMessage(serverMsg("m1", "c1", "x", model.StatusSent, 1000)))

	changed, err := db.UpdateMessageStatus("m1", model.StatusRead)
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = db.UpdateMessageStatus("m1", model.StatusDelivered)
	require.NoError(t, err)
	assert.False(t, changed, "delivered after read must be ignored")

	changed, err = db.UpdateMessageStatus("m1", model.StatusRead)
	require.NoError(t, err)
	assert.False(t, changed, "duplicate read is a no-op")

	changed, err = db.UpdateMessageStatus("m1", model.StatusFailed)
	require.NoError(t, err)
	assert.False(t, changed, "confirmed messages cannot fail")

	m, err := db.GetMessage("m1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusRead, m.Status)
}

func TestFailAndResetPending(t *testing.T) {
	db := testDB(t)
	out := model.NewOutgoing("c1", "alice", "bob", "hi", model.TypeText)
	require.NoError(t, db.UpsertMessage(out))

	changed, err := db.UpdateMessageStatus(out.ID, model.StatusFailed)
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = db.UpdateMessageStatus(out.ID, model.StatusSent)
	require.NoError(t, err)
	assert.False(t, changed, "failed is terminal until reset")

	changed, err = db.ResetFailed(out.ID)
	require.NoError(t, err)
	assert.True(t, changed)

	m, err := db.GetMessage(out.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, m.Status)
}

func TestConfirmMessageReplacesTempID(t *testing.T) {
	db := testDB(t)
	out := model.NewOutgoing("c1", "alice", "bob", "hi", model.TypeText)
	require.NoError(t, db.UpsertMessage(out))

	ts := time.UnixMilli(5000).UTC()
	require.NoError(t, db.ConfirmMessage(out.ClientID, "srv-1", ts))

	gone, err := db.GetMessage(out.ID)
	require.NoError(t, err)
	assert.Nil(t, gone)

	m, err := db.GetMessageByClientID(out.ClientID)
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, "srv-1", m.ID)
	assert.Equal(t, model.StatusSent, m.Status)
	assert.True(t, m.ServerTimestamp.Equal(ts))

	// Confirming twice is harmless.
	require.NoError(t, db.ConfirmMessage(out.ClientID, "srv-1", ts))
	msgs, err := db.ListMessages("c1", time.Time{}, 10)
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
}

func TestConfirmMessageWhenServerCopyExists(t *testing.T) {
	db := testDB(t)
	out := model.NewOutgoing("c1", "alice", "bob", "hi", model.TypeText)
	require.NoError(t, db.UpsertMessage(out))

	// The server copy arrived through sync before the ack.
	srv := serverMsg("srv-1", "c1", "hi", model.StatusDelivered, 5000)
	require.NoError(t, db.UpsertMessage(srv))

	require.NoError(t, db.ConfirmMessage(out.ClientID, "srv-1", srv.ServerTimestamp))

	msgs, err := db.ListMessages("c1", time.Time{}, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "srv-1", msgs[0].ID)
	assert.Equal(t, out.ClientID, msgs[0].ClientID)
	assert.Equal(t, model.StatusDelivered, msgs[0].Status)
}

func TestListMessagesPagination(t *testing.T) {
	db := testDB(t)
	for i := int64(1); i <= 5; i++ {
		require.NoError(t, db.UpsertMessage(serverMsg("m"+string(rune('0'+i)), "c1", "x", model.StatusSent, i*1000)))
	}

	page, err := db.ListMessages("c1", time.Time{}, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "m5", page[0].ID)
	assert.Equal(t, "m4", page[1].ID)

	page, err = db.ListMessages("c1", page[1].SortTime(), 10)
	require.NoError(t, err)
	require.Len(t, page, 3)
	assert.Equal(t, "m3", page[0].ID)
}

func TestUnreadInbound(t *testing.T) {
	db := testDB(t)
	require.NoError(t, db.UpsertMessage(serverMsg("m1", "c1", "a", model.StatusDelivered, 1000)))
	require.NoError(t, db.UpsertMessage(serverMsg("m2", "c1", "b", model.StatusRead, 2000)))
	mine := serverMsg("m3", "c1", "c", model.StatusSent, 3000)
	mine.SenderID = "alice"
	require.NoError(t, db.UpsertMessage(mine))

	ids, err := db.UnreadInbound("c1", "alice")
	require.NoError(t, err)
	assert.Equal(t, []string{"m1"}, ids)
}

func TestConflictRoundTrip(t *testing.T) {
	db := testDB(t)
	c := model.Conflict{
		MessageID:      "m1",
		ConversationID: "c1",
		Local:          *serverMsg("m1", "c1", "local", model.StatusSent, 1000),
		Server:         *serverMsg("m1", "c1", "server", model.StatusDelivered, 1000),
		Fields:         []string{"content"},
		DetectedAt:     time.UnixMilli(9000).UTC(),
	}
	require.NoError(t, db.SaveConflict(c))
	c.Server.Content = "server v2"
	require.NoError(t, db.SaveConflict(c))

	got, err := db.ListConflicts("c1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "local", got[0].Local.Content)
	assert.Equal(t, "server v2", got[0].Server.Content)
	assert.Equal(t, []string{"content"}, got[0].Fields)

	all, err := db.ListConflicts("")
	require.NoError(t, err)
	assert.Len(t, all, 1)

	require.NoError(t, db.DeleteConflict("m1"))
	got, err = db.ListConflicts("c1")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestOutboxPersistence(t *testing.T) {
	db := testDB(t)
	now := time.UnixMilli(1000).UTC()
	require.NoError(t, db.AppendOutbox(OutboxRecord{Seq: 2, Kind: "typing", Frame: []byte(`{"b":1}`), EnqueuedAt: now}))
	require.NoError(t, db.AppendOutbox(OutboxRecord{Seq: 1, Kind: "message", Frame: []byte(`{"a":1}`), EnqueuedAt: now}))

	records, err := db.LoadOutbox()
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, uint64(1), records[0].Seq)
	assert.Equal(t, "message", records[0].Kind)

	require.NoError(t, db.RemoveOutbox(1))
	records, err = db.LoadOutbox()
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, uint64(2), records[0].Seq)
}

func TestDeleteConversation(t *testing.T) {
	db := testDB(t)
	require.NoError(t, db.UpsertConversation(&model.Conversation{ID: "c1"}))
	require.NoError(t, db.UpsertMessage(serverMsg("m1", "c1", "x", model.StatusSent, 1000)))
	require.NoError(t, db.DeleteConversation("c1"))

	c, err := db.GetConversation("c1")
	require.NoError(t, err)
	assert.Nil(t, c)
	m, err := db.GetMessage("m1")
	require.NoError(t, err)
	assert.Nil(t, m)
}

func TestSearchMessages(t *testing.T) {
	db := testDB(t)
	require.NoError(t, db.UpsertMessage(serverMsg("m1", "c1", "dinner on friday?", model.StatusSent, 1000)))
	require.NoError(t, db.UpsertMessage(serverMsg("m2", "c2", "friday works", model.StatusSent, 2000)))
	require.NoError(t, db.UpsertMessage(serverMsg("m3", "c1", "see you", model.StatusSent, 3000)))

	results, err := db.SearchMessages("friday", "", 10)
	require.NoError(t, err)
	assert.Len(t, results, 2)

	results, err = db.SearchMessages("friday", "c1", 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "m1", results[0].Message.ID)
	assert.Contains(t, results[0].Snippet, "<<friday>>")
}
