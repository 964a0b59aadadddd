package api

import (
	"context"
	"errors"
	"net"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/emberapp/ember/internal/bus"
	"github.com/emberapp/ember/internal/model"
	"github.com/emberapp/ember/internal/status"
	"github.com/emberapp/ember/internal/store"
	intsync "github.com/emberapp/ember/internal/sync"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	grpcstatus "google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

type fakeConn struct {
	mu    sync.Mutex
	state status.State
	calls []string
}

func (c *fakeConn) State() status.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *fakeConn) Since() time.Time { return time.Unix(1700000000, 0) }
func (c *fakeConn) QueueDepth() int  { return 3 }

func (c *fakeConn) Connect(_ context.Context, sessionID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, "connect:"+sessionID)
	c.state = status.Connected
	return nil
}

func (c *fakeConn) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, "disconnect")
	c.state = status.Disconnected
}

type fakeSync struct {
	mu        sync.Mutex
	synced    []string
	syncErr   error
	allErr    error
	conflicts []model.Conflict
	resolved  map[string]model.Resolution
	sendErr   error
	typing    map[string][]string
	events    []string
}

func (f *fakeSync) record(s string) {
	f.mu.Lock()
	f.events = append(f.events, s)
	f.mu.Unlock()
}

func (f *fakeSync) OnForeground(context.Context) error { f.record("foreground"); return nil }

func (f *fakeSync) Stats() (intsync.Stats, error) {
	return intsync.Stats{Conversations: 3, Synced: 2, Errored: 1, LastLatency: 250 * time.Millisecond}, nil
}

func (f *fakeSync) SyncConversation(_ context.Context, id string) error {
	f.record("sync:" + id)
	return f.syncErr
}

func (f *fakeSync) ForceSyncConversation(_ context.Context, id string) error {
	f.record("force:" + id)
	return f.syncErr
}

func (f *fakeSync) SyncAllConversations(context.Context) error { return f.allErr }

func (f *fakeSync) Conflicts(string) []model.Conflict { return f.conflicts }

func (f *fakeSync) ResolveConflict(_ context.Context, id string, res model.Resolution) error {
	if _, ok := f.resolved[id]; ok {
		return model.ErrConflictNotFound
	}
	f.resolved[id] = res
	return nil
}

func (f *fakeSync) RemoveConversation(id string) error { f.record("remove:" + id); return nil }

func (f *fakeSync) SendMessage(_ context.Context, conv, to, content string, typ model.MessageType) (*model.Message, error) {
	msg := model.NewOutgoing(conv, "alice", to, content, model.TypeText)
	if f.sendErr != nil {
		return msg, f.sendErr
	}
	return msg, nil
}

func (f *fakeSync) RetryMessage(_ context.Context, id string) (*model.Message, error) {
	return nil, model.ErrMessageNotFound
}

func (f *fakeSync) MarkRead(_ context.Context, conv string, ids []string) (int, error) {
	return len(ids), nil
}

func (f *fakeSync) NotifyTyping(_ context.Context, conv string)        { f.record("typing:" + conv) }
func (f *fakeSync) NotifyStoppedTyping(_ context.Context, conv string) { f.record("stopped:" + conv) }
func (f *fakeSync) TypingUsers(conv string) []string                   { return f.typing[conv] }

type harness struct {
	cc   *grpc.ClientConn
	db   *store.DB
	conn *fakeConn
	sync *fakeSync
	bus  *bus.Bus
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	_, err = db.Migrate()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	h := &harness{
		db:   db,
		conn: &fakeConn{state: status.Disconnected},
		sync: &fakeSync{resolved: map[string]model.Resolution{}, typing: map[string][]string{}},
		bus:  bus.New(),
	}

	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	srv.RegisterService(&SessionServiceDesc, NewSessionService("test", "alice", h.conn, h.sync))
	srv.RegisterService(&SyncServiceDesc, NewSyncService(h.sync))
	srv.RegisterService(&ConversationServiceDesc, NewConversationService(db, h.sync))
	srv.RegisterService(&MessageServiceDesc, NewMessageService(db, h.sync, h.sync))
	srv.RegisterService(&EventServiceDesc, NewEventService("test", h.bus))
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	cc, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = cc.Close() })
	h.cc = cc
	return h
}

func code(err error) codes.Code { return grpcstatus.Code(err) }

func TestEncodeDecodeKeepsTimesAndNesting(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	in := Conflict{
		MessageID: "srv-1",
		Fields:    []string{"content"},
		Local:     Message{ID: "srv-1", Content: "a", CreatedAt: at},
		Server:    Message{ID: "srv-1", Content: "b", CreatedAt: at},
	}
	s, err := Encode(in)
	require.NoError(t, err)

	var out Conflict
	require.NoError(t, Decode(s, &out))
	assert.Equal(t, "b", out.Server.Content)
	assert.True(t, out.Local.CreatedAt.Equal(at))
	assert.Equal(t, []string{"content"}, out.Fields)
}

func TestSessionService(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	st, err := Invoke[Empty, SessionStatus](ctx, h.cc, SessionServiceName, "GetStatus", &Empty{})
	require.NoError(t, err)
	assert.Equal(t, "test", st.Session)
	assert.Equal(t, "alice", st.UserID)
	assert.Equal(t, "disconnected", st.State)
	assert.Equal(t, 3, st.QueueDepth)

	ack, err := Invoke[Empty, Ack](ctx, h.cc, SessionServiceName, "Connect", &Empty{})
	require.NoError(t, err)
	assert.True(t, ack.OK)

	ack, err = Invoke[Empty, Ack](ctx, h.cc, SessionServiceName, "Connect", &Empty{})
	require.NoError(t, err)
	assert.Equal(t, "already connected", ack.Message)

	_, err = Invoke[Empty, Ack](ctx, h.cc, SessionServiceName, "Disconnect", &Empty{})
	require.NoError(t, err)
	assert.Equal(t, []string{"connect:test", "disconnect"}, h.conn.calls)

	_, err = Invoke[Empty, Ack](ctx, h.cc, SessionServiceName, "Foreground", &Empty{})
	require.NoError(t, err)
	assert.Contains(t, h.sync.events, "foreground")
}

func TestSyncService(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	stats, err := Invoke[Empty, Stats](ctx, h.cc, SyncServiceName, "GetStats", &Empty{})
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Conversations)
	assert.Equal(t, int64(250), stats.LastLatencyMs)

	_, err = Invoke[SyncConversationRequest, Ack](ctx, h.cc, SyncServiceName, "SyncConversation",
		&SyncConversationRequest{ConversationID: "c1"})
	require.NoError(t, err)
	_, err = Invoke[SyncConversationRequest, Ack](ctx, h.cc, SyncServiceName, "SyncConversation",
		&SyncConversationRequest{ConversationID: "c1", Force: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"sync:c1", "force:c1"}, h.sync.events)

	_, err = Invoke[SyncConversationRequest, Ack](ctx, h.cc, SyncServiceName, "SyncConversation", &SyncConversationRequest{})
	assert.Equal(t, codes.InvalidArgument, code(err))

	h.sync.syncErr = &model.SyncError{ConversationID: "c2", Err: errors.New("timeout")}
	_, err = Invoke[SyncConversationRequest, Ack](ctx, h.cc, SyncServiceName, "SyncConversation",
		&SyncConversationRequest{ConversationID: "c2"})
	assert.Equal(t, codes.Unavailable, code(err))

	h.sync.allErr = multierr.Combine(errors.New("a"), errors.New("b"))
	ack, err := Invoke[Empty, Ack](ctx, h.cc, SyncServiceName, "SyncAll", &Empty{})
	require.NoError(t, err)
	assert.False(t, ack.OK)
	assert.Contains(t, ack.Message, "2 failed")
}

func TestConflictResolutionOverRPC(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.sync.conflicts = []model.Conflict{{
		MessageID:      "srv-1",
		ConversationID: "c1",
		Fields:         []string{"content"},
		Local:          model.Message{ID: "srv-1", Content: "mine"},
		Server:         model.Message{ID: "srv-1", Content: "theirs"},
	}}

	list, err := Invoke[ListConflictsRequest, ConflictList](ctx, h.cc, SyncServiceName, "ListConflicts", &ListConflictsRequest{})
	require.NoError(t, err)
	require.Len(t, list.Conflicts, 1)
	assert.Equal(t, "theirs", list.Conflicts[0].Server.Content)

	_, err = Invoke[ResolveConflictRequest, Ack](ctx, h.cc, SyncServiceName, "ResolveConflict",
		&ResolveConflictRequest{MessageID: "srv-1", Resolution: "merge"})
	assert.Equal(t, codes.InvalidArgument, code(err))

	_, err = Invoke[ResolveConflictRequest, Ack](ctx, h.cc, SyncServiceName, "ResolveConflict",
		&ResolveConflictRequest{MessageID: "srv-1", Resolution: string(model.KeepServer)})
	require.NoError(t, err)
	assert.Equal(t, model.KeepServer, h.sync.resolved["srv-1"])

	_, err = Invoke[ResolveConflictRequest, Ack](ctx, h.cc, SyncServiceName, "ResolveConflict",
		&ResolveConflictRequest{MessageID: "srv-1", Resolution: string(model.KeepLocal)})
	assert.Equal(t, codes.NotFound, code(err))
}

func TestConversationAndMessageQueries(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.db.UpsertConversation(&model.Conversation{ID: "c1", PeerID: "bob", PeerName: "Bob"}))
	for i, body := range []string{"first date idea", "coffee tomorrow?"} {
		ts := time.UnixMilli(int64(1000 * (i + 1))).UTC()
		require.NoError(t, h.db.UpsertMessage(&model.Message{
			ID: "srv-" + string(rune('1'+i)), ConversationID: "c1", SenderID: "bob", RecipientID: "alice",
			Content: body, Type: model.TypeText, Status: model.StatusDelivered, CreatedAt: ts, ServerTimestamp: ts,
		}))
	}

	convs, err := Invoke[ListConversationsRequest, ConversationList](ctx, h.cc, ConversationServiceName, "ListConversations", &ListConversationsRequest{})
	require.NoError(t, err)
	require.Len(t, convs.Conversations, 1)
	assert.Equal(t, "Bob", convs.Conversations[0].PeerName)

	_, err = Invoke[ConversationRequest, Conversation](ctx, h.cc, ConversationServiceName, "GetConversation", &ConversationRequest{ConversationID: "nope"})
	assert.Equal(t, codes.NotFound, code(err))

	msgs, err := Invoke[ListMessagesRequest, MessageList](ctx, h.cc, MessageServiceName, "ListMessages",
		&ListMessagesRequest{ConversationID: "c1", Limit: 1})
	require.NoError(t, err)
	require.Len(t, msgs.Messages, 1)
	assert.Equal(t, "coffee tomorrow?", msgs.Messages[0].Content)
	assert.True(t, msgs.HasMore)

	results, err := Invoke[SearchRequest, SearchResults](ctx, h.cc, MessageServiceName, "Search", &SearchRequest{Query: "coffee"})
	require.NoError(t, err)
	require.Len(t, results.Results, 1)
	assert.Equal(t, "srv-2", results.Results[0].Message.ID)

	_, err = Invoke[SearchRequest, SearchResults](ctx, h.cc, MessageServiceName, "Search", &SearchRequest{Query: "  "})
	assert.Equal(t, codes.InvalidArgument, code(err))

	_, err = Invoke[ConversationRequest, Ack](ctx, h.cc, ConversationServiceName, "RemoveConversation", &ConversationRequest{ConversationID: "c1"})
	require.NoError(t, err)
	assert.Contains(t, h.sync.events, "remove:c1")
}

func TestMessageCommands(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	msg, err := Invoke[SendMessageRequest, Message](ctx, h.cc, MessageServiceName, "SendMessage",
		&SendMessageRequest{ConversationID: "c1", To: "bob", Content: "hey"})
	require.NoError(t, err)
	assert.True(t, msg.Temporary)
	assert.Equal(t, "pending", msg.Status)

	h.sync.sendErr = &model.SendFailure{ClientID: "x", Reason: "offline queue full"}
	msg, err = Invoke[SendMessageRequest, Message](ctx, h.cc, MessageServiceName, "SendMessage",
		&SendMessageRequest{ConversationID: "c1", To: "bob", Content: "hey again"})
	require.NoError(t, err)
	assert.Equal(t, "failed", msg.Status)

	_, err = Invoke[SendMessageRequest, Message](ctx, h.cc, MessageServiceName, "SendMessage",
		&SendMessageRequest{ConversationID: "c1", To: "bob"})
	assert.Equal(t, codes.InvalidArgument, code(err))

	_, err = Invoke[MessageRequest, Message](ctx, h.cc, MessageServiceName, "RetryMessage", &MessageRequest{MessageID: "nope"})
	assert.Equal(t, codes.NotFound, code(err))

	read, err := Invoke[MarkReadRequest, MarkReadResponse](ctx, h.cc, MessageServiceName, "MarkRead",
		&MarkReadRequest{ConversationID: "c1", MessageIDs: []string{"a", "b"}})
	require.NoError(t, err)
	assert.Equal(t, 2, read.Marked)

	_, err = Invoke[NotifyTypingRequest, Ack](ctx, h.cc, MessageServiceName, "NotifyTyping", &NotifyTypingRequest{ConversationID: "c1"})
	require.NoError(t, err)
	_, err = Invoke[NotifyTypingRequest, Ack](ctx, h.cc, MessageServiceName, "NotifyTyping", &NotifyTypingRequest{ConversationID: "c1", Stopped: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"typing:c1", "stopped:c1"}, h.sync.events)

	h.sync.typing["c1"] = []string{"bob"}
	users, err := Invoke[ConversationRequest, TypingUsers](ctx, h.cc, MessageServiceName, "TypingUsers", &ConversationRequest{ConversationID: "c1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"bob"}, users.Users)
}

func TestWatchRelaysBusEvents(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan Event, 16)
	go func() {
		_ = WatchEvents(ctx, h.cc, "sync.", func(e Event) { got <- e })
	}()

	// The subscription is registered asynchronously; keep publishing until
	// the watcher sees something.
	var evt Event
	require.Eventually(t, func() bool {
		h.bus.Emit("typing.changed", map[string]any{"users": []string{"bob"}})
		h.bus.Emit("sync.error", &model.SyncError{ConversationID: "c1", Err: errors.New("boom")})
		select {
		case evt = <-got:
			return true
		default:
			return false
		}
	}, 2*time.Second, 20*time.Millisecond)

	assert.Equal(t, "sync.error", evt.Kind)
	assert.Equal(t, "test", evt.Session)
	assert.NotEmpty(t, evt.ID)
	payload, ok := evt.Payload.(map[string]any)
	require.True(t, ok)
	assert.Contains(t, payload["error"], "boom")
}
