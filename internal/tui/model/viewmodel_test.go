package model

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/emberapp/ember/internal/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDaemon struct {
	mu        sync.Mutex
	convs     []api.Conversation
	msgs      map[string][]api.Message
	typing    map[string][]string
	conflicts []api.Conflict
	calls     []string
	sent      []api.SendMessageRequest
	sendErr   error
}

func newFakeDaemon() *fakeDaemon {
	return &fakeDaemon{
		convs: []api.Conversation{
			{ID: "c1", PeerID: "bob", PeerName: "Bob", UnreadCount: 2},
			{ID: "c2", PeerID: "carol", PeerName: "Carol"},
		},
		msgs: map[string][]api.Message{
			"c1": {
				{ID: "m2", ConversationID: "c1", SenderID: "alice", Content: "dinner?", Status: "failed"},
				{ID: "m1", ConversationID: "c1", SenderID: "bob", Content: "hey", Status: "read"},
			},
		},
		typing: map[string][]string{"c1": {"bob"}},
	}
}

func (f *fakeDaemon) record(call string) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
}

func (f *fakeDaemon) Status(context.Context) (*api.SessionStatus, error) {
	return &api.SessionStatus{Session: "main", State: "connected"}, nil
}
func (f *fakeDaemon) Connect(context.Context) (*api.Ack, error) {
	f.record("connect")
	return &api.Ack{OK: true}, nil
}
func (f *fakeDaemon) Disconnect(context.Context) (*api.Ack, error) {
	f.record("disconnect")
	return &api.Ack{OK: true}, nil
}
func (f *fakeDaemon) Stats(context.Context) (*api.Stats, error) {
	return &api.Stats{Conversations: 2, Synced: 2}, nil
}
func (f *fakeDaemon) SyncConversation(_ context.Context, id string, force bool) (*api.Ack, error) {
	if force {
		f.record("sync!:" + id)
	} else {
		f.record("sync:" + id)
	}
	return &api.Ack{OK: true}, nil
}
func (f *fakeDaemon) SyncAll(context.Context) (*api.Ack, error) {
	f.record("sync-all")
	return &api.Ack{OK: true}, nil
}
func (f *fakeDaemon) Conflicts(context.Context, string) ([]api.Conflict, error) {
	return f.conflicts, nil
}
func (f *fakeDaemon) ResolveConflict(_ context.Context, id, res string) (*api.Ack, error) {
	f.record("resolve:" + id + ":" + res)
	return &api.Ack{OK: true}, nil
}
func (f *fakeDaemon) Conversations(context.Context, int, int) (*api.ConversationList, error) {
	return &api.ConversationList{Conversations: f.convs}, nil
}
func (f *fakeDaemon) Messages(_ context.Context, id string, _ time.Time, _ int) (*api.MessageList, error) {
	return &api.MessageList{Messages: f.msgs[id]}, nil
}
func (f *fakeDaemon) Search(_ context.Context, q, _ string, _ int) (*api.SearchResults, error) {
	return &api.SearchResults{Results: []api.SearchResult{{Snippet: "[" + q + "]"}}}, nil
}
func (f *fakeDaemon) Send(_ context.Context, conv, to, content string) (*api.Message, error) {
	f.mu.Lock()
	f.sent = append(f.sent, api.SendMessageRequest{ConversationID: conv, To: to, Content: content})
	f.mu.Unlock()
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	return &api.Message{ID: "tmp-1", ConversationID: conv, Content: content, Status: "pending", Temporary: true}, nil
}
func (f *fakeDaemon) Retry(_ context.Context, id string) (*api.Message, error) {
	f.record("retry:" + id)
	return &api.Message{ID: id, Status: "pending"}, nil
}
func (f *fakeDaemon) MarkRead(_ context.Context, id string, _ []string) (int, error) {
	f.record("read:" + id)
	return 1, nil
}
func (f *fakeDaemon) NotifyTyping(_ context.Context, id string, stopped bool) error {
	if stopped {
		f.record("stop:" + id)
	} else {
		f.record("typing:" + id)
	}
	return nil
}
func (f *fakeDaemon) TypingUsers(_ context.Context, id string) ([]string, error) {
	return f.typing[id], nil
}

func TestOpenLoadsThreadAndMarksRead(t *testing.T) {
	d := newFakeDaemon()
	vm := NewViewModel(d)
	ctx := context.Background()

	require.NoError(t, vm.LoadConversations(ctx))
	require.NoError(t, vm.Open(ctx, "c1"))

	assert.Equal(t, "c1", vm.Active())
	assert.Len(t, vm.GetMessages(), 2)
	assert.Equal(t, []string{"bob"}, vm.GetTyping("c1"))
	assert.Contains(t, d.calls, "read:c1")

	conv, ok := vm.ActiveConversation()
	require.True(t, ok)
	assert.Equal(t, "Bob", conv.PeerName)

	vm.Close(ctx)
	assert.Empty(t, vm.Active())
	assert.Contains(t, d.calls, "stop:c1")
}

func TestSendTargetsPeerAndPrepends(t *testing.T) {
	d := newFakeDaemon()
	vm := NewViewModel(d)
	ctx := context.Background()

	_, err := vm.Send(ctx, "hello")
	assert.ErrorIs(t, err, ErrNoConversation)

	require.NoError(t, vm.LoadConversations(ctx))
	require.NoError(t, vm.Open(ctx, "c1"))

	msg, err := vm.Send(ctx, "see you at 8")
	require.NoError(t, err)
	assert.True(t, msg.Temporary)
	require.Len(t, d.sent, 1)
	assert.Equal(t, "bob", d.sent[0].To)
	assert.Equal(t, "tmp-1", vm.GetMessages()[0].ID)
}

func TestSendErrorLeavesThreadUntouched(t *testing.T) {
	d := newFakeDaemon()
	d.sendErr = errors.New("daemon gone")
	vm := NewViewModel(d)
	ctx := context.Background()
	require.NoError(t, vm.LoadConversations(ctx))
	require.NoError(t, vm.Open(ctx, "c1"))

	_, err := vm.Send(ctx, "x")
	require.Error(t, err)
	assert.Len(t, vm.GetMessages(), 2)
}

func TestRetryLastFailed(t *testing.T) {
	d := newFakeDaemon()
	vm := NewViewModel(d)
	ctx := context.Background()
	require.NoError(t, vm.Open(ctx, "c1"))

	msg, err := vm.RetryLastFailed(ctx)
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Contains(t, d.calls, "retry:m2")

	require.NoError(t, vm.Open(ctx, "c2"))
	msg, err = vm.RetryLastFailed(ctx)
	require.NoError(t, err)
	assert.Nil(t, msg)
}

func TestTypingReportsStopOnEmptyComposer(t *testing.T) {
	d := newFakeDaemon()
	vm := NewViewModel(d)
	ctx := context.Background()

	require.NoError(t, vm.Typing(ctx, "ignored without conversation"))
	require.NoError(t, vm.Open(ctx, "c2"))
	require.NoError(t, vm.Typing(ctx, "h"))
	require.NoError(t, vm.Typing(ctx, "  "))

	assert.Equal(t, []string{"read:c2", "typing:c2", "stop:c2"}, d.calls)
}

func TestResolveDropsConflict(t *testing.T) {
	d := newFakeDaemon()
	d.conflicts = []api.Conflict{{MessageID: "m1", ConversationID: "c1"}, {MessageID: "m9", ConversationID: "c2"}}
	vm := NewViewModel(d)
	ctx := context.Background()

	require.NoError(t, vm.LoadConflicts(ctx))
	require.NoError(t, vm.Resolve(ctx, "m1", "keep_server"))

	left := vm.GetConflicts()
	require.Len(t, left, 1)
	assert.Equal(t, "m9", left[0].MessageID)
	assert.Contains(t, d.calls, "resolve:m1:keep_server")
}

func TestFindConversation(t *testing.T) {
	vm := NewViewModel(newFakeDaemon())
	require.NoError(t, vm.LoadConversations(context.Background()))

	c, ok := vm.FindConversation("car")
	require.True(t, ok)
	assert.Equal(t, "c2", c.ID)

	_, ok = vm.FindConversation("dave")
	assert.False(t, ok)
}

func TestApply(t *testing.T) {
	vm := NewViewModel(newFakeDaemon())
	require.NoError(t, vm.Open(context.Background(), "c1"))

	tests := []struct {
		name string
		evt  api.Event
		want Dirty
		not  Dirty
	}{
		{
			name: "connection change",
			evt:  api.Event{Kind: "connection.status_changed"},
			want: DirtyStatus,
		},
		{
			name: "status change in open thread",
			evt:  api.Event{Kind: "message.status_changed", Payload: map[string]any{"ConversationID": "c1"}},
			want: DirtyConversations | DirtyMessages,
		},
		{
			name: "message in other thread",
			evt:  api.Event{Kind: "sync.message_received", Payload: map[string]any{"conversation_id": "c2"}},
			want: DirtyConversations,
			not:  DirtyMessages,
		},
		{
			name: "conflict",
			evt:  api.Event{Kind: "sync.conflict_detected", Payload: map[string]any{"ConversationID": "c1"}},
			want: DirtyConflicts | DirtyMessages,
		},
		{
			name: "sync finished",
			evt:  api.Event{Kind: "sync.all_completed"},
			want: DirtyStatus | DirtyConversations,
		},
		{
			name: "unknown",
			evt:  api.Event{Kind: "other"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := vm.Apply(tt.evt)
			if got&tt.want != tt.want {
				t.Errorf("Apply() = %b, want at least %b", got, tt.want)
			}
			if tt.not != 0 && got.Has(tt.not) {
				t.Errorf("Apply() = %b, must not include %b", got, tt.not)
			}
			if tt.want == 0 && got != 0 {
				t.Errorf("Apply() = %b, want 0", got)
			}
		})
	}
}

func TestApplyTypingUpdatesCache(t *testing.T) {
	vm := NewViewModel(newFakeDaemon())

	d := vm.Apply(api.Event{Kind: "typing.changed", Payload: map[string]any{
		"ConversationID": "c2",
		"Users":          []any{"carol"},
	}})
	assert.True(t, d.Has(DirtyTyping))
	assert.Equal(t, []string{"carol"}, vm.GetTyping("c2"))

	vm.Apply(api.Event{Kind: "typing.changed", Payload: map[string]any{"ConversationID": "c2", "Users": []any{}}})
	assert.Empty(t, vm.GetTyping("c2"))
}
