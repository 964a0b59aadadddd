package outbox

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/emberapp/ember/internal/model"
	"github.com/emberapp/ember/internal/store"
	"github.com/emberapp/ember/internal/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newQueue(t *testing.T, opts Options) *Queue {
	t.Helper()
	q, err := New(opts, zap.NewNop())
	require.NoError(t, err)
	return q
}

func msgEvent(conv, body string) wire.Outbound {
	return wire.NewMessage(model.NewOutgoing(conv, "alice", "bob", body, model.TypeText))
}

// recorder collects sent events and can fail on the nth call.
type recorder struct {
	sent   []wire.Outbound
	failAt int
}

func (r *recorder) send(_ context.Context, evt wire.Outbound) error {
	if r.failAt > 0 && len(r.sent)+1 == r.failAt {
		r.failAt = 0
		return errors.New("socket closed")
	}
	r.sent = append(r.sent, evt)
	return nil
}

func contents(evts []wire.Outbound) []string {
	var out []string
	for _, e := range evts {
		if p, ok := e.Payload.(wire.MessagePayload); ok {
			out = append(out, p.Content)
		} else {
			out = append(out, string(e.Kind))
		}
	}
	return out
}

func TestFlushPreservesOrder(t *testing.T) {
	q := newQueue(t, Options{MaxSize: 10})
	require.NoError(t, q.Enqueue(msgEvent("c1", "one")))
	require.NoError(t, q.Enqueue(wire.NewReadReceipt("m1", "c1")))
	require.NoError(t, q.Enqueue(msgEvent("c1", "two")))

	rec := &recorder{}
	n, err := q.Flush(context.Background(), rec.send)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, []string{"one", "read_receipt", "two"}, contents(rec.sent))
	assert.Equal(t, 0, q.Len())
}

func TestFlushHaltsOnFailure(t *testing.T) {
	q := newQueue(t, Options{MaxSize: 10})
	for _, body := range []string{"a", "b", "c"} {
		require.NoError(t, q.Enqueue(msgEvent("c1", body)))
	}

	rec := &recorder{failAt: 2}
	n, err := q.Flush(context.Background(), rec.send)
	require.Error(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 2, q.Len(), "failed event and the rest stay queued")

	n, err = q.Flush(context.Background(), rec.send)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"a", "b", "c"}, contents(rec.sent))
}

func TestFlushHonoursContext(t *testing.T) {
	q := newQueue(t, Options{MaxSize: 10})
	require.NoError(t, q.Enqueue(msgEvent("c1", "a")))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := q.Flush(ctx, (&recorder{}).send)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, q.Len())
}

func TestDuplicateMessageIsIgnored(t *testing.T) {
	q := newQueue(t, Options{MaxSize: 10})
	evt := msgEvent("c1", "hi")
	require.NoError(t, q.Enqueue(evt))
	require.NoError(t, q.Enqueue(evt))
	assert.Equal(t, 1, q.Len())
}

func TestTypingSupersedesPreviousTyping(t *testing.T) {
	q := newQueue(t, Options{MaxSize: 10})
	require.NoError(t, q.Enqueue(wire.NewTyping("c1", true)))
	require.NoError(t, q.Enqueue(wire.NewTyping("c2", true)))
	require.NoError(t, q.Enqueue(wire.NewTyping("c1", false)))

	snap := q.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "c2", snap[0].Event.ConversationID())
	assert.Equal(t, wire.Typing{ConversationID: "c1", IsTyping: false}, snap[1].Event.Payload)
}

func TestPingIsNeverQueued(t *testing.T) {
	q := newQueue(t, Options{MaxSize: 10})
	require.NoError(t, q.Enqueue(wire.NewPing("r1")))
	assert.Equal(t, 0, q.Len())
}

func TestCapacityEvictsLowestPriorityFirst(t *testing.T) {
	q := newQueue(t, Options{MaxSize: 3})
	drops, unsub := q.Subscribe(EventDropped, 10)
	defer unsub()

	require.NoError(t, q.Enqueue(wire.NewReadReceipt("m1", "c1")))
	require.NoError(t, q.Enqueue(wire.NewTyping("c1", true)))
	require.NoError(t, q.Enqueue(msgEvent("c1", "a")))

	// Full: the typing event goes before the receipt.
	require.NoError(t, q.Enqueue(msgEvent("c1", "b")))
	evt := <-drops
	assert.Equal(t, DropNotice{Kind: wire.KindTyping, Reason: "evicted"}, evt.Payload)

	// Next to go is the receipt.
	require.NoError(t, q.Enqueue(msgEvent("c1", "c")))
	evt = <-drops
	assert.Equal(t, wire.KindReadReceipt, evt.Payload.(DropNotice).Kind)

	assert.Equal(t, []string{"a", "b", "c"}, contents(eventsOf(q.Snapshot())))
}

func TestCapacityNeverDropsMessages(t *testing.T) {
	q := newQueue(t, Options{MaxSize: 2})
	require.NoError(t, q.Enqueue(msgEvent("c1", "a")))
	require.NoError(t, q.Enqueue(msgEvent("c1", "b")))

	err := q.Enqueue(msgEvent("c1", "c"))
	assert.ErrorIs(t, err, ErrQueueFull)

	err = q.Enqueue(wire.NewTyping("c1", true))
	assert.ErrorIs(t, err, ErrDropped)

	assert.Equal(t, []string{"a", "b"}, contents(eventsOf(q.Snapshot())))
}

func TestStaleTypingIsSkippedOnFlush(t *testing.T) {
	q := newQueue(t, Options{MaxSize: 10, EphemeralTTL: time.Second})
	base := time.Now()
	q.now = func() time.Time { return base }
	require.NoError(t, q.Enqueue(wire.NewTyping("c1", true)))
	require.NoError(t, q.Enqueue(msgEvent("c1", "a")))

	q.now = func() time.Time { return base.Add(5 * time.Second) }
	rec := &recorder{}
	n, err := q.Flush(context.Background(), rec.send)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"a"}, contents(rec.sent))
}

func TestPersistersRestoreQueue(t *testing.T) {
	tests := []struct {
		name string
		open func(t *testing.T) Persister
	}{
		{"memory", func(t *testing.T) Persister {
			p := NewMemoryPersister()
			return p
		}},
		{"sqlite", func(t *testing.T) Persister {
			db, err := store.Open(filepath.Join(t.TempDir(), "q.db"))
			require.NoError(t, err)
			_, err = db.Migrate()
			require.NoError(t, err)
			t.Cleanup(func() { _ = db.Close() })
			return NewSQLitePersister(db)
		}},
		{"bolt", func(t *testing.T) Persister {
			p, err := OpenBolt(filepath.Join(t.TempDir(), "queue.bolt"))
			require.NoError(t, err)
			t.Cleanup(func() { _ = p.Close() })
			return p
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := tt.open(t)

			q1 := newQueue(t, Options{MaxSize: 10, Persister: p})
			require.NoError(t, q1.Enqueue(msgEvent("c1", "first")))
			require.NoError(t, q1.Enqueue(wire.NewDeliveryReceipt("m9", "c1")))
			require.NoError(t, q1.Enqueue(msgEvent("c1", "second")))

			// Send the first one, then "restart".
			rec := &recorder{failAt: 2}
			_, err := q1.Flush(context.Background(), rec.send)
			require.Error(t, err)

			q2 := newQueue(t, Options{MaxSize: 10, Persister: p})
			snap := q2.Snapshot()
			require.Len(t, snap, 2)
			assert.Equal(t, wire.KindDeliveryReceipt, snap[0].Event.Kind)
			assert.Equal(t, []string{"delivery_receipt", "second"}, contents(eventsOf(snap)))

			// New entries continue after the restored sequence numbers.
			require.NoError(t, q2.Enqueue(msgEvent("c1", "third")))
			snap = q2.Snapshot()
			assert.Greater(t, snap[2].Seq, snap[1].Seq)
		})
	}
}

func eventsOf(entries []Entry) []wire.Outbound {
	out := make([]wire.Outbound, len(entries))
	for i, e := range entries {
		out[i] = e.Event
	}
	return out
}
