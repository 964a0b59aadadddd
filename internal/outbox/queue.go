// Package outbox buffers outbound realtime events produced while the
// connection is down and replays them in order once it comes back.
package outbox

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/emberapp/ember/internal/bus"
	"github.com/emberapp/ember/internal/metrics"
	"github.com/emberapp/ember/internal/wire"
	"go.uber.org/zap"
)

var (
	// ErrQueueFull is returned when a message send cannot be queued because
	// every slot already holds an event of equal priority.
	ErrQueueFull = errors.New("offline queue full")
	// ErrDropped is returned when a non-critical event was discarded at capacity.
	ErrDropped = errors.New("event dropped: offline queue at capacity")
)

// Event kinds published on the queue's bus.
const (
	EventDropped     = "queue.dropped"
	EventFull        = "queue.full"
	EventFlushed     = "queue.flushed"
	EventFlushHalted = "queue.flush_halted"
)

// Priority decides which events are evicted first when the queue is full.
type Priority int

const (
	PriorityEphemeral Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

// PriorityOf maps a wire kind to its eviction priority.
func PriorityOf(k wire.Kind) Priority {
	switch k {
	case wire.KindMessage:
		return PriorityCritical
	case wire.KindJoinConversation:
		return PriorityHigh
	case wire.KindDeliveryReceipt, wire.KindReadReceipt:
		return PriorityNormal
	}
	return PriorityEphemeral
}

// Entry is a queued outbound event.
type Entry struct {
	Seq        uint64
	Event      wire.Outbound
	EnqueuedAt time.Time
}

// DropNotice is the payload of EventDropped.
type DropNotice struct {
	Kind   wire.Kind
	Reason string
}

// SendFunc transmits one event. A non-nil error halts a flush.
type SendFunc func(ctx context.Context, evt wire.Outbound) error

// Options configures a Queue.
type Options struct {
	MaxSize int
	// EphemeralTTL discards typing events older than this at flush time.
	EphemeralTTL time.Duration
	Persister    Persister
	Metrics      *metrics.Metrics
}

// Queue is an ordered, bounded buffer of outbound events.
type Queue struct {
	mu      sync.Mutex
	entries []Entry
	nextSeq uint64

	flushMu sync.Mutex

	opts   Options
	bus    *bus.Bus
	logger *zap.Logger
	now    func() time.Time
}

// New creates a queue, restoring any entries held by the persister.
func New(opts Options, logger *zap.Logger) (*Queue, error) {
	if opts.MaxSize <= 0 {
		opts.MaxSize = 500
	}
	if opts.Persister == nil {
		opts.Persister = NewMemoryPersister()
	}
	q := &Queue{
		opts:    opts,
		bus:     bus.New(),
		logger:  logger.Named("outbox"),
		now:     time.Now,
		nextSeq: 1,
	}

	records, err := opts.Persister.Load()
	if err != nil {
		return nil, fmt.Errorf("load persisted queue: %w", err)
	}
	for _, r := range records {
		evt, err := wire.DecodeOutbound(r.Frame)
		if err != nil {
			q.logger.Warn("discarding unreadable queued event", zap.Uint64("seq", r.Seq), zap.Error(err))
			_ = opts.Persister.Remove(r.Seq)
			continue
		}
		q.entries = append(q.entries, Entry{Seq: r.Seq, Event: evt, EnqueuedAt: r.EnqueuedAt})
		if r.Seq >= q.nextSeq {
			q.nextSeq = r.Seq + 1
		}
	}
	if len(q.entries) > 0 {
		q.logger.Info("restored offline queue", zap.Int("entries", len(q.entries)))
	}
	opts.Metrics.SetQueueDepth(len(q.entries))
	return q, nil
}

// Subscribe returns queue lifecycle events (queue.*).
func (q *Queue) Subscribe(namespace string, bufSize int) (<-chan bus.Event, func()) {
	return q.bus.Subscribe(namespace, bufSize)
}

// Enqueue appends evt. Pings are never queued. A typing event supersedes any
// queued typing event for the same conversation and a message whose
// idempotency token is already queued is ignored. At capacity the oldest event
// of the lowest priority below evt's is evicted.
func (q *Queue) Enqueue(evt wire.Outbound) error {
	if evt.Kind == wire.KindPing {
		return nil
	}
	frame, err := wire.Encode(evt)
	if err != nil {
		return err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if cid := evt.ClientMessageID(); cid != "" {
		for _, e := range q.entries {
			if e.Event.ClientMessageID() == cid {
				return nil
			}
		}
	}

	if evt.Kind == wire.KindTyping {
		conv := evt.ConversationID()
		for i := len(q.entries) - 1; i >= 0; i-- {
			if e := q.entries[i]; e.Event.Kind == wire.KindTyping && e.Event.ConversationID() == conv {
				q.removeAtLocked(i)
			}
		}
	}

	prio := PriorityOf(evt.Kind)
	if len(q.entries) >= q.opts.MaxSize {
		victim := q.victimLocked(prio)
		if victim < 0 {
			if prio == PriorityCritical {
				q.logger.Warn("offline queue full, rejecting message", zap.String("client_msg_id", evt.ClientMessageID()))
				q.bus.Emit(EventFull, evt.ClientMessageID())
				return ErrQueueFull
			}
			q.dropLocked(evt.Kind, "capacity")
			return ErrDropped
		}
		dropped := q.entries[victim]
		q.removeAtLocked(victim)
		q.dropLocked(dropped.Event.Kind, "evicted")
	}

	entry := Entry{Seq: q.nextSeq, Event: evt, EnqueuedAt: q.now()}
	q.nextSeq++
	if err := q.opts.Persister.Append(Record{Seq: entry.Seq, Kind: string(evt.Kind), Frame: frame, EnqueuedAt: entry.EnqueuedAt}); err != nil {
		q.logger.Error("persist queued event", zap.Uint64("seq", entry.Seq), zap.Error(err))
	}
	q.entries = append(q.entries, entry)
	q.opts.Metrics.SetQueueDepth(len(q.entries))
	q.logger.Debug("queued event", zap.String("kind", string(evt.Kind)), zap.Int("depth", len(q.entries)))
	return nil
}

// Flush replays queued events strictly in enqueue order. The first send error
// halts the replay and leaves the failed event and everything after it queued.
// Only one flush runs at a time.
func (q *Queue) Flush(ctx context.Context, send SendFunc) (int, error) {
	q.flushMu.Lock()
	defer q.flushMu.Unlock()

	sent := 0
	for {
		if err := ctx.Err(); err != nil {
			return sent, err
		}

		q.mu.Lock()
		if len(q.entries) == 0 {
			q.mu.Unlock()
			break
		}
		head := q.entries[0]
		if q.staleLocked(head) {
			q.removeAtLocked(0)
			q.dropLocked(head.Event.Kind, "stale")
			q.mu.Unlock()
			continue
		}
		q.mu.Unlock()

		if err := send(ctx, head.Event); err != nil {
			q.logger.Warn("flush halted", zap.Uint64("seq", head.Seq), zap.Int("sent", sent), zap.Error(err))
			q.bus.Emit(EventFlushHalted, err)
			return sent, err
		}

		q.mu.Lock()
		q.removeSeqLocked(head.Seq)
		q.mu.Unlock()
		sent++
	}

	if sent > 0 {
		q.logger.Info("flushed offline queue", zap.Int("sent", sent))
		q.bus.Emit(EventFlushed, sent)
	}
	return sent, nil
}

// Len returns the number of queued events.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Snapshot returns a copy of the queued entries in order.
func (q *Queue) Snapshot() []Entry {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]Entry(nil), q.entries...)
}

// Close releases the persister.
func (q *Queue) Close() error {
	return q.opts.Persister.Close()
}

func (q *Queue) staleLocked(e Entry) bool {
	if q.opts.EphemeralTTL <= 0 || PriorityOf(e.Event.Kind) != PriorityEphemeral {
		return false
	}
	return q.now().Sub(e.EnqueuedAt) > q.opts.EphemeralTTL
}

// victimLocked returns the index of the oldest entry with the lowest priority
// strictly below prio, or -1.
func (q *Queue) victimLocked(prio Priority) int {
	victim := -1
	lowest := prio
	for i, e := range q.entries {
		if p := PriorityOf(e.Event.Kind); p < lowest {
			lowest = p
			victim = i
		}
	}
	return victim
}

func (q *Queue) removeSeqLocked(seq uint64) {
	for i, e := range q.entries {
		if e.Seq == seq {
			q.removeAtLocked(i)
			return
		}
	}
}

func (q *Queue) removeAtLocked(i int) {
	seq := q.entries[i].Seq
	q.entries = append(q.entries[:i], q.entries[i+1:]...)
	if err := q.opts.Persister.Remove(seq); err != nil {
		q.logger.Error("remove persisted event", zap.Uint64("seq", seq), zap.Error(err))
	}
	q.opts.Metrics.SetQueueDepth(len(q.entries))
}

func (q *Queue) dropLocked(kind wire.Kind, reason string) {
	q.logger.Debug("dropped queued event", zap.String("kind", string(kind)), zap.String("reason", reason))
	q.opts.Metrics.IncQueueDropped(string(kind))
	q.bus.Emit(EventDropped, DropNotice{Kind: kind, Reason: reason})
}
