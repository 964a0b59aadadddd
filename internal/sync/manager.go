//go:generate mockgen -destination=mock/api.go -package=mock github.com/emberapp/ember/internal/sync API

// Package sync keeps each conversation's local history in line with the
// server: incremental fetches, optimistic send confirmation, conflict
// detection and the send path that ties the realtime link, the offline queue
// and the REST fallback together.
package sync

import (
	"context"
	"errors"
	"fmt"
	"slices"
	gosync "sync"
	"time"

	"github.com/emberapp/ember/internal/bus"
	"github.com/emberapp/ember/internal/config"
	"github.com/emberapp/ember/internal/metrics"
	"github.com/emberapp/ember/internal/model"
	"github.com/emberapp/ember/internal/outbox"
	"github.com/emberapp/ember/internal/realtime"
	"github.com/emberapp/ember/internal/receipts"
	"github.com/emberapp/ember/internal/status"
	"github.com/emberapp/ember/internal/store"
	"github.com/emberapp/ember/internal/wire"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// Event kinds published on the manager's bus.
const (
	EventInitialized        = "sync.initialized"
	EventConversationSynced = "sync.conversation_synced"
	EventError              = "sync.error"
	EventConflictDetected   = "sync.conflict_detected"
	EventConflictResolved   = "sync.conflict_resolved"
	EventAllCompleted       = "sync.all_completed"
	EventMessageReceived    = "sync.message_received"
)

// ErrClosed is returned by operations on a closed manager.
var ErrClosed = errors.New("sync manager closed")

// Initialized is the payload of EventInitialized.
type Initialized struct {
	UserID        string
	Conversations int
	Err           error
}

// ConversationSynced is the payload of EventConversationSynced.
type ConversationSynced struct {
	ConversationID string
	Fetched        int
	Conflicts      int
	Forced         bool
	Duration       time.Duration
}

// ConflictResolved is the payload of EventConflictResolved.
type ConflictResolved struct {
	MessageID      string
	ConversationID string
	Resolution     model.Resolution
}

// AllCompleted is the payload of EventAllCompleted.
type AllCompleted struct {
	Conversations int
	Failed        int
	Duration      time.Duration
}

// Stats summarizes sync progress for display.
type Stats struct {
	Conversations int
	Synced        int
	Pending       int
	Conflicted    int
	Errored       int
	Unconfirmed   int
	LastLatency   time.Duration
	LastSyncAt    time.Time
}

// API is the REST collaborator.
type API interface {
	ListConversations(ctx context.Context) ([]model.Conversation, error)
	FetchMessages(ctx context.Context, conversationID string, since time.Time) ([]model.Message, error)
	SendMessage(ctx context.Context, m *model.Message) (wire.MessageAck, error)
	MarkRead(ctx context.Context, conversationID string, ids []string) error
}

// Connection is the realtime link the manager binds to.
type Connection interface {
	Send(ctx context.Context, evt wire.Outbound) (realtime.Delivery, error)
	State() status.State
	OnStatus(fn func(status.StatusChange))
}

// Config holds sync policy.
type Config struct {
	// UserID is the signed-in user until Initialize binds one.
	UserID        string
	Policy        string
	CompareFields []string
	Concurrency   int
	RESTFallback  bool
	FetchTimeout  time.Duration
}

// ConfigFrom extracts sync policy from the global config.
func ConfigFrom(c *config.Config) Config {
	return Config{
		UserID:        c.Auth.UserID,
		Policy:        c.Sync.ConflictPolicy,
		CompareFields: c.Sync.CompareFields,
		Concurrency:   c.Sync.Concurrency,
		RESTFallback:  c.Sync.RESTFallback,
		FetchTimeout:  c.Sync.FetchTimeout,
	}
}

// Manager orchestrates conversation sync. At most one fetch per conversation
// is in flight; concurrent requests share its result.
type Manager struct {
	cfg     Config
	db      *store.DB
	api     API
	tracker *receipts.Tracker
	recon   *Reconciler
	logger  *zap.Logger
	metrics *metrics.Metrics
	bus     *bus.Bus

	flights singleflight.Group
	all     singleflight.Group

	bg   context.Context
	stop context.CancelFunc
	wg   gosync.WaitGroup

	mu          gosync.Mutex
	userID      string
	conn        Connection
	closed      bool
	states      map[string]*model.ConversationSyncState
	synced      map[string]bool
	gens        map[string]uint64
	force       map[string]bool
	lastLatency time.Duration
	lastSyncAt  time.Time
}

// New creates a manager. It does nothing until Initialize binds a session.
func New(cfg Config, db *store.DB, api API, tracker *receipts.Tracker, logger *zap.Logger, m *metrics.Metrics) *Manager {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 15 * time.Second
	}
	if cfg.Policy == "" {
		cfg.Policy = config.PolicyManual
	}
	logger = logger.Named("sync")
	bg, stop := context.WithCancel(context.Background())
	return &Manager{
		cfg:     cfg,
		db:      db,
		api:     api,
		tracker: tracker,
		recon:   NewReconciler(db, logger),
		logger:  logger,
		metrics: m,
		bus:     bus.New(),
		userID:  cfg.UserID,
		bg:      bg,
		stop:    stop,
		states:  make(map[string]*model.ConversationSyncState),
		synced:  make(map[string]bool),
		gens:    make(map[string]uint64),
		force:   make(map[string]bool),
	}
}

// Subscribe returns sync events (sync.*).
func (m *Manager) Subscribe(namespace string, bufSize int) (<-chan bus.Event, func()) {
	return m.bus.Subscribe(namespace, bufSize)
}

// Initialize binds the manager to a user and connection, restores persisted
// conflicts and runs the initial full sync. Every later transition to
// connected rejoins conversations and syncs them all again.
func (m *Manager) Initialize(ctx context.Context, userID string, conn Connection) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if m.conn != nil {
		m.mu.Unlock()
		return fmt.Errorf("sync manager already initialized for %s", m.userID)
	}
	m.userID = userID
	m.conn = conn
	m.mu.Unlock()

	m.tracker.SetUser(userID)
	if err := m.restoreConflicts(); err != nil {
		return fmt.Errorf("restore conflicts: %w", err)
	}

	conn.OnStatus(func(change status.StatusChange) {
		if change.To != status.Connected {
			return
		}
		m.background(func(ctx context.Context) {
			m.joinAll(ctx)
			if err := m.SyncAllConversations(ctx); err != nil {
				m.logger.Warn("sync after connect incomplete", zap.Error(err))
			}
		})
	})
	if conn.State() == status.Connected {
		m.joinAll(ctx)
	}

	err := m.SyncAllConversations(ctx)
	ids, _ := m.db.ConversationIDs()
	m.logger.Info("initialized", zap.String("user", userID), zap.Int("conversations", len(ids)), zap.Error(err))
	m.bus.Emit(EventInitialized, Initialized{UserID: userID, Conversations: len(ids), Err: err})
	return err
}

func (m *Manager) background(fn func(ctx context.Context)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		fn(m.bg)
	}()
}

func (m *Manager) joinAll(ctx context.Context) {
	conn := m.connection()
	if conn == nil {
		return
	}
	ids, err := m.db.ConversationIDs()
	if err != nil {
		m.logger.Warn("list conversations for join", zap.Error(err))
		return
	}
	for _, id := range ids {
		if _, err := conn.Send(ctx, wire.NewJoin(id)); err != nil {
			m.logger.Debug("join not sent", zap.String("conversation", id), zap.Error(err))
		}
	}
}

func (m *Manager) restoreConflicts() error {
	conflicts, err := m.db.ListConflicts("")
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range conflicts {
		st := m.stateLocked(c.ConversationID)
		st.Conflicts = append(st.Conflicts, c)
	}
	m.updateCountsLocked()
	return nil
}

// Close cancels background syncs, discards late results and waits for
// background work to finish.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	for id := range m.gens {
		m.gens[id]++
	}
	m.mu.Unlock()
	m.stop()
	m.wg.Wait()
}

func (m *Manager) connection() Connection {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conn
}

func (m *Manager) user() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.userID
}

func (m *Manager) stateLocked(conversationID string) *model.ConversationSyncState {
	st := m.states[conversationID]
	if st == nil {
		st = &model.ConversationSyncState{ConversationID: conversationID}
		m.states[conversationID] = st
	}
	return st
}

// SyncConversation fetches what changed since the conversation's checkpoint
// and merges it. A call while a sync of the same conversation is running
// waits for that sync instead of starting another.
func (m *Manager) SyncConversation(ctx context.Context, conversationID string) error {
	return m.sync(ctx, conversationID, false)
}

// ForceSyncConversation refetches the full server history of a conversation,
// ignoring the checkpoint. A result from a sync that was already running is
// discarded.
func (m *Manager) ForceSyncConversation(ctx context.Context, conversationID string) error {
	m.mu.Lock()
	m.force[conversationID] = true
	m.gens[conversationID]++
	m.mu.Unlock()
	return m.sync(ctx, conversationID, true)
}

func (m *Manager) sync(ctx context.Context, conversationID string, force bool) error {
	for {
		ch := m.flights.DoChan(conversationID, func() (any, error) {
			return nil, m.runSync(conversationID)
		})
		select {
		case res := <-ch:
			if force {
				m.mu.Lock()
				pending := m.force[conversationID]
				m.mu.Unlock()
				if pending && res.Err == nil {
					continue
				}
			}
			return res.Err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// runSync performs one fetch and merge. It runs detached from any caller's
// context so that one caller giving up does not fail the others.
func (m *Manager) runSync(conversationID string) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	forced := m.force[conversationID]
	delete(m.force, conversationID)
	gen := m.gens[conversationID]
	st := m.stateLocked(conversationID)
	st.InProgress = true
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(m.bg, m.cfg.FetchTimeout)
	defer cancel()
	start := time.Now()

	var since time.Time
	if !forced {
		var err error
		if since, err = m.recon.LastSynced(conversationID); err != nil {
			m.logger.Warn("read checkpoint", zap.String("conversation", conversationID), zap.Error(err))
		}
	}

	msgs, err := m.api.FetchMessages(ctx, conversationID, since)
	if err == nil {
		m.mu.Lock()
		stale := m.gens[conversationID] != gen
		m.mu.Unlock()
		if stale {
			m.logger.Debug("discarding stale sync result", zap.String("conversation", conversationID))
			m.finish(conversationID, gen, time.Since(start), nil)
			return nil
		}
	}

	var (
		checkpoint time.Time
		conflicts  int
	)
	if err == nil {
		checkpoint, conflicts, err = m.merge(ctx, conversationID, msgs)
	}
	if err == nil {
		err = m.recon.AdvanceLastSynced(conversationID, checkpoint)
	}
	elapsed := time.Since(start)
	if err != nil {
		serr := &model.SyncError{ConversationID: conversationID, Err: err}
		m.logger.Warn("sync failed", zap.String("conversation", conversationID), zap.Error(err))
		m.finish(conversationID, gen, elapsed, serr)
		m.bus.Emit(EventError, serr)
		return serr
	}

	m.mu.Lock()
	if !checkpoint.IsZero() && checkpoint.After(st.LastSyncedAt) {
		st.LastSyncedAt = checkpoint
	}
	m.mu.Unlock()
	m.finish(conversationID, gen, elapsed, nil)
	m.logger.Debug("conversation synced", zap.String("conversation", conversationID),
		zap.Int("fetched", len(msgs)), zap.Int("conflicts", conflicts), zap.Bool("forced", forced))
	m.bus.Emit(EventConversationSynced, ConversationSynced{
		ConversationID: conversationID,
		Fetched:        len(msgs),
		Conflicts:      conflicts,
		Forced:         forced,
		Duration:       elapsed,
	})
	return nil
}

// finish records the outcome of the flight started at generation gen. A
// flight overtaken by a removal leaves no state behind.
func (m *Manager) finish(conversationID string, gen uint64, elapsed time.Duration, err error) {
	m.metrics.ObserveSync(elapsed, err)
	m.mu.Lock()
	defer m.mu.Unlock()
	current := m.gens[conversationID] == gen
	st := m.states[conversationID]
	if st == nil && current {
		st = m.stateLocked(conversationID)
	}
	if st != nil {
		st.InProgress = false
		if err != nil {
			st.LastError = err.Error()
		} else {
			st.LastError = ""
		}
	}
	if current && err == nil {
		m.synced[conversationID] = true
	}
	m.lastLatency = elapsed
	m.lastSyncAt = time.Now()
	m.updateCountsLocked()
}

// SyncAllConversations refreshes the conversation list and syncs every known
// conversation with bounded concurrency. A failing conversation never stops
// the others; all failures are returned together.
func (m *Manager) SyncAllConversations(ctx context.Context) error {
	ch := m.all.DoChan("all", func() (any, error) {
		return nil, m.syncAll(m.bg)
	})
	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) syncAll(ctx context.Context) error {
	start := time.Now()
	var errs error

	listCtx, cancel := context.WithTimeout(ctx, m.cfg.FetchTimeout)
	convs, err := m.api.ListConversations(listCtx)
	cancel()
	if err != nil {
		serr := &model.SyncError{Err: fmt.Errorf("list conversations: %w", err)}
		m.bus.Emit(EventError, serr)
		errs = multierr.Append(errs, serr)
	}
	for i := range convs {
		if err := m.db.UpsertConversation(&convs[i]); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("store conversation %s: %w", convs[i].ID, err))
		}
	}

	ids, err := m.db.ConversationIDs()
	if err != nil {
		return multierr.Append(errs, err)
	}

	var (
		g  errgroup.Group
		mu gosync.Mutex
	)
	g.SetLimit(m.cfg.Concurrency)
	for _, id := range ids {
		g.Go(func() error {
			if err := m.SyncConversation(ctx, id); err != nil {
				mu.Lock()
				errs = multierr.Append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	failed := len(multierr.Errors(errs))
	m.logger.Info("sync all completed", zap.Int("conversations", len(ids)), zap.Int("failed", failed),
		zap.Duration("took", time.Since(start)))
	m.bus.Emit(EventAllCompleted, AllCompleted{Conversations: len(ids), Failed: failed, Duration: time.Since(start)})
	return errs
}

// OnForeground is the hook for the app returning to the foreground.
func (m *Manager) OnForeground(ctx context.Context) error {
	m.logger.Debug("foreground, syncing all conversations")
	return m.SyncAllConversations(ctx)
}

// RemoveConversation forgets a conversation locally. A sync still running
// for it has its result discarded.
func (m *Manager) RemoveConversation(conversationID string) error {
	m.mu.Lock()
	m.gens[conversationID]++
	delete(m.states, conversationID)
	delete(m.synced, conversationID)
	delete(m.force, conversationID)
	m.updateCountsLocked()
	m.mu.Unlock()

	if err := m.db.DeleteConversation(conversationID); err != nil {
		return err
	}
	return m.recon.Forget(conversationID)
}

// ResolveConflict settles a conflict. KeepServer replaces the local content
// with the server's; KeepLocal keeps it, and the same server version is not
// raised again by later syncs. Either way the conflict is removed.
func (m *Manager) ResolveConflict(ctx context.Context, messageID string, res model.Resolution) error {
	if !res.Valid() {
		return fmt.Errorf("unknown resolution %q", res)
	}

	m.mu.Lock()
	c, ok := m.findConflictLocked(messageID)
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("resolve %s: %w", messageID, model.ErrConflictNotFound)
	}

	if res == model.KeepServer {
		if err := m.db.ReplaceContent(messageID, c.Server.Content, c.Server.Type); err != nil {
			return fmt.Errorf("apply server version: %w", err)
		}
		if _, err := m.tracker.Advance(messageID, c.Server.Status); err != nil {
			return err
		}
		if err := m.recon.ClearKept(c.ConversationID, messageID); err != nil {
			return err
		}
	} else if err := m.recon.KeepLocal(c.ConversationID, messageID, serverVersion(&c.Server)); err != nil {
		return err
	}
	if err := m.db.DeleteConflict(messageID); err != nil {
		return err
	}

	m.mu.Lock()
	if st := m.states[c.ConversationID]; st != nil {
		st.Conflicts = slices.DeleteFunc(st.Conflicts, func(x model.Conflict) bool { return x.MessageID == messageID })
	}
	m.updateCountsLocked()
	m.mu.Unlock()

	m.logger.Info("conflict resolved", zap.String("msg_id", messageID), zap.String("resolution", string(res)))
	m.bus.Emit(EventConflictResolved, ConflictResolved{MessageID: messageID, ConversationID: c.ConversationID, Resolution: res})
	return nil
}

func (m *Manager) findConflictLocked(messageID string) (model.Conflict, bool) {
	for _, st := range m.states {
		for _, c := range st.Conflicts {
			if c.MessageID == messageID {
				return c, true
			}
		}
	}
	return model.Conflict{}, false
}

// Conflicts returns unresolved conflicts, optionally for one conversation,
// oldest first.
func (m *Manager) Conflicts(conversationID string) []model.Conflict {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Conflict
	for id, st := range m.states {
		if conversationID == "" || id == conversationID {
			out = append(out, st.Conflicts...)
		}
	}
	slices.SortFunc(out, func(a, b model.Conflict) int { return a.DetectedAt.Compare(b.DetectedAt) })
	return out
}

// State returns a copy of a conversation's sync bookkeeping.
func (m *Manager) State(conversationID string) model.ConversationSyncState {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st := m.states[conversationID]; st != nil {
		return st.Clone()
	}
	return model.ConversationSyncState{ConversationID: conversationID}
}

// Stats returns counts over all known conversations.
func (m *Manager) Stats() (Stats, error) {
	ids, err := m.db.ConversationIDs()
	if err != nil {
		return Stats{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	s := Stats{
		Conversations: len(ids),
		Unconfirmed:   m.tracker.Unconfirmed(),
		LastLatency:   m.lastLatency,
		LastSyncAt:    m.lastSyncAt,
	}
	for _, id := range ids {
		st := m.states[id]
		switch {
		case st != nil && st.LastError != "":
			s.Errored++
		case st != nil && st.InProgress, !m.synced[id]:
			s.Pending++
		default:
			s.Synced++
		}
		if st != nil && len(st.Conflicts) > 0 {
			s.Conflicted++
		}
	}
	return s, nil
}

func (m *Manager) updateCountsLocked() {
	synced, conflicted := 0, 0
	for id, st := range m.states {
		if m.synced[id] && st.LastError == "" {
			synced++
		}
		if len(st.Conflicts) > 0 {
			conflicted++
		}
	}
	m.metrics.SetSyncCounts(synced, conflicted)
}

// SendMessage composes an optimistic message and sends it. While the
// realtime link is terminally down and the REST fallback is enabled the
// message is posted directly; otherwise it goes through the connection,
// which queues it when offline. A permanent rejection marks the message
// failed and is returned as *model.SendFailure.
func (m *Manager) SendMessage(ctx context.Context, conversationID, toUserID, content string, typ model.MessageType) (*model.Message, error) {
	userID := m.user()
	if m.connection() == nil {
		return nil, model.ErrNotInitialized
	}
	if typ == "" {
		typ = model.TypeText
	}
	if !typ.Valid() {
		return nil, fmt.Errorf("unknown message type %q", typ)
	}

	msg := model.NewOutgoing(conversationID, userID, toUserID, content, typ)
	if err := m.db.UpsertMessage(msg); err != nil {
		return nil, err
	}
	if err := m.db.RecordActivity(conversationID, preview(msg), msg.CreatedAt, false); err != nil {
		return nil, err
	}
	m.tracker.Track(msg)
	return msg, m.deliver(ctx, msg)
}

// RetryMessage resends a failed message with its original idempotency token.
func (m *Manager) RetryMessage(ctx context.Context, messageID string) (*model.Message, error) {
	if m.connection() == nil {
		return nil, model.ErrNotInitialized
	}
	msg, err := m.tracker.Retry(messageID)
	if err != nil {
		return nil, err
	}
	return msg, m.deliver(ctx, msg)
}

func (m *Manager) deliver(ctx context.Context, msg *model.Message) error {
	conn := m.connection()
	if m.cfg.RESTFallback && conn.State() == status.Disconnected {
		ack, err := m.api.SendMessage(ctx, msg)
		if err == nil {
			return m.tracker.Confirm(ack.ClientMessageID, ack.MessageID, ack.ServerTimestamp)
		}
		var sf *model.SendFailure
		if errors.As(err, &sf) {
			if ferr := m.tracker.Fail(msg.ClientID, sf.Reason); ferr != nil {
				return multierr.Append(sf, ferr)
			}
			return sf
		}
		m.logger.Warn("rest fallback failed, queueing", zap.String("client_msg_id", msg.ClientID), zap.Error(err))
	}

	_, err := conn.Send(ctx, wire.NewMessage(msg))
	if errors.Is(err, outbox.ErrQueueFull) {
		sf := &model.SendFailure{ClientID: msg.ClientID, Reason: "offline queue full", Err: err}
		if ferr := m.tracker.Fail(msg.ClientID, sf.Reason); ferr != nil {
			return multierr.Append(sf, ferr)
		}
		return sf
	}
	return err
}

// MarkRead marks inbound messages of a conversation read. When the realtime
// link is down and the REST fallback is enabled the bulk endpoint is used so
// the peer still learns about it.
func (m *Manager) MarkRead(ctx context.Context, conversationID string, ids []string) (int, error) {
	conn := m.connection()
	if conn == nil {
		return 0, model.ErrNotInitialized
	}
	n, err := m.tracker.MarkRead(ctx, conversationID, ids)
	if err != nil {
		return n, err
	}
	if n > 0 && m.cfg.RESTFallback && conn.State() == status.Disconnected {
		if err := m.api.MarkRead(ctx, conversationID, ids); err != nil {
			m.logger.Warn("bulk mark read failed", zap.String("conversation", conversationID), zap.Error(err))
		}
	}
	return n, nil
}
