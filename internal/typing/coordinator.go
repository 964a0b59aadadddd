// Package typing turns local keystrokes into throttled typing events and
// tracks which remote users are typing in each conversation.
package typing

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/emberapp/ember/internal/bus"
	"github.com/emberapp/ember/internal/config"
	"github.com/emberapp/ember/internal/metrics"
	"github.com/emberapp/ember/internal/realtime"
	"github.com/emberapp/ember/internal/wire"
	"go.uber.org/zap"
)

// EventChanged is published whenever a conversation's typing set changes.
const EventChanged = "typing.changed"

// Change is the payload of EventChanged.
type Change struct {
	ConversationID string
	Users          []string
}

// Sender transmits outbound typing events.
type Sender interface {
	Send(ctx context.Context, evt wire.Outbound) (realtime.Delivery, error)
}

// Config holds the typing windows.
type Config struct {
	// Debounce is the minimum gap between two outbound starts.
	Debounce time.Duration
	// Inactivity sends stop when no keystroke arrives for this long.
	Inactivity time.Duration
	// RemoteExpiry drops a remote typist that never sent stop.
	RemoteExpiry time.Duration
}

// ConfigFrom extracts typing windows from the global config.
func ConfigFrom(c *config.Config) Config {
	return Config{
		Debounce:     c.Typing.Debounce,
		Inactivity:   c.Typing.Inactivity,
		RemoteExpiry: c.Typing.RemoteExpiry,
	}
}

type localState struct {
	started   bool
	lastStart time.Time
	timer     *time.Timer
	gen       uint64
}

type remoteEntry struct {
	timer *time.Timer
}

// Coordinator owns local and remote typing state. Outbound events are sent
// while holding the coordinator lock so start and stop can never reorder.
type Coordinator struct {
	cfg     Config
	sender  Sender
	logger  *zap.Logger
	metrics *metrics.Metrics
	bus     *bus.Bus
	now     func() time.Time

	mu     sync.Mutex
	userID string
	local  map[string]*localState
	remote map[string]map[string]*remoteEntry
}

// New creates a coordinator for the given local user.
func New(cfg Config, sender Sender, userID string, logger *zap.Logger, m *metrics.Metrics) *Coordinator {
	return &Coordinator{
		cfg:     cfg,
		sender:  sender,
		userID:  userID,
		logger:  logger.Named("typing"),
		metrics: m,
		bus:     bus.New(),
		now:     time.Now,
		local:   make(map[string]*localState),
		remote:  make(map[string]map[string]*remoteEntry),
	}
}

// Subscribe returns typing events (typing.*).
func (c *Coordinator) Subscribe(namespace string, bufSize int) (<-chan bus.Event, func()) {
	return c.bus.Subscribe(namespace, bufSize)
}

// SetUser changes the local user whose own echoes are ignored.
func (c *Coordinator) SetUser(userID string) {
	c.mu.Lock()
	c.userID = userID
	c.mu.Unlock()
}

// NotifyTyping records a keystroke. The first call sends start; further calls
// resend it at most once per debounce window and push back the inactivity
// timer that sends stop.
func (c *Coordinator) NotifyTyping(ctx context.Context, conversationID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := c.local[conversationID]
	if st == nil {
		st = &localState{}
		c.local[conversationID] = st
	}
	now := c.now()
	if !st.started || now.Sub(st.lastStart) >= c.cfg.Debounce {
		st.started = true
		st.lastStart = now
		c.sendLocked(ctx, conversationID, true)
	}

	st.gen++
	gen := st.gen
	if st.timer != nil {
		st.timer.Stop()
	}
	st.timer = time.AfterFunc(c.cfg.Inactivity, func() { c.expireLocal(conversationID, gen) })
}

// NotifyStoppedTyping cancels the inactivity timer and sends stop if a start
// went out.
func (c *Coordinator) NotifyStoppedTyping(ctx context.Context, conversationID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := c.local[conversationID]
	if st == nil {
		return
	}
	if st.timer != nil {
		st.timer.Stop()
	}
	delete(c.local, conversationID)
	if st.started {
		c.sendLocked(ctx, conversationID, false)
	}
}

func (c *Coordinator) expireLocal(conversationID string, gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := c.local[conversationID]
	if st == nil || st.gen != gen {
		return
	}
	delete(c.local, conversationID)
	if st.started {
		c.logger.Debug("typing inactivity, sending stop", zap.String("conversation", conversationID))
		c.sendLocked(context.Background(), conversationID, false)
	}
}

func (c *Coordinator) sendLocked(ctx context.Context, conversationID string, typing bool) {
	if _, err := c.sender.Send(ctx, wire.NewTyping(conversationID, typing)); err != nil {
		c.logger.Debug("typing event not sent", zap.String("conversation", conversationID), zap.Error(err))
	}
}

// OnRemoteTypingEvent applies a typing start or stop from another user.
// Events for the local user are ignored. A start arms an expiry so a lost
// stop cannot leave the indicator on.
func (c *Coordinator) OnRemoteTypingEvent(conversationID, userID string, isTyping bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if userID == "" || userID == c.userID {
		return
	}
	users := c.remote[conversationID]
	changed := false

	if isTyping {
		if users == nil {
			users = make(map[string]*remoteEntry)
			c.remote[conversationID] = users
		}
		old := users[userID]
		if old != nil {
			old.timer.Stop()
		}
		e := &remoteEntry{}
		e.timer = time.AfterFunc(c.cfg.RemoteExpiry, func() { c.expireRemote(conversationID, userID, e) })
		users[userID] = e
		changed = old == nil
	} else if old := users[userID]; old != nil {
		old.timer.Stop()
		c.removeRemoteLocked(conversationID, userID)
		changed = true
	}

	if changed {
		c.publishLocked(conversationID)
	}
}

func (c *Coordinator) expireRemote(conversationID, userID string, e *remoteEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.remote[conversationID][userID] != e {
		return
	}
	c.logger.Debug("remote typing expired", zap.String("conversation", conversationID), zap.String("user", userID))
	c.removeRemoteLocked(conversationID, userID)
	c.publishLocked(conversationID)
}

func (c *Coordinator) removeRemoteLocked(conversationID, userID string) {
	users := c.remote[conversationID]
	delete(users, userID)
	if len(users) == 0 {
		delete(c.remote, conversationID)
	}
}

func (c *Coordinator) publishLocked(conversationID string) {
	total := 0
	for _, users := range c.remote {
		total += len(users)
	}
	c.metrics.SetRemoteTypists(total)
	c.bus.Emit(EventChanged, Change{ConversationID: conversationID, Users: c.usersLocked(conversationID)})
}

func (c *Coordinator) usersLocked(conversationID string) []string {
	users := make([]string, 0, len(c.remote[conversationID]))
	for u := range c.remote[conversationID] {
		users = append(users, u)
	}
	slices.Sort(users)
	return users
}

// TypingUsers returns the users currently typing in a conversation, sorted.
func (c *Coordinator) TypingUsers(conversationID string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.usersLocked(conversationID)
}

// IsAnyoneTyping reports whether any remote user is typing in a conversation.
func (c *Coordinator) IsAnyoneTyping(conversationID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.remote[conversationID]) > 0
}

// Reset stops every timer and forgets all typing state.
func (c *Coordinator) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, st := range c.local {
		if st.timer != nil {
			st.timer.Stop()
		}
	}
	for _, users := range c.remote {
		for _, e := range users {
			e.timer.Stop()
		}
	}
	c.local = make(map[string]*localState)
	c.remote = make(map[string]map[string]*remoteEntry)
	c.metrics.SetRemoteTypists(0)
}
