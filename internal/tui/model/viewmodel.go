package model

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/emberapp/ember/internal/api"
)

// Daemon is the slice of the daemon client the view model drives.
type Daemon interface {
	Status(ctx context.Context) (*api.SessionStatus, error)
	Connect(ctx context.Context) (*api.Ack, error)
	Disconnect(ctx context.Context) (*api.Ack, error)
	Stats(ctx context.Context) (*api.Stats, error)
	SyncConversation(ctx context.Context, conversationID string, force bool) (*api.Ack, error)
	SyncAll(ctx context.Context) (*api.Ack, error)
	Conflicts(ctx context.Context, conversationID string) ([]api.Conflict, error)
	ResolveConflict(ctx context.Context, messageID, resolution string) (*api.Ack, error)
	Conversations(ctx context.Context, limit, offset int) (*api.ConversationList, error)
	Messages(ctx context.Context, conversationID string, before time.Time, limit int) (*api.MessageList, error)
	Search(ctx context.Context, query, conversationID string, limit int) (*api.SearchResults, error)
	Send(ctx context.Context, conversationID, to, content string) (*api.Message, error)
	Retry(ctx context.Context, messageID string) (*api.Message, error)
	MarkRead(ctx context.Context, conversationID string, ids []string) (int, error)
	NotifyTyping(ctx context.Context, conversationID string, stopped bool) error
	TypingUsers(ctx context.Context, conversationID string) ([]string, error)
}

// Dirty flags which parts of the screen an event invalidated.
type Dirty uint8

const (
	DirtyStatus Dirty = 1 << iota
	DirtyConversations
	DirtyMessages
	DirtyTyping
	DirtyConflicts
)

// Has reports whether any of the flags in d are set.
func (d Dirty) Has(flag Dirty) bool { return d&flag != 0 }

// ErrNoConversation is returned by actions that need an open conversation.
var ErrNoConversation = errors.New("no conversation open")

const (
	conversationPage = 200
	messagePage      = 100
	searchPage       = 50
)

// ViewModel caches daemon state for the views and folds watched events into
// reload decisions.
type ViewModel struct {
	mu sync.RWMutex

	daemon        Daemon
	status        *api.SessionStatus
	stats         *api.Stats
	conversations []api.Conversation
	messages      []api.Message
	typing        map[string][]string
	conflicts     []api.Conflict
	active        string
}

// NewViewModel creates a new view model connected to the daemon client.
func NewViewModel(d Daemon) *ViewModel {
	return &ViewModel{
		daemon: d,
		typing: make(map[string][]string),
	}
}

// LoadStatus fetches connection status and sync statistics.
func (vm *ViewModel) LoadStatus(ctx context.Context) error {
	st, err := vm.daemon.Status(ctx)
	if err != nil {
		return err
	}
	stats, err := vm.daemon.Stats(ctx)
	if err != nil {
		return err
	}
	vm.mu.Lock()
	vm.status = st
	vm.stats = stats
	vm.mu.Unlock()
	return nil
}

// LoadConversations fetches the conversation list.
func (vm *ViewModel) LoadConversations(ctx context.Context) error {
	list, err := vm.daemon.Conversations(ctx, conversationPage, 0)
	if err != nil {
		return err
	}
	vm.mu.Lock()
	vm.conversations = list.Conversations
	vm.mu.Unlock()
	return nil
}

// Open makes conversationID the active conversation, loads its messages and
// typing state, and marks it read.
func (vm *ViewModel) Open(ctx context.Context, conversationID string) error {
	vm.mu.Lock()
	vm.active = conversationID
	vm.messages = nil
	vm.mu.Unlock()

	if err := vm.LoadMessages(ctx); err != nil {
		return err
	}
	if err := vm.LoadTyping(ctx, conversationID); err != nil {
		return err
	}
	_, err := vm.daemon.MarkRead(ctx, conversationID, nil)
	return err
}

// Close leaves the active conversation, telling peers typing stopped.
func (vm *ViewModel) Close(ctx context.Context) {
	vm.mu.Lock()
	id := vm.active
	vm.active = ""
	vm.messages = nil
	vm.mu.Unlock()
	if id != "" {
		_ = vm.daemon.NotifyTyping(ctx, id, true)
	}
}

// LoadMessages fetches messages for the active conversation.
func (vm *ViewModel) LoadMessages(ctx context.Context) error {
	id := vm.Active()
	if id == "" {
		return ErrNoConversation
	}
	list, err := vm.daemon.Messages(ctx, id, time.Time{}, messagePage)
	if err != nil {
		return err
	}
	vm.mu.Lock()
	if vm.active == id {
		vm.messages = list.Messages
	}
	vm.mu.Unlock()
	return nil
}

// LoadTyping refreshes who is typing in a conversation.
func (vm *ViewModel) LoadTyping(ctx context.Context, conversationID string) error {
	users, err := vm.daemon.TypingUsers(ctx, conversationID)
	if err != nil {
		return err
	}
	vm.mu.Lock()
	vm.setTypingLocked(conversationID, users)
	vm.mu.Unlock()
	return nil
}

// LoadConflicts fetches every unresolved conflict.
func (vm *ViewModel) LoadConflicts(ctx context.Context) error {
	conflicts, err := vm.daemon.Conflicts(ctx, "")
	if err != nil {
		return err
	}
	vm.mu.Lock()
	vm.conflicts = conflicts
	vm.mu.Unlock()
	return nil
}

// Search runs a full-text query over local messages.
func (vm *ViewModel) Search(ctx context.Context, query string) ([]api.SearchResult, error) {
	res, err := vm.daemon.Search(ctx, query, "", searchPage)
	if err != nil {
		return nil, err
	}
	return res.Results, nil
}

// Send sends text to the peer of the active conversation. The returned
// message carries status failed when the send was rejected.
func (vm *ViewModel) Send(ctx context.Context, text string) (*api.Message, error) {
	conv, ok := vm.ActiveConversation()
	if !ok {
		return nil, ErrNoConversation
	}
	msg, err := vm.daemon.Send(ctx, conv.ID, conv.PeerID, text)
	if err != nil {
		return nil, err
	}
	vm.mu.Lock()
	if vm.active == conv.ID {
		vm.messages = append([]api.Message{*msg}, vm.messages...)
	}
	vm.mu.Unlock()
	return msg, nil
}

// Retry resends a failed message.
func (vm *ViewModel) Retry(ctx context.Context, messageID string) (*api.Message, error) {
	return vm.daemon.Retry(ctx, messageID)
}

// RetryLastFailed resends the newest failed message of the active
// conversation. It returns nil when there is nothing to retry.
func (vm *ViewModel) RetryLastFailed(ctx context.Context) (*api.Message, error) {
	vm.mu.RLock()
	var id string
	for _, m := range vm.messages {
		if m.Status == "failed" {
			id = m.ID
			break
		}
	}
	vm.mu.RUnlock()
	if id == "" {
		return nil, nil
	}
	return vm.daemon.Retry(ctx, id)
}

// Typing reports local keystrokes in the active conversation. An empty
// composer reports typing stopped.
func (vm *ViewModel) Typing(ctx context.Context, text string) error {
	id := vm.Active()
	if id == "" {
		return nil
	}
	return vm.daemon.NotifyTyping(ctx, id, strings.TrimSpace(text) == "")
}

// SyncActive syncs the active conversation.
func (vm *ViewModel) SyncActive(ctx context.Context, force bool) (*api.Ack, error) {
	id := vm.Active()
	if id == "" {
		return nil, ErrNoConversation
	}
	return vm.daemon.SyncConversation(ctx, id, force)
}

// SyncAll syncs every conversation.
func (vm *ViewModel) SyncAll(ctx context.Context) (*api.Ack, error) {
	return vm.daemon.SyncAll(ctx)
}

// Resolve settles a conflict and drops it from the cached list.
func (vm *ViewModel) Resolve(ctx context.Context, messageID, resolution string) error {
	ack, err := vm.daemon.ResolveConflict(ctx, messageID, resolution)
	if err != nil {
		return err
	}
	if !ack.OK {
		return errors.New(ack.Message)
	}
	vm.mu.Lock()
	vm.conflicts = slices.DeleteFunc(vm.conflicts, func(c api.Conflict) bool { return c.MessageID == messageID })
	vm.mu.Unlock()
	return nil
}

// Connect asks the daemon to open the realtime link.
func (vm *ViewModel) Connect(ctx context.Context) (*api.Ack, error) {
	return vm.daemon.Connect(ctx)
}

// Disconnect asks the daemon to drop the realtime link.
func (vm *ViewModel) Disconnect(ctx context.Context) (*api.Ack, error) {
	return vm.daemon.Disconnect(ctx)
}

// Apply folds a watched daemon event into the cache and reports what must be
// reloaded or redrawn.
func (vm *ViewModel) Apply(evt api.Event) Dirty {
	conv := conversationOf(evt.Payload)
	active := vm.Active()

	switch {
	case strings.HasPrefix(evt.Kind, "connection."), strings.HasPrefix(evt.Kind, "queue."):
		return DirtyStatus
	case evt.Kind == "typing.changed":
		users := usersOf(evt.Payload)
		vm.mu.Lock()
		vm.setTypingLocked(conv, users)
		vm.mu.Unlock()
		return DirtyTyping | DirtyConversations
	case evt.Kind == "sync.conflict_detected", evt.Kind == "sync.conflict_resolved":
		d := DirtyConflicts | DirtyStatus
		if conv != "" && conv == active {
			d |= DirtyMessages
		}
		return d
	case strings.HasPrefix(evt.Kind, "message."), evt.Kind == "sync.message_received", evt.Kind == "sync.conversation_synced":
		d := DirtyConversations
		if conv != "" && conv == active {
			d |= DirtyMessages
		}
		return d
	case strings.HasPrefix(evt.Kind, "sync."):
		return DirtyStatus | DirtyConversations
	}
	return 0
}

func (vm *ViewModel) setTypingLocked(conversationID string, users []string) {
	if conversationID == "" {
		return
	}
	if len(users) == 0 {
		delete(vm.typing, conversationID)
		return
	}
	vm.typing[conversationID] = users
}

// Active returns the id of the open conversation, or "".
func (vm *ViewModel) Active() string {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.active
}

// ActiveConversation returns the open conversation from the cached list.
func (vm *ViewModel) ActiveConversation() (api.Conversation, bool) {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.conversationLocked(vm.active)
}

// Conversation returns a cached conversation by id.
func (vm *ViewModel) Conversation(id string) (api.Conversation, bool) {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.conversationLocked(id)
}

func (vm *ViewModel) conversationLocked(id string) (api.Conversation, bool) {
	if id == "" {
		return api.Conversation{}, false
	}
	for _, c := range vm.conversations {
		if c.ID == id {
			return c, true
		}
	}
	return api.Conversation{}, false
}

// FindConversation returns the first conversation whose peer name or id
// contains query, case-insensitively.
func (vm *ViewModel) FindConversation(query string) (api.Conversation, bool) {
	q := strings.ToLower(query)
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	for _, c := range vm.conversations {
		if strings.Contains(strings.ToLower(c.PeerName), q) || strings.Contains(strings.ToLower(c.PeerID), q) || c.ID == query {
			return c, true
		}
	}
	return api.Conversation{}, false
}

// GetConversations returns a snapshot of the conversation list.
func (vm *ViewModel) GetConversations() []api.Conversation {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return slices.Clone(vm.conversations)
}

// GetMessages returns a snapshot of the active conversation's messages,
// newest first.
func (vm *ViewModel) GetMessages() []api.Message {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return slices.Clone(vm.messages)
}

// GetTyping returns who is typing in a conversation.
func (vm *ViewModel) GetTyping(conversationID string) []string {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return slices.Clone(vm.typing[conversationID])
}

// GetConflicts returns a snapshot of the unresolved conflicts.
func (vm *ViewModel) GetConflicts() []api.Conflict {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return slices.Clone(vm.conflicts)
}

// GetStatus returns the last fetched status and stats. Either may be nil.
func (vm *ViewModel) GetStatus() (*api.SessionStatus, *api.Stats) {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.status, vm.stats
}

// conversationOf digs the conversation id out of a JSON-decoded payload.
func conversationOf(payload any) string {
	m, ok := payload.(map[string]any)
	if !ok {
		return ""
	}
	for _, key := range []string{"ConversationID", "conversation_id", "conversationId"} {
		if s, ok := m[key].(string); ok {
			return s
		}
	}
	return ""
}

func usersOf(payload any) []string {
	m, ok := payload.(map[string]any)
	if !ok {
		return nil
	}
	raw, _ := m["Users"].([]any)
	users := make([]string, 0, len(raw))
	for _, u := range raw {
		if s, ok := u.(string); ok {
			users = append(users, s)
		}
	}
	return users
}
