// Package realtime owns the persistent connection to the messaging backend:
// handshake, heartbeat, reconnect with backoff, and routing of frames to the
// offline queue while the link is down.
package realtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/emberapp/ember/internal/bus"
	"github.com/emberapp/ember/internal/config"
	"github.com/emberapp/ember/internal/metrics"
	"github.com/emberapp/ember/internal/model"
	"github.com/emberapp/ember/internal/outbox"
	"github.com/emberapp/ember/internal/status"
	"github.com/emberapp/ember/internal/transport"
	"github.com/emberapp/ember/internal/wire"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Bus event kinds, in addition to status.EventStatusChanged.
const (
	EventReconnecting    = "connection.reconnecting"
	EventReconnectFailed = "connection.reconnect_failed"
	EventFailed          = "connection.failed"
	EventHeartbeatMissed = "connection.heartbeat_missed"
)

var (
	// ErrNotConnected is returned when a ping is sent without a live link.
	ErrNotConnected = errors.New("not connected")
	// ErrPongTimeout is the cause recorded when a heartbeat goes unanswered.
	ErrPongTimeout = errors.New("pong not received in time")
	errSuperseded  = errors.New("connection closed by disconnect")
)

// Delivery tells the caller of Send what happened to the event.
type Delivery int

const (
	Transmitted Delivery = iota + 1
	Queued
)

func (d Delivery) String() string {
	switch d {
	case Transmitted:
		return "transmitted"
	case Queued:
		return "queued"
	}
	return "unknown"
}

// ReconnectAttempt is the payload of EventReconnecting and EventReconnectFailed.
type ReconnectAttempt struct {
	Attempt int
	Delay   time.Duration
	Err     error
}

// Queue is the offline buffer events are routed to while disconnected.
type Queue interface {
	Enqueue(evt wire.Outbound) error
	Flush(ctx context.Context, send outbox.SendFunc) (int, error)
	Len() int
}

// Config holds connection timings.
type Config struct {
	URL                  string
	Token                string
	HandshakeTimeout     time.Duration
	HeartbeatInterval    time.Duration
	PongTimeout          time.Duration
	MaxReconnectAttempts int
	ReconnectBaseDelay   time.Duration
	ReconnectMaxDelay    time.Duration
	WriteTimeout         time.Duration
}

// ConfigFrom derives connection settings for the active environment.
func ConfigFrom(c *config.Config) Config {
	return Config{
		URL:                  c.Endpoint().RealtimeURL,
		Token:                c.Auth.Token,
		HandshakeTimeout:     c.Realtime.HandshakeTimeout,
		HeartbeatInterval:    c.Realtime.HeartbeatInterval,
		PongTimeout:          c.Realtime.PongTimeout,
		MaxReconnectAttempts: c.Realtime.MaxReconnectAttempts,
		ReconnectBaseDelay:   c.Realtime.ReconnectBaseDelay,
		ReconnectMaxDelay:    c.Realtime.ReconnectMaxDelay,
		WriteTimeout:         c.Realtime.PongTimeout,
	}
}

// link is one established transport and the goroutines serving it.
type link struct {
	conn   transport.Conn
	cancel context.CancelFunc

	mu    sync.Mutex
	pings map[string]chan struct{}
}

func (l *link) expect(reqID string) chan struct{} {
	ch := make(chan struct{})
	l.mu.Lock()
	l.pings[reqID] = ch
	l.mu.Unlock()
	return ch
}

func (l *link) resolve(reqID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if ch, ok := l.pings[reqID]; ok {
		close(ch)
		delete(l.pings, reqID)
	}
}

func (l *link) forget(reqID string) {
	l.mu.Lock()
	delete(l.pings, reqID)
	l.mu.Unlock()
}

// Manager maintains exactly one live connection per session.
type Manager struct {
	cfg     Config
	dialer  transport.Dialer
	queue   Queue
	logger  *zap.Logger
	metrics *metrics.Metrics
	bus     *bus.Bus
	state   *status.Machine

	mu         sync.Mutex
	sessionID  string
	link       *link
	cancelDial context.CancelFunc
	// attempt identifies the current dial; a stale dial never attaches.
	attempt uint64

	// sendMu orders direct sends after queue replay.
	sendMu sync.Mutex

	handlers *handlers
	wg       sync.WaitGroup
}

// New creates a disconnected manager.
func New(cfg Config, dialer transport.Dialer, queue Queue, logger *zap.Logger, m *metrics.Metrics) *Manager {
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	logger = logger.Named("realtime")
	b := bus.New()
	mgr := &Manager{
		cfg:      cfg,
		dialer:   dialer,
		queue:    queue,
		logger:   logger,
		metrics:  m,
		bus:      b,
		state:    status.NewMachine(b),
		handlers: newHandlers(logger),
	}
	m.SetConnectionState(string(status.Disconnected))
	return mgr
}

// Subscribe returns connection lifecycle events (connection.*).
func (m *Manager) Subscribe(namespace string, bufSize int) (<-chan bus.Event, func()) {
	return m.bus.Subscribe(namespace, bufSize)
}

// State returns the current connection state.
func (m *Manager) State() status.State {
	return m.state.Current()
}

// Since returns when the current state was entered.
func (m *Manager) Since() time.Time {
	return m.state.Since()
}

// SessionID returns the session of the last Connect call.
func (m *Manager) SessionID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessionID
}

// QueueDepth returns the number of events waiting for the link.
func (m *Manager) QueueDepth() int {
	return m.queue.Len()
}

// OnEvent registers fn for inbound events of the given kind. Handlers run on
// the read goroutine in arrival order.
func (m *Manager) OnEvent(kind wire.Kind, fn func(wire.Inbound)) {
	m.handlers.onEvent(kind, fn)
}

// OnStatus registers fn for connection state transitions.
func (m *Manager) OnStatus(fn func(status.StatusChange)) {
	m.handlers.onStatus(fn)
}

// OnError registers fn for terminal connection errors.
func (m *Manager) OnError(fn func(error)) {
	m.handlers.onError(fn)
}

// Connect dials the backend and completes the handshake. It is a no-op
// unless the manager is disconnected.
func (m *Manager) Connect(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	if m.state.Current() != status.Disconnected {
		m.mu.Unlock()
		return nil
	}
	change, err := m.state.Transition(status.Connecting)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	m.sessionID = sessionID
	m.attempt++
	dial := m.attempt
	ctx, cancel := context.WithCancel(ctx)
	m.cancelDial = cancel
	m.changed(change)
	m.mu.Unlock()
	defer cancel()

	m.logger.Info("connecting", zap.String("session", sessionID), zap.String("url", m.cfg.URL))
	conn, early, err := m.handshake(ctx, sessionID)
	if err != nil {
		m.mu.Lock()
		m.cancelDial = nil
		if change, terr := m.state.Transition(status.Disconnected); terr == nil {
			m.changed(change)
		}
		m.mu.Unlock()
		m.logger.Warn("handshake failed", zap.Error(err))
		return &model.ConnectionError{Op: "handshake", Err: err}
	}
	if !m.attach(dial, conn, early) {
		return &model.ConnectionError{Op: "handshake", Err: errSuperseded}
	}
	return nil
}

// Disconnect closes the link and cancels any pending reconnect. It always
// leaves the manager disconnected.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	if m.cancelDial != nil {
		m.cancelDial()
		m.cancelDial = nil
	}
	m.attempt++
	l := m.link
	m.link = nil
	changed := false
	if m.state.Current() != status.Disconnected {
		if change, err := m.state.Transition(status.Disconnected); err == nil {
			m.changed(change)
			changed = true
		}
	}
	m.mu.Unlock()

	if l != nil {
		l.cancel()
		_ = l.conn.Close("client disconnect")
	}
	if changed {
		m.logger.Info("disconnected")
	}
}

// Close disconnects and waits for background goroutines to exit.
func (m *Manager) Close() {
	m.Disconnect()
	m.wg.Wait()
	m.handlers.close()
}

// Send transmits evt when connected and routes it to the offline queue
// otherwise. A failed write re-queues the event and starts reconnection.
func (m *Manager) Send(ctx context.Context, evt wire.Outbound) (Delivery, error) {
	m.sendMu.Lock()
	defer m.sendMu.Unlock()

	m.mu.Lock()
	l := m.link
	m.mu.Unlock()

	if l == nil || m.queue.Len() > 0 {
		if evt.Kind == wire.KindPing {
			return 0, ErrNotConnected
		}
		if err := m.queue.Enqueue(evt); err != nil {
			return 0, err
		}
		return Queued, nil
	}

	if err := m.write(ctx, l.conn, evt); err != nil {
		if evt.Kind == wire.KindPing {
			m.lost(l, err)
			return 0, err
		}
		qerr := m.queue.Enqueue(evt)
		m.lost(l, err)
		if qerr != nil {
			return 0, qerr
		}
		return Queued, nil
	}
	return Transmitted, nil
}

func (m *Manager) write(ctx context.Context, conn transport.Conn, evt wire.Outbound) error {
	frame, err := wire.Encode(evt)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, m.cfg.WriteTimeout)
	defer cancel()
	if err := conn.Write(ctx, frame); err != nil {
		return fmt.Errorf("write %s: %w", evt.Kind, err)
	}
	return nil
}

// handshake dials and waits for the pong answering an initial ping. Frames
// that arrive before the pong are returned for dispatch after attach.
func (m *Manager) handshake(ctx context.Context, sessionID string) (transport.Conn, []wire.Inbound, error) {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.HandshakeTimeout)
	defer cancel()

	u, err := url.Parse(m.cfg.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("parse realtime url: %w", err)
	}
	q := u.Query()
	q.Set("session", sessionID)
	u.RawQuery = q.Encode()

	header := http.Header{}
	if m.cfg.Token != "" {
		header.Set("Authorization", "Bearer "+m.cfg.Token)
	}
	conn, err := m.dialer.Dial(ctx, u.String(), header)
	if err != nil {
		return nil, nil, err
	}

	reqID := uuid.NewString()
	if err := m.write(ctx, conn, wire.NewPing(reqID)); err != nil {
		_ = conn.Abort()
		return nil, nil, err
	}

	var early []wire.Inbound
	for {
		data, err := conn.Read(ctx)
		if err != nil {
			_ = conn.Abort()
			return nil, nil, fmt.Errorf("await pong: %w", err)
		}
		in, err := wire.DecodeInbound(data)
		if err != nil {
			m.logger.Warn("skipping malformed frame", zap.Error(err))
			continue
		}
		if in.Kind == wire.KindPong && in.RequestID == reqID {
			return conn, early, nil
		}
		early = append(early, in)
	}
}

// attach makes conn the live link, replays the offline queue and starts the
// read and heartbeat loops. It reports false if a Disconnect or a newer dial
// superseded this one.
func (m *Manager) attach(dial uint64, conn transport.Conn, early []wire.Inbound) bool {
	m.sendMu.Lock()

	m.mu.Lock()
	var (
		change status.StatusChange
		err    error = errSuperseded
	)
	if dial == m.attempt {
		change, err = m.state.Transition(status.Connected)
	}
	if err != nil {
		m.mu.Unlock()
		m.sendMu.Unlock()
		_ = conn.Close("superseded")
		return false
	}
	ctx, cancel := context.WithCancel(context.Background())
	l := &link{conn: conn, cancel: cancel, pings: make(map[string]chan struct{})}
	m.link = l
	m.cancelDial = nil
	m.changed(change)
	m.mu.Unlock()

	m.logger.Info("connected", zap.Int("queued", m.queue.Len()))

	m.wg.Add(2)
	go m.readLoop(ctx, l, early)
	go m.heartbeat(ctx, l)

	_, ferr := m.queue.Flush(ctx, func(ctx context.Context, evt wire.Outbound) error {
		return m.write(ctx, conn, evt)
	})
	m.sendMu.Unlock()

	if ferr != nil && ctx.Err() == nil {
		m.lost(l, ferr)
	}
	return true
}

// lost tears down l after an unexpected failure and starts reconnecting. It
// is a no-op if l is no longer the live link.
func (m *Manager) lost(l *link, cause error) {
	m.mu.Lock()
	if m.link != l {
		m.mu.Unlock()
		return
	}
	m.link = nil
	l.cancel()
	change, err := m.state.Transition(status.Reconnecting)
	if err != nil {
		m.mu.Unlock()
		_ = l.conn.Abort()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	m.cancelDial = cancel
	m.attempt++
	dial := m.attempt
	sessionID := m.sessionID
	m.changed(change)
	m.mu.Unlock()

	_ = l.conn.Abort()
	m.logger.Warn("connection lost", zap.Error(cause))

	m.wg.Add(1)
	go m.reconnect(ctx, dial, sessionID)
}

func (m *Manager) reconnect(ctx context.Context, dial uint64, sessionID string) {
	defer m.wg.Done()

	bo := newBackoff(m.cfg.ReconnectBaseDelay, m.cfg.ReconnectMaxDelay)
	var lastErr error
	for attempt := 1; attempt <= m.cfg.MaxReconnectAttempts; attempt++ {
		delay := bo.next(attempt)
		m.metrics.IncReconnectAttempt()
		m.bus.Emit(EventReconnecting, ReconnectAttempt{Attempt: attempt, Delay: delay})
		m.logger.Info("reconnect attempt", zap.Int("attempt", attempt), zap.Duration("delay", delay))

		if delay > 0 {
			t := time.NewTimer(delay)
			select {
			case <-t.C:
			case <-ctx.Done():
				t.Stop()
				return
			}
		}

		conn, early, err := m.handshake(ctx, sessionID)
		if err == nil {
			m.attach(dial, conn, early)
			return
		}
		if ctx.Err() != nil {
			return
		}
		lastErr = err
		m.logger.Warn("reconnect attempt failed", zap.Int("attempt", attempt), zap.Error(err))
		m.bus.Emit(EventReconnectFailed, ReconnectAttempt{Attempt: attempt, Delay: delay, Err: err})
	}

	m.mu.Lock()
	if ctx.Err() != nil {
		m.mu.Unlock()
		return
	}
	m.cancelDial = nil
	change, err := m.state.Transition(status.Disconnected)
	if err != nil {
		m.mu.Unlock()
		return
	}
	m.changed(change)
	m.mu.Unlock()

	cerr := &model.ConnectionError{Op: "reconnect", Attempts: m.cfg.MaxReconnectAttempts, Err: lastErr}
	m.logger.Error("giving up reconnecting", zap.Error(cerr))
	m.bus.Emit(EventFailed, cerr)
	m.handlers.reportError(cerr)
}

func (m *Manager) readLoop(ctx context.Context, l *link, early []wire.Inbound) {
	defer m.wg.Done()

	for _, in := range early {
		m.handlers.dispatch(in)
	}
	for {
		data, err := l.conn.Read(ctx)
		if err != nil {
			if ctx.Err() == nil {
				m.lost(l, fmt.Errorf("read: %w", err))
			}
			return
		}
		in, err := wire.DecodeInbound(data)
		if err != nil {
			m.logger.Warn("skipping malformed frame", zap.Error(err))
			continue
		}
		if in.Kind == wire.KindPong {
			l.resolve(in.RequestID)
			continue
		}
		m.handlers.dispatch(in)
	}
}

func (m *Manager) heartbeat(ctx context.Context, l *link) {
	defer m.wg.Done()
	if m.cfg.HeartbeatInterval <= 0 {
		return
	}

	ticker := time.NewTicker(m.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		reqID := uuid.NewString()
		pong := l.expect(reqID)
		if err := m.write(ctx, l.conn, wire.NewPing(reqID)); err != nil {
			l.forget(reqID)
			if ctx.Err() == nil {
				m.lost(l, err)
			}
			return
		}

		timer := time.NewTimer(m.cfg.PongTimeout)
		select {
		case <-pong:
			timer.Stop()
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			l.forget(reqID)
			m.metrics.IncHeartbeatMiss()
			m.bus.Emit(EventHeartbeatMissed, reqID)
			m.lost(l, ErrPongTimeout)
			return
		}
	}
}

// changed reports a transition. Callers hold m.mu so reports keep the order
// of the transitions themselves.
func (m *Manager) changed(change status.StatusChange) {
	m.metrics.SetConnectionState(string(change.To))
	m.handlers.reportStatus(change)
}
