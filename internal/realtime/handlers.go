package realtime

import (
	"slices"
	"sync"

	"github.com/emberapp/ember/internal/status"
	"github.com/emberapp/ember/internal/wire"
	"go.uber.org/zap"
)

// handlers holds the manager's callback registrations. Inbound events run
// synchronously on the reader; status and error callbacks run in order on a
// dedicated goroutine so they may call back into the manager.
type handlers struct {
	logger *zap.Logger

	mu     sync.RWMutex
	events map[wire.Kind][]func(wire.Inbound)
	status []func(status.StatusChange)
	errors []func(error)

	qmu     sync.Mutex
	pending []func()
	wake    chan struct{}
	done    chan struct{}
	once    sync.Once
}

func newHandlers(logger *zap.Logger) *handlers {
	h := &handlers{
		logger: logger,
		events: make(map[wire.Kind][]func(wire.Inbound)),
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	go h.run()
	return h
}

func (h *handlers) onEvent(kind wire.Kind, fn func(wire.Inbound)) {
	h.mu.Lock()
	h.events[kind] = append(h.events[kind], fn)
	h.mu.Unlock()
}

func (h *handlers) onStatus(fn func(status.StatusChange)) {
	h.mu.Lock()
	h.status = append(h.status, fn)
	h.mu.Unlock()
}

func (h *handlers) onError(fn func(error)) {
	h.mu.Lock()
	h.errors = append(h.errors, fn)
	h.mu.Unlock()
}

func (h *handlers) dispatch(in wire.Inbound) {
	h.mu.RLock()
	fns := h.events[in.Kind]
	h.mu.RUnlock()
	if len(fns) == 0 {
		h.logger.Debug("unhandled inbound event", zap.String("kind", string(in.Kind)))
		return
	}
	for _, fn := range fns {
		h.call(string(in.Kind), func() { fn(in) })
	}
}

func (h *handlers) reportStatus(change status.StatusChange) {
	h.mu.RLock()
	fns := slices.Clone(h.status)
	h.mu.RUnlock()
	h.post(func() {
		for _, fn := range fns {
			h.call("status", func() { fn(change) })
		}
	})
}

func (h *handlers) reportError(err error) {
	h.mu.RLock()
	fns := slices.Clone(h.errors)
	h.mu.RUnlock()
	h.post(func() {
		for _, fn := range fns {
			h.call("error", func() { fn(err) })
		}
	})
}

func (h *handlers) post(fn func()) {
	h.qmu.Lock()
	h.pending = append(h.pending, fn)
	h.qmu.Unlock()
	select {
	case h.wake <- struct{}{}:
	default:
	}
}

func (h *handlers) run() {
	for {
		select {
		case <-h.wake:
		case <-h.done:
			return
		}
		for {
			h.qmu.Lock()
			if len(h.pending) == 0 {
				h.qmu.Unlock()
				break
			}
			fn := h.pending[0]
			h.pending = h.pending[1:]
			h.qmu.Unlock()
			fn()
		}
	}
}

func (h *handlers) close() {
	h.once.Do(func() { close(h.done) })
}

func (h *handlers) call(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("handler panicked", zap.String("handler", name), zap.Any("panic", r))
		}
	}()
	fn()
}
