package status

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/emberapp/ember/internal/bus"
)

// ErrInvalidTransition is wrapped by Transition when the move is not allowed.
var ErrInvalidTransition = errors.New("invalid transition")

// State represents the realtime connection state of a session.
type State string

const (
	Disconnected State = "disconnected"
	Connecting   State = "connecting"
	Connected    State = "connected"
	Reconnecting State = "reconnecting"
)

// EventStatusChanged is the bus kind published on every transition.
const EventStatusChanged = "connection.status_changed"

// validTransitions defines allowed state transitions. Reconnect attempts stay
// in Reconnecting until one succeeds or the attempt ceiling is reached.
var validTransitions = map[State][]State{
	Disconnected: {Connecting},
	Connecting:   {Connected, Disconnected},
	Connected:    {Reconnecting, Disconnected},
	Reconnecting: {Connected, Disconnected},
}

// Machine tracks and enforces connection state transitions.
type Machine struct {
	mu      sync.RWMutex
	current State
	bus     *bus.Bus
	since   time.Time
}

// NewMachine creates a new state machine starting in Disconnected state.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{
		current: Disconnected,
		bus:     b,
		since:   time.Now(),
	}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Since returns when the current state was entered.
func (m *Machine) Since() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.since
}

// Transition attempts to move to a new state. Returns error if transition is invalid.
func (m *Machine) Transition(to State) (StatusChange, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	allowed := validTransitions[m.current]
	if !slices.Contains(allowed, to) {
		return StatusChange{}, fmt.Errorf("%w from %s to %s", ErrInvalidTransition, m.current, to)
	}
	change := StatusChange{From: m.current, To: to}
	m.current = to
	m.since = time.Now()
	if m.bus != nil {
		m.bus.Publish(bus.Event{
			Kind:      EventStatusChanged,
			Timestamp: m.since,
			Payload:   change,
		})
	}
	return change, nil
}

// StatusChange is the payload for status change events.
type StatusChange struct {
	From State
	To   State
}
