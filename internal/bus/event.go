package bus

import (
	"strings"
	"time"
)

// Event is a component notification. Kind is dotted, "<component>.<what>",
// for example "sync.conflict_detected".
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// Namespace returns the component part of Kind, including the dot.
func (e Event) Namespace() string {
	if i := strings.IndexByte(e.Kind, '.'); i >= 0 {
		return e.Kind[:i+1]
	}
	return e.Kind
}

// Matches reports whether a subscription to namespace receives e. The empty
// namespace receives everything.
func (e Event) Matches(namespace string) bool {
	return strings.HasPrefix(e.Kind, namespace)
}
