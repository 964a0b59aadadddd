package bus

import (
	"sync"
	"time"
)

// Bus is an in-process publish/subscribe topic with namespace filtering.
// Each component owns its own Bus; there is no process-wide instance.
type Bus struct {
	mu   sync.RWMutex
	subs map[int]*subscription
	next int
}

type subscription struct {
	namespace string
	ch        chan Event
}

// New creates a new event bus.
func New() *Bus {
	return &Bus{
		subs: make(map[int]*subscription),
	}
}

// Publish sends an event to all subscribers whose namespace is a prefix of event.Kind.
func (b *Bus) Publish(evt Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if evt.Matches(sub.namespace) {
			select {
			case sub.ch <- evt:
			default:
				// Drop event if subscriber is full (non-blocking).
			}
		}
	}
}

// Emit publishes an event of the given kind stamped with the current time.
func (b *Bus) Emit(kind string, payload any) {
	b.Publish(Event{Kind: kind, Timestamp: time.Now(), Payload: payload})
}

// Subscribe returns a channel that receives events matching the given namespace prefix.
// bufSize controls the channel buffer. Returns the channel and an unsubscribe function.
func (b *Bus) Subscribe(namespace string, bufSize int) (<-chan Event, func()) {
	ch := make(chan Event, bufSize)
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = &subscription{namespace: namespace, ch: ch}
	b.mu.Unlock()

	return ch, func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}

// Subscriber is anything exposing a namespaced event subscription.
type Subscriber interface {
	Subscribe(namespace string, bufSize int) (<-chan Event, func())
}

// Merge fans in events matching namespace from several subscribers into one
// channel. The returned function unsubscribes from all sources and closes
// the merged channel.
func Merge(namespace string, bufSize int, sources ...Subscriber) (<-chan Event, func()) {
	out := make(chan Event, bufSize)
	done := make(chan struct{})
	var wg sync.WaitGroup
	unsubs := make([]func(), 0, len(sources))

	for _, src := range sources {
		ch, unsub := src.Subscribe(namespace, bufSize)
		unsubs = append(unsubs, unsub)
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case evt := <-ch:
					select {
					case out <- evt:
					default:
					}
				case <-done:
					return
				}
			}
		}()
	}

	var once sync.Once
	return out, func() {
		once.Do(func() {
			for _, unsub := range unsubs {
				unsub()
			}
			close(done)
			wg.Wait()
			close(out)
		})
	}
}
