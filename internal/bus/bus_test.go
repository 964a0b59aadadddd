package bus

import (
	"testing"
	"time"
)

func TestPublishSubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("connection.", 10)
	defer unsub()

	b.Publish(Event{Kind: "connection.status_changed", Timestamp: time.Now(), Payload: "test"})

	select {
	case evt := <-ch:
		if evt.Kind != "connection.status_changed" {
			t.Errorf("got kind %q, want connection.status_changed", evt.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestNamespaceFiltering(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("sync.", 10)
	defer unsub()

	b.Publish(Event{Kind: "connection.status_changed"})
	b.Publish(Event{Kind: "sync.initialized"})

	select {
	case evt := <-ch:
		if evt.Kind != "sync.initialized" {
			t.Errorf("got kind %q, want sync.initialized", evt.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}

	// Ensure connection event was not delivered.
	select {
	case evt := <-ch:
		t.Errorf("unexpected event: %v", evt)
	case <-time.After(50 * time.Millisecond):
		// Expected: no more events.
	}
}

func TestUnsubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("connection.", 10)
	unsub()

	b.Publish(Event{Kind: "connection.status_changed"})

	select {
	case evt := <-ch:
		t.Errorf("received event after unsubscribe: %v", evt)
	case <-time.After(50 * time.Millisecond):
		// Expected.
	}
}

func TestDropOnFullBuffer(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("test.", 1)
	defer unsub()

	// Fill buffer.
	b.Publish(Event{Kind: "test.one"})
	// This should be dropped (non-blocking).
	b.Publish(Event{Kind: "test.two"})

	evt := <-ch
	if evt.Kind != "test.one" {
		t.Errorf("got %q, want test.one", evt.Kind)
	}
}

func TestEmitStampsTime(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("typing.", 1)
	defer unsub()

	before := time.Now()
	b.Emit("typing.changed", 42)

	evt := <-ch
	if evt.Timestamp.Before(before) {
		t.Errorf("timestamp %v before %v", evt.Timestamp, before)
	}
	if evt.Payload != 42 {
		t.Errorf("payload = %v, want 42", evt.Payload)
	}
}

func TestMergeFansIn(t *testing.T) {
	a, b := New(), New()
	ch, stop := Merge("", 10, a, b)

	a.Emit("sync.initialized", nil)
	b.Emit("connection.status", nil)

	seen := map[string]bool{}
	for len(seen) < 2 {
		select {
		case evt := <-ch:
			seen[evt.Kind] = true
		case <-time.After(time.Second):
			t.Fatalf("timeout, got %v", seen)
		}
	}

	stop()
	if _, ok := <-ch; ok {
		t.Error("merged channel should be closed after stop")
	}
	// Calling stop twice is safe.
	stop()
}

func TestEventNamespace(t *testing.T) {
	tests := []struct {
		kind, ns string
	}{
		{"sync.conflict_detected", "sync."},
		{"queue.dropped", "queue."},
		{"bare", "bare"},
	}
	for _, tt := range tests {
		e := Event{Kind: tt.kind}
		if got := e.Namespace(); got != tt.ns {
			t.Errorf("Namespace(%q) = %q, want %q", tt.kind, got, tt.ns)
		}
		if !e.Matches("") || !e.Matches(tt.ns) {
			t.Errorf("%q should match %q and the empty namespace", tt.kind, tt.ns)
		}
	}
	if (Event{Kind: "typing.changed"}).Matches("sync.") {
		t.Error("typing event matched sync namespace")
	}
}
