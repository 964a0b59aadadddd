package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/emberapp/ember/internal/model"
	"github.com/emberapp/ember/internal/wire"
	"go.uber.org/zap"
)

type recorder struct {
	ingested  []model.Message
	ingestErr error
	confirmed []string
	failed    []string
	receipts  []wire.Kind
	typing    []string
}

func (r *recorder) Ingest(_ context.Context, msg model.Message) error {
	r.ingested = append(r.ingested, msg)
	return r.ingestErr
}

func (r *recorder) Confirm(clientID, serverID string, _ time.Time) error {
	r.confirmed = append(r.confirmed, clientID+"->"+serverID)
	return nil
}

func (r *recorder) Fail(clientID, reason string) error {
	r.failed = append(r.failed, clientID+":"+reason)
	return nil
}

func (r *recorder) ApplyRemote(kind wire.Kind, rc wire.Receipt) error {
	r.receipts = append(r.receipts, kind)
	return nil
}

func (r *recorder) OnRemoteTypingEvent(conversationID, userID string, isTyping bool) {
	state := "stop"
	if isTyping {
		state = "start"
	}
	r.typing = append(r.typing, conversationID+"/"+userID+"/"+state)
}

// source collects registrations the way the realtime manager does.
type source map[wire.Kind][]func(wire.Inbound)

func (s source) OnEvent(kind wire.Kind, fn func(wire.Inbound)) { s[kind] = append(s[kind], fn) }

func (s source) push(t *testing.T, kind wire.Kind, payload any) {
	t.Helper()
	data, err := wire.EncodeInbound(kind, "", payload)
	if err != nil {
		t.Fatal(err)
	}
	in, err := wire.DecodeInbound(data)
	if err != nil {
		t.Fatal(err)
	}
	fns := s[kind]
	if len(fns) == 0 {
		t.Fatalf("no handler registered for %s", kind)
	}
	for _, fn := range fns {
		fn(in)
	}
}

func setup(t *testing.T) (*recorder, source) {
	t.Helper()
	r := &recorder{}
	src := source{}
	NewEventHandler(r, r, r, zap.NewNop()).Register(src)
	return r, src
}

func TestMessageNewIsIngested(t *testing.T) {
	r, src := setup(t)
	ts := time.UnixMilli(1700000000000).UTC()
	src.push(t, wire.KindMessageNew, wire.InboundMessage{
		MessageID:       "srv-1",
		ConversationID:  "c1",
		FromUserID:      "bob",
		ToUserID:        "alice",
		Content:         "hi",
		Type:            model.TypeText,
		ServerTimestamp: ts,
	})

	if len(r.ingested) != 1 {
		t.Fatalf("ingested %d messages, want 1", len(r.ingested))
	}
	got := r.ingested[0]
	if got.ID != "srv-1" || got.SenderID != "bob" || got.Status != model.StatusSent {
		t.Errorf("ingested = %+v", got)
	}
	if !got.ServerTimestamp.Equal(ts) {
		t.Errorf("server timestamp = %v, want %v", got.ServerTimestamp, ts)
	}
	if len(r.typing) != 1 || r.typing[0] != "c1/bob/stop" {
		t.Errorf("typing = %v, want sender's indicator cleared", r.typing)
	}
}

func TestIngestErrorIsSwallowed(t *testing.T) {
	r, src := setup(t)
	r.ingestErr = errors.New("disk full")
	src.push(t, wire.KindMessageNew, wire.InboundMessage{MessageID: "srv-1", ConversationID: "c1"})
	if len(r.ingested) != 1 {
		t.Errorf("ingested %d, want 1", len(r.ingested))
	}
}

func TestAckAndRejection(t *testing.T) {
	r, src := setup(t)
	src.push(t, wire.KindMessageAck, wire.MessageAck{ClientMessageID: "cm-1", MessageID: "srv-1"})
	src.push(t, wire.KindMessageRejected, wire.MessageRejected{ClientMessageID: "cm-2", Reason: "blocked"})

	if len(r.confirmed) != 1 || r.confirmed[0] != "cm-1->srv-1" {
		t.Errorf("confirmed = %v", r.confirmed)
	}
	if len(r.failed) != 1 || r.failed[0] != "cm-2:blocked" {
		t.Errorf("failed = %v", r.failed)
	}
}

func TestReceiptsAreApplied(t *testing.T) {
	r, src := setup(t)
	src.push(t, wire.KindMessageDelivered, wire.Receipt{MessageID: "srv-1", ConversationID: "c1"})
	src.push(t, wire.KindMessageRead, wire.Receipt{MessageID: "srv-1", ConversationID: "c1"})

	want := []wire.Kind{wire.KindMessageDelivered, wire.KindMessageRead}
	if len(r.receipts) != len(want) {
		t.Fatalf("receipts = %v, want %v", r.receipts, want)
	}
	for i := range want {
		if r.receipts[i] != want[i] {
			t.Errorf("receipt[%d] = %s, want %s", i, r.receipts[i], want[i])
		}
	}
}

func TestTypingEvents(t *testing.T) {
	r, src := setup(t)
	src.push(t, wire.KindTypingStart, wire.TypingEvent{ConversationID: "c1", UserID: "bob"})
	src.push(t, wire.KindTypingStop, wire.TypingEvent{ConversationID: "c1", UserID: "bob"})

	want := []string{"c1/bob/start", "c1/bob/stop"}
	if len(r.typing) != 2 || r.typing[0] != want[0] || r.typing[1] != want[1] {
		t.Errorf("typing = %v, want %v", r.typing, want)
	}
}

func TestMalformedPayloadIsDropped(t *testing.T) {
	r := &recorder{}
	h := NewEventHandler(r, r, r, zap.NewNop())
	h.Handle(wire.Inbound{Kind: wire.KindMessageAck, Raw: []byte(`{"clientMessageId": 7}`)})
	h.Handle(wire.Inbound{Kind: "presence:online", Raw: []byte(`{}`)})

	if len(r.confirmed) != 0 {
		t.Errorf("confirmed = %v, want none", r.confirmed)
	}
}
