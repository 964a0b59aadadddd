package wire

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/emberapp/ember/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeEnvelopeShape(t *testing.T) {
	data, err := Encode(NewTyping("c1", true))
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "typing", got["type"])
	payload := got["payload"].(map[string]any)
	assert.Equal(t, "c1", payload["conversationId"])
	assert.Equal(t, true, payload["isTyping"])
	_, hasReq := got["requestId"]
	assert.False(t, hasReq)
}

func TestDecodeOutboundRestoresTypedPayload(t *testing.T) {
	msg := model.NewOutgoing("c1", "alice", "bob", "hey", model.TypeText)
	data, err := Encode(NewMessage(msg))
	require.NoError(t, err)

	out, err := DecodeOutbound(data)
	require.NoError(t, err)
	assert.Equal(t, KindMessage, out.Kind)
	assert.Equal(t, msg.ClientID, out.ClientMessageID())
	assert.Equal(t, "c1", out.ConversationID())

	p, ok := out.Payload.(MessagePayload)
	require.True(t, ok)
	assert.Equal(t, "hey", p.Content)
	assert.True(t, p.CreatedAt.Equal(msg.CreatedAt))
}

func TestDecodeOutboundUnknownKind(t *testing.T) {
	_, err := DecodeOutbound([]byte(`{"type":"teleport","payload":{}}`))
	assert.ErrorIs(t, err, ErrUnknownKind)
}

func TestDecodeInbound(t *testing.T) {
	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	data, err := EncodeInbound(KindMessageNew, "", InboundMessage{
		MessageID:       "srv-1",
		ConversationID:  "c1",
		FromUserID:      "bob",
		ToUserID:        "alice",
		Content:         "hi",
		Type:            "sticker",
		ServerTimestamp: ts,
	})
	require.NoError(t, err)

	in, err := DecodeInbound(data)
	require.NoError(t, err)
	assert.Equal(t, KindMessageNew, in.Kind)

	var msg InboundMessage
	require.NoError(t, in.Decode(&msg))
	m := msg.ToModel()
	assert.Equal(t, "srv-1", m.ID)
	assert.Equal(t, model.TypeText, m.Type, "unknown types fall back to text")
	assert.Equal(t, model.StatusSent, m.Status)
	assert.True(t, m.ServerTimestamp.Equal(ts))
}

func TestDecodeInboundMissingType(t *testing.T) {
	_, err := DecodeInbound([]byte(`{"payload":{}}`))
	assert.ErrorIs(t, err, ErrUnknownKind)

	_, err = DecodeInbound([]byte(`not json`))
	assert.Error(t, err)
}

func TestPongCarriesRequestID(t *testing.T) {
	data, err := EncodeInbound(KindPong, "req-7", nil)
	require.NoError(t, err)
	in, err := DecodeInbound(data)
	require.NoError(t, err)
	assert.Equal(t, "req-7", in.RequestID)
	assert.NoError(t, in.Decode(&struct{}{}))
}
