package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// echoServer answers every text frame with the same text, after first
// sending a binary frame the client must skip. It reports the Authorization
// header it saw.
func echoServer(t *testing.T, auth chan<- string) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth <- r.Header.Get("Authorization")
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()
		for {
			typ, data, err := c.ReadMessage()
			if err != nil {
				return
			}
			if typ != websocket.TextMessage {
				continue
			}
			_ = c.WriteMessage(websocket.BinaryMessage, []byte{0x1})
			_ = c.WriteMessage(websocket.TextMessage, data)
		}
	}))
}

func TestWebSocketDialerRoundTrip(t *testing.T) {
	auth := make(chan string, 1)
	srv := echoServer(t, auth)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, err := WebSocketDialer{ReadLimit: 1 << 16}.Dial(ctx, url, http.Header{"Authorization": {"Bearer t0ken"}})
	require.NoError(t, err)
	defer func() { _ = conn.Abort() }()

	assert.Equal(t, "Bearer t0ken", <-auth)

	frame := []byte(`{"type":"ping","requestId":"r1"}`)
	require.NoError(t, conn.Write(ctx, frame))

	got, err := conn.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, frame, got, "binary frames are skipped")

	require.NoError(t, conn.Close("bye"))
}

func TestWebSocketDialerRefused(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "no", http.StatusUnauthorized)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := WebSocketDialer{}.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "websocket dial")
}
