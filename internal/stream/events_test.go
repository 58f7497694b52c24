package stream

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type message struct {
	Kind string `json:"kind"`
	Seq  int    `json:"seq"`
}

func dialHub(t *testing.T, h *EventHub) (*websocket.Conn, context.Context) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	t.Cleanup(cancel)

	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.CloseNow() })
	return conn, ctx
}

func TestEventHubSnapshotThenEvents(t *testing.T) {
	h := NewEventHub(func() any { return message{Kind: "snapshot"} })
	conn, ctx := dialHub(t, h)

	var got message
	require.NoError(t, wsjson.Read(ctx, conn, &got))
	assert.Equal(t, "snapshot", got.Kind)
	assert.Equal(t, 1, h.ClientCount())

	h.Publish(message{Kind: "upload", Seq: 1})
	h.Publish(message{Kind: "completed", Seq: 1})

	require.NoError(t, wsjson.Read(ctx, conn, &got))
	assert.Equal(t, message{Kind: "upload", Seq: 1}, got)
	require.NoError(t, wsjson.Read(ctx, conn, &got))
	assert.Equal(t, message{Kind: "completed", Seq: 1}, got)
}

func TestEventHubForgetsClosedClients(t *testing.T) {
	h := NewEventHub(nil)
	conn, _ := dialHub(t, h)

	require.Eventually(t, func() bool { return h.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)
	conn.Close(websocket.StatusNormalClosure, "")
	assert.Eventually(t, func() bool { return h.ClientCount() == 0 }, 2*time.Second, 10*time.Millisecond)

	h.Publish(message{Kind: "nobody"})
}
