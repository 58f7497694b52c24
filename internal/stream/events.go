package stream

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/sirupsen/logrus"
)

const (
	eventBuffer       = 32
	eventWriteTimeout = 5 * time.Second
)

type eventClient struct {
	send chan any
	done chan struct{}
	once sync.Once
}

func (c *eventClient) close() {
	c.once.Do(func() { close(c.done) })
}

// EventHub pushes JSON messages to every connected WebSocket client. A new
// client first receives the value returned by snapshot.
type EventHub struct {
	snapshot func() any

	mu      sync.Mutex
	clients map[*eventClient]struct{}
}

// NewEventHub creates a hub. snapshot may be nil.
func NewEventHub(snapshot func() any) *EventHub {
	return &EventHub{
		snapshot: snapshot,
		clients:  make(map[*eventClient]struct{}),
	}
}

// ClientCount returns the number of connected clients.
func (h *EventHub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Publish queues v for every client. A client whose queue is full is
// disconnected so it can reconnect and resynchronise from the snapshot.
func (h *EventHub) Publish(v any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- v:
		default:
			delete(h.clients, c)
			c.close()
			logrus.WithFields(logrus.Fields{
				"function": "Publish",
			}).Warn("Event client too slow, disconnecting")
		}
	}
}

func (h *EventHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "ServeHTTP",
			"error":    err.Error(),
		}).Debug("WebSocket accept failed")
		return
	}
	defer conn.CloseNow()

	// Clients only listen; CloseRead handles pings and the close handshake.
	ctx := conn.CloseRead(r.Context())

	c := &eventClient{send: make(chan any, eventBuffer), done: make(chan struct{})}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		delete(h.clients, c)
		h.mu.Unlock()
		c.close()
	}()

	if h.snapshot != nil {
		if err := write(ctx, conn, h.snapshot()); err != nil {
			return
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			conn.Close(websocket.StatusPolicyViolation, "too slow")
			return
		case v := <-c.send:
			if err := write(ctx, conn, v); err != nil {
				return
			}
		}
	}
}

func write(ctx context.Context, conn *websocket.Conn, v any) error {
	ctx, cancel := context.WithTimeout(ctx, eventWriteTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, v)
}
