// Package stream carries the preview player's output and the session's
// events to the browser: MP3 over chunked HTTP, Opus over WebRTC, and JSON
// events over a WebSocket.
package stream

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// DefaultListenerBuffer is about 3 seconds of 20ms frames.
const DefaultListenerBuffer = 150

// Broadcaster fans out PCM frames from the preview pipeline to N listeners.
type Broadcaster struct {
	mu        sync.RWMutex
	listeners map[*Listener]struct{}
}

// Listener receives PCM frames from the broadcaster.
type Listener struct {
	C chan []int16 // buffered channel of 20ms PCM frames

	done    chan struct{}
	once    sync.Once
	dropped atomic.Uint64
}

// Done is closed when the listener is unsubscribed.
func (l *Listener) Done() <-chan struct{} {
	return l.done
}

// Dropped counts frames skipped because the listener was too slow.
func (l *Listener) Dropped() uint64 {
	return l.dropped.Load()
}

// NewBroadcaster creates a new broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		listeners: make(map[*Listener]struct{}),
	}
}

// Subscribe registers a listener with the default buffer.
func (b *Broadcaster) Subscribe() *Listener {
	return b.SubscribeBuffered(DefaultListenerBuffer)
}

// SubscribeBuffered registers a listener holding up to n frames.
func (b *Broadcaster) SubscribeBuffered(n int) *Listener {
	if n <= 0 {
		n = DefaultListenerBuffer
	}
	l := &Listener{
		C:    make(chan []int16, n),
		done: make(chan struct{}),
	}
	b.mu.Lock()
	b.listeners[l] = struct{}{}
	b.mu.Unlock()
	return l
}

// Unsubscribe removes a listener and signals it to stop. Safe to call twice.
func (b *Broadcaster) Unsubscribe(l *Listener) {
	b.mu.Lock()
	delete(b.listeners, l)
	b.mu.Unlock()
	l.once.Do(func() { close(l.done) })
}

// ListenerCount returns the number of active listeners.
func (b *Broadcaster) ListenerCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners)
}

// Run reads frames from source and fans out to all listeners until ctx is
// cancelled or source closes. Slow listeners get frames dropped rather than
// blocking the broadcast.
func (b *Broadcaster) Run(ctx context.Context, source <-chan []int16) {
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-source:
			if !ok {
				return
			}
			b.mu.RLock()
			for l := range b.listeners {
				select {
				case l.C <- frame:
				default:
					if n := l.dropped.Add(1); n%DefaultListenerBuffer == 1 {
						logrus.WithFields(logrus.Fields{
							"function": "Run",
							"dropped":  n,
						}).Warn("Preview listener falling behind")
					}
				}
			}
			b.mu.RUnlock()
		}
	}
}
