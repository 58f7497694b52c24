package stream

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscribeUnsubscribe(t *testing.T) {
	b := NewBroadcaster()
	assert.Zero(t, b.ListenerCount())

	l1 := b.Subscribe()
	l2 := b.SubscribeBuffered(4)
	assert.Equal(t, 2, b.ListenerCount())
	assert.Equal(t, DefaultListenerBuffer, cap(l1.C))
	assert.Equal(t, 4, cap(l2.C))

	b.Unsubscribe(l1)
	assert.Equal(t, 1, b.ListenerCount())
	b.Unsubscribe(l2)
	b.Unsubscribe(l2)
	assert.Zero(t, b.ListenerCount())

	select {
	case <-l1.Done():
	default:
		t.Error("Done not closed after Unsubscribe")
	}
}

func TestBroadcastDeliversToAll(t *testing.T) {
	b := NewBroadcaster()
	listeners := make([]*Listener, 5)
	for i := range listeners {
		listeners[i] = b.Subscribe()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	source := make(chan []int16, 10)
	go b.Run(ctx, source)

	source <- []int16{42, -42}

	for i, l := range listeners {
		select {
		case got := <-l.C:
			assert.Equal(t, []int16{42, -42}, got, "listener %d", i)
		case <-time.After(time.Second):
			t.Fatalf("listener %d timed out", i)
		}
	}
}

func TestBroadcastDropsForSlowListener(t *testing.T) {
	b := NewBroadcaster()
	slow := b.SubscribeBuffered(10)
	fast := b.Subscribe()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	source := make(chan []int16, 50)
	go b.Run(ctx, source)

	for i := 0; i < 50; i++ {
		source <- []int16{int16(i)}
	}

	got := 0
	for got < 50 {
		select {
		case <-fast.C:
			got++
		case <-time.After(time.Second):
			t.Fatalf("fast listener received %d of 50", got)
		}
	}

	assert.Eventually(t, func() bool { return slow.Dropped() == 40 }, time.Second, 5*time.Millisecond)
	assert.Len(t, slow.C, 10)
	assert.Zero(t, fast.Dropped())
}

func TestBroadcastStops(t *testing.T) {
	for name, stop := range map[string]func(cancel context.CancelFunc, source chan []int16){
		"context cancel": func(cancel context.CancelFunc, _ chan []int16) { cancel() },
		"source close":   func(_ context.CancelFunc, source chan []int16) { close(source) },
	} {
		t.Run(name, func(t *testing.T) {
			b := NewBroadcaster()
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			source := make(chan []int16)

			var wg sync.WaitGroup
			wg.Add(1)
			go func() {
				defer wg.Done()
				b.Run(ctx, source)
			}()
			stop(cancel, source)

			done := make(chan struct{})
			go func() { wg.Wait(); close(done) }()
			select {
			case <-done:
			case <-time.After(2 * time.Second):
				require.Fail(t, "broadcaster did not stop")
			}
		})
	}
}
