// Package playback keeps the two preview channels, original and enhanced,
// from playing over each other.
package playback

import (
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

// Channel is one of the two preview outputs.
type Channel int

const (
	Original Channel = iota
	Enhanced
)

func (c Channel) String() string {
	switch c {
	case Original:
		return "original"
	case Enhanced:
		return "enhanced"
	}
	return fmt.Sprintf("channel(%d)", int(c))
}

func (c Channel) other() Channel {
	if c == Original {
		return Enhanced
	}
	return Original
}

func (c Channel) valid() bool {
	return c == Original || c == Enhanced
}

// ParseChannel maps a channel name to a Channel.
func ParseChannel(s string) (Channel, error) {
	switch s {
	case "original":
		return Original, nil
	case "enhanced":
		return Enhanced, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownChannel, s)
}

var (
	// ErrChannelUnavailable is returned when playing a channel with no handle.
	ErrChannelUnavailable = errors.New("channel has nothing to play")
	ErrUnknownChannel     = errors.New("unknown channel")
)

// Change describes one channel starting or stopping.
type Change struct {
	Channel Channel
	Playing bool
}

// Coordinator holds the playing/paused state of both channels. At most one
// channel is playing at any time.
type Coordinator struct {
	mu        sync.Mutex
	available [2]bool
	playing   [2]bool
	listeners []func(Change)
}

// NewCoordinator returns a coordinator with both channels paused and unavailable.
func NewCoordinator() *Coordinator {
	return &Coordinator{}
}

// OnChange registers fn to run after every channel start or stop, in order.
// fn runs without the coordinator lock held.
func (c *Coordinator) OnChange(fn func(Change)) {
	c.mu.Lock()
	c.listeners = append(c.listeners, fn)
	c.mu.Unlock()
}

// SetAvailable records whether ch has something to play. Making a playing
// channel unavailable pauses it.
func (c *Coordinator) SetAvailable(ch Channel, ok bool) {
	if !ch.valid() {
		return
	}
	c.mu.Lock()
	c.available[ch] = ok
	var changes []Change
	if !ok && c.playing[ch] {
		c.playing[ch] = false
		changes = append(changes, Change{Channel: ch, Playing: false})
	}
	listeners := c.listeners
	c.mu.Unlock()
	notify(listeners, changes)
}

// Available reports whether ch has something to play.
func (c *Coordinator) Available(ch Channel) bool {
	if !ch.valid() {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.available[ch]
}

// Play starts ch, pausing the other channel first.
func (c *Coordinator) Play(ch Channel) error {
	if !ch.valid() {
		return ErrUnknownChannel
	}
	c.mu.Lock()
	if !c.available[ch] {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrChannelUnavailable, ch)
	}
	var changes []Change
	if o := ch.other(); c.playing[o] {
		c.playing[o] = false
		changes = append(changes, Change{Channel: o, Playing: false})
	}
	if !c.playing[ch] {
		c.playing[ch] = true
		changes = append(changes, Change{Channel: ch, Playing: true})
	}
	listeners := c.listeners
	c.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function": "Play",
		"channel":  ch.String(),
	}).Debug("Preview channel playing")
	notify(listeners, changes)
	return nil
}

// Pause stops ch. Pausing a paused channel is a no-op.
func (c *Coordinator) Pause(ch Channel) {
	if !ch.valid() {
		return
	}
	c.mu.Lock()
	var changes []Change
	if c.playing[ch] {
		c.playing[ch] = false
		changes = append(changes, Change{Channel: ch, Playing: false})
	}
	listeners := c.listeners
	c.mu.Unlock()
	notify(listeners, changes)
}

// Toggle pauses ch if it is playing, otherwise plays it.
func (c *Coordinator) Toggle(ch Channel) error {
	if c.IsPlaying(ch) {
		c.Pause(ch)
		return nil
	}
	return c.Play(ch)
}

// IsPlaying reports whether ch is playing.
func (c *Coordinator) IsPlaying(ch Channel) bool {
	if !ch.valid() {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.playing[ch]
}

// Playing returns the playing channel, if any.
func (c *Coordinator) Playing() (Channel, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ch := range []Channel{Original, Enhanced} {
		if c.playing[ch] {
			return ch, true
		}
	}
	return 0, false
}

// StopAll pauses whichever channel is playing.
func (c *Coordinator) StopAll() {
	c.Pause(Original)
	c.Pause(Enhanced)
}

func notify(listeners []func(Change), changes []Change) {
	for _, ch := range changes {
		for _, fn := range listeners {
			fn(ch)
		}
	}
}
