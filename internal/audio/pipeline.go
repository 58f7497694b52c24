package audio

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrNotLoaded is returned by Play for a key that has no clip.
var ErrNotLoaded = errors.New("clip not loaded")

type cmdKind int

const (
	cmdPlay cmdKind = iota
	cmdPause
	cmdUnload
)

type command struct {
	kind cmdKind
	key  string
}

// voice is a clip being read out frame by frame.
type voice struct {
	clip *Clip
	pos  int
}

func (v *voice) next() []int16 {
	f := v.clip.frame(v.pos)
	if f != nil {
		v.pos++
	}
	return f
}

// Pipeline plays at most one loaded clip at a time and outputs PCM frames at
// real-time rate. Switching clips crossfades; pausing fades to silence. Each
// clip resumes from where it was last paused.
type Pipeline struct {
	cmdCh   chan command
	frameCh chan []int16
	doneCh  chan string
	fadeDur time.Duration

	mu        sync.RWMutex
	clips     map[string]*Clip
	positions map[string]int
	current   string
	position  time.Duration
	duration  time.Duration
	playing   bool
}

// NewPipeline creates a pipeline that fades over the given duration when a
// clip is paused or replaced.
func NewPipeline(fadeDuration time.Duration) *Pipeline {
	return &Pipeline{
		cmdCh:     make(chan command, 8),
		frameCh:   make(chan []int16, 100),
		doneCh:    make(chan string, 4),
		fadeDur:   fadeDuration,
		clips:     make(map[string]*Clip),
		positions: make(map[string]int),
	}
}

// Frames returns the channel of outgoing PCM frames (20ms each).
func (p *Pipeline) Frames() <-chan []int16 {
	return p.frameCh
}

// Finished delivers the key of each clip that played to its end.
func (p *Pipeline) Finished() <-chan string {
	return p.doneCh
}

// Load makes a decoded clip playable under key, replacing any earlier clip
// with that key.
func (p *Pipeline) Load(key string, samples []int16) {
	p.mu.Lock()
	p.clips[key] = &Clip{Key: key, Samples: samples}
	delete(p.positions, key)
	p.mu.Unlock()
}

// Loaded reports whether key has a clip.
func (p *Pipeline) Loaded(key string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.clips[key]
	return ok
}

// Keys lists the loaded clips.
func (p *Pipeline) Keys() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	keys := make([]string, 0, len(p.clips))
	for k := range p.clips {
		keys = append(keys, k)
	}
	return keys
}

// Unload drops a clip, stopping it without a fade if it is playing.
func (p *Pipeline) Unload(key string) {
	p.mu.Lock()
	delete(p.clips, key)
	delete(p.positions, key)
	p.mu.Unlock()
	p.cmdCh <- command{kind: cmdUnload, key: key}
}

// Play starts key from its resume position.
func (p *Pipeline) Play(key string) error {
	if !p.Loaded(key) {
		return ErrNotLoaded
	}
	p.cmdCh <- command{kind: cmdPlay, key: key}
	return nil
}

// Pause fades out whatever is playing and remembers its position.
func (p *Pipeline) Pause() {
	p.cmdCh <- command{kind: cmdPause}
}

// Status returns current playback info.
func (p *Pipeline) Status() (key string, position, duration time.Duration, playing bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.current, p.position, p.duration, p.playing
}

// Run starts the pipeline. Blocks until ctx is cancelled.
func (p *Pipeline) Run(ctx context.Context) {
	defer close(p.frameCh)

	ticker := time.NewTicker(FrameDuration)
	defer ticker.Stop()

	var active, fading *voice
	var fadeIdx int
	fadeFrames := int(p.fadeDur / FrameDuration)

	for {
		select {
		case <-ctx.Done():
			return

		case c := <-p.cmdCh:
			switch c.kind {
			case cmdPlay:
				if active != nil && active.clip.Key == c.key {
					continue
				}
				p.mu.RLock()
				clip, ok := p.clips[c.key]
				pos := p.positions[c.key]
				p.mu.RUnlock()
				if !ok {
					continue
				}
				if pos >= clip.Frames() {
					pos = 0
				}
				if active != nil {
					p.remember(active)
					fading, fadeIdx = active, 0
				}
				active = &voice{clip: clip, pos: pos}
				p.setCurrent(clip, pos, true)
				logrus.WithFields(logrus.Fields{
					"function": "Run",
					"clip":     c.key,
					"frame":    pos,
				}).Debug("Preview playing")

			case cmdPause:
				if active == nil {
					continue
				}
				p.remember(active)
				fading, fadeIdx = active, 0
				active = nil
				p.setPlaying(false)

			case cmdUnload:
				if active != nil && active.clip.Key == c.key {
					active = nil
					p.setCurrent(nil, 0, false)
				}
				if fading != nil && fading.clip.Key == c.key {
					fading = nil
				}
			}

		case <-ticker.C:
			var in []int16
			if active != nil {
				in = active.next()
				if in == nil {
					p.finished(active)
					active = nil
				} else {
					p.setPosition(active.pos)
				}
			}

			frame := in
			if fading != nil {
				out := fading.next()
				if out == nil || fadeIdx >= fadeFrames {
					fading = nil
				} else {
					frame = CrossfadeFrames(out, in, float64(fadeIdx)/float64(fadeFrames))
					fadeIdx++
				}
			}
			if frame == nil {
				continue
			}

			select {
			case p.frameCh <- frame:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (p *Pipeline) remember(v *voice) {
	p.mu.Lock()
	if _, ok := p.clips[v.clip.Key]; ok {
		p.positions[v.clip.Key] = v.pos
	}
	p.mu.Unlock()
}

// finished rewinds a clip that played to its end.
func (p *Pipeline) finished(v *voice) {
	p.mu.Lock()
	delete(p.positions, v.clip.Key)
	p.playing = false
	p.position = p.duration
	p.mu.Unlock()
	select {
	case p.doneCh <- v.clip.Key:
	default:
	}
	logrus.WithFields(logrus.Fields{
		"function": "Run",
		"clip":     v.clip.Key,
	}).Debug("Preview finished")
}

func (p *Pipeline) setCurrent(c *Clip, pos int, playing bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if c == nil {
		p.current, p.position, p.duration = "", 0, 0
	} else {
		p.current = c.Key
		p.position = time.Duration(pos) * FrameDuration
		p.duration = c.Duration()
	}
	p.playing = playing
}

func (p *Pipeline) setPlaying(playing bool) {
	p.mu.Lock()
	p.playing = playing
	p.mu.Unlock()
}

func (p *Pipeline) setPosition(frameIdx int) {
	p.mu.Lock()
	p.position = time.Duration(frameIdx) * FrameDuration
	p.mu.Unlock()
}
