package preview

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/satindergrewal/aaes/internal/audio"
	"github.com/satindergrewal/aaes/internal/playback"
)

// HandleSource maps a playback channel to the handle currently behind it.
type HandleSource interface {
	Handle(ch playback.Channel) Handle
}

// Fetcher downloads remote resources.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// DecodeFunc turns an audio file into interleaved 48kHz stereo samples.
type DecodeFunc func(ctx context.Context, data []byte) ([]int16, error)

// Player makes the coordinator audible: on every change it reads which
// channel the coordinator says is playing, decodes the resource behind it
// and drives the audio pipeline to match.
type Player struct {
	registry *Registry
	handles  HandleSource
	coord    *playback.Coordinator
	pipeline *audio.Pipeline
	fetch    Fetcher
	decode   DecodeFunc

	// changes holds at most one pending resync; further changes coalesce.
	changes chan struct{}
}

// NewPlayer wires a player to coord. Call Run to start it.
func NewPlayer(registry *Registry, handles HandleSource, coord *playback.Coordinator, pipeline *audio.Pipeline, fetch Fetcher) *Player {
	p := &Player{
		registry: registry,
		handles:  handles,
		coord:    coord,
		pipeline: pipeline,
		fetch:    fetch,
		decode:   audio.Decode,
		changes:  make(chan struct{}, 1),
	}
	coord.OnChange(func(playback.Change) {
		select {
		case p.changes <- struct{}{}:
		default:
		}
	})
	return p
}

// WithDecoder replaces the FFmpeg decoder.
func (p *Player) WithDecoder(d DecodeFunc) *Player {
	p.decode = d
	return p
}

// Run follows the coordinator until ctx is cancelled. A clip that plays to
// its end pauses its channel.
func (p *Player) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.changes:
			p.sync(ctx)
		case key := <-p.pipeline.Finished():
			for _, ch := range []playback.Channel{playback.Original, playback.Enhanced} {
				if string(p.handles.Handle(ch)) == key {
					p.coord.Pause(ch)
				}
			}
		}
	}
}

// sync makes the pipeline match the coordinator's current state. Play and
// Pause are no-ops when the pipeline is already there.
func (p *Player) sync(ctx context.Context) {
	p.prune()

	ch, ok := p.coord.Playing()
	if !ok {
		p.pipeline.Pause()
		return
	}

	h := p.handles.Handle(ch)
	log := logrus.WithFields(logrus.Fields{
		"function": "sync",
		"channel":  ch.String(),
		"handle":   string(h),
	})
	if h == "" {
		p.coord.Pause(ch)
		return
	}
	if err := p.load(ctx, h); err != nil {
		log.WithError(err).Warn("Preview could not be loaded")
		p.coord.Pause(ch)
		return
	}
	if err := p.pipeline.Play(string(h)); err != nil {
		log.WithError(err).Warn("Preview could not be played")
		p.coord.Pause(ch)
	}
}

// load decodes h into the pipeline unless it is already there.
func (p *Player) load(ctx context.Context, h Handle) error {
	if p.pipeline.Loaded(string(h)) {
		return nil
	}
	res, err := p.registry.Resolve(h)
	if err != nil {
		return err
	}
	data := res.Data
	if res.Remote() {
		if data, err = p.fetch.Fetch(ctx, res.URL); err != nil {
			return fmt.Errorf("fetch preview: %w", err)
		}
	}
	samples, err := p.decode(ctx, data)
	if err != nil {
		return err
	}
	p.pipeline.Load(string(h), samples)
	return nil
}

// prune unloads clips whose handles have been released.
func (p *Player) prune() {
	for _, key := range p.pipeline.Keys() {
		if _, err := p.registry.Resolve(Handle(key)); err != nil {
			p.pipeline.Unload(key)
		}
	}
}
