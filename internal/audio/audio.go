// Package audio decodes preview files to PCM and plays them out in real
// time as 20 ms frames for the stream outputs.
package audio

import "time"

const (
	SampleRate    = 48000
	Channels      = 2
	BitDepth      = 16
	FrameDuration = 20 * time.Millisecond
	FrameSize     = 960                  // samples per channel per 20ms frame
	FrameSamples  = FrameSize * Channels // total interleaved samples per frame
	FrameBytes    = FrameSamples * 2     // bytes per frame (int16 = 2 bytes)
)

// Clip is a decoded preview held by the pipeline under its preview key.
type Clip struct {
	Key     string
	Samples []int16
}

// Frames is the number of whole frames in the clip.
func (c *Clip) Frames() int {
	return len(c.Samples) / FrameSamples
}

// Duration is the playable length of the clip.
func (c *Clip) Duration() time.Duration {
	return time.Duration(c.Frames()) * FrameDuration
}

// frame returns frame i, or nil past the end.
func (c *Clip) frame(i int) []int16 {
	if i < 0 || i >= c.Frames() {
		return nil
	}
	return c.Samples[i*FrameSamples : (i+1)*FrameSamples]
}
