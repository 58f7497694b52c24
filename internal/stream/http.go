package stream

import (
	"context"
	"io"
	"net/http"
	"os/exec"

	"github.com/sirupsen/logrus"

	"github.com/satindergrewal/aaes/internal/audio"
)

// HTTPHandler serves the preview output as a chunked MP3 stream. Each
// connection spawns an FFmpeg process to encode PCM -> MP3 in real time.
type HTTPHandler struct {
	broadcaster *Broadcaster
	bitrate     string
}

// NewHTTPHandler creates an HTTP stream handler encoding at 192 kbit/s.
func NewHTTPHandler(b *Broadcaster) *HTTPHandler {
	return &HTTPHandler{broadcaster: b, bitrate: "192k"}
}

func (h *HTTPHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-f", "s16le",
		"-ar", "48000",
		"-ac", "2",
		"-i", "pipe:0",
		"-codec:a", "libmp3lame",
		"-b:a", h.bitrate,
		"-f", "mp3",
		"-fflags", "nobuffer",
		"-flush_packets", "1",
		"-loglevel", "error",
		"pipe:1",
	)

	log := logrus.WithFields(logrus.Fields{
		"function": "ServeHTTP",
		"remote":   r.RemoteAddr,
	})

	stdin, err := cmd.StdinPipe()
	if err != nil {
		log.WithError(err).Error("Preview stream stdin pipe failed")
		http.Error(w, "encoder unavailable", http.StatusInternalServerError)
		return
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		log.WithError(err).Error("Preview stream stdout pipe failed")
		http.Error(w, "encoder unavailable", http.StatusInternalServerError)
		return
	}
	if err := cmd.Start(); err != nil {
		log.WithError(err).Error("Preview stream ffmpeg start failed")
		http.Error(w, "encoder unavailable", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "audio/mpeg")
	w.Header().Set("Cache-Control", "no-cache, no-store")
	w.Header().Set("Connection", "close")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	listener := h.broadcaster.Subscribe()
	defer h.broadcaster.Unsubscribe(listener)

	log.WithField("listeners", h.broadcaster.ListenerCount()).Info("Preview stream listener connected")
	defer log.Info("Preview stream listener disconnected")

	// Feed PCM frames to FFmpeg
	go func() {
		defer stdin.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case <-listener.Done():
				return
			case frame, ok := <-listener.C:
				if !ok {
					return
				}
				if _, err := stdin.Write(audio.SamplesToBytes(frame)); err != nil {
					return
				}
			}
		}
	}()

	buf := make([]byte, 4096)
	for {
		n, err := stdout.Read(buf)
		if n > 0 {
			if _, writeErr := w.Write(buf[:n]); writeErr != nil {
				break
			}
			flusher.Flush()
		}
		if err != nil {
			if err != io.EOF {
				log.WithError(err).Warn("Preview stream read failed")
			}
			break
		}
	}

	cancel()
	cmd.Wait()
}
