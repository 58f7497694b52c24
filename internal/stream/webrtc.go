package stream

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/sirupsen/logrus"
	"gopkg.in/hraban/opus.v2"

	"github.com/satindergrewal/aaes/internal/audio"
)

const opusBitrate = 128000

// WebRTCHandler answers SDP offers and streams the preview output to each
// peer as Opus.
type WebRTCHandler struct {
	broadcaster *Broadcaster
	config      webrtc.Configuration

	mu    sync.Mutex
	peers map[*webrtc.PeerConnection]struct{}
}

// NewWebRTCHandler creates a WebRTC stream handler. iceServers may be empty
// for loopback use.
func NewWebRTCHandler(b *Broadcaster, iceServers ...string) *WebRTCHandler {
	cfg := webrtc.Configuration{}
	if len(iceServers) > 0 {
		cfg.ICEServers = []webrtc.ICEServer{{URLs: iceServers}}
	}
	return &WebRTCHandler{
		broadcaster: b,
		config:      cfg,
		peers:       make(map[*webrtc.PeerConnection]struct{}),
	}
}

// PeerCount returns the number of active WebRTC peers.
func (h *WebRTCHandler) PeerCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.peers)
}

func (h *WebRTCHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	if r.Method == http.MethodOptions {
		w.Header().Set("Access-Control-Allow-Methods", "POST")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		w.WriteHeader(http.StatusOK)
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "POST required", http.StatusMethodNotAllowed)
		return
	}

	var offer webrtc.SessionDescription
	if err := json.NewDecoder(r.Body).Decode(&offer); err != nil {
		http.Error(w, "invalid SDP offer", http.StatusBadRequest)
		return
	}

	log := logrus.WithFields(logrus.Fields{
		"function": "ServeHTTP",
		"remote":   r.RemoteAddr,
	})

	pc, track, status, err := h.answer(offer)
	if err != nil {
		log.WithError(err).Warn("WebRTC negotiation failed")
		http.Error(w, err.Error(), status)
		return
	}

	h.mu.Lock()
	h.peers[pc] = struct{}{}
	h.mu.Unlock()
	log.WithField("peers", h.PeerCount()).Info("WebRTC peer connected")

	listener := h.broadcaster.Subscribe()
	go h.streamToPeer(listener, track)

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		switch s {
		case webrtc.PeerConnectionStateFailed,
			webrtc.PeerConnectionStateClosed,
			webrtc.PeerConnectionStateDisconnected:
			h.broadcaster.Unsubscribe(listener)
			h.removePeer(pc)
			pc.Close()
			log.WithField("peers", h.PeerCount()).Info("WebRTC peer disconnected")
		}
	})

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(pc.LocalDescription())
}

type negotiationError struct {
	msg string
	err error
}

func (e *negotiationError) Error() string { return e.msg + ": " + e.err.Error() }
func (e *negotiationError) Unwrap() error { return e.err }

// answer builds a peer connection with one Opus track and completes ICE
// gathering so the answer can be returned in a single response.
func (h *WebRTCHandler) answer(offer webrtc.SessionDescription) (*webrtc.PeerConnection, *webrtc.TrackLocalStaticSample, int, error) {
	pc, err := webrtc.NewPeerConnection(h.config)
	if err != nil {
		return nil, nil, http.StatusInternalServerError, &negotiationError{"create peer connection", err}
	}

	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus},
		"audio",
		"aaes-preview",
	)
	if err != nil {
		pc.Close()
		return nil, nil, http.StatusInternalServerError, &negotiationError{"create audio track", err}
	}
	if _, err := pc.AddTrack(track); err != nil {
		pc.Close()
		return nil, nil, http.StatusInternalServerError, &negotiationError{"add track", err}
	}
	if err := pc.SetRemoteDescription(offer); err != nil {
		pc.Close()
		return nil, nil, http.StatusBadRequest, &negotiationError{"set remote description", err}
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		pc.Close()
		return nil, nil, http.StatusInternalServerError, &negotiationError{"create answer", err}
	}

	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		pc.Close()
		return nil, nil, http.StatusInternalServerError, &negotiationError{"set local description", err}
	}
	<-gatherComplete

	return pc, track, http.StatusOK, nil
}

func (h *WebRTCHandler) streamToPeer(listener *Listener, track *webrtc.TrackLocalStaticSample) {
	defer h.broadcaster.Unsubscribe(listener)

	enc, err := opus.NewEncoder(audio.SampleRate, audio.Channels, opus.AppAudio)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "streamToPeer",
			"error":    err.Error(),
		}).Error("Opus encoder unavailable")
		return
	}
	enc.SetBitrate(opusBitrate)

	opusBuf := make([]byte, 4000)
	for {
		select {
		case <-listener.Done():
			return
		case frame, ok := <-listener.C:
			if !ok {
				return
			}
			n, err := enc.Encode(frame, opusBuf)
			if err != nil {
				logrus.WithFields(logrus.Fields{
					"function": "streamToPeer",
					"error":    err.Error(),
				}).Warn("Opus encode failed")
				continue
			}
			if err := track.WriteSample(media.Sample{
				Data:     opusBuf[:n],
				Duration: audio.FrameDuration,
			}); err != nil {
				return
			}
		}
	}
}

func (h *WebRTCHandler) removePeer(pc *webrtc.PeerConnection) {
	h.mu.Lock()
	delete(h.peers, pc)
	h.mu.Unlock()
}
