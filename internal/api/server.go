// Package api is the local control surface a browser page drives: it exposes
// the session's operations, preview handles, exports and the preview streams
// over HTTP.
package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/satindergrewal/aaes/internal/enhance"
	"github.com/satindergrewal/aaes/internal/export"
	"github.com/satindergrewal/aaes/internal/hearing"
	"github.com/satindergrewal/aaes/internal/playback"
	"github.com/satindergrewal/aaes/internal/preview"
	"github.com/satindergrewal/aaes/internal/session"
)

const defaultMaxUploadBytes = 64 << 20

// Deps are the collaborators behind the routes. Stream, Offer and Events
// are optional; their routes are only registered when set.
type Deps struct {
	Session       *session.Session
	Coordinator   *playback.Coordinator
	Registry      *preview.Registry
	Fetcher       preview.Fetcher
	Sinks         []export.Sink
	DefaultFormat export.Format

	// MaxUploadBytes caps the upload body; zero means 64 MiB.
	MaxUploadBytes int64

	Stream http.Handler
	Offer  http.Handler
	Events http.Handler
}

// Server routes control requests to the session.
type Server struct {
	d   Deps
	mux *http.ServeMux
}

// New builds the route table.
func New(d Deps) *Server {
	if d.DefaultFormat == "" {
		d.DefaultFormat = export.WAV
	}
	if d.MaxUploadBytes <= 0 {
		d.MaxUploadBytes = defaultMaxUploadBytes
	}
	s := &Server{d: d, mux: http.NewServeMux()}

	s.mux.HandleFunc("GET /api/session", s.handleSession)
	s.mux.HandleFunc("PUT /api/audiogram", s.handleAudiogram)
	s.mux.HandleFunc("PUT /api/gain", s.handleGain)
	s.mux.HandleFunc("POST /api/upload", s.handleUpload)
	s.mux.HandleFunc("POST /api/reset", s.handleReset)
	s.mux.HandleFunc("POST /api/playback/{channel}/{action}", s.handlePlayback)
	s.mux.HandleFunc("GET /api/export", s.handleDownloadExport)
	s.mux.HandleFunc("POST /api/export", s.handleSaveExport)
	s.mux.HandleFunc("GET /preview/{id}", s.handlePreview)

	if d.Stream != nil {
		s.mux.Handle("GET /stream", d.Stream)
	}
	if d.Offer != nil {
		s.mux.Handle("/offer", d.Offer)
	}
	if d.Events != nil {
		s.mux.Handle("GET /api/events", d.Events)
	}
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	s.mux.ServeHTTP(w, r)
}

// SessionStatus is the GET /api/session body.
type SessionStatus struct {
	session.View
	Playing string `json:"playing,omitempty"`
}

func (s *Server) status() SessionStatus {
	st := SessionStatus{View: s.d.Session.Snapshot()}
	if ch, ok := s.d.Coordinator.Playing(); ok {
		st.Playing = ch.String()
	}
	return st
}

// Status is the snapshot pushed to event clients when they connect.
func (s *Server) Status() any {
	return s.status()
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.status())
}

func (s *Server) handleAudiogram(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Ear       string `json:"ear"`
		Frequency int    `json:"frequency"`
		Loss      int    `json:"loss"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	ear, err := hearing.ParseEar(req.Ear)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.d.Session.SetLoss(ear, hearing.Frequency(req.Frequency), req.Loss); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.status())
}

func (s *Server) handleGain(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Gain int `json:"gain"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	if err := s.d.Session.SetGain(hearing.TuningGain(req.Gain)); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.status())
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.d.MaxUploadBytes)

	file, hdr, err := r.FormFile("file")
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeError(w, fmt.Errorf("%w: limit is %d bytes", errTooLarge, tooBig.Limit))
			return
		}
		writeError(w, fmt.Errorf("%w: no file part", enhance.ErrEmptyFile))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}

	seq, err := s.d.Session.UploadAsync(hdr.Filename, hdr.Header.Get("Content-Type"), data)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"seq": seq})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	s.d.Session.Reset()
	writeJSON(w, http.StatusOK, s.status())
}

func (s *Server) handlePlayback(w http.ResponseWriter, r *http.Request) {
	ch, err := playback.ParseChannel(r.PathValue("channel"))
	if err != nil {
		writeError(w, err)
		return
	}
	switch r.PathValue("action") {
	case "play":
		err = s.d.Coordinator.Play(ch)
	case "pause":
		s.d.Coordinator.Pause(ch)
	case "toggle":
		err = s.d.Coordinator.Toggle(ch)
	default:
		http.NotFound(w, r)
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.status())
}

func (s *Server) exportFormat(r *http.Request) (export.Format, error) {
	if v := r.URL.Query().Get("format"); v != "" {
		return export.ParseFormat(v)
	}
	return s.d.DefaultFormat, nil
}

// handleDownloadExport is the browser "save as" path.
func (s *Server) handleDownloadExport(w http.ResponseWriter, r *http.Request) {
	format, err := s.exportFormat(r)
	if err != nil {
		writeError(w, err)
		return
	}
	blob, err := s.d.Session.Export(r.Context(), format)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, blob.Name))
	w.Header().Set("Content-Type", blob.MediaType)
	http.ServeContent(w, r, blob.Name, time.Time{}, bytes.NewReader(blob.Data))
}

// handleSaveExport writes the export through the configured sinks.
func (s *Server) handleSaveExport(w http.ResponseWriter, r *http.Request) {
	format, err := s.exportFormat(r)
	if err != nil {
		writeError(w, err)
		return
	}
	blob, err := s.d.Session.Export(r.Context(), format)
	if err != nil {
		writeError(w, err)
		return
	}
	locations, err := export.SaveAll(r.Context(), s.d.Sinks, s.d.Session.ID(), blob)
	body := map[string]any{
		"name":      blob.Name,
		"locations": locations,
		"mismatch":  blob.Mismatch,
	}
	if err != nil {
		body["error"] = err.Error()
		if len(locations) == 0 {
			writeJSON(w, http.StatusBadGateway, body)
			return
		}
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	res, err := s.d.Registry.Resolve(preview.Handle(r.PathValue("id")))
	if err != nil {
		writeError(w, err)
		return
	}
	data := res.Data
	if res.Remote() {
		if data, err = s.d.Fetcher.Fetch(r.Context(), res.URL); err != nil {
			writeError(w, err)
			return
		}
	}
	if res.MediaType != "" {
		w.Header().Set("Content-Type", res.MediaType)
	}
	http.ServeContent(w, r, "", time.Time{}, bytes.NewReader(data))
}

var (
	errBadRequest = errors.New("bad request")
	errTooLarge   = errors.New("upload too large")
)

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	var netErr *enhance.NetworkError
	var svcErr *enhance.ServiceError
	switch {
	case errors.Is(err, hearing.ErrValidation),
		errors.Is(err, enhance.ErrEmptyFile),
		errors.Is(err, export.ErrUnsupportedFormat),
		errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, errTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, export.ErrNotExportable),
		errors.Is(err, playback.ErrChannelUnavailable):
		return http.StatusConflict
	case errors.Is(err, playback.ErrUnknownChannel),
		errors.Is(err, preview.ErrUnknownHandle):
		return http.StatusNotFound
	case errors.As(err, &netErr), errors.As(err, &svcErr):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		logrus.WithFields(logrus.Fields{
			"function": "writeError",
			"status":   status,
			"error":    err.Error(),
		}).Warn("Request failed")
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
