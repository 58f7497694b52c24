// Package stubservice is a stand-in for the remote enhancement service. It
// accepts uploads, validates the listener profile headers and "processes" the
// file by storing an unchanged copy, which is enough to exercise the client
// end to end without the DSP engine.
package stubservice

import (
	"encoding/json"
	"io"
	"mime"
	"net/http"
	"path"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/satindergrewal/aaes/internal/enhance"
	"github.com/satindergrewal/aaes/internal/hearing"
)

const (
	processedDir    = "processed"
	processedPrefix = "enhanced_"
	maxUploadBytes  = 64 << 20
)

type artifact struct {
	data      []byte
	mediaType string
}

// Upload records what the service received, for inspection in tests.
type Upload struct {
	Name      string
	Audiogram hearing.Audiogram
	Gain      hearing.TuningGain
	Size      int
}

// Service serves POST /upload and GET /download/{name}.
type Service struct {
	mu        sync.RWMutex
	processed map[string]artifact
	uploads   []Upload
	mux       *http.ServeMux
}

// New creates an empty stub service.
func New() *Service {
	s := &Service{processed: make(map[string]artifact)}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /upload", s.handleUpload)
	mux.HandleFunc("GET /download/{name}", s.handleDownload)
	s.mux = mux
	return s
}

func (s *Service) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	s.mux.ServeHTTP(w, r)
}

// Uploads returns every accepted upload in arrival order.
func (s *Service) Uploads() []Upload {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Upload(nil), s.uploads...)
}

// Put registers a processed artifact directly, bypassing /upload.
func (s *Service) Put(name, mediaType string, data []byte) {
	s.mu.Lock()
	s.processed[name] = artifact{data: data, mediaType: mediaType}
	s.mu.Unlock()
}

func (s *Service) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)

	var a hearing.Audiogram
	if err := json.Unmarshal([]byte(r.Header.Get(enhance.HeaderHearingLoss)), &a); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid hearing loss: " + err.Error()})
		return
	}
	gain, err := hearing.ParseGain(r.Header.Get(enhance.HeaderTuningGain))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	file, hdr, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "No file uploaded"})
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	name := processedPrefix + path.Base(hdr.Filename)
	mediaType := hdr.Header.Get("Content-Type")
	if mediaType == "" {
		mediaType = mime.TypeByExtension(path.Ext(name))
	}

	s.mu.Lock()
	s.processed[name] = artifact{data: data, mediaType: mediaType}
	s.uploads = append(s.uploads, Upload{Name: hdr.Filename, Audiogram: a, Gain: gain, Size: len(data)})
	s.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function":    "handleUpload",
		"file":        hdr.Filename,
		"bytes":       len(data),
		"tuning_gain": int(gain),
	}).Info("Stub processed upload")

	writeJSON(w, http.StatusOK, map[string]string{
		"message":        "File uploaded and processed successfully",
		"processed_file": processedDir + "/" + name,
	})
}

func (s *Service) handleDownload(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	s.mu.RLock()
	a, ok := s.processed[name]
	s.mu.RUnlock()
	if !ok {
		http.NotFound(w, r)
		return
	}
	if a.mediaType != "" {
		w.Header().Set("Content-Type", a.mediaType)
	}
	w.Write(a.data)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
