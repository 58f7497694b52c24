// Package session owns one listener's upload, process, preview and export
// cycle. Every mutation goes through Session; UI events and request
// completions may arrive on any goroutine and are applied in submission
// order, so a slow earlier request can never replace a later one's result.
package session

import (
	"context"
	"mime"
	"path"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/satindergrewal/aaes/internal/enhance"
	"github.com/satindergrewal/aaes/internal/export"
	"github.com/satindergrewal/aaes/internal/hearing"
	"github.com/satindergrewal/aaes/internal/playback"
	"github.com/satindergrewal/aaes/internal/preview"
)

// Service is the remote side of a session. *enhance.Client implements it.
type Service interface {
	Submit(ctx context.Context, src enhance.Source, audiogram hearing.Audiogram, gain hearing.TuningGain) (enhance.Result, error)
	Fetch(ctx context.Context, url string) ([]byte, error)
}

type uploadedSource struct {
	name      string
	mediaType string
	data      []byte
	handle    preview.Handle
}

type currentResult struct {
	enhance.Result
	handle preview.Handle
}

// Session is the single owner of audiogram, gain, source and result. Preview
// handles it creates are released when their owner is superseded.
type Session struct {
	svc       Service
	registry  *preview.Registry
	player    *playback.Coordinator
	formatter *export.Formatter
	now       func() time.Time

	base     context.Context
	shutdown context.CancelFunc

	// emitMu is held from a mutation through the delivery of its event, so
	// subscribers see events in the order the changes were made. Lock order
	// is emitMu, pbMu, mu.
	emitMu sync.Mutex

	// pbMu orders availability updates to the coordinator, which run
	// without mu held so coordinator listeners may read the session.
	pbMu sync.Mutex

	mu        sync.Mutex
	id        string
	audiogram hearing.Audiogram
	gain      hearing.TuningGain
	state     State
	seq       uint64
	source    *uploadedSource
	result    *currentResult
	notice    string
	cancel    context.CancelFunc
	listeners []func(Event)
}

// New creates an Idle session with a default audiogram and gain.
func New(svc Service, registry *preview.Registry, player *playback.Coordinator) *Session {
	base, shutdown := context.WithCancel(context.Background())
	return &Session{
		svc:       svc,
		registry:  registry,
		player:    player,
		formatter: export.NewFormatter(svc),
		now:       time.Now,
		base:      base,
		shutdown:  shutdown,
		id:        uuid.NewString(),
		audiogram: hearing.New(),
		gain:      hearing.DefaultGain,
	}
}

// Subscribe registers fn for every Event. fn runs without the session lock
// but must not call methods that change the session.
func (s *Session) Subscribe(fn func(Event)) {
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

// ID identifies the current session; it changes on Reset.
func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Audiogram returns a copy of the current audiogram.
func (s *Session) Audiogram() hearing.Audiogram {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.audiogram
}

// Gain returns the current tuning gain.
func (s *Session) Gain() hearing.TuningGain {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gain
}

// SetLoss changes one audiogram entry. An in-flight request keeps the
// audiogram it was submitted with.
func (s *Session) SetLoss(e hearing.Ear, f hearing.Frequency, db int) error {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()
	s.mu.Lock()
	if err := s.audiogram.SetLoss(e, f, db); err != nil {
		s.mu.Unlock()
		return err
	}
	ev, listeners := s.eventLocked(KindParams, s.state)
	s.mu.Unlock()

	emit(listeners, ev)
	return nil
}

// SetGain changes the tuning gain.
func (s *Session) SetGain(g hearing.TuningGain) error {
	if err := g.Validate(); err != nil {
		return err
	}
	s.emitMu.Lock()
	defer s.emitMu.Unlock()
	s.mu.Lock()
	s.gain = g
	ev, listeners := s.eventLocked(KindParams, s.state)
	s.mu.Unlock()

	emit(listeners, ev)
	return nil
}

// Reset starts a new session: any request in flight is abandoned, every
// preview handle is released, and audiogram and gain return to defaults.
func (s *Session) Reset() {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()
	s.mu.Lock()
	prev := s.state
	s.seq++
	s.abandonLocked()
	s.id = uuid.NewString()
	s.audiogram = hearing.New()
	s.gain = hearing.DefaultGain
	s.state = Idle
	s.notice = ""
	ev, listeners := s.eventLocked(KindReset, prev)
	s.mu.Unlock()

	s.syncPlayback(true)
	emit(listeners, ev)

	logrus.WithFields(logrus.Fields{
		"function": "Reset",
		"session":  ev.SessionID,
	}).Info("Session reset")
}

// Close abandons any request in flight and releases all handles.
func (s *Session) Close() {
	s.shutdown()
	s.emitMu.Lock()
	defer s.emitMu.Unlock()
	s.mu.Lock()
	s.seq++
	s.abandonLocked()
	s.state = Idle
	s.mu.Unlock()
	s.syncPlayback(true)
}

// Upload replaces the source with a new file, submits it and waits for the
// outcome. The original preview is available as soon as Upload is entered.
// A request superseded before it completes returns ErrStaleResponse and
// leaves the session alone.
func (s *Session) Upload(ctx context.Context, name, mediaType string, data []byte) (enhance.Result, error) {
	p, err := s.begin(ctx, name, mediaType, data)
	if err != nil {
		return enhance.Result{}, err
	}
	return s.run(p)
}

// UploadAsync starts an upload and returns its sequence number without
// waiting. The request is bound to the session's lifetime, not to a caller.
func (s *Session) UploadAsync(name, mediaType string, data []byte) (uint64, error) {
	p, err := s.begin(s.base, name, mediaType, data)
	if err != nil {
		return 0, err
	}
	go s.run(p)
	return p.seq, nil
}

// pending is one issued request with the snapshot it was issued with.
type pending struct {
	ctx       context.Context
	seq       uint64
	src       enhance.Source
	audiogram hearing.Audiogram
	gain      hearing.TuningGain
	started   time.Time
}

func (s *Session) begin(ctx context.Context, name, mediaType string, data []byte) (pending, error) {
	if len(data) == 0 {
		return pending{}, enhance.ErrEmptyFile
	}
	if mediaType == "" {
		mediaType = mediaTypeFor(name)
	}

	s.emitMu.Lock()
	defer s.emitMu.Unlock()
	s.mu.Lock()
	prev := s.state
	s.seq++
	s.abandonLocked()

	s.source = &uploadedSource{
		name:      name,
		mediaType: mediaType,
		data:      data,
		handle:    s.registry.Create(data, mediaType),
	}
	s.state = Uploading
	s.notice = ""

	reqCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	p := pending{
		ctx:       reqCtx,
		seq:       s.seq,
		src:       enhance.Source{Name: name, MediaType: mediaType, Data: data},
		audiogram: s.audiogram,
		gain:      s.gain,
		started:   s.now(),
	}
	ev, listeners := s.eventLocked(KindUpload, prev)
	s.mu.Unlock()

	s.syncPlayback(true)
	emit(listeners, ev)

	logrus.WithFields(logrus.Fields{
		"function":    "Upload",
		"session":     ev.SessionID,
		"seq":         p.seq,
		"file":        name,
		"bytes":       len(data),
		"tuning_gain": int(p.gain),
	}).Info("Upload started")
	return p, nil
}

func (s *Session) run(p pending) (enhance.Result, error) {
	res, err := s.svc.Submit(p.ctx, p.src, p.audiogram, p.gain)
	return s.complete(p, res, err)
}

func (s *Session) complete(p pending, res enhance.Result, reqErr error) (enhance.Result, error) {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()
	s.mu.Lock()
	if p.seq != s.seq {
		s.mu.Unlock()
		logrus.WithFields(logrus.Fields{
			"function": "complete",
			"seq":      p.seq,
		}).Debug("Discarding response to superseded upload")
		return enhance.Result{}, ErrStaleResponse
	}

	prev := s.state
	latency := s.now().Sub(p.started)
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}

	var ev Event
	var listeners []func(Event)
	if reqErr != nil {
		s.state = Failed
		s.notice = noticeFor(reqErr)
		ev, listeners = s.eventLocked(KindCompleted, prev)
		ev.Err = reqErr
	} else {
		s.result = &currentResult{
			Result: res,
			handle: s.registry.Link(res.URL, mediaTypeFor(res.ArtifactID)),
		}
		s.state = Ready
		ev, listeners = s.eventLocked(KindCompleted, prev)
	}
	ev.Latency = latency
	s.mu.Unlock()

	s.syncPlayback(false)
	emit(listeners, ev)

	fields := logrus.Fields{
		"function":   "complete",
		"session":    ev.SessionID,
		"seq":        p.seq,
		"latency_ms": latency.Milliseconds(),
	}
	if reqErr != nil {
		fields["error"] = reqErr.Error()
		logrus.WithFields(fields).Warn("Enhancement failed")
		return enhance.Result{}, reqErr
	}
	fields["artifact"] = res.ArtifactID
	logrus.WithFields(fields).Info("Enhancement ready")
	return res, nil
}

// abandonLocked cancels the request in flight and releases both handles.
// The caller has already bumped seq so a late completion is recognised as stale.
func (s *Session) abandonLocked() {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	if s.source != nil {
		s.registry.Release(s.source.handle)
		s.source = nil
	}
	if s.result != nil {
		s.registry.Release(s.result.handle)
		s.result = nil
	}
}

// syncPlayback tells the coordinator which channels have something to play.
// stop pauses both channels first, for when the source itself was replaced.
func (s *Session) syncPlayback(stop bool) {
	if s.player == nil {
		return
	}
	s.pbMu.Lock()
	defer s.pbMu.Unlock()

	if stop {
		s.player.StopAll()
	}
	s.mu.Lock()
	original := s.source != nil
	enhanced := s.state == Ready && s.result != nil
	s.mu.Unlock()

	s.player.SetAvailable(playback.Original, original)
	s.player.SetAvailable(playback.Enhanced, enhanced)
}

// Exportable reports whether Export can succeed: the session is Ready with
// a current result.
func (s *Session) Exportable() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exportableLocked()
}

func (s *Session) exportableLocked() bool {
	return s.state == Ready && s.result != nil
}

// Export downloads the current result as format. It does not change state
// and may be repeated with other formats.
func (s *Session) Export(ctx context.Context, format export.Format) (export.Blob, error) {
	s.mu.Lock()
	if !s.exportableLocked() {
		s.mu.Unlock()
		return export.Blob{}, export.ErrNotExportable
	}
	res := s.result.Result
	s.mu.Unlock()

	return s.formatter.Export(ctx, &res, format)
}

// Handle returns the preview handle behind a playback channel, or "" when
// the channel has nothing to play.
func (s *Session) Handle(ch playback.Channel) preview.Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch ch {
	case playback.Original:
		if s.source != nil {
			return s.source.handle
		}
	case playback.Enhanced:
		if s.state == Ready && s.result != nil {
			return s.result.handle
		}
	}
	return ""
}

// View is a point-in-time copy of the session for display.
type View struct {
	ID             string             `json:"id"`
	State          State              `json:"state"`
	Seq            uint64             `json:"seq"`
	Exportable     bool               `json:"exportable"`
	Notice         string             `json:"notice,omitempty"`
	SourceName     string             `json:"source_name,omitempty"`
	OriginalHandle preview.Handle     `json:"original_handle,omitempty"`
	EnhancedHandle preview.Handle     `json:"enhanced_handle,omitempty"`
	Result         *enhance.Result    `json:"result,omitempty"`
	Audiogram      hearing.Audiogram  `json:"audiogram"`
	Gain           hearing.TuningGain `json:"gain"`
}

// Snapshot returns the current View.
func (s *Session) Snapshot() View {
	s.mu.Lock()
	defer s.mu.Unlock()

	v := View{
		ID:         s.id,
		State:      s.state,
		Seq:        s.seq,
		Exportable: s.exportableLocked(),
		Notice:     s.notice,
		Audiogram:  s.audiogram,
		Gain:       s.gain,
	}
	if s.source != nil {
		v.SourceName = s.source.name
		v.OriginalHandle = s.source.handle
	}
	if s.result != nil {
		r := s.result.Result
		v.Result = &r
		v.EnhancedHandle = s.result.handle
	}
	return v
}

func (s *Session) eventLocked(kind EventKind, prev State) (Event, []func(Event)) {
	ev := Event{
		Kind:      kind,
		SessionID: s.id,
		Seq:       s.seq,
		State:     s.state,
		Previous:  prev,
		Notice:    s.notice,
		Gain:      s.gain,
		Audiogram: s.audiogram,
		At:        s.now(),
	}
	if s.source != nil {
		ev.Source = s.source.name
	}
	if s.result != nil {
		r := s.result.Result
		ev.Result = &r
	}
	return ev, s.listeners
}

func emit(listeners []func(Event), ev Event) {
	for _, fn := range listeners {
		fn(ev)
	}
}

// mediaTypeFor guesses a media type from a file name.
func mediaTypeFor(name string) string {
	if t := mime.TypeByExtension(path.Ext(name)); t != "" {
		return t
	}
	return "application/octet-stream"
}
