package api

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/satindergrewal/aaes/internal/enhance"
	"github.com/satindergrewal/aaes/internal/export"
	"github.com/satindergrewal/aaes/internal/playback"
	"github.com/satindergrewal/aaes/internal/preview"
	"github.com/satindergrewal/aaes/internal/session"
	"github.com/satindergrewal/aaes/internal/stubservice"
)

var wavPayload = []byte("RIFF\x24\x00\x00\x00WAVEfmt \x10\x00\x00\x00")

type fixture struct {
	srv     *httptest.Server
	sess    *session.Session
	coord   *playback.Coordinator
	exports string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	remote := httptest.NewServer(stubservice.New())
	t.Cleanup(remote.Close)

	client := enhance.NewClient(remote.URL, 5*time.Second)
	reg := preview.NewRegistry()
	coord := playback.NewCoordinator()
	sess := session.New(client, reg, coord)
	t.Cleanup(sess.Close)

	dir := t.TempDir()
	srv := httptest.NewServer(New(Deps{
		Session:     sess,
		Coordinator: coord,
		Registry:    reg,
		Fetcher:     client,
		Sinks:       []export.Sink{export.DirSink{Dir: dir}},
	}))
	t.Cleanup(srv.Close)

	return &fixture{srv: srv, sess: sess, coord: coord, exports: dir}
}

func (f *fixture) do(t *testing.T, method, path string, body io.Reader, contentType string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, f.srv.URL+path, body)
	require.NoError(t, err)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (f *fixture) putJSON(t *testing.T, path, body string) *http.Response {
	return f.do(t, http.MethodPut, path, strings.NewReader(body), "application/json")
}

func (f *fixture) upload(t *testing.T, name string, data []byte) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if name != "" {
		part, err := mw.CreateFormFile("file", name)
		require.NoError(t, err)
		part.Write(data)
	}
	require.NoError(t, mw.Close())
	return f.do(t, http.MethodPost, "/api/upload", &buf, mw.FormDataContentType())
}

func (f *fixture) status(t *testing.T) SessionStatus {
	t.Helper()
	resp := f.do(t, http.MethodGet, "/api/session", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var st SessionStatus
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&st))
	return st
}

func (f *fixture) uploadAndWait(t *testing.T) SessionStatus {
	t.Helper()
	resp := f.upload(t, "speech.wav", wavPayload)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	require.Eventually(t, func() bool { return f.sess.State() == session.Ready }, 3*time.Second, 10*time.Millisecond)
	return f.status(t)
}

func TestIdleSession(t *testing.T) {
	f := newFixture(t)

	st := f.status(t)
	assert.Equal(t, session.Idle, st.State)
	assert.False(t, st.Exportable)
	assert.Empty(t, st.Playing)

	resp := f.do(t, http.MethodGet, "/api/export?format=mp3", nil, "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = f.do(t, http.MethodPost, "/api/playback/original/play", nil, "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestParameterRoutes(t *testing.T) {
	f := newFixture(t)

	resp := f.putJSON(t, "/api/audiogram", `{"ear":"left","frequency":2000,"loss":35}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	loss, err := f.sess.Audiogram().Loss("left", 2000)
	require.NoError(t, err)
	assert.Equal(t, 35, loss)

	for _, body := range []string{
		`{"ear":"left","frequency":3000,"loss":35}`,
		`{"ear":"left","frequency":2000,"loss":95}`,
		`{"ear":"middle","frequency":2000,"loss":10}`,
		`not json`,
	} {
		resp := f.putJSON(t, "/api/audiogram", body)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, body)
	}

	resp = f.putJSON(t, "/api/gain", `{"gain":72}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 72, f.sess.Gain())

	resp = f.putJSON(t, "/api/gain", `{"gain":90}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.EqualValues(t, 72, f.sess.Gain())
}

func TestUploadRejectsMissingOrEmptyFile(t *testing.T) {
	f := newFixture(t)

	assert.Equal(t, http.StatusBadRequest, f.upload(t, "", nil).StatusCode)
	assert.Equal(t, http.StatusBadRequest, f.upload(t, "empty.wav", nil).StatusCode)
	assert.Equal(t, session.Idle, f.sess.State())
}

func TestUploadTooLarge(t *testing.T) {
	reg := preview.NewRegistry()
	coord := playback.NewCoordinator()
	sess := session.New(enhance.NewClient("http://127.0.0.1:1", time.Second), reg, coord)
	t.Cleanup(sess.Close)
	srv := httptest.NewServer(New(Deps{
		Session:        sess,
		Coordinator:    coord,
		Registry:       reg,
		MaxUploadBytes: 1 << 10,
	}))
	t.Cleanup(srv.Close)
	f := &fixture{srv: srv, sess: sess, coord: coord}

	resp := f.upload(t, "speech.wav", bytes.Repeat([]byte{0x55}, 8<<10))
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
	assert.Equal(t, session.Idle, sess.State())
}

func TestUploadPreviewPlayExport(t *testing.T) {
	f := newFixture(t)
	st := f.uploadAndWait(t)

	assert.True(t, st.Exportable)
	require.NotNil(t, st.Result)
	assert.Equal(t, "enhanced_speech.wav", st.Result.ArtifactID)
	require.NotEmpty(t, st.OriginalHandle)
	require.NotEmpty(t, st.EnhancedHandle)

	// local and proxied previews
	for _, h := range []preview.Handle{st.OriginalHandle, st.EnhancedHandle} {
		resp := f.do(t, http.MethodGet, "/preview/"+string(h), nil, "")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		body, _ := io.ReadAll(resp.Body)
		assert.Equal(t, wavPayload, body)
	}

	resp := f.do(t, http.MethodPost, "/api/playback/original/play", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp = f.do(t, http.MethodPost, "/api/playback/enhanced/toggle", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var after SessionStatus
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&after))
	assert.Equal(t, "enhanced", after.Playing)
	assert.False(t, f.coord.IsPlaying(playback.Original))

	resp = f.do(t, http.MethodPost, "/api/playback/both/play", nil, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = f.do(t, http.MethodGet, "/api/export?format=mp3", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, `attachment; filename="enhancedAudio.mp3"`, resp.Header.Get("Content-Disposition"))
	assert.Equal(t, "audio/mpeg", resp.Header.Get("Content-Type"))
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, wavPayload, body)

	resp = f.do(t, http.MethodGet, "/api/export?format=ogg", nil, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = f.do(t, http.MethodPost, "/api/export", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	saved, err := os.ReadFile(filepath.Join(f.exports, "enhancedAudio.wav"))
	require.NoError(t, err)
	assert.Equal(t, wavPayload, saved)
}

func TestResetReleasesPreviews(t *testing.T) {
	f := newFixture(t)
	st := f.uploadAndWait(t)

	resp := f.do(t, http.MethodPost, "/api/reset", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = f.do(t, http.MethodGet, "/preview/"+string(st.OriginalHandle), nil, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, session.Idle, f.status(t).State)
	assert.NotEqual(t, st.ID, f.status(t).ID)
}
