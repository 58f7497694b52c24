package enhance

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/satindergrewal/aaes/internal/hearing"
)

func TestNormalizeFilename(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"processed/out.wav", "out.wav"},
		{`processed\out.wav`, "out.wav"},
		{`\processed\out.wav`, "out.wav"},
		{"processed/enh123.wav", "enh123.wav"},
		{"http://127.0.0.1:5000/download/enhanced_a.mp3", "enhanced_a.mp3"},
		{"out.wav", "out.wav"},
		{"  a/b\\c/out.wav ", "out.wav"},
		{"/download/x.wav?token=1", "x.wav"},
		{"processed/", ""},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeFilename(tt.in), "NormalizeFilename(%q)", tt.in)
	}
}

func TestSubmitSendsProfileOutOfBand(t *testing.T) {
	a := hearing.New()
	for _, f := range hearing.Frequencies {
		require.NoError(t, a.SetLoss(hearing.Left, f, 10))
	}

	var gotLoss, gotGain, gotName, gotType string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/upload", r.URL.Path)
		gotLoss = r.Header.Get(HeaderHearingLoss)
		gotGain = r.Header.Get(HeaderTuningGain)

		f, hdr, err := r.FormFile("file")
		if !assert.NoError(t, err) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		defer f.Close()
		gotName = hdr.Filename
		gotType = hdr.Header.Get("Content-Type")
		gotBody, _ = io.ReadAll(f)

		assert.Empty(t, r.FormValue(HeaderHearingLoss), "profile must not be in the body")

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"processed_file": "processed/enh123.wav"})
	}))
	defer srv.Close()

	fixed := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	c := NewClient(srv.URL+"/", 5*time.Second)
	c.now = func() time.Time { return fixed }

	res, err := c.Submit(context.Background(), Source{Name: "clip.wav", MediaType: "audio/wav", Data: []byte("RIFFdata")}, a, 60)
	require.NoError(t, err)

	assert.Equal(t, a.Serialize(), gotLoss)
	assert.Equal(t, "60", gotGain)
	assert.Equal(t, "clip.wav", gotName)
	assert.Equal(t, "audio/wav", gotType)
	assert.Equal(t, []byte("RIFFdata"), gotBody)

	assert.Equal(t, "enh123.wav", res.ArtifactID)
	assert.Equal(t, srv.URL+"/download/enh123.wav", res.URL)
	assert.Equal(t, fixed, res.CompletedAt)
}

func TestSubmitEmptyFileNeverHitsNetwork(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	_, err := c.Submit(context.Background(), Source{Name: "empty.wav"}, hearing.New(), hearing.DefaultGain)
	require.ErrorIs(t, err, ErrEmptyFile)
	assert.False(t, called)
	assert.False(t, IsRequestFailure(err))
}

func TestSubmitServiceErrors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantMsg string
	}{
		{"internal error", http.StatusInternalServerError, `{"error":"boom"}`, "boom"},
		{"bad request plain", http.StatusBadRequest, "No file uploaded", "No file uploaded"},
		{"malformed json", http.StatusOK, "{not json", "decode response"},
		{"missing field", http.StatusOK, `{"message":"ok"}`, "no processed_file"},
		{"directory only", http.StatusOK, `{"processed_file":"processed/"}`, "no processed_file"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				io.WriteString(w, tt.body)
			}))
			defer srv.Close()

			c := NewClient(srv.URL, time.Second)
			_, err := c.Submit(context.Background(), Source{Name: "a.wav", Data: []byte{1}}, hearing.New(), hearing.DefaultGain)

			var se *ServiceError
			require.True(t, errors.As(err, &se), "got %v", err)
			assert.Contains(t, se.Error(), tt.wantMsg)
			if tt.status != http.StatusOK {
				assert.Equal(t, tt.status, se.StatusCode)
			}
			assert.True(t, IsRequestFailure(err))
		})
	}
}

func TestSubmitNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := NewClient(url, time.Second)
	_, err := c.Submit(context.Background(), Source{Name: "a.wav", Data: []byte{1}}, hearing.New(), hearing.DefaultGain)

	var ne *NetworkError
	require.True(t, errors.As(err, &ne), "got %v", err)
	assert.Equal(t, "upload", ne.Op)
	assert.True(t, IsRequestFailure(err))
}

func TestSubmitCancelledContext(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	c := NewClient(srv.URL, 0)

	errCh := make(chan error, 1)
	go func() {
		_, err := c.Submit(ctx, Source{Name: "a.wav", Data: []byte{1}}, hearing.New(), hearing.DefaultGain)
		errCh <- err
	}()
	cancel()

	select {
	case err := <-errCh:
		var ne *NetworkError
		require.True(t, errors.As(err, &ne), "got %v", err)
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Submit did not return after cancel")
	}
}

func TestFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/download/enh123.wav" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte("audio-bytes"))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	data, err := c.Fetch(context.Background(), c.DownloadURL("enh123.wav"))
	require.NoError(t, err)
	assert.Equal(t, []byte("audio-bytes"), data)

	_, err = c.Fetch(context.Background(), c.DownloadURL("missing.wav"))
	var se *ServiceError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusNotFound, se.StatusCode)
}

func TestDownloadURLEscapes(t *testing.T) {
	c := NewClient("http://svc:5000", time.Second)
	assert.Equal(t, "http://svc:5000/download/my%20clip.wav", c.DownloadURL("my clip.wav"))
}
