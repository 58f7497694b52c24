package commands

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/satindergrewal/aaes/internal/hearing"
	"github.com/satindergrewal/aaes/internal/stubservice"
)

func TestParseLosses(t *testing.T) {
	got, err := parseLosses(" 125=10, 4000 = 55,,")
	require.NoError(t, err)
	assert.Equal(t, []loss{{freq: 125, db: 10}, {freq: 4000, db: 55}}, got)

	got, err = parseLosses("")
	require.NoError(t, err)
	assert.Empty(t, got)

	for _, bad := range []string{"125", "x=10", "125=loud"} {
		_, err := parseLosses(bad)
		assert.ErrorIs(t, err, hearing.ErrValidation, bad)
	}
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func writeInput(t *testing.T) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "speech.wav")
	require.NoError(t, os.WriteFile(p, []byte("RIFF\x24\x00\x00\x00WAVEfmt "), 0o644))
	return p
}

func TestEnhanceExportsToDirectory(t *testing.T) {
	stub := stubservice.New()
	remote := httptest.NewServer(stub)
	defer remote.Close()

	t.Setenv("AAES_SERVICE_URL", remote.URL)
	out := t.TempDir()
	reportPath := filepath.Join(t.TempDir(), "report.csv")
	t.Setenv("AAES_REPORT_CSV", reportPath)

	stdout, err := run(t, "enhance",
		"--file", writeInput(t),
		"--left", "125=10,2000=35",
		"--gain", "60",
		"--format", "mp3",
		"--out", out,
	)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(out, "enhancedAudio.mp3"), strings.TrimSpace(stdout))

	saved, err := os.ReadFile(filepath.Join(out, "enhancedAudio.mp3"))
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(saved, []byte("RIFF")))

	uploads := stub.Uploads()
	require.Len(t, uploads, 1)
	assert.Equal(t, hearing.TuningGain(60), uploads[0].Gain)
	db, err := uploads[0].Audiogram.Loss(hearing.Left, 2000)
	require.NoError(t, err)
	assert.Equal(t, 35, db)

	csv, err := os.ReadFile(reportPath)
	require.NoError(t, err)
	assert.Contains(t, string(csv), "speech.wav")
}

func TestEnhanceReportsServiceFailure(t *testing.T) {
	remote := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model crashed", http.StatusInternalServerError)
	}))
	defer remote.Close()

	_, err := run(t, "enhance", "--service", remote.URL, "--file", writeInput(t), "--out", t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 500")
}

func TestEnhanceRejectsBadInput(t *testing.T) {
	t.Setenv("AAES_SERVICE_URL", "http://127.0.0.1:1")

	_, err := run(t, "enhance", "--file", writeInput(t), "--gain", "90")
	assert.ErrorIs(t, err, hearing.ErrInvalidGain)

	_, err = run(t, "enhance", "--file", writeInput(t), "--right", "3000=20")
	assert.ErrorIs(t, err, hearing.ErrInvalidFrequency)

	_, err = run(t, "enhance", "--file", writeInput(t), "--format", "ogg")
	assert.Error(t, err)
}

func TestRootRejectsInvalidConfig(t *testing.T) {
	_, err := run(t, "enhance", "--log-format", "xml", "--file", "x.wav")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
}
