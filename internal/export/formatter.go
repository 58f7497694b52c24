package export

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/satindergrewal/aaes/internal/enhance"
)

var (
	// ErrNotExportable is returned when there is no current result to export.
	ErrNotExportable     = errors.New("nothing to export")
	ErrUnsupportedFormat = errors.New("unsupported export format")
)

// Format is an export container.
type Format string

const (
	WAV Format = "wav"
	MP3 Format = "mp3"
)

// Formats lists the supported containers in menu order.
var Formats = []Format{WAV, MP3}

// ParseFormat accepts "wav" or "mp3" in any case.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case WAV, MP3:
		return f, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, s)
}

// MediaType is the declared type for blobs in this container.
func (f Format) MediaType() string {
	switch f {
	case WAV:
		return "audio/wav"
	case MP3:
		return "audio/mpeg"
	}
	return "application/octet-stream"
}

// Filename is the name the blob is saved under.
func (f Format) Filename() string {
	return "enhancedAudio." + string(f)
}

// Blob is a downloadable export.
type Blob struct {
	Name      string
	MediaType string
	Data      []byte

	// Detected is the container found in Data, empty when unrecognised.
	// Mismatch is set when it differs from the requested format.
	Detected Format
	Mismatch bool
}

// Fetcher retrieves artifact bytes by URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Formatter turns the current result into a Blob.
type Formatter struct {
	fetch Fetcher
}

// NewFormatter creates a formatter that downloads through f.
func NewFormatter(f Fetcher) *Formatter {
	return &Formatter{fetch: f}
}

// Export downloads res and labels it as format. The bytes are not
// re-encoded; when the artifact's real container differs from format the
// blob is flagged and a warning is logged.
func (f *Formatter) Export(ctx context.Context, res *enhance.Result, format Format) (Blob, error) {
	if res == nil {
		return Blob{}, ErrNotExportable
	}
	format, err := ParseFormat(string(format))
	if err != nil {
		return Blob{}, err
	}

	data, err := f.fetch.Fetch(ctx, res.URL)
	if err != nil {
		return Blob{}, fmt.Errorf("fetch %s: %w", res.ArtifactID, err)
	}

	blob := Blob{
		Name:      format.Filename(),
		MediaType: format.MediaType(),
		Data:      data,
		Detected:  Detect(data),
	}
	if blob.Detected != "" && blob.Detected != format {
		blob.Mismatch = true
		logrus.WithFields(logrus.Fields{
			"function":  "Export",
			"artifact":  res.ArtifactID,
			"requested": string(format),
			"detected":  string(blob.Detected),
		}).Warn("Exported bytes do not match requested container")
	}
	return blob, nil
}

// Detect sniffs the container of an audio payload.
func Detect(data []byte) Format {
	switch {
	case len(data) >= 12 && bytes.Equal(data[0:4], []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WAVE")):
		return WAV
	case len(data) >= 3 && bytes.Equal(data[0:3], []byte("ID3")):
		return MP3
	case len(data) >= 2 && data[0] == 0xFF && data[1]&0xE0 == 0xE0:
		return MP3
	}
	return ""
}
