package enhance

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/satindergrewal/aaes/internal/hearing"
)

const (
	HeaderHearingLoss = "x-hearing-loss"
	HeaderTuningGain  = "x-tuning-gain"

	uploadPath   = "/upload"
	downloadPath = "/download/"

	// maxErrorBody bounds how much of a failed response is kept for the notice.
	maxErrorBody = 512
)

// Client talks to the remote enhancement service.
type Client struct {
	baseURL string
	http    *http.Client
	now     func() time.Time
}

// NewClient creates a client for the service at baseURL. A zero timeout
// leaves requests bounded only by their context.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		now:     time.Now,
	}
}

// WithHTTPClient swaps the underlying HTTP client (tests, custom transports).
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.http = hc
	return c
}

// BaseURL returns the service root without a trailing slash.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Source is the file handed to Submit.
type Source struct {
	Name      string
	MediaType string
	Data      []byte
}

// Result is a successfully processed artifact.
type Result struct {
	ArtifactID  string    `json:"artifact_id"`
	URL         string    `json:"url"`
	CompletedAt time.Time `json:"completed_at"`
}

type uploadResp struct {
	Message       string `json:"message"`
	ProcessedFile string `json:"processed_file"`
	Error         string `json:"error"`
}

// Submit uploads src together with the listener profile and returns the
// processed artifact. The audiogram and gain travel as headers; the body
// carries only the file.
func (c *Client) Submit(ctx context.Context, src Source, audiogram hearing.Audiogram, gain hearing.TuningGain) (Result, error) {
	if len(src.Data) == 0 {
		return Result{}, ErrEmptyFile
	}

	body, contentType, err := multipartBody(src)
	if err != nil {
		return Result{}, fmt.Errorf("build upload body: %w", err)
	}

	endpoint := c.baseURL + uploadPath
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return Result{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set(HeaderHearingLoss, audiogram.Serialize())
	req.Header.Set(HeaderTuningGain, gain.String())

	logrus.WithFields(logrus.Fields{
		"function":    "Submit",
		"file":        src.Name,
		"bytes":       len(src.Data),
		"tuning_gain": int(gain),
	}).Debug("Uploading file for enhancement")

	resp, err := c.http.Do(req)
	if err != nil {
		return Result{}, &NetworkError{Op: "upload", URL: endpoint, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return Result{}, &ServiceError{Op: "upload", StatusCode: resp.StatusCode, Message: errorMessage(resp.Body)}
	}

	var out uploadResp
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Result{}, &ServiceError{Op: "upload", Message: fmt.Sprintf("decode response: %v", err)}
	}

	name := NormalizeFilename(out.ProcessedFile)
	if name == "" {
		return Result{}, &ServiceError{Op: "upload", Message: "response has no processed_file"}
	}

	return Result{
		ArtifactID:  name,
		URL:         c.DownloadURL(name),
		CompletedAt: c.now(),
	}, nil
}

// DownloadURL is the retrieval URL for a normalized artifact name.
func (c *Client) DownloadURL(name string) string {
	return c.baseURL + downloadPath + url.PathEscape(name)
}

// Fetch downloads an artifact by its retrieval URL.
func (c *Client) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &NetworkError{Op: "download", URL: rawURL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return nil, &ServiceError{Op: "download", StatusCode: resp.StatusCode, Message: errorMessage(resp.Body)}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &NetworkError{Op: "download", URL: rawURL, Err: err}
	}
	return data, nil
}

// NormalizeFilename reduces whatever the service reports as the processed
// file (a relative path in either separator convention, or a full URL) to a
// bare filename.
func NormalizeFilename(p string) string {
	p = strings.TrimSpace(p)
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	if i := strings.LastIndexAny(p, `/\`); i >= 0 {
		p = p[i+1:]
	}
	return p
}

func multipartBody(src Source) (io.Reader, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	name := src.Name
	if name == "" {
		name = "upload"
	}
	mediaType := src.MediaType
	if mediaType == "" {
		mediaType = "application/octet-stream"
	}

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, name))
	h.Set("Content-Type", mediaType)
	part, err := mw.CreatePart(h)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(src.Data); err != nil {
		return nil, "", err
	}
	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return &buf, mw.FormDataContentType(), nil
}

// errorMessage pulls a human-readable reason out of a failed response.
func errorMessage(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, maxErrorBody))
	var out uploadResp
	if json.Unmarshal(b, &out) == nil && out.Error != "" {
		return out.Error
	}
	if s := strings.TrimSpace(string(b)); s != "" {
		return s
	}
	return "no details"
}
