// Package client talks to the pose API server. It implements session.Transport.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/mhdmirzan/pose-estimation/internal/media"
	"github.com/mhdmirzan/pose-estimation/internal/session"
)

// UploadField is the multipart form field carrying uploaded media.
const UploadField = "file"

type Config struct {
	BaseURL string
	// Timeout is a safety net for abandoned calls; the session deadline is
	// what the user observes.
	Timeout time.Duration
}

type Client struct {
	httpClient *http.Client
	baseURL    string
}

func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 2 * session.DefaultDeadline
	}

	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
	}
}

// TransportError is any non-timeout failure talking to the server.
type TransportError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *TransportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("transport: %v", e.Err)
	}
	return fmt.Sprintf("server returned status %d: %s", e.StatusCode, e.Body)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Do posts the request and returns the response body untouched.
func (c *Client) Do(ctx context.Context, req session.Request) ([]byte, error) {
	var (
		body        io.Reader
		contentType string
	)
	if req.Upload != nil {
		buf, ct, err := encodeUpload(req.Upload)
		if err != nil {
			return nil, fmt.Errorf("encode upload: %w", err)
		}
		body, contentType = buf, ct
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+req.Endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	httpReq.Header.Set("Accept", media.Classify(req.Kind).ResultContentType)

	return c.send(httpReq)
}

func encodeUpload(f *session.UploadedFile) (*bytes.Buffer, string, error) {
	buf := &bytes.Buffer{}
	mw := multipart.NewWriter(buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, UploadField, f.Name))
	h.Set("Content-Type", f.ContentType())
	part, err := mw.CreatePart(h)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(f.Data); err != nil {
		return nil, "", err
	}
	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return buf, mw.FormDataContentType(), nil
}

func (c *Client) send(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &TransportError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &TransportError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Err: fmt.Errorf("read body: %w", err)}
	}
	return data, nil
}

type sampleList struct {
	Files []string `json:"files"`
}

// ListSamples returns the server's sample filenames for kind, in server order.
func (c *Client) ListSamples(ctx context.Context, kind media.Kind) ([]string, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+media.Classify(kind).SampleListEndpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	data, err := c.send(httpReq)
	if err != nil {
		return nil, err
	}

	var out sampleList
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode sample list: %w", err)
	}
	return out.Files, nil
}

// Fetch retrieves a server path, typically a session preview reference.
func (c *Client) Fetch(ctx context.Context, path string) ([]byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	return c.send(httpReq)
}

// IsAvailable probes the health endpoint.
func (c *Client) IsAvailable(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return false
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	return resp.StatusCode == http.StatusOK
}
