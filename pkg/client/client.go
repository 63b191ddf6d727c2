package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tendant/community-highlighter/pkg/highlighter"
)

// StatusError is returned when the backend answers with a non-2xx status
type StatusError struct {
	Operation  string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: unexpected status %d", e.Operation, e.StatusCode)
	}
	return fmt.Sprintf("%s: unexpected status %d: %s", e.Operation, e.StatusCode, e.Body)
}

// Client is an HTTP client for the highlighter backend
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a new backend client
func New(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 10 * time.Minute,
		},
	}
}

// NewWithHTTPClient creates a new backend client with a custom HTTP client
func NewWithHTTPClient(baseURL string, httpClient *http.Client) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
	}
}

// BaseURL returns the backend base URL without a trailing slash
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Download asks the backend to fetch and ingest the video at videoURL
func (c *Client) Download(ctx context.Context, videoURL string) error {
	body, err := json.Marshal(highlighter.DownloadRequest{URL: videoURL})
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	resp, err := c.do(ctx, highlighter.OpDownload, http.MethodPost, "/api/download", bytes.NewReader(body), "application/json")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// Upload streams a local video to the backend as multipart form data
func (c *Client) Upload(ctx context.Context, fileName string, r io.Reader) error {
	pr, pw := io.Pipe()
	form := multipart.NewWriter(pw)

	go func() {
		part, err := form.CreateFormFile(highlighter.UploadField, fileName)
		if err != nil {
			pw.CloseWithError(err)
			return
		}
		if _, err := io.Copy(part, r); err != nil {
			pw.CloseWithError(err)
			return
		}
		pw.CloseWithError(form.Close())
	}()

	resp, err := c.do(ctx, highlighter.OpUpload, http.MethodPost, "/api/upload", pr, form.FormDataContentType())
	// Unblock the writer goroutine if the request never drained the pipe
	pr.Close()
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// Summarize returns the summary text for the current video
func (c *Client) Summarize(ctx context.Context) (string, error) {
	var out highlighter.SummaryResponse
	if err := c.postJSON(ctx, highlighter.OpSummarize, "/api/summarize", &out); err != nil {
		return "", err
	}
	return out.Summary, nil
}

// Transcribe generates subtitles and returns their locator
func (c *Client) Transcribe(ctx context.Context) (string, error) {
	var out highlighter.PathResponse
	if err := c.postJSON(ctx, highlighter.OpTranscribe, "/api/transcribe", &out); err != nil {
		return "", err
	}
	return out.Path, nil
}

// Highlight generates the highlight reel and returns its locator
func (c *Client) Highlight(ctx context.Context) (string, error) {
	var out highlighter.PathResponse
	if err := c.postJSON(ctx, highlighter.OpHighlight, "/api/highlight", &out); err != nil {
		return "", err
	}
	return out.Path, nil
}

// Metadata returns the backend's view of the current video
func (c *Client) Metadata(ctx context.Context) (highlighter.Metadata, error) {
	resp, err := c.do(ctx, highlighter.OpGetMetadata, http.MethodGet, "/api/metadata", nil, "")
	if err != nil {
		return highlighter.Metadata{}, err
	}
	defer resp.Body.Close()

	var md highlighter.Metadata
	if err := json.NewDecoder(resp.Body).Decode(&md); err != nil {
		return highlighter.Metadata{}, fmt.Errorf("failed to decode response: %w", err)
	}
	return md, nil
}

// ResolveURL turns a backend-relative locator into an absolute URL.
// Absolute locators are returned unchanged.
func (c *Client) ResolveURL(locator string) (string, error) {
	if locator == "" {
		return "", fmt.Errorf("empty locator")
	}
	ref, err := url.Parse(locator)
	if err != nil {
		return "", fmt.Errorf("invalid locator: %w", err)
	}
	if ref.IsAbs() {
		return ref.String(), nil
	}
	base, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid base URL: %w", err)
	}
	if ref.Host != "" {
		return base.ResolveReference(ref).String(), nil
	}
	// locators are appended to the base URL, keeping any path prefix on it
	base.Path = strings.TrimRight(base.Path, "/") + "/" + strings.TrimLeft(ref.Path, "/")
	base.RawPath = ""
	base.RawQuery = ref.RawQuery
	base.Fragment = ref.Fragment
	return base.String(), nil
}

// Fetch returns a reader for the artifact at locator. The caller closes it.
func (c *Client) Fetch(ctx context.Context, locator string) (io.ReadCloser, error) {
	target, err := c.ResolveURL(locator)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch artifact: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &StatusError{Operation: "fetch", StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(bodyBytes))}
	}

	return resp.Body, nil
}

func (c *Client) postJSON(ctx context.Context, op, path string, out any) error {
	resp, err := c.do(ctx, op, http.MethodPost, path, nil, "")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// do executes a request and converts non-2xx responses into *StatusError.
// On success the caller owns resp.Body.
func (c *Client) do(ctx context.Context, op, method, path string, body io.Reader, contentType string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s request failed: %w", op, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &StatusError{Operation: op, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(bodyBytes))}
	}

	return resp, nil
}
