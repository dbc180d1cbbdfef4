package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// ErrUnauthorized is matched by an *APIError with status 401.
var ErrUnauthorized = errors.New("unauthorized")

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Message    string

	// UpstreamStatus is the provider status reported on a 502, if any.
	UpstreamStatus int
}

func (e *APIError) Error() string {
	if e.UpstreamStatus != 0 {
		return fmt.Sprintf("server error %d: %s (upstream status %d)", e.StatusCode, e.Message, e.UpstreamStatus)
	}
	return fmt.Sprintf("server error %d: %s", e.StatusCode, e.Message)
}

// Is reports whether target is ErrUnauthorized and e is a 401.
func (e *APIError) Is(target error) bool {
	return target == ErrUnauthorized && e.StatusCode == http.StatusUnauthorized
}

// ScanResult is a completed scan.
type ScanResult struct {
	// Known is false when the provider had no record of the digest (or the
	// server collapses upstream failures into the same response).
	Known bool `json:"known"`

	// Stats maps detection category to engine count; nil when !Known.
	Stats map[string]int `json:"stats,omitempty"`

	// Digest and Severity echo the server's response headers when present.
	Digest   string `json:"digest,omitempty"`
	Severity string `json:"severity,omitempty"`

	RequestID string `json:"request_id,omitempty"`
}

// Client talks to a hashverdict server.
type Client struct {
	baseURL    string
	httpClient *http.Client
	authHeader string
	token      string
}

// Option is a functional option for configuring a Client.
type Option func(*Client) error

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) error {
		if hc == nil {
			return errors.New("nil http client")
		}
		c.httpClient = hc
		return nil
	}
}

// WithToken sets the token sent with every scan.
func WithToken(token string) Option {
	return func(c *Client) error {
		c.token = token
		return nil
	}
}

// WithAuthHeader overrides the header name used for the token (default
// "Bearer"). With "Authorization" the token is sent as "Bearer <token>".
func WithAuthHeader(name string) Option {
	return func(c *Client) error {
		if name == "" {
			return errors.New("empty auth header name")
		}
		c.authHeader = name
		return nil
	}
}

// New creates a Client for the server at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("base URL is required")
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 2 * time.Minute},
		authHeader: "Bearer",
	}
	for _, o := range opts {
		if err := o(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// MustNew is like New but panics on error. Useful in tests and program init.
func MustNew(baseURL string, opts ...Option) *Client {
	c, err := New(baseURL, opts...)
	if err != nil {
		panic(err)
	}
	return c
}

// ScanHash submits a precomputed digest.
func (c *Client) ScanHash(ctx context.Context, hash string) (*ScanResult, error) {
	body, err := json.Marshal(map[string]string{"hash": hash})
	if err != nil {
		return nil, fmt.Errorf("encode scan request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/scan", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build scan request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req)
}

// ScanFile streams r to the server as the multipart "file" field.
func (c *Client) ScanFile(ctx context.Context, filename string, r io.Reader) (*ScanResult, error) {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		fw, err := mw.CreateFormFile("file", filename)
		if err == nil {
			_, err = io.Copy(fw, r)
		}
		if err == nil {
			err = mw.Close()
		}
		pw.CloseWithError(err) //nolint:errcheck
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/scan", pr)
	if err != nil {
		pr.CloseWithError(err) //nolint:errcheck
		return nil, fmt.Errorf("build scan request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return c.do(req)
}

func (c *Client) do(req *http.Request) (*ScanResult, error) {
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		if strings.EqualFold(c.authHeader, "Authorization") {
			req.Header.Set("Authorization", "Bearer "+c.token)
		} else {
			req.Header.Set(c.authHeader, c.token)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 300 {
		var payload struct {
			Message string `json:"message"`
			Status  int    `json:"status"`
		}
		if json.Unmarshal(body, &payload) != nil || payload.Message == "" {
			payload.Message = strings.TrimSpace(string(body))
		}
		return nil, &APIError{
			StatusCode:     resp.StatusCode,
			Message:        payload.Message,
			UpstreamStatus: payload.Status,
		}
	}

	result := &ScanResult{
		Digest:    resp.Header.Get("X-Scan-Digest"),
		Severity:  resp.Header.Get("X-Scan-Severity"),
		RequestID: resp.Header.Get("X-Request-ID"),
	}
	if err := json.Unmarshal(body, &result.Stats); err != nil {
		return nil, fmt.Errorf("decode scan response: %w", err)
	}
	result.Known = result.Stats != nil
	return result, nil
}
