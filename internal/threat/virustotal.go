package threat

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"
)

// DefaultVirusTotalURL is the VirusTotal v3 API root.
const DefaultVirusTotalURL = "https://www.virustotal.com/api/v3"

// maxResponseBytes caps how much of a provider response is read into memory.
const maxResponseBytes = 8 << 20

// VirusTotalClient looks up file digests with GET /files/{digest}.
type VirusTotalClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
	logger  *zap.Logger
}

// NewVirusTotalClient creates a client for the API rooted at baseURL. A nil
// hc uses an http.Client with no timeout; bound lookups with WithTimeout.
func NewVirusTotalClient(baseURL, apiKey string, hc *http.Client, logger *zap.Logger) *VirusTotalClient {
	if baseURL == "" {
		baseURL = DefaultVirusTotalURL
	}
	if hc == nil {
		hc = &http.Client{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &VirusTotalClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    hc,
		logger:  logger,
	}
}

// Lookup implements Provider. The digest is used verbatim as a path segment.
func (c *VirusTotalClient) Lookup(ctx context.Context, digest string) (*Result, error) {
	endpoint := c.baseURL + "/files/" + url.PathEscape(digest)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build lookup request: %w", err)
	}
	req.Header.Set("x-apikey", c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTransport, err)
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %w", ErrTransport, err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
		stats, err := Normalize(body)
		if err != nil {
			return nil, err
		}
		return Verdict(stats), nil
	case http.StatusNotFound:
		c.logger.Debug("digest not known to provider", zap.String("digest", digest))
		return Unknown(), nil
	default:
		c.logger.Warn("provider returned unexpected status",
			zap.String("digest", digest),
			zap.Int("status", resp.StatusCode),
			zap.String("body", string(body)),
		)
		return UpstreamError(resp.StatusCode, string(body)), nil
	}
}
