// Package apollo is a minimal client for the contacts search and
// enrichment endpoints of the Apollo-compatible API used by the pipeline.
package apollo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/leadflow/leadflow/internal/lead"
	"github.com/leadflow/leadflow/internal/redact"
)

const (
	defaultBaseURL = "https://api.apollo.io/api"

	// maxPerPage is the search endpoint's page-size limit.
	maxPerPage = 100
	// maxBulkMatch is the bulk-match endpoint's batch limit.
	maxBulkMatch = 10
)

type Config struct {
	APIKey string

	// BaseURL overrides the API base URL. Useful for proxies/testing.
	BaseURL string

	// HTTPClient overrides the default client (60s timeout).
	HTTPClient *http.Client
}

// Client issues JSON requests against the contacts API. All calls carry the
// static API key; the client holds no per-run state.
type Client struct {
	baseURL *url.URL
	apiKey  string
	http    *http.Client
}

func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("apollo api key is required")
	}
	raw := strings.TrimSpace(cfg.BaseURL)
	if raw == "" {
		raw = defaultBaseURL
	}
	base, err := parseBaseURL(raw)
	if err != nil {
		return nil, err
	}

	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 60 * time.Second}
	}

	return &Client{
		baseURL: base,
		apiKey:  strings.TrimSpace(cfg.APIKey),
		http:    hc,
	}, nil
}

func parseBaseURL(raw string) (*url.URL, error) {
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse api base URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("api base URL must include a host (got %q)", redact.Secrets(raw))
	}
	// Ensure the base path ends with a slash so ResolveReference treats it as a directory.
	u.Path = strings.TrimRight(u.Path, "/") + "/"
	u.RawQuery = ""
	u.Fragment = ""
	return u, nil
}

func (c *Client) resolve(rel string, query url.Values) *url.URL {
	ref := &url.URL{Path: strings.TrimLeft(rel, "/")}
	u := c.baseURL.ResolveReference(ref)
	if query != nil {
		u.RawQuery = query.Encode()
	}
	return u
}

// postJSON issues a POST with the API key header and decodes a 2xx response
// into out. Non-2xx responses are classified into the pipeline error
// taxonomy: 401/403 auth, 429 rate limit with Retry-After hint, 5xx
// transient, anything else a plain HTTPError.
func (c *Client) postJSON(ctx context.Context, op, rel string, query url.Values, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%s: encode request: %w", op, err)
	}

	u := c.resolve(rel, query)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("X-Api-Key", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode/100 != 2 {
		return classifyHTTPError(op, resp, b)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(b, out); err != nil {
		return fmt.Errorf("%s: parse response: %w", op, err)
	}
	return nil
}

func classifyHTTPError(op string, resp *http.Response, body []byte) error {
	he := newHTTPError(op, resp, body)
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return &lead.AuthError{Op: op, Err: he}
	case resp.StatusCode == http.StatusTooManyRequests:
		return &lead.RateLimitedError{Err: he, RetryAfter: retryAfter(resp)}
	case resp.StatusCode/100 == 5:
		return &lead.TransientError{Err: he}
	default:
		return he
	}
}

// retryAfter parses the Retry-After header as delay seconds. HTTP-date
// values are ignored; the backoff default applies instead.
func retryAfter(resp *http.Response) time.Duration {
	v := strings.TrimSpace(resp.Header.Get("Retry-After"))
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
