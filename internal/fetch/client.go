package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	log "github.com/sirupsen/logrus"
)

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36"

// Client performs a single HTTP retrieval with a per-attempt timeout and
// byte validation. It never retries; that is the retry policy's job.
type Client struct {
	client    *http.Client
	userAgent string
	headers   map[string]string
}

// NewClient builds a fetch client around the given transport. A nil
// transport falls back to http.DefaultTransport. Timeout applies per
// attempt and doubles as the cancellation bound for in-flight requests.
func NewClient(transport http.RoundTripper, timeout time.Duration, userAgent string) *Client {
	if transport == nil {
		transport = http.DefaultTransport
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	return &Client{
		client: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
		userAgent: userAgent,
		headers:   make(map[string]string),
	}
}

// SetHeader adds a header sent on every fetch. Not safe to call once
// fetches are in flight.
func (c *Client) SetHeader(key, value string) {
	c.headers[key] = value
}

// Fetch retrieves rawURL and returns the response body. Failures are
// classified as *TransientError or *PermanentError; context cancellation
// propagates unclassified so callers never retry a cancelled fetch.
func (c *Client) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	if _, err := url.ParseRequestURI(rawURL); err != nil {
		return nil, &PermanentError{URL: rawURL, Err: fmt.Errorf("malformed URL: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, &PermanentError{URL: rawURL, Err: fmt.Errorf("creating request: %w", err)}
	}
	req.Header.Set("User-Agent", c.userAgent)
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		// Network errors and client timeouts are all retryable.
		return nil, &TransientError{URL: rawURL, Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		// fall through to body read
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return nil, &TransientError{URL: rawURL, Status: resp.StatusCode, Err: errStatus}
	default:
		return nil, &PermanentError{URL: rawURL, Status: resp.StatusCode, Err: errStatus}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &TransientError{URL: rawURL, Err: fmt.Errorf("reading body: %w", err)}
	}

	if resp.ContentLength >= 0 && int64(len(body)) != resp.ContentLength {
		log.Debugf("Truncated body for %s: got %d bytes, Content-Length %d", rawURL, len(body), resp.ContentLength)
		return nil, &TransientError{URL: rawURL, Err: errTruncated}
	}
	if len(body) == 0 {
		return nil, &TransientError{URL: rawURL, Err: errEmptyBody}
	}

	return body, nil
}
