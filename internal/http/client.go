package http

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
)

// DefaultUserAgent is sent when the caller's header set has none.
// Some CDNs reject requests without a browser-like User-Agent.
const DefaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// StatusError is returned for responses with a status code >= 400.
type StatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("HTTP error %d for %s: %s", e.StatusCode, e.URL, e.Body)
	}
	return fmt.Sprintf("HTTP error %d for %s", e.StatusCode, e.URL)
}

// Client wraps resty.Client with timeout handling. Every call issues
// exactly one request; retries belong to the segment fetcher.
type Client struct {
	resty  *resty.Client
	logger *slog.Logger
}

// ClientConfig holds configuration for the HTTP client
type ClientConfig struct {
	Timeout   time.Duration
	UserAgent string
	Debug     bool
	Logger    *slog.Logger
}

// DefaultClientConfig returns sensible defaults for HTTP client
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Timeout:   60 * time.Second,
		UserAgent: DefaultUserAgent,
	}
}

// NewClient creates a new HTTP client with the given configuration
func NewClient(config ClientConfig) *Client {
	if config.Timeout == 0 {
		config.Timeout = 60 * time.Second
	}
	if config.UserAgent == "" {
		config.UserAgent = DefaultUserAgent
	}

	restyClient := resty.New().
		SetTimeout(config.Timeout).
		SetHeader("User-Agent", config.UserAgent).
		SetHeader("Accept", "*/*")

	client := &Client{
		resty:  restyClient,
		logger: config.Logger,
	}

	if config.Debug && config.Logger != nil {
		restyClient.OnBeforeRequest(func(c *resty.Client, r *resty.Request) error {
			client.logRequest(r)
			return nil
		})
		restyClient.OnAfterResponse(func(c *resty.Client, r *resty.Response) error {
			client.logResponse(r)
			return nil
		})
	}

	return client
}

// Get performs a GET request and buffers the body.
// Responses with status >= 400 are returned together with a *StatusError.
func (c *Client) Get(ctx context.Context, url string, headers map[string]string) (*resty.Response, error) {
	req := c.resty.R().SetContext(ctx)

	for key, value := range headers {
		req.SetHeader(key, value)
	}

	resp, err := req.Get(url)
	if err != nil {
		return nil, fmt.Errorf("GET request failed for %s: %w", url, err)
	}

	if resp.StatusCode() >= 400 {
		return resp, &StatusError{StatusCode: resp.StatusCode(), URL: url, Body: truncate(resp.String(), 200)}
	}

	return resp, nil
}

// Download streams the body of a GET request into w without buffering it in
// memory. It returns the number of bytes written. Non-2xx responses are not
// copied and yield a *StatusError.
func (c *Client) Download(ctx context.Context, url string, headers map[string]string, w io.Writer) (int64, error) {
	req := c.resty.R().
		SetContext(ctx).
		SetDoNotParseResponse(true)

	for key, value := range headers {
		req.SetHeader(key, value)
	}

	resp, err := req.Get(url)
	if err != nil {
		return 0, fmt.Errorf("GET request failed for %s: %w", url, err)
	}

	body := resp.RawBody()
	defer func() { _ = body.Close() }()

	if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(body, 4096))
		return 0, &StatusError{StatusCode: resp.StatusCode(), URL: url}
	}

	n, err := io.Copy(w, body)
	if err != nil {
		return n, fmt.Errorf("error reading response from %s: %w", url, err)
	}

	return n, nil
}

// FinalURL returns the URL the response was actually served from, after
// redirects. It falls back to the requested URL.
func FinalURL(resp *resty.Response) string {
	if resp != nil && resp.RawResponse != nil && resp.RawResponse.Request != nil && resp.RawResponse.Request.URL != nil {
		return resp.RawResponse.Request.URL.String()
	}
	if resp != nil && resp.Request != nil {
		return resp.Request.URL
	}
	return ""
}

// IsAuthStatus reports whether code belongs to the authorization class.
func IsAuthStatus(code int) bool {
	return code == http.StatusUnauthorized || code == http.StatusForbidden
}

// logRequest logs HTTP request details
func (c *Client) logRequest(r *resty.Request) {
	if c.logger == nil {
		return
	}

	c.logger.Debug("HTTP Request",
		"method", r.Method,
		"url", r.URL,
		"headers", redact(r.Header),
	)
}

// logResponse logs HTTP response details
func (c *Client) logResponse(r *resty.Response) {
	if c.logger == nil {
		return
	}

	c.logger.Debug("HTTP Response",
		"status", r.StatusCode(),
		"status_text", r.Status(),
		"url", r.Request.URL,
		"size", r.Size(),
		"time", r.Time(),
	)
}

// redact drops credentials from logged headers
func redact(h http.Header) http.Header {
	out := h.Clone()
	for _, key := range []string{"Authorization", "Cookie", "Proxy-Authorization"} {
		if out.Get(key) != "" {
			out.Set(key, "[redacted]")
		}
	}
	return out
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "... (truncated)"
}
