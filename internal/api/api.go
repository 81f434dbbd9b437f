// Package api provides the HTTP client the session negotiator drives. It is
// a thin wrapper over net/http with the pieces the broker's login flow
// needs: form-encoded bodies, a per-client cookie jar, and redirects that
// are captured rather than followed.
package api

import (
	"context"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"kiteclient/internal/logger"
)

// Client wraps an http.Client with default headers and optional logging.
// Non-2xx responses are returned to the caller untouched; interpreting a
// status code is protocol logic, not transport logic.
type Client struct {
	httpClient *http.Client
	headers    map[string]string
	useLogging bool
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithTimeout bounds every round-trip made through the client.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
	}
}

// WithHeader sets a default header sent on every request.
func WithHeader(key, value string) ClientOption {
	return func(c *Client) {
		c.headers[key] = value
	}
}

// WithCookieJar attaches a cookie jar. The login flow depends on cookies
// set in one step being replayed in the next, so each negotiation owns
// exactly one jar.
func WithCookieJar(jar *cookiejar.Jar) ClientOption {
	return func(c *Client) {
		c.httpClient.Jar = jar
	}
}

// WithoutRedirects stops the client from following redirects, returning the
// 3xx response itself so the caller can read the Location header.
func WithoutRedirects() ClientOption {
	return func(c *Client) {
		c.httpClient.CheckRedirect = func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		}
	}
}

// WithLogging enables request/response debug logging.
func WithLogging(enabled bool) ClientOption {
	return func(c *Client) {
		c.useLogging = enabled
	}
}

// NewClient creates a client with the given options applied in order.
func NewClient(opts ...ClientOption) *Client {
	client := &Client{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		headers: make(map[string]string),
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

// Response is a fully read HTTP response.
type Response struct {
	StatusCode int
	Body       []byte
	Headers    http.Header
}

// Location returns the redirect target, or "" when the header is absent.
func (r *Response) Location() string {
	return r.Headers.Get("Location")
}

// Cookies returns the jar's cookies for the given URL, keyed by name.
func (c *Client) Cookies(rawURL string) map[string]string {
	if c.httpClient.Jar == nil {
		return nil
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil
	}
	cookies := make(map[string]string)
	for _, ck := range c.httpClient.Jar.Cookies(u) {
		cookies[ck.Name] = ck.Value
	}
	return cookies
}

// Get performs a GET request with optional per-request headers.
func (c *Client) Get(ctx context.Context, rawURL string, headers map[string]string) (*Response, error) {
	return c.do(ctx, http.MethodGet, rawURL, nil, headers)
}

// PostForm performs a POST with an application/x-www-form-urlencoded body.
func (c *Client) PostForm(ctx context.Context, rawURL string, form url.Values) (*Response, error) {
	headers := map[string]string{"Content-Type": "application/x-www-form-urlencoded"}
	return c.do(ctx, http.MethodPost, rawURL, strings.NewReader(form.Encode()), headers)
}

// Delete performs a DELETE request. Parameters travel in the query string,
// matching the broker's session-revocation endpoint.
func (c *Client) Delete(ctx context.Context, rawURL string, query url.Values) (*Response, error) {
	if len(query) > 0 {
		sep := "?"
		if strings.Contains(rawURL, "?") {
			sep = "&"
		}
		rawURL = rawURL + sep + query.Encode()
	}
	return c.do(ctx, http.MethodDelete, rawURL, nil, nil)
}

func (c *Client) do(ctx context.Context, method, rawURL string, body io.Reader, headers map[string]string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return nil, err
	}

	for key, value := range c.headers {
		req.Header.Set(key, value)
	}
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	if c.useLogging {
		logger.Debug(ctx, "HTTP request", "method", method, "url", rawURL)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if c.useLogging {
			logger.ErrorWithErr(ctx, "HTTP request failed", err, "method", method, "url", rawURL)
		}
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if c.useLogging {
		logger.Debug(ctx, "HTTP response",
			"method", method,
			"url", rawURL,
			"status", resp.StatusCode,
			"duration", time.Since(start),
			"bodySize", len(respBody))
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Body:       respBody,
		Headers:    resp.Header,
	}, nil
}

// CloseIdle releases the client's idle connections. Called on every
// negotiation exit path.
func (c *Client) CloseIdle() {
	c.httpClient.CloseIdleConnections()
}

// BrowserHeaders returns the browser-like headers the broker requires; it
// rejects requests without a recognizable User-Agent.
func BrowserHeaders() map[string]string {
	return map[string]string{
		"User-Agent":      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		"Accept":          "application/json, text/plain, */*",
		"Accept-Language": "en-US,en;q=0.9",
	}
}
