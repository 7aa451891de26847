package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// StatusError is returned for non-2xx answers.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.Code, strings.TrimSpace(e.Body))
}

// Temporary reports whether retrying the request may succeed.
func (e *StatusError) Temporary() bool {
	return e.Code >= http.StatusInternalServerError || e.Code == http.StatusTooManyRequests
}

type ClientOption func(*Client)

func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) { c.timeout = timeout }
}

// WithTransport overrides the round tripper, mostly for tests.
func WithTransport(rt http.RoundTripper) ClientOption {
	return func(c *Client) { c.transport = rt }
}

// WithUserAgent sets the User-Agent header on every request.
func WithUserAgent(ua string) ClientOption {
	return func(c *Client) { c.userAgent = ua }
}

// Request describes one call. A non-nil Body is sent as JSON unless it is
// already bytes or a reader.
type Request struct {
	Method string
	URL    string
	Query  url.Values
	Header http.Header
	Body   interface{}
}

// Client is a small JSON-over-HTTP client.
type Client struct {
	timeout   time.Duration
	transport http.RoundTripper
	userAgent string
	hc        *http.Client
}

func NewClient(opts ...ClientOption) *Client {
	c := &Client{timeout: 30 * time.Second, userAgent: "astrocal"}
	for _, opt := range opts {
		opt(c)
	}
	c.hc = &http.Client{Timeout: c.timeout, Transport: c.transport}
	return c
}

// Do sends the request. The caller closes the response body.
func (c *Client) Do(ctx context.Context, r *Request) (*http.Response, error) {
	body, isJSON, err := requestBody(r.Body)
	if err != nil {
		return nil, err
	}
	u := r.URL
	if len(r.Query) > 0 {
		sep := "?"
		if strings.Contains(u, "?") {
			sep = "&"
		}
		u += sep + r.Query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, r.Method, u, body)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	for k, vs := range r.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if isJSON && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", r.Method, r.URL, err)
	}
	return resp, nil
}

// DoJSON sends the request and decodes a 2xx JSON answer into dest. A nil
// dest discards the body.
func (c *Client) DoJSON(ctx context.Context, r *Request, dest interface{}) error {
	resp, err := c.Do(ctx, r)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return &StatusError{Code: resp.StatusCode, Body: string(b)}
	}
	if dest == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return fmt.Errorf("decode json: %w", err)
	}
	return nil
}

func requestBody(v interface{}) (io.Reader, bool, error) {
	switch b := v.(type) {
	case nil:
		return nil, false, nil
	case []byte:
		return bytes.NewReader(b), false, nil
	case io.Reader:
		return b, false, nil
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return nil, false, fmt.Errorf("marshal json: %w", err)
		}
		return bytes.NewReader(data), true, nil
	}
}
