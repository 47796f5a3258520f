// Package httpclient is a small JSON-over-HTTP client used for the platform
// control plane, most notably the persistent-connection endpoint bootstrap.
// Hooks run around every request so the adaptive rate limiter and metrics can
// observe outbound traffic without the client knowing about either.
package httpclient

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/drblury/larkflow/internal/runtime/jsoncodec"
	"github.com/drblury/larkflow/internal/runtime/ratelimit"
)

// DefaultTimeout bounds a single request unless the context is stricter.
const DefaultTimeout = 30 * time.Second

// HTTPError is returned when the server responds with a non-2xx status.
// The raw body and headers are kept so callers can classify throttling.
type HTTPError struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("larkflow: http request failed: status %d", e.StatusCode)
}

// Request describes one JSON call. Body is ignored for GET requests.
type Request struct {
	Method string
	Path   string
	Header http.Header
	Query  url.Values
	Body   map[string]any
}

// Outcome summarizes a finished request for the After hooks. Code carries the
// platform body code when the response decoded, zero otherwise.
type Outcome struct {
	StatusCode int
	Code       int
	Throttled  bool
	RetryAfter time.Duration
	Err        error
}

// BeforeHook runs before the request is sent. A non-nil error aborts the call.
type BeforeHook func(ctx context.Context, method, path string) error

// AfterHook observes the outcome of a request, throttled or not.
type AfterHook func(method, path string, outcome Outcome)

// Client issues JSON requests against a base URL. The zero value is not
// usable, construct it with New.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	Before     []BeforeHook
	After      []AfterHook
}

// Close releases idle connections held by the transport pool. The client
// stays usable afterwards; the next request dials fresh.
func (c *Client) Close() {
	if c.HTTPClient != nil {
		c.HTTPClient.CloseIdleConnections()
	}
}

// Option configures the client.
type Option func(*Client)

// WithTimeout overrides the transport timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.HTTPClient.Timeout = d }
}

// WithHTTPClient swaps the underlying transport, e.g. for tests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.HTTPClient = hc }
}

// WithLimiter paces every request through the adaptive limiter and feeds
// success/throttle signals back to it.
func WithLimiter(l *ratelimit.Limiter) Option {
	return func(c *Client) {
		before, after := LimiterHooks(l)
		c.Before = append(c.Before, before)
		c.After = append(c.After, after)
	}
}

// New builds a client for baseURL. Paths starting with http:// or https://
// bypass the base URL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{Timeout: DefaultTimeout},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// DoJSON performs the request and decodes the response into a JSON object.
func (c *Client) DoJSON(ctx context.Context, req Request) (map[string]any, error) {
	method := strings.ToUpper(req.Method)

	for _, hook := range c.Before {
		if err := hook(ctx, method, req.Path); err != nil {
			return nil, err
		}
	}

	var reader io.Reader
	if method != http.MethodGet && req.Body != nil {
		encoded, err := jsoncodec.Marshal(req.Body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(encoded)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.requestURL(req.Path), reader)
	if err != nil {
		return nil, err
	}
	for key, values := range req.Header {
		for _, v := range values {
			httpReq.Header.Add(key, v)
		}
	}
	if reader != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if len(req.Query) > 0 {
		merged := httpReq.URL.Query()
		for key, values := range req.Query {
			for _, v := range values {
				merged.Add(key, v)
			}
		}
		httpReq.URL.RawQuery = merged.Encode()
	}

	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		c.finish(method, req.Path, Outcome{Err: err})
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		c.finish(method, req.Path, Outcome{StatusCode: resp.StatusCode, Err: err})
		return nil, err
	}

	if resp.StatusCode >= 400 {
		httpErr := &HTTPError{StatusCode: resp.StatusCode, Header: resp.Header.Clone(), Body: body}
		outcome := Outcome{StatusCode: resp.StatusCode, Err: httpErr}
		if resp.StatusCode == http.StatusTooManyRequests {
			outcome.Throttled = true
			outcome.RetryAfter = RetryAfter(resp.Header)
		}
		c.finish(method, req.Path, outcome)
		return nil, httpErr
	}

	var data map[string]any
	if err := jsoncodec.Unmarshal(body, &data); err != nil {
		decodeErr := fmt.Errorf("larkflow: response body is not a json object: %w", err)
		c.finish(method, req.Path, Outcome{StatusCode: resp.StatusCode, Err: decodeErr})
		return nil, decodeErr
	}

	outcome := Outcome{StatusCode: resp.StatusCode, Code: bodyCode(data)}
	outcome.Throttled = ThrottledResponse(data)
	c.finish(method, req.Path, outcome)
	return data, nil
}

func (c *Client) requestURL(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	return c.BaseURL + path
}

func (c *Client) finish(method, path string, outcome Outcome) {
	for _, hook := range c.After {
		hook(method, path, outcome)
	}
}

// LimiterHooks builds the hook pair that paces requests through l. Success is
// reported only for decoded responses whose platform code is zero.
func LimiterHooks(l *ratelimit.Limiter) (BeforeHook, AfterHook) {
	before := func(ctx context.Context, method, path string) error {
		return l.Acquire(ctx, ratelimit.Key(method, path))
	}
	after := func(method, path string, outcome Outcome) {
		key := ratelimit.Key(method, path)
		switch {
		case outcome.Throttled:
			l.OnThrottled(key, outcome.RetryAfter)
		case outcome.Err == nil && outcome.Code == 0:
			l.OnSuccess(key)
		}
	}
	return before, after
}

// Platform body codes that signal throttling regardless of HTTP status.
var throttledCodes = map[int]struct{}{
	99991663: {},
	99991661: {},
	11232:    {},
}

// ThrottledResponse reports whether a decoded 2xx body still signals rate
// limiting, either through a known code or the message text.
func ThrottledResponse(data map[string]any) bool {
	if _, ok := throttledCodes[bodyCode(data)]; ok {
		return true
	}
	msg, ok := data["msg"].(string)
	if !ok {
		return false
	}
	lowered := strings.ToLower(msg)
	return strings.Contains(lowered, "frequency") ||
		strings.Contains(lowered, "too many request") ||
		strings.Contains(lowered, "rate limit")
}

// RetryAfter parses the Retry-After header as seconds. Zero when absent,
// unparsable, or non-positive.
func RetryAfter(h http.Header) time.Duration {
	value := strings.TrimSpace(h.Get("Retry-After"))
	if value == "" {
		return 0
	}
	seconds, err := strconv.ParseFloat(value, 64)
	if err != nil || seconds <= 0 {
		return 0
	}
	return time.Duration(seconds * float64(time.Second))
}

func bodyCode(data map[string]any) int {
	switch v := data["code"].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case int64:
		return int(v)
	}
	return 0
}
