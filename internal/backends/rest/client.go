// Package rest is the JSON-over-HTTP client shared by the REST backends.
//
// It authenticates, rate limits and decodes requests, and classifies failures
// into the qa taxonomy. It never retries: retry and timeout discipline belong
// to the orchestration core.
package rest

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/qaflow/internal/qa"
)

const (
	defaultRateLimit = 10.0
	defaultBurst     = 5
	maxErrorBody     = 512
	maxResponseBody  = 8 << 20
)

// Auth decorates an outgoing request with credentials.
type Auth func(*http.Request)

// BasicAuth authenticates with a username and API token.
func BasicAuth(username, token string) Auth {
	encoded := base64.StdEncoding.EncodeToString([]byte(username + ":" + token))
	return func(req *http.Request) {
		req.Header.Set("Authorization", "Basic "+encoded)
	}
}

// BearerAuth authenticates with a personal access token.
func BearerAuth(token string) Auth {
	return func(req *http.Request) {
		req.Header.Set("Authorization", "Bearer "+token)
	}
}

// TokenAuth picks basic auth when a username is set and bearer auth otherwise.
func TokenAuth(username, token string) Auth {
	if token == "" {
		return nil
	}
	if username != "" {
		return BasicAuth(username, token)
	}
	return BearerAuth(token)
}

// Options configures a Client.
type Options struct {
	// BaseURL prefixes every request path.
	BaseURL string

	// Auth is applied to every request. Nil sends no credentials.
	Auth Auth

	// RateLimit is requests per second. Default: 10
	RateLimit float64

	// Burst is the limiter bucket size. Default: 5
	Burst int

	// HTTPClient overrides the transport. Default: 30s timeout client.
	HTTPClient *http.Client

	// UserAgent is sent on every request.
	UserAgent string
}

// Client sends JSON requests to one backend.
type Client struct {
	base      string
	auth      Auth
	http      *http.Client
	limiter   *rate.Limiter
	userAgent string
}

// New creates a client.
func New(opts Options) *Client {
	if opts.RateLimit <= 0 {
		opts.RateLimit = defaultRateLimit
	}
	if opts.Burst <= 0 {
		opts.Burst = defaultBurst
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "qaflow"
	}
	return &Client{
		base:      strings.TrimSuffix(opts.BaseURL, "/"),
		auth:      opts.Auth,
		http:      opts.HTTPClient,
		limiter:   rate.NewLimiter(rate.Limit(opts.RateLimit), opts.Burst),
		userAgent: opts.UserAgent,
	}
}

// Request describes one call.
type Request struct {
	Method string
	Path   string
	Query  url.Values

	// Body is JSON-encoded when non-nil.
	Body any

	// Form is sent as the raw query string on POST when Body is nil.
	Form url.Values
}

// Response is a completed call with its body read.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Decode unmarshals the body into out.
func (r *Response) Decode(out any) error {
	if len(r.Body) == 0 {
		return nil
	}
	if err := json.Unmarshal(r.Body, out); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	return nil
}

// StatusError is a non-2xx response.
type StatusError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s %s returned %d", e.Method, e.URL, e.StatusCode)
	}
	return fmt.Sprintf("%s %s returned %d: %s", e.Method, e.URL, e.StatusCode, e.Body)
}

// URL returns the absolute URL for path.
func (c *Client) URL(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	return c.base + "/" + strings.TrimPrefix(path, "/")
}

// Do executes req. Non-2xx responses return a *StatusError.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	if c.base == "" {
		return nil, fmt.Errorf("base URL not configured")
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter error: %w", err)
	}

	target := c.URL(req.Path)
	query := req.Query
	if req.Body == nil && req.Form != nil {
		query = req.Form
	}
	if len(query) > 0 {
		sep := "?"
		if strings.Contains(target, "?") {
			sep = "&"
		}
		target += sep + query.Encode()
	}

	var body io.Reader
	if req.Body != nil {
		data, err := json.Marshal(req.Body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if c.auth != nil {
		c.auth(httpReq)
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", c.userAgent)
	if req.Body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet := strings.TrimSpace(string(data))
		if len(snippet) > maxErrorBody {
			snippet = snippet[:maxErrorBody]
		}
		return nil, &StatusError{
			Method:     method,
			URL:        strings.SplitN(target, "?", 2)[0],
			StatusCode: resp.StatusCode,
			Body:       snippet,
		}
	}
	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: data}, nil
}

// JSON executes req and decodes a successful body into out.
func (c *Client) JSON(ctx context.Context, req Request, out any) error {
	resp, err := c.Do(ctx, req)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return resp.Decode(out)
}

// Classify maps a transport or status failure onto the qa taxonomy.
// Context errors are returned as-is so the caller sees cancellation.
func Classify(op string, err error, ident string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var se *StatusError
	if errors.As(err, &se) {
		switch {
		case se.StatusCode == http.StatusNotFound:
			return qa.NotFound(op, err, ident)
		case RetryableStatus(se.StatusCode):
			return qa.Transient(op, err, ident)
		default:
			return qa.NewError(op, qa.KindInternal, err, ident)
		}
	}

	var netErr net.Error
	var urlErr *url.Error
	if errors.As(err, &netErr) || errors.As(err, &urlErr) {
		return qa.Transient(op, err, ident)
	}
	return qa.NewError(op, qa.KindInternal, err, ident)
}

// RetryableStatus reports whether a status code signals a transient failure.
func RetryableStatus(code int) bool {
	switch code {
	case http.StatusRequestTimeout, http.StatusTooManyRequests:
		return true
	}
	return code >= 500 && code < 600
}
