// Package client is the session-aware API client for the finance dashboard API.
//
// Every authenticated call carries the stored access token. A 401 triggers at most
// one refresh-and-retry per call; concurrent 401s share a single refresh. When the
// session cannot be refreshed it is cleared and the caller receives an
// auth.SessionExpiredError, which should send the user back to a login surface.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jrsteele09/go-finance-client/auth"
	"github.com/jrsteele09/go-finance-client/internal/config"
	"github.com/jrsteele09/go-finance-client/session"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

const (
	headerAuthorization = "Authorization"
	headerRequestID     = "X-Request-Id"
	maxResponseBytes    = 10 << 20
)

// Client talks to the API on behalf of the stored session. It is safe for
// concurrent use.
type Client struct {
	baseURL       string
	http          *http.Client
	sessions      *session.Manager
	log           zerolog.Logger
	metrics       *Metrics
	logoutTimeout time.Duration
	// refreshTimeout bounds a shared refresh, which outlives the caller that started it.
	refreshTimeout time.Duration

	refreshFlights singleflight.Group
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient replaces the HTTP client used for every request
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.http = h
		}
	}
}

// WithLogger sets the logger. The default is the global zerolog logger.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) {
		c.log = l
	}
}

// WithMetrics enables Prometheus instrumentation
func WithMetrics(m *Metrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// New creates a client for the API described by cfg, acting on the session owned by sessions.
func New(cfg config.APIConfig, sessions *session.Manager, opts ...Option) *Client {
	c := &Client{
		baseURL:        cfg.GetAPIBaseURL(),
		http:           &http.Client{Timeout: cfg.GetRequestTimeout()},
		sessions:       sessions,
		log:            log.Logger,
		logoutTimeout:  cfg.GetLogoutTimeout(),
		refreshTimeout: cfg.GetRequestTimeout(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.With().Str("component", "session-client").Logger()
	return c
}

// Sessions returns the session manager the client acts on
func (c *Client) Sessions() *session.Manager {
	return c.sessions
}

// Request describes one logical API call.
type Request struct {
	Method string
	// Path is relative to the API base URL, e.g. "/auth/profile".
	Path string
	// Body is JSON-encoded unless it is already a []byte or json.RawMessage.
	Body any
	// Header must not carry Authorization: the client owns it.
	Header http.Header
}

func (r *Request) validate() error {
	if r == nil {
		return fmt.Errorf("nil request")
	}
	if r.Method == "" {
		return fmt.Errorf("request method is required")
	}
	if !strings.HasPrefix(r.Path, "/") {
		return fmt.Errorf("request path %q must start with /", r.Path)
	}
	if r.Header.Get(headerAuthorization) != "" {
		return auth.ErrAuthorizationHeaderSet
	}
	return nil
}

func (r *Request) encodeBody() ([]byte, error) {
	switch b := r.Body.(type) {
	case nil:
		return nil, nil
	case []byte:
		return b, nil
	case json.RawMessage:
		return b, nil
	default:
		data, err := json.Marshal(b)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		return data, nil
	}
}

func (r *Request) String() string {
	return r.Method + " " + r.Path
}

// Response is a fully read HTTP response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// OK reports a 2xx status
func (r *Response) OK() bool {
	return r != nil && r.StatusCode >= 200 && r.StatusCode < 300
}

// Decode unmarshals the JSON body into v
func (r *Response) Decode(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("%w: %v", auth.ErrMalformedResponse, err)
	}
	return nil
}

// outbound is a single dispatch of a request
type outbound struct {
	method    string
	path      string
	body      []byte
	header    http.Header
	requestID string
}

func newOutbound(method, path string, body []byte, header http.Header) outbound {
	id := header.Get(headerRequestID)
	if id == "" {
		id = uuid.NewString()
	}
	return outbound{method: method, path: path, body: body, header: header, requestID: id}
}

// send performs one HTTP exchange. accessToken "" sends the request unauthenticated.
func (c *Client) send(ctx context.Context, o outbound, accessToken string) (*Response, error) {
	var body io.Reader
	if o.body != nil {
		body = bytes.NewReader(o.body)
	}
	req, err := http.NewRequestWithContext(ctx, o.method, c.baseURL+o.path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build request %s %s: %w", o.method, o.path, err)
	}
	for k, vs := range o.header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", "application/json")
	if o.body != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set(headerRequestID, o.requestID)
	if accessToken != "" {
		req.Header.Set(headerAuthorization, "Bearer "+accessToken)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	c.metrics.observeDuration(o.method, time.Since(start))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &auth.NetworkError{Op: o.method + " " + o.path, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &auth.NetworkError{Op: o.method + " " + o.path, Err: err}
	}
	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: data}, nil
}

// messageFrom extracts a human readable message from an error body
func messageFrom(body []byte) string {
	var eb auth.ErrorBody
	if err := json.Unmarshal(body, &eb); err != nil {
		return ""
	}
	if eb.Message != "" {
		return eb.Message
	}
	return eb.Error
}
