package common

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

const (
	DefaultUserAgent   = "bakehouse-backoffice/1.0"
	DefaultHTTPTimeout = 30 * time.Second
	RequestIDHeader    = "X-Request-ID"
)

var (
	// ErrSessionExpired is returned when the credential refresh itself fails
	// and the stored credentials have been purged.
	ErrSessionExpired = errors.New("session expired")
	// ErrNoRefreshToken means a refresh was needed but no refresh credential is stored.
	ErrNoRefreshToken = errors.New("no refresh token available")
)

// HttpClient is the transport used by the pipeline.
// This allows mocking or custom transport layers in testing.
type HttpClient interface {
	Do(req *http.Request) (*http.Response, error)
	CloseIdleConnections()
}

// RequestError is returned for every failed API call. StatusCode is zero for
// transport failures; Err carries the underlying cause when there is one.
type RequestError struct {
	Method     string
	Endpoint   string
	StatusCode int
	Message    string
	Body       []byte
	Err        error
}

func (e *RequestError) Error() string {
	switch {
	case e.StatusCode != 0:
		return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Endpoint, e.StatusCode, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("%s %s: %v", e.Method, e.Endpoint, e.Err)
	default:
		return fmt.Sprintf("%s %s: %s", e.Method, e.Endpoint, e.Message)
	}
}

func (e *RequestError) Unwrap() error {
	return e.Err
}

// headerRoundTripper stamps a User-Agent and a fresh request ID on every attempt.
type headerRoundTripper struct {
	Wrapped   http.RoundTripper
	UserAgent string
}

func (rt *headerRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	// clone request to avoid mutating the original
	clone := req.Clone(req.Context())
	clone.Header.Set("User-Agent", rt.UserAgent)
	if clone.Header.Get(RequestIDHeader) == "" {
		clone.Header.Set(RequestIDHeader, uuid.NewString())
	}
	return rt.Wrapped.RoundTrip(clone)
}

type httpClient struct {
	client  *http.Client
	limiter *rate.Limiter
	metrics *Metrics
}

// HTTPOptions configures NewHttpClient.
type HTTPOptions struct {
	UserAgent string
	Timeout   time.Duration
	// RateLimit is the sustained requests per second; zero disables limiting.
	RateLimit float64
	RateBurst int
	Metrics   *Metrics
}

// NewHttpClient wraps base with the User-Agent/request-ID transport, a timeout
// and an optional client-side rate limit.
func NewHttpClient(opts HTTPOptions, base *http.Client) HttpClient {
	if base == nil {
		base = &http.Client{}
	}
	if base.Transport == nil {
		base.Transport = http.DefaultTransport
	}
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultHTTPTimeout
	}
	base.Transport = &headerRoundTripper{
		Wrapped:   base.Transport,
		UserAgent: opts.UserAgent,
	}
	base.Timeout = opts.Timeout

	h := &httpClient{client: base, metrics: opts.Metrics}
	if opts.RateLimit > 0 {
		burst := opts.RateBurst
		if burst <= 0 {
			burst = 1
		}
		h.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}
	return h
}

func (h *httpClient) Do(req *http.Request) (*http.Response, error) {
	if h.limiter != nil {
		if err := h.limiter.Wait(req.Context()); err != nil {
			return nil, fmt.Errorf("rate limit wait: %w", err)
		}
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return nil, err
	}
	h.metrics.request(req.Method, resp.StatusCode)
	return resp, nil
}

func (h *httpClient) CloseIdleConnections() {
	h.client.CloseIdleConnections()
}
