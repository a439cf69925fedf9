// Package api is the base client every back-office module builds on. It
// resolves URLs, serves cacheable GETs from the response cache, and sends
// everything else through the shared refresh coordinator and retry policy.
package api

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

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/bakehouse/backoffice/common"
	"github.com/bakehouse/backoffice/common/model"
)

// Client defines the HTTP verbs available to domain modules.
type Client interface {
	GetJSON(ctx context.Context, endpoint string, out interface{}, opts *RequestOptions) error
	GetBytes(ctx context.Context, endpoint string, opts *RequestOptions) ([]byte, error)
	PostJSON(ctx context.Context, endpoint string, body, out interface{}, opts *RequestOptions) error
	PutJSON(ctx context.Context, endpoint string, body, out interface{}, opts *RequestOptions) error
	DeleteJSON(ctx context.Context, endpoint string, out interface{}, opts *RequestOptions) error
	Download(ctx context.Context, endpoint string, opts *RequestOptions) ([]byte, error)
	NewDebouncedGet(wait time.Duration) *DebouncedGet
	CacheKey(endpoint string, params map[string]string) string
	InvalidateCache(keys ...string)
	ClearCache()
}

// RequestOptions are the per-call knobs. A nil *RequestOptions is valid.
type RequestOptions struct {
	Params  map[string]string
	Headers map[string]string
	// UseCache serves GETs from the response cache and stores successes there.
	UseCache bool
	// CacheKey overrides the key derived from endpoint and Params.
	CacheKey string
	// CacheTTL overrides the default TTL.
	CacheTTL time.Duration
}

// Options configures NewClient.
type Options struct {
	BaseURL     string
	HttpClient  common.HttpClient
	Cache       common.CacheRepository
	Coordinator *common.RefreshCoordinator
	Retry       common.RetryPolicy
	Logger      *zap.Logger
	Locale      string
	DefaultTTL  time.Duration
}

type client struct {
	baseURL     string
	httpClient  common.HttpClient
	cache       common.CacheRepository
	coordinator *common.RefreshCoordinator
	retry       common.RetryPolicy
	logger      *zap.Logger
	locale      string
	defaultTTL  time.Duration
	inflight    singleflight.Group
}

// NewClient creates the base client. Missing collaborators get working
// defaults: a plain HTTP client, an in-memory cache and a coordinator without
// stored credentials.
func NewClient(opts Options) Client {
	c := &client{
		baseURL:     strings.TrimRight(opts.BaseURL, "/"),
		httpClient:  opts.HttpClient,
		cache:       opts.Cache,
		coordinator: opts.Coordinator,
		retry:       opts.Retry,
		logger:      opts.Logger,
		locale:      opts.Locale,
		defaultTTL:  opts.DefaultTTL,
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	c.logger = c.logger.Named("api")
	if c.httpClient == nil {
		c.httpClient = common.NewHttpClient(common.HTTPOptions{}, nil)
	}
	if c.cache == nil {
		c.cache = common.NewMemoryCache(common.DefaultCacheCapacity, common.DefaultCacheTTL)
	}
	if c.coordinator == nil {
		c.coordinator = common.NewRefreshCoordinator(common.NewMemoryCredentialStore(), nil, common.CoordinatorOptions{Logger: c.logger})
	}
	if c.defaultTTL <= 0 {
		c.defaultTTL = common.DefaultCacheTTL
	}
	return c
}

// GetJSON retrieves JSON from an endpoint and unmarshals into out.
func (c *client) GetJSON(ctx context.Context, endpoint string, out interface{}, opts *RequestOptions) error {
	data, err := c.GetBytes(ctx, endpoint, opts)
	if err != nil {
		return err
	}
	return c.decode(http.MethodGet, endpoint, data, out)
}

// GetBytes retrieves the raw JSON body of an endpoint, from the cache when
// opts.UseCache is set and a fresh entry exists.
func (c *client) GetBytes(ctx context.Context, endpoint string, opts *RequestOptions) ([]byte, error) {
	o := resolve(opts)
	if !o.UseCache {
		return c.doRequest(ctx, http.MethodGet, endpoint, nil, o, true)
	}

	key := o.CacheKey
	if key == "" {
		key = c.CacheKey(endpoint, o.Params)
	}
	if cached, found := c.cache.Get(key); found {
		return cached, nil
	}

	// identical concurrent misses share one request; it runs detached so a
	// caller that gives up does not fail the others
	flightCtx := context.WithoutCancel(ctx)
	ch := c.inflight.DoChan(key, func() (interface{}, error) {
		data, err := c.doRequest(flightCtx, http.MethodGet, endpoint, nil, o, true)
		if err != nil {
			return nil, err
		}
		ttl := o.CacheTTL
		if ttl <= 0 {
			ttl = c.defaultTTL
		}
		c.cache.Set(key, data, ttl)
		return data, nil
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return bytes.Clone(res.Val.([]byte)), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *client) PostJSON(ctx context.Context, endpoint string, body, out interface{}, opts *RequestOptions) error {
	return c.send(ctx, http.MethodPost, endpoint, body, out, opts)
}

func (c *client) PutJSON(ctx context.Context, endpoint string, body, out interface{}, opts *RequestOptions) error {
	return c.send(ctx, http.MethodPut, endpoint, body, out, opts)
}

func (c *client) DeleteJSON(ctx context.Context, endpoint string, out interface{}, opts *RequestOptions) error {
	return c.send(ctx, http.MethodDelete, endpoint, nil, out, opts)
}

// Download fetches a binary payload. It is never cached.
func (c *client) Download(ctx context.Context, endpoint string, opts *RequestOptions) ([]byte, error) {
	return c.doRequest(ctx, http.MethodGet, endpoint, nil, resolve(opts), false)
}

func (c *client) send(ctx context.Context, method, endpoint string, body, out interface{}, opts *RequestOptions) error {
	data, err := c.doRequest(ctx, method, endpoint, body, resolve(opts), true)
	if err != nil {
		return err
	}
	return c.decode(method, endpoint, data, out)
}

// doRequest is the core method that actually performs the HTTP request.
func (c *client) doRequest(ctx context.Context, method, endpoint string, body interface{}, o RequestOptions, expectJSON bool) ([]byte, error) {
	urlStr, err := c.buildURL(endpoint, o.Params)
	if err != nil {
		return nil, c.fail(&common.RequestError{Method: method, Endpoint: endpoint, Message: err.Error(), Err: err})
	}

	// encode once so every re-send carries the same bytes
	var payload []byte
	if body != nil {
		if payload, err = json.Marshal(body); err != nil {
			err = fmt.Errorf("failed to encode request body: %w", err)
			return nil, c.fail(&common.RequestError{Method: method, Endpoint: endpoint, Message: err.Error(), Err: err})
		}
	}

	attempt := func(ctx context.Context) (*http.Response, string, error) {
		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, urlStr, reader)
		if err != nil {
			return nil, "", err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")
		for k, v := range o.Headers {
			req.Header.Set(k, v)
		}
		used, err := c.coordinator.DecorateRequest(ctx, req)
		if err != nil {
			return nil, "", err
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, used, fmt.Errorf("failed to execute request: %w", err)
		}
		return resp, used, nil
	}

	resp, err := c.coordinator.Execute(ctx, attempt, c.retry)
	if err != nil {
		return nil, c.fail(&common.RequestError{Method: method, Endpoint: endpoint, Message: err.Error(), Err: err})
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		err = fmt.Errorf("failed to read response body: %w", err)
		return nil, c.fail(&common.RequestError{Method: method, Endpoint: endpoint, StatusCode: resp.StatusCode, Message: err.Error(), Err: err})
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, c.fail(&common.RequestError{
			Method:     method,
			Endpoint:   endpoint,
			StatusCode: resp.StatusCode,
			Message:    c.errorMessage(data),
			Body:       data,
		})
	}
	if expectJSON && len(bytes.TrimSpace(data)) > 0 && !json.Valid(data) {
		err = fmt.Errorf("malformed JSON in response")
		return nil, c.fail(&common.RequestError{Method: method, Endpoint: endpoint, StatusCode: resp.StatusCode, Message: err.Error(), Body: data, Err: err})
	}
	return data, nil
}

// CacheKey is the key a GET of endpoint with params is cached under.
func (c *client) CacheKey(endpoint string, params map[string]string) string {
	return common.GenerateCacheKey(c.baseURL, normalizeEndpoint(endpoint), params)
}

func (c *client) InvalidateCache(keys ...string) {
	for _, k := range keys {
		c.cache.Delete(k)
	}
}

func (c *client) ClearCache() {
	c.cache.Clear()
}

func (c *client) decode(method, endpoint string, data []byte, out interface{}) error {
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		err = fmt.Errorf("failed to decode response: %w", err)
		return c.fail(&common.RequestError{Method: method, Endpoint: endpoint, Message: err.Error(), Body: data, Err: err})
	}
	return nil
}

// fail logs reqErr with the request context and returns it.
func (c *client) fail(reqErr *common.RequestError) error {
	fields := []zap.Field{
		common.RequestContext(reqErr.Endpoint, reqErr.Method),
		zap.Error(reqErr),
	}
	if reqErr.StatusCode != 0 {
		fields = append(fields, common.Details(map[string]interface{}{
			"status":  reqErr.StatusCode,
			"message": reqErr.Message,
		}))
	}
	c.logger.Error("API request failed", fields...)
	return reqErr
}

// errorMessage extracts the message of an error payload, falling back to a
// generic localized message.
func (c *client) errorMessage(data []byte) string {
	var payload model.ErrorPayload
	if err := json.Unmarshal(data, &payload); err == nil && payload.Message != "" {
		return payload.Message
	}
	return common.GenericErrorMessage(c.locale)
}

// buildURL joins baseURL, endpoint and params
func (c *client) buildURL(endpoint string, params map[string]string) (string, error) {
	u, err := url.Parse(c.baseURL + normalizeEndpoint(endpoint))
	if err != nil {
		return "", fmt.Errorf("invalid endpoint: %w", err)
	}
	if len(params) > 0 {
		q := u.Query()
		for k, v := range params {
			q.Set(k, v)
		}
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func normalizeEndpoint(endpoint string) string {
	if !strings.HasPrefix(endpoint, "/") {
		return "/" + endpoint
	}
	return endpoint
}

func resolve(opts *RequestOptions) RequestOptions {
	if opts == nil {
		return RequestOptions{}
	}
	return *opts
}
