// Package client provides the request core context object. A Client owns the
// response cache, the deduplication registry, the dispatcher and the transport,
// and exposes the typed request API and pagination controllers on top of them.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/Sternrassler/api-request-core/pkg/cache"
	"github.com/Sternrassler/api-request-core/pkg/dispatch"
	"github.com/Sternrassler/api-request-core/pkg/logging"
	"github.com/Sternrassler/api-request-core/pkg/pagination"
	"github.com/Sternrassler/api-request-core/pkg/transport"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Prometheus metrics for client operations.
var (
	clientCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reqcore_client_calls_total",
		Help: "Total client calls by operation and result",
	}, []string{"operation", "result"})
)

// Client is the explicit context shared by every caller and pagination
// controller of one backend.
type Client struct {
	transport  transport.Transport
	cache      *cache.Store
	registry   *dispatch.Registry
	dispatcher *dispatch.Dispatcher
	config     Config
	logger     zerolog.Logger

	mu          sync.Mutex
	controllers []*pagination.Controller
	closed      bool
}

// Config holds the client configuration.
type Config struct {
	// Transport performs backend calls. When nil, an HTTP transport is
	// built from BaseURL, UserAgent and Tokens.
	Transport transport.Transport

	// BaseURL of the backend (e.g., "https://api.example.com")
	BaseURL string

	// User-Agent header sent with every request
	UserAgent string

	// Tokens supplies bearer tokens (optional)
	Tokens transport.TokenSource

	// Redis enables the shared cache tier (optional)
	Redis       *redis.Client
	RedisPrefix string

	// Caching
	Policy        cache.Policy
	CacheMaxBytes int

	// Concurrency
	MaxConcurrency int           // Max parallel backend calls
	SafetyTimeout  time.Duration // Max lifetime of a shared in-flight entry

	// Now returns the current time for cache expiry (default: time.Now)
	Now func() time.Time

	// Logger is the base logger. Every component logs through a child of it
	// carrying its own component field (default: the global logger).
	Logger *zerolog.Logger
}

// DefaultConfig returns a configuration with the default cache policy,
// size budget and concurrency.
func DefaultConfig(baseURL, userAgent string) Config {
	return Config{
		BaseURL:        baseURL,
		UserAgent:      userAgent,
		Policy:         cache.DefaultPolicy(),
		CacheMaxBytes:  cache.DefaultMaxBytes,
		MaxConcurrency: dispatch.DefaultMaxConcurrency,
		SafetyTimeout:  dispatch.SafetyTimeout,
	}
}

// New creates a client.
func New(cfg Config) (*Client, error) {
	if cfg.MaxConcurrency < 0 {
		return nil, invalidConfig("max concurrency must be >= 0 (got %d)", cfg.MaxConcurrency)
	}
	if cfg.CacheMaxBytes < 0 {
		return nil, invalidConfig("cache max bytes must be >= 0 (got %d)", cfg.CacheMaxBytes)
	}
	if cfg.SafetyTimeout < 0 {
		return nil, invalidConfig("safety timeout must be >= 0 (got %s)", cfg.SafetyTimeout)
	}
	if cfg.SafetyTimeout == 0 {
		cfg.SafetyTimeout = dispatch.SafetyTimeout
	}

	logger := *componentLogger(cfg.Logger, "request-client")

	tr := cfg.Transport
	if tr == nil {
		if cfg.BaseURL == "" {
			return nil, invalidConfig("base url or transport is required")
		}
		if cfg.UserAgent == "" {
			return nil, invalidConfig("user-agent is required")
		}
		httpTransport, err := transport.NewHTTPTransport(transport.Config{
			BaseURL:   cfg.BaseURL,
			UserAgent: cfg.UserAgent,
			Tokens:    cfg.Tokens,
			Logger:    componentLogger(cfg.Logger, "transport"),
		})
		if err != nil {
			return nil, invalidConfig("%v", err)
		}
		tr = httpTransport
	}

	cacheCfg := cache.Config{
		Policy:   cfg.Policy,
		MaxBytes: cfg.CacheMaxBytes,
		Now:      cfg.Now,
		Logger:   componentLogger(cfg.Logger, "response-cache"),
	}
	if cfg.Redis != nil {
		cacheCfg.Tier = cache.NewRedisTier(cfg.Redis, cfg.RedisPrefix)
	}

	registry := dispatch.NewRegistry(cfg.SafetyTimeout)
	dispatcher := dispatch.New(dispatch.Config{
		MaxConcurrency: cfg.MaxConcurrency,
		Registry:       registry,
		Logger:         componentLogger(cfg.Logger, "dispatcher"),
	})

	logger.Info().
		Int("max_concurrency", dispatcher.Stats().MaxConcurrency).
		Bool("shared_tier", cfg.Redis != nil).
		Msg("Request client ready")

	return &Client{
		transport:  tr,
		cache:      cache.NewStore(cacheCfg),
		registry:   registry,
		dispatcher: dispatcher,
		config:     cfg,
		logger:     logger,
	}, nil
}

// GetOptions tune a single Get.
type GetOptions struct {
	// TTLOverride replaces the policy TTL for this response when positive
	TTLOverride time.Duration

	// NoCache skips both the cache read and the cache write
	NoCache bool

	// Refresh skips the cache read but stores the fresh response
	Refresh bool
}

// Get returns the response body of a GET request.
//
// A fresh cached response is served without network activity. Otherwise the
// request is dispatched; identical requests already in flight are shared, and
// a successful response is cached per the policy. ctx bounds only this
// caller's wait: the shared request keeps running for other callers.
func (c *Client) Get(ctx context.Context, endpoint string, params url.Values, opts GetOptions) ([]byte, error) {
	if c.isClosed() {
		return nil, ErrClosed
	}

	key := cache.NewKey(endpoint, params)
	decision := c.cache.Policy().Resolve(endpoint)
	cacheable := decision.ShouldCache() && !opts.NoCache

	if cacheable && !opts.Refresh {
		if data, ok := c.cache.Get(ctx, key); ok {
			clientCallsTotal.WithLabelValues("get", "cache_hit").Inc()
			return bytes.Clone(data), nil
		}
	}

	signature := key.String()
	task := func(taskCtx context.Context) (any, error) {
		resp, err := c.transport.Do(taskCtx, &transport.Request{
			Method:   http.MethodGet,
			Endpoint: endpoint,
			Params:   params,
		})
		if err != nil {
			return nil, err
		}
		if cacheable {
			c.cache.Set(taskCtx, key, resp.Body, decision.EffectiveTTL(opts.TTLOverride))
		}
		return resp.Body, nil
	}

	future := c.dispatcher.Submit(context.WithoutCancel(ctx), task, signature, false)
	data, err := c.await(ctx, future, signature)
	if err != nil {
		clientCallsTotal.WithLabelValues("get", "error").Inc()
		return nil, err
	}
	clientCallsTotal.WithLabelValues("get", "fetched").Inc()
	return data, nil
}

// GetJSON performs Get and decodes the body into T.
func GetJSON[T any](ctx context.Context, c *Client, endpoint string, params url.Values, opts GetOptions) (T, error) {
	var out T
	data, err := c.Get(ctx, endpoint, params, opts)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, &transport.ParseError{Endpoint: endpoint, ContentType: "application/json", Err: err}
	}
	return out, nil
}

// Mutate sends a state-changing request. It is dispatched ahead of queued
// reads, never shared and never cached. Invalidating affected cache entries
// is the caller's job.
func (c *Client) Mutate(ctx context.Context, method, endpoint string, body any) ([]byte, error) {
	if c.isClosed() {
		return nil, ErrClosed
	}
	method = strings.ToUpper(method)
	if method == "" || method == http.MethodGet {
		return nil, fmt.Errorf("mutate: method %q is not a mutation", method)
	}

	task := func(taskCtx context.Context) (any, error) {
		resp, err := c.transport.Do(taskCtx, &transport.Request{
			Method:   method,
			Endpoint: endpoint,
			Body:     body,
		})
		if err != nil {
			return nil, err
		}
		return resp.Body, nil
	}

	future := c.dispatcher.Submit(ctx, task, "", true)
	data, err := c.await(ctx, future, method+" "+endpoint)
	if err != nil {
		clientCallsTotal.WithLabelValues("mutate", "error").Inc()
		return nil, err
	}
	clientCallsTotal.WithLabelValues("mutate", "ok").Inc()
	return data, nil
}

// FetchPage implements pagination.Fetcher on top of Get.
func (c *Client) FetchPage(ctx context.Context, endpoint string, params url.Values, refresh bool) ([]byte, error) {
	return c.Get(ctx, endpoint, params, GetOptions{Refresh: refresh})
}

// Paginate creates a controller for endpoint that fetches through this
// client. A nil builder uses pagination.DefaultParams. Controllers are closed
// with the client.
func (c *Client) Paginate(endpoint string, builder pagination.ParamsBuilder, pageSize int) *pagination.Controller {
	return c.PaginateWith(pagination.Config{
		Endpoint: endpoint,
		Params:   builder,
		PageSize: pageSize,
	})
}

// PaginateWith creates a controller from a full configuration.
func (c *Client) PaginateWith(cfg pagination.Config) *pagination.Controller {
	if cfg.Logger == nil {
		logger := componentLogger(c.config.Logger, "pagination").With().Str("endpoint", cfg.Endpoint).Logger()
		cfg.Logger = &logger
	}
	ctrl := pagination.New(c, cfg)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		ctrl.Close()
		return ctrl
	}
	c.controllers = append(c.controllers, ctrl)
	return ctrl
}

// Invalidate drops the cached GET response for endpoint and params.
func (c *Client) Invalidate(ctx context.Context, endpoint string, params url.Values) {
	c.cache.Invalidate(ctx, cache.NewKey(endpoint, params))
}

// InvalidatePrefix drops every cached response of endpoint, whatever its
// params. Returns the number of local entries removed.
func (c *Client) InvalidatePrefix(ctx context.Context, endpoint string) int {
	return c.cache.InvalidatePrefix(ctx, endpoint)
}

// ClearCache drops every cached response.
func (c *Client) ClearCache(ctx context.Context) {
	c.cache.Clear(ctx)
}

// PrefetchRequest names one response to warm the cache with.
type PrefetchRequest struct {
	Endpoint string
	Params   url.Values
	TTL      time.Duration
}

// Prefetch fetches every request concurrently (bounded by the dispatcher) so
// later Gets are served from the cache. It returns the first failure as a
// *PrefetchError and stops waiting on the others.
func (c *Client) Prefetch(ctx context.Context, reqs ...PrefetchRequest) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, r := range reqs {
		r := r
		g.Go(func() error {
			if _, err := c.Get(gctx, r.Endpoint, r.Params, GetOptions{TTLOverride: r.TTL}); err != nil {
				return &PrefetchError{Endpoint: r.Endpoint, Err: err}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		c.logger.Warn().Err(err).Int("requests", len(reqs)).Msg("Prefetch failed")
		return err
	}
	c.logger.Debug().Int("requests", len(reqs)).Msg("Prefetch complete")
	return nil
}

// Stats is a point-in-time view of the client.
type Stats struct {
	Dispatcher   dispatch.Stats
	InFlight     int
	CacheEntries int
	CacheBytes   int
}

// Stats returns current dispatcher, registry and cache figures.
func (c *Client) Stats() Stats {
	return Stats{
		Dispatcher:   c.dispatcher.Stats(),
		InFlight:     c.registry.Len(),
		CacheEntries: c.cache.Len(),
		CacheBytes:   c.cache.SizeBytes(),
	}
}

// Cache returns the response cache (for inspection and tests).
func (c *Client) Cache() *cache.Store {
	return c.cache
}

// Close closes every controller created by the client. Further requests
// fail with ErrClosed.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	controllers := c.controllers
	c.controllers = nil
	c.mu.Unlock()

	for _, ctrl := range controllers {
		ctrl.Close()
	}
	c.logger.Info().Int("controllers", len(controllers)).Msg("Request client closed")
	return nil
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Client) await(ctx context.Context, future *dispatch.Future, signature string) ([]byte, error) {
	v, err := future.Wait(ctx)
	if err != nil {
		return nil, err
	}
	data, ok := v.([]byte)
	if !ok {
		return nil, &ResultTypeError{Signature: signature, Value: v}
	}
	return bytes.Clone(data), nil
}

// componentLogger derives the logger of one component from base.
func componentLogger(base *zerolog.Logger, component string) *zerolog.Logger {
	if base == nil {
		return logging.Component(component)
	}
	logger := base.With().Str("component", component).Logger()
	return &logger
}
