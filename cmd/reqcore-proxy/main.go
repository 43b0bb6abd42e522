// Command reqcore-proxy is a read-through caching proxy in front of a JSON
// backend. Reads are cached and deduplicated by the request core; writes jump
// the queue and invalidate the cached collection they touch.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/Sternrassler/api-request-core/pkg/client"
	"github.com/Sternrassler/api-request-core/pkg/logging"
	"github.com/Sternrassler/api-request-core/pkg/metrics"
	"github.com/Sternrassler/api-request-core/pkg/transport"
	"github.com/gorilla/mux"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const maxBodyBytes = 1 << 20

type config struct {
	upstreamURL    string
	port           string
	redisURL       string
	authToken      string
	userAgent      string
	maxConcurrency int
	cacheMaxBytes  int
}

func loadConfig(getenv func(string) string) (config, error) {
	cfg := config{
		upstreamURL: getEnv(getenv, "UPSTREAM_URL", ""),
		port:        getEnv(getenv, "PORT", "8080"),
		redisURL:    getEnv(getenv, "REDIS_URL", ""),
		authToken:   getEnv(getenv, "AUTH_TOKEN", ""),
		userAgent:   getEnv(getenv, "USER_AGENT", "reqcore-proxy/0.1.0"),
	}
	if cfg.upstreamURL == "" {
		return cfg, fmt.Errorf("UPSTREAM_URL is required")
	}

	var err error
	if cfg.maxConcurrency, err = getEnvInt(getenv, "MAX_CONCURRENCY", 0); err != nil {
		return cfg, err
	}
	if cfg.cacheMaxBytes, err = getEnvInt(getenv, "CACHE_MAX_BYTES", 0); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func main() {
	logging.Setup(logging.ConfigFromEnv(os.Getenv))
	logger := logging.NewLogger("proxy")

	cfg, err := loadConfig(os.Getenv)
	if err != nil {
		logger.Fatal().Err(err).Msg("Invalid configuration")
	}

	// Shared tier is optional
	var redisClient *redis.Client
	if cfg.redisURL != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.redisURL})
		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			logger.Fatal().Err(err).Str("redis", cfg.redisURL).Msg("Failed to connect to Redis")
		}
		logger.Info().Str("redis", cfg.redisURL).Msg("Connected to Redis")
		defer redisClient.Close()
	}

	c, err := newClient(cfg, redisClient)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create request client")
	}
	defer c.Close()

	srv := &http.Server{
		Addr:              ":" + cfg.port,
		Handler:           newRouter(c, redisClient, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info().
			Str("addr", srv.Addr).
			Str("upstream", cfg.upstreamURL).
			Str("user_agent", cfg.userAgent).
			Msg("Starting proxy server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("Server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("Shutdown failed")
	}
	logger.Info().Msg("Proxy stopped")
}

func newClient(cfg config, redisClient *redis.Client) (*client.Client, error) {
	clientCfg := client.DefaultConfig(cfg.upstreamURL, cfg.userAgent)
	clientCfg.Redis = redisClient
	base := log.With().Str("service", "reqcore-proxy").Logger()
	clientCfg.Logger = &base
	if cfg.authToken != "" {
		clientCfg.Tokens = transport.StaticToken(cfg.authToken)
	}
	if cfg.maxConcurrency > 0 {
		clientCfg.MaxConcurrency = cfg.maxConcurrency
	}
	if cfg.cacheMaxBytes > 0 {
		clientCfg.CacheMaxBytes = cfg.cacheMaxBytes
	}
	return client.New(clientCfg)
}

type proxy struct {
	client *client.Client
	redis  *redis.Client
	logger zerolog.Logger
}

func newRouter(c *client.Client, redisClient *redis.Client, logger zerolog.Logger) *mux.Router {
	p := &proxy{client: c, redis: redisClient, logger: logger}

	r := mux.NewRouter()
	r.HandleFunc("/health", healthHandler).Methods(http.MethodGet)
	r.HandleFunc("/ready", p.readyHandler).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/stats", p.statsHandler).Methods(http.MethodGet)
	r.HandleFunc("/cache", p.clearHandler).Methods(http.MethodDelete)
	r.HandleFunc("/api/{path:.*}", p.getHandler).Methods(http.MethodGet)
	r.HandleFunc("/api/{path:.*}", p.mutateHandler).Methods(http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete)
	return r
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "OK")
}

func (p *proxy) readyHandler(w http.ResponseWriter, r *http.Request) {
	if p.redis != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := p.redis.Ping(ctx).Err(); err != nil {
			p.logger.Warn().Err(err).Msg("Readiness check failed")
			http.Error(w, "redis unavailable", http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "OK")
}

func (p *proxy) statsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, p.client.Stats())
}

func (p *proxy) clearHandler(w http.ResponseWriter, r *http.Request) {
	p.client.ClearCache(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

func (p *proxy) getHandler(w http.ResponseWriter, r *http.Request) {
	endpoint := "/" + mux.Vars(r)["path"]

	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	opts := client.GetOptions{Refresh: r.Header.Get("Cache-Control") == "no-cache"}
	body, err := p.client.Get(ctx, endpoint, r.URL.Query(), opts)
	if err != nil {
		p.writeError(w, endpoint, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(body); err != nil {
		p.logger.Warn().Err(err).Msg("Failed to write response")
	}
}

func (p *proxy) mutateHandler(w http.ResponseWriter, r *http.Request) {
	endpoint := "/" + mux.Vars(r)["path"]

	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, "read request body", http.StatusBadRequest)
		return
	}
	var body any
	if len(raw) > 0 {
		if !json.Valid(raw) {
			http.Error(w, "request body must be JSON", http.StatusBadRequest)
			return
		}
		body = json.RawMessage(raw)
	}

	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	resp, err := p.client.Mutate(ctx, r.Method, endpoint, body)
	if err != nil {
		p.writeError(w, endpoint, err)
		return
	}

	// Creates invalidate the collection posted to, updates the item's collection
	target := endpoint
	if r.Method != http.MethodPost {
		target = collectionOf(endpoint)
	}
	removed := p.client.InvalidatePrefix(ctx, target)
	p.logger.Debug().
		Str("endpoint", endpoint).
		Int("invalidated", removed).
		Msg("Mutation applied")

	if len(resp) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(resp)
}

// writeError maps request errors onto proxy responses. Backend HTTP errors
// keep their status and body.
func (p *proxy) writeError(w http.ResponseWriter, endpoint string, err error) {
	var he *transport.HTTPError
	switch {
	case errors.As(err, &he):
		if len(he.Raw) > 0 {
			w.Header().Set("Content-Type", "application/json")
		}
		w.WriteHeader(he.StatusCode)
		w.Write(he.Raw)
		return
	case transport.IsCancellation(err):
		http.Error(w, fmt.Sprintf("request cancelled: %v", err), http.StatusGatewayTimeout)
	case errors.Is(err, context.DeadlineExceeded):
		http.Error(w, fmt.Sprintf("upstream request timed out: %v", err), http.StatusGatewayTimeout)
	case errors.Is(err, client.ErrClosed):
		http.Error(w, "proxy shutting down", http.StatusServiceUnavailable)
	default:
		http.Error(w, fmt.Sprintf("upstream request failed: %v", err), http.StatusBadGateway)
	}
	p.logger.Warn().
		Err(err).
		Str("endpoint", endpoint).
		Str("error_class", string(transport.Classify(err))).
		Msg("Proxy request failed")
}

// collectionOf returns the parent collection of an item endpoint
// ("/v1/items/42" -> "/v1/items"). Top-level endpoints are their own collection.
func collectionOf(endpoint string) string {
	trimmed := strings.Trim(endpoint, "/")
	if i := strings.LastIndex(trimmed, "/"); i > 0 {
		return "/" + trimmed[:i]
	}
	return "/" + trimmed
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("Failed to encode response")
	}
}

func getEnv(getenv func(string) string, key, defaultValue string) string {
	if value := getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(getenv func(string) string, key string, defaultValue int) (int, error) {
	value := getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%s must be a non-negative integer (got %q)", key, value)
	}
	return n, nil
}
