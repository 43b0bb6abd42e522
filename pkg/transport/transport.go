// Package transport is the HTTP boundary consumed by the request core. It
// builds JSON requests, attaches auth, and maps failures onto the error
// taxonomy (NetworkError, HTTPError, ParseError, CancellationError).
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Prometheus metrics for transport calls.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reqcore_requests_total",
		Help: "Total backend requests by method and status",
	}, []string{"method", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "reqcore_request_duration_seconds",
		Help:    "Backend request duration in seconds by method",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	}, []string{"method"})

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reqcore_errors_total",
		Help: "Total backend request errors by class",
	}, []string{"class"})
)

// TracerName is the instrumentation name of transport spans.
const TracerName = "github.com/Sternrassler/api-request-core/pkg/transport"

// Request describes one backend call.
type Request struct {
	Method   string
	Endpoint string
	Params   url.Values

	// Body is JSON-encoded unless it is already []byte or json.RawMessage.
	Body any

	Header http.Header
}

// Response is a fully read backend response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// JSON decodes the response body into v.
func (r *Response) JSON(v any) error {
	return json.Unmarshal(r.Body, v)
}

// Transport performs backend calls.
type Transport interface {
	Do(ctx context.Context, req *Request) (*Response, error)
}

// Config holds the HTTP transport configuration.
type Config struct {
	// BaseURL is prepended to every endpoint (e.g., "https://api.example.com")
	BaseURL string

	// UserAgent header sent with every request
	UserAgent string

	// Tokens supplies bearer tokens (optional)
	Tokens TokenSource

	// HTTPClient overrides the default client (30s timeout)
	HTTPClient *http.Client

	// TracerProvider overrides the global OpenTelemetry provider
	TracerProvider trace.TracerProvider

	Logger *zerolog.Logger
}

// HTTPTransport implements Transport on net/http.
type HTTPTransport struct {
	baseURL    *url.URL
	userAgent  string
	tokens     TokenSource
	httpClient *http.Client
	tracer     trace.Tracer
	logger     zerolog.Logger
}

// NewHTTPTransport creates an HTTP transport.
func NewHTTPTransport(cfg Config) (*HTTPTransport, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base url is required")
	}
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("base url must be absolute (got %q)", cfg.BaseURL)
	}

	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{
			Timeout: 30 * time.Second,
		}
	}
	tp := cfg.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	logger := log.With().Str("component", "transport").Logger()
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	return &HTTPTransport{
		baseURL:    base,
		userAgent:  cfg.UserAgent,
		tokens:     cfg.Tokens,
		httpClient: cfg.HTTPClient,
		tracer:     tp.Tracer(TracerName),
		logger:     logger,
	}, nil
}

// Do performs the request and reads the whole body.
func (t *HTTPTransport) Do(ctx context.Context, req *Request) (resp *Response, err error) {
	method := strings.ToUpper(req.Method)
	if method == "" {
		method = http.MethodGet
	}

	ctx, span := t.tracer.Start(ctx, "HTTP "+method,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", method),
			attribute.String("url.path", req.Endpoint),
		),
	)
	startTime := time.Now()
	defer func() {
		requestDuration.WithLabelValues(method).Observe(time.Since(startTime).Seconds())
		if err != nil {
			errorsTotal.WithLabelValues(string(Classify(err))).Inc()
			span.SetStatus(codes.Error, err.Error())
			span.RecordError(err)
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()
	}()

	httpReq, err := t.newRequest(ctx, method, req)
	if err != nil {
		return nil, err
	}

	t.logger.Debug().
		Str("endpoint", req.Endpoint).
		Str("method", method).
		Str("request_id", httpReq.Header.Get("X-Request-ID")).
		Msg("Executing request")

	httpResp, err := t.httpClient.Do(httpReq)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			cerr := ContextError(method, req.Endpoint, ctxErr)
			requestsTotal.WithLabelValues(method, requestResult(cerr)).Inc()
			return nil, cerr
		}
		t.logger.Error().Err(err).Str("endpoint", req.Endpoint).Msg("HTTP request failed")
		requestsTotal.WithLabelValues(method, "network_error").Inc()
		return nil, &NetworkError{Method: method, Endpoint: req.Endpoint, Err: err}
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			cerr := ContextError(method, req.Endpoint, ctxErr)
			requestsTotal.WithLabelValues(method, requestResult(cerr)).Inc()
			return nil, cerr
		}
		requestsTotal.WithLabelValues(method, "network_error").Inc()
		return nil, &NetworkError{Method: method, Endpoint: req.Endpoint, Err: fmt.Errorf("read response body: %w", err)}
	}

	requestsTotal.WithLabelValues(method, strconv.Itoa(httpResp.StatusCode)).Inc()
	span.SetAttributes(attribute.Int("http.response.status_code", httpResp.StatusCode))

	if httpResp.StatusCode >= 400 {
		herr := &HTTPError{
			StatusCode: httpResp.StatusCode,
			Status:     httpResp.Status,
			Endpoint:   req.Endpoint,
			Raw:        body,
		}
		var decoded any
		if len(body) > 0 && json.Unmarshal(body, &decoded) == nil {
			herr.Body = decoded
		}
		t.logger.Warn().
			Str("endpoint", req.Endpoint).
			Int("status", httpResp.StatusCode).
			Str("error_class", string(herr.Class())).
			Msg("Backend request error")
		return nil, herr
	}

	if err := checkJSON(httpResp.Header.Get("Content-Type"), body); err != nil {
		return nil, &ParseError{Endpoint: req.Endpoint, ContentType: httpResp.Header.Get("Content-Type"), Err: err}
	}

	return &Response{
		StatusCode: httpResp.StatusCode,
		Header:     httpResp.Header.Clone(),
		Body:       body,
	}, nil
}

func (t *HTTPTransport) newRequest(ctx context.Context, method string, req *Request) (*http.Request, error) {
	u := t.baseURL.JoinPath(req.Endpoint)
	if len(req.Params) > 0 {
		u.RawQuery = req.Params.Encode()
	}

	var body io.Reader
	if req.Body != nil {
		var data []byte
		switch b := req.Body.(type) {
		case []byte:
			data = b
		case json.RawMessage:
			data = b
		default:
			encoded, err := json.Marshal(b)
			if err != nil {
				return nil, fmt.Errorf("encode request body: %w", err)
			}
			data = encoded
		}
		body = bytes.NewReader(data)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	for name, values := range req.Header {
		for _, v := range values {
			httpReq.Header.Add(name, v)
		}
	}
	httpReq.Header.Set("Accept", "application/json")
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if t.userAgent != "" {
		httpReq.Header.Set("User-Agent", t.userAgent)
	}
	if httpReq.Header.Get("X-Request-ID") == "" {
		httpReq.Header.Set("X-Request-ID", uuid.NewString())
	}

	if t.tokens != nil {
		token, err := t.tokens.Token(ctx)
		if err != nil {
			return nil, fmt.Errorf("auth token: %w", err)
		}
		if token != "" {
			httpReq.Header.Set("Authorization", "Bearer "+token)
		}
	}

	return httpReq, nil
}

// checkJSON accepts empty bodies and JSON bodies with a JSON or missing content type.
func checkJSON(contentType string, body []byte) error {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if contentType != "" {
		mediaType, _, err := mime.ParseMediaType(contentType)
		if err != nil {
			return fmt.Errorf("invalid content type: %w", err)
		}
		if mediaType != "application/json" && !strings.HasSuffix(mediaType, "+json") {
			return fmt.Errorf("unexpected content type %q", mediaType)
		}
	}
	if !json.Valid(body) {
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

var _ Transport = (*HTTPTransport)(nil)

// requestResult is the result label of a request that ended with its context.
func requestResult(err error) string {
	if IsCancellation(err) {
		return "cancelled"
	}
	return "network_error"
}
