package transport

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func newTestTransport(t *testing.T, handler http.HandlerFunc, mutate func(*Config)) *HTTPTransport {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	cfg := Config{BaseURL: server.URL, UserAgent: "reqcore-test/1.0"}
	if mutate != nil {
		mutate(&cfg)
	}
	tr, err := NewHTTPTransport(cfg)
	if err != nil {
		t.Fatalf("NewHTTPTransport() error = %v", err)
	}
	return tr
}

func TestNewHTTPTransport_Validation(t *testing.T) {
	tests := []struct {
		name    string
		baseURL string
		wantErr bool
	}{
		{name: "valid", baseURL: "https://api.example.com", wantErr: false},
		{name: "empty", baseURL: "", wantErr: true},
		{name: "relative", baseURL: "/api", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewHTTPTransport(Config{BaseURL: tt.baseURL})
			if (err != nil) != tt.wantErr {
				t.Errorf("NewHTTPTransport() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestHTTPTransport_Headers(t *testing.T) {
	var got *http.Request
	tr := newTestTransport(t, func(w http.ResponseWriter, r *http.Request) {
		got = r.Clone(context.Background())
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.Write([]byte(`{"ok":true}`))
	}, func(cfg *Config) {
		cfg.Tokens = StaticToken("secret")
	})

	resp, err := tr.Do(context.Background(), &Request{
		Endpoint: "/v1/orders",
		Params:   url.Values{"status": []string{"open"}},
	})
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("StatusCode = %d, want 200", resp.StatusCode)
	}

	if got.URL.Path != "/v1/orders" {
		t.Errorf("path = %q, want /v1/orders", got.URL.Path)
	}
	if got.URL.Query().Get("status") != "open" {
		t.Errorf("query = %q", got.URL.RawQuery)
	}
	if h := got.Header.Get("Authorization"); h != "Bearer secret" {
		t.Errorf("Authorization = %q", h)
	}
	if h := got.Header.Get("User-Agent"); h != "reqcore-test/1.0" {
		t.Errorf("User-Agent = %q", h)
	}
	if got.Header.Get("X-Request-ID") == "" {
		t.Error("X-Request-ID not set")
	}
	if got.Header.Get("Accept") != "application/json" {
		t.Errorf("Accept = %q", got.Header.Get("Accept"))
	}
}

func TestHTTPTransport_EmptyTokenSendsNoAuthorization(t *testing.T) {
	var auth string
	tr := newTestTransport(t, func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusNoContent)
	}, func(cfg *Config) {
		cfg.Tokens = StaticToken("")
	})

	if _, err := tr.Do(context.Background(), &Request{Endpoint: "/v1/ping"}); err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if auth != "" {
		t.Errorf("Authorization = %q, want empty", auth)
	}
}

func TestHTTPTransport_JSONBody(t *testing.T) {
	var method string
	var body map[string]any
	tr := newTestTransport(t, func(w http.ResponseWriter, r *http.Request) {
		method = r.Method
		data, _ := io.ReadAll(r.Body)
		json.Unmarshal(data, &body)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"id":7}`))
	}, nil)

	resp, err := tr.Do(context.Background(), &Request{
		Method:   "post",
		Endpoint: "/v1/orders",
		Body:     map[string]any{"name": "widget"},
	})
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if method != http.MethodPost {
		t.Errorf("method = %q, want POST", method)
	}
	if body["name"] != "widget" {
		t.Errorf("body = %v", body)
	}

	var out struct {
		ID int `json:"id"`
	}
	if err := resp.JSON(&out); err != nil || out.ID != 7 {
		t.Errorf("JSON() = %+v, %v", out, err)
	}
}

func TestHTTPTransport_HTTPError(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		wantClass ErrorClass
		wantBody  bool
	}{
		{name: "unauthorized", status: http.StatusUnauthorized, body: `{"error":"expired"}`, wantClass: ErrorClassClient, wantBody: true},
		{name: "not found without body", status: http.StatusNotFound, wantClass: ErrorClassClient},
		{name: "server error", status: http.StatusBadGateway, body: `oops`, wantClass: ErrorClassServer},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := newTestTransport(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}, nil)

			_, err := tr.Do(context.Background(), &Request{Endpoint: "/v1/x"})
			var herr *HTTPError
			if !errors.As(err, &herr) {
				t.Fatalf("error = %v, want *HTTPError", err)
			}
			if herr.StatusCode != tt.status {
				t.Errorf("StatusCode = %d, want %d", herr.StatusCode, tt.status)
			}
			if herr.Class() != tt.wantClass {
				t.Errorf("Class() = %q, want %q", herr.Class(), tt.wantClass)
			}
			if (herr.Body != nil) != tt.wantBody {
				t.Errorf("Body = %v, wantBody %v", herr.Body, tt.wantBody)
			}
			if herr.Unauthorized() != (tt.status == http.StatusUnauthorized) {
				t.Errorf("Unauthorized() = %v", herr.Unauthorized())
			}
		})
	}
}

func TestHTTPTransport_ParseError(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		body        string
	}{
		{name: "html content type", contentType: "text/html", body: "<html></html>"},
		{name: "invalid json", contentType: "application/json", body: `{"items": [`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := newTestTransport(t, func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", tt.contentType)
				w.Write([]byte(tt.body))
			}, nil)

			_, err := tr.Do(context.Background(), &Request{Endpoint: "/v1/x"})
			var perr *ParseError
			if !errors.As(err, &perr) {
				t.Fatalf("error = %v, want *ParseError", err)
			}
		})
	}
}

func TestHTTPTransport_NetworkError(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	server.Close()

	tr, err := NewHTTPTransport(Config{BaseURL: server.URL})
	if err != nil {
		t.Fatalf("NewHTTPTransport() error = %v", err)
	}

	_, err = tr.Do(context.Background(), &Request{Endpoint: "/v1/x"})
	var nerr *NetworkError
	if !errors.As(err, &nerr) {
		t.Fatalf("error = %v, want *NetworkError", err)
	}
}

func TestHTTPTransport_Cancellation(t *testing.T) {
	release := make(chan struct{})
	tr := newTestTransport(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}, nil)
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := tr.Do(ctx, &Request{Endpoint: "/v1/slow"})
	if !IsCancellation(err) {
		t.Fatalf("error = %v, want cancellation", err)
	}
	var cerr *CancellationError
	if !errors.As(err, &cerr) {
		t.Errorf("error = %T, want *CancellationError", err)
	}
}

func TestHTTPTransport_Span(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))

	tr := newTestTransport(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}, func(cfg *Config) {
		cfg.TracerProvider = tp
	})

	_, _ = tr.Do(context.Background(), &Request{Endpoint: "/v1/x"})

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("ended spans = %d, want 1", len(spans))
	}
	span := spans[0]
	if span.Name() != "HTTP GET" {
		t.Errorf("span name = %q, want HTTP GET", span.Name())
	}
	if span.Status().Code.String() != "Error" {
		t.Errorf("span status = %v, want Error", span.Status().Code)
	}
}
