package cache

import (
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
)

// Key identifies a logically unique request. Its String form is the request
// signature shared by the response cache and the deduplication registry.
type Key struct {
	// Method is the HTTP method (empty means GET)
	Method string

	// Endpoint is the backend path (e.g., "/v1/orders/")
	Endpoint string

	// Params are the query parameters (e.g., {"status": "open", "limit": "20"})
	Params url.Values
}

// NewKey builds a GET key for an endpoint and its parameters.
func NewKey(endpoint string, params url.Values) Key {
	return Key{Method: http.MethodGet, Endpoint: endpoint, Params: params}
}

// String generates a deterministic signature.
// Format: req:METHOD:endpoint:param1=val1:param2=val2
//
// Example:
//
//	req:GET:v1/orders:limit=20:status=open
func (k Key) String() string {
	method := strings.ToUpper(k.Method)
	if method == "" {
		method = http.MethodGet
	}
	parts := []string{keyPrefix, method}

	// Add endpoint (normalize path)
	if endpoint := NormalizeEndpoint(k.Endpoint); endpoint != "" {
		parts = append(parts, endpoint)
	}

	// Add params (sorted for determinism, values too)
	if len(k.Params) > 0 {
		names := make([]string, 0, len(k.Params))
		for name := range k.Params {
			names = append(names, name)
		}
		sort.Strings(names)

		for _, name := range names {
			values := append([]string(nil), k.Params[name]...)
			sort.Strings(values)
			if len(values) == 0 {
				parts = append(parts, name+"=")
				continue
			}
			for _, v := range values {
				parts = append(parts, fmt.Sprintf("%s=%s", url.QueryEscape(name), url.QueryEscape(v)))
			}
		}
	}

	return strings.Join(parts, ":")
}

// keyPrefix namespaces every signature.
const keyPrefix = "req"

// NormalizeEndpoint trims surrounding slashes so "/v1/orders/" and "v1/orders"
// address the same entries.
func NormalizeEndpoint(endpoint string) string {
	return strings.Trim(endpoint, "/")
}
