package pagination

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"

	"github.com/Sternrassler/api-request-core/pkg/transport"
)

// Frame is one fetched page plus what is needed to fetch the next one.
type Frame struct {
	// Cursor and Offset are the position this frame was fetched from
	Cursor string
	Offset int

	Items []json.RawMessage

	// NextCursor is the backend cursor for the following page, if any
	NextCursor string

	// NextOffset is Offset plus the number of items, used by cursor-less endpoints
	NextOffset int

	HasMore bool
}

// PageRequest describes the page a ParamsBuilder turns into query params.
type PageRequest struct {
	Endpoint string
	Filters  url.Values
	Cursor   string
	Offset   int
	Limit    int
}

// ParamsBuilder maps a page request onto backend query parameters.
type ParamsBuilder func(req PageRequest) url.Values

// DefaultParams copies the filters and adds limit plus either cursor or offset.
func DefaultParams(req PageRequest) url.Values {
	params := url.Values{}
	for k, v := range req.Filters {
		params[k] = append([]string(nil), v...)
	}
	if req.Limit > 0 {
		params.Set("limit", strconv.Itoa(req.Limit))
	}
	switch {
	case req.Cursor != "":
		params.Set("cursor", req.Cursor)
	case req.Offset > 0:
		params.Set("offset", strconv.Itoa(req.Offset))
	}
	return params
}

// listEnvelope is the object form of a list response. Cursor fields stay raw
// so a key carrying null can be told apart from a missing key.
type listEnvelope struct {
	Items        []json.RawMessage `json:"items"`
	Cursor       json.RawMessage   `json:"cursor"`
	NextCursor   json.RawMessage   `json:"next_cursor"`
	HasMore      *bool             `json:"has_more"`
	HasMoreCamel *bool             `json:"hasMore"`
}

// ParseFrame decodes a list response fetched for req. Accepted shapes are a
// bare JSON array or an object {items, cursor}.
//
// An explicit has-more flag wins. A cursor key that is present decides next:
// null or "" marks the last page. Only without either does a page holding
// req.Limit items count as having more. A cursor-paged frame never continues
// without a next cursor, since an offset request would restart the list.
func ParseFrame(body []byte, req PageRequest) (Frame, error) {
	frame := Frame{Cursor: req.Cursor, Offset: req.Offset}

	trimmed := bytes.TrimSpace(body)
	var explicitMore *bool
	cursorPresent := false
	switch {
	case len(trimmed) == 0:
		frame.Items = []json.RawMessage{}
	case trimmed[0] == '[':
		if err := json.Unmarshal(trimmed, &frame.Items); err != nil {
			return Frame{}, &transport.ParseError{Endpoint: req.Endpoint, Err: fmt.Errorf("decode list: %w", err)}
		}
	case trimmed[0] == '{':
		var env listEnvelope
		if err := json.Unmarshal(trimmed, &env); err != nil {
			return Frame{}, &transport.ParseError{Endpoint: req.Endpoint, Err: fmt.Errorf("decode list envelope: %w", err)}
		}
		frame.Items = env.Items
		for _, raw := range []json.RawMessage{env.Cursor, env.NextCursor} {
			if len(raw) == 0 {
				continue
			}
			cursorPresent = true
			next, err := decodeCursor(raw)
			if err != nil {
				return Frame{}, &transport.ParseError{Endpoint: req.Endpoint, Err: err}
			}
			if next != "" {
				frame.NextCursor = next
				break
			}
		}
		explicitMore = env.HasMore
		if explicitMore == nil {
			explicitMore = env.HasMoreCamel
		}
	default:
		return Frame{}, &transport.ParseError{Endpoint: req.Endpoint, Err: fmt.Errorf("list response is neither an array nor an object")}
	}

	if frame.Items == nil {
		frame.Items = []json.RawMessage{}
	}
	frame.NextOffset = req.Offset + len(frame.Items)

	switch {
	case explicitMore != nil:
		frame.HasMore = *explicitMore
	case cursorPresent:
		frame.HasMore = frame.NextCursor != ""
	default:
		frame.HasMore = req.Limit > 0 && len(frame.Items) >= req.Limit
	}
	if (req.Cursor != "" || cursorPresent) && frame.NextCursor == "" {
		frame.HasMore = false
	}

	return frame, nil
}

// decodeCursor reads a cursor value. Strings are taken as is, numbers by their
// literal text, null as no cursor.
func decodeCursor(raw json.RawMessage) (string, error) {
	trimmed := bytes.TrimSpace(raw)
	switch {
	case bytes.Equal(trimmed, []byte("null")):
		return "", nil
	case len(trimmed) > 0 && trimmed[0] == '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return "", fmt.Errorf("decode cursor: %w", err)
		}
		return s, nil
	default:
		var n json.Number
		if err := json.Unmarshal(trimmed, &n); err != nil {
			return "", fmt.Errorf("cursor is neither a string nor a number: %w", err)
		}
		return n.String(), nil
	}
}

// DecodeItems unmarshals every item of a frame into T.
func DecodeItems[T any](items []json.RawMessage) ([]T, error) {
	out := make([]T, 0, len(items))
	for i, raw := range items {
		var v T
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("decode item %d: %w", i, err)
		}
		out = append(out, v)
	}
	return out, nil
}
