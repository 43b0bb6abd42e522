package pagination

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"sync"

	"github.com/Sternrassler/api-request-core/pkg/transport"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DefaultPageSize is used when a controller is built without a page size.
const DefaultPageSize = 20

// ErrClosed is returned by operations on a controller after Close.
var ErrClosed = errors.New("pagination controller closed")

// Status is the controller state.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusLoading Status = "loading"
	StatusLoaded  Status = "loaded"
	StatusError   Status = "error"
)

// Fetcher performs one page request. With refresh set, a cached response must
// not be served, though the fresh result may be stored.
type Fetcher interface {
	FetchPage(ctx context.Context, endpoint string, params url.Values, refresh bool) ([]byte, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, endpoint string, params url.Values, refresh bool) ([]byte, error)

// FetchPage implements Fetcher.
func (f FetcherFunc) FetchPage(ctx context.Context, endpoint string, params url.Values, refresh bool) ([]byte, error) {
	return f(ctx, endpoint, params, refresh)
}

// Config holds the per-view controller configuration.
type Config struct {
	Endpoint string

	// Params builds query params for a page (default: DefaultParams)
	Params ParamsBuilder

	// PageSize is the requested limit per page (default: DefaultPageSize)
	PageSize int

	// Filters are the initial filters used before the first ResetAndLoad
	Filters url.Values

	// OnChange is called with a snapshot after every state change (optional).
	// It runs on the goroutine that caused the change.
	OnChange func(State)

	Logger *zerolog.Logger
}

// State is an observable snapshot of a controller.
type State struct {
	Status   Status
	Items    []json.RawMessage
	Position int
	HasMore  bool
	Len      int
	Err      error
}

type fetchKind string

const (
	fetchReset   fetchKind = "reset"
	fetchNext    fetchKind = "next"
	fetchRefresh fetchKind = "refresh"
)

// token ties one fetch to the state it may update. Results are applied only
// while the token is still current.
type token struct {
	id         uint64
	kind       fetchKind
	cancel     context.CancelFunc
	prevStatus Status
}

// Controller turns page fetches into cursor-based forward and backward
// navigation over a history of frames.
//
// Moving back replays recorded frames without network activity, as does moving
// forward while recorded frames remain. Only moving past the last frame
// fetches. Parameter changes and teardown supersede the in-flight fetch; a
// superseded result is discarded silently.
type Controller struct {
	mu sync.Mutex

	fetcher  Fetcher
	endpoint string
	params   ParamsBuilder
	pageSize int
	filters  url.Values
	onChange func(State)
	logger   zerolog.Logger

	history []Frame
	pos     int
	status  Status
	err     error

	seq     uint64
	current *token
	closed  bool
}

// New creates an idle controller. Its history holds one empty frame.
func New(fetcher Fetcher, cfg Config) *Controller {
	if cfg.Params == nil {
		cfg.Params = DefaultParams
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	logger := log.With().Str("component", "pagination").Str("endpoint", cfg.Endpoint).Logger()
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	return &Controller{
		fetcher:  fetcher,
		endpoint: cfg.Endpoint,
		params:   cfg.Params,
		pageSize: cfg.PageSize,
		filters:  cloneValues(cfg.Filters),
		onChange: cfg.OnChange,
		logger:   logger,
		history:  []Frame{{}},
		status:   StatusIdle,
	}
}

// ResetAndLoad replaces the filters, discards history and loads the first page.
func (c *Controller) ResetAndLoad(ctx context.Context, filters url.Values) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.supersedeLocked()
	c.filters = cloneValues(filters)
	c.history = []Frame{{}}
	c.pos = 0
	c.err = nil
	tok, fetchCtx := c.beginLocked(ctx, fetchReset, StatusIdle)
	req := c.requestLocked("", 0)
	c.mu.Unlock()
	c.notify()

	return c.fetch(fetchCtx, tok, req, false)
}

// SetPageSize changes the page size and reloads from the first page.
func (c *Controller) SetPageSize(ctx context.Context, size int) error {
	if size <= 0 {
		size = DefaultPageSize
	}
	c.mu.Lock()
	c.pageSize = size
	filters := c.filters
	c.mu.Unlock()

	return c.ResetAndLoad(ctx, filters)
}

// Next moves forward one frame. It is a no-op while a fetch is in flight or
// when the current frame has no more items.
func (c *Controller) Next(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.current != nil {
		c.mu.Unlock()
		return nil
	}

	if c.pos < len(c.history)-1 {
		c.pos++
		c.status = StatusLoaded
		c.err = nil
		c.mu.Unlock()
		c.notify()
		return nil
	}

	cur := c.history[c.pos]
	if !cur.HasMore {
		c.mu.Unlock()
		return nil
	}
	tok, fetchCtx := c.beginLocked(ctx, fetchNext, c.settledStatusLocked())
	req := c.requestLocked(cur.NextCursor, cur.NextOffset)
	c.mu.Unlock()
	c.notify()

	return c.fetch(fetchCtx, tok, req, false)
}

// Prev moves back one frame without network activity. It is a no-op at the
// first frame and supersedes an in-flight fetch.
func (c *Controller) Prev() {
	c.mu.Lock()
	if c.closed || c.pos == 0 {
		c.mu.Unlock()
		return
	}
	c.supersedeLocked()
	c.pos--
	c.status = StatusLoaded
	c.err = nil
	c.mu.Unlock()
	c.notify()
}

// Refresh re-fetches the current frame, bypassing the cache, and overwrites it
// in place. It is a no-op while a fetch is in flight.
func (c *Controller) Refresh(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.current != nil {
		c.mu.Unlock()
		return nil
	}
	cur := c.history[c.pos]
	tok, fetchCtx := c.beginLocked(ctx, fetchRefresh, c.settledStatusLocked())
	req := c.requestLocked(cur.Cursor, cur.Offset)
	c.mu.Unlock()
	c.notify()

	return c.fetch(fetchCtx, tok, req, true)
}

// Close tears the controller down and discards any in-flight result.
func (c *Controller) Close() {
	c.mu.Lock()
	c.closed = true
	c.supersedeLocked()
	c.mu.Unlock()
}

// State returns a snapshot of the controller.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateLocked()
}

// Frame returns the frame at the current position.
func (c *Controller) Frame() Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.history[c.pos]
}

// Filters returns a copy of the active filters.
func (c *Controller) Filters() url.Values {
	c.mu.Lock()
	defer c.mu.Unlock()
	return cloneValues(c.filters)
}

func (c *Controller) fetch(ctx context.Context, tok *token, req PageRequest, refresh bool) error {
	body, err := c.fetcher.FetchPage(ctx, req.Endpoint, c.params(req), refresh)
	var frame Frame
	if err == nil {
		frame, err = ParseFrame(body, req)
	}

	c.mu.Lock()
	if c.current != tok {
		c.mu.Unlock()
		c.logger.Debug().
			Uint64("token", tok.id).
			Str("kind", string(tok.kind)).
			Msg("Discarding superseded page result")
		return nil
	}
	c.current = nil
	tok.cancel()

	switch {
	case err != nil && transport.IsCancellation(err):
		c.status = tok.prevStatus
		c.mu.Unlock()
		c.logger.Debug().Str("kind", string(tok.kind)).Msg("Page fetch cancelled")
		c.notify()
		return nil
	case err != nil:
		c.status = StatusError
		c.err = err
		c.mu.Unlock()
		c.logger.Warn().Err(err).Str("kind", string(tok.kind)).Msg("Page fetch failed")
		c.notify()
		return err
	}

	switch tok.kind {
	case fetchNext:
		c.history = append(c.history[:c.pos+1:c.pos+1], frame)
		c.pos++
	default:
		c.history[c.pos] = frame
	}
	c.status = StatusLoaded
	c.err = nil
	c.mu.Unlock()
	c.notify()
	return nil
}

// beginLocked issues a new current token. prev is the status restored if the
// fetch is cancelled by its caller.
func (c *Controller) beginLocked(ctx context.Context, kind fetchKind, prev Status) (*token, context.Context) {
	fetchCtx, cancel := context.WithCancel(ctx)
	c.seq++
	tok := &token{id: c.seq, kind: kind, cancel: cancel, prevStatus: prev}
	c.current = tok
	c.status = StatusLoading
	return tok, fetchCtx
}

func (c *Controller) supersedeLocked() {
	if c.current != nil {
		c.current.cancel()
		c.current = nil
	}
}

// settledStatusLocked is the status to fall back to when a fetch is cancelled.
func (c *Controller) settledStatusLocked() Status {
	if c.status == StatusLoading {
		return StatusLoaded
	}
	return c.status
}

func (c *Controller) requestLocked(cursor string, offset int) PageRequest {
	return PageRequest{
		Endpoint: c.endpoint,
		Filters:  cloneValues(c.filters),
		Cursor:   cursor,
		Offset:   offset,
		Limit:    c.pageSize,
	}
}

func (c *Controller) stateLocked() State {
	cur := c.history[c.pos]
	return State{
		Status:   c.status,
		Items:    cur.Items,
		Position: c.pos,
		HasMore:  cur.HasMore,
		Len:      len(c.history),
		Err:      c.err,
	}
}

func (c *Controller) notify() {
	if c.onChange == nil {
		return
	}
	c.onChange(c.State())
}

func cloneValues(v url.Values) url.Values {
	if v == nil {
		return url.Values{}
	}
	out := make(url.Values, len(v))
	for k, vals := range v {
		out[k] = append([]string(nil), vals...)
	}
	return out
}
