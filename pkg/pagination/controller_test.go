package pagination

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/Sternrassler/api-request-core/pkg/transport"
)

// fakeBackend serves offset/limit pages of sequential integers. Filter "q=b"
// shifts the numbering by 100 so results for different filters differ.
type fakeBackend struct {
	mu        sync.Mutex
	total     int
	shift     int
	calls     []url.Values
	refreshes int
	gate      chan struct{}
	fail      error
}

func (b *fakeBackend) FetchPage(ctx context.Context, endpoint string, params url.Values, refresh bool) ([]byte, error) {
	b.mu.Lock()
	b.calls = append(b.calls, params)
	if refresh {
		b.refreshes++
	}
	gate, fail, total, shift := b.gate, b.fail, b.total, b.shift
	b.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, transport.ContextError("GET", endpoint, ctx.Err())
		}
	}
	if fail != nil {
		return nil, fail
	}

	offset, _ := strconv.Atoi(params.Get("offset"))
	limit, _ := strconv.Atoi(params.Get("limit"))
	if params.Get("q") == "b" {
		shift += 100
	}
	items := []int{}
	for i := offset; i < offset+limit && i < total; i++ {
		items = append(items, i+shift)
	}
	return json.Marshal(items)
}

func (b *fakeBackend) callCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.calls)
}

func (b *fakeBackend) lastCall() url.Values {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls[len(b.calls)-1]
}

func (b *fakeBackend) setGate(ch chan struct{}) {
	b.mu.Lock()
	b.gate = ch
	b.mu.Unlock()
}

func (b *fakeBackend) setFail(err error) {
	b.mu.Lock()
	b.fail = err
	b.mu.Unlock()
}

func newTestController(b *fakeBackend, pageSize int) *Controller {
	return New(b, Config{Endpoint: "/v1/items", PageSize: pageSize})
}

func itemIDs(t *testing.T, s State) []int {
	t.Helper()
	ids, err := DecodeItems[int](s.Items)
	if err != nil {
		t.Fatalf("DecodeItems() error = %v", err)
	}
	return ids
}

func firstID(t *testing.T, s State) int {
	t.Helper()
	ids := itemIDs(t, s)
	if len(ids) == 0 {
		t.Fatal("frame has no items")
	}
	return ids[0]
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestController_InitialState(t *testing.T) {
	c := New(&fakeBackend{}, Config{Endpoint: "/v1/items"})
	s := c.State()
	if s.Status != StatusIdle || s.Len != 1 || s.Position != 0 || s.HasMore {
		t.Errorf("initial state = %+v", s)
	}
	if c.pageSize != DefaultPageSize {
		t.Errorf("pageSize = %d, want %d", c.pageSize, DefaultPageSize)
	}
}

func TestController_EndToEnd(t *testing.T) {
	ctx := context.Background()
	b := &fakeBackend{total: 8}
	c := newTestController(b, 5)

	if err := c.ResetAndLoad(ctx, nil); err != nil {
		t.Fatalf("ResetAndLoad() error = %v", err)
	}
	s := c.State()
	if s.Status != StatusLoaded || len(s.Items) != 5 || !s.HasMore {
		t.Fatalf("first page = %+v", s)
	}

	if err := c.Next(ctx); err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	s = c.State()
	if len(s.Items) != 3 || s.HasMore || s.Position != 1 || s.Len != 2 {
		t.Fatalf("second page = %+v", s)
	}
	if got := b.lastCall(); got.Get("offset") != "5" || got.Get("limit") != "5" {
		t.Errorf("second call params = %v", got)
	}

	// No more items: Next is a no-op.
	if err := c.Next(ctx); err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	if b.callCount() != 2 {
		t.Errorf("calls = %d, want 2", b.callCount())
	}
	if c.State().Position != 1 {
		t.Errorf("position moved past the last page")
	}
}

func TestController_PrevAndReplayUseHistory(t *testing.T) {
	ctx := context.Background()
	b := &fakeBackend{total: 15}
	c := newTestController(b, 5)

	_ = c.ResetAndLoad(ctx, nil)
	_ = c.Next(ctx)
	_ = c.Next(ctx)
	if b.callCount() != 3 {
		t.Fatalf("calls = %d, want 3", b.callCount())
	}

	c.Prev()
	s := c.State()
	if s.Position != 1 || firstID(t, s) != 5 {
		t.Errorf("after Prev state = %+v", s)
	}

	if err := c.Next(ctx); err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	s = c.State()
	if s.Position != 2 || firstID(t, s) != 10 {
		t.Errorf("after replayed Next state = %+v", s)
	}
	if b.callCount() != 3 {
		t.Errorf("navigation fetched: calls = %d, want 3", b.callCount())
	}
}

func TestController_PrevAtStartIsNoop(t *testing.T) {
	b := &fakeBackend{total: 15}
	c := newTestController(b, 5)
	_ = c.ResetAndLoad(context.Background(), nil)

	c.Prev()
	if s := c.State(); s.Position != 0 || s.Status != StatusLoaded {
		t.Errorf("state = %+v", s)
	}
}

func TestController_ResetTruncatesHistory(t *testing.T) {
	ctx := context.Background()
	b := &fakeBackend{total: 15}
	c := newTestController(b, 5)

	_ = c.ResetAndLoad(ctx, nil)
	_ = c.Next(ctx)
	_ = c.Next(ctx)
	c.Prev()

	if err := c.ResetAndLoad(ctx, url.Values{"q": []string{"b"}}); err != nil {
		t.Fatalf("ResetAndLoad() error = %v", err)
	}
	s := c.State()
	if s.Len != 1 || s.Position != 0 {
		t.Errorf("history len = %d, position = %d; want 1, 0", s.Len, s.Position)
	}
	if firstID(t, s) != 100 {
		t.Errorf("first item = %d, want 100", firstID(t, s))
	}
	if c.Filters().Get("q") != "b" {
		t.Errorf("filters = %v", c.Filters())
	}
}

func TestController_StaleResultDiscarded(t *testing.T) {
	ctx := context.Background()
	b := &fakeBackend{total: 15}
	c := newTestController(b, 5)

	gate := make(chan struct{})
	b.setGate(gate)
	errCh := make(chan error, 1)
	go func() { errCh <- c.ResetAndLoad(ctx, url.Values{"q": []string{"a"}}) }()
	eventually(t, func() bool { return b.callCount() == 1 })

	b.setGate(nil)
	if err := c.ResetAndLoad(ctx, url.Values{"q": []string{"b"}}); err != nil {
		t.Fatalf("ResetAndLoad() error = %v", err)
	}
	close(gate)

	if err := <-errCh; err != nil {
		t.Errorf("superseded ResetAndLoad() error = %v, want nil", err)
	}
	s := c.State()
	if s.Status != StatusLoaded || s.Len != 1 || firstID(t, s) != 100 {
		t.Errorf("state = %+v, want the q=b page", s)
	}
}

func TestController_StaleNextDiscardedByReset(t *testing.T) {
	ctx := context.Background()
	b := &fakeBackend{total: 15}
	c := newTestController(b, 5)
	if err := c.ResetAndLoad(ctx, nil); err != nil {
		t.Fatalf("ResetAndLoad() error = %v", err)
	}

	gate := make(chan struct{})
	b.setGate(gate)
	errCh := make(chan error, 1)
	go func() { errCh <- c.Next(ctx) }()
	eventually(t, func() bool { return b.callCount() == 2 })

	b.setGate(nil)
	if err := c.ResetAndLoad(ctx, url.Values{"q": []string{"b"}}); err != nil {
		t.Fatalf("ResetAndLoad() error = %v", err)
	}
	close(gate)

	if err := <-errCh; err != nil {
		t.Errorf("superseded Next() error = %v, want nil", err)
	}
	s := c.State()
	if s.Status != StatusLoaded || s.Position != 0 || s.Len != 1 || firstID(t, s) != 100 {
		t.Errorf("state = %+v, want only the q=b first page", s)
	}
}

func TestController_ConcurrentNextCoalesces(t *testing.T) {
	ctx := context.Background()
	b := &fakeBackend{total: 15}
	c := newTestController(b, 5)
	_ = c.ResetAndLoad(ctx, nil)

	gate := make(chan struct{})
	b.setGate(gate)
	errCh := make(chan error, 1)
	go func() { errCh <- c.Next(ctx) }()
	eventually(t, func() bool { return b.callCount() == 2 })

	if s := c.State(); s.Status != StatusLoading {
		t.Errorf("status = %s, want loading", s.Status)
	}
	if err := c.Next(ctx); err != nil {
		t.Fatalf("coalesced Next() error = %v", err)
	}
	if err := c.Refresh(ctx); err != nil {
		t.Fatalf("Refresh() while loading error = %v", err)
	}
	close(gate)
	if err := <-errCh; err != nil {
		t.Fatalf("Next() error = %v", err)
	}

	if b.callCount() != 2 {
		t.Errorf("calls = %d, want 2", b.callCount())
	}
	if s := c.State(); s.Position != 1 || s.Len != 2 {
		t.Errorf("state = %+v, want one step forward", s)
	}
}

func TestController_FailedNextKeepsHistory(t *testing.T) {
	ctx := context.Background()
	b := &fakeBackend{total: 15}
	c := newTestController(b, 5)
	_ = c.ResetAndLoad(ctx, nil)

	b.setFail(&transport.HTTPError{StatusCode: 500, Status: "500 Internal Server Error", Endpoint: "/v1/items"})
	err := c.Next(ctx)
	var he *transport.HTTPError
	if !errors.As(err, &he) {
		t.Fatalf("Next() error = %v, want *HTTPError", err)
	}
	s := c.State()
	if s.Status != StatusError || s.Err == nil || s.Position != 0 || s.Len != 1 {
		t.Errorf("after failure state = %+v", s)
	}

	b.setFail(nil)
	if err := c.Next(ctx); err != nil {
		t.Fatalf("retried Next() error = %v", err)
	}
	s = c.State()
	if s.Status != StatusLoaded || s.Err != nil || s.Position != 1 {
		t.Errorf("after retry state = %+v", s)
	}
}

func TestController_CancellationIsNotAnError(t *testing.T) {
	b := &fakeBackend{total: 15}
	c := newTestController(b, 5)
	_ = c.ResetAndLoad(context.Background(), nil)

	b.setGate(make(chan struct{}))
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- c.Next(ctx) }()
	eventually(t, func() bool { return b.callCount() == 2 })
	cancel()

	if err := <-errCh; err != nil {
		t.Errorf("cancelled Next() error = %v, want nil", err)
	}
	s := c.State()
	if s.Status != StatusLoaded || s.Err != nil || s.Position != 0 || s.Len != 1 {
		t.Errorf("state = %+v", s)
	}
}

func TestController_DeadlineIsAnError(t *testing.T) {
	b := &fakeBackend{total: 15}
	c := newTestController(b, 5)
	_ = c.ResetAndLoad(context.Background(), nil)

	b.setGate(make(chan struct{}))
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := c.Next(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Next() error = %v, want deadline exceeded", err)
	}
	var nerr *transport.NetworkError
	if !errors.As(err, &nerr) {
		t.Errorf("Next() error = %T, want *NetworkError", err)
	}
	s := c.State()
	if s.Status != StatusError || s.Err == nil || s.Position != 0 || s.Len != 1 {
		t.Errorf("state = %+v, want error with history kept", s)
	}
}

func TestController_PrevSupersedesFetch(t *testing.T) {
	ctx := context.Background()
	b := &fakeBackend{total: 15}
	c := newTestController(b, 5)
	_ = c.ResetAndLoad(ctx, nil)
	_ = c.Next(ctx)

	gate := make(chan struct{})
	b.setGate(gate)
	errCh := make(chan error, 1)
	go func() { errCh <- c.Next(ctx) }()
	eventually(t, func() bool { return b.callCount() == 3 })

	c.Prev()
	close(gate)
	if err := <-errCh; err != nil {
		t.Errorf("superseded Next() error = %v", err)
	}
	s := c.State()
	if s.Position != 0 || s.Len != 2 || s.Status != StatusLoaded {
		t.Errorf("state = %+v", s)
	}
}

func TestController_RefreshOverwritesInPlace(t *testing.T) {
	ctx := context.Background()
	b := &fakeBackend{total: 15}
	c := newTestController(b, 5)
	_ = c.ResetAndLoad(ctx, nil)
	_ = c.Next(ctx)

	b.mu.Lock()
	b.shift = 1000
	b.mu.Unlock()

	if err := c.Refresh(ctx); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	s := c.State()
	if s.Position != 1 || s.Len != 2 {
		t.Errorf("refresh moved the history: %+v", s)
	}
	if firstID(t, s) != 1005 {
		t.Errorf("first item = %d, want 1005", firstID(t, s))
	}
	if b.refreshes != 1 {
		t.Errorf("refresh fetches = %d, want 1", b.refreshes)
	}
	if got := b.lastCall(); got.Get("offset") != "5" {
		t.Errorf("refresh params = %v", got)
	}
}

func TestController_CursorPaging(t *testing.T) {
	ctx := context.Background()
	var cursors []string
	fetcher := FetcherFunc(func(_ context.Context, _ string, params url.Values, _ bool) ([]byte, error) {
		cursors = append(cursors, params.Get("cursor"))
		if params.Get("cursor") == "" {
			return []byte(`{"items":[1,2],"cursor":"c2"}`), nil
		}
		return []byte(`{"items":[3],"cursor":null}`), nil
	})
	c := New(fetcher, Config{Endpoint: "/v1/events", PageSize: 2})

	_ = c.ResetAndLoad(ctx, nil)
	if !c.State().HasMore || c.Frame().NextCursor != "c2" {
		t.Fatalf("first frame = %+v", c.Frame())
	}
	_ = c.Next(ctx)
	s := c.State()
	if s.HasMore || len(s.Items) != 1 {
		t.Errorf("second frame = %+v", s)
	}
	if c.Frame().Cursor != "c2" {
		t.Errorf("frame cursor = %q, want c2", c.Frame().Cursor)
	}
	if len(cursors) != 2 || cursors[1] != "c2" {
		t.Errorf("cursors = %v", cursors)
	}
}

func TestController_SetPageSize(t *testing.T) {
	ctx := context.Background()
	b := &fakeBackend{total: 15}
	c := newTestController(b, 5)
	_ = c.ResetAndLoad(ctx, url.Values{"q": []string{"a"}})
	_ = c.Next(ctx)

	if err := c.SetPageSize(ctx, 3); err != nil {
		t.Fatalf("SetPageSize() error = %v", err)
	}
	s := c.State()
	if s.Len != 1 || s.Position != 0 || len(s.Items) != 3 {
		t.Errorf("state = %+v", s)
	}
	if got := b.lastCall(); got.Get("limit") != "3" || got.Get("q") != "a" {
		t.Errorf("params = %v", got)
	}
}

func TestController_Close(t *testing.T) {
	ctx := context.Background()
	b := &fakeBackend{total: 15}
	c := newTestController(b, 5)
	_ = c.ResetAndLoad(ctx, nil)

	gate := make(chan struct{})
	b.setGate(gate)
	errCh := make(chan error, 1)
	go func() { errCh <- c.Next(ctx) }()
	eventually(t, func() bool { return b.callCount() == 2 })

	c.Close()
	close(gate)
	if err := <-errCh; err != nil {
		t.Errorf("Next() after Close error = %v", err)
	}
	if s := c.State(); s.Len != 1 || s.Position != 0 {
		t.Errorf("closed controller applied a result: %+v", s)
	}

	if err := c.Next(ctx); !errors.Is(err, ErrClosed) {
		t.Errorf("Next() = %v, want ErrClosed", err)
	}
	if err := c.ResetAndLoad(ctx, nil); !errors.Is(err, ErrClosed) {
		t.Errorf("ResetAndLoad() = %v, want ErrClosed", err)
	}
	if err := c.Refresh(ctx); !errors.Is(err, ErrClosed) {
		t.Errorf("Refresh() = %v, want ErrClosed", err)
	}
}

func TestController_OnChange(t *testing.T) {
	var (
		mu       sync.Mutex
		statuses []Status
	)
	b := &fakeBackend{total: 15}
	c := New(b, Config{
		Endpoint: "/v1/items",
		PageSize: 5,
		OnChange: func(s State) {
			mu.Lock()
			statuses = append(statuses, s.Status)
			mu.Unlock()
		},
	})

	_ = c.ResetAndLoad(context.Background(), nil)

	mu.Lock()
	defer mu.Unlock()
	want := []Status{StatusLoading, StatusLoaded}
	if len(statuses) != len(want) {
		t.Fatalf("statuses = %v, want %v", statuses, want)
	}
	for i := range want {
		if statuses[i] != want[i] {
			t.Errorf("statuses[%d] = %s, want %s", i, statuses[i], want[i])
		}
	}
}
