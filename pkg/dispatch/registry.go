package dispatch

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// SafetyTimeout bounds how long an in-flight entry stays registered, whether
// or not its future ever completes.
const SafetyTimeout = 30 * time.Second

type inflight struct {
	signature string
	future    *Future
	createdAt time.Time
}

// Registry tracks in-flight requests by signature so concurrent identical
// requests share one future.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*inflight
	timeout time.Duration
	logger  zerolog.Logger
}

// NewRegistry creates a deduplication registry. A non-positive timeout uses
// SafetyTimeout.
func NewRegistry(timeout time.Duration) *Registry {
	if timeout <= 0 {
		timeout = SafetyTimeout
	}
	return &Registry{
		entries: make(map[string]*inflight),
		timeout: timeout,
		logger:  log.With().Str("component", "dedup-registry").Logger(),
	}
}

// GetOrCreate returns the live future for signature, or invokes factory,
// registers its future and returns it. The entry is removed when the future
// completes or the safety timeout fires, whichever comes first.
func (r *Registry) GetOrCreate(signature string, factory func() *Future) *Future {
	r.mu.Lock()
	if e, ok := r.entries[signature]; ok && !e.future.completed() {
		r.mu.Unlock()
		dedupSharedTotal.Inc()
		r.logger.Debug().
			Str("signature", signature).
			Dur("age", time.Since(e.createdAt)).
			Msg("Attached to in-flight request")
		return e.future
	}

	e := &inflight{
		signature: signature,
		future:    factory(),
		createdAt: time.Now(),
	}
	r.entries[signature] = e
	r.mu.Unlock()

	go r.watch(e)
	return e.future
}

// Len returns the number of registered in-flight entries.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

func (r *Registry) watch(e *inflight) {
	timer := time.NewTimer(r.timeout)
	defer timer.Stop()

	select {
	case <-e.future.Done():
	case <-timer.C:
		dedupExpiredTotal.Inc()
		r.logger.Warn().
			Str("signature", e.signature).
			Dur("timeout", r.timeout).
			Msg("In-flight entry expired before completion")
	}

	r.mu.Lock()
	// A newer entry may already own the signature.
	if r.entries[e.signature] == e {
		delete(r.entries, e.signature)
	}
	r.mu.Unlock()
}
