package cache

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DefaultMaxBytes is the approximate size budget of the local cache.
const DefaultMaxBytes = 4 << 20

var (
	// ErrCacheMiss indicates the requested key was not found in cache
	ErrCacheMiss = errors.New("cache miss")

	// ErrInvalidEntry indicates the cache entry is invalid or corrupted
	ErrInvalidEntry = errors.New("invalid cache entry")
)

// Tier is a shared cache layer consulted behind the local store.
type Tier interface {
	Get(ctx context.Context, key string) (*Entry, error)
	Set(ctx context.Context, key string, entry *Entry) error
	Delete(ctx context.Context, key string) error
	DeleteEndpoint(ctx context.Context, endpoint string) error
	Clear(ctx context.Context) error
}

// Config holds the response cache configuration.
type Config struct {
	// Policy decides per endpoint whether and for how long to cache.
	Policy Policy

	// MaxBytes is the approximate total size at which the whole cache is cleared.
	MaxBytes int

	// Tier is an optional shared layer (e.g. RedisTier).
	Tier Tier

	// Now returns the current time (default: time.Now).
	Now func() time.Time

	Logger *zerolog.Logger
}

// DefaultConfig returns a cache configuration with the default policy and budget.
func DefaultConfig() Config {
	return Config{
		Policy:   DefaultPolicy(),
		MaxBytes: DefaultMaxBytes,
	}
}

type item struct {
	entry    *Entry
	endpoint string
	size     int
}

// Store is the process-wide response cache.
//
// Expired entries are deleted lazily on read. When the approximate size of all
// entries exceeds MaxBytes after a Set or a shared-tier promotion, the local
// cache is cleared wholesale.
type Store struct {
	mu    sync.Mutex
	items map[string]*item
	total int

	policy   Policy
	maxBytes int
	tier     Tier
	now      func() time.Time
	logger   zerolog.Logger
}

// NewStore creates a response cache.
func NewStore(cfg Config) *Store {
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = DefaultMaxBytes
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	logger := log.With().Str("component", "response-cache").Logger()
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	return &Store{
		items:    make(map[string]*item),
		policy:   cfg.Policy,
		maxBytes: cfg.MaxBytes,
		tier:     cfg.Tier,
		now:      cfg.Now,
		logger:   logger,
	}
}

// Policy returns the caching policy of the store.
func (s *Store) Policy() Policy {
	return s.policy
}

// Get returns the cached payload for key.
// Returns false on miss, expiry, or when the endpoint is policy-disabled.
func (s *Store) Get(ctx context.Context, key Key) ([]byte, bool) {
	if !s.policy.Resolve(key.Endpoint).ShouldCache() {
		CacheMisses.Inc()
		return nil, false
	}

	sig := key.String()
	now := s.now()

	s.mu.Lock()
	it, ok := s.items[sig]
	if ok && it.entry.IsExpired(now) {
		s.removeLocked(sig)
		ok = false
	}
	s.mu.Unlock()

	if ok {
		CacheHits.WithLabelValues("memory").Inc()
		s.logger.Debug().Str("key", sig).Msg("Cache hit")
		return it.entry.Data, true
	}

	if s.tier != nil {
		entry, err := s.tier.Get(ctx, sig)
		switch {
		case err == nil && !entry.IsExpired(now):
			CacheHits.WithLabelValues("redis").Inc()
			s.logger.Debug().Str("key", sig).Msg("Shared tier hit")
			s.mu.Lock()
			// A Set that landed while the tier was read is newer than the tier copy.
			if local, ok := s.items[sig]; ok && !local.entry.IsExpired(now) {
				s.mu.Unlock()
				return local.entry.Data, true
			}
			s.putLocked(sig, key, entry)
			s.enforceBudgetLocked()
			s.mu.Unlock()
			return entry.Data, true
		case err != nil && !errors.Is(err, ErrCacheMiss):
			CacheErrors.WithLabelValues("get").Inc()
			s.logger.Warn().Err(err).Str("key", sig).Msg("Shared tier get failed")
		}
	}

	CacheMisses.Inc()
	s.logger.Debug().Str("key", sig).Msg("Cache miss")
	return nil, false
}

// Set stores data under key. A zero ttl stores the entry without expiry.
// Policy-disabled endpoints are ignored.
func (s *Store) Set(ctx context.Context, key Key, data []byte, ttl time.Duration) {
	decision := s.policy.Resolve(key.Endpoint)
	if !decision.ShouldCache() {
		return
	}

	sig := key.String()
	entry := newEntry(data, s.now(), ttl)

	s.mu.Lock()
	s.putLocked(sig, key, entry)
	s.enforceBudgetLocked()
	s.mu.Unlock()

	if s.tier != nil {
		if err := s.tier.Set(ctx, sig, entry); err != nil {
			CacheErrors.WithLabelValues("set").Inc()
			s.logger.Warn().Err(err).Str("key", sig).Msg("Shared tier set failed")
		}
	}

	s.logger.Debug().Str("key", sig).Dur("ttl", ttl).Str("rule", decision.Rule).Msg("Cached response")
}

// Invalidate removes the entry for key.
func (s *Store) Invalidate(ctx context.Context, key Key) {
	sig := key.String()

	s.mu.Lock()
	s.removeLocked(sig)
	s.mu.Unlock()
	CacheEvictions.WithLabelValues("invalidate").Inc()

	if s.tier != nil {
		if err := s.tier.Delete(ctx, sig); err != nil {
			CacheErrors.WithLabelValues("delete").Inc()
			s.logger.Warn().Err(err).Str("key", sig).Msg("Shared tier delete failed")
		}
	}
}

// InvalidatePrefix removes every entry for endpoint and the paths below it,
// regardless of method and params. "/v1/items" drops "/v1/items/7" but not
// "/v1/items_archive".
func (s *Store) InvalidatePrefix(ctx context.Context, endpoint string) int {
	prefix := NormalizeEndpoint(endpoint)

	s.mu.Lock()
	removed := 0
	for sig, it := range s.items {
		if endpointUnder(it.endpoint, prefix) {
			s.removeLocked(sig)
			removed++
		}
	}
	s.mu.Unlock()
	CacheEvictions.WithLabelValues("invalidate").Add(float64(removed))

	if s.tier != nil {
		if err := s.tier.DeleteEndpoint(ctx, prefix); err != nil {
			CacheErrors.WithLabelValues("delete").Inc()
			s.logger.Warn().Err(err).Str("endpoint", prefix).Msg("Shared tier delete failed")
		}
	}
	return removed
}

// Clear drops every entry, including the shared tier.
func (s *Store) Clear(ctx context.Context) {
	s.mu.Lock()
	s.clearLocked()
	s.mu.Unlock()
	CacheEvictions.WithLabelValues("clear").Inc()

	if s.tier != nil {
		if err := s.tier.Clear(ctx); err != nil {
			CacheErrors.WithLabelValues("clear").Inc()
			s.logger.Warn().Err(err).Msg("Shared tier clear failed")
		}
	}
}

// Len returns the number of local entries, expired ones included.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// SizeBytes returns the approximate size of all local entries.
func (s *Store) SizeBytes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total
}

func (s *Store) putLocked(sig string, key Key, entry *Entry) {
	s.removeLocked(sig)
	it := &item{entry: entry, endpoint: NormalizeEndpoint(key.Endpoint), size: entry.Size(sig)}
	s.items[sig] = it
	s.total += it.size
	CacheSize.Set(float64(s.total))
}

// enforceBudgetLocked clears the local cache wholesale once it is over budget.
func (s *Store) enforceBudgetLocked() {
	if s.total <= s.maxBytes {
		return
	}
	s.logger.Info().
		Int("size_bytes", s.total).
		Int("max_bytes", s.maxBytes).
		Int("entries", len(s.items)).
		Msg("Cache size budget exceeded, clearing")
	s.clearLocked()
	CacheEvictions.WithLabelValues("size_budget").Inc()
}

// endpointUnder reports whether endpoint is prefix itself or a path below it.
// Both are normalized; an empty prefix matches everything.
func endpointUnder(endpoint, prefix string) bool {
	if prefix == "" || endpoint == prefix {
		return true
	}
	return strings.HasPrefix(endpoint, prefix+"/")
}

func (s *Store) removeLocked(sig string) {
	if it, ok := s.items[sig]; ok {
		delete(s.items, sig)
		s.total -= it.size
		CacheSize.Set(float64(s.total))
	}
}

func (s *Store) clearLocked() {
	s.items = make(map[string]*item)
	s.total = 0
	CacheSize.Set(0)
}
