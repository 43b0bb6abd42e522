package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix namespaces shared tier keys.
const DefaultRedisPrefix = "reqcore:"

// RedisTier is a shared cache layer backed by Redis, so several processes
// can reuse each other's responses.
type RedisTier struct {
	redis  *redis.Client
	prefix string
	now    func() time.Time
}

// NewRedisTier creates a Redis-backed tier. An empty prefix uses DefaultRedisPrefix.
func NewRedisTier(redisClient *redis.Client, prefix string) *RedisTier {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisTier{
		redis:  redisClient,
		prefix: prefix,
		now:    time.Now,
	}
}

// Get retrieves an entry by signature.
// Returns ErrCacheMiss if the key doesn't exist or entry is expired.
func (t *RedisTier) Get(ctx context.Context, key string) (*Entry, error) {
	data, err := t.redis.Get(ctx, t.prefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCacheMiss
		}
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}

	if entry.IsExpired(t.now()) {
		_ = t.Delete(ctx, key)
		return nil, ErrCacheMiss
	}

	return &entry, nil
}

// Set stores an entry with a Redis TTL matching its expiry.
// Entries without expiry are stored without a Redis TTL.
func (t *RedisTier) Set(ctx context.Context, key string, entry *Entry) error {
	if entry == nil {
		return fmt.Errorf("cache entry cannot be nil")
	}

	var ttl time.Duration
	if entry.ExpiresAt != nil {
		ttl = entry.TTL(t.now())
		if ttl <= 0 {
			// Already expired, don't cache
			return nil
		}
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal cache entry: %w", err)
	}

	if err := t.redis.Set(ctx, t.prefix+key, data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}

	return nil
}

// Delete removes an entry.
func (t *RedisTier) Delete(ctx context.Context, key string) error {
	if err := t.redis.Del(ctx, t.prefix+key).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// DeleteEndpoint removes every entry for endpoint and the paths below it.
// The SCAN glob only narrows the candidates; each key's endpoint is checked
// against the segment boundary before it is deleted.
func (t *RedisTier) DeleteEndpoint(ctx context.Context, endpoint string) error {
	prefix := NormalizeEndpoint(endpoint)
	pattern := t.prefix + keyPrefix + ":*"
	if prefix != "" {
		pattern = t.prefix + keyPrefix + ":*:" + globEscape(prefix) + "*"
	}
	return t.deleteMatching(ctx, pattern, func(key string) bool {
		return endpointUnder(signatureEndpoint(strings.TrimPrefix(key, t.prefix)), prefix)
	})
}

// Clear removes every entry under the tier prefix.
func (t *RedisTier) Clear(ctx context.Context) error {
	return t.deleteMatching(ctx, t.prefix+"*", nil)
}

func (t *RedisTier) deleteMatching(ctx context.Context, pattern string, keep func(key string) bool) error {
	iter := t.redis.Scan(ctx, 0, pattern, 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		if keep == nil || keep(iter.Val()) {
			keys = append(keys, iter.Val())
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("redis scan: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := t.redis.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// signatureEndpoint extracts the endpoint from a signature of the form
// req:METHOD:endpoint:params.
func signatureEndpoint(sig string) string {
	rest, ok := strings.CutPrefix(sig, keyPrefix+":")
	if !ok {
		return ""
	}
	_, rest, ok = strings.Cut(rest, ":")
	if !ok {
		return ""
	}
	endpoint, _, _ := strings.Cut(rest, ":")
	return endpoint
}

// globEscape quotes the Redis glob metacharacters in s.
func globEscape(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

var _ Tier = (*RedisTier)(nil)
