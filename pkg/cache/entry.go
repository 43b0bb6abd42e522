package cache

import (
	"time"
)

// Entry represents a cached response payload.
type Entry struct {
	// Data is the response body
	Data []byte `json:"data"`

	// StoredAt is when we cached this response
	StoredAt time.Time `json:"stored_at"`

	// ExpiresAt is when the entry becomes stale; nil never expires
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// newEntry builds an entry stored at now. A zero ttl means no expiry.
func newEntry(data []byte, now time.Time, ttl time.Duration) *Entry {
	e := &Entry{Data: data, StoredAt: now}
	if ttl > 0 {
		exp := now.Add(ttl)
		e.ExpiresAt = &exp
	}
	return e
}

// IsExpired returns true if the entry has expired at the given time.
func (e *Entry) IsExpired(now time.Time) bool {
	return e.ExpiresAt != nil && !now.Before(*e.ExpiresAt)
}

// TTL returns the time until expiration at the given time.
// Returns 0 if the entry never expires or has already expired.
func (e *Entry) TTL(now time.Time) time.Duration {
	if e.ExpiresAt == nil {
		return 0
	}
	ttl := e.ExpiresAt.Sub(now)
	if ttl < 0 {
		return 0
	}
	return ttl
}

// Size approximates the serialized size of the entry under key.
func (e *Entry) Size(key string) int {
	// payload + key + two timestamps
	return len(e.Data) + len(key) + 2*len(time.RFC3339Nano)
}
