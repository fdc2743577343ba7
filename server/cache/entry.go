// Package cache implements the filesystem-backed caching framework: TTL
// entries, an advisory file lock, and a generic two-tier store with
// stale-while-revalidate semantics.
package cache

import (
	"time"
)

// DefaultStaleThreshold is the window before expiry in which an entry is
// considered stale and worth refreshing in the background.
const DefaultStaleThreshold = 30 * time.Minute

// Entry is a single cached value with its creation time and TTL. The JSON
// shape is the persisted cache file format: epoch-second floats and an
// integer TTL in seconds.
type Entry[T any] struct {
	Data      T       `json:"data"`
	Timestamp float64 `json:"timestamp"`
	TTL       int64   `json:"ttl"`
	ExpiresAt float64 `json:"expires_at"`
}

// NewEntry creates an entry stamped with the current time.
// Invariant: ExpiresAt == Timestamp + TTL.
func NewEntry[T any](data T, ttl time.Duration) *Entry[T] {
	now := epochSeconds(time.Now())
	seconds := int64(ttl / time.Second)
	return &Entry[T]{
		Data:      data,
		Timestamp: now,
		TTL:       seconds,
		ExpiresAt: now + float64(seconds),
	}
}

// IsExpired reports whether the entry has outlived its TTL. The boundary
// is strict: an entry exactly at age == TTL is still valid.
func (e *Entry[T]) IsExpired() bool {
	return epochSeconds(time.Now()) > e.ExpiresAt
}

// IsStale reports whether the entry is old enough to warrant a background
// refresh. With a short TTL (ttl < threshold) an entry is stale
// immediately.
func (e *Entry[T]) IsStale(threshold time.Duration) bool {
	age := epochSeconds(time.Now()) - e.Timestamp
	return age > float64(e.TTL)-threshold.Seconds()
}

// Age returns the time elapsed since the entry was created.
func (e *Entry[T]) Age() time.Duration {
	return time.Duration((epochSeconds(time.Now()) - e.Timestamp) * float64(time.Second))
}

func epochSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}
