package models

import (
	"time"

	"go.uber.org/atomic"
)

// Entry represents a cache entry.
type Entry[V any] struct {
	Data         V
	Timestamp    time.Time
	TTL          time.Duration
	Tags         []Tag
	AccessCount  *atomic.Int64
	LastAccessed *atomic.Time
}

// NewEntry creates a new Entry stored at now.
func NewEntry[V any](data V, now time.Time, ttl time.Duration, tags ...Tag) *Entry[V] {
	return &Entry[V]{
		Data:         data,
		Timestamp:    now,
		TTL:          ttl,
		Tags:         tags,
		AccessCount:  atomic.NewInt64(0),
		LastAccessed: atomic.NewTime(now),
	}
}

// IsExpired reports whether an entry written at timestamp with the given ttl is dead at now.
// An entry is live while now-timestamp <= ttl.
func IsExpired(timestamp time.Time, ttl time.Duration, now time.Time) bool {
	return now.Sub(timestamp) > ttl
}

// IsExpired checks if the entry has expired at now.
func (e *Entry[V]) IsExpired(now time.Time) bool {
	return IsExpired(e.Timestamp, e.TTL, now)
}

// ExpiresAt returns the last instant at which the entry is still live.
func (e *Entry[V]) ExpiresAt() time.Time {
	return e.Timestamp.Add(e.TTL)
}

// IncrementAccess increments the access count and updates the last access time.
func (e *Entry[V]) IncrementAccess(now time.Time) {
	e.AccessCount.Inc()
	e.LastAccessed.Store(now)
}

// HasTag reports whether the entry carries tag.
func (e *Entry[V]) HasTag(tag Tag) bool {
	for _, t := range e.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// WithData returns a copy of the entry holding data. Timestamp, ttl, tags and access
// stats are shared with the receiver.
func (e *Entry[V]) WithData(data V) *Entry[V] {
	return &Entry[V]{
		Data:         data,
		Timestamp:    e.Timestamp,
		TTL:          e.TTL,
		Tags:         e.Tags,
		AccessCount:  e.AccessCount,
		LastAccessed: e.LastAccessed,
	}
}
