// Package cache provides the response cache for Analyzer calls: a bounded
// in-process LRU, an optional shared SQLite tier, and the key scheme that
// makes entries safe to share between backends.
package cache

import (
	"fmt"
	"time"

	"github.com/cespare/xxhash/v2"
)

// Key identifies one cached Analyzer response. Keys hash the full prompt
// body, so two different prompts (or two different backends answering
// different prompts) can never collide on (repo, branch, class) alone.
type Key string

// NewKey derives the cache key for one Analyzer call.
func NewKey(repoURL, branch, promptClass, promptBody string) Key {
	h := xxhash.New()
	for _, part := range []string{repoURL, branch, promptClass, promptBody} {
		_, _ = h.WriteString(part)
		_, _ = h.Write([]byte{0})
	}
	return Key(fmt.Sprintf("%s|%s|%016x", promptClass, branch, h.Sum64()))
}

// Cache is the interface both tiers implement. Implementations must be
// safe for concurrent use; the engine shares one cache across branches.
type Cache interface {
	// Get returns the cached payload, or ok=false on miss or expiry.
	Get(key Key) (any, bool)
	// Set stores a payload with a TTL.
	Set(key Key, value any, ttl time.Duration)
	// Invalidate removes an entry immediately.
	Invalidate(key Key)
	// MarkDelivered tells the cache these entries reached the caller; the
	// cache may evict them on its own schedule.
	MarkDelivered(keys []Key)
}

// Tiered layers a process-local cache over an optional shared backend.
// Reads promote shared hits into the local tier; writes go to both.
type Tiered struct {
	local  Cache
	shared Cache // may be nil
}

// NewTiered wires the local tier over an optional shared one.
func NewTiered(local, shared Cache) *Tiered {
	return &Tiered{local: local, shared: shared}
}

func (t *Tiered) Get(key Key) (any, bool) {
	if value, ok := t.local.Get(key); ok {
		return value, true
	}
	if t.shared == nil {
		return nil, false
	}
	value, ok := t.shared.Get(key)
	return value, ok
}

// GetPromote is Get plus promotion of shared hits into the local tier.
func (t *Tiered) GetPromote(key Key, ttl time.Duration) (any, bool) {
	if value, ok := t.local.Get(key); ok {
		return value, true
	}
	if t.shared == nil {
		return nil, false
	}
	value, ok := t.shared.Get(key)
	if ok {
		t.local.Set(key, value, ttl)
	}
	return value, ok
}

func (t *Tiered) Set(key Key, value any, ttl time.Duration) {
	t.local.Set(key, value, ttl)
	if t.shared != nil {
		t.shared.Set(key, value, ttl)
	}
}

func (t *Tiered) Invalidate(key Key) {
	t.local.Invalidate(key)
	if t.shared != nil {
		t.shared.Invalidate(key)
	}
}

func (t *Tiered) MarkDelivered(keys []Key) {
	t.local.MarkDelivered(keys)
	if t.shared != nil {
		t.shared.MarkDelivered(keys)
	}
}
