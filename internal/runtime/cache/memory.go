package cache

import (
	"context"
	"sync"
	"time"
)

type memoryCache struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.RWMutex
	entries map[string]Entry
}

// NewMemory returns a process-local cache. It is only correct for a single
// instance and exists for development and as a fallback.
func NewMemory(ttl time.Duration) ArtifactCache {
	return newMemory(ttl, time.Now)
}

func newMemory(ttl time.Duration, now func() time.Time) *memoryCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &memoryCache{ttl: ttl, now: now, entries: make(map[string]Entry)}
}

func (c *memoryCache) Lookup(_ context.Context, key string) (Entry, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if !ok {
		return Entry{}, false, nil
	}
	if !c.now().Before(entry.ExpiresAt) {
		delete(c.entries, key)
		return Entry{}, false, nil
	}
	return cloneEntry(entry), true, nil
}

func (c *memoryCache) Store(_ context.Context, key string, entry Entry) error {
	now := c.now()
	if entry.GeneratedAt.IsZero() {
		entry.GeneratedAt = now.UTC()
	}
	if entry.ExpiresAt.IsZero() {
		entry.ExpiresAt = now.Add(c.ttl)
	}
	if !now.Before(entry.ExpiresAt) {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cloneEntry(entry)
	return nil
}

func (c *memoryCache) Delete(_ context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, key := range keys {
		delete(c.entries, key)
	}
	return nil
}

func (c *memoryCache) Size(_ context.Context) (int64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return int64(len(c.entries)), nil
}

func (c *memoryCache) Close(_ context.Context) error {
	return nil
}

func cloneEntry(in Entry) Entry {
	out := in
	out.Body = append([]byte(nil), in.Body...)
	return out
}
