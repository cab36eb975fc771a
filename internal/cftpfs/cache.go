package cftpfs

import (
	"strings"
	"sync"
	"time"
)

const (
	// DefaultCacheTimeout is used when the caller doesn't supply one.
	DefaultCacheTimeout = 30 * time.Second
	minCacheTimeout     = 5 * time.Second
	maxCacheTimeout     = 300 * time.Second
)

// ClampCacheTimeout clamps d to [5s, 300s], substituting the default for
// a non-positive value, per spec.
func ClampCacheTimeout(d time.Duration) time.Duration {
	if d <= 0 {
		d = DefaultCacheTimeout
	}
	if d < minCacheTimeout {
		return minCacheTimeout
	}
	if d > maxCacheTimeout {
		return maxCacheTimeout
	}
	return d
}

type cacheEntry struct {
	items     []Item
	timestamp time.Time
}

// dirCache is a time-bounded map from directory path to parsed listing. A
// single mutex guards every read and mutation, matching spec §4.3: this is
// a correctness-first cache, not a throughput-first one.
type dirCache struct {
	mu      sync.Mutex
	timeout time.Duration
	// legacyPrefix reproduces the documented-but-over-broad source
	// behavior (raw byte-prefix match) instead of the corrected
	// whole-path-component match. Off by default; see SPEC_FULL.md's
	// REDESIGN FLAGS.
	legacyPrefix bool
	entries      map[string]*cacheEntry
	now          func() time.Time
}

func newDirCache(timeout time.Duration, legacyPrefix bool) *dirCache {
	return &dirCache{
		timeout:      ClampCacheTimeout(timeout),
		legacyPrefix: legacyPrefix,
		entries:      make(map[string]*cacheEntry),
		now:          time.Now,
	}
}

// get returns a copy of the cached items for path, and whether they were
// found and still fresh. A copy is returned because the lock is released
// before the caller can use the result - the live entry could be evicted
// by a concurrent put/invalidate the instant we unlock.
func (c *dirCache) get(path string) ([]Item, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[path]
	if !ok {
		return nil, false
	}
	if c.now().Sub(e.timestamp) > c.timeout {
		delete(c.entries, path)
		return nil, false
	}
	out := make([]Item, len(e.items))
	copy(out, e.items)
	return out, true
}

// put replaces any prior entry for path with a fresh copy of items,
// recording now() as its timestamp. The cache never aliases the caller's
// slice: it copies on the way in (get also copies on the way out), so the
// caller is free to keep using its own slice after the call returns.
func (c *dirCache) put(path string, items []Item) {
	c.mu.Lock()
	defer c.mu.Unlock()
	stored := make([]Item, len(items))
	copy(stored, items)
	c.entries[path] = &cacheEntry{items: stored, timestamp: c.now()}
}

// invalidate removes every entry whose key is prefix or a descendant of
// prefix. The default matches whole path components (so invalidating "/a"
// never touches "/ab"); legacyPrefix reproduces the raw byte-prefix match
// spec.md documents as the source's (sharp-edged) behavior.
func (c *dirCache) invalidate(prefix string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for path := range c.entries {
		if c.matches(path, prefix) {
			delete(c.entries, path)
		}
	}
}

func (c *dirCache) matches(path, prefix string) bool {
	if path == prefix {
		return true
	}
	if !strings.HasPrefix(path, prefix) {
		return false
	}
	if c.legacyPrefix {
		return true
	}
	if prefix == "/" {
		return true
	}
	return strings.HasPrefix(path[len(prefix):], "/")
}
