package recurrence

import (
	"crypto/sha256"
	"fmt"
	"sort"
	"sync"
	"time"
)

// cacheEntry is one cached expansion result.
type cacheEntry struct {
	occurrences []time.Time
	expiresAt   time.Time
	accessedAt  time.Time
}

// Cache stores expansion results keyed by the full recurrence definition and
// query window. Entries expire after a TTL; when the entry count exceeds the
// limit the least recently accessed entries are evicted.
type Cache struct {
	entries         map[string]*cacheEntry
	mutex           sync.RWMutex
	ttl             time.Duration
	maxEntries      int
	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	closeOnce       sync.Once
}

// CacheConfig holds configuration for the expansion cache.
type CacheConfig struct {
	TTL             time.Duration
	MaxEntries      int
	CleanupInterval time.Duration
}

// DefaultCacheConfig provides sensible defaults.
var DefaultCacheConfig = CacheConfig{
	TTL:             15 * time.Minute,
	MaxEntries:      1000,
	CleanupInterval: 5 * time.Minute,
}

// NewCache creates a cache and starts its cleanup goroutine.
func NewCache(config CacheConfig) *Cache {
	c := &Cache{
		entries:         make(map[string]*cacheEntry),
		ttl:             config.TTL,
		maxEntries:      config.MaxEntries,
		cleanupInterval: config.CleanupInterval,
		stopCleanup:     make(chan struct{}),
	}
	go c.cleanupLoop()
	return c
}

// cacheKey hashes every input that affects the expansion result.
func cacheKey(rec *Recurrence, rangeStart, rangeEnd time.Time) string {
	hasher := sha256.New()

	writeTime := func(t time.Time) {
		hasher.Write([]byte(t.Format(time.RFC3339Nano)))
	}
	writeTime(rangeStart)
	writeTime(rangeEnd)
	writeTime(rec.DTStart)
	hasher.Write([]byte(rec.Duration.String()))
	if rec.Rule != nil {
		hasher.Write([]byte(rec.Rule.RRule))
		writeTime(rec.Rule.DTStart)
	}
	for _, ts := range [][]time.Time{rec.RDates, rec.ExDates, rec.CancelledIDs, rec.ExceptionIDs} {
		hasher.Write([]byte{0})
		for _, t := range ts {
			writeTime(t)
		}
	}

	return fmt.Sprintf("%x", hasher.Sum(nil))
}

// Get retrieves a cached result if present and not expired.
func (c *Cache) Get(rec *Recurrence, rangeStart, rangeEnd time.Time) ([]time.Time, bool) {
	key := cacheKey(rec, rangeStart, rangeEnd)

	c.mutex.RLock()
	entry, exists := c.entries[key]
	c.mutex.RUnlock()

	if !exists {
		return nil, false
	}

	now := time.Now()
	if now.After(entry.expiresAt) {
		c.mutex.Lock()
		delete(c.entries, key)
		c.mutex.Unlock()
		return nil, false
	}

	c.mutex.Lock()
	entry.accessedAt = now
	c.mutex.Unlock()

	return entry.occurrences, true
}

// Set stores an expansion result.
func (c *Cache) Set(rec *Recurrence, rangeStart, rangeEnd time.Time, occurrences []time.Time) {
	key := cacheKey(rec, rangeStart, rangeEnd)
	now := time.Now()

	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.entries[key] = &cacheEntry{
		occurrences: occurrences,
		expiresAt:   now.Add(c.ttl),
		accessedAt:  now,
	}
	if len(c.entries) > c.maxEntries {
		c.cleanup()
	}
}

// cleanup removes expired entries, then the oldest-accessed entries while
// still over the limit. Caller must hold the write lock.
func (c *Cache) cleanup() {
	now := time.Now()
	for key, entry := range c.entries {
		if now.After(entry.expiresAt) {
			delete(c.entries, key)
		}
	}

	if len(c.entries) <= c.maxEntries {
		return
	}

	type keyAccess struct {
		key        string
		accessedAt time.Time
	}
	byAge := make([]keyAccess, 0, len(c.entries))
	for key, entry := range c.entries {
		byAge = append(byAge, keyAccess{key, entry.accessedAt})
	}
	sort.Slice(byAge, func(i, j int) bool { return byAge[i].accessedAt.Before(byAge[j].accessedAt) })

	toRemove := len(c.entries) - c.maxEntries
	for i := 0; i < toRemove && i < len(byAge); i++ {
		delete(c.entries, byAge[i].key)
	}
}

// cleanupLoop runs periodic cleanup until Close.
func (c *Cache) cleanupLoop() {
	ticker := time.NewTicker(c.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.mutex.Lock()
			c.cleanup()
			c.mutex.Unlock()
		case <-c.stopCleanup:
			return
		}
	}
}

// Close stops the cleanup goroutine and clears the cache.
func (c *Cache) Close() {
	c.closeOnce.Do(func() { close(c.stopCleanup) })
	c.mutex.Lock()
	c.entries = make(map[string]*cacheEntry)
	c.mutex.Unlock()
}
