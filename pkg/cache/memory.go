package cache

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"emphealth-backend/pkg/logger"
	"emphealth-backend/pkg/metrics"
)

// MemoryCache implements an in-memory cache with TTL support and a size cap
type MemoryCache[K comparable, V any] struct {
	name    string
	mu      sync.RWMutex
	data    map[K]*cacheEntry[V]
	ttl     time.Duration
	maxSize int
	metrics *metrics.Metrics
	now     func() time.Time
}

type cacheEntry[V any] struct {
	value     V
	expiresAt time.Time
	createdAt time.Time
}

// NewMemoryCache creates a new in-memory cache. maxSize <= 0 means unbounded.
func NewMemoryCache[K comparable, V any](name string, defaultTTL time.Duration, maxSize int, m *metrics.Metrics) *MemoryCache[K, V] {
	return &MemoryCache[K, V]{
		name:    name,
		data:    make(map[K]*cacheEntry[V]),
		ttl:     defaultTTL,
		maxSize: maxSize,
		metrics: m,
		now:     time.Now,
	}
}

// Set stores a value with the default TTL
func (mc *MemoryCache[K, V]) Set(key K, value V) {
	mc.SetWithTTL(key, value, 0)
}

// SetWithTTL stores a value; a zero ttl uses the default
func (mc *MemoryCache[K, V]) SetWithTTL(key K, value V, ttl time.Duration) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	if ttl == 0 {
		ttl = mc.ttl
	}

	if _, exists := mc.data[key]; !exists && mc.maxSize > 0 && len(mc.data) >= mc.maxSize {
		mc.evictOldest()
	}

	now := mc.now()
	mc.data[key] = &cacheEntry[V]{
		value:     value,
		expiresAt: now.Add(ttl),
		createdAt: now,
	}
}

// Get retrieves a live value
func (mc *MemoryCache[K, V]) Get(key K) (V, bool) {
	mc.mu.RLock()
	entry, exists := mc.data[key]
	mc.mu.RUnlock()

	if !exists || !mc.now().Before(entry.expiresAt) {
		mc.metrics.RecordCacheLookup(mc.name, false)
		var zero V
		return zero, false
	}

	mc.metrics.RecordCacheLookup(mc.name, true)
	return entry.value, true
}

// Delete removes a value from the cache
func (mc *MemoryCache[K, V]) Delete(key K) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	delete(mc.data, key)
}

// Clear removes all entries from the cache
func (mc *MemoryCache[K, V]) Clear() {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.data = make(map[K]*cacheEntry[V])
}

// Size returns the current number of entries, expired ones included until cleanup
func (mc *MemoryCache[K, V]) Size() int {
	mc.mu.RLock()
	defer mc.mu.RUnlock()
	return len(mc.data)
}

// evictOldest removes the oldest entry. Caller holds the write lock.
func (mc *MemoryCache[K, V]) evictOldest() {
	var (
		oldestKey  K
		oldestTime time.Time
		found      bool
	)

	for key, entry := range mc.data {
		if !found || entry.createdAt.Before(oldestTime) {
			oldestKey = key
			oldestTime = entry.createdAt
			found = true
		}
	}

	if found {
		delete(mc.data, oldestKey)
	}
}

// CleanupExpired removes expired entries and returns how many were dropped
func (mc *MemoryCache[K, V]) CleanupExpired() int {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	now := mc.now()
	expired := 0
	for key, entry := range mc.data {
		if !now.Before(entry.expiresAt) {
			delete(mc.data, key)
			expired++
		}
	}

	if expired > 0 {
		logger.Debug("Expired cache entries cleaned up",
			zap.String("cache", mc.name),
			zap.Int("count", expired),
			zap.Int("remaining", len(mc.data)),
		)
	}
	return expired
}

// StartCleanup sweeps expired entries every interval until ctx is done
func (mc *MemoryCache[K, V]) StartCleanup(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				mc.CleanupExpired()
			case <-ctx.Done():
				return
			}
		}
	}()
}
