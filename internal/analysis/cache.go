package analysis

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/scamshield/wa-gateway/internal/domain"
)

type cacheEntry struct {
	report    domain.Report
	createdAt time.Time
	expiresAt time.Time
}

type CacheConfig struct {
	TTL        time.Duration
	MaxEntries int
}

// ResultCache memoizes verdicts for repeated identical text submissions, so
// a forwarded chain message analyzed moments ago skips a backend round-trip.
type ResultCache struct {
	mu         sync.RWMutex
	entries    map[string]cacheEntry
	ttl        time.Duration
	maxEntries int
}

func NewResultCache(config CacheConfig) *ResultCache {
	if config.TTL <= 0 {
		config.TTL = 15 * time.Minute
	}
	if config.MaxEntries <= 0 {
		config.MaxEntries = 1000
	}
	return &ResultCache{
		entries:    make(map[string]cacheEntry),
		ttl:        config.TTL,
		maxEntries: config.MaxEntries,
	}
}

// Signature normalizes and hashes a submission for use as a cache key.
func (c *ResultCache) Signature(inputType, content string) string {
	normalized := inputType + "||" + strings.TrimSpace(strings.ToLower(content))
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

func (c *ResultCache) Get(signature string) (domain.Report, bool) {
	c.mu.RLock()
	entry, exists := c.entries[signature]
	c.mu.RUnlock()

	if !exists {
		return domain.Report{}, false
	}
	if time.Now().UTC().After(entry.expiresAt) {
		c.mu.Lock()
		delete(c.entries, signature)
		c.mu.Unlock()
		return domain.Report{}, false
	}
	return entry.report, true
}

func (c *ResultCache) Set(signature string, report domain.Report) {
	now := time.Now().UTC()

	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.entries) >= c.maxEntries {
		c.evictOldestLocked()
	}
	c.entries[signature] = cacheEntry{
		report:    report,
		createdAt: now,
		expiresAt: now.Add(c.ttl),
	}
}

func (c *ResultCache) evictOldestLocked() {
	if len(c.entries) == 0 {
		return
	}

	type pair struct {
		key       string
		createdAt time.Time
	}
	pairs := make([]pair, 0, len(c.entries))
	for key, entry := range c.entries {
		pairs = append(pairs, pair{key: key, createdAt: entry.createdAt})
	}
	sort.Slice(pairs, func(i, j int) bool {
		return pairs[i].createdAt.Before(pairs[j].createdAt)
	})
	delete(c.entries, pairs[0].key)
}
