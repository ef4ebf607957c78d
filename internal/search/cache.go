package search

import (
	"encoding/binary"
	"hash/fnv"
	"math"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"
)

type cacheEntry struct {
	userID   string
	results  []Result
	storedAt time.Time
}

// resultCache is a TTL cache bounded to size entries; the oldest entry is
// evicted when full.
type resultCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	size    int
	now     func() time.Time
	entries map[string]cacheEntry
}

func newResultCache(ttl time.Duration, size int) *resultCache {
	return &resultCache{
		ttl:     ttl,
		size:    size,
		now:     time.Now,
		entries: make(map[string]cacheEntry),
	}
}

func (c *resultCache) get(key string) ([]Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if c.now().Sub(e.storedAt) > c.ttl {
		delete(c.entries, key)
		return nil, false
	}
	return slices.Clone(e.results), true
}

func (c *resultCache) put(key, userID string, results []Result) {
	if c.size <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.size {
		c.evictLocked(now)
	}
	c.entries[key] = cacheEntry{userID: userID, results: slices.Clone(results), storedAt: now}
}

// dropUser removes every entry cached for userID and returns how many.
func (c *resultCache) dropUser(userID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for k, e := range c.entries {
		if e.userID == userID {
			delete(c.entries, k)
			n++
		}
	}
	return n
}

// evictLocked drops expired entries, or the oldest one if none expired.
func (c *resultCache) evictLocked(now time.Time) {
	var oldestKey string
	var oldest time.Time
	expired := false
	for k, e := range c.entries {
		if now.Sub(e.storedAt) > c.ttl {
			delete(c.entries, k)
			expired = true
			continue
		}
		if oldestKey == "" || e.storedAt.Before(oldest) {
			oldestKey, oldest = k, e.storedAt
		}
	}
	if !expired && oldestKey != "" {
		delete(c.entries, oldestKey)
	}
}

func (c *resultCache) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// cacheKey identifies a query by user, a hash of the full embedding and the options.
func cacheKey(userID string, embedding []float32, opts Options) string {
	h := fnv.New64a()
	var buf [4]byte
	for _, f := range embedding {
		binary.LittleEndian.PutUint32(buf[:], math.Float32bits(f))
		_, _ = h.Write(buf[:])
	}

	docs := slices.Clone(opts.DocumentIDs)
	slices.Sort(docs)

	var sb strings.Builder
	sb.WriteString(userID)
	sb.WriteByte('|')
	sb.WriteString(strconv.FormatUint(h.Sum64(), 16))
	sb.WriteByte('|')
	sb.WriteString(strconv.Itoa(len(embedding)))
	sb.WriteByte('|')
	sb.WriteString(strconv.Itoa(opts.TopK))
	sb.WriteByte('|')
	sb.WriteString(strconv.FormatFloat(opts.SimilarityThreshold, 'g', -1, 64))
	sb.WriteByte('|')
	sb.WriteString(strings.Join(docs, ","))
	if opts.DisableRelaxation {
		sb.WriteString("|strict")
	}
	return sb.String()
}
