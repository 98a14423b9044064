package query

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/datapulse/datapulse/internal/domain"
)

// cachedResult is immutable once stored; invalidation replaces, never
// mutates, so readers can never observe a partially written entry.
type cachedResult struct {
	result     domain.QueryResult
	computedAt time.Time
}

// resultCache is a TTL-bounded LRU keyed by normalized statement, bound
// parameters, and the version of the referenced source. Expiry is lazy: the
// expirable LRU checks entry age on access, no background sweep needed.
type resultCache struct {
	lru *expirable.LRU[string, cachedResult]
}

func newResultCache(size int, ttl time.Duration) *resultCache {
	return &resultCache{
		lru: expirable.NewLRU[string, cachedResult](size, nil, ttl),
	}
}

// cacheKey builds the dedupe key. The source segment carries the current
// version, so replacing a source orphans every key minted against the old
// content even before the explicit purge runs.
func cacheKey(sourceID, version, normalized string, params []any) (string, error) {
	encodedParams, err := json.Marshal(params)
	if err != nil {
		return "", fmt.Errorf("failed to encode params: %w", err)
	}
	if sourceID == "" {
		sourceID = "-"
	}
	return sourceID + "|" + version + "|" + normalized + "|" + string(encodedParams), nil
}

func (c *resultCache) get(key string) (domain.QueryResult, bool) {
	entry, ok := c.lru.Get(key)
	if !ok {
		return domain.QueryResult{}, false
	}
	return entry.result, true
}

func (c *resultCache) put(key string, result domain.QueryResult) {
	c.lru.Add(key, cachedResult{result: result, computedAt: time.Now()})
}

// invalidateSource drops every entry keyed to the source id.
func (c *resultCache) invalidateSource(id string) {
	prefix := id + "|"
	for _, key := range c.lru.Keys() {
		if strings.HasPrefix(key, prefix) {
			c.lru.Remove(key)
		}
	}
}

func (c *resultCache) len() int { return c.lru.Len() }
