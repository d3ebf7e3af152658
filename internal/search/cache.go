package search

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"mediastream/discoveryservice/internal/domain"
	"mediastream/discoveryservice/internal/metrics"
)

const (
	defaultInteractiveTTL  = 5 * time.Minute
	defaultChartTTL        = 30 * time.Minute
	defaultCacheMaxEntries = 400
)

// CacheEntry is one cached pipeline answer.
type CacheEntry struct {
	Key      string                         `json:"key"`
	Results  []domain.CanonicalResult       `json:"results"`
	Statuses map[string]domain.SourceStatus `json:"statuses"`
	Sources  []string                       `json:"sources"`
	Variants []domain.QueryVariant          `json:"variants,omitempty"`
	StoredAt time.Time                      `json:"stored_at"`
	TTL      time.Duration                  `json:"ttl"`
}

// Involves reports whether the entry was produced with or by source.
func (e CacheEntry) Involves(source string) bool {
	for _, name := range e.Sources {
		if name == source {
			return true
		}
	}
	for _, result := range e.Results {
		for _, p := range result.Provenance {
			if p.Source == source {
				return true
			}
		}
	}
	return false
}

func (e CacheEntry) involvedSources() []string {
	seen := make(map[string]struct{}, len(e.Sources))
	for _, name := range e.Sources {
		seen[name] = struct{}{}
	}
	for _, result := range e.Results {
		for _, p := range result.Provenance {
			seen[p.Source] = struct{}{}
		}
	}
	return sortedKeys(seen)
}

// ResultCache stores pipeline answers. Invalidate removes every entry whose
// requested sources or provenance include the source and returns how many.
type ResultCache interface {
	Get(ctx context.Context, key string) (CacheEntry, bool, error)
	Put(ctx context.Context, key string, entry CacheEntry, ttl time.Duration) error
	Invalidate(ctx context.Context, source string) (int, error)
	Stats(ctx context.Context) domain.CacheStats
}

type memoryEntry struct {
	entry     CacheEntry
	expiresAt time.Time
}

// MemoryCache is a bounded in-process ResultCache. Expired entries are
// dropped on read; the oldest entries are evicted when full.
type MemoryCache struct {
	maxEntries int
	clock      Clock

	mu    sync.Mutex
	items map[string]*memoryEntry
	stats domain.CacheStats
}

func NewMemoryCache(maxEntries int, clock Clock) *MemoryCache {
	if maxEntries <= 0 {
		maxEntries = defaultCacheMaxEntries
	}
	if clock == nil {
		clock = SystemClock()
	}
	return &MemoryCache{
		maxEntries: maxEntries,
		clock:      clock,
		items:      make(map[string]*memoryEntry),
		stats:      domain.CacheStats{Backend: "memory"},
	}
}

func (c *MemoryCache) Get(_ context.Context, key string) (CacheEntry, bool, error) {
	now := c.clock.Now()
	c.mu.Lock()
	defer c.mu.Unlock()

	item, ok := c.items[key]
	if ok && now.Before(item.expiresAt) {
		c.stats.Hits++
		metrics.CacheHitsTotal.Inc()
		return cloneEntry(item.entry), true, nil
	}
	if ok {
		delete(c.items, key)
		c.stats.Evictions++
	}
	c.stats.Misses++
	metrics.CacheMissesTotal.Inc()
	return CacheEntry{}, false, nil
}

func (c *MemoryCache) Put(_ context.Context, key string, entry CacheEntry, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = defaultInteractiveTTL
	}
	now := c.clock.Now()
	entry.Key = key
	entry.TTL = ttl
	if entry.StoredAt.IsZero() {
		entry.StoredAt = now
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[key] = &memoryEntry{entry: cloneEntry(entry), expiresAt: now.Add(ttl)}
	c.stats.Puts++
	c.trimLocked(now)
	return nil
}

func (c *MemoryCache) Invalidate(_ context.Context, source string) (int, error) {
	source = normalizeName(source)
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key, item := range c.items {
		if item.entry.Involves(source) {
			delete(c.items, key)
			removed++
		}
	}
	c.stats.Invalidations += int64(removed)
	if removed > 0 {
		metrics.CacheInvalidationsTotal.WithLabelValues(source).Add(float64(removed))
	}
	return removed, nil
}

func (c *MemoryCache) Stats(context.Context) domain.CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	stats := c.stats
	stats.Entries = len(c.items)
	return stats
}

func (c *MemoryCache) trimLocked(now time.Time) {
	for key, item := range c.items {
		if !now.Before(item.expiresAt) {
			delete(c.items, key)
			c.stats.Evictions++
		}
	}
	if len(c.items) <= c.maxEntries {
		return
	}

	type pair struct {
		key  string
		item *memoryEntry
	}
	items := make([]pair, 0, len(c.items))
	for key, item := range c.items {
		items = append(items, pair{key: key, item: item})
	}
	sort.Slice(items, func(i, j int) bool {
		return items[i].item.entry.StoredAt.Before(items[j].item.entry.StoredAt)
	})
	for i := 0; i < len(items)-c.maxEntries; i++ {
		delete(c.items, items[i].key)
		c.stats.Evictions++
	}
}

func cloneEntry(entry CacheEntry) CacheEntry {
	cloned := entry
	cloned.Results = append([]domain.CanonicalResult(nil), entry.Results...)
	cloned.Sources = append([]string(nil), entry.Sources...)
	cloned.Variants = append([]domain.QueryVariant(nil), entry.Variants...)
	if entry.Statuses != nil {
		cloned.Statuses = make(map[string]domain.SourceStatus, len(entry.Statuses))
		for name, status := range entry.Statuses {
			cloned.Statuses[name] = status
		}
	}
	return cloned
}

// buildCacheKey hashes everything that changes the pipeline answer.
func buildCacheKey(mode string, query string, kind domain.MediaKind, year int, region string, variants []domain.QueryVariant, sources []string) string {
	texts := make([]string, 0, len(variants))
	for _, variant := range variants {
		texts = append(texts, string(variant.Transform)+"="+foldText(variant.Text))
	}
	raw := strings.Join([]string{
		"m=" + mode,
		"q=" + foldText(query),
		"k=" + string(kind),
		"y=" + strconv.Itoa(year),
		"r=" + region,
		"v=" + strings.Join(texts, ","),
		"p=" + strings.Join(normalizeProviderNames(sources), ","),
	}, "|")
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// NoCache is the ResultCache used when caching is switched off. Every read
// misses and writes are dropped.
type NoCache struct{}

func (NoCache) Get(context.Context, string) (CacheEntry, bool, error) { return CacheEntry{}, false, nil }

func (NoCache) Put(context.Context, string, CacheEntry, time.Duration) error { return nil }

func (NoCache) Invalidate(context.Context, string) (int, error) { return 0, nil }

func (NoCache) Stats(context.Context) domain.CacheStats {
	return domain.CacheStats{Backend: "disabled"}
}
