package search

import (
	"context"
	"sort"
	"strings"
	"sync"

	"mediastream/discoveryservice/internal/domain"
)

const (
	defaultHistoryEntries = 500
	defaultSuggestLimit   = 10
	maxSuggestLimit       = 50
	titlesPerSearch       = 5
)

type historyEntry struct {
	text string
	key  string
	hits int
	seq  uint64
}

// queryHistory remembers recent queries and top result titles for suggestions.
type queryHistory struct {
	maxEntries int

	mu      sync.Mutex
	seq     uint64
	entries map[string]*historyEntry
}

func newQueryHistory(maxEntries int) *queryHistory {
	return &queryHistory{maxEntries: maxEntries, entries: make(map[string]*historyEntry)}
}

func (h *queryHistory) record(query string, results []domain.CanonicalResult) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.addLocked(query)
	for i, result := range results {
		if i >= titlesPerSearch {
			break
		}
		h.addLocked(result.Title)
	}
	h.trimLocked()
}

func (h *queryHistory) addLocked(text string) {
	text = collapseSpaces(text)
	key := foldText(text)
	if key == "" {
		return
	}
	h.seq++
	if entry, ok := h.entries[key]; ok {
		entry.hits++
		entry.seq = h.seq
		return
	}
	h.entries[key] = &historyEntry{text: text, key: key, hits: 1, seq: h.seq}
}

func (h *queryHistory) trimLocked() {
	if len(h.entries) <= h.maxEntries {
		return
	}
	items := make([]*historyEntry, 0, len(h.entries))
	for _, entry := range h.entries {
		items = append(items, entry)
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].hits != items[j].hits {
			return items[i].hits < items[j].hits
		}
		return items[i].seq < items[j].seq
	})
	for i := 0; i < len(items)-h.maxEntries; i++ {
		delete(h.entries, items[i].key)
	}
}

// match returns entries whose folded text starts with prefix, then those that
// merely contain it; each group ordered by hits and recency.
func (h *queryHistory) match(prefix string, limit int) []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	var starts, contains []*historyEntry
	for _, entry := range h.entries {
		switch {
		case strings.HasPrefix(entry.key, prefix):
			starts = append(starts, entry)
		case strings.Contains(entry.key, prefix):
			contains = append(contains, entry)
		}
	}
	order := func(items []*historyEntry) {
		sort.Slice(items, func(i, j int) bool {
			if items[i].hits != items[j].hits {
				return items[i].hits > items[j].hits
			}
			if items[i].seq != items[j].seq {
				return items[i].seq > items[j].seq
			}
			return items[i].key < items[j].key
		})
	}
	order(starts)
	order(contains)

	out := make([]string, 0, limit)
	for _, entry := range append(starts, contains...) {
		if len(out) >= limit {
			break
		}
		out = append(out, entry.text)
	}
	return out
}

// Suggest completes a partial query from earlier searches and their top
// titles. It never dispatches to providers.
func (s *Service) Suggest(_ context.Context, query string, limit int) ([]string, error) {
	prefix := foldText(query)
	if prefix == "" {
		return nil, domain.NewValidationError("q", "query is required")
	}
	if len(query) > maxQueryLength {
		return nil, domain.NewValidationError("q", "query is too long")
	}
	if limit < 0 {
		return nil, domain.NewValidationError("limit", "limit must be >= 0")
	}
	if limit == 0 {
		limit = defaultSuggestLimit
	}
	limit = min(limit, maxSuggestLimit)
	return s.history.match(prefix, limit), nil
}
