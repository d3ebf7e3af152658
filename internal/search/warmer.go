package search

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"mediastream/discoveryservice/internal/domain"
)

const (
	defaultWarmInterval        = 5 * time.Minute
	defaultWarmTopQueries      = 12
	defaultPopularMaxEntries   = 200
	maxConcurrentWarmRefreshes = 3
)

type searchWarmerConfig struct {
	warmInterval      time.Duration
	warmTopQueries    int
	popularMaxEntries int
}

type popularQuery struct {
	request  domain.SearchRequest
	sources  []string
	hits     int
	lastSeen time.Time
	lastWarm time.Time
}

type warmSpec struct {
	key     string
	request domain.SearchRequest
}

func defaultSearchWarmerConfig() searchWarmerConfig {
	return searchWarmerConfig{
		warmInterval:      defaultWarmInterval,
		warmTopQueries:    defaultWarmTopQueries,
		popularMaxEntries: defaultPopularMaxEntries,
	}
}

func (s *Service) runWarmer(ctx context.Context) {
	ticker := time.NewTicker(s.warmerCfg.warmInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runWarmCycle(ctx)
		}
	}
}

// runWarmCycle re-runs the hottest queries whose cache entries are gone.
func (s *Service) runWarmCycle(ctx context.Context) {
	specs := s.collectWarmSpecs(ctx, s.clock.Now())
	if len(specs) == 0 {
		return
	}

	sem := semaphore.NewWeighted(maxConcurrentWarmRefreshes)
	var wg sync.WaitGroup
	for _, spec := range specs {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		go func(spec warmSpec) {
			defer wg.Done()
			if err := sem.Acquire(ctx, 1); err != nil {
				return
			}
			defer sem.Release(1)

			refreshCtx, cancel := context.WithTimeout(ctx, s.timeout+2*time.Second)
			defer cancel()
			request := spec.request
			request.NoCache = true
			if _, err := s.Search(refreshCtx, request); err != nil {
				s.logger.Debug("cache warm failed", slog.String("query", request.Query), slog.String("error", err.Error()))
			}
		}(spec)
	}
	wg.Wait()
}

func (s *Service) collectWarmSpecs(ctx context.Context, now time.Time) []warmSpec {
	s.cacheMu.Lock()
	if len(s.popular) == 0 {
		s.cacheMu.Unlock()
		return nil
	}
	keys := make([]string, 0, len(s.popular))
	for key := range s.popular {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		left := s.popular[keys[i]]
		right := s.popular[keys[j]]
		if left.hits != right.hits {
			return left.hits > right.hits
		}
		return left.lastSeen.After(right.lastSeen)
	})
	limit := min(s.warmerCfg.warmTopQueries, len(keys))
	candidates := make([]warmSpec, 0, limit)
	for _, key := range keys[:limit] {
		pop := s.popular[key]
		if !pop.lastWarm.IsZero() && now.Sub(pop.lastWarm) < s.warmerCfg.warmInterval/2 {
			continue
		}
		candidates = append(candidates, warmSpec{key: key, request: pop.request})
	}
	s.cacheMu.Unlock()

	specs := make([]warmSpec, 0, len(candidates))
	for _, candidate := range candidates {
		if _, ok, err := s.cache.Get(ctx, candidate.key); err == nil && ok {
			continue
		}
		specs = append(specs, candidate)
	}

	s.cacheMu.Lock()
	for _, spec := range specs {
		if pop := s.popular[spec.key]; pop != nil {
			pop.lastWarm = now
		}
	}
	s.cacheMu.Unlock()
	return specs
}

// markPopular counts first-page requests so the warmer can keep them cached.
func (s *Service) markPopular(key string, request domain.SearchRequest, sources []string, now time.Time) {
	if request.Offset > 0 || request.NoCache {
		return
	}
	request.Sources = append([]string(nil), request.Sources...)

	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()

	pop, ok := s.popular[key]
	if !ok {
		s.popular[key] = &popularQuery{
			request:  request,
			sources:  append([]string(nil), sources...),
			hits:     1,
			lastSeen: now,
		}
	} else {
		pop.hits++
		pop.lastSeen = now
		pop.request = request
	}

	limit := s.warmerCfg.popularMaxEntries
	if limit <= 0 {
		limit = defaultPopularMaxEntries
	}
	if len(s.popular) <= limit {
		return
	}

	// Drop least popular + oldest query.
	type pair struct {
		key   string
		value *popularQuery
	}
	items := make([]pair, 0, len(s.popular))
	for popKey, value := range s.popular {
		items = append(items, pair{key: popKey, value: value})
	}
	sort.Slice(items, func(i, j int) bool {
		left := items[i].value
		right := items[j].value
		if left.hits != right.hits {
			return left.hits < right.hits
		}
		return left.lastSeen.Before(right.lastSeen)
	})
	for i := 0; i < len(items)-limit; i++ {
		delete(s.popular, items[i].key)
	}
}

// forgetPopularFor drops tracked queries that used source.
func (s *Service) forgetPopularFor(source string) {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	for key, pop := range s.popular {
		for _, name := range pop.sources {
			if name == source {
				delete(s.popular, key)
				break
			}
		}
	}
}
