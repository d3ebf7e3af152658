package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"mediastream/discoveryservice/internal/domain"
	"mediastream/discoveryservice/internal/metrics"
	"mediastream/discoveryservice/internal/telemetry"
)

const (
	// Every search asks each source for the same window so one cached entry
	// serves every page.
	providerFetch     = 100
	defaultChartLimit = 50
	maxChartLimit     = 200
)

// pipelineInput is everything one pipeline run needs; it never changes during the run.
type pipelineInput struct {
	query         string
	kind          domain.MediaKind
	year          int
	region        string
	limit         int
	chart         bool
	variants      []domain.QueryVariant
	entries       []*registryEntry
	timeout       time.Duration
	correlationID string
	generation    uint64
}

type pipelineOutput struct {
	results   []domain.CanonicalResult
	statuses  map[string]domain.SourceStatus
	responded int
}

// Search runs the interactive pipeline. It fails only when the request is
// invalid or when none of the selected sources answered.
func (s *Service) Search(ctx context.Context, request domain.SearchRequest) (domain.SearchResponse, error) {
	startedAt := time.Now()
	request, err := s.planner.Normalize(request)
	if err != nil {
		return domain.SearchResponse{}, err
	}
	variants := s.planner.Plan(request)
	metrics.QueryVariants.Observe(float64(len(variants)))

	generation := s.generation.Load()
	entries, err := s.resolve(request.Sources, request.Kind, domain.CapabilitySearch)
	if err != nil {
		return domain.SearchResponse{}, err
	}
	names := entryNames(entries)

	in := pipelineInput{
		query:         request.Query,
		kind:          request.Kind,
		year:          request.Year,
		region:        request.Region,
		limit:         providerFetch,
		variants:      variants,
		entries:       entries,
		timeout:       request.Timeout,
		correlationID: request.CorrelationID,
		generation:    generation,
	}
	key := buildCacheKey("search:"+string(s.mode), request.Query, request.Kind, request.Year, request.Region, variants, names)

	entry, hit, err := s.lookupOrRun(ctx, key, in, request.NoCache, s.interactiveTTL)
	if err != nil {
		return domain.SearchResponse{}, err
	}
	s.markPopular(key, request, names, s.clock.Now())
	if !hit {
		s.history.record(request.Query, entry.Results)
	}

	response := buildSearchResponse(request, variants, entry)
	response.CacheHit = hit
	response.ElapsedMS = time.Since(startedAt).Milliseconds()
	s.logger.Info("search completed",
		slog.String("correlationId", request.CorrelationID),
		slog.String("query", request.Query),
		slog.Int("variants", len(variants)),
		slog.Int("results", response.Total),
		slog.Int("responded", response.Responded),
		slog.Int("attempted", response.Attempted),
		slog.Bool("cacheHit", hit),
	)
	return response, nil
}

// CollectChart runs the discovery pipeline with a single chart variant over
// the enabled chart providers.
func (s *Service) CollectChart(ctx context.Context, request domain.ChartRequest) (domain.ChartResult, error) {
	kind, ok := domain.ParseMediaKind(string(request.Kind))
	if !ok {
		return domain.ChartResult{}, domain.NewValidationError("type", "unknown media kind "+string(request.Kind))
	}
	if request.Limit < 0 {
		return domain.ChartResult{}, domain.NewValidationError("limit", "limit must be >= 0")
	}
	limit := request.Limit
	if limit == 0 {
		limit = defaultChartLimit
	}
	limit = min(limit, maxChartLimit)
	region := strings.ToLower(strings.TrimSpace(request.Region))

	generation := s.generation.Load()
	entries, err := s.resolve(normalizeProviderNames(request.Sources), kind, domain.CapabilityChart)
	if err != nil {
		return domain.ChartResult{}, err
	}
	names := entryNames(entries)
	variants := []domain.QueryVariant{{Index: 0, Transform: domain.TransformChart}}
	in := pipelineInput{
		kind:          kind,
		region:        region,
		limit:         limit,
		chart:         true,
		variants:      variants,
		entries:       entries,
		correlationID: request.CorrelationID,
		generation:    generation,
	}
	key := buildCacheKey("chart:"+strconv.Itoa(limit), "", kind, 0, region, variants, names)

	entry, hit, err := s.lookupOrRun(ctx, key, in, request.NoCache, s.chartTTL)
	if err != nil {
		return domain.ChartResult{}, err
	}
	results := entry.Results
	if len(results) > limit {
		results = results[:limit]
	}
	return domain.ChartResult{
		Results:         results,
		Dispatched:      names,
		PerSourceStatus: entry.Statuses,
		CacheHit:        hit,
	}, nil
}

// ChartSources lists every provider with the chart capability, disabled ones included.
func (s *Service) ChartSources() []domain.ChartSource {
	infos := s.registry.Infos()
	items := make([]domain.ChartSource, 0, len(infos))
	for _, info := range infos {
		chart := false
		for _, capability := range info.Capabilities {
			if capability == domain.CapabilityChart {
				chart = true
			}
		}
		if !chart {
			continue
		}
		items = append(items, domain.ChartSource{
			Name:     info.Name,
			Label:    info.Label,
			Type:     info.Type,
			Enabled:  info.Enabled,
			Kinds:    info.Kinds,
			Region:   info.Region,
			Priority: info.Priority,
			Error:    info.Error,
		})
	}
	return items
}

// lookupOrRun serves key from the cache or runs the pipeline. Concurrent
// misses for one key share a single run.
func (s *Service) lookupOrRun(ctx context.Context, key string, in pipelineInput, noCache bool, ttl time.Duration) (CacheEntry, bool, error) {
	if noCache {
		entry, err := s.runAndStore(ctx, key, in, ttl)
		return entry, false, err
	}

	cached, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		s.logger.Warn("cache read failed", slog.String("correlationId", in.correlationID), slog.String("error", err.Error()))
	} else if ok {
		return cached, true, nil
	}

	flightKey := key + "#" + strconv.FormatUint(in.generation, 10)
	ch := s.flights.DoChan(flightKey, func() (any, error) {
		return s.runAndStore(ctx, key, in, ttl)
	})
	select {
	case <-ctx.Done():
		return CacheEntry{}, false, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			// The leader's caller went away; run on our own context instead.
			if res.Shared && ctx.Err() == nil && (errors.Is(res.Err, context.Canceled) || errors.Is(res.Err, context.DeadlineExceeded)) {
				entry, err := s.runAndStore(ctx, key, in, ttl)
				return entry, false, err
			}
			return CacheEntry{}, false, res.Err
		}
		return res.Val.(CacheEntry), false, nil
	}
}

func (s *Service) runAndStore(ctx context.Context, key string, in pipelineInput, ttl time.Duration) (CacheEntry, error) {
	out := s.runPipeline(ctx, in)
	if err := ctx.Err(); err != nil {
		return CacheEntry{}, err
	}
	if out.responded == 0 {
		return CacheEntry{}, &domain.ExhaustedError{Statuses: out.statuses}
	}

	entry := CacheEntry{
		Key:      key,
		Results:  out.results,
		Statuses: out.statuses,
		Sources:  entryNames(in.entries),
		Variants: in.variants,
		StoredAt: s.clock.Now(),
		TTL:      ttl,
	}
	if s.generation.Load() != in.generation {
		s.logger.Debug("providers changed during run, result not cached", slog.String("correlationId", in.correlationID))
		return entry, nil
	}
	if err := s.cache.Put(context.WithoutCancel(ctx), key, entry, ttl); err != nil {
		s.logger.Warn("cache write failed", slog.String("correlationId", in.correlationID), slog.String("error", err.Error()))
	}
	return entry, nil
}

// runPipeline dispatches, normalizes, merges and scores. With fallback
// expansion the original variant goes to every source first and further
// variants only to the sources that found nothing.
func (s *Service) runPipeline(ctx context.Context, in pipelineInput) pipelineOutput {
	ctx, span := telemetry.Tracer().Start(ctx, "search.pipeline")
	defer span.End()
	span.SetAttributes(
		attribute.Int("variants", len(in.variants)),
		attribute.Int("sources", len(in.entries)),
		attribute.Bool("chart", in.chart),
	)

	timeout := in.timeout
	if timeout <= 0 {
		timeout = s.timeout
	}
	dispatchCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var results []domain.ProviderResult
	if s.mode == ExpansionEager || in.chart || len(in.variants) <= 1 {
		results = s.dispatch(dispatchCtx, buildCalls(in, in.variants, in.entries), in.correlationID)
	} else {
		results = s.dispatch(dispatchCtx, buildCalls(in, in.variants[:1], in.entries), in.correlationID)
		pending := noMatchEntries(results, in.entries)
		if len(pending) > 0 && dispatchCtx.Err() == nil {
			more := s.dispatch(dispatchCtx, buildCalls(in, in.variants[1:], pending), in.correlationID)
			results = append(results, more...)
		}
	}

	byName := make(map[string]*registryEntry, len(in.entries))
	for _, entry := range in.entries {
		byName[entry.name()] = entry
	}
	items := make([]domain.NormalizedItem, 0)
	counts := make(map[string]int, len(in.entries))
	for i := range results {
		entry := byName[results[i].Source]
		if entry == nil || entry.provider == nil {
			continue
		}
		normalized := s.normalizeResult(entry.provider, &results[i])
		counts[results[i].Source] += len(normalized)
		items = append(items, normalized...)
	}

	merged := s.merger.Merge(items)
	s.scorer.Score(in.query, merged)
	SortResults(merged)
	metrics.MergedResults.Observe(float64(len(merged)))

	statuses, responded := summarizeStatuses(in.entries, results, counts)
	span.SetAttributes(attribute.Int("results", len(merged)), attribute.Int("responded", responded))
	return pipelineOutput{results: merged, statuses: statuses, responded: responded}
}

func buildCalls(in pipelineInput, variants []domain.QueryVariant, entries []*registryEntry) []call {
	calls := make([]call, 0, len(variants)*len(entries))
	for _, variant := range variants {
		for _, entry := range entries {
			if !entry.cfg.Accepts(variant.Transform) {
				continue
			}
			year := in.year
			if year == 0 && variant.Transform == domain.TransformYearStripped {
				year = variant.Year
			}
			region := in.region
			if region == "" {
				region = entry.cfg.Region
			}
			calls = append(calls, call{
				entry: entry,
				query: domain.ProviderQuery{
					Variant: variant,
					Kind:    in.kind,
					Year:    year,
					Region:  region,
					Limit:   in.limit,
					Chart:   in.chart,
				},
			})
		}
	}
	return calls
}

// noMatchEntries returns the sources whose every call answered with no items.
func noMatchEntries(results []domain.ProviderResult, entries []*registryEntry) []*registryEntry {
	empty := make(map[string]bool, len(entries))
	for _, result := range results {
		current, seen := empty[result.Source]
		isEmpty := result.Outcome == domain.OutcomeNoMatch
		empty[result.Source] = isEmpty && (!seen || current)
	}
	pending := make([]*registryEntry, 0, len(entries))
	for _, entry := range entries {
		if empty[entry.name()] {
			pending = append(pending, entry)
		}
	}
	return pending
}

// summarizeStatuses folds call results into one status per source and counts
// the sources that answered (with or without matches).
func summarizeStatuses(entries []*registryEntry, results []domain.ProviderResult, counts map[string]int) (map[string]domain.SourceStatus, int) {
	type tally struct {
		status    domain.SourceStatus
		answered  bool
		transient domain.CallOutcome
		variants  map[int]struct{}
	}
	tallies := make(map[string]*tally, len(entries))
	for _, entry := range entries {
		tallies[entry.name()] = &tally{
			status:   domain.SourceStatus{Source: entry.name()},
			variants: make(map[int]struct{}),
		}
	}

	for _, result := range results {
		t := tallies[result.Source]
		if t == nil {
			continue
		}
		t.status.Calls++
		t.variants[result.Variant.Index] = struct{}{}
		t.status.LatencyMS = max(t.status.LatencyMS, result.Latency.Milliseconds())
		if result.StatusCode != 0 {
			t.status.StatusCode = result.StatusCode
		}
		t.status.ParseErrors += len(result.ParseErrors)
		if result.Err != nil && t.status.Error == "" {
			t.status.Error = result.Err.Error()
		}
		switch result.Outcome {
		case domain.OutcomeOK, domain.OutcomeNoMatch:
			t.answered = true
		case domain.OutcomeTimeout, domain.OutcomeCircuitOpen, domain.OutcomeDegraded, domain.OutcomeCancelled:
			if t.transient == "" {
				t.transient = result.Outcome
			}
		}
	}

	statuses := make(map[string]domain.SourceStatus, len(tallies))
	responded := 0
	for name, t := range tallies {
		status := t.status
		status.Items = counts[name]
		for index := range t.variants {
			status.Variants = append(status.Variants, index)
		}
		sort.Ints(status.Variants)
		switch {
		case status.Items > 0:
			status.State = domain.SourceOK
		case t.answered:
			status.State = domain.SourceNoMatch
			status.Reason = "no results"
		case t.transient != "":
			status.State = domain.SourceDegraded
			status.Reason = string(t.transient)
		default:
			status.State = domain.SourceError
			status.Reason = "provider error"
		}
		if status.State.Responded() {
			responded++
			if status.State == domain.SourceOK {
				status.Error = ""
			}
		}
		statuses[name] = status
	}
	return statuses, responded
}

func (s *Service) resolve(names []string, kind domain.MediaKind, capability domain.Capability) ([]*registryEntry, error) {
	if len(names) == 0 {
		selected := make([]*registryEntry, 0)
		for _, entry := range s.registry.sortedEntries() {
			if entry.usable() && entry.cfg.Has(capability) && entry.cfg.Supports(kind) {
				selected = append(selected, entry)
			}
		}
		if len(selected) == 0 {
			return nil, domain.ErrNoProviders
		}
		return selected, nil
	}

	selected := make([]*registryEntry, 0, len(names))
	for _, name := range names {
		entry, ok := s.registry.entry(name)
		if !ok {
			return nil, domain.NewValidationError("sources", "unknown source "+name)
		}
		if !entry.usable() || !entry.cfg.Has(capability) || !entry.cfg.Supports(kind) {
			continue
		}
		selected = append(selected, entry)
	}
	if len(selected) == 0 {
		return nil, domain.ErrNoProviders
	}
	return selected, nil
}

func buildSearchResponse(request domain.SearchRequest, variants []domain.QueryVariant, entry CacheEntry) domain.SearchResponse {
	total := len(entry.Results)
	start := min(request.Offset, total)
	end := min(start+request.Limit, total)
	page := make([]domain.CanonicalResult, 0, end-start)
	page = append(page, entry.Results[start:end]...)

	responded := 0
	for _, status := range entry.Statuses {
		if status.State.Responded() {
			responded++
		}
	}
	return domain.SearchResponse{
		Query:           request.Query,
		Kind:            request.Kind,
		CorrelationID:   request.CorrelationID,
		Variants:        variants,
		Results:         page,
		Total:           total,
		Limit:           request.Limit,
		Offset:          request.Offset,
		HasMore:         end < total,
		PerSourceStatus: entry.Statuses,
		Responded:       responded,
		Attempted:       len(entry.Statuses),
	}
}

func entryNames(entries []*registryEntry) []string {
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		names = append(names, entry.name())
	}
	return names
}

func unknownProviderError(name string) error {
	return fmt.Errorf("%w: %s", domain.ErrUnknownProvider, normalizeName(name))
}
