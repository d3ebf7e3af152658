package search

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"mediastream/discoveryservice/internal/domain"
)

// maxConcurrentCalls is the process-wide ceiling on in-flight provider calls.
const maxConcurrentCalls = 32

// Provider is one external source. Search returns the undecoded items of one
// upstream call; Normalize maps a single raw item onto the common shape.
type Provider interface {
	Name() string
	Search(ctx context.Context, query domain.ProviderQuery) (domain.RawPage, error)
	Normalize(raw json.RawMessage) (domain.NormalizedItem, error)
}

// ExpansionMode decides when non-original variants are dispatched.
type ExpansionMode string

const (
	// ExpansionFallback sends variants beyond the original only to sources that found nothing.
	ExpansionFallback ExpansionMode = "fallback"
	// ExpansionEager sends every variant to every source at once.
	ExpansionEager ExpansionMode = "eager"
)

type Service struct {
	registry *Registry
	planner  *Planner
	merger   *Merger
	scorer   *Scorer
	health   *HealthTracker
	cache    ResultCache
	clock    Clock
	logger   *slog.Logger
	global   *semaphore.Weighted
	flights  singleflight.Group

	// generation counts provider changes; runs started before a change do
	// not write their results to the cache.
	generation atomic.Uint64

	retry          RetryConfig
	timeout        time.Duration
	callTimeout    time.Duration
	mode           ExpansionMode
	maxConcurrent  int64
	plannerCfg     PlannerConfig
	converter      ScriptConverter
	breakerCfg     BreakerConfig
	scoringCfg     ScoringConfig
	similarity     SimilarityFunc
	fieldPriority  map[string][]string
	interactiveTTL time.Duration
	chartTTL       time.Duration

	cacheMu   sync.Mutex
	popular   map[string]*popularQuery
	history   *queryHistory
	warmerCfg searchWarmerConfig
	warmerRun atomic.Bool
}

type ServiceOption func(*Service)

func WithLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithClock(clock Clock) ServiceOption {
	return func(s *Service) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithCache replaces the default in-memory result cache.
func WithCache(cache ResultCache) ServiceOption {
	return func(s *Service) {
		s.cache = cache
	}
}

func WithCacheTTL(interactive, chart time.Duration) ServiceOption {
	return func(s *Service) {
		if interactive > 0 {
			s.interactiveTTL = interactive
		}
		if chart > 0 {
			s.chartTTL = chart
		}
	}
}

func WithRetry(cfg RetryConfig) ServiceOption {
	return func(s *Service) {
		s.retry = cfg
	}
}

func WithBreaker(cfg BreakerConfig) ServiceOption {
	return func(s *Service) {
		s.breakerCfg = cfg
	}
}

// WithHealthTracker shares an existing tracker, mostly for tests with a fake clock.
func WithHealthTracker(tracker *HealthTracker) ServiceOption {
	return func(s *Service) {
		s.health = tracker
	}
}

// WithTimeouts sets the overall dispatch deadline and the per-attempt timeout.
func WithTimeouts(overall, perCall time.Duration) ServiceOption {
	return func(s *Service) {
		if overall > 0 {
			s.timeout = overall
		}
		if perCall > 0 {
			s.callTimeout = perCall
		}
	}
}

func WithMaxConcurrency(n int) ServiceOption {
	return func(s *Service) {
		if n > 0 {
			s.maxConcurrent = int64(n)
		}
	}
}

func WithExpansionMode(mode ExpansionMode) ServiceOption {
	return func(s *Service) {
		if mode == ExpansionEager || mode == ExpansionFallback {
			s.mode = mode
		}
	}
}

func WithPlanner(cfg PlannerConfig, converter ScriptConverter) ServiceOption {
	return func(s *Service) {
		s.plannerCfg = cfg
		s.converter = converter
	}
}

func WithScoring(cfg ScoringConfig) ServiceOption {
	return func(s *Service) {
		s.scoringCfg = cfg
	}
}

func WithSimilarity(fn SimilarityFunc) ServiceOption {
	return func(s *Service) {
		if fn != nil {
			s.similarity = fn
		}
	}
}

// WithFieldPriority sets, per merged field, the preferred source order.
func WithFieldPriority(priority map[string][]string) ServiceOption {
	return func(s *Service) {
		s.fieldPriority = priority
	}
}

func WithWarmer(interval time.Duration, topQueries int) ServiceOption {
	return func(s *Service) {
		if interval > 0 {
			s.warmerCfg.warmInterval = interval
		}
		if topQueries > 0 {
			s.warmerCfg.warmTopQueries = topQueries
		}
	}
}

func NewService(registry *Registry, opts ...ServiceOption) *Service {
	svc := &Service{
		registry:       registry,
		clock:          SystemClock(),
		logger:         slog.Default(),
		retry:          DefaultRetryConfig(),
		timeout:        10 * time.Second,
		callTimeout:    4 * time.Second,
		mode:           ExpansionFallback,
		maxConcurrent:  maxConcurrentCalls,
		plannerCfg:     DefaultPlannerConfig(),
		breakerCfg:     DefaultBreakerConfig(),
		scoringCfg:     DefaultScoringConfig(),
		similarity:     LevenshteinSimilarity,
		interactiveTTL: defaultInteractiveTTL,
		chartTTL:       defaultChartTTL,
		popular:        make(map[string]*popularQuery),
		history:        newQueryHistory(defaultHistoryEntries),
		warmerCfg:      defaultSearchWarmerConfig(),
	}
	for _, opt := range opts {
		opt(svc)
	}

	if svc.health == nil {
		svc.health = NewHealthTracker(svc.breakerCfg, svc.clock)
	}
	if svc.cache == nil {
		svc.cache = NewMemoryCache(defaultCacheMaxEntries, svc.clock)
	}
	svc.global = semaphore.NewWeighted(svc.maxConcurrent)
	svc.planner = NewPlanner(svc.plannerCfg, svc.converter)
	svc.merger = NewMerger(registry.Priority, svc.fieldPriority)
	svc.scorer = NewScorer(svc.scoringCfg, registry.Priority, svc.similarity, svc.clock)

	registry.OnChange(svc.onProvidersChanged)
	return svc
}

// onProvidersChanged drops cached answers involving the changed providers and
// forgets their health, so the new configuration starts clean.
func (s *Service) onProvidersChanged(changed []string) {
	s.generation.Add(1)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, name := range changed {
		s.health.Reset(name)
		s.forgetPopularFor(name)
		removed, err := s.cache.Invalidate(ctx, name)
		if err != nil {
			s.logger.Warn("cache invalidation failed", slog.String("provider", name), slog.String("error", err.Error()))
			continue
		}
		s.logger.Info("provider changed", slog.String("provider", name), slog.Int("invalidated", removed))
	}
}

func (s *Service) StartBackground(ctx context.Context) {
	if s.warmerRun.CompareAndSwap(false, true) {
		go s.runWarmer(ctx)
	}
}

func (s *Service) Registry() *Registry {
	return s.registry
}

func (s *Service) Providers() []domain.ProviderInfo {
	return s.registry.Infos()
}

func (s *Service) ProviderDiagnostics() []domain.ProviderDiagnostics {
	return s.health.Diagnostics(s.registry.Infos())
}

// ResetProviderHealth closes the circuit of one provider, or of all when name is empty.
func (s *Service) ResetProviderHealth(name string) error {
	if normalizeName(name) == "" {
		s.health.ResetAll()
		return nil
	}
	if _, ok := s.registry.entry(name); !ok {
		return unknownProviderError(name)
	}
	s.health.Reset(name)
	return nil
}

func (s *Service) CacheStats(ctx context.Context) domain.CacheStats {
	return s.cache.Stats(ctx)
}
