package search

import (
	"math"
	"sort"
	"strings"
	"time"

	"mediastream/discoveryservice/internal/domain"
)

// SimilarityFunc rates how close a candidate title is to the query, in [0,1].
type SimilarityFunc func(query, candidate string) float64

type ScoreWeights struct {
	Confidence   float64 `yaml:"confidence"`
	Freshness    float64 `yaml:"freshness"`
	Similarity   float64 `yaml:"similarity"`
	Completeness float64 `yaml:"completeness"`
}

type ScoringConfig struct {
	Weights           ScoreWeights
	FreshnessHalfLife time.Duration
}

func DefaultScoringConfig() ScoringConfig {
	return ScoringConfig{
		Weights: ScoreWeights{
			Confidence:   1.0,
			Freshness:    0.3,
			Similarity:   1.5,
			Completeness: 0.5,
		},
		FreshnessHalfLife: 30 * 24 * time.Hour,
	}
}

type Scorer struct {
	cfg        ScoringConfig
	priority   func(string) float64
	similarity SimilarityFunc
	clock      Clock
}

func NewScorer(cfg ScoringConfig, priority func(string) float64, similarity SimilarityFunc, clock Clock) *Scorer {
	if priority == nil {
		priority = func(string) float64 { return defaultProviderPriority }
	}
	if similarity == nil {
		similarity = LevenshteinSimilarity
	}
	if clock == nil {
		clock = SystemClock()
	}
	if cfg.FreshnessHalfLife <= 0 {
		cfg.FreshnessHalfLife = DefaultScoringConfig().FreshnessHalfLife
	}
	return &Scorer{cfg: cfg, priority: priority, similarity: similarity, clock: clock}
}

// Score fills Score and ScoreBreakdown of every result against the original query.
func (s *Scorer) Score(query string, results []domain.CanonicalResult) {
	now := s.clock.Now()
	for i := range results {
		breakdown := domain.ScoreBreakdown{
			Confidence:   s.confidence(results[i]),
			Freshness:    s.freshness(results[i], now),
			Similarity:   s.bestSimilarity(query, results[i]),
			Completeness: completeness(results[i]),
		}
		w := s.cfg.Weights
		results[i].ScoreBreakdown = breakdown
		results[i].Score = roundScore(w.Confidence*breakdown.Confidence +
			w.Freshness*breakdown.Freshness +
			w.Similarity*breakdown.Similarity +
			w.Completeness*breakdown.Completeness)
	}
}

// confidence sums confidence times priority over sources in name order so
// the float sum does not depend on map iteration.
func (s *Scorer) confidence(result domain.CanonicalResult) float64 {
	total := 0.0
	for _, source := range sortedKeys(result.SourceConfidence) {
		total += result.SourceConfidence[source] * s.priority(source)
	}
	return total
}

func (s *Scorer) freshness(result domain.CanonicalResult, now time.Time) float64 {
	if result.PublishedAt == nil {
		return 0
	}
	age := now.Sub(*result.PublishedAt)
	if age <= 0 {
		return 1
	}
	return math.Pow(0.5, age.Hours()/s.cfg.FreshnessHalfLife.Hours())
}

func (s *Scorer) bestSimilarity(query string, result domain.CanonicalResult) float64 {
	if strings.TrimSpace(query) == "" {
		return 0
	}
	best := 0.0
	for _, title := range append([]string{result.Title}, result.AltTitles...) {
		for _, key := range append([]string{title}, titleKeys(title)...) {
			if value := s.similarity(query, key); value > best {
				best = value
			}
		}
	}
	return clampFloat(best, 0, 1)
}

// completeness rewards filled metadata and corroboration by several sources.
func completeness(result domain.CanonicalResult) float64 {
	filled := 0
	for _, ok := range []bool{result.Poster != "", result.Rating > 0, result.Overview != "", result.Year != 0} {
		if ok {
			filled++
		}
	}
	sources := len(result.Sources())
	corroboration := math.Min(1, float64(max(sources-1, 0))/2)
	return 0.5*float64(filled)/4 + 0.5*corroboration
}

// roundScore drops float noise below 1e-9 so equal scores compare equal.
func roundScore(v float64) float64 {
	return math.Round(v*1e9) / 1e9
}

// SortResults orders by score, then provenance count, then title and ID.
func SortResults(results []domain.CanonicalResult) {
	sort.SliceStable(results, func(i, j int) bool {
		left, right := results[i], results[j]
		if cmp := compareFloat64(left.Score, right.Score); cmp != 0 {
			return cmp > 0
		}
		if len(left.Provenance) != len(right.Provenance) {
			return len(left.Provenance) > len(right.Provenance)
		}
		if lt, rt := foldText(left.Title), foldText(right.Title); lt != rt {
			return lt < rt
		}
		if left.Title != right.Title {
			return left.Title < right.Title
		}
		return left.ID < right.ID
	})
}
