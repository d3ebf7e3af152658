package domain

import (
	"encoding/json"
	"sort"
	"strings"
	"time"
)

type MediaKind string

const (
	KindAll   MediaKind = "all"
	KindMovie MediaKind = "movie"
	KindTV    MediaKind = "tv"
	KindAnime MediaKind = "anime"
	KindMusic MediaKind = "music"
)

// ParseMediaKind maps user input onto a known kind. Empty input means "all".
func ParseMediaKind(raw string) (MediaKind, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "all", "any":
		return KindAll, true
	case "movie", "movies", "film":
		return KindMovie, true
	case "tv", "series", "show":
		return KindTV, true
	case "anime":
		return KindAnime, true
	case "music", "song", "track":
		return KindMusic, true
	default:
		return "", false
	}
}

// Compatible reports whether two kinds may describe the same work.
// Unknown and "all" match anything.
func (k MediaKind) Compatible(other MediaKind) bool {
	if k == "" || other == "" || k == KindAll || other == KindAll {
		return true
	}
	return k == other
}

type Transform string

const (
	TransformOriginal      Transform = "original"
	TransformYearStripped  Transform = "year_stripped"
	TransformSuffixRemoved Transform = "suffix_removed"
	TransformSuffixAdded   Transform = "suffix_added"
	TransformScript        Transform = "script"
	TransformPhonetic      Transform = "phonetic"
	TransformChart         Transform = "chart"
)

type SearchRequest struct {
	Query         string
	Kind          MediaKind
	Year          int
	Region        string
	Sources       []string
	Limit         int
	Offset        int
	CorrelationID string
	Expand        bool
	NoCache       bool
	Timeout       time.Duration
}

type QueryVariant struct {
	Index     int       `json:"index"`
	Text      string    `json:"text"`
	Transform Transform `json:"transform"`
	Year      int       `json:"year,omitempty"`
}

// ProviderQuery is what an adapter receives for one (variant, adapter) pair.
type ProviderQuery struct {
	Variant QueryVariant
	Kind    MediaKind
	Year    int
	Region  string
	Limit   int
	Chart   bool
}

// Text returns the query text the adapter should send upstream.
func (q ProviderQuery) Text() string {
	return q.Variant.Text
}

// RawPage is the undecoded answer of one adapter call.
type RawPage struct {
	StatusCode int
	Bytes      int
	Items      []json.RawMessage
}

type CallOutcome string

const (
	OutcomeOK          CallOutcome = "ok"
	OutcomeNoMatch     CallOutcome = "no_match"
	OutcomeError       CallOutcome = "error"
	OutcomeDegraded    CallOutcome = "degraded"
	OutcomeTimeout     CallOutcome = "timeout"
	OutcomeCircuitOpen CallOutcome = "circuit_open"
	OutcomeCancelled   CallOutcome = "cancelled"
)

type ParseError struct {
	Index   int    `json:"index"`
	Message string `json:"message"`
}

type ProviderResult struct {
	Source      string
	Variant     QueryVariant
	StatusCode  int
	Bytes       int
	Latency     time.Duration
	Attempts    int
	Items       []json.RawMessage
	Outcome     CallOutcome
	Err         *ProviderError
	ParseErrors []ParseError
}

type Provenance struct {
	Source       string    `json:"source"`
	VariantIndex int       `json:"variant_index"`
	Transform    Transform `json:"transform"`
	Query        string    `json:"query,omitempty"`
	ExternalID   string    `json:"external_id,omitempty"`
	Rank         int       `json:"rank,omitempty"`
}

type NormalizedItem struct {
	Source      string            `json:"source"`
	ExternalID  string            `json:"external_id,omitempty"`
	Title       string            `json:"title"`
	AltTitles   []string          `json:"alt_titles,omitempty"`
	Kind        MediaKind         `json:"kind,omitempty"`
	Year        int               `json:"year,omitempty"`
	ExternalIDs map[string]string `json:"external_ids,omitempty"`
	Overview    string            `json:"overview,omitempty"`
	Poster      string            `json:"poster,omitempty"`
	Rating      float64           `json:"rating,omitempty"`
	Runtime     int               `json:"runtime,omitempty"`
	Artists     []string          `json:"artists,omitempty"`
	Region      string            `json:"region,omitempty"`
	Rank        int               `json:"rank,omitempty"`
	Quality     string            `json:"quality,omitempty"`
	SizeBytes   int64             `json:"size_bytes,omitempty"`
	Seeders     int               `json:"seeders,omitempty"`
	URL         string            `json:"url,omitempty"`
	PublishedAt *time.Time        `json:"published_at,omitempty"`
	Confidence  float64           `json:"confidence"`
	Provenance  []Provenance      `json:"provenance"`
}

type ScoreBreakdown struct {
	Confidence   float64 `json:"confidence"`
	Freshness    float64 `json:"freshness"`
	Similarity   float64 `json:"similarity"`
	Completeness float64 `json:"completeness"`
}

type CanonicalResult struct {
	ID               string              `json:"id"`
	Title            string              `json:"title"`
	AltTitles        []string            `json:"alt_titles,omitempty"`
	Kind             MediaKind           `json:"kind,omitempty"`
	Year             int                 `json:"year,omitempty"`
	ExternalIDs      map[string]string   `json:"external_ids,omitempty"`
	Overview         string              `json:"overview,omitempty"`
	Poster           string              `json:"poster,omitempty"`
	Rating           float64             `json:"rating,omitempty"`
	Runtime          int                 `json:"runtime,omitempty"`
	Artists          []string            `json:"artists,omitempty"`
	URL              string              `json:"url,omitempty"`
	Rank             int                 `json:"rank,omitempty"`
	PublishedAt      *time.Time          `json:"published_at,omitempty"`
	PrimarySource    string              `json:"primary_source"`
	Provenance       []Provenance        `json:"provenance"`
	SourceConfidence map[string]float64  `json:"source_confidence,omitempty"`
	Alternatives     map[string][]string `json:"alternatives,omitempty"`
	Score            float64             `json:"score"`
	ScoreBreakdown   ScoreBreakdown      `json:"score_breakdown"`
	Items            []NormalizedItem    `json:"items"`
}

// Sources returns the distinct provenance sources in sorted order.
func (r CanonicalResult) Sources() []string {
	seen := make(map[string]struct{}, len(r.Provenance))
	out := make([]string, 0, len(r.Provenance))
	for _, p := range r.Provenance {
		if _, ok := seen[p.Source]; ok {
			continue
		}
		seen[p.Source] = struct{}{}
		out = append(out, p.Source)
	}
	sort.Strings(out)
	return out
}

type SourceState string

const (
	SourceOK       SourceState = "ok"
	SourceNoMatch  SourceState = "no_match"
	SourceDegraded SourceState = "degraded"
	SourceError    SourceState = "error"
)

// Responded reports whether the source produced a usable answer (even an empty one).
func (s SourceState) Responded() bool {
	return s == SourceOK || s == SourceNoMatch
}

type SourceStatus struct {
	Source      string      `json:"source"`
	State       SourceState `json:"state"`
	Reason      string      `json:"reason,omitempty"`
	Calls       int         `json:"calls"`
	Items       int         `json:"items"`
	Variants    []int       `json:"variants,omitempty"`
	LatencyMS   int64       `json:"latency_ms"`
	StatusCode  int         `json:"status_code,omitempty"`
	Error       string      `json:"error,omitempty"`
	ParseErrors int         `json:"parse_errors,omitempty"`
}

type SearchResponse struct {
	Query           string                  `json:"query"`
	Kind            MediaKind               `json:"kind"`
	CorrelationID   string                  `json:"correlation_id,omitempty"`
	Variants        []QueryVariant          `json:"variants"`
	Results         []CanonicalResult       `json:"results"`
	Total           int                     `json:"total"`
	Limit           int                     `json:"limit"`
	Offset          int                     `json:"offset"`
	HasMore         bool                    `json:"has_more"`
	PerSourceStatus map[string]SourceStatus `json:"per_source_status"`
	Responded       int                     `json:"responded"`
	Attempted       int                     `json:"attempted"`
	CacheHit        bool                    `json:"cache_hit"`
	ElapsedMS       int64                   `json:"elapsed_ms"`
}
