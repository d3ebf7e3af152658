package search

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/mozillazg/go-unidecode"

	"mediastream/discoveryservice/internal/domain"
)

const (
	maxQueryLength      = 500
	defaultMaxVariants  = 5
	defaultOldTitleYear = 2000
	defaultShortTitle   = 6
	defaultSearchLimit  = 20
	maxSearchLimit      = 100
	minYear             = 1870
	maxYear             = 2100
)

var trailingYearPattern = regexp.MustCompile(`^(.*?)(?:\s+|[\s.,_-]*[(\[（])\s*((?:18[7-9]|19\d|20\d)\d)\s*[)\]）]?$`)

// PlannerConfig switches expansion rules and sets their thresholds.
type PlannerConfig struct {
	MaxVariants     int
	OldTitleYear    int
	ShortTitleRunes int
	StripYear       bool
	RemoveSuffixes  bool
	AddSuffix       bool
	Script          bool
	Phonetic        bool
	// Suffixes are regional qualifiers dropped from the end of a title.
	Suffixes []string
	// RegionSuffix is appended for requests in a region, e.g. "jp" -> "映画".
	RegionSuffix map[string]string
}

func DefaultPlannerConfig() PlannerConfig {
	return PlannerConfig{
		MaxVariants:     defaultMaxVariants,
		OldTitleYear:    defaultOldTitleYear,
		ShortTitleRunes: defaultShortTitle,
		StripYear:       true,
		RemoveSuffixes:  true,
		AddSuffix:       true,
		Script:          true,
		Phonetic:        true,
		Suffixes:        []string{"电视剧", "電視劇", "电影", "電影", "剧场版", "劇場版", "the movie", "tv series"},
	}
}

// Planner validates requests and expands the query into ordered variants.
type Planner struct {
	cfg    PlannerConfig
	script ScriptConverter
}

func NewPlanner(cfg PlannerConfig, converter ScriptConverter) *Planner {
	if cfg.MaxVariants <= 0 {
		cfg.MaxVariants = defaultMaxVariants
	}
	if cfg.ShortTitleRunes <= 0 {
		cfg.ShortTitleRunes = defaultShortTitle
	}
	if converter == nil {
		converter = DefaultScriptConverter()
	}
	return &Planner{cfg: cfg, script: converter}
}

// Normalize validates request and fills defaults.
func (p *Planner) Normalize(request domain.SearchRequest) (domain.SearchRequest, error) {
	request.Query = collapseSpaces(request.Query)
	if request.Query == "" {
		return request, domain.NewValidationError("q", "query is required")
	}
	if len(request.Query) > maxQueryLength {
		return request, domain.NewValidationError("q", "query exceeds "+strconv.Itoa(maxQueryLength)+" bytes")
	}
	kind, ok := domain.ParseMediaKind(string(request.Kind))
	if !ok {
		return request, domain.NewValidationError("type", "unknown media kind "+strconv.Quote(string(request.Kind)))
	}
	request.Kind = kind
	if request.Limit < 0 {
		return request, domain.NewValidationError("limit", "limit must be >= 0")
	}
	if request.Offset < 0 {
		return request, domain.NewValidationError("offset", "offset must be >= 0")
	}
	if request.Year != 0 && (request.Year < minYear || request.Year > maxYear) {
		return request, domain.NewValidationError("year", "year must be between 1870 and 2100")
	}
	if request.Limit == 0 {
		request.Limit = defaultSearchLimit
	}
	if request.Limit > maxSearchLimit {
		request.Limit = maxSearchLimit
	}
	request.Region = strings.ToLower(strings.TrimSpace(request.Region))
	request.Sources = normalizeProviderNames(request.Sources)
	return request, nil
}

// Plan returns the variants for a normalized request. Variant 0 is always
// the query as typed; the list is deduplicated by folded text and capped.
func (p *Planner) Plan(request domain.SearchRequest) []domain.QueryVariant {
	original := request.Query
	base, yearHint := splitTrailingYear(original)
	if request.Year != 0 {
		yearHint = request.Year
	}

	variants := make([]domain.QueryVariant, 0, p.cfg.MaxVariants)
	seen := make(map[string]struct{}, p.cfg.MaxVariants)
	add := func(text string, transform domain.Transform) {
		text = collapseSpaces(text)
		if text == "" || len(variants) >= p.cfg.MaxVariants {
			return
		}
		key := foldText(text)
		if key == "" {
			key = strings.ToLower(text)
		}
		if _, ok := seen[key]; ok {
			return
		}
		seen[key] = struct{}{}
		variants = append(variants, domain.QueryVariant{
			Index:     len(variants),
			Text:      text,
			Transform: transform,
			Year:      yearHint,
		})
	}

	add(original, domain.TransformOriginal)
	if !p.eligible(request, base, yearHint) {
		return variants
	}

	if p.cfg.StripYear && base != original {
		add(base, domain.TransformYearStripped)
	}
	if p.cfg.RemoveSuffixes {
		if trimmed, ok := trimSuffixes(base, p.cfg.Suffixes); ok {
			add(trimmed, domain.TransformSuffixRemoved)
			base = trimmed
		}
	}
	if p.cfg.Script {
		if converted, ok := p.script.Convert(base); ok {
			add(converted, domain.TransformScript)
		}
	}
	if p.cfg.Phonetic && !isASCII(base) {
		add(strings.ToLower(unidecode.Unidecode(base)), domain.TransformPhonetic)
	}
	if p.cfg.AddSuffix {
		if suffix := p.cfg.RegionSuffix[request.Region]; suffix != "" && !strings.HasSuffix(base, suffix) {
			add(base+" "+suffix, domain.TransformSuffixAdded)
		}
	}
	return variants
}

// eligible limits expansion to film/series searches that are flagged or look
// like regional or older titles.
func (p *Planner) eligible(request domain.SearchRequest, base string, yearHint int) bool {
	switch request.Kind {
	case domain.KindMovie, domain.KindTV, domain.KindAll, "":
	default:
		return false
	}
	if request.Expand {
		return true
	}
	if hasHan(base) && !hasLatin(base) && utf8.RuneCountInString(base) <= p.cfg.ShortTitleRunes {
		return true
	}
	return p.cfg.OldTitleYear > 0 && yearHint > 0 && yearHint < p.cfg.OldTitleYear
}

// splitTrailingYear separates "Title (1994)" or "Title 1994" into title and year.
func splitTrailingYear(query string) (string, int) {
	match := trailingYearPattern.FindStringSubmatch(query)
	if match == nil {
		return query, 0
	}
	title := strings.TrimSpace(match[1])
	if title == "" {
		return query, 0
	}
	year, err := strconv.Atoi(match[2])
	if err != nil || year < minYear || year > maxYear {
		return query, 0
	}
	return title, year
}

func trimSuffixes(title string, suffixes []string) (string, bool) {
	lower := strings.ToLower(title)
	for _, suffix := range suffixes {
		suffix = strings.ToLower(strings.TrimSpace(suffix))
		if suffix == "" || !strings.HasSuffix(lower, suffix) {
			continue
		}
		source := title
		if len(lower) != len(title) {
			source = lower
		}
		trimmed := strings.TrimSpace(source[:len(source)-len(suffix)])
		trimmed = strings.TrimRight(trimmed, " -:：")
		if trimmed != "" {
			return trimmed, true
		}
	}
	return title, false
}

func normalizeProviderNames(providerNames []string) []string {
	if len(providerNames) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(providerNames))
	names := make([]string, 0, len(providerNames))
	for _, raw := range providerNames {
		value := normalizeName(raw)
		if value == "" {
			continue
		}
		if _, ok := seen[value]; ok {
			continue
		}
		seen[value] = struct{}{}
		names = append(names, value)
	}
	sort.Strings(names)
	return names
}
