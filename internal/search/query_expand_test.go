package search

import (
	"errors"
	"testing"

	"mediastream/discoveryservice/internal/domain"
)

func testPlanner(maxVariants int) *Planner {
	cfg := DefaultPlannerConfig()
	cfg.MaxVariants = maxVariants
	cfg.RegionSuffix = map[string]string{"jp": "映画"}
	return NewPlanner(cfg, NewTableConverter(map[rune]rune{'一': '壹', '剑': '劍'}))
}

func planFor(t *testing.T, p *Planner, request domain.SearchRequest) []domain.QueryVariant {
	t.Helper()
	normalized, err := p.Normalize(request)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	return p.Plan(normalized)
}

func TestPlanOriginalIsAlwaysFirst(t *testing.T) {
	variants := planFor(t, testPlanner(5), domain.SearchRequest{Query: "  天下第一  ", Kind: domain.KindTV})
	if len(variants) == 0 {
		t.Fatal("expected variants")
	}
	first := variants[0]
	if first.Index != 0 || first.Transform != domain.TransformOriginal || first.Text != "天下第一" {
		t.Fatalf("expected original query as variant 0, got %+v", first)
	}
	for i, variant := range variants {
		if variant.Index != i {
			t.Fatalf("expected dense indexes, got %+v", variants)
		}
	}
}

func TestPlanRespectsVariantCap(t *testing.T) {
	for _, limit := range []int{1, 2, 3} {
		variants := planFor(t, testPlanner(limit), domain.SearchRequest{
			Query:  "倚天屠龙记电视剧 (1994)",
			Kind:   domain.KindTV,
			Region: "jp",
			Expand: true,
		})
		if len(variants) > limit {
			t.Fatalf("cap %d: got %d variants: %+v", limit, len(variants), variants)
		}
		if variants[0].Transform != domain.TransformOriginal {
			t.Fatalf("cap %d: expected original first, got %+v", limit, variants[0])
		}
	}
}

func TestPlanExpandsShortHanTitle(t *testing.T) {
	variants := planFor(t, testPlanner(5), domain.SearchRequest{Query: "天下第一", Kind: domain.KindTV})
	want := []struct {
		transform domain.Transform
		text      string
	}{
		{domain.TransformOriginal, "天下第一"},
		{domain.TransformScript, "天下第壹"},
		{domain.TransformPhonetic, "tian xia di yi"},
	}
	if len(variants) != len(want) {
		t.Fatalf("expected %d variants, got %+v", len(want), variants)
	}
	for i, w := range want {
		if variants[i].Transform != w.transform || variants[i].Text != w.text {
			t.Fatalf("variant %d: expected %s %q, got %+v", i, w.transform, w.text, variants[i])
		}
	}
}

func TestPlanExpandsUntypedAndAllKinds(t *testing.T) {
	for _, kind := range []domain.MediaKind{"", domain.KindAll, domain.KindMovie, domain.KindTV} {
		variants := planFor(t, testPlanner(5), domain.SearchRequest{Query: "天下第一", Kind: kind})
		if len(variants) < 2 {
			t.Fatalf("kind %q: expected expansion, got %+v", kind, variants)
		}
	}
	for _, kind := range []domain.MediaKind{domain.KindMusic, domain.KindAnime} {
		variants := planFor(t, testPlanner(5), domain.SearchRequest{Query: "天下第一", Kind: kind, Expand: true})
		if len(variants) != 1 {
			t.Fatalf("kind %q: expected only the original, got %+v", kind, variants)
		}
	}
}

func TestPlanStripsYearAndSuffix(t *testing.T) {
	variants := planFor(t, testPlanner(6), domain.SearchRequest{Query: "笑傲江湖电视剧 (1996)", Kind: domain.KindTV})
	byTransform := make(map[domain.Transform]domain.QueryVariant)
	for _, variant := range variants {
		byTransform[variant.Transform] = variant
	}
	stripped, ok := byTransform[domain.TransformYearStripped]
	if !ok || stripped.Text != "笑傲江湖电视剧" || stripped.Year != 1996 {
		t.Fatalf("expected year stripped variant with year hint, got %+v", variants)
	}
	trimmed, ok := byTransform[domain.TransformSuffixRemoved]
	if !ok || trimmed.Text != "笑傲江湖" {
		t.Fatalf("expected suffix removed variant, got %+v", variants)
	}
}

func TestPlanAddsRegionSuffix(t *testing.T) {
	variants := planFor(t, testPlanner(5), domain.SearchRequest{Query: "Seven Samurai 1954", Kind: domain.KindMovie, Region: "JP"})
	last := variants[len(variants)-1]
	if last.Transform != domain.TransformSuffixAdded || last.Text != "Seven Samurai 映画" {
		t.Fatalf("expected region suffix variant, got %+v", variants)
	}
}

func TestPlanSkipsIneligibleRequests(t *testing.T) {
	cases := []domain.SearchRequest{
		{Query: "Inception", Kind: domain.KindMovie},
		{Query: "天下第一", Kind: domain.KindMusic},
		{Query: "Arrival 2016", Kind: domain.KindMovie},
	}
	for _, request := range cases {
		variants := planFor(t, testPlanner(5), request)
		if len(variants) != 1 {
			t.Fatalf("%q: expected only the original variant, got %+v", request.Query, variants)
		}
	}
}

func TestPlanDeduplicatesFoldedVariants(t *testing.T) {
	variants := planFor(t, testPlanner(5), domain.SearchRequest{Query: "Casablanca (1942)", Kind: domain.KindMovie, Expand: true})
	seen := make(map[string]bool)
	for _, variant := range variants {
		key := foldText(variant.Text)
		if seen[key] {
			t.Fatalf("duplicate variant %q in %+v", variant.Text, variants)
		}
		seen[key] = true
	}
}

func TestNormalizeValidation(t *testing.T) {
	long := make([]byte, maxQueryLength+1)
	for i := range long {
		long[i] = 'a'
	}
	cases := []struct {
		name    string
		request domain.SearchRequest
		field   string
	}{
		{"empty", domain.SearchRequest{Query: "   "}, "q"},
		{"too long", domain.SearchRequest{Query: string(long)}, "q"},
		{"kind", domain.SearchRequest{Query: "x", Kind: "podcast"}, "type"},
		{"limit", domain.SearchRequest{Query: "x", Limit: -1}, "limit"},
		{"offset", domain.SearchRequest{Query: "x", Offset: -1}, "offset"},
		{"year", domain.SearchRequest{Query: "x", Year: 1500}, "year"},
	}
	planner := testPlanner(5)
	for _, tc := range cases {
		_, err := planner.Normalize(tc.request)
		var validationErr *domain.ValidationError
		if !errors.As(err, &validationErr) {
			t.Fatalf("%s: expected validation error, got %v", tc.name, err)
		}
		if validationErr.Field != tc.field {
			t.Fatalf("%s: expected field %q, got %q", tc.name, tc.field, validationErr.Field)
		}
	}
}

func TestNormalizeDefaultsAndLimits(t *testing.T) {
	planner := testPlanner(5)
	request, err := planner.Normalize(domain.SearchRequest{Query: "x", Limit: 1000, Region: " US ", Sources: []string{"TMDB", "douban", "tmdb"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if request.Limit != maxSearchLimit || request.Kind != domain.KindAll || request.Region != "us" {
		t.Fatalf("unexpected normalized request: %+v", request)
	}
	if len(request.Sources) != 2 || request.Sources[0] != "douban" || request.Sources[1] != "tmdb" {
		t.Fatalf("expected sorted unique sources, got %v", request.Sources)
	}
}

func TestSplitTrailingYear(t *testing.T) {
	cases := []struct {
		in   string
		base string
		year int
	}{
		{"Heat (1995)", "Heat", 1995},
		{"Heat 1995", "Heat", 1995},
		{"盗梦空间（2010）", "盗梦空间", 2010},
		{"1917", "1917", 0},
		{"Title1994", "Title1994", 0},
	}
	for _, tc := range cases {
		base, year := splitTrailingYear(tc.in)
		if base != tc.base || year != tc.year {
			t.Errorf("splitTrailingYear(%q) = %q, %d; want %q, %d", tc.in, base, year, tc.base, tc.year)
		}
	}
}
