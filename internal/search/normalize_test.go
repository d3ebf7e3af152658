package search

import (
	"encoding/json"
	"reflect"
	"strings"
	"testing"
	"time"

	"mediastream/discoveryservice/internal/domain"
)

func TestNormalizeResultSkipsBadItems(t *testing.T) {
	svc := newTestService(t, nil, []domain.ProviderConfig{})
	provider := staticProvider("tmdb")
	good, _ := json.Marshal(fakeItem{ID: "1", Title: " Heat ", Kind: "movie", Year: 1995})
	untitled, _ := json.Marshal(fakeItem{ID: "2", Title: "   "})
	broken, _ := json.Marshal(fakeItem{ID: "3", Title: "Panic", Broken: true})

	result := &domain.ProviderResult{
		Source:  "tmdb",
		Variant: domain.QueryVariant{Index: 1, Text: "heat", Transform: domain.TransformYearStripped},
		Items:   []json.RawMessage{good, json.RawMessage(`{"id":`), untitled, broken},
	}
	items := svc.normalizeResult(provider, result)

	if len(items) != 1 {
		t.Fatalf("expected 1 valid item, got %d", len(items))
	}
	item := items[0]
	if item.Title != "Heat" || item.Source != "tmdb" || item.ExternalIDs["tmdb"] != "1" {
		t.Fatalf("unexpected item: %+v", item)
	}
	want := []domain.Provenance{{Source: "tmdb", VariantIndex: 1, Transform: domain.TransformYearStripped, Query: "heat", ExternalID: "1", Rank: 1}}
	if !reflect.DeepEqual(item.Provenance, want) {
		t.Fatalf("expected provenance %+v, got %+v", want, item.Provenance)
	}

	if len(result.ParseErrors) != 3 {
		t.Fatalf("expected 3 parse errors, got %+v", result.ParseErrors)
	}
	if result.ParseErrors[0].Index != 1 || result.ParseErrors[2].Index != 3 {
		t.Fatalf("expected parse errors at indexes 1..3, got %+v", result.ParseErrors)
	}
	if !strings.Contains(result.ParseErrors[2].Message, "panic") {
		t.Fatalf("expected recovered panic to be reported, got %q", result.ParseErrors[2].Message)
	}
}

func TestSanitizeItemIsIdempotent(t *testing.T) {
	published := time.Date(2026, 2, 1, 10, 0, 0, 0, time.FixedZone("CST", 8*3600))
	item := domain.NormalizedItem{
		Source:      " Spotify ",
		ExternalID:  " 4u7E ",
		Title:       "  Bohemian   Rhapsody ",
		AltTitles:   []string{"bohemian rhapsody", "Bohemian Rhapsody (Remastered 2011)", ""},
		Kind:        "song",
		Year:        1975,
		ExternalIDs: map[string]string{" ISRC ": " GBUM71029604 ", "empty": ""},
		Rating:      42,
		Confidence:  1.7,
		Runtime:     -1,
		Artists:     []string{"Queen", " Queen ", ""},
		PublishedAt: &published,
	}

	once, err := SanitizeItem(item)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	twice, err := SanitizeItem(once)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(once, twice) {
		t.Fatalf("sanitize is not idempotent:\nonce:  %+v\ntwice: %+v", once, twice)
	}

	if once.Title != "Bohemian Rhapsody" || once.Kind != domain.KindMusic || once.Source != "spotify" {
		t.Fatalf("unexpected sanitized item: %+v", once)
	}
	if len(once.AltTitles) != 1 || once.AltTitles[0] != "Bohemian Rhapsody (Remastered 2011)" {
		t.Fatalf("expected duplicate alt titles dropped, got %v", once.AltTitles)
	}
	if once.Rating != 10 || once.Confidence != 1 || once.Runtime != 0 {
		t.Fatalf("expected clamped numbers, got rating=%v confidence=%v runtime=%d", once.Rating, once.Confidence, once.Runtime)
	}
	wantIDs := map[string]string{"isrc": "GBUM71029604", "spotify": "4u7E"}
	if !reflect.DeepEqual(once.ExternalIDs, wantIDs) {
		t.Fatalf("expected ids %v, got %v", wantIDs, once.ExternalIDs)
	}
	if len(once.Artists) != 1 || once.PublishedAt.Location() != time.UTC {
		t.Fatalf("expected deduplicated artists and UTC time, got %v %v", once.Artists, once.PublishedAt)
	}
}

func TestSanitizeItemDropsOutOfRangeYear(t *testing.T) {
	item, err := SanitizeItem(domain.NormalizedItem{Title: "Metropolis", Year: 3000, Kind: "zine"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if item.Year != 0 || item.Kind != "" {
		t.Fatalf("expected unknown year and kind cleared, got %+v", item)
	}
}
