package search

import (
	"testing"

	"mediastream/discoveryservice/internal/domain"
)

func TestOpenCCConverterBothDirections(t *testing.T) {
	converter, err := NewOpenCCConverter()
	if err != nil {
		t.Fatalf("load dictionaries: %v", err)
	}
	tests := []struct {
		in      string
		want    string
		changed bool
	}{
		{"盗梦空间", "盜夢空間", true},
		{"無間道", "无间道", true},
		{"天下第一", "天下第一", false},
		{"Inception", "Inception", false},
	}
	for _, tt := range tests {
		got, changed := converter.Convert(tt.in)
		if got != tt.want || changed != tt.changed {
			t.Fatalf("%q: expected %q (%v), got %q (%v)", tt.in, tt.want, tt.changed, got, changed)
		}
	}
}

func TestTableConverterFallsBackToReverse(t *testing.T) {
	converter := NewTableConverter(map[rune]rune{'剑': '劍'})
	if got, ok := converter.Convert("倚天剑"); !ok || got != "倚天劍" {
		t.Fatalf("expected forward mapping, got %q %v", got, ok)
	}
	if got, ok := converter.Convert("倚天劍"); !ok || got != "倚天剑" {
		t.Fatalf("expected reverse mapping, got %q %v", got, ok)
	}
	if _, ok := converter.Convert("Heat"); ok {
		t.Fatal("expected no change for latin text")
	}
}

func TestDefaultPlannerAddsScriptVariantForRealTitle(t *testing.T) {
	planner := NewPlanner(DefaultPlannerConfig(), nil)
	variants := planFor(t, planner, domain.SearchRequest{Query: "盗梦空间", Kind: domain.KindMovie})
	for _, variant := range variants {
		if variant.Transform == domain.TransformScript {
			if variant.Text != "盜夢空間" {
				t.Fatalf("expected traditional script variant, got %q", variant.Text)
			}
			return
		}
	}
	t.Fatalf("expected a script variant, got %+v", variants)
}
