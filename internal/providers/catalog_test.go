package providers

import (
	"errors"
	"reflect"
	"testing"

	"mediastream/discoveryservice/internal/domain"
	"mediastream/discoveryservice/internal/providers/common"
)

func TestFactoryBuildsByTypeOrName(t *testing.T) {
	factory := Factory(common.Deps{})

	provider, err := factory(domain.ProviderConfig{Name: "Top10", Type: "Netflix"})
	if err != nil {
		t.Fatalf("build netflix: %v", err)
	}
	if provider.Name() != "top10" {
		t.Fatalf("expected adapter named after the entry, got %q", provider.Name())
	}

	if _, err := factory(domain.ProviderConfig{Name: "douban"}); err != nil {
		t.Fatalf("build douban by name: %v", err)
	}
}

func TestFactoryRejectsUnknownType(t *testing.T) {
	_, err := Factory(common.Deps{})(domain.ProviderConfig{Name: "x", Type: "rutracker"})
	if !errors.Is(err, domain.ErrUnknownProvider) {
		t.Fatalf("expected unknown provider error, got %v", err)
	}
}

func TestFactoryReportsSettingsErrors(t *testing.T) {
	_, err := Factory(common.Deps{})(domain.ProviderConfig{Name: "tmdb"})
	if err == nil {
		t.Fatal("expected missing api key to fail")
	}
}

func TestTypes(t *testing.T) {
	want := []string{"applemusic", "douban", "netflix", "spotify", "tmdb"}
	if got := Types(); !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}
