package applemusic

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"mediastream/discoveryservice/internal/domain"
	"mediastream/discoveryservice/internal/providers/common"
)

const feedBody = `{"feed":{"title":"Top Songs","country":"jp","updated":"Sun, 1 Mar 2026 09:00:00 +0000","results":[
	{"artistName":"YOASOBI","id":"1711403345","name":"アイドル","releaseDate":"2023-04-12","kind":"songs","artworkUrl100":"https://is1.mzstatic.com/a.jpg","genres":[{"name":"J-Pop"},{"name":"Music"}],"url":"https://music.apple.com/jp/album/1711403345"},
	{"artistName":"Mrs. GREEN APPLE","id":"1744110122","name":"ライラック","releaseDate":"2024-04-15","kind":"songs"}
]}}`

func newTestProvider(t *testing.T, handler http.HandlerFunc) *Provider {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	provider, err := New(domain.ProviderConfig{
		Name:     "applemusic",
		Settings: map[string]any{"base_url": server.URL},
	}, common.Deps{HTTPClient: server.Client()})
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	return provider
}

func TestChartFeed(t *testing.T) {
	provider := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v2/jp/music/most-played/10/songs.json" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(feedBody))
	})

	page, err := provider.Search(context.Background(), domain.ProviderQuery{Chart: true, Region: "JP", Limit: 1})
	if err != nil {
		t.Fatalf("chart: %v", err)
	}
	if len(page.Items) != 1 {
		t.Fatalf("expected feed truncated to limit, got %d", len(page.Items))
	}

	item, err := provider.Normalize(page.Items[0])
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if item.Title != "アイドル" || item.Rank != 1 || item.Region != "jp" || item.Year != 2023 {
		t.Fatalf("unexpected item: %+v", item)
	}
	if len(item.Artists) != 1 || item.Artists[0] != "YOASOBI" || item.Overview != "J-Pop, Music" {
		t.Fatalf("unexpected metadata: %+v", item)
	}
	if item.PublishedAt == nil || item.PublishedAt.Day() != 1 || item.PublishedAt.Month() != 3 {
		t.Fatalf("expected feed update time, got %v", item.PublishedAt)
	}
}

func TestFeedSize(t *testing.T) {
	cases := map[int]int{0: 10, 10: 10, 11: 25, 50: 50, 80: 100, 500: 100}
	for limit, want := range cases {
		if got := feedSize(limit); got != want {
			t.Errorf("feedSize(%d) = %d, want %d", limit, got, want)
		}
	}
}

func TestSearchIsNotSupported(t *testing.T) {
	provider := NewProvider("applemusic", Settings{}, common.Deps{})
	_, err := provider.Search(context.Background(), domain.ProviderQuery{Variant: domain.QueryVariant{Text: "idol"}})
	if !errors.Is(err, domain.ErrProviderPermanent) {
		t.Fatalf("expected permanent error, got %v", err)
	}
}

func TestChartMissingFeedIsPermanent(t *testing.T) {
	provider := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	_, err := provider.Search(context.Background(), domain.ProviderQuery{Chart: true, Region: "zz"})
	if !errors.Is(err, domain.ErrProviderPermanent) {
		t.Fatalf("expected permanent error, got %v", err)
	}
}
