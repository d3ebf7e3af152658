package douban

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"mediastream/discoveryservice/internal/domain"
	"mediastream/discoveryservice/internal/providers/common"
)

const suggestBody = `[
	{"episode":"","img":"https://img.doubanio.com/s3541415.jpg","title":"盗梦空间","url":"https://movie.douban.com/subject/3541415/?suggest=inception","type":"movie","year":"2010","sub_title":"Inception","id":"3541415"},
	{"episode":"","img":"","title":"克里斯托弗·诺兰","url":"https://movie.douban.com/celebrity/1054524/","type":"celebrity","year":"","sub_title":"Christopher Nolan","id":"1054524"},
	{"episode":"10","img":"","title":"盗梦特工","url":"","type":"movie","year":"2019","sub_title":"","id":"30000001"}
]`

func newTestProvider(t *testing.T, handler http.HandlerFunc) *Provider {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	provider, err := New(domain.ProviderConfig{
		Name:     "Douban",
		Settings: map[string]any{"base_url": server.URL},
	}, common.Deps{HTTPClient: server.Client()})
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	return provider
}

func TestSearchSuggestions(t *testing.T) {
	provider := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/j/subject_suggest" || r.URL.Query().Get("q") != "盗梦空间" {
			t.Errorf("unexpected request %s?%s", r.URL.Path, r.URL.RawQuery)
		}
		if r.Header.Get("Referer") == "" {
			t.Error("expected referer header")
		}
		_, _ = w.Write([]byte(suggestBody))
	})
	if provider.Name() != "douban" {
		t.Fatalf("expected folded name, got %q", provider.Name())
	}

	page, err := provider.Search(context.Background(), domain.ProviderQuery{Variant: domain.QueryVariant{Text: "盗梦空间"}})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(page.Items) != 2 {
		t.Fatalf("expected celebrity filtered out, got %d items", len(page.Items))
	}

	item, err := provider.Normalize(page.Items[0])
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if item.Title != "盗梦空间" || item.Year != 2010 || item.Kind != domain.KindMovie {
		t.Fatalf("unexpected item: %+v", item)
	}
	if len(item.AltTitles) != 1 || item.AltTitles[0] != "Inception" {
		t.Fatalf("expected sub title as alternative, got %v", item.AltTitles)
	}
	if item.URL != "https://movie.douban.com/subject/3541415/" || item.ExternalIDs["douban"] != "3541415" {
		t.Fatalf("unexpected url or ids: %+v", item)
	}

	series, _ := provider.Normalize(page.Items[1])
	if series.Kind != domain.KindTV {
		t.Fatalf("expected episodes to mark a series, got %+v", series)
	}
}

func TestSearchFiltersKindAndYear(t *testing.T) {
	provider := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(suggestBody))
	})

	page, err := provider.Search(context.Background(), domain.ProviderQuery{
		Variant: domain.QueryVariant{Text: "盗梦"},
		Kind:    domain.KindMovie,
		Year:    2010,
	})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(page.Items) != 1 {
		t.Fatalf("expected only the 2010 movie, got %d items", len(page.Items))
	}
}

func TestChartSubjects(t *testing.T) {
	provider := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()
		if r.URL.Path != "/j/search_subjects" || query.Get("type") != "tv" || query.Get("tag") != "热门" || query.Get("page_limit") != "2" {
			t.Errorf("unexpected request %s?%s", r.URL.Path, r.URL.RawQuery)
		}
		_, _ = w.Write([]byte(`{"subjects":[
			{"rate":"9.1","title":"漫长的季节","url":"https://movie.douban.com/subject/35588177/","cover":"c1","id":"35588177"},
			{"rate":"","title":"新剧","url":"","cover":"","id":"36000000","is_new":true}
		]}`))
	})

	page, err := provider.Search(context.Background(), domain.ProviderQuery{Kind: domain.KindTV, Limit: 2, Chart: true})
	if err != nil {
		t.Fatalf("chart: %v", err)
	}
	first, _ := provider.Normalize(page.Items[0])
	if first.Rating != 9.1 || first.Rank != 1 || first.Kind != domain.KindTV {
		t.Fatalf("unexpected chart item: %+v", first)
	}
	second, _ := provider.Normalize(page.Items[1])
	if second.Rating != 0 || second.Rank != 2 {
		t.Fatalf("expected unrated second entry, got %+v", second)
	}
}

func TestSearchRateLimitedIsTransient(t *testing.T) {
	provider := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})
	_, err := provider.Search(context.Background(), domain.ProviderQuery{Variant: domain.QueryVariant{Text: "x"}})
	if !errors.Is(err, domain.ErrProviderTransient) {
		t.Fatalf("expected transient error, got %v", err)
	}
}
