package app

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"mediastream/discoveryservice/internal/domain"
)

func TestApplyOverrides(t *testing.T) {
	enabled := false
	priority := 3.0
	region := "jp"
	configs := []domain.ProviderConfig{
		{Name: "tmdb", Enabled: true, Priority: 1, Settings: map[string]any{"api_key": "a", "language": "en-US"}},
		{Name: "douban", Enabled: true, Priority: 1},
	}
	out := applyOverrides(configs, map[string]domain.ProviderOverride{
		"tmdb": {Enabled: &enabled, Priority: &priority, Region: &region, Settings: map[string]string{"language": "ja-JP"}},
	})

	if out[0].Enabled || out[0].Priority != 3 || out[0].Region != "jp" {
		t.Fatalf("unexpected overridden config: %+v", out[0])
	}
	if out[0].Settings["language"] != "ja-JP" || out[0].Settings["api_key"] != "a" {
		t.Fatalf("expected settings merged, got %v", out[0].Settings)
	}
	if configs[0].Settings["language"] != "en-US" {
		t.Fatal("expected input configs untouched")
	}
	if !out[1].Enabled {
		t.Fatal("expected provider without override unchanged")
	}
}

func TestMergeAndCleanOverride(t *testing.T) {
	on := true
	region := " JP "
	merged := mergeOverride(
		domain.ProviderOverride{Enabled: &on, Settings: map[string]string{"a": "1"}},
		domain.ProviderOverride{Region: &region, Settings: map[string]string{"b": "2", "c": " "}},
	)
	cleaned := cleanOverride(merged)
	if cleaned.Enabled == nil || *cleaned.Region != "jp" {
		t.Fatalf("unexpected merge: %+v", cleaned)
	}
	if len(cleaned.Settings) != 2 || cleaned.Settings["b"] != "2" {
		t.Fatalf("expected blank setting dropped, got %v", cleaned.Settings)
	}
}

func TestMemoryOverrideStoreDeletesEmpty(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryOverrideStore()
	on := true
	_ = store.Save(ctx, "TMDB", domain.ProviderOverride{Enabled: &on})
	items, _ := store.Load(ctx)
	if _, ok := items["tmdb"]; !ok {
		t.Fatalf("expected override under folded name, got %v", items)
	}
	_ = store.Save(ctx, "tmdb", domain.ProviderOverride{})
	items, _ = store.Load(ctx)
	if len(items) != 0 {
		t.Fatalf("expected empty override to delete, got %v", items)
	}
}

func TestRedisOverrideStoreRoundTrip(t *testing.T) {
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	defer client.Close()

	ctx := context.Background()
	store := NewRedisOverrideStore(client, "search:providers:runtime:v1")

	priority := 1.5
	if err := store.Save(ctx, "douban", domain.ProviderOverride{Priority: &priority}); err != nil {
		t.Fatalf("save: %v", err)
	}
	items, err := store.Load(ctx)
	if err != nil || items["douban"].Priority == nil || *items["douban"].Priority != 1.5 {
		t.Fatalf("unexpected load: %v err=%v", items, err)
	}
	if err := store.Save(ctx, "douban", domain.ProviderOverride{}); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if items, _ := store.Load(ctx); len(items) != 0 {
		t.Fatalf("expected override removed, got %v", items)
	}
}
