package app

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"

	"mediastream/discoveryservice/internal/domain"
)

const defaultOverrideStoreKey = "search:providers:runtime:v1"

// OverrideStore persists operator patches layered over the provider file.
type OverrideStore interface {
	Load(ctx context.Context) (map[string]domain.ProviderOverride, error)
	Save(ctx context.Context, provider string, override domain.ProviderOverride) error
}

// RedisOverrideStore keeps one JSON field per provider in a Redis hash.
type RedisOverrideStore struct {
	client redis.UniversalClient
	key    string
}

func NewRedisOverrideStore(client redis.UniversalClient, key string) *RedisOverrideStore {
	if client == nil {
		return nil
	}
	storeKey := strings.TrimSpace(key)
	if storeKey == "" {
		storeKey = defaultOverrideStoreKey
	}
	return &RedisOverrideStore{
		client: client,
		key:    storeKey,
	}
}

func (s *RedisOverrideStore) Load(ctx context.Context) (map[string]domain.ProviderOverride, error) {
	if s == nil || s.client == nil {
		return nil, nil
	}
	items, err := s.client.HGetAll(ctx, s.key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}

	out := make(map[string]domain.ProviderOverride, len(items))
	for provider, encoded := range items {
		name := strings.ToLower(strings.TrimSpace(provider))
		if name == "" || strings.TrimSpace(encoded) == "" {
			continue
		}
		var override domain.ProviderOverride
		if err := json.Unmarshal([]byte(encoded), &override); err != nil {
			continue
		}
		out[name] = override
	}
	return out, nil
}

// Save replaces the provider's override; an empty override deletes it.
func (s *RedisOverrideStore) Save(ctx context.Context, provider string, override domain.ProviderOverride) error {
	if s == nil || s.client == nil {
		return nil
	}
	name := strings.ToLower(strings.TrimSpace(provider))
	if name == "" {
		return nil
	}
	override = cleanOverride(override)
	if override.Empty() {
		return s.client.HDel(ctx, s.key, name).Err()
	}

	payload, err := json.Marshal(override)
	if err != nil {
		return err
	}
	return s.client.HSet(ctx, s.key, name, payload).Err()
}

// MemoryOverrideStore is used when Redis is not configured; overrides last
// until the process exits.
type MemoryOverrideStore struct {
	mu    sync.Mutex
	items map[string]domain.ProviderOverride
}

func NewMemoryOverrideStore() *MemoryOverrideStore {
	return &MemoryOverrideStore{items: make(map[string]domain.ProviderOverride)}
}

func (s *MemoryOverrideStore) Load(context.Context) (map[string]domain.ProviderOverride, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]domain.ProviderOverride, len(s.items))
	for name, override := range s.items {
		out[name] = override
	}
	return out, nil
}

func (s *MemoryOverrideStore) Save(_ context.Context, provider string, override domain.ProviderOverride) error {
	name := strings.ToLower(strings.TrimSpace(provider))
	if name == "" {
		return nil
	}
	override = cleanOverride(override)
	s.mu.Lock()
	defer s.mu.Unlock()
	if override.Empty() {
		delete(s.items, name)
		return nil
	}
	s.items[name] = override
	return nil
}

func cleanOverride(override domain.ProviderOverride) domain.ProviderOverride {
	if override.Region != nil {
		region := strings.ToLower(strings.TrimSpace(*override.Region))
		override.Region = &region
	}
	if len(override.Settings) > 0 {
		settings := make(map[string]string, len(override.Settings))
		for key, value := range override.Settings {
			key = strings.ToLower(strings.TrimSpace(key))
			value = strings.TrimSpace(value)
			if key == "" || value == "" {
				continue
			}
			settings[key] = value
		}
		override.Settings = settings
		if len(settings) == 0 {
			override.Settings = nil
		}
	}
	return override
}

// mergeOverride layers patch over current: set fields replace, settings merge
// key by key.
func mergeOverride(current, patch domain.ProviderOverride) domain.ProviderOverride {
	if patch.Enabled != nil {
		current.Enabled = patch.Enabled
	}
	if patch.Priority != nil {
		current.Priority = patch.Priority
	}
	if patch.Region != nil {
		current.Region = patch.Region
	}
	if len(patch.Settings) > 0 {
		settings := make(map[string]string, len(current.Settings)+len(patch.Settings))
		for key, value := range current.Settings {
			settings[key] = value
		}
		for key, value := range patch.Settings {
			settings[key] = value
		}
		current.Settings = settings
	}
	return current
}

// applyOverrides returns configs with each provider's override applied.
func applyOverrides(configs []domain.ProviderConfig, overrides map[string]domain.ProviderOverride) []domain.ProviderConfig {
	out := make([]domain.ProviderConfig, len(configs))
	for i, cfg := range configs {
		override, ok := overrides[cfg.Key()]
		if !ok {
			out[i] = cfg
			continue
		}
		if override.Enabled != nil {
			cfg.Enabled = *override.Enabled
		}
		if override.Priority != nil && *override.Priority > 0 {
			cfg.Priority = *override.Priority
		}
		if override.Region != nil {
			cfg.Region = *override.Region
		}
		if len(override.Settings) > 0 {
			settings := make(map[string]any, len(cfg.Settings)+len(override.Settings))
			for key, value := range cfg.Settings {
				settings[key] = value
			}
			for key, value := range override.Settings {
				settings[key] = value
			}
			cfg.Settings = settings
		}
		out[i] = cfg
	}
	return out
}
