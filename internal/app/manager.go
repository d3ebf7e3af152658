package app

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"

	"mediastream/discoveryservice/internal/domain"
	"mediastream/discoveryservice/internal/search"
)

var secretMarkers = []string{"key", "secret", "token", "password", "cookie"}

const maskedValue = "********"

// ProviderManager owns the provider file, the runtime overrides and the
// registry they are applied to.
type ProviderManager struct {
	path     string
	registry *search.Registry
	store    OverrideStore
	logger   *slog.Logger

	mu        sync.Mutex
	file      *ProviderFile
	overrides map[string]domain.ProviderOverride
}

func NewProviderManager(path string, registry *search.Registry, store OverrideStore, logger *slog.Logger) *ProviderManager {
	if store == nil {
		store = NewMemoryOverrideStore()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ProviderManager{
		path:      path,
		registry:  registry,
		store:     store,
		logger:    logger,
		overrides: make(map[string]domain.ProviderOverride),
	}
}

// Reload re-reads the provider file and the stored overrides and applies
// them. On a bad file the previous configuration stays active.
func (m *ProviderManager) Reload(ctx context.Context) error {
	file, err := LoadProviderFile(m.path)
	if err != nil {
		return err
	}
	return m.Use(ctx, file)
}

// Use applies an already parsed provider file.
func (m *ProviderManager) Use(ctx context.Context, file *ProviderFile) error {
	overrides, err := m.store.Load(ctx)
	if err != nil {
		m.logger.Warn("runtime overrides unavailable", slog.String("error", err.Error()))
		overrides = nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if overrides == nil {
		overrides = m.overrides
	}
	changed, err := m.registry.Apply(applyOverrides(file.Configs(), overrides))
	if err != nil {
		return errors.Wrap(err, "failed to apply provider configuration")
	}
	m.file = file
	m.overrides = overrides
	if len(changed) > 0 {
		described := make([]string, 0, len(changed))
		for _, name := range changed {
			if cfg, ok := m.registry.Config(name); ok {
				described = append(described, describeEntry(cfg))
			} else {
				described = append(described, name+"(removed)")
			}
		}
		m.logger.Info("providers applied", slog.Any("changed", described))
	}
	return nil
}

func (m *ProviderManager) File() *ProviderFile {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.file
}

// List returns every configured provider with secrets masked.
func (m *ProviderManager) List() []domain.ProviderSettingsView {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.viewsLocked()
}

// Patch stores an override for one provider and re-applies the registry. A
// changed provider gets its cache entries dropped and its health reset
// through the registry's change listeners.
func (m *ProviderManager) Patch(ctx context.Context, name string, patch domain.ProviderOverride) (domain.ProviderSettingsView, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		return domain.ProviderSettingsView{}, domain.NewValidationError("name", "provider name is required")
	}
	if patch.Priority != nil && *patch.Priority <= 0 {
		return domain.ProviderSettingsView{}, domain.NewValidationError("priority", "must be positive")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.file == nil {
		return domain.ProviderSettingsView{}, errors.New("provider configuration is not loaded")
	}
	if _, ok := m.registry.Config(key); !ok {
		return domain.ProviderSettingsView{}, fmt.Errorf("%w: %s", domain.ErrUnknownProvider, key)
	}

	next := cleanOverride(mergeOverride(m.overrides[key], patch))
	if err := m.store.Save(ctx, key, next); err != nil {
		return domain.ProviderSettingsView{}, errors.Wrap(err, "failed to persist override")
	}
	overrides := make(map[string]domain.ProviderOverride, len(m.overrides)+1)
	for provider, override := range m.overrides {
		overrides[provider] = override
	}
	if next.Empty() {
		delete(overrides, key)
	} else {
		overrides[key] = next
	}
	if _, err := m.registry.Apply(applyOverrides(m.file.Configs(), overrides)); err != nil {
		return domain.ProviderSettingsView{}, errors.Wrap(err, "failed to apply override")
	}
	m.overrides = overrides
	m.logger.Info("provider override saved", slog.String("provider", key), slog.Bool("cleared", next.Empty()))

	for _, view := range m.viewsLocked() {
		if view.Name == key {
			return view, nil
		}
	}
	return domain.ProviderSettingsView{}, fmt.Errorf("%w: %s", domain.ErrUnknownProvider, key)
}

func (m *ProviderManager) viewsLocked() []domain.ProviderSettingsView {
	configs := m.registry.Configs()
	views := make([]domain.ProviderSettingsView, 0, len(configs))
	for _, cfg := range configs {
		_, overridden := m.overrides[cfg.Key()]
		views = append(views, domain.ProviderSettingsView{
			Name:       cfg.Name,
			Type:       cfg.Type,
			Enabled:    cfg.Enabled,
			Priority:   cfg.Priority,
			Region:     cfg.Region,
			Settings:   maskSettings(cfg.Settings),
			Overridden: overridden,
		})
	}
	sort.Slice(views, func(i, j int) bool { return views[i].Name < views[j].Name })
	return views
}

func maskSettings(settings map[string]any) map[string]string {
	if len(settings) == 0 {
		return nil
	}
	out := make(map[string]string, len(settings))
	for key, value := range settings {
		text := fmt.Sprint(value)
		if isSecret(key) && text != "" {
			text = maskedValue
		}
		out[key] = text
	}
	return out
}

func isSecret(key string) bool {
	lower := strings.ToLower(key)
	for _, marker := range secretMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}
