package search

import (
	"fmt"
	"reflect"
	"sort"
	"sync"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"mediastream/discoveryservice/internal/domain"
)

const (
	defaultProviderConcurrency = 4
	defaultProviderPriority    = 1.0
)

// ProviderFactory builds an adapter from its configuration.
type ProviderFactory func(cfg domain.ProviderConfig) (Provider, error)

// StaticFactory serves prebuilt providers by configured name.
func StaticFactory(providers ...Provider) ProviderFactory {
	byName := make(map[string]Provider, len(providers))
	for _, provider := range providers {
		byName[normalizeName(provider.Name())] = provider
	}
	return func(cfg domain.ProviderConfig) (Provider, error) {
		provider, ok := byName[cfg.Key()]
		if !ok {
			return nil, fmt.Errorf("%w: %s", domain.ErrUnknownProvider, cfg.Name)
		}
		return provider, nil
	}
}

type registryEntry struct {
	cfg      domain.ProviderConfig
	provider Provider
	buildErr error
	slots    *semaphore.Weighted
	limiter  *rate.Limiter
}

func (e *registryEntry) name() string {
	return e.cfg.Key()
}

func (e *registryEntry) usable() bool {
	return e.cfg.Enabled && e.provider != nil
}

func (e *registryEntry) info() domain.ProviderInfo {
	info := domain.ProviderInfo{
		Name:         e.cfg.Key(),
		Label:        e.cfg.Label,
		Type:         e.cfg.Type,
		Enabled:      e.cfg.Enabled,
		Capabilities: append([]domain.Capability(nil), e.cfg.Capabilities...),
		Kinds:        append([]domain.MediaKind(nil), e.cfg.Kinds...),
		Region:       e.cfg.Region,
		Priority:     e.cfg.Priority,
	}
	if info.Label == "" {
		info.Label = info.Name
	}
	if e.buildErr != nil {
		info.Error = e.buildErr.Error()
	}
	return info
}

// Registry is the explicit set of configured providers. Apply swaps in a new
// configuration; listeners learn which providers changed.
type Registry struct {
	factory ProviderFactory

	mu        sync.RWMutex
	entries   map[string]*registryEntry
	listeners []func(changed []string)
}

func NewRegistry(factory ProviderFactory) *Registry {
	return &Registry{
		factory: factory,
		entries: make(map[string]*registryEntry),
	}
}

// OnChange registers fn to be called after Apply with the changed provider names.
func (r *Registry) OnChange(fn func(changed []string)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, fn)
}

// Apply replaces the registry content with configs and returns the names of
// providers that were added, removed or reconfigured. Disabled providers keep
// their configuration but are not built.
func (r *Registry) Apply(configs []domain.ProviderConfig) ([]string, error) {
	next := make(map[string]*registryEntry, len(configs))
	for _, cfg := range configs {
		name := cfg.Key()
		if name == "" {
			return nil, domain.NewValidationError("providers", "provider name is required")
		}
		if _, dup := next[name]; dup {
			return nil, domain.NewValidationError("providers", "duplicate provider "+name)
		}
		cfg.Name = name
		if cfg.Priority <= 0 {
			cfg.Priority = defaultProviderPriority
		}
		if cfg.MaxConcurrent <= 0 {
			cfg.MaxConcurrent = defaultProviderConcurrency
		}
		next[name] = &registryEntry{cfg: cfg}
	}

	r.mu.Lock()
	changed := make([]string, 0)
	for name, entry := range next {
		previous, ok := r.entries[name]
		if ok && reflect.DeepEqual(previous.cfg, entry.cfg) {
			next[name] = previous
			continue
		}
		r.buildLocked(entry)
		changed = append(changed, name)
	}
	for name := range r.entries {
		if _, ok := next[name]; !ok {
			changed = append(changed, name)
		}
	}
	r.entries = next
	listeners := append([]func([]string){}, r.listeners...)
	r.mu.Unlock()

	sort.Strings(changed)
	if len(changed) > 0 {
		for _, fn := range listeners {
			fn(changed)
		}
	}
	return changed, nil
}

func (r *Registry) buildLocked(entry *registryEntry) {
	burst := entry.cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	limit := rate.Inf
	if entry.cfg.RatePerSecond > 0 {
		limit = rate.Limit(entry.cfg.RatePerSecond)
	}
	entry.limiter = rate.NewLimiter(limit, burst)
	entry.slots = semaphore.NewWeighted(int64(entry.cfg.MaxConcurrent))

	if !entry.cfg.Enabled || r.factory == nil {
		return
	}
	provider, err := r.factory(entry.cfg)
	if err != nil {
		entry.buildErr = err
		return
	}
	entry.provider = provider
}

func (r *Registry) entry(name string) (*registryEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.entries[normalizeName(name)]
	return entry, ok
}

// sortedEntries returns every entry ordered by name.
func (r *Registry) sortedEntries() []*registryEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	items := make([]*registryEntry, 0, len(r.entries))
	for _, entry := range r.entries {
		items = append(items, entry)
	}
	sort.Slice(items, func(i, j int) bool {
		return items[i].name() < items[j].name()
	})
	return items
}

// Config returns the active configuration of one provider.
func (r *Registry) Config(name string) (domain.ProviderConfig, bool) {
	entry, ok := r.entry(name)
	if !ok {
		return domain.ProviderConfig{}, false
	}
	return entry.cfg, true
}

// Configs returns every configured provider, disabled ones included.
func (r *Registry) Configs() []domain.ProviderConfig {
	entries := r.sortedEntries()
	items := make([]domain.ProviderConfig, 0, len(entries))
	for _, entry := range entries {
		items = append(items, entry.cfg)
	}
	return items
}

func (r *Registry) Infos() []domain.ProviderInfo {
	entries := r.sortedEntries()
	items := make([]domain.ProviderInfo, 0, len(entries))
	for _, entry := range entries {
		items = append(items, entry.info())
	}
	return items
}

// Priority returns the configured source weight, defaulting to 1 for unknown sources.
func (r *Registry) Priority(name string) float64 {
	entry, ok := r.entry(name)
	if !ok || entry.cfg.Priority <= 0 {
		return defaultProviderPriority
	}
	return entry.cfg.Priority
}
