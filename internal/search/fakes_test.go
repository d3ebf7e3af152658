package search

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"mediastream/discoveryservice/internal/domain"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeItem struct {
	ID         string            `json:"id"`
	Title      string            `json:"title"`
	Alt        []string          `json:"alt,omitempty"`
	Kind       string            `json:"kind,omitempty"`
	Year       int               `json:"year,omitempty"`
	IDs        map[string]string `json:"ids,omitempty"`
	Poster     string            `json:"poster,omitempty"`
	Rating     float64           `json:"rating,omitempty"`
	Confidence float64           `json:"confidence,omitempty"`
	Broken     bool              `json:"broken,omitempty"`
}

// fakeProvider answers from respond and records every query text it saw.
type fakeProvider struct {
	name    string
	respond func(ctx context.Context, query domain.ProviderQuery) ([]fakeItem, error)

	calls   atomic.Int32
	mu      sync.Mutex
	queries []string
}

func staticProvider(name string, items ...fakeItem) *fakeProvider {
	return &fakeProvider{
		name: name,
		respond: func(context.Context, domain.ProviderQuery) ([]fakeItem, error) {
			return items, nil
		},
	}
}

func failingProvider(name string, err error) *fakeProvider {
	return &fakeProvider{
		name: name,
		respond: func(context.Context, domain.ProviderQuery) ([]fakeItem, error) {
			return nil, err
		},
	}
}

func (p *fakeProvider) Name() string { return p.name }

func (p *fakeProvider) Search(ctx context.Context, query domain.ProviderQuery) (domain.RawPage, error) {
	p.calls.Add(1)
	p.mu.Lock()
	p.queries = append(p.queries, query.Text())
	p.mu.Unlock()

	items, err := p.respond(ctx, query)
	if err != nil {
		return domain.RawPage{}, err
	}
	page := domain.RawPage{StatusCode: 200}
	for _, item := range items {
		raw, err := json.Marshal(item)
		if err != nil {
			return domain.RawPage{}, err
		}
		page.Items = append(page.Items, raw)
		page.Bytes += len(raw)
	}
	return page, nil
}

func (p *fakeProvider) Normalize(raw json.RawMessage) (domain.NormalizedItem, error) {
	var item fakeItem
	if err := json.Unmarshal(raw, &item); err != nil {
		return domain.NormalizedItem{}, err
	}
	if item.Broken {
		panic("broken item")
	}
	confidence := item.Confidence
	if confidence == 0 {
		confidence = 0.8
	}
	return domain.NormalizedItem{
		ExternalID:  item.ID,
		Title:       item.Title,
		AltTitles:   item.Alt,
		Kind:        domain.MediaKind(item.Kind),
		Year:        item.Year,
		ExternalIDs: item.IDs,
		Poster:      item.Poster,
		Rating:      item.Rating,
		Confidence:  confidence,
	}, nil
}

func (p *fakeProvider) seen() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.queries...)
}

func testConfig(name string) domain.ProviderConfig {
	return domain.ProviderConfig{
		Name:         name,
		Type:         "fake",
		Enabled:      true,
		Capabilities: []domain.Capability{domain.CapabilitySearch, domain.CapabilityChart},
		Priority:     1,
	}
}

// newTestService registers providers with default configs unless configs are given.
func newTestService(t *testing.T, providers []Provider, configs []domain.ProviderConfig, opts ...ServiceOption) *Service {
	t.Helper()
	if configs == nil {
		for _, provider := range providers {
			configs = append(configs, testConfig(provider.Name()))
		}
	}
	registry := NewRegistry(StaticFactory(providers...))
	if _, err := registry.Apply(configs); err != nil {
		t.Fatalf("apply configs: %v", err)
	}
	base := []ServiceOption{
		WithRetry(RetryConfig{MaxAttempts: 1}),
		WithTimeouts(2*time.Second, time.Second),
	}
	return NewService(registry, append(base, opts...)...)
}
