package chart

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"sync/atomic"
	"testing"
	"time"

	"mediastream/discoveryservice/internal/domain"
	"mediastream/discoveryservice/internal/search"
)

type chartEntry struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Rank  int    `json:"rank"`
}

type chartProvider struct {
	name    string
	entries []chartEntry
	err     error
	calls   atomic.Int32
}

func (p *chartProvider) Name() string { return p.name }

func (p *chartProvider) Search(_ context.Context, query domain.ProviderQuery) (domain.RawPage, error) {
	p.calls.Add(1)
	if p.err != nil {
		return domain.RawPage{}, p.err
	}
	if !query.Chart {
		return domain.RawPage{}, domain.PermanentError(p.name, "chart only")
	}
	items := make([]json.RawMessage, 0, len(p.entries))
	for _, entry := range p.entries {
		raw, _ := json.Marshal(entry)
		items = append(items, raw)
	}
	return domain.RawPage{StatusCode: 200, Items: items}, nil
}

func (p *chartProvider) Normalize(raw json.RawMessage) (domain.NormalizedItem, error) {
	var entry chartEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return domain.NormalizedItem{}, err
	}
	return domain.NormalizedItem{
		ExternalID:  entry.ID,
		Title:       entry.Title,
		Kind:        domain.KindMovie,
		Rank:        entry.Rank,
		Confidence:  0.9,
		ExternalIDs: map[string]string{p.name: entry.ID},
	}, nil
}

func chartConfig(name string, enabled bool) domain.ProviderConfig {
	return domain.ProviderConfig{
		Name:         name,
		Type:         "fake",
		Enabled:      enabled,
		Capabilities: []domain.Capability{domain.CapabilityChart},
		Priority:     1,
	}
}

func newChartService(t *testing.T, providers []*chartProvider, configs []domain.ProviderConfig) *search.Service {
	t.Helper()
	list := make([]search.Provider, 0, len(providers))
	for _, provider := range providers {
		list = append(list, provider)
	}
	registry := search.NewRegistry(search.StaticFactory(list...))
	if _, err := registry.Apply(configs); err != nil {
		t.Fatalf("apply configs: %v", err)
	}
	return search.NewService(registry,
		search.WithRetry(search.RetryConfig{MaxAttempts: 1}),
		search.WithTimeouts(2*time.Second, time.Second),
	)
}

func TestCollectSkipsDisabledSources(t *testing.T) {
	tmdb := &chartProvider{name: "tmdb", entries: []chartEntry{{ID: "1", Title: "Dune", Rank: 1}}}
	netflix := &chartProvider{name: "netflix", entries: []chartEntry{{ID: "dune", Title: "Dune", Rank: 2}, {ID: "wednesday", Title: "Wednesday", Rank: 1}}}
	douban := &chartProvider{name: "douban", entries: []chartEntry{{ID: "9", Title: "Hero", Rank: 1}}}

	svc := newChartService(t, []*chartProvider{tmdb, netflix, douban}, []domain.ProviderConfig{
		chartConfig("tmdb", true),
		chartConfig("netflix", true),
		chartConfig("douban", false),
	})
	store := NewMemoryStore(5)
	collector := NewCollector(svc, WithStore(store))

	run, err := collector.Collect(context.Background(), TriggerManual, false)
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if !reflect.DeepEqual(run.Dispatched, []string{"netflix", "tmdb"}) {
		t.Fatalf("expected two enabled sources dispatched, got %v", run.Dispatched)
	}
	if douban.calls.Load() != 0 {
		t.Fatalf("expected disabled source not called, got %d calls", douban.calls.Load())
	}
	if _, ok := run.PerSourceStatus["douban"]; ok {
		t.Fatal("expected no status for disabled source")
	}
	if run.ID == "" || run.Trigger != TriggerManual || run.Total != len(run.Results) {
		t.Fatalf("unexpected run summary: %+v", run)
	}

	sources := collector.Sources()
	if len(sources) != 3 {
		t.Fatalf("expected all chart sources listed, got %+v", sources)
	}
	for _, source := range sources {
		if source.Name == "douban" && source.Enabled {
			t.Fatal("expected douban listed with enabled=false")
		}
		if source.Name != "douban" && !source.Enabled {
			t.Fatalf("expected %s enabled", source.Name)
		}
	}

	latest, err := collector.Latest(context.Background())
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if latest.ID != run.ID || len(latest.Results) == 0 {
		t.Fatalf("expected stored run %s with results, got %+v", run.ID, latest)
	}
}

func TestCollectMergesAcrossSources(t *testing.T) {
	first := &chartProvider{name: "tmdb", entries: []chartEntry{{ID: "1", Title: "Dune", Rank: 1}}}
	second := &chartProvider{name: "netflix", entries: []chartEntry{{ID: "dune", Title: "Dune", Rank: 1}}}
	svc := newChartService(t, []*chartProvider{first, second}, []domain.ProviderConfig{
		chartConfig("tmdb", true),
		chartConfig("netflix", true),
	})
	collector := NewCollector(svc)

	run, err := collector.Collect(context.Background(), TriggerManual, false)
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if run.Total != 1 {
		t.Fatalf("expected one merged result, got %d", run.Total)
	}
	if sources := run.Results[0].Sources(); !reflect.DeepEqual(sources, []string{"netflix", "tmdb"}) {
		t.Fatalf("expected both sources in provenance, got %v", sources)
	}
}

func TestCollectRefreshBypassesCache(t *testing.T) {
	provider := &chartProvider{name: "tmdb", entries: []chartEntry{{ID: "1", Title: "Dune", Rank: 1}}}
	svc := newChartService(t, []*chartProvider{provider}, []domain.ProviderConfig{chartConfig("tmdb", true)})
	collector := NewCollector(svc)

	for range 2 {
		if _, err := collector.Collect(context.Background(), TriggerSchedule, false); err != nil {
			t.Fatalf("collect: %v", err)
		}
	}
	if provider.calls.Load() != 1 {
		t.Fatalf("expected cached second run, got %d calls", provider.calls.Load())
	}
	if _, err := collector.Collect(context.Background(), TriggerManual, true); err != nil {
		t.Fatalf("refresh collect: %v", err)
	}
	if provider.calls.Load() != 2 {
		t.Fatalf("expected refresh to call provider, got %d calls", provider.calls.Load())
	}
}

func TestCollectWithoutSourcesFails(t *testing.T) {
	provider := &chartProvider{name: "tmdb"}
	svc := newChartService(t, []*chartProvider{provider}, []domain.ProviderConfig{chartConfig("tmdb", false)})
	store := NewMemoryStore(5)
	collector := NewCollector(svc, WithStore(store))

	run, err := collector.Collect(context.Background(), TriggerManual, false)
	if !errors.Is(err, domain.ErrNoProviders) {
		t.Fatalf("expected ErrNoProviders, got %v", err)
	}
	if run.Error == "" {
		t.Fatal("expected error recorded on run")
	}
	if _, err := store.Latest(context.Background()); !errors.Is(err, ErrNoRuns) {
		t.Fatalf("expected failed run not persisted, got %v", err)
	}

	stats, err := collector.Stats(context.Background())
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Runs != 1 || stats.Failures != 1 {
		t.Fatalf("expected one failed run counted, got %+v", stats)
	}
	if stats.LastRun == nil || stats.LastRun.Error == "" {
		t.Fatalf("expected last run with error, got %+v", stats.LastRun)
	}
}

func TestCollectAllSourcesFailingCountsAsFailure(t *testing.T) {
	provider := &chartProvider{name: "tmdb", err: domain.StatusError("tmdb", 500, "boom")}
	svc := newChartService(t, []*chartProvider{provider}, []domain.ProviderConfig{chartConfig("tmdb", true)})
	collector := NewCollector(svc)

	run, err := collector.Collect(context.Background(), TriggerSchedule, false)
	if err != nil && !errors.Is(err, domain.ErrProvidersExhausted) {
		t.Fatalf("unexpected error: %v", err)
	}
	if run.Total != 0 {
		t.Fatalf("expected no results, got %d", run.Total)
	}
	stats, _ := collector.Stats(context.Background())
	if stats.Failures != 1 {
		t.Fatalf("expected failure counted, got %+v", stats)
	}
}

func TestStatsReportsStoreAndSchedule(t *testing.T) {
	provider := &chartProvider{name: "tmdb", entries: []chartEntry{{ID: "1", Title: "Dune", Rank: 1}}}
	svc := newChartService(t, []*chartProvider{provider}, []domain.ProviderConfig{chartConfig("tmdb", true)})
	collector := NewCollector(svc, WithSchedule("@every 1h"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := collector.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := collector.Collect(ctx, TriggerManual, false); err != nil {
		t.Fatalf("collect: %v", err)
	}

	stats, err := collector.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Stored != 1 || stats.Runs != 1 || stats.Failures != 0 {
		t.Fatalf("unexpected counters: %+v", stats)
	}
	if stats.Schedule != "@every 1h" || stats.NextRunAt == nil {
		t.Fatalf("expected schedule with next run, got %+v", stats)
	}
	if stats.LastRun == nil || stats.LastRun.Results != nil {
		t.Fatalf("expected last run summary without results, got %+v", stats.LastRun)
	}
	if len(stats.Providers) != 1 || stats.Providers[0].Name != "tmdb" {
		t.Fatalf("expected provider diagnostics, got %+v", stats.Providers)
	}
}

func TestStartRejectsInvalidSchedule(t *testing.T) {
	svc := newChartService(t, nil, nil)
	collector := NewCollector(svc, WithSchedule("every so often"))
	if err := collector.Start(context.Background()); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}

	disabled := NewCollector(svc, WithSchedule("off"))
	if err := disabled.Start(context.Background()); err != nil {
		t.Fatalf("expected disabled schedule accepted, got %v", err)
	}
	if stats, _ := disabled.Stats(context.Background()); stats.NextRunAt != nil {
		t.Fatal("expected no next run when disabled")
	}
}

func TestMemoryStoreRotates(t *testing.T) {
	store := NewMemoryStore(2)
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		if err := store.Save(ctx, domain.ChartRun{ID: id}); err != nil {
			t.Fatalf("save: %v", err)
		}
	}
	latest, _ := store.Latest(ctx)
	if latest.ID != "c" {
		t.Fatalf("expected latest c, got %s", latest.ID)
	}
	if count, _ := store.Count(ctx); count != 3 {
		t.Fatalf("expected 3 saved, got %d", count)
	}
	if len(store.runs) != 2 {
		t.Fatalf("expected 2 retained, got %d", len(store.runs))
	}
}

// blockingRunner holds every chart run until release is closed.
type blockingRunner struct {
	started  chan struct{}
	release  chan struct{}
	calls    atomic.Int32
	canceled atomic.Bool
}

func (r *blockingRunner) CollectChart(ctx context.Context, _ domain.ChartRequest) (domain.ChartResult, error) {
	if r.calls.Add(1) == 1 {
		close(r.started)
	}
	select {
	case <-r.release:
	case <-ctx.Done():
		r.canceled.Store(true)
		return domain.ChartResult{}, ctx.Err()
	}
	return domain.ChartResult{
		Dispatched:      []string{"tmdb"},
		PerSourceStatus: map[string]domain.SourceStatus{"tmdb": {Source: "tmdb", State: domain.SourceOK, Items: 1}},
		Results:         []domain.CanonicalResult{{ID: "tmdb:1", Title: "Dune"}},
	}, nil
}

func (r *blockingRunner) ChartSources() []domain.ChartSource { return nil }

func (r *blockingRunner) CacheStats(context.Context) domain.CacheStats { return domain.CacheStats{} }

func (r *blockingRunner) ProviderDiagnostics() []domain.ProviderDiagnostics { return nil }

func TestCollectSurvivesDepartedCaller(t *testing.T) {
	runner := &blockingRunner{started: make(chan struct{}), release: make(chan struct{})}
	collector := NewCollector(runner)

	callerCtx, cancel := context.WithCancel(context.Background())
	manual := make(chan error, 1)
	go func() {
		_, err := collector.Collect(callerCtx, TriggerManual, false)
		manual <- err
	}()
	<-runner.started

	scheduled := make(chan error, 1)
	go func() {
		_, err := collector.Collect(context.Background(), TriggerSchedule, false)
		scheduled <- err
	}()
	time.Sleep(50 * time.Millisecond)

	cancel()
	if err := <-manual; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected the departed caller to see cancellation, got %v", err)
	}
	close(runner.release)
	if err := <-scheduled; err != nil {
		t.Fatalf("expected the scheduled caller to get the run, got %v", err)
	}
	if runner.canceled.Load() {
		t.Fatal("expected the shared run not to be cancelled")
	}

	latest, err := collector.Latest(context.Background())
	if err != nil || latest.Total != 1 {
		t.Fatalf("expected the run persisted, got %+v err=%v", latest, err)
	}
}
