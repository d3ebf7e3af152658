package chart

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	cerrors "github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"mediastream/discoveryservice/internal/domain"
	"mediastream/discoveryservice/internal/metrics"
)

const (
	TriggerSchedule = "schedule"
	TriggerManual   = "manual"

	statusOK       = "ok"
	statusDegraded = "degraded"
	statusError    = "error"

	defaultRunTimeout = 2 * time.Minute
)

// Runner is the slice of the search service the collector drives.
type Runner interface {
	CollectChart(ctx context.Context, request domain.ChartRequest) (domain.ChartResult, error)
	ChartSources() []domain.ChartSource
	CacheStats(ctx context.Context) domain.CacheStats
	ProviderDiagnostics() []domain.ProviderDiagnostics
}

type Collector struct {
	runner   Runner
	store    Store
	logger   *slog.Logger
	now      func() time.Time
	kind     domain.MediaKind
	limit    int
	schedule string
	timeout  time.Duration

	group singleflight.Group

	cronMu  sync.Mutex
	cron    *cron.Cron
	entryID cron.EntryID

	runs     atomic.Int64
	failures atomic.Int64

	lastMu sync.RWMutex
	last   *domain.ChartRun
}

type Option func(*Collector)

func WithStore(store Store) Option {
	return func(c *Collector) {
		if store != nil {
			c.store = store
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Collector) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Collector) {
		if now != nil {
			c.now = now
		}
	}
}

func WithLimit(limit int) Option {
	return func(c *Collector) {
		if limit > 0 {
			c.limit = limit
		}
	}
}

// WithRunTimeout bounds one collection, independent of the callers waiting on it.
func WithRunTimeout(d time.Duration) Option {
	return func(c *Collector) {
		if d > 0 {
			c.timeout = d
		}
	}
}

func WithKind(kind domain.MediaKind) Option {
	return func(c *Collector) {
		c.kind = kind
	}
}

// WithSchedule sets the cron spec ("@every 6h", "0 */6 * * *"). Empty or
// "off" disables scheduled runs.
func WithSchedule(spec string) Option {
	return func(c *Collector) {
		c.schedule = strings.TrimSpace(spec)
	}
}

func NewCollector(runner Runner, opts ...Option) *Collector {
	c := &Collector{
		runner:  runner,
		store:   NewMemoryStore(0),
		logger:  slog.Default(),
		now:     time.Now,
		kind:    domain.KindAll,
		timeout: defaultRunTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Collect runs the chart pipeline once and persists the result. Concurrent
// calls share the run already in flight. The run outlives a caller that
// stops waiting; only the run timeout ends it.
func (c *Collector) Collect(ctx context.Context, trigger string, refresh bool) (domain.ChartRun, error) {
	ch := c.group.DoChan("collect", func() (any, error) {
		runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
		defer cancel()
		return c.collect(runCtx, trigger, refresh)
	})
	select {
	case <-ctx.Done():
		return domain.ChartRun{}, ctx.Err()
	case res := <-ch:
		run, _ := res.Val.(domain.ChartRun)
		if res.Shared {
			c.logger.Debug("chart run shared", slog.String("runId", run.ID), slog.String("trigger", trigger))
		}
		return run, res.Err
	}
}

func (c *Collector) collect(ctx context.Context, trigger string, refresh bool) (domain.ChartRun, error) {
	run := domain.ChartRun{
		ID:        uuid.NewString(),
		Trigger:   trigger,
		StartedAt: c.now().UTC(),
	}
	logger := c.logger.With(slog.String("runId", run.ID), slog.String("trigger", trigger))

	result, err := c.runner.CollectChart(ctx, domain.ChartRequest{
		Kind:          c.kind,
		Limit:         c.limit,
		NoCache:       refresh,
		CorrelationID: run.ID,
	})
	run.FinishedAt = c.now().UTC()
	c.runs.Add(1)
	if err != nil {
		run.Error = err.Error()
		c.failures.Add(1)
		c.remember(run)
		metrics.ChartRunsTotal.WithLabelValues(trigger, statusError).Inc()
		logger.Warn("chart run failed", slog.String("error", err.Error()))
		return run, err
	}

	run.Dispatched = result.Dispatched
	run.PerSourceStatus = result.PerSourceStatus
	run.Results = result.Results
	run.Total = len(result.Results)
	status := runStatus(run)
	if status == statusError {
		c.failures.Add(1)
	}
	metrics.ChartRunsTotal.WithLabelValues(trigger, status).Inc()

	if err := c.store.Save(ctx, run); err != nil {
		logger.Warn("chart run not persisted", slog.String("error", err.Error()))
	}
	c.remember(run)

	logger.Info("chart run finished",
		slog.String("status", status),
		slog.Int("results", run.Total),
		slog.Any("dispatched", run.Dispatched),
		slog.Bool("cacheHit", result.CacheHit),
		slog.Duration("elapsed", run.FinishedAt.Sub(run.StartedAt)),
	)
	return run, nil
}

func runStatus(run domain.ChartRun) string {
	responded := 0
	for _, name := range run.Dispatched {
		if status, ok := run.PerSourceStatus[name]; ok && status.State.Responded() {
			responded++
		}
	}
	switch {
	case responded == len(run.Dispatched):
		return statusOK
	case responded == 0:
		return statusError
	default:
		return statusDegraded
	}
}

func (c *Collector) remember(run domain.ChartRun) {
	summary := run
	summary.Results = nil
	c.lastMu.Lock()
	c.last = &summary
	c.lastMu.Unlock()
}

// Latest returns the newest persisted run, results included.
func (c *Collector) Latest(ctx context.Context) (domain.ChartRun, error) {
	return c.store.Latest(ctx)
}

func (c *Collector) Sources() []domain.ChartSource {
	return c.runner.ChartSources()
}

func (c *Collector) Stats(ctx context.Context) (domain.ChartStats, error) {
	stats := domain.ChartStats{
		Runs:      c.runs.Load(),
		Failures:  c.failures.Load(),
		Schedule:  c.schedule,
		NextRunAt: c.nextRun(),
		Providers: c.runner.ProviderDiagnostics(),
	}
	c.lastMu.RLock()
	if c.last != nil {
		last := *c.last
		stats.LastRun = &last
	}
	c.lastMu.RUnlock()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		stored, err := c.store.Count(gctx)
		if err != nil {
			return cerrors.Wrap(err, "count chart runs")
		}
		stats.Stored = stored
		return nil
	})
	g.Go(func() error {
		stats.Cache = c.runner.CacheStats(gctx)
		return nil
	})
	if err := g.Wait(); err != nil {
		return domain.ChartStats{}, err
	}
	return stats, nil
}

// Start registers the scheduled run. The scheduler stops when ctx is done.
func (c *Collector) Start(ctx context.Context) error {
	if c.schedule == "" || strings.EqualFold(c.schedule, "off") {
		c.logger.Info("chart schedule disabled")
		return nil
	}
	scheduler := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
	id, err := scheduler.AddFunc(c.schedule, func() {
		if _, err := c.Collect(ctx, TriggerSchedule, false); err != nil && !errors.Is(err, context.Canceled) {
			c.logger.Warn("scheduled chart run failed", slog.String("error", err.Error()))
		}
	})
	if err != nil {
		return domain.NewValidationError("chart_schedule", err.Error())
	}

	c.cronMu.Lock()
	c.cron = scheduler
	c.entryID = id
	c.cronMu.Unlock()

	scheduler.Start()
	c.logger.Info("chart schedule started", slog.String("schedule", c.schedule))
	go func() {
		<-ctx.Done()
		<-scheduler.Stop().Done()
	}()
	return nil
}

func (c *Collector) nextRun() *time.Time {
	c.cronMu.Lock()
	defer c.cronMu.Unlock()
	if c.cron == nil {
		return nil
	}
	next := c.cron.Entry(c.entryID).Next
	if next.IsZero() {
		return nil
	}
	return &next
}
