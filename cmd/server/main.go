package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.opentelemetry.io/contrib/instrumentation/go.mongodb.org/mongo-driver/mongo/otelmongo"

	apihttp "mediastream/discoveryservice/internal/api/http"
	"mediastream/discoveryservice/internal/app"
	"mediastream/discoveryservice/internal/chart"
	"mediastream/discoveryservice/internal/metrics"
	"mediastream/discoveryservice/internal/providers"
	"mediastream/discoveryservice/internal/providers/common"
	"mediastream/discoveryservice/internal/search"
	"mediastream/discoveryservice/internal/telemetry"
)

const serviceName = "discovery-service"

var version = "dev"

func main() {
	cfg := app.LoadConfig()
	logger := newLogger(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)
	metrics.Register(prometheus.DefaultRegisterer)

	shutdownTracer, err := telemetry.Init(context.Background(), serviceName, version)
	if err != nil {
		logger.Warn("otel init failed", slog.String("error", err.Error()))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	logger.Info("configuration loaded",
		slog.String("service", serviceName),
		slog.String("version", version),
		slog.String("httpAddr", cfg.HTTPAddr),
		slog.String("logLevel", cfg.LogLevel),
		slog.String("logFormat", cfg.LogFormat),
		slog.Duration("requestTimeout", cfg.RequestTimeout),
		slog.Duration("providerTimeout", cfg.ProviderTimeout),
		slog.String("providersFile", cfg.ProvidersFile),
		slog.Bool("hasRedis", strings.TrimSpace(cfg.RedisURL) != ""),
		slog.Bool("hasMongo", strings.TrimSpace(cfg.MongoURI) != ""),
		slog.Bool("cacheDisabled", cfg.CacheDisabled),
		slog.String("chartSchedule", cfg.ChartSchedule),
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	redisClient := connectRedis(rootCtx, cfg.RedisURL, logger)
	registry := search.NewRegistry(providers.Factory(common.Deps{
		HTTPClient: common.NewHTTPClient(cfg.ProviderTimeout),
		Redis:      redisClient,
		Logger:     logger,
	}))

	var overrides app.OverrideStore
	if redisClient != nil {
		overrides = app.NewRedisOverrideStore(redisClient, "")
	}
	manager := app.NewProviderManager(cfg.ProvidersFile, registry, overrides, logger)
	if err := manager.Reload(rootCtx); err != nil {
		logger.Error("provider configuration invalid", slog.String("path", cfg.ProvidersFile), slog.String("error", err.Error()))
		os.Exit(1)
	}

	searchService := search.NewService(registry, buildServiceOptions(cfg, manager.File(), redisClient, logger)...)
	searchService.StartBackground(rootCtx)

	if cfg.WatchProviders {
		if err := app.NewReloader(manager, logger).Start(rootCtx); err != nil {
			logger.Warn("provider file watch disabled", slog.String("error", err.Error()))
		}
	}

	store, mongoClient := buildChartStore(rootCtx, cfg, logger)
	collector := chart.NewCollector(searchService,
		chart.WithLogger(logger),
		chart.WithStore(store),
		chart.WithLimit(cfg.ChartLimit),
		chart.WithSchedule(cfg.ChartSchedule),
		chart.WithRunTimeout(cfg.ChartTimeout),
	)
	if err := collector.Start(rootCtx); err != nil {
		logger.Error("chart schedule invalid", slog.String("schedule", cfg.ChartSchedule), slog.String("error", err.Error()))
		os.Exit(1)
	}

	handler := apihttp.NewServer(searchService,
		apihttp.WithLogger(logger),
		apihttp.WithCharts(collector),
		apihttp.WithProviderSettings(manager),
		apihttp.WithRateLimit(float64(cfg.RateLimitRPS), cfg.RateLimitBurst),
		apihttp.WithMaxSearchTimeout(cfg.MaxTimeout),
	).Handler()
	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// Chart collection answers after a full pipeline run.
		WriteTimeout: max(cfg.RequestTimeout, cfg.MaxTimeout) + 30*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	logger.Info("discovery service started",
		slog.String("addr", cfg.HTTPAddr),
		slog.Duration("timeout", cfg.RequestTimeout),
		slog.Int("providers", len(registry.Configs())),
	)

	select {
	case <-rootCtx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown error", slog.String("error", err.Error()))
	}
	if mongoClient != nil {
		if err := mongoClient.Disconnect(shutdownCtx); err != nil {
			logger.Warn("mongo disconnect error", slog.String("error", err.Error()))
		}
	}
	if redisClient != nil {
		_ = redisClient.Close()
	}
	logger.Info("discovery service stopped")
}

func newLogger(levelRaw, formatRaw string) *slog.Logger {
	level := parseLogLevel(levelRaw)
	options := &slog.HandlerOptions{Level: level}
	format := strings.ToLower(strings.TrimSpace(formatRaw))
	if format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, options))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, options))
}

func parseLogLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// connectRedis returns nil when Redis is not configured or unreachable; the
// service then runs on in-process cache and overrides.
func connectRedis(ctx context.Context, rawURL string, logger *slog.Logger) *redis.Client {
	redisURL := strings.TrimSpace(rawURL)
	if redisURL == "" {
		return nil
	}
	redisOpts, err := redis.ParseURL(redisURL)
	if err != nil {
		logger.Warn("invalid redis url, using in-memory state only", slog.String("error", err.Error()))
		return nil
	}
	client := redis.NewClient(redisOpts)
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Warn("redis not reachable, using in-memory state only", slog.String("error", err.Error()))
		_ = client.Close()
		return nil
	}
	logger.Info("redis connected", slog.String("addr", redisOpts.Addr))
	return client
}

func buildServiceOptions(cfg app.Config, file *app.ProviderFile, redisClient *redis.Client, logger *slog.Logger) []search.ServiceOption {
	opts := []search.ServiceOption{
		search.WithLogger(logger),
		search.WithTimeouts(cfg.RequestTimeout, cfg.ProviderTimeout),
		search.WithMaxConcurrency(cfg.MaxConcurrency),
		search.WithCacheTTL(cfg.SearchCacheTTL, cfg.ChartCacheTTL),
		search.WithWarmer(cfg.WarmInterval, cfg.WarmTopQueries),
		search.WithPlanner(file.PlannerConfig(), search.DefaultScriptConverter()),
		search.WithScoring(file.ScoringConfig()),
		search.WithBreaker(file.BreakerConfig()),
		search.WithRetry(file.RetryConfig()),
		search.WithFieldPriority(file.FieldPriority),
	}

	mode := file.ExpansionMode()
	if cfg.ExpansionMode != "" {
		mode = search.ExpansionMode(cfg.ExpansionMode)
	}
	opts = append(opts, search.WithExpansionMode(mode))

	switch {
	case cfg.CacheDisabled:
		opts = append(opts, search.WithCache(search.NoCache{}))
	case redisClient != nil:
		opts = append(opts, search.WithCache(search.NewRedisCache(redisClient)))
	default:
		opts = append(opts, search.WithCache(search.NewMemoryCache(cfg.CacheMaxEntries, search.SystemClock())))
	}
	return opts
}

// buildChartStore prefers MongoDB and falls back to the in-process store.
func buildChartStore(ctx context.Context, cfg app.Config, logger *slog.Logger) (chart.Store, *mongo.Client) {
	if strings.TrimSpace(cfg.MongoURI) == "" {
		logger.Info("mongo not configured, chart runs kept in memory")
		return chart.NewMemoryStore(0), nil
	}
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	client, err := chart.Connect(connectCtx, cfg.MongoURI, options.Client().SetMonitor(otelmongo.NewMonitor()))
	if err != nil {
		logger.Warn("mongo connect failed, chart runs kept in memory", slog.String("error", err.Error()))
		return chart.NewMemoryStore(0), nil
	}
	if err := client.Ping(connectCtx, readpref.Primary()); err != nil {
		logger.Warn("mongo ping failed, chart runs kept in memory", slog.String("error", err.Error()))
		_ = client.Disconnect(context.Background())
		return chart.NewMemoryStore(0), nil
	}
	store := chart.NewMongoStore(client, cfg.MongoDatabase, "")
	if err := store.EnsureIndexes(connectCtx); err != nil {
		logger.Warn("mongo ensure indexes failed", slog.String("error", err.Error()))
	}
	logger.Info("mongo connected", slog.String("database", cfg.MongoDatabase))
	return store, client
}
