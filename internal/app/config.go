package app

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	HTTPAddr        string
	RequestTimeout  time.Duration
	MaxTimeout      time.Duration
	ProviderTimeout time.Duration
	LogLevel        string
	LogFormat       string
	ProvidersFile   string
	WatchProviders  bool
	RedisURL        string
	MongoURI        string
	MongoDatabase   string
	CacheDisabled   bool
	CacheMaxEntries int
	SearchCacheTTL  time.Duration
	ChartCacheTTL   time.Duration
	ChartSchedule   string
	ChartLimit      int
	ChartTimeout    time.Duration
	ExpansionMode   string
	MaxConcurrency  int
	WarmInterval    time.Duration
	WarmTopQueries  int
	RateLimitRPS    int
	RateLimitBurst  int
}

// LoadConfig reads the process configuration from the environment. A .env
// file in the working directory, when present, fills unset variables.
func LoadConfig() Config {
	_ = godotenv.Load()

	return Config{
		HTTPAddr:        getEnv("HTTP_ADDR", ":8090"),
		RequestTimeout:  getEnvDuration("SEARCH_TIMEOUT", 10*time.Second),
		MaxTimeout:      getEnvDuration("SEARCH_MAX_TIMEOUT", 30*time.Second),
		ProviderTimeout: getEnvDuration("PROVIDER_TIMEOUT", 4*time.Second),
		LogLevel:        strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFormat:       strings.ToLower(getEnv("LOG_FORMAT", "text")),
		ProvidersFile:   getEnv("PROVIDERS_FILE", "config/providers.yaml"),
		WatchProviders:  getEnvBool("PROVIDERS_WATCH", true),
		RedisURL:        getEnv("REDIS_URL", ""),
		MongoURI:        getEnv("MONGO_URI", ""),
		MongoDatabase:   getEnv("MONGO_DATABASE", "discovery"),
		CacheDisabled:   getEnvBool("SEARCH_CACHE_DISABLED", false),
		CacheMaxEntries: getEnvInt("SEARCH_CACHE_MAX_ENTRIES", 400),
		SearchCacheTTL:  getEnvDuration("SEARCH_CACHE_TTL", 5*time.Minute),
		ChartCacheTTL:   getEnvDuration("CHART_CACHE_TTL", 30*time.Minute),
		ChartSchedule:   getEnv("CHART_SCHEDULE", "@every 6h"),
		ChartLimit:      getEnvInt("CHART_LIMIT", 50),
		ChartTimeout:    getEnvDuration("CHART_RUN_TIMEOUT", 2*time.Minute),
		ExpansionMode:   strings.ToLower(getEnv("SEARCH_EXPANSION_MODE", "")),
		MaxConcurrency:  getEnvInt("SEARCH_MAX_CONCURRENCY", 32),
		WarmInterval:    getEnvDuration("SEARCH_WARM_INTERVAL", 5*time.Minute),
		WarmTopQueries:  getEnvInt("SEARCH_WARM_TOP_QUERIES", 12),
		RateLimitRPS:    getEnvInt("HTTP_RATE_LIMIT_RPS", 50),
		RateLimitBurst:  getEnvInt("HTTP_RATE_LIMIT_BURST", 100),
	}
}

func getEnv(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func getEnvInt(key string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func getEnvBool(key string, fallback bool) bool {
	raw := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if raw == "" {
		return fallback
	}
	switch raw {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

// getEnvDuration accepts Go durations ("90s") and bare seconds ("90").
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	if seconds, err := strconv.Atoi(raw); err == nil {
		if seconds <= 0 {
			return fallback
		}
		return time.Duration(seconds) * time.Second
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}
