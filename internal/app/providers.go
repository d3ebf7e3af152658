package app

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"mediastream/discoveryservice/internal/domain"
	"mediastream/discoveryservice/internal/search"
)

// ProviderFile is the YAML document listing the sources and the pipeline
// tuning that goes with them.
type ProviderFile struct {
	Expansion     ExpansionSection    `yaml:"expansion"`
	Scoring       ScoringSection      `yaml:"scoring"`
	Breaker       BreakerSection      `yaml:"breaker"`
	Retry         RetrySection        `yaml:"retry"`
	FieldPriority map[string][]string `yaml:"field_priority"`
	Providers     []ProviderEntry     `yaml:"providers" validate:"required,min=1,dive"`
}

type ExpansionSection struct {
	Mode            string            `yaml:"mode" default:"fallback" validate:"oneof=fallback eager"`
	MaxVariants     int               `yaml:"max_variants" default:"5" validate:"min=1,max=10"`
	OldTitleYear    int               `yaml:"old_title_year" default:"2000"`
	ShortTitleRunes int               `yaml:"short_title_runes" default:"6"`
	StripYear       *bool             `yaml:"strip_year" default:"true"`
	RemoveSuffixes  *bool             `yaml:"remove_suffixes" default:"true"`
	AddSuffix       *bool             `yaml:"add_suffix" default:"true"`
	Script          *bool             `yaml:"script" default:"true"`
	Phonetic        *bool             `yaml:"phonetic" default:"true"`
	Suffixes        []string          `yaml:"suffixes"`
	RegionSuffix    map[string]string `yaml:"region_suffix"`
}

type ScoringSection struct {
	Weights           WeightsSection `yaml:"weights"`
	FreshnessHalfLife time.Duration  `yaml:"freshness_half_life" default:"720h"`
}

// WeightsSection uses pointers so an explicit 0 switches a signal off.
type WeightsSection struct {
	Confidence   *float64 `yaml:"confidence" default:"1"`
	Freshness    *float64 `yaml:"freshness" default:"0.3"`
	Similarity   *float64 `yaml:"similarity" default:"1.5"`
	Completeness *float64 `yaml:"completeness" default:"0.5"`
}

type BreakerSection struct {
	FailureThreshold int           `yaml:"failure_threshold" default:"5" validate:"min=1"`
	Window           time.Duration `yaml:"window" default:"1m"`
	Cooldown         time.Duration `yaml:"cooldown" default:"30s"`
	MaxCooldown      time.Duration `yaml:"max_cooldown" default:"15m"`
}

type RetrySection struct {
	MaxAttempts  int           `yaml:"max_attempts" default:"3" validate:"min=1,max=10"`
	InitialDelay time.Duration `yaml:"initial_delay" default:"300ms"`
	MaxDelay     time.Duration `yaml:"max_delay" default:"3s"`
	Multiplier   float64       `yaml:"multiplier" default:"2" validate:"gte=1"`
}

type ProviderEntry struct {
	Name          string         `yaml:"name" validate:"required"`
	Type          string         `yaml:"type"`
	Label         string         `yaml:"label"`
	Enabled       *bool          `yaml:"enabled" default:"true"`
	Capabilities  []string       `yaml:"capabilities" validate:"dive,oneof=search chart"`
	Kinds         []string       `yaml:"kinds" validate:"dive,oneof=all movie tv anime music"`
	Region        string         `yaml:"region"`
	Priority      float64        `yaml:"priority" default:"1" validate:"gt=0"`
	MaxConcurrent int            `yaml:"max_concurrent" default:"4" validate:"min=1"`
	RatePerSecond float64        `yaml:"rate_per_second" default:"5" validate:"gte=0"`
	Burst         int            `yaml:"burst" default:"2" validate:"min=0"`
	Timeout       time.Duration  `yaml:"timeout"`
	Transforms    []string       `yaml:"transforms" validate:"dive,oneof=original year_stripped suffix_removed suffix_added script phonetic"`
	Settings      map[string]any `yaml:"settings"`
}

var (
	validate    = validator.New()
	envRefRegex = regexp.MustCompile(`^\$\{([A-Z0-9_]+)\}$`)
)

// LoadProviderFile reads, defaults and validates the provider file.
func LoadProviderFile(path string) (*ProviderFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read provider file %s", path)
	}
	return ParseProviderFile(data)
}

func ParseProviderFile(data []byte) (*ProviderFile, error) {
	var file ProviderFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, errors.Wrap(err, "failed to parse provider file")
	}
	if err := defaults.Set(&file); err != nil {
		return nil, errors.Wrap(err, "failed to set defaults")
	}
	for i := range file.Providers {
		if err := defaults.Set(&file.Providers[i]); err != nil {
			return nil, errors.Wrapf(err, "failed to set defaults for provider %d", i)
		}
	}
	if err := validate.Struct(&file); err != nil {
		return nil, errors.Wrap(err, "provider file validation failed")
	}
	seen := make(map[string]struct{}, len(file.Providers))
	for _, entry := range file.Providers {
		key := strings.ToLower(strings.TrimSpace(entry.Name))
		if _, ok := seen[key]; ok {
			return nil, errors.Newf("duplicate provider %q", entry.Name)
		}
		seen[key] = struct{}{}
	}
	return &file, nil
}

// Configs converts the entries into registry configuration. Settings values
// of the form ${VAR} are read from the environment, and
// DISCOVERY_<NAME>_<SETTING> variables override any setting.
func (f *ProviderFile) Configs() []domain.ProviderConfig {
	configs := make([]domain.ProviderConfig, 0, len(f.Providers))
	for _, entry := range f.Providers {
		cfg := domain.ProviderConfig{
			Name:          strings.ToLower(strings.TrimSpace(entry.Name)),
			Type:          strings.ToLower(strings.TrimSpace(entry.Type)),
			Label:         entry.Label,
			Enabled:       entry.Enabled == nil || *entry.Enabled,
			Region:        strings.ToLower(entry.Region),
			Priority:      entry.Priority,
			MaxConcurrent: entry.MaxConcurrent,
			RatePerSecond: entry.RatePerSecond,
			Burst:         entry.Burst,
			Timeout:       entry.Timeout,
			Settings:      resolveSettings(entry.Name, entry.Settings),
		}
		if cfg.Label == "" {
			cfg.Label = entry.Name
		}
		for _, capability := range entry.Capabilities {
			cfg.Capabilities = append(cfg.Capabilities, domain.Capability(capability))
		}
		if len(cfg.Capabilities) == 0 {
			cfg.Capabilities = []domain.Capability{domain.CapabilitySearch}
		}
		for _, kind := range entry.Kinds {
			cfg.Kinds = append(cfg.Kinds, domain.MediaKind(kind))
		}
		for _, transform := range entry.Transforms {
			cfg.Transforms = append(cfg.Transforms, domain.Transform(transform))
		}
		configs = append(configs, cfg)
	}
	return configs
}

func resolveSettings(provider string, settings map[string]any) map[string]any {
	out := make(map[string]any, len(settings))
	for key, value := range settings {
		if text, ok := value.(string); ok {
			if match := envRefRegex.FindStringSubmatch(strings.TrimSpace(text)); match != nil {
				value = os.Getenv(match[1])
			}
		}
		out[key] = value
	}
	prefix := "DISCOVERY_" + envToken(provider) + "_"
	for _, pair := range os.Environ() {
		name, value, ok := strings.Cut(pair, "=")
		if !ok || !strings.HasPrefix(name, prefix) || value == "" {
			continue
		}
		out[strings.ToLower(strings.TrimPrefix(name, prefix))] = value
	}
	return out
}

func envToken(name string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(strings.TrimSpace(name)) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}

func (f *ProviderFile) PlannerConfig() search.PlannerConfig {
	cfg := search.DefaultPlannerConfig()
	e := f.Expansion
	cfg.MaxVariants = e.MaxVariants
	cfg.OldTitleYear = e.OldTitleYear
	cfg.ShortTitleRunes = e.ShortTitleRunes
	cfg.StripYear = boolOr(e.StripYear, true)
	cfg.RemoveSuffixes = boolOr(e.RemoveSuffixes, true)
	cfg.AddSuffix = boolOr(e.AddSuffix, true)
	cfg.Script = boolOr(e.Script, true)
	cfg.Phonetic = boolOr(e.Phonetic, true)
	if len(e.Suffixes) > 0 {
		cfg.Suffixes = e.Suffixes
	}
	if len(e.RegionSuffix) > 0 {
		cfg.RegionSuffix = make(map[string]string, len(e.RegionSuffix))
		for region, suffix := range e.RegionSuffix {
			cfg.RegionSuffix[strings.ToLower(region)] = suffix
		}
	}
	return cfg
}

func (f *ProviderFile) ExpansionMode() search.ExpansionMode {
	return search.ExpansionMode(f.Expansion.Mode)
}

func (f *ProviderFile) ScoringConfig() search.ScoringConfig {
	defaultWeights := search.DefaultScoringConfig().Weights
	w := f.Scoring.Weights
	return search.ScoringConfig{
		Weights: search.ScoreWeights{
			Confidence:   floatOr(w.Confidence, defaultWeights.Confidence),
			Freshness:    floatOr(w.Freshness, defaultWeights.Freshness),
			Similarity:   floatOr(w.Similarity, defaultWeights.Similarity),
			Completeness: floatOr(w.Completeness, defaultWeights.Completeness),
		},
		FreshnessHalfLife: f.Scoring.FreshnessHalfLife,
	}
}

func (f *ProviderFile) BreakerConfig() search.BreakerConfig {
	return search.BreakerConfig{
		FailureThreshold: f.Breaker.FailureThreshold,
		Window:           f.Breaker.Window,
		Cooldown:         f.Breaker.Cooldown,
		MaxCooldown:      f.Breaker.MaxCooldown,
	}
}

func (f *ProviderFile) RetryConfig() search.RetryConfig {
	return search.RetryConfig{
		MaxAttempts:  f.Retry.MaxAttempts,
		InitialDelay: f.Retry.InitialDelay,
		MaxDelay:     f.Retry.MaxDelay,
		Multiplier:   f.Retry.Multiplier,
	}
}

func boolOr(value *bool, fallback bool) bool {
	if value == nil {
		return fallback
	}
	return *value
}

func floatOr(value *float64, fallback float64) float64 {
	if value == nil {
		return fallback
	}
	return *value
}

// describeEntry is used in reload logs.
func describeEntry(cfg domain.ProviderConfig) string {
	state := "enabled"
	if !cfg.Enabled {
		state = "disabled"
	}
	return fmt.Sprintf("%s(%s,%s,p=%.2f)", cfg.Name, cfg.Type, state, cfg.Priority)
}
