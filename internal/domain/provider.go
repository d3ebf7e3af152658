package domain

import (
	"slices"
	"strings"
	"time"
)

type Capability string

const (
	CapabilitySearch Capability = "search"
	CapabilityChart  Capability = "chart"
)

// ProviderConfig is the read-mostly per-source configuration supplied by the
// provider file and runtime overrides.
type ProviderConfig struct {
	Name          string         `json:"name"`
	Type          string         `json:"type"`
	Label         string         `json:"label"`
	Enabled       bool           `json:"enabled"`
	Capabilities  []Capability   `json:"capabilities"`
	Kinds         []MediaKind    `json:"kinds"`
	Region        string         `json:"region,omitempty"`
	Priority      float64        `json:"priority"`
	MaxConcurrent int            `json:"max_concurrent"`
	RatePerSecond float64        `json:"rate_per_second"`
	Burst         int            `json:"burst"`
	Timeout       time.Duration  `json:"timeout"`
	Transforms    []Transform    `json:"transforms,omitempty"`
	Settings      map[string]any `json:"-"`
}

func (c ProviderConfig) Has(capability Capability) bool {
	return slices.Contains(c.Capabilities, capability)
}

// Supports reports whether the provider indexes the requested kind.
func (c ProviderConfig) Supports(kind MediaKind) bool {
	if len(c.Kinds) == 0 || kind == "" || kind == KindAll {
		return true
	}
	for _, k := range c.Kinds {
		if k == kind || k == KindAll {
			return true
		}
	}
	return false
}

// Accepts reports whether a variant produced by transform may be sent to the provider.
func (c ProviderConfig) Accepts(transform Transform) bool {
	if transform == TransformOriginal || transform == TransformChart || len(c.Transforms) == 0 {
		return true
	}
	return slices.Contains(c.Transforms, transform)
}

func (c ProviderConfig) Key() string {
	return strings.ToLower(strings.TrimSpace(c.Name))
}

type ProviderInfo struct {
	Name         string       `json:"name"`
	Label        string       `json:"label"`
	Type         string       `json:"type"`
	Enabled      bool         `json:"enabled"`
	Capabilities []Capability `json:"capabilities"`
	Kinds        []MediaKind  `json:"kinds,omitempty"`
	Region       string       `json:"region,omitempty"`
	Priority     float64      `json:"priority"`
	Error        string       `json:"error,omitempty"`
}

type CircuitState string

const (
	CircuitClosed   CircuitState = "closed"
	CircuitOpen     CircuitState = "open"
	CircuitHalfOpen CircuitState = "half_open"
)

type ProviderDiagnostics struct {
	Name                string       `json:"name"`
	Label               string       `json:"label"`
	Enabled             bool         `json:"enabled"`
	Circuit             CircuitState `json:"circuit"`
	ConsecutiveFailures int          `json:"consecutive_failures"`
	OpenUntil           *time.Time   `json:"open_until,omitempty"`
	LastError           string       `json:"last_error,omitempty"`
	LastSuccessAt       *time.Time   `json:"last_success_at,omitempty"`
	LastFailureAt       *time.Time   `json:"last_failure_at,omitempty"`
	LastLatencyMS       int64        `json:"last_latency_ms"`
	LastTimeout         bool         `json:"last_timeout"`
	LastQuery           string       `json:"last_query,omitempty"`
	TotalRequests       int64        `json:"total_requests"`
	TotalFailures       int64        `json:"total_failures"`
	TimeoutCount        int64        `json:"timeout_count"`
	Trips               int64        `json:"trips"`
}

// ProviderOverride is a runtime patch layered over the provider file.
type ProviderOverride struct {
	Enabled  *bool             `json:"enabled,omitempty"`
	Priority *float64          `json:"priority,omitempty"`
	Region   *string           `json:"region,omitempty"`
	Settings map[string]string `json:"settings,omitempty"`
}

func (o ProviderOverride) Empty() bool {
	return o.Enabled == nil && o.Priority == nil && o.Region == nil && len(o.Settings) == 0
}

// ProviderSettingsView is what the settings endpoint exposes; secrets are masked.
type ProviderSettingsView struct {
	Name       string            `json:"name"`
	Type       string            `json:"type"`
	Enabled    bool              `json:"enabled"`
	Priority   float64           `json:"priority"`
	Region     string            `json:"region,omitempty"`
	Settings   map[string]string `json:"settings,omitempty"`
	Overridden bool              `json:"overridden"`
}
