package search

import (
	"sort"
	"strings"
	"sync"
	"time"

	"mediastream/discoveryservice/internal/domain"
	"mediastream/discoveryservice/internal/metrics"
)

const (
	defaultFailureThreshold = 3
	defaultFailureWindow    = time.Minute
	defaultCooldown         = 30 * time.Second
	defaultMaxCooldown      = 15 * time.Minute
)

// BreakerConfig configures the per-provider circuit breaker.
type BreakerConfig struct {
	FailureThreshold int
	Window           time.Duration
	Cooldown         time.Duration
	MaxCooldown      time.Duration
}

func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: defaultFailureThreshold,
		Window:           defaultFailureWindow,
		Cooldown:         defaultCooldown,
		MaxCooldown:      defaultMaxCooldown,
	}
}

func (c BreakerConfig) withDefaults() BreakerConfig {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = defaultFailureThreshold
	}
	if c.Window <= 0 {
		c.Window = defaultFailureWindow
	}
	if c.Cooldown <= 0 {
		c.Cooldown = defaultCooldown
	}
	if c.MaxCooldown < c.Cooldown {
		c.MaxCooldown = c.Cooldown
	}
	return c
}

type providerHealth struct {
	state         domain.CircuitState
	failures      []time.Time
	openUntil     time.Time
	cooldown      time.Duration
	probing       bool
	lastError     string
	lastSuccessAt time.Time
	lastFailureAt time.Time
	lastLatency   time.Duration
	lastTimeout   bool
	lastQuery     string
	totalRequests int64
	totalFailures int64
	timeoutCount  int64
	trips         int64
}

// HealthTracker owns the circuit state of every provider. It is the only
// writer of provider health.
type HealthTracker struct {
	cfg   BreakerConfig
	clock Clock

	mu      sync.Mutex
	entries map[string]*providerHealth
}

func NewHealthTracker(cfg BreakerConfig, clock Clock) *HealthTracker {
	if clock == nil {
		clock = SystemClock()
	}
	return &HealthTracker{
		cfg:     cfg.withDefaults(),
		clock:   clock,
		entries: make(map[string]*providerHealth),
	}
}

func (h *HealthTracker) entryLocked(name string) *providerHealth {
	state := h.entries[name]
	if state == nil {
		state = &providerHealth{state: domain.CircuitClosed, cooldown: h.cfg.Cooldown}
		h.entries[name] = state
	}
	return state
}

// Allow reports whether a call to the provider may proceed. An open circuit
// whose cooldown elapsed moves to half-open and admits exactly one trial call.
func (h *HealthTracker) Allow(providerName string) (bool, time.Time) {
	name := normalizeName(providerName)
	if name == "" {
		return false, time.Time{}
	}
	now := h.clock.Now()

	h.mu.Lock()
	defer h.mu.Unlock()

	state := h.entryLocked(name)
	switch state.state {
	case domain.CircuitOpen:
		if now.Before(state.openUntil) {
			return false, state.openUntil
		}
		state.state = domain.CircuitHalfOpen
		state.probing = true
		setCircuitGauge(name, state.state)
		return true, time.Time{}
	case domain.CircuitHalfOpen:
		if state.probing {
			return false, state.openUntil
		}
		state.probing = true
		return true, time.Time{}
	default:
		return true, time.Time{}
	}
}

// Record stores the outcome of an admitted call. A nil err is a success.
func (h *HealthTracker) Record(providerName, query string, err error, latency time.Duration) {
	name := normalizeName(providerName)
	if name == "" {
		return
	}
	now := h.clock.Now()

	h.mu.Lock()
	defer h.mu.Unlock()

	state := h.entryLocked(name)
	state.totalRequests++
	state.lastQuery = strings.TrimSpace(query)
	if latency > 0 {
		state.lastLatency = latency
		metrics.ProviderRequestDuration.WithLabelValues(name).Observe(latency.Seconds())
	}
	state.lastTimeout = isTimeoutLikeError(err)
	if state.lastTimeout {
		state.timeoutCount++
	}

	if err == nil {
		state.state = domain.CircuitClosed
		state.failures = state.failures[:0]
		state.openUntil = time.Time{}
		state.cooldown = h.cfg.Cooldown
		state.probing = false
		state.lastError = ""
		state.lastSuccessAt = now
		setCircuitGauge(name, state.state)
		return
	}

	state.totalFailures++
	state.lastFailureAt = now
	state.lastError = err.Error()

	if state.state == domain.CircuitHalfOpen {
		state.probing = false
		state.cooldown = min(state.cooldown*2, h.cfg.MaxCooldown)
		h.tripLocked(name, state, now)
		return
	}

	cutoff := now.Add(-h.cfg.Window)
	kept := state.failures[:0]
	for _, at := range state.failures {
		if at.After(cutoff) {
			kept = append(kept, at)
		}
	}
	state.failures = append(kept, now)
	if state.state == domain.CircuitClosed && len(state.failures) >= h.cfg.FailureThreshold {
		h.tripLocked(name, state, now)
	}
}

// Release returns an admitted call without judging the provider, e.g. when
// the caller went away before the provider answered.
func (h *HealthTracker) Release(providerName string) {
	name := normalizeName(providerName)
	h.mu.Lock()
	defer h.mu.Unlock()
	if state := h.entries[name]; state != nil && state.state == domain.CircuitHalfOpen {
		state.probing = false
	}
}

func (h *HealthTracker) tripLocked(name string, state *providerHealth, now time.Time) {
	state.state = domain.CircuitOpen
	state.openUntil = now.Add(state.cooldown)
	state.failures = state.failures[:0]
	state.trips++
	metrics.CircuitTripsTotal.WithLabelValues(name).Inc()
	setCircuitGauge(name, state.state)
}

// Reset closes the provider circuit and forgets its failure history.
func (h *HealthTracker) Reset(providerName string) {
	name := normalizeName(providerName)
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.entries, name)
	setCircuitGauge(name, domain.CircuitClosed)
}

func (h *HealthTracker) ResetAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for name := range h.entries {
		setCircuitGauge(name, domain.CircuitClosed)
	}
	h.entries = make(map[string]*providerHealth)
}

func (h *HealthTracker) State(providerName string) domain.CircuitState {
	name := normalizeName(providerName)
	h.mu.Lock()
	defer h.mu.Unlock()
	if state := h.entries[name]; state != nil {
		return state.state
	}
	return domain.CircuitClosed
}

// Diagnostics reports health for the given providers sorted by name.
func (h *HealthTracker) Diagnostics(infos []domain.ProviderInfo) []domain.ProviderDiagnostics {
	h.mu.Lock()
	defer h.mu.Unlock()

	items := make([]domain.ProviderDiagnostics, 0, len(infos))
	for _, info := range infos {
		name := normalizeName(info.Name)
		item := domain.ProviderDiagnostics{
			Name:    name,
			Label:   info.Label,
			Enabled: info.Enabled,
			Circuit: domain.CircuitClosed,
		}
		if state := h.entries[name]; state != nil {
			item.Circuit = state.state
			item.ConsecutiveFailures = len(state.failures)
			if !state.openUntil.IsZero() {
				openUntil := state.openUntil
				item.OpenUntil = &openUntil
			}
			item.LastError = state.lastError
			if !state.lastSuccessAt.IsZero() {
				lastSuccessAt := state.lastSuccessAt
				item.LastSuccessAt = &lastSuccessAt
			}
			if !state.lastFailureAt.IsZero() {
				lastFailureAt := state.lastFailureAt
				item.LastFailureAt = &lastFailureAt
			}
			item.LastLatencyMS = state.lastLatency.Milliseconds()
			item.LastTimeout = state.lastTimeout
			item.LastQuery = state.lastQuery
			item.TotalRequests = state.totalRequests
			item.TotalFailures = state.totalFailures
			item.TimeoutCount = state.timeoutCount
			item.Trips = state.trips
		}
		items = append(items, item)
	}

	sort.Slice(items, func(i, j int) bool {
		return items[i].Name < items[j].Name
	})
	return items
}

func setCircuitGauge(name string, state domain.CircuitState) {
	value := 0.0
	switch state {
	case domain.CircuitHalfOpen:
		value = 1
	case domain.CircuitOpen:
		value = 2
	}
	metrics.CircuitState.WithLabelValues(name).Set(value)
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
