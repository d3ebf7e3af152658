package apihttp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"mediastream/discoveryservice/internal/chart"
	"mediastream/discoveryservice/internal/domain"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type SearchService interface {
	Search(ctx context.Context, request domain.SearchRequest) (domain.SearchResponse, error)
	Suggest(ctx context.Context, query string, limit int) ([]string, error)
	Providers() []domain.ProviderInfo
	ProviderDiagnostics() []domain.ProviderDiagnostics
	ResetProviderHealth(name string) error
}

type ChartService interface {
	Collect(ctx context.Context, trigger string, refresh bool) (domain.ChartRun, error)
	Latest(ctx context.Context) (domain.ChartRun, error)
	Sources() []domain.ChartSource
	Stats(ctx context.Context) (domain.ChartStats, error)
}

type ProviderSettingsService interface {
	List() []domain.ProviderSettingsView
	Patch(ctx context.Context, name string, patch domain.ProviderOverride) (domain.ProviderSettingsView, error)
}

type Server struct {
	search    SearchService
	charts    ChartService
	settings  ProviderSettingsService
	logger    *slog.Logger
	rateRPS   float64
	rateBurst int

	// maxTimeout caps the timeout_ms a caller may ask for.
	maxTimeout time.Duration
}

const (
	defaultRateRPS    = 50
	defaultRateBurst  = 100
	defaultMaxTimeout = 30 * time.Second
)

type ServerOption func(*Server)

func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

func WithCharts(charts ChartService) ServerOption {
	return func(s *Server) {
		s.charts = charts
	}
}

func WithProviderSettings(settings ProviderSettingsService) ServerOption {
	return func(s *Server) {
		s.settings = settings
	}
}

func WithRateLimit(rps float64, burst int) ServerOption {
	return func(s *Server) {
		if rps > 0 {
			s.rateRPS = rps
		}
		if burst > 0 {
			s.rateBurst = burst
		}
	}
}

// WithMaxSearchTimeout bounds the per-request timeout_ms parameter.
func WithMaxSearchTimeout(d time.Duration) ServerOption {
	return func(s *Server) {
		if d > 0 {
			s.maxTimeout = d
		}
	}
}

func NewServer(searchService SearchService, options ...ServerOption) *Server {
	server := &Server{
		search:     searchService,
		logger:     slog.Default(),
		rateRPS:    defaultRateRPS,
		rateBurst:  defaultRateBurst,
		maxTimeout: defaultMaxTimeout,
	}
	for _, option := range options {
		if option != nil {
			option(server)
		}
	}
	if server.logger == nil {
		server.logger = slog.Default()
	}
	return server
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/search", s.handleSearch)
	mux.HandleFunc("/search/suggest", s.handleSearchSuggest)
	mux.HandleFunc("/search/providers", s.handleProviders)
	mux.HandleFunc("/search/providers/health", s.handleProvidersHealth)
	mux.HandleFunc("/search/providers/reset", s.handleProvidersReset)
	mux.HandleFunc("/search/settings/providers", s.handleProviderSettings)
	mux.HandleFunc("/chart/collect", s.handleChartCollect)
	mux.HandleFunc("/chart/items", s.handleChartItems)
	mux.HandleFunc("/chart/sources", s.handleChartSources)
	mux.HandleFunc("/chart/stats", s.handleChartStats)
	traced := otelhttp.NewHandler(loggingMiddleware(s.logger, mux), "discovery-service",
		otelhttp.WithFilter(func(r *http.Request) bool {
			p := r.URL.Path
			return p != "/metrics" && p != "/health"
		}),
	)
	return recoveryMiddleware(s.logger,
		correlationMiddleware(rateLimitMiddleware(s.rateRPS, s.rateBurst, metricsMiddleware(traced))))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC(),
	})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/search" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.search == nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "search service is not configured")
		return
	}

	q := r.URL.Query()
	request := domain.SearchRequest{
		Query:         strings.TrimSpace(q.Get("q")),
		Kind:          domain.MediaKind(strings.TrimSpace(q.Get("type"))),
		Region:        q.Get("region"),
		Sources:       parseCSV(q.Get("sources")),
		Expand:        parseOptionalBool(q.Get("expand")),
		NoCache:       parseOptionalBool(q.Get("nocache")),
		CorrelationID: CorrelationID(r.Context()),
	}
	var err error
	if request.Limit, err = parseIntParam(r, "limit"); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid limit")
		return
	}
	if request.Offset, err = parseIntParam(r, "offset"); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid offset")
		return
	}
	if request.Year, err = parseIntParam(r, "year"); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid year")
		return
	}
	timeoutMS, err := parseIntParam(r, "timeout_ms")
	if err != nil || timeoutMS < 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid timeout_ms")
		return
	}
	request.Timeout = min(time.Duration(timeoutMS)*time.Millisecond, s.maxTimeout)

	response, err := s.search.Search(r.Context(), request)
	if err != nil {
		s.logger.Warn("search request failed",
			slog.String("correlationId", request.CorrelationID),
			slog.String("query", truncate(request.Query, 80)),
			slog.Any("sources", request.Sources),
			slog.String("error", err.Error()),
		)
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, response)
}

func (s *Server) handleSearchSuggest(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/search/suggest" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.search == nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "search service is not configured")
		return
	}
	limit, err := parseIntParam(r, "limit")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid limit")
		return
	}
	items, err := s.search.Suggest(r.Context(), r.URL.Query().Get("q"), limit)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	if items == nil {
		items = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *Server) handleProviders(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/search/providers" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.search == nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "search service is not configured")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": s.search.Providers(),
	})
}

func (s *Server) handleProvidersHealth(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/search/providers/health" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.search == nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "search service is not configured")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"checked_at": time.Now().UTC(),
		"items":      s.search.ProviderDiagnostics(),
	})
}

// handleProvidersReset closes the circuit of ?provider=name, or of every
// provider when the parameter is absent.
func (s *Server) handleProvidersReset(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/search/providers/reset" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.search == nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "search service is not configured")
		return
	}
	provider := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("provider")))
	if err := s.search.ResetProviderHealth(provider); err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.logger.Info("provider health reset", slog.String("provider", provider))
	writeJSON(w, http.StatusOK, map[string]any{
		"reset": provider,
		"items": s.search.ProviderDiagnostics(),
	})
}

func (s *Server) handleProviderSettings(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/search/settings/providers" {
		http.NotFound(w, r)
		return
	}
	if s.settings == nil {
		writeError(w, http.StatusNotImplemented, "not_configured", "provider settings service is not configured")
		return
	}

	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]any{
			"items": s.settings.List(),
		})
	case http.MethodPatch:
		var payload struct {
			Provider string            `json:"provider"`
			Enabled  *bool             `json:"enabled"`
			Priority *float64          `json:"priority"`
			Region   *string           `json:"region"`
			Settings map[string]string `json:"settings"`
		}
		if err := decodeJSONBody(r, &payload); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}
		item, err := s.settings.Patch(r.Context(), payload.Provider, domain.ProviderOverride{
			Enabled:  payload.Enabled,
			Priority: payload.Priority,
			Region:   payload.Region,
			Settings: payload.Settings,
		})
		if err != nil {
			s.logger.Warn("provider settings update failed",
				slog.String("provider", payload.Provider),
				slog.String("error", err.Error()),
			)
			s.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, item)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleChartCollect(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/chart/collect" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.charts == nil {
		writeError(w, http.StatusNotImplemented, "not_configured", "chart collection is not configured")
		return
	}
	run, err := s.charts.Collect(r.Context(), chart.TriggerManual, parseOptionalBool(r.URL.Query().Get("refresh")))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	run.Results = nil
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleChartItems(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/chart/items" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.charts == nil {
		writeError(w, http.StatusNotImplemented, "not_configured", "chart collection is not configured")
		return
	}
	limit, err := parseIntParam(r, "limit")
	if err != nil || limit < 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid limit")
		return
	}
	run, err := s.charts.Latest(r.Context())
	if err != nil {
		if errors.Is(err, chart.ErrNoRuns) {
			writeError(w, http.StatusNotFound, "not_found", err.Error())
			return
		}
		s.writeServiceError(w, err)
		return
	}
	items := run.Results
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	if items == nil {
		items = []domain.CanonicalResult{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"run_id":      run.ID,
		"finished_at": run.FinishedAt,
		"total":       run.Total,
		"items":       items,
	})
}

func (s *Server) handleChartSources(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/chart/sources" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.charts == nil {
		writeError(w, http.StatusNotImplemented, "not_configured", "chart collection is not configured")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": s.charts.Sources(),
	})
}

func (s *Server) handleChartStats(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/chart/stats" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.charts == nil {
		writeError(w, http.StatusNotImplemented, "not_configured", "chart collection is not configured")
		return
	}
	stats, err := s.charts.Stats(r.Context())
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// writeServiceError maps the domain error taxonomy onto HTTP statuses.
func (s *Server) writeServiceError(w http.ResponseWriter, err error) {
	var exhausted *domain.ExhaustedError
	switch {
	case errors.Is(err, domain.ErrValidation):
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, domain.ErrUnknownProvider):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, domain.ErrNoProviders):
		writeError(w, http.StatusServiceUnavailable, "service_unavailable", err.Error())
	case errors.As(err, &exhausted):
		writeJSON(w, http.StatusBadGateway, map[string]any{
			"error": map[string]string{
				"code":    "providers_exhausted",
				"message": err.Error(),
			},
			"per_source_status": exhausted.Statuses,
		})
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, "timeout", err.Error())
	case errors.Is(err, context.Canceled):
		writeError(w, http.StatusServiceUnavailable, "canceled", "request canceled")
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}

func parseCSV(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	seen := make(map[string]struct{}, len(parts))
	for _, part := range parts {
		value := strings.ToLower(strings.TrimSpace(part))
		if value == "" {
			continue
		}
		if _, exists := seen[value]; exists {
			continue
		}
		seen[value] = struct{}{}
		out = append(out, value)
	}
	return out
}

func decodeJSONBody(r *http.Request, dest any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read request body: %w", err)
	}
	if len(bytes.TrimSpace(payload)) == 0 {
		return nil
	}

	decoder := json.NewDecoder(bytes.NewReader(payload))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("invalid json body: %w", err)
	}
	return nil
}

// parseIntParam returns 0 for an absent parameter. Range checks are left to
// the service so the messages stay in one place.
func parseIntParam(r *http.Request, key string) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return 0, nil
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.New("invalid value")
	}
	return parsed, nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
	})
}

func parseOptionalBool(raw string) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}
