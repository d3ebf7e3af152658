package domain

import "time"

type ChartRequest struct {
	Sources       []string
	Kind          MediaKind
	Region        string
	Limit         int
	NoCache       bool
	CorrelationID string
}

type ChartResult struct {
	Results         []CanonicalResult       `json:"results"`
	Dispatched      []string                `json:"dispatched"`
	PerSourceStatus map[string]SourceStatus `json:"per_source_status"`
	CacheHit        bool                    `json:"cache_hit"`
}

type ChartRun struct {
	ID              string                  `json:"id"`
	Trigger         string                  `json:"trigger"`
	StartedAt       time.Time               `json:"started_at"`
	FinishedAt      time.Time               `json:"finished_at"`
	Dispatched      []string                `json:"dispatched"`
	PerSourceStatus map[string]SourceStatus `json:"per_source_status"`
	Results         []CanonicalResult       `json:"results,omitempty"`
	Total           int                     `json:"total"`
	Error           string                  `json:"error,omitempty"`
}

type ChartSource struct {
	Name     string      `json:"name"`
	Label    string      `json:"label"`
	Type     string      `json:"type"`
	Enabled  bool        `json:"enabled"`
	Kinds    []MediaKind `json:"kinds,omitempty"`
	Region   string      `json:"region,omitempty"`
	Priority float64     `json:"priority"`
	Error    string      `json:"error,omitempty"`
}

type CacheStats struct {
	Backend       string `json:"backend"`
	Entries       int    `json:"entries"`
	Hits          int64  `json:"hits"`
	Misses        int64  `json:"misses"`
	Puts          int64  `json:"puts"`
	Invalidations int64  `json:"invalidations"`
	Evictions     int64  `json:"evictions"`
}

type ChartStats struct {
	Runs      int64                 `json:"runs"`
	Failures  int64                 `json:"failures"`
	Schedule  string                `json:"schedule,omitempty"`
	NextRunAt *time.Time            `json:"next_run_at,omitempty"`
	LastRun   *ChartRun             `json:"last_run,omitempty"`
	Stored    int64                 `json:"stored_runs"`
	Cache     CacheStats            `json:"cache"`
	Providers []ProviderDiagnostics `json:"providers"`
}
