package app

import (
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("HTTP_ADDR", "")
	t.Setenv("SEARCH_TIMEOUT", "")
	t.Setenv("CHART_SCHEDULE", "")
	t.Setenv("SEARCH_MAX_TIMEOUT", "")
	t.Setenv("CHART_RUN_TIMEOUT", "")
	cfg := LoadConfig()
	if cfg.HTTPAddr != ":8090" || cfg.RequestTimeout != 10*time.Second || cfg.ChartSchedule != "@every 6h" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.MaxTimeout != 30*time.Second || cfg.ChartTimeout != 2*time.Minute {
		t.Fatalf("unexpected timeout defaults: max=%s chart=%s", cfg.MaxTimeout, cfg.ChartTimeout)
	}
}

func TestGetEnvDuration(t *testing.T) {
	cases := []struct {
		raw  string
		want time.Duration
	}{
		{"", time.Minute},
		{"90", 90 * time.Second},
		{"1m30s", 90 * time.Second},
		{"-5s", time.Minute},
		{"0", time.Minute},
		{"soon", time.Minute},
	}
	for _, tc := range cases {
		t.Setenv("TEST_DURATION", tc.raw)
		if got := getEnvDuration("TEST_DURATION", time.Minute); got != tc.want {
			t.Errorf("getEnvDuration(%q) = %v, want %v", tc.raw, got, tc.want)
		}
	}
}

func TestGetEnvBoolAndInt(t *testing.T) {
	t.Setenv("TEST_BOOL", "off")
	if getEnvBool("TEST_BOOL", true) {
		t.Fatal("expected off to parse as false")
	}
	t.Setenv("TEST_BOOL", "maybe")
	if !getEnvBool("TEST_BOOL", true) {
		t.Fatal("expected fallback for unknown value")
	}
	t.Setenv("TEST_INT", "-3")
	if getEnvInt("TEST_INT", 7) != 7 {
		t.Fatal("expected fallback for negative int")
	}
}
