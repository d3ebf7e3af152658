package common

import (
	"encoding/json"
	"html"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	tagPattern  = regexp.MustCompile(`<[^>]+>`)
	yearPattern = regexp.MustCompile(`(?:^|\D)((?:19|20)\d{2})(?:\D|$)`)
)

func CleanHTMLText(raw string) string {
	value := strings.TrimSpace(raw)
	value = html.UnescapeString(value)
	value = tagPattern.ReplaceAllString(value, " ")
	value = strings.Join(strings.Fields(value), " ")
	return value
}

// ParseYear extracts the first plausible four digit year from values like
// "2010-07-16", "(1995)" or "2019". Returns 0 when none is found.
func ParseYear(raw string) int {
	match := yearPattern.FindStringSubmatch(strings.TrimSpace(raw))
	if len(match) < 2 {
		return 0
	}
	year, err := strconv.Atoi(match[1])
	if err != nil {
		return 0
	}
	return year
}

// ParseRating accepts "8.7", "8,7" and "" (zero).
func ParseRating(raw string) float64 {
	value := strings.TrimSpace(strings.ReplaceAll(raw, ",", "."))
	if value == "" {
		return 0
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil || parsed < 0 {
		return 0
	}
	return parsed
}

var dateLayouts = []string{time.RFC3339, "Mon, 2 Jan 2006 15:04:05 -0700", "2006-01-02", "2006-01", "2006"}

// ParseDate returns nil for empty or unparseable dates.
func ParseDate(raw string) *time.Time {
	value := strings.TrimSpace(raw)
	if value == "" {
		return nil
	}
	for _, layout := range dateLayouts {
		if parsed, err := time.Parse(layout, value); err == nil {
			utc := parsed.UTC()
			return &utc
		}
	}
	return nil
}

// MarshalItems encodes adapter items into the raw page form the aggregator
// normalizes later.
func MarshalItems[T any](items []T) ([]json.RawMessage, int, error) {
	out := make([]json.RawMessage, 0, len(items))
	total := 0
	for _, item := range items {
		raw, err := json.Marshal(item)
		if err != nil {
			return nil, 0, err
		}
		total += len(raw)
		out = append(out, raw)
	}
	return out, total, nil
}

// Truncate limits items to limit when limit is positive.
func Truncate[T any](items []T, limit int) []T {
	if limit > 0 && len(items) > limit {
		return items[:limit]
	}
	return items
}
