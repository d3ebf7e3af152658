package search

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"mediastream/discoveryservice/internal/domain"
	"mediastream/discoveryservice/internal/metrics"
)

var errMissingTitle = errors.New("item has no title")

// normalizeResult decodes every raw item of result through the provider's
// mapping. Items that fail are skipped and annotated on result; a panicking
// mapping is reported as a PipelineError and the item dropped.
func (s *Service) normalizeResult(provider Provider, result *domain.ProviderResult) []domain.NormalizedItem {
	if len(result.Items) == 0 {
		return nil
	}
	items := make([]domain.NormalizedItem, 0, len(result.Items))
	for index, raw := range result.Items {
		item, err := safeNormalize(provider, raw)
		if err != nil {
			var pipelineErr *domain.PipelineError
			if errors.As(err, &pipelineErr) {
				pipelineErr.Source = result.Source
				s.logger.Error("normalizer panic", "provider", result.Source, "error", pipelineErr.Error())
			}
			result.ParseErrors = append(result.ParseErrors, domain.ParseError{Index: index, Message: err.Error()})
			metrics.ParseErrorsTotal.WithLabelValues(result.Source).Inc()
			continue
		}
		item.Source = result.Source
		if len(item.Provenance) == 0 {
			item.Provenance = []domain.Provenance{{
				Source:       result.Source,
				VariantIndex: result.Variant.Index,
				Transform:    result.Variant.Transform,
				Query:        result.Variant.Text,
				ExternalID:   item.ExternalID,
				Rank:         index + 1,
			}}
		}
		item, err = SanitizeItem(item)
		if err != nil {
			result.ParseErrors = append(result.ParseErrors, domain.ParseError{Index: index, Message: err.Error()})
			metrics.ParseErrorsTotal.WithLabelValues(result.Source).Inc()
			continue
		}
		items = append(items, item)
	}
	return items
}

func safeNormalize(provider Provider, raw []byte) (item domain.NormalizedItem, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = &domain.PipelineError{Stage: "normalize", Source: provider.Name(), Err: fmt.Errorf("panic: %v", recovered)}
		}
	}()
	return provider.Normalize(raw)
}

// SanitizeItem trims and bounds every field of item. Applying it twice gives
// the same item as applying it once.
func SanitizeItem(item domain.NormalizedItem) (domain.NormalizedItem, error) {
	item.Source = normalizeName(item.Source)
	item.Title = collapseSpaces(item.Title)
	if item.Title == "" {
		return item, errMissingTitle
	}
	item.ExternalID = strings.TrimSpace(item.ExternalID)
	item.AltTitles = sanitizeAltTitles(item.Title, item.AltTitles)
	if item.Kind != "" {
		if kind, ok := domain.ParseMediaKind(string(item.Kind)); ok {
			item.Kind = kind
		} else {
			item.Kind = ""
		}
	}
	if item.Year < minYear || item.Year > maxYear {
		item.Year = 0
	}
	item.ExternalIDs = sanitizeExternalIDs(item.ExternalIDs, item.Source, item.ExternalID)
	item.Overview = strings.TrimSpace(item.Overview)
	item.Poster = strings.TrimSpace(item.Poster)
	item.URL = strings.TrimSpace(item.URL)
	item.Region = strings.ToLower(strings.TrimSpace(item.Region))
	item.Quality = strings.TrimSpace(item.Quality)
	item.Rating = clampFloat(item.Rating, 0, 10)
	item.Confidence = clampFloat(item.Confidence, 0, 1)
	item.Runtime = max(item.Runtime, 0)
	item.Rank = max(item.Rank, 0)
	item.Seeders = max(item.Seeders, 0)
	item.SizeBytes = max(item.SizeBytes, 0)
	item.Artists = sanitizeList(item.Artists)
	if item.PublishedAt != nil {
		if item.PublishedAt.IsZero() {
			item.PublishedAt = nil
		} else {
			published := item.PublishedAt.UTC()
			item.PublishedAt = &published
		}
	}
	for i := range item.Provenance {
		item.Provenance[i].Source = normalizeName(item.Provenance[i].Source)
	}
	return item, nil
}

func sanitizeAltTitles(title string, values []string) []string {
	if len(values) == 0 {
		return nil
	}
	seen := map[string]struct{}{foldText(title): {}}
	out := make([]string, 0, len(values))
	for _, value := range values {
		value = collapseSpaces(value)
		key := foldText(value)
		if value == "" || key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, value)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func sanitizeExternalIDs(ids map[string]string, source, externalID string) map[string]string {
	out := make(map[string]string, len(ids)+1)
	for namespace, id := range ids {
		namespace = strings.ToLower(strings.TrimSpace(namespace))
		id = strings.TrimSpace(id)
		if namespace == "" || id == "" {
			continue
		}
		out[namespace] = id
	}
	if source != "" && externalID != "" {
		if _, ok := out[source]; !ok {
			out[source] = externalID
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func sanitizeList(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	out := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	for _, value := range values {
		value = collapseSpaces(value)
		if value == "" {
			continue
		}
		if _, ok := seen[value]; ok {
			continue
		}
		seen[value] = struct{}{}
		out = append(out, value)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func clampFloat(value, low, high float64) float64 {
	if math.IsNaN(value) || value < low {
		return low
	}
	if value > high {
		return high
	}
	return value
}

func sortedKeys[V any](values map[string]V) []string {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
