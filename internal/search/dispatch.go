package search

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"mediastream/discoveryservice/internal/domain"
	"mediastream/discoveryservice/internal/metrics"
	"mediastream/discoveryservice/internal/telemetry"
)

// call is one (variant, provider) pair to dispatch.
type call struct {
	entry *registryEntry
	query domain.ProviderQuery
}

// dispatch runs calls concurrently and returns one result per call in call
// order. When ctx ends first, calls still running are sealed as timeout (or
// cancelled) and their late answers are discarded.
func (s *Service) dispatch(ctx context.Context, calls []call, correlationID string) []domain.ProviderResult {
	results := make([]domain.ProviderResult, len(calls))
	finished := make([]bool, len(calls))
	if len(calls) == 0 {
		return results
	}

	var (
		mu     sync.Mutex
		sealed bool
		wg     sync.WaitGroup
	)
	done := make(chan struct{})

	for i, c := range calls {
		wg.Add(1)
		go func(index int, current call) {
			defer wg.Done()
			result := s.execute(ctx, current, correlationID)
			mu.Lock()
			defer mu.Unlock()
			if sealed {
				return
			}
			results[index] = result
			finished[index] = true
		}(i, c)
	}

	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
	}

	mu.Lock()
	defer mu.Unlock()
	sealed = true
	outcome := domain.OutcomeTimeout
	if errors.Is(ctx.Err(), context.Canceled) {
		outcome = domain.OutcomeCancelled
	}
	for i, c := range calls {
		if finished[i] {
			continue
		}
		results[i] = domain.ProviderResult{
			Source:  c.entry.name(),
			Variant: c.query.Variant,
			Outcome: outcome,
			Err:     domain.TransientError(c.entry.name(), ctx.Err()),
		}
	}
	return results
}

// execute performs one provider call under the breaker, the global and
// per-provider budgets and the retry policy.
func (s *Service) execute(ctx context.Context, c call, correlationID string) domain.ProviderResult {
	name := c.entry.name()
	result := domain.ProviderResult{Source: name, Variant: c.query.Variant}

	ctx, span := telemetry.Tracer().Start(ctx, "provider.call")
	defer span.End()
	span.SetAttributes(
		attribute.String("provider", name),
		attribute.Int("variant.index", c.query.Variant.Index),
		attribute.String("variant.transform", string(c.query.Variant.Transform)),
	)

	if allowed, until := s.health.Allow(name); !allowed {
		result.Outcome = domain.OutcomeCircuitOpen
		result.Err = &domain.ProviderError{Source: name, Class: domain.ClassTransient, Message: "circuit open until " + until.UTC().Format(time.RFC3339)}
		metrics.ProviderRequestsTotal.WithLabelValues(name, string(result.Outcome)).Inc()
		return result
	}

	release, err := s.acquire(ctx, c.entry)
	if err != nil {
		s.health.Release(name)
		if ctx.Err() == nil {
			// The limiter refuses waits that cannot finish before the deadline.
			result.Outcome = domain.OutcomeDegraded
			result.Err = domain.TransientError(name, err)
			metrics.ProviderRequestsTotal.WithLabelValues(name, string(result.Outcome)).Inc()
			return result
		}
		return s.abandoned(ctx, result)
	}
	defer release()

	startedAt := time.Now()
	var page domain.RawPage
	attempts, err := RetryWithBackoff(ctx, s.retry, func(attempt int) error {
		if attempt > 0 {
			metrics.ProviderRetriesTotal.WithLabelValues(name).Inc()
		}
		timeout := s.callTimeout
		if c.entry.cfg.Timeout > 0 {
			timeout = c.entry.cfg.Timeout
		}
		callCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		var callErr error
		page, callErr = c.entry.provider.Search(callCtx, c.query)
		if callErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return classifyError(name, callErr)
	})
	result.Latency = time.Since(startedAt)
	result.Attempts = attempts

	if err != nil && ctx.Err() != nil {
		s.health.Release(name)
		return s.abandoned(ctx, result)
	}

	s.health.Record(name, c.query.Text(), err, result.Latency)
	if err != nil {
		providerErr := classifyError(name, err)
		result.Err = providerErr
		result.StatusCode = providerErr.StatusCode
		switch {
		case isTimeoutLikeError(err):
			result.Outcome = domain.OutcomeTimeout
		case providerErr.Transient():
			result.Outcome = domain.OutcomeDegraded
		default:
			result.Outcome = domain.OutcomeError
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.logger.Warn("provider call failed",
			slog.String("provider", name),
			slog.String("correlationId", correlationID),
			slog.Int("variant", c.query.Variant.Index),
			slog.Int("attempts", attempts),
			slog.String("outcome", string(result.Outcome)),
			slog.String("error", err.Error()),
		)
		metrics.ProviderRequestsTotal.WithLabelValues(name, string(result.Outcome)).Inc()
		return result
	}

	result.StatusCode = page.StatusCode
	result.Bytes = page.Bytes
	result.Items = page.Items
	result.Outcome = domain.OutcomeOK
	if len(page.Items) == 0 {
		result.Outcome = domain.OutcomeNoMatch
	}
	span.SetAttributes(attribute.Int("items", len(page.Items)))
	metrics.ProviderRequestsTotal.WithLabelValues(name, string(result.Outcome)).Inc()
	return result
}

// acquire takes a global slot, a provider slot and a rate-limit token.
func (s *Service) acquire(ctx context.Context, entry *registryEntry) (func(), error) {
	if err := s.global.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	if err := entry.slots.Acquire(ctx, 1); err != nil {
		s.global.Release(1)
		return nil, err
	}
	if err := entry.limiter.Wait(ctx); err != nil {
		entry.slots.Release(1)
		s.global.Release(1)
		return nil, err
	}
	return func() {
		entry.slots.Release(1)
		s.global.Release(1)
	}, nil
}

// abandoned marks a call the caller stopped waiting for.
func (s *Service) abandoned(ctx context.Context, result domain.ProviderResult) domain.ProviderResult {
	result.Outcome = domain.OutcomeTimeout
	if errors.Is(ctx.Err(), context.Canceled) {
		result.Outcome = domain.OutcomeCancelled
	}
	result.Err = domain.TransientError(result.Source, ctx.Err())
	metrics.ProviderRequestsTotal.WithLabelValues(result.Source, string(result.Outcome)).Inc()
	return result
}
