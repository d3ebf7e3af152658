package chart

import (
	"context"
	"errors"
	"sync"

	"mediastream/discoveryservice/internal/domain"
)

var ErrNoRuns = errors.New("no chart runs stored")

// Store persists completed chart runs for downstream consumers.
type Store interface {
	Save(ctx context.Context, run domain.ChartRun) error
	Latest(ctx context.Context) (domain.ChartRun, error)
	Count(ctx context.Context) (int64, error)
}

const defaultMemoryRuns = 20

// MemoryStore keeps the most recent runs in process. Used when no Mongo URI
// is configured.
type MemoryStore struct {
	mu    sync.RWMutex
	runs  []domain.ChartRun
	max   int
	total int64
}

func NewMemoryStore(max int) *MemoryStore {
	if max <= 0 {
		max = defaultMemoryRuns
	}
	return &MemoryStore{max: max}
}

func (s *MemoryStore) Save(_ context.Context, run domain.ChartRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs = append(s.runs, run)
	if len(s.runs) > s.max {
		s.runs = append([]domain.ChartRun(nil), s.runs[len(s.runs)-s.max:]...)
	}
	s.total++
	return nil
}

func (s *MemoryStore) Latest(_ context.Context) (domain.ChartRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.runs) == 0 {
		return domain.ChartRun{}, ErrNoRuns
	}
	return s.runs[len(s.runs)-1], nil
}

// Count reports every run saved, including ones already rotated out.
func (s *MemoryStore) Count(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.total, nil
}
