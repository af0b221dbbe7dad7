package risk

import (
	"context"
	"sync"
)

// maxMemoryAssessments caps the in-memory audit trail.
const maxMemoryAssessments = 10000

// MemoryStore is an in-memory implementation of Store for demo/test use.
type MemoryStore struct {
	mu  sync.RWMutex
	all []*Assessment // append order = chronological
}

// NewMemoryStore creates an in-memory assessment store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Record(ctx context.Context, a *Assessment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.all = append(s.all, copyAssessment(a))
	if len(s.all) > maxMemoryAssessments {
		s.all = s.all[len(s.all)-maxMemoryAssessments:]
	}
	return nil
}

func (s *MemoryStore) ListBySubject(ctx context.Context, subject string, limit int) ([]*Assessment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*Assessment
	for i := len(s.all) - 1; i >= 0 && len(result) < limit; i-- {
		if s.all[i].Subject == subject {
			result = append(result, copyAssessment(s.all[i]))
		}
	}
	return result, nil
}

func (s *MemoryStore) ListRecent(ctx context.Context, limit int) ([]*Assessment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	start := len(s.all) - limit
	if start < 0 {
		start = 0
	}

	result := make([]*Assessment, 0, len(s.all)-start)
	for i := len(s.all) - 1; i >= start; i-- {
		result = append(result, copyAssessment(s.all[i]))
	}
	return result, nil
}

// copyAssessment deep-copies so callers can't mutate stored records.
func copyAssessment(a *Assessment) *Assessment {
	c := *a
	c.Scores = make(map[Category]float64, len(a.Scores))
	for k, v := range a.Scores {
		c.Scores[k] = v
	}
	return &c
}
