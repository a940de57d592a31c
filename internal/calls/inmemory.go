package calls

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// maxInMemoryRecords bounds the in-process store; oldest records go first.
const maxInMemoryRecords = 1000

// InMemoryStore keeps records for local/dev use.
type InMemoryStore struct {
	mu      sync.RWMutex
	order   []string
	records map[string]CallRecord
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{records: make(map[string]CallRecord)}
}

func (s *InMemoryStore) SaveCall(_ context.Context, record CallRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.EndedAt.IsZero() {
		record.EndedAt = time.Now().UTC()
	}
	if _, exists := s.records[record.ID]; !exists {
		s.order = append(s.order, record.ID)
	}
	s.records[record.ID] = record

	for len(s.order) > maxInMemoryRecords {
		delete(s.records, s.order[0])
		s.order = s.order[1:]
	}
	return nil
}

func (s *InMemoryStore) GetCall(_ context.Context, id string) (CallRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[id]
	if !ok {
		return CallRecord{}, ErrNotFound
	}
	return r, nil
}

func (s *InMemoryStore) ListRecent(_ context.Context, limit int) ([]CallRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > len(s.order) {
		limit = len(s.order)
	}
	out := make([]CallRecord, 0, limit)
	for i := len(s.order) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.records[s.order[i]])
	}
	return out, nil
}

func (s *InMemoryStore) Mode() string { return "memory" }

func (s *InMemoryStore) Close() error { return nil }
