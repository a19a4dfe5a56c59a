package audit

import (
	"context"
	"sync"
)

// MemoryRepository keeps records in process. One mutex guards both the slice and the id
// counter so ids are strictly increasing in append order.
type MemoryRepository struct {
	mu      sync.Mutex
	records []Record
	lastID  int64
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{}
}

func (m *MemoryRepository) Append(_ context.Context, r Record) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastID++
	r.ID = m.lastID
	m.records = append(m.records, r)
	return r, nil
}

func (m *MemoryRepository) Query(_ context.Context, f Filter) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Record, 0, len(m.records))
	for _, r := range m.records {
		if f.Match(r) {
			out = append(out, r)
		}
	}
	SortNewestFirst(out)
	return out, nil
}
