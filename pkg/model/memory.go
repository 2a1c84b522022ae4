package model

import (
	"context"
	"sort"
	"strconv"
	"sync"
)

// Memory is a process-local Model, used for tests and the demo application.
type Memory struct {
	name string

	mu      sync.RWMutex
	records map[string]Record
	nextID  int
}

// NewMemory creates an empty in-memory model.
func NewMemory(name string) *Memory {
	return &Memory{name: name, records: make(map[string]Record)}
}

// ReadAll returns every record ordered by numeric id.
func (m *Memory) ReadAll(_ context.Context) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Record, 0, len(m.records))
	for _, r := range m.records {
		out = append(out, clone(r))
	}
	sortByID(out)
	return out, nil
}

// Read returns the addressed records. A missing single id is a not-found error;
// missing ids in a bulk read are skipped.
func (m *Memory) Read(_ context.Context, key Key) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Record, 0, len(key.IDs))
	for _, id := range key.IDs {
		r, ok := m.records[id]
		if !ok {
			if key.Single() {
				return nil, notFound(m.name, id)
			}
			continue
		}
		out = append(out, clone(r))
	}
	return out, nil
}

// Find filters records by field equality.
func (m *Memory) Find(ctx context.Context, query Record) ([]Record, error) {
	all, err := m.ReadAll(ctx)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, r := range all {
		if matches(r, query) {
			out = append(out, r)
		}
	}
	return out, nil
}

// Create stores body under a new id.
func (m *Memory) Create(_ context.Context, body Record) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	r := clone(body)
	r["id"] = strconv.Itoa(m.nextID)
	m.records[r.ID()] = r
	return clone(r), nil
}

// Update replaces the record stored under id.
func (m *Memory) Update(_ context.Context, body Record, id string) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[id]; !ok {
		return nil, notFound(m.name, id)
	}
	r := clone(body)
	r["id"] = id
	m.records[id] = r
	return clone(r), nil
}

// UpdateAll updates every body by its id field. It stops at the first failure.
func (m *Memory) UpdateAll(ctx context.Context, bodies []Record) ([]Record, error) {
	out := make([]Record, 0, len(bodies))
	for _, body := range bodies {
		r, err := m.Update(ctx, body, body.ID())
		if err != nil {
			return out, err
		}
		out = append(out, r)
	}
	return out, nil
}

// Del removes the record stored under id.
func (m *Memory) Del(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[id]; !ok {
		return notFound(m.name, id)
	}
	delete(m.records, id)
	return nil
}

func sortByID(records []Record) {
	sort.Slice(records, func(i, j int) bool {
		a, errA := strconv.Atoi(records[i].ID())
		b, errB := strconv.Atoi(records[j].ID())
		if errA == nil && errB == nil {
			return a < b
		}
		return records[i].ID() < records[j].ID()
	})
}
