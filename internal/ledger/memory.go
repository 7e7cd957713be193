package ledger

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore keeps the ledger in process memory. Used for tests and
// single-shot CLI runs.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]Entry)}
}

func (m *MemoryStore) Contains(ctx context.Context, ncf string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.entries[ncf]
	return ok, nil
}

func (m *MemoryStore) Insert(ctx context.Context, e Entry) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[e.NCF]; ok {
		return false, nil
	}
	m.entries[e.NCF] = e
	return true, nil
}

func (m *MemoryStore) Get(ctx context.Context, ncf string) (Entry, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[ncf]
	if !ok {
		return Entry{}, ErrNotFound
	}
	return e, nil
}

func (m *MemoryStore) List(ctx context.Context, limit int) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	out := make([]Entry, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e)
	}
	m.mu.RUnlock()
	sortNewestFirst(out)
	return truncate(out, limit), nil
}

func (m *MemoryStore) Close() error { return nil }

func sortNewestFirst(entries []Entry) {
	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].RecordedAt.Equal(entries[j].RecordedAt) {
			return entries[i].RecordedAt.After(entries[j].RecordedAt)
		}
		return entries[i].NCF < entries[j].NCF
	})
}

func truncate(entries []Entry, limit int) []Entry {
	if limit > 0 && len(entries) > limit {
		return entries[:limit]
	}
	return entries
}
