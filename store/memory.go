package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps records in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*Record
}

func NewMemory() *MemoryStore {
	return &MemoryStore{records: make(map[string]*Record)}
}

func (m *MemoryStore) Save(ctx context.Context, r *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	prepare(r, time.Now().UTC())
	for _, existing := range m.records {
		if existing.ID == r.ID ||
			existing.Stamp.VerificationCode == r.Stamp.VerificationCode ||
			(existing.Identity == r.Identity && existing.Stamp.Position == r.Stamp.Position) {
			return ErrDuplicate
		}
	}
	m.records[r.ID] = clone(r)
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(r), nil
}

func (m *MemoryStore) ByVerificationCode(ctx context.Context, code string) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, r := range m.records {
		if r.Stamp.VerificationCode == code {
			return clone(r), nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) ListByIdentity(ctx context.Context, identity string) ([]*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Record
	for _, r := range m.records {
		if r.Identity == identity {
			out = append(out, clone(r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Stamp.Position < out[j].Stamp.Position })
	return out, nil
}

func clone(r *Record) *Record {
	c := *r
	c.Artifact = append([]byte(nil), r.Artifact...)
	return &c
}
