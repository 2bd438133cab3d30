package store

import (
	"context"
	"sort"
	"sync"

	"github.com/ghalamif/AegisHealth/internal/domain"
	"github.com/ghalamif/AegisHealth/internal/ports"
)

// MemoryStore keeps snapshots and audit records in process. It honours the
// same version semantics as the durable stores and is used by tests and the
// "memory" store driver.
type MemoryStore struct {
	mu     sync.RWMutex
	states map[domain.AssetKey]domain.AssetReliabilityState
	audit  map[domain.AssetKey][]domain.AuditRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		states: make(map[domain.AssetKey]domain.AssetReliabilityState),
		audit:  make(map[domain.AssetKey][]domain.AuditRecord),
	}
}

func (m *MemoryStore) Get(ctx context.Context, key domain.AssetKey) (domain.AssetReliabilityState, error) {
	if err := ctx.Err(); err != nil {
		return domain.AssetReliabilityState{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.states[key]
	if !ok {
		return domain.AssetReliabilityState{}, domain.ErrStateNotFound
	}
	return s, nil
}

func (m *MemoryStore) CommitIfVersion(ctx context.Context, expected uint64, next domain.AssetReliabilityState, rec domain.AuditRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	key := next.Key()

	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.states[key]
	switch {
	case !ok && expected != 0:
		return domain.ErrVersionConflict
	case ok && cur.Version != expected:
		return domain.ErrVersionConflict
	}
	m.states[key] = next
	m.audit[key] = append(m.audit[key], rec)
	return nil
}

func (m *MemoryStore) ListAudit(ctx context.Context, key domain.AssetKey, limit int) ([]domain.AuditRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	recs := append([]domain.AuditRecord(nil), m.audit[key]...)
	m.mu.RUnlock()

	sort.SliceStable(recs, func(i, j int) bool { return recs[i].StateVersion > recs[j].StateVersion })
	if limit > 0 && len(recs) > limit {
		recs = recs[:limit]
	}
	return recs, nil
}

// Keys lists every asset with a snapshot.
func (m *MemoryStore) Keys() []domain.AssetKey {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.AssetKey, 0, len(m.states))
	for k := range m.states {
		out = append(out, k)
	}
	return out
}

var (
	_ ports.StateStore  = (*MemoryStore)(nil)
	_ ports.AuditReader = (*MemoryStore)(nil)
)
