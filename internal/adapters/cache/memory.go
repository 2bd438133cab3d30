package cache

import (
	"context"
	"maps"
	"sync"

	"github.com/ghalamif/AegisHealth/internal/ports"
)

// Memory is an in-process mirror, mainly for tests and single-binary setups.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]map[string]string
}

func NewMemory() *Memory {
	return &Memory{entries: make(map[string]map[string]string)}
}

func (m *Memory) Set(_ context.Context, key string, fields map[string]string) error {
	m.mu.Lock()
	m.entries[key] = maps.Clone(fields)
	m.mu.Unlock()
	return nil
}

// Get returns a copy of the fields stored under key.
func (m *Memory) Get(key string) (map[string]string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	f, ok := m.entries[key]
	return maps.Clone(f), ok
}

var _ ports.CacheMirror = (*Memory)(nil)
