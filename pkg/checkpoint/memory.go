package checkpoint

import (
	"context"
	"sort"
	"sync"

	"airose/pkg/state"
)

// MemoryStore keeps checkpoints in process memory. Used by tests and the
// "memory" backend.
type MemoryStore struct {
	mu     sync.RWMutex
	states map[string]*state.State
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{states: make(map[string]*state.State)}
}

func (m *MemoryStore) Load(_ context.Context, id string) (*state.State, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.states[id]
	if !ok {
		return nil, ErrNotFound
	}
	return st.Clone(), nil
}

func (m *MemoryStore) Save(_ context.Context, id string, st *state.State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[id] = st.Clone()
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.states, id)
	return nil
}

func (m *MemoryStore) List(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.states))
	for id := range m.states {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}
