package session

import (
	"context"
	"sync"
)

// MemoryStore keeps sessions in process memory.
type MemoryStore struct {
	mu    sync.RWMutex
	items map[string]State
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string]State)}
}

func (m *MemoryStore) Load(_ context.Context, sid string) (State, bool, error) {
	m.mu.RLock()
	st, ok := m.items[sid]
	m.mu.RUnlock()
	if !ok {
		return State{}, false, nil
	}
	return st.clone(), true, nil
}

func (m *MemoryStore) Save(_ context.Context, sid string, state State) error {
	if err := checkSave(sid, state); err != nil {
		return err
	}
	st := state.clone()
	m.mu.Lock()
	m.items[sid] = st
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Clear(_ context.Context, sid string) error {
	m.mu.Lock()
	delete(m.items, sid)
	m.mu.Unlock()
	return nil
}
