package persistence

import (
	"context"
	"encoding/json"
	"sync"
)

// MemoryStore keeps state in process memory. Default for tests and for
// embedders that bring their own persistence.
type MemoryStore struct {
	mu    sync.Mutex
	saved []byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) LoadState(ctx context.Context) (*State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saved == nil {
		return nil, nil
	}
	var state State
	if err := json.Unmarshal(s.saved, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

func (s *MemoryStore) SaveState(ctx context.Context, state *State) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.saved = raw
	s.mu.Unlock()
	return nil
}
