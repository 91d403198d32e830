// Package statestore provides persistence backends for saved prerender
// state. The state is written before a circuit starts, handed to the
// circuit on initialization, and released once all initial renders have
// completed.
package statestore

import (
	"context"
	"errors"
	"sync"
)

// ErrNotFound is returned when no state exists for a circuit id.
var ErrNotFound = errors.New("statestore: state not found")

// Store persists saved prerender state per circuit id.
type Store interface {
	// Load returns the state for a circuit id.
	Load(ctx context.Context, circuitID string) ([]byte, error)

	// Save writes the state for a circuit id, replacing any previous
	// value.
	Save(ctx context.Context, circuitID string, state []byte) error

	// Clear removes the state for a circuit id. Clearing absent state is
	// not an error.
	Clear(ctx context.Context, circuitID string) error
}

// Scoped binds a store to one circuit id, satisfying the circuit
// package's SavedState interface.
func Scoped(store Store, circuitID string) *ScopedState {
	return &ScopedState{store: store, circuitID: circuitID}
}

// ScopedState is a Store narrowed to a single circuit.
type ScopedState struct {
	store     Store
	circuitID string
}

// Load returns the scoped circuit's state.
func (s *ScopedState) Load(ctx context.Context) ([]byte, error) {
	return s.store.Load(ctx, s.circuitID)
}

// Clear releases the scoped circuit's state.
func (s *ScopedState) Clear(ctx context.Context) error {
	return s.store.Clear(ctx, s.circuitID)
}

// MemoryStore is an in-memory Store for single-process deployments and
// tests.
type MemoryStore struct {
	mu     sync.RWMutex
	states map[string][]byte
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{states: make(map[string][]byte)}
}

// Load returns the state for a circuit id.
func (m *MemoryStore) Load(ctx context.Context, circuitID string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	state, ok := m.states[circuitID]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]byte, len(state))
	copy(out, state)
	return out, nil
}

// Save writes the state for a circuit id.
func (m *MemoryStore) Save(ctx context.Context, circuitID string, state []byte) error {
	stored := make([]byte, len(state))
	copy(stored, state)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[circuitID] = stored
	return nil
}

// Clear removes the state for a circuit id.
func (m *MemoryStore) Clear(ctx context.Context, circuitID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.states, circuitID)
	return nil
}

// Len returns the number of stored states.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.states)
}
