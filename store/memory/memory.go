// Package memory provides an in-memory implementation of store.MachineStore.
//
// This implementation is suitable for development, testing, and single-node
// deployments where persistence across restarts is not required.
package memory

import (
	"context"
	"sync"

	"github.com/julesgosnell/claij/fsm"
	"github.com/julesgosnell/claij/store"
)

// Store is an in-memory implementation of store.MachineStore. It is safe
// for concurrent use.
type Store struct {
	mu       sync.RWMutex
	machines map[string]*fsm.Machine
}

// Compile-time check that Store implements store.MachineStore.
var _ store.MachineStore = (*Store)(nil)

// New creates a new in-memory store.
func New() *Store {
	return &Store{machines: make(map[string]*fsm.Machine)}
}

// SaveMachine stores or updates a machine.
func (s *Store) SaveMachine(ctx context.Context, m *fsm.Machine) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.machines[m.ID] = m
	return nil
}

// GetMachine retrieves a machine by id.
func (s *Store) GetMachine(ctx context.Context, id string) (*fsm.Machine, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.machines[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return m, nil
}

// DeleteMachine removes a machine by id.
func (s *Store) DeleteMachine(ctx context.Context, id string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.machines[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.machines, id)
	return nil
}

// ListMachines returns every stored machine's id.
func (s *Store) ListMachines(ctx context.Context) ([]string, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.machines))
	for id := range s.machines {
		ids = append(ids, id)
	}
	return ids, nil
}
