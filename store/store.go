// Package store defines the persistence layer for machine documents.
//
// MachineStore abstracts where a named machine's definition lives, letting
// the sub-machine action (C7) load child machines without depending on a
// particular backend. Available
// implementations:
//
//   - memory: in-memory store for development and testing
//   - redis: durable store for production deployments
//   - mongo: durable store backed by MongoDB, for deployments already
//     standardized on it
//
// To add a new implementation, create a subpackage that implements
// MachineStore and returns store.ErrNotFound for missing machines.
package store

import (
	"context"
	"errors"

	"github.com/julesgosnell/claij/fsm"
)

// ErrNotFound is returned when a machine is not found in the store.
var ErrNotFound = errors.New("machine not found")

// MachineStore persists machine documents keyed by id. Implementations must
// be safe for concurrent use.
type MachineStore interface {
	// SaveMachine stores or updates a machine. If a machine with the same
	// id already exists, it is replaced.
	SaveMachine(ctx context.Context, m *fsm.Machine) error

	// GetMachine retrieves a machine by id. Returns ErrNotFound if no
	// machine is stored under that id.
	GetMachine(ctx context.Context, id string) (*fsm.Machine, error)

	// DeleteMachine removes a machine by id. Returns ErrNotFound if the
	// machine does not exist.
	DeleteMachine(ctx context.Context, id string) error

	// ListMachines returns every stored machine's id.
	ListMachines(ctx context.Context) ([]string, error)
}
