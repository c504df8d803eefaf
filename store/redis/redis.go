// Package redis provides a Redis-backed implementation of
// store.MachineStore for production deployments, built on
// github.com/redis/go-redis/v9.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/julesgosnell/claij/fsm"
	"github.com/julesgosnell/claij/store"
)

// Store is a Redis-backed implementation of store.MachineStore. Machine
// documents are serialised as JSON values under a configurable key prefix,
// with a single index set (under the prefix plus "ids") tracking known ids
// for ListMachines.
type Store struct {
	rdb    *redis.Client
	prefix string
}

// Compile-time check that Store implements store.MachineStore.
var _ store.MachineStore = (*Store)(nil)

// New builds a Store over rdb. prefix namespaces keys (e.g. "claij:machines:");
// an empty prefix is replaced with the default.
func New(rdb *redis.Client, prefix string) *Store {
	if prefix == "" {
		prefix = "claij:machines:"
	}
	return &Store{rdb: rdb, prefix: prefix}
}

// SaveMachine stores or updates a machine document (§6's wire format) and
// records its id in the index set.
func (s *Store) SaveMachine(ctx context.Context, m *fsm.Machine) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("redis: encode machine %q: %w", m.ID, err)
	}
	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, s.key(m.ID), data, 0)
	pipe.SAdd(ctx, s.indexKey(), m.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: save machine %q: %w", m.ID, err)
	}
	return nil
}

// GetMachine retrieves a machine by id and rebuilds it via
// fsm.UnmarshalMachine, re-validating the structural invariants on the way
// out.
func (s *Store) GetMachine(ctx context.Context, id string) (*fsm.Machine, error) {
	data, err := s.rdb.Get(ctx, s.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis: get machine %q: %w", id, err)
	}
	m, err := fsm.UnmarshalMachine(data)
	if err != nil {
		return nil, fmt.Errorf("redis: rebuild machine %q: %w", id, err)
	}
	return m, nil
}

// DeleteMachine removes a machine by id.
func (s *Store) DeleteMachine(ctx context.Context, id string) error {
	pipe := s.rdb.TxPipeline()
	del := pipe.Del(ctx, s.key(id))
	pipe.SRem(ctx, s.indexKey(), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: delete machine %q: %w", id, err)
	}
	if del.Val() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// ListMachines returns every stored machine's id from the index set.
func (s *Store) ListMachines(ctx context.Context) ([]string, error) {
	ids, err := s.rdb.SMembers(ctx, s.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: list machines: %w", err)
	}
	return ids, nil
}

func (s *Store) key(id string) string { return s.prefix + id }
func (s *Store) indexKey() string     { return s.prefix + "ids" }
