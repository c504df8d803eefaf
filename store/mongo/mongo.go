// Package mongo provides a MongoDB-backed implementation of
// store.MachineStore, built on go.mongodb.org/mongo-driver/v2.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/julesgosnell/claij/fsm"
	"github.com/julesgosnell/claij/store"
)

const defaultCollection = "claij_machines"

// collection narrows *mongodriver.Collection to the operations Store uses,
// so tests can substitute a fake in place of a live Mongo connection.
type collection interface {
	UpdateOne(ctx context.Context, filter any, update any, opts ...options.Lister[options.UpdateOneOptions]) (*mongodriver.UpdateResult, error)
	FindOne(ctx context.Context, filter any, opts ...options.Lister[options.FindOneOptions]) singleResult
	DeleteOne(ctx context.Context, filter any, opts ...options.Lister[options.DeleteOneOptions]) (*mongodriver.DeleteResult, error)
	Find(ctx context.Context, filter any, opts ...options.Lister[options.FindOptions]) (cursor, error)
}

type singleResult interface {
	Decode(val any) error
}

type cursor interface {
	Next(ctx context.Context) bool
	Decode(val any) error
	Err() error
	Close(ctx context.Context) error
}

// Store is a MongoDB-backed implementation of store.MachineStore. Machine
// documents are kept as their §6 wire-format JSON under a "doc" field,
// keyed by machine id.
type Store struct {
	coll collection
}

// Compile-time check that Store implements store.MachineStore.
var _ store.MachineStore = (*Store)(nil)

// Options configures the Mongo-backed store.
type Options struct {
	Client     *mongodriver.Client
	Database   string
	Collection string
}

// New builds a Store over the given Mongo client and database, using
// Collection (or defaultCollection when empty) to hold machine documents.
func New(opts Options) (*Store, error) {
	if opts.Client == nil {
		return nil, errors.New("mongo: client is required")
	}
	if opts.Database == "" {
		return nil, errors.New("mongo: database name is required")
	}
	name := opts.Collection
	if name == "" {
		name = defaultCollection
	}
	return newStoreWithCollection(mongoCollection{coll: opts.Client.Database(opts.Database).Collection(name)})
}

func newStoreWithCollection(coll collection) (*Store, error) {
	if coll == nil {
		return nil, errors.New("mongo: collection is required")
	}
	return &Store{coll: coll}, nil
}

type machineDocument struct {
	ID        string    `bson:"_id"`
	Doc       []byte    `bson:"doc"`
	UpdatedAt time.Time `bson:"updated_at"`
}

// SaveMachine upserts a machine document (§6's wire format) by id.
func (s *Store) SaveMachine(ctx context.Context, m *fsm.Machine) error {
	data, err := m.MarshalJSON()
	if err != nil {
		return fmt.Errorf("mongo: encode machine %q: %w", m.ID, err)
	}
	filter := bson.M{"_id": m.ID}
	update := bson.M{"$set": bson.M{"doc": data, "updated_at": time.Now().UTC()}}
	_, err = s.coll.UpdateOne(ctx, filter, update, options.UpdateOne().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("mongo: save machine %q: %w", m.ID, err)
	}
	return nil
}

// GetMachine retrieves a machine by id and rebuilds it via
// fsm.UnmarshalMachine, re-validating the structural invariants on the way
// out.
func (s *Store) GetMachine(ctx context.Context, id string) (*fsm.Machine, error) {
	var doc machineDocument
	err := s.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongodriver.ErrNoDocuments) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("mongo: get machine %q: %w", id, err)
	}
	m, err := fsm.UnmarshalMachine(doc.Doc)
	if err != nil {
		return nil, fmt.Errorf("mongo: rebuild machine %q: %w", id, err)
	}
	return m, nil
}

// DeleteMachine removes a machine by id.
func (s *Store) DeleteMachine(ctx context.Context, id string) error {
	res, err := s.coll.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("mongo: delete machine %q: %w", id, err)
	}
	if res.DeletedCount == 0 {
		return store.ErrNotFound
	}
	return nil
}

// ListMachines returns every stored machine's id.
func (s *Store) ListMachines(ctx context.Context) ([]string, error) {
	cur, err := s.coll.Find(ctx, bson.M{}, options.Find().SetProjection(bson.M{"_id": 1}))
	if err != nil {
		return nil, fmt.Errorf("mongo: list machines: %w", err)
	}
	defer cur.Close(ctx)
	var ids []string
	for cur.Next(ctx) {
		var doc struct {
			ID string `bson:"_id"`
		}
		if err := cur.Decode(&doc); err != nil {
			return nil, fmt.Errorf("mongo: decode machine id: %w", err)
		}
		ids = append(ids, doc.ID)
	}
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("mongo: list machines: %w", err)
	}
	return ids, nil
}

type mongoCollection struct {
	coll *mongodriver.Collection
}

func (c mongoCollection) UpdateOne(ctx context.Context, filter any, update any, opts ...options.Lister[options.UpdateOneOptions]) (*mongodriver.UpdateResult, error) {
	return c.coll.UpdateOne(ctx, filter, update, opts...)
}

func (c mongoCollection) FindOne(ctx context.Context, filter any, opts ...options.Lister[options.FindOneOptions]) singleResult {
	return c.coll.FindOne(ctx, filter, opts...)
}

func (c mongoCollection) DeleteOne(ctx context.Context, filter any, opts ...options.Lister[options.DeleteOneOptions]) (*mongodriver.DeleteResult, error) {
	return c.coll.DeleteOne(ctx, filter, opts...)
}

func (c mongoCollection) Find(ctx context.Context, filter any, opts ...options.Lister[options.FindOptions]) (cursor, error) {
	return c.coll.Find(ctx, filter, opts...)
}
