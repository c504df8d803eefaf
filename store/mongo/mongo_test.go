package mongo

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/julesgosnell/claij/fsm"
	"github.com/julesgosnell/claij/store"
)

type fakeSingleResult struct {
	doc machineDocument
	err error
}

func (r fakeSingleResult) Decode(val any) error {
	if r.err != nil {
		return r.err
	}
	out, ok := val.(*machineDocument)
	if !ok {
		return errors.New("unexpected decode target")
	}
	*out = r.doc
	return nil
}

type fakeCursor struct {
	docs []machineDocument
	pos  int
}

func (c *fakeCursor) Next(context.Context) bool { return c.pos < len(c.docs) }
func (c *fakeCursor) Decode(val any) error {
	out, ok := val.(*struct {
		ID string `bson:"_id"`
	})
	if !ok {
		return errors.New("unexpected decode target")
	}
	out.ID = c.docs[c.pos].ID
	c.pos++
	return nil
}
func (c *fakeCursor) Err() error                   { return nil }
func (c *fakeCursor) Close(context.Context) error { return nil }

type fakeCollection struct {
	saved   map[string]machineDocument
	findErr error
}

func newFakeCollection() *fakeCollection {
	return &fakeCollection{saved: make(map[string]machineDocument)}
}

func (c *fakeCollection) UpdateOne(_ context.Context, filter any, update any, _ ...options.Lister[options.UpdateOneOptions]) (*mongodriver.UpdateResult, error) {
	id := filter.(bson.M)["_id"].(string)
	set := update.(bson.M)["$set"].(bson.M)
	c.saved[id] = machineDocument{ID: id, Doc: set["doc"].([]byte)}
	return &mongodriver.UpdateResult{}, nil
}

func (c *fakeCollection) FindOne(_ context.Context, filter any, _ ...options.Lister[options.FindOneOptions]) singleResult {
	if c.findErr != nil {
		return fakeSingleResult{err: c.findErr}
	}
	id := filter.(bson.M)["_id"].(string)
	doc, ok := c.saved[id]
	if !ok {
		return fakeSingleResult{err: mongodriver.ErrNoDocuments}
	}
	return fakeSingleResult{doc: doc}
}

func (c *fakeCollection) DeleteOne(_ context.Context, filter any, _ ...options.Lister[options.DeleteOneOptions]) (*mongodriver.DeleteResult, error) {
	id := filter.(bson.M)["_id"].(string)
	if _, ok := c.saved[id]; !ok {
		return &mongodriver.DeleteResult{DeletedCount: 0}, nil
	}
	delete(c.saved, id)
	return &mongodriver.DeleteResult{DeletedCount: 1}, nil
}

func (c *fakeCollection) Find(context.Context, any, ...options.Lister[options.FindOptions]) (cursor, error) {
	docs := make([]machineDocument, 0, len(c.saved))
	for _, d := range c.saved {
		docs = append(docs, d)
	}
	return &fakeCursor{docs: docs}, nil
}

func newMachine(t *testing.T, id string) *fsm.Machine {
	t.Helper()
	m, err := fsm.NewMachine(id, nil, nil,
		[]*fsm.State{{ID: fsm.StartStateID}, {ID: fsm.EndStateID}},
		[]*fsm.Transition{{ID: fsm.NewID(fsm.StartStateID, fsm.EndStateID)}},
	)
	require.NoError(t, err)
	return m
}

func TestSaveAndGetMachine(t *testing.T) {
	coll := newFakeCollection()
	s, err := newStoreWithCollection(coll)
	require.NoError(t, err)

	m := newMachine(t, "greeter")
	require.NoError(t, s.SaveMachine(context.Background(), m))

	got, err := s.GetMachine(context.Background(), "greeter")
	require.NoError(t, err)
	assert.Equal(t, "greeter", got.ID)
}

func TestGetMachineNotFound(t *testing.T) {
	s, err := newStoreWithCollection(newFakeCollection())
	require.NoError(t, err)

	_, err = s.GetMachine(context.Background(), "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestDeleteMachine(t *testing.T) {
	coll := newFakeCollection()
	s, err := newStoreWithCollection(coll)
	require.NoError(t, err)

	m := newMachine(t, "greeter")
	require.NoError(t, s.SaveMachine(context.Background(), m))
	require.NoError(t, s.DeleteMachine(context.Background(), "greeter"))

	_, err = s.GetMachine(context.Background(), "greeter")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestDeleteMachineNotFound(t *testing.T) {
	s, err := newStoreWithCollection(newFakeCollection())
	require.NoError(t, err)

	err = s.DeleteMachine(context.Background(), "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestNewRequiresCollection(t *testing.T) {
	_, err := newStoreWithCollection(nil)
	assert.Error(t, err)
}
