package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/julesgosnell/claij/fsm"
	"github.com/julesgosnell/claij/store"
)

func testMachine(t *testing.T, id string) *fsm.Machine {
	t.Helper()
	m, err := fsm.NewMachine(id, nil, nil,
		[]*fsm.State{{ID: fsm.StartStateID}, {ID: fsm.EndStateID}},
		[]*fsm.Transition{{ID: fsm.NewID(fsm.StartStateID, fsm.EndStateID)}},
	)
	require.NoError(t, err)
	return m
}

func TestSaveAndGetMachine(t *testing.T) {
	s := New()
	m := testMachine(t, "greeter")
	require.NoError(t, s.SaveMachine(context.Background(), m))

	got, err := s.GetMachine(context.Background(), "greeter")
	require.NoError(t, err)
	assert.Equal(t, m, got)
}

func TestGetMachineNotFound(t *testing.T) {
	s := New()
	_, err := s.GetMachine(context.Background(), "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestDeleteMachine(t *testing.T) {
	s := New()
	m := testMachine(t, "greeter")
	require.NoError(t, s.SaveMachine(context.Background(), m))
	require.NoError(t, s.DeleteMachine(context.Background(), "greeter"))

	_, err := s.GetMachine(context.Background(), "greeter")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestDeleteMachineNotFound(t *testing.T) {
	s := New()
	err := s.DeleteMachine(context.Background(), "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestListMachines(t *testing.T) {
	s := New()
	require.NoError(t, s.SaveMachine(context.Background(), testMachine(t, "a")))
	require.NoError(t, s.SaveMachine(context.Background(), testMachine(t, "b")))

	ids, err := s.ListMachines(context.Background())
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b"}, ids)
}
