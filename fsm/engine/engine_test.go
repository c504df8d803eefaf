package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/julesgosnell/claij/fsm"
)

// incrementFactory builds an action that emits, on the first outgoing
// transition declared for its state, a new event whose only field is the
// incoming "value" plus 1. It is used to exercise a minimal, fully-wired machine
// end to end.
func incrementFactory() fsm.ActionFactory {
	return fsm.ActionFactory{
		Descriptor: fsm.Descriptor{Name: "increment"},
		New: func(_ any, m *fsm.Machine, _ *fsm.Transition, s *fsm.State) (fsm.RuntimeFunc, error) {
			out := m.Outgoing(s.ID)[0]
			return func(_ *fsm.Context, event *fsm.Event, _ fsm.Trail, cont fsm.Continuation) {
				n, _ := event.Get("value")
				v, _ := n.(float64)
				next := fsm.NewEvent(out.ID)
				next.Set("value", v+1)
				cont.Continue(nil, next)
			}, nil
		},
	}
}

func newIncrementMachine(t *testing.T) *fsm.Machine {
	t.Helper()
	states := []*fsm.State{
		{ID: fsm.StartStateID},
		{ID: "p", Action: "increment"},
		{ID: fsm.EndStateID},
	}
	transitions := []*fsm.Transition{
		{ID: fsm.NewID(fsm.StartStateID, "p")},
		{ID: fsm.NewID("p", fsm.EndStateID)},
	}
	m, err := fsm.NewMachine("increment-once", nil, nil, states, transitions)
	require.NoError(t, err)
	return m
}

func TestSingleIncrementMachine(t *testing.T) {
	m := newIncrementMachine(t)
	ctx := &fsm.Context{Actions: fsm.ActionTable{"increment": incrementFactory()}}

	h, err := StartFSM(ctx, m)
	require.NoError(t, err)
	defer h.Stop()

	in := fsm.NewEvent(fsm.ID{})
	in.Set("value", float64(1))
	h.Submit(in)

	_, trail, err := h.Await(2 * time.Second)
	require.NoError(t, err)
	last := trail.LastEvent()
	require.NotNil(t, last)
	value, _ := last.Get("value")
	assert.Equal(t, float64(2), value)
}

func newChainMachine(t *testing.T, n int) *fsm.Machine {
	t.Helper()
	states := []*fsm.State{{ID: fsm.StartStateID}}
	var transitions []*fsm.Transition
	prev := fsm.StartStateID
	for i := 0; i < n; i++ {
		id := "p" + string(rune('a'+i))
		states = append(states, &fsm.State{ID: id, Action: "increment"})
		transitions = append(transitions, &fsm.Transition{ID: fsm.NewID(prev, id)})
		prev = id
	}
	states = append(states, &fsm.State{ID: fsm.EndStateID})
	transitions = append(transitions, &fsm.Transition{ID: fsm.NewID(prev, fsm.EndStateID)})

	m, err := fsm.NewMachine("increment-chain", nil, nil, states, transitions)
	require.NoError(t, err)
	return m
}

func TestChainOfThreeIncrements(t *testing.T) {
	m := newChainMachine(t, 3)
	ctx := &fsm.Context{Actions: fsm.ActionTable{"increment": incrementFactory()}}

	h, err := StartFSM(ctx, m)
	require.NoError(t, err)
	defer h.Stop()

	in := fsm.NewEvent(fsm.ID{})
	in.Set("value", float64(0))
	h.Submit(in)

	_, trail, err := h.Await(2 * time.Second)
	require.NoError(t, err)
	last := trail.LastEvent()
	require.NotNil(t, last)
	value, _ := last.Get("value")
	assert.Equal(t, float64(3), value)
}

func TestBailOutOnMaxRetriesInvalidID(t *testing.T) {
	states := []*fsm.State{
		{ID: fsm.StartStateID},
		{ID: "choice", Action: "always-bogus"},
		{ID: "opt-a"},
		{ID: fsm.EndStateID},
	}
	transitions := []*fsm.Transition{
		{ID: fsm.NewID(fsm.StartStateID, "choice")},
		{ID: fsm.NewID("choice", "opt-a")},
		{ID: fsm.NewID("choice", fsm.EndStateID)},
		{ID: fsm.NewID("opt-a", fsm.EndStateID)},
	}
	m, err := fsm.NewMachine("bogus-routing", nil, nil, states, transitions)
	require.NoError(t, err)

	bogus := fsm.ActionFactory{
		Descriptor: fsm.Descriptor{Name: "always-bogus"},
		New: func(_ any, _ *fsm.Machine, _ *fsm.Transition, _ *fsm.State) (fsm.RuntimeFunc, error) {
			return func(_ *fsm.Context, _ *fsm.Event, _ fsm.Trail, cont fsm.Continuation) {
				cont.Continue(nil, fsm.NewEvent(fsm.NewID("choice", "bogus")))
			}, nil
		},
	}
	ctx := &fsm.Context{Actions: fsm.ActionTable{"always-bogus": bogus}, MaxRetries: 3}

	h, err := StartFSM(ctx, m)
	require.NoError(t, err)
	defer h.Stop()

	h.Submit(fsm.NewEvent(fsm.ID{}))

	_, trail, err := h.Await(2 * time.Second)
	require.NoError(t, err)
	entry, ok := trail.LastEntry()
	require.True(t, ok)
	require.NotNil(t, entry.Error)
	assert.Equal(t, "max-retries-exceeded", entry.Error.Reason)
	bailOutVal, _ := entry.Event.Get("bail_out")
	assert.Equal(t, true, bailOutVal)
}

func TestOmitSuppressesTrailEntry(t *testing.T) {
	states := []*fsm.State{
		{ID: fsm.StartStateID},
		{ID: "m", Action: "increment"},
		{ID: "e", Action: "increment"},
		{ID: fsm.EndStateID},
	}
	transitions := []*fsm.Transition{
		{ID: fsm.NewID(fsm.StartStateID, "m")},
		{ID: fsm.NewID("m", "e"), Omit: true},
		{ID: fsm.NewID("e", fsm.EndStateID)},
	}
	m, err := fsm.NewMachine("omit-middle", nil, nil, states, transitions)
	require.NoError(t, err)
	ctx := &fsm.Context{Actions: fsm.ActionTable{"increment": incrementFactory()}}

	h, err := StartFSM(ctx, m)
	require.NoError(t, err)
	defer h.Stop()

	in := fsm.NewEvent(fsm.ID{})
	in.Set("value", float64(0))
	h.Submit(in)

	_, trail, err := h.Await(2 * time.Second)
	require.NoError(t, err)
	for _, e := range trail {
		assert.False(t, e.From == "m" && e.To == "e", "omit transition must not appear in trail")
	}
}
