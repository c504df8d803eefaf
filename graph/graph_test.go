package graph

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/julesgosnell/claij/fsm"
)

func TestRenderIncludesEveryStateAndTransition(t *testing.T) {
	m, err := fsm.NewMachine("greeter", nil, nil,
		[]*fsm.State{
			{ID: fsm.StartStateID},
			{ID: "greet", Action: "llm"},
			{ID: fsm.EndStateID},
		},
		[]*fsm.Transition{
			{ID: fsm.NewID(fsm.StartStateID, "greet")},
			{ID: fsm.NewID("greet", fsm.EndStateID), Label: "done"},
		},
	)
	require.NoError(t, err)

	dot, err := Render(m)
	require.NoError(t, err)
	assert.Contains(t, dot, `"start"`)
	assert.Contains(t, dot, `"greet"`)
	assert.Contains(t, dot, `"end"`)
	assert.Contains(t, dot, "digraph")
	assert.True(t, strings.Contains(dot, "done"))
}
