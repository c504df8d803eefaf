package fsm

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRoundTripMachine(t *testing.T) *Machine {
	t.Helper()
	m, err := NewMachine(
		"greeter",
		map[string]any{"greeting": map[string]any{"type": "string"}},
		[]string{"Be polite."},
		[]*State{
			{ID: StartStateID},
			{ID: "greet", Action: "llm", Prompts: []string{"Say hello."}},
			{ID: EndStateID},
		},
		[]*Transition{
			{ID: NewID(StartStateID, "greet")},
			{ID: NewID("greet", EndStateID), Schema: map[string]any{"$ref": "#/$defs/greeting"}, Label: "mcp", Omit: true},
		},
	)
	require.NoError(t, err)
	return m
}

func TestMachineMarshalUnmarshalRoundTrip(t *testing.T) {
	m := newRoundTripMachine(t)
	data, err := json.Marshal(m)
	require.NoError(t, err)

	got, err := UnmarshalMachine(data)
	require.NoError(t, err)

	assert.Equal(t, m.ID, got.ID)
	assert.Equal(t, m.Schemas, got.Schemas)
	assert.Equal(t, m.Prompts, got.Prompts)
	require.Len(t, got.States, len(m.States))
	require.Len(t, got.Transitions, len(m.Transitions))
	assert.Equal(t, m.Transitions[1].ID, got.Transitions[1].ID)
	assert.Equal(t, m.Transitions[1].Label, got.Transitions[1].Label)
	assert.True(t, got.Transitions[1].Omit)
}

func TestUnmarshalMachineRejectsUnknownFields(t *testing.T) {
	doc := []byte(`{
		"id": "m",
		"bogus": true,
		"states": [{"id":"start"},{"id":"end"}],
		"xitions": [{"id":["start","end"],"schema":true}]
	}`)
	_, err := UnmarshalMachine(doc)
	assert.Error(t, err)
}

func TestUnmarshalMachineAcceptsSchemaAliasForSchemas(t *testing.T) {
	doc := []byte(`{
		"id": "m",
		"schema": {"x": {"type": "string"}},
		"states": [{"id":"start"},{"id":"end"}],
		"xitions": [{"id":["start","end"],"schema":true}]
	}`)
	m, err := UnmarshalMachine(doc)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"x": map[string]any{"type": "string"}}, m.Schemas)
}

func TestUnmarshalMachineRejectsStructuralInvariantViolation(t *testing.T) {
	doc := []byte(`{
		"id": "m",
		"states": [{"id":"start"}],
		"xitions": []
	}`)
	_, err := UnmarshalMachine(doc)
	assert.Error(t, err)
}
