package mcpbridge

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/julesgosnell/claij/fsm"
)

type fakeCaller struct {
	resp CallResponse
	err  error
	got  CallRequest
}

func (f *fakeCaller) CallTool(_ context.Context, req CallRequest) (CallResponse, error) {
	f.got = req
	return f.resp, f.err
}

func newMachine(t *testing.T, config Config) *fsm.Machine {
	t.Helper()
	states := []*fsm.State{
		{ID: fsm.StartStateID},
		{ID: "mcp", Action: "mcp", Config: config},
		{ID: fsm.EndStateID},
	}
	transitions := []*fsm.Transition{
		{ID: fsm.NewID(fsm.StartStateID, "mcp")},
		{ID: fsm.NewID("mcp", fsm.EndStateID)},
	}
	m, err := fsm.NewMachine("tool-call", nil, nil, states, transitions)
	require.NoError(t, err)
	return m
}

func runAction(t *testing.T, caller Caller, event *fsm.Event, config Config) (*fsm.Event, error) {
	t.Helper()
	m := newMachine(t, config)
	state, _ := m.State("mcp")
	incoming := m.Outgoing(fsm.StartStateID)[0]
	factory := New()
	runtime, err := factory.New(config, m, incoming, state)
	require.NoError(t, err)

	ctx := WithCallers(&fsm.Context{}, map[string]Caller{"default": caller})

	resultCh := make(chan *fsm.Event, 1)
	errCh := make(chan error, 1)
	cont := fsm.NewContinuation(
		func(_ *fsm.Context, out *fsm.Event) { resultCh <- out },
		func(err error) { errCh <- err },
	)
	runtime(ctx, event, nil, cont)

	select {
	case out := <-resultCh:
		return out, nil
	case err := <-errCh:
		return nil, err
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for action result")
		return nil, nil
	}
}

func toolCallEvent(id string, name string, payload string) *fsm.Event {
	e := fsm.NewEvent(fsm.NewID(fsm.StartStateID, "mcp"))
	e.Set("tool_calls", []map[string]any{{
		"id":      id,
		"name":    name,
		"payload": json.RawMessage(payload),
	}})
	return e
}

func TestRunInvokesCallerAndRoutesResult(t *testing.T) {
	caller := &fakeCaller{resp: CallResponse{Result: json.RawMessage(`{"ok":true}`)}}
	out, err := runAction(t, caller, toolCallEvent("call-1", "search", `{"q":"go"}`), Config{})
	require.NoError(t, err)
	assert.Equal(t, "search", caller.got.Tool)
	assert.JSONEq(t, `{"q":"go"}`, string(caller.got.Payload))

	v, _ := out.Get("tool_call_id")
	assert.Equal(t, "call-1", v)
	result, _ := out.Get("result")
	assert.JSONEq(t, `{"ok":true}`, string(result.(json.RawMessage)))
}

func TestRunFailsWhenCallerNotRegistered(t *testing.T) {
	caller := &fakeCaller{}
	_, err := runAction(t, caller, toolCallEvent("call-1", "search", `{}`), Config{Caller: "other"})
	assert.Error(t, err)
}

func TestRunFailsWhenToolCallsMissing(t *testing.T) {
	caller := &fakeCaller{}
	e := fsm.NewEvent(fsm.NewID(fsm.StartStateID, "mcp"))
	_, err := runAction(t, caller, e, Config{})
	assert.Error(t, err)
}

func TestRunFailsOnCallerError(t *testing.T) {
	caller := &fakeCaller{err: assertError("boom")}
	_, err := runAction(t, caller, toolCallEvent("call-1", "search", `{}`), Config{})
	assert.Error(t, err)
}

type assertError string

func (e assertError) Error() string { return string(e) }
