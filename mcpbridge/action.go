package mcpbridge

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/julesgosnell/claij/fsm"
)

// callersKey is the Context side-bag key under which a map of named Callers
// is registered, mirroring the llmaction package's services convention.
const callersKey = "mcp.callers"

// Config is the static, per-state configuration for the tool-call action.
type Config struct {
	// Caller names the Caller registered under Context.Values[callersKey];
	// empty means "default".
	Caller string `json:"caller"`
	// SuccessState names the state the resulting event routes to; empty
	// means the action's own outgoing transition (valid only when the
	// state has exactly one).
	SuccessState string `json:"success_state"`
}

// toolCall mirrors the shape the LLM action encodes into a tool_calls
// event field: {id, name, payload}.
type toolCall struct {
	ID      string          `json:"id"`
	Name    string          `json:"name"`
	Payload json.RawMessage `json:"payload"`
}

// New returns the ActionFactory registered under a tool-call action name
// (conventionally "mcp"): its runtime function reads the first entry of the
// incoming event's "tool_calls" field, invokes the configured Caller, and
// reports the tool's result to the continuation as an event routed to
// SuccessState.
func New() fsm.ActionFactory {
	return fsm.ActionFactory{
		Descriptor: fsm.Descriptor{Name: "mcp"},
		New: func(config any, m *fsm.Machine, _ *fsm.Transition, state *fsm.State) (fsm.RuntimeFunc, error) {
			cfg, err := decodeConfig(config)
			if err != nil {
				return nil, fmt.Errorf("mcpbridge: %w", err)
			}
			successID, err := resolveSuccessID(m, state, cfg)
			if err != nil {
				return nil, err
			}
			return func(ctx *fsm.Context, event *fsm.Event, _ fsm.Trail, cont fsm.Continuation) {
				go run(ctx, cfg, successID, event, cont)
			}, nil
		},
	}
}

func run(ctx *fsm.Context, cfg Config, successID fsm.ID, event *fsm.Event, cont fsm.Continuation) {
	name := cfg.Caller
	if name == "" {
		name = "default"
	}
	caller, ok := callers(ctx)[name]
	if !ok {
		cont.Fail(fmt.Errorf("mcpbridge: no caller registered under %q", name))
		return
	}

	call, err := firstToolCall(event)
	if err != nil {
		cont.Fail(err)
		return
	}

	resp, err := caller.CallTool(context.Background(), CallRequest{Tool: call.Name, Payload: call.Payload})
	if err != nil {
		cont.Fail(fmt.Errorf("mcpbridge: call tool %q: %w", call.Name, err))
		return
	}

	out := fsm.NewEvent(successID)
	out.Set("tool_call_id", call.ID)
	out.Set("result", json.RawMessage(resp.Result))
	if resp.Structured != nil {
		out.Set("structured_result", json.RawMessage(resp.Structured))
	}
	cont.Continue(ctx, out)
}

func firstToolCall(event *fsm.Event) (toolCall, error) {
	raw, ok := event.Get("tool_calls")
	if !ok {
		return toolCall{}, fmt.Errorf("mcpbridge: event has no tool_calls field")
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return toolCall{}, fmt.Errorf("mcpbridge: encode tool_calls: %w", err)
	}
	var calls []toolCall
	if err := json.Unmarshal(data, &calls); err != nil {
		return toolCall{}, fmt.Errorf("mcpbridge: decode tool_calls: %w", err)
	}
	if len(calls) == 0 {
		return toolCall{}, fmt.Errorf("mcpbridge: tool_calls is empty")
	}
	return calls[0], nil
}

func callers(ctx *fsm.Context) map[string]Caller {
	v, ok := ctx.Value(callersKey)
	if !ok {
		return nil
	}
	m, _ := v.(map[string]Caller)
	return m
}

func resolveSuccessID(m *fsm.Machine, state *fsm.State, cfg Config) (fsm.ID, error) {
	if cfg.SuccessState != "" {
		return fsm.NewID(state.ID, cfg.SuccessState), nil
	}
	out := m.Outgoing(state.ID)
	if len(out) != 1 {
		return fsm.ID{}, fmt.Errorf("mcpbridge: state %q needs success_state configured (has %d outgoing transitions)", state.ID, len(out))
	}
	return out[0].ID, nil
}

func decodeConfig(raw any) (Config, error) {
	var cfg Config
	data, err := json.Marshal(raw)
	if err != nil {
		return cfg, fmt.Errorf("encode config: %w", err)
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}

// WithCallers registers a named Caller table in ctx's side-bag under the key
// the action factory reads from.
func WithCallers(ctx *fsm.Context, callers map[string]Caller) *fsm.Context {
	return ctx.WithValue(callersKey, callers)
}
