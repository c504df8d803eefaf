package fsm

import "fmt"

type (
	// HatDecl declares one hat activation on a state: the hat's registered
	// name plus whatever config that hat needs.
	HatDecl struct {
		Name   string `json:"name"`
		Config any    `json:"config,omitempty"`
	}

	// Fragment is what a hat contributes to the host machine: additional
	// states and transitions, plus prompt strings appended to the host
	// state's own prompts.
	Fragment struct {
		States      []*State
		Transitions []*Transition
		Prompts     []string
	}

	// StopHook is registered by a hat activation and run by the runtime's
	// Stop() before channels are closed, so hats can tear down resources
	// (subprocesses, open streams) they opened during expansion.
	StopHook func() error

	// Activation is the result of invoking a hat-maker for one state: the
	// fragment to splice in, plus an optional stop hook.
	Activation struct {
		Fragment Fragment
		Stop     StopHook
	}

	// HatMaker builds an Activation for one (state, config) binding. It may
	// consult ctx (e.g. a process-scoped cache the hat reads from) but must
	// not mutate it.
	HatMaker func(ctx *Context, stateID string, config any) (Activation, error)

	// HatRegistry resolves a hat's declared name to its maker.
	HatRegistry map[string]HatMaker
)

// ExpandHats rewrites m by splicing every state's declared hats into it, in
// state-declaration order and then hat-declaration order within a state.
// Per the hat expansion invariant, every state and transition of m survives
// unchanged; hats may only add. It returns the expanded machine, the stop
// hooks collected along the way, and the first error encountered.
func ExpandHats(ctx *Context, m *Machine) (*Machine, []StopHook, error) {
	if ctx.Hats == nil {
		return m, nil, nil
	}
	states := make([]*State, len(m.States))
	copy(states, m.States)
	transitions := append([]*Transition(nil), m.Transitions...)
	var stops []StopHook

	for i, s := range m.States {
		if len(s.Hats) == 0 {
			continue
		}
		// Clone before mutating prompts so the source machine m is left
		// exactly as it was, per the hat expansion preservation invariant.
		host := *s
		host.Prompts = append([]string(nil), s.Prompts...)
		states[i] = &host

		for _, decl := range s.Hats {
			maker, ok := ctx.Hats[decl.Name]
			if !ok {
				return nil, stops, fmt.Errorf("fsm: state %q declares unknown hat %q", s.ID, decl.Name)
			}
			act, err := maker(ctx, s.ID, decl.Config)
			if err != nil {
				return nil, stops, fmt.Errorf("fsm: hat %q on state %q: %w", decl.Name, s.ID, err)
			}
			states = append(states, act.Fragment.States...)
			transitions = append(transitions, act.Fragment.Transitions...)
			host.Prompts = append(host.Prompts, act.Fragment.Prompts...)
			if act.Stop != nil {
				stops = append(stops, act.Stop)
			}
		}
	}

	expanded, err := NewMachine(m.ID, m.Schemas, m.Prompts, states, transitions)
	if err != nil {
		return nil, stops, fmt.Errorf("fsm: expanded machine %q is invalid: %w", m.ID, err)
	}
	return expanded, stops, nil
}
