// Package actions collects the small built-in actions every machine gets
// for free: the terminal sink bound to "end" and lift, the pure-function
// action wrapper used by composition (C7).
package actions

import "github.com/julesgosnell/claij/fsm"

// End is the terminal sink action bound to "end" by default. Its runtime
// resolves the run's completion latch with the context and trail as they
// arrived; it never calls the continuation, since "end" has no outgoing
// transitions to route to.
func End() fsm.ActionFactory {
	return fsm.ActionFactory{
		Descriptor: fsm.Descriptor{Name: "end"},
		New: func(_ any, _ *fsm.Machine, _ *fsm.Transition, _ *fsm.State) (fsm.RuntimeFunc, error) {
			return func(ctx *fsm.Context, _ *fsm.Event, trail fsm.Trail, _ fsm.Continuation) {
				ctx.Completion.Resolve(ctx, trail)
			}, nil
		},
	}
}

// Lift wraps a pure function event -> event as an action whose runtime
// immediately calls the continuation with f(event), rewriting the result's
// id to match the state's single outgoing transition.
func Lift(f func(*fsm.Event) *fsm.Event) fsm.ActionFactory {
	return fsm.ActionFactory{
		Descriptor: fsm.Descriptor{Name: "lift"},
		New: func(_ any, m *fsm.Machine, _ *fsm.Transition, s *fsm.State) (fsm.RuntimeFunc, error) {
			out := m.Outgoing(s.ID)
			return func(ctx *fsm.Context, event *fsm.Event, _ fsm.Trail, cont fsm.Continuation) {
				result := f(event)
				if len(out) > 0 {
					result.ID = out[0].ID
				}
				cont.Continue(ctx, result)
			}, nil
		},
	}
}
