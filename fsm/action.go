package fsm

// Continuation is how an action reports its output back to the dispatcher.
// An action must eventually call exactly one of Continue or Fail per
// invocation, possibly after asynchronous work (an HTTP round trip, a
// sub-machine run, ...). The dispatcher does not care which goroutine calls
// it.
type Continuation interface {
	// Continue delivers the action's output event, together with the
	// context the action wants downstream states to observe. newCtx may be
	// the same Context the action was invoked with, or a derived one (see
	// Context.WithValue/WithDefs); it must never be a mutation of a shared
	// Context.
	Continue(newCtx *Context, out *Event)

	// Fail reports a transport-level failure. The dispatcher bails out
	// immediately without retrying, as it does when the action calls
	// Continue with an ErrorID() event, but records the bail-out reason as
	// "transport-error" rather than "action-error".
	Fail(err error)
}

// RuntimeFunc is the function a Factory produces: given the context, the
// incoming event, the trail as seen at arrival, and a continuation, it
// drives the state's work and reports exactly one outcome via cont.
type RuntimeFunc func(ctx *Context, event *Event, trail Trail, cont Continuation)

// Factory builds a RuntimeFunc for one (config, machine, transition, state)
// binding. It closes over whatever static configuration the action needs;
// the engine calls it once per state at machine-start time.
type Factory func(config any, m *Machine, incoming *Transition, state *State) (RuntimeFunc, error)

// Descriptor is the declarative capability statement a Factory carries:
// name plus the three schemas used by design-time composition tools and by
// machine-start config validation. None of these are enforced by the
// dispatcher at dispatch time — only transition schemas are; Descriptor
// exists so tooling (and machine authors) can reason about an action's
// contract without running it.
type Descriptor struct {
	Name         string
	ConfigSchema any
	InputSchema  any
	OutputSchema any
}

// ActionFactory pairs a Descriptor with the Factory it describes. This is
// what gets registered in a Context's ActionTable under a state's declared
// action name.
type ActionFactory struct {
	Descriptor Descriptor
	New        Factory
}

// funcContinuation adapts two plain callbacks to the Continuation
// interface; dispatch and compose use it so they are not forced to define a
// struct type at every call site.
type funcContinuation struct {
	onContinue func(*Context, *Event)
	onFail     func(error)
}

// NewContinuation builds a Continuation backed by the given callbacks.
func NewContinuation(onContinue func(*Context, *Event), onFail func(error)) Continuation {
	return funcContinuation{onContinue: onContinue, onFail: onFail}
}

func (f funcContinuation) Continue(ctx *Context, ev *Event) {
	if f.onContinue != nil {
		f.onContinue(ctx, ev)
	}
}

func (f funcContinuation) Fail(err error) {
	if f.onFail != nil {
		f.onFail(err)
	}
}

// NoopAction is the action bound to a non-start, non-end state with no
// declared Action ("start" runs no action): it immediately forwards the
// incoming event unchanged, including its incoming id.
func NoopAction() ActionFactory {
	return ActionFactory{
		Descriptor: Descriptor{Name: "noop"},
		New: func(_ any, _ *Machine, _ *Transition, _ *State) (RuntimeFunc, error) {
			return func(ctx *Context, event *Event, _ Trail, cont Continuation) {
				cont.Continue(ctx, event)
			}, nil
		},
	}
}
