// Package engine implements the FSM runtime (start-fsm): it expands hats,
// wires one unbounded channel per transition and one consumer loop per
// non-start state with inbound edges ("end" included), and exposes the submit/await/stop
// handle described by the runtime contract.
package engine

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/julesgosnell/claij/fsm"
	"github.com/julesgosnell/claij/fsm/actions"
	"github.com/julesgosnell/claij/fsm/dispatch"
	"github.com/julesgosnell/claij/fsm/schema"
)

// ErrTimeout is returned by Handle.Await when the deadline elapses before
// the run's completion latch resolves. The run itself keeps going; callers
// that no longer want results should call Stop.
var ErrTimeout = errors.New("fsm: await timed out")

// Handle is the runtime object returned by StartFSM: the external surface a
// caller drives a machine through.
type Handle struct {
	// InputSchema is the resolved schema of the machine's unique transition
	// out of "start".
	InputSchema any
	// OutputSchema is the combined schema across every transition arriving
	// at "end".
	OutputSchema any

	machine   *fsm.Machine
	runCtx    *fsm.Context
	submitCh  *unboundedChan
	submitTr  *fsm.Transition
	channels  map[fsm.ID]*unboundedChan
	stopHooks []fsm.StopHook
}

// StartFSM builds and starts a running instance of m under ctx: hats are
// expanded, the $defs registry is combined, a completion latch is created,
// and one consumer goroutine is spawned per state with a non-empty inbound
// set. It returns synchronously once every state's action has been built
// and validated; only event processing itself is asynchronous.
func StartFSM(ctx *fsm.Context, m *fsm.Machine) (*Handle, error) {
	expanded, stopHooks, err := fsm.ExpandHats(ctx, m)
	if err != nil {
		return nil, fmt.Errorf("engine: hat expansion: %w", err)
	}

	runCtx := *ctx
	runCtx.Defs = mergeDefs(expanded.Schemas, ctx.Defs)
	runCtx.Completion = fsm.NewLatch()

	channels := make(map[fsm.ID]*unboundedChan, len(expanded.Transitions))
	for _, t := range expanded.Transitions {
		channels[t.ID] = newUnboundedChan()
	}

	invocations := make(map[string]dispatch.Invocation, len(expanded.States))
	for _, s := range expanded.States {
		if s.ID == fsm.StartStateID {
			continue
		}
		incoming := expanded.Incoming(s.ID)
		if len(incoming) == 0 {
			continue
		}
		runtime, err := buildRuntime(&runCtx, expanded, s, incoming[0])
		if err != nil {
			return nil, fmt.Errorf("engine: state %q: %w", s.ID, err)
		}
		invocations[s.ID] = dispatch.Invocation{
			State:   s,
			Runtime: runtime,
			Routes:  routesFor(expanded, s.ID, channels),
		}
	}

	for _, s := range expanded.States {
		if s.ID == fsm.StartStateID {
			continue
		}
		incoming := expanded.Incoming(s.ID)
		if len(incoming) == 0 {
			continue
		}
		inChans := make([]*unboundedChan, len(incoming))
		for i, t := range incoming {
			inChans[i] = channels[t.ID]
		}
		go runConsumerLoop(invocations[s.ID], inChans)
	}

	submitTr := expanded.StartTransition()
	h := &Handle{
		InputSchema:  schema.ResolveSchema(&runCtx, submitTr, submitTr.Schema, nil),
		OutputSchema: schema.StateSchema(&runCtx, expanded.Incoming(fsm.EndStateID)),
		machine:      expanded,
		runCtx:       &runCtx,
		submitCh:     channels[submitTr.ID],
		submitTr:     submitTr,
		channels:     channels,
		stopHooks:    stopHooks,
	}
	return h, nil
}

// Submit pushes event onto the machine's unique transition out of "start".
// If that transition is not omit, the trail begins with one entry recording
// the start->first hop.
func (h *Handle) Submit(event *fsm.Event) {
	event.ID = fsm.NewID(fsm.StartStateID, h.submitTr.ID.To)
	var trail fsm.Trail
	if !h.submitTr.Omit {
		trail = trail.Append(fsm.Entry{From: fsm.StartStateID, To: h.submitTr.ID.To, Event: event})
	}
	h.submitCh.Send(fsm.Msg{Context: h.runCtx, Event: event, Trail: trail})
}

// Await blocks until the run's completion latch resolves or timeout
// elapses (timeout <= 0 means wait forever). On success it returns the
// final context and trail; on deadline it returns ErrTimeout.
func (h *Handle) Await(timeout time.Duration) (*fsm.Context, fsm.Trail, error) {
	if timeout <= 0 {
		<-h.runCtx.Completion.Done()
		ctx, trail := h.runCtx.Completion.Result()
		return ctx, trail, nil
	}
	select {
	case <-h.runCtx.Completion.Done():
		ctx, trail := h.runCtx.Completion.Result()
		return ctx, trail, nil
	case <-time.After(timeout):
		return nil, nil, ErrTimeout
	}
}

// Stop runs every hat stop hook, then closes every transition channel so
// consumer loops observing them exit.
func (h *Handle) Stop() {
	for _, hook := range h.stopHooks {
		if hook == nil {
			continue
		}
		if err := hook(); err != nil && h.runCtx.Logger != nil {
			h.runCtx.Logger.Warn(context.Background(), "engine: hat stop hook failed", "error", err.Error())
		}
	}
	for _, ch := range h.channels {
		ch.Close()
	}
}

func buildRuntime(ctx *fsm.Context, m *fsm.Machine, s *fsm.State, incoming *fsm.Transition) (fsm.RuntimeFunc, error) {
	if s.Action == "" {
		if s.ID == fsm.EndStateID {
			return actions.End().New(s.Config, m, incoming, s)
		}
		return fsm.NoopAction().New(nil, m, incoming, s)
	}
	factory, ok := ctx.Actions[s.Action]
	if !ok {
		return nil, fmt.Errorf("no action %q registered", s.Action)
	}
	if factory.Descriptor.ConfigSchema != nil {
		ok, errs := schema.Validate(factory.Descriptor.ConfigSchema, s.Config, ctx.Defs)
		if !ok {
			return nil, fmt.Errorf("config for action %q: %w", s.Action, errs)
		}
	}
	return factory.New(s.Config, m, incoming, s)
}

func routesFor(m *fsm.Machine, stateID string, channels map[fsm.ID]*unboundedChan) []dispatch.Route {
	outgoing := m.Outgoing(stateID)
	routes := make([]dispatch.Route, len(outgoing))
	for i, t := range outgoing {
		ch := channels[t.ID]
		routes[i] = dispatch.Route{Transition: t, Push: ch.Send}
	}
	return routes
}

// runConsumerLoop waits for any inbound channel to yield a message,
// dispatches it, and loops. It exits once every inbound channel is closed.
func runConsumerLoop(inv dispatch.Invocation, inChans []*unboundedChan) {
	for {
		msg, ok := recvAny(inChans)
		if !ok {
			return
		}
		dispatch.Run(msg.Context, inv, msg.Event, msg.Trail)
	}
}

// recvAny selects across an arbitrary number of channels, reporting false
// once all of them have closed.
func recvAny(chans []*unboundedChan) (fsm.Msg, bool) {
	live := make([]*unboundedChan, 0, len(chans))
	for _, c := range chans {
		live = append(live, c)
	}
	for len(live) > 0 {
		cases := make([]reflect.SelectCase, len(live))
		for i, c := range live {
			cases[i] = reflect.SelectCase{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(c.Recv())}
		}
		chosen, value, ok := reflect.Select(cases)
		if !ok {
			live = append(live[:chosen], live[chosen+1:]...)
			continue
		}
		return value.Interface().(fsm.Msg), true
	}
	return fsm.Msg{}, false
}

func mergeDefs(machineSchemas, contextDefs map[string]any) map[string]any {
	merged := make(map[string]any, len(machineSchemas)+len(contextDefs))
	for k, v := range machineSchemas {
		merged[k] = v
	}
	for k, v := range contextDefs {
		merged[k] = v
	}
	return merged
}
