// Package dispatch implements the transition dispatcher (xform): it invokes
// a state's action, routes the action's output event to the matching
// outgoing transition after schema validation, retries on invalid routing
// or validation failure, and bails out to "end" on exhaustion.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/julesgosnell/claij/fsm"
	"github.com/julesgosnell/claij/fsm/schema"
)

// Route pairs one outgoing transition with the function that delivers a Msg
// to it (a channel send, wrapped so this package need not know the channel
// element type used by the engine).
type Route struct {
	Transition *fsm.Transition
	Push       func(fsm.Msg)
}

// Invocation holds everything one call of the dispatcher needs: the state
// being serviced, its action's runtime function, and the routes leaving it.
// The engine builds one Invocation per state at machine-start time and
// reuses it for every message that state's consumer loop picks up.
type Invocation struct {
	State   *fsm.State
	Runtime fsm.RuntimeFunc
	Routes  []Route
}

// Run dispatches one event arrival at inv.State: it invokes the action and,
// via the continuation, validates and routes the action's output,
// retrying up to runCtx.RetryLimit() times before forcing a bail-out. Run
// does not block: retries and the eventual channel push happen inside the
// continuation, which may be called from any goroutine (including one Run
// itself does not own, if the action does asynchronous work).
func Run(runCtx *fsm.Context, inv Invocation, event *fsm.Event, trail fsm.Trail) {
	attempt(runCtx, inv, event, trail, 0)
}

func attempt(runCtx *fsm.Context, inv Invocation, event *fsm.Event, trail fsm.Trail, retries int) {
	cont := fsm.NewContinuation(
		func(newCtx *fsm.Context, out *fsm.Event) {
			if newCtx == nil {
				newCtx = runCtx
			}
			route(newCtx, inv, event, out, trail, retries)
		},
		func(err error) {
			bailOut(runCtx, inv, trail, "transport-error", err.Error())
		},
	)
	inv.Runtime(runCtx, event, trail, cont)
}

func route(newCtx *fsm.Context, inv Invocation, inEvent *fsm.Event, out *fsm.Event, trail fsm.Trail, retries int) {
	if out.ID.Bail {
		bailOut(newCtx, inv, trail, "action-error", errorMessage(out))
		return
	}

	ox, ok := findRoute(inv.Routes, out.ID)
	if !ok {
		retryOrBail(newCtx, inv, inEvent, trail, retries,
			"invalid-transition-id",
			fmt.Sprintf("invalid transition id %s; valid ids are %s", out.ID, validIDs(inv.Routes)))
		return
	}

	doc, err := eventDocument(out)
	if err != nil {
		retryOrBail(newCtx, inv, inEvent, trail, retries,
			"schema-validation-failed",
			fmt.Sprintf("event could not be encoded for validation: %s", err))
		return
	}

	resolved := schema.ResolveSchema(newCtx, ox.Transition, ox.Transition.Schema, nil)
	valid, errs := schema.Validate(resolved, doc, newCtx.Defs)
	if !valid {
		retryOrBail(newCtx, inv, inEvent, trail, retries,
			"schema-validation-failed",
			fmt.Sprintf("schema validation failed: %s", errs.Error()))
		return
	}

	newTrail := trail
	if !ox.Transition.Omit {
		newTrail = trail.Append(fsm.Entry{From: inv.State.ID, To: ox.Transition.ID.To, Event: out})
	}
	ox.Push(fsm.Msg{Context: newCtx, Event: out, Trail: newTrail})
}

func retryOrBail(newCtx *fsm.Context, inv Invocation, inEvent *fsm.Event, trail fsm.Trail, retries int, reason, message string) {
	if retries >= newCtx.RetryLimit() {
		bailOut(newCtx, inv, trail, "max-retries-exceeded", message)
		return
	}
	errTrail := trail.Append(fsm.Entry{
		From:  inv.State.ID,
		Error: &fsm.ErrorInfo{Reason: reason, Message: message},
	})
	if newCtx.Logger != nil {
		newCtx.Logger.Warn(context.Background(), "dispatch: retrying action after routing failure",
			"state", inv.State.ID, "reason", reason, "attempt", retries+1)
	}
	attempt(newCtx, inv, inEvent, errTrail, retries+1)
}

// bailOut forces a terminal event onto the outgoing transition ending at
// "end", if one exists, so the machine drains to completion rather than
// hanging. If the state has no path to "end" it logs and returns: the
// caller's await will eventually time out.
func bailOut(runCtx *fsm.Context, inv Invocation, trail fsm.Trail, reason, message string) {
	var toEnd *Route
	for i := range inv.Routes {
		if inv.Routes[i].Transition.ID.To == fsm.EndStateID {
			toEnd = &inv.Routes[i]
			break
		}
	}
	errInfo := &fsm.ErrorInfo{Reason: reason, Message: message}
	if toEnd == nil {
		if runCtx.Logger != nil {
			runCtx.Logger.Error(context.Background(), "dispatch: no path to end from state, FSM will hang",
				"state", inv.State.ID, "reason", reason)
		}
		return
	}
	out := fsm.NewEvent(fsm.NewID(inv.State.ID, fsm.EndStateID))
	out.Set("error", errInfo)
	out.Set("bail_out", true)

	newTrail := trail
	if !toEnd.Transition.Omit {
		newTrail = trail.Append(fsm.Entry{
			From:  inv.State.ID,
			To:    fsm.EndStateID,
			Event: out,
			Error: errInfo,
		})
	}
	if runCtx.Metrics != nil {
		runCtx.Metrics.IncCounter("fsm.dispatch.bail_out", 1, "state", inv.State.ID, "reason", reason)
	}
	toEnd.Push(fsm.Msg{Context: runCtx, Event: out, Trail: newTrail})
}

// eventDocument renders out the way Event.MarshalJSON puts it on the wire,
// with "id" flattened back in alongside the domain fields, then decodes
// that into a plain JSON value suitable for schema.Validate. A transition
// schema is written against this full document, not just the domain
// fields, so it can constrain "id" (required, or pinned to the [from,to]
// pair the transition names) the same way it constrains any other field.
func eventDocument(out *fsm.Event) (any, error) {
	data, err := out.MarshalJSON()
	if err != nil {
		return nil, err
	}
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func findRoute(routes []Route, id fsm.ID) (Route, bool) {
	for _, r := range routes {
		if r.Transition.ID.Equal(id) {
			return r, true
		}
	}
	return Route{}, false
}

func validIDs(routes []Route) string {
	out := "["
	for i, r := range routes {
		if i > 0 {
			out += ", "
		}
		out += r.Transition.ID.String()
	}
	return out + "]"
}

func errorMessage(out *fsm.Event) string {
	if v, ok := out.Get("error"); ok {
		if s, ok := v.(string); ok {
			return s
		}
		return fmt.Sprintf("%v", v)
	}
	return "action reported an error"
}
