// Package compose implements the composition primitives of C7: chain, which
// pipes one running machine's completion into the next's submit, and
// sub-machine-as-action, a factory that runs a child machine to completion
// in response to a single event.
package compose

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/julesgosnell/claij/fsm"
	"github.com/julesgosnell/claij/fsm/engine"
	"github.com/julesgosnell/claij/store"
)

// Chain runs a sequence of machines end to end: submitting to the chain
// feeds the first machine; when each machine completes, the last event of
// its trail is submitted to the next machine; awaiting the chain waits on
// the last machine's completion.
type Chain struct {
	handles []*engine.Handle
}

// errEmptyChain is returned when NewChain is given no machines.
var errEmptyChain = errors.New("compose: chain requires at least one machine")

// NewChain starts every machine in ms under its own run of ctx (exactly as
// engine.StartFSM would for any single machine, each with a private
// completion latch) and wires each machine's completion to the next
// machine's submit.
func NewChain(ctx *fsm.Context, ms ...*fsm.Machine) (*Chain, error) {
	if len(ms) == 0 {
		return nil, errEmptyChain
	}
	handles := make([]*engine.Handle, 0, len(ms))
	for _, m := range ms {
		h, err := engine.StartFSM(ctx, m)
		if err != nil {
			for _, started := range handles {
				started.Stop()
			}
			return nil, fmt.Errorf("compose: chain: start %q: %w", m.ID, err)
		}
		handles = append(handles, h)
	}
	for i := 0; i < len(handles)-1; i++ {
		cur, next := handles[i], handles[i+1]
		go forward(cur, next)
	}
	return &Chain{handles: handles}, nil
}

func forward(cur, next *engine.Handle) {
	_, trail, err := cur.Await(0)
	if err != nil {
		return
	}
	if event := trail.LastEvent(); event != nil {
		next.Submit(event.Clone())
	}
}

// Submit feeds event into the chain's first machine.
func (c *Chain) Submit(event *fsm.Event) { c.handles[0].Submit(event) }

// Await blocks on the chain's last machine's completion.
func (c *Chain) Await(timeout time.Duration) (*fsm.Context, fsm.Trail, error) {
	return c.handles[len(c.handles)-1].Await(timeout)
}

// Stop stops every machine in the chain.
func (c *Chain) Stop() {
	for _, h := range c.handles {
		h.Stop()
	}
}

// SummaryMode selects how much of a sub-machine's trail is folded back into
// the parent event when it completes.
type SummaryMode string

const (
	// SummaryOmit drops the child trail entirely; only the child's last
	// event is reported.
	SummaryOmit SummaryMode = "omit"
	// SummarySummary reports the child's last event plus its entry count.
	SummarySummary SummaryMode = "summary"
	// SummaryFull embeds the child's entire trail.
	SummaryFull SummaryMode = "full"
)

// SubMachineConfig is the static, per-state configuration for a
// sub-machine-as-action.
type SubMachineConfig struct {
	// MachineID names the child machine to load from the store.
	MachineID string `json:"machine_id"`
	// Summary selects how the child trail is folded back; empty means
	// SummaryOmit.
	Summary SummaryMode `json:"summary"`
	// SuccessState names the state the parent event routes to on the
	// child's completion; empty means the action's own outgoing
	// transition (valid only when the state has exactly one).
	SuccessState string `json:"success_state"`
}

// NewSubMachine returns the ActionFactory registered under a sub-machine
// action name: at config-time it loads the child machine from st, and at
// invocation-time it starts a fresh run of the child with a context
// derived so the child's terminal sink resolves its own completion latch
// rather than the parent's, submits the incoming event, awaits the child's
// completion, and invokes the parent continuation with an event routed to
// SuccessState (or the state's sole outgoing transition).
func NewSubMachine(st store.MachineStore) fsm.ActionFactory {
	return fsm.ActionFactory{
		Descriptor: fsm.Descriptor{Name: "sub-machine"},
		New: func(config any, m *fsm.Machine, _ *fsm.Transition, state *fsm.State) (fsm.RuntimeFunc, error) {
			cfg, err := decodeSubMachineConfig(config)
			if err != nil {
				return nil, fmt.Errorf("compose: sub-machine: %w", err)
			}
			if cfg.MachineID == "" {
				return nil, errors.New("compose: sub-machine: machine_id is required")
			}
			child, err := st.GetMachine(context.Background(), cfg.MachineID)
			if err != nil {
				return nil, fmt.Errorf("compose: sub-machine: load %q: %w", cfg.MachineID, err)
			}
			successID, err := resolveSuccessID(m, state, cfg)
			if err != nil {
				return nil, err
			}

			return func(ctx *fsm.Context, event *fsm.Event, _ fsm.Trail, cont fsm.Continuation) {
				go runSubMachine(ctx, child, cfg, successID, event, cont)
			}, nil
		},
	}
}

func runSubMachine(ctx *fsm.Context, child *fsm.Machine, cfg SubMachineConfig, successID fsm.ID, event *fsm.Event, cont fsm.Continuation) {
	// StartFSM gives every run its own completion latch, so the child's
	// terminal sink never resolves the parent's.
	handle, err := engine.StartFSM(ctx, child)
	if err != nil {
		cont.Fail(fmt.Errorf("compose: sub-machine: start %q: %w", child.ID, err))
		return
	}
	handle.Submit(event.Clone())
	_, trail, err := handle.Await(0)
	if err != nil {
		cont.Fail(fmt.Errorf("compose: sub-machine: await %q: %w", child.ID, err))
		return
	}

	last := trail.LastEvent()
	out := fsm.NewEvent(successID)
	if last != nil {
		for k, v := range last.Fields {
			out.Set(k, v)
		}
	}
	switch cfg.Summary {
	case SummaryFull:
		out.Set("sub_machine_trail", trail)
	case SummarySummary:
		out.Set("sub_machine_entries", len(trail))
	}
	cont.Continue(ctx, out)
}

func resolveSuccessID(m *fsm.Machine, state *fsm.State, cfg SubMachineConfig) (fsm.ID, error) {
	if cfg.SuccessState != "" {
		return fsm.NewID(state.ID, cfg.SuccessState), nil
	}
	out := m.Outgoing(state.ID)
	if len(out) != 1 {
		return fsm.ID{}, fmt.Errorf("compose: sub-machine: state %q needs success_state configured (has %d outgoing transitions)", state.ID, len(out))
	}
	return out[0].ID, nil
}

func decodeSubMachineConfig(raw any) (SubMachineConfig, error) {
	var cfg SubMachineConfig
	data, err := json.Marshal(raw)
	if err != nil {
		return cfg, fmt.Errorf("encode config: %w", err)
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}
