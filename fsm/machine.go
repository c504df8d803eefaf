package fsm

import "fmt"

// StartStateID and EndStateID name the two synthetic states every machine
// must declare: the unique source all runs are submitted against, and the
// unique sink whose completion resolves a run.
const (
	StartStateID = "start"
	EndStateID   = "end"
)

type (
	// Machine is the immutable, read-only-after-construction definition of a
	// schema-typed FSM: states connected by schema-validated transitions,
	// plus the machine-level schema registry and system prompts shared by
	// every running instance.
	Machine struct {
		ID          string
		Description string
		Version     string

		// Schemas is the machine's $defs registry: name -> JSON-Schema
		// fragment, referenced from transition schemas via "#/$defs/<name>".
		Schemas map[string]any

		// Prompts are machine-level system prompt strings, prepended ahead
		// of state- and transition-level prompts when an LLM action builds
		// its protocol message.
		Prompts []string

		States      []*State
		Transitions []*Transition

		statesByID      map[string]*State
		transitionsByID map[ID]*Transition
		outgoing        map[string][]*Transition
		incoming        map[string][]*Transition
	}

	// State is a node that delegates incoming events to a pluggable action.
	// A state with no Action is a no-op pass-through, used for "start".
	State struct {
		ID          string
		Description string

		// Action names an action factory registered in the Context under
		// this key. Empty means no-op.
		Action string

		// Config is validated against the action's declared config-schema
		// when the machine starts.
		Config any

		Prompts []string
		Hats    []HatDecl
	}

	// Transition is a directed edge annotated with the schema every event
	// crossing it must satisfy. Schema may be a literal JSON-Schema
	// document, a string key naming a dynamic resolver in the Context, or
	// nil (accept any document whose id matches).
	Transition struct {
		ID     ID
		Schema any

		// Omit suppresses trail entries for events crossing this
		// transition.
		Omit bool

		Prompts     []string
		Label       string
		Description string
	}
)

// NewMachine builds a Machine from its declared states and transitions and
// validates the structural invariants from the data model: exactly one
// start/end state, no dangling references, start has no inbound edges, end
// has no outbound edges, start has exactly one outbound edge, and at least
// one edge enters end.
func NewMachine(id string, schemas map[string]any, prompts []string, states []*State, transitions []*Transition) (*Machine, error) {
	m := &Machine{
		ID:      id,
		Schemas: schemas,
		Prompts: prompts,
		States:  states,
	}
	m.Transitions = transitions
	if err := m.index(); err != nil {
		return nil, err
	}
	return m, nil
}

// index (re)builds the lookup tables and re-validates the machine's
// structural invariants. Callers that splice states/transitions into an
// existing Machine (hat expansion) must call this afterwards.
func (m *Machine) index() error {
	m.statesByID = make(map[string]*State, len(m.States))
	for _, s := range m.States {
		if s.ID == "" {
			return fmt.Errorf("fsm: state with empty id")
		}
		if _, dup := m.statesByID[s.ID]; dup {
			return fmt.Errorf("fsm: duplicate state id %q", s.ID)
		}
		m.statesByID[s.ID] = s
	}
	if _, ok := m.statesByID[StartStateID]; !ok {
		return fmt.Errorf("fsm: machine %q missing required %q state", m.ID, StartStateID)
	}
	if _, ok := m.statesByID[EndStateID]; !ok {
		return fmt.Errorf("fsm: machine %q missing required %q state", m.ID, EndStateID)
	}

	m.transitionsByID = make(map[ID]*Transition, len(m.Transitions))
	m.outgoing = make(map[string][]*Transition)
	m.incoming = make(map[string][]*Transition)
	for _, t := range m.Transitions {
		if t.ID.Bail {
			return fmt.Errorf("fsm: transition id cannot be the error sentinel")
		}
		if _, dup := m.transitionsByID[t.ID]; dup {
			return fmt.Errorf("fsm: duplicate transition id %s", t.ID)
		}
		if _, ok := m.statesByID[t.ID.From]; !ok {
			return fmt.Errorf("fsm: transition %s references unknown from-state", t.ID)
		}
		if _, ok := m.statesByID[t.ID.To]; !ok {
			return fmt.Errorf("fsm: transition %s references unknown to-state", t.ID)
		}
		m.transitionsByID[t.ID] = t
		m.outgoing[t.ID.From] = append(m.outgoing[t.ID.From], t)
		m.incoming[t.ID.To] = append(m.incoming[t.ID.To], t)
	}

	if len(m.incoming[StartStateID]) != 0 {
		return fmt.Errorf("fsm: %q must have no inbound transitions", StartStateID)
	}
	if len(m.outgoing[EndStateID]) != 0 {
		return fmt.Errorf("fsm: %q must have no outbound transitions", EndStateID)
	}
	if len(m.outgoing[StartStateID]) != 1 {
		return fmt.Errorf("fsm: %q must have exactly one outbound transition, got %d", StartStateID, len(m.outgoing[StartStateID]))
	}
	if len(m.incoming[EndStateID]) == 0 {
		return fmt.Errorf("fsm: %q must have at least one inbound transition", EndStateID)
	}
	return nil
}

// State looks up a state by id.
func (m *Machine) State(id string) (*State, bool) {
	s, ok := m.statesByID[id]
	return s, ok
}

// Transition looks up a transition by its [from,to] id.
func (m *Machine) Transition(id ID) (*Transition, bool) {
	t, ok := m.transitionsByID[id]
	return t, ok
}

// Outgoing returns the transitions leaving the named state, in declaration
// order.
func (m *Machine) Outgoing(stateID string) []*Transition { return m.outgoing[stateID] }

// Incoming returns the transitions arriving at the named state, in
// declaration order.
func (m *Machine) Incoming(stateID string) []*Transition { return m.incoming[stateID] }

// StartTransition returns the machine's unique transition out of "start".
func (m *Machine) StartTransition() *Transition {
	out := m.outgoing[StartStateID]
	if len(out) == 0 {
		return nil
	}
	return out[0]
}
