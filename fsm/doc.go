package fsm

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// machineDoc, stateDoc and transitionDoc mirror the external machine
// document wire format (§6): JSON with keys id, description?, version?,
// schemas?, schema?, prompts?, states, xitions. schema is accepted as
// an alias for schemas; if both are present, schemas wins. There is no
// machine-level hats key: a document carrying one is rejected as an unknown
// field. Hats are declared per state, under each state's hats key.
type (
	machineDoc struct {
		ID          string           `json:"id"`
		Description string           `json:"description,omitempty"`
		Version     string           `json:"version,omitempty"`
		Schemas     map[string]any   `json:"schemas,omitempty"`
		Schema      map[string]any   `json:"schema,omitempty"`
		Prompts     []string         `json:"prompts,omitempty"`
		States      []*stateDoc      `json:"states"`
		Transitions []*transitionDoc `json:"xitions"`
	}

	stateDoc struct {
		ID          string    `json:"id"`
		Description string    `json:"description,omitempty"`
		Action      string    `json:"action,omitempty"`
		Config      any       `json:"config,omitempty"`
		Prompts     []string  `json:"prompts,omitempty"`
		Hats        []HatDecl `json:"hats,omitempty"`
	}

	transitionDoc struct {
		ID          [2]string `json:"id"`
		Label       string    `json:"label,omitempty"`
		Description string    `json:"description,omitempty"`
		Prompts     []string  `json:"prompts,omitempty"`
		Schema      any       `json:"schema"`
		Omit        bool      `json:"omit,omitempty"`
	}
)

// MarshalJSON encodes m as a machine document per §6.
func (m *Machine) MarshalJSON() ([]byte, error) {
	states := make([]*stateDoc, len(m.States))
	for i, s := range m.States {
		states[i] = &stateDoc{
			ID:          s.ID,
			Description: s.Description,
			Action:      s.Action,
			Config:      s.Config,
			Prompts:     s.Prompts,
			Hats:        s.Hats,
		}
	}
	transitions := make([]*transitionDoc, len(m.Transitions))
	for i, t := range m.Transitions {
		transitions[i] = &transitionDoc{
			ID:          [2]string{t.ID.From, t.ID.To},
			Label:       t.Label,
			Description: t.Description,
			Prompts:     t.Prompts,
			Schema:      t.Schema,
			Omit:        t.Omit,
		}
	}
	return json.Marshal(machineDoc{
		ID:          m.ID,
		Description: m.Description,
		Version:     m.Version,
		Schemas:     m.Schemas,
		Prompts:     m.Prompts,
		States:      states,
		Transitions: transitions,
	})
}

// UnmarshalMachine decodes a machine document and builds a validated
// Machine. Unknown top-level and nested fields are rejected, per §6's
// "additional properties are rejected" rule.
func UnmarshalMachine(data []byte) (*Machine, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var doc machineDoc
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("fsm: decode machine document: %w", err)
	}

	schemas := doc.Schemas
	if schemas == nil {
		schemas = doc.Schema
	}

	states := make([]*State, len(doc.States))
	for i, s := range doc.States {
		states[i] = &State{
			ID:          s.ID,
			Description: s.Description,
			Action:      s.Action,
			Config:      s.Config,
			Prompts:     s.Prompts,
			Hats:        s.Hats,
		}
	}
	transitions := make([]*Transition, len(doc.Transitions))
	for i, t := range doc.Transitions {
		transitions[i] = &Transition{
			ID:          NewID(t.ID[0], t.ID[1]),
			Label:       t.Label,
			Description: t.Description,
			Prompts:     t.Prompts,
			Schema:      t.Schema,
			Omit:        t.Omit,
		}
	}

	return NewMachine(doc.ID, schemas, doc.Prompts, states, transitions)
}
