package fsm

import (
	"encoding/json"
	"errors"
)

// Event is the in-flight document the engine routes between states. Every
// event carries an ID discriminator plus arbitrary domain fields supplied by
// the action that produced it.
type Event struct {
	ID     ID
	Fields map[string]any
}

// NewEvent builds an event with the given id and an empty field set.
func NewEvent(id ID) *Event {
	return &Event{ID: id, Fields: map[string]any{}}
}

// Get returns a field value and whether it was present.
func (e *Event) Get(key string) (any, bool) {
	if e == nil || e.Fields == nil {
		return nil, false
	}
	v, ok := e.Fields[key]
	return v, ok
}

// Set assigns a field value, allocating the field map if necessary.
func (e *Event) Set(key string, value any) {
	if e.Fields == nil {
		e.Fields = map[string]any{}
	}
	e.Fields[key] = value
}

// Clone returns a shallow copy of the event with its own field map, so a
// downstream action can mutate the copy without affecting callers still
// holding the original.
func (e *Event) Clone() *Event {
	if e == nil {
		return nil
	}
	fields := make(map[string]any, len(e.Fields))
	for k, v := range e.Fields {
		fields[k] = v
	}
	return &Event{ID: e.ID, Fields: fields}
}

// MarshalJSON flattens the ID into the "id" key alongside the event's other
// fields, producing the wire shape described by the event document contract.
func (e *Event) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(e.Fields)+1)
	for k, v := range e.Fields {
		out[k] = v
	}
	idJSON, err := e.ID.MarshalJSON()
	if err != nil {
		return nil, err
	}
	var idAny any
	if err := json.Unmarshal(idJSON, &idAny); err != nil {
		return nil, err
	}
	out["id"] = idAny
	return json.Marshal(out)
}

// UnmarshalJSON splits the "id" key back out of the flattened document into
// ID, leaving the remaining keys in Fields.
func (e *Event) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	idRaw, ok := raw["id"]
	if !ok {
		return errMissingEventID
	}
	var id ID
	if err := json.Unmarshal(idRaw, &id); err != nil {
		return err
	}
	delete(raw, "id")
	fields := make(map[string]any, len(raw))
	for k, v := range raw {
		var val any
		if err := json.Unmarshal(v, &val); err != nil {
			return err
		}
		fields[k] = val
	}
	e.ID = id
	e.Fields = fields
	return nil
}

var errMissingEventID = errors.New("fsm: event document is missing required \"id\" field")
