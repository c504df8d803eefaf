// Package fsm implements the schema-typed finite state machine data model:
// machines, states, transitions and the events that flow across them.
package fsm

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ID is the discriminator carried by every event as its "id" field. It is
// normally a two-element [from, to] tuple naming the transition the event is
// crossing. An action may instead emit the bare "error" sentinel ID (see
// ErrorID) to make the dispatcher bail out; Bail distinguishes that case.
type ID struct {
	From string
	To   string
	Bail bool
}

// NewID builds a regular [from, to] transition discriminator.
func NewID(from, to string) ID { return ID{From: from, To: to} }

// ErrorID is the sentinel discriminator an action uses to signal a terminal
// transport failure. The dispatcher bails out immediately without retrying.
func ErrorID() ID { return ID{Bail: true} }

// String renders the ID the way it appears in log messages and error text.
func (id ID) String() string {
	if id.Bail {
		return "error"
	}
	return fmt.Sprintf("[%s,%s]", id.From, id.To)
}

// Equal reports whether two IDs name the same transition (or are both the
// error sentinel).
func (id ID) Equal(other ID) bool {
	return id.Bail == other.Bail && id.From == other.From && id.To == other.To
}

// MarshalJSON encodes the ID as the bare string "error" for the sentinel, or
// as a ["from","to"] array otherwise, matching the wire shape described by
// the event document contract.
func (id ID) MarshalJSON() ([]byte, error) {
	if id.Bail {
		return json.Marshal("error")
	}
	return json.Marshal([2]string{id.From, id.To})
}

// UnmarshalJSON accepts either the bare string "error" or a two-element
// array of strings.
func (id *ID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		if s != "error" {
			return fmt.Errorf("fsm: invalid scalar event id %q, only \"error\" is allowed", s)
		}
		*id = ID{Bail: true}
		return nil
	}
	var pair [2]string
	if err := json.Unmarshal(data, &pair); err != nil {
		return fmt.Errorf("fsm: invalid event id: %w", err)
	}
	*id = ID{From: pair[0], To: pair[1]}
	return nil
}

// ErrBailOut is a sentinel for a run that bailed out to "end". The
// dispatcher does not return or wrap it: it reports a bail-out through the
// bail_out field of the event it pushes towards "end".
var ErrBailOut = errors.New("fsm: bailed out")
