package fsm

// Msg is what flows over a transition channel: the context as derived by
// whichever action produced event, the event itself, and the trail as it
// stood immediately after the push (including the entry for this hop,
// unless the transition is omit).
type Msg struct {
	Context *Context
	Event   *Event
	Trail   Trail
}
