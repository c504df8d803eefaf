package fsm

import "github.com/julesgosnell/claij/telemetry"

// SchemaResolverFunc resolves a dynamically named transition schema (e.g.
// "mcp-tools", refreshed as tools come and go) at dispatch time rather than
// at machine-authoring time.
type SchemaResolverFunc func(ctx *Context, t *Transition) (any, error)

// Latch is a resolve-once completion signal. StartFSM creates one per run;
// the end action resolves it exactly once with the run's final context and
// trail.
type Latch struct {
	done chan struct{}
	ctx  *Context
	tr   Trail
}

// NewLatch creates an unresolved completion latch.
func NewLatch() *Latch { return &Latch{done: make(chan struct{})} }

// Resolve completes the latch with the given context and trail. A second
// call is a no-op: completion is resolve-once.
func (l *Latch) Resolve(ctx *Context, trail Trail) {
	select {
	case <-l.done:
		return
	default:
	}
	l.ctx = ctx
	l.tr = trail
	close(l.done)
}

// Done exposes the underlying channel so callers can select on it alongside
// a timeout.
func (l *Latch) Done() <-chan struct{} { return l.done }

// Result returns the resolved context and trail. Callers must only call
// this after Done() has fired.
func (l *Latch) Result() (*Context, Trail) { return l.ctx, l.tr }

// Context is the per-run environment threaded through every dispatcher
// invocation. It is treated as immutable by the dispatcher: actions derive
// new contexts for downstream states via With* methods rather than mutating
// a shared map, so concurrently running state loops never race on Context
// fields.
type Context struct {
	// Actions resolves a state's declared action name to its factory.
	Actions ActionTable

	// SchemaResolvers backs dynamic (string-keyed) transition schemas.
	SchemaResolvers map[string]SchemaResolverFunc

	// Defs is the combined $defs registry: the owning machine's Schemas
	// merged with any context-provided definitions, used to resolve $ref
	// pointers of the form "#/$defs/<name>".
	Defs map[string]any

	// Completion is the run's completion latch, resolved by the end action.
	Completion *Latch

	// Hats resolves hat names to hat-maker functions for hat expansion.
	Hats HatRegistry

	// Logger, Metrics and Tracer provide ambient observability to actions
	// and the dispatcher.
	Logger  telemetry.Logger
	Metrics telemetry.Metrics
	Tracer  telemetry.Tracer

	// MaxRetries bounds dispatcher retries for invalid routing and schema
	// validation failures. Zero means use the package default (3).
	MaxRetries int

	// Values is the small extensible side-bag for domain-specific entries
	// (LLM service registries, MCP callers, store handles, ...) that do not
	// warrant a dedicated typed field.
	Values map[string]any
}

// ActionTable maps a state's declared action name to its factory.
type ActionTable map[string]ActionFactory

// Value looks up a side-bag entry.
func (c *Context) Value(key string) (any, bool) {
	if c == nil || c.Values == nil {
		return nil, false
	}
	v, ok := c.Values[key]
	return v, ok
}

// WithValue returns a derived Context with key set in the side-bag, leaving
// the receiver and its map untouched.
func (c *Context) WithValue(key string, value any) *Context {
	out := c.clone()
	values := make(map[string]any, len(c.Values)+1)
	for k, v := range c.Values {
		values[k] = v
	}
	values[key] = value
	out.Values = values
	return out
}

// WithDefs returns a derived Context whose $defs registry is extended with
// extra, without mutating the receiver's map.
func (c *Context) WithDefs(extra map[string]any) *Context {
	out := c.clone()
	defs := make(map[string]any, len(c.Defs)+len(extra))
	for k, v := range c.Defs {
		defs[k] = v
	}
	for k, v := range extra {
		defs[k] = v
	}
	out.Defs = defs
	return out
}

// clone shallow-copies the Context struct itself (not its maps); callers
// that want to change a map must replace it wholesale, as WithValue/WithDefs
// do.
func (c *Context) clone() *Context {
	cp := *c
	return &cp
}

// RetryLimit returns the dispatcher's retry bound for this run: MaxRetries
// if set, else DefaultMaxRetries.
func (c *Context) RetryLimit() int {
	if c == nil || c.MaxRetries <= 0 {
		return DefaultMaxRetries
	}
	return c.MaxRetries
}

// DefaultMaxRetries is the dispatcher's default bound on re-invocations of a
// state's action for invalid-routing or schema-validation failures.
const DefaultMaxRetries = 3
