// Package schema implements JSON-Schema validation and $ref expansion for
// the engine's transition schemas, backed by
// github.com/santhosh-tekuri/jsonschema/v6.
package schema

import (
	"context"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/julesgosnell/claij/fsm"
)

// Validate checks value against schema (a literal JSON-Schema document, a
// bool, or nil meaning "any"), resolving any "#/$defs/<name>" references
// against defs. It never panics on a malformed schema: compilation failures
// are reported as a single ValidationError rather than propagated as a Go
// error, since schema metadata problems must not crash a running machine
// (see resolve-schema's degrade-to-any policy).
func Validate(rawSchema any, value any, defs map[string]any) (bool, fsm.ValidationErrors) {
	compiled, err := compile(rawSchema, defs)
	if err != nil {
		return false, fsm.ValidationErrors{{Message: err.Error()}}
	}
	if verr := compiled.Validate(value); verr != nil {
		return false, toValidationErrors(verr)
	}
	return true, nil
}

// compile builds a *jsonschema.Schema for rawSchema with defs merged in as
// its $defs registry.
func compile(rawSchema any, defs map[string]any) (*jsonschema.Schema, error) {
	doc := mergeDefs(rawSchema, defs)
	c := jsonschema.NewCompiler()
	const resource = "transition-schema.json"
	if err := c.AddResource(resource, doc); err != nil {
		return nil, fmt.Errorf("schema: add resource: %w", err)
	}
	compiled, err := c.Compile(resource)
	if err != nil {
		return nil, fmt.Errorf("schema: compile: %w", err)
	}
	return compiled, nil
}

// mergeDefs returns a copy of schema with defs folded into its top-level
// "$defs" key (schema-local $defs, if any, take precedence on conflict).
// nil and bare JSON-Schema booleans pass straight through.
func mergeDefs(schema any, defs map[string]any) any {
	if schema == nil {
		return true
	}
	b, ok := schema.(bool)
	if ok {
		return b
	}
	m, ok := schema.(map[string]any)
	if !ok || len(defs) == 0 {
		return schema
	}
	merged := make(map[string]any, len(m)+1)
	for k, v := range m {
		merged[k] = v
	}
	existing, _ := merged["$defs"].(map[string]any)
	combined := make(map[string]any, len(defs)+len(existing))
	for k, v := range defs {
		combined[k] = v
	}
	for k, v := range existing {
		combined[k] = v
	}
	merged["$defs"] = combined
	return merged
}

// toValidationErrors flattens a *jsonschema.ValidationError tree (one node
// per failed keyword, nested via Causes) into our flat ValidationErrors,
// keeping just the leaves so callers see concrete failures rather than the
// "allOf failed" wrapper nodes above them.
func toValidationErrors(err error) fsm.ValidationErrors {
	ve, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return fsm.ValidationErrors{{Message: err.Error()}}
	}
	var out fsm.ValidationErrors
	var walk func(*jsonschema.ValidationError)
	walk = func(n *jsonschema.ValidationError) {
		if len(n.Causes) == 0 {
			out = append(out, fsm.ValidationError{
				Path:    "#/" + strings.Join(n.InstanceLocation, "/"),
				Message: n.Error(),
			})
			return
		}
		for _, c := range n.Causes {
			walk(c)
		}
	}
	walk(ve)
	if len(out) == 0 {
		out = append(out, fsm.ValidationError{Message: err.Error()})
	}
	return out
}

// ExpandRefs recursively inlines every "#/$defs/<name>" reference in schema
// against defs, producing a schema with no external references. Used before
// handing a schema to a language model, which cannot resolve references
// itself. For acyclic defs ExpandRefs is idempotent: expanding an
// already-expanded schema returns it unchanged (there are no $refs left to
// inline). A cyclic reference is left in place as a $ref, so a second pass
// inlines it one level further.
func ExpandRefs(schema any, defs map[string]any) any {
	return expandValue(schema, defs, map[string]bool{})
}

func expandValue(v any, defs map[string]any, seen map[string]bool) any {
	switch val := v.(type) {
	case map[string]any:
		if ref, ok := val["$ref"].(string); ok && len(val) == 1 {
			name, ok := defName(ref)
			if !ok {
				return val
			}
			if seen[name] {
				// Cyclic $defs: stop inlining further and leave the ref in
				// place rather than recursing forever.
				return val
			}
			def, ok := defs[name]
			if !ok {
				return val
			}
			nextSeen := make(map[string]bool, len(seen)+1)
			for k := range seen {
				nextSeen[k] = true
			}
			nextSeen[name] = true
			return expandValue(def, defs, nextSeen)
		}
		out := make(map[string]any, len(val))
		for k, vv := range val {
			if k == "$defs" {
				continue
			}
			out[k] = expandValue(vv, defs, seen)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, vv := range val {
			out[i] = expandValue(vv, defs, seen)
		}
		return out
	default:
		return v
	}
}

func defName(ref string) (string, bool) {
	const prefix = "#/$defs/"
	if !strings.HasPrefix(ref, prefix) {
		return "", false
	}
	return strings.TrimPrefix(ref, prefix), true
}

// ResolveSchema implements the resolve-schema algorithm: a string names a
// dynamic resolver registered in ctx.SchemaResolvers; nil falls back to the
// given fallback schema when it is non-nil; anything else is returned as-is. Resolution failures degrade to
// "any" (true) rather than propagating, so a running machine never crashes
// from schema metadata alone — the failure is only logged.
func ResolveSchema(ctx *fsm.Context, t *fsm.Transition, raw any, fallback any) any {
	switch v := raw.(type) {
	case string:
		resolver, ok := ctx.SchemaResolvers[v]
		if !ok {
			if ctx.Logger != nil {
				ctx.Logger.Warn(context.Background(), "schema: no resolver registered for dynamic schema key, degrading to any", "key", v)
			}
			return true
		}
		resolved, err := resolver(ctx, t)
		if err != nil {
			if ctx.Logger != nil {
				ctx.Logger.Warn(context.Background(), "schema: dynamic resolver failed, degrading to any", "key", v, "error", err.Error())
			}
			return true
		}
		return resolved
	case nil:
		if fallback != nil {
			return fallback
		}
		return true
	default:
		return raw
	}
}

// StateSchema builds the oneOf (or single-schema) alternative describing
// every outgoing transition from a state, so an LLM action can present it as
// the structured-output contract for that state.
func StateSchema(ctx *fsm.Context, outgoing []*fsm.Transition) any {
	if len(outgoing) == 0 {
		return true
	}
	schemas := make([]any, 0, len(outgoing))
	for _, t := range outgoing {
		schemas = append(schemas, ResolveSchema(ctx, t, t.Schema, nil))
	}
	if len(schemas) == 1 {
		return schemas[0]
	}
	return map[string]any{"oneOf": schemas}
}
