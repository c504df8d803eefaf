package schema

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/julesgosnell/claij/fsm"
)

func TestValidateNilSchemaAcceptsAnyValue(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("nil schema validates any JSON-ish value", prop.ForAll(
		func(s string, n int) bool {
			ok, errs := Validate(nil, map[string]any{"s": s, "n": n}, nil)
			return ok && errs == nil
		},
		gen.AlphaString(),
		gen.Int(),
	))

	properties.TestingRun(t)
}

func TestValidateRejectsWrongType(t *testing.T) {
	schema := map[string]any{
		"type":     "object",
		"required": []any{"count"},
		"properties": map[string]any{
			"count": map[string]any{"type": "integer"},
		},
	}

	ok, errs := Validate(schema, map[string]any{"count": "not a number"}, nil)
	assert.False(t, ok)
	require.NotEmpty(t, errs)
}

func TestValidateResolvesDefs(t *testing.T) {
	defs := map[string]any{
		"Count": map[string]any{"type": "integer", "minimum": float64(0)},
	}
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"count": map[string]any{"$ref": "#/$defs/Count"},
		},
	}

	ok, errs := Validate(schema, map[string]any{"count": float64(3)}, defs)
	assert.True(t, ok)
	assert.Empty(t, errs)

	ok, errs = Validate(schema, map[string]any{"count": float64(-1)}, defs)
	assert.False(t, ok)
	assert.NotEmpty(t, errs)
}

func TestExpandRefsInlinesDefs(t *testing.T) {
	defs := map[string]any{
		"Count": map[string]any{"type": "integer"},
	}
	schema := map[string]any{
		"properties": map[string]any{
			"count": map[string]any{"$ref": "#/$defs/Count"},
		},
	}

	expanded := ExpandRefs(schema, defs)
	m, ok := expanded.(map[string]any)
	require.True(t, ok)
	props, ok := m["properties"].(map[string]any)
	require.True(t, ok)
	count, ok := props["count"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "integer", count["type"])
}

func TestExpandRefsIsIdempotent(t *testing.T) {
	defs := map[string]any{
		"Count": map[string]any{"type": "integer"},
	}
	schema := map[string]any{
		"properties": map[string]any{
			"count": map[string]any{"$ref": "#/$defs/Count"},
		},
	}

	once := ExpandRefs(schema, defs)
	twice := ExpandRefs(once, defs)
	assert.Equal(t, once, twice)
}

func TestResolveSchemaDegradesToAnyOnMissingResolver(t *testing.T) {
	ctx := &fsm.Context{SchemaResolvers: map[string]fsm.SchemaResolverFunc{}}
	got := ResolveSchema(ctx, nil, "missing-key", nil)
	assert.Equal(t, true, got)
}

func TestResolveSchemaUsesRegisteredResolver(t *testing.T) {
	want := map[string]any{"type": "string"}
	ctx := &fsm.Context{SchemaResolvers: map[string]fsm.SchemaResolverFunc{
		"greeting": func(_ *fsm.Context, _ *fsm.Transition) (any, error) { return want, nil },
	}}
	got := ResolveSchema(ctx, nil, "greeting", nil)
	assert.Equal(t, want, got)
}

func TestStateSchemaBuildsOneOfAcrossTransitions(t *testing.T) {
	ctx := &fsm.Context{}
	outgoing := []*fsm.Transition{
		{ID: fsm.NewID("a", "b"), Schema: map[string]any{"type": "string"}},
		{ID: fsm.NewID("a", "c"), Schema: map[string]any{"type": "integer"}},
	}

	got := StateSchema(ctx, outgoing)
	m, ok := got.(map[string]any)
	require.True(t, ok)
	oneOf, ok := m["oneOf"].([]any)
	require.True(t, ok)
	assert.Len(t, oneOf, 2)
}

func TestStateSchemaSingleTransitionIsBareSchema(t *testing.T) {
	ctx := &fsm.Context{}
	outgoing := []*fsm.Transition{
		{ID: fsm.NewID("a", "b"), Schema: map[string]any{"type": "string"}},
	}

	got := StateSchema(ctx, outgoing)
	assert.Equal(t, map[string]any{"type": "string"}, got)
}
