package llmaction

import (
	"encoding/json"

	"github.com/julesgosnell/claij/fsm"
	"github.com/julesgosnell/claij/fsm/schema"
	"github.com/julesgosnell/claij/llm"
)

// trailToPrompts implements C5's trail->prompts conversion: the role is
// "assistant" when the entry's source state ran the "llm" action, else
// "user". User turns carry the triple [input-schema, event, output-schema]
// so the model can see the contract it operated (or is operating) under;
// assistant turns carry only the event, since the model already produced
// it. Error-only entries (appended ahead of a dispatcher retry) become a
// user turn describing the failure, so the model sees its own mistakes.
func trailToPrompts(ctx *fsm.Context, m *fsm.Machine, trail fsm.Trail) []llm.Message {
	msgs := make([]llm.Message, 0, len(trail))
	for _, e := range trail {
		msgs = append(msgs, entryToMessage(ctx, m, e))
	}
	return msgs
}

func entryToMessage(ctx *fsm.Context, m *fsm.Machine, e fsm.Entry) llm.Message {
	if e.Event == nil {
		return llm.Message{Role: llm.RoleUser, Content: errorFeedback(e.Error)}
	}

	role := llm.RoleUser
	if s, ok := m.State(e.From); ok && s.Action == "llm" {
		role = llm.RoleAssistant
	}
	if role == llm.RoleAssistant {
		return llm.Message{Role: role, Content: marshalOrEmpty(e.Event)}
	}

	inSchema := schema.ExpandRefs(entrySchema(ctx, m, e), ctx.Defs)
	outSchema := schema.ExpandRefs(schema.StateSchema(ctx, m.Outgoing(e.To)), ctx.Defs)
	triple := []any{inSchema, e.Event, outSchema}
	return llm.Message{Role: role, Content: marshalOrEmpty(triple)}
}

func entrySchema(ctx *fsm.Context, m *fsm.Machine, e fsm.Entry) any {
	t, ok := m.Transition(fsm.NewID(e.From, e.To))
	if !ok {
		return nil
	}
	return schema.ResolveSchema(ctx, t, t.Schema, nil)
}

func errorFeedback(info *fsm.ErrorInfo) string {
	if info == nil {
		return ""
	}
	return marshalOrEmpty(map[string]any{"error": info})
}

func marshalOrEmpty(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(data)
}
