// Package llmaction implements the LLM action (C6): the most intricate
// action in the engine. It composes a system prompt and a trail-converted
// conversation, calls an LLM service asynchronously, parses the reply as a
// protocol event, and retries locally on parse failure before surfacing a
// bail-out.
package llmaction

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/julesgosnell/claij/fsm"
	"github.com/julesgosnell/claij/fsm/schema"
	"github.com/julesgosnell/claij/llm"
)

// servicesKey and the default*Key side-bag entries are the conventional
// Context.Values keys this action reads: the vendor client registry and the
// fallback service/model names used when a state's config and the incoming
// event are both silent.
const (
	servicesKey       = "llm.services"
	defaultServiceKey = "llm.default_service"
	defaultModelKey   = "llm.default_model"
)

// Config is the static, per-state configuration for an "llm" action.
// Service and Model are the highest-priority source in the resolution order
// (config -> event -> context -> default); leaving either empty defers to
// the incoming event's own fields, then to the context's defaults.
type Config struct {
	Service    string `json:"service"`
	Model      string `json:"model"`
	MaxRetries int    `json:"max_retries"`
}

// New returns the ActionFactory registered under the "llm" action name.
func New() fsm.ActionFactory {
	return fsm.ActionFactory{
		Descriptor: fsm.Descriptor{Name: "llm"},
		New: func(config any, m *fsm.Machine, incoming *fsm.Transition, state *fsm.State) (fsm.RuntimeFunc, error) {
			cfg, err := decodeConfig(config)
			if err != nil {
				return nil, fmt.Errorf("llmaction: %w", err)
			}
			outgoing := m.Outgoing(state.ID)
			if len(outgoing) == 0 {
				return nil, fmt.Errorf("llmaction: state %q has no outgoing transitions", state.ID)
			}
			mcp := findMCPTransition(outgoing)

			return func(ctx *fsm.Context, event *fsm.Event, trail fsm.Trail, cont fsm.Continuation) {
				go run(ctx, m, state, incoming, outgoing, mcp, cfg, event, trail, cont)
			}, nil
		},
	}
}

func run(
	ctx *fsm.Context,
	m *fsm.Machine,
	state *fsm.State,
	incoming *fsm.Transition,
	outgoing []*fsm.Transition,
	mcp *fsm.Transition,
	cfg Config,
	event *fsm.Event,
	trail fsm.Trail,
	cont fsm.Continuation,
) {
	service := resolveString(cfg.Service, event, ctx, "service", defaultServiceKey)
	client, ok := services(ctx)[service]
	if !ok {
		cont.Fail(fmt.Errorf("llmaction: no llm service registered under %q", service))
		return
	}
	model := resolveString(cfg.Model, event, ctx, "model", defaultModelKey)

	outputSchema := schema.ExpandRefs(schema.StateSchema(ctx, outgoing), ctx.Defs)
	inputSchema := schema.ExpandRefs(schema.ResolveSchema(ctx, incoming, incomingSchema(incoming), nil), ctx.Defs)

	system := buildSystemPrompt(ctx, m, state, incoming, outputSchema)
	conversation := buildConversation(ctx, m, trail, event, inputSchema, outputSchema)

	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = ctx.RetryLimit()
	}

	for attempt := 0; ; attempt++ {
		req := llm.Request{
			Service: service,
			Model:   model,
			Schema:  outputSchema,
			Messages: append(
				[]llm.Message{{Role: llm.RoleSystem, Content: system}},
				conversation...,
			),
		}
		resp, err := client.Complete(context.Background(), req)
		if err != nil {
			cont.Fail(err)
			return
		}

		if len(resp.ToolCalls) > 0 {
			cont.Continue(ctx, toolCallEvent(state.ID, mcp, resp.ToolCalls[0]))
			return
		}

		parsed := &fsm.Event{}
		if err := json.Unmarshal([]byte(stripFences(resp.Content)), parsed); err != nil {
			if attempt >= maxRetries {
				cont.Continue(ctx, errorEvent(err))
				return
			}
			conversation = append(conversation,
				llm.Message{Role: llm.RoleAssistant, Content: resp.Content},
				llm.Message{Role: llm.RoleUser, Content: parseFeedback(err)},
			)
			continue
		}

		if toolCalls, ok := parsed.Get("tool_calls"); ok {
			cont.Continue(ctx, toolCallEventFromFields(state.ID, mcp, toolCalls))
			return
		}

		cont.Continue(ctx, parsed)
		return
	}
}

func incomingSchema(t *fsm.Transition) any {
	if t == nil {
		return nil
	}
	return t.Schema
}

func buildConversation(ctx *fsm.Context, m *fsm.Machine, trail fsm.Trail, event *fsm.Event, inputSchema, outputSchema any) []llm.Message {
	if len(trail) == 0 {
		triple := []any{inputSchema, event, outputSchema}
		return []llm.Message{{Role: llm.RoleUser, Content: marshalOrEmpty(triple)}}
	}
	return trailToPrompts(ctx, m, trail)
}

func buildSystemPrompt(ctx *fsm.Context, m *fsm.Machine, state *fsm.State, incoming *fsm.Transition, outputSchema any) string {
	var b strings.Builder
	b.WriteString("Respond with exactly one JSON object whose \"id\" field is one of the ")
	b.WriteString("transition ids enumerated by the output schema below, a two-element ")
	b.WriteString("[from,to] pair. Include no text outside the JSON object.\n")

	for _, p := range m.Prompts {
		b.WriteString(p)
		b.WriteString("\n")
	}
	if incoming != nil {
		for _, p := range incoming.Prompts {
			b.WriteString(p)
			b.WriteString("\n")
		}
	}
	for _, p := range state.Prompts {
		b.WriteString(p)
		b.WriteString("\n")
	}

	b.WriteString("\nSchema registry ($defs):\n")
	b.WriteString(marshalOrEmpty(ctx.Defs))
	b.WriteString("\n\nOutput schema:\n")
	b.WriteString(marshalOrEmpty(outputSchema))
	return b.String()
}

// stripFences removes a single enclosing markdown code fence (``` or
// ```json, ...), tolerating models that wrap their JSON reply despite the
// system prompt's instruction not to.
func stripFences(content string) string {
	s := strings.TrimSpace(content)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "```"))
}

func parseFeedback(err error) string {
	return marshalOrEmpty(map[string]any{
		"error":   "previous response was not a single valid JSON object matching the protocol",
		"details": err.Error(),
	})
}

func errorEvent(err error) *fsm.Event {
	e := fsm.NewEvent(fsm.ErrorID())
	e.Set("error", map[string]any{"reason": "parse-error", "message": err.Error()})
	return e
}

func toolCallEvent(from string, mcp *fsm.Transition, call llm.ToolCall) *fsm.Event {
	e := fsm.NewEvent(toolCallID(from, mcp))
	e.Set("tool_calls", []map[string]any{{
		"id":      call.ID,
		"name":    call.Name,
		"payload": call.Payload,
	}})
	return e
}

func toolCallEventFromFields(from string, mcp *fsm.Transition, toolCalls any) *fsm.Event {
	e := fsm.NewEvent(toolCallID(from, mcp))
	e.Set("tool_calls", toolCalls)
	return e
}

func toolCallID(from string, mcp *fsm.Transition) fsm.ID {
	if mcp != nil {
		return mcp.ID
	}
	return fsm.NewID(from, from)
}

// findMCPTransition returns the outgoing transition designated to carry
// tool-call events, identified by the machine author labelling it "mcp". If
// none is labelled it returns nil, and toolCallID then uses [from, from] as
// the tool-call event's id.
func findMCPTransition(outgoing []*fsm.Transition) *fsm.Transition {
	for _, t := range outgoing {
		if strings.EqualFold(t.Label, "mcp") {
			return t
		}
	}
	return nil
}

func resolveString(configured string, event *fsm.Event, ctx *fsm.Context, eventField, contextKey string) string {
	if configured != "" {
		return configured
	}
	if v, ok := event.Get(eventField); ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	if v, ok := ctx.Value(contextKey); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func services(ctx *fsm.Context) map[string]llm.Client {
	v, ok := ctx.Value(servicesKey)
	if !ok {
		return nil
	}
	m, _ := v.(map[string]llm.Client)
	return m
}

func decodeConfig(raw any) (Config, error) {
	var cfg Config
	if raw == nil {
		return cfg, nil
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return cfg, fmt.Errorf("encode config: %w", err)
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}
