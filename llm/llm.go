// Package llm defines the provider-agnostic contract the LLM action (C6)
// calls through: an ordered prompt sequence in, a structured-output-shaped
// reply or a tool call out. Vendor adapters (llm/anthropic, llm/openai)
// implement Client against the real vendor SDKs.
package llm

import (
	"context"
	"encoding/json"
	"errors"
)

// Role is the speaker for one message in a prompt sequence.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn of the conversation sent to a model. Content is plain
// text: the FSM's trail-to-prompts conversion (C5) renders JSON event
// documents to text before handing them to a Client, since the structured
// contract is carried by Schema on the Request, not by message structure.
type Message struct {
	Role    Role
	Content string
}

// ToolDefinition describes one callable tool in the MCP sense: a name, a
// description shown to the model, and the JSON Schema its arguments must
// satisfy.
type ToolDefinition struct {
	Name        string
	Description string
	InputSchema any
}

// ToolCall is a single tool invocation requested by the model.
type ToolCall struct {
	ID      string
	Name    string
	Payload json.RawMessage
}

// Request captures one completion call.
type Request struct {
	Service     string
	Model       string
	Messages    []Message
	Schema      any
	Tools       []ToolDefinition
	Temperature float64
	MaxTokens   int
}

// Response is the result of a non-streaming completion.
type Response struct {
	// Content is the assistant's raw text reply, present when the model did
	// not request a tool call.
	Content string

	// ToolCalls lists any tool invocations the model requested instead of
	// (or alongside) a text reply.
	ToolCalls []ToolCall
}

// Client is the provider-agnostic surface C6 drives. Implementations must
// return ErrRateLimited (wrapped) for rate-limit responses so callers can
// distinguish them from other transport failures.
type Client interface {
	Complete(ctx context.Context, req Request) (*Response, error)
}

// ErrRateLimited is wrapped into the error returned by Complete when the
// provider signals the request was rate-limited.
var ErrRateLimited = errors.New("llm: rate limited")
