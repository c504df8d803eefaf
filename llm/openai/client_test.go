package openai

import (
	"context"
	"errors"
	"testing"

	sdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/julesgosnell/claij/llm"
)

type stubChatClient struct {
	lastParams sdk.ChatCompletionNewParams
	resp       *sdk.ChatCompletion
	err        error
}

func (s *stubChatClient) New(_ context.Context, body sdk.ChatCompletionNewParams, _ ...option.RequestOption) (*sdk.ChatCompletion, error) {
	s.lastParams = body
	return s.resp, s.err
}

func TestCompleteTextOnly(t *testing.T) {
	stub := &stubChatClient{
		resp: &sdk.ChatCompletion{
			Choices: []sdk.ChatCompletionChoice{
				{Message: sdk.ChatCompletionMessage{Content: "world"}},
			},
		},
	}
	cl, err := New(stub, Options{DefaultModel: "gpt-4o", MaxTokens: 128})
	require.NoError(t, err)

	resp, err := cl.Complete(context.Background(), llm.Request{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: "be terse"},
			{Role: llm.RoleUser, Content: "hello"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "world", resp.Content)
	assert.Empty(t, resp.ToolCalls)
	assert.Equal(t, sdk.ChatModel("gpt-4o"), stub.lastParams.Model)
}

func TestCompleteToolUse(t *testing.T) {
	stub := &stubChatClient{
		resp: &sdk.ChatCompletion{
			Choices: []sdk.ChatCompletionChoice{
				{Message: sdk.ChatCompletionMessage{
					ToolCalls: []sdk.ChatCompletionMessageToolCall{
						{
							ID: "call_1",
							Function: sdk.ChatCompletionMessageToolCallFunction{
								Name:      "lookup",
								Arguments: `{"query":"x"}`,
							},
						},
					},
				}},
			},
		},
	}
	cl, err := New(stub, Options{DefaultModel: "gpt-4o", MaxTokens: 128})
	require.NoError(t, err)

	resp, err := cl.Complete(context.Background(), llm.Request{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "call tool"}},
		Tools: []llm.ToolDefinition{
			{Name: "lookup", Description: "looks things up", InputSchema: map[string]any{"type": "object"}},
		},
	})
	require.NoError(t, err)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "lookup", resp.ToolCalls[0].Name)
	assert.Equal(t, "call_1", resp.ToolCalls[0].ID)
}

func TestCompleteRequiresAtLeastOneMessage(t *testing.T) {
	cl, err := New(&stubChatClient{}, Options{DefaultModel: "gpt-4o", MaxTokens: 128})
	require.NoError(t, err)

	_, err = cl.Complete(context.Background(), llm.Request{})
	assert.Error(t, err)
}

func TestCompleteWrapsRateLimitError(t *testing.T) {
	stub := &stubChatClient{err: errors.Join(llm.ErrRateLimited, errors.New("429"))}
	cl, err := New(stub, Options{DefaultModel: "gpt-4o", MaxTokens: 128})
	require.NoError(t, err)

	_, err = cl.Complete(context.Background(), llm.Request{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, llm.ErrRateLimited)
}

func TestNewRequiresChatClientAndModel(t *testing.T) {
	_, err := New(nil, Options{DefaultModel: "x"})
	assert.Error(t, err)

	_, err = New(&stubChatClient{}, Options{})
	assert.Error(t, err)
}
