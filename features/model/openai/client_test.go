package openai

import (
	"context"
	"errors"
	"net/http"
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orbitlabs/orbit/runtime/agent/model"
)

type fakeChat struct {
	request  openai.ChatCompletionRequest
	response openai.ChatCompletionResponse
	err      error
}

func (f *fakeChat) CreateChatCompletion(_ context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	f.request = req
	return f.response, f.err
}

func TestNewRequiresClientAndModel(t *testing.T) {
	_, err := New(Options{DefaultModel: "gpt-4o"})
	require.Error(t, err)
	_, err = New(Options{Client: &fakeChat{}})
	require.Error(t, err)
}

func TestCompleteTranslatesRequestAndResponse(t *testing.T) {
	chat := &fakeChat{
		response: openai.ChatCompletionResponse{
			Choices: []openai.ChatCompletionChoice{{
				Message: openai.ChatCompletionMessage{
					Role:    "assistant",
					Content: "checking",
					ToolCalls: []openai.ToolCall{{
						ID:       "call_abc",
						Type:     openai.ToolTypeFunction,
						Function: openai.FunctionCall{Name: "web_search", Arguments: `{"q":"x"}`},
					}},
				},
			}},
			Usage: openai.Usage{PromptTokens: 1000, CompletionTokens: 500, TotalTokens: 1500},
		},
	}
	client, err := New(Options{Client: chat, DefaultModel: "gpt-4o"})
	require.NoError(t, err)

	temp := 0.2
	resp, err := client.Complete(context.Background(), model.CompletionRequest{
		Messages: []model.Message{
			{Role: model.RoleSystem, Content: "be brief"},
			{Role: model.RoleUser, Content: "search x"},
			{Role: model.RoleTool, Content: "prior result", ToolCallID: "call_0", Name: "web_search"},
		},
		Tools: []model.ToolDefinition{{
			Name:        "web_search",
			Description: "Search the web",
			Parameters:  map[string]any{"type": "object"},
		}},
		Temperature: &temp,
	})
	require.NoError(t, err)

	assert.Equal(t, "gpt-4o", chat.request.Model)
	require.Len(t, chat.request.Messages, 3)
	assert.Equal(t, "call_0", chat.request.Messages[2].ToolCallID)
	require.Len(t, chat.request.Tools, 1)
	assert.Equal(t, "web_search", chat.request.Tools[0].Function.Name)
	assert.InDelta(t, 0.2, float64(chat.request.Temperature), 1e-6)

	assert.Equal(t, model.RoleAssistant, resp.Message.Role)
	assert.Equal(t, "checking", resp.Message.Content)
	require.Len(t, resp.Message.ToolCalls, 1)
	assert.Equal(t, "web_search", resp.Message.ToolCalls[0].Function.Name)
	assert.Equal(t, 1500, resp.Usage.TotalTokens)
	// 1000 prompt tokens at $0.0025/1K plus 500 completion at $0.01/1K.
	assert.InDelta(t, 0.0075, resp.Cost, 1e-9)
}

func TestCompleteRequiresMessages(t *testing.T) {
	client, err := New(Options{Client: &fakeChat{}, DefaultModel: "gpt-4o"})
	require.NoError(t, err)
	_, err = client.Complete(context.Background(), model.CompletionRequest{})
	assert.Error(t, err)
}

func TestCostFallsBackForUnknownModels(t *testing.T) {
	client, err := New(Options{Client: &fakeChat{}, DefaultModel: "gpt-4o"})
	require.NoError(t, err)

	usage := model.Usage{PromptTokens: 1000, CompletionTokens: 1000}
	snapshot := client.cost("gpt-4o-2024-08-06", usage)
	assert.InDelta(t, client.cost("gpt-4o", usage), snapshot, 1e-9, "dated snapshots use the base rate")

	unknown := client.cost("experimental-model", usage)
	assert.InDelta(t, DefaultRate.InputPer1K+DefaultRate.OutputPer1K, unknown, 1e-9)
}

func TestTranslateErrorClassification(t *testing.T) {
	cases := []struct {
		name      string
		status    int
		kind      model.ProviderErrorKind
		retryable bool
	}{
		{"unauthorized", http.StatusUnauthorized, model.ProviderErrorKindAuth, false},
		{"bad request", http.StatusBadRequest, model.ProviderErrorKindInvalidRequest, false},
		{"rate limited", http.StatusTooManyRequests, model.ProviderErrorKindRateLimited, true},
		{"server error", http.StatusBadGateway, model.ProviderErrorKindUnavailable, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := translateError(&openai.APIError{HTTPStatusCode: tc.status, Message: "boom"})
			var pe *model.ProviderError
			require.ErrorAs(t, err, &pe)
			assert.Equal(t, tc.kind, pe.Kind())
			assert.Equal(t, tc.retryable, pe.Retryable())
			assert.Equal(t, "openai", pe.Provider())
		})
	}

	err := translateError(errors.New("connection reset"))
	var pe *model.ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, model.ProviderErrorKindUnknown, pe.Kind())
	assert.True(t, pe.Retryable())
}
