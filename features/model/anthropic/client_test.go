package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orbitlabs/orbit/runtime/agent/model"
)

type stubMessagesClient struct {
	lastParams sdk.MessageNewParams
	message    *sdk.Message
	err        error
}

func (s *stubMessagesClient) New(_ context.Context, params sdk.MessageNewParams, _ ...option.RequestOption) (*sdk.Message, error) {
	s.lastParams = params
	return s.message, s.err
}

func TestNewRequiresClientAndModel(t *testing.T) {
	_, err := New(nil, Options{DefaultModel: "claude-sonnet-4"})
	require.Error(t, err)
	_, err = New(&stubMessagesClient{}, Options{})
	require.Error(t, err)
}

func TestCompleteTranslatesRequestAndResponse(t *testing.T) {
	stub := &stubMessagesClient{
		message: &sdk.Message{
			Content: []sdk.ContentBlockUnion{
				{Type: "text", Text: "let me check"},
				{Type: "tool_use", ID: "toolu_01", Name: "web_search", Input: json.RawMessage(`{"q":"x"}`)},
			},
			StopReason: "tool_use",
			Usage:      sdk.Usage{InputTokens: 1000, OutputTokens: 500},
		},
	}
	client, err := New(stub, Options{DefaultModel: "claude-sonnet-4"})
	require.NoError(t, err)

	temp := 0.3
	resp, err := client.Complete(context.Background(), model.CompletionRequest{
		Messages: []model.Message{
			{Role: model.RoleSystem, Content: "be brief"},
			{Role: model.RoleUser, Content: "search x"},
			{Role: model.RoleAssistant, Content: "on it", ToolCalls: []model.ToolCall{{
				ID:       "toolu_00",
				Type:     model.ToolCallType,
				Function: model.FunctionCall{Name: "web_search", Arguments: `{"q":"prior"}`},
			}}},
			{Role: model.RoleTool, Content: "prior result", ToolCallID: "toolu_00", Name: "web_search"},
		},
		Tools: []model.ToolDefinition{{
			Name:        "web_search",
			Description: "Search the web",
			Parameters:  map[string]any{"type": "object"},
		}},
		Temperature: &temp,
	})
	require.NoError(t, err)

	assert.Equal(t, sdk.Model("claude-sonnet-4"), stub.lastParams.Model)
	assert.EqualValues(t, DefaultMaxTokens, stub.lastParams.MaxTokens)
	require.Len(t, stub.lastParams.System, 1)
	assert.Equal(t, "be brief", stub.lastParams.System[0].Text)
	// System prompt is carried out of band, so the conversation holds the
	// user turn, the assistant tool call, and the tool result.
	require.Len(t, stub.lastParams.Messages, 3)
	require.Len(t, stub.lastParams.Tools, 1)
	require.NotNil(t, stub.lastParams.Tools[0].OfTool)
	assert.EqualValues(t, "web_search", stub.lastParams.Tools[0].OfTool.Name)

	assert.Equal(t, model.RoleAssistant, resp.Message.Role)
	assert.Equal(t, "let me check", resp.Message.Content)
	require.Len(t, resp.Message.ToolCalls, 1)
	assert.Equal(t, "toolu_01", resp.Message.ToolCalls[0].ID)
	assert.Equal(t, "web_search", resp.Message.ToolCalls[0].Function.Name)
	assert.JSONEq(t, `{"q":"x"}`, resp.Message.ToolCalls[0].Function.Arguments)
	assert.Equal(t, 1500, resp.Usage.TotalTokens)
	// 1000 input tokens at $0.003/1K plus 500 output at $0.015/1K.
	assert.InDelta(t, 0.0105, resp.Cost, 1e-9)
}

func TestCompleteRequiresMessages(t *testing.T) {
	client, err := New(&stubMessagesClient{}, Options{DefaultModel: "claude-sonnet-4"})
	require.NoError(t, err)
	_, err = client.Complete(context.Background(), model.CompletionRequest{})
	assert.Error(t, err)
}

func TestCompleteRejectsMalformedToolArguments(t *testing.T) {
	client, err := New(&stubMessagesClient{}, Options{DefaultModel: "claude-sonnet-4"})
	require.NoError(t, err)
	_, err = client.Complete(context.Background(), model.CompletionRequest{
		Messages: []model.Message{
			{Role: model.RoleAssistant, ToolCalls: []model.ToolCall{{
				ID:       "toolu_00",
				Function: model.FunctionCall{Name: "web_search", Arguments: "{broken"},
			}}},
		},
	})
	assert.Error(t, err)
}

func TestCostUsesPrefixAndFallback(t *testing.T) {
	client, err := New(&stubMessagesClient{}, Options{DefaultModel: "claude-sonnet-4"})
	require.NoError(t, err)

	usage := model.Usage{PromptTokens: 1000, CompletionTokens: 1000}
	opus := client.cost("claude-opus-4-20250514", usage)
	assert.InDelta(t, 0.015+0.075, opus, 1e-9, "dated snapshots use the family rate")

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
		{"overloaded", http.StatusServiceUnavailable, model.ProviderErrorKindUnavailable, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req, rerr := http.NewRequest(http.MethodPost, "https://api.anthropic.com/v1/messages", nil)
			require.NoError(t, rerr)
			err := translateError(&sdk.Error{
				StatusCode: tc.status,
				Request:    req,
				Response:   &http.Response{StatusCode: tc.status},
			})
			var pe *model.ProviderError
			require.ErrorAs(t, err, &pe)
			assert.Equal(t, tc.kind, pe.Kind())
			assert.Equal(t, tc.retryable, pe.Retryable())
			assert.Equal(t, "anthropic", pe.Provider())
		})
	}

	err := translateError(errors.New("connection reset"))
	var pe *model.ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, model.ProviderErrorKindUnknown, pe.Kind())
	assert.True(t, pe.Retryable())
}
