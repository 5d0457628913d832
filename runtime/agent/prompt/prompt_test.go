package prompt_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/orbitlabs/orbit/runtime/agent/model"
	"github.com/orbitlabs/orbit/runtime/agent/prompt"
	"github.com/orbitlabs/orbit/runtime/agent/tools"
)

func TestSystemIncludesCriteriaAndTools(t *testing.T) {
	msg := prompt.System(
		"researcher",
		"Answer precisely.",
		"Summarize the report",
		[]string{"cites sources", "under 200 words"},
		[]tools.Descriptor{{Name: "search", Description: "Web search"}},
	)
	require.Equal(t, model.RoleSystem, msg.Role)
	require.Contains(t, msg.Content, "You are researcher.")
	require.Contains(t, msg.Content, "Answer precisely.")
	require.Contains(t, msg.Content, "- cites sources")
	require.Contains(t, msg.Content, "- under 200 words")
	require.Contains(t, msg.Content, "- search: Web search")
	require.Contains(t, msg.Content, `"completion"`)
}

func TestStatusFormat(t *testing.T) {
	msg := prompt.Status(2, 10, 1.5)
	require.Equal(t, model.RoleUser, msg.Role)
	require.Equal(t, "Status: iteration 2/10 | Budget remaining: $1.50", msg.Content)
}

func TestExtractToolCallsDefaults(t *testing.T) {
	msg := model.Message{
		Role: model.RoleAssistant,
		ToolCalls: []model.ToolCall{
			{Function: model.FunctionCall{Name: "search"}},
			{ID: "abc", Type: "function", Function: model.FunctionCall{Name: "fetch", Arguments: `{"url":"x"}`}},
		},
	}
	calls := prompt.ExtractToolCalls(msg)
	require.Len(t, calls, 2)
	require.Equal(t, "call_0", calls[0].ID)
	require.Equal(t, "function", calls[0].Type)
	require.Equal(t, "{}", calls[0].Function.Arguments)
	require.Equal(t, "abc", calls[1].ID)
	require.Equal(t, `{"url":"x"}`, calls[1].Function.Arguments)
}

func TestExtractToolCallsEmpty(t *testing.T) {
	require.Empty(t, prompt.ExtractToolCalls(model.Message{Role: model.RoleAssistant, Content: "hi"}))
}

func TestIsCompletionSentinel(t *testing.T) {
	require.True(t, prompt.IsCompletionSentinel("completion"))
	require.True(t, prompt.IsCompletionSentinel("task_complete"))
	require.True(t, prompt.IsCompletionSentinel(" Completion "))
	require.False(t, prompt.IsCompletionSentinel("search"))
}

func TestSentinelResult(t *testing.T) {
	require.Equal(t, "4", prompt.SentinelResult(`{"result":"4"}`, "fallback"))
	require.Equal(t, "fallback", prompt.SentinelResult("", "fallback"))
	require.Equal(t, "fallback", prompt.SentinelResult("{bad", "fallback"))
	require.Equal(t, "fallback", prompt.SentinelResult(`{"other":1}`, "fallback"))
}

func TestNormalizeForProvider(t *testing.T) {
	msgs := []model.Message{
		{Role: model.RoleUser, Content: "hi", Metadata: map[string]any{"type": "human_feedback"}},
		{Role: model.RoleAssistant, Content: "ok", ToolCallID: "spurious"},
		{Role: model.RoleTool, Content: "done", ToolCallID: "call_0", Name: "search"},
	}
	norm := prompt.NormalizeForProvider(msgs)
	require.Nil(t, norm[0].Metadata)
	require.Empty(t, norm[1].ToolCallID)
	require.Equal(t, "call_0", norm[2].ToolCallID)
	require.Equal(t, "search", norm[2].Name)
}

func TestDecodeArguments(t *testing.T) {
	decoded, err := prompt.DecodeArguments(`{"q":"x"}`)
	require.NoError(t, err)
	require.Equal(t, "x", decoded["q"])

	decoded, err = prompt.DecodeArguments("")
	require.NoError(t, err)
	require.Empty(t, decoded)

	_, err = prompt.DecodeArguments("{bad")
	require.Error(t, err)
}
