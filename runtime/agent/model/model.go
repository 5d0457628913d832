// Package model defines the conversation records and the LLM completion
// contract shared by the agent workflow, its activities, and the provider
// adapters. Everything here is plain data: values cross the activity boundary
// and must survive serialization and deterministic replay unchanged.
package model

// Role identifies the author of a conversation message.
type Role string

const (
	// RoleSystem marks the system prompt message.
	RoleSystem Role = "system"
	// RoleUser marks messages authored by the requesting user or the engine
	// on the user's behalf (status updates, human feedback).
	RoleUser Role = "user"
	// RoleAssistant marks messages produced by the model.
	RoleAssistant Role = "assistant"
	// RoleTool marks tool execution results fed back to the model.
	RoleTool Role = "tool"
)

// ToolCallType is the only tool call type emitted by supported providers.
const ToolCallType = "function"

// Message is one entry in the conversation transcript. Insertion order is the
// conversation order; the workflow owns append position.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`

	// ToolCallID links a tool-role message back to the assistant tool call it
	// answers.
	ToolCallID string `json:"tool_call_id,omitempty"`

	// Name carries the tool name on tool-role messages.
	Name string `json:"name,omitempty"`

	// ToolCalls holds the structured calls requested by an assistant message,
	// in provider order.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// Metadata carries engine-side annotations (for example
	// {"type": "human_feedback"}). Never forwarded to providers.
	Metadata map[string]any `json:"metadata,omitempty"`
}

// ToolCall is a structured request from the model to invoke a named tool.
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function FunctionCall `json:"function"`
}

// FunctionCall names the tool and carries its JSON-encoded arguments.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Usage reports token consumption for a single completion.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ToolDefinition describes a callable tool in the provider-neutral function
// schema. Parameters is a JSON-schema object.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// CompletionRequest asks a provider for one assistant turn.
type CompletionRequest struct {
	ModelID     string           `json:"model_id"`
	Messages    []Message        `json:"messages"`
	Tools       []ToolDefinition `json:"tools,omitempty"`
	Temperature *float64         `json:"temperature,omitempty"`
	MaxTokens   int              `json:"max_tokens,omitempty"`
}

// CompletionResponse carries the assistant message plus accounting data.
type CompletionResponse struct {
	Message Message `json:"message"`
	Usage   Usage   `json:"usage"`
	// Cost is the provider-reported or estimated USD cost of the call.
	Cost float64 `json:"cost"`
}

// LastAssistantContent returns the content of the last assistant message with
// non-empty content, or the empty string.
func LastAssistantContent(messages []Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == RoleAssistant && messages[i].Content != "" {
			return messages[i].Content
		}
	}
	return ""
}
