// Package prompt builds the conversation scaffolding for agent executions:
// the system prompt, per-iteration status messages, tool-call extraction, and
// the completion-sentinel handling. All helpers are pure so they are safe to
// call from workflow code.
package prompt

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/orbitlabs/orbit/runtime/agent/model"
	"github.com/orbitlabs/orbit/runtime/agent/tools"
)

const (
	// CompletionToolName is the reserved sentinel tool the model invokes to
	// signal that the goal is achieved. It is never dispatched to a tool
	// server. This is the canonical form; see IsCompletionSentinel for the
	// accepted aliases.
	CompletionToolName = "completion"

	// completionAlias is the legacy spelling accepted on input.
	completionAlias = "task_complete"

	// DefaultFinalResponse is used when a completed execution produced no
	// usable assistant content.
	DefaultFinalResponse = "Task completed."
)

// IsCompletionSentinel reports whether name is the completion sentinel in any
// accepted form.
func IsCompletionSentinel(name string) bool {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case CompletionToolName, completionAlias:
		return true
	}
	return false
}

// SentinelResult extracts the final response from completion-sentinel
// arguments. Accepts {"result": "..."} and falls back to fallback when the
// arguments are empty, malformed, or carry no result.
func SentinelResult(arguments, fallback string) string {
	if arguments == "" {
		return fallback
	}
	var payload struct {
		Result string `json:"result"`
	}
	if err := json.Unmarshal([]byte(arguments), &payload); err != nil || payload.Result == "" {
		return fallback
	}
	return payload.Result
}

// CompletionToolDefinition returns the function schema for the completion
// sentinel so providers can emit it as a structured tool call.
func CompletionToolDefinition() model.ToolDefinition {
	return model.ToolDefinition{
		Name:        CompletionToolName,
		Description: "Signal that the goal is achieved and report the final answer.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"result": map[string]any{
					"type":        "string",
					"description": "The final answer to return to the user.",
				},
			},
			"required": []any{"result"},
		},
	}
}

// System composes the system message from the agent identity, its
// instruction, the goal, the success criteria (bulleted), and the tool
// inventory (name + description).
func System(agentName, instruction, goalDescription string, criteria []string, available []tools.Descriptor) model.Message {
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s.\n\n", agentName)
	if instruction != "" {
		b.WriteString(instruction)
		b.WriteString("\n\n")
	}
	fmt.Fprintf(&b, "Your goal: %s\n", goalDescription)
	if len(criteria) > 0 {
		b.WriteString("\nSuccess criteria:\n")
		for _, c := range criteria {
			fmt.Fprintf(&b, "- %s\n", c)
		}
	}
	if len(available) > 0 {
		b.WriteString("\nAvailable tools:\n")
		for _, d := range available {
			fmt.Fprintf(&b, "- %s: %s\n", d.Name, d.Description)
		}
	}
	fmt.Fprintf(&b, "\nWhen the goal is achieved, call the %q tool with a \"result\" argument containing your final answer.\n", CompletionToolName)
	return model.Message{Role: model.RoleSystem, Content: b.String()}
}

// InitialUser carries the goal description verbatim on iteration 1.
func InitialUser(goalDescription string) model.Message {
	return model.Message{Role: model.RoleUser, Content: goalDescription}
}

// Status builds the short user message inserted on iterations after the
// first.
func Status(iteration, maxIterations int, budgetRemaining float64) model.Message {
	return model.Message{
		Role:    model.RoleUser,
		Content: fmt.Sprintf("Status: iteration %d/%d | Budget remaining: $%.2f", iteration, maxIterations, budgetRemaining),
	}
}

// ExtractToolCalls returns the ordered tool calls of an assistant message,
// applying the defaults the providers occasionally omit: a "call_<index>" id
// and "{}" arguments. Messages without tool calls yield an empty slice.
func ExtractToolCalls(msg model.Message) []model.ToolCall {
	if len(msg.ToolCalls) == 0 {
		return nil
	}
	calls := make([]model.ToolCall, len(msg.ToolCalls))
	for i, tc := range msg.ToolCalls {
		if tc.ID == "" {
			tc.ID = fmt.Sprintf("call_%d", i)
		}
		if tc.Type == "" {
			tc.Type = model.ToolCallType
		}
		if tc.Function.Arguments == "" {
			tc.Function.Arguments = "{}"
		}
		calls[i] = tc
	}
	return calls
}

// NormalizeForProvider strips engine-side fields (metadata) and empty
// optional fields before a message list is handed to a provider, preserving
// only the keys providers accept.
func NormalizeForProvider(messages []model.Message) []model.Message {
	out := make([]model.Message, 0, len(messages))
	for _, m := range messages {
		m.Metadata = nil
		if m.Role != model.RoleTool {
			m.ToolCallID = ""
			m.Name = ""
		}
		out = append(out, m)
	}
	return out
}

// DecodeArguments parses a tool call's JSON argument string into a map.
// Empty arguments decode to an empty map; malformed JSON is an error.
func DecodeArguments(arguments string) (map[string]any, error) {
	if strings.TrimSpace(arguments) == "" {
		return map[string]any{}, nil
	}
	var decoded map[string]any
	if err := json.Unmarshal([]byte(arguments), &decoded); err != nil {
		return nil, fmt.Errorf("decode tool arguments: %w", err)
	}
	return decoded, nil
}
