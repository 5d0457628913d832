// Package events defines the structured progress events emitted by agent
// executions, the publisher collaborator that delivers them to the external
// broker, and the workflow-local manager that buffers and dispatches them.
package events

import (
	"context"
	"time"
)

// Type enumerates the progress events emitted by the engine.
type Type string

const (
	WorkflowStarted   Type = "WorkflowStarted"
	WorkflowCompleted Type = "WorkflowCompleted"
	WorkflowFailed    Type = "WorkflowFailed"
	WorkflowCancelled Type = "WorkflowCancelled"

	IterationStarted   Type = "IterationStarted"
	IterationCompleted Type = "IterationCompleted"

	LLMCallStarted   Type = "LLMCallStarted"
	LLMCallCompleted Type = "LLMCallCompleted"
	LLMCallFailed    Type = "LLMCallFailed"

	ToolCallStarted   Type = "ToolCallStarted"
	ToolCallCompleted Type = "ToolCallCompleted"
	ToolCallFailed    Type = "ToolCallFailed"

	BudgetWarning  Type = "BudgetWarning"
	BudgetExceeded Type = "BudgetExceeded"

	HumanApprovalRequested Type = "HumanApprovalRequested"
	HumanApprovalReceived  Type = "HumanApprovalReceived"
)

// Event is the wire record published to the broker, one per event.
type Event struct {
	ID        string         `json:"event_id"`
	Type      Type           `json:"event_type"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data"`
}

// Publisher delivers event batches to the external broker. Delivery is best
// effort: implementations may drop events under pressure but must return
// quickly. Only activities invoke publishers.
type Publisher interface {
	Publish(ctx context.Context, events []Event) error
}

// PublishActivityName is the contractual registration name of the
// fire-and-forget publish activity.
const PublishActivityName = "publish_workflow_events_activity"

// PublishInput carries a JSON-encoded event list across the activity boundary.
type PublishInput struct {
	EventsJSON string `json:"events_json"`
}
