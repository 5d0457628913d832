// Package execution implements the durable agent execution workflow: an
// iterative reason-act loop that calls the model, dispatches tool calls,
// enforces budget and iteration limits, and streams progress events. The
// workflow is replay-safe: all I/O happens in activities, all state mutation
// happens in workflow code, and time/randomness come from runtime primitives.
package execution

import (
	"github.com/orbitlabs/orbit/runtime/agent/budget"
	"github.com/orbitlabs/orbit/runtime/agent/model"
)

// WorkflowName is the contractual registration name of the agent execution
// workflow.
const WorkflowName = "AgentExecutionWorkflow"

// TaskQueue is the Temporal task queue serving agent executions.
const TaskQueue = "agent-tasks"

// DefaultMaxIterations applies when a request does not bound the loop.
const DefaultMaxIterations = 10

// Status tracks the workflow's phase. Terminal values are completed, failed,
// and cancelled.
type Status string

const (
	StatusInitializing       Status = "initializing"
	StatusPlanning           Status = "planning"
	StatusExecuting          Status = "executing"
	StatusWaitingForApproval Status = "waiting_for_approval"
	StatusToolExecution      Status = "tool_execution"
	StatusEvaluating         Status = "evaluating"
	StatusCompleted          Status = "completed"
	StatusFailed             Status = "failed"
	StatusCancelled          Status = "cancelled"
)

// AgentExecutionRequest starts one agent execution.
type AgentExecutionRequest struct {
	TaskID                 string         `json:"task_id"`
	AgentID                string         `json:"agent_id"`
	UserID                 string         `json:"user_id"`
	TaskQuery              string         `json:"task_query"`
	TaskParameters         map[string]any `json:"task_parameters,omitempty"`
	TimeoutSeconds         int            `json:"timeout_seconds,omitempty"`
	MaxReasoningIterations int            `json:"max_reasoning_iterations,omitempty"`
	BudgetUSD              float64        `json:"budget_usd,omitempty"`
	RequiresHumanApproval  bool           `json:"requires_human_approval,omitempty"`
	WorkflowMetadata       map[string]any `json:"workflow_metadata,omitempty"`
}

// AgentGoal is derived from the request inside the workflow.
type AgentGoal struct {
	ID                    string         `json:"id"`
	Description           string         `json:"description"`
	SuccessCriteria       []string       `json:"success_criteria,omitempty"`
	MaxIterations         int            `json:"max_iterations"`
	RequiresHumanApproval bool           `json:"requires_human_approval"`
	Context               map[string]any `json:"context,omitempty"`
}

// AgentExecutionResult is the workflow return value.
type AgentExecutionResult struct {
	TaskID                  string          `json:"task_id"`
	AgentID                 string          `json:"agent_id"`
	Success                 bool            `json:"success"`
	FinalResponse           string          `json:"final_response"`
	TotalCost               float64         `json:"total_cost"`
	ReasoningIterationsUsed int             `json:"reasoning_iterations_used"`
	ConversationHistory     []model.Message `json:"conversation_history"`
	ErrorMessage            string          `json:"error_message,omitempty"`
}

// ExecutionStatusSnapshot answers the get_execution_status query.
type ExecutionStatusSnapshot struct {
	Status           Status  `json:"status"`
	CurrentIteration int     `json:"current_iteration"`
	MaxIterations    int     `json:"max_iterations"`
	TotalCost        float64 `json:"total_cost"`
	BudgetRemaining  float64 `json:"budget_remaining"`
	Paused           bool    `json:"paused"`
	PendingApproval  bool    `json:"pending_approval"`
}

// GoalProgressSnapshot answers the get_goal_progress query.
type GoalProgressSnapshot struct {
	Goal               AgentGoal `json:"goal"`
	ProgressPercentage float64   `json:"progress_percentage"`
}

// BudgetStatusSnapshot answers the get_budget_status query.
type BudgetStatusSnapshot struct {
	Limit       float64        `json:"limit"`
	Cost        float64        `json:"cost"`
	Remaining   float64        `json:"remaining"`
	Utilization float64        `json:"utilization"`
	Breakdown   []budget.Entry `json:"breakdown,omitempty"`
}

// goalFromRequest normalizes the request into the workflow-local goal.
func goalFromRequest(req AgentExecutionRequest) AgentGoal {
	maxIter := req.MaxReasoningIterations
	if maxIter <= 0 {
		maxIter = DefaultMaxIterations
	}
	var criteria []string
	if raw, ok := req.TaskParameters["success_criteria"]; ok {
		if list, ok := raw.([]any); ok {
			for _, item := range list {
				if s, ok := item.(string); ok {
					criteria = append(criteria, s)
				}
			}
		}
	}
	return AgentGoal{
		ID:                    req.TaskID,
		Description:           req.TaskQuery,
		SuccessCriteria:       criteria,
		MaxIterations:         maxIter,
		RequiresHumanApproval: req.RequiresHumanApproval,
		Context:               req.TaskParameters,
	}
}
