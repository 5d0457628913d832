package worker

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.temporal.io/sdk/client"

	agentexec "github.com/orbitlabs/orbit/runtime/agent/execution"
	"github.com/orbitlabs/orbit/runtime/trigger"
	"github.com/orbitlabs/orbit/telemetry"
)

// TaskStarterOptions configures the Temporal-backed task starter.
type TaskStarterOptions struct {
	// Client is the Temporal client. Required.
	Client client.Client
	// Logger defaults to a noop.
	Logger telemetry.Logger
	// BudgetUSD is the budget applied to trigger-started tasks; zero lets the
	// workflow default apply.
	BudgetUSD float64
	// MaxReasoningIterations bounds trigger-started tasks; zero lets the
	// workflow default apply.
	MaxReasoningIterations int
}

// TaskStarter starts agent execution workflows for fired triggers. It
// implements trigger.TaskStarter.
type TaskStarter struct {
	client        client.Client
	logger        telemetry.Logger
	budgetUSD     float64
	maxIterations int
}

// NewTaskStarter validates the options and builds the starter.
func NewTaskStarter(opts TaskStarterOptions) (*TaskStarter, error) {
	if opts.Client == nil {
		return nil, errors.New("task starter: client is required")
	}
	if opts.Logger == nil {
		opts.Logger = telemetry.NewNoopLogger()
	}
	return &TaskStarter{
		client:        opts.Client,
		logger:        opts.Logger,
		budgetUSD:     opts.BudgetUSD,
		maxIterations: opts.MaxReasoningIterations,
	}, nil
}

// StartTask starts an AgentExecutionWorkflow on the agent-tasks queue and
// returns the new task id. The workflow id embeds the task id so operators
// can locate the execution from the trigger record.
func (s *TaskStarter) StartTask(ctx context.Context, req trigger.TaskRequest) (string, error) {
	taskID := uuid.NewString()
	run, err := s.client.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:        "agent-task-" + taskID,
		TaskQueue: agentexec.TaskQueue,
	}, agentexec.WorkflowName, agentexec.AgentExecutionRequest{
		TaskID:                 taskID,
		AgentID:                req.AgentID,
		UserID:                 req.UserID,
		TaskQuery:              req.Query,
		TaskParameters:         req.Parameters,
		BudgetUSD:              s.budgetUSD,
		MaxReasoningIterations: s.maxIterations,
		WorkflowMetadata:       req.Metadata,
	})
	if err != nil {
		return "", fmt.Errorf("start agent execution for agent %s: %w", req.AgentID, err)
	}
	s.logger.Info(ctx, "agent task started",
		"task_id", taskID, "agent_id", req.AgentID, "workflow_id", run.GetID())
	return taskID, nil
}
