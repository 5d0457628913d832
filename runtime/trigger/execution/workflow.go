package execution

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/orbitlabs/orbit/runtime/trigger"
)

// WorkflowName is the contractual registration name of the trigger execution
// workflow.
const WorkflowName = "TriggerExecutionWorkflow"

// TaskQueue is the Temporal task queue serving trigger executions.
const TaskQueue = "trigger-execution"

const (
	evaluateTimeout = 30 * time.Second
	executeTimeout  = time.Minute
	recordTimeout   = 15 * time.Second
)

// Result is the workflow return value.
type Result struct {
	TriggerID       string                  `json:"trigger_id"`
	Status          trigger.ExecutionStatus `json:"status"`
	Reason          string                  `json:"reason,omitempty"`
	TaskID          string                  `json:"task_id,omitempty"`
	ExecutionID     string                  `json:"execution_id"`
	ExecutionTimeMS int64                   `json:"execution_time_ms"`
	TriggerData     map[string]any          `json:"trigger_data,omitempty"`
}

// TriggerExecutionWorkflow runs one trigger firing. Condition evaluation may
// retry twice, the execution itself up to three times; terminal trigger
// errors (not found, validation) are surfaced after a failed execution is
// recorded.
func TriggerExecutionWorkflow(ctx workflow.Context, triggerID string, eventData map[string]any) (*Result, error) {
	logger := workflow.GetLogger(ctx)
	started := workflow.Now(ctx)
	executionID := workflow.GetInfo(ctx).WorkflowExecution.ID

	evalCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: evaluateTimeout,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumAttempts:    2,
		},
	})
	var met bool
	err := workflow.ExecuteActivity(evalCtx, EvaluateConditionsName, EvaluateConditionsInput{
		TriggerID: triggerID,
		EventData: eventData,
	}).Get(ctx, &met)
	if err != nil {
		recordOutcome(ctx, triggerID, trigger.ExecutionFailed, "", err.Error(), started, eventData)
		return nil, err
	}
	if !met {
		logger.Info("trigger conditions not met", "trigger_id", triggerID)
		elapsed := workflow.Now(ctx).Sub(started).Milliseconds()
		recordOutcome(ctx, triggerID, trigger.ExecutionSkipped, "", trigger.SkipConditionsNotMet, started, eventData)
		return &Result{
			TriggerID:       triggerID,
			Status:          trigger.ExecutionSkipped,
			Reason:          trigger.SkipConditionsNotMet,
			ExecutionID:     executionID,
			ExecutionTimeMS: elapsed,
			TriggerData:     eventData,
		}, nil
	}

	execCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: executeTimeout,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    30 * time.Second,
			MaximumAttempts:    3,
		},
	})
	var outcome trigger.Outcome
	err = workflow.ExecuteActivity(execCtx, ExecuteTriggerName, ExecuteTriggerInput{
		TriggerID: triggerID,
		EventData: eventData,
	}).Get(ctx, &outcome)
	if err != nil {
		// The service records failures it observes itself; this covers
		// failures that never reached it (timeouts, worker loss).
		recordOutcome(ctx, triggerID, trigger.ExecutionFailed, "", err.Error(), started, eventData)
		logger.Error("trigger execution failed", "trigger_id", triggerID, "error", err)
		return nil, err
	}

	return &Result{
		TriggerID:       outcome.TriggerID,
		Status:          outcome.Status,
		Reason:          outcome.Reason,
		TaskID:          outcome.TaskID,
		ExecutionID:     executionID,
		ExecutionTimeMS: outcome.ExecutionTimeMS,
		TriggerData:     eventData,
	}, nil
}

// recordOutcome appends an execution record from the workflow side. Recording
// is best-effort: a failure to record never masks the primary outcome.
func recordOutcome(ctx workflow.Context, triggerID string, status trigger.ExecutionStatus, taskID, message string, started time.Time, eventData map[string]any) {
	elapsed := workflow.Now(ctx).Sub(started).Milliseconds()
	rctx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: recordTimeout,
		RetryPolicy:         &temporal.RetryPolicy{MaximumAttempts: 2},
	})
	err := workflow.ExecuteActivity(rctx, RecordExecutionName, RecordExecutionInput{
		Execution: trigger.Execution{
			TriggerID:       triggerID,
			Status:          status,
			TaskID:          taskID,
			ExecutionTimeMS: elapsed,
			ErrorMessage:    message,
			TriggerData:     eventData,
		},
	}).Get(ctx, nil)
	if err != nil {
		workflow.GetLogger(ctx).Warn("record trigger execution failed", "trigger_id", triggerID, "error", err)
	}
}
