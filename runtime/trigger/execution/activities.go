// Package execution implements the trigger execution workflow: a short,
// single-shot workflow started by a fired schedule or a webhook handler that
// evaluates the trigger's conditions, runs it end to end through the trigger
// service, and records the outcome.
package execution

import (
	"context"
	"errors"
	"fmt"

	"go.temporal.io/sdk/temporal"

	"github.com/orbitlabs/orbit/runtime/trigger"
	"github.com/orbitlabs/orbit/telemetry"
)

// Contractual activity registration names.
const (
	ExecuteTriggerName     = "execute_trigger_activity"
	EvaluateConditionsName = "evaluate_trigger_conditions_activity"
	CreateTaskName         = "create_task_from_trigger_activity"
	RecordExecutionName    = "record_trigger_execution_activity"
)

// Application error types classifying trigger activity failures.
const (
	ErrTypeTriggerNotFound   = "TriggerNotFound"
	ErrTypeTriggerValidation = "TriggerValidationError"
)

// ActivitiesOptions configures the trigger activity set.
type ActivitiesOptions struct {
	// Service is the trigger service. Required.
	Service *trigger.Service
	// Logger defaults to a noop.
	Logger telemetry.Logger
}

// Activities hosts the trigger-side activity implementations.
type Activities struct {
	service *trigger.Service
	logger  telemetry.Logger
}

// NewActivities validates the options and builds the activity set.
func NewActivities(opts ActivitiesOptions) (*Activities, error) {
	if opts.Service == nil {
		return nil, errors.New("trigger activities: service is required")
	}
	if opts.Logger == nil {
		opts.Logger = telemetry.NewNoopLogger()
	}
	return &Activities{service: opts.Service, logger: opts.Logger}, nil
}

// EvaluateConditionsInput asks whether a trigger's conditions hold.
type EvaluateConditionsInput struct {
	TriggerID string         `json:"trigger_id"`
	EventData map[string]any `json:"event_data,omitempty"`
}

// EvaluateConditions decides whether the trigger should fire for the event.
func (a *Activities) EvaluateConditions(ctx context.Context, in EvaluateConditionsInput) (bool, error) {
	met, err := a.service.EvaluateConditions(ctx, in.TriggerID, in.EventData)
	if err != nil {
		return false, classify(err)
	}
	return met, nil
}

// ExecuteTriggerInput runs the trigger end to end.
type ExecuteTriggerInput struct {
	TriggerID string         `json:"trigger_id"`
	EventData map[string]any `json:"event_data,omitempty"`
}

// ExecuteTrigger runs the service-level execution: activity and rate checks,
// task creation, and success/skip recording.
func (a *Activities) ExecuteTrigger(ctx context.Context, in ExecuteTriggerInput) (trigger.Outcome, error) {
	outcome, err := a.service.Execute(ctx, in.TriggerID, in.EventData)
	if err != nil {
		return trigger.Outcome{}, classify(err)
	}
	return outcome, nil
}

// CreateTaskInput starts an agent task for a trigger without recording an
// execution row.
type CreateTaskInput struct {
	TriggerID string         `json:"trigger_id"`
	EventData map[string]any `json:"event_data,omitempty"`
}

// CreateTask starts an agent execution from the trigger's stored parameters.
// It backs the manual-fire surface; the scheduled path goes through
// ExecuteTrigger, which records outcomes as well.
func (a *Activities) CreateTask(ctx context.Context, in CreateTaskInput) (string, error) {
	taskID, err := a.service.StartTaskFromTrigger(ctx, in.TriggerID, in.EventData)
	if err != nil {
		return "", classify(err)
	}
	return taskID, nil
}

// RecordExecutionInput appends one execution record.
type RecordExecutionInput struct {
	Execution trigger.Execution `json:"execution"`
}

// RecordExecution persists the execution record and the trigger's failure
// bookkeeping.
func (a *Activities) RecordExecution(ctx context.Context, in RecordExecutionInput) error {
	if err := a.service.RecordExecution(ctx, in.Execution); err != nil {
		return classify(err)
	}
	return nil
}

// classify maps domain errors onto non-retryable application errors so the
// workflow's retry policies do not hammer terminal failures.
func classify(err error) error {
	if errors.Is(err, trigger.ErrNotFound) {
		return temporal.NewNonRetryableApplicationError(err.Error(), ErrTypeTriggerNotFound, err)
	}
	var verr *trigger.ValidationError
	if errors.As(err, &verr) {
		return temporal.NewNonRetryableApplicationError(err.Error(), ErrTypeTriggerValidation, err)
	}
	return fmt.Errorf("trigger activity: %w", err)
}
