package trigger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/orbitlabs/orbit/runtime/catalog"
	"github.com/orbitlabs/orbit/runtime/trigger/conditions"
	"github.com/orbitlabs/orbit/telemetry"
)

// DefaultFailureThreshold auto-disables a trigger after this many consecutive
// failed executions when the record does not set its own threshold.
const DefaultFailureThreshold = 5

// TaskRequest asks the task collaborator to start one agent execution.
type TaskRequest struct {
	AgentID    string         `json:"agent_id"`
	UserID     string         `json:"user_id"`
	Query      string         `json:"query"`
	Parameters map[string]any `json:"parameters,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// TaskStarter creates agent tasks on behalf of fired triggers. The worker
// wires a workflow-client-backed implementation.
type TaskStarter interface {
	// StartTask starts an agent execution and returns the new task id.
	StartTask(ctx context.Context, req TaskRequest) (string, error)
}

// ServiceOptions configures the trigger service.
type ServiceOptions struct {
	// Store persists triggers and executions. Required.
	Store Store
	// Schedules keeps the runtime schedules in lockstep. Required.
	Schedules ScheduleManager
	// Conditions evaluates firing conditions. Required.
	Conditions conditions.Evaluator
	// Tasks starts agent executions for fired triggers. Required.
	Tasks TaskStarter
	// Catalog verifies that referenced agents exist. Required.
	Catalog catalog.Store
	// Logger defaults to a noop.
	Logger telemetry.Logger
	// Metrics defaults to a noop.
	Metrics telemetry.Metrics
}

// Service owns the trigger lifecycle: CRUD with validation, schedule
// consistency, execution recording with auto-disable, and end-to-end trigger
// execution. Every method opens its own store scope; the service holds no
// per-trigger state.
type Service struct {
	store      Store
	schedules  ScheduleManager
	conditions conditions.Evaluator
	tasks      TaskStarter
	catalog    catalog.Store
	logger     telemetry.Logger
	metrics    telemetry.Metrics
}

// NewService validates the options and builds the service.
func NewService(opts ServiceOptions) (*Service, error) {
	if opts.Store == nil {
		return nil, errors.New("trigger service: store is required")
	}
	if opts.Schedules == nil {
		return nil, errors.New("trigger service: schedule manager is required")
	}
	if opts.Conditions == nil {
		return nil, errors.New("trigger service: condition evaluator is required")
	}
	if opts.Tasks == nil {
		return nil, errors.New("trigger service: task starter is required")
	}
	if opts.Catalog == nil {
		return nil, errors.New("trigger service: catalog is required")
	}
	if opts.Logger == nil {
		opts.Logger = telemetry.NewNoopLogger()
	}
	if opts.Metrics == nil {
		opts.Metrics = telemetry.NewNoopMetrics()
	}
	return &Service{
		store:      opts.Store,
		schedules:  opts.Schedules,
		conditions: opts.Conditions,
		tasks:      opts.Tasks,
		catalog:    opts.Catalog,
		logger:     opts.Logger,
		metrics:    opts.Metrics,
	}, nil
}

// Create validates and persists a new trigger, then registers its schedule.
// Schedule-creation failure is logged but does not roll back the row; the
// next update or enable reschedules it.
func (s *Service) Create(ctx context.Context, t Trigger) (Trigger, error) {
	if err := s.validate(ctx, t); err != nil {
		return Trigger{}, err
	}
	now := time.Now().UTC()
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.FailureThreshold == 0 {
		t.FailureThreshold = DefaultFailureThreshold
	}
	t.ConsecutiveFailures = 0
	t.CreatedAt = now
	t.UpdatedAt = now
	if t.Type == TypeCron {
		if next, err := t.Cron.NextRun(now); err == nil {
			t.Cron.NextRunTime = &next
		}
	}
	if err := s.store.Insert(ctx, t); err != nil {
		return Trigger{}, fmt.Errorf("insert trigger: %w", err)
	}
	if t.Type == TypeCron {
		if err := s.schedules.Create(ctx, t); err != nil {
			s.logger.Warn(ctx, "schedule creation failed; trigger persisted without schedule",
				"trigger_id", t.ID, "error", err)
		}
	}
	s.metrics.IncCounter("triggers_created_total", 1, "type", string(t.Type))
	s.logger.Info(ctx, "trigger created", "trigger_id", t.ID, "type", string(t.Type), "agent_id", t.AgentID)
	return t, nil
}

// Update re-validates and persists the record, then reconciles the schedule
// when the cron spec or active flag changed.
func (s *Service) Update(ctx context.Context, t Trigger) (Trigger, error) {
	existing, err := s.store.Get(ctx, t.ID)
	if err != nil {
		return Trigger{}, err
	}
	// Identity and bookkeeping fields are not client-writable.
	t.Type = existing.Type
	t.CreatedBy = existing.CreatedBy
	t.CreatedAt = existing.CreatedAt
	t.ConsecutiveFailures = existing.ConsecutiveFailures
	t.LastExecutionAt = existing.LastExecutionAt
	if err := s.validate(ctx, t); err != nil {
		return Trigger{}, err
	}
	now := time.Now().UTC()
	t.UpdatedAt = now
	if t.Type == TypeCron {
		if next, err := t.Cron.NextRun(now); err == nil {
			t.Cron.NextRunTime = &next
		}
	}
	if err := s.store.Update(ctx, t); err != nil {
		return Trigger{}, fmt.Errorf("update trigger: %w", err)
	}
	if t.Type == TypeCron && cronChanged(existing, t) {
		if err := s.schedules.Update(ctx, t); err != nil {
			s.logger.Warn(ctx, "schedule update failed", "trigger_id", t.ID, "error", err)
		}
	}
	return t, nil
}

func cronChanged(before, after Trigger) bool {
	if before.Cron == nil || after.Cron == nil {
		return true
	}
	return before.Cron.Expression != after.Cron.Expression ||
		before.Cron.Timezone != after.Cron.Timezone ||
		before.IsActive != after.IsActive
}

// Get returns the trigger for id.
func (s *Service) Get(ctx context.Context, id string) (Trigger, error) {
	return s.store.Get(ctx, id)
}

// GetByWebhookID resolves a webhook trigger by its public id.
func (s *Service) GetByWebhookID(ctx context.Context, webhookID string) (Trigger, error) {
	return s.store.GetByWebhookID(ctx, webhookID)
}

// ListActive returns every enabled trigger.
func (s *Service) ListActive(ctx context.Context) ([]Trigger, error) {
	return s.store.ListActive(ctx)
}

// ListExecutions returns the trigger's most recent executions.
func (s *Service) ListExecutions(ctx context.Context, triggerID string, limit int) ([]Execution, error) {
	return s.store.ListExecutions(ctx, triggerID, limit)
}

// Enable flips the trigger active and resumes its schedule.
func (s *Service) Enable(ctx context.Context, id string) error {
	return s.setActive(ctx, id, true)
}

// Disable flips the trigger inactive and pauses its schedule.
func (s *Service) Disable(ctx context.Context, id string) error {
	return s.setActive(ctx, id, false)
}

func (s *Service) setActive(ctx context.Context, id string, active bool) error {
	t, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	t.IsActive = active
	if active {
		t.ConsecutiveFailures = 0
	}
	t.UpdatedAt = time.Now().UTC()
	if err := s.store.Update(ctx, t); err != nil {
		return fmt.Errorf("update trigger %s: %w", id, err)
	}
	if t.Type == TypeCron {
		var serr error
		if active {
			serr = s.schedules.Unpause(ctx, id)
		} else {
			serr = s.schedules.Pause(ctx, id)
		}
		if serr != nil {
			s.logger.Warn(ctx, "schedule state change failed", "trigger_id", id, "active", active, "error", serr)
		}
	}
	s.logger.Info(ctx, "trigger state changed", "trigger_id", id, "active", active)
	return nil
}

// Delete removes the schedule, then the row; the store cascade-deletes the
// trigger's executions.
func (s *Service) Delete(ctx context.Context, id string) error {
	t, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if t.Type == TypeCron {
		if err := s.schedules.Delete(ctx, id); err != nil {
			s.logger.Warn(ctx, "schedule deletion failed; deleting trigger row anyway", "trigger_id", id, "error", err)
		}
	}
	if err := s.store.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete trigger %s: %w", id, err)
	}
	s.logger.Info(ctx, "trigger deleted", "trigger_id", id)
	return nil
}

// EvaluateConditions decides whether the trigger's conditions hold for the
// event. Triggers without conditions always fire.
func (s *Service) EvaluateConditions(ctx context.Context, triggerID string, event map[string]any) (bool, error) {
	t, err := s.store.Get(ctx, triggerID)
	if err != nil {
		return false, err
	}
	if len(t.Conditions) == 0 {
		return true, nil
	}
	return s.conditions.Evaluate(ctx, t.Conditions, event)
}

// RecordExecution appends the execution record and updates the trigger's
// failure bookkeeping. Reaching the failure threshold auto-disables the
// trigger and pauses its schedule in the same call.
func (s *Service) RecordExecution(ctx context.Context, e Execution) error {
	if e.TriggerID == "" {
		return validationErrorf("trigger_id", "must not be empty")
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.ExecutedAt.IsZero() {
		e.ExecutedAt = time.Now().UTC()
	}
	if err := s.store.InsertExecution(ctx, e); err != nil {
		return fmt.Errorf("insert execution: %w", err)
	}
	t, err := s.store.Get(ctx, e.TriggerID)
	if err != nil {
		return err
	}
	executedAt := e.ExecutedAt
	t.LastExecutionAt = &executedAt
	switch e.Status {
	case ExecutionFailed:
		t.ConsecutiveFailures++
		if t.FailureThreshold > 0 && t.ConsecutiveFailures >= t.FailureThreshold {
			t.IsActive = false
			s.logger.Warn(ctx, "trigger auto-disabled after consecutive failures",
				"trigger_id", t.ID, "consecutive_failures", t.ConsecutiveFailures, "threshold", t.FailureThreshold)
			if t.Type == TypeCron {
				if perr := s.schedules.Pause(ctx, t.ID); perr != nil {
					s.logger.Warn(ctx, "pause after auto-disable failed", "trigger_id", t.ID, "error", perr)
				}
			}
		}
	case ExecutionSuccess:
		t.ConsecutiveFailures = 0
	}
	t.UpdatedAt = time.Now().UTC()
	if err := s.store.Update(ctx, t); err != nil {
		return fmt.Errorf("update trigger %s after execution: %w", t.ID, err)
	}
	s.metrics.IncCounter("trigger_executions_total", 1, "status", string(e.Status))
	return nil
}

// Execute runs one end-to-end trigger firing: activity check, per-hour rate
// check, task-parameter assembly, task creation, and execution recording.
// Condition evaluation happens separately via EvaluateConditions so skipped
// firings avoid the task path entirely.
func (s *Service) Execute(ctx context.Context, triggerID string, event map[string]any) (Outcome, error) {
	started := time.Now()
	t, err := s.store.Get(ctx, triggerID)
	if err != nil {
		return Outcome{}, err
	}
	if !t.IsActive {
		return s.skip(ctx, t, event, SkipDisabled, started)
	}
	if t.MaxExecutionsPerHour > 0 {
		count, err := s.store.CountExecutionsSince(ctx, t.ID, started.Add(-time.Hour))
		if err != nil {
			return Outcome{}, fmt.Errorf("count executions for trigger %s: %w", t.ID, err)
		}
		if count >= int64(t.MaxExecutionsPerHour) {
			return s.skip(ctx, t, event, SkipRateLimited, started)
		}
	}

	taskID, err := s.startTask(ctx, t, event)
	if err != nil {
		elapsed := time.Since(started).Milliseconds()
		rerr := s.RecordExecution(ctx, Execution{
			TriggerID:       t.ID,
			Status:          ExecutionFailed,
			ExecutionTimeMS: elapsed,
			ErrorMessage:    err.Error(),
			TriggerData:     event,
		})
		if rerr != nil {
			s.logger.Error(ctx, "record failed execution", "trigger_id", t.ID, "error", rerr)
		}
		return Outcome{}, fmt.Errorf("start task for trigger %s: %w", t.ID, err)
	}

	elapsed := time.Since(started).Milliseconds()
	if err := s.RecordExecution(ctx, Execution{
		TriggerID:       t.ID,
		Status:          ExecutionSuccess,
		TaskID:          taskID,
		ExecutionTimeMS: elapsed,
		TriggerData:     event,
	}); err != nil {
		s.logger.Error(ctx, "record successful execution", "trigger_id", t.ID, "error", err)
	}
	return Outcome{
		TriggerID:       t.ID,
		Status:          ExecutionSuccess,
		TaskID:          taskID,
		ExecutionTimeMS: elapsed,
		TriggerData:     event,
	}, nil
}

// StartTaskFromTrigger builds the merged task parameters for the trigger and
// starts an agent execution, without recording an execution row. Execute uses
// it internally; it is also the manual-fire surface for operational tooling.
func (s *Service) StartTaskFromTrigger(ctx context.Context, triggerID string, event map[string]any) (string, error) {
	t, err := s.store.Get(ctx, triggerID)
	if err != nil {
		return "", err
	}
	return s.startTask(ctx, t, event)
}

func (s *Service) startTask(ctx context.Context, t Trigger, event map[string]any) (string, error) {
	params := make(map[string]any, len(t.TaskParameters)+1)
	for k, v := range t.TaskParameters {
		params[k] = v
	}
	if len(event) > 0 {
		params["trigger_event"] = event
	}
	query, _ := t.TaskParameters["query"].(string)
	if query == "" {
		query = fmt.Sprintf("Handle %s trigger %q", t.Type, t.Name)
	}
	return s.tasks.StartTask(ctx, TaskRequest{
		AgentID:    t.AgentID,
		UserID:     t.CreatedBy,
		Query:      query,
		Parameters: params,
		Metadata: map[string]any{
			"trigger_id":   t.ID,
			"trigger_name": t.Name,
			"trigger_type": string(t.Type),
			"triggered_at": time.Now().UTC().Format(time.RFC3339),
		},
	})
}

func (s *Service) skip(ctx context.Context, t Trigger, event map[string]any, reason string, started time.Time) (Outcome, error) {
	elapsed := time.Since(started).Milliseconds()
	if err := s.RecordExecution(ctx, Execution{
		TriggerID:       t.ID,
		Status:          ExecutionSkipped,
		ExecutionTimeMS: elapsed,
		ErrorMessage:    reason,
		TriggerData:     event,
	}); err != nil {
		s.logger.Error(ctx, "record skipped execution", "trigger_id", t.ID, "error", err)
	}
	s.logger.Info(ctx, "trigger execution skipped", "trigger_id", t.ID, "reason", reason)
	return Outcome{
		TriggerID:       t.ID,
		Status:          ExecutionSkipped,
		Reason:          reason,
		ExecutionTimeMS: elapsed,
		TriggerData:     event,
	}, nil
}

func (s *Service) validate(ctx context.Context, t Trigger) error {
	if err := t.Validate(); err != nil {
		return err
	}
	if _, err := s.catalog.LookupAgent(ctx, t.AgentID); err != nil {
		if errors.Is(err, catalog.ErrAgentNotFound) {
			return validationErrorf("agent_id", "agent %s does not exist", t.AgentID)
		}
		return fmt.Errorf("lookup agent %s: %w", t.AgentID, err)
	}
	return nil
}
