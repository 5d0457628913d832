package trigger

import (
	"context"
	"errors"
	"fmt"

	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/client"

	"github.com/orbitlabs/orbit/telemetry"
)

// ScheduleManager keeps the runtime's schedule records in lockstep with cron
// triggers. Schedules are keyed by trigger id; webhook triggers never own a
// schedule.
type ScheduleManager interface {
	// Create registers a schedule for a cron trigger. The schedule starts
	// paused when the trigger is inactive.
	Create(ctx context.Context, t Trigger) error
	// Update rewrites the schedule's cron spec and paused state.
	Update(ctx context.Context, t Trigger) error
	// Pause stops future firings without deleting the schedule.
	Pause(ctx context.Context, triggerID string) error
	// Unpause resumes firings.
	Unpause(ctx context.Context, triggerID string) error
	// Delete removes the schedule. Deleting an absent schedule is not an
	// error.
	Delete(ctx context.Context, triggerID string) error
}

// TemporalSchedulesOptions configures the Temporal-backed schedule manager.
type TemporalSchedulesOptions struct {
	// Client is the Temporal client. Required.
	Client client.Client
	// WorkflowName is the registered name of the trigger execution workflow
	// the schedule fires. Required.
	WorkflowName string
	// TaskQueue is the queue the fired workflow runs on. Required.
	TaskQueue string
	// Logger defaults to a noop.
	Logger telemetry.Logger
}

// TemporalSchedules implements ScheduleManager on the runtime's native
// schedule primitives.
type TemporalSchedules struct {
	client       client.Client
	workflowName string
	taskQueue    string
	logger       telemetry.Logger
}

// NewTemporalSchedules validates the options and builds the manager.
func NewTemporalSchedules(opts TemporalSchedulesOptions) (*TemporalSchedules, error) {
	if opts.Client == nil {
		return nil, errors.New("trigger schedules: client is required")
	}
	if opts.WorkflowName == "" {
		return nil, errors.New("trigger schedules: workflow name is required")
	}
	if opts.TaskQueue == "" {
		return nil, errors.New("trigger schedules: task queue is required")
	}
	if opts.Logger == nil {
		opts.Logger = telemetry.NewNoopLogger()
	}
	return &TemporalSchedules{
		client:       opts.Client,
		workflowName: opts.WorkflowName,
		taskQueue:    opts.TaskQueue,
		logger:       opts.Logger,
	}, nil
}

func scheduleID(triggerID string) string {
	return "trigger-" + triggerID
}

func (m *TemporalSchedules) Create(ctx context.Context, t Trigger) error {
	if t.Type != TypeCron || t.Cron == nil {
		return fmt.Errorf("trigger %s: only cron triggers own schedules", t.ID)
	}
	_, err := m.client.ScheduleClient().Create(ctx, client.ScheduleOptions{
		ID: scheduleID(t.ID),
		Spec: client.ScheduleSpec{
			CronExpressions: []string{t.Cron.Expression},
			TimeZoneName:    t.Cron.Timezone,
		},
		Action: &client.ScheduleWorkflowAction{
			ID:        "trigger-exec-" + t.ID,
			Workflow:  m.workflowName,
			TaskQueue: m.taskQueue,
			Args:      []any{t.ID, map[string]any{"source": "schedule"}},
		},
		// A firing that lands while the previous execution is still running is
		// skipped rather than queued behind it.
		Overlap: enumspb.SCHEDULE_OVERLAP_POLICY_SKIP,
		Paused:  !t.IsActive,
	})
	if err != nil {
		return fmt.Errorf("create schedule for trigger %s: %w", t.ID, err)
	}
	m.logger.Info(ctx, "schedule created", "trigger_id", t.ID, "cron", t.Cron.Expression, "paused", !t.IsActive)
	return nil
}

func (m *TemporalSchedules) Update(ctx context.Context, t Trigger) error {
	if t.Type != TypeCron || t.Cron == nil {
		return fmt.Errorf("trigger %s: only cron triggers own schedules", t.ID)
	}
	handle := m.client.ScheduleClient().GetHandle(ctx, scheduleID(t.ID))
	err := handle.Update(ctx, client.ScheduleUpdateOptions{
		DoUpdate: func(in client.ScheduleUpdateInput) (*client.ScheduleUpdate, error) {
			sched := in.Description.Schedule
			sched.Spec = &client.ScheduleSpec{
				CronExpressions: []string{t.Cron.Expression},
				TimeZoneName:    t.Cron.Timezone,
			}
			if sched.State == nil {
				sched.State = &client.ScheduleState{}
			}
			sched.State.Paused = !t.IsActive
			return &client.ScheduleUpdate{Schedule: &sched}, nil
		},
	})
	if err != nil {
		return fmt.Errorf("update schedule for trigger %s: %w", t.ID, err)
	}
	return nil
}

func (m *TemporalSchedules) Pause(ctx context.Context, triggerID string) error {
	handle := m.client.ScheduleClient().GetHandle(ctx, scheduleID(triggerID))
	if err := handle.Pause(ctx, client.SchedulePauseOptions{Note: "trigger disabled"}); err != nil {
		return fmt.Errorf("pause schedule for trigger %s: %w", triggerID, err)
	}
	return nil
}

func (m *TemporalSchedules) Unpause(ctx context.Context, triggerID string) error {
	handle := m.client.ScheduleClient().GetHandle(ctx, scheduleID(triggerID))
	if err := handle.Unpause(ctx, client.ScheduleUnpauseOptions{Note: "trigger enabled"}); err != nil {
		return fmt.Errorf("unpause schedule for trigger %s: %w", triggerID, err)
	}
	return nil
}

func (m *TemporalSchedules) Delete(ctx context.Context, triggerID string) error {
	handle := m.client.ScheduleClient().GetHandle(ctx, scheduleID(triggerID))
	if err := handle.Delete(ctx); err != nil {
		var notFound *serviceerror.NotFound
		if errors.As(err, &notFound) {
			return nil
		}
		m.logger.Warn(ctx, "delete schedule failed", "trigger_id", triggerID, "error", err)
		return fmt.Errorf("delete schedule for trigger %s: %w", triggerID, err)
	}
	return nil
}
