// Package worker wires the workflow and activity implementations onto their
// Temporal task queues. One Worker hosts both queues: agent executions and
// trigger executions.
package worker

import (
	"context"
	"errors"
	"fmt"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/client"
	temporalotel "go.temporal.io/sdk/contrib/opentelemetry"
	temporalworker "go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"

	"github.com/orbitlabs/orbit/runtime/agent/activities"
	agentexec "github.com/orbitlabs/orbit/runtime/agent/execution"
	"github.com/orbitlabs/orbit/runtime/agent/events"
	triggerexec "github.com/orbitlabs/orbit/runtime/trigger/execution"
	"github.com/orbitlabs/orbit/telemetry"
)

// Options configures the worker pair.
type Options struct {
	// Client is the Temporal client. Required.
	Client client.Client
	// AgentActivities hosts the agent-side activity implementations. Required.
	AgentActivities *activities.Activities
	// TriggerActivities hosts the trigger-side activity implementations.
	// Required.
	TriggerActivities *triggerexec.Activities
	// Logger defaults to a noop.
	Logger telemetry.Logger
	// DisableTracing skips the OTEL tracing interceptor.
	DisableTracing bool
	// MaxConcurrentActivities caps parallel activity execution per queue;
	// zero keeps the runtime default.
	MaxConcurrentActivities int
}

// Worker hosts the agent-tasks and trigger-execution queue workers. All
// workflows and activities are registered under their contractual names at
// construction time.
type Worker struct {
	agent   temporalworker.Worker
	trigger temporalworker.Worker
	logger  telemetry.Logger
}

// New validates the options, builds both queue workers, and registers every
// workflow and activity.
func New(opts Options) (*Worker, error) {
	if opts.Client == nil {
		return nil, errors.New("worker: client is required")
	}
	if opts.AgentActivities == nil {
		return nil, errors.New("worker: agent activities are required")
	}
	if opts.TriggerActivities == nil {
		return nil, errors.New("worker: trigger activities are required")
	}
	if opts.Logger == nil {
		opts.Logger = telemetry.NewNoopLogger()
	}

	workerOpts := temporalworker.Options{
		MaxConcurrentActivityExecutionSize: opts.MaxConcurrentActivities,
	}
	if !opts.DisableTracing {
		tracer, err := temporalotel.NewTracingInterceptor(temporalotel.TracerOptions{})
		if err != nil {
			return nil, fmt.Errorf("worker: build tracing interceptor: %w", err)
		}
		workerOpts.Interceptors = append(workerOpts.Interceptors, tracer)
	}

	agentWorker := temporalworker.New(opts.Client, agentexec.TaskQueue, workerOpts)
	agentWorker.RegisterWorkflowWithOptions(agentexec.AgentExecutionWorkflow,
		workflow.RegisterOptions{Name: agentexec.WorkflowName})
	registerAgentActivities(agentWorker, opts.AgentActivities)

	triggerWorker := temporalworker.New(opts.Client, triggerexec.TaskQueue, workerOpts)
	triggerWorker.RegisterWorkflowWithOptions(triggerexec.TriggerExecutionWorkflow,
		workflow.RegisterOptions{Name: triggerexec.WorkflowName})
	registerTriggerActivities(triggerWorker, opts.TriggerActivities)

	return &Worker{agent: agentWorker, trigger: triggerWorker, logger: opts.Logger}, nil
}

func registerAgentActivities(w temporalworker.Worker, a *activities.Activities) {
	w.RegisterActivityWithOptions(a.BuildAgentConfig, activity.RegisterOptions{Name: activities.BuildAgentConfigName})
	w.RegisterActivityWithOptions(a.DiscoverTools, activity.RegisterOptions{Name: activities.DiscoverToolsName})
	w.RegisterActivityWithOptions(a.CallLLM, activity.RegisterOptions{Name: activities.CallLLMName})
	w.RegisterActivityWithOptions(a.ExecuteTool, activity.RegisterOptions{Name: activities.ExecuteToolName})
	w.RegisterActivityWithOptions(a.EvaluateGoal, activity.RegisterOptions{Name: activities.EvaluateGoalName})
	w.RegisterActivityWithOptions(a.CheckTaskCompletion, activity.RegisterOptions{Name: activities.CheckTaskCompletionName})
	w.RegisterActivityWithOptions(a.PublishEvents, activity.RegisterOptions{Name: events.PublishActivityName})
}

func registerTriggerActivities(w temporalworker.Worker, a *triggerexec.Activities) {
	w.RegisterActivityWithOptions(a.EvaluateConditions, activity.RegisterOptions{Name: triggerexec.EvaluateConditionsName})
	w.RegisterActivityWithOptions(a.ExecuteTrigger, activity.RegisterOptions{Name: triggerexec.ExecuteTriggerName})
	w.RegisterActivityWithOptions(a.CreateTask, activity.RegisterOptions{Name: triggerexec.CreateTaskName})
	w.RegisterActivityWithOptions(a.RecordExecution, activity.RegisterOptions{Name: triggerexec.RecordExecutionName})
}

// Start launches both queue workers without blocking.
func (w *Worker) Start() error {
	if err := w.agent.Start(); err != nil {
		return fmt.Errorf("worker: start agent queue: %w", err)
	}
	if err := w.trigger.Start(); err != nil {
		w.agent.Stop()
		return fmt.Errorf("worker: start trigger queue: %w", err)
	}
	w.logger.Info(context.Background(), "workers started",
		"queues", []string{agentexec.TaskQueue, triggerexec.TaskQueue})
	return nil
}

// Stop shuts both workers down, draining in-flight activities.
func (w *Worker) Stop() {
	w.trigger.Stop()
	w.agent.Stop()
}

// Run starts both workers and blocks until the interrupt channel yields, then
// stops them. Pass temporalworker.InterruptCh() for signal-driven shutdown.
func (w *Worker) Run(interrupt <-chan any) error {
	if err := w.Start(); err != nil {
		return err
	}
	<-interrupt
	w.Stop()
	return nil
}
