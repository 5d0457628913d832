// Package activities implements the non-deterministic side of the agent
// execution engine. Every external effect (catalogue lookup, tool discovery,
// LLM completion, tool execution, goal evaluation, event publication) lives
// here behind a contractual activity name; workflows exchange only plain-data
// inputs and outputs with this package so their replays stay deterministic.
package activities

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.temporal.io/sdk/temporal"

	"github.com/orbitlabs/orbit/runtime/agent/events"
	"github.com/orbitlabs/orbit/runtime/agent/model"
	"github.com/orbitlabs/orbit/runtime/agent/tools"
	"github.com/orbitlabs/orbit/runtime/catalog"
	"github.com/orbitlabs/orbit/telemetry"
)

// Contractual activity registration names. Workflows reference activities by
// these names; workers must register under them.
const (
	BuildAgentConfigName    = "build_agent_config_activity"
	DiscoverToolsName       = "discover_available_tools_activity"
	CallLLMName             = "call_llm_activity"
	ExecuteToolName         = "execute_mcp_tool_activity"
	EvaluateGoalName        = "evaluate_goal_progress_activity"
	CheckTaskCompletionName = "check_task_completion_activity"
)

// Application error types used to classify activity failures across the
// workflow boundary.
const (
	ErrTypeAgentConfigInvalid  = "AgentConfigInvalid"
	ErrTypeToolsInvalid        = "ToolsInvalid"
	ErrTypeLLMCallFailed       = "LLMCallFailed"
	ErrTypeToolExecutionFailed = "ToolExecutionFailed"
	ErrTypeGoalEvaluation      = "GoalEvaluationFailed"
)

// Deps carries the external collaborators the activities depend on. Workers
// build one Deps value at startup; there are no process-wide singletons.
type Deps struct {
	Model     model.Client
	Executor  tools.Executor
	Discovery tools.Discoverer
	Catalog   catalog.Store
	Publisher events.Publisher
	Logger    telemetry.Logger
	Metrics   telemetry.Metrics
}

// Activities hosts the activity implementations. Each invocation opens its
// own transactional scope against the collaborators; none of them read or
// mutate workflow state.
type Activities struct {
	deps Deps
}

// New validates the dependency record and builds the activity set. Logger and
// Metrics default to noop implementations.
func New(deps Deps) (*Activities, error) {
	if deps.Model == nil {
		return nil, errors.New("activities: model client is required")
	}
	if deps.Executor == nil {
		return nil, errors.New("activities: tool executor is required")
	}
	if deps.Discovery == nil {
		return nil, errors.New("activities: tool discoverer is required")
	}
	if deps.Catalog == nil {
		return nil, errors.New("activities: catalog store is required")
	}
	if deps.Publisher == nil {
		return nil, errors.New("activities: event publisher is required")
	}
	if deps.Logger == nil {
		deps.Logger = telemetry.NewNoopLogger()
	}
	if deps.Metrics == nil {
		deps.Metrics = telemetry.NewNoopMetrics()
	}
	return &Activities{deps: deps}, nil
}

// BuildAgentConfigInput resolves an agent id in the catalogue.
type BuildAgentConfigInput struct {
	AgentID     string         `json:"agent_id"`
	UserContext map[string]any `json:"user_context,omitempty"`
}

// BuildAgentConfig loads and validates the agent configuration. Missing or
// invalid agents fail non-retryably with ErrTypeAgentConfigInvalid.
func (a *Activities) BuildAgentConfig(ctx context.Context, in BuildAgentConfigInput) (catalog.AgentConfig, error) {
	cfg, err := a.deps.Catalog.LookupAgent(ctx, in.AgentID)
	if err != nil {
		if errors.Is(err, catalog.ErrAgentNotFound) {
			return catalog.AgentConfig{}, temporal.NewNonRetryableApplicationError(
				fmt.Sprintf("agent %s not found", in.AgentID), ErrTypeAgentConfigInvalid, err)
		}
		return catalog.AgentConfig{}, fmt.Errorf("lookup agent %s: %w", in.AgentID, err)
	}
	if err := cfg.Validate(); err != nil {
		return catalog.AgentConfig{}, temporal.NewNonRetryableApplicationError(
			err.Error(), ErrTypeAgentConfigInvalid, err)
	}
	a.deps.Logger.Debug(ctx, "agent config resolved", "agent_id", cfg.ID, "model_id", cfg.ModelID)
	return cfg, nil
}

// DiscoverToolsInput enumerates the tools for an agent's configured servers.
type DiscoverToolsInput struct {
	AgentID     string         `json:"agent_id"`
	UserContext map[string]any `json:"user_context,omitempty"`
}

// DiscoverTools returns the tool descriptors for the agent's tool servers.
// Descriptors missing a name or description fail non-retryably with
// ErrTypeToolsInvalid.
func (a *Activities) DiscoverTools(ctx context.Context, in DiscoverToolsInput) ([]tools.Descriptor, error) {
	cfg, err := a.deps.Catalog.LookupAgent(ctx, in.AgentID)
	if err != nil {
		return nil, fmt.Errorf("lookup agent %s: %w", in.AgentID, err)
	}
	descriptors, err := a.deps.Discovery.Discover(ctx, cfg.ToolsConfig.ServerInstanceIDs)
	if err != nil {
		return nil, fmt.Errorf("discover tools for agent %s: %w", in.AgentID, err)
	}
	for _, d := range descriptors {
		if d.Name == "" || d.Description == "" {
			return nil, temporal.NewNonRetryableApplicationError(
				fmt.Sprintf("tool descriptor %q is missing name or description", d.Name),
				ErrTypeToolsInvalid, nil)
		}
	}
	a.deps.Logger.Debug(ctx, "tools discovered", "agent_id", in.AgentID, "count", len(descriptors))
	return descriptors, nil
}

// CallLLMInput requests one assistant turn.
type CallLLMInput struct {
	Messages    []model.Message        `json:"messages"`
	ModelID     string                 `json:"model_id"`
	Tools       []model.ToolDefinition `json:"tools,omitempty"`
	WorkspaceID string                 `json:"workspace_id,omitempty"`
	UserContext map[string]any         `json:"user_context,omitempty"`
	Temperature *float64               `json:"temperature,omitempty"`
	MaxTokens   int                    `json:"max_tokens,omitempty"`

	// Workflow identifiers forwarded for provider-side streaming correlation.
	TaskID      string `json:"task_id,omitempty"`
	ExecutionID string `json:"execution_id,omitempty"`
}

// CallLLM invokes the model client. Retryable provider failures surface as
// regular errors so the workflow retry policy applies; auth and validation
// failures are marked non-retryable.
func (a *Activities) CallLLM(ctx context.Context, in CallLLMInput) (model.CompletionResponse, error) {
	started := time.Now()
	resp, err := a.deps.Model.Complete(ctx, model.CompletionRequest{
		ModelID:     in.ModelID,
		Messages:    in.Messages,
		Tools:       in.Tools,
		Temperature: in.Temperature,
		MaxTokens:   in.MaxTokens,
	})
	a.deps.Metrics.RecordTimer("llm_call_duration", time.Since(started), "model", in.ModelID)
	if err != nil {
		if !model.IsRetryable(err) {
			return model.CompletionResponse{}, temporal.NewNonRetryableApplicationError(
				err.Error(), ErrTypeLLMCallFailed, err)
		}
		return model.CompletionResponse{}, temporal.NewApplicationError(err.Error(), ErrTypeLLMCallFailed, err)
	}
	a.deps.Metrics.IncCounter("llm_tokens_total", float64(resp.Usage.TotalTokens), "model", in.ModelID)
	return resp, nil
}

// ExecuteToolInput dispatches one tool call to its server.
type ExecuteToolInput struct {
	ToolName         string         `json:"tool_name"`
	Arguments        map[string]any `json:"arguments,omitempty"`
	ServerInstanceID string         `json:"server_instance_id,omitempty"`

	// Schema, when present, is validated against Arguments before dispatch so
	// malformed calls fail locally without a server round-trip.
	Schema map[string]any `json:"schema,omitempty"`
}

// ExecuteTool validates the arguments and invokes the tool executor.
// Transport failures are retryable; schema violations are not.
func (a *Activities) ExecuteTool(ctx context.Context, in ExecuteToolInput) (tools.Result, error) {
	if len(in.Schema) > 0 {
		if err := validateArguments(in.Schema, in.Arguments); err != nil {
			return tools.Result{}, temporal.NewNonRetryableApplicationError(
				fmt.Sprintf("tool %s arguments rejected: %v", in.ToolName, err),
				ErrTypeToolExecutionFailed, err)
		}
	}
	started := time.Now()
	res, err := a.deps.Executor.Execute(ctx, tools.Request{
		Name:             in.ToolName,
		Arguments:        in.Arguments,
		ServerInstanceID: in.ServerInstanceID,
	})
	a.deps.Metrics.RecordTimer("tool_call_duration", time.Since(started), "tool", in.ToolName)
	if err != nil {
		return tools.Result{}, temporal.NewApplicationError(
			fmt.Sprintf("execute tool %s: %v", in.ToolName, err), ErrTypeToolExecutionFailed, err)
	}
	return res, nil
}

// EvaluateGoalInput asks whether the goal has been achieved.
type EvaluateGoalInput struct {
	GoalDescription  string          `json:"goal_description"`
	SuccessCriteria  []string        `json:"success_criteria,omitempty"`
	Messages         []model.Message `json:"messages"`
	CurrentIteration int             `json:"current_iteration"`
	ModelID          string          `json:"model_id"`
}

// EvaluateGoalOutput reports the evaluator's verdict.
type EvaluateGoalOutput struct {
	GoalAchieved  bool   `json:"goal_achieved"`
	FinalResponse string `json:"final_response,omitempty"`
}

// EvaluateGoal runs an LLM self-evaluation over the transcript. The caller
// swallows failures, so errors here only mean "no verdict this iteration".
func (a *Activities) EvaluateGoal(ctx context.Context, in EvaluateGoalInput) (EvaluateGoalOutput, error) {
	lastAssistant := model.LastAssistantContent(in.Messages)
	if lastAssistant == "" {
		return EvaluateGoalOutput{}, nil
	}
	resp, err := a.deps.Model.Complete(ctx, model.CompletionRequest{
		ModelID:  in.ModelID,
		Messages: evaluationPrompt(in, lastAssistant),
	})
	if err != nil {
		return EvaluateGoalOutput{}, temporal.NewApplicationError(
			fmt.Sprintf("goal evaluation: %v", err), ErrTypeGoalEvaluation, err)
	}
	var verdict struct {
		GoalAchieved  bool   `json:"goal_achieved"`
		FinalResponse string `json:"final_response"`
	}
	if err := json.Unmarshal([]byte(resp.Message.Content), &verdict); err != nil {
		a.deps.Logger.Debug(ctx, "goal evaluator returned non-JSON verdict", "error", err)
		return EvaluateGoalOutput{}, nil
	}
	return EvaluateGoalOutput{GoalAchieved: verdict.GoalAchieved, FinalResponse: verdict.FinalResponse}, nil
}

// CheckTaskCompletionInput is the heuristic fallback input.
type CheckTaskCompletionInput struct {
	Messages         []model.Message `json:"messages"`
	CurrentIteration int             `json:"current_iteration"`
	MaxIterations    int             `json:"max_iterations"`
}

// CheckTaskCompletionOutput is the heuristic fallback verdict.
type CheckTaskCompletionOutput struct {
	IsComplete bool   `json:"is_complete"`
	Reason     string `json:"reason"`
}

// CheckTaskCompletion is the non-LLM fallback used when the goal evaluator is
// unavailable: a final assistant message with content and no outstanding tool
// calls counts as complete.
func (a *Activities) CheckTaskCompletion(_ context.Context, in CheckTaskCompletionInput) (CheckTaskCompletionOutput, error) {
	if in.CurrentIteration >= in.MaxIterations {
		return CheckTaskCompletionOutput{IsComplete: true, Reason: "maximum iterations reached"}, nil
	}
	if len(in.Messages) == 0 {
		return CheckTaskCompletionOutput{Reason: "no messages yet"}, nil
	}
	last := in.Messages[len(in.Messages)-1]
	if last.Role == model.RoleAssistant && last.Content != "" && len(last.ToolCalls) == 0 {
		return CheckTaskCompletionOutput{IsComplete: true, Reason: "assistant produced a final answer"}, nil
	}
	return CheckTaskCompletionOutput{Reason: "work in progress"}, nil
}

// PublishEvents decodes the JSON-encoded batch and hands it to the publisher.
// Registered under events.PublishActivityName; the workflow invokes it with a
// single attempt and ignores failures.
func (a *Activities) PublishEvents(ctx context.Context, in events.PublishInput) error {
	var batch []events.Event
	if err := json.Unmarshal([]byte(in.EventsJSON), &batch); err != nil {
		return fmt.Errorf("decode event batch: %w", err)
	}
	if len(batch) == 0 {
		return nil
	}
	if err := a.deps.Publisher.Publish(ctx, batch); err != nil {
		return fmt.Errorf("publish %d events: %w", len(batch), err)
	}
	a.deps.Metrics.IncCounter("events_published_total", float64(len(batch)))
	return nil
}

func evaluationPrompt(in EvaluateGoalInput, lastAssistant string) []model.Message {
	criteria := ""
	for _, c := range in.SuccessCriteria {
		criteria += "- " + c + "\n"
	}
	system := model.Message{
		Role: model.RoleSystem,
		Content: "You judge whether an agent has achieved its goal. Respond with a single JSON object: " +
			`{"goal_achieved": bool, "final_response": string}. No prose.`,
	}
	user := model.Message{
		Role: model.RoleUser,
		Content: fmt.Sprintf(
			"Goal: %s\nSuccess criteria:\n%s\nIteration: %d\nLatest assistant output:\n%s",
			in.GoalDescription, criteria, in.CurrentIteration, lastAssistant),
	}
	return []model.Message{system, user}
}
