package execution

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/testsuite"
	"go.temporal.io/sdk/workflow"

	"github.com/orbitlabs/orbit/runtime/agent/activities"
	"github.com/orbitlabs/orbit/runtime/agent/events"
	"github.com/orbitlabs/orbit/runtime/agent/model"
	"github.com/orbitlabs/orbit/runtime/agent/tools"
	"github.com/orbitlabs/orbit/runtime/catalog"
)

// testHarness wires stub activities under the contractual names and captures
// every published event for assertions.
type testHarness struct {
	env *testsuite.TestWorkflowEnvironment

	config    catalog.AgentConfig
	available []tools.Descriptor

	// completions is consumed one response per call_llm invocation; the last
	// element repeats once the slice is exhausted.
	completions []model.CompletionResponse
	llmCalls    int

	toolResult tools.Result
	toolCalls  []activities.ExecuteToolInput

	evalAchieved bool
	evalFinal    string
	evalErr      error

	published []events.Event
}

func newHarness(t *testing.T) *testHarness {
	var ts testsuite.WorkflowTestSuite
	h := &testHarness{
		env: ts.NewTestWorkflowEnvironment(),
		config: catalog.AgentConfig{
			ID:      "agent-1",
			Name:    "Research Assistant",
			ModelID: "gpt-4o",
			ToolsConfig: catalog.ToolsConfig{
				ServerInstanceIDs: []string{"srv-1"},
			},
		},
		available: []tools.Descriptor{
			{
				Name:             "web_search",
				Description:      "Search the web",
				Parameters:       map[string]any{"type": "object"},
				ServerInstanceID: "srv-1",
			},
		},
		toolResult: tools.Result{Success: true, Result: "search results"},
	}

	h.env.RegisterWorkflowWithOptions(AgentExecutionWorkflow, workflow.RegisterOptions{Name: WorkflowName})

	h.env.RegisterActivityWithOptions(
		func(ctx context.Context, in activities.BuildAgentConfigInput) (catalog.AgentConfig, error) {
			return h.config, nil
		},
		activity.RegisterOptions{Name: activities.BuildAgentConfigName},
	)
	h.env.RegisterActivityWithOptions(
		func(ctx context.Context, in activities.DiscoverToolsInput) ([]tools.Descriptor, error) {
			return h.available, nil
		},
		activity.RegisterOptions{Name: activities.DiscoverToolsName},
	)
	h.env.RegisterActivityWithOptions(
		func(ctx context.Context, in activities.CallLLMInput) (model.CompletionResponse, error) {
			require.NotEmpty(t, h.completions, "test did not script any completions")
			idx := h.llmCalls
			h.llmCalls++
			if idx >= len(h.completions) {
				idx = len(h.completions) - 1
			}
			return h.completions[idx], nil
		},
		activity.RegisterOptions{Name: activities.CallLLMName},
	)
	h.env.RegisterActivityWithOptions(
		func(ctx context.Context, in activities.ExecuteToolInput) (tools.Result, error) {
			h.toolCalls = append(h.toolCalls, in)
			return h.toolResult, nil
		},
		activity.RegisterOptions{Name: activities.ExecuteToolName},
	)
	h.env.RegisterActivityWithOptions(
		func(ctx context.Context, in activities.EvaluateGoalInput) (activities.EvaluateGoalOutput, error) {
			if h.evalErr != nil {
				return activities.EvaluateGoalOutput{}, h.evalErr
			}
			return activities.EvaluateGoalOutput{GoalAchieved: h.evalAchieved, FinalResponse: h.evalFinal}, nil
		},
		activity.RegisterOptions{Name: activities.EvaluateGoalName},
	)
	h.env.RegisterActivityWithOptions(
		func(ctx context.Context, in activities.CheckTaskCompletionInput) (activities.CheckTaskCompletionOutput, error) {
			return activities.CheckTaskCompletionOutput{}, nil
		},
		activity.RegisterOptions{Name: activities.CheckTaskCompletionName},
	)
	h.env.RegisterActivityWithOptions(
		func(ctx context.Context, in events.PublishInput) error {
			var batch []events.Event
			if err := json.Unmarshal([]byte(in.EventsJSON), &batch); err != nil {
				return err
			}
			h.published = append(h.published, batch...)
			return nil
		},
		activity.RegisterOptions{Name: events.PublishActivityName},
	)
	return h
}

func (h *testHarness) result(t *testing.T) *AgentExecutionResult {
	t.Helper()
	require.True(t, h.env.IsWorkflowCompleted())
	require.NoError(t, h.env.GetWorkflowError())
	var result AgentExecutionResult
	require.NoError(t, h.env.GetWorkflowResult(&result))
	return &result
}

func (h *testHarness) eventTypes() []events.Type {
	out := make([]events.Type, len(h.published))
	for i, evt := range h.published {
		out[i] = evt.Type
	}
	return out
}

func assistantText(content string) model.CompletionResponse {
	return model.CompletionResponse{
		Message: model.Message{Role: model.RoleAssistant, Content: content},
		Cost:    0.01,
	}
}

func assistantToolCall(name, arguments string, cost float64) model.CompletionResponse {
	return model.CompletionResponse{
		Message: model.Message{
			Role: model.RoleAssistant,
			ToolCalls: []model.ToolCall{{
				ID:       "call_0",
				Type:     model.ToolCallType,
				Function: model.FunctionCall{Name: name, Arguments: arguments},
			}},
		},
		Cost: cost,
	}
}

func baseRequest() AgentExecutionRequest {
	return AgentExecutionRequest{
		TaskID:    "task-1",
		AgentID:   "agent-1",
		UserID:    "user-1",
		TaskQuery: "Summarize the latest release notes",
		BudgetUSD: 10,
	}
}

func TestAgentExecutionWorkflowCompletionSentinel(t *testing.T) {
	h := newHarness(t)
	h.completions = []model.CompletionResponse{
		assistantToolCall("completion", `{"result":"Release 2.3 ships streaming."}`, 0.02),
	}

	h.env.ExecuteWorkflow(WorkflowName, baseRequest())

	result := h.result(t)
	assert.True(t, result.Success)
	assert.Equal(t, "Release 2.3 ships streaming.", result.FinalResponse)
	assert.Equal(t, 1, result.ReasoningIterationsUsed)
	assert.InDelta(t, 0.02, result.TotalCost, 1e-9)
	assert.Empty(t, h.toolCalls, "sentinel must not be dispatched as a tool")

	types := h.eventTypes()
	assert.Contains(t, types, events.WorkflowStarted)
	assert.Contains(t, types, events.IterationStarted)
	assert.Contains(t, types, events.WorkflowCompleted)
	assert.NotContains(t, types, events.WorkflowFailed)
}

func TestAgentExecutionWorkflowSentinelAlias(t *testing.T) {
	h := newHarness(t)
	h.completions = []model.CompletionResponse{
		assistantToolCall("task_complete", `{"result":"done"}`, 0.01),
	}

	h.env.ExecuteWorkflow(WorkflowName, baseRequest())

	result := h.result(t)
	assert.True(t, result.Success)
	assert.Equal(t, "done", result.FinalResponse)
}

func TestAgentExecutionWorkflowMaxIterations(t *testing.T) {
	h := newHarness(t)
	h.completions = []model.CompletionResponse{assistantText("still working on it")}

	req := baseRequest()
	req.MaxReasoningIterations = 3
	h.env.ExecuteWorkflow(WorkflowName, req)

	result := h.result(t)
	assert.False(t, result.Success)
	assert.Equal(t, 3, result.ReasoningIterationsUsed)
	assert.Equal(t, "still working on it", result.FinalResponse)
	assert.Equal(t, "Maximum iterations reached", result.ErrorMessage)
	assert.Contains(t, h.eventTypes(), events.WorkflowFailed)
}

func TestAgentExecutionWorkflowBudgetExceeded(t *testing.T) {
	h := newHarness(t)
	h.completions = []model.CompletionResponse{assistantText("expensive thinking")}
	for i := range h.completions {
		h.completions[i].Cost = 6.0
	}

	req := baseRequest()
	req.BudgetUSD = 5
	req.MaxReasoningIterations = 10
	h.env.ExecuteWorkflow(WorkflowName, req)

	result := h.result(t)
	assert.False(t, result.Success)
	assert.Equal(t, 1, result.ReasoningIterationsUsed, "no further iterations once the budget is spent")
	assert.InDelta(t, 6.0, result.TotalCost, 1e-9)
	assert.Equal(t, "Budget exceeded", result.ErrorMessage)

	types := h.eventTypes()
	assert.Contains(t, types, events.BudgetWarning)
	assert.Contains(t, types, events.BudgetExceeded)
	warnings := 0
	for _, typ := range types {
		if typ == events.BudgetWarning {
			warnings++
		}
	}
	assert.Equal(t, 1, warnings, "budget warning fires at most once")
}

func TestAgentExecutionWorkflowProjectedBudgetHold(t *testing.T) {
	h := newHarness(t)
	h.completions = []model.CompletionResponse{assistantText("round one")}
	h.completions[0].Cost = 6.0

	req := baseRequest()
	req.BudgetUSD = 10
	req.MaxReasoningIterations = 5
	// No budget update arrives, so the 24h hold expires and the run stops
	// without another LLM call.
	h.env.ExecuteWorkflow(WorkflowName, req)

	result := h.result(t)
	assert.False(t, result.Success)
	assert.Equal(t, 1, h.llmCalls, "projected overrun must gate the second call")

	var holdReason string
	for _, evt := range h.published {
		if evt.Type == events.HumanApprovalRequested {
			holdReason, _ = evt.Data["reason"].(string)
		}
	}
	assert.Equal(t, "projected_budget_exceeded", holdReason)
}

func TestAgentExecutionWorkflowBudgetSignalReleasesHold(t *testing.T) {
	h := newHarness(t)
	h.completions = []model.CompletionResponse{
		assistantText("round one"),
		assistantToolCall("completion", `{"result":"finished"}`, 0.02),
	}
	h.completions[0].Cost = 6.0

	h.env.RegisterDelayedCallback(func() {
		h.env.SignalWorkflow(SignalUpdateBudget, BudgetSignal{NewBudgetUSD: 25, Reason: "approved more spend"})
	}, time.Minute)

	req := baseRequest()
	req.BudgetUSD = 10
	req.MaxReasoningIterations = 5
	h.env.ExecuteWorkflow(WorkflowName, req)

	result := h.result(t)
	assert.True(t, result.Success)
	assert.Equal(t, "finished", result.FinalResponse)
	assert.Equal(t, 2, h.llmCalls)
}

func TestAgentExecutionWorkflowCancelSignal(t *testing.T) {
	h := newHarness(t)
	h.completions = []model.CompletionResponse{assistantText("working")}

	h.env.RegisterDelayedCallback(func() {
		h.env.SignalWorkflow(SignalCancelExecution, CancelSignal{Reason: "operator stop"})
	}, 0)

	h.env.ExecuteWorkflow(WorkflowName, baseRequest())

	result := h.result(t)
	assert.False(t, result.Success)
	assert.Contains(t, result.FinalResponse, "operator stop")
	assert.Contains(t, h.eventTypes(), events.WorkflowCancelled)
	assert.NotContains(t, h.eventTypes(), events.WorkflowCompleted)
}

func TestAgentExecutionWorkflowToolFailureRecovered(t *testing.T) {
	h := newHarness(t)
	h.toolResult = tools.Result{Success: false, Result: "connection refused"}
	h.completions = []model.CompletionResponse{
		assistantToolCall("web_search", `{"query":"release notes"}`, 0.01),
		assistantToolCall("completion", `{"result":"done without search"}`, 0.01),
	}

	h.env.ExecuteWorkflow(WorkflowName, baseRequest())

	result := h.result(t)
	assert.True(t, result.Success, "tool failure must not fail the workflow")
	require.Len(t, h.toolCalls, 1)
	assert.Equal(t, "web_search", h.toolCalls[0].ToolName)
	assert.Equal(t, "srv-1", h.toolCalls[0].ServerInstanceID)

	var toolMsg *model.Message
	for i := range result.ConversationHistory {
		if result.ConversationHistory[i].Role == model.RoleTool {
			toolMsg = &result.ConversationHistory[i]
		}
	}
	require.NotNil(t, toolMsg, "failed call still yields a tool message")
	assert.True(t, strings.HasPrefix(toolMsg.Content, "Tool execution failed: "), toolMsg.Content)
	assert.Contains(t, h.eventTypes(), events.ToolCallFailed)
}

func TestAgentExecutionWorkflowGoalEvaluatorVerdict(t *testing.T) {
	h := newHarness(t)
	h.completions = []model.CompletionResponse{assistantText("the answer is 42")}
	h.evalAchieved = true
	h.evalFinal = "The answer is 42."

	h.env.ExecuteWorkflow(WorkflowName, baseRequest())

	result := h.result(t)
	assert.True(t, result.Success)
	assert.Equal(t, "The answer is 42.", result.FinalResponse)
	assert.Equal(t, 1, result.ReasoningIterationsUsed)
}

func TestAgentExecutionWorkflowEvaluatorFailureFallsBack(t *testing.T) {
	h := newHarness(t)
	h.completions = []model.CompletionResponse{assistantText("partial progress")}
	h.evalErr = fmt.Errorf("evaluator unavailable")

	req := baseRequest()
	req.MaxReasoningIterations = 2
	h.env.ExecuteWorkflow(WorkflowName, req)

	result := h.result(t)
	assert.False(t, result.Success, "heuristic declined, run exhausts iterations")
	assert.Equal(t, 2, result.ReasoningIterationsUsed)
}

func TestAgentExecutionWorkflowHumanApprovalGranted(t *testing.T) {
	h := newHarness(t)
	h.completions = []model.CompletionResponse{
		assistantToolCall("web_search", `{"query":"x"}`, 0.01),
		assistantToolCall("completion", `{"result":"approved and done"}`, 0.01),
	}

	h.env.RegisterDelayedCallback(func() {
		h.env.SignalWorkflow(SignalApproveAction, ApprovalSignal{Approved: true})
	}, time.Minute)

	req := baseRequest()
	req.RequiresHumanApproval = true
	h.env.ExecuteWorkflow(WorkflowName, req)

	result := h.result(t)
	assert.True(t, result.Success)
	require.Len(t, h.toolCalls, 1, "approved call executes")

	types := h.eventTypes()
	assert.Contains(t, types, events.HumanApprovalRequested)
	assert.Contains(t, types, events.HumanApprovalReceived)
}

func TestAgentExecutionWorkflowHumanApprovalRejected(t *testing.T) {
	h := newHarness(t)
	h.completions = []model.CompletionResponse{
		assistantToolCall("web_search", `{"query":"x"}`, 0.01),
		assistantToolCall("completion", `{"result":"stopped"}`, 0.01),
	}

	h.env.RegisterDelayedCallback(func() {
		h.env.SignalWorkflow(SignalApproveAction, ApprovalSignal{Approved: false, Feedback: "not allowed"})
	}, time.Minute)

	req := baseRequest()
	req.RequiresHumanApproval = true
	h.env.ExecuteWorkflow(WorkflowName, req)

	result := h.result(t)
	assert.Empty(t, h.toolCalls, "rejected call must not execute")

	var rejection bool
	for _, msg := range result.ConversationHistory {
		if msg.Role == model.RoleUser && strings.Contains(msg.Content, "not allowed") {
			rejection = true
		}
	}
	assert.True(t, rejection, "rejection feedback lands in the transcript")
}

func TestAgentExecutionWorkflowPauseResume(t *testing.T) {
	h := newHarness(t)
	h.completions = []model.CompletionResponse{
		assistantText("first"),
		assistantToolCall("completion", `{"result":"resumed and done"}`, 0.01),
	}

	h.env.RegisterDelayedCallback(func() {
		h.env.SignalWorkflow(SignalPause, PauseSignal{Reason: "inspect"})
	}, 0)
	h.env.RegisterDelayedCallback(func() {
		h.env.SignalWorkflow(SignalResume, ResumeSignal{Reason: "looks good"})
	}, time.Minute)

	h.env.ExecuteWorkflow(WorkflowName, baseRequest())

	result := h.result(t)
	assert.True(t, result.Success)
	assert.Equal(t, "resumed and done", result.FinalResponse)
}

func TestAgentExecutionWorkflowStatusQuery(t *testing.T) {
	h := newHarness(t)
	h.completions = []model.CompletionResponse{
		assistantToolCall("completion", `{"result":"done"}`, 0.03),
	}

	h.env.ExecuteWorkflow(WorkflowName, baseRequest())
	require.True(t, h.env.IsWorkflowCompleted())

	val, err := h.env.QueryWorkflow(QueryExecutionStatus)
	require.NoError(t, err)
	var status ExecutionStatusSnapshot
	require.NoError(t, val.Get(&status))
	assert.Equal(t, StatusCompleted, status.Status)
	assert.Equal(t, 1, status.CurrentIteration)
	assert.InDelta(t, 0.03, status.TotalCost, 1e-9)

	val, err = h.env.QueryWorkflow(QueryBudgetStatus)
	require.NoError(t, err)
	var budgetStatus BudgetStatusSnapshot
	require.NoError(t, val.Get(&budgetStatus))
	assert.InDelta(t, 10.0, budgetStatus.Limit, 1e-9)
	require.Len(t, budgetStatus.Breakdown, 1)
	assert.Equal(t, "llm_call_1", budgetStatus.Breakdown[0].Label)
}

func TestAgentExecutionWorkflowFeedbackSignal(t *testing.T) {
	h := newHarness(t)
	h.completions = []model.CompletionResponse{
		assistantText("first pass"),
		assistantToolCall("completion", `{"result":"incorporated"}`, 0.01),
	}

	h.env.RegisterDelayedCallback(func() {
		h.env.SignalWorkflow(SignalProvideFeedback, FeedbackSignal{Text: "focus on the changelog"})
	}, 0)

	h.env.ExecuteWorkflow(WorkflowName, baseRequest())

	result := h.result(t)
	var found bool
	for _, msg := range result.ConversationHistory {
		if msg.Content == "focus on the changelog" {
			found = true
			assert.Equal(t, model.RoleUser, msg.Role)
			assert.Equal(t, "human_feedback", msg.Metadata["type"])
		}
	}
	assert.True(t, found, "feedback message joins the transcript")
	assert.True(t, result.Success)
}
