package execution

import (
	"fmt"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/orbitlabs/orbit/runtime/agent/activities"
	"github.com/orbitlabs/orbit/runtime/agent/events"
	"github.com/orbitlabs/orbit/runtime/agent/model"
	"github.com/orbitlabs/orbit/runtime/agent/prompt"
	"github.com/orbitlabs/orbit/runtime/agent/tools"
	"github.com/orbitlabs/orbit/runtime/catalog"
)

const (
	configActivityTimeout = 30 * time.Second
	llmActivityTimeout    = 2 * time.Minute
	toolActivityTimeout   = 5 * time.Minute
	evalActivityTimeout   = 45 * time.Second

	// approvalTimeout bounds human-approval and projected-budget holds.
	approvalTimeout = 24 * time.Hour
)

// defaultRetryPolicy matches the activity contract: up to 3 attempts with
// 1s -> 30s exponential backoff.
func defaultRetryPolicy() *temporal.RetryPolicy {
	return &temporal.RetryPolicy{
		InitialInterval:    time.Second,
		BackoffCoefficient: 2.0,
		MaximumInterval:    30 * time.Second,
		MaximumAttempts:    3,
	}
}

// AgentExecutionWorkflow runs the reason-act loop for one agent task. It is
// registered under WorkflowName on the agent-tasks queue.
func AgentExecutionWorkflow(ctx workflow.Context, req AgentExecutionRequest) (*AgentExecutionResult, error) {
	logger := workflow.GetLogger(ctx)
	info := workflow.GetInfo(ctx)
	executionID := info.WorkflowExecution.ID

	st := newExecutionState(executionID, req, goalFromRequest(req))
	st.Events = events.NewManager(events.ModeImmediate, req.TaskID, req.AgentID, executionID)

	if err := registerQueryHandlers(ctx, st); err != nil {
		return nil, fmt.Errorf("register query handlers: %w", err)
	}
	registerSignalHandlers(ctx, st)

	result, err := run(ctx, st, req)
	if err != nil && temporal.IsCanceledError(err) {
		// Runtime-driven cancellation: publish the terminal event on a
		// disconnected context, then rethrow. No further work after this.
		dctx, _ := workflow.NewDisconnectedContext(ctx)
		st.Events.AddEvent(dctx, events.WorkflowCancelled, map[string]any{
			"reason":    "workflow cancelled by runtime",
			"iteration": st.CurrentIteration,
		})
		st.Events.Flush(dctx)
		logger.Info("workflow cancelled by runtime", "task_id", req.TaskID)
		return nil, err
	}
	return result, err
}

func run(ctx workflow.Context, st *executionState, req AgentExecutionRequest) (*AgentExecutionResult, error) {
	logger := workflow.GetLogger(ctx)

	st.Events.AddEvent(ctx, events.WorkflowStarted, map[string]any{
		"task_query":     req.TaskQuery,
		"max_iterations": st.Goal.MaxIterations,
		"budget_usd":     st.Budget.Limit,
	})

	if err := initialize(ctx, st); err != nil {
		return finalizeError(ctx, st, err)
	}

	st.Status = StatusPlanning
	var stopped stopReason
	for {
		st.CurrentIteration++
		if reason := st.checkStop(); reason != stopNone {
			st.CurrentIteration--
			stopped = reason
			logger.Info("stopping before iteration", "reason", reason)
			break
		}

		// Pause gate. Cancellation wakes the gate so a paused workflow can
		// still be cancelled.
		if st.paused {
			if err := workflow.Await(ctx, func() bool { return !st.paused || st.cancelRequested }); err != nil {
				return finalizeError(ctx, st, err)
			}
			if st.cancelRequested {
				st.CurrentIteration--
				break
			}
		}

		st.Events.AddEvent(ctx, events.IterationStarted, map[string]any{"iteration": st.CurrentIteration})

		messages := buildIterationMessages(st)

		// Projected-cost gate: hold for a budget update or resume before
		// letting the next call cross the limit.
		if estimate := st.estimateNextCallCost(); st.Budget.ProjectedExceeds(estimate) {
			proceed, err := awaitBudgetHeadroom(ctx, st, estimate)
			if err != nil {
				return finalizeError(ctx, st, err)
			}
			if !proceed {
				stopped = stopBudgetExceeded
				break
			}
		}

		resp, err := invokeLLM(ctx, st, messages)
		if err != nil {
			st.Events.AddEvent(ctx, events.LLMCallFailed, map[string]any{
				"iteration": st.CurrentIteration,
				"error":     err.Error(),
			})
			return finalizeError(ctx, st, fmt.Errorf("llm call failed: %w", err))
		}

		st.Budget.AddCost(resp.Cost, fmt.Sprintf("llm_call_%d", st.CurrentIteration))
		assistant := resp.Message
		toolCalls := prompt.ExtractToolCalls(assistant)
		st.Events.AddEvent(ctx, events.LLMCallCompleted, map[string]any{
			"iteration":       st.CurrentIteration,
			"content":         assistant.Content,
			"tool_call_count": len(toolCalls),
			"cost":            resp.Cost,
		})

		// Empty assistant turns are logged but never appended.
		if assistant.Content != "" || len(toolCalls) > 0 {
			st.appendMessage(assistant)
		} else {
			logger.Info("assistant returned empty message; skipping append", "iteration", st.CurrentIteration)
		}

		if len(toolCalls) > 0 {
			if err := handleToolCalls(ctx, st, toolCalls); err != nil {
				return finalizeError(ctx, st, err)
			}
		}

		if !st.Success {
			evaluateGoal(ctx, st)
		}

		emitBudgetEvents(ctx, st)
		st.Events.AddEvent(ctx, events.IterationCompleted, map[string]any{
			"iteration":  st.CurrentIteration,
			"total_cost": st.Budget.Cost,
		})

		if reason := st.checkStop(); reason != stopNone {
			stopped = reason
			logger.Info("stopping after iteration", "reason", reason)
			break
		}
		st.Status = StatusPlanning
	}

	// Failed terminations carry the stop reason so callers can tell a budget
	// stop from an exhausted iteration limit.
	if !st.Success && !st.cancelRequested && st.errorMessage == "" && stopped != stopNone && stopped != stopGoalAchieved {
		st.errorMessage = string(stopped)
	}
	return finalize(ctx, st), nil
}

// initialize resolves the agent config and tool inventory, and validates
// both before the first iteration.
func initialize(ctx workflow.Context, st *executionState) error {
	actx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: configActivityTimeout,
		RetryPolicy:         defaultRetryPolicy(),
	})

	var cfg catalog.AgentConfig
	err := workflow.ExecuteActivity(actx, activities.BuildAgentConfigName, activities.BuildAgentConfigInput{
		AgentID:     st.AgentID,
		UserContext: st.UserContext,
	}).Get(ctx, &cfg)
	if err != nil {
		return fmt.Errorf("build agent config: %w", err)
	}
	st.AgentConfig = cfg
	st.Events.SetMode(events.Mode(cfg.EventsConfig.Mode))

	var available []tools.Descriptor
	err = workflow.ExecuteActivity(actx, activities.DiscoverToolsName, activities.DiscoverToolsInput{
		AgentID:     st.AgentID,
		UserContext: st.UserContext,
	}).Get(ctx, &available)
	if err != nil {
		return fmt.Errorf("discover tools: %w", err)
	}
	st.AvailableTools = available
	return nil
}

// buildIterationMessages assembles the provider message list for the current
// iteration: system + initial user on iteration 1, a status user message on
// later iterations.
func buildIterationMessages(st *executionState) []model.Message {
	if st.CurrentIteration == 1 {
		system := prompt.System(
			st.AgentConfig.Name,
			st.AgentConfig.Instruction,
			st.Goal.Description,
			st.Goal.SuccessCriteria,
			st.AvailableTools,
		)
		st.appendMessage(system)
		st.appendMessage(prompt.InitialUser(st.Goal.Description))
	} else {
		st.appendMessage(prompt.Status(st.CurrentIteration, st.Goal.MaxIterations, st.Budget.Remaining()))
	}
	return prompt.NormalizeForProvider(st.Messages)
}

// awaitBudgetHeadroom parks the workflow in waiting_for_approval until a
// budget update or resume restores headroom. Returns false when the loop must
// stop with a budget termination instead.
func awaitBudgetHeadroom(ctx workflow.Context, st *executionState, estimate float64) (bool, error) {
	st.Status = StatusWaitingForApproval
	st.resumeRequested = false
	st.Events.AddEvent(ctx, events.HumanApprovalRequested, map[string]any{
		"reason":         "projected_budget_exceeded",
		"estimated_cost": estimate,
		"remaining":      st.Budget.Remaining(),
	})
	ok, err := workflow.AwaitWithTimeout(ctx, approvalTimeout, func() bool {
		return st.cancelRequested || st.resumeRequested || !st.Budget.ProjectedExceeds(estimate)
	})
	if err != nil {
		return false, err
	}
	if !ok || st.cancelRequested {
		return false, nil
	}
	st.resumeRequested = false
	st.Events.AddEvent(ctx, events.HumanApprovalReceived, map[string]any{
		"reason": "budget_hold_released",
	})
	st.Status = StatusExecuting
	return true, nil
}

// invokeLLM executes the call_llm activity for the current transcript.
func invokeLLM(ctx workflow.Context, st *executionState, messages []model.Message) (model.CompletionResponse, error) {
	st.Status = StatusExecuting
	st.Events.AddEvent(ctx, events.LLMCallStarted, map[string]any{
		"iteration":     st.CurrentIteration,
		"model_id":      st.AgentConfig.ModelID,
		"message_count": len(messages),
	})

	defs := make([]model.ToolDefinition, 0, len(st.AvailableTools)+1)
	for _, d := range st.AvailableTools {
		defs = append(defs, model.ToolDefinition{
			Name:        d.Name,
			Description: d.Description,
			Parameters:  d.Parameters,
		})
	}
	defs = append(defs, prompt.CompletionToolDefinition())

	actx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: llmActivityTimeout,
		RetryPolicy:         defaultRetryPolicy(),
	})
	var resp model.CompletionResponse
	err := workflow.ExecuteActivity(actx, activities.CallLLMName, activities.CallLLMInput{
		Messages:    messages,
		ModelID:     st.AgentConfig.ModelID,
		Tools:       defs,
		UserContext: st.UserContext,
		TaskID:      st.TaskID,
		ExecutionID: st.ExecutionID,
	}).Get(ctx, &resp)
	if err != nil {
		return model.CompletionResponse{}, err
	}
	return resp, nil
}

// handleToolCalls executes the assistant's tool calls in provider order. The
// completion sentinel short-circuits: it marks success and skips both its own
// dispatch and every remaining call in the batch.
func handleToolCalls(ctx workflow.Context, st *executionState, calls []model.ToolCall) error {
	logger := workflow.GetLogger(ctx)

	if st.Goal.RequiresHumanApproval && requiresApproval(calls) {
		granted, err := awaitApproval(ctx, st, calls)
		if err != nil {
			return err
		}
		if !granted {
			st.appendMessage(model.Message{
				Role:    model.RoleUser,
				Content: fmt.Sprintf("Tool execution rejected by user: %s", st.approvalFeedback),
			})
			return nil
		}
	}

	st.Status = StatusToolExecution
	for _, tc := range calls {
		if prompt.IsCompletionSentinel(tc.Function.Name) {
			st.Success = true
			st.FinalResponse = prompt.SentinelResult(tc.Function.Arguments, st.finalResponseOrFallback(prompt.DefaultFinalResponse))
			logger.Info("completion sentinel received", "iteration", st.CurrentIteration)
			break
		}
		executeOneTool(ctx, st, tc)
	}
	return nil
}

// requiresApproval reports whether the batch contains any real (non-sentinel)
// tool call.
func requiresApproval(calls []model.ToolCall) bool {
	for _, tc := range calls {
		if !prompt.IsCompletionSentinel(tc.Function.Name) {
			return true
		}
	}
	return false
}

// awaitApproval parks the workflow until approve_action arrives or the 24h
// timer fires. A timeout counts as a rejection.
func awaitApproval(ctx workflow.Context, st *executionState, calls []model.ToolCall) (bool, error) {
	names := make([]string, len(calls))
	for i, tc := range calls {
		names[i] = tc.Function.Name
	}
	st.Status = StatusWaitingForApproval
	st.pendingApproval = true
	st.approvalDecided = false
	st.Events.AddEvent(ctx, events.HumanApprovalRequested, map[string]any{
		"iteration": st.CurrentIteration,
		"tools":     names,
	})

	ok, err := workflow.AwaitWithTimeout(ctx, approvalTimeout, func() bool {
		return st.approvalDecided || st.cancelRequested
	})
	st.pendingApproval = false
	if err != nil {
		return false, err
	}
	granted := ok && st.approvalDecided && st.approvalGranted && !st.cancelRequested
	st.Events.AddEvent(ctx, events.HumanApprovalReceived, map[string]any{
		"approved": granted,
		"feedback": st.approvalFeedback,
	})
	st.Status = StatusExecuting
	return granted, nil
}

// executeOneTool dispatches a single call and appends its tool-role result
// message. Failures are recovered locally: the error is recorded in the
// transcript and execution continues with the next call.
func executeOneTool(ctx workflow.Context, st *executionState, tc model.ToolCall) {
	logger := workflow.GetLogger(ctx)
	name := tc.Function.Name

	st.Events.AddEvent(ctx, events.ToolCallStarted, map[string]any{
		"iteration":    st.CurrentIteration,
		"tool_name":    name,
		"tool_call_id": tc.ID,
	})

	args, err := prompt.DecodeArguments(tc.Function.Arguments)
	if err == nil {
		actx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
			StartToCloseTimeout: toolActivityTimeout,
			RetryPolicy:         defaultRetryPolicy(),
		})
		var res tools.Result
		err = workflow.ExecuteActivity(actx, activities.ExecuteToolName, activities.ExecuteToolInput{
			ToolName:         name,
			Arguments:        args,
			ServerInstanceID: serverInstanceFor(st.AvailableTools, name),
			Schema:           schemaFor(st.AvailableTools, name),
		}).Get(ctx, &res)
		if err == nil && !res.Success {
			err = fmt.Errorf("%s", res.Result)
		}
		if err == nil {
			st.appendMessage(model.Message{
				Role:       model.RoleTool,
				Content:    res.Result,
				ToolCallID: tc.ID,
				Name:       name,
			})
			st.Events.AddEvent(ctx, events.ToolCallCompleted, map[string]any{
				"iteration":    st.CurrentIteration,
				"tool_name":    name,
				"tool_call_id": tc.ID,
			})
			return
		}
	}

	logger.Warn("tool execution failed", "tool", name, "error", err)
	st.appendMessage(model.Message{
		Role:       model.RoleTool,
		Content:    fmt.Sprintf("Tool execution failed: %v", err),
		ToolCallID: tc.ID,
		Name:       name,
	})
	st.Events.AddEvent(ctx, events.ToolCallFailed, map[string]any{
		"iteration":    st.CurrentIteration,
		"tool_name":    name,
		"tool_call_id": tc.ID,
		"error":        err.Error(),
	})
}

// evaluateGoal asks the evaluator whether the goal is achieved, falling back
// to the completion heuristic when the evaluator errors out. Evaluator
// failures never fail the workflow.
func evaluateGoal(ctx workflow.Context, st *executionState) {
	logger := workflow.GetLogger(ctx)
	st.Status = StatusEvaluating

	actx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: evalActivityTimeout,
		RetryPolicy:         defaultRetryPolicy(),
	})
	var verdict activities.EvaluateGoalOutput
	err := workflow.ExecuteActivity(actx, activities.EvaluateGoalName, activities.EvaluateGoalInput{
		GoalDescription:  st.Goal.Description,
		SuccessCriteria:  st.Goal.SuccessCriteria,
		Messages:         st.Messages,
		CurrentIteration: st.CurrentIteration,
		ModelID:          st.AgentConfig.ModelID,
	}).Get(ctx, &verdict)
	if err == nil {
		if verdict.GoalAchieved {
			st.Success = true
			if verdict.FinalResponse != "" {
				st.FinalResponse = verdict.FinalResponse
			}
		}
		return
	}
	logger.Warn("goal evaluation failed; using completion heuristic", "error", err)

	var fallback activities.CheckTaskCompletionOutput
	ferr := workflow.ExecuteActivity(actx, activities.CheckTaskCompletionName, activities.CheckTaskCompletionInput{
		Messages:         st.Messages,
		CurrentIteration: st.CurrentIteration,
		MaxIterations:    st.Goal.MaxIterations,
	}).Get(ctx, &fallback)
	if ferr != nil {
		logger.Warn("completion heuristic failed; assuming goal not achieved", "error", ferr)
		return
	}
	if fallback.IsComplete && st.CurrentIteration < st.Goal.MaxIterations {
		st.Success = true
	}
}

// emitBudgetEvents raises the one-shot warning and the exceeded event.
func emitBudgetEvents(ctx workflow.Context, st *executionState) {
	if st.Budget.ShouldWarn() {
		st.Budget.MarkWarningSent()
		st.Events.AddEvent(ctx, events.BudgetWarning, map[string]any{
			"cost":        st.Budget.Cost,
			"limit":       st.Budget.Limit,
			"utilization": st.Budget.UsagePercentage(),
		})
	}
	if st.Budget.IsExceeded() && !st.budgetExceededEmitted {
		st.budgetExceededEmitted = true
		st.Events.AddEvent(ctx, events.BudgetExceeded, map[string]any{
			"cost":  st.Budget.Cost,
			"limit": st.Budget.Limit,
		})
	}
}

// finalize computes the terminal status, emits the single terminal event, and
// builds the result record.
func finalize(ctx workflow.Context, st *executionState) *AgentExecutionResult {
	logger := workflow.GetLogger(ctx)

	switch {
	case st.cancelRequested:
		st.Status = StatusCancelled
		st.FinalResponse = fmt.Sprintf("Execution cancelled: %s", st.cancelReason)
		st.Events.AddEvent(ctx, events.WorkflowCancelled, map[string]any{
			"reason":    st.cancelReason,
			"iteration": st.CurrentIteration,
		})
	case st.Success:
		st.Status = StatusCompleted
		st.Events.AddEvent(ctx, events.WorkflowCompleted, map[string]any{
			"iterations": st.CurrentIteration,
			"total_cost": st.Budget.Cost,
		})
	default:
		st.Status = StatusFailed
		st.Events.AddEvent(ctx, events.WorkflowFailed, map[string]any{
			"iterations": st.CurrentIteration,
			"total_cost": st.Budget.Cost,
			"error":      st.errorMessage,
		})
	}
	st.Events.Flush(ctx)

	result := &AgentExecutionResult{
		TaskID:                  st.TaskID,
		AgentID:                 st.AgentID,
		Success:                 st.Success,
		FinalResponse:           st.finalResponseOrFallback("No response generated"),
		TotalCost:               st.Budget.Cost,
		ReasoningIterationsUsed: st.CurrentIteration,
		ConversationHistory:     st.Messages,
		ErrorMessage:            st.errorMessage,
	}
	logger.Info("agent execution finished",
		"task_id", st.TaskID,
		"status", st.Status,
		"iterations", st.CurrentIteration,
		"total_cost", st.Budget.Cost,
	)
	return result
}

// finalizeError records the failure, emits the terminal event, and returns
// the result alongside a nil error for recoverable terminations. Runtime
// cancellation errors propagate unchanged so the caller can shield-publish.
func finalizeError(ctx workflow.Context, st *executionState, err error) (*AgentExecutionResult, error) {
	if temporal.IsCanceledError(err) {
		return nil, err
	}
	st.errorMessage = err.Error()
	st.Success = false
	return finalize(ctx, st), nil
}

func serverInstanceFor(available []tools.Descriptor, name string) string {
	for _, d := range available {
		if d.Name == name {
			return d.ServerInstanceID
		}
	}
	return ""
}

func schemaFor(available []tools.Descriptor, name string) map[string]any {
	for _, d := range available {
		if d.Name == name {
			return d.Parameters
		}
	}
	return nil
}
