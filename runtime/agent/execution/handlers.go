package execution

import (
	"go.temporal.io/sdk/workflow"

	"github.com/orbitlabs/orbit/runtime/agent/events"
	"github.com/orbitlabs/orbit/runtime/agent/model"
)

// Signal names. External callers deliver these into a running execution.
const (
	SignalPause           = "pause"
	SignalResume          = "resume"
	SignalCancelExecution = "cancel_execution"
	SignalApproveAction   = "approve_action"
	SignalProvideFeedback = "provide_feedback"
	SignalUpdateBudget    = "update_budget"
)

// Query names. All queries are read-only snapshots.
const (
	QueryExecutionStatus     = "get_execution_status"
	QueryConversationHistory = "get_conversation_history"
	QueryGoalProgress        = "get_goal_progress"
	QueryWorkflowEvents      = "get_workflow_events"
	QueryLatestEvents        = "get_latest_events"
	QueryBudgetStatus        = "get_budget_status"
)

// PauseSignal asks the loop to hold at the next iteration gate.
type PauseSignal struct {
	Reason string `json:"reason,omitempty"`
}

// ResumeSignal clears a pause (and wakes a projected-budget hold).
type ResumeSignal struct {
	Reason string `json:"reason,omitempty"`
}

// CancelSignal requests cooperative termination.
type CancelSignal struct {
	Reason string `json:"reason,omitempty"`
}

// ApprovalSignal answers a pending human-approval request.
type ApprovalSignal struct {
	Approved bool   `json:"approved"`
	Feedback string `json:"feedback,omitempty"`
}

// FeedbackSignal injects free-form human feedback into the conversation.
type FeedbackSignal struct {
	Text string `json:"text"`
}

// BudgetSignal replaces the budget limit.
type BudgetSignal struct {
	NewBudgetUSD float64 `json:"new_budget_usd"`
	Reason       string  `json:"reason,omitempty"`
}

// registerSignalHandlers drains every signal channel on its own coroutine.
// Coroutines are cooperative, so state mutation here never interleaves with
// loop statements mid-expression.
func registerSignalHandlers(ctx workflow.Context, st *executionState) {
	logger := workflow.GetLogger(ctx)

	pauseCh := workflow.GetSignalChannel(ctx, SignalPause)
	workflow.Go(ctx, func(gctx workflow.Context) {
		for {
			var sig PauseSignal
			if more := pauseCh.Receive(gctx, &sig); !more {
				return
			}
			logger.Info("execution paused", "reason", sig.Reason)
			st.paused = true
		}
	})

	resumeCh := workflow.GetSignalChannel(ctx, SignalResume)
	workflow.Go(ctx, func(gctx workflow.Context) {
		for {
			var sig ResumeSignal
			if more := resumeCh.Receive(gctx, &sig); !more {
				return
			}
			logger.Info("execution resumed", "reason", sig.Reason)
			st.paused = false
			st.resumeRequested = true
		}
	})

	cancelCh := workflow.GetSignalChannel(ctx, SignalCancelExecution)
	workflow.Go(ctx, func(gctx workflow.Context) {
		for {
			var sig CancelSignal
			if more := cancelCh.Receive(gctx, &sig); !more {
				return
			}
			logger.Info("cancellation requested", "reason", sig.Reason)
			st.cancelRequested = true
			st.cancelReason = sig.Reason
			st.paused = false
		}
	})

	approveCh := workflow.GetSignalChannel(ctx, SignalApproveAction)
	workflow.Go(ctx, func(gctx workflow.Context) {
		for {
			var sig ApprovalSignal
			if more := approveCh.Receive(gctx, &sig); !more {
				return
			}
			if !st.pendingApproval {
				logger.Warn("approval signal with no pending approval; ignored")
				continue
			}
			st.approvalDecided = true
			st.approvalGranted = sig.Approved
			st.approvalFeedback = sig.Feedback
		}
	})

	feedbackCh := workflow.GetSignalChannel(ctx, SignalProvideFeedback)
	workflow.Go(ctx, func(gctx workflow.Context) {
		for {
			var sig FeedbackSignal
			if more := feedbackCh.Receive(gctx, &sig); !more {
				return
			}
			if sig.Text == "" {
				continue
			}
			st.appendMessage(model.Message{
				Role:     model.RoleUser,
				Content:  sig.Text,
				Metadata: map[string]any{"type": "human_feedback"},
			})
		}
	})

	budgetCh := workflow.GetSignalChannel(ctx, SignalUpdateBudget)
	workflow.Go(ctx, func(gctx workflow.Context) {
		for {
			var sig BudgetSignal
			if more := budgetCh.Receive(gctx, &sig); !more {
				return
			}
			cleared := st.Budget.SetLimit(sig.NewBudgetUSD)
			logger.Info("budget updated", "new_limit", sig.NewBudgetUSD, "reason", sig.Reason, "exceeded_cleared", cleared)
			if cleared {
				st.resumeRequested = true
			}
		}
	})
}

// registerQueryHandlers exposes the read-only snapshots. Handlers must not
// mutate state.
func registerQueryHandlers(ctx workflow.Context, st *executionState) error {
	if err := workflow.SetQueryHandler(ctx, QueryExecutionStatus, func() (ExecutionStatusSnapshot, error) {
		return ExecutionStatusSnapshot{
			Status:           st.Status,
			CurrentIteration: st.CurrentIteration,
			MaxIterations:    st.Goal.MaxIterations,
			TotalCost:        st.Budget.Cost,
			BudgetRemaining:  st.Budget.Remaining(),
			Paused:           st.paused,
			PendingApproval:  st.pendingApproval,
		}, nil
	}); err != nil {
		return err
	}
	if err := workflow.SetQueryHandler(ctx, QueryConversationHistory, func() ([]model.Message, error) {
		history := make([]model.Message, len(st.Messages))
		copy(history, st.Messages)
		return history, nil
	}); err != nil {
		return err
	}
	if err := workflow.SetQueryHandler(ctx, QueryGoalProgress, func() (GoalProgressSnapshot, error) {
		pct := 0.0
		if st.Goal.MaxIterations > 0 {
			pct = float64(st.CurrentIteration) / float64(st.Goal.MaxIterations) * 100
		}
		if st.Success {
			pct = 100
		}
		return GoalProgressSnapshot{Goal: st.Goal, ProgressPercentage: pct}, nil
	}); err != nil {
		return err
	}
	if err := workflow.SetQueryHandler(ctx, QueryWorkflowEvents, func() ([]events.Event, error) {
		return st.Events.History(), nil
	}); err != nil {
		return err
	}
	if err := workflow.SetQueryHandler(ctx, QueryLatestEvents, func(limit int) ([]events.Event, error) {
		return st.Events.Latest(limit), nil
	}); err != nil {
		return err
	}
	return workflow.SetQueryHandler(ctx, QueryBudgetStatus, func() (BudgetStatusSnapshot, error) {
		return BudgetStatusSnapshot{
			Limit:       st.Budget.Limit,
			Cost:        st.Budget.Cost,
			Remaining:   st.Budget.Remaining(),
			Utilization: st.Budget.UsagePercentage(),
			Breakdown:   st.Budget.Entries,
		}, nil
	})
}
