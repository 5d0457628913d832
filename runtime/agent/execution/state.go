package execution

import (
	"github.com/orbitlabs/orbit/runtime/agent/budget"
	"github.com/orbitlabs/orbit/runtime/agent/events"
	"github.com/orbitlabs/orbit/runtime/agent/model"
	"github.com/orbitlabs/orbit/runtime/agent/tools"
	"github.com/orbitlabs/orbit/runtime/catalog"
)

// stopReason labels why the main loop terminated, in spec priority order.
type stopReason string

const (
	stopNone           stopReason = ""
	stopGoalAchieved   stopReason = "Goal achieved"
	stopMaxIterations  stopReason = "Maximum iterations reached"
	stopBudgetExceeded stopReason = "Budget exceeded"
	stopCancelled      stopReason = "Cancelled"
)

// executionState is the workflow-local state. It is mutated only by workflow
// code (including signal coroutines, which are cooperative); activities never
// see it.
type executionState struct {
	ExecutionID string
	AgentID     string
	TaskID      string
	UserID      string

	Goal             AgentGoal
	Status           Status
	CurrentIteration int
	Messages         []model.Message
	AgentConfig      catalog.AgentConfig
	AvailableTools   []tools.Descriptor
	FinalResponse    string
	Success          bool
	UserContext      map[string]any

	Budget *budget.Tracker
	Events *events.Manager

	paused          bool
	resumeRequested bool
	cancelRequested bool
	cancelReason    string

	pendingApproval  bool
	approvalDecided  bool
	approvalGranted  bool
	approvalFeedback string

	budgetExceededEmitted bool
	errorMessage          string
}

func newExecutionState(executionID string, req AgentExecutionRequest, goal AgentGoal) *executionState {
	return &executionState{
		ExecutionID: executionID,
		AgentID:     req.AgentID,
		TaskID:      req.TaskID,
		UserID:      req.UserID,
		Goal:        goal,
		Status:      StatusInitializing,
		UserContext: req.TaskParameters,
		Budget:      budget.NewTracker(req.BudgetUSD),
	}
}

// checkStop evaluates the termination conditions in priority order.
func (st *executionState) checkStop() stopReason {
	switch {
	case st.Success:
		return stopGoalAchieved
	case st.CurrentIteration >= st.Goal.MaxIterations:
		return stopMaxIterations
	case st.Budget.IsExceeded():
		return stopBudgetExceeded
	case st.cancelRequested:
		return stopCancelled
	}
	return stopNone
}

// appendMessage appends to the transcript, preserving conversation order.
func (st *executionState) appendMessage(msg model.Message) {
	st.Messages = append(st.Messages, msg)
}

// finalResponseOrFallback resolves the response returned to the caller: the
// explicit final response, else the last non-empty assistant message, else a
// default string.
func (st *executionState) finalResponseOrFallback(fallback string) string {
	if st.FinalResponse != "" {
		return st.FinalResponse
	}
	if last := model.LastAssistantContent(st.Messages); last != "" {
		return last
	}
	return fallback
}

// estimateNextCallCost projects the next LLM call's cost from the recorded
// spend. With no history the projection is zero so the first call is never
// gated. Deterministic: pure arithmetic over workflow-local state.
func (st *executionState) estimateNextCallCost() float64 {
	entries := st.Budget.Entries
	if len(entries) == 0 {
		return 0
	}
	var sum float64
	for _, e := range entries {
		sum += e.Cost
	}
	return sum / float64(len(entries))
}
