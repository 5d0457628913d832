package events

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

// Mode selects how the manager dispatches added events.
type Mode string

const (
	// ModeImmediate publishes each event as it is added via a single-attempt,
	// short-timeout activity. Default for interactive progress UIs.
	ModeImmediate Mode = "immediate"
	// ModeBatched accumulates events and publishes them at explicit flush
	// points (and always during finalization).
	ModeBatched Mode = "batched"
)

// publishTimeout bounds how long an immediate publish may block the workflow.
const publishTimeout = 5 * time.Second

// Manager buffers progress events inside a single workflow instance. It is
// workflow-local state: all methods must be called from workflow code, and the
// identity fields (task, agent, execution) are stamped onto every event.
//
// Publish failures never fail the workflow; the publish activity runs a single
// attempt and errors are swallowed.
type Manager struct {
	mode        Mode
	taskID      string
	agentID     string
	executionID string

	pending []Event
	history []Event
}

// NewManager builds a manager for one execution. An empty mode defaults to
// ModeImmediate.
func NewManager(mode Mode, taskID, agentID, executionID string) *Manager {
	if mode == "" {
		mode = ModeImmediate
	}
	return &Manager{
		mode:        mode,
		taskID:      taskID,
		agentID:     agentID,
		executionID: executionID,
	}
}

// SetMode switches the dispatch mode. Intended for use right after the agent
// config is resolved, before any batched accumulation matters.
func (m *Manager) SetMode(mode Mode) {
	if mode == ModeImmediate || mode == ModeBatched {
		m.mode = mode
	}
}

// AddEvent records an event of the given type, merging data over the standard
// identity fields. In immediate mode the event is published before returning;
// in batched mode it is buffered until Flush.
func (m *Manager) AddEvent(ctx workflow.Context, typ Type, data map[string]any) {
	evt := m.build(ctx, typ, data)
	m.history = append(m.history, evt)
	if m.mode == ModeImmediate {
		m.dispatch(ctx, []Event{evt})
		return
	}
	m.pending = append(m.pending, evt)
}

// Flush publishes all buffered events. It is a no-op in immediate mode or when
// nothing is pending. Finalization paths call Flush so batched events are not
// lost on completion or cancellation.
func (m *Manager) Flush(ctx workflow.Context) {
	if len(m.pending) == 0 {
		return
	}
	batch := m.pending
	m.pending = nil
	m.dispatch(ctx, batch)
}

// History returns all events added so far, in add order.
func (m *Manager) History() []Event {
	out := make([]Event, len(m.history))
	copy(out, m.history)
	return out
}

// Latest returns the most recent limit events in add order. A non-positive
// limit returns the full history.
func (m *Manager) Latest(limit int) []Event {
	if limit <= 0 || limit >= len(m.history) {
		return m.History()
	}
	out := make([]Event, limit)
	copy(out, m.history[len(m.history)-limit:])
	return out
}

func (m *Manager) build(ctx workflow.Context, typ Type, data map[string]any) Event {
	merged := map[string]any{
		"task_id":      m.taskID,
		"agent_id":     m.agentID,
		"execution_id": m.executionID,
	}
	for k, v := range data {
		merged[k] = v
	}
	return Event{
		ID:        deterministicUUID(ctx),
		Type:      typ,
		Timestamp: workflow.Now(ctx).UTC(),
		Data:      merged,
	}
}

// dispatch runs the publish activity with a single attempt and swallows any
// failure. The short schedule-to-close timeout bounds how long the workflow
// can be held up by a slow broker.
func (m *Manager) dispatch(ctx workflow.Context, batch []Event) {
	payload, err := json.Marshal(batch)
	if err != nil {
		workflow.GetLogger(ctx).Warn("drop events: marshal failed", "error", err)
		return
	}
	actx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		ScheduleToCloseTimeout: publishTimeout,
		StartToCloseTimeout:    publishTimeout,
		RetryPolicy:            &temporal.RetryPolicy{MaximumAttempts: 1},
	})
	input := PublishInput{EventsJSON: string(payload)}
	if err := workflow.ExecuteActivity(actx, PublishActivityName, input).Get(ctx, nil); err != nil {
		workflow.GetLogger(ctx).Warn("event publish failed", "error", err, "count", len(batch))
	}
}

// deterministicUUID draws a UUID through a side effect so replays observe the
// recorded value instead of generating a new one.
func deterministicUUID(ctx workflow.Context) string {
	var id string
	enc := workflow.SideEffect(ctx, func(workflow.Context) any {
		return uuid.NewString()
	})
	if err := enc.Get(&id); err != nil {
		// Fall back to a workflow-time derived identifier; still deterministic
		// under replay because workflow.Now is.
		return workflow.Now(ctx).UTC().Format("20060102T150405.000000000")
	}
	return id
}
