// Package budget implements the in-workflow cost accounting for agent
// executions. The tracker is pure workflow-local state: it performs no I/O and
// is mutated only by workflow code, which keeps replays deterministic.
package budget

// DefaultWarningThreshold is the utilization fraction at which a single
// warning becomes due.
const DefaultWarningThreshold = 0.8

// DefaultLimitUSD applies when an execution request carries no budget.
const DefaultLimitUSD = 10.0

// Tracker accumulates LLM spend against a hard limit. Cost is monotonically
// non-decreasing; the warning fires at most once per tracker.
type Tracker struct {
	Limit            float64 `json:"limit"`
	Cost             float64 `json:"cost"`
	WarningThreshold float64 `json:"warning_threshold"`
	WarningSent      bool    `json:"warning_sent"`

	// Entries records the per-call cost breakdown in add order.
	Entries []Entry `json:"entries,omitempty"`
}

// Entry is one recorded spend, labeled by its origin.
type Entry struct {
	Label string  `json:"label"`
	Cost  float64 `json:"cost"`
}

// NewTracker builds a tracker with the given limit. Non-positive limits fall
// back to DefaultLimitUSD; the warning threshold defaults to
// DefaultWarningThreshold.
func NewTracker(limitUSD float64) *Tracker {
	if limitUSD <= 0 {
		limitUSD = DefaultLimitUSD
	}
	return &Tracker{
		Limit:            limitUSD,
		WarningThreshold: DefaultWarningThreshold,
	}
}

// AddCost records spend. Non-positive amounts are ignored so the accumulated
// cost never decreases.
func (t *Tracker) AddCost(amount float64, label string) {
	if amount <= 0 {
		return
	}
	t.Cost += amount
	t.Entries = append(t.Entries, Entry{Label: label, Cost: amount})
}

// Remaining returns the unspent budget, never negative.
func (t *Tracker) Remaining() float64 {
	if r := t.Limit - t.Cost; r > 0 {
		return r
	}
	return 0
}

// UsagePercentage returns spend as a fraction of the limit (0..1+).
func (t *Tracker) UsagePercentage() float64 {
	if t.Limit <= 0 {
		return 0
	}
	return t.Cost / t.Limit
}

// IsExceeded reports whether spend has reached the limit. Exceeded is a hard
// stop: the workflow must not call the LLM again once this returns true.
func (t *Tracker) IsExceeded() bool {
	return t.Cost >= t.Limit
}

// ShouldWarn reports whether the one-shot warning is due.
func (t *Tracker) ShouldWarn() bool {
	return !t.WarningSent && t.UsagePercentage() >= t.WarningThreshold
}

// MarkWarningSent latches the warning so it is emitted at most once.
func (t *Tracker) MarkWarningSent() {
	t.WarningSent = true
}

// ProjectedExceeds reports whether spending estimate more would cross the
// limit. Used as the pre-call gate before invoking the LLM.
func (t *Tracker) ProjectedExceeds(estimate float64) bool {
	if estimate < 0 {
		estimate = 0
	}
	return t.Cost+estimate > t.Limit
}

// SetLimit replaces the budget limit, used by the update_budget signal.
// Returns true when the tracker was previously exceeded and the new limit
// re-opens headroom.
func (t *Tracker) SetLimit(limitUSD float64) bool {
	wasExceeded := t.IsExceeded()
	if limitUSD > 0 {
		t.Limit = limitUSD
	}
	return wasExceeded && !t.IsExceeded()
}
