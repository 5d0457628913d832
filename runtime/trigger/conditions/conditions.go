// Package conditions evaluates trigger firing conditions against the event
// payload. The rule-based evaluator supports equality on dotted field paths
// and time-window predicates; an optional LLM evaluator can be layered on
// top, falling back to the rules on failure.
package conditions

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/orbitlabs/orbit/runtime/agent/model"
	"github.com/orbitlabs/orbit/telemetry"
)

// FailurePolicy decides the verdict when every evaluator fails.
type FailurePolicy string

const (
	// FailOpen treats unevaluable conditions as met, favoring availability.
	FailOpen FailurePolicy = "fail-open"
	// FailClosed treats unevaluable conditions as not met.
	FailClosed FailurePolicy = "fail-closed"
)

// Evaluator decides whether a trigger's conditions hold for an event.
type Evaluator interface {
	Evaluate(ctx context.Context, conds, event map[string]any) (bool, error)
}

// Rules is the deterministic rule-based evaluator.
//
// Supported condition keys:
//   - "field_matches": map of dotted event path to expected value, e.g.
//     {"request.body.message_type": "text"}. All entries must match.
//   - "time_window": {"start_hour": int, "end_hour": int,
//     "weekdays_only": bool, "timezone": string}. The window is inclusive of
//     start_hour and exclusive of end_hour; windows may wrap midnight.
//
// Unknown keys are ignored so new condition kinds can ship without breaking
// old evaluators.
type Rules struct {
	// Now is overridable for tests; defaults to time.Now.
	Now func() time.Time
}

func (r Rules) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

// Evaluate returns true when every supported condition holds. Empty
// conditions always hold.
func (r Rules) Evaluate(_ context.Context, conds, event map[string]any) (bool, error) {
	if len(conds) == 0 {
		return true, nil
	}
	if raw, ok := conds["field_matches"]; ok {
		matches, ok := raw.(map[string]any)
		if !ok {
			return false, fmt.Errorf("field_matches: expected an object, got %T", raw)
		}
		for path, want := range matches {
			got, found := Lookup(event, path)
			if !found || !valuesEqual(got, want) {
				return false, nil
			}
		}
	}
	if raw, ok := conds["time_window"]; ok {
		window, ok := raw.(map[string]any)
		if !ok {
			return false, fmt.Errorf("time_window: expected an object, got %T", raw)
		}
		met, err := r.inWindow(window)
		if err != nil || !met {
			return false, err
		}
	}
	return true, nil
}

func (r Rules) inWindow(window map[string]any) (bool, error) {
	now := r.now()
	if tz, ok := window["timezone"].(string); ok && tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			return false, fmt.Errorf("time_window: unknown timezone %q", tz)
		}
		now = now.In(loc)
	}
	if weekdaysOnly, _ := window["weekdays_only"].(bool); weekdaysOnly {
		if wd := now.Weekday(); wd == time.Saturday || wd == time.Sunday {
			return false, nil
		}
	}
	start, startOK := asInt(window["start_hour"])
	end, endOK := asInt(window["end_hour"])
	if !startOK && !endOK {
		return true, nil
	}
	if !startOK || !endOK {
		return false, fmt.Errorf("time_window: start_hour and end_hour must both be set")
	}
	hour := now.Hour()
	if start <= end {
		return hour >= start && hour < end, nil
	}
	// Wrapping window, e.g. 22 -> 6.
	return hour >= start || hour < end, nil
}

// Lookup resolves a dotted path ("request.body.kind") through nested maps.
func Lookup(event map[string]any, path string) (any, bool) {
	var current any = event
	for _, part := range strings.Split(path, ".") {
		node, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = node[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// valuesEqual compares condition values against event values, tolerating the
// int/float64 skew JSON decoding introduces.
func valuesEqual(got, want any) bool {
	if reflect.DeepEqual(got, want) {
		return true
	}
	gf, gok := asFloat(got)
	wf, wok := asFloat(want)
	if gok && wok {
		return gf == wf
	}
	return fmt.Sprintf("%v", got) == fmt.Sprintf("%v", want)
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func asInt(v any) (int, bool) {
	f, ok := asFloat(v)
	if !ok {
		return 0, false
	}
	return int(f), true
}

// LLMOptions configures the model-backed evaluator.
type LLMOptions struct {
	// Client is the completion client. Required.
	Client model.Client
	// ModelID selects the judging model. Required.
	ModelID string
}

// LLM judges free-form conditions with a model call. It is only suitable as
// the primary in a Chain; transport failures must fall back to Rules.
type LLM struct {
	client  model.Client
	modelID string
}

// NewLLM validates the options and builds the evaluator.
func NewLLM(opts LLMOptions) (*LLM, error) {
	if opts.Client == nil {
		return nil, fmt.Errorf("conditions: model client is required")
	}
	if opts.ModelID == "" {
		return nil, fmt.Errorf("conditions: model id is required")
	}
	return &LLM{client: opts.Client, modelID: opts.ModelID}, nil
}

// Evaluate asks the model for a JSON verdict. Non-JSON answers are errors so
// the chain falls back to the rule evaluator.
func (l *LLM) Evaluate(ctx context.Context, conds, event map[string]any) (bool, error) {
	condsJSON, err := json.Marshal(conds)
	if err != nil {
		return false, fmt.Errorf("encode conditions: %w", err)
	}
	eventJSON, err := json.Marshal(event)
	if err != nil {
		return false, fmt.Errorf("encode event: %w", err)
	}
	resp, err := l.client.Complete(ctx, model.CompletionRequest{
		ModelID: l.modelID,
		Messages: []model.Message{
			{
				Role: model.RoleSystem,
				Content: "You decide whether an event satisfies a trigger's conditions. " +
					`Respond with a single JSON object: {"met": bool}. No prose.`,
			},
			{
				Role:    model.RoleUser,
				Content: fmt.Sprintf("Conditions:\n%s\n\nEvent:\n%s", condsJSON, eventJSON),
			},
		},
	})
	if err != nil {
		return false, fmt.Errorf("condition evaluation call: %w", err)
	}
	var verdict struct {
		Met bool `json:"met"`
	}
	if err := json.Unmarshal([]byte(resp.Message.Content), &verdict); err != nil {
		return false, fmt.Errorf("decode condition verdict: %w", err)
	}
	return verdict.Met, nil
}

// ChainOptions configures the layered evaluator.
type ChainOptions struct {
	// Primary is optional; when nil the chain goes straight to Rules.
	Primary Evaluator
	// Rules is the deterministic fallback. A zero Rules value is valid.
	Rules Rules
	// Policy applies when both evaluators fail. Defaults to FailOpen.
	Policy FailurePolicy
	// Logger defaults to a noop.
	Logger telemetry.Logger
}

// Chain layers the optional LLM evaluator over the rule-based one and applies
// the configured failure policy when both are unusable.
type Chain struct {
	primary Evaluator
	rules   Rules
	policy  FailurePolicy
	logger  telemetry.Logger
}

// NewChain builds the layered evaluator.
func NewChain(opts ChainOptions) *Chain {
	if opts.Policy == "" {
		opts.Policy = FailOpen
	}
	if opts.Logger == nil {
		opts.Logger = telemetry.NewNoopLogger()
	}
	return &Chain{
		primary: opts.Primary,
		rules:   opts.Rules,
		policy:  opts.Policy,
		logger:  opts.Logger,
	}
}

// Evaluate consults the primary evaluator first, falls back to the rules on
// failure, and resolves a double failure per the chain's policy.
func (c *Chain) Evaluate(ctx context.Context, conds, event map[string]any) (bool, error) {
	if len(conds) == 0 {
		return true, nil
	}
	if c.primary != nil {
		met, err := c.primary.Evaluate(ctx, conds, event)
		if err == nil {
			return met, nil
		}
		c.logger.Warn(ctx, "primary condition evaluator failed; using rules", "error", err)
	}
	met, err := c.rules.Evaluate(ctx, conds, event)
	if err == nil {
		return met, nil
	}
	c.logger.Warn(ctx, "rule condition evaluator failed", "error", err, "policy", c.policy)
	return c.policy == FailOpen, nil
}
