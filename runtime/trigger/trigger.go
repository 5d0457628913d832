// Package trigger implements the trigger subsystem: persisted rules that,
// when fired by a schedule or an external webhook, start an agent execution.
// Triggers are a tagged variant (cron or webhook) with a flat record per
// variant; cross-references go through store lookups, never object graphs.
package trigger

import (
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when no trigger exists for the given id.
var ErrNotFound = errors.New("trigger not found")

// ValidationError reports a trigger record that fails the service's
// validation rules. It is terminal: callers must not retry with the same
// input.
type ValidationError struct {
	Field  string
	Detail string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("trigger validation: %s", e.Detail)
	}
	return fmt.Sprintf("trigger validation: %s: %s", e.Field, e.Detail)
}

func validationErrorf(field, format string, args ...any) error {
	return &ValidationError{Field: field, Detail: fmt.Sprintf(format, args...)}
}

// Type discriminates the trigger variants.
type Type string

const (
	TypeCron    Type = "cron"
	TypeWebhook Type = "webhook"
)

// WebhookKind classifies the payload shape of a webhook trigger.
type WebhookKind string

const (
	WebhookGeneric  WebhookKind = "generic"
	WebhookTelegram WebhookKind = "telegram"
	WebhookSlack    WebhookKind = "slack"
	WebhookGitHub   WebhookKind = "github"
)

// Trigger is the persisted rule. Type selects which of Cron or Webhook is
// populated.
type Trigger struct {
	ID          string `json:"id" bson:"_id"`
	Type        Type   `json:"trigger_type" bson:"trigger_type"`
	Name        string `json:"name" bson:"name"`
	Description string `json:"description,omitempty" bson:"description,omitempty"`
	AgentID     string `json:"agent_id" bson:"agent_id"`
	IsActive    bool   `json:"is_active" bson:"is_active"`
	CreatedBy   string `json:"created_by" bson:"created_by"`

	TaskParameters map[string]any `json:"task_parameters,omitempty" bson:"task_parameters,omitempty"`
	Conditions     map[string]any `json:"conditions,omitempty" bson:"conditions,omitempty"`

	// MaxExecutionsPerHour caps trigger firings; zero means uncapped.
	MaxExecutionsPerHour int `json:"max_executions_per_hour,omitempty" bson:"max_executions_per_hour,omitempty"`

	// FailureThreshold auto-disables the trigger once ConsecutiveFailures
	// reaches it; zero disables the mechanism.
	FailureThreshold    int `json:"failure_threshold,omitempty" bson:"failure_threshold,omitempty"`
	ConsecutiveFailures int `json:"consecutive_failures" bson:"consecutive_failures"`

	LastExecutionAt *time.Time `json:"last_execution_at,omitempty" bson:"last_execution_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at" bson:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at" bson:"updated_at"`

	Cron    *CronSpec    `json:"cron,omitempty" bson:"cron,omitempty"`
	Webhook *WebhookSpec `json:"webhook,omitempty" bson:"webhook,omitempty"`
}

// CronSpec is the cron-variant payload.
type CronSpec struct {
	// Expression is standard 5-field cron, or 6-field with a leading seconds
	// column.
	Expression string `json:"cron_expression" bson:"cron_expression"`
	// Timezone is an IANA zone name the expression is evaluated in.
	Timezone    string     `json:"timezone" bson:"timezone"`
	NextRunTime *time.Time `json:"next_run_time,omitempty" bson:"next_run_time,omitempty"`
}

// WebhookSpec is the webhook-variant payload.
type WebhookSpec struct {
	// WebhookID is the public URL path segment: lowercase hex, at most 16
	// characters, unique across triggers.
	WebhookID       string         `json:"webhook_id" bson:"webhook_id"`
	AllowedMethods  []string       `json:"allowed_methods" bson:"allowed_methods"`
	Kind            WebhookKind    `json:"webhook_type" bson:"webhook_type"`
	ValidationRules map[string]any `json:"validation_rules,omitempty" bson:"validation_rules,omitempty"`
	Config          map[string]any `json:"webhook_config,omitempty" bson:"webhook_config,omitempty"`
}

// ExecutionStatus labels the outcome of one trigger firing.
type ExecutionStatus string

const (
	ExecutionSuccess ExecutionStatus = "success"
	ExecutionFailed  ExecutionStatus = "failed"
	ExecutionSkipped ExecutionStatus = "skipped"
)

// Execution is the append-only record of one trigger firing.
type Execution struct {
	ID              string          `json:"id" bson:"_id"`
	TriggerID       string          `json:"trigger_id" bson:"trigger_id"`
	ExecutedAt      time.Time       `json:"executed_at" bson:"executed_at"`
	Status          ExecutionStatus `json:"status" bson:"status"`
	TaskID          string          `json:"task_id,omitempty" bson:"task_id,omitempty"`
	ExecutionTimeMS int64           `json:"execution_time_ms" bson:"execution_time_ms"`
	ErrorMessage    string          `json:"error_message,omitempty" bson:"error_message,omitempty"`
	TriggerData     map[string]any  `json:"trigger_data,omitempty" bson:"trigger_data,omitempty"`
}

// Outcome is the result of one end-to-end trigger execution through the
// service.
type Outcome struct {
	TriggerID       string          `json:"trigger_id"`
	Status          ExecutionStatus `json:"status"`
	Reason          string          `json:"reason,omitempty"`
	TaskID          string          `json:"task_id,omitempty"`
	ExecutionTimeMS int64           `json:"execution_time_ms"`
	TriggerData     map[string]any  `json:"trigger_data,omitempty"`
}

// Skip reasons recorded on non-executing outcomes.
const (
	SkipConditionsNotMet = "conditions_not_met"
	SkipDisabled         = "trigger_disabled"
	SkipRateLimited      = "rate_limited"
)
