package trigger

import (
	"context"
	"time"
)

// Store persists triggers and their execution records. Implementations live
// under features/store; every method opens its own transactional scope.
type Store interface {
	// Insert persists a new trigger.
	Insert(ctx context.Context, t Trigger) error
	// Get returns the trigger for id or ErrNotFound.
	Get(ctx context.Context, id string) (Trigger, error)
	// GetByWebhookID resolves a webhook trigger by its public webhook id, or
	// ErrNotFound.
	GetByWebhookID(ctx context.Context, webhookID string) (Trigger, error)
	// Update replaces the stored record; ErrNotFound when absent.
	Update(ctx context.Context, t Trigger) error
	// Delete removes the trigger and cascade-deletes its executions.
	Delete(ctx context.Context, id string) error
	// ListActive returns all triggers with is_active set.
	ListActive(ctx context.Context) ([]Trigger, error)

	// InsertExecution appends one execution record.
	InsertExecution(ctx context.Context, e Execution) error
	// CountExecutionsSince counts the trigger's executions at or after the
	// given instant, regardless of status.
	CountExecutionsSince(ctx context.Context, triggerID string, since time.Time) (int64, error)
	// ListExecutions returns the trigger's most recent executions, newest
	// first, capped at limit.
	ListExecutions(ctx context.Context, triggerID string, limit int) ([]Execution, error)
}
