package model

import "context"

// Client is the LLM completion collaborator. Implementations live under
// features/model and are only ever invoked from activities, never from
// workflow code.
type Client interface {
	// Complete renders a single assistant turn for the given request. Failures
	// are reported as *ProviderError so callers can distinguish retryable
	// transport errors from non-retryable auth/validation errors.
	Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error)
}
